package harness

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/roach88/xconform/internal/catalog"
	"github.com/roach88/xconform/internal/engine"
	"github.com/roach88/xconform/internal/ir"
)

// language is the compile/evaluate pair shared by XPath and XQuery.
type language struct {
	compile  func(ctx context.Context, text string, sc engine.StaticContext) (engine.CompiledQuery, error)
	evaluate func(ctx context.Context, q engine.CompiledQuery, node engine.Node, b engine.Bindings) (ir.Sequence, error)
}

func xpathLanguage(e engine.Engine) (language, error) {
	x, err := engine.XPathOf(e)
	if err != nil {
		return language{}, err
	}
	return language{compile: x.CompileXPath, evaluate: x.EvaluateXPath}, nil
}

func xqueryLanguage(e engine.Engine) (language, error) {
	x, err := engine.XQueryOf(e)
	if err != nil {
		return language{}, err
	}
	return language{compile: x.CompileXQuery, evaluate: x.EvaluateXQuery}, nil
}

// run evaluates text and returns the result sequence.
func (l language) run(ctx context.Context, text string, sc engine.StaticContext, node engine.Node, b engine.Bindings) (ir.Sequence, *engine.Error) {
	q, err := l.compile(ctx, text, sc)
	if err != nil {
		return nil, engine.AsError(err, engine.KindCompile)
	}
	seq, err := l.evaluate(ctx, q, node, b)
	if err != nil {
		return nil, engine.AsError(err, engine.KindEval)
	}
	return seq, nil
}

// execute performs every engine call one case needs and gathers the
// outcome. It runs inside an isolation boundary.
func execute(ctx context.Context, e engine.Engine, c *catalog.TestCase) engine.Outcome {
	switch def := c.Definition.(type) {
	case catalog.XPathQuery:
		lang, err := xpathLanguage(e)
		if err != nil {
			return failed(err, engine.KindNotSupported)
		}
		return executeQuery(ctx, e, lang, c, def.Text, staticContext(c, def.Path, nil))
	case catalog.XQueryModule:
		lang, err := xqueryLanguage(e)
		if err != nil {
			return failed(err, engine.KindNotSupported)
		}
		return executeQuery(ctx, e, lang, c, def.Text, staticContext(c, def.Path, def.Modules))
	case catalog.XsltTransform:
		return executeTransform(ctx, e, c, def)
	case catalog.XsdValidation:
		return executeValidation(ctx, e, def)
	}
	return engine.Outcome{Err: engine.NewCatalogError(fmt.Sprintf("case %s has no test definition", c.ID()), nil)}
}

func failed(err error, fallback engine.ErrorKind) engine.Outcome {
	return engine.Outcome{Err: engine.AsError(err, fallback)}
}

func staticContext(c *catalog.TestCase, queryPath string, modules []engine.Module) engine.StaticContext {
	sc := engine.StaticContext{Modules: modules}
	if env := c.Environment; env != nil {
		sc.Namespaces = env.Namespaces
		sc.BaseURI = env.BaseURI
	}
	if sc.BaseURI == "" && queryPath != "" {
		sc.BaseURI = fileURI(queryPath)
	}
	return sc
}

func executeQuery(ctx context.Context, e engine.Engine, lang language, c *catalog.TestCase, text string, sc engine.StaticContext) engine.Outcome {
	node, bindings, oerr := prepareEnvironment(ctx, e, lang, c.Environment, sc)
	if oerr != nil {
		return engine.Outcome{Err: oerr}
	}

	seq, oerr := lang.run(ctx, text, sc, node, bindings)
	if oerr != nil {
		return engine.Outcome{Err: oerr}
	}
	out := engine.Outcome{Sequence: seq}
	out.Checks = evaluateChecks(ctx, lang, c.Assertions, sc, node, bindings, engine.Binding{Items: seq})
	return out
}

// prepareEnvironment parses the environment's documents and evaluates its
// parameters, returning the context node and variable bindings.
func prepareEnvironment(ctx context.Context, e engine.Engine, lang language, env *catalog.Environment, sc engine.StaticContext) (engine.Node, engine.Bindings, *engine.Error) {
	if env == nil {
		return nil, nil, nil
	}
	if env.ContextItem != "" {
		return nil, nil, engine.NotSupported(e.Info().Name, "context item selection")
	}

	var node engine.Node
	bindings := engine.Bindings{}
	if env.Context != nil || len(env.Sources) > 0 {
		tree, err := engine.TreeOf(e)
		if err != nil {
			return nil, nil, engine.AsError(err, engine.KindNotSupported)
		}
		if env.Context != nil {
			doc, oerr := parseSource(ctx, tree, *env.Context)
			if oerr != nil {
				return nil, nil, oerr
			}
			node = doc
		}
		for _, src := range env.Sources {
			name := src.Variable()
			if name == "" {
				continue
			}
			doc, oerr := parseSource(ctx, tree, src)
			if oerr != nil {
				return nil, nil, oerr
			}
			bindings[name] = engine.Binding{Node: doc}
		}
	}

	for _, p := range env.Params {
		if p.Select == "" {
			continue
		}
		seq, oerr := lang.run(ctx, p.Select, sc, nil, nil)
		if oerr != nil {
			return nil, nil, oerr
		}
		bindings[p.Name] = engine.Binding{Items: seq}
	}

	if len(bindings) == 0 {
		bindings = nil
	}
	return node, bindings, nil
}

func parseSource(ctx context.Context, tree engine.Tree, src catalog.Source) (engine.Document, *engine.Error) {
	data, err := os.ReadFile(src.Path)
	if err != nil {
		return nil, engine.Fault("cannot read source document", err)
	}
	uri := src.URI
	if uri == "" {
		uri = fileURI(src.Path)
	}
	doc, err := tree.Parse(ctx, data, uri)
	if err != nil {
		return nil, engine.AsError(err, engine.KindParse)
	}
	return doc, nil
}

// evaluateChecks asks the engine to evaluate the expressions embedded in
// assertions. A failing check is recorded, never fatal to the case.
func evaluateChecks(ctx context.Context, lang language, as []catalog.Assertion, sc engine.StaticContext, node engine.Node, env engine.Bindings, result engine.Binding) map[int]engine.Check {
	checks := catalog.Checks(as)
	if len(checks) == 0 {
		return nil
	}
	out := make(map[int]engine.Check, len(checks))
	for _, chk := range checks {
		b := env
		if chk.BindsResult {
			b = make(engine.Bindings, len(env)+1)
			for k, v := range env {
				b[k] = v
			}
			b["result"] = result
		}
		seq, oerr := lang.run(ctx, chk.Expr, sc, node, b)
		out[chk.ID] = engine.Check{Sequence: seq, Err: oerr}
	}
	return out
}

func executeTransform(ctx context.Context, e engine.Engine, c *catalog.TestCase, def catalog.XsltTransform) engine.Outcome {
	x, err := engine.XSLTOf(e)
	if err != nil {
		return failed(err, engine.KindNotSupported)
	}
	tree, err := engine.TreeOf(e)
	if err != nil {
		return failed(err, engine.KindNotSupported)
	}

	style, oerr := parseSource(ctx, tree, catalog.Source{Path: def.Stylesheet})
	if oerr != nil {
		return engine.Outcome{Err: oerr}
	}
	compiled, err := x.CompileStylesheet(ctx, style)
	if err != nil {
		return failed(err, engine.KindCompile)
	}

	var source engine.Document
	if def.Source != "" {
		if source, oerr = parseSource(ctx, tree, catalog.Source{Path: def.Source}); oerr != nil {
			return engine.Outcome{Err: oerr}
		}
	}

	params := engine.TransformParams{
		InitialTemplate: def.InitialTemplate,
		InitialMode:     def.InitialMode,
	}
	var all []catalog.Param
	if c.Environment != nil {
		all = append(all, c.Environment.Params...)
	}
	all = append(all, def.Params...)
	if len(all) > 0 {
		params.Params = make(map[string]string, len(all))
		for _, p := range all {
			params.Params[p.Name] = p.Select
		}
	}

	result, err := x.Transform(ctx, compiled, source, params)
	if err != nil {
		return failed(err, engine.KindTransform)
	}
	markup, err := tree.Serialize(result)
	if err != nil {
		return failed(err, engine.KindTransform)
	}
	out := engine.Outcome{Serialized: markup}

	// Assertions over a transform see the result document as their context
	// and as $result.
	if len(catalog.Checks(c.Assertions)) > 0 {
		lang, err := xpathLanguage(e)
		if err != nil {
			out.Checks = unevaluated(c.Assertions, engine.AsError(err, engine.KindNotSupported))
			return out
		}
		sc := staticContext(c, def.Stylesheet, nil)
		out.Checks = evaluateChecks(ctx, lang, c.Assertions, sc, result, nil, engine.Binding{Node: result})
	}
	return out
}

// unevaluated marks every check with the same error.
func unevaluated(as []catalog.Assertion, e *engine.Error) map[int]engine.Check {
	out := make(map[int]engine.Check)
	for _, chk := range catalog.Checks(as) {
		out[chk.ID] = engine.Check{Err: e}
	}
	return out
}

func executeValidation(ctx context.Context, e engine.Engine, def catalog.XsdValidation) engine.Outcome {
	x, err := engine.XSDOf(e)
	if err != nil {
		return failed(err, engine.KindNotSupported)
	}
	tree, err := engine.TreeOf(e)
	if err != nil {
		return failed(err, engine.KindNotSupported)
	}
	instanceTest := def.Instance != ""
	if instanceTest && len(def.Schemas) == 0 {
		return engine.Outcome{Err: engine.NotSupported(e.Info().Name, "schema-less instance validation")}
	}

	invalid := func() engine.Outcome {
		v := false
		return engine.Outcome{Valid: &v}
	}

	// A schema that does not load is the answer for a schema test and an
	// engine failure for an instance test.
	docs := make([]engine.Document, 0, len(def.Schemas))
	for _, path := range def.Schemas {
		doc, oerr := parseSource(ctx, tree, catalog.Source{Path: path})
		if oerr != nil {
			if !instanceTest && oerr.Kind == engine.KindParse {
				return invalid()
			}
			return engine.Outcome{Err: schemaFailure(oerr)}
		}
		docs = append(docs, doc)
	}
	schema, err := x.LoadSchema(ctx, docs)
	if err != nil {
		oerr := engine.AsError(err, engine.KindValidation)
		if !instanceTest && oerr.Executed() {
			return invalid()
		}
		return engine.Outcome{Err: schemaFailure(oerr)}
	}
	if !instanceTest {
		v := true
		return engine.Outcome{Valid: &v}
	}

	instance, oerr := parseSource(ctx, tree, catalog.Source{Path: def.Instance})
	if oerr != nil {
		if oerr.Kind == engine.KindParse {
			return invalid()
		}
		return engine.Outcome{Err: oerr}
	}
	if err := x.Validate(ctx, schema, instance); err != nil {
		oerr := engine.AsError(err, engine.KindValidation)
		if oerr.Kind == engine.KindValidation {
			return invalid()
		}
		return engine.Outcome{Err: oerr}
	}
	v := true
	return engine.Outcome{Valid: &v}
}

// schemaFailure recasts an error loading a schema so it is not mistaken
// for the instance being invalid.
func schemaFailure(e *engine.Error) *engine.Error {
	if e.Kind != engine.KindValidation && e.Kind != engine.KindParse {
		return e
	}
	return &engine.Error{Kind: engine.KindCompile, Code: e.Code, Message: "schema: " + e.Message, Err: e}
}

func fileURI(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	return "file://" + filepath.ToSlash(path)
}
