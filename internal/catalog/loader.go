package catalog

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/antchfx/xmlquery"
	"github.com/antchfx/xpath"

	"github.com/roach88/xconform/internal/engine"
	"github.com/roach88/xconform/internal/ir"
)

// PlaceholderCase names the single case that stands in for a test set whose
// file could not be loaded.
const PlaceholderCase = "(set)"

// Option configures Load.
type Option func(*loader)

// WithRules supplies a preloaded rule set instead of the built-in formats.
func WithRules(rs RuleSet) Option {
	return func(l *loader) { l.ruleSet = rs }
}

// WithFilter restricts the loaded cases.
func WithFilter(f Filter) Option {
	return func(l *loader) { l.filter = f }
}

// WithLogger sets the logger for contained catalog errors.
func WithLogger(logger *slog.Logger) Option {
	return func(l *loader) { l.logger = logger }
}

type loader struct {
	ruleSet RuleSet
	rules   Rules
	filter  Filter
	logger  *slog.Logger

	exprs     map[string]*xpath.Expr
	suiteDeps []Dependency
}

// Load reads the root catalog at path and every test set it references,
// decoding them with the mapping rules for format.
//
// Only a root catalog that cannot be read or decoded returns an error
// (*LoadError). Any failure below the root is recorded as a catalog error on
// the affected case and loading continues.
func Load(path, format string, opts ...Option) (*Document, error) {
	l := &loader{
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		exprs:  make(map[string]*xpath.Expr),
	}
	for _, opt := range opts {
		opt(l)
	}

	if l.ruleSet == nil {
		rs, err := LoadRules()
		if err != nil {
			return nil, &LoadError{Path: path, Err: err}
		}
		l.ruleSet = rs
	}
	rules, err := l.ruleSet.Lookup(format)
	if err != nil {
		return nil, &LoadError{Path: path, Err: err}
	}
	l.rules = rules

	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, &LoadError{Path: path, Err: err}
	}
	root, err := l.parseRoot(abs, rules.Root)
	if err != nil {
		return nil, &LoadError{Path: abs, Err: err}
	}

	doc := &Document{Format: format, Suite: rules.Suite, Path: abs}
	dir := filepath.Dir(abs)

	// Suite-level declarations that cannot be decoded affect every case.
	var suiteErr *engine.Error
	doc.Dependencies, err = l.dependencies(root)
	if err != nil {
		suiteErr = engine.NewCatalogError("suite dependencies", err)
	}
	l.suiteDeps = doc.Dependencies
	catalogEnvs := l.namedEnvironments(root, dir, nil)

	byName := make(map[string]*TestSet)
	for i, ref := range l.nodes(root, rules.SetRefs.Select) {
		name := l.str(ref, rules.SetRefs.Name)
		file := l.str(ref, rules.SetRefs.File)

		var set *TestSet
		if file == "" {
			set = placeholderSet(name, fmt.Sprintf("#%d", i+1), "",
				engine.NewCatalogError("test-set reference has no file", nil))
		} else {
			setPath := resolve(dir, file)
			set, err = l.loadSet(setPath, name, catalogEnvs, suiteErr)
			if err != nil {
				if name == "" {
					name = strings.TrimSuffix(filepath.Base(file), filepath.Ext(file))
				}
				set = placeholderSet(name, "", setPath,
					engine.NewCatalogError(fmt.Sprintf("cannot load test set %s", file), err))
				l.logger.Warn("test set not loaded", "set", name, "error", err)
			}
		}

		if existing, dup := byName[set.Name]; dup {
			if l.filter.MatchSet(set.Name) {
				existing.Cases = append(existing.Cases, &TestCase{
					Set:        set.Name,
					Name:       fmt.Sprintf("(duplicate %d)", i+1),
					CatalogErr: engine.NewCatalogError(fmt.Sprintf("duplicate test set %q", set.Name), nil),
				})
			}
			continue
		}

		set.Cases = l.filterCases(set)
		if len(set.Cases) == 0 {
			continue
		}
		byName[set.Name] = set
		doc.Sets = append(doc.Sets, set)
	}
	return doc, nil
}

func (l *loader) filterCases(set *TestSet) []*TestCase {
	if l.filter.MatchSet(set.Name) {
		return set.Cases
	}
	var kept []*TestCase
	for _, c := range set.Cases {
		if l.filter.Match(set.Name, c.Name) {
			kept = append(kept, c)
		}
	}
	return kept
}

func placeholderSet(name, fallback, path string, cerr *engine.Error) *TestSet {
	if name == "" {
		name = fallback
	}
	return &TestSet{
		Name: name,
		Path: path,
		Cases: []*TestCase{{
			Set:        name,
			Name:       PlaceholderCase,
			CatalogErr: cerr,
		}},
	}
}

func (l *loader) parseRoot(path, rootPath string) (*xmlquery.Node, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	doc, err := xmlquery.Parse(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", filepath.Base(path), err)
	}
	root := xmlquery.QuerySelector(doc, l.expr(rootPath))
	if root == nil {
		return nil, fmt.Errorf("%s: no element matches %q", filepath.Base(path), rootPath)
	}
	return root, nil
}

func (l *loader) loadSet(path, refName string, catalogEnvs map[string]envEntry, suiteErr *engine.Error) (*TestSet, error) {
	root, err := l.parseRoot(path, l.rules.Set.Root)
	if err != nil {
		return nil, err
	}
	dir := filepath.Dir(path)

	set := &TestSet{
		Name:        refName,
		Path:        path,
		Description: l.str(root, l.rules.Set.Description),
	}
	if set.Name == "" {
		set.Name = l.str(root, l.rules.Set.Name)
	}
	if set.Name == "" {
		set.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}

	setErr := suiteErr
	set.Dependencies, err = l.dependencies(root)
	if err != nil && setErr == nil {
		setErr = engine.NewCatalogError("test-set dependencies", err)
	}
	envs := l.namedEnvironments(root, dir, catalogEnvs)

	seen := make(map[string]int)
	for _, cr := range l.rules.Cases {
		for _, n := range l.nodes(root, cr.Select) {
			c := l.decodeCase(n, cr, set, dir, envs)
			if c.CatalogErr == nil && setErr != nil {
				c.CatalogErr = setErr
			}
			if k := seen[c.Name]; k > 0 {
				seen[c.Name] = k + 1
				c.Name = fmt.Sprintf("%s (%d)", c.Name, k+1)
				if c.CatalogErr == nil {
					c.CatalogErr = engine.NewCatalogError("duplicate test case name", nil)
				}
			} else {
				seen[c.Name] = 1
			}
			if c.CatalogErr != nil {
				l.logger.Debug("catalog error", "set", set.Name, "case", c.Name, "error", c.CatalogErr)
			}
			set.Cases = append(set.Cases, c)
		}
	}
	return set, nil
}

// envEntry is a named environment or the reason it could not be decoded.
type envEntry struct {
	env *Environment
	err error
}

// namedEnvironments decodes the named environments under scope, layered over
// inherited. Narrower scopes shadow wider ones.
func (l *loader) namedEnvironments(scope *xmlquery.Node, dir string, inherited map[string]envEntry) map[string]envEntry {
	out := make(map[string]envEntry, len(inherited))
	for k, v := range inherited {
		out[k] = v
	}
	rule := l.rules.Environments
	if rule.Select == "" {
		return out
	}
	for _, n := range l.nodes(scope, rule.Select) {
		name := l.str(n, rule.Name)
		env, err := l.environment(n, dir)
		if env != nil {
			env.Name = name
		}
		out[name] = envEntry{env: env, err: err}
	}
	return out
}

func (l *loader) environment(n *xmlquery.Node, dir string) (*Environment, error) {
	rule := l.rules.Environments
	env := &Environment{
		ContextItem: l.str(n, rule.ContextItem),
		BaseURI:     l.str(n, rule.BaseURI),
	}

	for _, sn := range l.nodes(n, rule.Sources) {
		src := Source{
			Role: l.str(sn, rule.SourceRole),
			URI:  l.str(sn, rule.SourceURI),
		}
		file := l.str(sn, rule.SourceFile)
		if file == "" {
			return nil, errors.New("environment source has no file")
		}
		src.Path = resolve(dir, file)
		if err := mustExist(src.Path); err != nil {
			return nil, err
		}
		if src.Role == "." {
			s := src
			env.Context = &s
			continue
		}
		env.Sources = append(env.Sources, src)
	}

	for _, pn := range l.nodes(n, rule.Params) {
		env.Params = append(env.Params, Param{
			Name:   l.str(pn, rule.ParamName),
			Select: l.str(pn, rule.ParamSelect),
		})
	}

	for _, nn := range l.nodes(n, rule.Namespaces) {
		if env.Namespaces == nil {
			env.Namespaces = make(map[string]string)
		}
		env.Namespaces[l.str(nn, rule.NamespacePrefix)] = l.str(nn, rule.NamespaceURI)
	}
	return env, nil
}

// caseState accumulates per-case decoding state.
type caseState struct {
	dir      string
	nextID   int
	requires []Dependency
	err      error
}

func (s *caseState) fail(err error) {
	if s.err == nil {
		s.err = err
	}
}

func (l *loader) decodeCase(n *xmlquery.Node, cr CaseRule, set *TestSet, dir string, envs map[string]envEntry) *TestCase {
	c := &TestCase{
		Set:         set.Name,
		Name:        l.str(n, cr.Name),
		Description: l.str(n, cr.Description),
	}
	st := &caseState{dir: dir}
	if c.Name == "" {
		c.Name = fmt.Sprintf("#%d", len(set.Cases)+1)
		st.fail(errors.New("test case has no name"))
	}

	caseDeps, err := l.dependencies(n)
	if err != nil {
		st.fail(err)
	}

	if ref := l.str(n, cr.EnvironmentRef); ref != "" {
		entry, ok := envs[ref]
		switch {
		case !ok:
			st.fail(fmt.Errorf("environment %q not found", ref))
		case entry.err != nil:
			st.fail(fmt.Errorf("environment %q: %w", ref, entry.err))
		default:
			c.Environment = entry.env
		}
	} else if inline := l.nodes(n, cr.Environment); len(inline) > 0 {
		env, err := l.environment(inline[0], dir)
		if err != nil {
			st.fail(fmt.Errorf("inline environment: %w", err))
		}
		c.Environment = env
	}

	c.Definition = l.definition(n, cr, c.Environment, st)

	results := l.nodes(n, cr.Result)
	if len(results) == 0 {
		st.fail(errors.New("test case has no expected result"))
	}
	for _, rn := range results {
		a, err := l.assertion(rn, st)
		if err != nil {
			st.fail(err)
			continue
		}
		c.Assertions = append(c.Assertions, a)
	}

	c.Dependencies = mergeDependencies(l.suiteDeps, set.Dependencies, caseDeps, st.requires)
	if st.err != nil {
		c.CatalogErr = engine.NewCatalogError(st.err.Error(), st.err)
	}
	return c
}

func (l *loader) definition(n *xmlquery.Node, cr CaseRule, env *Environment, st *caseState) Definition {
	switch cr.Definition {
	case "xpath":
		text, path := l.queryText(n, cr, st)
		return XPathQuery{Text: text, Path: path}

	case "xquery":
		text, path := l.queryText(n, cr, st)
		q := XQueryModule{Text: text, Path: path}
		for _, mn := range l.nodes(n, cr.Modules) {
			m := engine.Module{URI: l.str(mn, cr.ModuleURI)}
			if file := l.str(mn, cr.ModuleFile); file != "" {
				m.Path = resolve(st.dir, file)
				data, err := os.ReadFile(m.Path)
				if err != nil {
					st.fail(fmt.Errorf("module %s: %w", m.URI, err))
				}
				m.Text = string(data)
			}
			q.Modules = append(q.Modules, m)
		}
		return q

	case "xslt":
		t := XsltTransform{
			InitialTemplate: l.str(n, cr.InitialTemplate),
			InitialMode:     l.str(n, cr.InitialMode),
		}
		if file := l.str(n, cr.Stylesheet); file != "" {
			t.Stylesheet = resolve(st.dir, file)
			if err := mustExist(t.Stylesheet); err != nil {
				st.fail(err)
			}
		} else {
			st.fail(errors.New("missing stylesheet"))
		}
		if file := l.str(n, cr.Source); file != "" {
			t.Source = resolve(st.dir, file)
			if err := mustExist(t.Source); err != nil {
				st.fail(err)
			}
		} else if env != nil && env.Context != nil {
			t.Source = env.Context.Path
		}
		for _, pn := range l.nodes(n, cr.Params) {
			t.Params = append(t.Params, Param{
				Name:   l.str(pn, cr.ParamName),
				Select: l.str(pn, cr.ParamSelect),
			})
		}
		return t

	case "xsd":
		v := XsdValidation{}
		for _, sn := range l.nodes(n, cr.Schemas) {
			file := l.str(sn, cr.SchemaFile)
			if file == "" {
				st.fail(errors.New("schema document has no reference"))
				continue
			}
			path := resolve(st.dir, file)
			if err := mustExist(path); err != nil {
				st.fail(err)
			}
			v.Schemas = append(v.Schemas, path)
		}
		if cr.Instance != "" {
			file := l.str(n, cr.Instance)
			if file == "" {
				st.fail(errors.New("instance test has no instance document"))
			} else {
				v.Instance = resolve(st.dir, file)
				if err := mustExist(v.Instance); err != nil {
					st.fail(err)
				}
			}
		}
		return v
	}

	st.fail(fmt.Errorf("unknown definition kind %q", cr.Definition))
	return nil
}

// queryText returns the query, reading it from its file reference when the
// case has one.
func (l *loader) queryText(n *xmlquery.Node, cr CaseRule, st *caseState) (text, path string) {
	if file := l.str(n, cr.QueryFile); file != "" {
		path = resolve(st.dir, file)
		data, err := os.ReadFile(path)
		if err != nil {
			st.fail(fmt.Errorf("missing query: %w", err))
			return "", path
		}
		return string(data), path
	}
	if qn := l.nodes(n, cr.Query); len(qn) > 0 {
		text = qn[0].InnerText()
	}
	if strings.TrimSpace(text) == "" {
		st.fail(errors.New("missing query"))
	}
	return text, ""
}

func (l *loader) assertion(n *xmlquery.Node, st *caseState) (Assertion, error) {
	name := n.Data
	rule, ok := l.rules.Assertions[name]
	if !ok {
		return nil, fmt.Errorf("unknown assertion %q", name)
	}

	value := rule.Fixed
	if value == "" && rule.Value != "" {
		if rule.Markup {
			value = markup(n)
		} else {
			value = l.str(n, rule.Value)
		}
	}
	if rule.File != "" {
		if file := l.str(n, rule.File); file != "" {
			data, err := os.ReadFile(resolve(st.dir, file))
			if err != nil {
				return nil, fmt.Errorf("%s: %w", name, err)
			}
			value = string(data)
		}
	}
	if feature, ok := rule.Requires[strings.TrimSpace(value)]; ok {
		st.requires = append(st.requires, Dependency{
			Kind:      DepFeature,
			Value:     feature,
			Satisfied: true,
			key:       DepFeature + ":" + feature,
		})
	}

	switch rule.Kind {
	case "string-equal":
		a := StringEqual{Expected: value}
		if rule.Literal {
			a.Expected, a.Numeric = parseLiteral(value)
		}
		if rule.NormalizeSpace != "" {
			a.NormalizeSpace = isTrue(l.str(n, rule.NormalizeSpace))
		}
		return a, nil

	case "error-code":
		code := engine.NormalizeCode(value)
		if code == "" {
			code = "*"
		}
		return ErrorCode{Code: code}, nil

	case "boolean":
		b, err := strconv.ParseBool(strings.TrimSpace(value))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		return BooleanIs{Expected: b}, nil

	case "count":
		k, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil || k < 0 {
			return nil, fmt.Errorf("%s: invalid count %q", name, value)
		}
		return CountIs{Expected: k}, nil

	case "type-match":
		return TypeMatch{Type: strings.TrimSpace(value)}, nil

	case "serialization-equal":
		return SerializationEqual{Expected: value}, nil

	case "serialization-matches":
		return SerializationMatches{Pattern: value, Flags: l.str(n, rule.Flags)}, nil

	case "deep-equal":
		st.nextID++
		return DeepEqual{ID: st.nextID, Expr: value}, nil

	case "permutation":
		st.nextID++
		return Permutation{ID: st.nextID, Expr: value}, nil

	case "expression":
		st.nextID++
		return Expression{ID: st.nextID, Expr: value}, nil

	case "validity":
		return Validity{Expected: strings.TrimSpace(value)}, nil

	case "all", "any":
		c := Combine{Mode: Combinator(rule.Kind)}
		for _, child := range elementChildren(n) {
			a, err := l.assertion(child, st)
			if err != nil {
				return nil, err
			}
			c.Children = append(c.Children, a)
		}
		if len(c.Children) == 0 {
			return nil, fmt.Errorf("%s has no children", name)
		}
		return c, nil

	case "not":
		children := elementChildren(n)
		if len(children) != 1 {
			return nil, fmt.Errorf("%s needs exactly one child, got %d", name, len(children))
		}
		a, err := l.assertion(children[0], st)
		if err != nil {
			return nil, err
		}
		return Not{Child: a}, nil
	}
	return nil, fmt.Errorf("assertion %q has unknown kind %q", name, rule.Kind)
}

func (l *loader) dependencies(scope *xmlquery.Node) ([]Dependency, error) {
	rule := l.rules.Dependencies
	if rule.Select == "" {
		return nil, nil
	}
	var deps []Dependency
	for _, n := range l.nodes(scope, rule.Select) {
		typ := l.str(n, rule.Type)
		kind, ok := rule.Kinds[typ]
		if !ok {
			return nil, fmt.Errorf("unknown dependency type %q", typ)
		}
		d := Dependency{
			Kind:      kind.Kind,
			Value:     strings.TrimSpace(l.str(n, rule.Value)),
			Satisfied: !strings.EqualFold(strings.TrimSpace(l.str(n, rule.Satisfied)), "false"),
		}
		d.key = d.Kind
		if kind.KeyedBy == "value" {
			d.key = d.Kind + ":" + d.Value
		}
		deps = append(deps, d)
	}
	return deps, nil
}

// expr returns the compiled form of a rule path. Rule paths are compiled once
// when the rule set loads, so a failure here is a programming error.
func (l *loader) expr(path string) *xpath.Expr {
	if e, ok := l.exprs[path]; ok {
		return e
	}
	e := xpath.MustCompile(path)
	l.exprs[path] = e
	return e
}

// str evaluates path against n and returns its string value. An empty path
// yields "".
func (l *loader) str(n *xmlquery.Node, path string) string {
	if path == "" {
		return ""
	}
	switch v := l.expr(path).Evaluate(xmlquery.CreateXPathNavigator(n)).(type) {
	case string:
		return v
	case bool:
		return strconv.FormatBool(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case *xpath.NodeIterator:
		if v.MoveNext() {
			return v.Current().Value()
		}
	}
	return ""
}

// nodes evaluates path against n and returns the selected nodes.
func (l *loader) nodes(n *xmlquery.Node, path string) []*xmlquery.Node {
	if path == "" {
		return nil
	}
	return xmlquery.QuerySelectorAll(n, l.expr(path))
}

func elementChildren(n *xmlquery.Node) []*xmlquery.Node {
	var out []*xmlquery.Node
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == xmlquery.ElementNode {
			out = append(out, c)
		}
	}
	return out
}

// markup returns the expected markup held by an assertion element: the
// serialized child elements when there are any, otherwise its text (which
// covers escaped and CDATA content).
func markup(n *xmlquery.Node) string {
	if len(elementChildren(n)) == 0 {
		return n.InnerText()
	}
	var b strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		b.WriteString(c.OutputXML(true))
	}
	return b.String()
}

var (
	numericLiteral = regexp.MustCompile(`^[+-]?(\d+(\.\d*)?|\.\d+)([eE][+-]?\d+)?$`)
	constructor    = regexp.MustCompile(`^([\w-]+:)?([\w-]+)\(\s*("[^"]*"|'[^']*')\s*\)$`)
)

var numericTypes = map[string]bool{
	"double": true, "float": true, "decimal": true, "integer": true,
	"int": true, "long": true, "short": true, "byte": true,
	"nonNegativeInteger": true, "positiveInteger": true,
}

// parseLiteral reduces an expected-value expression to its string form when
// it is a literal: a quoted string, a numeric literal, true() or false(), or
// a constructor call over a quoted string such as xs:double('INF'). Anything
// else is returned unchanged.
func parseLiteral(s string) (value string, numeric bool) {
	t := strings.TrimSpace(s)
	if len(t) >= 2 && (t[0] == '"' || t[0] == '\'') && t[len(t)-1] == t[0] {
		q := t[:1]
		return strings.ReplaceAll(t[1:len(t)-1], q+q, q), false
	}
	if numericLiteral.MatchString(t) {
		return ir.CanonicalNumber(t), true
	}
	switch t {
	case "true()":
		return "true", false
	case "false()":
		return "false", false
	}
	if m := constructor.FindStringSubmatch(t); m != nil {
		inner, _ := parseLiteral(m[3])
		if numericTypes[m[2]] {
			return ir.CanonicalNumber(inner), true
		}
		return inner, false
	}
	return s, false
}

func isTrue(s string) bool {
	switch strings.TrimSpace(s) {
	case "true", "1":
		return true
	}
	return false
}

func resolve(dir, ref string) string {
	ref = strings.TrimPrefix(ref, "file://")
	if filepath.IsAbs(ref) {
		return filepath.Clean(ref)
	}
	return filepath.Join(dir, filepath.FromSlash(ref))
}

func mustExist(path string) error {
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("missing file: %w", err)
	}
	return nil
}
