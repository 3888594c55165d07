// Package antchfx adapts github.com/antchfx/xpath over
// github.com/antchfx/xmlquery trees as a conformance engine. It implements
// the Tree and XPath capability sets at language level XPath 1.0.
package antchfx

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html"
	"strings"

	"github.com/antchfx/xmlquery"
	"github.com/antchfx/xpath"

	"github.com/roach88/xconform/internal/engine"
	"github.com/roach88/xconform/internal/ir"
)

// Name is the registry name of the engine.
const Name = "xmlquery"

var info = engine.Info{
	Name:        Name,
	Description: "XPath 1.0 via antchfx/xpath over antchfx/xmlquery",
	Versions:    []string{"XP10"},
	Features:    []string{"xml-version:1.0", "namespace-axis"},
	// Compiled expressions keep iterator state between evaluations.
	ThreadSafe: false,
}

// Engine is an xmlquery-backed engine instance.
type Engine struct{}

// New builds an engine instance.
func New() (engine.Engine, error) {
	return &Engine{}, nil
}

// Descriptor returns the registry descriptor.
func Descriptor() engine.Descriptor {
	return engine.Descriptor{Info: info, New: New}
}

// Info returns the declared engine info.
func (e *Engine) Info() engine.Info {
	return info
}

// Parse builds a document tree from data.
func (e *Engine) Parse(_ context.Context, data []byte, baseURI string) (engine.Document, error) {
	doc, err := xmlquery.Parse(bytes.NewReader(data))
	if err != nil {
		return nil, engine.NewParseError(baseURI, err)
	}
	return doc, nil
}

// DocumentElement returns the outermost element of doc.
func (e *Engine) DocumentElement(doc engine.Document) (engine.Node, error) {
	n, ok := doc.(*xmlquery.Node)
	if !ok {
		return nil, fmt.Errorf("xmlquery: foreign document %T", doc)
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == xmlquery.ElementNode {
			return c, nil
		}
	}
	return nil, errors.New("xmlquery: document has no element")
}

// Serialize writes node as XML.
func (e *Engine) Serialize(node engine.Node) (string, error) {
	n, ok := node.(*xmlquery.Node)
	if !ok {
		return "", fmt.Errorf("xmlquery: foreign node %T", node)
	}
	return n.OutputXML(true), nil
}

// CompileXPath compiles expr with the static namespace bindings.
func (e *Engine) CompileXPath(_ context.Context, expr string, sc engine.StaticContext) (engine.CompiledQuery, error) {
	compiled, err := xpath.CompileWithNS(expr, sc.Namespaces)
	if err != nil {
		return nil, engine.NewCompileError(compileCode(err), err.Error())
	}
	return compiled, nil
}

// EvaluateXPath evaluates q against contextNode. External variables are not
// supported by the underlying library.
func (e *Engine) EvaluateXPath(ctx context.Context, q engine.CompiledQuery, contextNode engine.Node, b engine.Bindings) (seq ir.Sequence, err error) {
	if len(b) > 0 {
		return nil, engine.NotSupported(Name, "external variable bindings")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	expr, ok := q.(*xpath.Expr)
	if !ok {
		return nil, fmt.Errorf("xmlquery: foreign compiled query %T", q)
	}

	node, _ := contextNode.(*xmlquery.Node)
	if node == nil {
		node = &xmlquery.Node{Type: xmlquery.DocumentNode}
	}

	// The library reports dynamic errors (bad argument types, unknown
	// functions at runtime) by panicking.
	defer func() {
		if r := recover(); r != nil {
			seq = nil
			err = engine.NewEvalError("FOER0000", fmt.Sprint(r))
		}
	}()
	return convert(expr.Evaluate(xmlquery.CreateXPathNavigator(node))), nil
}

func convert(v any) ir.Sequence {
	switch v := v.(type) {
	case float64:
		return ir.Sequence{ir.Double(v)}
	case string:
		return ir.Sequence{ir.NewString(v)}
	case bool:
		return ir.Sequence{ir.Boolean(v)}
	case *xpath.NodeIterator:
		seq := ir.Sequence{}
		for v.MoveNext() {
			seq = append(seq, nodeRef(v.Current()))
		}
		return seq
	}
	return ir.Sequence{}
}

func nodeRef(nav xpath.NodeNavigator) ir.NodeRef {
	ref := ir.NodeRef{Name: qualified(nav), Value: nav.Value()}
	switch nav.NodeType() {
	case xpath.RootNode:
		ref.Kind = ir.NodeDocument
		ref.Name = ""
		ref.Markup = markupOf(nav)
	case xpath.ElementNode:
		ref.Kind = ir.NodeElement
		ref.Markup = markupOf(nav)
	case xpath.AttributeNode:
		ref.Kind = ir.NodeAttribute
		ref.Markup = fmt.Sprintf(`%s="%s"`, ref.Name, html.EscapeString(ref.Value))
	case xpath.TextNode:
		ref.Kind = ir.NodeText
		ref.Name = ""
		ref.Markup = escapeText(ref.Value)
	case xpath.CommentNode:
		ref.Kind = ir.NodeComment
		ref.Name = ""
		ref.Markup = "<!--" + ref.Value + "-->"
	}
	return ref
}

func qualified(nav xpath.NodeNavigator) string {
	if p := nav.Prefix(); p != "" {
		return p + ":" + nav.LocalName()
	}
	return nav.LocalName()
}

func markupOf(nav xpath.NodeNavigator) string {
	if n, ok := nav.(*xmlquery.NodeNavigator); ok {
		return n.Current().OutputXML(true)
	}
	return escapeText(nav.Value())
}

var textEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")

func escapeText(s string) string {
	return textEscaper.Replace(s)
}

// compileCode maps library compile errors onto W3C static error codes.
func compileCode(err error) string {
	msg := err.Error()
	if strings.Contains(msg, "function") {
		return "XPST0017"
	}
	return "XPST0003"
}

var (
	_ engine.Tree  = (*Engine)(nil)
	_ engine.XPath = (*Engine)(nil)
)
