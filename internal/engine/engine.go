package engine

import (
	"context"

	"github.com/roach88/xconform/internal/ir"
)

// Document is an engine-owned parsed document.
type Document any

// Node is an engine-owned node inside a Document.
type Node any

// CompiledQuery is an engine-owned compiled XPath or XQuery expression.
type CompiledQuery any

// CompiledStylesheet is an engine-owned compiled XSLT stylesheet.
type CompiledStylesheet any

// Schema is an engine-owned compiled schema set.
type Schema any

// StaticContext carries the static environment for compilation.
type StaticContext struct {
	// BaseURI is the static base URI, usually the query file location.
	BaseURI string

	// Namespaces maps prefixes to namespace URIs declared by the environment.
	Namespaces map[string]string

	// Modules lists library modules an XQuery main module may import.
	Modules []Module
}

// Module is an XQuery library module resolved by the catalog loader.
type Module struct {
	URI  string
	Path string
	Text string
}

// Binding is the value bound to an external variable: either an item
// sequence or a document node produced by the same engine's Tree capability.
type Binding struct {
	Items ir.Sequence
	Node  Node
}

// Bindings maps variable names (without '$') to values.
type Bindings map[string]Binding

// TransformParams configures an XSLT invocation.
type TransformParams struct {
	InitialTemplate string
	InitialMode     string
	Params          map[string]string
}

// Tree parses and serializes documents.
type Tree interface {
	Parse(ctx context.Context, data []byte, baseURI string) (Document, error)
	DocumentElement(doc Document) (Node, error)
	Serialize(node Node) (string, error)
}

// XPath compiles and evaluates XPath expressions.
type XPath interface {
	CompileXPath(ctx context.Context, expr string, sc StaticContext) (CompiledQuery, error)
	EvaluateXPath(ctx context.Context, q CompiledQuery, contextNode Node, b Bindings) (ir.Sequence, error)
}

// XSLT compiles stylesheets and runs transformations.
type XSLT interface {
	CompileStylesheet(ctx context.Context, stylesheet Document) (CompiledStylesheet, error)
	Transform(ctx context.Context, s CompiledStylesheet, source Document, p TransformParams) (Document, error)
}

// XQuery compiles and evaluates XQuery main modules.
type XQuery interface {
	CompileXQuery(ctx context.Context, module string, sc StaticContext) (CompiledQuery, error)
	EvaluateXQuery(ctx context.Context, q CompiledQuery, contextNode Node, b Bindings) (ir.Sequence, error)
}

// XSD loads schemas and validates instances.
// Validate returns nil for a valid instance and a KindValidation *Error for
// an invalid one.
type XSD interface {
	LoadSchema(ctx context.Context, docs []Document) (Schema, error)
	Validate(ctx context.Context, s Schema, instance Document) error
}

// Engine is one backend instance. It owns all of its internal state.
// Capabilities are the optional interfaces above, implemented by the same
// value.
type Engine interface {
	Info() Info
}

// Resetter is implemented by engines that can discard per-case state in
// place. Engines without it are rebuilt from their Factory instead.
type Resetter interface {
	Reset() error
}

// Closer is implemented by engines holding external resources.
type Closer interface {
	Close() error
}

// Factory builds a fresh engine instance.
type Factory func() (Engine, error)

// Descriptor binds an engine name to its declared info and factory.
// Info is available without instantiating the engine, so dependency checks
// never touch a backend.
type Descriptor struct {
	Info Info
	New  Factory
}

// Capability names a capability set.
type Capability string

// Capability sets.
const (
	CapTree   Capability = "tree"
	CapXPath  Capability = "xpath"
	CapXSLT   Capability = "xslt"
	CapXQuery Capability = "xquery"
	CapXSD    Capability = "xsd"
)

// Capabilities lists the capability sets e implements, in a fixed order.
func Capabilities(e Engine) []Capability {
	var caps []Capability
	if _, ok := e.(Tree); ok {
		caps = append(caps, CapTree)
	}
	if _, ok := e.(XPath); ok {
		caps = append(caps, CapXPath)
	}
	if _, ok := e.(XSLT); ok {
		caps = append(caps, CapXSLT)
	}
	if _, ok := e.(XQuery); ok {
		caps = append(caps, CapXQuery)
	}
	if _, ok := e.(XSD); ok {
		caps = append(caps, CapXSD)
	}
	return caps
}

// TreeOf returns e's Tree capability or a FeatureNotSupported error.
func TreeOf(e Engine) (Tree, error) {
	if t, ok := e.(Tree); ok {
		return t, nil
	}
	return nil, NotSupported(e.Info().Name, CapTree)
}

// XPathOf returns e's XPath capability or a FeatureNotSupported error.
func XPathOf(e Engine) (XPath, error) {
	if x, ok := e.(XPath); ok {
		return x, nil
	}
	return nil, NotSupported(e.Info().Name, CapXPath)
}

// XSLTOf returns e's XSLT capability or a FeatureNotSupported error.
func XSLTOf(e Engine) (XSLT, error) {
	if x, ok := e.(XSLT); ok {
		return x, nil
	}
	return nil, NotSupported(e.Info().Name, CapXSLT)
}

// XQueryOf returns e's XQuery capability or a FeatureNotSupported error.
func XQueryOf(e Engine) (XQuery, error) {
	if x, ok := e.(XQuery); ok {
		return x, nil
	}
	return nil, NotSupported(e.Info().Name, CapXQuery)
}

// XSDOf returns e's XSD capability or a FeatureNotSupported error.
func XSDOf(e Engine) (XSD, error) {
	if x, ok := e.(XSD); ok {
		return x, nil
	}
	return nil, NotSupported(e.Info().Name, CapXSD)
}
