// Package engine defines the capability contract every backend satisfies to
// be driven by the xconform harness.
//
// The harness never sees an engine's internals. A backend implements some
// subset of the capability interfaces and projects its native values onto
// ir.Sequence:
//
//   - Tree: parse XML into an opaque document, locate the document element,
//     serialize a node
//   - XPath: compile and evaluate XPath expressions
//   - XSLT: compile stylesheets and run transformations
//   - XQuery: compile and evaluate XQuery main modules
//   - XSD: load schemas and validate instance documents
//
// Capabilities are discovered with the TreeOf, XPathOf, XSLTOf, XQueryOf and
// XSDOf helpers. A capability the engine lacks yields a FeatureNotSupported
// error rather than being silently absent; the harness records such cases as
// skipped.
//
// # Opaque handles
//
// Document, Node, CompiledQuery, CompiledStylesheet and Schema are opaque to
// the harness. It only passes them back to the engine that produced them.
//
// # Thread affinity
//
// Engines declare Info.ThreadSafe. The harness shares one instance across
// workers only when it is set; otherwise each worker owns its own instance
// built from the Descriptor's factory.
//
// # Error taxonomy
//
// Engines report failures as *Error values tagged with an ErrorKind. The kind
// decides how the harness classifies the case:
//
//   - parse, compile, eval, transform, validation: the engine ran; assertions
//     decide Passed or Failed
//   - feature-not-supported: Skipped
//   - catalog, infrastructure: Error
package engine
