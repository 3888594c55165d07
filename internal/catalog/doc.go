// Package catalog loads W3C-style conformance catalogs into an in-memory
// model of test sets, test cases, environments, dependencies and assertion
// trees.
//
// The catalog formats (QT3, XSLT 3.0, XSD) differ only in element and
// attribute layout, so the loader is generic: per-format mapping rules are
// data, written in CUE (formats.cue) and evaluated as XPath paths over an
// antchfx/xmlquery tree. Adding a format adds a CUE value, not Go code.
//
// Failure policy: a malformed test case or an unreadable test-set file is
// contained to that case as a catalog error. Only an unreadable or malformed
// root catalog fails the load.
package catalog
