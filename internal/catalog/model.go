package catalog

import (
	"github.com/roach88/xconform/internal/engine"
	"github.com/roach88/xconform/internal/ir"
)

// Document is a loaded catalog.
//
// A Document is immutable after Load returns and may be shared by pointer
// across runners.
type Document struct {
	// Format is the mapping-rule name used to decode the catalog.
	Format string

	// Suite is the reporting name of the suite, e.g. "qt3".
	Suite string

	// Path is the absolute path of the root catalog file.
	Path string

	// Dependencies are suite-level dependencies, already merged into every
	// case.
	Dependencies []Dependency

	// Sets are the test sets in catalog order. Names are unique.
	Sets []*TestSet
}

// Cases returns every case in catalog order.
func (d *Document) Cases() []*TestCase {
	var out []*TestCase
	for _, s := range d.Sets {
		out = append(out, s.Cases...)
	}
	return out
}

// Len returns the number of cases.
func (d *Document) Len() int {
	n := 0
	for _, s := range d.Sets {
		n += len(s.Cases)
	}
	return n
}

// Lookup finds a case by set and case name.
func (d *Document) Lookup(set, name string) (*TestCase, bool) {
	for _, s := range d.Sets {
		if s.Name != set {
			continue
		}
		for _, c := range s.Cases {
			if c.Name == name {
				return c, true
			}
		}
	}
	return nil, false
}

// Digest identifies the selected case set. Two loads of the same catalog
// with the same filter have equal digests.
func (d *Document) Digest() (string, error) {
	cases := d.Cases()
	ids := make([]string, len(cases))
	for i, c := range cases {
		ids[i] = c.ID()
	}
	return ir.CatalogDigest(ids)
}

// CatalogErrors returns the cases whose catalog entry was malformed.
func (d *Document) CatalogErrors() []*TestCase {
	var out []*TestCase
	for _, c := range d.Cases() {
		if c.CatalogErr != nil {
			out = append(out, c)
		}
	}
	return out
}

// TestSet is a named group of test cases.
type TestSet struct {
	Name        string
	Path        string
	Description string

	// Dependencies are the set-level dependencies as declared.
	Dependencies []Dependency

	Cases []*TestCase
}

// TestCase is one executable test.
type TestCase struct {
	Set         string
	Name        string
	Description string

	// Dependencies is the merged suite, set and case dependency list.
	Dependencies []Dependency

	// Environment is nil when the case declares none.
	Environment *Environment

	Definition Definition

	// Assertions are the top-level assertions, combined by Combinator.
	Assertions []Assertion

	// Combinator is the top-level combinator the catalog declared, or empty
	// to use the evaluator's policy default.
	Combinator Combinator

	// CatalogErr is set when the catalog entry for this case was malformed.
	// Such a case is never executed.
	CatalogErr *engine.Error
}

// ID returns the "set/case" identity.
func (c *TestCase) ID() string {
	return c.Set + "/" + c.Name
}

// Environment is the static and dynamic context a case runs in.
type Environment struct {
	Name string

	// Context is the document bound as the context item, if any.
	Context *Source

	// Sources are documents bound to external variables.
	Sources []Source

	Params     []Param
	Namespaces map[string]string

	// ContextItem is an expression selecting the context item, evaluated
	// against Context.
	ContextItem string

	BaseURI string
}

// Source is a document referenced by an environment.
type Source struct {
	// Role is "." for the context document or "$name" for a variable.
	Role string

	// Path is the absolute path of the document.
	Path string

	// URI is the document URI the catalog assigns, if any.
	URI string
}

// Variable returns the variable name of a "$name" role, or "".
func (s Source) Variable() string {
	if len(s.Role) > 1 && s.Role[0] == '$' {
		return s.Role[1:]
	}
	return ""
}

// Param is an external variable or stylesheet parameter whose value is an
// expression evaluated by the engine under test.
type Param struct {
	Name   string
	Select string
}

// Definition is what to execute. Variants: XPathQuery, XQueryModule,
// XsltTransform, XsdValidation.
type Definition interface {
	Capability() engine.Capability
	definition()
}

// XPathQuery evaluates an XPath expression.
type XPathQuery struct {
	Text string

	// Path is the file the text was read from, if any. Used as base URI.
	Path string
}

// XQueryModule evaluates an XQuery main module.
type XQueryModule struct {
	Text    string
	Path    string
	Modules []engine.Module
}

// XsltTransform runs a stylesheet.
type XsltTransform struct {
	Stylesheet      string
	Source          string
	InitialTemplate string
	InitialMode     string
	Params          []Param
}

// XsdValidation loads schemas and, for instance tests, validates Instance.
// An empty Instance means the case checks the schema documents themselves.
type XsdValidation struct {
	Schemas  []string
	Instance string
}

func (XPathQuery) Capability() engine.Capability    { return engine.CapXPath }
func (XQueryModule) Capability() engine.Capability  { return engine.CapXQuery }
func (XsltTransform) Capability() engine.Capability { return engine.CapXSLT }
func (XsdValidation) Capability() engine.Capability { return engine.CapXSD }

func (XPathQuery) definition()    {}
func (XQueryModule) definition()  {}
func (XsltTransform) definition() {}
func (XsdValidation) definition() {}

// Combinator joins sibling assertions.
type Combinator string

const (
	CombineAll Combinator = "all"
	CombineAny Combinator = "any"
)

// Assertion is a check applied to an execution outcome.
//
// Variants: StringEqual, ErrorCode, BooleanIs, CountIs, TypeMatch,
// SerializationEqual, SerializationMatches, DeepEqual, Permutation,
// Expression, Validity, Combine, Not.
type Assertion interface {
	assertion()
}

// StringEqual compares the space-joined string value of the result.
type StringEqual struct {
	Expected string

	// Numeric marks an expected numeric literal; a single numeric result
	// item then compares by value.
	Numeric bool

	// NormalizeSpace collapses whitespace on both sides before comparing.
	NormalizeSpace bool
}

// ErrorCode expects the engine to raise Code. "*" matches any code.
type ErrorCode struct {
	Code string
}

// BooleanIs compares the effective boolean value of the result.
type BooleanIs struct {
	Expected bool
}

// CountIs compares the result length.
type CountIs struct {
	Expected int
}

// TypeMatch checks the result against a sequence type such as "xs:integer+".
type TypeMatch struct {
	Type string
}

// SerializationEqual compares the serialized result with Expected markup.
type SerializationEqual struct {
	Expected string
}

// SerializationMatches checks the serialized result against a regular
// expression.
type SerializationMatches struct {
	Pattern string
	Flags   string
}

// DeepEqual compares the result item-wise with the sequence an expression
// evaluates to. ID keys the expression's evaluation in the outcome.
type DeepEqual struct {
	ID   int
	Expr string
}

// Permutation compares the result with an expression's sequence ignoring
// order.
type Permutation struct {
	ID   int
	Expr string
}

// Expression requires an expression over $result to be true.
type Expression struct {
	ID   int
	Expr string
}

// Validity expects an XSD outcome: "valid", "invalid" or "indeterminate".
type Validity struct {
	Expected string
}

// Combine joins child assertions with Mode.
type Combine struct {
	Mode     Combinator
	Children []Assertion
}

// Not inverts a child assertion.
type Not struct {
	Child Assertion
}

func (StringEqual) assertion()          {}
func (ErrorCode) assertion()            {}
func (BooleanIs) assertion()            {}
func (CountIs) assertion()              {}
func (TypeMatch) assertion()            {}
func (SerializationEqual) assertion()   {}
func (SerializationMatches) assertion() {}
func (DeepEqual) assertion()            {}
func (Permutation) assertion()          {}
func (Expression) assertion()           {}
func (Validity) assertion()             {}
func (Combine) assertion()              {}
func (Not) assertion()                  {}

// Check is an expression an assertion needs the engine to evaluate.
type Check struct {
	ID   int
	Expr string

	// BindsResult reports whether the expression refers to $result.
	BindsResult bool
}

// Checks collects the engine-evaluated expressions in an assertion list, in
// tree order.
func Checks(as []Assertion) []Check {
	var out []Check
	var walk func(a Assertion)
	walk = func(a Assertion) {
		switch v := a.(type) {
		case DeepEqual:
			out = append(out, Check{ID: v.ID, Expr: v.Expr})
		case Permutation:
			out = append(out, Check{ID: v.ID, Expr: v.Expr})
		case Expression:
			out = append(out, Check{ID: v.ID, Expr: v.Expr, BindsResult: true})
		case Combine:
			for _, c := range v.Children {
				walk(c)
			}
		case Not:
			walk(v.Child)
		}
	}
	for _, a := range as {
		walk(a)
	}
	return out
}
