package ir

import (
	"github.com/cockroachdb/apd/v3"
)

// Item is a sealed interface over the values an engine may return.
// Only String, Boolean, Double, Decimal, NodeRef and QName implement it.
type Item interface {
	// StringValue returns the item's string value using XPath casting rules.
	StringValue() string

	// TypeName returns the item's dynamic type, e.g. "xs:double" or "element()".
	TypeName() string

	item() // Sealed - only the types below implement it
}

// String is an xs:string item, or any atomic type whose value is carried as
// text (xs:date, xs:anyURI, xs:untypedAtomic, ...).
type String struct {
	Value string

	// Type is the annotated atomic type. Empty means xs:string.
	Type string
}

func (String) item() {}

// StringValue implements Item.
func (s String) StringValue() string { return s.Value }

// TypeName implements Item.
func (s String) TypeName() string {
	if s.Type == "" {
		return "xs:string"
	}
	return s.Type
}

// Boolean is an xs:boolean item.
type Boolean bool

func (Boolean) item() {}

// StringValue implements Item.
func (b Boolean) StringValue() string {
	if b {
		return "true"
	}
	return "false"
}

// TypeName implements Item.
func (Boolean) TypeName() string { return "xs:boolean" }

// Double is an IEEE-754 xs:double item.
type Double float64

func (Double) item() {}

// StringValue implements Item using the canonical double form.
func (d Double) StringValue() string { return FormatDouble(float64(d)) }

// TypeName implements Item.
func (Double) TypeName() string { return "xs:double" }

// Decimal is an exact xs:decimal item (or a subtype such as xs:integer).
// The value is never mutated after construction.
type Decimal struct {
	Value *apd.Decimal

	// Type is the annotated numeric type. Empty means xs:decimal.
	Type string
}

func (Decimal) item() {}

// StringValue implements Item using the canonical decimal form.
func (d Decimal) StringValue() string {
	if d.Value == nil {
		return "0"
	}
	return FormatDecimal(d.Value)
}

// TypeName implements Item.
func (d Decimal) TypeName() string {
	if d.Type == "" {
		return "xs:decimal"
	}
	return d.Type
}

// NodeKind identifies the XDM node kind of a NodeRef.
type NodeKind string

// Node kinds.
const (
	NodeDocument  NodeKind = "document"
	NodeElement   NodeKind = "element"
	NodeAttribute NodeKind = "attribute"
	NodeText      NodeKind = "text"
	NodeComment   NodeKind = "comment"
	NodePI        NodeKind = "processing-instruction"
	NodeNamespace NodeKind = "namespace"
)

// NodeRef is a detached reference to a node in an engine's tree.
// The engine's live node never crosses the boundary: the adapter copies the
// kind, name, string value and serialized markup.
type NodeRef struct {
	Kind   NodeKind
	Name   string
	Value  string
	Markup string
}

func (NodeRef) item() {}

// StringValue implements Item.
func (n NodeRef) StringValue() string { return n.Value }

// TypeName implements Item.
func (n NodeRef) TypeName() string {
	switch n.Kind {
	case NodeDocument:
		return "document-node()"
	case NodeNamespace:
		return "namespace-node()"
	case "":
		return "node()"
	default:
		return string(n.Kind) + "()"
	}
}

// QName is an xs:QName item.
type QName struct {
	Prefix    string
	Local     string
	Namespace string
}

func (QName) item() {}

// StringValue implements Item.
func (q QName) StringValue() string {
	if q.Prefix == "" {
		return q.Local
	}
	return q.Prefix + ":" + q.Local
}

// TypeName implements Item.
func (QName) TypeName() string { return "xs:QName" }

// NewString creates an xs:string item.
func NewString(s string) String {
	return String{Value: s}
}

// NewTypedString creates a text-valued item annotated with an atomic type.
func NewTypedString(s, typeName string) String {
	return String{Value: s, Type: typeName}
}

// NewInteger creates an xs:integer item.
func NewInteger(n int64) Decimal {
	return Decimal{Value: apd.New(n, 0), Type: "xs:integer"}
}

// NewDecimal parses an exact decimal literal such as "1.50" or "-3".
func NewDecimal(s string) (Decimal, error) {
	d, err := ParseDecimal(s)
	if err != nil {
		return Decimal{}, err
	}
	return Decimal{Value: d}, nil
}

// MustDecimal is like NewDecimal but panics on malformed input.
// Intended for tests and literals.
func MustDecimal(s string) Decimal {
	d, err := NewDecimal(s)
	if err != nil {
		panic(err)
	}
	return d
}
