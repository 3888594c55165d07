package assertion

import (
	"fmt"
	"strings"

	"github.com/roach88/xconform/internal/ir"
)

// parents maps each built-in atomic type to its base type. Types not listed
// derive directly from xs:anyAtomicType.
var parents = map[string]string{
	"xs:integer":            "xs:decimal",
	"xs:nonPositiveInteger": "xs:integer",
	"xs:negativeInteger":    "xs:nonPositiveInteger",
	"xs:long":               "xs:integer",
	"xs:int":                "xs:long",
	"xs:short":              "xs:int",
	"xs:byte":               "xs:short",
	"xs:nonNegativeInteger": "xs:integer",
	"xs:positiveInteger":    "xs:nonNegativeInteger",
	"xs:unsignedLong":       "xs:nonNegativeInteger",
	"xs:unsignedInt":        "xs:unsignedLong",
	"xs:unsignedShort":      "xs:unsignedInt",
	"xs:unsignedByte":       "xs:unsignedShort",
	"xs:normalizedString":   "xs:string",
	"xs:token":              "xs:normalizedString",
	"xs:language":           "xs:token",
	"xs:NMTOKEN":            "xs:token",
	"xs:Name":               "xs:token",
	"xs:NCName":             "xs:Name",
	"xs:ID":                 "xs:NCName",
	"xs:IDREF":              "xs:NCName",
	"xs:ENTITY":             "xs:NCName",
	"xs:dayTimeDuration":    "xs:duration",
	"xs:yearMonthDuration":  "xs:duration",
	"xs:dateTimeStamp":      "xs:dateTime",
}

var numericTypes = map[string]bool{
	"xs:decimal": true,
	"xs:double":  true,
	"xs:float":   true,
}

// isSubtype reports whether atomic type t is want or derives from it.
func isSubtype(t, want string) bool {
	if want == "xs:anyAtomicType" {
		return true
	}
	for t != "" {
		if t == want {
			return true
		}
		if want == "xs:numeric" && numericTypes[t] {
			return true
		}
		t = parents[t]
	}
	return false
}

// MatchType reports whether seq matches a sequence type such as
// "xs:integer", "element(foo)?", "node()*" or "empty-sequence()".
//
// Function, map and array types return an error: the harness cannot judge
// them from the shared result contract.
func MatchType(seq ir.Sequence, typ string) (bool, error) {
	typ = strings.Join(strings.Fields(typ), "")
	if typ == "empty-sequence()" {
		return len(seq) == 0, nil
	}

	lo, hi := 1, 1
	if n := len(typ); n > 0 {
		switch typ[n-1] {
		case '?':
			lo, hi, typ = 0, 1, typ[:n-1]
		case '*':
			lo, hi, typ = 0, -1, typ[:n-1]
		case '+':
			lo, hi, typ = 1, -1, typ[:n-1]
		}
	}
	if len(seq) < lo || (hi >= 0 && len(seq) > hi) {
		return false, nil
	}

	match, err := itemTest(typ)
	if err != nil {
		return false, err
	}
	for _, it := range seq {
		if !match(it) {
			return false, nil
		}
	}
	return true, nil
}

// itemTest compiles an item type into a predicate.
func itemTest(typ string) (func(ir.Item) bool, error) {
	if typ == "item()" {
		return func(ir.Item) bool { return true }, nil
	}

	open := strings.IndexByte(typ, '(')
	if open < 0 {
		if !strings.Contains(typ, ":") {
			typ = "xs:" + typ
		}
		return func(it ir.Item) bool {
			if _, isNode := it.(ir.NodeRef); isNode {
				return false
			}
			return isSubtype(it.TypeName(), typ)
		}, nil
	}
	if !strings.HasSuffix(typ, ")") {
		return nil, fmt.Errorf("malformed sequence type %q", typ)
	}

	test, arg := typ[:open], typ[open+1:len(typ)-1]
	if i := strings.IndexByte(arg, ','); i >= 0 {
		arg = arg[:i]
	}
	var kind ir.NodeKind
	switch test {
	case "node":
		return func(it ir.Item) bool {
			_, ok := it.(ir.NodeRef)
			return ok
		}, nil
	case "element", "schema-element":
		kind = ir.NodeElement
	case "attribute", "schema-attribute":
		kind = ir.NodeAttribute
	case "text":
		kind = ir.NodeText
	case "comment":
		kind = ir.NodeComment
	case "processing-instruction":
		kind = ir.NodePI
	case "document-node":
		kind = ir.NodeDocument
		arg = ""
	case "namespace-node":
		kind = ir.NodeNamespace
	default:
		return nil, fmt.Errorf("cannot check item type %q", typ)
	}

	return func(it ir.Item) bool {
		n, ok := it.(ir.NodeRef)
		if !ok || n.Kind != kind {
			return false
		}
		return arg == "" || arg == "*" || arg == n.Name
	}, nil
}
