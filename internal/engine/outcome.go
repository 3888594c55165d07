package engine

import "github.com/roach88/xconform/internal/ir"

// Outcome is the raw result of driving an engine over one test definition,
// before assertions are applied.
//
// Exactly one of Sequence, Serialized or Valid carries the primary result,
// depending on the definition kind. Err is set instead when the engine
// raised an error.
type Outcome struct {
	// Sequence is the XPath/XQuery result.
	Sequence ir.Sequence `json:"sequence,omitempty"`

	// Serialized is the serialized result tree of an XSLT transform.
	Serialized string `json:"serialized,omitempty"`

	// Valid is the XSD validation outcome.
	Valid *bool `json:"valid,omitempty"`

	// Err is the error the engine raised, if any.
	Err *Error `json:"error,omitempty"`

	// Checks holds engine-evaluated expressions needed by expression-based
	// assertions, keyed by assertion ID.
	Checks map[int]Check `json:"checks,omitempty"`
}

// Check is the result of evaluating one assertion expression.
type Check struct {
	Sequence ir.Sequence `json:"sequence,omitempty"`
	Err      *Error      `json:"error,omitempty"`
}

// Result returns the primary result as a sequence. Transform output becomes
// a single string item; validation outcomes become a single boolean.
func (o Outcome) Result() ir.Sequence {
	switch {
	case o.Sequence != nil:
		return o.Sequence
	case o.Valid != nil:
		return ir.Sequence{ir.Boolean(*o.Valid)}
	case o.Serialized != "":
		return ir.Sequence{ir.NewString(o.Serialized)}
	}
	return ir.Sequence{}
}

// Markup returns the serialized form of the result.
func (o Outcome) Markup() string {
	if o.Serialized != "" {
		return o.Serialized
	}
	return o.Sequence.Markup()
}
