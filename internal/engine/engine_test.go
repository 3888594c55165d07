package engine

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/xconform/internal/ir"
)

// treeOnly implements Engine and Tree but nothing else.
type treeOnly struct{}

func (treeOnly) Info() Info { return Info{Name: "tree-only"} }

func (treeOnly) Parse(context.Context, []byte, string) (Document, error) { return "doc", nil }

func (treeOnly) DocumentElement(Document) (Node, error) { return "root", nil }

func (treeOnly) Serialize(Node) (string, error) { return "<root/>", nil }

// xpathEngine adds XPath to treeOnly.
type xpathEngine struct{ treeOnly }

func (xpathEngine) Info() Info { return Info{Name: "xpath"} }

func (xpathEngine) CompileXPath(context.Context, string, StaticContext) (CompiledQuery, error) {
	return nil, nil
}

func (xpathEngine) EvaluateXPath(context.Context, CompiledQuery, Node, Bindings) (ir.Sequence, error) {
	return ir.Sequence{}, nil
}

func TestCapabilityLookup(t *testing.T) {
	e := treeOnly{}

	_, err := TreeOf(e)
	require.NoError(t, err)

	_, err = XPathOf(e)
	require.Error(t, err)
	assert.True(t, IsFeatureNotSupported(err))
	assert.Contains(t, err.Error(), `engine "tree-only" does not support xpath`)

	_, err = XSLTOf(e)
	assert.True(t, IsFeatureNotSupported(err))
	_, err = XQueryOf(e)
	assert.True(t, IsFeatureNotSupported(err))
	_, err = XSDOf(e)
	assert.True(t, IsFeatureNotSupported(err))
}

func TestCapabilities(t *testing.T) {
	assert.Equal(t, []Capability{CapTree}, Capabilities(treeOnly{}))
	assert.Equal(t, []Capability{CapTree, CapXPath}, Capabilities(xpathEngine{}))
}

func TestErrorFormatting(t *testing.T) {
	err := NewEvalError("err:FOAR0001", "division by zero")
	assert.Equal(t, "FOAR0001", err.Code)
	assert.Equal(t, "eval FOAR0001: division by zero", err.Error())

	cause := errors.New("unexpected EOF")
	perr := NewParseError("file:///a.xml", cause)
	assert.Contains(t, perr.Error(), "cannot parse file:///a.xml: unexpected EOF")
	assert.ErrorIs(t, perr, cause)
}

func TestErrorClassification(t *testing.T) {
	wrapped := fmt.Errorf("running case: %w", Fault("timeout after 1s", nil))
	assert.True(t, IsInfrastructure(wrapped))
	assert.False(t, IsFeatureNotSupported(wrapped))

	assert.True(t, IsCatalog(NewCatalogError("missing query", nil)))
	assert.False(t, IsCatalog(errors.New("plain")))

	assert.True(t, NewCompileError("XPST0003", "syntax").Executed())
	assert.False(t, Fault("panic", nil).Executed())
	assert.False(t, NotSupported("x", "y").Executed())
}

func TestAsErrorFallback(t *testing.T) {
	assert.Nil(t, AsError(nil, KindEval))

	plain := errors.New("boom")
	e := AsError(plain, KindEval)
	assert.Equal(t, KindEval, e.Kind)
	assert.Equal(t, "boom", e.Message)

	typed := NewCompileError("XPST0017", "unknown function")
	assert.Same(t, typed, AsError(fmt.Errorf("wrap: %w", typed), KindEval))
}

func TestNormalizeCode(t *testing.T) {
	tests := []struct{ in, want string }{
		{"FOAR0001", "FOAR0001"},
		{"err:FOAR0001", "FOAR0001"},
		{"Q{http://www.w3.org/2005/xqt-errors}XPTY0004", "XPTY0004"},
		{"  XTSE0010 ", "XTSE0010"},
		{"*", "*"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizeCode(tt.in), tt.in)
	}
}

func TestOutcomeResult(t *testing.T) {
	valid := false
	assert.Equal(t, ir.Sequence{ir.Boolean(false)}, Outcome{Valid: &valid}.Result())
	assert.Equal(t, ir.Sequence{ir.NewString("<out/>")}, Outcome{Serialized: "<out/>"}.Result())
	assert.Equal(t, ir.Sequence{}, Outcome{}.Result())

	seq := ir.Sequence{ir.NewInteger(3)}
	assert.Equal(t, seq, Outcome{Sequence: seq}.Result())
	assert.Equal(t, "<out/>", Outcome{Serialized: "<out/>"}.Markup())
}
