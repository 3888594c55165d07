package testutil

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/xconform/internal/engine"
	"github.com/roach88/xconform/internal/ir"
)

func TestScript_AnswersAndCounts(t *testing.T) {
	s := NewScript(engine.Info{Name: "fake", Versions: []string{"XP31"}})
	s.On("1+1", Behavior{Result: ir.Sequence{ir.NewInteger(2)}})
	s.On("1 div 0", Behavior{Code: "FOAR0001"})

	e, err := s.Descriptor().New()
	require.NoError(t, err)
	xp, err := engine.XPathOf(e)
	require.NoError(t, err)

	ctx := context.Background()
	q, err := xp.CompileXPath(ctx, "1+1", engine.StaticContext{})
	require.NoError(t, err)
	seq, err := xp.EvaluateXPath(ctx, q, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "2", seq.StringValue())

	q, err = xp.CompileXPath(ctx, "1 div 0", engine.StaticContext{})
	require.NoError(t, err)
	_, err = xp.EvaluateXPath(ctx, q, nil, nil)
	require.Error(t, err)
	assert.Equal(t, "FOAR0001", engine.AsError(err, engine.KindEval).Code)

	assert.Equal(t, 1, s.Calls("1+1"))
	assert.Equal(t, 2, s.TotalCalls())
	assert.Equal(t, 1, s.Builds())
}

func TestScript_CompileError(t *testing.T) {
	s := NewScript(engine.Info{Name: "fake"}).On("1 +", Behavior{CompileCode: "XPST0003"})
	e, _ := s.Descriptor().New()

	_, err := e.(engine.XPath).CompileXPath(context.Background(), "1 +", engine.StaticContext{})
	require.Error(t, err)
	assert.Equal(t, engine.KindCompile, engine.AsError(err, engine.KindEval).Kind)
}

func TestScript_Panics(t *testing.T) {
	s := NewScript(engine.Info{Name: "fake"}).On("boom", Behavior{Panic: "engine bug"})
	e, _ := s.Descriptor().New()

	assert.PanicsWithValue(t, "engine bug", func() {
		_, _ = e.(engine.XPath).EvaluateXPath(context.Background(), "boom", nil, nil)
	})
}

func TestScript_HangUntilRelease(t *testing.T) {
	s := NewScript(engine.Info{Name: "fake"}).On("loop", Behavior{Hang: true})
	e, _ := s.Descriptor().New()

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = e.(engine.XPath).EvaluateXPath(context.Background(), "loop", nil, nil)
	}()

	s.Release()
	s.Release()
	<-done
	assert.Equal(t, 1, s.Calls("loop"))
}

func TestScript_ValidateAndTransform(t *testing.T) {
	s := NewScript(engine.Info{Name: "fake"})
	s.On("<bad/>", Behavior{Invalid: true, Code: "cvc-elt.1"})
	s.On("<xsl/>", Behavior{Markup: "<out/>"})
	e, _ := s.Descriptor().New()
	ctx := context.Background()

	tree := e.(engine.Tree)
	bad, _ := tree.Parse(ctx, []byte("<bad/>"), "")
	good, _ := tree.Parse(ctx, []byte("<good/>"), "")

	xsd := e.(engine.XSD)
	schema, err := xsd.LoadSchema(ctx, nil)
	require.NoError(t, err)
	require.Error(t, xsd.Validate(ctx, schema, bad))
	require.NoError(t, xsd.Validate(ctx, schema, good))

	xsl, _ := tree.Parse(ctx, []byte("<xsl/>"), "")
	xslt := e.(engine.XSLT)
	compiled, err := xslt.CompileStylesheet(ctx, xsl)
	require.NoError(t, err)
	out, err := xslt.Transform(ctx, compiled, good, engine.TransformParams{})
	require.NoError(t, err)
	markup, err := tree.Serialize(out)
	require.NoError(t, err)
	assert.Equal(t, "<out/>", markup)
}
