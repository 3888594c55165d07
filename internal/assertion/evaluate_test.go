package assertion

import (
	"math"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"

	"github.com/roach88/xconform/internal/catalog"
	"github.com/roach88/xconform/internal/engine"
	"github.com/roach88/xconform/internal/ir"
)

func result(items ...ir.Item) engine.Outcome {
	return engine.Outcome{Sequence: ir.Sequence(items)}
}

func raised(code string) engine.Outcome {
	return engine.Outcome{Err: engine.NewEvalError(code, "raised")}
}

func caseWith(as ...catalog.Assertion) *catalog.TestCase {
	return &catalog.TestCase{Set: "s", Name: "c", Assertions: as}
}

func TestStringEqual_CanonicalDouble(t *testing.T) {
	r := Check(catalog.StringEqual{Expected: "1.0E6"}, result(ir.Double(1e6)))
	assert.Equal(t, Pass, r.Verdict, r.Message)

	r = Check(catalog.StringEqual{Expected: "1000000"}, result(ir.Double(1e6)))
	assert.Equal(t, Fail, r.Verdict)
}

func TestStringEqual_NumericLiteral(t *testing.T) {
	r := Check(catalog.StringEqual{Expected: "3", Numeric: true}, result(ir.Double(3)))
	assert.Equal(t, Pass, r.Verdict, r.Message)

	r = Check(catalog.StringEqual{Expected: "1.5", Numeric: true}, result(ir.MustDecimal("1.50")))
	assert.Equal(t, Pass, r.Verdict, r.Message)

	r = Check(catalog.StringEqual{Expected: "INF", Numeric: true}, result(ir.Double(math.Inf(1))))
	assert.Equal(t, Pass, r.Verdict, r.Message)

	r = Check(catalog.StringEqual{Expected: "3", Numeric: true}, result(ir.NewString("03")))
	assert.Equal(t, Fail, r.Verdict)
}

func TestStringEqual_JoinsWithSpaceAndNormalizes(t *testing.T) {
	seq := result(ir.NewString("a"), ir.NewInteger(1), ir.Boolean(true))
	assert.Equal(t, Pass, Check(catalog.StringEqual{Expected: "a 1 true"}, seq).Verdict)

	r := Check(catalog.StringEqual{Expected: " a  b ", NormalizeSpace: true}, result(ir.NewString("a\n b")))
	assert.Equal(t, Pass, r.Verdict)
}

func TestErrorCode(t *testing.T) {
	want := catalog.ErrorCode{Code: "FOAR0001"}

	assert.Equal(t, Pass, Check(want, raised("FOAR0001")).Verdict)
	assert.Equal(t, Pass, Check(want, raised("err:FOAR0001")).Verdict)

	r := Check(want, raised("XPTY0004"))
	assert.Equal(t, Fail, r.Verdict, "a different code fails, it is never an error")
	assert.Contains(t, r.Message, "XPTY0004")

	r = Check(want, result(ir.Double(math.Inf(1))))
	assert.Equal(t, Fail, r.Verdict, "an engine returning INF instead of raising fails")
	assert.Contains(t, r.Message, "INF")

	assert.Equal(t, Pass, Check(catalog.ErrorCode{Code: "*"}, raised("XPST0003")).Verdict)
}

func TestUnexpectedErrorFails(t *testing.T) {
	r := Check(catalog.StringEqual{Expected: "1"}, raised("FOAR0002"))
	assert.Equal(t, Fail, r.Verdict)
	assert.Contains(t, r.Message, "unexpected error")
}

func TestBooleanIs(t *testing.T) {
	assert.Equal(t, Pass, Check(catalog.BooleanIs{Expected: true}, result(ir.Boolean(true))).Verdict)
	assert.Equal(t, Fail, Check(catalog.BooleanIs{Expected: true}, result(ir.Boolean(false))).Verdict)
	assert.Equal(t, Pass, Check(catalog.BooleanIs{Expected: false}, result()).Verdict)

	r := Check(catalog.BooleanIs{Expected: true}, result(ir.NewInteger(1), ir.NewInteger(2)))
	assert.Equal(t, Fail, r.Verdict)
	assert.Contains(t, r.Message, "FORG0006")
}

func TestCountIs(t *testing.T) {
	assert.Equal(t, Pass, Check(catalog.CountIs{Expected: 0}, result()).Verdict)
	assert.Equal(t, Pass, Check(catalog.CountIs{Expected: 2}, result(ir.Boolean(true), ir.Boolean(false))).Verdict)
	assert.Equal(t, Fail, Check(catalog.CountIs{Expected: 1}, result()).Verdict)
}

func TestSerialization(t *testing.T) {
	out := engine.Outcome{Serialized: `<out b='2' a="1"><x/></out>`}

	assert.Equal(t, Pass, Check(catalog.SerializationEqual{Expected: `<out a="1" b="2"><x></x></out>`}, out).Verdict)
	assert.Equal(t, Fail, Check(catalog.SerializationEqual{Expected: `<out a="1"/>`}, out).Verdict)

	assert.Equal(t, Pass, Check(catalog.SerializationMatches{Pattern: "OUT", Flags: "i"}, out).Verdict)
	assert.Equal(t, Fail, Check(catalog.SerializationMatches{Pattern: "OUT"}, out).Verdict)
	assert.Equal(t, Undecided, Check(catalog.SerializationMatches{Pattern: "(", Flags: ""}, out).Verdict)

	nodes := result(ir.NodeRef{Kind: ir.NodeElement, Name: "a", Markup: "<a/>"}, ir.NodeRef{Kind: ir.NodeElement, Name: "b", Markup: "<b/>"})
	assert.Equal(t, Pass, Check(catalog.SerializationEqual{Expected: "<a/><b/>"}, nodes).Verdict)
}

func TestExpressionChecks(t *testing.T) {
	out := result(ir.NewInteger(1), ir.NewInteger(2))
	out.Checks = map[int]engine.Check{
		1: {Sequence: ir.Sequence{ir.Double(1), ir.Double(2)}},
		2: {Sequence: ir.Sequence{ir.NewInteger(2), ir.NewInteger(1)}},
		3: {Sequence: ir.Sequence{ir.Boolean(true)}},
		4: {Err: engine.NotSupported("x", "external variable bindings")},
	}

	assert.Equal(t, Pass, Check(catalog.DeepEqual{ID: 1}, out).Verdict)
	assert.Equal(t, Fail, Check(catalog.DeepEqual{ID: 2}, out).Verdict)
	assert.Equal(t, Pass, Check(catalog.Permutation{ID: 2}, out).Verdict)
	assert.Equal(t, Pass, Check(catalog.Expression{ID: 3, Expr: "$result"}, out).Verdict)

	r := Check(catalog.Expression{ID: 4, Expr: "$result = 1"}, out)
	assert.Equal(t, Undecided, r.Verdict)
	assert.Contains(t, r.Message, "cannot evaluate")

	assert.Equal(t, Undecided, Check(catalog.Expression{ID: 9}, out).Verdict)
}

func TestValidity(t *testing.T) {
	valid, invalid := true, false

	assert.Equal(t, Pass, Check(catalog.Validity{Expected: "valid"}, engine.Outcome{Valid: &valid}).Verdict)
	assert.Equal(t, Fail, Check(catalog.Validity{Expected: "valid"}, engine.Outcome{Valid: &invalid}).Verdict)
	assert.Equal(t, Pass, Check(catalog.Validity{Expected: "invalid"}, engine.Outcome{Valid: &invalid}).Verdict)

	rejected := engine.Outcome{Err: engine.NewError(engine.KindValidation, "", "cvc-elt.1")}
	assert.Equal(t, Pass, Check(catalog.Validity{Expected: "invalid"}, rejected).Verdict)

	assert.Equal(t, Undecided, Check(catalog.Validity{Expected: "indeterminate"}, engine.Outcome{Valid: &valid}).Verdict)

	schemaBroken := engine.Outcome{Err: engine.NewCompileError("", "schema: unresolved type")}
	r := Check(catalog.Validity{Expected: "invalid"}, schemaBroken)
	assert.Equal(t, Fail, r.Verdict, "a schema the engine cannot load is not an invalid instance")
	assert.Contains(t, r.Message, "validation did not complete")
}

func TestCombinators(t *testing.T) {
	out := result(ir.NewInteger(3))
	ok := catalog.CountIs{Expected: 1}
	bad := catalog.CountIs{Expected: 2}
	unknown := catalog.Expression{ID: 7}

	tests := []struct {
		name string
		a    catalog.Assertion
		want Verdict
	}{
		{"all pass", catalog.Combine{Mode: catalog.CombineAll, Children: []catalog.Assertion{ok, ok}}, Pass},
		{"all with fail", catalog.Combine{Mode: catalog.CombineAll, Children: []catalog.Assertion{ok, bad}}, Fail},
		{"all fail beats undecided", catalog.Combine{Mode: catalog.CombineAll, Children: []catalog.Assertion{unknown, bad}}, Fail},
		{"all with undecided", catalog.Combine{Mode: catalog.CombineAll, Children: []catalog.Assertion{ok, unknown}}, Undecided},
		{"any one passes", catalog.Combine{Mode: catalog.CombineAny, Children: []catalog.Assertion{bad, ok}}, Pass},
		{"any none pass", catalog.Combine{Mode: catalog.CombineAny, Children: []catalog.Assertion{bad, bad}}, Fail},
		{"any undecided beats fail", catalog.Combine{Mode: catalog.CombineAny, Children: []catalog.Assertion{bad, unknown}}, Undecided},
		{"not pass", catalog.Not{Child: ok}, Fail},
		{"not fail", catalog.Not{Child: bad}, Pass},
		{"not undecided", catalog.Not{Child: unknown}, Undecided},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Check(tt.a, out).Verdict)
		})
	}
}

func TestEvaluate_TopLevelPolicy(t *testing.T) {
	out := result(ir.NewInteger(3))
	c := caseWith(catalog.CountIs{Expected: 1}, catalog.StringEqual{Expected: "4"})

	assert.Equal(t, Fail, Evaluate(c, out, DefaultPolicy()).Verdict)
	assert.Equal(t, Pass, Evaluate(c, out, Policy{Combinator: catalog.CombineAny}).Verdict)

	c.Combinator = catalog.CombineAny
	assert.Equal(t, Pass, Evaluate(c, out, DefaultPolicy()).Verdict, "declared combinator wins")

	assert.Equal(t, Undecided, Evaluate(caseWith(), out, DefaultPolicy()).Verdict)
}

func TestEvaluate_IsPure(t *testing.T) {
	out := result(ir.NewInteger(3))
	c := caseWith(catalog.StringEqual{Expected: "3"})
	first := Evaluate(c, out, DefaultPolicy())
	for i := 0; i < 3; i++ {
		assert.Equal(t, first, Evaluate(c, out, DefaultPolicy()))
	}
}

func TestParseCombinator(t *testing.T) {
	c, err := ParseCombinator("any")
	assert.NoError(t, err)
	assert.Equal(t, catalog.CombineAny, c)

	_, err = ParseCombinator("most")
	assert.Error(t, err)
}

func TestVerdictString(t *testing.T) {
	assert.Equal(t, "pass", Pass.String())
	assert.Equal(t, "fail", Fail.String())
	assert.Equal(t, "undecided", Undecided.String())
}

func TestAbbreviate_KeepsRunesWhole(t *testing.T) {
	short := "héllo"
	assert.Equal(t, short, abbreviate(short))

	// 199 ASCII bytes put the 200-byte limit inside the two-byte 'é'.
	long := strings.Repeat("a", 199) + strings.Repeat("é", 10)
	got := abbreviate(long)
	assert.True(t, utf8.ValidString(got))
	assert.Equal(t, strings.Repeat("a", 199)+"...", got)

	wide := strings.Repeat("日本語", 100)
	got = abbreviate(wide)
	assert.True(t, utf8.ValidString(got))
	assert.True(t, strings.HasSuffix(got, "..."))
	assert.LessOrEqual(t, len(got), 203)
}

func TestSerialization_MultibyteMismatchKeepsRunesWhole(t *testing.T) {
	out := engine.Outcome{Serialized: "<p>" + strings.Repeat("ü", 150) + "</p>"}
	res := Check(catalog.SerializationEqual{Expected: "<p/>"}, out)
	assert.Equal(t, Fail, res.Verdict)
	assert.NotContains(t, res.Message, `\x`, "no rune is split before quoting")
}
