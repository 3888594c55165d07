package assertion

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/roach88/xconform/internal/catalog"
	"github.com/roach88/xconform/internal/engine"
	"github.com/roach88/xconform/internal/ir"
)

// Verdict is the three-valued outcome of an assertion.
type Verdict int

const (
	Fail Verdict = iota
	Pass
	Undecided
)

func (v Verdict) String() string {
	switch v {
	case Pass:
		return "pass"
	case Fail:
		return "fail"
	case Undecided:
		return "undecided"
	}
	return fmt.Sprintf("verdict(%d)", int(v))
}

// Result is a verdict with the reason for a non-pass.
type Result struct {
	Verdict Verdict
	Message string
}

func pass() Result { return Result{Verdict: Pass} }

func fail(format string, args ...any) Result {
	return Result{Verdict: Fail, Message: fmt.Sprintf(format, args...)}
}

func undecided(format string, args ...any) Result {
	return Result{Verdict: Undecided, Message: fmt.Sprintf(format, args...)}
}

// Policy holds evaluator settings that catalogs leave open.
type Policy struct {
	// Combinator joins top-level assertions when the case declares none.
	Combinator catalog.Combinator
}

// DefaultPolicy requires every top-level assertion to hold.
func DefaultPolicy() Policy {
	return Policy{Combinator: catalog.CombineAll}
}

// ParseCombinator validates a combinator name.
func ParseCombinator(s string) (catalog.Combinator, error) {
	switch c := catalog.Combinator(s); c {
	case catalog.CombineAll, catalog.CombineAny:
		return c, nil
	}
	return "", fmt.Errorf("unknown combinator %q (want all or any)", s)
}

// Evaluate applies the top-level assertions of c to out.
func Evaluate(c *catalog.TestCase, out engine.Outcome, p Policy) Result {
	mode := c.Combinator
	if mode == "" {
		mode = p.Combinator
	}
	if mode == "" {
		mode = catalog.CombineAll
	}
	if len(c.Assertions) == 0 {
		return undecided("no assertions")
	}
	return combine(mode, c.Assertions, out)
}

// Check applies a single assertion to out.
func Check(a catalog.Assertion, out engine.Outcome) Result {
	switch a := a.(type) {
	case catalog.Combine:
		return combine(a.Mode, a.Children, out)
	case catalog.Not:
		r := Check(a.Child, out)
		switch r.Verdict {
		case Pass:
			return fail("negated assertion holds")
		case Fail:
			return pass()
		}
		return r
	case catalog.ErrorCode:
		return errorCode(a, out)
	case catalog.Validity:
		return validity(a, out)
	}

	if out.Err != nil {
		return fail("unexpected error %s", out.Err.Error())
	}

	switch a := a.(type) {
	case catalog.StringEqual:
		return stringEqual(a, out.Result())
	case catalog.BooleanIs:
		got, err := out.Result().EffectiveBoolean()
		if err != nil {
			return fail("%v", err)
		}
		if got != a.Expected {
			return fail("expected %t, got %t", a.Expected, got)
		}
		return pass()
	case catalog.CountIs:
		if n := len(out.Result()); n != a.Expected {
			return fail("expected %d items, got %d", a.Expected, n)
		}
		return pass()
	case catalog.TypeMatch:
		ok, err := MatchType(out.Result(), a.Type)
		if err != nil {
			return undecided("%v", err)
		}
		if !ok {
			return fail("result %s does not match %s", describe(out.Result()), a.Type)
		}
		return pass()
	case catalog.SerializationEqual:
		got := out.Markup()
		if !XMLEqual(got, a.Expected) {
			return fail("serialization %q differs from expected %q", abbreviate(got), abbreviate(a.Expected))
		}
		return pass()
	case catalog.SerializationMatches:
		re, err := compileRegexp(a.Pattern, a.Flags)
		if err != nil {
			return undecided("%v", err)
		}
		if !re.MatchString(out.Markup()) {
			return fail("serialization does not match /%s/%s", a.Pattern, a.Flags)
		}
		return pass()
	case catalog.DeepEqual:
		want, r, ok := checked(out, a.ID)
		if !ok {
			return r
		}
		if !deepEqual(out.Result(), want) {
			return fail("result %s is not deep-equal to %s", describe(out.Result()), describe(want))
		}
		return pass()
	case catalog.Permutation:
		want, r, ok := checked(out, a.ID)
		if !ok {
			return r
		}
		if !permutation(out.Result(), want) {
			return fail("result %s is not a permutation of %s", describe(out.Result()), describe(want))
		}
		return pass()
	case catalog.Expression:
		got, r, ok := checked(out, a.ID)
		if !ok {
			return r
		}
		b, err := got.EffectiveBoolean()
		if err != nil {
			return fail("%s: %v", a.Expr, err)
		}
		if !b {
			return fail("%s is false", a.Expr)
		}
		return pass()
	}
	return undecided("unsupported assertion %T", a)
}

func combine(mode catalog.Combinator, children []catalog.Assertion, out engine.Outcome) Result {
	var firstFail, firstUndecided *Result
	for _, child := range children {
		r := Check(child, out)
		switch {
		case r.Verdict == Pass && mode == catalog.CombineAny:
			return r
		case r.Verdict == Fail && firstFail == nil:
			firstFail = &r
		case r.Verdict == Undecided && firstUndecided == nil:
			firstUndecided = &r
		}
	}

	if mode == catalog.CombineAny {
		if firstUndecided != nil {
			return *firstUndecided
		}
		if firstFail != nil {
			return fail("no alternative holds: %s", firstFail.Message)
		}
		return fail("no alternative holds")
	}

	if firstFail != nil {
		return *firstFail
	}
	if firstUndecided != nil {
		return *firstUndecided
	}
	return pass()
}

func errorCode(a catalog.ErrorCode, out engine.Outcome) Result {
	if out.Err == nil {
		return fail("expected error %s, got result %s", a.Code, describe(out.Result()))
	}
	if a.Code == "*" || engine.NormalizeCode(out.Err.Code) == a.Code {
		return pass()
	}
	got := out.Err.Code
	if got == "" {
		got = "(no code)"
	}
	return fail("expected error %s, got %s", a.Code, got)
}

func stringEqual(a catalog.StringEqual, seq ir.Sequence) Result {
	got := seq.StringValue()
	want := a.Expected
	if a.NormalizeSpace {
		got = normalizeSpace(got)
		want = normalizeSpace(want)
	}
	if got == want {
		return pass()
	}
	if a.Numeric && len(seq) == 1 {
		if f, ok := numeric(seq[0]); ok {
			if w, err := strconv.ParseFloat(want, 64); err == nil && floatEqual(f, w) {
				return pass()
			}
		}
	}
	return fail("expected %q, got %q", want, got)
}

func validity(a catalog.Validity, out engine.Outcome) Result {
	valid := out.Valid
	if valid == nil {
		switch {
		case out.Err != nil && out.Err.Kind == engine.KindValidation:
			f := false
			valid = &f
		case out.Err != nil:
			return fail("validation did not complete: %s", out.Err.Error())
		default:
			return undecided("no validation outcome")
		}
	}
	switch a.Expected {
	case "valid":
		if *valid {
			return pass()
		}
		return fail("expected valid, engine reported invalid")
	case "invalid":
		if !*valid {
			return pass()
		}
		return fail("expected invalid, engine reported valid")
	}
	return undecided("expected validity %q cannot be decided", a.Expected)
}

// checked returns the engine evaluation of the expression keyed by id. An
// expression the engine could not evaluate leaves the assertion undecided.
func checked(out engine.Outcome, id int) (ir.Sequence, Result, bool) {
	c, ok := out.Checks[id]
	if !ok {
		return nil, undecided("expression %d was not evaluated", id), false
	}
	if c.Err != nil {
		return nil, undecided("cannot evaluate assertion expression: %s", c.Err.Error()), false
	}
	return c.Sequence, Result{}, true
}

func numeric(it ir.Item) (float64, bool) {
	switch v := it.(type) {
	case ir.Double:
		return float64(v), true
	case ir.Decimal:
		f, err := v.Value.Float64()
		return f, err == nil
	}
	return 0, false
}

func floatEqual(a, b float64) bool {
	if math.IsNaN(a) && math.IsNaN(b) {
		return true
	}
	return a == b
}

func itemEqual(a, b ir.Item) bool {
	if fa, ok := numeric(a); ok {
		fb, ok := numeric(b)
		return ok && floatEqual(fa, fb)
	}
	if na, ok := a.(ir.NodeRef); ok {
		nb, ok := b.(ir.NodeRef)
		return ok && na.Kind == nb.Kind && XMLEqual(na.Markup, nb.Markup)
	}
	if _, ok := b.(ir.NodeRef); ok {
		return false
	}
	if _, ok := numeric(b); ok {
		return false
	}
	return a.StringValue() == b.StringValue()
}

func deepEqual(got, want ir.Sequence) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if !itemEqual(got[i], want[i]) {
			return false
		}
	}
	return true
}

func permutation(got, want ir.Sequence) bool {
	if len(got) != len(want) {
		return false
	}
	used := make([]bool, len(want))
outer:
	for _, g := range got {
		for j, w := range want {
			if !used[j] && itemEqual(g, w) {
				used[j] = true
				continue outer
			}
		}
		return false
	}
	return true
}

// compileRegexp translates XPath regex flags onto Go syntax.
func compileRegexp(pattern, flags string) (*regexp.Regexp, error) {
	var prefix strings.Builder
	for _, f := range flags {
		switch f {
		case 'i', 's', 'm':
			prefix.WriteRune(f)
		case 'x':
			pattern = strings.Join(strings.Fields(pattern), "")
		case 'q':
			pattern = regexp.QuoteMeta(pattern)
		default:
			return nil, fmt.Errorf("unsupported regex flag %q", f)
		}
	}
	if prefix.Len() > 0 {
		pattern = "(?" + prefix.String() + ")" + pattern
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid pattern: %w", err)
	}
	return re, nil
}

func normalizeSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func describe(seq ir.Sequence) string {
	if len(seq) == 0 {
		return "()"
	}
	return strconv.Quote(abbreviate(seq.StringValue()))
}

// abbreviate shortens s to at most 200 bytes, cutting on a rune boundary.
func abbreviate(s string) string {
	const limit = 200
	if len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
