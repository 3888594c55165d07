package ir

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/cockroachdb/apd/v3"
)

// FormatDouble renders a double the way XPath casts xs:double to xs:string.
//
// Values with magnitude in [1e-6, 1e6) use plain decimal notation with no
// trailing zeros. Everything else uses a mantissa with at least one
// fractional digit and an unpadded exponent: 1.0E6, 1.5E-7, -2.5E10.
func FormatDouble(f float64) string {
	switch {
	case math.IsNaN(f):
		return "NaN"
	case math.IsInf(f, 1):
		return "INF"
	case math.IsInf(f, -1):
		return "-INF"
	case f == 0:
		if math.Signbit(f) {
			return "-0"
		}
		return "0"
	}

	abs := math.Abs(f)
	if abs >= 1e-6 && abs < 1e6 {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}

	// 'E' yields forms like "1E+06" and "1.5E-07"
	s := strconv.FormatFloat(f, 'E', -1, 64)
	mant, exp, _ := strings.Cut(s, "E")
	if !strings.Contains(mant, ".") {
		mant += ".0"
	}
	n, err := strconv.Atoi(exp)
	if err != nil {
		return s
	}
	return mant + "E" + strconv.Itoa(n)
}

// FormatDecimal renders an exact decimal in canonical form: no exponent,
// no trailing fractional zeros, no decimal point for integral values, and
// no negative zero.
func FormatDecimal(d *apd.Decimal) string {
	var r apd.Decimal
	r.Reduce(d)
	if r.IsZero() {
		return "0"
	}
	return r.Text('f')
}

// ParseDecimal parses an exact decimal literal.
func ParseDecimal(s string) (*apd.Decimal, error) {
	d, _, err := apd.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("invalid decimal %q: %w", s, err)
	}
	if d.Form != apd.Finite {
		return nil, fmt.Errorf("invalid decimal %q: not finite", s)
	}
	return d, nil
}

// CanonicalNumber re-renders a numeric literal in canonical form.
// Integer and decimal literals go through FormatDecimal; literals with an
// exponent are doubles and go through FormatDouble. Anything else is
// returned unchanged.
func CanonicalNumber(s string) string {
	t := strings.TrimSpace(s)
	if t == "" {
		return s
	}
	if strings.ContainsAny(t, "eE") || t == "NaN" || t == "INF" || t == "-INF" {
		switch t {
		case "INF":
			return "INF"
		case "-INF":
			return "-INF"
		}
		f, err := strconv.ParseFloat(t, 64)
		if err != nil {
			return s
		}
		return FormatDouble(f)
	}
	d, err := ParseDecimal(t)
	if err != nil {
		return s
	}
	return FormatDecimal(d)
}
