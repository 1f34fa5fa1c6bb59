package render

import (
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/shopspring/decimal"
	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/ehr/fhirquery/internal/search/domain"
	"github.com/ehr/fhirquery/internal/search/param"
)

// normalize folds case and strips accents, matching how string values are
// stored in str_value_lcase.
func normalize(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	return cases.Fold().String(out)
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}

// dateCond compares the indexed range [start, end] with one bound.
func (v *visitor) dateCond(start, end string, bd domain.DateBound) string {
	lo, hi := bd.Value.LowerBound(), bd.Value.UpperBound()
	switch bd.Prefix {
	case param.PrefixNe:
		return fmt.Sprintf("NOT (%s >= %s AND %s <= %s)", start, v.st.arg(lo), end, v.st.arg(hi))
	case param.PrefixGt:
		return fmt.Sprintf("%s > %s", end, v.st.arg(hi))
	case param.PrefixGe:
		return fmt.Sprintf("%s >= %s", end, v.st.arg(lo))
	case param.PrefixLt:
		return fmt.Sprintf("%s < %s", start, v.st.arg(lo))
	case param.PrefixLe:
		return fmt.Sprintf("%s <= %s", start, v.st.arg(hi))
	case param.PrefixSa:
		return fmt.Sprintf("%s > %s", start, v.st.arg(hi))
	case param.PrefixEb:
		return fmt.Sprintf("%s < %s", end, v.st.arg(lo))
	case param.PrefixAp:
		lo, hi = approximate(lo, hi, v.r.now())
		return fmt.Sprintf("(%s <= %s AND %s >= %s)", start, v.st.arg(hi), end, v.st.arg(lo))
	default:
		return fmt.Sprintf("(%s >= %s AND %s <= %s)", start, v.st.arg(lo), end, v.st.arg(hi))
	}
}

// approximate widens [lo, hi] on each side by a tenth of that side's
// distance to now.
func approximate(lo, hi, now time.Time) (time.Time, time.Time) {
	return lo.Add(-gap(lo, now)), hi.Add(gap(hi, now))
}

func gap(t, now time.Time) time.Duration {
	d := now.Sub(t)
	if d < 0 {
		d = -d
	}
	return d / 10
}

var tenth = decimal.New(1, -1)

// numberCond compares col with n. Equality covers the implicit precision
// range of n.
func (v *visitor) numberCond(col string, prefix param.Prefix, n decimal.Decimal) string {
	switch prefix {
	case param.PrefixGt, param.PrefixSa:
		return fmt.Sprintf("%s > %s", col, v.st.arg(n))
	case param.PrefixGe:
		return fmt.Sprintf("%s >= %s", col, v.st.arg(n))
	case param.PrefixLt, param.PrefixEb:
		return fmt.Sprintf("%s < %s", col, v.st.arg(n))
	case param.PrefixLe:
		return fmt.Sprintf("%s <= %s", col, v.st.arg(n))
	case param.PrefixAp:
		delta := n.Abs().Mul(tenth)
		return fmt.Sprintf("%s BETWEEN %s AND %s", col, v.st.arg(n.Sub(delta)), v.st.arg(n.Add(delta)))
	case param.PrefixNe:
		lo, hi := param.NumberRange(n)
		return fmt.Sprintf("NOT (%s >= %s AND %s < %s)", col, v.st.arg(lo), col, v.st.arg(hi))
	default:
		lo, hi := param.NumberRange(n)
		return fmt.Sprintf("(%s >= %s AND %s < %s)", col, v.st.arg(lo), col, v.st.arg(hi))
	}
}

// tokenAlias is the alias of the common_token_values row joined to the
// token rows aliased a.
func tokenAlias(a string) string { return a + "_ctv" }

func tokenJoin(a string) string {
	t := tokenAlias(a)
	return fmt.Sprintf(" JOIN %s AS %s ON %s.common_token_value_id = %s.common_token_value_id", commonTokenValues, t, t, a)
}

func canonicalAlias(a string) string { return a + "_ccv" }

func canonicalJoin(a string) string {
	c := canonicalAlias(a)
	return fmt.Sprintf(" JOIN %s AS %s ON %s.canonical_id = %s.canonical_id", commonCanonicalValues, c, c, a)
}
