// Package format renders market values for people. Unknown values always
// render as Unknown, never as zero.
package format

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/shopspring/decimal"

	"github.com/blockclass/marketview/internal/domain"
)

// Unknown is shown in place of a missing value.
const Unknown = "—"

// Excerpt lengths for the preferred and the fallback-language description.
const (
	DescriptionExcerpt         = 420
	FallbackDescriptionExcerpt = 320
)

var shortUnits = []struct {
	exp    int32
	suffix string
}{
	{12, "T"},
	{9, "B"},
	{6, "M"},
	{3, "K"},
}

// Short abbreviates large magnitudes with two decimals: 1.23T, 45.60B,
// 7.00M, 8.90K. Smaller values are printed in full.
func Short(v *float64) string {
	if v == nil {
		return Unknown
	}
	d := decimal.NewFromFloat(*v)
	abs := d.Abs()
	for _, u := range shortUnits {
		unit := decimal.New(1, u.exp)
		if abs.GreaterThanOrEqual(unit) {
			return d.Div(unit).StringFixed(2) + u.suffix
		}
	}
	return Number(v, 3)
}

// Number prints v with thousands separators and at most places decimals.
func Number(v *float64, places int32) string {
	if v == nil {
		return Unknown
	}
	return group(decimal.NewFromFloat(*v).Round(places).String())
}

// Price prints a USD price. Prices of one dollar or more get cents; smaller
// prices keep up to eight decimals so sub-cent assets stay readable.
func Price(v *float64) string {
	if v == nil {
		return Unknown
	}
	d := decimal.NewFromFloat(*v)
	if d.Abs().GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return "$" + group(d.StringFixed(2))
	}
	return "$" + d.Round(8).String()
}

// Percent prints v as a percentage with two decimals.
func Percent(v *float64) string {
	if v == nil {
		return Unknown
	}
	return decimal.NewFromFloat(*v).StringFixed(2) + "%"
}

// Rank prints a market cap rank as #n.
func Rank(v *int) string {
	if v == nil || *v <= 0 {
		return Unknown
	}
	return "#" + decimal.NewFromInt(int64(*v)).String()
}

// Date prints the UTC calendar date of t.
func Date(t *time.Time) string {
	if t == nil || t.IsZero() {
		return Unknown
	}
	return t.UTC().Format(time.DateOnly)
}

// Timestamp prints a last-updated time.
func Timestamp(t *time.Time) string {
	if t == nil || t.IsZero() {
		return Unknown
	}
	return t.UTC().Format("2006-01-02 15:04:05 MST")
}

// Excerpt cuts s to at most n runes, marking the cut with an ellipsis.
func Excerpt(s string, n int) string {
	s = strings.TrimSpace(s)
	if n <= 0 || utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return strings.TrimRightFunc(string(runes[:n]), func(r rune) bool { return r == ' ' }) + "…"
}

// Consensus prints the consensus label, flagging indicative guesses.
func Consensus(c domain.Consensus) string {
	switch c.Label {
	case domain.ConsensusPoS, domain.ConsensusPoW:
		if c.Indicative {
			return string(c.Label) + " (indicative)"
		}
		return string(c.Label)
	default:
		return Unknown
	}
}

// group inserts thousands separators into the integer part of a decimal
// string.
func group(s string) string {
	sign := ""
	if strings.HasPrefix(s, "-") {
		sign, s = "-", s[1:]
	}
	intPart, frac, hasFrac := strings.Cut(s, ".")
	if len(intPart) > 3 {
		var b strings.Builder
		lead := len(intPart) % 3
		if lead > 0 {
			b.WriteString(intPart[:lead])
		}
		for i := lead; i < len(intPart); i += 3 {
			if b.Len() > 0 {
				b.WriteByte(',')
			}
			b.WriteString(intPart[i : i+3])
		}
		intPart = b.String()
	}
	if hasFrac {
		return sign + intPart + "." + frac
	}
	return sign + intPart
}
