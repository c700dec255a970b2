package aggregator

import (
	"math"
	"strconv"
	"strings"
	"unicode"
)

// ParseLocaleNumber parses numbers written with either separator convention: space or dot
// thousands with comma decimals ("7 702,40", "1.234,5") as well as comma thousands with dot
// decimals ("1,234.50"). Trailing units are ignored ("12 шт" is 12).
func ParseLocaleNumber(s string) (float64, bool) {
	s = strings.Map(func(r rune) rune {
		if r == '\u00a0' || r == '\u202f' || r == '\u2009' || r == '\t' {
			return ' '
		}
		return r
	}, s)

	// skip leading currency or labels
	start := strings.IndexFunc(s, func(r rune) bool { return unicode.IsDigit(r) || r == '-' })
	if start < 0 {
		return 0, false
	}
	s = s[start:]

	var b strings.Builder
	for i, r := range s {
		if unicode.IsDigit(r) || r == '.' || r == ',' || (r == '-' && i == 0) {
			b.WriteRune(r)
			continue
		}
		if r == ' ' {
			continue
		}
		break
	}
	num := strings.Trim(b.String(), ".,")

	lastComma := strings.LastIndex(num, ",")
	lastDot := strings.LastIndex(num, ".")
	switch {
	case lastComma >= 0 && lastDot >= 0:
		if lastComma > lastDot {
			num = strings.ReplaceAll(num, ".", "")
			num = strings.Replace(num, ",", ".", 1)
		} else {
			num = strings.ReplaceAll(num, ",", "")
		}
	case lastComma >= 0:
		if strings.Count(num, ",") > 1 {
			num = strings.ReplaceAll(num, ",", "")
		} else {
			num = strings.Replace(num, ",", ".", 1)
		}
	case lastDot >= 0:
		if strings.Count(num, ".") > 1 {
			num = strings.ReplaceAll(num, ".", "")
		}
	}

	v, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// FormatDecimal renders the canonical two-place decimal form ("7702.40")
func FormatDecimal(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// numberValue converts a JSON number or locale string into a rounded decimal
func numberValue(v interface{}) *float64 {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case int:
		f = float64(n)
	case string:
		parsed, ok := ParseLocaleNumber(n)
		if !ok {
			return nil
		}
		f = parsed
	default:
		return nil
	}
	f = round2(f)
	return &f
}
