package intake

import (
	"math"
	"regexp"
	"strconv"
	"strings"
)

var (
	amountJunkRe = regexp.MustCompile(`[^0-9.,-]`)
	unitNumberRe = regexp.MustCompile(`^[A-Za-z0-9-]{3,}$`)
	unsafeCharRe = regexp.MustCompile(`[^A-Za-z0-9._-]`)
)

// ParseAmount extracts a money amount from free text. Everything except
// digits, '.', ',' and '-' is stripped. When both separators occur the
// rightmost one is the decimal mark and the other is thousands noise; a
// lone ',' is treated as the decimal mark. The result is rounded to cents.
func ParseAmount(s string) (float64, bool) {
	s = strings.TrimSpace(amountJunkRe.ReplaceAllString(s, ""))
	if s == "" {
		return 0, false
	}
	comma := strings.LastIndex(s, ",")
	dot := strings.LastIndex(s, ".")
	switch {
	case comma >= 0 && dot >= 0:
		if comma > dot {
			s = strings.ReplaceAll(s, ".", "")
			last := strings.LastIndex(s, ",")
			s = strings.ReplaceAll(s[:last], ",", "") + "." + s[last+1:]
		} else {
			s = strings.ReplaceAll(s, ",", "")
		}
	case comma >= 0:
		s = strings.Replace(s, ",", ".", 1)
	}
	n, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(n) || math.IsInf(n, 0) {
		return 0, false
	}
	return math.Round(n*100) / 100, true
}

// FirstLine collapses multi-line text to its first non-blank trimmed line.
func FirstLine(s string) string {
	for _, line := range strings.FieldsFunc(s, func(r rune) bool { return r == '\n' || r == '\r' }) {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			return trimmed
		}
	}
	return ""
}

// NormalizeUnit validates and case-normalizes a unit number token.
func NormalizeUnit(s string) (string, bool) {
	s = strings.TrimSpace(s)
	if !unitNumberRe.MatchString(s) {
		return "", false
	}
	return strings.ToUpper(s), true
}

// SanitizeName reduces a string to the safe character set used in storage
// object names.
func SanitizeName(s string) string {
	return unsafeCharRe.ReplaceAllString(s, "_")
}
