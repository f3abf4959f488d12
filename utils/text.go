package utils

import (
	"regexp"
	"strconv"
	"strings"
	"unicode"
)

// amountRegexp captures the first number, including grouping separators
// such as "3 000 000", "1,200.50" or "3.500.000".
var amountRegexp = regexp.MustCompile(`\d[\d\s\x{00a0}.,]*\d|\d`)

// NormaliseText strips leading/trailing whitespace and collapses internal whitespace.
func NormaliseText(s string) string {
	fields := strings.FieldsFunc(s, unicode.IsSpace)
	return strings.Join(fields, " ")
}

// ParseAmount extracts the first numeric value from free text. It returns 0
// when nothing numeric is present.
//
//	"3 000 000 Kč" → 3000000
//	"$1,200.50"    → 1200.5
//	"12,5 m²"      → 12.5
func ParseAmount(raw string) float64 {
	match := amountRegexp.FindString(raw)
	if match == "" {
		return 0
	}
	match = strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, match)

	lastDot := strings.LastIndex(match, ".")
	lastComma := strings.LastIndex(match, ",")

	switch {
	case lastDot >= 0 && lastComma >= 0:
		// Both present: the later one is the decimal separator.
		if lastDot > lastComma {
			match = strings.ReplaceAll(match, ",", "")
		} else {
			match = strings.ReplaceAll(match, ".", "")
			match = strings.Replace(match, ",", ".", 1)
		}
	case lastComma >= 0:
		match = normaliseSingleSeparator(match, ",")
	case lastDot >= 0:
		match = normaliseSingleSeparator(match, ".")
	}

	val, err := strconv.ParseFloat(match, 64)
	if err != nil {
		return 0
	}
	return val
}

// normaliseSingleSeparator treats sep as a thousands separator when it repeats
// or is followed by exactly three digits, and as the decimal point otherwise.
func normaliseSingleSeparator(s, sep string) string {
	if strings.Count(s, sep) > 1 || len(s)-strings.LastIndex(s, sep)-1 == 3 {
		return strings.ReplaceAll(s, sep, "")
	}
	return strings.Replace(s, sep, ".", 1)
}

// ParseCount extracts the leading integer from text such as "3+kk" or "4 rooms".
func ParseCount(raw string) int {
	var digits strings.Builder
	for _, r := range raw {
		if unicode.IsDigit(r) {
			digits.WriteRune(r)
			continue
		}
		if digits.Len() > 0 {
			break
		}
	}
	n, err := strconv.Atoi(digits.String())
	if err != nil {
		return 0
	}
	return n
}
