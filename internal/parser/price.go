package parser

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode"
)

// Either a space-grouped number ("12 999,90") or a plain run of digits with
// separators ("12999", "1,299.99").
var priceToken = regexp.MustCompile(`\d{1,3}(?: \d{3})+(?:[.,]\d{1,2})?|\d+(?:[.,]\d+)*`)

// ParsePrice extracts the first digit-grouped number from text such as
// "от 12 999 ₽". Text without a positive number is ErrMalformedPrice.
func ParsePrice(text string) (float64, error) {
	normalized := strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return ' '
		}
		return r
	}, text)

	token := priceToken.FindString(normalized)
	if token == "" {
		return 0, fmt.Errorf("%w: %q", ErrMalformedPrice, text)
	}

	value, err := strconv.ParseFloat(normalizeSeparators(strings.ReplaceAll(token, " ", "")), 64)
	if err != nil || value <= 0 {
		return 0, fmt.Errorf("%w: %q", ErrMalformedPrice, text)
	}
	return value, nil
}

func normalizeSeparators(s string) string {
	lastComma := strings.LastIndex(s, ",")
	lastDot := strings.LastIndex(s, ".")

	switch {
	case lastComma >= 0 && lastDot >= 0:
		// the later separator is the decimal point
		if lastComma > lastDot {
			s = strings.ReplaceAll(s, ".", "")
			return strings.Replace(s, ",", ".", 1)
		}
		return strings.ReplaceAll(s, ",", "")
	case lastComma >= 0:
		if strings.Count(s, ",") == 1 && isDecimalTail(s[lastComma+1:]) {
			return strings.Replace(s, ",", ".", 1)
		}
		return strings.ReplaceAll(s, ",", "")
	case lastDot >= 0:
		if strings.Count(s, ".") == 1 && isDecimalTail(s[lastDot+1:]) {
			return s
		}
		return strings.ReplaceAll(s, ".", "")
	}
	return s
}

func isDecimalTail(s string) bool {
	return len(s) == 1 || len(s) == 2
}
