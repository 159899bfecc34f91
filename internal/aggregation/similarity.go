package aggregation

import (
	"slices"
	"strings"
	"unicode"
)

// modelMismatchCeiling caps the score of names whose model numbers differ:
// "Ryzen 5 7600" and "Ryzen 5 7600X" are one edit apart but different parts.
const modelMismatchCeiling = 0.5

// NormalizeName lowercases, drops punctuation and collapses whitespace.
func NormalizeName(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	for _, r := range strings.ToLower(name) {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r):
			b.WriteRune(r)
		case unicode.IsSpace(r):
			b.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// Levenshtein is the rune-level edit distance between a and b.
func Levenshtein(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	if len(ra) == 0 {
		return len(rb)
	}
	if len(rb) == 0 {
		return len(ra)
	}

	prev := make([]int, len(rb)+1)
	curr := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}

	for i := 1; i <= len(ra); i++ {
		curr[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			curr[j] = min(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}

	return prev[len(rb)]
}

// Similarity scores two names in [0, 1] as 1 - editDistance / len(longer)
// over their normalized forms.
func Similarity(a, b string) float64 {
	na, nb := NormalizeName(a), NormalizeName(b)

	longer := max(len([]rune(na)), len([]rune(nb)))
	if longer == 0 {
		return 1
	}

	score := 1 - float64(Levenshtein(na, nb))/float64(longer)
	if modelsDiffer(na, nb) {
		score = min(score, modelMismatchCeiling)
	}
	return score
}

// modelsDiffer reports whether two normalized names carry different model
// numbers. Names that only differ in spacing never do.
func modelsDiffer(na, nb string) bool {
	if strings.ReplaceAll(na, " ", "") == strings.ReplaceAll(nb, " ", "") {
		return false
	}
	return !slices.Equal(modelTokens(na), modelTokens(nb))
}

// maxDetachedSuffix is the longest letter run still read as part of the
// preceding number when a space separates them: "16 gb", "4060 ti".
const maxDetachedSuffix = 2

// modelTokens are the digit runs of a normalized name, each joined with the
// letters that follow it when they are attached ("7600x") or short enough
// to be a unit or suffix ("16 gb"). "rtx 4070" and "rtx4070" both yield
// "4070"; "7600 box" yields "7600" while "7600x box" yields "7600x".
func modelTokens(normalized string) []string {
	runes := []rune(normalized)
	var tokens []string

	for i := 0; i < len(runes); {
		if !unicode.IsDigit(runes[i]) {
			i++
			continue
		}

		start := i
		for i < len(runes) && unicode.IsDigit(runes[i]) {
			i++
		}
		token := string(runes[start:i])

		j := i
		detached := j < len(runes) && runes[j] == ' '
		if detached {
			j++
		}
		end := j
		for end < len(runes) && unicode.IsLetter(runes[end]) {
			end++
		}
		if end > j && (!detached || end-j <= maxDetachedSuffix) {
			token += string(runes[j:end])
			i = end
		}

		tokens = append(tokens, token)
	}
	return tokens
}
