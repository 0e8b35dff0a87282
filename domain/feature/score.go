package feature

import (
	"strings"
	"unicode/utf8"
)

// KeywordScore rates how well a title matches a keyword query. An exact match
// scores 1.0; a substring match decays with position but never below 0.2; a
// non-match scores 0.1 so keyword hits still rank below any real match.
func KeywordScore(query, title string) float64 {
	q := strings.ToLower(strings.TrimSpace(query))
	t := strings.ToLower(strings.TrimSpace(title))
	if q == "" || t == "" {
		return 0.1
	}
	if q == t {
		return 1.0
	}
	if pos := strings.Index(t, q); pos >= 0 {
		// Position counts characters, not bytes, so CJK titles decay at the
		// same rate as ASCII ones.
		runePos := utf8.RuneCountInString(t[:pos])
		score := 0.9 / float64(1+runePos)
		if score < 0.2 {
			return 0.2
		}
		return score
	}
	return 0.1
}
