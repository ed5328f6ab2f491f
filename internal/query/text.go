package query

import (
	"strings"
	"unicode"

	"github.com/personas-nlq/backend/internal/persons"
)

// normalizeText folds case and accents and turns punctuation into spaces.
// The result is padded with one space on each side so whole words can be
// matched as " word ".
func normalizeText(s string) string {
	folded := persons.Fold(s)
	cleaned := strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return r
		}
		return ' '
	}, folded)
	return " " + strings.Join(strings.Fields(cleaned), " ") + " "
}

func containsAny(text string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(text, kw) {
			return true
		}
	}
	return false
}

func plural(n int, singular, pluralForm string) string {
	if n == 1 {
		return singular
	}
	return pluralForm
}
