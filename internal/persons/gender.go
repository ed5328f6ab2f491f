package persons

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

const (
	GenderMale        = "Masculino"
	GenderFemale      = "Femenino"
	GenderNonBinary   = "No binario"
	GenderUndisclosed = "Prefiero no reportar"
	GenderUnspecified = "No especificado"
)

var genderSynonyms = map[string][]string{
	GenderMale:        {"masculino", "m", "hombre", "male", "varon", "h"},
	GenderFemale:      {"femenino", "f", "mujer", "female"},
	GenderNonBinary:   {"no binario", "no-binario", "nobinario", "non-binary", "nb"},
	GenderUndisclosed: {"prefiero no reportar", "prefiero no decir", "no reporta"},
}

// NormalizeGender maps free-text gender values onto the canonical buckets.
// Values outside every synonym set are returned trimmed, as stored.
func NormalizeGender(gender string) string {
	folded := Fold(gender)
	if folded == "" {
		return GenderUnspecified
	}
	for canonical, synonyms := range genderSynonyms {
		for _, s := range synonyms {
			if folded == s {
				return canonical
			}
		}
	}
	return strings.TrimSpace(gender)
}

// Fold lowercases s, strips diacritics and trims surrounding space.
func Fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}
	return strings.TrimSpace(strings.ToLower(folded))
}
