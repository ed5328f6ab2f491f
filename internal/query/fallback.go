package query

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/personas-nlq/backend/internal/persons"
)

var (
	documentNumberPattern = regexp.MustCompile(`\b\d{6,10}\b`)
	nameSearchPattern     = regexp.MustCompile(`(?:buscar|busca|llamada|llamado|nombre)\s+(\w+)`)
)

const maxNameMatches = 5

var nameStopwords = map[string]bool{
	"de": true, "del": true, "la": true, "el": true, "los": true, "las": true, "que": true, "a": true,
}

type fallbackRule struct {
	name   string
	answer func(text string, c Criteria, records []persons.Person, s Statistics) (string, bool)
}

// Rules run in order; the first one producing an answer wins.
var fallbackRules = []fallbackRule{
	{"document_lookup", fallbackDocument},
	{"name_search", fallbackName},
	{"filtered_count", fallbackFilteredCount},
	{"gender_distribution", fallbackGenderDistribution},
	{"age_statistics", fallbackAgeStatistics},
	{"youngest", fallbackYoungest},
	{"oldest", fallbackOldest},
	{"last_registered", fallbackLastRegistered},
	{"total_count", fallbackTotal},
}

// Fallback answers question from records with deterministic keyword rules.
// It reports the rule that matched, or false when none applies.
func Fallback(question string, records []persons.Person) (answer, rule string, ok bool) {
	if len(records) == 0 {
		return "No hay personas registradas en el sistema actualmente.", "empty_dataset", true
	}

	text := normalizeText(question)
	criteria := ParseCriteria(question)
	stats := Summarize(records)

	for _, r := range fallbackRules {
		if answer, ok := r.answer(text, criteria, records, stats); ok {
			return answer, r.name, true
		}
	}
	return "", "", false
}

func fallbackDocument(text string, _ Criteria, records []persons.Person, _ Statistics) (string, bool) {
	if !containsAny(text, []string{" documento ", " cedula ", " identificacion "}) {
		return "", false
	}
	doc := documentNumberPattern.FindString(text)
	if doc == "" {
		return "", false
	}
	for _, p := range records {
		if p.DocumentID == doc {
			return fmt.Sprintf("Se encontró a %s con documento %s. Género: %s, Correo: %s.",
				p.FullName, doc, p.Gender, orDash(p.Email)), true
		}
	}
	return fmt.Sprintf("No se encontró ninguna persona con el número de documento %s.", doc), true
}

func fallbackName(text string, _ Criteria, records []persons.Person, _ Statistics) (string, bool) {
	m := nameSearchPattern.FindStringSubmatch(text)
	if m == nil || nameStopwords[m[1]] {
		return "", false
	}
	name := m[1]

	var matches []persons.Person
	for _, p := range records {
		if strings.Contains(persons.Fold(p.FullName), name) {
			matches = append(matches, p)
		}
	}

	switch len(matches) {
	case 0:
		return fmt.Sprintf("No se encontraron personas con el nombre \"%s\".", name), true
	case 1:
		return fmt.Sprintf("Se encontró a %s (Doc: %s).", matches[0].FullName, matches[0].DocumentID), true
	}

	var b strings.Builder
	b.WriteString(fmt.Sprintf("Se encontraron %d personas con el nombre \"%s\":", len(matches), name))
	for i, p := range matches {
		if i == maxNameMatches {
			b.WriteString(fmt.Sprintf("\n... y %d más.", len(matches)-maxNameMatches))
			break
		}
		b.WriteString(fmt.Sprintf("\n• %s (Doc: %s)", p.FullName, p.DocumentID))
	}
	return b.String(), true
}

// fallbackFilteredCount covers gender, age-threshold and birth-month counts,
// alone or combined.
func fallbackFilteredCount(text string, c Criteria, records []persons.Person, _ Statistics) (string, bool) {
	if c.IsEmpty() {
		return "", false
	}
	if !containsAny(text, []string{" cuantas ", " cuantos ", " cantidad ", " numero ", " total ", " hay ", " cuenta "}) &&
		!strings.Contains(text, " nacieron ") {
		return "", false
	}

	n := len(c.Apply(records))
	return fmt.Sprintf("Hay %d %s (%s), %.1f%% del total de %d.",
		n, plural(n, "persona", "personas"), c.Describe(), percentage(n, len(records)), len(records)), true
}

func fallbackGenderDistribution(text string, _ Criteria, _ []persons.Person, s Statistics) (string, bool) {
	if !containsAny(text, []string{" genero ", " generos ", " sexo "}) {
		return "", false
	}
	return answerGenderDistribution(s), true
}

func fallbackAgeStatistics(text string, _ Criteria, _ []persons.Person, s Statistics) (string, bool) {
	if !containsAny(text, []string{" edad ", " edades ", " promedio ", " media ", " estadistic"}) ||
		containsAny(text, []string{" minima ", " maxima "}) {
		return "", false
	}
	if s.Age.Count == 0 {
		return "No se pueden calcular estadísticas de edad porque no hay fechas de nacimiento válidas.", true
	}
	return fmt.Sprintf("Estadísticas de edad basadas en %d registros:\n• Promedio: %.1f años\n• Edad mínima: %d años\n• Edad máxima: %d años",
		s.Age.Count, s.Age.Mean, s.Age.Min, s.Age.Max), true
}

func fallbackYoungest(text string, _ Criteria, _ []persons.Person, s Statistics) (string, bool) {
	if !containsAny(text, []string{" joven ", " menor ", " edad minima ", " mas joven"}) {
		return "", false
	}
	return answerYoungest(s), true
}

func fallbackOldest(text string, _ Criteria, _ []persons.Person, s Statistics) (string, bool) {
	if !containsAny(text, []string{" mayor ", " viejo ", " vieja ", " edad maxima ", " anciano"}) {
		return "", false
	}
	return answerOldest(s), true
}

func fallbackLastRegistered(text string, _ Criteria, _ []persons.Person, s Statistics) (string, bool) {
	if !containsAny(text, []string{" ultima ", " ultimo ", " reciente ", " recientemente "}) {
		return "", false
	}
	return answerLastRegistered(s), true
}

func fallbackTotal(text string, _ Criteria, _ []persons.Person, s Statistics) (string, bool) {
	if !containsAny(text, []string{" total ", " cuantas ", " cuantos ", " cantidad "}) {
		return "", false
	}
	return fmt.Sprintf("En el sistema hay registradas %d %s en total.", s.Total, plural(s.Total, "persona", "personas")), true
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
