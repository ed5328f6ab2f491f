package query

import (
	"fmt"
	"strings"

	"github.com/personas-nlq/backend/internal/persons"
)

const registeredLayout = "02/01/2006 15:04"

// precomputedFunc answers a canonical question from the full dataset.
type precomputedFunc func(stats Statistics) string

type precomputedQuestion struct {
	question string
	answer   precomputedFunc
}

var precomputedQuestions = []precomputedQuestion{
	{"¿Cuántas personas están registradas en total?", answerTotal},
	{"¿Quién es la persona más joven?", answerYoungest},
	{"¿Quién es la persona mayor?", answerOldest},
	{"¿Cuántas mujeres hay registradas?", answerGenderCount(persons.GenderFemale, "femenino")},
	{"¿Cuántos hombres hay registrados?", answerGenderCount(persons.GenderMale, "masculino")},
	{"¿Cuál es el promedio de edad?", answerAverageAge},
	{"¿Quién fue la última persona registrada?", answerLastRegistered},
	{"¿Cuál es la distribución por género?", answerGenderDistribution},
	{"¿Cuántas personas son mayores de edad?", answerAdults},
	{"¿En qué mes nacen más personas?", answerTopMonth},
}

// Precomputed answers a fixed set of canonical questions without the LLM.
type Precomputed struct {
	table     map[string]precomputedFunc
	questions []string
}

func NewPrecomputed() *Precomputed {
	p := &Precomputed{table: make(map[string]precomputedFunc, len(precomputedQuestions))}
	for _, q := range precomputedQuestions {
		p.table[NormalizeQuestion(q.question)] = q.answer
		p.questions = append(p.questions, q.question)
	}
	return p
}

// Questions lists the canonical questions in their display form.
func (p *Precomputed) Questions() []string {
	out := make([]string, len(p.questions))
	copy(out, p.questions)
	return out
}

// Answer returns the canned answer when question matches a canonical
// question after normalization.
func (p *Precomputed) Answer(question string, records []persons.Person) (string, bool) {
	fn, ok := p.table[NormalizeQuestion(question)]
	if !ok {
		return "", false
	}
	return fn(Summarize(records)), true
}

// NormalizeQuestion trims, strips ¿?¡! marks, collapses whitespace and
// folds case and accents.
func NormalizeQuestion(q string) string {
	q = strings.Map(func(r rune) rune {
		switch r {
		case '¿', '?', '¡', '!':
			return ' '
		}
		return r
	}, q)
	return strings.Join(strings.Fields(persons.Fold(q)), " ")
}

func answerTotal(s Statistics) string {
	if s.Total == 1 {
		return "Hay 1 persona registrada en total."
	}
	return fmt.Sprintf("Hay %d personas registradas en total.", s.Total)
}

func answerYoungest(s Statistics) string {
	if s.Youngest == nil {
		return "No se puede determinar la persona más joven porque no hay fechas de nacimiento válidas."
	}
	return fmt.Sprintf("La persona más joven registrada es %s con %d años.", s.Youngest.Name, *s.Youngest.Age)
}

func answerOldest(s Statistics) string {
	if s.Oldest == nil {
		return "No se puede determinar la persona mayor porque no hay fechas de nacimiento válidas."
	}
	return fmt.Sprintf("La persona mayor registrada es %s con %d años.", s.Oldest.Name, *s.Oldest.Age)
}

func answerGenderCount(gender, label string) precomputedFunc {
	return func(s Statistics) string {
		count, pct := s.GenderCount(gender)
		return fmt.Sprintf("Hay %d %s de género %s %s (%.1f%% del total).",
			count, plural(count, "persona", "personas"), label,
			plural(count, "registrada", "registradas"), pct)
	}
}

func answerAverageAge(s Statistics) string {
	if s.Age.Count == 0 {
		return "No se pueden calcular estadísticas de edad porque no hay fechas de nacimiento válidas."
	}
	return fmt.Sprintf("El promedio de edad es %.1f años, calculado sobre %d %s con fecha de nacimiento válida.",
		s.Age.Mean, s.Age.Count, plural(s.Age.Count, "persona", "personas"))
}

func answerLastRegistered(s Statistics) string {
	if s.LastRegistered == nil {
		return "No se puede determinar la última persona registrada."
	}
	return fmt.Sprintf("La última persona registrada fue %s el %s.",
		s.LastRegistered.Name, s.LastRegistered.RegisteredAt.Format(registeredLayout))
}

func answerGenderDistribution(s Statistics) string {
	if s.Total == 0 {
		return "No hay personas registradas en el sistema actualmente."
	}
	var b strings.Builder
	b.WriteString("La distribución por género es:")
	for _, g := range s.Genders {
		b.WriteString(fmt.Sprintf("\n• %s: %d %s (%.1f%%)", g.Label, g.Count, plural(g.Count, "persona", "personas"), g.Percentage))
	}
	return b.String()
}

func answerAdults(s Statistics) string {
	return fmt.Sprintf("Hay %d %s mayores de edad (%.1f%% del total).",
		s.Adults, plural(s.Adults, "persona", "personas"), percentage(s.Adults, s.Total))
}

func answerTopMonth(s Statistics) string {
	top, ok := s.TopBirthMonth()
	if !ok {
		return "No se puede determinar el mes con más nacimientos porque no hay fechas de nacimiento válidas."
	}
	return fmt.Sprintf("El mes con más nacimientos es %s, con %d %s.",
		top.Label, top.Count, plural(top.Count, "persona", "personas"))
}
