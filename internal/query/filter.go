package query

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/personas-nlq/backend/internal/persons"
)

var (
	minAgePattern   = regexp.MustCompile(`(?:mayor(?:es)? de|mas de)\s+\b(\d{1,3})\b`)
	maxAgePattern   = regexp.MustCompile(`(?:menor(?:es)? de|menos de)\s+\b(\d{1,3})\b`)
	rangeAgePattern = regexp.MustCompile(`entre\s+(?:los\s+)?\b(\d{1,3})\b\s+y\s+(?:los\s+)?\b(\d{1,3})\b`)
	exactAgePattern = regexp.MustCompile(`\b(\d{1,3})\s+anos`)
)

var genderKeywords = map[string][]string{
	persons.GenderFemale:    {" mujer ", " mujeres ", " femenino ", " femenina ", " femeninas ", " chica", " senora"},
	persons.GenderMale:      {" hombre ", " hombres ", " masculino ", " masculinos ", " varon ", " varones ", " chico", " senor "},
	persons.GenderNonBinary: {" no binario ", " no binaria ", " no binarios "},
}

var genderOrder = []string{persons.GenderFemale, persons.GenderMale, persons.GenderNonBinary}

// Criteria are the predicates extracted from a question. Nil bounds are
// not applied. MinAge and MaxAge are exclusive.
type Criteria struct {
	Genders  []string
	MinAge   *int
	MaxAge   *int
	ExactAge *int
	Month    int
	Adult    *bool
}

func (c Criteria) IsEmpty() bool {
	return len(c.Genders) == 0 && c.MinAge == nil && c.MaxAge == nil &&
		c.ExactAge == nil && c.Month == 0 && c.Adult == nil
}

func (c Criteria) needsAge() bool {
	return c.MinAge != nil || c.MaxAge != nil || c.ExactAge != nil || c.Adult != nil
}

// Matches reports whether p satisfies every predicate. Age and month
// predicates reject records without a birth date.
func (c Criteria) Matches(p persons.Person) bool {
	if len(c.Genders) > 0 {
		gender := persons.NormalizeGender(p.Gender)
		found := false
		for _, g := range c.Genders {
			if g == gender {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	if c.needsAge() {
		age, ok := p.AgeValue()
		if !ok {
			return false
		}
		if c.MinAge != nil && age <= *c.MinAge {
			return false
		}
		if c.MaxAge != nil && age >= *c.MaxAge {
			return false
		}
		if c.ExactAge != nil && age != *c.ExactAge {
			return false
		}
		if c.Adult != nil && (age >= 18) != *c.Adult {
			return false
		}
	}

	if c.Month != 0 && (p.BirthMonth == nil || *p.BirthMonth != c.Month) {
		return false
	}

	return true
}

func (c Criteria) Apply(records []persons.Person) []persons.Person {
	out := make([]persons.Person, 0, len(records))
	for _, p := range records {
		if c.Matches(p) {
			out = append(out, p)
		}
	}
	return out
}

// Describe renders the criteria as a short Spanish phrase, empty when no
// predicate applies.
func (c Criteria) Describe() string {
	var parts []string
	if len(c.Genders) > 0 {
		parts = append(parts, "género "+strings.ToLower(strings.Join(c.Genders, " o ")))
	}
	if c.Adult != nil {
		if *c.Adult {
			parts = append(parts, "mayores de edad")
		} else {
			parts = append(parts, "menores de edad")
		}
	}
	switch {
	case c.MinAge != nil && c.MaxAge != nil:
		parts = append(parts, fmt.Sprintf("entre %d y %d años", *c.MinAge+1, *c.MaxAge-1))
	case c.MinAge != nil:
		parts = append(parts, fmt.Sprintf("mayores de %d años", *c.MinAge))
	case c.MaxAge != nil:
		parts = append(parts, fmt.Sprintf("menores de %d años", *c.MaxAge))
	}
	if c.ExactAge != nil {
		parts = append(parts, fmt.Sprintf("con %d años", *c.ExactAge))
	}
	if c.Month != 0 {
		parts = append(parts, "nacidas en "+persons.MonthName(c.Month))
	}
	return strings.Join(parts, ", ")
}

// ParseCriteria extracts gender, age and birth-month predicates from question.
func ParseCriteria(question string) Criteria {
	text := normalizeText(question)
	var c Criteria

	for _, g := range genderOrder {
		if containsAny(text, genderKeywords[g]) {
			c.Genders = append(c.Genders, g)
		}
	}
	// Naming every bucket narrows nothing.
	if len(c.Genders) == len(genderOrder) {
		c.Genders = nil
	}

	switch {
	case strings.Contains(text, " mayores de edad ") || strings.Contains(text, " mayor de edad "):
		adult := true
		c.Adult = &adult
	case strings.Contains(text, " menores de edad ") || strings.Contains(text, " menor de edad "):
		adult := false
		c.Adult = &adult
	}

	comparison := false
	if m := rangeAgePattern.FindStringSubmatch(text); m != nil {
		lo, hi := atoi(m[1]), atoi(m[2])
		if lo > hi {
			lo, hi = hi, lo
		}
		lo, hi = lo-1, hi+1
		c.MinAge, c.MaxAge = &lo, &hi
		comparison = true
	}
	if m := minAgePattern.FindStringSubmatch(text); m != nil && !comparison {
		n := atoi(m[1])
		c.MinAge = &n
	}
	if m := maxAgePattern.FindStringSubmatch(text); m != nil && !comparison {
		n := atoi(m[1])
		c.MaxAge = &n
	}
	comparison = comparison || c.MinAge != nil || c.MaxAge != nil ||
		containsAny(text, []string{" mayor de ", " mayores de ", " mas de ", " menor de ", " menores de ", " menos de "})
	if !comparison {
		if m := exactAgePattern.FindStringSubmatch(text); m != nil {
			n := atoi(m[1])
			c.ExactAge = &n
		}
	}

	for i, name := range persons.MonthNames() {
		if strings.Contains(text, " "+name+" ") {
			c.Month = i + 1
			break
		}
	}
	if c.Month == 0 && strings.Contains(text, " setiembre ") {
		c.Month = 9
	}

	return c
}

// Filter narrows records to those matching the predicates found in
// question. Only predicates whose intent group was detected are applied.
// An empty result is returned as is; callers decide whether to widen.
func Filter(question string, records []persons.Person, analysis Analysis) []persons.Person {
	return scopedCriteria(question, analysis).Apply(records)
}

func scopedCriteria(question string, analysis Analysis) Criteria {
	c := ParseCriteria(question)
	if !analysis.Has(IntentGenderFilter) {
		c.Genders = nil
	}
	if !analysis.Has(IntentAgeFilter) {
		c.MinAge, c.MaxAge, c.ExactAge, c.Adult = nil, nil, nil, nil
	}
	if !analysis.Has(IntentTemporalFilter) {
		c.Month = 0
	}
	return c
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}
