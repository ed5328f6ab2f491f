package persons

import "time"

const (
	RangeMinor         = "Menor de edad"
	RangeUncategorized = "Sin categoría"
)

type ageBand struct {
	min, max int
	label    string
}

// ageBands are inclusive and checked in order; the first match wins.
var ageBands = []ageBand{
	{0, 17, RangeMinor},
	{18, 25, "Joven (18-25)"},
	{26, 35, "Adulto joven (26-35)"},
	{36, 50, "Adulto (36-50)"},
	{51, 65, "Adulto maduro (51-65)"},
	{66, 999, "Adulto mayor (65+)"},
}

var monthNames = [...]string{
	"enero", "febrero", "marzo", "abril", "mayo", "junio",
	"julio", "agosto", "septiembre", "octubre", "noviembre", "diciembre",
}

// AgeRanges lists the band labels in ascending order.
func AgeRanges() []string {
	labels := make([]string, len(ageBands))
	for i, band := range ageBands {
		labels[i] = band.label
	}
	return labels
}

// MonthName returns the Spanish name for a month number 1-12.
func MonthName(month int) string {
	if month < 1 || month > 12 {
		return ""
	}
	return monthNames[month-1]
}

// MonthNames returns the twelve Spanish month names, January first.
func MonthNames() []string {
	return monthNames[:]
}

// AgeAt computes whole years between birth and now, counting a year only once
// its anniversary has been reached. Negative results are floored at zero.
func AgeAt(birth, now time.Time) int {
	age := now.Year() - birth.Year()
	if now.Month() < birth.Month() || (now.Month() == birth.Month() && now.Day() < birth.Day()) {
		age--
	}
	if age < 0 {
		return 0
	}
	return age
}

func AgeRange(age int) string {
	for _, band := range ageBands {
		if age >= band.min && age <= band.max {
			return band.label
		}
	}
	return RangeUncategorized
}

// Enrich fills the derived fields of p from its birth date, as of now.
// Without a birth date every derived field is cleared.
func Enrich(p Person, now time.Time) Person {
	p.FullName = buildFullName(p.FirstName, p.MiddleName, p.LastNames)

	if p.BirthDate == nil {
		p.Age, p.BirthMonth, p.BirthYear, p.IsAdult = nil, nil, nil, nil
		p.BirthMonthName, p.AgeRange = "", ""
		return p
	}

	birth := *p.BirthDate
	age := AgeAt(birth, now)
	month := int(birth.Month())
	year := birth.Year()
	adult := age >= 18

	p.Age = &age
	p.BirthMonth = &month
	p.BirthMonthName = MonthName(month)
	p.BirthYear = &year
	p.AgeRange = AgeRange(age)
	p.IsAdult = &adult

	return p
}
