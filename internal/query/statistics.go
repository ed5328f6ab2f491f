package query

import (
	"math"
	"sort"
	"time"

	"github.com/personas-nlq/backend/internal/persons"
)

type BucketCount struct {
	Label      string  `json:"label"`
	Count      int     `json:"count"`
	Percentage float64 `json:"percentage"`
}

type AgeStats struct {
	Count int     `json:"count"`
	Min   int     `json:"min"`
	Max   int     `json:"max"`
	Mean  float64 `json:"mean"`
}

// PersonRef identifies one person in a statistic.
type PersonRef struct {
	Name         string     `json:"name"`
	DocumentID   string     `json:"document_id"`
	Age          *int       `json:"age,omitempty"`
	RegisteredAt *time.Time `json:"registered_at,omitempty"`
}

type Statistics struct {
	Total           int           `json:"total"`
	Genders         []BucketCount `json:"genders"`
	Age             AgeStats      `json:"age"`
	AgeRanges       []BucketCount `json:"age_ranges"`
	BirthMonths     []BucketCount `json:"birth_months"`
	Adults          int           `json:"adults"`
	Minors          int           `json:"minors"`
	Youngest        *PersonRef    `json:"youngest,omitempty"`
	Oldest          *PersonRef    `json:"oldest,omitempty"`
	FirstRegistered *PersonRef    `json:"first_registered,omitempty"`
	LastRegistered  *PersonRef    `json:"last_registered,omitempty"`
}

// GenderCount returns the number of records in the canonical gender bucket.
func (s Statistics) GenderCount(gender string) (int, float64) {
	for _, b := range s.Genders {
		if b.Label == gender {
			return b.Count, b.Percentage
		}
	}
	return 0, 0
}

// TopBirthMonth returns the month bucket with the most births. Ties go to
// the earlier month.
func (s Statistics) TopBirthMonth() (BucketCount, bool) {
	var best BucketCount
	for _, b := range s.BirthMonths {
		if b.Count > best.Count {
			best = b
		}
	}
	return best, best.Count > 0
}

// Summarize aggregates records. Percentages are relative to len(records)
// and are 0 for an empty set.
func Summarize(records []persons.Person) Statistics {
	s := Statistics{
		Total:       len(records),
		Genders:     []BucketCount{},
		AgeRanges:   []BucketCount{},
		BirthMonths: []BucketCount{},
	}

	genderCounts := map[string]int{}
	rangeCounts := map[string]int{}
	var monthCounts [13]int
	var ageSum int
	var youngest, oldest, first, last *persons.Person

	for i := range records {
		p := &records[i]
		genderCounts[persons.NormalizeGender(p.Gender)]++

		if age, ok := p.AgeValue(); ok {
			if s.Age.Count == 0 || age < s.Age.Min {
				s.Age.Min = age
				youngest = p
			}
			if s.Age.Count == 0 || age > s.Age.Max {
				s.Age.Max = age
				oldest = p
			}
			s.Age.Count++
			ageSum += age
			rangeCounts[p.AgeRange]++
			if age >= 18 {
				s.Adults++
			} else {
				s.Minors++
			}
		}

		if p.BirthMonth != nil {
			monthCounts[*p.BirthMonth]++
		}

		if p.RegisteredAt != nil {
			if first == nil || p.RegisteredAt.Before(*first.RegisteredAt) {
				first = p
			}
			if last == nil || p.RegisteredAt.After(*last.RegisteredAt) {
				last = p
			}
		}
	}

	if s.Age.Count > 0 {
		s.Age.Mean = round1(float64(ageSum) / float64(s.Age.Count))
	}

	for gender, count := range genderCounts {
		s.Genders = append(s.Genders, BucketCount{gender, count, percentage(count, s.Total)})
	}
	sort.Slice(s.Genders, func(i, j int) bool {
		if s.Genders[i].Count != s.Genders[j].Count {
			return s.Genders[i].Count > s.Genders[j].Count
		}
		return s.Genders[i].Label < s.Genders[j].Label
	})

	for _, label := range persons.AgeRanges() {
		if n := rangeCounts[label]; n > 0 {
			s.AgeRanges = append(s.AgeRanges, BucketCount{label, n, percentage(n, s.Total)})
		}
	}

	for m := 1; m <= 12; m++ {
		if n := monthCounts[m]; n > 0 {
			s.BirthMonths = append(s.BirthMonths, BucketCount{persons.MonthName(m), n, percentage(n, s.Total)})
		}
	}

	s.Youngest = refOf(youngest)
	s.Oldest = refOf(oldest)
	s.FirstRegistered = refOf(first)
	s.LastRegistered = refOf(last)

	return s
}

func refOf(p *persons.Person) *PersonRef {
	if p == nil {
		return nil
	}
	return &PersonRef{
		Name:         p.DisplayName(),
		DocumentID:   p.DocumentID,
		Age:          p.Age,
		RegisteredAt: p.RegisteredAt,
	}
}

func percentage(count, total int) float64 {
	if total == 0 {
		return 0
	}
	return round1(float64(count) * 100 / float64(total))
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
