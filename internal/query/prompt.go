package query

import (
	"fmt"
	"strings"

	"github.com/personas-nlq/backend/internal/persons"
)

const DefaultSampleSize = 20

const systemPrompt = `Eres un asistente que responde preguntas sobre un registro de personas.
Responde en español, de forma breve y directa, usando únicamente los datos proporcionados.
No inventes nombres, cifras ni fechas. Si los datos no permiten responder, di exactamente:
"No tengo suficiente información para responder esa pregunta."`

// PromptInput is everything the completion prompt is built from.
type PromptInput struct {
	Question  string
	Analysis  Analysis
	Criteria  Criteria
	Records   []persons.Person
	Stats     Statistics
	Total     int
	Widened   bool
	SampleMax int
}

// SystemPrompt returns the fixed instructions sent ahead of every prompt.
func SystemPrompt() string {
	return systemPrompt
}

// BuildPrompt embeds at most SampleMax records and the full statistics block.
func BuildPrompt(in PromptInput) string {
	sampleMax := in.SampleMax
	if sampleMax <= 0 {
		sampleMax = DefaultSampleSize
	}

	var b strings.Builder

	b.WriteString(fmt.Sprintf("PREGUNTA: %s\n\n", strings.TrimSpace(in.Question)))
	b.WriteString(fmt.Sprintf("Tipo de consulta: %s (%s)\n", in.Analysis.Complexity, strings.Join(in.Analysis.Intents, ", ")))
	if desc := in.Criteria.Describe(); desc != "" {
		b.WriteString(fmt.Sprintf("Filtros detectados: %s\n", desc))
	}
	if in.Widened {
		b.WriteString("Ningún registro cumple los filtros; se muestran datos de todas las personas.\n")
	}
	b.WriteString(fmt.Sprintf("Registros relevantes: %d de %d\n\n", len(in.Records), in.Total))

	b.WriteString("ESTADÍSTICAS:\n")
	b.WriteString(FormatStatistics(in.Stats))

	sample := in.Records
	if len(sample) > sampleMax {
		sample = sample[:sampleMax]
	}
	b.WriteString(fmt.Sprintf("\nMUESTRA DE REGISTROS (%d):\n", len(sample)))
	for i, p := range sample {
		b.WriteString(fmt.Sprintf("%d. %s\n", i+1, formatPerson(p)))
	}
	if len(in.Records) > len(sample) {
		b.WriteString(fmt.Sprintf("... y %d registros más.\n", len(in.Records)-len(sample)))
	}

	b.WriteString("\nResponde la pregunta en una o dos frases basándote solo en estos datos.")

	return b.String()
}

// FormatStatistics renders s as an indented text block.
func FormatStatistics(s Statistics) string {
	var b strings.Builder

	b.WriteString(fmt.Sprintf("- Total: %d\n", s.Total))
	for _, g := range s.Genders {
		b.WriteString(fmt.Sprintf("- Género %s: %d (%.1f%%)\n", g.Label, g.Count, g.Percentage))
	}
	if s.Age.Count > 0 {
		b.WriteString(fmt.Sprintf("- Edad: mínima %d, máxima %d, promedio %.1f (sobre %d con fecha de nacimiento)\n",
			s.Age.Min, s.Age.Max, s.Age.Mean, s.Age.Count))
		b.WriteString(fmt.Sprintf("- Mayores de edad: %d, menores de edad: %d\n", s.Adults, s.Minors))
	}
	for _, r := range s.AgeRanges {
		b.WriteString(fmt.Sprintf("- Rango %s: %d\n", r.Label, r.Count))
	}
	if len(s.BirthMonths) > 0 {
		months := make([]string, len(s.BirthMonths))
		for i, m := range s.BirthMonths {
			months[i] = fmt.Sprintf("%s %d", m.Label, m.Count)
		}
		b.WriteString(fmt.Sprintf("- Nacimientos por mes: %s\n", strings.Join(months, ", ")))
	}
	if s.Youngest != nil {
		b.WriteString(fmt.Sprintf("- Persona más joven: %s (%d años)\n", s.Youngest.Name, *s.Youngest.Age))
	}
	if s.Oldest != nil {
		b.WriteString(fmt.Sprintf("- Persona mayor: %s (%d años)\n", s.Oldest.Name, *s.Oldest.Age))
	}
	if s.FirstRegistered != nil {
		b.WriteString(fmt.Sprintf("- Primer registro: %s (%s)\n", s.FirstRegistered.Name, s.FirstRegistered.RegisteredAt.Format(registeredLayout)))
	}
	if s.LastRegistered != nil {
		b.WriteString(fmt.Sprintf("- Último registro: %s (%s)\n", s.LastRegistered.Name, s.LastRegistered.RegisteredAt.Format(registeredLayout)))
	}

	return b.String()
}

func formatPerson(p persons.Person) string {
	parts := []string{p.FullName, "doc " + p.DocumentID, persons.NormalizeGender(p.Gender)}
	if age, ok := p.AgeValue(); ok {
		parts = append(parts, fmt.Sprintf("%d años", age), p.AgeRange, "nacido en "+p.BirthMonthName)
	} else {
		parts = append(parts, "sin fecha de nacimiento")
	}
	if p.RegisteredAt != nil {
		parts = append(parts, "registrado "+p.RegisteredAt.Format(registeredLayout))
	}
	return strings.Join(parts, " | ")
}
