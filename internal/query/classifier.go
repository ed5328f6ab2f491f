package query

// Intent tags reported by Classify.
const (
	IntentSimpleCount    = "simple_count"
	IntentGenderFilter   = "gender_filter"
	IntentAgeFilter      = "age_filter"
	IntentTemporalFilter = "temporal_filter"
	IntentStatistical    = "statistical"
	IntentMultiFilter    = "multi_filter"

	IntentLastRegistered = "last_registered"
	IntentNameSearch     = "name_search"
	IntentDocumentLookup = "document_lookup"
)

type Complexity string

const (
	ComplexitySimple   Complexity = "simple"
	ComplexityModerate Complexity = "moderate"
	ComplexityComplex  Complexity = "complex"
)

type keywordGroup struct {
	tag      string
	keywords []string
}

// Keywords are matched against normalizeText output. A keyword padded with
// spaces only matches whole words; an unpadded one matches any substring.
var intentGroups = []keywordGroup{
	{IntentSimpleCount, []string{
		" cuantas ", " cuantos ", " cantidad ", " numero de ", " total ", " cuenta ", " contar ",
		" how many ", " count ",
	}},
	{IntentGenderFilter, []string{
		" hombre ", " hombres ", " mujer ", " mujeres ", " masculino ", " masculinos ",
		" femenino ", " femeninas ", " femenina ", " genero ", " generos ", " varon ", " varones ",
		" no binario ", " no binarios ", " sexo ",
	}},
	{IntentAgeFilter, []string{
		" edad ", " edades ", " anos ", " mayor de ", " mayores de ", " menor de ",
		" menores de ", " mas de ", " menos de ", " joven ", " jovenes ", " adulto ", " adultos ",
		" adulta ", " adultas ", " viejo ", " vieja ", " anciano", " entre ",
	}},
	{IntentTemporalFilter, []string{
		" nacido", " nacida", " nacimiento", " nacen ", " nacio ", " nacieron ", " cumpleanos ",
		" mes ", " meses ", " fecha ", " enero ", " febrero ", " marzo ", " abril ", " mayo ",
		" junio ", " julio ", " agosto ", " septiembre ", " setiembre ", " octubre ",
		" noviembre ", " diciembre ",
	}},
	{IntentStatistical, []string{
		" promedio ", " media ", " estadistic", " distribucion ", " porcentaje ", " proporcion ",
		" maximo ", " minimo ", " maxima ", " minima ", " mas joven", " mas viejo", " mas vieja",
		" mayor edad ", " rango ", " rangos ", " average ", " resumen ",
	}},
	{IntentMultiFilter, []string{
		" y ", " e ", " con ", " que ", " ademas ", " tambien ", " pero ", " o ", " ni ",
	}},
}

var auxiliaryGroups = []keywordGroup{
	{IntentLastRegistered, []string{" ultima ", " ultimo ", " reciente ", " recientemente ", " recien "}},
	{IntentNameSearch, []string{" buscar ", " busca ", " llamada ", " llamado ", " llamen ", " nombre "}},
	{IntentDocumentLookup, []string{" documento ", " cedula ", " identificacion "}},
}

var filterIntents = []string{IntentGenderFilter, IntentAgeFilter, IntentTemporalFilter}

// Analysis is the coarse intent detection for one question.
type Analysis struct {
	Complexity           Complexity `json:"complexity"`
	Intents              []string   `json:"intents"`
	GroupCount           int        `json:"group_count"`
	NeedsMultipleFilters bool       `json:"needs_multiple_filters"`
	IsStatistical        bool       `json:"is_statistical"`
}

func (a Analysis) Has(tag string) bool {
	for _, t := range a.Intents {
		if t == tag {
			return true
		}
	}
	return false
}

// Classify tags question with every keyword group it mentions. Complexity
// is simple for 0-1 main groups, moderate for 2-3 and complex for 4 or more.
// Auxiliary tags are reported but never counted. This is best-effort intent
// detection over keywords, not a parser: connectives such as " y " match
// almost any compound question.
func Classify(question string) Analysis {
	text := normalizeText(question)

	a := Analysis{Intents: []string{}}
	for _, g := range intentGroups {
		if containsAny(text, g.keywords) {
			a.Intents = append(a.Intents, g.tag)
			a.GroupCount++
		}
	}
	for _, g := range auxiliaryGroups {
		if containsAny(text, g.keywords) {
			a.Intents = append(a.Intents, g.tag)
		}
	}

	switch {
	case a.GroupCount >= 4:
		a.Complexity = ComplexityComplex
	case a.GroupCount >= 2:
		a.Complexity = ComplexityModerate
	default:
		a.Complexity = ComplexitySimple
	}

	filters := 0
	for _, tag := range filterIntents {
		if a.Has(tag) {
			filters++
		}
	}
	a.NeedsMultipleFilters = filters >= 2 || (filters >= 1 && a.Has(IntentMultiFilter))
	a.IsStatistical = a.Has(IntentStatistical)

	return a
}
