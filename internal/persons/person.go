// Package persons turns raw store documents into enriched person records.
package persons

import (
	"strings"
	"time"
)

// Person is one enriched record. The temporal and demographic fields are
// nil when no parseable birth date was found.
type Person struct {
	ID         string `json:"id"`
	FullName   string `json:"nombre_completo"`
	FirstName  string `json:"primer_nombre"`
	MiddleName string `json:"segundo_nombre,omitempty"`
	LastNames  string `json:"apellidos"`
	DocumentID string `json:"nro_documento"`
	Gender     string `json:"genero"`
	Email      string `json:"correo,omitempty"`
	Phone      string `json:"celular,omitempty"`

	BirthDate      *time.Time `json:"fecha_nacimiento,omitempty"`
	Age            *int       `json:"edad,omitempty"`
	BirthMonth     *int       `json:"mes_nacimiento,omitempty"`
	BirthMonthName string     `json:"nombre_mes_nacimiento,omitempty"`
	BirthYear      *int       `json:"anio_nacimiento,omitempty"`
	AgeRange       string     `json:"rango_edad,omitempty"`
	IsAdult        *bool      `json:"es_mayor_edad,omitempty"`

	RegisteredAt *time.Time `json:"fecha_registro,omitempty"`
}

func (p Person) HasAge() bool {
	return p.Age != nil
}

// AgeValue returns the age and whether it is known.
func (p Person) AgeValue() (int, bool) {
	if p.Age == nil {
		return 0, false
	}
	return *p.Age, true
}

// DisplayName is "first last", used in answers.
func (p Person) DisplayName() string {
	return strings.TrimSpace(p.FirstName + " " + p.LastNames)
}

func buildFullName(parts ...string) string {
	var nonEmpty []string
	for _, part := range parts {
		if part = strings.TrimSpace(part); part != "" {
			nonEmpty = append(nonEmpty, part)
		}
	}
	return strings.Join(nonEmpty, " ")
}
