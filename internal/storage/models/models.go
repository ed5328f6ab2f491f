package models

import (
	"context"
	"errors"
	"time"
)

// Field names of a person document as stored in the personas collection.
const (
	FieldID           = "id"
	FieldMongoID      = "_id"
	FieldFirstName    = "primerNombre"
	FieldMiddleName   = "segundoNombre"
	FieldLastNames    = "apellidos"
	FieldDocumentID   = "nroDocumento"
	FieldGender       = "genero"
	FieldEmail        = "correo"
	FieldPhone        = "celular"
	FieldBirthDate    = "fechaNacimiento"
	FieldRegisteredAt = "createdAt"
)

// RawDocument is a person document exactly as the store returned it.
type RawDocument map[string]interface{}

// Source is a document store holding person records.
type Source interface {
	Name() string
	FetchRawDocuments(ctx context.Context) ([]RawDocument, error)
	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}

type AuditRecord struct {
	ID        string                 `json:"id" bson:"id"`
	Action    string                 `json:"accion" bson:"accion"`
	Details   string                 `json:"detalles" bson:"detalles"`
	Category  string                 `json:"categoria" bson:"categoria"`
	QueryText string                 `json:"query" bson:"query"`
	QueryHash string                 `json:"query_hash" bson:"query_hash"`
	Metadata  map[string]interface{} `json:"metadata" bson:"metadata"`
	Timestamp time.Time              `json:"timestamp" bson:"timestamp"`
	Source    string                 `json:"fuente,omitempty" bson:"-"`
}

type AuditFilter struct {
	Action string
	Text   string
	From   *time.Time
	To     *time.Time
	Limit  int
}

// Matches applies the filter in memory for sinks that cannot push it down.
func (f AuditFilter) Matches(r AuditRecord) bool {
	if f.Action != "" && !containsFold(r.Action, f.Action) {
		return false
	}
	if f.Text != "" && !containsFold(r.Details, f.Text) && !containsFold(r.QueryText, f.Text) {
		return false
	}
	if f.From != nil && r.Timestamp.Before(*f.From) {
		return false
	}
	if f.To != nil && r.Timestamp.After(*f.To) {
		return false
	}
	return true
}

// ErrDuplicateDocument is returned by PersonWriter when the document number
// is already registered.
var ErrDuplicateDocument = errors.New("document number already registered")

// PersonSeed is the shape of a new person, read from a seed file or a
// registration request.
type PersonSeed struct {
	FirstName    string     `yaml:"primerNombre" json:"primerNombre"`
	MiddleName   string     `yaml:"segundoNombre" json:"segundoNombre"`
	LastNames    string     `yaml:"apellidos" json:"apellidos"`
	DocumentID   string     `yaml:"nroDocumento" json:"nroDocumento"`
	Gender       string     `yaml:"genero" json:"genero"`
	Email        string     `yaml:"correo" json:"correo"`
	Phone        string     `yaml:"celular" json:"celular"`
	BirthDate    string     `yaml:"fechaNacimiento" json:"fechaNacimiento"`
	RegisteredAt *time.Time `yaml:"createdAt" json:"-"`
}

// Document returns the seed keyed by the collection's field names. A
// YYYY-MM-DD birth date is stored as a timestamp, anything else verbatim.
func (p PersonSeed) Document() map[string]interface{} {
	doc := map[string]interface{}{
		FieldFirstName:  p.FirstName,
		FieldMiddleName: p.MiddleName,
		FieldLastNames:  p.LastNames,
		FieldDocumentID: p.DocumentID,
		FieldGender:     p.Gender,
		FieldEmail:      p.Email,
		FieldPhone:      p.Phone,
		FieldBirthDate:  p.BirthDate,
	}
	if birth, err := time.Parse("2006-01-02", p.BirthDate); err == nil {
		doc[FieldBirthDate] = birth
	}
	if p.RegisteredAt != nil {
		doc[FieldRegisteredAt] = *p.RegisteredAt
	}
	return doc
}

// PersonWriter is implemented by stores that accept new persons.
type PersonWriter interface {
	CreatePerson(ctx context.Context, p PersonSeed) (id string, err error)
}
