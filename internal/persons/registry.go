package persons

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/personas-nlq/backend/internal/storage/models"
	"github.com/personas-nlq/backend/pkg/logger"
)

// ActionCreatePerson is the audit action written for each registration.
const ActionCreatePerson = "Crear Persona"

var ErrInvalidPerson = errors.New("invalid person")

// ValidationError names the first field that failed validation. Message is
// meant for the end user.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalidPerson
}

const (
	maxNameLength      = 30
	maxLastNamesLength = 60
)

var (
	namePattern      = regexp.MustCompile(`^[A-Za-zÁáÉéÍíÓóÚúÜüÑñ\s']+$`)
	lastNamesPattern = regexp.MustCompile(`^[A-Za-zÁáÉéÍíÓóÚúÜüÑñ\s'-]+$`)
	documentPattern  = regexp.MustCompile(`^\d{1,10}$`)
	emailPattern     = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
	phonePattern     = regexp.MustCompile(`^(\+\d{1,3})?\d{10}$`)
)

// RegistrationGenders are the gender values a new person may declare.
var RegistrationGenders = []string{GenderMale, GenderFemale, GenderNonBinary, GenderUndisclosed}

// ValidateSeed checks a new person and returns it normalised: names
// trimmed, email lower-cased, phone without separators and the birth date
// as YYYY-MM-DD.
func ValidateSeed(p models.PersonSeed, now time.Time) (models.PersonSeed, error) {
	p.FirstName = strings.TrimSpace(p.FirstName)
	p.MiddleName = strings.TrimSpace(p.MiddleName)
	p.LastNames = strings.TrimSpace(p.LastNames)
	p.DocumentID = strings.TrimSpace(p.DocumentID)
	p.Email = strings.ToLower(strings.TrimSpace(p.Email))
	p.Phone = strings.NewReplacer(" ", "", "-", "").Replace(p.Phone)

	if !validName(p.FirstName, maxNameLength, namePattern) {
		return p, &ValidationError{models.FieldFirstName, "El nombre debe contener solo letras, no mayor a 30 caracteres"}
	}
	if p.MiddleName != "" && !validName(p.MiddleName, maxNameLength, namePattern) {
		return p, &ValidationError{models.FieldMiddleName, "El segundo nombre debe contener solo letras, no mayor a 30 caracteres"}
	}
	if !validName(p.LastNames, maxLastNamesLength, lastNamesPattern) {
		return p, &ValidationError{models.FieldLastNames, "Los apellidos deben contener solo letras, no mayor a 60 caracteres"}
	}
	if !documentPattern.MatchString(p.DocumentID) {
		return p, &ValidationError{models.FieldDocumentID, "El número de documento debe tener máximo 10 dígitos"}
	}
	if !validGender(p.Gender) {
		return p, &ValidationError{models.FieldGender, "El género debe ser una opción válida"}
	}
	if !emailPattern.MatchString(p.Email) {
		return p, &ValidationError{models.FieldEmail, "Formato de correo electrónico inválido"}
	}
	if !phonePattern.MatchString(p.Phone) {
		return p, &ValidationError{models.FieldPhone, "El celular debe tener 10 dígitos. Formato: XXXXXXXXXX"}
	}

	birth, ok := ParseDate(strings.TrimSpace(p.BirthDate))
	switch {
	case !ok:
		return p, &ValidationError{models.FieldBirthDate, "Fecha de nacimiento inválida"}
	case birth.After(now):
		return p, &ValidationError{models.FieldBirthDate, "La fecha de nacimiento no puede ser en el futuro"}
	case birth.After(now.AddDate(-1, 0, 0)):
		return p, &ValidationError{models.FieldBirthDate, "La persona debe tener al menos 1 año de edad"}
	}
	p.BirthDate = birth.Format("2006-01-02")

	return p, nil
}

func validName(s string, max int, pattern *regexp.Regexp) bool {
	return s != "" && utf8.RuneCountInString(s) <= max && pattern.MatchString(s)
}

func validGender(g string) bool {
	for _, option := range RegistrationGenders {
		if g == option {
			return true
		}
	}
	return false
}

// Invalidator is satisfied by *dataset.Cache.
type Invalidator interface {
	Purge(ctx context.Context) error
}

// AuditRecorder is satisfied by *audit.Logger.
type AuditRecorder interface {
	Record(ctx context.Context, record models.AuditRecord)
}

// Registry validates and stores new persons. cache and audit may be nil.
type Registry struct {
	writer models.PersonWriter
	cache  Invalidator
	audit  AuditRecorder
	now    func() time.Time
}

func NewRegistry(writer models.PersonWriter, cache Invalidator, audit AuditRecorder) *Registry {
	return &Registry{
		writer: writer,
		cache:  cache,
		audit:  audit,
		now:    time.Now,
	}
}

func (r *Registry) WithClock(now func() time.Time) *Registry {
	r.now = now
	return r
}

// Register validates in, writes it to the store and drops the cached
// dataset so the next query sees the new person. The returned error wraps
// ErrInvalidPerson (as a *ValidationError) or models.ErrDuplicateDocument
// for rejected input.
func (r *Registry) Register(ctx context.Context, in models.PersonSeed) (Person, error) {
	now := r.now()

	seed, err := ValidateSeed(in, now)
	if err != nil {
		return Person{}, err
	}
	registered := now.UTC()
	seed.RegisteredAt = &registered

	id, err := r.writer.CreatePerson(ctx, seed)
	if err != nil {
		return Person{}, fmt.Errorf("failed to create person: %w", err)
	}

	if r.cache != nil {
		if err := r.cache.Purge(ctx); err != nil {
			logger.Warn("Failed to purge dataset cache after registration", zap.Error(err))
		}
	}

	birth, _ := ParseDate(seed.BirthDate)
	p := Enrich(Person{
		ID:           id,
		FirstName:    seed.FirstName,
		MiddleName:   seed.MiddleName,
		LastNames:    seed.LastNames,
		DocumentID:   seed.DocumentID,
		Gender:       seed.Gender,
		Email:        seed.Email,
		Phone:        seed.Phone,
		BirthDate:    &birth,
		RegisteredAt: &registered,
	}, now)

	if r.audit != nil {
		r.audit.Record(context.WithoutCancel(ctx), models.AuditRecord{
			ID:        uuid.New().String(),
			Action:    ActionCreatePerson,
			Details:   fmt.Sprintf("Persona creada: %s (documento %s)", p.FullName, p.DocumentID),
			Category:  "personas",
			Metadata:  map[string]interface{}{"id": id, "nro_documento": p.DocumentID},
			Timestamp: registered,
		})
	}

	logger.Info("Person registered", zap.String("id", id), zap.String("document", p.DocumentID))
	return p, nil
}
