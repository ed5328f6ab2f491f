package persons

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/personas-nlq/backend/internal/storage/models"
)

var ErrMissingField = errors.New("missing required field")

var isoLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.000Z0700",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

var dayFirstLayouts = []string{
	"02/01/2006",
	"2/1/2006",
	"02-01-2006",
	"2-1-2006",
}

type timeConvertible interface {
	Time() time.Time
}

// FromDocument maps a raw store document onto a Person without enrichment.
// Documents lacking first name, last names or document id are rejected.
func FromDocument(doc models.RawDocument) (Person, error) {
	p := Person{
		ID:         stringField(doc, models.FieldID),
		FirstName:  stringField(doc, models.FieldFirstName),
		MiddleName: stringField(doc, models.FieldMiddleName),
		LastNames:  stringField(doc, models.FieldLastNames),
		DocumentID: stringField(doc, models.FieldDocumentID),
		Gender:     stringField(doc, models.FieldGender),
		Email:      stringField(doc, models.FieldEmail),
		Phone:      stringField(doc, models.FieldPhone),
	}
	if p.ID == "" {
		p.ID = stringField(doc, models.FieldMongoID)
	}

	var missing []string
	if p.FirstName == "" {
		missing = append(missing, models.FieldFirstName)
	}
	if p.LastNames == "" {
		missing = append(missing, models.FieldLastNames)
	}
	if p.DocumentID == "" {
		missing = append(missing, models.FieldDocumentID)
	}
	if len(missing) > 0 {
		return Person{}, fmt.Errorf("%w: %s", ErrMissingField, strings.Join(missing, ", "))
	}

	if p.ID == "" {
		p.ID = p.DocumentID
	}
	if p.Gender == "" {
		p.Gender = GenderUnspecified
	}

	if birth, ok := ParseDate(doc[models.FieldBirthDate]); ok {
		p.BirthDate = &birth
	}
	if registered, ok := ParseDate(doc[models.FieldRegisteredAt]); ok {
		p.RegisteredAt = &registered
	}

	return p, nil
}

// ParseDate accepts, in order: native timestamps, ISO-8601 strings and
// day-first DD/MM/YYYY strings.
func ParseDate(value interface{}) (time.Time, bool) {
	switch v := value.(type) {
	case nil:
		return time.Time{}, false
	case time.Time:
		return v, !v.IsZero()
	case *time.Time:
		if v == nil || v.IsZero() {
			return time.Time{}, false
		}
		return *v, true
	case timeConvertible:
		t := v.Time()
		return t, !t.IsZero()
	case map[string]interface{}:
		return parseSecondsMap(v)
	case models.RawDocument:
		return parseSecondsMap(v)
	case string:
		return parseDateString(v)
	}
	return time.Time{}, false
}

func parseDateString(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range isoLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	for _, layout := range dayFirstLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// parseSecondsMap reads exported Firestore timestamps: {seconds, nanoseconds}.
func parseSecondsMap(m map[string]interface{}) (time.Time, bool) {
	for _, key := range []string{"seconds", "_seconds"} {
		raw, ok := m[key]
		if !ok {
			continue
		}
		secs, ok := toInt64(raw)
		if !ok {
			return time.Time{}, false
		}
		var nanos int64
		for _, nkey := range []string{"nanoseconds", "_nanoseconds"} {
			if n, ok := toInt64(m[nkey]); ok {
				nanos = n
			}
		}
		return time.Unix(secs, nanos).UTC(), true
	}
	return time.Time{}, false
}

func toInt64(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case float64:
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return 0, false
		}
		return int64(n), true
	case string:
		i, err := strconv.ParseInt(n, 10, 64)
		return i, err == nil
	}
	return 0, false
}

func stringField(doc models.RawDocument, key string) string {
	switch v := doc[key].(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(v)
	case fmt.Stringer:
		return strings.TrimSpace(v.String())
	case int, int32, int64:
		return fmt.Sprintf("%d", v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	}
	return ""
}
