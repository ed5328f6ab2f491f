package persons

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/personas-nlq/backend/internal/storage/models"
	"github.com/personas-nlq/backend/pkg/logger"
)

// Repository fetches person documents from a Source and enriches them.
type Repository struct {
	source models.Source
	now    func() time.Time
}

func NewRepository(source models.Source) *Repository {
	return &Repository{
		source: source,
		now:    time.Now,
	}
}

// WithClock overrides the reference time used for ages.
func (r *Repository) WithClock(now func() time.Time) *Repository {
	r.now = now
	return r
}

func (r *Repository) Source() models.Source {
	return r.source
}

// Load returns every well-formed person in the store, enriched as of now.
// Malformed documents are skipped and logged. A store failure is returned
// so the caller can decide whether to keep serving a previous dataset.
func (r *Repository) Load(ctx context.Context) ([]Person, error) {
	docs, err := r.source.FetchRawDocuments(ctx)
	if err != nil {
		logger.Error("Failed to fetch person documents",
			zap.String("source", r.source.Name()),
			zap.Error(err),
		)
		return nil, fmt.Errorf("failed to fetch documents from %s: %w", r.source.Name(), err)
	}

	now := r.now()
	people := make([]Person, 0, len(docs))
	skipped := 0

	for i, doc := range docs {
		p, err := FromDocument(doc)
		if err != nil {
			skipped++
			logger.Warn("Skipping malformed person document",
				zap.Int("index", i),
				zap.Any("id", doc[models.FieldID]),
				zap.Error(err),
			)
			continue
		}
		people = append(people, Enrich(p, now))
	}

	logger.Info("Person documents loaded",
		zap.String("source", r.source.Name()),
		zap.Int("fetched", len(docs)),
		zap.Int("valid", len(people)),
		zap.Int("skipped", skipped),
	)

	return people, nil
}
