package audit

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/personas-nlq/backend/internal/metrics"
	"github.com/personas-nlq/backend/internal/storage/models"
	"github.com/personas-nlq/backend/pkg/logger"
)

const (
	DefaultListLimit = 500
	MaxListLimit     = 500
)

var ErrNoSinks = errors.New("no audit sinks configured")

// Sink is a store able to persist audit records. Both the MongoDB and
// SQLite clients implement it.
type Sink interface {
	Name() string
	InsertAuditRecord(ctx context.Context, record models.AuditRecord) error
	ListAuditRecords(ctx context.Context, filter models.AuditFilter) ([]models.AuditRecord, error)
}

// Logger writes to the first sink that accepts a record, so later sinks
// act as backups for earlier ones.
type Logger struct {
	sinks []Sink
}

func NewLogger(sinks ...Sink) *Logger {
	var kept []Sink
	for _, s := range sinks {
		if s != nil {
			kept = append(kept, s)
		}
	}
	return &Logger{sinks: kept}
}

func (l *Logger) Sinks() []string {
	names := make([]string, len(l.sinks))
	for i, s := range l.sinks {
		names[i] = s.Name()
	}
	return names
}

// Record never fails the caller. A record that no sink accepts is logged
// and dropped.
func (l *Logger) Record(ctx context.Context, record models.AuditRecord) {
	for _, s := range l.sinks {
		err := s.InsertAuditRecord(ctx, record)
		if err == nil {
			metrics.AuditWrites.WithLabelValues(s.Name(), "success").Inc()
			return
		}
		metrics.AuditWrites.WithLabelValues(s.Name(), "error").Inc()
		logger.Warn("Audit sink rejected record",
			zap.String("sink", s.Name()),
			zap.String("action", record.Action),
			zap.Error(err),
		)
	}

	logger.Error("Audit record dropped",
		zap.String("id", record.ID),
		zap.String("action", record.Action),
		zap.String("details", record.Details),
	)
}

// List reads from the first sink that answers, newest first.
func (l *Logger) List(ctx context.Context, filter models.AuditFilter) ([]models.AuditRecord, error) {
	if len(l.sinks) == 0 {
		return nil, ErrNoSinks
	}
	if filter.Limit <= 0 {
		filter.Limit = DefaultListLimit
	}
	if filter.Limit > MaxListLimit {
		filter.Limit = MaxListLimit
	}

	var errs []error
	for _, s := range l.sinks {
		records, err := s.ListAuditRecords(ctx, filter)
		if err == nil {
			return records, nil
		}
		logger.Warn("Audit sink list failed", zap.String("sink", s.Name()), zap.Error(err))
		errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
	}
	return nil, fmt.Errorf("failed to list audit records: %w", errors.Join(errs...))
}
