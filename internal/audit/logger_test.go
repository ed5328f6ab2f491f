package audit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/personas-nlq/backend/internal/storage/models"
	"github.com/personas-nlq/backend/internal/storage/sqlite"
)

type MockSink struct {
	mock.Mock
}

func (m *MockSink) Name() string {
	return "mock"
}

func (m *MockSink) InsertAuditRecord(ctx context.Context, record models.AuditRecord) error {
	args := m.Called(ctx, record)
	return args.Error(0)
}

func (m *MockSink) ListAuditRecords(ctx context.Context, filter models.AuditFilter) ([]models.AuditRecord, error) {
	args := m.Called(ctx, filter)
	records, _ := args.Get(0).([]models.AuditRecord)
	return records, args.Error(1)
}

func newSQLiteSink(t *testing.T) *sqlite.Client {
	t.Helper()
	c, err := sqlite.NewClient(":memory:")
	require.NoError(t, err)
	require.NoError(t, c.InitSchema())
	t.Cleanup(func() { c.Close(context.Background()) })
	return c
}

func record(id, action string, ts time.Time) models.AuditRecord {
	return models.AuditRecord{
		ID:        id,
		Action:    action,
		Details:   "Respuesta: \"Hay 5 personas\"",
		Category:  "consulta",
		QueryText: "cuántas personas hay",
		Timestamp: ts,
	}
}

func TestLogger_PrimarySinkWins(t *testing.T) {
	primary := new(MockSink)
	primary.On("InsertAuditRecord", mock.Anything, mock.Anything).Return(nil)
	backup := newSQLiteSink(t)

	l := NewLogger(primary, backup)
	l.Record(context.Background(), record("a1", "Consulta Natural", time.Now()))

	primary.AssertNumberOfCalls(t, "InsertAuditRecord", 1)
	got, err := backup.ListAuditRecords(context.Background(), models.AuditFilter{})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestLogger_FallsBackToSQLite(t *testing.T) {
	primary := new(MockSink)
	primary.On("InsertAuditRecord", mock.Anything, mock.Anything).Return(errors.New("mongo unreachable"))
	backup := newSQLiteSink(t)

	l := NewLogger(primary, backup)
	l.Record(context.Background(), record("a1", "Consulta Natural - Fallback", time.Now()))

	got, err := backup.ListAuditRecords(context.Background(), models.AuditFilter{})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "a1", got[0].ID)
}

func TestLogger_RecordSwallowsTotalFailure(t *testing.T) {
	primary := new(MockSink)
	primary.On("InsertAuditRecord", mock.Anything, mock.Anything).Return(errors.New("down"))

	l := NewLogger(primary)
	assert.NotPanics(t, func() {
		l.Record(context.Background(), record("a1", "Consulta Natural", time.Now()))
	})
}

func TestLogger_ListAppliesDefaultLimitAndFallsBack(t *testing.T) {
	primary := new(MockSink)
	primary.On("ListAuditRecords", mock.Anything, mock.MatchedBy(func(f models.AuditFilter) bool {
		return f.Limit == DefaultListLimit
	})).Return(nil, errors.New("mongo unreachable"))

	backup := newSQLiteSink(t)
	base := time.Date(2024, time.June, 1, 10, 0, 0, 0, time.UTC)
	ctx := context.Background()
	require.NoError(t, backup.InsertAuditRecord(ctx, record("old", "Consulta Natural", base)))
	require.NoError(t, backup.InsertAuditRecord(ctx, record("new", "Consulta Natural - Error", base.Add(time.Hour))))

	l := NewLogger(primary, backup)
	got, err := l.List(ctx, models.AuditFilter{})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "new", got[0].ID)
	assert.Equal(t, "sqlite", got[0].Source)

	got, err = l.List(ctx, models.AuditFilter{Action: "error"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "new", got[0].ID)

	primary.AssertExpectations(t)
}

func TestLogger_ListCapsLimit(t *testing.T) {
	primary := new(MockSink)
	primary.On("ListAuditRecords", mock.Anything, mock.MatchedBy(func(f models.AuditFilter) bool {
		return f.Limit == MaxListLimit
	})).Return([]models.AuditRecord{}, nil)

	l := NewLogger(primary)
	_, err := l.List(context.Background(), models.AuditFilter{Limit: 10000})
	require.NoError(t, err)
	primary.AssertExpectations(t)
}

func TestLogger_NoSinks(t *testing.T) {
	l := NewLogger(nil)
	_, err := l.List(context.Background(), models.AuditFilter{})
	assert.ErrorIs(t, err, ErrNoSinks)
	assert.Empty(t, l.Sinks())
}
