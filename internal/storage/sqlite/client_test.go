package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/personas-nlq/backend/internal/storage/models"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()
	c, err := NewClient(":memory:")
	require.NoError(t, err)
	require.NoError(t, c.InitSchema())
	t.Cleanup(func() { c.Close(context.Background()) })
	return c
}

func TestClient_UpsertAndFetchPersons(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	older := time.Date(2024, time.January, 10, 8, 0, 0, 0, time.UTC)
	newer := older.Add(48 * time.Hour)

	require.NoError(t, c.UpsertPerson(ctx, models.PersonSeed{
		FirstName: "Ana", LastNames: "Gómez", DocumentID: "100", Gender: "Femenino",
		BirthDate: "15/06/2000", RegisteredAt: &older,
	}))
	require.NoError(t, c.UpsertPerson(ctx, models.PersonSeed{
		FirstName: "Luis", LastNames: "Pardo", DocumentID: "200", RegisteredAt: &newer,
	}))

	docs, err := c.FetchRawDocuments(ctx)
	require.NoError(t, err)
	require.Len(t, docs, 2)

	assert.Equal(t, "Luis", docs[0][models.FieldFirstName])
	assert.NotContains(t, docs[0], models.FieldBirthDate)
	assert.Equal(t, "Ana", docs[1][models.FieldFirstName])
	assert.Equal(t, "15/06/2000", docs[1][models.FieldBirthDate])
	assert.True(t, older.Equal(docs[1][models.FieldRegisteredAt].(time.Time)))
}

func TestClient_UpsertReplacesByDocumentNumber(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	require.NoError(t, c.UpsertPerson(ctx, models.PersonSeed{FirstName: "Ana", LastNames: "Gómez", DocumentID: "100"}))
	require.NoError(t, c.UpsertPerson(ctx, models.PersonSeed{FirstName: "Ana", LastNames: "Gómez Ruiz", DocumentID: "100"}))

	n, err := c.CountPersons(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	docs, err := c.FetchRawDocuments(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Gómez Ruiz", docs[0][models.FieldLastNames])
}

func TestClient_CreatePersonRejectsDuplicateDocument(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	seed := models.PersonSeed{FirstName: "Ana", LastNames: "Gómez", DocumentID: "100", BirthDate: "2000-06-15"}
	id, err := c.CreatePerson(ctx, seed)
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	_, err = c.CreatePerson(ctx, seed)
	assert.ErrorIs(t, err, models.ErrDuplicateDocument)

	docs, err := c.FetchRawDocuments(ctx)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, id, docs[0][models.FieldID])
}

func TestClient_AuditRecords(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()
	base := time.Date(2024, time.March, 1, 12, 0, 0, 0, time.UTC)

	records := []models.AuditRecord{
		{ID: "a", Action: "Consulta Natural", QueryText: "cuántas personas hay", Timestamp: base},
		{ID: "b", Action: "Consulta Natural - Error", Details: "consulta vacía", Timestamp: base.Add(time.Hour)},
		{ID: "c", Action: "Evaluación", Metadata: map[string]interface{}{"total": float64(3)}, Timestamp: base.Add(2 * time.Hour)},
	}
	for _, r := range records {
		require.NoError(t, c.InsertAuditRecord(ctx, r))
	}

	all, err := c.ListAuditRecords(ctx, models.AuditFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "c", all[0].ID)
	assert.Equal(t, float64(3), all[0].Metadata["total"])
	assert.Equal(t, sourceName, all[0].Source)

	byAction, err := c.ListAuditRecords(ctx, models.AuditFilter{Action: "consulta"})
	require.NoError(t, err)
	assert.Len(t, byAction, 2)

	byText, err := c.ListAuditRecords(ctx, models.AuditFilter{Text: "PERSONAS"})
	require.NoError(t, err)
	require.Len(t, byText, 1)
	assert.Equal(t, "a", byText[0].ID)

	from := base.Add(30 * time.Minute)
	ranged, err := c.ListAuditRecords(ctx, models.AuditFilter{From: &from, Limit: 1})
	require.NoError(t, err)
	require.Len(t, ranged, 1)
	assert.Equal(t, "c", ranged[0].ID)
}

func TestClient_Ping(t *testing.T) {
	c := newTestClient(t)
	assert.NoError(t, c.Ping(context.Background()))
	assert.Equal(t, "sqlite", c.Name())
}
