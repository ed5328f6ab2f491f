package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/personas-nlq/backend/internal/api/handlers"
	"github.com/personas-nlq/backend/internal/cache/dataset"
	"github.com/personas-nlq/backend/internal/evaluation"
	"github.com/personas-nlq/backend/internal/persons"
	"github.com/personas-nlq/backend/internal/query"
	"github.com/personas-nlq/backend/internal/storage/models"
)

var refNow = time.Date(2024, time.June, 15, 12, 0, 0, 0, time.UTC)

type staticLoader struct {
	mu    sync.Mutex
	loads int
}

func (l *staticLoader) Load(context.Context) ([]persons.Person, error) {
	l.mu.Lock()
	l.loads++
	l.mu.Unlock()

	ana := time.Date(2000, time.June, 15, 0, 0, 0, 0, time.UTC)
	luis := time.Date(1990, time.April, 3, 0, 0, 0, 0, time.UTC)
	return []persons.Person{
		persons.Enrich(persons.Person{ID: "1", FirstName: "Ana", LastNames: "Gómez", FullName: "Ana Gómez", DocumentID: "100001", Gender: "Femenino", BirthDate: &ana}, refNow),
		persons.Enrich(persons.Person{ID: "2", FirstName: "Luis", LastNames: "Pardo", FullName: "Luis Pardo", DocumentID: "100002", Gender: "Masculino", BirthDate: &luis}, refNow),
	}, nil
}

func (l *staticLoader) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.loads
}

type fakeLister struct {
	last models.AuditFilter
	err  error
}

func (f *fakeLister) List(_ context.Context, filter models.AuditFilter) ([]models.AuditRecord, error) {
	f.last = filter
	if f.err != nil {
		return nil, f.err
	}
	return []models.AuditRecord{{ID: "a1", Action: "Consulta Natural - Error"}}, nil
}

type memoryWriter struct {
	mu   sync.Mutex
	docs map[string]models.PersonSeed
}

func (w *memoryWriter) CreatePerson(_ context.Context, p models.PersonSeed) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.docs[p.DocumentID]; ok {
		return "", models.ErrDuplicateDocument
	}
	w.docs[p.DocumentID] = p
	return "p-" + p.DocumentID, nil
}

type testServer struct {
	app    *fiber.App
	loader *staticLoader
	logs   *fakeLister
	writer *memoryWriter
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	loader := &staticLoader{}
	cache := dataset.New(loader, time.Minute)
	engine := query.NewEngine(cache, nil, nil, query.EngineConfig{})
	logs := &fakeLister{}
	writer := &memoryWriter{docs: map[string]models.PersonSeed{}}

	h := Handlers{
		Query: handlers.NewQueryHandler(engine),
		System: handlers.NewSystemHandler(handlers.SystemConfig{
			Version: "test",
			Probes: []handlers.Probe{
				{Name: "store", Check: func(context.Context) error { return nil }},
				{Name: "redis", Check: func(context.Context) error { return errors.New("connection refused") }},
			},
			Cache:     cache,
			Metrics:   engine.Metrics(),
			Questions: engine.Precomputed().Questions(),
		}),
		Evaluation: handlers.NewEvaluationHandler(evaluation.NewEvaluator(engine, 2), evaluation.DefaultBattery()),
		Logs:       handlers.NewLogsHandler(logs),
		Personas:   handlers.NewPersonasHandler(cache, persons.NewRegistry(writer, cache, nil)),
		WebSocket:  handlers.NewWebSocketHandler(engine, time.Second, 100),
	}

	app := NewApp(Config{MaxQueryLength: 100, IsDevelopment: true}, h)
	return &testServer{app: app, loader: loader, logs: logs, writer: writer}
}

func (s *testServer) do(t *testing.T, method, path, body string) (int, map[string]interface{}) {
	t.Helper()

	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := s.app.Test(req, 5000)
	require.NoError(t, err)
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	var out map[string]interface{}
	if len(data) > 0 && strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(data, &out), string(data))
	}
	return resp.StatusCode, out
}

func TestConsultaNatural(t *testing.T) {
	s := newTestServer(t)

	status, body := s.do(t, "POST", "/consulta-natural", `{"consulta":"¿Cuántas personas están registradas en total?"}`)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "Hay 2 personas registradas en total.", body["answer"])

	meta := body["metadata"].(map[string]interface{})
	assert.Equal(t, query.TypePrecomputed, meta["query_type"])
	assert.EqualValues(t, 2, meta["dataset_size"])
	assert.NotEmpty(t, meta["query_id"])
	assert.Contains(t, meta, "processing_time_ms")
	assert.Contains(t, meta, "complexity")
	assert.Contains(t, meta, "intents")
}

func TestConsultaNatural_EmptyIsBadRequest(t *testing.T) {
	s := newTestServer(t)

	for _, body := range []string{`{"consulta":"   "}`, `{}`} {
		status, out := s.do(t, "POST", "/consulta-natural", body)
		assert.Equal(t, http.StatusBadRequest, status)
		assert.NotEmpty(t, out["error"])
	}
}

func TestQueryAliasUnderAPIPrefix(t *testing.T) {
	s := newTestServer(t)

	status, body := s.do(t, "POST", "/api/v1/query", `{"query":"el más joven"}`)
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, body["answer"], "Ana Gómez")
	assert.Equal(t, query.TypeFallback, body["metadata"].(map[string]interface{})["query_type"])
}

func TestHealthReportsDegradedDependencies(t *testing.T) {
	s := newTestServer(t)

	status, body := s.do(t, "GET", "/health", "")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "degraded", body["status"])
	assert.Equal(t, "test", body["version"])

	services := body["services"].(map[string]interface{})
	assert.Equal(t, "up", services["store"].(map[string]interface{})["status"])
	redis := services["redis"].(map[string]interface{})
	assert.Equal(t, "down", redis["status"])
	assert.Equal(t, "connection refused", redis["error"])

	assert.Equal(t, false, body["llm"].(map[string]interface{})["configured"])
	assert.NotEmpty(t, body["capabilities"])
}

func TestMetricsAfterQueries(t *testing.T) {
	s := newTestServer(t)
	s.do(t, "POST", "/consulta-natural", `{"consulta":"¿Cuántas personas están registradas en total?"}`)

	status, body := s.do(t, "GET", "/metrics", "")
	require.Equal(t, http.StatusOK, status)

	system := body["system"].(map[string]interface{})
	assert.EqualValues(t, 1, system["total_queries"])
	assert.EqualValues(t, 100, system["success_rate"])

	cache := body["cache"].(map[string]interface{})
	assert.EqualValues(t, 2, cache["size"])
	assert.EqualValues(t, 60, cache["ttl_seconds"])
	assert.Equal(t, true, cache["valid"])
}

func TestPrometheusEndpoint(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest("GET", "/metrics/prometheus", nil)
	resp, err := s.app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestStaticPayloads(t *testing.T) {
	s := newTestServer(t)

	status, body := s.do(t, "GET", "/academic-examples", "")
	require.Equal(t, http.StatusOK, status)
	assert.NotEmpty(t, body["categorias"])

	status, body = s.do(t, "GET", "/api/v1/documentation", "")
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, body["consultas_precalculadas"], len(query.NewPrecomputed().Questions()))
}

func TestLogs(t *testing.T) {
	s := newTestServer(t)

	status, body := s.do(t, "GET", "/logs?accion=error&desde=2024-06-01&hasta=2024-06-15&limit=20", "")
	require.Equal(t, http.StatusOK, status)
	assert.EqualValues(t, 1, body["total"])

	assert.Equal(t, "error", s.logs.last.Action)
	assert.Equal(t, 20, s.logs.last.Limit)
	require.NotNil(t, s.logs.last.From)
	require.NotNil(t, s.logs.last.To)
	assert.Equal(t, time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC), *s.logs.last.From)
	assert.Equal(t, 15, s.logs.last.To.Day())
	assert.Equal(t, 23, s.logs.last.To.Hour())

	status, _ = s.do(t, "GET", "/logs?desde=ayer", "")
	assert.Equal(t, http.StatusBadRequest, status)

	s.logs.err = errors.New("down")
	status, _ = s.do(t, "GET", "/logs", "")
	assert.Equal(t, http.StatusInternalServerError, status)
}

func TestPersonasRefresh(t *testing.T) {
	s := newTestServer(t)

	status, body := s.do(t, "GET", "/personas", "")
	require.Equal(t, http.StatusOK, status)
	assert.EqualValues(t, 2, body["total"])
	assert.Len(t, body["personas"], 2)
	assert.Equal(t, 1, s.loader.count())

	s.do(t, "GET", "/personas", "")
	assert.Equal(t, 1, s.loader.count())

	s.do(t, "GET", "/personas?refresh=true", "")
	assert.Equal(t, 2, s.loader.count())
}

const newPersonBody = `{"primerNombre":"Eva","apellidos":"Ruiz","nroDocumento":"100003",` +
	`"genero":"Femenino","correo":"eva@example.com","celular":"300 123 4567","fechaNacimiento":"2000-06-15"}`

func TestCreatePersona(t *testing.T) {
	s := newTestServer(t)

	s.do(t, "GET", "/personas", "")
	require.Equal(t, 1, s.loader.count())

	status, body := s.do(t, "POST", "/personas", newPersonBody)
	require.Equal(t, http.StatusCreated, status)
	assert.Equal(t, "p-100003", body["id"])
	assert.Equal(t, "Eva Ruiz", body["nombre_completo"])
	assert.Equal(t, "3001234567", body["celular"])
	assert.Contains(t, s.writer.docs, "100003")

	// Registration drops the cached dataset.
	s.do(t, "GET", "/personas", "")
	assert.Equal(t, 2, s.loader.count())

	status, body = s.do(t, "POST", "/api/v1/personas", newPersonBody)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "nroDocumento", body["campo"])
}

func TestCreatePersona_InvalidBody(t *testing.T) {
	s := newTestServer(t)

	status, body := s.do(t, "POST", "/personas", strings.Replace(newPersonBody, `"100003"`, `"10A"`, 1))
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "nroDocumento", body["campo"])
	assert.Equal(t, "El número de documento debe tener máximo 10 dígitos", body["error"])

	status, body = s.do(t, "POST", "/personas", strings.Replace(newPersonBody, `"Femenino"`, `"otro"`, 1))
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "genero", body["campo"])

	status, body = s.do(t, "POST", "/personas", `{"primerNombre":`)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.NotEmpty(t, body["error"])

	assert.Empty(t, s.writer.docs)
}

func TestEvaluate(t *testing.T) {
	s := newTestServer(t)

	status, body := s.do(t, "POST", "/evaluate", "")
	require.Equal(t, http.StatusOK, status)
	assert.EqualValues(t, len(evaluation.DefaultBattery().Cases), body["total_queries"])
	assert.Contains(t, body, "by_query_type")

	status, body = s.do(t, "POST", "/evaluate", `{"name":"mini","cases":[{"query":"¿Cuántas personas están registradas en total?","expected_type":"precomputed"}]}`)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "mini", body["battery"])
	assert.EqualValues(t, 1, body["total_queries"])
	assert.EqualValues(t, 100, body["success_rate"])
}

func TestWebSocketRequiresUpgrade(t *testing.T) {
	s := newTestServer(t)

	status, _ := s.do(t, "GET", "/ws/consulta", "")
	assert.Equal(t, http.StatusUpgradeRequired, status)
}
