package query

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/personas-nlq/backend/internal/cache/dataset"
	"github.com/personas-nlq/backend/internal/metrics"
	"github.com/personas-nlq/backend/internal/storage/models"
	"github.com/personas-nlq/backend/pkg/logger"
	"github.com/personas-nlq/backend/pkg/utils"
)

var ErrEmptyQuery = errors.New("query text is empty")

// Query types reported in answer metadata.
const (
	TypePrecomputed = "precomputed"
	TypeAI          = "custom_ai_powered"
	TypeFallback    = "custom_fallback"
	TypeError       = "error"
)

// Audit actions written for each answered query.
const (
	ActionQuery         = "Consulta Natural"
	ActionQueryFallback = "Consulta Natural - Fallback"
	ActionQueryError    = "Consulta Natural - Error"
)

const (
	defaultAuditTimeout = 3 * time.Second
	auditDetailsLength  = 100
)

const storeUnavailableText = "No se pudo conectar con la base de datos para procesar tu consulta. " +
	"Por favor, intenta más tarde."

var errStoreUnavailable = errors.New("record store unavailable and no cached dataset")

const noAnswerText = "No pude responder tu consulta con los datos disponibles. " +
	"Intenta reformularla, por ejemplo: \"¿Cuántas personas están registradas en total?\" " +
	"o \"¿Cuántas mujeres mayores de 30 años hay?\"."

// DatasetSource is satisfied by *dataset.Cache.
type DatasetSource interface {
	Get(ctx context.Context, forceRefresh bool) (dataset.Dataset, error)
}

// Completer sends a prompt to a language model. Implementations report
// non-answers as errors.
type Completer interface {
	Complete(ctx context.Context, system, prompt string) (string, error)
}

// AuditSink records one audit entry. It must not fail the caller.
type AuditSink interface {
	Record(ctx context.Context, record models.AuditRecord)
}

// Stage marks progress through the answer pipeline.
type Stage string

const (
	StageClassified  Stage = "classified"
	StageDataLoaded  Stage = "dataset_loaded"
	StagePrecomputed Stage = "precomputed"
	StageCallingLLM  Stage = "calling_llm"
	StageFallback    Stage = "local_fallback"
)

type EngineConfig struct {
	SampleSize   int
	AuditTimeout time.Duration
}

type Engine struct {
	data        DatasetSource
	llm         Completer
	audit       AuditSink
	precomputed *Precomputed
	metrics     *SystemMetrics
	sampleSize  int
	auditWait   time.Duration
}

type Metadata struct {
	QueryID          string     `json:"query_id"`
	QueryType        string     `json:"query_type"`
	Complexity       Complexity `json:"complexity"`
	DatasetSize      int        `json:"dataset_size"`
	FilteredSize     int        `json:"filtered_size"`
	ProcessingTimeMS float64    `json:"processing_time_ms"`
	Intents          []string   `json:"intents"`
	Filters          string     `json:"filters,omitempty"`
	FallbackRule     string     `json:"fallback_rule,omitempty"`
	StaleData        bool       `json:"stale_data,omitempty"`
	Timestamp        time.Time  `json:"timestamp"`
}

type Response struct {
	Answer   string   `json:"answer"`
	Metadata Metadata `json:"metadata"`
}

// NewEngine wires the answer pipeline. llm and audit may be nil, in which
// case the LLM step is skipped or nothing is audited.
func NewEngine(data DatasetSource, llm Completer, audit AuditSink, cfg EngineConfig) *Engine {
	if cfg.SampleSize <= 0 {
		cfg.SampleSize = DefaultSampleSize
	}
	if cfg.AuditTimeout <= 0 {
		cfg.AuditTimeout = defaultAuditTimeout
	}
	return &Engine{
		data:        data,
		llm:         llm,
		audit:       audit,
		precomputed: NewPrecomputed(),
		metrics:     NewSystemMetrics(),
		sampleSize:  cfg.SampleSize,
		auditWait:   cfg.AuditTimeout,
	}
}

func (e *Engine) Metrics() *SystemMetrics {
	return e.metrics
}

func (e *Engine) Precomputed() *Precomputed {
	return e.precomputed
}

func (e *Engine) Answer(ctx context.Context, question string) (*Response, error) {
	return e.AnswerStaged(ctx, question, nil)
}

// AnswerStaged runs the pipeline, reporting each stage to onStage when it
// is not nil. The only error returned is ErrEmptyQuery; every other failure
// becomes a response with query type "error".
func (e *Engine) AnswerStaged(ctx context.Context, question string, onStage func(Stage)) (*Response, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		e.record(ctx, models.AuditRecord{
			Action:   ActionQueryError,
			Details:  "Consulta vacía o inválida recibida",
			Category: "consulta",
		})
		return nil, ErrEmptyQuery
	}
	notify := func(s Stage) {
		if onStage != nil {
			onStage(s)
		}
	}

	start := time.Now()
	queryID := uuid.New().String()
	analysis := Classify(question)
	notify(StageClassified)

	logger.Info("Processing query",
		zap.String("query_id", queryID),
		zap.String("query", question),
		zap.String("complexity", string(analysis.Complexity)),
		zap.Strings("intents", analysis.Intents),
	)

	resp := &Response{Metadata: Metadata{
		QueryID:    queryID,
		Complexity: analysis.Complexity,
		Intents:    analysis.Intents,
	}}

	ds, err := e.data.Get(ctx, false)
	if err != nil {
		logger.Warn("Dataset unavailable", zap.String("query_id", queryID), zap.Error(err))
		resp.Answer = storeUnavailableText
		resp.Metadata.QueryType = TypeError
		return e.finish(ctx, question, resp, start, err), nil
	}
	notify(StageDataLoaded)
	resp.Metadata.DatasetSize = ds.Size()
	resp.Metadata.StaleData = ds.Stale

	// A stale empty dataset means the store failed before anything was cached.
	if ds.Stale && ds.Size() == 0 {
		logger.Warn("Record store unavailable", zap.String("query_id", queryID))
		resp.Answer = storeUnavailableText
		resp.Metadata.QueryType = TypeError
		return e.finish(ctx, question, resp, start, errStoreUnavailable), nil
	}

	if answer, ok := e.precomputed.Answer(question, ds.Records); ok {
		notify(StagePrecomputed)
		resp.Answer = answer
		resp.Metadata.QueryType = TypePrecomputed
		resp.Metadata.FilteredSize = ds.Size()
		return e.finish(ctx, question, resp, start, nil), nil
	}

	criteria := scopedCriteria(question, analysis)
	filtered := criteria.Apply(ds.Records)
	widened := len(filtered) == 0
	if widened {
		filtered = ds.Records
	}
	resp.Metadata.FilteredSize = len(filtered)
	resp.Metadata.Filters = criteria.Describe()
	metrics.FilteredRecords.Observe(float64(len(filtered)))

	var llmErr error
	if e.llm != nil && ds.Size() > 0 {
		notify(StageCallingLLM)
		prompt := BuildPrompt(PromptInput{
			Question:  question,
			Analysis:  analysis,
			Criteria:  criteria,
			Records:   filtered,
			Stats:     Summarize(filtered),
			Total:     ds.Size(),
			Widened:   widened,
			SampleMax: e.sampleSize,
		})

		answer, err := e.llm.Complete(ctx, SystemPrompt(), prompt)
		if err == nil {
			resp.Answer = answer
			resp.Metadata.QueryType = TypeAI
			return e.finish(ctx, question, resp, start, nil), nil
		}
		llmErr = err
		logger.Warn("LLM path failed, trying local fallback",
			zap.String("query_id", queryID),
			zap.Error(err),
		)
	}

	notify(StageFallback)
	if answer, rule, ok := Fallback(question, ds.Records); ok {
		resp.Answer = answer
		resp.Metadata.QueryType = TypeFallback
		resp.Metadata.FallbackRule = rule
		return e.finish(ctx, question, resp, start, nil), nil
	}

	resp.Answer = noAnswerText
	resp.Metadata.QueryType = TypeError
	if llmErr == nil {
		llmErr = errors.New("no local rule matched")
	}
	return e.finish(ctx, question, resp, start, llmErr), nil
}

func (e *Engine) finish(ctx context.Context, question string, resp *Response, start time.Time, cause error) *Response {
	elapsed := time.Since(start)
	resp.Metadata.ProcessingTimeMS = float64(elapsed.Microseconds()) / 1000
	resp.Metadata.Timestamp = time.Now()

	qt := resp.Metadata.QueryType
	success := qt != TypeError
	status := "success"
	if !success {
		status = "error"
	}

	e.metrics.Record(qt, elapsed, success)
	metrics.QueryDuration.WithLabelValues(qt).Observe(elapsed.Seconds())
	metrics.QueryTotal.WithLabelValues(status, qt).Inc()
	metrics.QueryComplexity.WithLabelValues(string(resp.Metadata.Complexity)).Inc()

	logger.Info("Query answered",
		zap.String("query_id", resp.Metadata.QueryID),
		zap.String("query_type", qt),
		zap.Int("dataset_size", resp.Metadata.DatasetSize),
		zap.Int("filtered_size", resp.Metadata.FilteredSize),
		zap.Duration("elapsed", elapsed),
	)

	action := ActionQuery
	details := fmt.Sprintf("Respuesta: \"%s\"", utils.Truncate(resp.Answer, auditDetailsLength))
	switch qt {
	case TypeFallback:
		action = ActionQueryFallback
	case TypeError:
		action = ActionQueryError
		if cause != nil {
			details = fmt.Sprintf("Error al procesar consulta: %v", cause)
		}
	}

	e.record(ctx, models.AuditRecord{
		ID:        resp.Metadata.QueryID,
		Action:    action,
		Details:   details,
		Category:  "consulta",
		QueryText: question,
		QueryHash: utils.HashQuery(question),
		Metadata: map[string]interface{}{
			"query_type":         qt,
			"complexity":         string(resp.Metadata.Complexity),
			"intents":            resp.Metadata.Intents,
			"dataset_size":       resp.Metadata.DatasetSize,
			"filtered_size":      resp.Metadata.FilteredSize,
			"processing_time_ms": resp.Metadata.ProcessingTimeMS,
		},
	})

	return resp
}

// record writes an audit entry on a context detached from the request so a
// disconnecting client does not drop it, bounded by the audit timeout.
func (e *Engine) record(ctx context.Context, rec models.AuditRecord) {
	if e.audit == nil {
		return
	}
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}

	actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.auditWait)
	defer cancel()
	e.audit.Record(actx, rec)
}
