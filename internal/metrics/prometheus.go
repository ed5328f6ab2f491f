package metrics

import (
	"sync"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	QueryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "personas_nlq_query_duration_seconds",
			Help:    "Query processing duration in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"query_type"},
	)

	QueryTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "personas_nlq_query_total",
			Help: "Total number of queries processed",
		},
		[]string{"status", "query_type"},
	)

	QueryComplexity = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "personas_nlq_query_complexity_total",
			Help: "Queries by detected complexity",
		},
		[]string{"complexity"},
	)

	FilteredRecords = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "personas_nlq_filtered_records",
			Help:    "Number of records surviving the query filter",
			Buckets: []float64{0, 1, 5, 10, 20, 50, 100, 500, 1000},
		},
	)

	LLMCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "personas_nlq_llm_calls_total",
			Help: "Completion calls by provider and outcome",
		},
		[]string{"provider", "status"},
	)

	LLMTokensUsed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "personas_nlq_llm_tokens_used",
			Help: "Total LLM tokens used",
		},
		[]string{"model", "type"},
	)

	CacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "personas_nlq_cache_hits_total",
			Help: "Total cache hits",
		},
		[]string{"cache_type"},
	)

	CacheMisses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "personas_nlq_cache_misses_total",
			Help: "Total cache misses",
		},
		[]string{"cache_type"},
	)

	DatasetRefreshes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "personas_nlq_dataset_refreshes_total",
			Help: "Dataset refreshes by outcome",
		},
		[]string{"status"},
	)

	DatasetSize = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "personas_nlq_dataset_size",
			Help: "Number of enriched person records in the cache",
		},
	)

	AuditWrites = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "personas_nlq_audit_writes_total",
			Help: "Audit writes by sink and outcome",
		},
		[]string{"sink", "status"},
	)

	CircuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "personas_nlq_circuit_breaker_state",
			Help: "Circuit breaker state (0 closed, 1 half-open, 2 open)",
		},
		[]string{"name"},
	)
)

var initOnce sync.Once

func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(QueryDuration)
		prometheus.MustRegister(QueryTotal)
		prometheus.MustRegister(QueryComplexity)
		prometheus.MustRegister(FilteredRecords)
		prometheus.MustRegister(LLMCalls)
		prometheus.MustRegister(LLMTokensUsed)
		prometheus.MustRegister(CacheHits)
		prometheus.MustRegister(CacheMisses)
		prometheus.MustRegister(DatasetRefreshes)
		prometheus.MustRegister(DatasetSize)
		prometheus.MustRegister(AuditWrites)
		prometheus.MustRegister(CircuitBreakerState)
	})
}

// BreakerStateValue maps a breaker state name onto the gauge encoding.
func BreakerStateValue(state string) float64 {
	switch state {
	case "half-open":
		return 1
	case "open":
		return 2
	}
	return 0
}

func MetricsHandler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}
