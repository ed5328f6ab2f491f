package query

import (
	"sync"
	"time"
)

// SystemMetrics are process-wide query counters. They are never reset.
type SystemMetrics struct {
	mu sync.Mutex

	total         int64
	successful    int64
	failed        int64
	avgResponseMS float64
	byType        map[string]int64
	lastUpdated   time.Time
}

type MetricsSnapshot struct {
	TotalQueries      int64            `json:"total_queries"`
	SuccessfulQueries int64            `json:"successful_queries"`
	FailedQueries     int64            `json:"failed_queries"`
	SuccessRate       float64          `json:"success_rate"`
	AvgResponseTimeMS float64          `json:"avg_response_time_ms"`
	QueriesByType     map[string]int64 `json:"queries_by_type"`
	LastUpdated       *time.Time       `json:"last_updated,omitempty"`
}

func NewSystemMetrics() *SystemMetrics {
	return &SystemMetrics{byType: map[string]int64{}}
}

// Record folds one query into the counters. The average is updated
// incrementally as ((avg*(n-1))+sample)/n.
func (m *SystemMetrics) Record(queryType string, elapsed time.Duration, success bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.total++
	if success {
		m.successful++
	} else {
		m.failed++
	}
	m.byType[queryType]++

	sample := float64(elapsed) / float64(time.Millisecond)
	n := float64(m.total)
	m.avgResponseMS = (m.avgResponseMS*(n-1) + sample) / n
	m.lastUpdated = time.Now()
}

func (m *SystemMetrics) Snapshot() MetricsSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := MetricsSnapshot{
		TotalQueries:      m.total,
		SuccessfulQueries: m.successful,
		FailedQueries:     m.failed,
		AvgResponseTimeMS: round1(m.avgResponseMS),
		QueriesByType:     make(map[string]int64, len(m.byType)),
	}
	if m.total > 0 {
		s.SuccessRate = round1(float64(m.successful) * 100 / float64(m.total))
	}
	for k, v := range m.byType {
		s.QueriesByType[k] = v
	}
	if !m.lastUpdated.IsZero() {
		t := m.lastUpdated
		s.LastUpdated = &t
	}
	return s
}
