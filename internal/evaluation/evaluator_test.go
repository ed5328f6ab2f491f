package evaluation

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/personas-nlq/backend/internal/query"
)

type answerFunc func(ctx context.Context, q string) (*query.Response, error)

func (f answerFunc) Answer(ctx context.Context, q string) (*query.Response, error) {
	return f(ctx, q)
}

func typedAnswer(queryType string) *query.Response {
	return &query.Response{Answer: "respuesta", Metadata: query.Metadata{QueryType: queryType}}
}

func TestEvaluator_RunReportsPerTypeAndSuccess(t *testing.T) {
	engine := answerFunc(func(_ context.Context, q string) (*query.Response, error) {
		switch q {
		case "a":
			return typedAnswer(query.TypePrecomputed), nil
		case "b":
			return typedAnswer(query.TypeAI), nil
		case "c":
			return typedAnswer(query.TypeError), nil
		default:
			return nil, query.ErrEmptyQuery
		}
	})

	battery := Battery{Name: "unit", Cases: []Case{
		{Query: "a", ExpectedType: query.TypePrecomputed},
		{Query: "b", ExpectedType: query.TypePrecomputed},
		{Query: "c"},
		{Query: "d"},
	}}

	report, err := NewEvaluator(engine, 2).Run(context.Background(), battery)
	require.NoError(t, err)

	assert.Equal(t, 4, report.TotalQueries)
	assert.Equal(t, 1, report.Successful)
	assert.Equal(t, 3, report.Failed)
	assert.Equal(t, 25.0, report.SuccessRate)
	assert.Equal(t, map[string]int{
		query.TypePrecomputed: 1,
		query.TypeAI:          1,
		query.TypeError:       2,
	}, report.ByType)

	require.Len(t, report.Results, 4)
	assert.Equal(t, "a", report.Results[0].Query)
	assert.True(t, report.Results[0].Success)
	assert.Contains(t, report.Results[1].Error, "expected query type")
	assert.NotEmpty(t, report.Results[3].Error)
	assert.LessOrEqual(t, report.MinTimeMS, report.AvgTimeMS)
	assert.LessOrEqual(t, report.AvgTimeMS, report.MaxTimeMS)
}

func TestEvaluator_RespectsParallelism(t *testing.T) {
	var inFlight, peak int32
	release := make(chan struct{})

	engine := answerFunc(func(context.Context, string) (*query.Response, error) {
		n := atomic.AddInt32(&inFlight, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		<-release
		atomic.AddInt32(&inFlight, -1)
		return typedAnswer(query.TypeFallback), nil
	})

	cases := make([]Case, 8)
	for i := range cases {
		cases[i] = Case{Query: "q"}
	}

	done := make(chan *Report)
	go func() {
		report, _ := NewEvaluator(engine, 3).Run(context.Background(), Battery{Name: "p", Cases: cases})
		done <- report
	}()
	close(release)
	report := <-done

	require.NotNil(t, report)
	assert.Equal(t, 8, report.Successful)
	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(3))
}

func TestEvaluator_EmptyBattery(t *testing.T) {
	_, err := NewEvaluator(nil, 1).Run(context.Background(), Battery{})
	assert.ErrorIs(t, err, ErrEmptyBattery)
}

func TestEvaluator_CancelledRun(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	engine := answerFunc(func(ctx context.Context, _ string) (*query.Response, error) {
		return nil, ctx.Err()
	})
	_, err := NewEvaluator(engine, 1).Run(ctx, DefaultBattery())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLoadBattery(t *testing.T) {
	path := filepath.Join(t.TempDir(), "battery.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
name: humo
cases:
  - query: "¿Cuántas personas están registradas en total?"
    expectedType: precomputed
  - query: "   "
  - query: "¿Cuántas mujeres hay?"
    category: genero
`), 0o600))

	b, err := LoadBattery(path)
	require.NoError(t, err)
	assert.Equal(t, "humo", b.Name)
	require.Len(t, b.Cases, 2)
	assert.Equal(t, query.TypePrecomputed, b.Cases[0].ExpectedType)
	assert.Equal(t, "genero", b.Cases[1].Category)

	_, err = ParseBattery([]byte("cases: []"))
	assert.ErrorIs(t, err, ErrEmptyBattery)

	_, err = LoadBattery(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestGenerateReport(t *testing.T) {
	e := NewEvaluator(nil, 1)
	text := e.GenerateReport(summarize("unit", []Result{
		{Query: "a", QueryType: query.TypePrecomputed, Success: true, ProcessingTimeMS: 1},
		{Query: "b", QueryType: query.TypeError, Error: "boom", ProcessingTimeMS: 3},
	}))

	assert.Contains(t, text, "Evaluation Report (unit)")
	assert.Contains(t, text, "Successful: 1 (50.0%)")
	assert.Contains(t, text, "[FAIL] b (error, 3.00ms) - boom")
	assert.Contains(t, text, "- precomputed: 1")
}
