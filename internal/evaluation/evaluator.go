package evaluation

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/personas-nlq/backend/internal/query"
	"github.com/personas-nlq/backend/pkg/logger"
)

var ErrEmptyBattery = errors.New("evaluation battery has no cases")

const defaultParallelism = 4

// Answerer is satisfied by *query.Engine.
type Answerer interface {
	Answer(ctx context.Context, question string) (*query.Response, error)
}

type Case struct {
	Query        string `yaml:"query" json:"query"`
	Category     string `yaml:"category,omitempty" json:"category,omitempty"`
	ExpectedType string `yaml:"expectedType,omitempty" json:"expected_type,omitempty"`
}

type Battery struct {
	Name  string `yaml:"name" json:"name"`
	Cases []Case `yaml:"cases" json:"cases"`
}

type Result struct {
	Query            string  `json:"query"`
	Category         string  `json:"category,omitempty"`
	QueryType        string  `json:"query_type"`
	Success          bool    `json:"success"`
	Answer           string  `json:"answer,omitempty"`
	ProcessingTimeMS float64 `json:"processing_time_ms"`
	Error            string  `json:"error,omitempty"`
}

type Report struct {
	Battery      string         `json:"battery"`
	TotalQueries int            `json:"total_queries"`
	Successful   int            `json:"successful"`
	Failed       int            `json:"failed"`
	SuccessRate  float64        `json:"success_rate"`
	AvgTimeMS    float64        `json:"avg_time_ms"`
	MinTimeMS    float64        `json:"min_time_ms"`
	MaxTimeMS    float64        `json:"max_time_ms"`
	ByType       map[string]int `json:"by_query_type"`
	Results      []Result       `json:"results"`
	StartedAt    time.Time      `json:"started_at"`
	DurationMS   float64        `json:"duration_ms"`
}

type Evaluator struct {
	engine      Answerer
	parallelism int
}

func NewEvaluator(engine Answerer, parallelism int) *Evaluator {
	if parallelism <= 0 {
		parallelism = defaultParallelism
	}
	return &Evaluator{
		engine:      engine,
		parallelism: parallelism,
	}
}

// DefaultBattery covers every answer path: precomputed questions, filtered
// questions for the LLM, and lookups the local rules can serve.
func DefaultBattery() Battery {
	return Battery{
		Name: "default",
		Cases: []Case{
			{Query: "¿Cuántas personas están registradas en total?", Category: "conteo", ExpectedType: query.TypePrecomputed},
			{Query: "¿Quién es la persona más joven?", Category: "edad", ExpectedType: query.TypePrecomputed},
			{Query: "¿Quién es la persona mayor?", Category: "edad", ExpectedType: query.TypePrecomputed},
			{Query: "¿Cuál es el promedio de edad?", Category: "edad", ExpectedType: query.TypePrecomputed},
			{Query: "¿Cuál es la distribución por género?", Category: "genero", ExpectedType: query.TypePrecomputed},
			{Query: "¿Quién fue la última persona registrada?", Category: "registro", ExpectedType: query.TypePrecomputed},
			{Query: "¿Cuántas mujeres mayores de 30 años hay?", Category: "filtro"},
			{Query: "¿Cuántos hombres nacieron en abril?", Category: "filtro"},
			{Query: "¿Qué porcentaje de personas son menores de edad?", Category: "estadistica"},
			{Query: "Compara la edad promedio entre hombres y mujeres", Category: "comparacion"},
		},
	}
}

// LoadBattery reads a battery from a YAML file.
func LoadBattery(path string) (Battery, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Battery{}, fmt.Errorf("failed to read battery file: %w", err)
	}
	return ParseBattery(data)
}

func ParseBattery(data []byte) (Battery, error) {
	var b Battery
	if err := yaml.Unmarshal(data, &b); err != nil {
		return Battery{}, fmt.Errorf("failed to parse battery: %w", err)
	}

	cases := b.Cases[:0]
	for _, c := range b.Cases {
		c.Query = strings.TrimSpace(c.Query)
		if c.Query != "" {
			cases = append(cases, c)
		}
	}
	b.Cases = cases
	if len(b.Cases) == 0 {
		return Battery{}, ErrEmptyBattery
	}
	if b.Name == "" {
		b.Name = "custom"
	}
	return b, nil
}

// Run sends every case through the engine with bounded parallelism.
// Individual failures are reported in the results; only cancellation of
// ctx fails the run.
func (e *Evaluator) Run(ctx context.Context, battery Battery) (*Report, error) {
	if len(battery.Cases) == 0 {
		return nil, ErrEmptyBattery
	}

	logger.Info("Running evaluation battery",
		zap.String("battery", battery.Name),
		zap.Int("cases", len(battery.Cases)),
		zap.Int("parallelism", e.parallelism),
	)

	started := time.Now()
	results := make([]Result, len(battery.Cases))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.parallelism)

	for i, c := range battery.Cases {
		i, c := i, c
		g.Go(func() error {
			results[i] = e.runCase(gctx, c)
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("evaluation interrupted: %w", err)
	}

	report := summarize(battery.Name, results)
	report.StartedAt = started
	report.DurationMS = float64(time.Since(started).Microseconds()) / 1000

	logger.Info("Evaluation completed",
		zap.String("battery", battery.Name),
		zap.Int("total", report.TotalQueries),
		zap.Int("successful", report.Successful),
		zap.Float64("success_rate", report.SuccessRate),
	)

	return report, nil
}

func (e *Evaluator) runCase(ctx context.Context, c Case) Result {
	r := Result{Query: c.Query, Category: c.Category}

	start := time.Now()
	resp, err := e.engine.Answer(ctx, c.Query)
	r.ProcessingTimeMS = float64(time.Since(start).Microseconds()) / 1000

	if err != nil {
		r.QueryType = query.TypeError
		r.Error = err.Error()
		return r
	}

	r.QueryType = resp.Metadata.QueryType
	r.Answer = resp.Answer
	r.Success = r.QueryType != query.TypeError
	if r.Success && c.ExpectedType != "" && c.ExpectedType != r.QueryType {
		r.Success = false
		r.Error = fmt.Sprintf("expected query type %s, got %s", c.ExpectedType, r.QueryType)
	}
	return r
}

func summarize(name string, results []Result) *Report {
	report := &Report{
		Battery:      name,
		TotalQueries: len(results),
		ByType:       make(map[string]int),
		Results:      results,
	}
	if len(results) == 0 {
		return report
	}

	var total float64
	report.MinTimeMS = math.MaxFloat64
	for _, r := range results {
		if r.Success {
			report.Successful++
		} else {
			report.Failed++
		}
		report.ByType[r.QueryType]++

		total += r.ProcessingTimeMS
		report.MinTimeMS = math.Min(report.MinTimeMS, r.ProcessingTimeMS)
		report.MaxTimeMS = math.Max(report.MaxTimeMS, r.ProcessingTimeMS)
	}

	report.SuccessRate = round2(float64(report.Successful) * 100 / float64(report.TotalQueries))
	report.AvgTimeMS = round2(total / float64(report.TotalQueries))
	report.MinTimeMS = round2(report.MinTimeMS)
	report.MaxTimeMS = round2(report.MaxTimeMS)
	return report
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func (e *Evaluator) GenerateReport(report *Report) string {
	var b strings.Builder

	b.WriteString(fmt.Sprintf("Evaluation Report (%s)\n", report.Battery))
	b.WriteString("=================\n\n")
	b.WriteString(fmt.Sprintf("Total Queries: %d\n", report.TotalQueries))
	b.WriteString(fmt.Sprintf("Successful: %d (%.1f%%)\n", report.Successful, report.SuccessRate))
	b.WriteString(fmt.Sprintf("Failed: %d\n\n", report.Failed))
	b.WriteString(fmt.Sprintf("Response time: avg %.2fms, min %.2fms, max %.2fms\n\n",
		report.AvgTimeMS, report.MinTimeMS, report.MaxTimeMS))

	types := make([]string, 0, len(report.ByType))
	for t := range report.ByType {
		types = append(types, t)
	}
	sort.Strings(types)

	b.WriteString("By query type:\n")
	for _, t := range types {
		b.WriteString(fmt.Sprintf("- %s: %d\n", t, report.ByType[t]))
	}

	b.WriteString("\nResults:\n")
	for _, r := range report.Results {
		status := "OK"
		if !r.Success {
			status = "FAIL"
		}
		b.WriteString(fmt.Sprintf("[%s] %s (%s, %.2fms)", status, r.Query, r.QueryType, r.ProcessingTimeMS))
		if r.Error != "" {
			b.WriteString(" - " + r.Error)
		}
		b.WriteString("\n")
	}

	return b.String()
}
