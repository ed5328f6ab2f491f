package handlers

import (
	"context"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"golang.org/x/sync/errgroup"

	"github.com/personas-nlq/backend/internal/cache/dataset"
	"github.com/personas-nlq/backend/internal/query"
)

const defaultProbeTimeout = 3 * time.Second

// Probe checks one dependency for GET /health.
type Probe struct {
	Name  string
	Check func(ctx context.Context) error
}

// LLMStatus is satisfied by *llm.Client.
type LLMStatus interface {
	Provider() string
	Model() string
	BreakerState() string
	Available() bool
}

// CacheStatter is satisfied by *dataset.Cache.
type CacheStatter interface {
	Stats() dataset.Stats
}

type SystemConfig struct {
	Version      string
	Probes       []Probe
	LLM          LLMStatus
	Cache        CacheStatter
	Metrics      *query.SystemMetrics
	Questions    []string
	ProbeTimeout time.Duration
}

type SystemHandler struct {
	cfg SystemConfig
}

func NewSystemHandler(cfg SystemConfig) *SystemHandler {
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = defaultProbeTimeout
	}
	if cfg.Metrics == nil {
		cfg.Metrics = query.NewSystemMetrics()
	}
	return &SystemHandler{cfg: cfg}
}

type serviceStatus struct {
	Status    string  `json:"status"`
	LatencyMS float64 `json:"latency_ms"`
	Error     string  `json:"error,omitempty"`
}

var capabilities = []string{
	"consulta_natural",
	"respuestas_precalculadas",
	"filtros_por_edad_genero_mes",
	"estadisticas_demograficas",
	"respaldo_local_sin_llm",
	"cache_de_datos",
	"auditoria",
	"evaluacion",
	"websocket",
}

// Health probes every dependency in parallel. A failing dependency
// degrades the status but the endpoint still answers 200.
func (h *SystemHandler) Health(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), h.cfg.ProbeTimeout)
	defer cancel()

	var mu sync.Mutex
	services := make(map[string]serviceStatus, len(h.cfg.Probes))

	var g errgroup.Group
	for _, p := range h.cfg.Probes {
		p := p
		g.Go(func() error {
			start := time.Now()
			err := p.Check(ctx)
			s := serviceStatus{Status: "up", LatencyMS: float64(time.Since(start).Microseconds()) / 1000}
			if err != nil {
				s.Status = "down"
				s.Error = err.Error()
			}
			mu.Lock()
			services[p.Name] = s
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	status := "ok"
	for _, s := range services {
		if s.Status != "up" {
			status = "degraded"
		}
	}

	llmInfo := h.llmInfo()
	if available, _ := llmInfo["available"].(bool); !available {
		status = "degraded"
	}

	return c.JSON(fiber.Map{
		"status":       status,
		"service":      "personas-nlq",
		"version":      h.cfg.Version,
		"timestamp":    time.Now().UTC(),
		"services":     services,
		"llm":          llmInfo,
		"metrics":      h.cfg.Metrics.Snapshot(),
		"capabilities": capabilities,
	})
}

func (h *SystemHandler) llmInfo() fiber.Map {
	if h.cfg.LLM == nil {
		return fiber.Map{"configured": false, "available": false}
	}
	return fiber.Map{
		"configured":    true,
		"available":     h.cfg.LLM.Available(),
		"provider":      h.cfg.LLM.Provider(),
		"model":         h.cfg.LLM.Model(),
		"circuit_state": h.cfg.LLM.BreakerState(),
	}
}

// Metrics serves the JSON counters with cache freshness.
func (h *SystemHandler) Metrics(c *fiber.Ctx) error {
	body := fiber.Map{
		"system":    h.cfg.Metrics.Snapshot(),
		"llm":       h.llmInfo(),
		"timestamp": time.Now().UTC(),
	}
	if h.cfg.Cache != nil {
		body["cache"] = h.cfg.Cache.Stats()
	}
	return c.JSON(body)
}

func (h *SystemHandler) AcademicExamples(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"descripcion": "Ejemplos de consultas en lenguaje natural agrupadas por tipo de análisis",
		"categorias": []fiber.Map{
			{
				"nombre":      "Conteos simples",
				"complejidad": string(query.ComplexitySimple),
				"ejemplos": []string{
					"¿Cuántas personas están registradas en total?",
					"¿Cuántas mujeres hay registradas?",
					"¿Cuántos hombres hay registrados?",
				},
			},
			{
				"nombre":      "Análisis de edad",
				"complejidad": string(query.ComplexityModerate),
				"ejemplos": []string{
					"¿Cuál es el promedio de edad?",
					"¿Quién es la persona más joven?",
					"¿Cuántas personas son mayores de 30 años?",
					"¿Cuántas personas tienen entre 20 y 40 años?",
				},
			},
			{
				"nombre":      "Análisis temporal",
				"complejidad": string(query.ComplexityModerate),
				"ejemplos": []string{
					"¿Cuántas personas nacieron en abril?",
					"¿En qué mes nacen más personas?",
					"¿Quién fue la última persona registrada?",
				},
			},
			{
				"nombre":      "Consultas combinadas",
				"complejidad": string(query.ComplexityComplex),
				"ejemplos": []string{
					"¿Cuántos hombres de más de 25 años nacieron en abril?",
					"Compara la edad promedio entre hombres y mujeres",
					"¿Qué porcentaje de mujeres son menores de edad?",
				},
			},
		},
	})
}

func (h *SystemHandler) Documentation(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"servicio": "personas-nlq",
		"version":  h.cfg.Version,
		"endpoints": []fiber.Map{
			{"metodo": "POST", "ruta": "/consulta-natural", "descripcion": "Responde una consulta en lenguaje natural. Cuerpo: {\"consulta\": \"...\"}"},
			{"metodo": "POST", "ruta": "/query", "descripcion": "Alias de /consulta-natural. Cuerpo: {\"query\": \"...\"}"},
			{"metodo": "GET", "ruta": "/health", "descripcion": "Estado del servicio y sus dependencias"},
			{"metodo": "GET", "ruta": "/metrics", "descripcion": "Métricas del sistema y del cache de datos"},
			{"metodo": "GET", "ruta": "/metrics/prometheus", "descripcion": "Métricas en formato Prometheus"},
			{"metodo": "GET", "ruta": "/academic-examples", "descripcion": "Ejemplos de consultas"},
			{"metodo": "POST", "ruta": "/evaluate", "descripcion": "Ejecuta la batería de evaluación"},
			{"metodo": "GET", "ruta": "/logs", "descripcion": "Registro de auditoría. Parámetros: accion, texto, desde, hasta, limit"},
			{"metodo": "GET", "ruta": "/personas", "descripcion": "Personas enriquecidas. Parámetro: refresh=true"},
			{"metodo": "POST", "ruta": "/personas", "descripcion": "Registra una persona validada en la base de datos"},
			{"metodo": "GET", "ruta": "/ws/consulta", "descripcion": "Consultas por WebSocket con respuesta por partes"},
		},
		"prefijo_alternativo": "/api/v1",
		"tipos_de_respuesta": fiber.Map{
			query.TypePrecomputed: "Respuesta precalculada sin LLM",
			query.TypeAI:          "Respuesta generada por el LLM a partir de los datos filtrados",
			query.TypeFallback:    "Respuesta local por reglas cuando el LLM no está disponible",
			query.TypeError:       "No fue posible responder",
		},
		"consultas_precalculadas": h.cfg.Questions,
	})
}
