package api

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"

	"github.com/personas-nlq/backend/internal/api/handlers"
	"github.com/personas-nlq/backend/internal/metrics"
	"github.com/personas-nlq/backend/internal/middleware/ratelimit"
	"github.com/personas-nlq/backend/internal/middleware/security"
	"github.com/personas-nlq/backend/internal/middleware/validation"
)

const APIPrefix = "/api/v1"

type Handlers struct {
	Query      *handlers.QueryHandler
	System     *handlers.SystemHandler
	Evaluation *handlers.EvaluationHandler
	Logs       *handlers.LogsHandler
	Personas   *handlers.PersonasHandler
	WebSocket  *handlers.WebSocketHandler
}

type Config struct {
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	BodyLimit      int
	AllowedOrigins string
	MaxQueryLength int
	IsDevelopment  bool
	// RequestLog enables Fiber's access log.
	RequestLog bool
	// RateLimiter is optional; nil disables admission control.
	RateLimiter *ratelimit.RateLimiter
}

// NewApp builds the Fiber application with every route mounted at the
// root and again under APIPrefix.
func NewApp(cfg Config, h Handlers) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:      "personas-nlq",
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		BodyLimit:    cfg.BodyLimit,
	})

	app.Use(recover.New())
	if cfg.RequestLog {
		app.Use(fiberlogger.New())
	}

	origins := cfg.AllowedOrigins
	if origins == "" {
		origins = "*"
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins: origins,
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-Client-ID",
		AllowMethods: "GET, POST, OPTIONS",
	}))
	app.Use(security.HeadersMiddleware(security.HeadersConfig{
		AllowedOrigins: security.ParseOrigins(cfg.AllowedOrigins),
		IsDevelopment:  cfg.IsDevelopment,
	}))

	validate := validation.QuestionMiddleware(validation.Config{
		MaxQueryLength: cfg.MaxQueryLength,
	})

	var limit []fiber.Handler
	if cfg.RateLimiter != nil {
		limit = append(limit, cfg.RateLimiter.Middleware())
	}

	register(app, h, validate, limit)
	register(app.Group(APIPrefix), h, validate, limit)

	return app
}

func register(r fiber.Router, h Handlers, validate fiber.Handler, limit []fiber.Handler) {
	guarded := func(final ...fiber.Handler) []fiber.Handler {
		chain := append([]fiber.Handler{}, limit...)
		return append(chain, final...)
	}

	r.Post("/consulta-natural", guarded(validate, h.Query.HandleQuery)...)
	r.Post("/query", guarded(validate, h.Query.HandleQuery)...)
	r.Post("/evaluate", guarded(h.Evaluation.Evaluate)...)

	r.Get("/health", h.System.Health)
	r.Get("/metrics", h.System.Metrics)
	r.Get("/metrics/prometheus", metrics.MetricsHandler())
	r.Get("/academic-examples", h.System.AcademicExamples)
	r.Get("/documentation", h.System.Documentation)

	r.Get("/logs", h.Logs.List)
	r.Get("/personas", guarded(h.Personas.List)...)
	r.Post("/personas", guarded(h.Personas.Create)...)

	r.Get("/ws/consulta", upgradeOnly, websocket.New(h.WebSocket.HandleConnection))
}

func upgradeOnly(c *fiber.Ctx) error {
	if websocket.IsWebSocketUpgrade(c) {
		return c.Next()
	}
	return fiber.ErrUpgradeRequired
}
