// Package app assembles the service from configuration: the record store,
// dataset cache, LLM client, audit log and the answer engine on top.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/personas-nlq/backend/internal/api"
	"github.com/personas-nlq/backend/internal/api/handlers"
	"github.com/personas-nlq/backend/internal/audit"
	"github.com/personas-nlq/backend/internal/cache/dataset"
	"github.com/personas-nlq/backend/internal/cache/redis"
	"github.com/personas-nlq/backend/internal/evaluation"
	"github.com/personas-nlq/backend/internal/llm"
	"github.com/personas-nlq/backend/internal/middleware/ratelimit"
	"github.com/personas-nlq/backend/internal/persons"
	"github.com/personas-nlq/backend/internal/query"
	"github.com/personas-nlq/backend/internal/storage/firestore"
	"github.com/personas-nlq/backend/internal/storage/models"
	"github.com/personas-nlq/backend/internal/storage/mongo"
	"github.com/personas-nlq/backend/internal/storage/sqlite"
	"github.com/personas-nlq/backend/pkg/config"
	"github.com/personas-nlq/backend/pkg/logger"
)

type App struct {
	Config    *config.Config
	Store     models.Source
	SQLite    *sqlite.Client
	Redis     *redis.Client
	Cache     *dataset.Cache
	LLM       *llm.Client
	Audit     *audit.Logger
	Engine    *query.Engine
	Evaluator *evaluation.Evaluator
	Registry  *persons.Registry

	closers []func(context.Context) error
}

// New connects every dependency named in cfg. Only the record store is
// mandatory; Redis, the LLM and the SQLite audit backup degrade to
// warnings when unavailable.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	a := &App{Config: cfg}

	if err := a.openStore(ctx); err != nil {
		a.Close(context.Background())
		return nil, err
	}

	var opts []dataset.Option
	if cfg.Redis.Enabled {
		rc, err := redis.NewClient(ctx, cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			logger.Warn("Redis unavailable, dataset snapshots disabled", zap.Error(err))
		} else {
			a.Redis = rc
			a.closers = append(a.closers, func(context.Context) error { return rc.Close() })
			opts = append(opts, dataset.WithSnapshotStore(rc))
		}
	}

	ttl := time.Duration(cfg.Cache.TTLMinutes) * time.Minute
	a.Cache = dataset.New(persons.NewRepository(a.Store), ttl, opts...)

	llmClient, err := llm.New(ctx, llm.Config{
		Provider:    cfg.LLM.Provider,
		Model:       cfg.LLM.Model,
		APIKey:      cfg.LLM.APIKey,
		BaseURL:     cfg.LLM.BaseURL,
		Temperature: cfg.LLM.Temperature,
		MaxTokens:   cfg.LLM.MaxTokens,
		Timeout:     time.Duration(cfg.LLM.TimeoutSec) * time.Second,
		MaxAttempts: cfg.LLM.MaxAttempts,
		BackoffBase: time.Duration(cfg.LLM.BackoffBaseSec * float64(time.Second)),
		CacheSize:   cfg.LLM.CacheSize,
		CacheTTL:    ttl,
	})
	if err != nil {
		logger.Warn("LLM disabled, answers will use local rules only", zap.Error(err))
	} else {
		a.LLM = llmClient
	}

	var completer query.Completer
	if a.LLM != nil {
		completer = a.LLM
	}
	var sink query.AuditSink
	if cfg.Audit.Enabled {
		a.Audit = audit.NewLogger(a.auditSinks()...)
		sink = a.Audit
	}

	a.Engine = query.NewEngine(a.Cache, completer, sink, query.EngineConfig{
		SampleSize: cfg.Query.SampleSize,
	})
	a.Evaluator = evaluation.NewEvaluator(a.Engine, cfg.Evaluation.Parallelism)

	if w, ok := a.Store.(models.PersonWriter); ok {
		var recorder persons.AuditRecorder
		if a.Audit != nil {
			recorder = a.Audit
		}
		a.Registry = persons.NewRegistry(w, a.Cache, recorder)
	}

	return a, nil
}

func (a *App) openStore(ctx context.Context) error {
	cfg := a.Config

	switch cfg.Store.Driver {
	case config.StoreMongo:
		mc, err := mongo.NewClient(ctx, mongo.Config{
			URI:            cfg.Mongo.URI,
			Database:       cfg.Mongo.Database,
			Collection:     cfg.Mongo.Collection,
			LogsCollection: cfg.Mongo.LogsCollection,
			Timeout:        time.Duration(cfg.Mongo.TimeoutSec) * time.Second,
		})
		if err != nil {
			return err
		}
		a.Store = mc
		a.closers = append(a.closers, mc.Close)
		a.openSQLiteBackup()

	case config.StoreFirestore:
		fc, err := firestore.NewClient(ctx, firestore.Config{
			ProjectID:       cfg.Firestore.ProjectID,
			CredentialsFile: cfg.Firestore.CredentialsFile,
			Collection:      cfg.Firestore.Collection,
		})
		if err != nil {
			return err
		}
		a.Store = fc
		a.closers = append(a.closers, fc.Close)
		a.openSQLiteBackup()

	case config.StoreSQLite:
		sc, err := OpenSQLite(cfg.SQLite.Path)
		if err != nil {
			return err
		}
		a.Store = sc
		a.SQLite = sc
		a.closers = append(a.closers, sc.Close)

	default:
		return fmt.Errorf("unsupported store driver %q", cfg.Store.Driver)
	}
	return nil
}

// openSQLiteBackup opens the local database used as the audit backup when
// the record store lives elsewhere.
func (a *App) openSQLiteBackup() {
	if !a.Config.Audit.Enabled || a.Config.SQLite.Path == "" {
		return
	}
	sc, err := OpenSQLite(a.Config.SQLite.Path)
	if err != nil {
		logger.Warn("SQLite audit backup unavailable", zap.Error(err))
		return
	}
	a.SQLite = sc
	a.closers = append(a.closers, sc.Close)
}

// OpenSQLite opens path, creating its directory, and applies the schema.
func OpenSQLite(path string) (*sqlite.Client, error) {
	if path != ":memory:" && !strings.HasPrefix(path, "file:") {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create sqlite directory: %w", err)
		}
	}
	sc, err := sqlite.NewClient(path)
	if err != nil {
		return nil, err
	}
	if err := sc.InitSchema(); err != nil {
		sc.Close(context.Background())
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return sc, nil
}

func (a *App) auditSinks() []audit.Sink {
	var sinks []audit.Sink
	if s, ok := a.Store.(audit.Sink); ok && !a.storeIsSQLite() {
		sinks = append(sinks, s)
	}
	if a.SQLite != nil {
		sinks = append(sinks, a.SQLite)
	}
	return sinks
}

func (a *App) storeIsSQLite() bool {
	return a.Config.Store.Driver == config.StoreSQLite
}

// Probes lists the dependencies GET /health checks.
func (a *App) Probes() []handlers.Probe {
	probes := []handlers.Probe{{Name: a.Store.Name(), Check: a.Store.Ping}}
	if a.SQLite != nil && !a.storeIsSQLite() {
		probes = append(probes, handlers.Probe{Name: "sqlite_audit", Check: a.SQLite.Ping})
	}
	if a.Redis != nil {
		probes = append(probes, handlers.Probe{Name: "redis", Check: a.Redis.Ping})
	}
	return probes
}

// Battery returns the configured evaluation battery, or the built-in one.
func (a *App) Battery() (evaluation.Battery, error) {
	if a.Config.Evaluation.BatteryFile == "" {
		return evaluation.DefaultBattery(), nil
	}
	return evaluation.LoadBattery(a.Config.Evaluation.BatteryFile)
}

// Handlers wires the HTTP handlers to the application's components.
func (a *App) Handlers(version string) (api.Handlers, error) {
	battery, err := a.Battery()
	if err != nil {
		return api.Handlers{}, err
	}

	var llmStatus handlers.LLMStatus
	if a.LLM != nil {
		llmStatus = a.LLM
	}
	var registrar handlers.Registrar
	if a.Registry != nil {
		registrar = a.Registry
	}
	var logs handlers.AuditLister = audit.NewLogger()
	if a.Audit != nil {
		logs = a.Audit
	}

	srv := a.Config.Server
	return api.Handlers{
		Query: handlers.NewQueryHandler(a.Engine),
		System: handlers.NewSystemHandler(handlers.SystemConfig{
			Version:   version,
			Probes:    a.Probes(),
			LLM:       llmStatus,
			Cache:     a.Cache,
			Metrics:   a.Engine.Metrics(),
			Questions: a.Engine.Precomputed().Questions(),
		}),
		Evaluation: handlers.NewEvaluationHandler(a.Evaluator, battery),
		Logs:       handlers.NewLogsHandler(logs),
		Personas:   handlers.NewPersonasHandler(a.Cache, registrar),
		WebSocket: handlers.NewWebSocketHandler(a.Engine,
			time.Duration(srv.WriteTimeout)*time.Second, srv.MaxQueryLength),
	}, nil
}

// RouterConfig derives the HTTP settings from the server configuration.
func (a *App) RouterConfig(limiter *ratelimit.RateLimiter) api.Config {
	srv := a.Config.Server
	return api.Config{
		ReadTimeout:    time.Duration(srv.ReadTimeout) * time.Second,
		WriteTimeout:   time.Duration(srv.WriteTimeout) * time.Second,
		BodyLimit:      srv.BodyLimit,
		AllowedOrigins: srv.AllowedOrigins,
		MaxQueryLength: srv.MaxQueryLength,
		IsDevelopment:  srv.IsDevelopment,
		RequestLog:     true,
		RateLimiter:    limiter,
	}
}

// Close releases dependencies in reverse order of opening.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
