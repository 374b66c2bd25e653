// Command astrad runs the Astra core service: the run execution engine, the
// REST API and the live event stream for the desktop client.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"

	astrahttp "github.com/astrahq/astra/internal/adapter/http"
	astranats "github.com/astrahq/astra/internal/adapter/nats"
	"github.com/astrahq/astra/internal/adapter/otel"
	"github.com/astrahq/astra/internal/adapter/postgres"
	"github.com/astrahq/astra/internal/adapter/ristretto"
	"github.com/astrahq/astra/internal/adapter/ws"
	"github.com/astrahq/astra/internal/config"
	"github.com/astrahq/astra/internal/logger"
	"github.com/astrahq/astra/internal/port/skill"
	"github.com/astrahq/astra/internal/service"
	"github.com/astrahq/astra/internal/skills/conflictscan"
	"github.com/astrahq/astra/internal/skills/desktop"
	"github.com/astrahq/astra/internal/skills/memorysave"
	"github.com/astrahq/astra/internal/skills/remindercreate"
	"github.com/astrahq/astra/internal/skills/report"
	"github.com/astrahq/astra/internal/skills/webresearch"
)

func main() {
	if err := run(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log := logger.New(cfg.Logging)
	slog.SetDefault(log)

	slog.Info("config loaded",
		"port", cfg.Server.Port,
		"log_level", cfg.Logging.Level,
		"pg_max_conns", cfg.Postgres.MaxConns,
	)

	ctx := context.Background()

	// --- Infrastructure ---

	// PostgreSQL
	pool, err := postgres.NewPool(ctx, cfg.Postgres)
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	defer pool.Close()
	slog.Info("postgres connected")

	if err := postgres.RunMigrations(ctx, cfg.Postgres.DSN); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}
	slog.Info("migrations applied")

	// NATS (desktop worker bridge and reminder fan-out)
	queue, err := astranats.Connect(ctx, cfg.NATS.URL)
	if err != nil {
		return fmt.Errorf("nats: %w", err)
	}
	defer func() { _ = queue.Drain() }()

	// Snapshot cache
	cache, err := ristretto.New(cfg.Snapshot.CacheMaxMB << 20)
	if err != nil {
		return fmt.Errorf("cache: %w", err)
	}
	defer cache.Close()

	// Metrics
	shutdownMetrics, err := otel.InitMetrics(ctx, cfg.Metrics, cfg.Logging.Service)
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownMetrics(shutdownCtx)
	}()
	metrics, err := otel.NewMetrics()
	if err != nil {
		return fmt.Errorf("metrics instruments: %w", err)
	}

	// --- Services ---
	store := postgres.NewStore(pool)
	events := postgres.NewEventLog(pool)
	hub := ws.NewHub(events)

	approvals := service.NewApprovalService(store, hub, metrics, cfg.Engine.ApprovalTimeout)
	reminders := service.NewReminderService(store, events, hub, queue, log)
	snapshots := service.NewSnapshotService(store, events, cache, cfg.Snapshot, log)

	registry := skill.NewRegistry()
	for _, sk := range []skill.Skill{
		webresearch.New(nil),
		memorysave.New(store),
		remindercreate.New(store, reminders),
		conflictscan.New(store),
		report.New(store),
		desktop.NewComputer(queue),
		desktop.NewShell(queue),
		desktop.NewBrowser(queue),
	} {
		if err := registry.Register(sk); err != nil {
			return fmt.Errorf("register skill: %w", err)
		}
	}

	engine := service.NewEngine(store, events, hub, registry, approvals, metrics, cfg.Engine, log)
	defer engine.Shutdown()

	if err := reminders.Start(ctx); err != nil {
		return fmt.Errorf("reminder scheduler: %w", err)
	}
	defer reminders.Stop()

	// Pick runs left running by a previous process back up.
	if err := engine.Recover(ctx); err != nil {
		return fmt.Errorf("recover: %w", err)
	}

	// --- HTTP ---
	handlers := &astrahttp.Handlers{
		Engine:    engine,
		Approvals: approvals,
		Snapshots: snapshots,
		Reminders: reminders,
		Store:     store,
		Events:    events,
		Registry:  registry,
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(astrahttp.CORS(cfg.Server.CORSOrigin))
	r.Use(astrahttp.Logger)
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(30 * time.Second))

	// Health endpoint with service status
	r.Get("/health", healthHandler(cfg, pool, queue))

	// Live run event stream
	r.Get("/ws/runs/{id}", hub.HandleRunEvents)

	// API routes
	astrahttp.MountRoutes(r, handlers)

	addr := ":" + cfg.Server.Port

	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// Graceful shutdown
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		slog.Info("starting server", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
		}
	}()

	<-done
	slog.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return srv.Shutdown(shutdownCtx)
}

// healthHandler returns an http.HandlerFunc that reports service health.
func healthHandler(cfg *config.Config, pool *pgxpool.Pool, queue *astranats.Queue) http.HandlerFunc {
	type healthStatus struct {
		Status        string `json:"status"`
		Postgres      string `json:"postgres"`
		NATS          string `json:"nats"`
		SchemaVersion int64  `json:"schema_version,omitempty"`
	}

	return func(w http.ResponseWriter, r *http.Request) {
		status := healthStatus{Status: "ok", Postgres: "ok", NATS: "ok"}

		if err := pool.Ping(r.Context()); err != nil {
			status.Status = "degraded"
			status.Postgres = "unreachable"
		}
		if !queue.IsConnected() {
			status.Status = "degraded"
			status.NATS = "disconnected"
		}
		if v, err := postgres.MigrationVersion(r.Context(), cfg.Postgres.DSN); err == nil {
			status.SchemaVersion = v
		}

		code := http.StatusOK
		if status.Status != "ok" {
			code = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(status)
	}
}
