package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	_ "github.com/lib/pq"

	"github.com/liamcoop/formulas/catalog"
	"github.com/liamcoop/formulas/formulas"
	"github.com/liamcoop/formulas/formulaservice"
	"github.com/liamcoop/formulas/internal/config"
	"github.com/liamcoop/formulas/internal/logger"
	"github.com/liamcoop/formulas/migrations"
)

type Server struct {
	db     *sql.DB // nil when running on the in-memory store
	svc    *formulaservice.Service
	router *chi.Mux
}

// NewServer wires the HTTP routes over svc
func NewServer(svc *formulaservice.Service, db *sql.DB) *Server {
	s := &Server{db: db, svc: svc}
	s.setupRoutes()
	return s
}

// Build creates the store, engine and service described by cfg
func Build(ctx context.Context, cfg config.Config) (*Server, error) {
	cat := catalog.Default()
	if cfg.CatalogPath != "" {
		var err error
		cat, err = catalog.LoadFile(cfg.CatalogPath)
		if err != nil {
			return nil, err
		}
	}
	logger.Info("input catalog loaded", "inputs", cat.Len(), "categories", len(cat.Categories()))

	var (
		db    *sql.DB
		store formulas.ConfigStore
	)
	if cfg.UsesDatabase() {
		if cfg.MigrateOnStart {
			if err := migrations.Up(cfg.DatabaseURL); err != nil {
				return nil, err
			}
			logger.Info("database migrations applied")
		}

		var err error
		db, err = sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		if err := db.PingContext(ctx); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to ping database: %w", err)
		}
		store = formulas.NewPostgresConfigStore(db)
	} else {
		logger.Warn("DATABASE_URL not set, formulas are kept in memory only")
		store = formulas.NewInMemoryConfigStore()
	}

	engine, err := formulas.NewEngine(store, formulas.EngineOptions{
		ProgramCacheSize: cfg.ProgramCacheSize,
		CostLimit:        cfg.EvalCostLimit,
		Cache:            formulas.NewInMemoryActiveCache(formulas.CacheConfig{TTL: cfg.ActiveCacheTTL}),
	})
	if err != nil {
		return nil, err
	}

	svc := formulaservice.New(engine, cat)
	if cfg.SeedGlobalDefaults {
		if _, err := svc.SeedGlobalDefaults(ctx); err != nil {
			return nil, fmt.Errorf("failed to seed global defaults: %w", err)
		}
	}

	return NewServer(svc, db), nil
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/api/v1/health", s.handleHealth)

	r.Route("/api/v1/formulas", func(r chi.Router) {
		r.Get("/inputs", s.handleListInputs)
		r.Post("/validate", s.handleValidate)
		r.Post("/preview", s.handlePreview)
		r.Post("/evaluate", s.handleEvaluate)
		r.Get("/active", s.handleGetActiveFormula)

		r.Get("/", s.handleListFormulas)
		r.Post("/", s.handleCreateFormula)
		r.Get("/{formulaId}", s.handleGetFormula)
		r.Patch("/{formulaId}/activate", s.handleActivateFormula)
	})

	r.Route("/api/v1/reports/{reportId}", func(r chi.Router) {
		r.Post("/formulas/seed", s.handleSeedDefaults)
		r.Post("/recalculate", s.handleRecalculate)
	})

	s.router = r
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("invalid configuration", "error", err)
	}

	ctx := context.Background()
	if err := logger.Init(ctx, logger.Options{
		Level:       cfg.LogLevel,
		SampleRate:  cfg.ErrorSampleRate,
		OTELEnabled: cfg.OTELEnabled,
		ServiceName: cfg.OTELServiceName,
	}); err != nil {
		logger.Warn("logger setup degraded", "error", err)
	}

	server, err := Build(ctx, cfg)
	if err != nil {
		logger.Fatal("failed to create server", "error", err)
	}
	if server.db != nil {
		defer server.db.Close()
	}

	httpServer := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      server,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server starting", "port", cfg.Port)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed to start", "error", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}
	if err := logger.Shutdown(shutdownCtx); err != nil {
		fmt.Fprintf(os.Stderr, "logger shutdown error: %v\n", err)
	}

	logger.Info("server stopped")
}
