// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package librarian is the recommendation backend: an HTTP service that
// answers POST /respond with a server-sent event stream.
//
// # Architecture
//
//	POST /respond
//	   │
//	   ▼
//	CORS ─► RateLimit ─► RespondHandler
//	                        │
//	                        ├─► moderation.Filter  (policy reply on a hit)
//	                        │
//	                        └─► recommender.Recommender
//	                               │
//	                               ├─► retrieval.Index  (badger + embeddings)
//	                               ├─► llm.Client       (title pick, streamed pitch)
//	                               └─► catalog.Catalog  (full summary)
//
// The catalog file can be watched; edits are reloaded and the index is
// brought up to date incrementally.
package librarian

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/smartlibrary/pkg/logging"
	"github.com/AleutianAI/smartlibrary/services/librarian/catalog"
	"github.com/AleutianAI/smartlibrary/services/librarian/handlers"
	"github.com/AleutianAI/smartlibrary/services/librarian/llm"
	"github.com/AleutianAI/smartlibrary/services/librarian/middleware"
	"github.com/AleutianAI/smartlibrary/services/librarian/moderation"
	"github.com/AleutianAI/smartlibrary/services/librarian/observability"
	"github.com/AleutianAI/smartlibrary/services/librarian/recommender"
	"github.com/AleutianAI/smartlibrary/services/librarian/retrieval"
	"github.com/AleutianAI/smartlibrary/services/librarian/telemetry"
)

// =============================================================================
// Configuration
// =============================================================================

// Config configures the librarian service.
type Config struct {
	// Addr is the listen address, e.g. ":8000".
	Addr string

	// ServiceName labels traces from the gin middleware.
	ServiceName string

	// CORSOrigins are the browser origins allowed to call the API.
	CORSOrigins []string

	// RateLimitPerMinute bounds /respond calls per client IP. Zero
	// disables limiting.
	RateLimitPerMinute int

	// TopK is how many candidates are retrieved per request.
	TopK int

	// Heartbeat is the SSE keepalive interval. Zero uses the handler
	// default.
	Heartbeat time.Duration

	// WatchCatalog reloads the catalog and updates the index when the
	// catalog file changes.
	WatchCatalog bool

	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout time.Duration

	// Registry receives the Prometheus collectors and backs /metrics.
	// Nil uses the default registry.
	Registry *prometheus.Registry

	Logger *logging.Logger
}

// DefaultConfig returns the service defaults.
func DefaultConfig() Config {
	return Config{
		Addr:               ":8000",
		ServiceName:        "smartlib-librarian",
		CORSOrigins:        middleware.DefaultCORSOrigins,
		RateLimitPerMinute: 30,
		TopK:               retrieval.DefaultTopK,
		WatchCatalog:       true,
		ShutdownTimeout:    10 * time.Second,
	}
}

// Deps are the components the service is built from.
type Deps struct {
	Catalog     *catalog.Catalog
	Index       *retrieval.Index
	Client      llm.Client
	Moderator   handlers.Moderator
	Instruments *telemetry.Instruments
}

// =============================================================================
// Service
// =============================================================================

// Service is the running librarian backend.
type Service struct {
	cfg     Config
	catalog *catalog.Catalog
	index   *retrieval.Index
	metrics *observability.StreamingMetrics
	router  *gin.Engine
	logger  *logging.Logger
}

// New assembles the service from deps.
//
// # Description
//
// Builds the recommender over the index and catalog, registers the
// streaming metrics and wires the router:
//
//	GET  /healthz   liveness probe
//	POST /respond   recommendation stream
//	GET  /metrics   Prometheus exposition
//
// # Outputs
//
//   - error: Non-nil when a required dependency is missing.
func New(cfg Config, deps Deps) (*Service, error) {
	if deps.Catalog == nil || deps.Index == nil || deps.Client == nil {
		return nil, errors.New("librarian: catalog, index and client are required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = DefaultConfig().ServiceName
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = DefaultConfig().ShutdownTimeout
	}
	moderator := deps.Moderator
	if moderator == nil {
		moderator = moderation.NewFilter()
	}

	var registerer prometheus.Registerer = prometheus.DefaultRegisterer
	var gatherer prometheus.Gatherer = prometheus.DefaultGatherer
	if cfg.Registry != nil {
		registerer, gatherer = cfg.Registry, cfg.Registry
	}
	metrics := observability.NewStreamingMetrics(registerer)

	rec := recommender.New(deps.Client,
		timedRetriever{index: deps.Index, metrics: metrics},
		deps.Catalog,
		recommender.WithTopK(cfg.TopK),
		recommender.WithLogger(logger.With("component", "recommender")),
		recommender.WithInstruments(deps.Instruments),
	)

	handlerOpts := []handlers.HandlerOption{
		handlers.WithMetrics(metrics),
		handlers.WithLogger(logger.With("component", "respond")),
	}
	if cfg.Heartbeat != 0 {
		handlerOpts = append(handlerOpts, handlers.WithHeartbeat(cfg.Heartbeat))
	}
	respond := handlers.NewRespondHandler(rec, moderator, handlerOpts...)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(cfg.ServiceName))
	router.Use(middleware.CORS(cfg.CORSOrigins))

	router.GET("/healthz", handlers.Healthz)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	router.POST("/respond",
		middleware.RateLimit(middleware.RateLimitConfig{
			PerMinute: cfg.RateLimitPerMinute,
			OnLimited: func(*gin.Context) { metrics.RecordError(observability.ErrorCodeRateLimited) },
		}),
		respond.Respond,
	)

	return &Service{
		cfg:     cfg,
		catalog: deps.Catalog,
		index:   deps.Index,
		metrics: metrics,
		router:  router,
		logger:  logger,
	}, nil
}

// Router returns the HTTP handler.
func (s *Service) Router() http.Handler {
	return s.router
}

// SyncIndex brings the index in line with the current catalog.
func (s *Service) SyncIndex(ctx context.Context, force bool) (retrieval.BuildResult, error) {
	started := time.Now()
	res, err := s.index.Build(ctx, s.catalog.Books(), force)
	if err != nil {
		return res, fmt.Errorf("sync index: %w", err)
	}
	s.logger.Info("index synced",
		"added", res.Added,
		"skipped", res.Skipped,
		"removed", res.Removed,
		"duration_ms", time.Since(started).Milliseconds(),
	)
	return res, nil
}

// Run serves HTTP until ctx is cancelled, then shuts down gracefully.
//
// # Description
//
// Runs the HTTP server and, when enabled, the catalog watcher in one
// errgroup. Cancelling ctx stops both; in-flight streams get
// ShutdownTimeout to finish.
//
// # Outputs
//
//   - error: The first failure of the server or the watcher. nil after
//     a clean shutdown.
func (s *Service) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.cfg.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (s *Service) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.logger.Info("librarian listening", "addr", ln.Addr().String())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve http: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn("graceful shutdown incomplete", "error", err)
		}
		return nil
	})

	if s.cfg.WatchCatalog && s.catalog.Path() != "" {
		g.Go(func() error {
			return s.catalog.Watch(gctx, catalog.DefaultDebounce, func(_ *catalog.Catalog, err error) {
				if err != nil {
					return
				}
				if _, err := s.SyncIndex(gctx, false); err != nil {
					s.logger.Error("index update after catalog reload failed", "error", err)
				}
			}, s.logger.With("component", "catalog"))
		})
	}

	err := g.Wait()
	s.logger.Info("librarian stopped")
	return err
}

// timedRetriever records retrieval latency around the index.
type timedRetriever struct {
	index   *retrieval.Index
	metrics *observability.StreamingMetrics
}

func (t timedRetriever) Query(ctx context.Context, text string, k int) ([]retrieval.Hit, error) {
	started := time.Now()
	hits, err := t.index.Query(ctx, text, k)
	t.metrics.RecordRetrieval(time.Since(started).Seconds())
	return hits, err
}
