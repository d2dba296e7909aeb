// Package server assembles the HTTP surface and the background sweeper.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/skinsense/skinsense/ai/llm"
	"github.com/skinsense/skinsense/ai/metrics"
	"github.com/skinsense/skinsense/ai/orchestrator"
	"github.com/skinsense/skinsense/internal/profile"
	apiv1 "github.com/skinsense/skinsense/server/router/api/v1"
	"github.com/skinsense/skinsense/store"
)

type Server struct {
	profile      *profile.Profile
	store        *store.Store
	echoServer   *echo.Echo
	orchestrator *orchestrator.Orchestrator
	exporter     *metrics.PrometheusExporter
}

func NewServer(ctx context.Context, profile *profile.Profile, store *store.Store) (*Server, error) {
	if !profile.IsAIEnabled() {
		return nil, errors.New("llm is not configured; set SKINSENSE_AI_LLM_API_KEY or use the ollama provider")
	}

	llmService, err := llm.NewService(profile)
	if err != nil {
		return nil, fmt.Errorf("failed to create llm service: %w", err)
	}
	slog.Info("llm service initialized", "provider", profile.LLMProvider, "model", profile.LLMModel)

	exporter := metrics.NewPrometheusExporter(metrics.DefaultConfig())
	orch := orchestrator.New(profile, store, llmService, exporter)

	echoServer := echo.New()
	echoServer.HideBanner = true
	echoServer.HidePort = true
	echoServer.Use(middleware.Recover())
	echoServer.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		Generator: uuid.NewString,
	}))
	echoServer.Use(requestLogger())

	echoServer.GET("/healthz", func(c echo.Context) error {
		return c.String(http.StatusOK, "Service ready.")
	})
	echoServer.GET("/metrics", echo.WrapHandler(exporter.Handler()))

	apiv1.NewAPIV1Service(profile, store, orch).Register(echoServer)

	return &Server{
		profile:      profile,
		store:        store,
		echoServer:   echoServer,
		orchestrator: orch,
		exporter:     exporter,
	}, nil
}

// Start runs the HTTP listener and the expiry sweeper until ctx is
// cancelled. It does not block.
func (s *Server) Start(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		address := fmt.Sprintf("%s:%d", s.profile.Addr, s.profile.Port)
		if err := s.echoServer.Start(address); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		s.runSweeper(gctx)
		return nil
	})

	go func() {
		if err := g.Wait(); err != nil {
			slog.Error("server run group exited", "error", err)
		}
	}()

	return nil
}

// runSweeper expires stale sessions and prunes caches on the configured
// interval.
func (s *Server) runSweeper(ctx context.Context) {
	interval := s.profile.SweepInterval
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	slog.Info("session sweeper started", "interval", interval)
	for {
		select {
		case <-ctx.Done():
			slog.Info("session sweeper stopped")
			return
		case <-ticker.C:
			s.orchestrator.SweepExpired(ctx)
		}
	}
}

// Shutdown drains in-flight requests and closes the store.
func (s *Server) Shutdown(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := s.echoServer.Shutdown(ctx); err != nil {
		slog.Error("failed to shut down http server", "error", err)
	}
	if err := s.store.Close(); err != nil {
		slog.Error("failed to close store", "error", err)
	}
	slog.Info("server shut down")
}

func requestLogger() echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:       true,
		LogStatus:    true,
		LogMethod:    true,
		LogLatency:   true,
		LogRequestID: true,
		LogValuesFunc: func(_ echo.Context, v middleware.RequestLoggerValues) error {
			slog.Info("http request",
				"method", v.Method,
				"uri", v.URI,
				"status", v.Status,
				"latency_ms", v.Latency.Milliseconds(),
				"request_id", v.RequestID,
			)
			return nil
		},
	})
}
