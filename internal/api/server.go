// Package api exposes the scan service over HTTP.
package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/CodeMonkeyCybersecurity/websentry/internal/config"
	"github.com/CodeMonkeyCybersecurity/websentry/internal/core"
	"github.com/CodeMonkeyCybersecurity/websentry/internal/logger"
	"github.com/CodeMonkeyCybersecurity/websentry/internal/orchestrator"
	"github.com/CodeMonkeyCybersecurity/websentry/pkg/types"
)

// ScanService is the subset of the orchestrator service the API needs.
type ScanService interface {
	StartScan(ctx context.Context, targetURL string, profile types.ScanProfile) (string, error)
	GetScan(ctx context.Context, scanID string) (*types.Scan, error)
	ListScans(ctx context.Context, filter core.ScanFilter) ([]*types.Scan, error)
	GetFindings(ctx context.Context, scanID string) ([]types.Finding, error)
	GetDetectorFailures(ctx context.Context, scanID string) ([]types.DetectorFailure, error)
	GetRiskScore(ctx context.Context, scanID string) (types.RiskScore, error)
	Report(ctx context.Context, scanID string) (*types.Report, error)
	Cancel(ctx context.Context, scanID string) error
	Events() *orchestrator.Broker
}

// HealthChecker reports whether a dependency is reachable.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

type Server struct {
	svc    ScanService
	health HealthChecker
	cfg    config.Config
	router *gin.Engine
	logger *logger.Logger

	// streamPoll is how often the finding stream re-reads the store.
	streamPoll time.Duration
}

func NewServer(cfg config.Config, svc ScanService, health HealthChecker, log *logger.Logger) *Server {
	if log == nil {
		log = logger.Nop()
	}
	s := &Server{
		svc:        svc,
		health:     health,
		cfg:        cfg,
		logger:     log.WithComponent("api"),
		streamPoll: 2 * time.Second,
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(LoggingMiddleware(s.logger))
	if s.cfg.Server.CORS {
		router.Use(CORSMiddleware())
	}
	if s.cfg.Security.RateLimit.RequestsPerSecond > 0 {
		router.Use(RateLimitMiddleware(s.cfg.Security.RateLimit))
	}
	if s.cfg.Security.APIKey != "" {
		router.Use(AuthMiddleware(s.cfg.Security.APIKey, s.logger))
	} else {
		s.logger.Warnw("API key not configured, API is unauthenticated",
			"hint", "Set WEBSENTRY_SECURITY_API_KEY or security.api_key in the config file",
		)
	}

	router.GET("/health", s.handleHealth)

	scans := router.Group("/api/scans")
	scans.POST("", s.handleStartScan)
	scans.GET("", s.handleListScans)
	scans.GET("/:id", s.handleGetScan)
	scans.GET("/:id/findings", s.handleGetFindings)
	scans.GET("/:id/risk", s.handleGetRisk)
	scans.GET("/:id/report", s.handleGetReport)
	scans.POST("/:id/cancel", s.handleCancel)
	scans.GET("/:id/stream", s.handleStream)

	return router
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	addr := net.JoinHostPort(s.cfg.Server.Host, strconv.Itoa(s.cfg.Server.Port))
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Infow("API server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("api server failed: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	s.logger.Infow("Shutting down API server")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("api server shutdown: %w", err)
	}
	return <-errCh
}
