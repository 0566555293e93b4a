// Package api provides the HTTP surface of the review pipeline service.
package api

import (
	"context"
	"net"
	"net/http"

	echo "github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/markiskorova/reviewpipeline/pkg/cache"
	"github.com/markiskorova/reviewpipeline/pkg/config"
	"github.com/markiskorova/reviewpipeline/pkg/database"
	"github.com/markiskorova/reviewpipeline/pkg/queue"
	"github.com/markiskorova/reviewpipeline/pkg/services"
)

// maxUploadBytes bounds multipart uploads at the HTTP read level, before
// any parsing happens.
const maxUploadBytes = 10 * 1024 * 1024

// Server is the HTTP API server.
type Server struct {
	echo            *echo.Echo
	httpServer      *http.Server
	reviewCfg       *config.ReviewConfig
	dbClient        *database.Client
	documentService *services.DocumentService
	intakeService   *services.IntakeService
	runService      *services.RunService
	findingsService *services.FindingsService
	workerPool      *queue.WorkerPool
	resultCache     *cache.ResultCache // nil when the pipeline cache is disabled
}

// NewServer creates a new API server with Echo v5.
// resultCache may be nil (pipeline cache disabled).
func NewServer(
	reviewCfg *config.ReviewConfig,
	dbClient *database.Client,
	documentService *services.DocumentService,
	intakeService *services.IntakeService,
	runService *services.RunService,
	findingsService *services.FindingsService,
	workerPool *queue.WorkerPool,
	resultCache *cache.ResultCache,
) *Server {
	e := echo.New()

	s := &Server{
		echo:            e,
		reviewCfg:       reviewCfg,
		dbClient:        dbClient,
		documentService: documentService,
		intakeService:   intakeService,
		runService:      runService,
		findingsService: findingsService,
		workerPool:      workerPool,
		resultCache:     resultCache,
	}

	s.setupRoutes()
	return s
}

// setupRoutes registers all API routes.
func (s *Server) setupRoutes() {
	s.echo.Use(middleware.Recover())
	s.echo.Use(securityHeaders())
	s.echo.Use(middleware.BodyLimit(maxUploadBytes))

	// Health and metrics
	s.echo.GET("/healthz", s.healthHandler)
	s.echo.GET("/metrics", func(c *echo.Context) error {
		promhttp.Handler().ServeHTTP(c.Response(), c.Request())
		return nil
	})

	// API v1
	v1 := s.echo.Group("/v1")
	v1.POST("/documents/upload", s.uploadDocumentHandler)
	v1.GET("/documents/:id/findings", s.listFindingsHandler)
	v1.POST("/review/run", s.runReviewHandler)
	v1.GET("/review-runs/:id", s.getRunHandler)
}

// Start starts the HTTP server on the given address (blocking).
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: s.echo,
	}
	return s.httpServer.ListenAndServe()
}

// StartWithListener starts the HTTP server on a pre-created listener.
// Used by test infrastructure to serve on a random OS-assigned port.
func (s *Server) StartWithListener(ln net.Listener) error {
	s.httpServer = &http.Server{Handler: s.echo}
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}
