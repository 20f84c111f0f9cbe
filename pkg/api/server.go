// Package api provides the HTTP surface for scan intake, status polling,
// report retrieval, and progress streaming (spec.md §4.1, §4.7).
//
// Grounded on the teacher's pkg/api/server.go: the route-registration-
// in-NewServer, Set*-for-optional-dependencies, health-handler, and
// graceful Start/Shutdown shape are kept; the HTTP framework is gin
// (github.com/gin-gonic/gin), following the Context/gin.H/JSON handler
// idiom from theRebelliousNerd-codenerd's auth_handler.go rather than
// the teacher's echo, since gin is the web framework this module's
// go.mod already carries.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/diligence-platform/core/pkg/database"
	"github.com/diligence-platform/core/pkg/events"
	"github.com/diligence-platform/core/pkg/models"
	"github.com/diligence-platform/core/pkg/queue"
	"github.com/diligence-platform/core/pkg/version"
)

// ScanCreator persists a new scan (generating its ID) and kicks off the
// Orchestrator against it. Wired to the intake path by cmd/diligence.
type ScanCreator interface {
	CreateScan(ctx context.Context, req models.ScanRequest, thesis *models.Thesis) (string, error)
}

// ScanCanceler flips a running scan's cancellation flag (spec.md §5).
// Implemented by *intake.Service; checked with a type assertion on
// ScanCreator since the two always share one implementation in
// practice but a test fake may only need one.
type ScanCanceler interface {
	CancelScan(scanID string) bool
}

// Server is the HTTP API server.
type Server struct {
	engine     *gin.Engine
	httpServer *http.Server

	store      *database.Store
	broker     *events.Broker
	workerPool *queue.WorkerPool
	scans      ScanCreator
}

// NewServer creates a new API server with gin's default middleware
// (logger + recovery), mirroring the teacher's NewServer wiring a
// fixed set of required collaborators and exposing Set* hooks for the
// rest.
func NewServer(store *database.Store, broker *events.Broker, workerPool *queue.WorkerPool, scans ScanCreator) *Server {
	engine := gin.New()
	engine.Use(gin.Recovery())

	s := &Server{engine: engine, store: store, broker: broker, workerPool: workerPool, scans: scans}
	s.setupRoutes()
	return s
}

// Engine exposes the underlying gin.Engine, for tests that want to
// drive requests via httptest without a real listener.
func (s *Server) Engine() *gin.Engine { return s.engine }

func (s *Server) setupRoutes() {
	s.engine.GET("/health", s.healthHandler)

	v1 := s.engine.Group("/api/v1")
	v1.POST("/scans", s.createScanHandler)
	v1.GET("/scans/:id", s.getScanHandler)
	v1.DELETE("/scans/:id", s.cancelScanHandler)
	v1.GET("/scans/:id/progress", s.streamProgressHandler)
	v1.GET("/reports/:id", s.getReportHandler)
}

// Start starts the HTTP server on addr (blocking).
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{Addr: addr, Handler: s.engine}
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// healthHandler handles GET /health.
func (s *Server) healthHandler(c *gin.Context) {
	reqCtx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	status := "healthy"
	code := http.StatusOK

	dbHealth, err := database.Health(reqCtx, s.store.Pool())
	if err != nil {
		status = "unhealthy"
		code = http.StatusServiceUnavailable
	}

	resp := gin.H{
		"status":   status,
		"version":  version.Full(),
		"database": dbHealth,
	}
	if s.workerPool != nil {
		resp["worker_pool"] = s.workerPool.Health(reqCtx)
	}
	if s.broker != nil {
		resp["dropped_progress_events"] = s.broker.DroppedCount()
	}
	c.JSON(code, resp)
}
