// Package intake implements scan creation (spec.md §4.1 "Intake"): it
// assigns a scan its identity, persists the scan (and an inline thesis,
// if supplied) before acknowledging the request, and hands the scan off
// to the Orchestrator on a background goroutine so the HTTP request
// completes immediately rather than blocking on a multi-stage pipeline.
//
// Grounded on the teacher's pkg/services/session_service.go
// CreateSession: validate, persist durably first, then let processing
// continue independently of the originating request — the same
// persist-then-fire-and-forget shape as pkg/api/websocket.go's
// goroutine-per-connection dispatch, applied here to goroutine-per-scan.
package intake

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/diligence-platform/core/pkg/clock"
	"github.com/diligence-platform/core/pkg/models"
)

// ScanStore is the subset of pkg/database.Store intake needs.
type ScanStore interface {
	CreateScan(ctx context.Context, scan models.ScanRequest) error
	SaveThesis(ctx context.Context, thesis models.Thesis) error
	GetThesis(ctx context.Context, thesisID string) (*models.Thesis, error)
}

// Runner drives a scan through the Orchestrator. Satisfied by
// *orchestrator.Orchestrator.
type Runner interface {
	Run(ctx context.Context, scan models.ScanRequest, thesis *models.Thesis) error
}

// Service implements api.ScanCreator and api.ScanCanceler.
type Service struct {
	store    ScanStore
	runner   Runner
	deadline time.Duration
	clock    clock.Clock

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

// New builds an intake Service. deadline, if positive, becomes each
// scan's absolute Deadline (spec.md §9 "scan_deadline").
func New(store ScanStore, runner Runner, deadline time.Duration) *Service {
	return &Service{store: store, runner: runner, deadline: deadline, clock: clock.Default, cancels: make(map[string]context.CancelFunc)}
}

// WithClock overrides the injected clock (tests).
func (s *Service) WithClock(c clock.Clock) *Service {
	s.clock = c
	return s
}

// CreateScan implements api.ScanCreator: it assigns the scan's ID and
// creation time, persists it (and thesis, if one was supplied inline)
// synchronously so the caller only gets a 202 once the scan durably
// exists, then starts the Orchestrator asynchronously.
func (s *Service) CreateScan(ctx context.Context, req models.ScanRequest, thesis *models.Thesis) (string, error) {
	req.ID = uuid.NewString()
	req.Status = models.ScanPending
	req.CreatedAt = s.clock.Now()
	if s.deadline > 0 {
		req.Deadline = req.CreatedAt.Add(s.deadline)
	}
	if req.AnalysisDepth == "" {
		req.AnalysisDepth = models.DepthDeep
	}

	if thesis != nil {
		if thesis.ID == "" {
			thesis.ID = uuid.NewString()
		}
		req.ThesisID = thesis.ID
		if err := s.store.SaveThesis(ctx, *thesis); err != nil {
			return "", fmt.Errorf("intake: saving thesis: %w", err)
		}
	}

	if err := s.store.CreateScan(ctx, req); err != nil {
		return "", fmt.Errorf("intake: creating scan: %w", err)
	}

	go s.runAsync(req, thesis)
	return req.ID, nil
}

// runAsync resolves a thesis referenced only by ID, then drives the scan
// through the Orchestrator on a context independent of the originating
// HTTP request but cancelable by scan ID via CancelScan (spec.md §5).
func (s *Service) runAsync(scan models.ScanRequest, thesis *models.Thesis) {
	ctx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	s.cancels[scan.ID] = cancel
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.cancels, scan.ID)
		s.mu.Unlock()
		cancel()
	}()

	log := slog.With("scan_id", scan.ID)

	if thesis == nil && scan.ThesisID != "" {
		loaded, err := s.store.GetThesis(ctx, scan.ThesisID)
		if err != nil {
			log.Error("failed to load referenced thesis, proceeding without one", "thesis_id", scan.ThesisID, "error", err)
		} else {
			thesis = loaded
		}
	}

	if err := s.runner.Run(ctx, scan, thesis); err != nil {
		log.Error("orchestrator run failed", "error", err)
	}
}

// CancelScan flips the cancellation flag for a running scan (spec.md §5:
// "client cancel flips a scan-scope cancellation flag"). It cancels the
// context threaded into Orchestrator.Run, which the orchestrator's
// per-stage ctx.Err() check and its deadline/cancel terminal-status
// mapping both already handle. Returns false if the scan isn't
// currently running (already terminal, or an unknown ID).
func (s *Service) CancelScan(scanID string) bool {
	s.mu.Lock()
	cancel, ok := s.cancels[scanID]
	s.mu.Unlock()
	if !ok {
		return false
	}
	cancel()
	return true
}
