package api

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/diligence-platform/core/pkg/models"
)

// createScanRequest is the POST /api/v1/scans request body (spec.md §4.1
// "Intake").
type createScanRequest struct {
	Company         models.Company          `json:"company" binding:"required"`
	InvestorProfile *models.InvestorProfile `json:"investor_profile"`
	AnalysisDepth   models.AnalysisDepth    `json:"analysis_depth"`
	Thesis          *models.Thesis          `json:"thesis"`
	ThesisID        string                  `json:"thesis_id"`
}

// createScanHandler handles POST /api/v1/scans: validates the request
// and hands it to the ScanCreator, which persists the scan and kicks off
// the Orchestrator (spec.md §4.1, §4.4).
func (s *Server) createScanHandler(c *gin.Context) {
	var req createScanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Company.Name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "company.name is required"})
		return
	}

	scan := models.ScanRequest{
		Company:         req.Company,
		InvestorProfile: req.InvestorProfile,
		AnalysisDepth:   req.AnalysisDepth,
		ThesisID:        req.ThesisID,
	}
	if req.Thesis != nil {
		scan.ThesisID = req.Thesis.ID
	}

	scanID, err := s.scans.CreateScan(c.Request.Context(), scan, req.Thesis)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"scan_id": scanID, "status": models.ScanPending})
}

// getScanHandler handles GET /api/v1/scans/:id.
func (s *Server) getScanHandler(c *gin.Context) {
	scan, err := s.store.GetScan(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "scan not found"})
		return
	}
	c.JSON(http.StatusOK, scan)
}

// cancelScanHandler handles DELETE /api/v1/scans/:id: flips the scan's
// cancellation flag (spec.md §5) if a ScanCanceler is wired and the
// scan is still running. Not a hard guarantee of immediate stop — the
// orchestrator observes it at its next ctx.Err() check between stages.
func (s *Server) cancelScanHandler(c *gin.Context) {
	canceler, ok := s.scans.(ScanCanceler)
	if !ok {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "scan cancellation unavailable"})
		return
	}
	if !canceler.CancelScan(c.Param("id")) {
		c.JSON(http.StatusConflict, gin.H{"error": "scan is not running or does not exist"})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"scan_id": c.Param("id"), "status": "cancel_requested"})
}

// getReportHandler handles GET /api/v1/reports/:id.
func (s *Server) getReportHandler(c *gin.Context) {
	report, err := s.store.GetReport(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "report not found"})
		return
	}
	c.JSON(http.StatusOK, report)
}

// streamProgressHandler handles GET /api/v1/scans/:id/progress: an SSE
// stream of ProgressEvents, supporting reconnect-from-last-seen via the
// Last-Event-ID header or a last_seq query parameter (spec.md §4.7).
func (s *Server) streamProgressHandler(c *gin.Context) {
	if s.broker == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "progress channel unavailable"})
		return
	}
	scanID := c.Param("id")

	var lastSeq int64
	if v := c.GetHeader("Last-Event-ID"); v != "" {
		lastSeq, _ = strconv.ParseInt(v, 10, 64)
	} else if v := c.Query("last_seq"); v != "" {
		lastSeq, _ = strconv.ParseInt(v, 10, 64)
	}

	subID, ch, catchup := s.broker.Subscribe(scanID, lastSeq)
	defer s.broker.Unsubscribe(scanID, subID)

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	for _, ev := range catchup {
		writeSSE(c.Writer, ev)
	}
	c.Writer.Flush()

	ctx := c.Request.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			writeSSE(c.Writer, ev)
			c.Writer.Flush()
			if ev.Kind == models.EventComplete || ev.Kind == models.EventError {
				return
			}
		}
	}
}

func writeSSE(w io.Writer, ev models.ProgressEvent) {
	body, err := json.Marshal(ev)
	if err != nil {
		return
	}
	_, _ = w.Write([]byte("id: " + strconv.FormatInt(ev.Sequence, 10) + "\n"))
	_, _ = w.Write([]byte("event: " + string(ev.Kind) + "\n"))
	_, _ = w.Write([]byte("data: "))
	_, _ = w.Write(body)
	_, _ = w.Write([]byte("\n\n"))
}
