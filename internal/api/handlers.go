package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/CodeMonkeyCybersecurity/websentry/internal/core"
	"github.com/CodeMonkeyCybersecurity/websentry/internal/orchestrator"
	"github.com/CodeMonkeyCybersecurity/websentry/pkg/types"
)

type startScanRequest struct {
	TargetURL string `json:"target_url" binding:"required"`
	Profile   string `json:"profile"`
}

type scanDetail struct {
	Scan             *types.Scan             `json:"scan"`
	Findings         []types.Finding         `json:"findings"`
	DetectorFailures []types.DetectorFailure `json:"detector_failures"`
	Risk             types.RiskScore         `json:"risk"`
}

func (s *Server) handleHealth(c *gin.Context) {
	if s.health != nil {
		if err := s.health.Ping(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "error": err.Error()})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

func (s *Server) handleStartScan(c *gin.Context) {
	var req startScanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}

	profile, err := types.ParseProfile(req.Profile)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	scanID, err := s.svc.StartScan(c.Request.Context(), req.TargetURL, profile)
	if err != nil {
		s.writeError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"scan_id": scanID,
		"status":  types.ScanStatusPending,
	})
}

func (s *Server) handleListScans(c *gin.Context) {
	filter := core.ScanFilter{
		Target: c.Query("target"),
		Status: types.ScanStatus(c.Query("status")),
		Limit:  50,
	}
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		filter.Limit = n
	}
	if v := c.Query("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "offset must be a non-negative integer"})
			return
		}
		filter.Offset = n
	}

	scans, err := s.svc.ListScans(c.Request.Context(), filter)
	if err != nil {
		s.writeError(c, err)
		return
	}
	if scans == nil {
		scans = []*types.Scan{}
	}
	c.JSON(http.StatusOK, gin.H{"scans": scans, "count": len(scans)})
}

func (s *Server) handleGetScan(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")

	scan, err := s.svc.GetScan(ctx, id)
	if err != nil {
		s.writeError(c, err)
		return
	}
	findings, err := s.svc.GetFindings(ctx, id)
	if err != nil {
		s.writeError(c, err)
		return
	}
	failures, err := s.svc.GetDetectorFailures(ctx, id)
	if err != nil {
		s.writeError(c, err)
		return
	}
	report := orchestrator.BuildReport(scan, findings, failures)

	c.JSON(http.StatusOK, scanDetail{
		Scan:             scan,
		Findings:         report.Findings,
		DetectorFailures: report.DetectorFailures,
		Risk:             report.Risk,
	})
}

func (s *Server) handleGetFindings(c *gin.Context) {
	findings, err := s.svc.GetFindings(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}

	if v := c.Query("severity"); v != "" {
		floor, err := types.ParseSeverity(v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		filtered := make([]types.Finding, 0, len(findings))
		for _, f := range findings {
			if f.Severity.Rank() >= floor.Rank() {
				filtered = append(filtered, f)
			}
		}
		findings = filtered
	}
	if findings == nil {
		findings = []types.Finding{}
	}
	c.JSON(http.StatusOK, gin.H{"findings": findings, "count": len(findings)})
}

func (s *Server) handleGetRisk(c *gin.Context) {
	score, err := s.svc.GetRiskScore(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, score)
}

func (s *Server) handleGetReport(c *gin.Context) {
	report, err := s.svc.Report(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func (s *Server) handleCancel(c *gin.Context) {
	id := c.Param("id")
	if err := s.svc.Cancel(c.Request.Context(), id); err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"scan_id": id, "status": "cancelling"})
}

// writeError maps service errors onto HTTP statuses.
func (s *Server) writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, core.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, orchestrator.ErrInvalidTarget), errors.Is(err, orchestrator.ErrInvalidProfile):
		status = http.StatusBadRequest
	case errors.Is(err, orchestrator.ErrScanFinished):
		status = http.StatusConflict
	}

	if status == http.StatusInternalServerError {
		_ = c.Error(err)
		s.logger.LogError(c.Request.Context(), err, "api."+c.FullPath())
		c.JSON(status, gin.H{"error": "internal error"})
		return
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
