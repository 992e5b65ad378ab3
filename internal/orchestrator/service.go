package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/CodeMonkeyCybersecurity/websentry/internal/core"
	"github.com/CodeMonkeyCybersecurity/websentry/internal/logger"
	"github.com/CodeMonkeyCybersecurity/websentry/internal/validation"
	"github.com/CodeMonkeyCybersecurity/websentry/pkg/risk"
	"github.com/CodeMonkeyCybersecurity/websentry/pkg/types"
)

var (
	ErrInvalidTarget  = errors.New("invalid target")
	ErrInvalidProfile = errors.New("invalid scan profile")
	ErrScanFinished   = errors.New("scan already finished")
)

// Dispatcher hands a queued scan to something that will execute it: the
// in-process worker pool or the distributed job queue.
type Dispatcher interface {
	Dispatch(ctx context.Context, job *types.Job) error
}

// Service is the caller-facing contract used by the API and the CLI.
type Service struct {
	store        core.ResultStore
	orch         *Orchestrator
	dispatcher   Dispatcher
	allowPrivate bool
	logger       *logger.Logger

	mu      sync.Mutex
	running map[string]context.CancelFunc
}

func NewService(store core.ResultStore, orch *Orchestrator, dispatcher Dispatcher, allowPrivate bool, log *logger.Logger) *Service {
	if log == nil {
		log = logger.Nop()
	}
	return &Service{
		store:        store,
		orch:         orch,
		dispatcher:   dispatcher,
		allowPrivate: allowPrivate,
		logger:       log.WithComponent("scan-service"),
		running:      make(map[string]context.CancelFunc),
	}
}

// StartScan records a pending scan and dispatches it. It returns as soon as
// the scan is queued.
func (s *Service) StartScan(ctx context.Context, targetURL string, profile types.ScanProfile) (string, error) {
	target, err := validation.NormalizeTarget(targetURL, s.allowPrivate)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidTarget, err)
	}
	if profile == "" {
		profile = types.ProfileQuick
	}
	if _, ok := Profiles[profile]; !ok {
		return "", fmt.Errorf("%w: %q", ErrInvalidProfile, profile)
	}

	now := time.Now().UTC()
	scan := &types.Scan{
		ID:        uuid.New().String(),
		TargetURL: target.String(),
		Profile:   profile,
		Status:    types.ScanStatusPending,
		CreatedAt: now,
	}
	if err := s.store.SaveScan(ctx, scan); err != nil {
		return "", fmt.Errorf("failed to save scan: %w", err)
	}

	job := &types.Job{
		ID:        uuid.New().String(),
		ScanID:    scan.ID,
		TargetURL: scan.TargetURL,
		Profile:   profile,
		CreatedAt: now,
	}
	if err := s.dispatcher.Dispatch(ctx, job); err != nil {
		_ = s.store.UpdateScanStatus(context.WithoutCancel(ctx), scan.ID, types.ScanStatusFailed, err.Error())
		return "", fmt.Errorf("failed to dispatch scan: %w", err)
	}

	s.logger.WithScanID(scan.ID).Infow("Scan queued",
		"target", scan.TargetURL,
		"profile", profile,
		"job_id", job.ID,
	)
	return scan.ID, nil
}

// Execute runs a dispatched job to completion. A scan that reached a
// terminal state while queued is skipped.
func (s *Service) Execute(ctx context.Context, job *types.Job) error {
	target, err := url.Parse(job.TargetURL)
	if err != nil {
		return fmt.Errorf("job %s has invalid target: %w", job.ID, err)
	}

	s.mu.Lock()
	scan, err := s.store.GetScan(ctx, job.ScanID)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("failed to load scan %s: %w", job.ScanID, err)
	}
	if scan.Status.Terminal() {
		s.mu.Unlock()
		s.logger.WithScanID(scan.ID).Infow("Skipping job for finished scan", "status", scan.Status)
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.running[scan.ID] = cancel
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.running, scan.ID)
		s.mu.Unlock()
		cancel()
	}()

	_, err = s.orch.RunScan(runCtx, scan.ID, target, job.Profile)
	return err
}

// Abandon marks the scan of a job that will never run as cancelled. Scans
// that already finished are left alone.
func (s *Service) Abandon(ctx context.Context, job *types.Job, reason string) error {
	scan, err := s.store.GetScan(ctx, job.ScanID)
	if err != nil {
		return err
	}
	if scan.Status.Terminal() {
		return nil
	}
	if err := s.store.UpdateScanStatus(ctx, scan.ID, types.ScanStatusCancelled, reason); err != nil {
		return fmt.Errorf("failed to abandon scan: %w", err)
	}
	s.logger.WithScanID(scan.ID).Infow("Queued scan abandoned", "job_id", job.ID, "reason", reason)
	s.orch.events.Publish(Event{Type: EventStatus, ScanID: scan.ID, Status: types.ScanStatusCancelled})
	return nil
}

// Cancel stops a running scan or marks a queued one cancelled. Findings
// recorded before cancellation are kept.
func (s *Service) Cancel(ctx context.Context, scanID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cancel, ok := s.running[scanID]; ok {
		cancel()
		s.logger.WithScanID(scanID).Infow("Cancellation requested")
		return nil
	}

	scan, err := s.store.GetScan(ctx, scanID)
	if err != nil {
		return err
	}
	if scan.Status.Terminal() {
		return fmt.Errorf("%w: %s is %s", ErrScanFinished, scanID, scan.Status)
	}
	if err := s.store.UpdateScanStatus(ctx, scanID, types.ScanStatusCancelled, ""); err != nil {
		return fmt.Errorf("failed to cancel scan: %w", err)
	}
	s.orch.events.Publish(Event{Type: EventStatus, ScanID: scanID, Status: types.ScanStatusCancelled})
	return nil
}

func (s *Service) GetScan(ctx context.Context, scanID string) (*types.Scan, error) {
	return s.store.GetScan(ctx, scanID)
}

func (s *Service) ListScans(ctx context.Context, filter core.ScanFilter) ([]*types.Scan, error) {
	return s.store.ListScans(ctx, filter)
}

// GetFindings returns the findings of a scan in the order they were
// recorded. It may be called while the scan runs.
func (s *Service) GetFindings(ctx context.Context, scanID string) ([]types.Finding, error) {
	if _, err := s.store.GetScan(ctx, scanID); err != nil {
		return nil, err
	}
	return s.store.GetFindings(ctx, scanID)
}

func (s *Service) GetDetectorFailures(ctx context.Context, scanID string) ([]types.DetectorFailure, error) {
	return s.store.GetDetectorFailures(ctx, scanID)
}

// GetRiskScore derives the score from the findings recorded so far.
func (s *Service) GetRiskScore(ctx context.Context, scanID string) (types.RiskScore, error) {
	findings, err := s.GetFindings(ctx, scanID)
	if err != nil {
		return types.RiskScore{}, err
	}
	return risk.Score(findings), nil
}

// Report gathers everything known about a scan.
func (s *Service) Report(ctx context.Context, scanID string) (*types.Report, error) {
	scan, err := s.store.GetScan(ctx, scanID)
	if err != nil {
		return nil, err
	}
	findings, err := s.store.GetFindings(ctx, scanID)
	if err != nil {
		return nil, err
	}
	failures, err := s.store.GetDetectorFailures(ctx, scanID)
	if err != nil {
		return nil, err
	}
	return BuildReport(scan, findings, failures), nil
}

func BuildReport(scan *types.Scan, findings []types.Finding, failures []types.DetectorFailure) *types.Report {
	if findings == nil {
		findings = []types.Finding{}
	}
	if failures == nil {
		failures = []types.DetectorFailure{}
	}
	return &types.Report{
		Scan:             *scan,
		Findings:         findings,
		DetectorFailures: failures,
		Risk:             risk.Score(findings),
		Summary:          risk.Summarize(findings),
		GeneratedAt:      time.Now().UTC(),
	}
}

// Wait polls until the scan reaches a terminal state.
func (s *Service) Wait(ctx context.Context, scanID string, interval time.Duration) (*types.Scan, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		scan, err := s.store.GetScan(ctx, scanID)
		if err != nil {
			return nil, err
		}
		if scan.Status.Terminal() {
			return scan, nil
		}
		select {
		case <-ctx.Done():
			return scan, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Events exposes the broker scans publish to.
func (s *Service) Events() *Broker {
	return s.orch.events
}

// Shutdown cancels every scan running in this process.
func (s *Service) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, cancel := range s.running {
		s.logger.WithScanID(id).Infow("Cancelling scan for shutdown")
		cancel()
	}
}
