package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/CodeMonkeyCybersecurity/websentry/internal/core"
	"github.com/CodeMonkeyCybersecurity/websentry/internal/database"
	"github.com/CodeMonkeyCybersecurity/websentry/internal/logger"
	"github.com/CodeMonkeyCybersecurity/websentry/pkg/types"
)

// findingSink is the append-only record of one scan. It serializes writes so
// sequence numbers follow insertion order even when detectors run in
// parallel.
type findingSink struct {
	scanID    string
	store     core.ResultStore
	events    *Broker
	telemetry core.Telemetry
	logger    *logger.Logger

	mu       sync.Mutex
	next     int
	findings []types.Finding
	failures []types.DetectorFailure
}

func newFindingSink(scanID string, store core.ResultStore, events *Broker, telemetry core.Telemetry, log *logger.Logger) *findingSink {
	return &findingSink{
		scanID:    scanID,
		store:     store,
		events:    events,
		telemetry: telemetry,
		logger:    log,
	}
}

// Append stamps identity fields on each finding and persists it. The caller's
// finding values are copied; evidence maps are shared, never mutated.
func (s *findingSink) Append(ctx context.Context, detector string, findings []types.Finding) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []error
	for _, f := range findings {
		f.ID = uuid.New().String()
		f.ScanID = s.scanID
		f.Sequence = s.next
		if f.Detector == "" {
			f.Detector = detector
		}
		f.CreatedAt = time.Now().UTC()
		f.Fingerprint = database.Fingerprint(f)

		if err := s.store.SaveFinding(ctx, f); err != nil {
			errs = append(errs, fmt.Errorf("saving finding %q: %w", f.Title, err))
			continue
		}
		s.next++
		s.findings = append(s.findings, f)

		s.logger.LogFinding(ctx, f)
		s.telemetry.RecordFinding(f)
		saved := f
		s.events.Publish(Event{Type: EventFinding, ScanID: s.scanID, Finding: &saved})
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %d of %d findings from %s not persisted: %v",
			core.ErrOrchestratorFault, len(errs), len(findings), detector, errs[0])
	}
	return nil
}

func (s *findingSink) Fail(ctx context.Context, detector string, cause error) {
	failure := types.DetectorFailure{
		ScanID:    s.scanID,
		Detector:  detector,
		Reason:    cause.Error(),
		CreatedAt: time.Now().UTC(),
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.failures = append(s.failures, failure)
	if err := s.store.SaveDetectorFailure(ctx, failure); err != nil {
		s.logger.LogError(ctx, err, "orchestrator.SaveDetectorFailure", "detector", detector)
	}

	s.logger.LogDetectorFailure(ctx, detector, cause)
	s.telemetry.RecordDetectorFailure(detector)
	s.events.Publish(Event{Type: EventFailure, ScanID: s.scanID, Failure: &failure})
}

// Snapshot returns copies of everything recorded so far.
func (s *findingSink) Snapshot() ([]types.Finding, []types.DetectorFailure) {
	s.mu.Lock()
	defer s.mu.Unlock()

	findings := make([]types.Finding, len(s.findings))
	copy(findings, s.findings)
	failures := make([]types.DetectorFailure, len(s.failures))
	copy(failures, s.failures)
	return findings, failures
}
