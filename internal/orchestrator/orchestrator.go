// Package orchestrator sequences detectors for a scan, records what they
// produce and derives the scan's risk score.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"runtime/debug"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/CodeMonkeyCybersecurity/websentry/internal/core"
	"github.com/CodeMonkeyCybersecurity/websentry/internal/logger"
	"github.com/CodeMonkeyCybersecurity/websentry/internal/telemetry"
	"github.com/CodeMonkeyCybersecurity/websentry/pkg/types"
)

// Resolver looks up the addresses of a target host.
type Resolver interface {
	Resolve(ctx context.Context, host string) ([]net.IP, error)
}

type Config struct {
	// MaxParallelDetectors bounds how many non-port detectors run at once.
	// 1 runs them strictly in profile order.
	MaxParallelDetectors int
}

// CapabilitiesFunc builds the capabilities of one scan. release is called
// once the scan has finished.
type CapabilitiesFunc func() (caps core.Capabilities, release func())

// StaticCapabilities hands the same capabilities to every scan.
func StaticCapabilities(caps core.Capabilities) CapabilitiesFunc {
	return func() (core.Capabilities, func()) {
		return caps, func() {}
	}
}

type Orchestrator struct {
	store     core.ResultStore
	resolver  Resolver
	detectors DetectorFactory
	newCaps   CapabilitiesFunc
	cfg       Config
	events    *Broker
	telemetry core.Telemetry
	logger    *logger.Logger
}

type Option func(*Orchestrator)

func WithEvents(b *Broker) Option {
	return func(o *Orchestrator) { o.events = b }
}

func WithTelemetry(t core.Telemetry) Option {
	return func(o *Orchestrator) {
		if t != nil {
			o.telemetry = t
		}
	}
}

func WithLogger(l *logger.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

func New(store core.ResultStore, resolver Resolver, detectors DetectorFactory, newCaps CapabilitiesFunc, cfg Config, opts ...Option) *Orchestrator {
	if cfg.MaxParallelDetectors < 1 {
		cfg.MaxParallelDetectors = 1
	}
	o := &Orchestrator{
		store:     store,
		resolver:  resolver,
		detectors: detectors,
		newCaps:   newCaps,
		cfg:       cfg,
		telemetry: telemetry.Noop(),
		logger:    logger.Nop(),
	}
	for _, opt := range opts {
		opt(o)
	}
	o.logger = o.logger.WithComponent("orchestrator")
	return o
}

// RunScan executes profile against target and records the results under
// scanID. Detector failures never fail the scan; only faults in the
// orchestrator itself (unresolvable target, unusable store) do, and those
// are returned wrapped in core.ErrOrchestratorFault. A cancelled ctx stops
// scheduling, keeps what was recorded and marks the scan cancelled.
func (o *Orchestrator) RunScan(ctx context.Context, scanID string, target *url.URL, profile types.ScanProfile) (*types.ScanOutcome, error) {
	start := time.Now()
	log := o.logger.WithScanID(scanID).WithTarget(target.String())
	ctx, span := log.StartOperation(ctx, "orchestrator.RunScan", "profile", profile)

	// Status updates and persistence must outlive cancellation.
	persistCtx := context.WithoutCancel(ctx)

	caps, release := o.newCaps()
	defer release()

	sink := newFindingSink(scanID, o.store, o.events, o.telemetry, log)
	status, err := o.run(ctx, persistCtx, sink, log, target, profile, caps)

	errMsg := ""
	if err != nil {
		errMsg = err.Error()
	}
	if uerr := o.store.UpdateScanStatus(persistCtx, scanID, status, errMsg); uerr != nil {
		log.LogError(persistCtx, uerr, "orchestrator.UpdateScanStatus", "status", status)
		if err == nil {
			err = fmt.Errorf("%w: recording final status: %v", core.ErrOrchestratorFault, uerr)
		}
	}
	o.events.Publish(Event{Type: EventStatus, ScanID: scanID, Status: status})

	findings, failures := sink.Snapshot()
	o.telemetry.RecordScan(profile, time.Since(start).Seconds(), status)
	log.FinishOperation(ctx, span, "orchestrator.RunScan", start, err,
		"status", status,
		"findings", len(findings),
		"detector_failures", len(failures),
	)

	return &types.ScanOutcome{
		ScanID:           scanID,
		Status:           status,
		Findings:         findings,
		DetectorFailures: failures,
	}, err
}

func (o *Orchestrator) run(ctx, persistCtx context.Context, sink *findingSink, log *logger.Logger, target *url.URL, profile types.ScanProfile, caps core.Capabilities) (types.ScanStatus, error) {
	if err := o.store.UpdateScanStatus(persistCtx, sink.scanID, types.ScanStatusRunning, ""); err != nil {
		return types.ScanStatusFailed, fmt.Errorf("%w: marking scan running: %v", core.ErrOrchestratorFault, err)
	}
	o.events.Publish(Event{Type: EventStatus, ScanID: sink.scanID, Status: types.ScanStatusRunning})

	if ctx.Err() != nil {
		return types.ScanStatusCancelled, nil
	}

	addrs, err := o.resolver.Resolve(ctx, target.Hostname())
	if err != nil {
		if ctx.Err() != nil {
			return types.ScanStatusCancelled, nil
		}
		return types.ScanStatusFailed, fmt.Errorf("%w: target %s does not resolve: %v", core.ErrOrchestratorFault, target.Hostname(), err)
	}
	log.Debugw("Target resolved", "addresses", len(addrs))

	detectors, err := o.detectors.ForProfile(profile, caps)
	if err != nil {
		return types.ScanStatusFailed, fmt.Errorf("%w: %v", core.ErrOrchestratorFault, err)
	}

	for _, phase := range phases(detectors, o.cfg.MaxParallelDetectors) {
		if ctx.Err() != nil {
			break
		}
		if err := o.runPhase(ctx, persistCtx, sink, log, target, caps, phase); err != nil {
			return types.ScanStatusFailed, err
		}
	}

	if ctx.Err() != nil {
		log.Infow("Scan cancelled, keeping recorded findings")
		return types.ScanStatusCancelled, nil
	}
	return types.ScanStatusCompleted, nil
}

// phase is a group of detectors that may run concurrently.
type phase struct {
	detectors []core.Detector
	limit     int
}

// phases splits detectors into execution phases preserving profile order.
// The port detector always runs alone; runs of other detectors share a
// phase bounded by limit.
func phases(detectors []core.Detector, limit int) []phase {
	var out []phase
	var group []core.Detector

	flush := func() {
		if len(group) > 0 {
			out = append(out, phase{detectors: group, limit: limit})
			group = nil
		}
	}

	for _, d := range detectors {
		if d.Category() == types.CategoryPorts {
			flush()
			out = append(out, phase{detectors: []core.Detector{d}, limit: 1})
			continue
		}
		group = append(group, d)
	}
	flush()
	return out
}

func (o *Orchestrator) runPhase(ctx, persistCtx context.Context, sink *findingSink, log *logger.Logger, target *url.URL, caps core.Capabilities, p phase) error {
	g := new(errgroup.Group)
	g.SetLimit(p.limit)

	for _, d := range p.detectors {
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			findings, err := o.runDetector(ctx, log, target, caps, d)

			// Findings returned alongside an error are still recorded.
			if perr := sink.Append(persistCtx, d.Name(), findings); perr != nil {
				return perr
			}
			if err != nil && ctx.Err() == nil {
				sink.Fail(persistCtx, d.Name(), err)
			}
			return nil
		})
	}
	return g.Wait()
}

// runDetector isolates a single detector run; a panic becomes an error.
func (o *Orchestrator) runDetector(ctx context.Context, log *logger.Logger, target *url.URL, caps core.Capabilities, d core.Detector) (findings []types.Finding, err error) {
	start := time.Now()
	dlog := log.WithDetector(d.Name())
	ctx, span := dlog.StartOperation(ctx, "detector.Run")

	defer func() {
		if r := recover(); r != nil {
			dlog.LogPanic(ctx, r, "detector.Run", "stack", string(debug.Stack()))
			findings = nil
			err = core.NewDetectorError(d.Name(), fmt.Errorf("panic: %v", r))
		}
		dlog.FinishOperation(ctx, span, "detector.Run", start, err, "findings", len(findings))
	}()

	findings, err = d.Run(ctx, target, caps)
	if err != nil {
		var de *core.DetectorError
		if !errors.As(err, &de) {
			err = core.NewDetectorError(d.Name(), err)
		}
	}
	return findings, err
}
