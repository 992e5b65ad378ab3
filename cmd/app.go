package cmd

import (
	"context"
	"fmt"

	"github.com/CodeMonkeyCybersecurity/websentry/internal/core"
	"github.com/CodeMonkeyCybersecurity/websentry/internal/httpclient"
	"github.com/CodeMonkeyCybersecurity/websentry/internal/jobs"
	"github.com/CodeMonkeyCybersecurity/websentry/internal/orchestrator"
	"github.com/CodeMonkeyCybersecurity/websentry/internal/plugins"
	"github.com/CodeMonkeyCybersecurity/websentry/internal/plugins/nmap"
	"github.com/CodeMonkeyCybersecurity/websentry/internal/telemetry"
	"github.com/CodeMonkeyCybersecurity/websentry/internal/validation"
	"github.com/CodeMonkeyCybersecurity/websentry/internal/worker"
)

// dispatchMode selects where StartScan sends queued scans.
type dispatchMode int

const (
	// dispatchLocal runs scans on an in-process worker pool.
	dispatchLocal dispatchMode = iota
	// dispatchAuto uses the Redis queue when redis.addr is set.
	dispatchAuto
)

// app holds the collaborators shared by the scan, serve and worker commands.
type app struct {
	service   *orchestrator.Service
	events    *orchestrator.Broker
	pool      *worker.Pool
	queue     *jobs.RedisQueue
	telemetry core.Telemetry
}

var _ worker.Abandoner = (*orchestrator.Service)(nil)

func newApp(ctx context.Context, mode dispatchMode) (*app, error) {
	if cfg == nil || log == nil || store == nil {
		return nil, fmt.Errorf("command not initialized")
	}

	tel, err := telemetry.New(ctx, cfg.Telemetry)
	if err != nil {
		log.Warnw("Telemetry disabled", "error", err)
		tel = telemetry.Noop()
	}

	a := &app{
		events:    orchestrator.NewBroker(),
		telemetry: tel,
	}

	manager := plugins.NewManager()
	if err := plugins.RegisterDefaultSources(manager, cfg.Tools, log); err != nil {
		a.Close()
		return nil, err
	}

	var nmapOpts []nmap.Option
	if len(cfg.Tools.Nmap.FallbackPorts) > 0 {
		nmapOpts = append(nmapOpts, nmap.WithFallbackPorts(nmap.FallbackPortsFor(cfg.Tools.Nmap.FallbackPorts)...))
	}
	detectors := &orchestrator.DefaultDetectors{
		PortScanner: func(prober core.Prober) core.PortScanner {
			return nmap.NewScanner(cfg.Tools.Nmap, prober, cfg.Scan.PortProbeTimeout, log, nmapOpts...)
		},
		AlertSources: manager.Sources,
		Logger:       log,
	}

	// Each scan gets its own prober so host limits and pooled connections
	// stay per scan.
	blockPrivate := !cfg.Security.AllowPrivateTargets
	newCaps := func() (core.Capabilities, func()) {
		prober := httpclient.NewProber(cfg.Scan, blockPrivate, log)
		return core.Capabilities{
			Prober:      prober,
			Timeout:     cfg.Scan.ProbeTimeout,
			PageTimeout: cfg.Scan.PageTimeout,
		}, prober.Close
	}

	orch := orchestrator.New(store,
		validation.NewResolver(cfg.Scan.Nameserver, cfg.Scan.ProbeTimeout),
		detectors,
		newCaps,
		orchestrator.Config{MaxParallelDetectors: cfg.Scan.MaxParallelDetectors},
		orchestrator.WithEvents(a.events),
		orchestrator.WithTelemetry(tel),
		orchestrator.WithLogger(log),
	)

	var dispatcher orchestrator.Dispatcher
	if mode == dispatchAuto && cfg.Redis.Addr != "" {
		a.queue, err = jobs.NewRedisQueue(ctx, cfg.Redis)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to connect to job queue: %w", err)
		}
		log.Infow("Distributed mode enabled", "redis_addr", cfg.Redis.Addr)
		dispatcher = a.queue
	} else {
		a.pool = worker.NewPool(cfg.Worker, log)
		dispatcher = a.pool
	}

	a.service = orchestrator.NewService(store, orch, dispatcher, cfg.Security.AllowPrivateTargets, log)

	if a.pool != nil {
		if err := a.pool.Start(ctx, a.service); err != nil {
			a.Close()
			return nil, err
		}
	}
	return a, nil
}

// Close cancels running scans and releases every collaborator.
func (a *app) Close() {
	if a.service != nil {
		a.service.Shutdown()
	}
	if a.pool != nil {
		if err := a.pool.Stop(); err != nil {
			log.Warnw("Worker pool stopped with error", "error", err)
		}
	}
	if a.queue != nil {
		if err := a.queue.Close(); err != nil {
			log.Warnw("Failed to close job queue", "error", err)
		}
	}
	a.events.Close()
	if err := a.telemetry.Close(); err != nil {
		log.Warnw("Failed to flush telemetry", "error", err)
	}
}
