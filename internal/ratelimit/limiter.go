package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/CodeMonkeyCybersecurity/websentry/internal/config"
	"golang.org/x/time/rate"
)

// Limiter throttles probes per target host. Each scan owns its own Limiter.
type Limiter struct {
	cfg   Config
	mu    sync.Mutex
	hosts map[string]*hostState
}

type hostState struct {
	limiter *rate.Limiter
	// next is the earliest time the next request to this host may start.
	next time.Time
}

type Config struct {
	// RequestsPerSecond limits the request rate per host
	RequestsPerSecond float64

	// BurstSize allows brief bursts above the rate limit
	BurstSize int

	// MinDelay is the minimum spacing between requests to the same host
	MinDelay time.Duration
}

func DefaultConfig() Config {
	return Config{
		RequestsPerSecond: 10.0,
		BurstSize:         5,
		MinDelay:          50 * time.Millisecond,
	}
}

// FromScanConfig builds the per-host limits from scan settings.
func FromScanConfig(cfg config.ScanConfig) Config {
	c := Config{
		RequestsPerSecond: cfg.HostRequestsPerSec,
		BurstSize:         cfg.HostBurst,
		MinDelay:          cfg.HostMinDelay,
	}
	if c.RequestsPerSecond <= 0 {
		c.RequestsPerSecond = float64(rate.Inf)
	}
	if c.BurstSize < 1 {
		c.BurstSize = 1
	}
	return c
}

func NewLimiter(cfg Config) *Limiter {
	return &Limiter{
		cfg:   cfg,
		hosts: make(map[string]*hostState),
	}
}

func (l *Limiter) state(host string) *hostState {
	l.mu.Lock()
	defer l.mu.Unlock()

	st, ok := l.hosts[host]
	if !ok {
		st = &hostState{limiter: rate.NewLimiter(rate.Limit(l.cfg.RequestsPerSecond), l.cfg.BurstSize)}
		l.hosts[host] = st
	}
	return st
}

// WaitForHost blocks until a request to host is allowed or ctx is done.
// Requests to different hosts never wait on each other.
func (l *Limiter) WaitForHost(ctx context.Context, host string) error {
	st := l.state(host)
	if err := st.limiter.Wait(ctx); err != nil {
		return err
	}

	l.mu.Lock()
	now := time.Now()
	slot := st.next
	if slot.Before(now) {
		slot = now
	}
	st.next = slot.Add(l.cfg.MinDelay)
	l.mu.Unlock()

	wait := time.Until(slot)
	if wait <= 0 {
		return nil
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *Limiter) GetStats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()

	return Stats{
		TrackedHosts: len(l.hosts),
		BurstSize:    l.cfg.BurstSize,
		RequestDelay: l.cfg.MinDelay,
	}
}

type Stats struct {
	TrackedHosts int
	BurstSize    int
	RequestDelay time.Duration
}
