// Package scannertest provides probers and capabilities for detector tests.
package scannertest

import (
	"context"
	"net/url"
	"testing"
	"time"

	"github.com/CodeMonkeyCybersecurity/websentry/internal/config"
	"github.com/CodeMonkeyCybersecurity/websentry/internal/core"
	"github.com/CodeMonkeyCybersecurity/websentry/internal/httpclient"
)

// Capabilities returns a real prober with host throttling disabled.
func Capabilities(t testing.TB) core.Capabilities {
	t.Helper()

	cfg := config.DefaultConfig().Scan
	cfg.HostRequestsPerSec = 0
	cfg.HostMinDelay = 0

	p := httpclient.NewProber(cfg, false, nil)
	t.Cleanup(p.Close)

	return core.Capabilities{
		Prober:      p,
		Timeout:     2 * time.Second,
		PageTimeout: 2 * time.Second,
	}
}

// FuncProber delegates to the supplied functions. A nil function fails the
// probe with ErrProbeNetwork.
type FuncProber struct {
	GetFunc  func(ctx context.Context, rawURL string, opts core.GetOptions) core.ProbeResult
	PostFunc func(ctx context.Context, rawURL string, form url.Values, timeout time.Duration) core.ProbeResult
}

func (p FuncProber) Get(ctx context.Context, rawURL string, opts core.GetOptions) core.ProbeResult {
	if p.GetFunc == nil {
		return Fail(rawURL, core.ErrProbeNetwork)
	}
	return p.GetFunc(ctx, rawURL, opts)
}

func (p FuncProber) PostForm(ctx context.Context, rawURL string, form url.Values, timeout time.Duration) core.ProbeResult {
	if p.PostFunc == nil {
		return Fail(rawURL, core.ErrProbeNetwork)
	}
	return p.PostFunc(ctx, rawURL, form, timeout)
}

// Unreachable fails every probe.
func Unreachable() core.Capabilities {
	return core.Capabilities{Prober: FuncProber{}, Timeout: time.Second, PageTimeout: time.Second}
}

func Fail(rawURL string, kind error) core.ProbeResult {
	return core.ProbeResult{Err: &core.ProbeError{Kind: kind, URL: rawURL}}
}

func Body(status int, body string) core.ProbeResult {
	return core.ProbeResult{Response: &core.Response{Status: status, Body: body}}
}

// MustURL parses raw or fails the test.
func MustURL(t testing.TB, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("url.Parse(%q): %v", raw, err)
	}
	return u
}
