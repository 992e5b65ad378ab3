package httpclient

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/CodeMonkeyCybersecurity/websentry/internal/config"
	"github.com/CodeMonkeyCybersecurity/websentry/internal/core"
	"github.com/CodeMonkeyCybersecurity/websentry/internal/logger"
	"github.com/CodeMonkeyCybersecurity/websentry/internal/ratelimit"
)

// Prober implements core.Prober over net/http. Each scan builds its own
// Prober, so connection pools and host limits are never shared across scans.
type Prober struct {
	transport      *http.Transport
	follow         *http.Client
	noFollow       *http.Client
	limiter        *ratelimit.Limiter
	userAgent      string
	maxBody        int64
	defaultTimeout time.Duration
	logger         *logger.Logger
}

var _ core.Prober = (*Prober)(nil)

// NewProber builds a prober for one scan. With blockPrivate set, every
// connection, including redirect hops and form actions, is refused when the
// host resolves to a loopback, private or link-local address.
func NewProber(cfg config.ScanConfig, blockPrivate bool, log *logger.Logger) *Prober {
	if log == nil {
		log = logger.Nop()
	}

	transport := NewTransport(blockPrivate)
	// Per-call timeouts come from the request context
	base := SecureClientConfig{BlockPrivate: blockPrivate, MaxRedirects: cfg.MaxRedirects}

	followCfg := base
	followCfg.FollowRedirects = cfg.FollowRedirects

	return &Prober{
		transport:      transport,
		follow:         newClient(transport, followCfg),
		noFollow:       newClient(transport, base),
		limiter:        ratelimit.NewLimiter(ratelimit.FromScanConfig(cfg)),
		userAgent:      cfg.UserAgent,
		maxBody:        cfg.MaxBodyBytes,
		defaultTimeout: cfg.ProbeTimeout,
		logger:         log.WithComponent("prober"),
	}
}

func (p *Prober) Get(ctx context.Context, rawURL string, opts core.GetOptions) core.ProbeResult {
	client := p.noFollow
	if opts.FollowRedirects {
		client = p.follow
	}
	return p.do(ctx, client, opts.Timeout, rawURL, func(ctx context.Context) (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	})
}

func (p *Prober) PostForm(ctx context.Context, rawURL string, form url.Values, timeout time.Duration) core.ProbeResult {
	return p.do(ctx, p.follow, timeout, rawURL, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, strings.NewReader(form.Encode()))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		return req, nil
	})
}

// Close releases idle connections held by this prober.
func (p *Prober) Close() {
	stats := p.limiter.GetStats()
	p.logger.Debugw("Prober closed", "tracked_hosts", stats.TrackedHosts)
	p.transport.CloseIdleConnections()
}

func (p *Prober) do(ctx context.Context, client *http.Client, timeout time.Duration, rawURL string, build func(context.Context) (*http.Request, error)) core.ProbeResult {
	if timeout <= 0 {
		timeout = p.defaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	req, err := build(ctx)
	if err != nil {
		return failure(core.ErrProbeNetwork, rawURL, err)
	}
	if p.userAgent != "" {
		req.Header.Set("User-Agent", p.userAgent)
	}

	if err := p.limiter.WaitForHost(ctx, req.URL.Host); err != nil {
		return failure(classify(err), rawURL, err)
	}

	resp, err := client.Do(req)
	if err != nil {
		p.logger.LogHTTPProbe(ctx, req.Method, rawURL, 0, time.Since(start), err)
		return failure(classify(err), rawURL, err)
	}
	defer CloseBody(resp)

	body, err := ReadBody(resp, p.maxBody)
	if err != nil {
		p.logger.LogHTTPProbe(ctx, req.Method, rawURL, resp.StatusCode, time.Since(start), err)
		return failure(classify(err), rawURL, err)
	}

	p.logger.LogHTTPProbe(ctx, req.Method, rawURL, resp.StatusCode, time.Since(start), nil)

	return core.ProbeResult{Response: &core.Response{
		Status:  resp.StatusCode,
		Headers: resp.Header,
		Body:    string(body),
		URL:     resp.Request.URL.String(),
	}}
}

func failure(kind error, rawURL string, cause error) core.ProbeResult {
	return core.ProbeResult{Err: &core.ProbeError{Kind: kind, URL: rawURL, Cause: cause}}
}

func classify(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return core.ErrProbeTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return core.ErrProbeTimeout
	}
	return core.ErrProbeNetwork
}
