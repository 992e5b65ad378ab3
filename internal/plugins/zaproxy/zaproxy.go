// Package zaproxy drives a running OWASP ZAP daemon over its JSON API and
// returns the alerts it raises for a target.
package zaproxy

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/CodeMonkeyCybersecurity/websentry/internal/config"
	"github.com/CodeMonkeyCybersecurity/websentry/internal/core"
	"github.com/CodeMonkeyCybersecurity/websentry/internal/httpclient"
	"github.com/CodeMonkeyCybersecurity/websentry/internal/logger"
	"github.com/CodeMonkeyCybersecurity/websentry/pkg/types"
)

const (
	Name           = "zap"
	requestTimeout = 30 * time.Second
	maxErrorBody   = 4096
)

type Client struct {
	baseURL       string
	apiKey        string
	httpClient    *http.Client
	spiderTimeout time.Duration
	scanTimeout   time.Duration
	pollInterval  time.Duration
	logger        *logger.Logger
}

var _ core.AlertSource = (*Client)(nil)

func NewClient(cfg config.ZAPConfig, log *logger.Logger) *Client {
	if log == nil {
		log = logger.Nop()
	}
	poll := cfg.PollInterval
	if poll <= 0 {
		poll = 2 * time.Second
	}
	return &Client{
		baseURL:       strings.TrimRight(cfg.APIEndpoint, "/"),
		apiKey:        cfg.APIKey,
		httpClient:    httpclient.NewAPIClient(requestTimeout),
		spiderTimeout: cfg.SpiderTimeout,
		scanTimeout:   cfg.ScanTimeout,
		pollInterval:  poll,
		logger:        log.WithComponent("zap-client"),
	}
}

func (c *Client) Name() string { return Name }

// Alerts spiders the target, runs an active scan and returns the alerts for
// the target's origin. A phase that does not finish within its timeout is
// abandoned and the alerts gathered so far are returned.
func (c *Client) Alerts(ctx context.Context, target *url.URL) ([]types.Alert, error) {
	start := time.Now()
	ctx, span := c.logger.StartOperation(ctx, "zap.Alerts", "target", target.String())
	var err error
	defer func() {
		c.logger.FinishOperation(ctx, span, "zap.Alerts", start, err)
	}()

	var version string
	if version, err = c.Version(ctx); err != nil {
		err = fmt.Errorf("zap daemon not available at %s: %w", c.baseURL, err)
		return nil, err
	}
	c.logger.Debugw("ZAP daemon detected", "version", version)

	if err = c.runPhase(ctx, "spider", target.String(), c.spiderTimeout); err != nil {
		return nil, err
	}
	if err = c.runPhase(ctx, "ascan", target.String(), c.scanTimeout); err != nil {
		return nil, err
	}

	var alerts []types.Alert
	alerts, err = c.fetchAlerts(ctx, target.Scheme+"://"+target.Host)
	return alerts, err
}

func (c *Client) Version(ctx context.Context) (string, error) {
	var resp struct {
		Version string `json:"version"`
	}
	if err := c.call(ctx, "core/view/version", nil, &resp); err != nil {
		return "", err
	}
	if resp.Version == "" {
		return "", fmt.Errorf("unexpected version response")
	}
	return resp.Version, nil
}

// runPhase starts a spider or active scan and polls its status until it
// reports 100 percent.
func (c *Client) runPhase(ctx context.Context, component, target string, timeout time.Duration) error {
	var started struct {
		Scan string `json:"scan"`
	}
	if err := c.call(ctx, component+"/action/scan", url.Values{"url": {target}}, &started); err != nil {
		return fmt.Errorf("starting %s: %w", component, err)
	}

	log := c.logger.WithFields("phase", component, "zap_scan_id", started.Scan)
	log.Infow("ZAP phase started")

	phaseCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		phaseCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		progress, err := c.status(phaseCtx, component, started.Scan)
		if err == nil && progress >= 100 {
			log.Infow("ZAP phase completed")
			return nil
		}
		if err != nil && phaseCtx.Err() == nil {
			log.Debugw("ZAP status poll failed", "error", err)
		}

		select {
		case <-phaseCtx.Done():
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Warnw("ZAP phase timed out, continuing with partial results", "timeout", timeout)
			return nil
		case <-ticker.C:
		}
	}
}

func (c *Client) status(ctx context.Context, component, scanID string) (int, error) {
	var resp struct {
		Status string `json:"status"`
	}
	if err := c.call(ctx, component+"/view/status", url.Values{"scanId": {scanID}}, &resp); err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(resp.Status)
	if err != nil {
		return 0, fmt.Errorf("invalid status %q: %w", resp.Status, err)
	}
	return n, nil
}

// zapAlert is the alert shape returned by core/view/alerts.
type zapAlert struct {
	Alert       string `json:"alert"`
	Name        string `json:"name"`
	Risk        string `json:"risk"`
	Description string `json:"description"`
	URL         string `json:"url"`
	Param       string `json:"param"`
	Evidence    string `json:"evidence"`
	Solution    string `json:"solution"`
	Reference   string `json:"reference"`
	CWEID       string `json:"cweid"`
	WASCID      string `json:"wascid"`
}

func (c *Client) fetchAlerts(ctx context.Context, baseURL string) ([]types.Alert, error) {
	var resp struct {
		Alerts []zapAlert `json:"alerts"`
	}
	if err := c.call(ctx, "core/view/alerts", url.Values{"baseurl": {baseURL}}, &resp); err != nil {
		return nil, fmt.Errorf("fetching alerts: %w", err)
	}

	alerts := make([]types.Alert, 0, len(resp.Alerts))
	for _, a := range resp.Alerts {
		name := a.Name
		if name == "" {
			name = a.Alert
		}
		alerts = append(alerts, types.Alert{
			Name:        name,
			Description: a.Description,
			Risk:        a.Risk,
			URL:         a.URL,
			Param:       a.Param,
			Evidence:    a.Evidence,
			Solution:    a.Solution,
			Reference:   a.Reference,
			CWEID:       a.CWEID,
			WASCID:      a.WASCID,
			Source:      Name,
		})
	}
	return alerts, nil
}

func (c *Client) call(ctx context.Context, endpoint string, params url.Values, out interface{}) error {
	if params == nil {
		params = url.Values{}
	}
	if c.apiKey != "" {
		params.Set("apikey", c.apiKey)
	}

	reqURL := fmt.Sprintf("%s/JSON/%s/?%s", c.baseURL, endpoint, params.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute request: %w", err)
	}
	defer httpclient.CloseBody(resp)

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return fmt.Errorf("%s: status %d, body: %s", endpoint, resp.StatusCode, string(body))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
