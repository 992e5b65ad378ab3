package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CodeMonkeyCybersecurity/websentry/internal/config"
	"github.com/CodeMonkeyCybersecurity/websentry/internal/core"
	"github.com/CodeMonkeyCybersecurity/websentry/internal/orchestrator"
	"github.com/CodeMonkeyCybersecurity/websentry/pkg/risk"
	"github.com/CodeMonkeyCybersecurity/websentry/pkg/types"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeService struct {
	mu        sync.Mutex
	scans     map[string]*types.Scan
	findings  map[string][]types.Finding
	broker    *orchestrator.Broker
	startErr  error
	cancelErr error
	started   []string
}

func newFakeService() *fakeService {
	return &fakeService{
		scans:    make(map[string]*types.Scan),
		findings: make(map[string][]types.Finding),
		broker:   orchestrator.NewBroker(),
	}
}

func (f *fakeService) add(scan *types.Scan, findings ...types.Finding) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scans[scan.ID] = scan
	for i := range findings {
		findings[i].Sequence = i
		findings[i].ScanID = scan.ID
	}
	f.findings[scan.ID] = findings
}

func (f *fakeService) setStatus(id string, status types.ScanStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scans[id].Status = status
}

func (f *fakeService) StartScan(_ context.Context, target string, profile types.ScanProfile) (string, error) {
	if f.startErr != nil {
		return "", f.startErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = append(f.started, target+"|"+string(profile))
	return "scan-new", nil
}

func (f *fakeService) GetScan(_ context.Context, id string) (*types.Scan, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	scan, ok := f.scans[id]
	if !ok {
		return nil, fmt.Errorf("scan %s: %w", id, core.ErrNotFound)
	}
	copied := *scan
	return &copied, nil
}

func (f *fakeService) ListScans(context.Context, core.ScanFilter) ([]*types.Scan, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*types.Scan
	for _, s := range f.scans {
		out = append(out, s)
	}
	return out, nil
}

func (f *fakeService) GetFindings(ctx context.Context, id string) ([]types.Finding, error) {
	if _, err := f.GetScan(ctx, id); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]types.Finding(nil), f.findings[id]...), nil
}

func (f *fakeService) GetDetectorFailures(context.Context, string) ([]types.DetectorFailure, error) {
	return nil, nil
}

func (f *fakeService) GetRiskScore(ctx context.Context, id string) (types.RiskScore, error) {
	findings, err := f.GetFindings(ctx, id)
	if err != nil {
		return types.RiskScore{}, err
	}
	return risk.Score(findings), nil
}

func (f *fakeService) Report(ctx context.Context, id string) (*types.Report, error) {
	scan, err := f.GetScan(ctx, id)
	if err != nil {
		return nil, err
	}
	findings, _ := f.GetFindings(ctx, id)
	return orchestrator.BuildReport(scan, findings, nil), nil
}

func (f *fakeService) Cancel(ctx context.Context, id string) error {
	if _, err := f.GetScan(ctx, id); err != nil {
		return err
	}
	return f.cancelErr
}

func (f *fakeService) Events() *orchestrator.Broker { return f.broker }

type pinger struct{ err error }

func (p pinger) Ping(context.Context) error { return p.err }

func testConfig() config.Config {
	cfg := config.DefaultConfig()
	cfg.Security.RateLimit.RequestsPerSecond = 0
	return *cfg
}

func exampleFindings() []types.Finding {
	return []types.Finding{
		{Title: "Missing security header: Strict-Transport-Security", Severity: types.SeverityMedium, Category: types.CategoryHeaders},
		{Title: "Missing security header: Content-Security-Policy", Severity: types.SeverityMedium, Category: types.CategoryHeaders},
		{Title: "Exposed MySQL port", Severity: types.SeverityCritical, Category: types.CategoryPorts},
	}
}

func do(t *testing.T, h http.Handler, method, path, body string, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), v), w.Body.String())
}

func TestHealth(t *testing.T) {
	h := NewServer(testConfig(), newFakeService(), pinger{}, nil).Handler()
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/health", "").Code)

	h = NewServer(testConfig(), newFakeService(), pinger{err: errors.New("db down")}, nil).Handler()
	assert.Equal(t, http.StatusServiceUnavailable, do(t, h, http.MethodGet, "/health", "").Code)
}

func TestStartScan(t *testing.T) {
	svc := newFakeService()
	h := NewServer(testConfig(), svc, nil, nil).Handler()

	w := do(t, h, http.MethodPost, "/api/scans", `{"target_url":"https://shop.example","profile":"full"}`)
	require.Equal(t, http.StatusAccepted, w.Code)
	var resp map[string]string
	decode(t, w, &resp)
	assert.Equal(t, "scan-new", resp["scan_id"])
	assert.Equal(t, []string{"https://shop.example|full"}, svc.started)

	w = do(t, h, http.MethodPost, "/api/scans", `{"target_url":"https://shop.example"}`)
	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, "https://shop.example|quick", svc.started[1], "profile defaults to quick")

	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPost, "/api/scans", `{}`).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPost, "/api/scans", `{"target_url":"x","profile":"deep"}`).Code)

	svc.startErr = fmt.Errorf("%w: unsupported scheme", orchestrator.ErrInvalidTarget)
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPost, "/api/scans", `{"target_url":"ftp://x"}`).Code)

	svc.startErr = errors.New("database locked")
	w = do(t, h, http.MethodPost, "/api/scans", `{"target_url":"https://shop.example"}`)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "database locked")
}

func TestScanReads(t *testing.T) {
	svc := newFakeService()
	svc.add(&types.Scan{ID: "scan-1", TargetURL: "https://shop.example/", Status: types.ScanStatusCompleted}, exampleFindings()...)
	h := NewServer(testConfig(), svc, nil, nil).Handler()

	w := do(t, h, http.MethodGet, "/api/scans/scan-1", "")
	require.Equal(t, http.StatusOK, w.Code)
	var detail scanDetail
	decode(t, w, &detail)
	assert.Len(t, detail.Findings, 3)
	assert.Equal(t, 18, detail.Risk.WeightedTotal)
	assert.Equal(t, types.RiskMedium, detail.Risk.Level)
	assert.NotNil(t, detail.DetectorFailures)

	w = do(t, h, http.MethodGet, "/api/scans/scan-1/findings?severity=critical", "")
	require.Equal(t, http.StatusOK, w.Code)
	var findings struct {
		Findings []types.Finding `json:"findings"`
		Count    int             `json:"count"`
	}
	decode(t, w, &findings)
	assert.Equal(t, 1, findings.Count)
	assert.Equal(t, "Exposed MySQL port", findings.Findings[0].Title)

	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodGet, "/api/scans/scan-1/findings?severity=urgent", "").Code)

	w = do(t, h, http.MethodGet, "/api/scans/scan-1/risk", "")
	require.Equal(t, http.StatusOK, w.Code)
	var score types.RiskScore
	decode(t, w, &score)
	assert.Equal(t, 18, score.WeightedTotal)

	w = do(t, h, http.MethodGet, "/api/scans/scan-1/report", "")
	require.Equal(t, http.StatusOK, w.Code)
	var report types.Report
	decode(t, w, &report)
	assert.Equal(t, 2, report.Summary.ByCategory[types.CategoryHeaders])
	assert.Equal(t, 1, report.Summary.BySeverity[types.SeverityCritical])

	w = do(t, h, http.MethodGet, "/api/scans?limit=10", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"count":1`)
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodGet, "/api/scans?limit=-1", "").Code)

	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodGet, "/api/scans/missing", "").Code)
	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodGet, "/api/scans/missing/risk", "").Code)
}

func TestCancel(t *testing.T) {
	svc := newFakeService()
	svc.add(&types.Scan{ID: "scan-1", Status: types.ScanStatusRunning})
	h := NewServer(testConfig(), svc, nil, nil).Handler()

	assert.Equal(t, http.StatusAccepted, do(t, h, http.MethodPost, "/api/scans/scan-1/cancel", "").Code)

	svc.cancelErr = fmt.Errorf("%w: scan-1 is completed", orchestrator.ErrScanFinished)
	assert.Equal(t, http.StatusConflict, do(t, h, http.MethodPost, "/api/scans/scan-1/cancel", "").Code)
	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodPost, "/api/scans/missing/cancel", "").Code)
}

func TestAuthMiddleware(t *testing.T) {
	cfg := testConfig()
	cfg.Security.APIKey = "s3cret"
	svc := newFakeService()
	svc.add(&types.Scan{ID: "scan-1"})
	h := NewServer(cfg, svc, nil, nil).Handler()

	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/health", "").Code)
	assert.Equal(t, http.StatusUnauthorized, do(t, h, http.MethodGet, "/api/scans/scan-1", "").Code)
	assert.Equal(t, http.StatusUnauthorized, do(t, h, http.MethodGet, "/api/scans/scan-1", "", "Authorization", "Token s3cret").Code)
	assert.Equal(t, http.StatusUnauthorized, do(t, h, http.MethodGet, "/api/scans/scan-1", "", "Authorization", "Bearer wrong").Code)
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/api/scans/scan-1", "", "Authorization", "Bearer s3cret").Code)
}

func TestRateLimitMiddleware(t *testing.T) {
	cfg := testConfig()
	cfg.Security.RateLimit = config.RateLimitConfig{RequestsPerSecond: 1, BurstSize: 2}
	h := NewServer(cfg, newFakeService(), nil, nil).Handler()

	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/health", "").Code)
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/health", "").Code)
	assert.Equal(t, http.StatusTooManyRequests, do(t, h, http.MethodGet, "/health", "").Code)
}

func TestCORSMiddleware(t *testing.T) {
	h := NewServer(testConfig(), newFakeService(), nil, nil).Handler()

	w := do(t, h, http.MethodOptions, "/api/scans", "", "Origin", "http://localhost:3000")
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "http://localhost:3000", w.Header().Get("Access-Control-Allow-Origin"))

	w = do(t, h, http.MethodGet, "/health", "", "Origin", "https://evil.example")
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}

func TestStream(t *testing.T) {
	svc := newFakeService()
	defer svc.broker.Close()
	findings := exampleFindings()
	svc.add(&types.Scan{ID: "scan-1", Status: types.ScanStatusRunning}, findings[:2]...)

	srv := NewServer(testConfig(), svc, nil, nil)
	srv.streamPoll = time.Hour
	server := httptest.NewServer(srv.Handler())
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/api/scans/scan-1/stream"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()
	defer resp.Body.Close()

	read := func() orchestrator.Event {
		t.Helper()
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
		var ev orchestrator.Event
		require.NoError(t, conn.ReadJSON(&ev))
		return ev
	}

	assert.Equal(t, 0, read().Finding.Sequence)
	assert.Equal(t, 1, read().Finding.Sequence)

	live := findings[2]
	live.Sequence = 2
	live.ScanID = "scan-1"
	// The broker subscription exists before the upgrade completes.
	svc.broker.Publish(orchestrator.Event{Type: orchestrator.EventFinding, ScanID: "scan-1", Finding: &live})

	ev := read()
	require.Equal(t, orchestrator.EventFinding, ev.Type)
	assert.Equal(t, "Exposed MySQL port", ev.Finding.Title)

	svc.setStatus("scan-1", types.ScanStatusCompleted)
	svc.broker.Publish(orchestrator.Event{Type: orchestrator.EventStatus, ScanID: "scan-1", Status: types.ScanStatusCompleted})

	ev = read()
	assert.Equal(t, orchestrator.EventStatus, ev.Type)
	assert.Equal(t, types.ScanStatusCompleted, ev.Status)

	_, _, err = conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)
}

func TestStream_UnknownScan(t *testing.T) {
	server := httptest.NewServer(NewServer(testConfig(), newFakeService(), nil, nil).Handler())
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/api/scans/missing/stream"
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
