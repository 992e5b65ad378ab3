package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CodeMonkeyCybersecurity/websentry/internal/orchestrator"
	"github.com/CodeMonkeyCybersecurity/websentry/pkg/report"
	"github.com/CodeMonkeyCybersecurity/websentry/pkg/types"
)

func init() {
	color.NoColor = true
}

func TestSortBySeverity(t *testing.T) {
	findings := []types.Finding{
		{Title: "a", Severity: types.SeverityLow},
		{Title: "b", Severity: types.SeverityCritical},
		{Title: "c", Severity: types.SeverityLow},
		{Title: "d", Severity: types.SeverityHigh},
	}

	sorted := sortBySeverity(findings)
	titles := make([]string, len(sorted))
	for i, f := range sorted {
		titles[i] = f.Title
	}
	assert.Equal(t, []string{"b", "d", "a", "c"}, titles)
	assert.Equal(t, "a", findings[0].Title, "input must not be reordered")
}

func TestDisplayReport(t *testing.T) {
	started := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	completed := started.Add(1500 * time.Millisecond)
	scan := &types.Scan{
		ID:          "scan-1",
		TargetURL:   "https://shop.example/",
		Profile:     types.ProfileQuick,
		Status:      types.ScanStatusCompleted,
		StartedAt:   &started,
		CompletedAt: &completed,
	}
	findings := []types.Finding{
		{Title: "Missing Content-Security-Policy", Severity: types.SeverityMedium, Category: types.CategoryHeaders, Detector: "headers", CVSSScore: 5.0, Recommendation: "Add a CSP header"},
		{Title: "MySQL port open", Severity: types.SeverityHigh, Category: types.CategoryPorts, Detector: "ports", CVSSScore: 7.5},
	}
	failures := []types.DetectorFailure{{Detector: "xss", Reason: "probe timeout"}}

	var buf bytes.Buffer
	displayReport(&buf, orchestrator.BuildReport(scan, findings, failures))
	out := buf.String()

	assert.Contains(t, out, "Scan scan-1")
	assert.Contains(t, out, "✓ completed")
	assert.Contains(t, out, "1.5s")
	assert.Contains(t, out, "Findings (2)")
	assert.Contains(t, out, "→ Add a CSP header")
	assert.Contains(t, out, "xss: probe timeout")
	assert.Contains(t, out, "Risk: LOW (weighted total 11)")
	assert.Less(t, bytes.Index(buf.Bytes(), []byte("[HIGH]")), bytes.Index(buf.Bytes(), []byte("[MEDIUM]")))
}

func TestDisplayDiff(t *testing.T) {
	d := report.Diff{
		New:       []types.Finding{{Title: "Reflected XSS in q", Severity: types.SeverityHigh}},
		Fixed:     []types.Finding{{Title: "Missing HSTS", Severity: types.SeverityMedium}},
		Unchanged: []types.Finding{{Title: "Server version disclosed"}},
	}

	var buf bytes.Buffer
	displayDiff(&buf, "old", "new", d)
	out := buf.String()

	assert.Contains(t, out, "New (1)")
	assert.Contains(t, out, "+ [HIGH] Reflected XSS in q")
	assert.Contains(t, out, "Fixed (1)")
	assert.Contains(t, out, "- [MEDIUM] Missing HSTS")
	assert.Contains(t, out, "Unchanged: 1")
}

func TestDisplayScanList(t *testing.T) {
	var buf bytes.Buffer
	displayScanList(&buf, nil)
	assert.Equal(t, "No scans found\n", buf.String())

	buf.Reset()
	displayScanList(&buf, []*types.Scan{{ID: "scan-2", TargetURL: "https://a.example/", Profile: types.ProfileFull, Status: types.ScanStatusFailed}})
	assert.Contains(t, buf.String(), "scan-2")
	assert.Contains(t, buf.String(), "✗ failed")
}

func TestInitConfig_FileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".websentry.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
database:
  dsn: `+filepath.Join(dir, "scans.db")+`
scan:
  max_parallel_detectors: 4
tools:
  zap:
    api_endpoint: http://127.0.0.1:8090
`), 0o600))

	t.Setenv("WEBSENTRY_WORKER_COUNT", "7")

	cfgFile = path
	t.Cleanup(func() { cfgFile = "" })

	require.NoError(t, initConfig())
	assert.Equal(t, "sqlite3", cfg.Database.Driver)
	assert.Equal(t, filepath.Join(dir, "scans.db"), cfg.Database.DSN)
	assert.Equal(t, 4, cfg.Scan.MaxParallelDetectors)
	assert.Equal(t, "http://127.0.0.1:8090", cfg.Tools.ZAP.APIEndpoint)
	assert.Equal(t, 2*time.Second, cfg.Tools.ZAP.PollInterval)
	assert.Equal(t, 7, cfg.Worker.Count)
	assert.Equal(t, 10*time.Second, cfg.Scan.PageTimeout)
}
