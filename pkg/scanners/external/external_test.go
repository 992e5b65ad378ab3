package external

import (
	"context"
	"errors"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CodeMonkeyCybersecurity/websentry/internal/core"
	"github.com/CodeMonkeyCybersecurity/websentry/pkg/scanners/scannertest"
	"github.com/CodeMonkeyCybersecurity/websentry/pkg/types"
)

type staticSource struct {
	name   string
	alerts []types.Alert
	err    error
}

func (s staticSource) Name() string { return s.name }

func (s staticSource) Alerts(ctx context.Context, target *url.URL) ([]types.Alert, error) {
	return s.alerts, s.err
}

func TestMapRisk(t *testing.T) {
	tests := []struct {
		risk string
		sev  types.Severity
		cvss float64
	}{
		{"Informational", types.SeverityInfo, 0.0},
		{"Low", types.SeverityLow, 3.0},
		{"Medium", types.SeverityMedium, 5.5},
		{"High", types.SeverityHigh, 7.5},
		{"Critical", types.SeverityCritical, 9.0},
		{"high", types.SeverityHigh, 7.5},
		{"Severe", types.SeverityMedium, 5.5},
		{"", types.SeverityMedium, 5.5},
	}

	for _, tt := range tests {
		sev, cvss := MapRisk(tt.risk)
		assert.Equal(t, tt.sev, sev, tt.risk)
		assert.Equal(t, tt.cvss, cvss, tt.risk)
	}
}

func TestNormalize_DropsInformational(t *testing.T) {
	alerts := []types.Alert{
		{Name: "Server Leaks Version Information", Risk: "Informational"},
		{Name: "Possible SQL Injection pattern", Risk: "Informational"},
		{Name: "Reflected XSS candidate", Risk: "Informational"},
		{Name: "Cookie without Secure flag", Risk: "Low", Solution: "Set the Secure flag."},
	}

	findings := Normalize(alerts)
	require.Len(t, findings, 3)
	assert.Equal(t, "Possible SQL Injection pattern", findings[0].Title)
	assert.Equal(t, types.SeverityInfo, findings[0].Severity)
	assert.Equal(t, "Reflected XSS candidate", findings[1].Title)
	assert.Equal(t, "Set the Secure flag.", findings[2].Recommendation)
	assert.Equal(t, types.CategoryExternal, findings[2].Category)
}

func TestNormalize_NoDeduplication(t *testing.T) {
	a := types.Alert{Name: "X-Frame-Options Header Not Set", Risk: "Medium", URL: "https://example.com/"}
	assert.Len(t, Normalize([]types.Alert{a, a}), 2)
}

func TestDetector_NoSources(t *testing.T) {
	findings, err := New(nil).Run(context.Background(), scannertest.MustURL(t, "https://example.com"), scannertest.Unreachable())
	require.NoError(t, err)
	assert.Empty(t, findings)
}

func TestDetector_FailingSourceKeepsOthers(t *testing.T) {
	good := staticSource{name: "zap", alerts: []types.Alert{{Name: "SQL Injection", Risk: "High"}}}
	bad := staticSource{name: "nikto", err: errors.New("binary not found")}

	findings, err := New(nil, bad, good).Run(context.Background(), scannertest.MustURL(t, "https://example.com"), scannertest.Unreachable())
	require.Error(t, err)

	var de *core.DetectorError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, Name, de.Detector)
	assert.Contains(t, err.Error(), "nikto")

	require.Len(t, findings, 1)
	assert.Equal(t, "zap", findings[0].Evidence["source"])
	assert.Equal(t, 7.5, findings[0].CVSSScore)
}

func TestDetector_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	src := staticSource{name: "zap", alerts: []types.Alert{{Name: "XSS", Risk: "High"}}}
	_, err := New(nil, src).Run(ctx, scannertest.MustURL(t, "https://example.com"), scannertest.Unreachable())
	assert.ErrorIs(t, err, context.Canceled)
}
