package ports

import (
	"context"
	"errors"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CodeMonkeyCybersecurity/websentry/internal/core"
	"github.com/CodeMonkeyCybersecurity/websentry/pkg/types"
)

type fakeScanner struct {
	ports []types.OpenPort
	err   error
	host  string
}

func (f *fakeScanner) ScanPorts(_ context.Context, host string) ([]types.OpenPort, error) {
	f.host = host
	return f.ports, f.err
}

func TestClassify(t *testing.T) {
	tests := []struct {
		port     int
		tier     Tier
		severity types.Severity
		cvss     float64
	}{
		{80, TierStandardWeb, types.SeverityInfo, 0.0},
		{443, TierStandardWeb, types.SeverityInfo, 0.0},
		{8080, TierAlternativeWeb, types.SeverityLow, 2.0},
		{8443, TierAlternativeWeb, types.SeverityLow, 2.0},
		{8000, TierAlternativeWeb, types.SeverityLow, 2.0},
		{8888, TierAlternativeWeb, types.SeverityLow, 2.0},
		{21, TierCritical, types.SeverityHigh, 7.5},
		{22, TierCritical, types.SeverityHigh, 7.0},
		{23, TierCritical, types.SeverityCritical, 9.0},
		{135, TierCritical, types.SeverityHigh, 7.5},
		{139, TierCritical, types.SeverityHigh, 7.0},
		{445, TierCritical, types.SeverityHigh, 8.0},
		{1433, TierCritical, types.SeverityCritical, 9.0},
		{3306, TierCritical, types.SeverityCritical, 9.0},
		{5432, TierCritical, types.SeverityCritical, 9.0},
		{3389, TierCritical, types.SeverityCritical, 9.0},
		{27017, TierCritical, types.SeverityCritical, 9.0},
		{6379, TierCritical, types.SeverityCritical, 9.0},
		{25, TierSuspicious, types.SeverityMedium, 5.0},
		{110, TierSuspicious, types.SeverityMedium, 5.0},
		{143, TierSuspicious, types.SeverityMedium, 5.0},
		{9200, TierOther, types.SeverityMedium, 4.0},
		{1, TierOther, types.SeverityMedium, 4.0},
	}

	for _, tt := range tests {
		c := Classify(types.OpenPort{Port: tt.port, Protocol: "tcp"}, "https://x.example")
		assert.Equal(t, tt.tier, c.Tier, "port %d", tt.port)
		assert.Equal(t, tt.severity, c.Severity, "port %d", tt.port)
		assert.Equal(t, tt.cvss, c.CVSS, "port %d", tt.port)
	}
}

func TestClassify_Total(t *testing.T) {
	for port := 0; port <= 65535; port++ {
		c := Classify(types.OpenPort{Port: port, Protocol: "tcp"}, "t")
		require.NotEmpty(t, c.Tier, "port %d", port)
		require.GreaterOrEqual(t, c.Severity.Rank(), 0, "port %d", port)
		if port == 80 || port == 443 {
			require.Equal(t, types.SeverityInfo, c.Severity)
		}
	}
}

func TestClassify_CriticalDescription(t *testing.T) {
	c := Classify(types.OpenPort{Port: 3306, Protocol: "tcp", Service: "mysql"}, "https://shop.example/")
	assert.Contains(t, c.Description, "MySQL")
	assert.Contains(t, c.Description, "should not be reachable from the internet")
}

func TestDetector_Run(t *testing.T) {
	scanner := &fakeScanner{ports: []types.OpenPort{
		{Port: 443, Protocol: "tcp", Service: "https"},
		{Port: 3306, Protocol: "tcp", Service: "mysql", Version: "8.0.36"},
	}}
	target, _ := url.Parse("https://shop.example:8443/cart")

	findings, err := New(scanner).Run(context.Background(), target, core.Capabilities{})
	require.NoError(t, err)
	require.Len(t, findings, 2)
	assert.Equal(t, "shop.example", scanner.host)

	assert.Equal(t, types.SeverityInfo, findings[0].Severity)
	assert.Equal(t, types.SeverityCritical, findings[1].Severity)
	assert.Equal(t, 3306, findings[1].Evidence["port"])
	assert.Equal(t, "8.0.36", findings[1].Evidence["version"])
	assert.Equal(t, types.CategoryPorts, findings[1].Category)
}

func TestDetector_ScannerFailure(t *testing.T) {
	target, _ := url.Parse("https://shop.example")
	_, err := New(&fakeScanner{err: errors.New("nmap exited 1")}).Run(context.Background(), target, core.Capabilities{})

	var detErr *core.DetectorError
	require.True(t, errors.As(err, &detErr))
	assert.Equal(t, Name, detErr.Detector)
}
