package version

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CodeMonkeyCybersecurity/websentry/pkg/scanners/scannertest"
	"github.com/CodeMonkeyCybersecurity/websentry/pkg/types"
)

func TestAtMost(t *testing.T) {
	tests := []struct {
		detected, marker string
		want             bool
	}{
		{"2.4.48", "2.4.49", true},
		{"2.4.49", "2.4.49", true},
		{"2.4.51", "2.4.49", false},
		{"2.4", "2.4.49", true},
		{"2.4.49.1", "2.4.49", false},
		{"1.9", "2.4.49", true},
		{"3", "2.4.49", false},
		{"2.4.x", "2.4.49", false},
		{"2.4.x", "2.4.x", true},
		{"", "2.4.49", false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, AtMost(tt.detected, tt.marker), "%s <= %s", tt.detected, tt.marker)
	}
}

func TestAtMost_Reflexive(t *testing.T) {
	for _, v := range []string{"1", "1.0", "2.4.49", "10.20.30.40"} {
		assert.True(t, AtMost(v, v), v)
	}
}

func TestOlder(t *testing.T) {
	tests := []struct {
		detected, minimum string
		want              bool
	}{
		{"2.4.41", "2.4.50", true},
		{"2.4.50", "2.4.50", false},
		{"2.4.51", "2.4.50", false},
		{"1.18.0", "1.20.0", true},
		{"8.1", "8.1.0", false},
		{"7", "8.1.0", true},
		{"8.1.x", "8.1.0", false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, Older(tt.detected, tt.minimum), "%s < %s", tt.detected, tt.minimum)
	}
}

func TestDetect_HeaderWinsOverHTML(t *testing.T) {
	h := http.Header{}
	h.Set("Server", "Apache/2.4.49 (Unix)")
	h.Set("X-Powered-By", "PHP/7.3.1")
	body := `<footer>Apache/2.4.49 Server</footer><link href="/wp-content/themes/x/style.css"><meta name="generator" content="WordPress 6.4.2">`

	dets := Detect(h, body)

	bySoftware := map[string][]Detection{}
	for _, d := range dets {
		bySoftware[d.Software] = append(bySoftware[d.Software], d)
	}

	require.Len(t, bySoftware["apache"], 1)
	assert.Equal(t, "2.4.49", bySoftware["apache"][0].Version)
	assert.Equal(t, "header: Server", bySoftware["apache"][0].Source)

	require.Len(t, bySoftware["php"], 1)
	assert.Equal(t, "header: X-Powered-By", bySoftware["php"][0].Source)

	require.Len(t, bySoftware["wordpress"], 2)
	assert.Equal(t, DetectedMarker, bySoftware["wordpress"][0].Version)
	assert.Equal(t, "6.4.2", bySoftware["wordpress"][1].Version)
}

func TestAssess(t *testing.T) {
	tests := []struct {
		name       string
		det        Detection
		severities []types.Severity
		cve        string
	}{
		{"apache 2.4.48 vulnerable and outdated", Detection{Software: "apache", Version: "2.4.48"}, []types.Severity{types.SeverityCritical, types.SeverityMedium}, "CVE-2021-41773"},
		{"apache 2.4.50 second marker only", Detection{Software: "apache", Version: "2.4.50"}, []types.Severity{types.SeverityCritical}, "CVE-2021-42013"},
		{"apache 2.4.51 clean", Detection{Software: "apache", Version: "2.4.51"}, nil, ""},
		{"nginx 1.18.0", Detection{Software: "nginx", Version: "1.18.0"}, []types.Severity{types.SeverityHigh, types.SeverityMedium}, ""},
		{"nginx 1.19.0 outdated only", Detection{Software: "nginx", Version: "1.19.0"}, []types.Severity{types.SeverityMedium}, ""},
		{"php 8.0.0", Detection{Software: "php", Version: "8.0.0"}, []types.Severity{types.SeverityMedium, types.SeverityMedium}, ""},
		{"iis has no tables", Detection{Software: "iis", Version: "7.5"}, nil, ""},
		{"wordpress marker", Detection{Software: "wordpress", Version: DetectedMarker}, nil, ""},
		{"malformed apache", Detection{Software: "apache", Version: "2.4.x"}, nil, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			findings := Assess(tt.det)
			require.Len(t, findings, len(tt.severities))
			for i, sev := range tt.severities {
				assert.Equal(t, sev, findings[i].Severity)
				assert.Equal(t, types.CategoryVersion, findings[i].Category)
			}
			if tt.cve != "" {
				assert.Equal(t, tt.cve, findings[0].Evidence["cve"])
			}
		})
	}
}

func TestDetector_Run(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Server", "nginx/1.18.0")
		w.Write([]byte("<html>hello</html>"))
	}))
	defer server.Close()

	findings, err := New().Run(context.Background(), scannertest.MustURL(t, server.URL), scannertest.Capabilities(t))
	require.NoError(t, err)
	require.Len(t, findings, 2)
	assert.Equal(t, types.SeverityHigh, findings[0].Severity)
	assert.Equal(t, 7.5, findings[0].CVSSScore)
	assert.Equal(t, types.SeverityMedium, findings[1].Severity)
	assert.Equal(t, 5.0, findings[1].CVSSScore)
	assert.Equal(t, "1.20.0", findings[1].Evidence["minimum_version"])
}

func TestDetector_Unreachable(t *testing.T) {
	_, err := New().Run(context.Background(), scannertest.MustURL(t, "https://down.example"), scannertest.Unreachable())
	assert.Error(t, err)
}
