// Package version fingerprints server software from response headers and
// HTML and flags known-vulnerable or outdated releases.
package version

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"sort"
	"strings"

	"github.com/CodeMonkeyCybersecurity/websentry/internal/core"
	"github.com/CodeMonkeyCybersecurity/websentry/pkg/types"
)

const Name = "version"

// DetectedMarker is the version recorded for fingerprints without a
// version group.
const DetectedMarker = "detected"

type Fingerprint struct {
	Software string
	Pattern  *regexp.Regexp
}

var Fingerprints = []Fingerprint{
	{"apache", regexp.MustCompile(`(?i)Apache/([\d.]+)`)},
	{"nginx", regexp.MustCompile(`(?i)nginx/([\d.]+)`)},
	{"php", regexp.MustCompile(`(?i)PHP/([\d.]+)`)},
	{"iis", regexp.MustCompile(`(?i)Microsoft-IIS/([\d.]+)`)},
	{"wordpress", regexp.MustCompile(`(?i)wp-content/themes`)},
	{"wordpress", regexp.MustCompile(`(?i)WordPress ([\d.]+)`)},
}

// VulnerableRelease flags every version at or below Marker. Entries are
// checked in order and the first match per software wins.
type VulnerableRelease struct {
	Software    string
	Marker      string
	Severity    types.Severity
	CVSS        float64
	CVE         string
	Description string
}

var VulnerableReleases = []VulnerableRelease{
	{"apache", "2.4.49", types.SeverityCritical, 9.8, "CVE-2021-41773", "Apache 2.4.49 path traversal (CVE-2021-41773)"},
	{"apache", "2.4.50", types.SeverityCritical, 9.8, "CVE-2021-42013", "Apache 2.4.50 path traversal (CVE-2021-42013)"},
	{"nginx", "1.18.0", types.SeverityHigh, 7.5, "", "nginx releases before 1.20.0 may carry known vulnerabilities"},
	{"php", "7.4.0", types.SeverityMedium, 6.0, "", "PHP releases before 7.4.33 may carry known vulnerabilities"},
	{"php", "8.0.0", types.SeverityMedium, 6.0, "", "PHP releases before 8.0.30 may carry known vulnerabilities"},
}

// MinimumVersions are the oldest recommended releases.
var MinimumVersions = map[string]string{
	"apache": "2.4.50",
	"nginx":  "1.20.0",
	"php":    "8.1.0",
}

const recommendation = "Update the software to the latest secure version."

type Detection struct {
	Software string
	Version  string
	// Source is "header: <name>" or "html".
	Source   string
	RawValue string
}

// Detect extracts unique (software, version) pairs. A pair seen in both a
// header and the body keeps the header source.
func Detect(h http.Header, body string) []Detection {
	var out []Detection
	seen := make(map[string]bool)

	add := func(d Detection) {
		key := d.Software + "|" + d.Version
		if seen[key] {
			return
		}
		seen[key] = true
		out = append(out, d)
	}

	names := make([]string, 0, len(h))
	for name := range h {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, fp := range Fingerprints {
	headers:
		for _, name := range names {
			for _, value := range h[name] {
				if m := fp.Pattern.FindStringSubmatch(value); m != nil {
					add(Detection{Software: fp.Software, Version: versionOf(m), Source: "header: " + name, RawValue: value})
					break headers
				}
			}
		}
	}

	for _, fp := range Fingerprints {
		if m := fp.Pattern.FindStringSubmatch(body); m != nil {
			add(Detection{Software: fp.Software, Version: versionOf(m), Source: "html", RawValue: m[0]})
		}
	}

	return out
}

func versionOf(m []string) string {
	if len(m) < 2 {
		return DetectedMarker
	}
	return strings.TrimRight(m[1], ".")
}

// Assess produces the findings for one detection. The vulnerable-release
// check and the minimum-version check are independent.
func Assess(d Detection) []types.Finding {
	var findings []types.Finding

	for _, v := range VulnerableReleases {
		if v.Software != d.Software || !AtMost(d.Version, v.Marker) {
			continue
		}
		ev := evidence(d)
		ev["vulnerable_marker"] = v.Marker
		if v.CVE != "" {
			ev["cve"] = v.CVE
		}
		findings = append(findings, newFinding(d, v.Severity, v.CVSS,
			fmt.Sprintf("%s (detected version: %s)", v.Description, d.Version), ev))
		break
	}

	if minimum, ok := MinimumVersions[d.Software]; ok && Older(d.Version, minimum) {
		ev := evidence(d)
		ev["minimum_version"] = minimum
		findings = append(findings, newFinding(d, types.SeverityMedium, 5.0,
			fmt.Sprintf("Outdated version of %s detected (%s). Upgrading to the latest secure release is recommended.", d.Software, d.Version), ev))
	}

	return findings
}

func evidence(d Detection) types.Evidence {
	return types.Evidence{
		"software":  d.Software,
		"version":   d.Version,
		"source":    d.Source,
		"raw_value": d.RawValue,
	}
}

func newFinding(d Detection, sev types.Severity, cvss float64, description string, ev types.Evidence) types.Finding {
	return types.Finding{
		Detector:       Name,
		Category:       types.CategoryVersion,
		Severity:       sev,
		CVSSScore:      cvss,
		Title:          "Potentially vulnerable software version: " + d.Software,
		Description:    description,
		Recommendation: recommendation,
		Evidence:       ev,
	}
}

type Detector struct{}

var _ core.Detector = (*Detector)(nil)

func New() *Detector {
	return &Detector{}
}

func (d *Detector) Name() string             { return Name }
func (d *Detector) Category() types.Category { return types.CategoryVersion }

func (d *Detector) Run(ctx context.Context, target *url.URL, caps core.Capabilities) ([]types.Finding, error) {
	res := caps.Prober.Get(ctx, target.String(), core.GetOptions{
		Timeout:         caps.PageTimeout,
		FollowRedirects: true,
	})
	if !res.OK() {
		return nil, core.NewDetectorError(Name, res.Err)
	}

	var findings []types.Finding
	for _, det := range Detect(res.Response.Headers, res.Response.Body) {
		findings = append(findings, Assess(det)...)
	}
	return findings, nil
}
