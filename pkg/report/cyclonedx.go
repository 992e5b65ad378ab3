package report

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	cdx "github.com/CycloneDX/cyclonedx-go"

	"github.com/CodeMonkeyCybersecurity/websentry/pkg/types"
)

// CycloneDXExporter writes findings as the vulnerabilities of a CycloneDX
// BOM whose single component is the scanned target.
type CycloneDXExporter struct{}

func (CycloneDXExporter) Name() string          { return "cyclonedx" }
func (CycloneDXExporter) FileExtension() string { return ".cdx.json" }

func (CycloneDXExporter) Export(r *types.Report, w io.Writer) error {
	bom := BuildBOM(r)
	if err := cdx.NewBOMEncoder(w, cdx.BOMFileFormatJSON).SetPretty(true).Encode(bom); err != nil {
		return fmt.Errorf("failed to encode cyclonedx: %w", err)
	}
	return nil
}

var cdxSeverity = map[types.Severity]cdx.Severity{
	types.SeverityCritical: cdx.SeverityCritical,
	types.SeverityHigh:     cdx.SeverityHigh,
	types.SeverityMedium:   cdx.SeverityMedium,
	types.SeverityLow:      cdx.SeverityLow,
	types.SeverityInfo:     cdx.SeverityInfo,
}

func BuildBOM(r *types.Report) *cdx.BOM {
	targetRef := "target:" + r.Scan.TargetURL

	bom := cdx.NewBOM()
	bom.SerialNumber = "urn:uuid:" + r.Scan.ID
	bom.Metadata = &cdx.Metadata{
		Timestamp: r.GeneratedAt.UTC().Format(time.RFC3339),
		Tools: &cdx.ToolsChoice{
			Services: &[]cdx.Service{{
				Provider: &cdx.OrganizationalEntity{Name: "Code Monkey Cybersecurity"},
				Name:     "websentry",
			}},
		},
		Component: &cdx.Component{
			BOMRef: targetRef,
			Type:   cdx.ComponentTypeApplication,
			Name:   r.Scan.TargetURL,
		},
		Properties: &[]cdx.Property{
			{Name: "websentry:scan_id", Value: r.Scan.ID},
			{Name: "websentry:profile", Value: string(r.Scan.Profile)},
			{Name: "websentry:status", Value: string(r.Scan.Status)},
			{Name: "websentry:risk_level", Value: string(r.Risk.Level)},
			{Name: "websentry:risk_weighted_total", Value: strconv.Itoa(r.Risk.WeightedTotal)},
		},
	}

	vulns := make([]cdx.Vulnerability, 0, len(r.Findings))
	for _, f := range r.Findings {
		vulns = append(vulns, vulnerability(f, targetRef))
	}
	bom.Vulnerabilities = &vulns
	return bom
}

func vulnerability(f types.Finding, targetRef string) cdx.Vulnerability {
	score := f.CVSSScore
	sev, ok := cdxSeverity[f.Severity]
	if !ok {
		sev = cdx.SeverityUnknown
	}

	v := cdx.Vulnerability{
		BOMRef:         f.ID,
		ID:             vulnerabilityID(f),
		Source:         &cdx.Source{Name: "websentry/" + f.Detector},
		Description:    f.Title,
		Detail:         f.Description,
		Recommendation: f.Recommendation,
		Created:        f.CreatedAt.UTC().Format(time.RFC3339),
		Ratings: &[]cdx.VulnerabilityRating{{
			Score:    &score,
			Severity: sev,
			Method:   cdx.ScoringMethodCVSSv31,
		}},
		Affects: &[]cdx.Affects{{Ref: targetRef}},
	}

	if cwe, ok := cweID(f.Evidence); ok {
		v.CWEs = &[]int{cwe}
	}

	props := []cdx.Property{
		{Name: "websentry:category", Value: string(f.Category)},
		{Name: "websentry:fingerprint", Value: f.Fingerprint},
	}
	keys := make([]string, 0, len(f.Evidence))
	for k := range f.Evidence {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		props = append(props, cdx.Property{Name: "websentry:evidence:" + k, Value: fmt.Sprint(f.Evidence[k])})
	}
	v.Properties = &props
	return v
}

// vulnerabilityID prefers a CVE carried in the evidence over the fingerprint.
func vulnerabilityID(f types.Finding) string {
	if cve, ok := f.Evidence["cve"].(string); ok && strings.HasPrefix(cve, "CVE-") {
		return cve
	}
	if f.Fingerprint != "" {
		return "WEBSENTRY-" + f.Fingerprint
	}
	return "WEBSENTRY-" + f.ID
}

func cweID(e types.Evidence) (int, bool) {
	raw, ok := e["cwe_id"]
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimPrefix(fmt.Sprint(raw), "CWE-"))
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}
