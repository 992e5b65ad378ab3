// Package external turns alerts from dynamic scanners such as ZAP and
// nikto into findings.
package external

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/CodeMonkeyCybersecurity/websentry/internal/core"
	"github.com/CodeMonkeyCybersecurity/websentry/internal/logger"
	"github.com/CodeMonkeyCybersecurity/websentry/pkg/types"
)

const Name = "external"

type riskMapping struct {
	Severity types.Severity
	CVSS     float64
}

var riskMap = map[string]riskMapping{
	"informational": {types.SeverityInfo, 0.0},
	"low":           {types.SeverityLow, 3.0},
	"medium":        {types.SeverityMedium, 5.5},
	"high":          {types.SeverityHigh, 7.5},
	"critical":      {types.SeverityCritical, 9.0},
}

var unknownRisk = riskMapping{types.SeverityMedium, 5.5}

const defaultRecommendation = "Review the alert details and apply the fix suggested by the scanner."

// MapRisk returns the severity and CVSS score for an alert risk label.
// Unknown labels map to medium.
func MapRisk(risk string) (types.Severity, float64) {
	m, ok := riskMap[strings.ToLower(strings.TrimSpace(risk))]
	if !ok {
		m = unknownRisk
	}
	return m.Severity, m.CVSS
}

// Keep reports whether an alert survives filtering. Informational alerts
// are dropped unless the name mentions SQL or XSS.
func Keep(a types.Alert) bool {
	if !strings.EqualFold(strings.TrimSpace(a.Risk), "informational") {
		return true
	}
	return strings.Contains(a.Name, "SQL") || strings.Contains(a.Name, "XSS")
}

// Normalize converts alerts to findings, one per kept alert.
func Normalize(alerts []types.Alert) []types.Finding {
	var findings []types.Finding
	for _, a := range alerts {
		if !Keep(a) {
			continue
		}
		findings = append(findings, normalize(a))
	}
	return findings
}

func normalize(a types.Alert) types.Finding {
	sev, cvss := MapRisk(a.Risk)

	recommendation := strings.TrimSpace(a.Solution)
	if recommendation == "" {
		recommendation = defaultRecommendation
	}

	ev := types.Evidence{
		"url":       a.URL,
		"param":     a.Param,
		"evidence":  a.Evidence,
		"reference": a.Reference,
		"risk":      a.Risk,
	}
	if a.CWEID != "" {
		ev["cwe_id"] = a.CWEID
	}
	if a.WASCID != "" {
		ev["wasc_id"] = a.WASCID
	}
	if a.Source != "" {
		ev["source"] = a.Source
	}

	return types.Finding{
		Detector:       Name,
		Category:       types.CategoryExternal,
		Severity:       sev,
		CVSSScore:      cvss,
		Title:          a.Name,
		Description:    a.Description,
		Recommendation: recommendation,
		Evidence:       ev,
	}
}

// Detector collects alerts from every configured source. A failing source
// fails the detector, but alerts from the other sources are still returned.
type Detector struct {
	sources []core.AlertSource
	logger  *logger.Logger
}

var _ core.Detector = (*Detector)(nil)

func New(log *logger.Logger, sources ...core.AlertSource) *Detector {
	if log == nil {
		log = logger.Nop()
	}
	return &Detector{sources: sources, logger: log.WithDetector(Name)}
}

func (d *Detector) Name() string             { return Name }
func (d *Detector) Category() types.Category { return types.CategoryExternal }

func (d *Detector) Run(ctx context.Context, target *url.URL, _ core.Capabilities) ([]types.Finding, error) {
	if len(d.sources) == 0 {
		d.logger.Debugw("No external alert sources configured")
		return nil, nil
	}

	var (
		findings []types.Finding
		errs     []error
	)
	for _, src := range d.sources {
		if err := ctx.Err(); err != nil {
			return findings, err
		}

		alerts, err := src.Alerts(ctx, target)
		if err != nil {
			if ctx.Err() != nil {
				return findings, ctx.Err()
			}
			d.logger.Warnw("External source failed", "source", src.Name(), "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", src.Name(), err))
		}

		for i := range alerts {
			if alerts[i].Source == "" {
				alerts[i].Source = src.Name()
			}
		}
		findings = append(findings, Normalize(alerts)...)
	}

	if len(errs) > 0 {
		return findings, core.NewDetectorError(Name, errors.Join(errs...))
	}
	return findings, nil
}
