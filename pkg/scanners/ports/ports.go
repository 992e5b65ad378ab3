// Package ports classifies open ports reported by a port enumeration
// collaborator into exposure tiers.
package ports

import (
	"context"
	"fmt"
	"net/url"

	"github.com/CodeMonkeyCybersecurity/websentry/internal/core"
	"github.com/CodeMonkeyCybersecurity/websentry/pkg/types"
)

const Name = "ports"

type Tier string

const (
	TierStandardWeb    Tier = "standard_web"
	TierAlternativeWeb Tier = "alternative_web"
	TierCritical       Tier = "critical_exposure"
	TierSuspicious     Tier = "suspicious"
	TierOther          Tier = "other"
)

type exposure struct {
	Service  string
	Severity types.Severity
	CVSS     float64
}

var standardWebPorts = map[int]bool{80: true, 443: true}

var alternativeWebPorts = map[int]bool{8080: true, 8443: true, 8000: true, 8888: true}

var criticalExposure = map[int]exposure{
	21:    {"FTP", types.SeverityHigh, 7.5},
	22:    {"SSH", types.SeverityHigh, 7.0},
	23:    {"Telnet", types.SeverityCritical, 9.0},
	135:   {"RPC", types.SeverityHigh, 7.5},
	139:   {"NetBIOS", types.SeverityHigh, 7.0},
	445:   {"SMB", types.SeverityHigh, 8.0},
	1433:  {"MSSQL", types.SeverityCritical, 9.0},
	3306:  {"MySQL", types.SeverityCritical, 9.0},
	5432:  {"PostgreSQL", types.SeverityCritical, 9.0},
	3389:  {"RDP", types.SeverityCritical, 9.0},
	27017: {"MongoDB", types.SeverityCritical, 9.0},
	6379:  {"Redis", types.SeverityCritical, 9.0},
}

var suspicious = map[int]exposure{
	25:  {"SMTP", types.SeverityMedium, 5.0},
	110: {"POP3", types.SeverityMedium, 5.0},
	143: {"IMAP", types.SeverityMedium, 5.0},
}

// Classification is the verdict for one open port.
type Classification struct {
	Tier           Tier
	Severity       types.Severity
	CVSS           float64
	Title          string
	Description    string
	Recommendation string
}

// Classify maps a port to exactly one tier; the first matching rule wins.
func Classify(p types.OpenPort, target string) Classification {
	service := p.Service

	switch {
	case standardWebPorts[p.Port]:
		if service == "" {
			service = "http"
			if p.Port == 443 {
				service = "https"
			}
		}
		return Classification{
			Tier:           TierStandardWeb,
			Severity:       types.SeverityInfo,
			CVSS:           0.0,
			Title:          fmt.Sprintf("Standard web port detected: %d/%s", p.Port, p.Protocol),
			Description:    fmt.Sprintf("Port %d (%s) is open. This is normal for a web server.", p.Port, p.Protocol),
			Recommendation: fmt.Sprintf("Standard web port %d (%s) detected. This is expected for a public web server.", p.Port, service),
		}

	case alternativeWebPorts[p.Port]:
		if service == "" {
			service = "http-alt"
		}
		return unusual(p, target, TierAlternativeWeb, types.SeverityLow, 2.0,
			fmt.Sprintf("Alternative web port %d (%s) detected. Check that this port is intentionally exposed.", p.Port, service))
	}

	if e, ok := criticalExposure[p.Port]; ok {
		c := unusual(p, target, TierCritical, e.Severity, e.CVSS,
			fmt.Sprintf("Restrict access to %s (%d) with a firewall or VPN.", e.Service, p.Port))
		c.Description = fmt.Sprintf("%s (%d/%s) is exposed on %s. This service should not be reachable from the internet.",
			e.Service, p.Port, p.Protocol, target)
		return c
	}

	if e, ok := suspicious[p.Port]; ok {
		return unusual(p, target, TierSuspicious, e.Severity, e.CVSS,
			fmt.Sprintf("%s port %d detected. Check whether this service must be publicly reachable.", e.Service, p.Port))
	}

	if service == "" {
		service = "unknown"
	}
	return unusual(p, target, TierOther, types.SeverityMedium, 4.0,
		fmt.Sprintf("Port %d (%s) detected. Check whether it is required by the web application.", p.Port, service))
}

func unusual(p types.OpenPort, target string, tier Tier, sev types.Severity, cvss float64, recommendation string) Classification {
	return Classification{
		Tier:           tier,
		Severity:       sev,
		CVSS:           cvss,
		Title:          fmt.Sprintf("Unusual open port detected: %d/%s", p.Port, p.Protocol),
		Description:    fmt.Sprintf("Port %d (%s) is open on %s. Check whether it is needed on a public web server.", p.Port, p.Protocol, target),
		Recommendation: recommendation,
	}
}

type Detector struct {
	scanner core.PortScanner
}

var _ core.Detector = (*Detector)(nil)

func New(scanner core.PortScanner) *Detector {
	return &Detector{scanner: scanner}
}

func (d *Detector) Name() string             { return Name }
func (d *Detector) Category() types.Category { return types.CategoryPorts }

func (d *Detector) Run(ctx context.Context, target *url.URL, _ core.Capabilities) ([]types.Finding, error) {
	open, err := d.scanner.ScanPorts(ctx, target.Hostname())
	if err != nil {
		return nil, core.NewDetectorError(Name, err)
	}

	findings := make([]types.Finding, 0, len(open))
	for _, p := range open {
		findings = append(findings, Finding(p, target.String()))
	}
	return findings, nil
}

// Finding builds the finding for one open port.
func Finding(p types.OpenPort, target string) types.Finding {
	c := Classify(p, target)
	return types.Finding{
		Detector:       Name,
		Category:       types.CategoryPorts,
		Severity:       c.Severity,
		CVSSScore:      c.CVSS,
		Title:          c.Title,
		Description:    c.Description,
		Recommendation: c.Recommendation,
		Evidence: types.Evidence{
			"port":     p.Port,
			"protocol": p.Protocol,
			"service":  p.Service,
			"version":  p.Version,
			"tier":     string(c.Tier),
		},
	}
}
