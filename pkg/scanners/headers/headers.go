// Package headers checks a response against a fixed security-header policy.
package headers

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/CodeMonkeyCybersecurity/websentry/internal/core"
	"github.com/CodeMonkeyCybersecurity/websentry/pkg/types"
)

const Name = "headers"

// Policy is one row of the header policy table. Expected is nil, a string
// (substring match) or a []string (membership match).
type Policy struct {
	Header         string
	Required       bool
	Expected       interface{}
	Severity       types.Severity
	CVSS           float64
	Description    string
	Recommendation string
}

// Policies is evaluated entry by entry; order only affects finding order.
var Policies = []Policy{
	{
		Header:         "X-Content-Type-Options",
		Required:       true,
		Expected:       "nosniff",
		Severity:       types.SeverityLow,
		CVSS:           3.0,
		Description:    "The X-Content-Type-Options header is missing or misconfigured",
		Recommendation: "Add the header X-Content-Type-Options: nosniff to prevent MIME sniffing",
	},
	{
		Header:         "X-Frame-Options",
		Required:       true,
		Expected:       []string{"DENY", "SAMEORIGIN"},
		Severity:       types.SeverityLow,
		CVSS:           3.5,
		Description:    "The X-Frame-Options header is missing, which may allow clickjacking",
		Recommendation: "Add the header X-Frame-Options: DENY or SAMEORIGIN to prevent clickjacking",
	},
	{
		Header:         "X-XSS-Protection",
		Required:       false,
		Expected:       "1; mode=block",
		Severity:       types.SeverityLow,
		CVSS:           3.1,
		Description:    "The X-XSS-Protection header is misconfigured (deprecated but still honoured by some browsers)",
		Recommendation: "Set X-XSS-Protection: 1; mode=block or rely on a Content-Security-Policy",
	},
	{
		Header:         "Strict-Transport-Security",
		Required:       true,
		Expected:       "max-age=",
		Severity:       types.SeverityMedium,
		CVSS:           5.0,
		Description:    "The Strict-Transport-Security (HSTS) header is missing",
		Recommendation: "Add Strict-Transport-Security: max-age=31536000; includeSubDomains to force HTTPS and prevent man-in-the-middle downgrades",
	},
	{
		Header:         "Content-Security-Policy",
		Required:       true,
		Severity:       types.SeverityMedium,
		CVSS:           4.5,
		Description:    "The Content-Security-Policy header is missing",
		Recommendation: "Define a Content-Security-Policy suited to the application to limit the impact of XSS",
	},
	{
		Header:         "Referrer-Policy",
		Required:       false,
		Severity:       types.SeverityLow,
		CVSS:           2.5,
		Description:    "The Referrer-Policy header is missing",
		Recommendation: "Add Referrer-Policy: strict-origin-when-cross-origin",
	},
	{
		Header:         "Permissions-Policy",
		Required:       false,
		Severity:       types.SeverityLow,
		CVSS:           3.0,
		Description:    "The Permissions-Policy header is missing",
		Recommendation: "Add a Permissions-Policy restricting browser features the application does not use",
	},
}

type Detector struct{}

var _ core.Detector = (*Detector)(nil)

func New() *Detector {
	return &Detector{}
}

func (d *Detector) Name() string             { return Name }
func (d *Detector) Category() types.Category { return types.CategoryHeaders }

func (d *Detector) Run(ctx context.Context, target *url.URL, caps core.Capabilities) ([]types.Finding, error) {
	res := caps.Prober.Get(ctx, target.String(), core.GetOptions{
		Timeout:         caps.PageTimeout,
		FollowRedirects: true,
	})
	if !res.OK() {
		return nil, core.NewDetectorError(Name, res.Err)
	}
	return Evaluate(res.Response.Headers), nil
}

// Evaluate applies Policies to one set of response headers.
func Evaluate(h http.Header) []types.Finding {
	var findings []types.Finding

	for _, p := range Policies {
		value := h.Get(p.Header)

		if value == "" {
			if p.Required {
				findings = append(findings, p.finding(false, ""))
			}
			continue
		}

		if p.Expected != nil && !p.matches(value) {
			findings = append(findings, p.finding(true, value))
		}
	}

	return findings
}

func (p Policy) matches(value string) bool {
	switch want := p.Expected.(type) {
	case string:
		return strings.Contains(value, want)
	case []string:
		for _, w := range want {
			if value == w {
				return true
			}
		}
		return false
	default:
		return true
	}
}

func (p Policy) finding(found bool, value string) types.Finding {
	title := "Missing security header: " + p.Header
	description := p.Description
	evidence := types.Evidence{
		"header": p.Header,
		"found":  found,
	}
	if p.Expected != nil {
		evidence["expected"] = p.Expected
	}
	if found {
		title = "Misconfigured security header: " + p.Header
		description += " (current value: " + value + ")"
		evidence["current_value"] = value
	}

	return types.Finding{
		Detector:       Name,
		Category:       types.CategoryHeaders,
		Severity:       p.Severity,
		CVSSScore:      p.CVSS,
		Title:          title,
		Description:    description,
		Recommendation: p.Recommendation,
		Evidence:       evidence,
	}
}
