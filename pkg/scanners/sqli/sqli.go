// Package sqli detects SQL injection from database error signatures and
// from response anomalies against a baseline.
package sqli

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/CodeMonkeyCybersecurity/websentry/internal/core"
	"github.com/CodeMonkeyCybersecurity/websentry/internal/logger"
	"github.com/CodeMonkeyCybersecurity/websentry/pkg/scanners/forms"
	"github.com/CodeMonkeyCybersecurity/websentry/pkg/types"
)

const Name = "sqli"

// Payloads in the order they are tried.
var Payloads = []string{
	"' OR '1'='1",
	"' OR '1'='1' --",
	"' OR '1'='1' /*",
	"admin'--",
	"admin'/*",
	"' UNION SELECT NULL--",
	"1' AND '1'='1",
	"1' AND '1'='2",
	"' OR 1=1#",
	"' OR 1=1--",
}

const PayloadsPerField = 5

// Signature is a database error pattern tied to the engine that emits it.
type Signature struct {
	Engine  string
	Pattern *regexp.Regexp
}

func sig(engine, pattern string) Signature {
	return Signature{Engine: engine, Pattern: regexp.MustCompile(`(?i)` + pattern)}
}

var Signatures = []Signature{
	sig("MySQL", `SQL syntax.*MySQL`),
	sig("MySQL", `Warning.*\Wmysql_`),
	sig("MySQL", `MySQLSyntaxErrorException`),
	sig("MySQL", `valid MySQL result`),
	sig("PostgreSQL", `PostgreSQL.*ERROR`),
	sig("PostgreSQL", `Warning.*\Wpg_`),
	sig("PostgreSQL", `valid PostgreSQL result`),
	sig("PostgreSQL", `Npgsql\.NpgsqlException`),
	sig("SQLite", `SQLite.*error`),
	sig("SQLite", `SQLiteException`),
	sig("SQLite", `SQLite.*SQL syntax`),
	sig("MSSQL", `Microsoft.*ODBC.*SQL Server`),
	sig("MSSQL", `ODBC SQL Server Driver`),
	sig("MSSQL", `SQLServer JDBC Driver`),
	sig("MSSQL", `Warning.*\Wmssql_`),
	sig("MSSQL", `Warning.*\Wsqlsrv_`),
	sig("generic", `SQLException`),
	sig("generic", `Unclosed quotation mark`),
	sig("generic", `quoted string not properly terminated`),
}

// SuspiciousKeywords flag an anomaly when they appear only in the test response.
var SuspiciousKeywords = []string{"error", "exception", "warning", "database", "sql"}

// LengthDeltaRatio is the relative length change that counts as an anomaly.
const LengthDeltaRatio = 0.2

const recommendation = "Use prepared statements (parameterized queries). Validate and escape all input."

// MatchSignature returns the first signature matching body.
func MatchSignature(body string) (Signature, bool) {
	for _, s := range Signatures {
		if s.Pattern.MatchString(body) {
			return s, true
		}
	}
	return Signature{}, false
}

// Anomalous compares a test response with its baseline. It returns the
// reason for the anomaly, or "" when the responses look alike.
func Anomalous(test, baseline string) string {
	delta := len(test) - len(baseline)
	if delta < 0 {
		delta = -delta
	}
	if float64(delta) > float64(len(baseline))*LengthDeltaRatio {
		return fmt.Sprintf("response length changed by %d bytes (baseline %d)", delta, len(baseline))
	}

	testLower := strings.ToLower(test)
	baselineLower := strings.ToLower(baseline)
	for _, kw := range SuspiciousKeywords {
		if strings.Contains(testLower, kw) && !strings.Contains(baselineLower, kw) {
			return fmt.Sprintf("keyword %q appeared in the response", kw)
		}
	}
	return ""
}

type Detector struct {
	logger *logger.Logger
}

var _ core.Detector = (*Detector)(nil)

func New(log *logger.Logger) *Detector {
	if log == nil {
		log = logger.Nop()
	}
	return &Detector{logger: log.WithDetector(Name)}
}

func (d *Detector) Name() string             { return Name }
func (d *Detector) Category() types.Category { return types.CategorySQLi }

func (d *Detector) Run(ctx context.Context, target *url.URL, caps core.Capabilities) ([]types.Finding, error) {
	if params := forms.QueryParams(target); len(params) > 0 {
		return d.scanParams(ctx, target, params, caps)
	}
	return d.scanForms(ctx, target, caps)
}

// probe sends one payload; the result is a finding or nothing.
type probe func(payload string) core.ProbeResult

// testField runs the two-tier check for one field. baseline may be nil when
// it could not be fetched; only signature matches are reported then.
func (d *Detector) testField(ctx context.Context, send probe, baseline *core.Response, evidence func(payload string) types.Evidence, location string) (*types.Finding, error) {
	for _, payload := range Payloads[:PayloadsPerField] {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		res := send(payload)
		if !res.OK() {
			d.logger.Debugw("SQLi probe failed", "location", location, "error", res.Err)
			continue
		}

		if s, ok := MatchSignature(res.Response.Body); ok {
			ev := evidence(payload)
			ev["engine"] = s.Engine
			ev["pattern"] = s.Pattern.String()
			f := newFinding(types.SeverityCritical, 9.0,
				fmt.Sprintf("Potential SQL injection in %s. SQL errors were detected in the response.", location), ev)
			return &f, nil
		}

		if baseline == nil {
			continue
		}
		if reason := Anomalous(res.Response.Body, baseline.Body); reason != "" {
			ev := evidence(payload)
			ev["anomaly"] = reason
			f := newFinding(types.SeverityHigh, 8.0,
				fmt.Sprintf("Potential SQL injection in %s. An anomalous response was detected.", location), ev)
			return &f, nil
		}
	}
	return nil, nil
}

func (d *Detector) scanParams(ctx context.Context, target *url.URL, params []string, caps core.Capabilities) ([]types.Finding, error) {
	var baseline *core.Response
	if res := caps.Prober.Get(ctx, target.String(), core.GetOptions{Timeout: caps.Timeout, FollowRedirects: true}); res.OK() {
		baseline = res.Response
	}

	var findings []types.Finding
	for _, param := range params {
		param := param
		send := func(payload string) core.ProbeResult {
			return caps.Prober.Get(ctx, forms.WithParam(target, param, payload), core.GetOptions{Timeout: caps.Timeout})
		}
		evidence := func(payload string) types.Evidence {
			return types.Evidence{
				"parameter": param,
				"payload":   payload,
				"url":       forms.WithParam(target, param, payload),
				"method":    "GET",
			}
		}

		f, err := d.testField(ctx, send, baseline, evidence, fmt.Sprintf("parameter '%s'", param))
		if err != nil {
			return findings, err
		}
		if f != nil {
			findings = append(findings, *f)
		}
	}
	return findings, nil
}

func (d *Detector) scanForms(ctx context.Context, target *url.URL, caps core.Capabilities) ([]types.Finding, error) {
	landing := caps.Prober.Get(ctx, target.String(), core.GetOptions{
		Timeout:         caps.PageTimeout,
		FollowRedirects: true,
	})
	if !landing.OK() {
		return nil, core.NewDetectorError(Name, landing.Err)
	}

	base := target
	if u, err := url.Parse(landing.Response.URL); err == nil && u.Host != "" {
		base = u
	}

	page, err := forms.Parse(landing.Response.Body, base)
	if err != nil {
		return nil, core.NewDetectorError(Name, err)
	}

	var findings []types.Finding
	for _, form := range page.Forms {
		form := form
		fields := form.Testable()
		if len(fields) == 0 {
			continue
		}

		baselineValues := form.Values(forms.InnocuousValue)
		var baseline *core.Response
		if res := forms.Submit(ctx, caps.Prober, form, baselineValues, caps.Timeout); res.OK() {
			baseline = res.Response
		}

		for _, field := range fields {
			field := field
			send := func(payload string) core.ProbeResult {
				values := url.Values{}
				for k, v := range baselineValues {
					values[k] = append([]string(nil), v...)
				}
				values.Set(field.Name, payload)
				return forms.Submit(ctx, caps.Prober, form, values, caps.Timeout)
			}
			evidence := func(payload string) types.Evidence {
				return types.Evidence{
					"form_field":  field.Name,
					"payload":     payload,
					"form_action": form.ActionLabel(base),
					"method":      form.Method,
				}
			}

			f, err := d.testField(ctx, send, baseline, evidence, fmt.Sprintf("form field '%s'", field.Name))
			if err != nil {
				return findings, err
			}
			if f != nil {
				findings = append(findings, *f)
			}
		}
	}
	return findings, nil
}

func newFinding(sev types.Severity, cvss float64, description string, evidence types.Evidence) types.Finding {
	return types.Finding{
		Detector:       Name,
		Category:       types.CategorySQLi,
		Severity:       sev,
		CVSSScore:      cvss,
		Title:          "Potential SQL injection vulnerability",
		Description:    description,
		Recommendation: recommendation,
		Evidence:       evidence,
	}
}
