// Package xss looks for reflected cross-site scripting by injecting a fixed
// payload set into query parameters and form fields.
package xss

import (
	"context"
	"fmt"
	"net/url"

	"github.com/CodeMonkeyCybersecurity/websentry/internal/core"
	"github.com/CodeMonkeyCybersecurity/websentry/internal/logger"
	"github.com/CodeMonkeyCybersecurity/websentry/pkg/scanners/forms"
	"github.com/CodeMonkeyCybersecurity/websentry/pkg/types"
)

const Name = "xss"

// Payloads in the order they are tried.
var Payloads = []string{
	"<script>alert('XSS')</script>",
	"<img src=x onerror=alert('XSS')>",
	"<svg onload=alert('XSS')>",
	"javascript:alert('XSS')",
	"<body onload=alert('XSS')>",
	`'"><script>alert('XSS')</script>`,
	"<iframe src=javascript:alert('XSS')>",
}

const (
	// PayloadsPerField bounds requests per parameter or field.
	PayloadsPerField = 3
	// MaxSearchInputs bounds the text/search inputs tested directly against
	// the page URL.
	MaxSearchInputs = 3
)

const recommendation = "Validate and escape all user input. Use a Content-Security-Policy (CSP)."

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
func (d *Detector) Category() types.Category { return types.CategoryXSS }

func (d *Detector) Run(ctx context.Context, target *url.URL, caps core.Capabilities) ([]types.Finding, error) {
	if params := forms.QueryParams(target); len(params) > 0 {
		return d.scanParams(ctx, target, params, caps)
	}
	return d.scanPage(ctx, target, caps)
}

func (d *Detector) scanParams(ctx context.Context, target *url.URL, params []string, caps core.Capabilities) ([]types.Finding, error) {
	var findings []types.Finding

	for _, param := range params {
		for _, payload := range Payloads[:PayloadsPerField] {
			if err := ctx.Err(); err != nil {
				return findings, err
			}

			testURL := forms.WithParam(target, param, payload)
			res := caps.Prober.Get(ctx, testURL, core.GetOptions{Timeout: caps.Timeout})
			if !res.OK() {
				d.logger.Debugw("XSS probe failed", "parameter", param, "error", res.Err)
				continue
			}

			if Reflected(res.Response.Body, payload) {
				findings = append(findings, newFinding(
					fmt.Sprintf("Potential XSS vulnerability in parameter '%s'. The payload is reflected in the response.", param),
					types.Evidence{
						"parameter": param,
						"payload":   payload,
						"url":       testURL,
						"method":    "GET",
					}))
				break
			}
		}
	}

	return findings, nil
}

func (d *Detector) scanPage(ctx context.Context, target *url.URL, caps core.Capabilities) ([]types.Finding, error) {
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
		baseline := form.Values(forms.InnocuousValue)

		for _, field := range form.Testable() {
			for _, payload := range Payloads[:PayloadsPerField] {
				if err := ctx.Err(); err != nil {
					return findings, err
				}

				values := cloneValues(baseline)
				values.Set(field.Name, payload)

				res := forms.Submit(ctx, caps.Prober, form, values, caps.Timeout)
				if !res.OK() {
					d.logger.Debugw("XSS form probe failed", "field", field.Name, "error", res.Err)
					continue
				}

				if Reflected(res.Response.Body, payload) {
					findings = append(findings, newFinding(
						fmt.Sprintf("Potential XSS vulnerability in form field '%s'. The payload is reflected in the response.", field.Name),
						types.Evidence{
							"form_field":  field.Name,
							"payload":     payload,
							"form_action": form.ActionLabel(base),
							"method":      form.Method,
						}))
					break
				}
			}
		}
	}

	inputs := page.SearchInputs
	if len(inputs) > MaxSearchInputs {
		inputs = inputs[:MaxSearchInputs]
	}
	payload := Payloads[0]
	for _, input := range inputs {
		if err := ctx.Err(); err != nil {
			return findings, err
		}

		u := *base
		u.RawQuery = url.Values{input.Name: {payload}}.Encode()
		u.Fragment = ""
		testURL := u.String()

		res := caps.Prober.Get(ctx, testURL, core.GetOptions{Timeout: caps.Timeout, FollowRedirects: true})
		if !res.OK() {
			continue
		}
		if Reflected(res.Response.Body, payload) {
			findings = append(findings, newFinding(
				fmt.Sprintf("Potential XSS vulnerability in search field '%s'. The payload is reflected in the response.", input.Name),
				types.Evidence{
					"form_field": input.Name,
					"payload":    payload,
					"url":        testURL,
					"method":     "GET",
				}))
		}
	}

	return findings, nil
}

func newFinding(description string, evidence types.Evidence) types.Finding {
	return types.Finding{
		Detector:       Name,
		Category:       types.CategoryXSS,
		Severity:       types.SeverityHigh,
		CVSSScore:      7.5,
		Title:          "Potential XSS vulnerability",
		Description:    description,
		Recommendation: recommendation,
		Evidence:       evidence,
	}
}

func cloneValues(v url.Values) url.Values {
	out := make(url.Values, len(v))
	for k, vals := range v {
		out[k] = append([]string(nil), vals...)
	}
	return out
}
