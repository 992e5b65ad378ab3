// Package forms discovers the injection surface of a page: query parameters
// of the target URL, HTML forms and standalone text inputs.
package forms

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/CodeMonkeyCybersecurity/websentry/internal/core"
)

// InnocuousValue fills fields that are not under test.
const InnocuousValue = "test"

var excludedTypes = map[string]bool{
	"hidden":   true,
	"submit":   true,
	"button":   true,
	"password": true,
}

type Field struct {
	Name string
	// Type is the input type, or "textarea"/"select" for those elements.
	Type string
}

type Form struct {
	// Action is the raw action attribute.
	Action string
	URL    *url.URL
	Method string
	Fields []Field
}

// Page is the parsed injection surface of one HTML document.
type Page struct {
	Forms []Form
	// SearchInputs are the named inputs of the whole page, including those
	// inside forms, whose type attribute is text or search.
	SearchInputs []Field
}

// Testable returns the named fields that may carry a payload.
func (f Form) Testable() []Field {
	var out []Field
	for _, field := range f.Fields {
		if field.Name == "" || excludedTypes[field.Type] {
			continue
		}
		out = append(out, field)
	}
	return out
}

// Values fills every named field with fill.
func (f Form) Values(fill string) url.Values {
	v := url.Values{}
	for _, field := range f.Fields {
		if field.Name != "" {
			v.Set(field.Name, fill)
		}
	}
	return v
}

// ActionLabel is the form action as written, or the page URL when empty.
func (f Form) ActionLabel(page *url.URL) string {
	if f.Action != "" {
		return f.Action
	}
	return page.String()
}

// Parse extracts forms and text inputs from body. Relative actions
// resolve against base.
func Parse(body string, base *url.URL) (*Page, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrParse, err)
	}

	page := &Page{}

	doc.Find("form").Each(func(_ int, s *goquery.Selection) {
		action, _ := s.Attr("action")
		action = strings.TrimSpace(action)

		form := Form{
			Action: action,
			URL:    resolveAction(base, action),
			Method: http.MethodGet,
		}
		if method, ok := s.Attr("method"); ok && strings.EqualFold(strings.TrimSpace(method), "post") {
			form.Method = http.MethodPost
		}

		s.Find("input, textarea, select").Each(func(_ int, in *goquery.Selection) {
			name, _ := in.Attr("name")
			form.Fields = append(form.Fields, Field{
				Name: strings.TrimSpace(name),
				Type: fieldType(in),
			})
		})

		page.Forms = append(page.Forms, form)
	})

	doc.Find("input[type]").Each(func(_ int, in *goquery.Selection) {
		t := fieldType(in)
		if t != "text" && t != "search" {
			return
		}
		name, _ := in.Attr("name")
		if name = strings.TrimSpace(name); name != "" {
			page.SearchInputs = append(page.SearchInputs, Field{Name: name, Type: t})
		}
	})

	return page, nil
}

func fieldType(s *goquery.Selection) string {
	switch goquery.NodeName(s) {
	case "textarea":
		return "textarea"
	case "select":
		return "select"
	}
	t, ok := s.Attr("type")
	if !ok || strings.TrimSpace(t) == "" {
		return "text"
	}
	return strings.ToLower(strings.TrimSpace(t))
}

func resolveAction(base *url.URL, action string) *url.URL {
	resolved := *base
	if action != "" {
		if ref, err := url.Parse(action); err == nil {
			resolved = *base.ResolveReference(ref)
		}
	}
	resolved.Fragment = ""
	resolved.RawFragment = ""
	return &resolved
}

// Submit sends values the way a browser would submit form.
func Submit(ctx context.Context, prober core.Prober, form Form, values url.Values, timeout time.Duration) core.ProbeResult {
	if form.Method == http.MethodPost {
		return prober.PostForm(ctx, form.URL.String(), values, timeout)
	}
	u := *form.URL
	u.RawQuery = values.Encode()
	return prober.Get(ctx, u.String(), core.GetOptions{Timeout: timeout, FollowRedirects: true})
}

// QueryParams returns the query parameter names of target, sorted.
func QueryParams(target *url.URL) []string {
	q := target.Query()
	names := make([]string, 0, len(q))
	for name := range q {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// WithParam returns target with parameter name set to value. Other
// parameters are kept.
func WithParam(target *url.URL, name, value string) string {
	u := *target
	q := u.Query()
	q.Set(name, value)
	u.RawQuery = q.Encode()
	u.Fragment = ""
	u.RawFragment = ""
	return u.String()
}
