package xss

import (
	"regexp"
	"strings"

	"golang.org/x/net/html"
)

// Reflected reports whether payload is echoed back unescaped in body, outside
// HTML comments, in a context where a browser would act on it.
func Reflected(body, payload string) bool {
	visible := stripComments(body)

	lowerPayload := strings.ToLower(payload)
	if !strings.Contains(visible, payload) && !strings.Contains(strings.ToLower(visible), lowerPayload) {
		return false
	}

	escaped := strings.NewReplacer("<", "&lt;", ">", "&gt;", `"`, "&quot;").Replace(payload)
	if strings.Contains(visible, escaped) && !strings.Contains(visible, payload) {
		return false
	}

	quoted := regexp.QuoteMeta(payload)

	if strings.Contains(lowerPayload, "<script") {
		if matched(`(?is)<script[^>]*>.*?`+quoted, visible) {
			return true
		}
		if strings.Contains(visible, payload) {
			return true
		}
	}

	if isEventPayload(lowerPayload) {
		if matched(`(?i)on\w+\s*=\s*["']?[^"'>]*`+quoted, visible) {
			return true
		}
		if matched(`(?i)<[^>]+\s+`+quoted+`[^>]*>`, visible) {
			return true
		}
	}

	if strings.HasPrefix(payload, "<") && strings.HasSuffix(payload, ">") && strings.Contains(visible, payload) {
		inner := regexp.QuoteMeta(payload[1 : len(payload)-1])
		if !matched(`&lt;`+inner+`&gt;`, visible) {
			return true
		}
	}

	return false
}

func isEventPayload(lowerPayload string) bool {
	return strings.Contains(lowerPayload, "onerror") ||
		strings.Contains(lowerPayload, "onload") ||
		strings.Contains(lowerPayload, "onclick")
}

func matched(pattern, s string) bool {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return false
	}
	return re.MatchString(s)
}

// stripComments returns body with every HTML comment removed. All other
// tokens are kept byte for byte.
func stripComments(body string) string {
	if !strings.Contains(body, "<!") {
		return body
	}

	var b strings.Builder
	b.Grow(len(body))

	z := html.NewTokenizer(strings.NewReader(body))
	for {
		tt := z.Next()
		if tt == html.ErrorToken {
			break
		}
		if tt == html.CommentToken {
			continue
		}
		b.Write(z.Raw())
	}
	return b.String()
}
