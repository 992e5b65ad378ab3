package validation

import (
	"fmt"
	"net"
	"net/url"
	"regexp"
	"strings"
)

// TargetValidationResult contains the result of target validation
type TargetValidationResult struct {
	Valid         bool
	TargetType    string // "url", "domain", "ip"
	NormalizedURL string
	URL           *url.URL
	Warnings      []string
	Error         error
}

var domainRegex = regexp.MustCompile(`^([a-zA-Z0-9]([a-zA-Z0-9\-]{0,61}[a-zA-Z0-9])?\.)+[a-zA-Z]{2,}$`)

// ValidateTarget turns user input into an absolute http(s) URL. Bare domains
// and IPs get an https:// scheme. Private and loopback hosts are rejected
// unless allowPrivate is set.
func ValidateTarget(target string, allowPrivate bool) *TargetValidationResult {
	result := &TargetValidationResult{
		Warnings: []string{},
	}

	target = strings.TrimSpace(target)
	if target == "" {
		result.Error = fmt.Errorf("target cannot be empty")
		return result
	}

	raw := target
	switch {
	case hasHTTPScheme(target):
		result.TargetType = "url"
	case strings.Contains(target, "://"):
		result.Error = fmt.Errorf("unsupported scheme in %q (expected http or https)", target)
		return result
	case isIP(hostOnly(target)):
		result.TargetType = "ip"
		raw = "https://" + target
	case isDomain(hostOnly(target)) || strings.EqualFold(hostOnly(target), "localhost"):
		result.TargetType = "domain"
		raw = "https://" + target
	default:
		result.Error = fmt.Errorf("unable to determine target type - expected URL, domain or IP")
		return result
	}

	parsed, err := url.Parse(raw)
	if err != nil {
		result.Error = fmt.Errorf("invalid URL format: %w", err)
		return result
	}
	if parsed.Hostname() == "" {
		result.Error = fmt.Errorf("URL %q has no host", target)
		return result
	}

	if isPrivateTarget(parsed.Hostname()) {
		if !allowPrivate {
			result.Error = fmt.Errorf("scanning private/local targets is not allowed without explicit authorization")
			result.Warnings = append(result.Warnings, "Target appears to be localhost, private IP, or internal domain")
			return result
		}
		result.Warnings = append(result.Warnings, "Target is on a private or local network")
	}

	if parsed.Path == "" {
		parsed.Path = "/"
	}
	parsed.Fragment = ""
	parsed.RawFragment = ""

	result.URL = parsed
	result.NormalizedURL = parsed.String()
	result.Valid = true
	return result
}

// NormalizeTarget is ValidateTarget reduced to its URL and error.
func NormalizeTarget(target string, allowPrivate bool) (*url.URL, error) {
	result := ValidateTarget(target, allowPrivate)
	if !result.Valid {
		return nil, result.Error
	}
	return result.URL, nil
}

func hasHTTPScheme(s string) bool {
	lower := strings.ToLower(s)
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}

// hostOnly strips any port, path or query from a scheme-less target.
func hostOnly(s string) string {
	if i := strings.IndexAny(s, "/?#"); i >= 0 {
		s = s[:i]
	}
	if host, _, err := net.SplitHostPort(s); err == nil {
		return strings.Trim(host, "[]")
	}
	return strings.Trim(s, "[]")
}

// isPrivateTarget checks if host is localhost or on a private network
func isPrivateTarget(host string) bool {
	lower := strings.ToLower(host)

	if lower == "localhost" {
		return true
	}

	privateTLDs := []string{
		".local",
		".internal",
		".lan",
		".localhost",
	}
	for _, tld := range privateTLDs {
		if strings.HasSuffix(lower, tld) {
			return true
		}
	}

	return isPrivateHost(lower)
}

// isPrivateHost checks if an IP literal is private
func isPrivateHost(host string) bool {
	ip := net.ParseIP(host)
	if ip == nil {
		return false
	}
	return ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() || ip.IsUnspecified()
}

func isIP(s string) bool {
	return net.ParseIP(s) != nil
}

func isDomain(s string) bool {
	return domainRegex.MatchString(s)
}
