package database

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/twmb/murmur3"

	"github.com/CodeMonkeyCybersecurity/websentry/pkg/types"
)

// locationKeys are the evidence keys that pin a finding to a place on the
// target, in order of preference.
var locationKeys = []string{"url", "form_action", "parameter", "form_field", "header", "port", "software", "param"}

// Fingerprint identifies the same weakness at the same location across
// scans. It hashes category, title and the evidence location fields, so
// scan IDs, timestamps and payload variations do not change it. When the
// evidence names a parameter or form field, the URL is hashed without its
// query because the tested URL carries the payload.
func Fingerprint(f types.Finding) string {
	_, hasParam := f.Evidence["parameter"]
	_, hasField := f.Evidence["form_field"]

	parts := []string{string(f.Category), f.Detector, f.Title}
	for _, key := range locationKeys {
		v, ok := f.Evidence[key]
		if !ok {
			continue
		}
		if key == "url" && (hasParam || hasField) {
			v = withoutQuery(fmt.Sprint(v))
		}
		parts = append(parts, fmt.Sprintf("%s=%v", key, v))
	}
	return fmt.Sprintf("%016x", murmur3.Sum64([]byte(strings.Join(parts, "|"))))
}

func withoutQuery(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		if i := strings.IndexAny(raw, "?#"); i >= 0 {
			return raw[:i]
		}
		return raw
	}
	u.RawQuery = ""
	u.Fragment = ""
	return u.String()
}
