package version

import (
	"strconv"
	"strings"
)

func parse(v string) ([]int, bool) {
	parts := strings.Split(v, ".")
	out := make([]int, len(parts))
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return nil, false
		}
		out[i] = n
	}
	return out, true
}

// AtMost reports whether detected <= marker, compared component-wise over
// the shorter length. An equal prefix matches when detected has no more
// components than marker, so equal versions match. Non-numeric versions
// match only on exact string equality.
func AtMost(detected, marker string) bool {
	d, ok1 := parse(detected)
	m, ok2 := parse(marker)
	if !ok1 || !ok2 {
		return detected == marker
	}

	for i := 0; i < len(d) && i < len(m); i++ {
		switch {
		case d[i] < m[i]:
			return true
		case d[i] > m[i]:
			return false
		}
	}
	return len(d) <= len(m)
}

// Older reports whether detected is strictly lower than minimum over the
// shorter length. Equal versions and unparseable input are not older.
func Older(detected, minimum string) bool {
	d, ok1 := parse(detected)
	m, ok2 := parse(minimum)
	if !ok1 || !ok2 {
		return false
	}

	for i := 0; i < len(d) && i < len(m); i++ {
		switch {
		case d[i] < m[i]:
			return true
		case d[i] > m[i]:
			return false
		}
	}
	return false
}
