package report

import "github.com/CodeMonkeyCybersecurity/websentry/pkg/types"

// Diff compares two scans of the same target by finding fingerprint.
type Diff struct {
	New       []types.Finding `json:"new" yaml:"new"`
	Fixed     []types.Finding `json:"fixed" yaml:"fixed"`
	Unchanged []types.Finding `json:"unchanged" yaml:"unchanged"`
}

// Compare reports findings present only in current (new), only in baseline
// (fixed), and in both. Output keeps each scan's finding order.
func Compare(baseline, current []types.Finding) Diff {
	before := make(map[string]bool, len(baseline))
	for _, f := range baseline {
		before[f.Fingerprint] = true
	}
	after := make(map[string]bool, len(current))
	for _, f := range current {
		after[f.Fingerprint] = true
	}

	d := Diff{
		New:       []types.Finding{},
		Fixed:     []types.Finding{},
		Unchanged: []types.Finding{},
	}
	for _, f := range current {
		if before[f.Fingerprint] {
			d.Unchanged = append(d.Unchanged, f)
		} else {
			d.New = append(d.New, f)
		}
	}
	for _, f := range baseline {
		if !after[f.Fingerprint] {
			d.Fixed = append(d.Fixed, f)
		}
	}
	return d
}
