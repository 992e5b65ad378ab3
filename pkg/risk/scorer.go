// Package risk aggregates findings into a weighted score and risk level.
package risk

import (
	"github.com/CodeMonkeyCybersecurity/websentry/pkg/types"
)

// Weights per severity. Info findings are counted but carry no weight.
var Weights = map[types.Severity]int{
	types.SeverityCritical: 10,
	types.SeverityHigh:     7,
	types.SeverityMedium:   4,
	types.SeverityLow:      1,
	types.SeverityInfo:     0,
}

// Level thresholds on the weighted total, checked from the top.
const (
	CriticalThreshold = 50
	HighThreshold     = 30
	MediumThreshold   = 15
)

// Score calculates the risk score for a set of findings. The result
// depends only on the multiset of severities.
func Score(findings []types.Finding) types.RiskScore {
	counts := make(map[types.Severity]int, len(types.Severities))
	for _, sev := range types.Severities {
		counts[sev] = 0
	}

	total := 0
	for _, f := range findings {
		if _, known := Weights[f.Severity]; !known {
			continue
		}
		counts[f.Severity]++
		total += Weights[f.Severity]
	}

	return types.RiskScore{
		Counts:        counts,
		WeightedTotal: total,
		Level:         LevelFor(total),
	}
}

// LevelFor maps a weighted total to a risk level.
func LevelFor(total int) types.RiskLevel {
	switch {
	case total >= CriticalThreshold:
		return types.RiskCritical
	case total >= HighThreshold:
		return types.RiskHigh
	case total >= MediumThreshold:
		return types.RiskMedium
	case total > 0:
		return types.RiskLow
	default:
		return types.RiskNone
	}
}

// Summarize counts findings by severity and category.
func Summarize(findings []types.Finding) types.Summary {
	s := types.Summary{
		Total:      len(findings),
		BySeverity: make(map[types.Severity]int),
		ByCategory: make(map[types.Category]int),
	}
	for _, f := range findings {
		s.BySeverity[f.Severity]++
		s.ByCategory[f.Category]++
	}
	return s
}
