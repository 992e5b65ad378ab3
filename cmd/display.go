package cmd

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/fatih/color"

	"github.com/CodeMonkeyCybersecurity/websentry/pkg/report"
	"github.com/CodeMonkeyCybersecurity/websentry/pkg/types"
)

func colorStatus(status types.ScanStatus) string {
	switch status {
	case types.ScanStatusCompleted:
		return color.New(color.FgGreen).Sprint("✓ " + string(status))
	case types.ScanStatusRunning, types.ScanStatusPending:
		return color.New(color.FgYellow).Sprint("⟳ " + string(status))
	case types.ScanStatusFailed:
		return color.New(color.FgRed).Sprint("✗ " + string(status))
	case types.ScanStatusCancelled:
		return color.New(color.FgMagenta).Sprint("■ " + string(status))
	default:
		return string(status)
	}
}

func colorSeverity(severity types.Severity) string {
	switch severity {
	case types.SeverityCritical:
		return color.New(color.FgRed, color.Bold).Sprint("CRITICAL")
	case types.SeverityHigh:
		return color.New(color.FgRed).Sprint("HIGH")
	case types.SeverityMedium:
		return color.New(color.FgYellow).Sprint("MEDIUM")
	case types.SeverityLow:
		return color.New(color.FgCyan).Sprint("LOW")
	case types.SeverityInfo:
		return color.New(color.FgWhite).Sprint("INFO")
	default:
		return strings.ToUpper(string(severity))
	}
}

func colorRisk(level types.RiskLevel) string {
	switch level {
	case types.RiskCritical:
		return color.New(color.FgRed, color.Bold).Sprint(strings.ToUpper(string(level)))
	case types.RiskHigh:
		return color.New(color.FgRed).Sprint(strings.ToUpper(string(level)))
	case types.RiskMedium:
		return color.New(color.FgYellow).Sprint(strings.ToUpper(string(level)))
	case types.RiskLow:
		return color.New(color.FgCyan).Sprint(strings.ToUpper(string(level)))
	default:
		return color.New(color.FgGreen).Sprint(strings.ToUpper(string(level)))
	}
}

// sortBySeverity returns findings ordered critical first, keeping
// production order within a severity.
func sortBySeverity(findings []types.Finding) []types.Finding {
	sorted := make([]types.Finding, len(findings))
	copy(sorted, findings)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Severity.Rank() > sorted[j].Severity.Rank()
	})
	return sorted
}

func displayReport(w io.Writer, r *types.Report) {
	scan := r.Scan

	fmt.Fprintln(w)
	color.New(color.FgCyan, color.Bold).Fprintf(w, "Scan %s\n", scan.ID)
	fmt.Fprintf(w, "  Target:  %s\n", scan.TargetURL)
	fmt.Fprintf(w, "  Profile: %s\n", scan.Profile)
	fmt.Fprintf(w, "  Status:  %s\n", colorStatus(scan.Status))
	if scan.StartedAt != nil && scan.CompletedAt != nil {
		fmt.Fprintf(w, "  Took:    %s\n", scan.CompletedAt.Sub(*scan.StartedAt).Round(time.Millisecond))
	}
	if scan.ErrorMessage != "" {
		color.New(color.FgRed).Fprintf(w, "  Error:   %s\n", scan.ErrorMessage)
	}

	fmt.Fprintln(w)
	if len(r.Findings) == 0 {
		color.New(color.FgGreen).Fprintln(w, "No findings")
	} else {
		color.New(color.Bold).Fprintf(w, "Findings (%d)\n", len(r.Findings))
		for _, f := range sortBySeverity(r.Findings) {
			fmt.Fprintf(w, "  [%s] %s\n", colorSeverity(f.Severity), f.Title)
			fmt.Fprintf(w, "      %s · %s · CVSS %.1f\n", f.Category, f.Detector, f.CVSSScore)
			if f.Recommendation != "" {
				fmt.Fprintf(w, "      → %s\n", f.Recommendation)
			}
		}
	}

	if len(r.DetectorFailures) > 0 {
		fmt.Fprintln(w)
		color.New(color.FgYellow, color.Bold).Fprintln(w, "Detector failures")
		for _, df := range r.DetectorFailures {
			fmt.Fprintf(w, "  %s: %s\n", df.Detector, df.Reason)
		}
	}

	fmt.Fprintln(w)
	displayRisk(w, r.Risk)
}

func displayRisk(w io.Writer, risk types.RiskScore) {
	fmt.Fprintf(w, "Risk: %s (weighted total %d)\n", colorRisk(risk.Level), risk.WeightedTotal)
	parts := make([]string, 0, len(types.Severities))
	for i := len(types.Severities) - 1; i >= 0; i-- {
		sev := types.Severities[i]
		parts = append(parts, fmt.Sprintf("%s %d", sev, risk.Counts[sev]))
	}
	fmt.Fprintf(w, "  %s\n", strings.Join(parts, "  "))
}

func displayScanList(w io.Writer, scans []*types.Scan) {
	if len(scans) == 0 {
		fmt.Fprintln(w, "No scans found")
		return
	}
	fmt.Fprintf(w, "%-36s  %-8s  %-14s  %-20s  %s\n", "ID", "PROFILE", "STATUS", "CREATED", "TARGET")
	for _, s := range scans {
		fmt.Fprintf(w, "%-36s  %-8s  %-14s  %-20s  %s\n",
			s.ID, s.Profile, colorStatus(s.Status), s.CreatedAt.Format("2006-01-02 15:04:05"), s.TargetURL)
	}
}

func displayDiff(w io.Writer, baseline, current string, d report.Diff) {
	color.New(color.FgCyan, color.Bold).Fprintf(w, "Comparing %s → %s\n\n", baseline, current)

	color.New(color.FgRed, color.Bold).Fprintf(w, "New (%d)\n", len(d.New))
	for _, f := range sortBySeverity(d.New) {
		fmt.Fprintf(w, "  + [%s] %s\n", colorSeverity(f.Severity), f.Title)
	}

	color.New(color.FgGreen, color.Bold).Fprintf(w, "Fixed (%d)\n", len(d.Fixed))
	for _, f := range sortBySeverity(d.Fixed) {
		fmt.Fprintf(w, "  - [%s] %s\n", colorSeverity(f.Severity), f.Title)
	}

	fmt.Fprintf(w, "Unchanged: %d\n", len(d.Unchanged))
}
