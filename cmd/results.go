package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/CodeMonkeyCybersecurity/websentry/internal/core"
	"github.com/CodeMonkeyCybersecurity/websentry/internal/orchestrator"
	"github.com/CodeMonkeyCybersecurity/websentry/pkg/report"
	"github.com/CodeMonkeyCybersecurity/websentry/pkg/types"
)

var resultsCmd = &cobra.Command{
	Use:   "results",
	Short: "Query, compare and export scan results",
}

func init() {
	rootCmd.AddCommand(resultsCmd)

	resultsCmd.AddCommand(resultsListCmd)
	resultsCmd.AddCommand(resultsShowCmd)
	resultsCmd.AddCommand(resultsDiffCmd)
	resultsCmd.AddCommand(resultsExportCmd)

	resultsListCmd.Flags().String("target", "", "only scans of this target URL")
	resultsListCmd.Flags().String("status", "", "only scans with this status")
	resultsListCmd.Flags().Int("limit", 20, "maximum scans to list")
	resultsListCmd.Flags().Int("offset", 0, "scans to skip")

	resultsExportCmd.Flags().StringP("format", "f", "json", "export format (json, yaml, cyclonedx)")
	resultsExportCmd.Flags().StringP("output", "o", "", "output file (default stdout)")
}

var resultsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recorded scans, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		filter := core.ScanFilter{Target: mustGetString(cmd, "target")}
		if status := mustGetString(cmd, "status"); status != "" {
			filter.Status = types.ScanStatus(status)
		}
		filter.Limit, _ = cmd.Flags().GetInt("limit")
		filter.Offset, _ = cmd.Flags().GetInt("offset")

		scans, err := store.ListScans(cmd.Context(), filter)
		if err != nil {
			log.Errorw("Failed to list scans", "error", err, "filter", filter)
			return fmt.Errorf("failed to list scans: %w", err)
		}
		displayScanList(os.Stdout, scans)
		return nil
	},
}

var resultsShowCmd = &cobra.Command{
	Use:   "show <scan-id>",
	Short: "Show a scan's findings and risk score",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		r, err := loadReport(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		displayReport(os.Stdout, r)
		return nil
	},
}

var resultsDiffCmd = &cobra.Command{
	Use:   "diff <baseline-scan-id> <current-scan-id>",
	Short: "Compare two scans and list new and fixed findings",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		baseline, err := loadReport(ctx, args[0])
		if err != nil {
			return err
		}
		current, err := loadReport(ctx, args[1])
		if err != nil {
			return err
		}
		if baseline.Scan.TargetURL != current.Scan.TargetURL {
			color.Yellow("Warning: comparing scans of different targets (%s, %s)\n\n",
				baseline.Scan.TargetURL, current.Scan.TargetURL)
		}

		displayDiff(os.Stdout, args[0], args[1], report.Compare(baseline.Findings, current.Findings))
		return nil
	},
}

var resultsExportCmd = &cobra.Command{
	Use:   "export <scan-id>",
	Short: "Export a scan report",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		exporter, err := report.ExporterFor(mustGetString(cmd, "format"))
		if err != nil {
			return err
		}

		r, err := loadReport(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		output := mustGetString(cmd, "output")
		if output == "" {
			return exporter.Export(r, os.Stdout)
		}
		if filepath.Ext(output) == "" {
			output += exporter.FileExtension()
		}

		f, err := os.Create(output)
		if err != nil {
			return fmt.Errorf("failed to create %s: %w", output, err)
		}
		if err := exporter.Export(r, f); err != nil {
			f.Close()
			return fmt.Errorf("failed to export report: %w", err)
		}
		if err := f.Close(); err != nil {
			return fmt.Errorf("failed to write %s: %w", output, err)
		}

		log.Infow("Report exported", "scan_id", r.Scan.ID, "format", exporter.Name(), "path", output)
		color.Green("Report written to %s\n", output)
		return nil
	},
}

// loadReport reads a scan and its results straight from the store; no
// detectors or workers are needed to view results.
func loadReport(ctx context.Context, scanID string) (*types.Report, error) {
	scan, err := store.GetScan(ctx, scanID)
	if err != nil {
		return nil, fmt.Errorf("failed to load scan %s: %w", scanID, err)
	}
	findings, err := store.GetFindings(ctx, scanID)
	if err != nil {
		return nil, fmt.Errorf("failed to load findings: %w", err)
	}
	failures, err := store.GetDetectorFailures(ctx, scanID)
	if err != nil {
		return nil, fmt.Errorf("failed to load detector failures: %w", err)
	}
	return orchestrator.BuildReport(scan, findings, failures), nil
}
