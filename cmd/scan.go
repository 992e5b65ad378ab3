package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/CodeMonkeyCybersecurity/websentry/internal/core"
	"github.com/CodeMonkeyCybersecurity/websentry/internal/orchestrator"
	"github.com/CodeMonkeyCybersecurity/websentry/pkg/report"
	"github.com/CodeMonkeyCybersecurity/websentry/pkg/types"
)

var scanCmd = &cobra.Command{
	Use:   "scan <url>",
	Short: "Scan a target and print the findings",
	Long: `Run a scan in this process and wait for it to finish.

Profiles:
  quick  security headers and exposed ports
  full   ports, headers, reflected XSS, SQL injection, server version and
         any configured external tools (ZAP, nikto)

Press Ctrl+C to cancel; findings produced so far are kept.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		profile, err := types.ParseProfile(mustGetString(cmd, "profile"))
		if err != nil {
			return err
		}
		return runScanCommand(cmd, args[0], profile)
	},
}

func init() {
	rootCmd.AddCommand(scanCmd)

	scanCmd.Flags().StringP("profile", "p", string(types.ProfileQuick), "scan profile (quick, full)")
	scanCmd.Flags().StringP("output", "o", "", "write the report to stdout in this format instead of the summary (json, yaml, cyclonedx)")
	scanCmd.Flags().Duration("timeout", 30*time.Minute, "cancel the scan after this long")

	rootCmd.Flags().StringP("output", "o", "", "write the report to stdout in this format instead of the summary (json, yaml, cyclonedx)")
	rootCmd.Flags().Duration("timeout", 30*time.Minute, "cancel the scan after this long")
}

func mustGetString(cmd *cobra.Command, name string) string {
	v, _ := cmd.Flags().GetString(name)
	return v
}

func runScanCommand(cmd *cobra.Command, target string, profile types.ScanProfile) error {
	output := mustGetString(cmd, "output")
	var exporter core.Exporter
	if output != "" {
		var err error
		if exporter, err = report.ExporterFor(output); err != nil {
			return err
		}
	}

	ctx := cmd.Context()
	if timeout, _ := cmd.Flags().GetDuration("timeout"); timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	a, err := newApp(ctx, dispatchLocal)
	if err != nil {
		return err
	}
	defer a.Close()

	scanLog := log.WithComponent("scan-cmd")
	scanID, err := a.service.StartScan(ctx, target, profile)
	if err != nil {
		return err
	}
	scanLog.Infow("Scan started", "scan_id", scanID, "target", target, "profile", profile)

	quiet := exporter != nil
	if !quiet {
		color.Cyan("Scanning %s (%s profile)\n", target, profile)
		color.White("Scan ID: %s\n\n", scanID)
	}

	scan, waitErr := followScan(ctx, a, scanID, quiet)
	if waitErr != nil {
		if !errors.Is(waitErr, context.Canceled) && !errors.Is(waitErr, context.DeadlineExceeded) {
			return waitErr
		}
		if !quiet {
			color.Yellow("\nScan interrupted, cancelling...\n")
		}
		scan, err = cancelAndWait(a, scanID)
		if err != nil {
			return err
		}
	}

	r, err := a.service.Report(context.WithoutCancel(ctx), scan.ID)
	if err != nil {
		return fmt.Errorf("failed to build report: %w", err)
	}

	if exporter != nil {
		return exporter.Export(r, os.Stdout)
	}
	displayReport(os.Stdout, r)

	if scan.Status == types.ScanStatusFailed {
		return fmt.Errorf("scan failed: %s", scan.ErrorMessage)
	}
	return nil
}

// followScan prints findings as detectors produce them and returns once the
// scan reaches a terminal status. The store is polled as well because the
// broker drops events for slow or late subscribers.
func followScan(ctx context.Context, a *app, scanID string, quiet bool) (*types.Scan, error) {
	events, release := a.events.Subscribe(scanID)
	defer release()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if quiet {
				continue
			}
			switch ev.Type {
			case orchestrator.EventFinding:
				fmt.Printf("  [%s] %s\n", colorSeverity(ev.Finding.Severity), ev.Finding.Title)
			case orchestrator.EventFailure:
				color.Yellow("  ! %s failed: %s\n", ev.Failure.Detector, ev.Failure.Reason)
			}
		case <-ticker.C:
		}

		scan, err := a.service.GetScan(ctx, scanID)
		if err != nil {
			return nil, err
		}
		if scan.Status.Terminal() {
			return scan, nil
		}
	}
}

// cancelAndWait stops an interrupted scan and waits for the orchestrator to
// record its final status.
func cancelAndWait(a *app, scanID string) (*types.Scan, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := a.service.Cancel(ctx, scanID); err != nil && !errors.Is(err, orchestrator.ErrScanFinished) {
		return nil, fmt.Errorf("failed to cancel scan: %w", err)
	}
	return a.service.Wait(ctx, scanID, 200*time.Millisecond)
}
