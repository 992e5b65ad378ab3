package cmd

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/CodeMonkeyCybersecurity/websentry/internal/api"
	"github.com/CodeMonkeyCybersecurity/websentry/internal/worker"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the websentry HTTP API server",
	Long: `Start the HTTP API server.

Endpoints:
  POST /api/scans                 start a scan {"target_url": "...", "profile": "quick|full"}
  GET  /api/scans                 list scans
  GET  /api/scans/:id             scan, findings, detector failures and risk
  GET  /api/scans/:id/findings    findings in production order (?severity=high)
  GET  /api/scans/:id/risk        risk score
  GET  /api/scans/:id/report      full report with summary
  POST /api/scans/:id/cancel      cancel a queued or running scan
  GET  /api/scans/:id/stream      websocket stream of findings
  GET  /health

Without Redis, scans run on an in-process worker pool. With redis.addr set,
scans are queued for 'websentry worker' processes; pass --with-workers to
also consume the queue from this process.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if port, _ := cmd.Flags().GetInt("port"); port > 0 {
			cfg.Server.Port = port
		}

		a, err := newApp(ctx, dispatchAuto)
		if err != nil {
			return err
		}
		defer a.Close()

		server := api.NewServer(*cfg, a.service, store, log)

		color.Cyan("websentry API listening on %s:%d\n", cfg.Server.Host, cfg.Server.Port)
		if cfg.Security.APIKey == "" {
			color.Yellow("No API key configured; the API is unauthenticated\n")
		}

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			return server.ListenAndServe(gctx)
		})

		withWorkers, _ := cmd.Flags().GetBool("with-workers")
		if a.queue != nil && withWorkers {
			g.Go(func() error {
				if err := worker.RunQueueWorkers(gctx, a.queue, a.service, cfg.Worker, log); err != nil {
					return fmt.Errorf("queue workers: %w", err)
				}
				return nil
			})
		}

		return g.Wait()
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().Int("port", 0, "listen port (overrides server.port)")
	serveCmd.Flags().Bool("with-workers", false, "also process queued scans in this process when Redis is configured")
}
