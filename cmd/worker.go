package cmd

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/CodeMonkeyCybersecurity/websentry/internal/worker"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Process queued scans from Redis",
	Long: `Run scan workers against the Redis job queue until interrupted.

Requires redis.addr (or --redis-addr / WEBSENTRY_REDIS_ADDR). Scans queued by
'websentry serve' are picked up by any number of worker processes sharing the
same Redis and database.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.Redis.Addr == "" {
			return fmt.Errorf("redis.addr is not configured; workers need the job queue")
		}

		ctx := cmd.Context()
		a, err := newApp(ctx, dispatchAuto)
		if err != nil {
			return err
		}
		defer a.Close()

		color.Cyan("Starting %d scan workers on %s\n", cfg.Worker.Count, cfg.Redis.Addr)
		return worker.RunQueueWorkers(ctx, a.queue, a.service, cfg.Worker, log)
	},
}

func init() {
	rootCmd.AddCommand(workerCmd)
}
