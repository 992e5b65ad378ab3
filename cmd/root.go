package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/CodeMonkeyCybersecurity/websentry/internal/config"
	"github.com/CodeMonkeyCybersecurity/websentry/internal/database"
	"github.com/CodeMonkeyCybersecurity/websentry/internal/logger"
	"github.com/CodeMonkeyCybersecurity/websentry/pkg/types"
)

var (
	cfgFile string
	cfg     *config.Config
	log     *logger.Logger
	store   *database.Store
)

var rootCmd = &cobra.Command{
	Use:   "websentry [target]",
	Short: "Web security detection and scan orchestration",
	Long: `websentry probes a web endpoint for common security weaknesses:
missing security headers, exposed service ports, reflected XSS, error-based
SQL injection and outdated server software. Results are stored, scored and
exportable.

Usage:
  websentry example.com               - Run a full scan and print the results
  websentry scan <url> --profile quick
  websentry serve                     - Start the HTTP API and in-process workers
  websentry worker                    - Process scans from the Redis queue
  websentry results show <scan-id>
  websentry results diff <old-id> <new-id>
  websentry results export <scan-id> --format cyclonedx`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 0 {
			return cmd.Help()
		}
		return runScanCommand(cmd, args[0], types.ProfileFull)
	},
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "help" || cmd.Name() == "version" {
			return nil
		}

		if err := initConfig(); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		var err error
		log, err = logger.New(cfg.Logger)
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}

		store, err = database.NewStore(cmd.Context(), cfg.Database, log)
		if err != nil {
			return fmt.Errorf("failed to initialize database: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if log != nil {
			// Sync on stdout/stderr returns EINVAL on Linux.
			if err := log.Sync(); err != nil && !errors.Is(err, syscall.EINVAL) {
				fmt.Fprintf(os.Stderr, "Warning: failed to sync logger: %v\n", err)
			}
		}
		if store != nil {
			if err := store.Close(); err != nil {
				fmt.Fprintf(os.Stderr, "Error: failed to close database: %v\n", err)
			}
		}
	},
	SilenceUsage: true,
}

// Execute runs the root command with a context cancelled on SIGINT or
// SIGTERM.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./.websentry.yaml or $HOME/.websentry.yaml)")

	// Logging configuration
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "console", "log format (json, console)")
	viper.BindPFlag("logger.level", rootCmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("logger.format", rootCmd.PersistentFlags().Lookup("log-format"))

	// Database configuration
	rootCmd.PersistentFlags().String("db-driver", "sqlite3", "database driver (sqlite3, postgres)")
	rootCmd.PersistentFlags().String("db-dsn", "websentry.db", "database connection string")
	viper.BindPFlag("database.driver", rootCmd.PersistentFlags().Lookup("db-driver"))
	viper.BindPFlag("database.dsn", rootCmd.PersistentFlags().Lookup("db-dsn"))
	viper.BindEnv("database.dsn", "WEBSENTRY_DATABASE_DSN", "DATABASE_URL")

	// Redis enables distributed mode
	rootCmd.PersistentFlags().String("redis-addr", "", "Redis address; enables the distributed job queue")
	rootCmd.PersistentFlags().String("redis-password", "", "Redis password")
	viper.BindPFlag("redis.addr", rootCmd.PersistentFlags().Lookup("redis-addr"))
	viper.BindPFlag("redis.password", rootCmd.PersistentFlags().Lookup("redis-password"))
	viper.BindEnv("redis.addr", "WEBSENTRY_REDIS_ADDR", "REDIS_URL")

	// Worker configuration
	rootCmd.PersistentFlags().Int("workers", 3, "number of scan workers")
	viper.BindPFlag("worker.count", rootCmd.PersistentFlags().Lookup("workers"))

	// Scan behaviour
	rootCmd.PersistentFlags().Int("parallel-detectors", 1, "maximum detectors run at once within a scan")
	rootCmd.PersistentFlags().Bool("allow-private", false, "allow loopback and private network targets")
	viper.BindPFlag("scan.max_parallel_detectors", rootCmd.PersistentFlags().Lookup("parallel-detectors"))
	viper.BindPFlag("security.allow_private_targets", rootCmd.PersistentFlags().Lookup("allow-private"))

	// API keys (environment variables or config file only, never flags)
	viper.BindEnv("security.api_key", "WEBSENTRY_API_KEY")
	viper.BindEnv("tools.zap.api_key", "WEBSENTRY_ZAP_API_KEY", "ZAP_API_KEY")

	setDefaults(config.DefaultConfig())
}

// setDefaults registers every default so env vars bind to keys that never
// appear in a config file.
func setDefaults(d *config.Config) {
	viper.SetDefault("logger.level", d.Logger.Level)
	viper.SetDefault("logger.format", d.Logger.Format)
	viper.SetDefault("logger.output_paths", d.Logger.OutputPaths)

	viper.SetDefault("database.driver", d.Database.Driver)
	viper.SetDefault("database.dsn", d.Database.DSN)
	viper.SetDefault("database.max_connections", d.Database.MaxConnections)
	viper.SetDefault("database.max_idle_conns", d.Database.MaxIdleConns)
	viper.SetDefault("database.conn_max_lifetime", d.Database.ConnMaxLifetime)

	viper.SetDefault("redis.addr", d.Redis.Addr)
	viper.SetDefault("redis.db", d.Redis.DB)
	viper.SetDefault("redis.max_retries", d.Redis.MaxRetries)
	viper.SetDefault("redis.dial_timeout", d.Redis.DialTimeout)
	viper.SetDefault("redis.read_timeout", d.Redis.ReadTimeout)
	viper.SetDefault("redis.write_timeout", d.Redis.WriteTimeout)

	viper.SetDefault("worker.count", d.Worker.Count)
	viper.SetDefault("worker.queue_poll_interval", d.Worker.QueuePollInterval)
	viper.SetDefault("worker.max_retries", d.Worker.MaxRetries)
	viper.SetDefault("worker.retry_delay", d.Worker.RetryDelay)

	viper.SetDefault("telemetry.enabled", d.Telemetry.Enabled)
	viper.SetDefault("telemetry.service_name", d.Telemetry.ServiceName)
	viper.SetDefault("telemetry.exporter_type", d.Telemetry.ExporterType)
	viper.SetDefault("telemetry.endpoint", d.Telemetry.Endpoint)
	viper.SetDefault("telemetry.sample_rate", d.Telemetry.SampleRate)

	viper.SetDefault("security.rate_limit.requests_per_second", d.Security.RateLimit.RequestsPerSecond)
	viper.SetDefault("security.rate_limit.burst_size", d.Security.RateLimit.BurstSize)
	viper.SetDefault("security.api_key", d.Security.APIKey)
	viper.SetDefault("security.allow_private_targets", d.Security.AllowPrivateTargets)

	viper.SetDefault("scan.probe_timeout", d.Scan.ProbeTimeout)
	viper.SetDefault("scan.page_timeout", d.Scan.PageTimeout)
	viper.SetDefault("scan.port_probe_timeout", d.Scan.PortProbeTimeout)
	viper.SetDefault("scan.follow_redirects", d.Scan.FollowRedirects)
	viper.SetDefault("scan.max_redirects", d.Scan.MaxRedirects)
	viper.SetDefault("scan.max_body_bytes", d.Scan.MaxBodyBytes)
	viper.SetDefault("scan.user_agent", d.Scan.UserAgent)
	viper.SetDefault("scan.max_parallel_detectors", d.Scan.MaxParallelDetectors)
	viper.SetDefault("scan.host_requests_per_second", d.Scan.HostRequestsPerSec)
	viper.SetDefault("scan.host_burst", d.Scan.HostBurst)
	viper.SetDefault("scan.host_min_delay", d.Scan.HostMinDelay)
	viper.SetDefault("scan.nameserver", d.Scan.Nameserver)

	viper.SetDefault("tools.nmap.enabled", d.Tools.Nmap.Enabled)
	viper.SetDefault("tools.nmap.binary_path", d.Tools.Nmap.BinaryPath)
	viper.SetDefault("tools.nmap.ports", d.Tools.Nmap.Ports)
	viper.SetDefault("tools.nmap.timeout", d.Tools.Nmap.Timeout)
	viper.SetDefault("tools.nmap.fallback_ports", d.Tools.Nmap.FallbackPorts)
	viper.SetDefault("tools.zap.api_endpoint", d.Tools.ZAP.APIEndpoint)
	viper.SetDefault("tools.zap.api_key", d.Tools.ZAP.APIKey)
	viper.SetDefault("tools.zap.spider_timeout", d.Tools.ZAP.SpiderTimeout)
	viper.SetDefault("tools.zap.scan_timeout", d.Tools.ZAP.ScanTimeout)
	viper.SetDefault("tools.zap.poll_interval", d.Tools.ZAP.PollInterval)
	viper.SetDefault("tools.nikto.enabled", d.Tools.Nikto.Enabled)
	viper.SetDefault("tools.nikto.binary_path", d.Tools.Nikto.BinaryPath)
	viper.SetDefault("tools.nikto.timeout", d.Tools.Nikto.Timeout)

	viper.SetDefault("server.host", d.Server.Host)
	viper.SetDefault("server.port", d.Server.Port)
	viper.SetDefault("server.cors", d.Server.CORS)
}

func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName(".websentry")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			viper.AddConfigPath(home)
		}
	}

	viper.SetEnvPrefix("WEBSENTRY")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) || cfgFile != "" {
			return fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg = &config.Config{}
	if err := viper.Unmarshal(cfg); err != nil {
		return fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return cfg.Validate()
}

func GetConfig() *config.Config {
	return cfg
}

func GetLogger() *logger.Logger {
	return log
}
