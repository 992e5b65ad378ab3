package config

import (
	"fmt"
	"time"
)

type Config struct {
	Logger    LoggerConfig    `mapstructure:"logger"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Worker    WorkerConfig    `mapstructure:"worker"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Security  SecurityConfig  `mapstructure:"security"`
	Scan      ScanConfig      `mapstructure:"scan"`
	Tools     ToolsConfig     `mapstructure:"tools"`
	Server    ServerConfig    `mapstructure:"server"`
}

type LoggerConfig struct {
	Level       string   `mapstructure:"level"`
	Format      string   `mapstructure:"format"`
	OutputPaths []string `mapstructure:"output_paths"`
}

type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	DSN             string        `mapstructure:"dsn"`
	MaxConnections  int           `mapstructure:"max_connections"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// RedisConfig enables the distributed job queue when Addr is set.
type RedisConfig struct {
	Addr         string        `mapstructure:"addr"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	MaxRetries   int           `mapstructure:"max_retries"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

type WorkerConfig struct {
	Count             int           `mapstructure:"count"`
	QueuePollInterval time.Duration `mapstructure:"queue_poll_interval"`
	MaxRetries        int           `mapstructure:"max_retries"`
	RetryDelay        time.Duration `mapstructure:"retry_delay"`
}

type TelemetryConfig struct {
	Enabled      bool    `mapstructure:"enabled"`
	ServiceName  string  `mapstructure:"service_name"`
	ExporterType string  `mapstructure:"exporter_type"`
	Endpoint     string  `mapstructure:"endpoint"`
	SampleRate   float64 `mapstructure:"sample_rate"`
}

type SecurityConfig struct {
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	APIKey    string          `mapstructure:"api_key"`
	// AllowPrivateTargets permits loopback and RFC 1918 scan targets.
	AllowPrivateTargets bool `mapstructure:"allow_private_targets"`
}

// RateLimitConfig throttles API clients per IP.
type RateLimitConfig struct {
	RequestsPerSecond int `mapstructure:"requests_per_second"`
	BurstSize         int `mapstructure:"burst_size"`
}

// ScanConfig controls how detectors talk to the target.
type ScanConfig struct {
	ProbeTimeout         time.Duration `mapstructure:"probe_timeout"`
	PageTimeout          time.Duration `mapstructure:"page_timeout"`
	PortProbeTimeout     time.Duration `mapstructure:"port_probe_timeout"`
	FollowRedirects      bool          `mapstructure:"follow_redirects"`
	MaxRedirects         int           `mapstructure:"max_redirects"`
	MaxBodyBytes         int64         `mapstructure:"max_body_bytes"`
	UserAgent            string        `mapstructure:"user_agent"`
	MaxParallelDetectors int           `mapstructure:"max_parallel_detectors"`
	HostRequestsPerSec   float64       `mapstructure:"host_requests_per_second"`
	HostBurst            int           `mapstructure:"host_burst"`
	HostMinDelay         time.Duration `mapstructure:"host_min_delay"`
	Nameserver           string        `mapstructure:"nameserver"`
}

type ToolsConfig struct {
	Nmap  NmapConfig  `mapstructure:"nmap"`
	ZAP   ZAPConfig   `mapstructure:"zap"`
	Nikto NiktoConfig `mapstructure:"nikto"`
}

type NmapConfig struct {
	Enabled    bool          `mapstructure:"enabled"`
	BinaryPath string        `mapstructure:"binary_path"`
	Ports      string        `mapstructure:"ports"`
	Timeout    time.Duration `mapstructure:"timeout"`
	// FallbackPorts are probed over HTTP when nmap cannot run.
	FallbackPorts []int `mapstructure:"fallback_ports"`
}

// ZAPConfig points at a running ZAP daemon. An empty endpoint disables it.
type ZAPConfig struct {
	APIEndpoint   string        `mapstructure:"api_endpoint"`
	APIKey        string        `mapstructure:"api_key"`
	SpiderTimeout time.Duration `mapstructure:"spider_timeout"`
	ScanTimeout   time.Duration `mapstructure:"scan_timeout"`
	PollInterval  time.Duration `mapstructure:"poll_interval"`
}

type NiktoConfig struct {
	Enabled    bool          `mapstructure:"enabled"`
	BinaryPath string        `mapstructure:"binary_path"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	CORS bool   `mapstructure:"cors"`
}

// Validate rejects values the scanner cannot run with.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite3", "postgres":
	default:
		return fmt.Errorf("unsupported database driver %q (expected sqlite3 or postgres)", c.Database.Driver)
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database.dsn must be set")
	}
	if c.Scan.ProbeTimeout <= 0 || c.Scan.PageTimeout <= 0 {
		return fmt.Errorf("scan timeouts must be positive")
	}
	if c.Scan.MaxParallelDetectors < 1 {
		return fmt.Errorf("scan.max_parallel_detectors must be at least 1, got %d", c.Scan.MaxParallelDetectors)
	}
	if c.Worker.Count < 1 {
		return fmt.Errorf("worker.count must be at least 1, got %d", c.Worker.Count)
	}
	for _, port := range c.Tools.Nmap.FallbackPorts {
		if port < 1 || port > 65535 {
			return fmt.Errorf("tools.nmap.fallback_ports: invalid port %d", port)
		}
	}
	if c.Tools.ZAP.APIEndpoint != "" && c.Tools.ZAP.PollInterval <= 0 {
		return fmt.Errorf("tools.zap.poll_interval must be positive when zap is configured")
	}
	return nil
}

// DefaultConfig mirrors the viper defaults registered in cmd/root.go.
func DefaultConfig() *Config {
	return &Config{
		Logger: LoggerConfig{
			Level:       "info",
			Format:      "console",
			OutputPaths: []string{"stdout"},
		},
		Database: DatabaseConfig{
			Driver:          "sqlite3",
			DSN:             "websentry.db",
			MaxConnections:  10,
			MaxIdleConns:    5,
			ConnMaxLifetime: 1 * time.Hour,
		},
		Redis: RedisConfig{
			Addr:         "",
			DB:           0,
			MaxRetries:   3,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		},
		Worker: WorkerConfig{
			Count:             3,
			QueuePollInterval: 2 * time.Second,
			MaxRetries:        0,
			RetryDelay:        10 * time.Second,
		},
		Telemetry: TelemetryConfig{
			Enabled:      false,
			ServiceName:  "websentry",
			ExporterType: "otlp",
			Endpoint:     "localhost:4318",
			SampleRate:   1.0,
		},
		Security: SecurityConfig{
			RateLimit: RateLimitConfig{
				RequestsPerSecond: 10,
				BurstSize:         20,
			},
		},
		Scan: ScanConfig{
			ProbeTimeout:         5 * time.Second,
			PageTimeout:          10 * time.Second,
			PortProbeTimeout:     2 * time.Second,
			FollowRedirects:      true,
			MaxRedirects:         10,
			MaxBodyBytes:         5 << 20,
			UserAgent:            "websentry/1.0",
			MaxParallelDetectors: 1,
			HostRequestsPerSec:   10,
			HostBurst:            5,
			HostMinDelay:         50 * time.Millisecond,
		},
		Tools: ToolsConfig{
			Nmap: NmapConfig{
				Enabled:       true,
				BinaryPath:    "nmap",
				Ports:         "22-443,8080,8443",
				Timeout:       10 * time.Minute,
				FallbackPorts: []int{80, 443, 8080, 8443},
			},
			ZAP: ZAPConfig{
				SpiderTimeout: 5 * time.Minute,
				ScanTimeout:   10 * time.Minute,
				PollInterval:  2 * time.Second,
			},
			Nikto: NiktoConfig{
				Enabled:    false,
				BinaryPath: "nikto",
				Timeout:    10 * time.Minute,
			},
		},
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
			CORS: true,
		},
	}
}
