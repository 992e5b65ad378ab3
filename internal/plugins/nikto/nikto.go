// Package nikto runs the nikto binary against a target and turns its report
// lines into alerts.
package nikto

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"net/url"
	"os/exec"
	"regexp"
	"strings"
	"time"

	"github.com/CodeMonkeyCybersecurity/websentry/internal/config"
	"github.com/CodeMonkeyCybersecurity/websentry/internal/core"
	"github.com/CodeMonkeyCybersecurity/websentry/internal/logger"
	"github.com/CodeMonkeyCybersecurity/websentry/pkg/types"
)

const Name = "nikto"

var linePattern = regexp.MustCompile(`\+ (.+?): (.+?) \(OSVDB-(\d+)\)`)

var (
	highKeywords   = []string{"xss", "sql injection", "rce", "remote code"}
	mediumKeywords = []string{"directory", "file", "information disclosure"}
)

type runFunc func(ctx context.Context, name string, args ...string) ([]byte, error)

type Scanner struct {
	cfg    config.NiktoConfig
	run    runFunc
	logger *logger.Logger
}

var _ core.AlertSource = (*Scanner)(nil)

func NewScanner(cfg config.NiktoConfig, log *logger.Logger) *Scanner {
	if log == nil {
		log = logger.Nop()
	}
	return &Scanner{
		cfg:    cfg,
		run:    runCommand,
		logger: log.WithComponent("nikto-scanner"),
	}
}

func runCommand(ctx context.Context, name string, args ...string) ([]byte, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return stdout.Bytes(), fmt.Errorf("%s: %w: %s", name, err, strings.TrimSpace(stderr.String()))
	}
	return stdout.Bytes(), nil
}

func (s *Scanner) Name() string { return Name }

func (s *Scanner) Alerts(ctx context.Context, target *url.URL) ([]types.Alert, error) {
	binary, err := exec.LookPath(s.cfg.BinaryPath)
	if err != nil {
		return nil, fmt.Errorf("nikto binary not found: %w", err)
	}

	if s.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.Timeout)
		defer cancel()
	}

	port := target.Port()
	if port == "" {
		port = "80"
		if target.Scheme == "https" {
			port = "443"
		}
	}

	args := []string{"-h", target.Hostname(), "-p", port, "-Format", "txt", "-nointeractive"}
	if target.Scheme == "https" {
		args = append(args, "-ssl")
	}

	start := time.Now()
	out, err := s.run(ctx, binary, args...)
	if err != nil {
		return nil, fmt.Errorf("nikto scan failed: %w", err)
	}

	alerts := ParseReport(out, target)
	s.logger.Infow("Nikto scan completed",
		"target", target.String(),
		"alerts", len(alerts),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return alerts, nil
}

// ParseReport extracts one alert per "+ <path>: <message> (OSVDB-<id>)"
// line. Other lines are ignored.
func ParseReport(report []byte, target *url.URL) []types.Alert {
	var alerts []types.Alert
	sc := bufio.NewScanner(bytes.NewReader(report))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for sc.Scan() {
		line := sc.Text()
		m := linePattern.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		path, message, osvdb := m[1], m[2], m[3]

		alerts = append(alerts, types.Alert{
			Name:        "Nikto: " + path,
			Description: message,
			Risk:        RiskFor(message),
			URL:         resolvePath(target, path),
			Evidence:    strings.TrimSpace(line),
			Solution:    "Review the server configuration and apply the recommended fixes.",
			Reference:   "OSVDB-" + osvdb,
			Source:      Name,
		})
	}
	return alerts
}

// RiskFor derives an alert risk from keywords in the nikto message.
func RiskFor(message string) string {
	lower := strings.ToLower(message)
	for _, kw := range highKeywords {
		if strings.Contains(lower, kw) {
			return "High"
		}
	}
	for _, kw := range mediumKeywords {
		if strings.Contains(lower, kw) {
			return "Medium"
		}
	}
	return "Low"
}

func resolvePath(target *url.URL, path string) string {
	if target == nil || !strings.HasPrefix(path, "/") {
		return path
	}
	ref, err := url.Parse(path)
	if err != nil {
		return path
	}
	return target.ResolveReference(ref).String()
}
