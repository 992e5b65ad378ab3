package nmap

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/Ullaakut/nmap/v3"

	"github.com/CodeMonkeyCybersecurity/websentry/internal/config"
	"github.com/CodeMonkeyCybersecurity/websentry/internal/core"
	"github.com/CodeMonkeyCybersecurity/websentry/internal/logger"
	"github.com/CodeMonkeyCybersecurity/websentry/pkg/types"
)

// FallbackPort is probed over HTTP when nmap cannot run.
type FallbackPort struct {
	Port    int
	Scheme  string
	Service string
}

var DefaultFallbackPorts = []FallbackPort{
	{80, "http", "http"},
	{443, "https", "https"},
	{8080, "http", "http-alt"},
	{8443, "https", "https-alt"},
}

// FallbackPortsFor turns configured port numbers into fallback probes. Known
// web ports keep their service names; other ports ending in 443 use https.
func FallbackPortsFor(ports []int) []FallbackPort {
	out := make([]FallbackPort, 0, len(ports))
	for _, port := range ports {
		fp := FallbackPort{Port: port, Scheme: "http", Service: "http"}
		for _, known := range DefaultFallbackPorts {
			if known.Port == port {
				fp = known
			}
		}
		if fp.Service == "http" && port%1000 == 443 {
			fp.Scheme, fp.Service = "https", "https"
		}
		out = append(out, fp)
	}
	return out
}

// Scanner enumerates open ports with the nmap binary. When nmap is disabled,
// missing or fails, it falls back to probing a few web ports over HTTP.
type Scanner struct {
	cfg             config.NmapConfig
	prober          core.Prober
	fallbackTimeout time.Duration
	fallbackPorts   []FallbackPort
	logger          *logger.Logger
}

var _ core.PortScanner = (*Scanner)(nil)

type Option func(*Scanner)

func WithFallbackPorts(ports ...FallbackPort) Option {
	return func(s *Scanner) {
		s.fallbackPorts = ports
	}
}

func NewScanner(cfg config.NmapConfig, prober core.Prober, fallbackTimeout time.Duration, log *logger.Logger, opts ...Option) *Scanner {
	if log == nil {
		log = logger.Nop()
	}
	s := &Scanner{
		cfg:             cfg,
		prober:          prober,
		fallbackTimeout: fallbackTimeout,
		fallbackPorts:   DefaultFallbackPorts,
		logger:          log.WithComponent("nmap-scanner"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Scanner) ScanPorts(ctx context.Context, host string) ([]types.OpenPort, error) {
	if host == "" {
		return nil, fmt.Errorf("target host cannot be empty")
	}

	if !s.cfg.Enabled {
		return s.fallback(ctx, host)
	}

	binary, err := exec.LookPath(s.cfg.BinaryPath)
	if err != nil {
		s.logger.Infow("nmap binary not available, probing web ports instead",
			"binary_path", s.cfg.BinaryPath,
			"error", err,
		)
		return s.fallback(ctx, host)
	}

	ports, err := s.run(ctx, binary, host)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		s.logger.Warnw("nmap scan failed, probing web ports instead", "host", host, "error", err)
		return s.fallback(ctx, host)
	}
	return ports, nil
}

func (s *Scanner) run(ctx context.Context, binary, host string) ([]types.OpenPort, error) {
	start := time.Now()
	ctx, span := s.logger.StartOperation(ctx, "nmap.ScanPorts", "host", host, "ports", s.cfg.Ports)
	var err error
	defer func() {
		s.logger.FinishOperation(ctx, span, "nmap.ScanPorts", start, err)
	}()

	if s.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.Timeout)
		defer cancel()
	}

	options := []nmap.Option{
		nmap.WithBinaryPath(binary),
		nmap.WithTargets(host),
		nmap.WithServiceInfo(),
		nmap.WithVersionIntensity(2),
	}
	if s.cfg.Ports != "" {
		options = append(options, nmap.WithPorts(s.cfg.Ports))
	}
	if ip := net.ParseIP(host); ip != nil && ip.To4() == nil {
		options = append(options, nmap.WithIPv6Scanning())
	}

	scanner, err := nmap.NewScanner(ctx, options...)
	if err != nil {
		err = fmt.Errorf("creating nmap scanner: %w", err)
		return nil, err
	}

	result, warnings, err := scanner.Run()
	if err != nil {
		err = fmt.Errorf("nmap scan: %w", err)
		return nil, err
	}
	if warnings != nil {
		for _, w := range *warnings {
			s.logger.Debugw("nmap warning", "warning", w)
		}
	}

	return OpenPorts(result), nil
}

// OpenPorts flattens the open ports of every host in an nmap run.
func OpenPorts(run *nmap.Run) []types.OpenPort {
	if run == nil {
		return nil
	}

	var out []types.OpenPort
	for _, host := range run.Hosts {
		for _, port := range host.Ports {
			if !strings.EqualFold(port.State.State, "open") {
				continue
			}
			out = append(out, types.OpenPort{
				Port:     int(port.ID),
				Protocol: strings.ToLower(port.Protocol),
				Service:  port.Service.Name,
				Version:  strings.TrimSpace(port.Service.Product + " " + port.Service.Version),
			})
		}
	}
	return out
}

func (s *Scanner) fallback(ctx context.Context, host string) ([]types.OpenPort, error) {
	if s.prober == nil {
		return nil, errors.New("no prober available for web port fallback")
	}

	var out []types.OpenPort
	for _, fp := range s.fallbackPorts {
		if err := ctx.Err(); err != nil {
			return out, err
		}

		target := fmt.Sprintf("%s://%s", fp.Scheme, net.JoinHostPort(host, strconv.Itoa(fp.Port)))
		res := s.prober.Get(ctx, target, core.GetOptions{Timeout: s.fallbackTimeout})
		if !res.OK() || res.Response.Status == 0 {
			continue
		}
		out = append(out, types.OpenPort{
			Port:     fp.Port,
			Protocol: "tcp",
			Service:  fp.Service,
			Version:  "unknown",
		})
	}

	s.logger.Debugw("Web port fallback completed", "host", host, "open_ports", len(out))
	return out, nil
}
