package validation

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/miekg/dns"
)

// Resolver answers A/AAAA questions for scan targets. With no nameserver
// configured it uses the servers from /etc/resolv.conf, and falls back to
// the Go resolver when that file is unavailable.
type Resolver struct {
	client  *dns.Client
	servers []string
	timeout time.Duration
}

func NewResolver(nameserver string, timeout time.Duration) *Resolver {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}

	r := &Resolver{
		client:  &dns.Client{Timeout: timeout},
		timeout: timeout,
	}

	if nameserver != "" {
		r.servers = []string{withPort(nameserver)}
		return r
	}

	if conf, err := dns.ClientConfigFromFile("/etc/resolv.conf"); err == nil {
		for _, s := range conf.Servers {
			r.servers = append(r.servers, net.JoinHostPort(s, conf.Port))
		}
	}
	return r
}

// Resolve returns the addresses of host. IP literals and localhost resolve
// without a query.
func (r *Resolver) Resolve(ctx context.Context, host string) ([]net.IP, error) {
	host = strings.Trim(host, "[]")
	if ip := net.ParseIP(host); ip != nil {
		return []net.IP{ip}, nil
	}
	if strings.EqualFold(host, "localhost") {
		return []net.IP{net.IPv4(127, 0, 0, 1)}, nil
	}

	if len(r.servers) == 0 {
		return r.resolveSystem(ctx, host)
	}

	var ips []net.IP
	var lastErr error
	for _, qtype := range []uint16{dns.TypeA, dns.TypeAAAA} {
		found, err := r.query(ctx, host, qtype)
		if err != nil {
			lastErr = err
			continue
		}
		ips = append(ips, found...)
	}

	if len(ips) == 0 {
		if lastErr != nil {
			return nil, fmt.Errorf("failed to resolve %s: %w", host, lastErr)
		}
		return nil, fmt.Errorf("failed to resolve %s: no address records", host)
	}
	return ips, nil
}

func (r *Resolver) query(ctx context.Context, host string, qtype uint16) ([]net.IP, error) {
	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(host), qtype)
	m.RecursionDesired = true

	var lastErr error
	for _, server := range r.servers {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		resp, _, err := r.client.ExchangeContext(ctx, m, server)
		if err != nil {
			lastErr = err
			continue
		}
		if resp.Rcode == dns.RcodeNameError {
			return nil, fmt.Errorf("%s: NXDOMAIN", host)
		}
		if resp.Rcode != dns.RcodeSuccess {
			lastErr = fmt.Errorf("%s: %s", host, dns.RcodeToString[resp.Rcode])
			continue
		}

		var ips []net.IP
		for _, ans := range resp.Answer {
			switch v := ans.(type) {
			case *dns.A:
				ips = append(ips, v.A)
			case *dns.AAAA:
				ips = append(ips, v.AAAA)
			}
		}
		return ips, nil
	}
	return nil, lastErr
}

func (r *Resolver) resolveSystem(ctx context.Context, host string) ([]net.IP, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	addrs, err := net.DefaultResolver.LookupIPAddr(ctx, host)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", host, err)
	}
	ips := make([]net.IP, 0, len(addrs))
	for _, a := range addrs {
		ips = append(ips, a.IP)
	}
	return ips, nil
}

func withPort(server string) string {
	if _, _, err := net.SplitHostPort(server); err == nil {
		return server
	}
	return net.JoinHostPort(server, "53")
}
