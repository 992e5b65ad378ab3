// Package httpclient builds the HTTP clients used to probe scan targets.
package httpclient

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"
)

type SecureClientConfig struct {
	Timeout time.Duration
	// BlockPrivate refuses connections to loopback, private and link-local
	// addresses, including after redirects.
	BlockPrivate    bool
	FollowRedirects bool
	MaxRedirects    int
}

// NewTransport returns the transport shared by the clients of one prober.
func NewTransport(blockPrivate bool) *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			if blockPrivate {
				if err := validateAddress(ctx, addr); err != nil {
					return nil, fmt.Errorf("private address blocked: %w", err)
				}
			}
			var dialer net.Dialer
			return dialer.DialContext(ctx, network, addr)
		},

		MaxIdleConns:        50,
		MaxIdleConnsPerHost: 5,
		IdleConnTimeout:     30 * time.Second,

		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
}

// NewSecureClient creates a client with its own transport.
func NewSecureClient(config SecureClientConfig) *http.Client {
	return newClient(NewTransport(config.BlockPrivate), config)
}

func newClient(transport http.RoundTripper, config SecureClientConfig) *http.Client {
	client := &http.Client{
		Timeout:   config.Timeout,
		Transport: transport,
	}

	if !config.FollowRedirects {
		client.CheckRedirect = func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		}
		return client
	}

	client.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		if config.MaxRedirects > 0 && len(via) >= config.MaxRedirects {
			return fmt.Errorf("stopped after %d redirects", config.MaxRedirects)
		}
		if config.BlockPrivate {
			if err := validateURL(req.Context(), req.URL); err != nil {
				return fmt.Errorf("private address blocked on redirect: %w", err)
			}
		}
		return nil
	}
	return client
}

// NewAPIClient is used for collaborator APIs such as the ZAP daemon.
func NewAPIClient(timeout time.Duration) *http.Client {
	return NewSecureClient(SecureClientConfig{
		Timeout:         timeout,
		FollowRedirects: false,
	})
}

func validateAddress(ctx context.Context, addr string) error {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	}

	ips, err := net.DefaultResolver.LookupIP(ctx, "ip", host)
	if err != nil {
		return fmt.Errorf("failed to resolve %s: %w", host, err)
	}

	for _, ip := range ips {
		if isPrivateIP(ip) {
			return fmt.Errorf("%s resolves to %s", host, ip)
		}
	}
	return nil
}

func validateURL(ctx context.Context, u *url.URL) error {
	if u == nil || u.Hostname() == "" {
		return fmt.Errorf("redirect without host")
	}
	return validateAddress(ctx, u.Host)
}

func isPrivateIP(ip net.IP) bool {
	return ip.IsLoopback() ||
		ip.IsPrivate() ||
		ip.IsLinkLocalUnicast() ||
		ip.IsLinkLocalMulticast() ||
		ip.IsUnspecified()
}

// ReadBody reads at most limit bytes of the body. limit <= 0 reads everything.
func ReadBody(resp *http.Response, limit int64) ([]byte, error) {
	var r io.Reader = resp.Body
	if limit > 0 {
		r = io.LimitReader(resp.Body, limit)
	}
	return io.ReadAll(r)
}

// CloseBody drains and closes a response body so the connection can be reused.
func CloseBody(resp *http.Response) {
	if resp == nil || resp.Body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<20))
	_ = resp.Body.Close()
}
