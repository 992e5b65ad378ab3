package nmap

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/Ullaakut/nmap/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CodeMonkeyCybersecurity/websentry/internal/config"
	"github.com/CodeMonkeyCybersecurity/websentry/internal/httpclient"
	"github.com/CodeMonkeyCybersecurity/websentry/pkg/types"
)

func TestOpenPorts(t *testing.T) {
	run := &nmap.Run{
		Hosts: []nmap.Host{{
			Ports: []nmap.Port{
				{ID: 3306, Protocol: "tcp", State: nmap.State{State: "open"}, Service: nmap.Service{Name: "mysql", Product: "MySQL", Version: "8.0.36"}},
				{ID: 22, Protocol: "TCP", State: nmap.State{State: "open"}, Service: nmap.Service{Name: "ssh"}},
				{ID: 25, Protocol: "tcp", State: nmap.State{State: "filtered"}, Service: nmap.Service{Name: "smtp"}},
				{ID: 23, Protocol: "tcp", State: nmap.State{State: "closed"}},
			},
		}},
	}

	ports := OpenPorts(run)
	require.Len(t, ports, 2)
	assert.Equal(t, types.OpenPort{Port: 3306, Protocol: "tcp", Service: "mysql", Version: "MySQL 8.0.36"}, ports[0])
	assert.Equal(t, types.OpenPort{Port: 22, Protocol: "tcp", Service: "ssh", Version: ""}, ports[1])

	assert.Nil(t, OpenPorts(nil))
}

func testProber(t *testing.T) *httpclient.Prober {
	t.Helper()
	cfg := config.DefaultConfig().Scan
	cfg.HostRequestsPerSec = 0
	cfg.HostMinDelay = 0
	p := httpclient.NewProber(cfg, false, nil)
	t.Cleanup(p.Close)
	return p
}

func serverPort(t *testing.T, server *httptest.Server) int {
	t.Helper()
	_, port, err := net.SplitHostPort(server.Listener.Addr().String())
	require.NoError(t, err)
	n, err := strconv.Atoi(port)
	require.NoError(t, err)
	return n
}

func closedPort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())
	return port
}

func TestScanPorts_FallbackWhenDisabled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	open := serverPort(t, server)
	closed := closedPort(t)

	s := NewScanner(config.NmapConfig{Enabled: false}, testProber(t), time.Second, nil,
		WithFallbackPorts(
			FallbackPort{Port: open, Scheme: "http", Service: "http-alt"},
			FallbackPort{Port: closed, Scheme: "http", Service: "http"},
		))

	ports, err := s.ScanPorts(context.Background(), "127.0.0.1")
	require.NoError(t, err)
	require.Len(t, ports, 1)
	assert.Equal(t, open, ports[0].Port)
	assert.Equal(t, "tcp", ports[0].Protocol)
	assert.Equal(t, "http-alt", ports[0].Service)
}

func TestScanPorts_FallbackWhenBinaryMissing(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer server.Close()

	cfg := config.NmapConfig{Enabled: true, BinaryPath: "/nonexistent/nmap-binary"}
	s := NewScanner(cfg, testProber(t), time.Second, nil,
		WithFallbackPorts(FallbackPort{Port: serverPort(t, server), Scheme: "http", Service: "http"}))

	ports, err := s.ScanPorts(context.Background(), "127.0.0.1")
	require.NoError(t, err)
	assert.Len(t, ports, 1)
}

func TestScanPorts_EmptyHost(t *testing.T) {
	s := NewScanner(config.NmapConfig{}, testProber(t), time.Second, nil)
	_, err := s.ScanPorts(context.Background(), "")
	assert.Error(t, err)
}

func TestScanPorts_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s := NewScanner(config.NmapConfig{}, testProber(t), time.Second, nil)
	_, err := s.ScanPorts(ctx, "127.0.0.1")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFallbackPortsFor(t *testing.T) {
	ports := FallbackPortsFor([]int{8443, 80, 9443, 3000})
	assert.Equal(t, []FallbackPort{
		{8443, "https", "https-alt"},
		{80, "http", "http"},
		{9443, "https", "https"},
		{3000, "http", "http"},
	}, ports)
	assert.Empty(t, FallbackPortsFor(nil))
}
