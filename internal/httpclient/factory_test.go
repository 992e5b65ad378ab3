package httpclient

import (
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSecureClient(t *testing.T) {
	client := NewSecureClient(SecureClientConfig{Timeout: 30 * time.Second, FollowRedirects: true})

	assert.NotNil(t, client)
	assert.Equal(t, 30*time.Second, client.Timeout)
}

func TestBlockPrivate_BlocksLoopback(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := NewSecureClient(SecureClientConfig{
		Timeout:      5 * time.Second,
		BlockPrivate: true,
	})

	resp, err := client.Get(server.URL)
	if err == nil {
		resp.Body.Close()
		t.Fatal("Expected private address to be blocked, but request succeeded")
	}
	assert.Contains(t, err.Error(), "private address blocked")
}

func TestBlockPrivate_DisabledAllowsLoopback(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}))
	defer server.Close()

	client := NewSecureClient(SecureClientConfig{Timeout: 5 * time.Second})

	resp, err := client.Get(server.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestIsPrivateIP(t *testing.T) {
	tests := []struct {
		ip       string
		expected bool
	}{
		{"127.0.0.1", true},      // Loopback
		{"10.0.0.1", true},       // Private
		{"172.16.0.1", true},     // Private
		{"192.168.1.1", true},    // Private
		{"169.254.1.1", true},    // Link-local
		{"0.0.0.0", true},        // Unspecified
		{"8.8.8.8", false},       // Public (Google DNS)
		{"1.1.1.1", false},       // Public (Cloudflare DNS)
		{"93.184.216.34", false}, // Public (example.com)
	}

	for _, tt := range tests {
		ip := net.ParseIP(tt.ip)
		require.NotNil(t, ip, "Failed to parse IP: %s", tt.ip)

		result := isPrivateIP(ip)
		assert.Equal(t, tt.expected, result, "IP: %s", tt.ip)
	}
}

func TestRedirectLimiting(t *testing.T) {
	redirectCount := 0

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		redirectCount++
		http.Redirect(w, r, "/redirect", http.StatusFound)
	}))
	defer server.Close()

	client := NewSecureClient(SecureClientConfig{
		Timeout:         5 * time.Second,
		FollowRedirects: true,
		MaxRedirects:    3,
	})

	resp, err := client.Get(server.URL)
	if resp != nil {
		resp.Body.Close()
	}

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "stopped after")
	assert.LessOrEqual(t, redirectCount, 5, "Should stop redirecting")
}

func TestNoRedirectFollowing(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/final", http.StatusFound)
	}))
	defer server.Close()

	client := NewSecureClient(SecureClientConfig{
		Timeout:         5 * time.Second,
		FollowRedirects: false,
	})

	resp, err := client.Get(server.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusFound, resp.StatusCode)
}

func TestReadBody_Limit(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(strings.Repeat("a", 100)))
	}))
	defer server.Close()

	resp, err := http.Get(server.URL)
	require.NoError(t, err)
	defer CloseBody(resp)

	body, err := ReadBody(resp, 10)
	require.NoError(t, err)
	assert.Len(t, body, 10)
}

func TestNewAPIClient(t *testing.T) {
	client := NewAPIClient(5 * time.Second)
	assert.Equal(t, 5*time.Second, client.Timeout)
	require.NotNil(t, client.CheckRedirect)
}
