package sqli

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CodeMonkeyCybersecurity/websentry/pkg/scanners/scannertest"
	"github.com/CodeMonkeyCybersecurity/websentry/pkg/types"
)

func TestMatchSignature(t *testing.T) {
	tests := []struct {
		body   string
		engine string
	}{
		{"You have an error in your SQL syntax; check the manual that corresponds to your MySQL server version", "MySQL"},
		{"Warning: mysql_fetch_array() expects parameter 1", "MySQL"},
		{"pq: PostgreSQL says ERROR: syntax error at or near", "PostgreSQL"},
		{"Npgsql.NpgsqlException: 42601", "PostgreSQL"},
		{"System.Data.SQLite.SQLiteException: near \"'\"", "SQLite"},
		{"[Microsoft][ODBC SQL Server Driver][SQL Server]Incorrect syntax", "MSSQL"},
		{"java.sql.SQLException: ORA-01756", "generic"},
		{"unclosed QUOTATION mark after the character string", "generic"},
	}

	for _, tt := range tests {
		s, ok := MatchSignature(tt.body)
		require.True(t, ok, tt.body)
		assert.Equal(t, tt.engine, s.Engine, tt.body)
	}

	_, ok := MatchSignature("<html><body>Welcome back</body></html>")
	assert.False(t, ok)
}

func TestAnomalous(t *testing.T) {
	baseline := strings.Repeat("a", 100)

	assert.Empty(t, Anomalous(strings.Repeat("b", 100), baseline), "identical length, no keywords")
	assert.Empty(t, Anomalous(strings.Repeat("b", 120), baseline), "exactly 20% is not more than 20%")
	assert.NotEmpty(t, Anomalous(strings.Repeat("b", 125), baseline), "25% longer")
	assert.NotEmpty(t, Anomalous(strings.Repeat("b", 70), baseline), "30% shorter")
	assert.NotEmpty(t, Anomalous("Database "+strings.Repeat("b", 91), baseline), "new keyword")
	assert.Empty(t, Anomalous("error "+strings.Repeat("b", 94), "error "+strings.Repeat("a", 94)), "keyword already in baseline")
}

func paramServer(t *testing.T, respond func(id string) string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(respond(r.URL.Query().Get("id"))))
	}))
}

const baselineBody = "<html><body>Product 1: a sturdy pair of walking shoes</body></html>"

func TestDetector_ErrorSignature(t *testing.T) {
	server := paramServer(t, func(id string) string {
		if strings.Contains(id, "'") {
			return "You have an error in your SQL syntax; check the manual that corresponds to your MySQL server"
		}
		return baselineBody
	})
	defer server.Close()

	findings, err := New(nil).Run(context.Background(), scannertest.MustURL(t, server.URL+"/product?id=1"), scannertest.Capabilities(t))
	require.NoError(t, err)
	require.Len(t, findings, 1)

	f := findings[0]
	assert.Equal(t, types.SeverityCritical, f.Severity)
	assert.Equal(t, 9.0, f.CVSSScore)
	assert.Equal(t, types.CategorySQLi, f.Category)
	assert.Equal(t, "id", f.Evidence["parameter"])
	assert.Equal(t, Payloads[0], f.Evidence["payload"])
	assert.Equal(t, "MySQL", f.Evidence["engine"])
}

func TestDetector_LengthAnomaly(t *testing.T) {
	longer := baselineBody + strings.Repeat("x", len(baselineBody)/4)
	server := paramServer(t, func(id string) string {
		if id == "1" {
			return baselineBody
		}
		return longer
	})
	defer server.Close()

	findings, err := New(nil).Run(context.Background(), scannertest.MustURL(t, server.URL+"/product?id=1"), scannertest.Capabilities(t))
	require.NoError(t, err)
	require.Len(t, findings, 1)
	assert.Equal(t, types.SeverityHigh, findings[0].Severity)
	assert.Equal(t, 8.0, findings[0].CVSSScore)
	assert.NotEmpty(t, findings[0].Evidence["anomaly"])
}

func TestDetector_NoAnomaly(t *testing.T) {
	var probes int32
	server := paramServer(t, func(id string) string {
		atomic.AddInt32(&probes, 1)
		return baselineBody
	})
	defer server.Close()

	findings, err := New(nil).Run(context.Background(), scannertest.MustURL(t, server.URL+"/product?id=1"), scannertest.Capabilities(t))
	require.NoError(t, err)
	assert.Empty(t, findings)
	assert.Equal(t, int32(1+PayloadsPerField), atomic.LoadInt32(&probes), "baseline plus capped payloads")
}

func TestDetector_Forms(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<form action="/login" method="post">
<input name="username"><input type="password" name="password"><input type="hidden" name="token">
</form>`))
	})
	mux.HandleFunc("/login", func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		assert.Equal(t, "test", r.PostForm.Get("password"))
		if strings.Contains(r.PostForm.Get("username"), "'") {
			w.Write([]byte("SQLite error: unrecognized token"))
			return
		}
		w.Write([]byte("Invalid credentials"))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	findings, err := New(nil).Run(context.Background(), scannertest.MustURL(t, server.URL+"/"), scannertest.Capabilities(t))
	require.NoError(t, err)
	require.Len(t, findings, 1)
	assert.Equal(t, "username", findings[0].Evidence["form_field"])
	assert.Equal(t, "/login", findings[0].Evidence["form_action"])
	assert.Equal(t, types.SeverityCritical, findings[0].Severity)
}

func TestDetector_NoSurface(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html><body>static</body></html>"))
	}))
	defer server.Close()

	findings, err := New(nil).Run(context.Background(), scannertest.MustURL(t, server.URL+"/"), scannertest.Capabilities(t))
	require.NoError(t, err)
	assert.Empty(t, findings)
}
