package metricsapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/migadu/filter-contentstrings/pkg/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, options ServerOptions) *httptest.Server {
	t.Helper()
	s, err := New(options)
	require.NoError(t, err)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func TestNew_Validation(t *testing.T) {
	_, err := New(ServerOptions{})
	assert.Error(t, err)

	_, err = New(ServerOptions{Addr: "127.0.0.1:0", Path: "/status"})
	assert.Error(t, err)

	s, err := New(ServerOptions{Addr: "127.0.0.1:0"})
	require.NoError(t, err)
	assert.Equal(t, "/metrics", s.path)
}

func TestStatusEndpoint(t *testing.T) {
	ts := newTestServer(t, ServerOptions{Addr: "127.0.0.1:0", Version: "1.2.3", Matchers: 4})

	resp, err := http.Get(ts.URL + "/status")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var status StatusResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&status))
	assert.Equal(t, "1.2.3", status.Version)
	assert.Equal(t, 4, status.Matchers)
	assert.GreaterOrEqual(t, status.UptimeSeconds, 0.0)
}

func TestMetricsEndpoint(t *testing.T) {
	metrics.VerdictsTotal.WithLabelValues("proceed").Inc()
	ts := newTestServer(t, ServerOptions{Addr: "127.0.0.1:0", Path: "/custom-metrics"})

	resp, err := http.Get(ts.URL + "/custom-metrics")
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "contentfilter_verdicts_total")
}

func TestUnknownPathAndMethod(t *testing.T) {
	ts := newTestServer(t, ServerOptions{Addr: "127.0.0.1:0"})

	resp, err := http.Get(ts.URL + "/nope")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, err = http.Post(ts.URL+"/status", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestStart_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	errChan := make(chan error, 1)
	done := make(chan struct{})

	go func() {
		Start(ctx, ServerOptions{Addr: "127.0.0.1:0"}, errChan)
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("metrics server did not stop after cancel")
	}
	assert.Empty(t, errChan)
}

func TestStart_ReportsListenError(t *testing.T) {
	errChan := make(chan error, 1)
	Start(context.Background(), ServerOptions{Addr: "256.0.0.1:99999"}, errChan)

	select {
	case err := <-errChan:
		assert.Contains(t, err.Error(), "metrics server failed")
	default:
		t.Fatal("expected a listen error")
	}
}
