package httpserver

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cfgpkg "github.com/taoyao-code/mlab-sync/internal/config"
	appmetrics "github.com/taoyao-code/mlab-sync/internal/metrics"
)

func serve(srv *Server, path string) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	srv.Engine().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
	return rr
}

func TestHealthzReadyzMetrics(t *testing.T) {
	cfg := cfgpkg.HTTPConfig{Addr: ":0", ReadTimeout: time.Second, WriteTimeout: time.Second}
	reg := appmetrics.NewRegistry()
	appmetrics.NewProtocolMetrics(reg).Sent("ACK", nil)
	srv := New(cfg, "/metrics", appmetrics.Handler(reg), func() bool { return true }, nil)

	assert.Equal(t, http.StatusOK, serve(srv, "/healthz").Code)
	assert.Equal(t, http.StatusOK, serve(srv, "/readyz").Code)

	rr := serve(srv, "/metrics")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "mlab_packets_sent_total")
	assert.NotEmpty(t, rr.Header().Get("X-Request-ID"))
}

func TestReadyzNotReady(t *testing.T) {
	cfg := cfgpkg.HTTPConfig{Addr: ":0"}
	srv := New(cfg, "", nil, func() bool { return false }, nil)
	assert.Equal(t, http.StatusServiceUnavailable, serve(srv, "/readyz").Code)
	assert.Equal(t, http.StatusNotFound, serve(srv, "/metrics").Code)
}

func TestStartShutdown(t *testing.T) {
	srv := New(cfgpkg.HTTPConfig{Addr: "127.0.0.1:0"}, "", nil, nil, nil)
	done := make(chan error, 1)
	go func() { done <- srv.Start() }()
	time.Sleep(50 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, srv.Shutdown(ctx))
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not stop")
	}
}
