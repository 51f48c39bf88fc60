package api

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/guestfsrpc/pkg/action"
)

type readyDaemon struct{ ready chan struct{} }

func (readyDaemon) Addr() string                 { return "127.0.0.1:1" }
func (readyDaemon) ActiveConnections() int32     { return 0 }
func (d readyDaemon) WaitReady() <-chan struct{} { return d.ready }

func newReadyDaemon() readyDaemon {
	ch := make(chan struct{})
	close(ch)
	return readyDaemon{ready: ch}
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	return w
}

func TestRouter(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := prometheus.NewCounter(prometheus.CounterOpts{Name: "guestfsd_test_total", Help: "test"})
	reg.MustRegister(c)
	c.Inc()

	r := NewRouter(newReadyDaemon(), action.Builtin(), reg)

	assert.Equal(t, http.StatusOK, get(t, r, "/health").Code)
	assert.Equal(t, http.StatusOK, get(t, r, "/health/ready").Code)
	assert.Equal(t, http.StatusOK, get(t, r, "/actions").Code)
	assert.Equal(t, http.StatusOK, get(t, r, "/actions/ping_daemon").Code)
	assert.Equal(t, http.StatusNotFound, get(t, r, "/actions/missing").Code)
	assert.Equal(t, http.StatusTemporaryRedirect, get(t, r, "/").Code)

	w := get(t, r, "/metrics")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "guestfsd_test_total 1")
}

func TestRouterWithoutMetrics(t *testing.T) {
	r := NewRouter(nil, nil, nil)

	assert.Equal(t, http.StatusNotFound, get(t, r, "/metrics").Code)
	assert.Equal(t, http.StatusNotFound, get(t, r, "/actions").Code)
	assert.Equal(t, http.StatusServiceUnavailable, get(t, r, "/health/ready").Code)
}

func TestServerLifecycle(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	srv := NewServer(APIConfig{}, newReadyDaemon(), action.Builtin(), nil)
	assert.Equal(t, 9090, srv.Port())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, l) }()

	resp, err := http.Get("http://" + l.Addr().String() + "/health")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, strings.Contains(string(body), "guestfsd"))

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}

	// Stop after shutdown is a no-op.
	assert.NoError(t, srv.Stop(context.Background()))
}
