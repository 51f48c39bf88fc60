package handlers

import (
	"net/http"
)

// Daemon is the view of the running daemon the health probes need.
type Daemon interface {
	// Addr is the address the daemon listens on, empty before it listens.
	Addr() string
	// ActiveConnections is the number of connected clients.
	ActiveConnections() int32
	// WaitReady is closed once the daemon accepts connections.
	WaitReady() <-chan struct{}
}

// HealthHandler handles health check endpoints.
//
// Health endpoints are unauthenticated and provide:
//   - Liveness probe: Is the process running?
//   - Readiness probe: Is the daemon accepting connections?
type HealthHandler struct {
	daemon Daemon
}

// NewHealthHandler creates a new health handler.
//
// d may be nil, in which case readiness always reports unhealthy.
func NewHealthHandler(d Daemon) *HealthHandler {
	return &HealthHandler{daemon: d}
}

// Liveness handles GET /health.
//
// Returns 200 OK as long as the HTTP server is responsive.
func (h *HealthHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthyResponse(map[string]string{
		"service": "guestfsd",
	}))
}

// ReadinessStatus is the payload of a successful readiness probe.
type ReadinessStatus struct {
	Address           string `json:"address"`
	ActiveConnections int32  `json:"active_connections"`
}

// Readiness handles GET /health/ready.
//
// Returns 200 OK once the daemon listener is up, 503 Service Unavailable
// before that.
func (h *HealthHandler) Readiness(w http.ResponseWriter, r *http.Request) {
	if h.daemon == nil {
		writeJSON(w, http.StatusServiceUnavailable, unhealthyResponse("daemon not initialized"))
		return
	}

	select {
	case <-h.daemon.WaitReady():
	default:
		writeJSON(w, http.StatusServiceUnavailable, unhealthyResponse("daemon not listening"))
		return
	}

	writeJSON(w, http.StatusOK, healthyResponse(ReadinessStatus{
		Address:           h.daemon.Addr(),
		ActiveConnections: h.daemon.ActiveConnections(),
	}))
}
