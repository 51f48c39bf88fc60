// Package prometheus implements pkg/metrics on top of client_golang.
package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/marmos91/guestfsrpc/pkg/metrics"
)

type daemonMetrics struct {
	calls        *prometheus.CounterVec
	callDuration *prometheus.HistogramVec
	inFlight     *prometheus.GaugeVec
	bytes        *prometheus.CounterVec
	cancels      *prometheus.CounterVec
	progress     *prometheus.CounterVec
	dropped      *prometheus.CounterVec

	activeConns   prometheus.Gauge
	acceptedConns prometheus.Counter
	closedConns   prometheus.Counter
	rejectedConns prometheus.Counter
}

// NewDaemonMetrics creates the daemon collectors in the registry from
// metrics.InitRegistry.
//
// Returns nil if metrics are not enabled.
func NewDaemonMetrics() metrics.DaemonMetrics {
	if !metrics.IsEnabled() {
		return nil
	}
	return newDaemonMetrics(metrics.GetRegistry())
}

func newDaemonMetrics(reg prometheus.Registerer) *daemonMetrics {
	f := promauto.With(reg)
	return &daemonMetrics{
		calls: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "guestfsd_calls_total",
				Help: "Total number of dispatched calls by action, result kind and errno",
			},
			[]string{"action", "kind", "errno"},
		),
		callDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "guestfsd_call_duration_milliseconds",
				Help: "Duration of dispatched calls in milliseconds",
				Buckets: []float64{
					0.1, // metadata calls on a warm cache
					0.5,
					1,
					5,
					10,
					50,
					100,
					500,
					1000,
					10000, // large transfers
				},
			},
			[]string{"action"},
		),
		inFlight: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "guestfsd_calls_in_flight",
				Help: "Calls currently executing",
			},
			[]string{"action"},
		),
		bytes: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "guestfsd_transfer_bytes_total",
				Help: "File payload bytes moved over the side channel",
			},
			[]string{"action", "direction"},
		),
		cancels: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "guestfsd_transfer_cancellations_total",
				Help: "File transfers ended by cancellation",
			},
			[]string{"action", "origin"},
		),
		progress: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "guestfsd_progress_messages_total",
				Help: "Progress messages sent to clients",
			},
			[]string{"action"},
		),
		dropped: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "guestfsd_progress_events_dropped_total",
				Help: "Progress events discarded because the transfer queue was full",
			},
			[]string{"action"},
		),
		activeConns: f.NewGauge(prometheus.GaugeOpts{
			Name: "guestfsd_connections_active",
			Help: "Currently open client connections",
		}),
		acceptedConns: f.NewCounter(prometheus.CounterOpts{
			Name: "guestfsd_connections_accepted_total",
			Help: "Accepted client connections",
		}),
		closedConns: f.NewCounter(prometheus.CounterOpts{
			Name: "guestfsd_connections_closed_total",
			Help: "Closed client connections",
		}),
		rejectedConns: f.NewCounter(prometheus.CounterOpts{
			Name: "guestfsd_connections_rejected_total",
			Help: "Connections refused because the connection limit was reached",
		}),
	}
}

func (m *daemonMetrics) RecordCall(action string, d time.Duration, kind, errno string) {
	m.calls.WithLabelValues(action, kind, errno).Inc()
	m.callDuration.WithLabelValues(action).Observe(float64(d.Microseconds()) / 1000)
}

func (m *daemonMetrics) RecordCallStart(action string) { m.inFlight.WithLabelValues(action).Inc() }
func (m *daemonMetrics) RecordCallEnd(action string)   { m.inFlight.WithLabelValues(action).Dec() }

func (m *daemonMetrics) RecordBytesTransferred(action, direction string, n uint64) {
	m.bytes.WithLabelValues(action, direction).Add(float64(n))
}

func (m *daemonMetrics) RecordCancellation(action, origin string) {
	m.cancels.WithLabelValues(action, origin).Inc()
}

func (m *daemonMetrics) RecordProgressMessage(action string) {
	m.progress.WithLabelValues(action).Inc()
}

func (m *daemonMetrics) RecordProgressDropped(action string, n uint64) {
	m.dropped.WithLabelValues(action).Add(float64(n))
}

func (m *daemonMetrics) SetActiveConnections(n int32) { m.activeConns.Set(float64(n)) }
func (m *daemonMetrics) RecordConnectionAccepted()    { m.acceptedConns.Inc() }
func (m *daemonMetrics) RecordConnectionClosed()      { m.closedConns.Inc() }
func (m *daemonMetrics) RecordConnectionRejected()    { m.rejectedConns.Inc() }
