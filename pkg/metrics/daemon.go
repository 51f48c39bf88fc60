package metrics

import "time"

// Error kinds reported by RecordCall.
const (
	KindOK    = "ok"
	KindLocal = "local"
	KindOp    = "op"
)

// Transfer directions reported by RecordBytesTransferred.
const (
	DirectionIn  = "in"
	DirectionOut = "out"
)

// DaemonMetrics provides observability for dispatched calls.
//
// Pass nil to disable collection:
//
//	srv := daemon.NewServer(cfg, prometheus.NewDaemonMetrics())
//	srv := daemon.NewServer(cfg, nil)
type DaemonMetrics interface {
	// RecordCall records a finished call.
	//
	// Parameters:
	//   - action: action name, "unknown" for an unknown procedure number
	//   - duration: time from header decode to reply sent
	//   - kind: KindOK, KindLocal or KindOp
	//   - errno: errno name for operational errors, empty otherwise
	RecordCall(action string, duration time.Duration, kind, errno string)

	// RecordCallStart and RecordCallEnd bracket a call for the in-flight
	// gauge.
	RecordCallStart(action string)
	RecordCallEnd(action string)

	// RecordBytesTransferred records file payload bytes moved over the
	// side channel, DirectionIn for uploads and DirectionOut for
	// downloads.
	RecordBytesTransferred(action, direction string, bytes uint64)

	// RecordCancellation records a transfer ended by a cancel marker.
	// origin is "client" or "daemon".
	RecordCancellation(action, origin string)

	// RecordProgressMessage counts progress messages sent.
	RecordProgressMessage(action string)

	// RecordProgressDropped counts progress events discarded because a
	// transfer's event queue was full.
	RecordProgressDropped(action string, n uint64)

	SetActiveConnections(count int32)
	RecordConnectionAccepted()
	RecordConnectionClosed()

	// RecordConnectionRejected counts connections refused at the limit.
	RecordConnectionRejected()
}
