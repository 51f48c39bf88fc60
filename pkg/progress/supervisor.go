// Package progress supervises file transfers on both ends of a guestfs
// connection: it tracks the transfer state machine, turns chunk boundaries
// into progress events, and carries user cancellation from whichever
// goroutine requests it to the goroutine moving the bytes.
package progress

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/creachadair/mds/queue"
	"go.uber.org/atomic"
)

// ============================================================================
// Transfer State Machine
// ============================================================================

// State is the state of one file transfer.
type State int

const (
	// Idle: no transfer has been announced.
	Idle State = iota

	// Announced: the size hint has been recorded, no chunk has moved yet.
	Announced

	// Streaming: at least one chunk has moved.
	Streaming

	// Completed: the end-of-stream marker was exchanged.
	Completed

	// Cancelled: the stream was ended by a cancel marker.
	Cancelled

	// Failed: the transfer stopped on a transport or local error.
	Failed
)

// String returns a human-readable name for the state.
func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Announced:
		return "announced"
	case Streaming:
		return "streaming"
	case Completed:
		return "completed"
	case Cancelled:
		return "cancelled"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == Completed || s == Cancelled || s == Failed
}

// ErrInvalidTransition is returned when a method is called in a state that
// does not allow it.
var ErrInvalidTransition = errors.New("progress: invalid state transition")

// EventKind distinguishes the events a Supervisor emits.
type EventKind int

const (
	// EventAnnounce carries the size hint, before any chunk.
	EventAnnounce EventKind = iota
	// EventProgress is emitted at each chunk boundary.
	EventProgress
	// EventReport is progress reported by the peer, queued by Report.
	EventReport
)

func (k EventKind) String() string {
	switch k {
	case EventAnnounce:
		return "announce"
	case EventReport:
		return "report"
	default:
		return "progress"
	}
}

// Event reports transfer progress. Total is the announced hint and may be
// zero when the size was not known up front.
type Event struct {
	Kind     EventKind
	Position uint64
	Total    uint64
	Time     time.Time
}

// DefaultQueueDepth is the number of undelivered events kept by default.
const DefaultQueueDepth = 16

// Supervisor drives the state machine of one transfer.
//
//	Idle -> Announced(hint) -> Streaming -> {Completed | Cancelled | Failed}
//
// Cancelled is only reachable from Streaming. Failed is reachable from any
// non-terminal state. Undelivered events are held in a bounded FIFO; when it
// is full the oldest event is dropped and counted by Dropped. Consumers
// call Drain at chunk boundaries and before ending the transfer, since
// entering a terminal state clears the queue.
//
// Thread Safety:
// All methods are safe for concurrent use, though a transfer normally has a
// single driving goroutine.
type Supervisor struct {
	mu       sync.Mutex
	state    State
	hint     uint64
	position uint64
	err      error

	token  *CancelToken
	events queue.Queue[Event]
	depth  int

	dropped atomic.Uint64
	now     func() time.Time
}

// NewSupervisor returns an Idle supervisor. token may be nil, in which case
// only an explicit Cancel ends the transfer early. depth <= 0 selects
// DefaultQueueDepth.
func NewSupervisor(token *CancelToken, depth int) *Supervisor {
	if depth <= 0 {
		depth = DefaultQueueDepth
	}
	return &Supervisor{token: token, depth: depth, now: time.Now}
}

// State returns the current state.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Position returns the number of bytes moved so far.
func (s *Supervisor) Position() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.position
}

// Hint returns the announced total, 0 if unknown.
func (s *Supervisor) Hint() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hint
}

// Err returns the error recorded by Fail.
func (s *Supervisor) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Dropped returns how many events were discarded because the queue was
// full.
func (s *Supervisor) Dropped() uint64 {
	return s.dropped.Load()
}

// Announce records the size hint and queues an EventAnnounce.
func (s *Supervisor) Announce(hint uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Idle {
		return fmt.Errorf("%w: announce in state %s", ErrInvalidTransition, s.state)
	}
	s.state = Announced
	s.hint = hint
	s.push(Event{Kind: EventAnnounce, Total: hint, Time: s.now()})
	return nil
}

// Chunk records that n bytes crossed the wire and returns the progress
// event for this boundary. ok is false when the transfer must not move
// another chunk: either the cancel token has fired, in which case the state
// is now Cancelled, or the supervisor is already terminal.
func (s *Supervisor) Chunk(n int) (ev Event, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case Announced, Streaming:
	default:
		return Event{}, false
	}

	s.state = Streaming
	if n > 0 {
		s.position += uint64(n)
	}
	ev = Event{Kind: EventProgress, Position: s.position, Total: s.hint, Time: s.now()}
	s.push(ev)

	if s.token.Cancelled() {
		s.terminate(Cancelled)
		return ev, false
	}
	return ev, true
}

// Cancel ends a streaming transfer by cancellation, for instance when the
// peer sent its own cancel marker.
func (s *Supervisor) Cancel() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == Cancelled {
		return nil
	}
	if s.state != Streaming {
		return fmt.Errorf("%w: cancel in state %s", ErrInvalidTransition, s.state)
	}
	s.terminate(Cancelled)
	return nil
}

// Complete marks the end-of-stream marker as exchanged. A transfer with no
// data goes straight from Announced to Completed. Events not yet drained
// are discarded.
func (s *Supervisor) Complete() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Announced && s.state != Streaming {
		return fmt.Errorf("%w: complete in state %s", ErrInvalidTransition, s.state)
	}
	s.terminate(Completed)
	return nil
}

// Fail records err and moves to Failed.
func (s *Supervisor) Fail(err error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Terminal() {
		return fmt.Errorf("%w: fail in state %s", ErrInvalidTransition, s.state)
	}
	s.err = err
	s.terminate(Failed)
	return nil
}

// Report queues a progress figure received from the peer. It does not
// move the transfer's own position.
func (s *Supervisor) Report(position, total uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Terminal() {
		return fmt.Errorf("%w: report in state %s", ErrInvalidTransition, s.state)
	}
	s.push(Event{Kind: EventReport, Position: position, Total: total, Time: s.now()})
	return nil
}

// Drain hands every queued event to fn, oldest first. It stops at the
// first error fn returns; events not yet handed over are discarded.
func (s *Supervisor) Drain(fn func(Event) error) error {
	s.mu.Lock()
	var pending []Event
	for {
		ev, ok := s.events.Pop()
		if !ok {
			break
		}
		pending = append(pending, ev)
	}
	s.mu.Unlock()

	for _, ev := range pending {
		if err := fn(ev); err != nil {
			return err
		}
	}
	return nil
}

// Pending returns the number of undelivered events.
func (s *Supervisor) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.events.Len()
}

// push must be called with mu held.
func (s *Supervisor) push(ev Event) {
	if s.events.Len() >= s.depth {
		s.events.Pop()
		s.dropped.Inc()
	}
	s.events.Add(ev)
}

// terminate must be called with mu held.
func (s *Supervisor) terminate(st State) {
	s.state = st
	s.events.Clear()
}
