package progress

import (
	"sync"
	"time"
)

// Default notification timing. The first message only goes out once an
// operation has been running for a while, so short calls send none.
const (
	DefaultInitialDelay = 2 * time.Second
	DefaultInterval     = 333 * time.Millisecond
)

// Sender delivers one progress message for the call being executed.
type Sender func(position, total uint64) error

// NotifierConfig controls the rate of progress messages.
type NotifierConfig struct {
	// InitialDelay is how long after the start of a call the first message
	// may be sent.
	InitialDelay time.Duration

	// Interval is the minimum gap between two messages.
	Interval time.Duration
}

// Notifier rate-limits progress messages for one call on the daemon side.
//
// Notify may be called as often as convenient; it only forwards to the
// sender once InitialDelay has elapsed since the notifier was created and
// then at most once per Interval. Finish sends a closing 100% message if,
// and only if, at least one message was sent before.
type Notifier struct {
	mu     sync.Mutex
	send   Sender
	cfg    NotifierConfig
	start  time.Time
	last   time.Time
	sent   int
	closed bool
	now    func() time.Time
}

// NewNotifier starts the timer for one call. A nil send makes every method
// a no-op.
func NewNotifier(send Sender, cfg NotifierConfig) *Notifier {
	return newNotifier(send, cfg, time.Now)
}

func newNotifier(send Sender, cfg NotifierConfig, now func() time.Time) *Notifier {
	return &Notifier{send: send, cfg: cfg, start: now(), now: now}
}

// Notify reports that position out of total units are done. Errors come
// from the sender and usually mean the connection is gone.
func (n *Notifier) Notify(position, total uint64) error {
	if n == nil || n.send == nil {
		return nil
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return nil
	}

	t := n.now()
	if t.Sub(n.start) < n.cfg.InitialDelay {
		return nil
	}
	if n.sent > 0 && t.Sub(n.last) < n.cfg.Interval {
		return nil
	}
	n.last = t
	n.sent++
	return n.send(position, total)
}

// Finish closes the notifier. When any message was sent it sends a final
// one with position equal to total, so clients always see the bar reach
// the end. total of 0 is reported as 1/1.
func (n *Notifier) Finish(total uint64) error {
	if n == nil || n.send == nil {
		return nil
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return nil
	}
	n.closed = true
	if n.sent == 0 {
		return nil
	}
	if total == 0 {
		total = 1
	}
	n.sent++
	return n.send(total, total)
}

// Sent returns how many messages went out.
func (n *Notifier) Sent() int {
	if n == nil {
		return 0
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.sent
}
