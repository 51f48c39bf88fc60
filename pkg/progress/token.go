package progress

import (
	"context"
	"sync"
)

// CancelToken is a one-shot cancellation flag shared between the goroutine
// that wants a transfer stopped and the goroutine moving its chunks.
//
// A nil *CancelToken is valid and never fires.
type CancelToken struct {
	once sync.Once
	done chan struct{}
	mu   sync.Mutex
}

// NewCancelToken returns an unfired token.
func NewCancelToken() *CancelToken {
	return &CancelToken{done: make(chan struct{})}
}

func (t *CancelToken) init() {
	t.mu.Lock()
	if t.done == nil {
		t.done = make(chan struct{})
	}
	t.mu.Unlock()
}

// Cancel fires the token. Further calls are no-ops.
func (t *CancelToken) Cancel() {
	if t == nil {
		return
	}
	t.init()
	t.once.Do(func() { close(t.done) })
}

// Cancelled reports whether Cancel has been called.
func (t *CancelToken) Cancelled() bool {
	if t == nil {
		return false
	}
	select {
	case <-t.Done():
		return true
	default:
		return false
	}
}

// Done returns a channel closed when the token fires. A nil token returns
// nil, which blocks forever in a select.
func (t *CancelToken) Done() <-chan struct{} {
	if t == nil {
		return nil
	}
	t.init()
	return t.done
}

// Watch fires the token when ctx is done. The returned stop function
// releases the watcher; it is safe to call more than once.
func (t *CancelToken) Watch(ctx context.Context) (stop func()) {
	if t == nil {
		return func() {}
	}
	release := context.AfterFunc(ctx, t.Cancel)
	return func() { release() }
}
