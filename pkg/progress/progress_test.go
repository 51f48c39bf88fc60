package progress

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================================
// Supervisor
// ============================================================================

func TestSupervisorHappyPath(t *testing.T) {
	s := NewSupervisor(nil, 0)
	assert.Equal(t, Idle, s.State())

	require.NoError(t, s.Announce(100))
	assert.Equal(t, Announced, s.State())

	for i := 0; i < 4; i++ {
		ev, ok := s.Chunk(25)
		require.True(t, ok)
		assert.Equal(t, EventProgress, ev.Kind)
		assert.Equal(t, uint64(25*(i+1)), ev.Position)
		assert.Equal(t, uint64(100), ev.Total)
	}
	assert.Equal(t, Streaming, s.State())

	var got []Event
	require.NoError(t, s.Drain(func(ev Event) error { got = append(got, ev); return nil }))
	require.Len(t, got, 5)
	assert.Equal(t, EventAnnounce, got[0].Kind)
	assert.Equal(t, uint64(100), got[4].Position)

	require.NoError(t, s.Complete())
	assert.Equal(t, Completed, s.State())
	assert.True(t, s.State().Terminal())
}

func TestSupervisorEmptyTransfer(t *testing.T) {
	s := NewSupervisor(nil, 0)
	require.NoError(t, s.Announce(0))
	require.NoError(t, s.Complete())
	assert.Zero(t, s.Position())
}

func TestSupervisorTokenCancels(t *testing.T) {
	tok := NewCancelToken()
	s := NewSupervisor(tok, 0)
	require.NoError(t, s.Announce(5<<20))

	_, ok := s.Chunk(1 << 20)
	require.True(t, ok)

	tok.Cancel()
	ev, ok := s.Chunk(8192)
	assert.False(t, ok)
	assert.Equal(t, uint64(1<<20+8192), ev.Position)
	assert.Equal(t, Cancelled, s.State())
	assert.Zero(t, s.Pending(), "terminal state releases queued events")

	_, ok = s.Chunk(8192)
	assert.False(t, ok, "no chunk may move after cancellation")
}

func TestSupervisorTransitions(t *testing.T) {
	s := NewSupervisor(nil, 0)
	assert.ErrorIs(t, s.Cancel(), ErrInvalidTransition, "cancel from idle")
	assert.ErrorIs(t, s.Complete(), ErrInvalidTransition, "complete from idle")

	require.NoError(t, s.Announce(1))
	assert.ErrorIs(t, s.Announce(1), ErrInvalidTransition)
	assert.ErrorIs(t, s.Cancel(), ErrInvalidTransition, "cancel from announced")

	s.Chunk(1)
	require.NoError(t, s.Cancel())
	require.NoError(t, s.Cancel(), "cancel is idempotent")
	assert.ErrorIs(t, s.Complete(), ErrInvalidTransition)
	assert.ErrorIs(t, s.Fail(errors.New("x")), ErrInvalidTransition)
}

func TestSupervisorFailFromAnyLiveState(t *testing.T) {
	boom := errors.New("boom")
	for _, setup := range []func(*Supervisor){
		func(*Supervisor) {},
		func(s *Supervisor) { _ = s.Announce(10) },
		func(s *Supervisor) { _ = s.Announce(10); s.Chunk(1) },
	} {
		s := NewSupervisor(nil, 0)
		setup(s)
		require.NoError(t, s.Fail(boom))
		assert.Equal(t, Failed, s.State())
		assert.Equal(t, boom, s.Err())
	}
}

func TestSupervisorQueueDropsOldest(t *testing.T) {
	s := NewSupervisor(nil, 3)
	require.NoError(t, s.Announce(10))
	for i := 0; i < 5; i++ {
		s.Chunk(1)
	}
	assert.Equal(t, 3, s.Pending())
	assert.Equal(t, uint64(3), s.Dropped())

	var positions []uint64
	require.NoError(t, s.Drain(func(ev Event) error { positions = append(positions, ev.Position); return nil }))
	assert.Equal(t, []uint64{3, 4, 5}, positions)
}

func TestSupervisorReportOverflow(t *testing.T) {
	s := NewSupervisor(nil, 2)
	require.NoError(t, s.Announce(100))
	for _, pos := range []uint64{10, 20, 30, 40} {
		require.NoError(t, s.Report(pos, 100))
	}
	assert.Equal(t, uint64(3), s.Dropped(), "announce and two reports overflowed")
	assert.Zero(t, s.Position(), "reports do not move the local position")

	var got []Event
	require.NoError(t, s.Drain(func(ev Event) error { got = append(got, ev); return nil }))
	require.Len(t, got, 2)
	assert.Equal(t, EventReport, got[0].Kind)
	assert.Equal(t, uint64(30), got[0].Position)
	assert.Equal(t, uint64(40), got[1].Position)

	require.NoError(t, s.Complete())
	assert.ErrorIs(t, s.Report(50, 100), ErrInvalidTransition)
}

func TestSupervisorDrainStopsOnError(t *testing.T) {
	s := NewSupervisor(nil, 0)
	require.NoError(t, s.Announce(10))
	s.Chunk(1)
	s.Chunk(1)

	boom := errors.New("connection gone")
	calls := 0
	err := s.Drain(func(Event) error { calls++; return boom })
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls)
	assert.Zero(t, s.Pending())
}

// ============================================================================
// CancelToken
// ============================================================================

func TestCancelToken(t *testing.T) {
	tok := NewCancelToken()
	assert.False(t, tok.Cancelled())
	tok.Cancel()
	tok.Cancel()
	assert.True(t, tok.Cancelled())

	select {
	case <-tok.Done():
	default:
		t.Fatal("Done not closed after Cancel")
	}
}

func TestCancelTokenNilAndZero(t *testing.T) {
	var nilTok *CancelToken
	nilTok.Cancel()
	assert.False(t, nilTok.Cancelled())
	assert.Nil(t, nilTok.Done())

	var zero CancelToken
	assert.False(t, zero.Cancelled())
	zero.Cancel()
	assert.True(t, zero.Cancelled())
}

func TestCancelTokenWatch(t *testing.T) {
	tok := NewCancelToken()
	ctx, cancel := context.WithCancel(context.Background())
	stop := tok.Watch(ctx)
	defer stop()

	cancel()
	select {
	case <-tok.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("token did not fire after context cancel")
	}
}

func TestCancelTokenWatchStop(t *testing.T) {
	tok := NewCancelToken()
	ctx, cancel := context.WithCancel(context.Background())
	stop := tok.Watch(ctx)
	stop()
	stop()
	cancel()

	time.Sleep(20 * time.Millisecond)
	assert.False(t, tok.Cancelled())
}

// ============================================================================
// Notifier
// ============================================================================

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

type record struct{ pos, total uint64 }

func TestNotifierRateLimit(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1000, 0)}
	var sent []record
	n := newNotifier(func(p, tot uint64) error {
		sent = append(sent, record{p, tot})
		return nil
	}, NotifierConfig{InitialDelay: 2 * time.Second, Interval: 333 * time.Millisecond}, clock.now)

	require.NoError(t, n.Notify(1, 100))
	clock.advance(time.Second)
	require.NoError(t, n.Notify(2, 100))
	assert.Empty(t, sent, "nothing before the initial delay")

	clock.advance(time.Second)
	require.NoError(t, n.Notify(3, 100))
	clock.advance(100 * time.Millisecond)
	require.NoError(t, n.Notify(4, 100))
	clock.advance(300 * time.Millisecond)
	require.NoError(t, n.Notify(5, 100))

	require.NoError(t, n.Finish(100))
	assert.Equal(t, []record{{3, 100}, {5, 100}, {100, 100}}, sent)

	require.NoError(t, n.Notify(6, 100))
	assert.Len(t, sent, 3, "closed notifier is silent")
}

func TestNotifierShortCallSendsNothing(t *testing.T) {
	var calls int
	n := NewNotifier(func(uint64, uint64) error { calls++; return nil }, NotifierConfig{InitialDelay: time.Hour})
	require.NoError(t, n.Notify(1, 2))
	require.NoError(t, n.Finish(2))
	assert.Zero(t, calls)
	assert.Zero(t, n.Sent())
}

func TestNotifierZeroTotal(t *testing.T) {
	var last record
	n := NewNotifier(func(p, tot uint64) error { last = record{p, tot}; return nil }, NotifierConfig{})
	require.NoError(t, n.Notify(0, 0))
	require.NoError(t, n.Finish(0))
	assert.Equal(t, record{1, 1}, last)
}

func TestNotifierNil(t *testing.T) {
	var n *Notifier
	assert.NoError(t, n.Notify(1, 1))
	assert.NoError(t, n.Finish(1))
	assert.Zero(t, n.Sent())
}
