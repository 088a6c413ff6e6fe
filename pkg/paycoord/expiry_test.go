package paycoord

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testClock is a settable time source.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock(start time.Time) *testClock {
	return &testClock{now: start}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestResolveExpiresAt_Ranked(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	window := 10 * time.Minute

	lockExpiry := base.Add(4 * time.Minute)
	sessionExpiry := base.Add(7 * time.Minute)

	// The booking hold's deadline outranks everything.
	got := ResolveExpiresAt(ExpirySource{
		LockExpiryTime:   lockExpiry,
		SessionExpiresAt: sessionExpiry,
		CreatedAt:        base,
	}, window)
	assert.Equal(t, lockExpiry, got)

	// Without a hold deadline, the session's own deadline wins.
	got = ResolveExpiresAt(ExpirySource{
		SessionExpiresAt: sessionExpiry,
		CreatedAt:        base,
	}, window)
	assert.Equal(t, sessionExpiry, got)

	// Last resort: createdAt plus the default window.
	got = ResolveExpiresAt(ExpirySource{CreatedAt: base}, window)
	assert.Equal(t, base.Add(window), got)

	assert.True(t, ResolveExpiresAt(ExpirySource{}, window).IsZero())
}

func TestReconciler_WarnsOnceInsideThreshold(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := newTestClock(base)

	r := NewReconciler(ReconcilerOptions{
		WarnThreshold: time.Minute,
		Interval:      time.Hour, // ticks never fire; the test drives Resync
		Now:           clock.Now,
	})
	defer r.Stop()

	var warns, expires int32
	r.Start(base.Add(30*time.Second),
		func(remaining time.Duration) {
			atomic.AddInt32(&warns, 1)
			assert.Equal(t, 30*time.Second, remaining)
		},
		func() { atomic.AddInt32(&expires, 1) })

	// Already inside the window at Start: the warning fires immediately,
	// and repeated recomputations never repeat it.
	require.EqualValues(t, 1, atomic.LoadInt32(&warns))
	r.Resync()
	r.Resync()
	assert.EqualValues(t, 1, atomic.LoadInt32(&warns))
	assert.EqualValues(t, 0, atomic.LoadInt32(&expires))
}

func TestReconciler_ExpiresImmediatelyWhenPastDeadline(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := newTestClock(base)

	r := NewReconciler(ReconcilerOptions{Interval: time.Hour, Now: clock.Now})
	defer r.Stop()

	var warns, expires int32
	r.Start(base.Add(-time.Second),
		func(time.Duration) { atomic.AddInt32(&warns, 1) },
		func() { atomic.AddInt32(&expires, 1) })

	assert.EqualValues(t, 1, atomic.LoadInt32(&expires))
	// Expiry preempts the warning; an already-dead session gets no countdown.
	assert.EqualValues(t, 0, atomic.LoadInt32(&warns))

	r.Resync()
	assert.EqualValues(t, 1, atomic.LoadInt32(&expires))
}

func TestReconciler_ClockJumpResyncFiresExpiry(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := newTestClock(base)

	r := NewReconciler(ReconcilerOptions{Interval: time.Hour, Now: clock.Now})
	defer r.Stop()

	var expires int32
	r.Start(base.Add(10*time.Minute), nil, func() { atomic.AddInt32(&expires, 1) })
	require.EqualValues(t, 0, atomic.LoadInt32(&expires))

	// Laptop lid closes for eleven minutes. The wake-up Resync must land on
	// expired synchronously, not wait for the next tick.
	clock.Advance(11 * time.Minute)
	r.Resync()
	assert.EqualValues(t, 1, atomic.LoadInt32(&expires))

	r.Resync()
	assert.EqualValues(t, 1, atomic.LoadInt32(&expires))
}

func TestReconciler_RemainingRecomputedFromWallClock(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := newTestClock(base)

	r := NewReconciler(ReconcilerOptions{Interval: time.Hour, Now: clock.Now})
	defer r.Stop()

	r.Start(base.Add(10*time.Minute), nil, nil)
	assert.Equal(t, 10*time.Minute, r.Remaining())

	// No ticks ran, yet remaining reflects the clock, never a decrement.
	clock.Advance(9 * time.Minute)
	assert.Equal(t, time.Minute, r.Remaining())

	clock.Advance(2 * time.Minute)
	assert.Equal(t, time.Duration(0), r.Remaining())
}

func TestReconciler_TickCrossesWarningThreshold(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := newTestClock(base)

	r := NewReconciler(ReconcilerOptions{
		WarnThreshold: time.Minute,
		Interval:      5 * time.Millisecond,
		Now:           clock.Now,
	})
	defer r.Stop()

	var warns int32
	r.Start(base.Add(2*time.Minute), func(time.Duration) { atomic.AddInt32(&warns, 1) }, nil)
	require.EqualValues(t, 0, atomic.LoadInt32(&warns))

	clock.Advance(90 * time.Second)
	assert.Eventually(t, func() bool {
		return atomic.LoadInt32(&warns) == 1
	}, 2*time.Second, 5*time.Millisecond)
}

func TestReconciler_StopPreventsCallbacks(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := newTestClock(base)

	r := NewReconciler(ReconcilerOptions{Interval: time.Hour, Now: clock.Now})

	var expires int32
	r.Start(base.Add(time.Minute), nil, func() { atomic.AddInt32(&expires, 1) })

	r.Stop()
	r.Stop()

	clock.Advance(2 * time.Minute)
	r.Resync()
	assert.EqualValues(t, 0, atomic.LoadInt32(&expires))
}

func TestReconciler_RestartResetsOnceFlags(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := newTestClock(base)

	r := NewReconciler(ReconcilerOptions{
		WarnThreshold: time.Minute,
		Interval:      time.Hour,
		Now:           clock.Now,
	})
	defer r.Stop()

	var warns int32
	warn := func(time.Duration) { atomic.AddInt32(&warns, 1) }

	r.Start(base.Add(30*time.Second), warn, nil)
	require.EqualValues(t, 1, atomic.LoadInt32(&warns))

	// A fresh attempt gets a fresh warning.
	r.Start(base.Add(45*time.Second), warn, nil)
	assert.EqualValues(t, 2, atomic.LoadInt32(&warns))
}
