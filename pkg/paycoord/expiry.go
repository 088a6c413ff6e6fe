package paycoord

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ExpirySource carries the candidate deadlines for one payment attempt.
// Fields left at the zero value are skipped by the resolver.
type ExpirySource struct {
	// LockExpiryTime is the booking hold's deadline, the authoritative
	// server-side truth when present.
	LockExpiryTime time.Time
	// SessionExpiresAt is the payment session's own deadline.
	SessionExpiresAt time.Time
	// CreatedAt anchors the fallback window when neither deadline is known.
	CreatedAt time.Time
}

// ResolveExpiresAt picks the effective deadline by rank: the booking hold's
// lock expiry wins, then the session's own deadline, then createdAt plus the
// default window. The zero time means no source was usable at all.
func ResolveExpiresAt(src ExpirySource, window time.Duration) time.Time {
	switch {
	case !src.LockExpiryTime.IsZero():
		return src.LockExpiryTime
	case !src.SessionExpiresAt.IsZero():
		return src.SessionExpiresAt
	case !src.CreatedAt.IsZero():
		return src.CreatedAt.Add(window)
	}
	return time.Time{}
}

// Reconciler drives the payment countdown off the wall clock. Remaining time
// is always recomputed as expiresAt minus now, never decremented, so a
// process suspended for minutes (a laptop lid close, a throttled background
// tab) lands on the truth at its first tick instead of drifting. The warning
// and expiry callbacks each fire at most once per Start.
type Reconciler struct {
	warnThreshold time.Duration
	interval      time.Duration
	now           func() time.Time
	logger        *zap.Logger

	mu        sync.Mutex
	expiresAt time.Time
	onWarning func(remaining time.Duration)
	onExpire  func()
	warned    bool
	expired   bool
	running   bool
	cancel    context.CancelFunc
	resync    chan struct{}
}

// ReconcilerOptions tunes a Reconciler. Zero values fall back to defaults.
type ReconcilerOptions struct {
	// WarnThreshold is how much remaining time triggers the warning.
	WarnThreshold time.Duration
	// Interval is the recomputation cadence.
	Interval time.Duration
	// Now injects the clock; tests use it to jump time.
	Now    func() time.Time
	Logger *zap.Logger
}

func NewReconciler(opts ReconcilerOptions) *Reconciler {
	if opts.WarnThreshold <= 0 {
		opts.WarnThreshold = time.Minute
	}
	if opts.Interval <= 0 {
		opts.Interval = time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Reconciler{
		warnThreshold: opts.WarnThreshold,
		interval:      opts.Interval,
		now:           opts.Now,
		logger:        opts.Logger,
	}
}

// Start begins the countdown toward expiresAt. Callbacks run outside the
// reconciler's lock; onWarning may fire immediately when the session starts
// already inside the warning window, and onExpire may fire immediately when
// it starts already past the deadline. Calling Start on a running reconciler
// restarts it with fresh once-flags.
func (r *Reconciler) Start(expiresAt time.Time, onWarning func(remaining time.Duration), onExpire func()) {
	r.Stop()

	ctx, cancel := context.WithCancel(context.Background())

	r.mu.Lock()
	r.expiresAt = expiresAt
	r.onWarning = onWarning
	r.onExpire = onExpire
	r.warned = false
	r.expired = false
	r.running = true
	r.cancel = cancel
	r.resync = make(chan struct{}, 1)
	resync := r.resync
	r.mu.Unlock()

	// Evaluate once up front: a reload into an old session must not wait a
	// full tick to learn it already expired.
	r.evaluate()

	go r.loop(ctx, resync)
}

func (r *Reconciler) loop(ctx context.Context, resync <-chan struct{}) {
	t := time.NewTicker(r.interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			r.evaluate()
		case <-resync:
			r.evaluate()
		}
	}
}

// Remaining reports the current time left, floored at zero.
func (r *Reconciler) Remaining() time.Duration {
	r.mu.Lock()
	expiresAt := r.expiresAt
	r.mu.Unlock()

	remaining := expiresAt.Sub(r.now())
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Resync forces an immediate recomputation, synchronously. Callers hook it
// to visibility or focus changes so a tab waking from throttling shows the
// truth at once; if the deadline passed while asleep, onExpire fires before
// Resync returns rather than at the next tick.
func (r *Reconciler) Resync() {
	r.mu.Lock()
	running := r.running
	r.mu.Unlock()
	if !running {
		return
	}
	r.evaluate()
}

// evaluate recomputes remaining from the wall clock and fires whichever
// callback is due. The once-flags are settled under the lock; the callbacks
// run outside it.
func (r *Reconciler) evaluate() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	remaining := r.expiresAt.Sub(r.now())

	var fireWarn func(time.Duration)
	var fireExpire func()

	if remaining <= 0 && !r.expired {
		r.expired = true
		r.running = false
		fireExpire = r.onExpire
		if r.cancel != nil {
			r.cancel()
			r.cancel = nil
		}
	} else if remaining > 0 && remaining <= r.warnThreshold && !r.warned {
		r.warned = true
		fireWarn = r.onWarning
	}
	r.mu.Unlock()

	if fireWarn != nil {
		r.logger.Info("payment window closing", zap.Duration("remaining", remaining))
		fireWarn(remaining)
	}
	if fireExpire != nil {
		r.logger.Info("payment window expired")
		fireExpire()
	}
}

// Stop halts the countdown without firing anything. Idempotent.
func (r *Reconciler) Stop() {
	r.mu.Lock()
	r.running = false
	cancel := r.cancel
	r.cancel = nil
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}
