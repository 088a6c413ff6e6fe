package paycoord

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// SessionState is the lifecycle position of one payment attempt as the UI
// sees it. Terminal states are absorbing.
type SessionState string

const (
	StateIdle      SessionState = "idle"
	StateAcquiring SessionState = "acquiring"
	StateActive    SessionState = "active"
	StateCompleted SessionState = "completed"
	StateFailed    SessionState = "failed"
	StateCancelled SessionState = "cancelled"
	StateExpired   SessionState = "expired"
)

// Terminal reports whether the state admits no further transitions.
func (s SessionState) Terminal() bool {
	switch s {
	case StateCompleted, StateFailed, StateCancelled, StateExpired:
		return true
	}
	return false
}

// SessionInfo is what the payment API hands back when a session opens.
type SessionInfo struct {
	PaymentID string
	ExpiresAt time.Time
	// Reused is true when the server returned an existing pending session
	// instead of minting a new one (a reload mid-payment).
	Reused bool
}

// PaymentBackend is the client side of the payment session API.
type PaymentBackend interface {
	Open(ctx context.Context, resourceID, holderID string) (*SessionInfo, error)
	Cancel(ctx context.Context, paymentID string) error
}

// GatewayOutcome is the result the payment gateway hands back for an attempt.
type GatewayOutcome string

const (
	OutcomeSuccess GatewayOutcome = "success"
	OutcomeFailure GatewayOutcome = "failure"
)

// SessionOptions tunes a PaymentSession. Zero values fall back to defaults.
type SessionOptions struct {
	Coordinator CoordinatorOptions
	Reconciler  ReconcilerOptions
	// OnStateChange observes every transition. Runs outside the session
	// lock; the reason is empty except for losses and expiry.
	OnStateChange func(state SessionState, reason string)
	// OnExpiryWarning fires once when the countdown crosses the warning
	// threshold.
	OnExpiryWarning func(remaining time.Duration)
	Logger          *zap.Logger
}

// PaymentSession ties the pieces of one payment attempt together: the lease
// coordinator that makes the attempt exclusive, the payment API that opens
// and cancels server-side sessions, and the reconciler that drives the
// countdown. One instance per booking per tab.
type PaymentSession struct {
	resourceID string
	coord      *Coordinator
	backend    PaymentBackend
	reconciler *Reconciler
	logger     *zap.Logger

	onStateChange   func(SessionState, string)
	onExpiryWarning func(time.Duration)

	mu    sync.Mutex
	state SessionState
	info  *SessionInfo
}

func NewPaymentSession(resourceID string, remote LockBackend, local *LocalBackend, bus *Broadcaster, backend PaymentBackend, opts SessionOptions) *PaymentSession {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Reconciler.Logger == nil {
		opts.Reconciler.Logger = opts.Logger
	}
	if opts.Coordinator.Logger == nil {
		opts.Coordinator.Logger = opts.Logger
	}

	s := &PaymentSession{
		resourceID:      resourceID,
		backend:         backend,
		reconciler:      NewReconciler(opts.Reconciler),
		logger:          opts.Logger,
		onStateChange:   opts.OnStateChange,
		onExpiryWarning: opts.OnExpiryWarning,
		state:           StateIdle,
	}
	opts.Coordinator.OnLost = s.onLeaseLost
	s.coord = NewCoordinator(resourceID, remote, local, bus, opts.Coordinator)
	return s
}

// State returns the current lifecycle position.
func (s *PaymentSession) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Info returns the open session's details, or nil before Open succeeds.
func (s *PaymentSession) Info() *SessionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.info
}

// Remaining returns the countdown's current value.
func (s *PaymentSession) Remaining() time.Duration {
	return s.reconciler.Remaining()
}

// Coordinator exposes the underlying lease coordinator, for callers that
// want IsHeldElsewhere or the holder identity.
func (s *PaymentSession) Coordinator() *Coordinator { return s.coord }

// Open runs the happy path: acquire the payment lock, open (or reuse) the
// server-side session, go Active, and start the countdown. A denial is not
// an error; it comes back in the second return so the UI can show who holds
// the lock. Any failure after a grant releases the lock so the booking is
// not wedged.
func (s *PaymentSession) Open(ctx context.Context) (*SessionInfo, *AcquireDecision, error) {
	s.mu.Lock()
	if s.state != StateIdle {
		st := s.state
		s.mu.Unlock()
		return nil, nil, &StateError{Op: "open", State: st}
	}
	s.mu.Unlock()
	s.transition(StateAcquiring, "")

	decision, err := s.coord.Acquire(ctx)
	if err != nil {
		s.transition(StateIdle, "")
		return nil, nil, err
	}
	if !decision.Granted {
		s.transition(StateIdle, "")
		return nil, decision, nil
	}

	info, err := s.backend.Open(ctx, s.resourceID, s.coord.HolderID())
	if err != nil {
		_ = s.coord.Release(ctx)
		s.transition(StateIdle, "")
		return nil, nil, err
	}

	s.mu.Lock()
	s.info = info
	s.mu.Unlock()
	s.transition(StateActive, "")

	s.reconciler.Start(info.ExpiresAt, s.warn, s.expire)

	s.logger.Info("payment session active",
		zap.String("resource", s.resourceID),
		zap.String("paymentID", info.PaymentID),
		zap.Bool("reused", info.Reused),
		zap.Time("expiresAt", info.ExpiresAt))
	return info, nil, nil
}

// HandleGatewayResult settles the attempt with the gateway's verdict. The
// countdown stops and the lock is released in either direction; a failed
// attempt starts over from Idle with a fresh Open.
func (s *PaymentSession) HandleGatewayResult(ctx context.Context, outcome GatewayOutcome) error {
	s.mu.Lock()
	if s.state != StateActive {
		st := s.state
		s.mu.Unlock()
		return &StateError{Op: "gateway result", State: st}
	}
	s.mu.Unlock()

	s.reconciler.Stop()
	_ = s.coord.Release(ctx)

	if outcome == OutcomeSuccess {
		s.transition(StateCompleted, "")
	} else {
		s.transition(StateFailed, "")
	}
	return nil
}

// Close abandons the attempt: countdown stopped first so no late expiry can
// fire, the server-side session cancelled best-effort, the lock released. A
// session already terminal closes to a no-op.
func (s *PaymentSession) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.state.Terminal() {
		s.mu.Unlock()
		// Every terminal entry path already released, but Close is the
		// teardown of last resort; release again in case a caller took the
		// lock back out of band. Release is idempotent.
		_ = s.coord.Release(ctx)
		return nil
	}
	info := s.info
	s.mu.Unlock()

	s.reconciler.Stop()

	if info != nil {
		if err := s.backend.Cancel(ctx, info.PaymentID); err != nil {
			s.logger.Warn("payment session cancel failed",
				zap.String("paymentID", info.PaymentID),
				zap.Error(err))
		}
	}
	_ = s.coord.Release(ctx)
	s.transition(StateCancelled, "closed")
	return nil
}

// Resync forces an immediate countdown recomputation. Callers hook it to
// visibility and focus changes.
func (s *PaymentSession) Resync() {
	s.reconciler.Resync()
}

func (s *PaymentSession) warn(remaining time.Duration) {
	if s.onExpiryWarning != nil {
		s.onExpiryWarning(remaining)
	}
}

// expire is the reconciler's deadline callback: the attempt is discarded,
// the server-side session cancelled best-effort, and the lock released so
// the booking frees up immediately instead of waiting out the lease TTL.
func (s *PaymentSession) expire() {
	s.mu.Lock()
	if s.state != StateActive {
		s.mu.Unlock()
		return
	}
	info := s.info
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if info != nil {
		if err := s.backend.Cancel(ctx, info.PaymentID); err != nil {
			s.logger.Warn("expired session cancel failed",
				zap.String("paymentID", info.PaymentID),
				zap.Error(err))
		}
	}
	_ = s.coord.Release(ctx)
	s.transition(StateExpired, "payment window elapsed")
}

// onLeaseLost is the coordinator's revocation callback. The countdown stops
// and the attempt ends, but the server-side session is left alone: the
// holder that took the lock may pick it up and reuse it.
func (s *PaymentSession) onLeaseLost(reason string) {
	s.mu.Lock()
	if s.state.Terminal() {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	s.reconciler.Stop()
	s.transition(StateCancelled, reason)
}

// transition records the new state and notifies, skipping moves out of a
// terminal state so racing callbacks cannot resurrect a settled attempt.
func (s *PaymentSession) transition(to SessionState, reason string) {
	s.mu.Lock()
	if s.state.Terminal() {
		s.mu.Unlock()
		return
	}
	from := s.state
	s.state = to
	s.mu.Unlock()

	if from == to {
		return
	}
	s.logger.Debug("session state change",
		zap.String("resource", s.resourceID),
		zap.String("from", string(from)),
		zap.String("to", string(to)))
	if s.onStateChange != nil {
		s.onStateChange(to, reason)
	}
}
