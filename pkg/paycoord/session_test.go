package paycoord

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedPayments is a PaymentBackend whose answers tests swap at runtime.
type scriptedPayments struct {
	mu        sync.Mutex
	openFn    func() (*SessionInfo, error)
	cancelled []string
}

func (p *scriptedPayments) Open(_ context.Context, _, _ string) (*SessionInfo, error) {
	p.mu.Lock()
	fn := p.openFn
	p.mu.Unlock()
	if fn == nil {
		return &SessionInfo{
			PaymentID: "pay-1",
			ExpiresAt: time.Now().Add(10 * time.Minute),
		}, nil
	}
	return fn()
}

func (p *scriptedPayments) Cancel(_ context.Context, paymentID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cancelled = append(p.cancelled, paymentID)
	return nil
}

func (p *scriptedPayments) cancelledIDs() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.cancelled...)
}

type stateLog struct {
	mu     sync.Mutex
	states []SessionState
}

func (l *stateLog) record(state SessionState, _ string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.states = append(l.states, state)
}

func (l *stateLog) all() []SessionState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]SessionState(nil), l.states...)
}

func newTestSession(t *testing.T, remote *scriptedRemote, payments *scriptedPayments, opts SessionOptions) (*PaymentSession, *stateLog) {
	t.Helper()
	log := &stateLog{}
	prev := opts.OnStateChange
	opts.OnStateChange = func(state SessionState, reason string) {
		log.record(state, reason)
		if prev != nil {
			prev(state, reason)
		}
	}
	if opts.Coordinator.HolderID == "" {
		opts.Coordinator.HolderID = "tab-a"
	}
	if opts.Coordinator.RemoteHeartbeat == 0 {
		opts.Coordinator.RemoteHeartbeat = time.Hour
	}
	if opts.Coordinator.LocalHeartbeat == 0 {
		opts.Coordinator.LocalHeartbeat = time.Hour
	}
	if opts.Reconciler.Interval == 0 {
		opts.Reconciler.Interval = time.Hour
	}

	store := NewLocalLeaseStore(5 * time.Second)
	s := NewPaymentSession("booking-1", remote, NewLocalBackend(store), NewBroadcaster(), payments, opts)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = s.Close(ctx)
	})
	return s, log
}

func TestOpen_HappyPath(t *testing.T) {
	remote := &scriptedRemote{}
	payments := &scriptedPayments{}
	s, log := newTestSession(t, remote, payments, SessionOptions{})

	info, denial, err := s.Open(context.Background())
	require.NoError(t, err)
	require.Nil(t, denial)
	require.NotNil(t, info)

	assert.Equal(t, "pay-1", info.PaymentID)
	assert.Equal(t, StateActive, s.State())
	assert.Equal(t, []SessionState{StateAcquiring, StateActive}, log.all())
	assert.True(t, s.Coordinator().Held())
}

func TestOpen_DeniedReturnsToIdle(t *testing.T) {
	remote := &scriptedRemote{}
	remote.setAcquire(func() (*AcquireDecision, error) {
		return &AcquireDecision{Granted: false, HolderDescription: "held by tab-b"}, nil
	})
	payments := &scriptedPayments{}
	s, _ := newTestSession(t, remote, payments, SessionOptions{})

	info, denial, err := s.Open(context.Background())
	require.NoError(t, err)
	assert.Nil(t, info)
	require.NotNil(t, denial)
	assert.Contains(t, denial.HolderDescription, "tab-b")
	assert.Equal(t, StateIdle, s.State())

	// The UI can retry once the other holder finishes.
	remote.setAcquire(nil)
	info, denial, err = s.Open(context.Background())
	require.NoError(t, err)
	require.Nil(t, denial)
	assert.Equal(t, StateActive, s.State())
	assert.NotNil(t, info)
}

func TestOpen_BackendErrorReleasesLock(t *testing.T) {
	remote := &scriptedRemote{}
	payments := &scriptedPayments{}
	payments.openFn = func() (*SessionInfo, error) { return nil, errors.New("service unavailable") }
	s, _ := newTestSession(t, remote, payments, SessionOptions{})

	_, _, err := s.Open(context.Background())
	require.Error(t, err)
	assert.Equal(t, StateIdle, s.State())

	// The booking must not stay wedged behind a lock with no session.
	assert.False(t, s.Coordinator().Held())
	assert.Equal(t, 1, remote.releaseCount())
}

func TestOpen_ReusedSessionSurfaces(t *testing.T) {
	remote := &scriptedRemote{}
	payments := &scriptedPayments{}
	payments.openFn = func() (*SessionInfo, error) {
		return &SessionInfo{
			PaymentID: "pay-1",
			ExpiresAt: time.Now().Add(4 * time.Minute),
			Reused:    true,
		}, nil
	}
	s, _ := newTestSession(t, remote, payments, SessionOptions{})

	info, _, err := s.Open(context.Background())
	require.NoError(t, err)
	assert.True(t, info.Reused)
	assert.Equal(t, StateActive, s.State())
}

func TestOpen_WhileActiveIsStateError(t *testing.T) {
	remote := &scriptedRemote{}
	payments := &scriptedPayments{}
	s, _ := newTestSession(t, remote, payments, SessionOptions{})

	_, _, err := s.Open(context.Background())
	require.NoError(t, err)

	_, _, err = s.Open(context.Background())
	var stateErr *StateError
	require.ErrorAs(t, err, &stateErr)
	assert.Equal(t, StateActive, stateErr.State)
}

func TestGatewayResult_SuccessCompletes(t *testing.T) {
	remote := &scriptedRemote{}
	payments := &scriptedPayments{}
	s, _ := newTestSession(t, remote, payments, SessionOptions{})

	_, _, err := s.Open(context.Background())
	require.NoError(t, err)

	require.NoError(t, s.HandleGatewayResult(context.Background(), OutcomeSuccess))
	assert.Equal(t, StateCompleted, s.State())
	assert.False(t, s.Coordinator().Held())
	assert.Empty(t, payments.cancelledIDs())
}

func TestGatewayResult_FailureReleasesForRetry(t *testing.T) {
	remote := &scriptedRemote{}
	payments := &scriptedPayments{}
	s, _ := newTestSession(t, remote, payments, SessionOptions{})

	_, _, err := s.Open(context.Background())
	require.NoError(t, err)

	require.NoError(t, s.HandleGatewayResult(context.Background(), OutcomeFailure))
	assert.Equal(t, StateFailed, s.State())
	assert.False(t, s.Coordinator().Held())
}

func TestGatewayResult_BeforeOpenIsStateError(t *testing.T) {
	remote := &scriptedRemote{}
	payments := &scriptedPayments{}
	s, _ := newTestSession(t, remote, payments, SessionOptions{})

	err := s.HandleGatewayResult(context.Background(), OutcomeSuccess)
	var stateErr *StateError
	require.ErrorAs(t, err, &stateErr)
	assert.Equal(t, StateIdle, stateErr.State)
}

func TestClose_CancelsServerSession(t *testing.T) {
	remote := &scriptedRemote{}
	payments := &scriptedPayments{}
	s, _ := newTestSession(t, remote, payments, SessionOptions{})

	_, _, err := s.Open(context.Background())
	require.NoError(t, err)

	require.NoError(t, s.Close(context.Background()))
	assert.Equal(t, StateCancelled, s.State())
	assert.Equal(t, []string{"pay-1"}, payments.cancelledIDs())
	assert.False(t, s.Coordinator().Held())
}

func TestClose_AfterCompletionIsNoop(t *testing.T) {
	remote := &scriptedRemote{}
	payments := &scriptedPayments{}
	s, _ := newTestSession(t, remote, payments, SessionOptions{})

	_, _, err := s.Open(context.Background())
	require.NoError(t, err)
	require.NoError(t, s.HandleGatewayResult(context.Background(), OutcomeSuccess))

	require.NoError(t, s.Close(context.Background()))
	assert.Equal(t, StateCompleted, s.State())
	assert.Empty(t, payments.cancelledIDs())
}

func TestClose_TerminalStillReleasesHeldLock(t *testing.T) {
	remote := &scriptedRemote{}
	payments := &scriptedPayments{}
	s, _ := newTestSession(t, remote, payments, SessionOptions{})

	_, _, err := s.Open(context.Background())
	require.NoError(t, err)
	require.NoError(t, s.HandleGatewayResult(context.Background(), OutcomeSuccess))

	// The lock was taken back out of band after completion; the final Close
	// must still let go of it.
	_, err = s.Coordinator().Acquire(context.Background())
	require.NoError(t, err)
	require.True(t, s.Coordinator().Held())

	require.NoError(t, s.Close(context.Background()))
	assert.Equal(t, StateCompleted, s.State())
	assert.False(t, s.Coordinator().Held())
	assert.Empty(t, payments.cancelledIDs())
}

func TestExpiry_DiscardsAttempt(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := newTestClock(base)

	remote := &scriptedRemote{}
	payments := &scriptedPayments{}
	payments.openFn = func() (*SessionInfo, error) {
		return &SessionInfo{PaymentID: "pay-1", ExpiresAt: base.Add(10 * time.Minute)}, nil
	}
	s, _ := newTestSession(t, remote, payments, SessionOptions{
		Reconciler: ReconcilerOptions{Interval: time.Hour, Now: clock.Now},
	})

	_, _, err := s.Open(context.Background())
	require.NoError(t, err)
	require.Equal(t, StateActive, s.State())

	// Suspended past the deadline; the wake-up Resync settles everything
	// before it returns.
	clock.Advance(11 * time.Minute)
	s.Resync()

	assert.Equal(t, StateExpired, s.State())
	assert.Equal(t, []string{"pay-1"}, payments.cancelledIDs())
	assert.False(t, s.Coordinator().Held())
}

func TestExpiry_WarningSurfaces(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := newTestClock(base)

	remote := &scriptedRemote{}
	payments := &scriptedPayments{}
	payments.openFn = func() (*SessionInfo, error) {
		return &SessionInfo{PaymentID: "pay-1", ExpiresAt: base.Add(10 * time.Minute)}, nil
	}

	var warned time.Duration
	var mu sync.Mutex
	s, _ := newTestSession(t, remote, payments, SessionOptions{
		Reconciler: ReconcilerOptions{
			WarnThreshold: time.Minute,
			Interval:      time.Hour,
			Now:           clock.Now,
		},
		OnExpiryWarning: func(remaining time.Duration) {
			mu.Lock()
			warned = remaining
			mu.Unlock()
		},
	})

	_, _, err := s.Open(context.Background())
	require.NoError(t, err)

	clock.Advance(9*time.Minute + 30*time.Second)
	s.Resync()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 30*time.Second, warned)
	assert.Equal(t, StateActive, s.State())
}

func TestLeaseLost_CancelsLocallyOnly(t *testing.T) {
	remote := &scriptedRemote{}
	payments := &scriptedPayments{}

	lost := make(chan SessionState, 4)
	s, _ := newTestSession(t, remote, payments, SessionOptions{
		Coordinator: CoordinatorOptions{
			HolderID:        "tab-a",
			RemoteHeartbeat: 10 * time.Millisecond,
			LocalHeartbeat:  time.Hour,
		},
		OnStateChange: func(state SessionState, _ string) { lost <- state },
	})

	_, _, err := s.Open(context.Background())
	require.NoError(t, err)

	remote.setHeartbeat(func() (bool, error) { return false, nil })

	deadline := time.After(2 * time.Second)
	for {
		select {
		case state := <-lost:
			if state == StateCancelled {
				// The session the new holder may reuse stays untouched on
				// the server.
				assert.Empty(t, payments.cancelledIDs())
				return
			}
		case <-deadline:
			t.Fatal("expected cancellation after lease loss")
		}
	}
}
