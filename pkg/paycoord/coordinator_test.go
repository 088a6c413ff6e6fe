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

// scriptedRemote is a LockBackend whose answers tests swap at runtime.
// Defaults: grant, still held, release acked, nothing held.
type scriptedRemote struct {
	mu          sync.Mutex
	acquireFn   func() (*AcquireDecision, error)
	heartbeatFn func() (bool, error)
	checkFn     func() (*HoldStatus, error)
	releases    int
}

func (r *scriptedRemote) Name() string { return "remote" }

func (r *scriptedRemote) Acquire(_ context.Context, _, _ string) (*AcquireDecision, error) {
	r.mu.Lock()
	fn := r.acquireFn
	r.mu.Unlock()
	if fn == nil {
		return &AcquireDecision{Granted: true}, nil
	}
	return fn()
}

func (r *scriptedRemote) Heartbeat(_ context.Context, _, _ string) (bool, error) {
	r.mu.Lock()
	fn := r.heartbeatFn
	r.mu.Unlock()
	if fn == nil {
		return true, nil
	}
	return fn()
}

func (r *scriptedRemote) Release(_ context.Context, _, _ string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.releases++
	return nil
}

func (r *scriptedRemote) Check(_ context.Context, _, _ string) (*HoldStatus, error) {
	r.mu.Lock()
	fn := r.checkFn
	r.mu.Unlock()
	if fn == nil {
		return &HoldStatus{}, nil
	}
	return fn()
}

func (r *scriptedRemote) setAcquire(fn func() (*AcquireDecision, error)) {
	r.mu.Lock()
	r.acquireFn = fn
	r.mu.Unlock()
}

func (r *scriptedRemote) setHeartbeat(fn func() (bool, error)) {
	r.mu.Lock()
	r.heartbeatFn = fn
	r.mu.Unlock()
}

func (r *scriptedRemote) releaseCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.releases
}

func newTestCoordinator(t *testing.T, remote *scriptedRemote, opts CoordinatorOptions) (*Coordinator, *LocalLeaseStore, *Broadcaster) {
	t.Helper()
	store := NewLocalLeaseStore(5 * time.Second)
	bus := NewBroadcaster()
	if opts.HolderID == "" {
		opts.HolderID = "tab-a"
	}
	if opts.RemoteHeartbeat == 0 {
		opts.RemoteHeartbeat = time.Hour // loops idle unless a test wants them
	}
	if opts.LocalHeartbeat == 0 {
		opts.LocalHeartbeat = time.Hour
	}
	c := NewCoordinator("booking-1", remote, NewLocalBackend(store), bus, opts)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = c.Release(ctx)
	})
	return c, store, bus
}

func TestAcquire_RemoteGrant(t *testing.T) {
	remote := &scriptedRemote{}
	c, store, _ := newTestCoordinator(t, remote, CoordinatorOptions{})

	decision, err := c.Acquire(context.Background())
	require.NoError(t, err)
	assert.True(t, decision.Granted)
	assert.True(t, c.Held())
	assert.Equal(t, "tab-a", store.Holder("booking-1"))
}

func TestAcquire_RemoteConflictDoesNotFallBack(t *testing.T) {
	remote := &scriptedRemote{}
	remote.setAcquire(func() (*AcquireDecision, error) {
		return &AcquireDecision{
			Granted:           false,
			Reason:            "held by another holder",
			HolderDescription: "held by tab-b until soon",
		}, nil
	})
	c, store, _ := newTestCoordinator(t, remote, CoordinatorOptions{})

	decision, err := c.Acquire(context.Background())
	require.NoError(t, err)
	assert.False(t, decision.Granted)
	assert.Contains(t, decision.HolderDescription, "tab-b")
	assert.False(t, c.Held())

	// A cross-device denial must not be shopped to the weaker store.
	assert.Empty(t, store.Holder("booking-1"))
}

func TestAcquire_RemoteErrorFallsBackToLocal(t *testing.T) {
	remote := &scriptedRemote{}
	remote.setAcquire(func() (*AcquireDecision, error) {
		return nil, errors.New("connection refused")
	})
	c, store, _ := newTestCoordinator(t, remote, CoordinatorOptions{})

	decision, err := c.Acquire(context.Background())
	require.NoError(t, err)
	assert.True(t, decision.Granted)
	assert.True(t, c.Held())
	assert.Equal(t, "tab-a", store.Holder("booking-1"))
}

func TestAcquire_LocalFallbackRespectsSiblingTab(t *testing.T) {
	remote := &scriptedRemote{}
	remote.setAcquire(func() (*AcquireDecision, error) {
		return nil, errors.New("connection refused")
	})
	c, store, _ := newTestCoordinator(t, remote, CoordinatorOptions{})

	ok, _ := store.TakeIfFree("booking-1", "tab-b")
	require.True(t, ok)

	decision, err := c.Acquire(context.Background())
	require.NoError(t, err)
	assert.False(t, decision.Granted)
	assert.False(t, c.Held())
	assert.Equal(t, "tab-b", store.Holder("booking-1"))
}

func TestAcquire_LocalFallbackReclaimsStaleRecord(t *testing.T) {
	remote := &scriptedRemote{}
	remote.setAcquire(func() (*AcquireDecision, error) {
		return nil, errors.New("connection refused")
	})
	c, store, _ := newTestCoordinator(t, remote, CoordinatorOptions{})

	base := time.Now()
	now := base
	var mu sync.Mutex
	store.SetClock(func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	})

	ok, _ := store.TakeIfFree("booking-1", "tab-b")
	require.True(t, ok)

	// A crashed tab stops heartbeating; past the staleness threshold its
	// record is up for grabs.
	mu.Lock()
	now = base.Add(6 * time.Second)
	mu.Unlock()

	decision, err := c.Acquire(context.Background())
	require.NoError(t, err)
	assert.True(t, decision.Granted)
	assert.Equal(t, "tab-a", store.Holder("booking-1"))
}

func TestHeartbeat_ExplicitLossSelfEvicts(t *testing.T) {
	remote := &scriptedRemote{}
	lost := make(chan string, 1)
	c, store, _ := newTestCoordinator(t, remote, CoordinatorOptions{
		RemoteHeartbeat: 10 * time.Millisecond,
		OnLost:          func(reason string) { lost <- reason },
	})

	_, err := c.Acquire(context.Background())
	require.NoError(t, err)

	remote.setHeartbeat(func() (bool, error) { return false, nil })

	select {
	case reason := <-lost:
		assert.Contains(t, reason, "no longer held")
	case <-time.After(2 * time.Second):
		t.Fatal("expected self-eviction after explicit not-held answer")
	}
	assert.False(t, c.Held())
	assert.Empty(t, store.Holder("booking-1"))
}

func TestHeartbeat_TransientErrorsTolerated(t *testing.T) {
	remote := &scriptedRemote{}
	var mu sync.Mutex
	failures := 0
	remote.setHeartbeat(func() (bool, error) {
		mu.Lock()
		defer mu.Unlock()
		if failures < 2 {
			failures++
			return false, errors.New("timeout")
		}
		return true, nil
	})

	lost := make(chan string, 1)
	c, _, _ := newTestCoordinator(t, remote, CoordinatorOptions{
		RemoteHeartbeat:    10 * time.Millisecond,
		MaxHeartbeatMisses: 3,
		OnLost:             func(reason string) { lost <- reason },
	})

	_, err := c.Acquire(context.Background())
	require.NoError(t, err)

	// Two misses then recovery: well under the threshold, nothing escalates.
	time.Sleep(150 * time.Millisecond)
	select {
	case reason := <-lost:
		t.Fatalf("transient failures escalated: %s", reason)
	default:
	}
	assert.True(t, c.Held())
}

func TestHeartbeat_PersistentErrorsEscalate(t *testing.T) {
	remote := &scriptedRemote{}
	remote.setHeartbeat(func() (bool, error) { return false, errors.New("timeout") })

	lost := make(chan string, 1)
	c, _, _ := newTestCoordinator(t, remote, CoordinatorOptions{
		RemoteHeartbeat:    10 * time.Millisecond,
		MaxHeartbeatMisses: 3,
		OnLost:             func(reason string) { lost <- reason },
	})

	_, err := c.Acquire(context.Background())
	require.NoError(t, err)

	select {
	case reason := <-lost:
		assert.Contains(t, reason, "failing")
	case <-time.After(2 * time.Second):
		t.Fatal("expected escalation after persistent heartbeat failures")
	}
	assert.False(t, c.Held())
}

func TestDegraded_UpgradesWhenRemoteRecovers(t *testing.T) {
	remote := &scriptedRemote{}
	remote.setAcquire(func() (*AcquireDecision, error) {
		return nil, errors.New("connection refused")
	})
	c, _, _ := newTestCoordinator(t, remote, CoordinatorOptions{
		RemoteHeartbeat:    10 * time.Millisecond,
		MaxHeartbeatMisses: 1000,
	})

	_, err := c.Acquire(context.Background())
	require.NoError(t, err)
	require.True(t, c.isDegraded())

	remote.setAcquire(func() (*AcquireDecision, error) {
		return &AcquireDecision{Granted: true}, nil
	})

	assert.Eventually(t, func() bool {
		return c.Held() && !c.isDegraded()
	}, 2*time.Second, 10*time.Millisecond)
}

func TestDegraded_RemoteConflictForcesRelease(t *testing.T) {
	remote := &scriptedRemote{}
	remote.setAcquire(func() (*AcquireDecision, error) {
		return nil, errors.New("connection refused")
	})

	lost := make(chan string, 1)
	c, _, _ := newTestCoordinator(t, remote, CoordinatorOptions{
		RemoteHeartbeat:    10 * time.Millisecond,
		MaxHeartbeatMisses: 1000,
		OnLost:             func(reason string) { lost <- reason },
	})

	_, err := c.Acquire(context.Background())
	require.NoError(t, err)

	// The service comes back and reports a different device already won.
	remote.setAcquire(func() (*AcquireDecision, error) {
		return &AcquireDecision{Granted: false, Reason: "held by another holder"}, nil
	})

	select {
	case reason := <-lost:
		assert.Contains(t, reason, "another device")
	case <-time.After(2 * time.Second):
		t.Fatal("expected forced release after degraded-mode conflict")
	}
	assert.False(t, c.Held())
}

func TestLocalHeartbeat_LostRecordSelfEvicts(t *testing.T) {
	remote := &scriptedRemote{}
	lost := make(chan string, 1)
	c, store, _ := newTestCoordinator(t, remote, CoordinatorOptions{
		LocalHeartbeat: 10 * time.Millisecond,
		OnLost:         func(reason string) { lost <- reason },
	})

	_, err := c.Acquire(context.Background())
	require.NoError(t, err)

	// Another tab wins the remote lease and overwrites the shared record.
	store.Take("booking-1", "tab-b")

	select {
	case reason := <-lost:
		assert.Contains(t, reason, "another tab")
	case <-time.After(2 * time.Second):
		t.Fatal("expected self-eviction after losing the local record")
	}
	assert.False(t, c.Held())
}

func TestRelease_Idempotent(t *testing.T) {
	remote := &scriptedRemote{}
	c, store, _ := newTestCoordinator(t, remote, CoordinatorOptions{})

	_, err := c.Acquire(context.Background())
	require.NoError(t, err)

	require.NoError(t, c.Release(context.Background()))
	require.NoError(t, c.Release(context.Background()))

	assert.Equal(t, 1, remote.releaseCount())
	assert.False(t, c.Held())
	assert.Empty(t, store.Holder("booking-1"))
}

func TestLost_StaleGenerationLeavesNewAcquisitionAlone(t *testing.T) {
	remote := &scriptedRemote{}
	lost := make(chan string, 1)
	c, store, _ := newTestCoordinator(t, remote, CoordinatorOptions{
		OnLost: func(reason string) { lost <- reason },
	})

	_, err := c.Acquire(context.Background())
	require.NoError(t, err)
	c.mu.Lock()
	firstGen := c.generation
	c.mu.Unlock()

	require.NoError(t, c.Release(context.Background()))
	_, err = c.Acquire(context.Background())
	require.NoError(t, err)

	// A heartbeat verdict from the released acquisition lands late. It must
	// not tear down the new one.
	c.lost(firstGen, "lease no longer held")

	assert.True(t, c.Held())
	assert.Equal(t, "tab-a", store.Holder("booking-1"))
	assert.Equal(t, 1, remote.releaseCount())
	select {
	case reason := <-lost:
		t.Fatalf("stale loss escalated: %s", reason)
	default:
	}
}

func TestRelease_NotifiesSiblings(t *testing.T) {
	remote := &scriptedRemote{}
	c, _, bus := newTestCoordinator(t, remote, CoordinatorOptions{})

	ch, cancel := bus.Subscribe("booking-1")
	defer cancel()

	_, err := c.Acquire(context.Background())
	require.NoError(t, err)
	require.NoError(t, c.Release(context.Background()))

	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("expected release broadcast to sibling subscribers")
	}
}

func TestIsHeldElsewhere(t *testing.T) {
	remote := &scriptedRemote{}
	remote.checkFn = func() (*HoldStatus, error) {
		return &HoldStatus{Held: true, Reason: "held by another holder"}, nil
	}
	c, _, _ := newTestCoordinator(t, remote, CoordinatorOptions{})

	held, reason, err := c.IsHeldElsewhere(context.Background())
	require.NoError(t, err)
	assert.True(t, held)
	assert.Equal(t, "held by another holder", reason)
}

func TestIsHeldElsewhere_FallsBackToLocal(t *testing.T) {
	remote := &scriptedRemote{}
	remote.checkFn = func() (*HoldStatus, error) { return nil, errors.New("connection refused") }
	c, store, _ := newTestCoordinator(t, remote, CoordinatorOptions{})

	ok, _ := store.TakeIfFree("booking-1", "tab-b")
	require.True(t, ok)

	held, reason, err := c.IsHeldElsewhere(context.Background())
	require.NoError(t, err)
	assert.True(t, held)
	assert.Contains(t, reason, "another tab")
}
