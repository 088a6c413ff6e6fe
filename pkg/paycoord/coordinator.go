package paycoord

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Coordinator guards one resource (one booking being paid for) for one
// holder (one tab). It tries the remote lease service first, degrades to the
// local store when the remote is unreachable, and keeps both holds alive
// with independent heartbeat loops. One instance per resource; timer handles
// are private and die with the acquisition they belong to.
type Coordinator struct {
	resourceID string
	holderID   string
	remote     LockBackend
	local      *LocalBackend
	bus        *Broadcaster
	logger     *zap.Logger

	remoteHB  time.Duration
	localHB   time.Duration
	maxMisses int
	onLost    func(reason string)

	mu         sync.Mutex
	held       bool
	degraded   bool // holding via local fallback only
	generation uint64
	cancelHB   context.CancelFunc
}

// CoordinatorOptions tunes a Coordinator. Zero values fall back to defaults.
type CoordinatorOptions struct {
	// HolderID identifies the tab; generated when empty. It must stay
	// stable for the coordinator's lifetime.
	HolderID string
	// RemoteHeartbeat should be well under the remote TTL (typically TTL/3).
	RemoteHeartbeat time.Duration
	// LocalHeartbeat should be under the local staleness threshold.
	LocalHeartbeat time.Duration
	// MaxHeartbeatMisses is how many consecutive transient heartbeat
	// failures are tolerated before they escalate to a lost lease.
	MaxHeartbeatMisses int
	// OnLost is invoked (once per acquisition) when the lease is lost to
	// revocation, reclamation, or persistent heartbeat failure. The lease
	// is already released when it fires.
	OnLost func(reason string)
	Logger *zap.Logger
}

func NewCoordinator(resourceID string, remote LockBackend, local *LocalBackend, bus *Broadcaster, opts CoordinatorOptions) *Coordinator {
	if opts.HolderID == "" {
		opts.HolderID = uuid.New().String()
	}
	if opts.RemoteHeartbeat <= 0 {
		opts.RemoteHeartbeat = 3 * time.Second
	}
	if opts.LocalHeartbeat <= 0 {
		opts.LocalHeartbeat = time.Second
	}
	if opts.MaxHeartbeatMisses <= 0 {
		opts.MaxHeartbeatMisses = 3
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Coordinator{
		resourceID: resourceID,
		holderID:   opts.HolderID,
		remote:     remote,
		local:      local,
		bus:        bus,
		logger:     opts.Logger,
		remoteHB:   opts.RemoteHeartbeat,
		localHB:    opts.LocalHeartbeat,
		maxMisses:  opts.MaxHeartbeatMisses,
		onLost:     opts.OnLost,
	}
}

// HolderID returns the coordinator's holder identity.
func (c *Coordinator) HolderID() string { return c.holderID }

// Held reports whether this coordinator currently believes it holds the lease.
func (c *Coordinator) Held() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.held
}

// Acquire attempts to take the payment lock. A conflict (either from the
// remote service or, degraded, from another tab's local record) comes back
// as Granted=false and is never retried automatically; the caller decides
// whether to prompt the user. On grant, both heartbeat loops start.
func (c *Coordinator) Acquire(ctx context.Context) (*AcquireDecision, error) {
	c.mu.Lock()
	if c.held {
		c.mu.Unlock()
		return &AcquireDecision{Granted: true}, nil
	}
	c.mu.Unlock()

	decision, err := c.remote.Acquire(ctx, c.resourceID, c.holderID)
	switch {
	case err == nil && !decision.Granted:
		// The remote service is the cross-device truth: a conflict is
		// final, no fallback.
		c.logger.Info("acquire denied by remote",
			zap.String("resource", c.resourceID),
			zap.String("holder", decision.HolderDescription))
		return decision, nil

	case err == nil:
		c.local.Store.Take(c.resourceID, c.holderID)
		c.grant(false)
		return decision, nil

	default:
		// Remote unreachable (a failure, not a conflict): degrade to the
		// same-browser store.
		c.logger.Warn("remote lease service unreachable, falling back to local store",
			zap.String("resource", c.resourceID),
			zap.Error(err))
	}

	decision, err = c.local.Acquire(ctx, c.resourceID, c.holderID)
	if err != nil {
		return nil, err
	}
	if !decision.Granted {
		return decision, nil
	}
	c.grant(true)
	return decision, nil
}

// grant flips the coordinator to held and starts the heartbeat loops for
// this acquisition's generation.
func (c *Coordinator) grant(degraded bool) {
	c.mu.Lock()
	c.held = true
	c.degraded = degraded
	c.generation++
	gen := c.generation
	hbCtx, cancel := context.WithCancel(context.Background())
	c.cancelHB = cancel
	c.mu.Unlock()

	go c.remoteLoop(hbCtx, gen)
	go c.localLoop(hbCtx, gen)
}

// current reports whether the given generation is still the live acquisition.
// A late timer callback from a released generation must act on nothing.
func (c *Coordinator) current(gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.held && c.generation == gen
}

func (c *Coordinator) isDegraded() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.degraded
}

// remoteLoop renews the remote lease on a fixed cadence. Only an explicit
// not-held answer (or a conflict while degraded) is a definitive loss; a
// transport error is transient and tolerated up to maxMisses consecutive
// times, so a flaky network cannot cause spurious self-eviction.
func (c *Coordinator) remoteLoop(ctx context.Context, gen uint64) {
	t := time.NewTicker(c.remoteHB)
	defer t.Stop()

	misses := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if !c.current(gen) {
				return
			}

			callCtx, cancel := context.WithTimeout(ctx, c.remoteHB)
			if c.isDegraded() {
				// The remote was unreachable at acquire time. Try to
				// upgrade the local hold to a remote lease now that it
				// may be back.
				decision, err := c.remote.Acquire(callCtx, c.resourceID, c.holderID)
				cancel()
				switch {
				case err != nil:
					misses++
				case !decision.Granted:
					// Someone else holds the cross-device truth.
					c.lost(gen, "payment lock taken on another device")
					return
				default:
					c.mu.Lock()
					if c.held && c.generation == gen {
						c.degraded = false
					}
					c.mu.Unlock()
					misses = 0
					c.logger.Info("local hold upgraded to remote lease",
						zap.String("resource", c.resourceID))
				}
				if misses >= c.maxMisses {
					c.lost(gen, "remote lease service unreachable")
					return
				}
				continue
			}

			still, err := c.remote.Heartbeat(callCtx, c.resourceID, c.holderID)
			cancel()
			if err != nil {
				misses++
				c.logger.Warn("lease heartbeat failed",
					zap.String("resource", c.resourceID),
					zap.Int("consecutive", misses),
					zap.Error(err))
				if misses >= c.maxMisses {
					c.lost(gen, "lease heartbeats kept failing")
					return
				}
				continue
			}
			misses = 0
			if !still {
				c.lost(gen, "lease no longer held")
				return
			}
		}
	}
}

// localLoop refreshes the same-browser record. Losing the record means
// another tab won a race for it and this holder must self-evict.
func (c *Coordinator) localLoop(ctx context.Context, gen uint64) {
	t := time.NewTicker(c.localHB)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if !c.current(gen) {
				return
			}
			if !c.local.Store.Refresh(c.resourceID, c.holderID) {
				c.lost(gen, "payment lock taken by another tab")
				return
			}
		}
	}
}

// lost handles the revocation path: force a full release, then tell the
// caller. It must fire even when the UI takes no further action, so a tab
// never keeps acting on a lease it lost. The release is bound to the
// generation the loss was observed on; a release-then-reacquire that slipped
// in between makes the whole thing a no-op instead of tearing down the new
// acquisition.
func (c *Coordinator) lost(gen uint64, reason string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if !c.releaseGeneration(ctx, gen) {
		return
	}
	c.logger.Warn("lease lost, self-evicting",
		zap.String("resource", c.resourceID),
		zap.String("reason", reason))

	if c.onLost != nil {
		c.onLost(reason)
	}
}

// Release drops the lease everywhere. Idempotent: both heartbeat loops are
// stopped, the remote release is best-effort (an unreleased remote lease
// self-heals via TTL), the local record is removed only if self-owned, and
// sibling tabs are notified so they can re-check.
func (c *Coordinator) Release(ctx context.Context) error {
	c.mu.Lock()
	if !c.held {
		c.mu.Unlock()
		return nil
	}
	gen := c.generation
	c.mu.Unlock()

	c.releaseGeneration(ctx, gen)
	return nil
}

// releaseGeneration tears down exactly the given acquisition. The held and
// generation checks share one critical section with the teardown, so a stale
// caller can never release a newer acquisition. Reports whether it released.
func (c *Coordinator) releaseGeneration(ctx context.Context, gen uint64) bool {
	c.mu.Lock()
	if !c.held || c.generation != gen {
		c.mu.Unlock()
		return false
	}
	c.held = false
	c.degraded = false
	c.generation++
	cancel := c.cancelHB
	c.cancelHB = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	if err := c.remote.Release(ctx, c.resourceID, c.holderID); err != nil {
		c.logger.Warn("remote lease release failed",
			zap.String("resource", c.resourceID),
			zap.Error(err))
	}
	c.local.Store.Drop(c.resourceID, c.holderID)
	c.bus.Publish(c.resourceID)

	c.logger.Debug("lease released", zap.String("resource", c.resourceID))
	return true
}

// IsHeldElsewhere reports whether a different holder has the resource. The
// remote answer is trusted when reachable; otherwise only the local store is
// consulted.
func (c *Coordinator) IsHeldElsewhere(ctx context.Context) (bool, string, error) {
	st, err := c.remote.Check(ctx, c.resourceID, c.holderID)
	if err == nil {
		return st.Held && !st.OwnedBySelf, st.Reason, nil
	}
	c.logger.Warn("remote lease check failed, using local store",
		zap.String("resource", c.resourceID),
		zap.Error(err))

	st, err = c.local.Check(ctx, c.resourceID, c.holderID)
	if err != nil {
		return false, "", err
	}
	return st.Held && !st.OwnedBySelf, st.Reason, nil
}
