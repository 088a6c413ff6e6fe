// Package paycoord coordinates a single payment attempt per booking across
// tabs, browsers, and devices: lease acquisition and renewal against the
// remote lease service (with a same-process fallback), a wall-clock expiry
// countdown that survives timer throttling, and the payment session state
// machine the UI observes.
package paycoord

import "context"

// AcquireDecision is a backend's answer to an acquire attempt. A denial is
// not an error; transport failures are returned as errors so the coordinator
// can fall through to the next backend.
type AcquireDecision struct {
	Granted           bool
	Reason            string
	HolderDescription string
}

// HoldStatus is a backend's answer to a check.
type HoldStatus struct {
	Held        bool
	OwnedBySelf bool
	Reason      string
}

// LockBackend is one rung of the coordinator's priority-ordered backend
// list. The remote lease service is authoritative; the local store covers
// only tabs of one process and is consulted when the remote is unreachable.
type LockBackend interface {
	Name() string
	Acquire(ctx context.Context, resourceID, holderID string) (*AcquireDecision, error)
	// Heartbeat renews the hold. stillHeld=false with nil error is a
	// definitive loss; an error means the answer is unknown.
	Heartbeat(ctx context.Context, resourceID, holderID string) (bool, error)
	Release(ctx context.Context, resourceID, holderID string) error
	Check(ctx context.Context, resourceID, holderID string) (*HoldStatus, error)
}
