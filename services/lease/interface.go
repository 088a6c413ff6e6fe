package lease

import (
	"context"
	"time"

	"rentora/models"
)

// LeaseService is the authoritative coordination point for payment locks:
// at most one holder may have a non-expired lease per resource, platform-wide.
type LeaseService interface {
	Acquire(ctx context.Context, resourceID string, req models.LeaseAcquireRequest) (*models.LeaseAcquireResponse, error)
	Heartbeat(ctx context.Context, resourceID string, req models.LeaseHeartbeatRequest) (*models.LeaseHeartbeatResponse, error)
	Release(ctx context.Context, resourceID string, req models.LeaseReleaseRequest) (*models.LeaseReleaseResponse, error)
	Check(ctx context.Context, resourceID, holderID string) (*models.LeaseCheckResponse, error)
}

// LeaseStore is the storage backend for lease records. Implementations must
// make every conditional write atomic: two concurrent acquires for the same
// resource may never both observe "free" and both write.
type LeaseStore interface {
	// AcquireIfFree writes the lease iff no record exists, the existing
	// record is expired at now, or the existing record is held by
	// lease.HolderID (re-acquire refreshes). On conflict it returns the
	// current lease and granted=false.
	AcquireIfFree(ctx context.Context, lease models.Lease, now time.Time) (granted bool, current *models.Lease, err error)

	// RenewIfOwner bumps lastRenewedAt iff the record exists, is not
	// expired at now, and is held by holderID.
	RenewIfOwner(ctx context.Context, resourceID, holderID string, now time.Time) (renewed bool, err error)

	// ReleaseIfOwner deletes the record iff held by holderID. Releasing an
	// absent record is not an error.
	ReleaseIfOwner(ctx context.Context, resourceID, holderID string) (released bool, err error)

	// Get returns the current record, or nil when absent.
	Get(ctx context.Context, resourceID string) (*models.Lease, error)
}
