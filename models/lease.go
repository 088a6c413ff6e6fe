package models

import "time"

// Lease is the authoritative record of an exclusive claim on a resource
// (one booking/appointment being paid for). At most one holder may have a
// non-expired lease per resource at any instant; the lease service enforces
// this with atomic conditional writes.
type Lease struct {
	ResourceID    string    `json:"resourceId"`
	HolderID      string    `json:"holderId"`
	AcquiredAt    time.Time `json:"acquiredAt"`
	LastRenewedAt time.Time `json:"lastRenewedAt"`
	TTLMS         int64     `json:"ttlMs"`
}

// ExpiresAt returns the instant after which the lease is reclaimable.
func (l Lease) ExpiresAt() time.Time {
	return l.LastRenewedAt.Add(time.Duration(l.TTLMS) * time.Millisecond)
}

// Expired reports whether the lease was abandoned (not renewed within TTL).
func (l Lease) Expired(now time.Time) bool {
	return now.After(l.ExpiresAt())
}

// --- Wire types for the lease API ---

type LeaseAcquireRequest struct {
	HolderID string `json:"holderId" binding:"required"`
	TTLMS    int64  `json:"ttlMs,omitempty"`
}

type LeaseAcquireResponse struct {
	Granted bool `json:"granted"`
	// Reason and HolderDescription are set on conflict so the UI can tell
	// the user where the resource is being paid for.
	Reason            string `json:"reason,omitempty"`
	HolderDescription string `json:"holderDescription,omitempty"`
	Lease             *Lease `json:"lease,omitempty"`
}

type LeaseHeartbeatRequest struct {
	HolderID string `json:"holderId" binding:"required"`
}

type LeaseHeartbeatResponse struct {
	StillHeld bool `json:"stillHeld"`
}

type LeaseReleaseRequest struct {
	HolderID string `json:"holderId" binding:"required"`
}

type LeaseReleaseResponse struct {
	Released bool `json:"released"`
}

type LeaseCheckResponse struct {
	Held        bool   `json:"held"`
	OwnedBySelf bool   `json:"ownedBySelf"`
	Reason      string `json:"reason,omitempty"`
}
