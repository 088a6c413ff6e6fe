package leaseclient

import "time"

// Lease is what the client gets back on a successful acquire. Consumers pass
// the same resource/holder pair back to Heartbeat/Release.
type Lease struct {
	ResourceID    string
	HolderID      string
	AcquiredAt    time.Time
	LastRenewedAt time.Time
	TTL           time.Duration
}

// CheckResult mirrors the lease service's check response.
type CheckResult struct {
	Held        bool
	OwnedBySelf bool
	Reason      string
}

// ---- Wire format (matches the lease HTTP API) ----

type acquireReq struct {
	HolderID string `json:"holderId"`
	TTLMS    int64  `json:"ttlMs,omitempty"`
}

type leaseBody struct {
	ResourceID    string    `json:"resourceId"`
	HolderID      string    `json:"holderId"`
	AcquiredAt    time.Time `json:"acquiredAt"`
	LastRenewedAt time.Time `json:"lastRenewedAt"`
	TTLMS         int64     `json:"ttlMs"`
}

type acquireResp struct {
	Granted           bool       `json:"granted"`
	Reason            string     `json:"reason,omitempty"`
	HolderDescription string     `json:"holderDescription,omitempty"`
	Lease             *leaseBody `json:"lease,omitempty"`
}

type heartbeatReq struct {
	HolderID string `json:"holderId"`
}

type heartbeatResp struct {
	StillHeld bool `json:"stillHeld"`
}

type releaseReq struct {
	HolderID string `json:"holderId"`
}

type releaseResp struct {
	Released bool `json:"released"`
}

type checkResp struct {
	Held        bool   `json:"held"`
	OwnedBySelf bool   `json:"ownedBySelf"`
	Reason      string `json:"reason,omitempty"`
}
