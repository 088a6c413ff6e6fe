package paycoord

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// LocalLeaseRecord is the per-process fallback lock entry, shared by all
// coordinators (tabs) of one process.
type LocalLeaseRecord struct {
	ResourceID      string
	HolderID        string
	LastHeartbeatAt time.Time
}

// LocalLeaseStore is the same-browser fallback lock: a shared map with
// atomic compare-holder-then-write semantics. Its staleness threshold is
// shorter than the remote TTL since there is no network latency to absorb.
type LocalLeaseStore struct {
	mu        sync.Mutex
	records   map[string]LocalLeaseRecord
	staleness time.Duration
	now       func() time.Time
}

func NewLocalLeaseStore(staleness time.Duration) *LocalLeaseStore {
	return &LocalLeaseStore{
		records:   make(map[string]LocalLeaseRecord),
		staleness: staleness,
		now:       time.Now,
	}
}

// SetClock injects the time source; tests use it to simulate staleness
// without sleeping.
func (s *LocalLeaseStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// TakeIfFree writes the record iff no record exists, the existing record's
// last heartbeat is older than the staleness threshold, or the existing
// record's holder is self. The read and write happen under one lock so two
// tabs can never both grab a stale record in the same tick.
func (s *LocalLeaseStore) TakeIfFree(resourceID, holderID string) (bool, *LocalLeaseRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if cur, ok := s.records[resourceID]; ok {
		fresh := now.Sub(cur.LastHeartbeatAt) < s.staleness
		if fresh && cur.HolderID != holderID {
			out := cur
			return false, &out
		}
	}
	s.records[resourceID] = LocalLeaseRecord{
		ResourceID:      resourceID,
		HolderID:        holderID,
		LastHeartbeatAt: now,
	}
	return true, nil
}

// Take writes the record unconditionally. Used after winning the remote
// lease, which outranks any local record: a sibling tab still holding the
// record lost remotely, and its next Refresh will tell it so.
func (s *LocalLeaseStore) Take(resourceID, holderID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records[resourceID] = LocalLeaseRecord{
		ResourceID:      resourceID,
		HolderID:        holderID,
		LastHeartbeatAt: s.now(),
	}
}

// Refresh bumps the heartbeat iff the record is still self-owned. A false
// return means another tab won a race for the record and this holder must
// self-evict.
func (s *LocalLeaseStore) Refresh(resourceID, holderID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.records[resourceID]
	if !ok || cur.HolderID != holderID {
		return false
	}
	cur.LastHeartbeatAt = s.now()
	s.records[resourceID] = cur
	return true
}

// Drop removes the record iff held by holderID. Dropping an absent record is
// not an error.
func (s *LocalLeaseStore) Drop(resourceID, holderID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cur, ok := s.records[resourceID]; ok && cur.HolderID == holderID {
		delete(s.records, resourceID)
	}
}

// Holder returns the current fresh holder of a resource, or "" when the
// record is absent or stale.
func (s *LocalLeaseStore) Holder(resourceID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.records[resourceID]
	if !ok {
		return ""
	}
	if s.now().Sub(cur.LastHeartbeatAt) >= s.staleness {
		return ""
	}
	return cur.HolderID
}

// LocalBackend adapts the store to the LockBackend interface. It never
// returns transport errors; the store is in-process.
type LocalBackend struct {
	Store *LocalLeaseStore
}

func NewLocalBackend(store *LocalLeaseStore) *LocalBackend {
	return &LocalBackend{Store: store}
}

func (b *LocalBackend) Name() string { return "local" }

func (b *LocalBackend) Acquire(_ context.Context, resourceID, holderID string) (*AcquireDecision, error) {
	ok, cur := b.Store.TakeIfFree(resourceID, holderID)
	if !ok {
		return &AcquireDecision{
			Granted:           false,
			Reason:            "held by another tab in this browser",
			HolderDescription: fmt.Sprintf("held by %s since %s", cur.HolderID, cur.LastHeartbeatAt.Format(time.RFC3339)),
		}, nil
	}
	return &AcquireDecision{Granted: true}, nil
}

func (b *LocalBackend) Heartbeat(_ context.Context, resourceID, holderID string) (bool, error) {
	return b.Store.Refresh(resourceID, holderID), nil
}

func (b *LocalBackend) Release(_ context.Context, resourceID, holderID string) error {
	b.Store.Drop(resourceID, holderID)
	return nil
}

func (b *LocalBackend) Check(_ context.Context, resourceID, holderID string) (*HoldStatus, error) {
	holder := b.Store.Holder(resourceID)
	if holder == "" {
		return &HoldStatus{Held: false}, nil
	}
	if holder == holderID {
		return &HoldStatus{Held: true, OwnedBySelf: true}, nil
	}
	return &HoldStatus{Held: true, Reason: "held by another tab in this browser"}, nil
}
