package paycoord

import (
	"context"
	"time"

	"rentora/pkg/leaseclient"
)

// RemoteBackend adapts the lease API client to the LockBackend interface.
type RemoteBackend struct {
	Client *leaseclient.Client
	TTL    time.Duration // 0 lets the service apply its default
}

func NewRemoteBackend(client *leaseclient.Client, ttl time.Duration) *RemoteBackend {
	return &RemoteBackend{Client: client, TTL: ttl}
}

func (b *RemoteBackend) Name() string { return "remote" }

func (b *RemoteBackend) Acquire(ctx context.Context, resourceID, holderID string) (*AcquireDecision, error) {
	_, conflict, err := b.Client.Acquire(ctx, resourceID, holderID, b.TTL)
	if err != nil {
		return nil, err
	}
	if conflict != nil {
		return &AcquireDecision{
			Granted:           false,
			Reason:            conflict.Reason,
			HolderDescription: conflict.HolderDescription,
		}, nil
	}
	return &AcquireDecision{Granted: true}, nil
}

func (b *RemoteBackend) Heartbeat(ctx context.Context, resourceID, holderID string) (bool, error) {
	return b.Client.Heartbeat(ctx, resourceID, holderID)
}

func (b *RemoteBackend) Release(ctx context.Context, resourceID, holderID string) error {
	return b.Client.Release(ctx, resourceID, holderID)
}

func (b *RemoteBackend) Check(ctx context.Context, resourceID, holderID string) (*HoldStatus, error) {
	res, err := b.Client.Check(ctx, resourceID, holderID)
	if err != nil {
		return nil, err
	}
	return &HoldStatus{Held: res.Held, OwnedBySelf: res.OwnedBySelf, Reason: res.Reason}, nil
}
