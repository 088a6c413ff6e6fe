package lease

import (
	"context"
	"fmt"
	"time"

	"rentora/config"
	"rentora/models"

	"go.uber.org/zap"
)

// DefaultLeaseService implements LeaseService over a LeaseStore.
type DefaultLeaseService struct {
	Store  LeaseStore
	Logger *zap.Logger
	TTL    time.Duration
	Now    func() time.Time // injected for testability; if nil, time.Now is used
}

// NewLeaseService builds the service with the configured default TTL.
func NewLeaseService(store LeaseStore, logger *zap.Logger) *DefaultLeaseService {
	return &DefaultLeaseService{
		Store:  store,
		Logger: logger,
		TTL:    config.LeaseTTL(),
	}
}

func (s *DefaultLeaseService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *DefaultLeaseService) Acquire(ctx context.Context, resourceID string, req models.LeaseAcquireRequest) (*models.LeaseAcquireResponse, error) {
	if resourceID == "" || req.HolderID == "" {
		return nil, fmt.Errorf("resourceId and holderId are required")
	}

	ttl := s.TTL
	if req.TTLMS > 0 {
		ttl = time.Duration(req.TTLMS) * time.Millisecond
	}

	now := s.now()
	lease := models.Lease{
		ResourceID:    resourceID,
		HolderID:      req.HolderID,
		AcquiredAt:    now,
		LastRenewedAt: now,
		TTLMS:         ttl.Milliseconds(),
	}

	granted, current, err := s.Store.AcquireIfFree(ctx, lease, now)
	if err != nil {
		return nil, fmt.Errorf("lease acquire failed: %w", err)
	}

	if !granted {
		s.Logger.Info("lease acquire conflict",
			zap.String("resource", resourceID),
			zap.String("holder", req.HolderID),
			zap.String("currentHolder", current.HolderID))
		return &models.LeaseAcquireResponse{
			Granted:           false,
			Reason:            "resource is locked by another payment attempt",
			HolderDescription: fmt.Sprintf("held by %s until %s", current.HolderID, current.ExpiresAt().Format(time.RFC3339)),
		}, nil
	}

	s.Logger.Info("lease granted",
		zap.String("resource", resourceID),
		zap.String("holder", req.HolderID),
		zap.Duration("ttl", ttl))
	return &models.LeaseAcquireResponse{Granted: true, Lease: &lease}, nil
}

func (s *DefaultLeaseService) Heartbeat(ctx context.Context, resourceID string, req models.LeaseHeartbeatRequest) (*models.LeaseHeartbeatResponse, error) {
	if resourceID == "" || req.HolderID == "" {
		return nil, fmt.Errorf("resourceId and holderId are required")
	}

	renewed, err := s.Store.RenewIfOwner(ctx, resourceID, req.HolderID, s.now())
	if err != nil {
		return nil, fmt.Errorf("lease heartbeat failed: %w", err)
	}
	if !renewed {
		// The holder lost the lease to expiry or reclamation. This is the
		// definitive not-held signal; transport failures never reach here.
		s.Logger.Info("lease heartbeat rejected",
			zap.String("resource", resourceID),
			zap.String("holder", req.HolderID))
	}
	return &models.LeaseHeartbeatResponse{StillHeld: renewed}, nil
}

func (s *DefaultLeaseService) Release(ctx context.Context, resourceID string, req models.LeaseReleaseRequest) (*models.LeaseReleaseResponse, error) {
	if resourceID == "" || req.HolderID == "" {
		return nil, fmt.Errorf("resourceId and holderId are required")
	}

	released, err := s.Store.ReleaseIfOwner(ctx, resourceID, req.HolderID)
	if err != nil {
		return nil, fmt.Errorf("lease release failed: %w", err)
	}
	s.Logger.Debug("lease release",
		zap.String("resource", resourceID),
		zap.String("holder", req.HolderID),
		zap.Bool("released", released))
	// Releasing an absent or already-expired lease is a success: release is
	// idempotent and tolerant of arriving after TTL reclamation.
	return &models.LeaseReleaseResponse{Released: true}, nil
}

func (s *DefaultLeaseService) Check(ctx context.Context, resourceID, holderID string) (*models.LeaseCheckResponse, error) {
	if resourceID == "" {
		return nil, fmt.Errorf("resourceId is required")
	}

	current, err := s.Store.Get(ctx, resourceID)
	if err != nil {
		return nil, fmt.Errorf("lease check failed: %w", err)
	}

	now := s.now()
	if current == nil || current.Expired(now) {
		return &models.LeaseCheckResponse{Held: false}, nil
	}
	if current.HolderID == holderID {
		return &models.LeaseCheckResponse{Held: true, OwnedBySelf: true}, nil
	}
	return &models.LeaseCheckResponse{
		Held:   true,
		Reason: fmt.Sprintf("held by %s until %s", current.HolderID, current.ExpiresAt().Format(time.RFC3339)),
	}, nil
}
