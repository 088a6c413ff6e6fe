package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	paymentRepo "rentora/database/repository/payment"
	"rentora/models"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

const sessionCachePrefix = "paySession:"

// TaskEnqueuer is satisfied by *asynq.Client; narrowed so tests can fake it.
type TaskEnqueuer interface {
	Enqueue(task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// DefaultPaymentSessionService implements PaymentSessionService.
type DefaultPaymentSessionService struct {
	Repo     paymentRepo.PaymentSessionRepository
	HoldRepo paymentRepo.BookingHoldRepository
	Gateways GatewayRegistry
	Cache    *redis.Client // hot-path session lookups; mongo stays durable
	Tasks    TaskEnqueuer
	Logger   *zap.Logger
	Window   time.Duration    // default payment window when no booking hold bounds it
	Now      func() time.Time // injected for testability; if nil, time.Now is used
}

func (s *DefaultPaymentSessionService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// resolveExpiry derives the session expiry with strict precedence: the
// booking hold's lock expiry when present, then the session's own explicit
// expiry, then creation time plus the default window. The payment window is
// bound to the booking's hold, so a retried attempt on the same booking must
// not extend or shrink it.
func resolveExpiry(hold *models.BookingHold, session *models.PaymentSession, createdAt time.Time, window time.Duration) time.Time {
	if hold != nil && !hold.LockExpiryTime.IsZero() {
		return hold.LockExpiryTime
	}
	if session != nil && !session.ExpiresAt.IsZero() {
		return session.ExpiresAt
	}
	return createdAt.Add(window)
}

func (s *DefaultPaymentSessionService) Open(ctx context.Context, userID string, req models.OpenPaymentRequest) (*models.OpenPaymentResponse, error) {
	if err := validateOpenRequest(req); err != nil {
		return nil, fmt.Errorf("invalid payment request: %w", err)
	}
	if _, err := s.Gateways.Resolve(req.Gateway); err != nil {
		return nil, err
	}

	now := s.now()
	hold, err := s.HoldRepo.GetHold(req.ResourceID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch booking hold: %w", err)
	}

	// Reuse an unexpired pending/processing session rather than minting a
	// duplicate gateway order for the same booking.
	existing, err := s.Repo.FindReusable(req.ResourceID, now)
	if err != nil {
		return nil, fmt.Errorf("failed to look up existing session: %w", err)
	}
	if existing != nil {
		existing.ExpiresAt = resolveExpiry(hold, existing, existing.CreatedAt, s.Window)
		s.cacheSession(ctx, existing)
		s.Logger.Info("payment session reused",
			zap.String("payment", existing.PaymentID),
			zap.String("resource", req.ResourceID))
		return &models.OpenPaymentResponse{Session: *existing, Reused: true}, nil
	}

	session := &models.PaymentSession{
		PaymentID:  uuid.New().String(),
		ResourceID: req.ResourceID,
		UserID:     userID,
		Gateway:    req.Gateway,
		Amount:     req.Amount,
		Currency:   req.Currency,
		Status:     models.PaymentStatusPending,
		ExpiresAt:  resolveExpiry(hold, nil, now, s.Window),
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	// Persist the session before talking to the gateway so a crash between
	// the two leaves a record the sweep can reap rather than an orphaned
	// gateway order with no trace.
	if err := s.Repo.Create(session); err != nil {
		return nil, err
	}

	gw, _ := s.Gateways.Resolve(req.Gateway)
	orderID, err := gw.CreateOrder(ctx, req.Amount, req.Currency)
	if err != nil {
		if uErr := s.Repo.UpdateStatus(session.PaymentID, models.PaymentStatusCancelled); uErr != nil {
			s.Logger.Warn("failed to cancel session after gateway order failure",
				zap.String("payment", session.PaymentID),
				zap.Error(uErr))
		}
		return nil, fmt.Errorf("failed to create gateway order: %w", err)
	}
	if err := s.Repo.SetOrder(session.PaymentID, orderID); err != nil {
		return nil, err
	}
	session.OrderID = orderID
	s.cacheSession(ctx, session)

	s.Logger.Info("payment session created",
		zap.String("payment", session.PaymentID),
		zap.String("resource", req.ResourceID),
		zap.String("gateway", req.Gateway),
		zap.Time("expiresAt", session.ExpiresAt))
	return &models.OpenPaymentResponse{Session: *session}, nil
}

func (s *DefaultPaymentSessionService) Cancel(ctx context.Context, paymentID, reason string) error {
	session, err := s.Repo.GetByID(paymentID)
	if err != nil {
		return err
	}
	if session == nil {
		return fmt.Errorf("payment session %s not found", paymentID)
	}
	if session.Terminal() {
		// Cancel is idempotent; the client fires it defensively on close,
		// expiry, and teardown.
		return nil
	}

	if err := s.Repo.UpdateStatus(paymentID, models.PaymentStatusCancelled); err != nil {
		return err
	}
	s.dropCachedSession(ctx, session)
	s.Logger.Info("payment session cancelled",
		zap.String("payment", paymentID),
		zap.String("reason", reason))
	return nil
}

func (s *DefaultPaymentSessionService) HandleCallback(ctx context.Context, paymentID string, req models.PaymentCallbackRequest) (*models.PaymentSession, error) {
	session, err := s.Repo.GetByID(paymentID)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, fmt.Errorf("payment session %s not found", paymentID)
	}
	if session.Terminal() {
		return session, nil
	}

	switch req.Outcome {
	case models.OutcomeSuccess:
		gw, err := s.Gateways.Resolve(session.Gateway)
		if err != nil {
			return nil, err
		}
		result, err := gw.Verify(ctx, paymentID, req.Proof)
		if err != nil {
			// Verification itself failed: treat like an ambiguous outcome
			// rather than trusting the client's claim.
			if qErr := s.enqueueReconcile(paymentID, req.Proof); qErr != nil {
				return nil, qErr
			}
			session.Status = models.PaymentStatusProcessing
			return session, s.Repo.UpdateStatus(paymentID, models.PaymentStatusProcessing)
		}
		if result.Status == models.PaymentStatusCompleted {
			if err := s.Repo.SetReceipt(paymentID, result.ReceiptRef); err != nil {
				return nil, err
			}
			session.Status = models.PaymentStatusCompleted
			session.ReceiptRef = result.ReceiptRef
		} else {
			if err := s.Repo.UpdateStatus(paymentID, result.Status); err != nil {
				return nil, err
			}
			session.Status = result.Status
		}
		s.dropCachedSession(ctx, session)
		return session, nil

	case models.OutcomeFailure:
		if err := s.Repo.UpdateStatus(paymentID, models.PaymentStatusFailed); err != nil {
			return nil, err
		}
		session.Status = models.PaymentStatusFailed
		s.dropCachedSession(ctx, session)
		return session, nil

	case models.OutcomeAmbiguous:
		if err := s.enqueueReconcile(paymentID, req.Proof); err != nil {
			return nil, err
		}
		if err := s.Repo.UpdateStatus(paymentID, models.PaymentStatusProcessing); err != nil {
			return nil, err
		}
		session.Status = models.PaymentStatusProcessing
		return session, nil

	default:
		return nil, fmt.Errorf("unsupported callback outcome: %s", req.Outcome)
	}
}

func (s *DefaultPaymentSessionService) Reconcile(ctx context.Context, paymentID string, proof map[string]string) error {
	session, err := s.Repo.GetByID(paymentID)
	if err != nil {
		return err
	}
	if session == nil || session.Terminal() {
		return nil
	}

	gw, err := s.Gateways.Resolve(session.Gateway)
	if err != nil {
		return err
	}
	result, err := gw.Verify(ctx, paymentID, proof)
	if err != nil {
		// Let the task queue retry with backoff.
		return fmt.Errorf("gateway verify failed for %s: %w", paymentID, err)
	}

	switch result.Status {
	case models.PaymentStatusCompleted:
		err = s.Repo.SetReceipt(paymentID, result.ReceiptRef)
	default:
		err = s.Repo.UpdateStatus(paymentID, result.Status)
	}
	if err != nil {
		return err
	}
	s.dropCachedSession(ctx, session)
	s.Logger.Info("payment session reconciled",
		zap.String("payment", paymentID),
		zap.String("status", result.Status))
	return nil
}

func (s *DefaultPaymentSessionService) enqueueReconcile(paymentID string, proof map[string]string) error {
	if s.Tasks == nil {
		return fmt.Errorf("reconciliation queue unavailable")
	}
	payload, err := json.Marshal(models.ReconcilePayload{PaymentID: paymentID, Proof: proof})
	if err != nil {
		return fmt.Errorf("failed to marshal reconcile payload: %w", err)
	}
	task := asynq.NewTask(models.TaskTypePaymentReconcile, payload)
	if _, err := s.Tasks.Enqueue(task, asynq.MaxRetry(10)); err != nil {
		return fmt.Errorf("failed to enqueue reconciliation: %w", err)
	}
	return nil
}

func (s *DefaultPaymentSessionService) cacheSession(ctx context.Context, session *models.PaymentSession) {
	if s.Cache == nil {
		return
	}
	data, err := json.Marshal(session)
	if err != nil {
		return
	}
	ttl := time.Until(session.ExpiresAt)
	if ttl <= 0 {
		return
	}
	if err := s.Cache.Set(ctx, sessionCachePrefix+session.PaymentID, data, ttl).Err(); err != nil {
		s.Logger.Warn("failed to cache payment session", zap.Error(err))
	}
}

func (s *DefaultPaymentSessionService) dropCachedSession(ctx context.Context, session *models.PaymentSession) {
	if s.Cache == nil {
		return
	}
	if err := s.Cache.Del(ctx, sessionCachePrefix+session.PaymentID).Err(); err != nil {
		s.Logger.Warn("failed to drop cached payment session", zap.Error(err))
	}
}

func validateOpenRequest(req models.OpenPaymentRequest) error {
	if req.ResourceID == "" {
		return fmt.Errorf("missing resource ID")
	}
	if req.Amount <= 0 {
		return fmt.Errorf("invalid payment amount")
	}
	if req.Currency == "" {
		return fmt.Errorf("missing currency")
	}
	return nil
}
