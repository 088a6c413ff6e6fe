package paymentRepo

import (
	"time"

	"rentora/models"
)

// PaymentSessionRepository defines data access for payment sessions.
type PaymentSessionRepository interface {
	// GetByID retrieves a session by its payment ID.
	GetByID(paymentID string) (*models.PaymentSession, error)
	// FindReusable retrieves the pending/processing unexpired session for a
	// resource, or nil when none exists.
	FindReusable(resourceID string, now time.Time) (*models.PaymentSession, error)
	// Create inserts a new session record.
	Create(session *models.PaymentSession) error
	// UpdateStatus moves a session to the given status.
	UpdateStatus(paymentID, status string) error
	// SetOrder records the gateway order id for a session.
	SetOrder(paymentID, orderID string) error
	// SetReceipt records the verified receipt reference and completes the session.
	SetReceipt(paymentID, receiptRef string) error
	// CancelStale marks pending sessions whose expiry passed before cutoff as
	// cancelled and returns how many were swept.
	CancelStale(cutoff time.Time) (int64, error)
}

// BookingHoldRepository is the read-only seam to the booking subsystem.
type BookingHoldRepository interface {
	// GetHold retrieves the booking hold for a resource, or nil when absent.
	GetHold(resourceID string) (*models.BookingHold, error)
}
