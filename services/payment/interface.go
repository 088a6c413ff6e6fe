package payment

import (
	"context"

	"rentora/models"
)

// PaymentSessionService owns the backend lifecycle of payment sessions:
// create-or-reuse on open, gateway callback handling, cancellation, and
// server-side reconciliation of ambiguous outcomes.
type PaymentSessionService interface {
	// Open returns the active session for a resource, reusing an unexpired
	// pending/processing one when it exists so a booking never accumulates
	// duplicate gateway orders.
	Open(ctx context.Context, userID string, req models.OpenPaymentRequest) (*models.OpenPaymentResponse, error)

	// Cancel marks a session cancelled. Cancelling a terminal session is a
	// no-op; clients call this defensively on close and on expiry.
	Cancel(ctx context.Context, paymentID, reason string) error

	// HandleCallback applies a gateway outcome reported by the client.
	// Ambiguous outcomes are queued for server-side reconciliation instead
	// of being assumed failed.
	HandleCallback(ctx context.Context, paymentID string, req models.PaymentCallbackRequest) (*models.PaymentSession, error)

	// Reconcile re-checks an ambiguous outcome against the gateway. Run by
	// the background worker; returning an error lets the queue retry.
	Reconcile(ctx context.Context, paymentID string, proof map[string]string) error
}
