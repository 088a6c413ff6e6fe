package models

import "time"

// Payment session statuses. The four right-hand statuses are terminal for a
// session instance; a retry always mints a new session.
const (
	PaymentStatusPending    = "pending"
	PaymentStatusProcessing = "processing"
	PaymentStatusCompleted  = "completed"
	PaymentStatusFailed     = "failed"
	PaymentStatusCancelled  = "cancelled"
	PaymentStatusRefunded   = "refunded"
)

// Supported payment gateways.
const (
	GatewayRazorpay = "razorpay"
	GatewayCashfree = "cashfree"
)

// PaymentSession is one payment attempt tied to one booking. Its expiry
// window is bound to the booking's hold, not to the attempt itself, so a
// retried attempt on the same booking never extends or shrinks the window.
type PaymentSession struct {
	PaymentID  string    `bson:"_id" json:"paymentId"`
	ResourceID string    `bson:"resourceId" json:"resourceId"`
	UserID     string    `bson:"userId" json:"userId"`
	Gateway    string    `bson:"gateway" json:"gateway"`
	Amount     float64   `bson:"amount" json:"amount"`
	Currency   string    `bson:"currency" json:"currency"`
	Status     string    `bson:"status" json:"status"`
	OrderID    string    `bson:"orderId,omitempty" json:"orderId,omitempty"`
	ReceiptRef string    `bson:"receiptRef,omitempty" json:"receiptRef,omitempty"`
	ExpiresAt  time.Time `bson:"expiresAt" json:"expiresAt"`
	CreatedAt  time.Time `bson:"createdAt" json:"createdAt"`
	UpdatedAt  time.Time `bson:"updatedAt" json:"updatedAt"`
}

// Terminal reports whether the session can no longer change status.
func (p PaymentSession) Terminal() bool {
	switch p.Status {
	case PaymentStatusCompleted, PaymentStatusFailed, PaymentStatusCancelled, PaymentStatusRefunded:
		return true
	}
	return false
}

// Reusable reports whether an existing session should be handed back instead
// of minting a new one (avoids orphaned duplicate gateway orders).
func (p PaymentSession) Reusable(now time.Time) bool {
	if p.Status != PaymentStatusPending && p.Status != PaymentStatusProcessing {
		return false
	}
	return now.Before(p.ExpiresAt)
}

// BookingHold is the seam to the booking subsystem: the resource-level hold
// whose LockExpiryTime bounds the payment window when present.
type BookingHold struct {
	ResourceID     string    `bson:"_id" json:"resourceId"`
	UserID         string    `bson:"userId" json:"userId"`
	LockExpiryTime time.Time `bson:"lockExpiryTime,omitempty" json:"lockExpiryTime,omitempty"`
	CreatedAt      time.Time `bson:"createdAt" json:"createdAt"`
}

// --- Wire types for the payment session API ---

type OpenPaymentRequest struct {
	ResourceID string  `json:"resourceId" binding:"required"`
	Gateway    string  `json:"gateway" binding:"required"`
	Amount     float64 `json:"amount" binding:"required"`
	Currency   string  `json:"currency" binding:"required"`
}

type OpenPaymentResponse struct {
	Session PaymentSession `json:"session"`
	// Reused is true when an unexpired pending/processing session for the
	// same resource was handed back instead of a new one.
	Reused bool `json:"reused"`
}

// Gateway callback outcomes as seen by the client.
const (
	OutcomeSuccess   = "success"
	OutcomeFailure   = "failure"
	OutcomeAmbiguous = "ambiguous"
)

type PaymentCallbackRequest struct {
	Outcome string            `json:"outcome" binding:"required"`
	Proof   map[string]string `json:"proof,omitempty"`
}

type PaymentCancelRequest struct {
	Reason string `json:"reason,omitempty"`
}

// Background task types consumed by the cron worker.
const (
	TaskTypePaymentReconcile = "payment:reconcile"
	TaskTypeSessionSweep     = "payment:sweep"
)

// ReconcilePayload is the asynq task payload for server-side reconciliation
// of ambiguous gateway outcomes.
type ReconcilePayload struct {
	PaymentID string            `json:"paymentId"`
	Proof     map[string]string `json:"proof,omitempty"`
}
