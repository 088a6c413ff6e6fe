package payment

import (
	"context"
	"fmt"

	"rentora/models"

	"github.com/google/uuid"
)

// SandboxGateway is the processor stand-in used outside production. Orders
// are minted locally and verification trusts the proof's reported status, so
// the full open/callback/reconcile flow can run end to end with no processor
// credentials.
type SandboxGateway struct{}

func (SandboxGateway) CreateOrder(_ context.Context, _ float64, _ string) (string, error) {
	return "order_" + uuid.New().String(), nil
}

func (SandboxGateway) Capture(_ context.Context, orderID string) error {
	if orderID == "" {
		return fmt.Errorf("missing order ID")
	}
	return nil
}

func (SandboxGateway) Verify(_ context.Context, paymentID string, proof map[string]string) (*VerifyResult, error) {
	status := proof["status"]
	if status == "" {
		status = models.PaymentStatusCompleted
	}
	return &VerifyResult{
		Status:     status,
		ReceiptRef: "rcpt_" + paymentID,
	}, nil
}
