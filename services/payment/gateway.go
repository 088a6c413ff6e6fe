package payment

import (
	"context"
	"fmt"
)

// VerifyResult is the gateway's authoritative answer for one payment.
type VerifyResult struct {
	// Status is one of the payment session statuses (completed, failed, ...).
	Status     string
	ReceiptRef string
}

// PaymentGateway is the opaque collaborator boundary: order creation,
// capture, and verification live behind it. Concrete processor adapters are
// wired at startup; this package never inspects their internals.
type PaymentGateway interface {
	CreateOrder(ctx context.Context, amount float64, currency string) (orderID string, err error)
	Capture(ctx context.Context, orderID string) error
	// Verify resolves the true outcome for a payment from gateway records.
	// It is the fallback for client-side ambiguity (e.g. capture threw but
	// funds may have moved).
	Verify(ctx context.Context, paymentID string, proof map[string]string) (*VerifyResult, error)
}

// GatewayRegistry resolves a configured gateway by name.
type GatewayRegistry map[string]PaymentGateway

func (g GatewayRegistry) Resolve(name string) (PaymentGateway, error) {
	gw, ok := g[name]
	if !ok {
		return nil, fmt.Errorf("unsupported payment gateway: %s", name)
	}
	return gw, nil
}
