package paycoord

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// HTTPPaymentBackend implements PaymentBackend against the payment session
// API. Checkout details are fixed at construction; one backend serves one
// booking's checkout.
type HTTPPaymentBackend struct {
	baseURL  string
	token    string
	gateway  string
	amount   float64
	currency string
	http     *http.Client
}

func NewHTTPPaymentBackend(baseURL, token, gateway string, amount float64, currency string, hc *http.Client) *HTTPPaymentBackend {
	baseURL = strings.TrimRight(baseURL, "/")
	if hc == nil {
		hc = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTPPaymentBackend{
		baseURL:  baseURL,
		token:    token,
		gateway:  gateway,
		amount:   amount,
		currency: currency,
		http:     hc,
	}
}

type openPaymentReq struct {
	ResourceID string  `json:"resourceId"`
	Gateway    string  `json:"gateway"`
	Amount     float64 `json:"amount"`
	Currency   string  `json:"currency"`
}

type openPaymentResp struct {
	Session struct {
		PaymentID string    `json:"paymentId"`
		ExpiresAt time.Time `json:"expiresAt"`
	} `json:"session"`
	Reused bool `json:"reused"`
}

type cancelPaymentReq struct {
	Reason string `json:"reason,omitempty"`
}

// Open creates or reuses the server-side session for the booking. The caller
// identity comes from the bearer token, not from holderID; the holder is a
// tab, the user is a person.
func (b *HTTPPaymentBackend) Open(ctx context.Context, resourceID, _ string) (*SessionInfo, error) {
	path := fmt.Sprintf("%s/api/payments/open", b.baseURL)

	var out openPaymentResp
	code, raw, err := b.doJSON(ctx, http.MethodPost, path, openPaymentReq{
		ResourceID: resourceID,
		Gateway:    b.gateway,
		Amount:     b.amount,
		Currency:   b.currency,
	}, &out)
	if err != nil {
		return nil, err
	}
	if code != http.StatusOK {
		return nil, fmt.Errorf("open payment session: %s -> %d body=%q", path, code, raw)
	}
	return &SessionInfo{
		PaymentID: out.Session.PaymentID,
		ExpiresAt: out.Session.ExpiresAt,
		Reused:    out.Reused,
	}, nil
}

// Cancel marks the server-side session cancelled. Best-effort by contract;
// callers log and move on.
func (b *HTTPPaymentBackend) Cancel(ctx context.Context, paymentID string) error {
	path := fmt.Sprintf("%s/api/payments/%s/cancel", b.baseURL, url.PathEscape(paymentID))

	code, raw, err := b.doJSON(ctx, http.MethodPost, path, cancelPaymentReq{Reason: "closed by holder"}, nil)
	if err != nil {
		return err
	}
	if code != http.StatusOK {
		return fmt.Errorf("cancel payment session: %s -> %d body=%q", path, code, raw)
	}
	return nil
}

func (b *HTTPPaymentBackend) doJSON(ctx context.Context, method, url string, req any, resp any) (int, string, error) {
	var body io.Reader
	if req != nil {
		buf, err := json.Marshal(req)
		if err != nil {
			return 0, "", err
		}
		body = bytes.NewReader(buf)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return 0, "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if b.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+b.token)
	}

	rsp, err := b.http.Do(httpReq)
	if err != nil {
		return 0, "", err
	}
	defer rsp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(rsp.Body, 1<<20))
	trimmed := strings.TrimSpace(string(raw))

	if resp != nil && len(raw) > 0 {
		_ = json.Unmarshal(raw, resp)
	}
	return rsp.StatusCode, trimmed, nil
}
