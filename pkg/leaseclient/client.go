package leaseclient

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

// Client talks to the lease API of the coordination service.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// New builds a client for the given base URL. token is the caller's Bearer
// token; hc may be nil.
func New(baseURL, token string, hc *http.Client) *Client {
	baseURL = strings.TrimRight(baseURL, "/")
	if hc == nil {
		hc = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{
		baseURL: baseURL,
		token:   token,
		http:    hc,
	}
}

// Acquire attempts to take the lease for a resource. A conflict (held by a
// different holder) comes back as a *ConflictError with a nil transport
// error; callers must not treat it as a retryable failure.
func (c *Client) Acquire(ctx context.Context, resourceID, holderID string, ttl time.Duration) (*Lease, *ConflictError, error) {
	if resourceID == "" || holderID == "" {
		return nil, nil, fmt.Errorf("resourceID and holderID required")
	}

	path := fmt.Sprintf("%s/api/leases/%s/acquire", c.baseURL, url.PathEscape(resourceID))
	reqBody := acquireReq{HolderID: holderID}
	if ttl > 0 {
		reqBody.TTLMS = ttl.Milliseconds()
	}

	var out acquireResp
	code, raw, err := c.doJSON(ctx, http.MethodPost, path, reqBody, &out)
	if err != nil {
		return nil, nil, err
	}

	if code == http.StatusOK && out.Granted && out.Lease != nil {
		return &Lease{
			ResourceID:    out.Lease.ResourceID,
			HolderID:      out.Lease.HolderID,
			AcquiredAt:    out.Lease.AcquiredAt,
			LastRenewedAt: out.Lease.LastRenewedAt,
			TTL:           time.Duration(out.Lease.TTLMS) * time.Millisecond,
		}, nil, nil
	}

	if code == http.StatusConflict {
		return nil, &ConflictError{
			ResourceID:        resourceID,
			Reason:            out.Reason,
			HolderDescription: out.HolderDescription,
		}, nil
	}

	return nil, nil, &UnexpectedStatusError{
		Method: http.MethodPost,
		Path:   path,
		Code:   code,
		Body:   raw,
	}
}

// Heartbeat renews the lease. stillHeld=false with a nil error is the
// definitive signal that this holder lost the lease; any transport error
// means the answer is unknown.
func (c *Client) Heartbeat(ctx context.Context, resourceID, holderID string) (bool, error) {
	if resourceID == "" || holderID == "" {
		return false, fmt.Errorf("resourceID and holderID required")
	}

	path := fmt.Sprintf("%s/api/leases/%s/heartbeat", c.baseURL, url.PathEscape(resourceID))

	var out heartbeatResp
	code, raw, err := c.doJSON(ctx, http.MethodPost, path, heartbeatReq{HolderID: holderID}, &out)
	if err != nil {
		return false, err
	}
	if code != http.StatusOK {
		return false, &UnexpectedStatusError{Method: http.MethodPost, Path: path, Code: code, Body: raw}
	}
	return out.StillHeld, nil
}

// Release drops the lease. The service always acks; calling after the lease
// already expired is fine.
func (c *Client) Release(ctx context.Context, resourceID, holderID string) error {
	if resourceID == "" || holderID == "" {
		return fmt.Errorf("resourceID and holderID required")
	}

	path := fmt.Sprintf("%s/api/leases/%s/release", c.baseURL, url.PathEscape(resourceID))

	var out releaseResp
	code, raw, err := c.doJSON(ctx, http.MethodPost, path, releaseReq{HolderID: holderID}, &out)
	if err != nil {
		return err
	}
	if code != http.StatusOK {
		return &UnexpectedStatusError{Method: http.MethodPost, Path: path, Code: code, Body: raw}
	}
	return nil
}

// Check reports whether the resource is leased and whether holderID owns it.
func (c *Client) Check(ctx context.Context, resourceID, holderID string) (*CheckResult, error) {
	if resourceID == "" {
		return nil, fmt.Errorf("resourceID required")
	}

	path := fmt.Sprintf("%s/api/leases/%s?holderId=%s", c.baseURL,
		url.PathEscape(resourceID), url.QueryEscape(holderID))

	var out checkResp
	code, raw, err := c.doJSON(ctx, http.MethodGet, path, nil, &out)
	if err != nil {
		return nil, err
	}
	if code != http.StatusOK {
		return nil, &UnexpectedStatusError{Method: http.MethodGet, Path: path, Code: code, Body: raw}
	}
	return &CheckResult{Held: out.Held, OwnedBySelf: out.OwnedBySelf, Reason: out.Reason}, nil
}

// doJSON sends JSON and optionally decodes JSON response.
// Returns status code and raw body (trimmed) for debugging.
func (c *Client) doJSON(ctx context.Context, method, url string, req any, resp any) (int, string, error) {
	var body io.Reader
	if req != nil {
		b, err := json.Marshal(req)
		if err != nil {
			return 0, "", err
		}
		body = bytes.NewReader(b)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return 0, "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.token)
	}

	rsp, err := c.http.Do(httpReq)
	if err != nil {
		return 0, "", err
	}
	defer rsp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(rsp.Body, 1<<20))
	trimmed := strings.TrimSpace(string(raw))

	if resp != nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, resp); err != nil && rsp.StatusCode == http.StatusOK {
			// A 200 whose body does not decode (proxy error page, truncated
			// response) carries no answer. Surface it as a transport failure
			// so callers retry; reading zero values here would turn garbage
			// into a definitive not-held signal. Non-2xx bodies stay
			// tolerated, the status code already tells the story.
			return rsp.StatusCode, trimmed, fmt.Errorf("decode %s %s response: %w", method, url, err)
		}
	}
	return rsp.StatusCode, trimmed, nil
}
