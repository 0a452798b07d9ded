// Package credit talks to the external billing ledger.
package credit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/hashicorp/go-retryablehttp"

	"orchestrator/internal/domain"
)

const maxErrorBody = 4 << 10

// Client implements domain.CreditService over HTTP. Every mutating call
// carries a reference id, so retried requests are safe.
type Client struct {
	baseURL string
	http    *retryablehttp.Client
}

func New(baseURL string, hc *retryablehttp.Client) *Client {
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), http: hc}
}

type checkRequest struct {
	Amount float64 `json:"amount"`
}

type checkResponse struct {
	Sufficient bool    `json:"sufficient"`
	Balance    float64 `json:"balance"`
}

type deductRequest struct {
	Amount      float64 `json:"amount"`
	ReferenceID string  `json:"referenceId"`
	ActionType  string  `json:"actionType"`
}

type refundRequest struct {
	Amount      float64 `json:"amount"`
	ReferenceID string  `json:"referenceId"`
	Reason      string  `json:"reason"`
}

type subscriptionResponse struct {
	Tier string `json:"tier"`
}

// Check reports whether userID can afford amount.
func (c *Client) Check(ctx context.Context, userID string, amount float64) (bool, error) {
	var out checkResponse
	status, err := c.do(ctx, http.MethodPost, c.userPath(userID, "credits/check"), checkRequest{Amount: amount}, &out)
	if err != nil {
		return false, err
	}
	switch status {
	case http.StatusPaymentRequired:
		return false, nil
	case http.StatusNotFound:
		return false, fmt.Errorf("%w: user %s has no credit account", domain.ErrCreditServiceUnavailable, userID)
	}
	return out.Sufficient, nil
}

// Deduct charges amount under referenceID. A 409 means the reference was
// already charged and counts as success.
func (c *Client) Deduct(ctx context.Context, userID, referenceID string, amount float64, actionType string) error {
	status, err := c.do(ctx, http.MethodPost, c.userPath(userID, "credits/deduct"), deductRequest{
		Amount:      amount,
		ReferenceID: referenceID,
		ActionType:  actionType,
	}, nil)
	if err != nil {
		return err
	}
	switch status {
	case http.StatusPaymentRequired:
		return fmt.Errorf("%w: %v credits required", domain.ErrInsufficientCredits, amount)
	case http.StatusNotFound:
		return fmt.Errorf("%w: user %s has no credit account", domain.ErrCreditServiceUnavailable, userID)
	}
	return nil
}

// Refund returns amount under referenceID. A 409 means the refund was
// already applied.
func (c *Client) Refund(ctx context.Context, userID, referenceID string, amount float64, reason string) error {
	status, err := c.do(ctx, http.MethodPost, c.userPath(userID, "credits/refund"), refundRequest{
		Amount:      amount,
		ReferenceID: referenceID,
		Reason:      reason,
	}, nil)
	if err != nil {
		return err
	}
	if status == http.StatusPaymentRequired || status == http.StatusNotFound {
		return fmt.Errorf("%w: refund rejected with status %d", domain.ErrCreditServiceUnavailable, status)
	}
	return nil
}

// SubscriptionTier returns the user's plan. Users without a subscription
// record are on the "free" tier.
func (c *Client) SubscriptionTier(ctx context.Context, userID string) (string, error) {
	var out subscriptionResponse
	status, err := c.do(ctx, http.MethodGet, c.userPath(userID, "subscription"), nil, &out)
	if err != nil {
		return "", err
	}
	if status == http.StatusNotFound || strings.TrimSpace(out.Tier) == "" {
		return "free", nil
	}
	return strings.ToLower(strings.TrimSpace(out.Tier)), nil
}

func (c *Client) userPath(userID, suffix string) string {
	return c.baseURL + "/users/" + url.PathEscape(userID) + "/" + suffix
}

// do sends body as JSON and decodes a 2xx response into out. 402, 404 and
// 409 are handed back to the caller; everything else that is not 2xx maps to
// ErrCreditServiceUnavailable.
func (c *Client) do(ctx context.Context, method, endpoint string, body, out any) (int, error) {
	var payload io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("encode credit request: %w", err)
		}
		payload = bytes.NewReader(b)
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, method, endpoint, payload)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", domain.ErrCreditServiceUnavailable, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", domain.ErrCreditServiceUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusPaymentRequired,
		resp.StatusCode == http.StatusNotFound,
		resp.StatusCode == http.StatusConflict:
		io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))
		return resp.StatusCode, nil
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return resp.StatusCode, fmt.Errorf("%w: %s %s returned %d: %s", domain.ErrCreditServiceUnavailable, method, endpoint, resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	if out != nil && resp.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil && err != io.EOF {
			return resp.StatusCode, fmt.Errorf("%w: decode response: %v", domain.ErrCreditServiceUnavailable, err)
		}
	}
	return resp.StatusCode, nil
}

var _ domain.CreditService = (*Client)(nil)
