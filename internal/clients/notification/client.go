// Package notification delivers user notifications to the notification service.
package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/hashicorp/go-retryablehttp"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"orchestrator/internal/domain"
)

type Client struct {
	endpoint string
	http     *retryablehttp.Client
}

func New(baseURL string, hc *retryablehttp.Client) *Client {
	return &Client{
		endpoint: strings.TrimRight(baseURL, "/") + "/notifications",
		http:     hc,
	}
}

type payload struct {
	UserID   string         `json:"user_id"`
	Type     string         `json:"type"`
	Title    string         `json:"title"`
	Message  string         `json:"message"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Notify posts n. Failures wrap domain.ErrNotificationDelivery.
func (c *Client) Notify(ctx context.Context, n domain.Notification) error {
	body, err := json.Marshal(payload{
		UserID:   n.UserID,
		Type:     string(n.Type),
		Title:    Title(n.Type),
		Message:  n.Message,
		Metadata: n.Metadata,
	})
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrNotificationDelivery, err)
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrNotificationDelivery, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrNotificationDelivery, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: status %d", domain.ErrNotificationDelivery, resp.StatusCode)
	}
	return nil
}

// Title renders a notification type as a heading, e.g. "Samples Ready".
// Casers keep state, so each call gets its own.
func Title(t domain.NotificationType) string {
	return cases.Title(language.English).String(strings.ReplaceAll(string(t), "_", " "))
}

var _ domain.NotificationService = (*Client)(nil)
