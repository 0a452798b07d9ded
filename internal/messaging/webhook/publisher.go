// Package webhook hands generation jobs to an HTTP workflow trigger
// (for example an n8n webhook node) instead of a broker.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/hashicorp/go-retryablehttp"

	"orchestrator/internal/domain"
)

// IdempotencyHeader carries the job's idempotency key.
const IdempotencyHeader = "Idempotency-Key"

type Publisher struct {
	url    string
	http   *retryablehttp.Client
	secret string
}

// NewPublisher posts jobs to url. When secret is set it is sent in
// X-Webhook-Secret.
func NewPublisher(url, secret string, hc *retryablehttp.Client) *Publisher {
	return &Publisher{url: url, http: hc, secret: secret}
}

func (p *Publisher) Publish(ctx context.Context, job domain.JobMessage) error {
	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("%w: encode job: %v", domain.ErrJobPublishFailure, err)
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrJobPublishFailure, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(IdempotencyHeader, job.IdempotencyKey)
	if p.secret != "" {
		req.Header.Set("X-Webhook-Secret", p.secret)
	}

	resp, err := p.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrJobPublishFailure, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: webhook returned %d", domain.ErrJobPublishFailure, resp.StatusCode)
	}
	return nil
}

func (p *Publisher) Close() error {
	p.http.HTTPClient.CloseIdleConnections()
	return nil
}

var _ domain.JobPublisher = (*Publisher)(nil)
