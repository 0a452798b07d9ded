package domain

import (
	"context"
	"time"
)

// GenerationRepository persists generation requests. Update is a
// compare-and-swap on Version and returns ErrConflict when the stored row has
// moved on since it was loaded.
type GenerationRepository interface {
	Create(ctx context.Context, req *GenerationRequest) error
	GetByID(ctx context.Context, id string) (*GenerationRequest, error)
	Update(ctx context.Context, req *GenerationRequest) error
	ListStalled(ctx context.Context, statuses []GenerationStatus, updatedBefore time.Time, limit int) ([]*GenerationRequest, error)
}

// CreditService is the authoritative billing ledger. Deduct and Refund are
// idempotent per referenceID. Failures map to ErrInsufficientCredits or
// ErrCreditServiceUnavailable.
type CreditService interface {
	Check(ctx context.Context, userID string, amount float64) (bool, error)
	Deduct(ctx context.Context, userID, referenceID string, amount float64, actionType string) error
	Refund(ctx context.Context, userID, referenceID string, amount float64, reason string) error
	SubscriptionTier(ctx context.Context, userID string) (string, error)
}

// JobPublisher hands a job to the downstream pipeline. Failures wrap
// ErrJobPublishFailure.
type JobPublisher interface {
	Publish(ctx context.Context, job JobMessage) error
	Close() error
}

// NotificationType enumerates user notifications emitted by the saga.
type NotificationType string

const (
	NotificationSamplesReady     NotificationType = "samples_ready"
	NotificationFinalAssetReady  NotificationType = "final_asset_ready"
	NotificationGenerationFailed NotificationType = "generation_failed"
)

// Notification is a best-effort message to a user.
type Notification struct {
	UserID   string
	Type     NotificationType
	Message  string
	Metadata map[string]any
}

// NotificationService delivers user notifications. Errors are informational
// only; callers never act on them.
type NotificationService interface {
	Notify(ctx context.Context, n Notification) error
}
