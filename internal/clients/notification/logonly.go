package notification

import (
	"context"

	"github.com/rs/zerolog"

	"orchestrator/internal/domain"
)

// LogOnly records notifications in the service log. It stands in when no
// notification service is configured.
type LogOnly struct {
	logger zerolog.Logger
}

func NewLogOnly(logger zerolog.Logger) *LogOnly {
	return &LogOnly{logger: logger}
}

func (l *LogOnly) Notify(_ context.Context, n domain.Notification) error {
	l.logger.Info().
		Str("user_id", n.UserID).
		Str("type", string(n.Type)).
		Str("title", Title(n.Type)).
		Interface("metadata", n.Metadata).
		Msg(n.Message)
	return nil
}

var _ domain.NotificationService = (*LogOnly)(nil)
