package orchestration

import (
	"context"
	"errors"
	"time"

	"orchestrator/internal/domain"
)

// stalledStatuses are the states a request only passes through while a
// synchronous call is in flight. A request still sitting in one of them long
// after its last update lost its coordinator mid-saga.
var stalledStatuses = []domain.GenerationStatus{
	domain.StatusPending,
	domain.StatusValidatingCredits,
	domain.StatusPublishingToQueue,
}

// RecoverStalled fails requests stuck before their job was queued and
// refunds any sample charge. It returns how many requests were recovered.
func (s *Service) RecoverStalled(ctx context.Context, olderThan time.Duration, limit int) (int, error) {
	cutoff := s.now().Add(-olderThan)
	stalled, err := s.repo.ListStalled(ctx, stalledStatuses, cutoff, limit)
	if err != nil {
		return 0, err
	}

	recovered := 0
	for _, candidate := range stalled {
		if ctx.Err() != nil {
			return recovered, ctx.Err()
		}
		req, err := s.recoverOne(ctx, candidate.ID, cutoff)
		if err != nil {
			s.logger.Error().Err(err).Str("generation_id", candidate.ID).Msg("orchestration: stalled request recovery failed")
			continue
		}
		if req == nil {
			continue
		}
		recovered++
		s.logger.Warn().Str("generation_id", req.ID).Str("user_id", req.UserID).Msg("orchestration: stalled request failed")
		s.refund(ctx, req, domain.StageSample, req.RefundableAmount(domain.StageSample), "generation stalled", true)
		s.notify(ctx, req, domain.NotificationGenerationFailed, "AI generation failed: request could not be queued", map[string]any{
			"generationId": req.ID,
		})
	}
	return recovered, nil
}

func (s *Service) recoverOne(ctx context.Context, id string, cutoff time.Time) (*domain.GenerationRequest, error) {
	var stored *domain.GenerationRequest
	err := s.withConflictRetry(ctx, func() error {
		stored = nil
		req, err := s.repo.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if !isStalled(req.Status) || req.UpdatedAt.After(cutoff) {
			return nil
		}
		if err := req.Fail("generation stalled before the job was queued", map[string]any{"stalledStatus": string(req.Status)}, s.now()); err != nil {
			return err
		}
		if err := s.repo.Update(ctx, req); err != nil {
			return err
		}
		stored = req
		return nil
	})
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	return stored, err
}

func isStalled(status domain.GenerationStatus) bool {
	for _, s := range stalledStatuses {
		if s == status {
			return true
		}
	}
	return false
}
