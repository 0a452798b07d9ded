package orchestration

import (
	"context"
	"errors"
	"time"

	"github.com/avast/retry-go/v4"

	"orchestrator/internal/domain"
)

// withConflictRetry reruns fn while it fails with ErrConflict. fn must
// reload the request on every attempt.
func (s *Service) withConflictRetry(ctx context.Context, fn func() error) error {
	return retry.Do(fn,
		retry.Context(ctx),
		retry.Attempts(s.cfg.ConflictRetries),
		retry.Delay(10*time.Millisecond),
		retry.MaxJitter(20*time.Millisecond),
		retry.DelayType(retry.CombineDelay(retry.BackOffDelay, retry.RandomDelay)),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			return errors.Is(err, domain.ErrConflict)
		}),
		retry.OnRetry(func(n uint, err error) {
			s.logger.Debug().Err(err).Uint("attempt", n+1).Msg("orchestration: retrying after concurrent update")
		}),
	)
}

// markFailed moves req to FAILED and persists it. Errors are logged only.
func (s *Service) markFailed(ctx context.Context, req *domain.GenerationRequest, message string, cause error) bool {
	ctx, cancel := s.detached(ctx)
	defer cancel()

	log := s.logger.With().Str("generation_id", req.ID).Str("status", string(req.Status)).Logger()
	details := map[string]any{}
	if cause != nil {
		details["cause"] = cause.Error()
	}
	if err := req.Fail(message, details, s.now()); err != nil {
		log.Error().Err(err).Msg("orchestration: cannot mark request failed")
		return false
	}
	if err := s.repo.Update(ctx, req); err != nil {
		log.Error().Err(err).Bool("critical", true).Msg("orchestration: persisting failed status failed")
		return false
	}
	return true
}

// failAndCompensate marks req FAILED and refunds the charge of the current
// round, capped at what is still refundable for stage.
func (s *Service) failAndCompensate(ctx context.Context, req *domain.GenerationRequest, stage domain.Stage, charged float64, message string, cause error) {
	persisted := s.markFailed(ctx, req, message, cause)
	s.refund(ctx, req, stage, min(charged, req.RefundableAmount(stage)), message, persisted)
}

// refund returns amount to the user. With persist set the refund is recorded
// on the stored request, otherwise only on req. Failures are logged and
// reported as false.
func (s *Service) refund(ctx context.Context, req *domain.GenerationRequest, stage domain.Stage, amount float64, reason string, persist bool) bool {
	if amount <= 0 {
		return false
	}
	log := s.logger.With().
		Str("generation_id", req.ID).
		Str("user_id", req.UserID).
		Str("stage", string(stage)).
		Float64("amount", amount).
		Logger()

	callCtx, cancel := s.detached(ctx)
	defer cancel()
	if err := s.credits.Refund(callCtx, req.UserID, req.RefundReference(stage), amount, reason); err != nil {
		log.Error().Err(err).Bool("critical", true).Str("reason", reason).Msg("orchestration: refund failed")
		return false
	}
	log.Info().Str("reason", reason).Msg("orchestration: credits refunded")

	if !persist {
		if err := req.RecordRefund(stage, amount, s.now()); err != nil {
			log.Error().Err(err).Msg("orchestration: refund bookkeeping failed")
		}
		return true
	}
	if err := s.recordRefund(callCtx, req, stage, amount); err != nil {
		log.Error().Err(err).Bool("critical", true).Msg("orchestration: refund issued but not recorded")
	}
	return true
}

// releaseCharge gives back a deduction whose claim could not be persisted.
// When a concurrent caller already claimed the same reference, the credit
// service charged once and there is nothing to give back.
func (s *Service) releaseCharge(ctx context.Context, req *domain.GenerationRequest, stage domain.Stage, amount float64, reason string, cause error) {
	if errors.Is(cause, domain.ErrConflict) {
		fresh, err := s.repo.GetByID(ctx, req.ID)
		if err == nil &&
			fresh.ChargeReference(stage) == req.ChargeReference(stage) &&
			fresh.ChargedAmount(stage) >= req.ChargedAmount(stage) {
			s.logger.Debug().Str("generation_id", req.ID).Str("stage", string(stage)).Msg("orchestration: charge already claimed by concurrent call")
			return
		}
	}
	s.refund(ctx, req, stage, amount, reason, false)
}

// recordRefund notes a completed refund on the stored request and copies
// the result into req.
func (s *Service) recordRefund(ctx context.Context, req *domain.GenerationRequest, stage domain.Stage, amount float64) error {
	return s.withConflictRetry(ctx, func() error {
		fresh, err := s.repo.GetByID(ctx, req.ID)
		if err != nil {
			return err
		}
		if err := fresh.RecordRefund(stage, amount, s.now()); err != nil {
			return err
		}
		if err := s.repo.Update(ctx, fresh); err != nil {
			return err
		}
		*req = *fresh
		return nil
	})
}

// notify delivers a user notification. Delivery problems never reach the
// caller.
func (s *Service) notify(ctx context.Context, req *domain.GenerationRequest, typ domain.NotificationType, message string, metadata map[string]any) {
	if s.notifier == nil {
		return
	}
	callCtx, cancel := s.detached(ctx)
	defer cancel()

	n := domain.Notification{UserID: req.UserID, Type: typ, Message: message, Metadata: metadata}
	if err := s.notifier.Notify(callCtx, n); err != nil {
		s.logger.Warn().Err(err).
			Str("generation_id", req.ID).
			Str("user_id", req.UserID).
			Str("type", string(typ)).
			Msg("orchestration: notification not delivered")
	}
}
