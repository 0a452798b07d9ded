package orchestration

import (
	"context"
	"errors"
	"strings"

	"orchestrator/internal/domain"
)

const defaultPipelineError = "generation pipeline error"

// ProcessSampleResult stores delivered samples and notifies the user.
// Callbacks for unknown requests or requests no longer expecting samples are
// logged and dropped, so redelivery is harmless.
func (s *Service) ProcessSampleResult(ctx context.Context, res domain.SampleResult) error {
	log := s.logger.With().Str("generation_id", res.GenerationID).Str("callback", "sample_result").Logger()

	var stored *domain.GenerationRequest
	err := s.withConflictRetry(ctx, func() error {
		stored = nil
		req, err := s.repo.GetByID(ctx, res.GenerationID)
		if err != nil {
			return err
		}
		if !req.Status.CanApply(domain.EventSamplesReady) {
			log.Info().Str("status", string(req.Status)).Msg("orchestration: stale sample callback dropped")
			return nil
		}
		if err := req.CompleteSamples(res.Samples, s.now()); err != nil {
			return err
		}
		if err := s.repo.Update(ctx, req); err != nil {
			return err
		}
		stored = req
		return nil
	})
	if errors.Is(err, domain.ErrNotFound) {
		log.Warn().Msg("orchestration: sample callback for unknown request dropped")
		return nil
	}
	if err != nil {
		return err
	}
	if stored == nil {
		return nil
	}

	log.Info().Int("samples", len(stored.SampleAssets)).Msg("orchestration: samples ready")
	s.notify(ctx, stored, domain.NotificationSamplesReady, "Your AI creative samples are ready for review!", map[string]any{
		"generationId": stored.ID,
		"sampleCount":  len(stored.SampleAssets),
	})
	return nil
}

// ProcessFinalResult stores the final asset and notifies the user.
func (s *Service) ProcessFinalResult(ctx context.Context, res domain.FinalResult) error {
	log := s.logger.With().Str("generation_id", res.GenerationID).Str("callback", "final_result").Logger()

	var stored *domain.GenerationRequest
	err := s.withConflictRetry(ctx, func() error {
		stored = nil
		req, err := s.repo.GetByID(ctx, res.GenerationID)
		if err != nil {
			return err
		}
		if !req.Status.CanApply(domain.EventFinalReady) {
			log.Info().Str("status", string(req.Status)).Msg("orchestration: stale final callback dropped")
			return nil
		}
		if err := req.Complete(res.FinalAsset, s.now()); err != nil {
			return err
		}
		if err := s.repo.Update(ctx, req); err != nil {
			return err
		}
		stored = req
		return nil
	})
	if errors.Is(err, domain.ErrNotFound) {
		log.Warn().Msg("orchestration: final callback for unknown request dropped")
		return nil
	}
	if err != nil {
		return err
	}
	if stored == nil {
		return nil
	}

	log.Info().Str("asset_id", stored.FinalAsset.AssetID).Msg("orchestration: generation completed")
	s.notify(ctx, stored, domain.NotificationFinalAssetReady, "Your final AI creative is generated and ready!", map[string]any{
		"generationId": stored.ID,
		"assetUrl":     stored.FinalAsset.URL,
	})
	return nil
}

// ProcessError records a pipeline failure. Content policy violations end in
// CONTENT_REJECTED without a refund; other failures end in FAILED and, when
// enabled, refund the failed stage.
func (s *Service) ProcessError(ctx context.Context, report domain.ErrorReport) error {
	log := s.logger.With().Str("generation_id", report.GenerationID).Str("callback", "error").Logger()

	message := strings.TrimSpace(report.ErrorMessage)
	if message == "" {
		message = defaultPipelineError
	}
	rejected := report.ContentPolicyViolation()

	var (
		stored *domain.GenerationRequest
		stage  domain.Stage
	)
	err := s.withConflictRetry(ctx, func() error {
		stored = nil
		req, err := s.repo.GetByID(ctx, report.GenerationID)
		if err != nil {
			return err
		}
		if req.Status.IsTerminal() {
			log.Info().Str("status", string(req.Status)).Msg("orchestration: stale error callback dropped")
			return nil
		}
		stage = refundStage(req.Status, report.FailedStage)

		details := errorDetails(report)
		if rejected {
			err = req.RejectContent(message, details, s.now())
		} else {
			err = req.Fail(message, details, s.now())
		}
		if err != nil {
			return err
		}
		if err := s.repo.Update(ctx, req); err != nil {
			return err
		}
		stored = req
		return nil
	})
	if errors.Is(err, domain.ErrNotFound) {
		log.Warn().Msg("orchestration: error callback for unknown request dropped")
		return nil
	}
	if err != nil {
		return err
	}
	if stored == nil {
		return nil
	}

	ev := log.Warn().Str("status", string(stored.Status)).Str("error_code", report.ErrorCode).Str("stage", string(stage))
	if s.cfg.DetailedErrorLogging && len(report.ErrorDetails) > 0 {
		ev = ev.Interface("error_details", report.ErrorDetails)
	}
	ev.Msg("orchestration: pipeline reported failure")

	if !rejected && s.cfg.RefundOnSystemFailure && stage != "" {
		s.refund(ctx, stored, stage, stored.RefundableAmount(stage), "pipeline failure: "+message, true)
	}
	s.notify(ctx, stored, domain.NotificationGenerationFailed, "AI generation failed: "+message, map[string]any{
		"generationId": stored.ID,
		"errorCode":    report.ErrorCode,
		"status":       string(stored.Status),
	})
	return nil
}

// refundStage picks the stage whose charge a failure refunds. A reported
// stage wins; otherwise it follows from the status the failure interrupted.
// Failures reported while awaiting selection refund nothing by default.
func refundStage(prior domain.GenerationStatus, reported domain.Stage) domain.Stage {
	switch reported {
	case domain.StageSample, domain.StageFinal:
		return reported
	}
	switch prior {
	case domain.StatusProcessingFinal:
		return domain.StageFinal
	case domain.StatusPending, domain.StatusValidatingCredits, domain.StatusPublishingToQueue, domain.StatusProcessingSamples:
		return domain.StageSample
	}
	return ""
}

func errorDetails(report domain.ErrorReport) map[string]any {
	details := make(map[string]any, len(report.ErrorDetails)+2)
	for k, v := range report.ErrorDetails {
		details[k] = v
	}
	if report.ErrorCode != "" {
		details["errorCode"] = report.ErrorCode
	}
	if report.FailedStage != "" {
		details["failedStage"] = string(report.FailedStage)
	}
	return details
}
