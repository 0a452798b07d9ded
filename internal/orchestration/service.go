// Package orchestration coordinates the generation saga: credit reservation,
// job publication, pipeline callbacks and compensating refunds.
package orchestration

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"orchestrator/internal/domain"
)

const (
	actionSampleFee       = "sample_generation_fee"
	actionRegenerationFee = "sample_regeneration_fee"
	actionFinalFee        = "final_generation_fee"

	defaultCallTimeout     = 10 * time.Second
	defaultConflictRetries = 3
)

// Config tunes the saga.
type Config struct {
	// CallbackBaseURL is the externally reachable API root the pipeline posts
	// results to, e.g. https://api.example.com/api/v1.
	CallbackBaseURL       string
	CallTimeout           time.Duration
	RefundOnSystemFailure bool
	DetailedErrorLogging  bool
	ConflictRetries       uint
	Costs                 CostPolicy
}

// Service is the saga coordinator. It keeps no per-request state between
// calls; everything durable lives in the repository.
type Service struct {
	repo      domain.GenerationRepository
	credits   domain.CreditService
	publisher domain.JobPublisher
	notifier  domain.NotificationService
	cfg       Config
	logger    zerolog.Logger
	now       func() time.Time
}

// NewService wires the coordinator to its collaborators.
func NewService(repo domain.GenerationRepository, credits domain.CreditService, publisher domain.JobPublisher, notifier domain.NotificationService, cfg Config, logger zerolog.Logger) *Service {
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = defaultCallTimeout
	}
	if cfg.ConflictRetries == 0 {
		cfg.ConflictRetries = defaultConflictRetries
	}
	cfg.CallbackBaseURL = strings.TrimRight(cfg.CallbackBaseURL, "/")
	return &Service{
		repo:      repo,
		credits:   credits,
		publisher: publisher,
		notifier:  notifier,
		cfg:       cfg,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// InitiateInput carries a new generation request.
type InitiateInput struct {
	UserID        string
	ProjectID     string
	Prompt        string
	StyleGuidance string
	Params        map[string]any
}

// Initiate reserves sample credits, records the request and publishes the
// sample job. On error the user has either not been charged, or the request
// is FAILED and a refund has been attempted.
func (s *Service) Initiate(ctx context.Context, in InitiateInput) (*domain.GenerationRequest, error) {
	log := s.logger.With().Str("user_id", in.UserID).Str("project_id", in.ProjectID).Logger()

	cost, err := s.sampleCost(ctx, in.UserID, s.cfg.Costs.Sample)
	if err != nil {
		log.Error().Err(err).Msg("orchestration: subscription lookup failed")
		return nil, err
	}
	if cost > 0 {
		if err := s.checkBalance(ctx, in.UserID, cost); err != nil {
			if !domain.IsBusinessRule(err) {
				log.Error().Err(err).Float64("amount", cost).Msg("orchestration: credit check failed")
			}
			return nil, err
		}
	}

	req := domain.NewGenerationRequest(in.UserID, in.ProjectID, in.Prompt, in.StyleGuidance, in.Params, s.now())
	if err := req.Apply(domain.EventValidateCredits, s.now()); err != nil {
		return nil, err
	}
	if err := s.repo.Create(ctx, req); err != nil {
		return nil, fmt.Errorf("create generation request: %w", err)
	}
	log = log.With().Str("generation_id", req.ID).Logger()

	if cost > 0 {
		if err := s.deduct(ctx, req, domain.StageSample, cost, actionSampleFee); err != nil {
			if !domain.IsBusinessRule(err) {
				log.Error().Err(err).Float64("amount", cost).Str("stage", string(domain.StageSample)).Msg("orchestration: credit deduction failed")
			}
			s.markFailed(ctx, req, "credit deduction failed", err)
			return nil, err
		}
	}

	if err := req.RecordCharge(domain.StageSample, cost, s.now()); err != nil {
		return nil, err
	}
	if err := req.Apply(domain.EventCreditsDeducted, s.now()); err != nil {
		return nil, err
	}
	if err := s.repo.Update(ctx, req); err != nil {
		log.Error().Err(err).Float64("amount", cost).Msg("orchestration: persisting deducted credits failed")
		s.refund(ctx, req, domain.StageSample, cost, "request could not be recorded", false)
		return nil, fmt.Errorf("record sample charge: %w", err)
	}

	if err := s.publish(ctx, s.buildJob(req, domain.JobTypeSampleGeneration)); err != nil {
		log.Error().Err(err).Bool("critical", true).Str("job_type", string(domain.JobTypeSampleGeneration)).Msg("orchestration: job publish failed")
		s.failAndCompensate(ctx, req, domain.StageSample, cost, "failed to queue generation job", err)
		return nil, err
	}

	if err := req.Apply(domain.EventJobPublished, s.now()); err != nil {
		return nil, err
	}
	if err := s.repo.Update(ctx, req); err != nil {
		log.Error().Err(err).Bool("critical", true).Msg("orchestration: job published but status not recorded")
		return nil, fmt.Errorf("record published job: %w", err)
	}
	log.Info().Float64("amount", cost).Msg("orchestration: sample generation queued")
	return req, nil
}

// GetGenerationStatus returns the stored request.
func (s *Service) GetGenerationStatus(ctx context.Context, id string) (*domain.GenerationRequest, error) {
	return s.repo.GetByID(ctx, id)
}

// RegenerateInput carries a sample regeneration.
type RegenerateInput struct {
	GenerationID  string
	UserID        string
	UpdatedPrompt string
	UpdatedStyle  string
}

// TriggerSampleRegeneration charges the regeneration fee, discards the
// current results and publishes a fresh sample job.
func (s *Service) TriggerSampleRegeneration(ctx context.Context, in RegenerateInput) (*domain.GenerationRequest, error) {
	req, err := s.loadOwned(ctx, in.GenerationID, in.UserID)
	if err != nil {
		return nil, err
	}
	if err := req.CheckRegeneration(); err != nil {
		return nil, err
	}
	log := s.logger.With().Str("generation_id", req.ID).Str("user_id", req.UserID).Logger()

	cost, err := s.sampleCost(ctx, req.UserID, s.cfg.Costs.Regeneration)
	if err != nil {
		log.Error().Err(err).Msg("orchestration: subscription lookup failed")
		return nil, err
	}

	req.RegenerationCount++
	if cost > 0 {
		if err := s.deduct(ctx, req, domain.StageSample, cost, actionRegenerationFee); err != nil {
			if !domain.IsBusinessRule(err) {
				log.Error().Err(err).Float64("amount", cost).Msg("orchestration: regeneration deduction failed")
			}
			return nil, err
		}
	}

	now := s.now()
	if err := req.RecordCharge(domain.StageSample, cost, now); err != nil {
		return nil, err
	}
	if err := req.Regenerate(in.UpdatedPrompt, in.UpdatedStyle, now); err != nil {
		s.refund(ctx, req, domain.StageSample, cost, "regeneration rejected", false)
		return nil, err
	}
	if err := s.repo.Update(ctx, req); err != nil {
		s.logUpdateFailure(log, err, "regeneration")
		s.releaseCharge(ctx, req, domain.StageSample, cost, "regeneration not recorded", err)
		return nil, err
	}

	if err := s.publish(ctx, s.buildJob(req, domain.JobTypeSampleRegeneration)); err != nil {
		log.Error().Err(err).Bool("critical", true).Str("job_type", string(domain.JobTypeSampleRegeneration)).Msg("orchestration: job publish failed")
		s.failAndCompensate(ctx, req, domain.StageSample, cost, "failed to queue regeneration job", err)
		return nil, err
	}
	log.Info().Float64("amount", cost).Int("regeneration", req.RegenerationCount).Msg("orchestration: sample regeneration queued")
	return req, nil
}

// SelectInput carries a sample selection.
type SelectInput struct {
	GenerationID      string
	UserID            string
	SelectedSampleID  string
	DesiredResolution string
}

// SelectSampleAndInitiateFinal charges the final-generation fee for the
// chosen sample and publishes the final job.
func (s *Service) SelectSampleAndInitiateFinal(ctx context.Context, in SelectInput) (*domain.GenerationRequest, error) {
	req, err := s.loadOwned(ctx, in.GenerationID, in.UserID)
	if err != nil {
		return nil, err
	}
	if err := req.CheckSelection(in.SelectedSampleID); err != nil {
		return nil, err
	}
	log := s.logger.With().Str("generation_id", req.ID).Str("user_id", req.UserID).Logger()

	cost := s.cfg.Costs.FinalCost(in.DesiredResolution)
	if cost > 0 {
		if err := s.deduct(ctx, req, domain.StageFinal, cost, actionFinalFee); err != nil {
			if !domain.IsBusinessRule(err) {
				log.Error().Err(err).Float64("amount", cost).Msg("orchestration: final deduction failed")
			}
			return nil, err
		}
	}

	now := s.now()
	if err := req.RecordCharge(domain.StageFinal, cost, now); err != nil {
		return nil, err
	}
	if err := req.SelectSample(in.SelectedSampleID, in.DesiredResolution, now); err != nil {
		s.refund(ctx, req, domain.StageFinal, cost, "selection rejected", false)
		return nil, err
	}
	if err := s.repo.Update(ctx, req); err != nil {
		s.logUpdateFailure(log, err, "sample selection")
		s.releaseCharge(ctx, req, domain.StageFinal, cost, "selection not recorded", err)
		return nil, err
	}

	if err := s.publish(ctx, s.buildJob(req, domain.JobTypeFinalGeneration)); err != nil {
		log.Error().Err(err).Bool("critical", true).Str("job_type", string(domain.JobTypeFinalGeneration)).Msg("orchestration: job publish failed")
		s.failAndCompensate(ctx, req, domain.StageFinal, cost, "failed to queue final generation job", err)
		return nil, err
	}
	log.Info().Float64("amount", cost).Str("sample_id", in.SelectedSampleID).Msg("orchestration: final generation queued")
	return req, nil
}

func (s *Service) loadOwned(ctx context.Context, id, userID string) (*domain.GenerationRequest, error) {
	req, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !req.OwnedBy(userID) {
		return nil, fmt.Errorf("%w: request %s belongs to another user", domain.ErrForbidden, id)
	}
	return req, nil
}

// sampleCost applies the subscription waiver to base.
func (s *Service) sampleCost(ctx context.Context, userID string, base float64) (float64, error) {
	if base <= 0 || len(s.cfg.Costs.FreeSampleTiers) == 0 {
		return base, nil
	}
	callCtx, cancel := s.bounded(ctx)
	defer cancel()
	tier, err := s.credits.SubscriptionTier(callCtx, userID)
	if err != nil {
		return 0, err
	}
	if s.cfg.Costs.SamplesWaived(tier) {
		s.logger.Debug().Str("user_id", userID).Str("tier", tier).Msg("orchestration: sample fee waived")
		return 0, nil
	}
	return base, nil
}

func (s *Service) checkBalance(ctx context.Context, userID string, amount float64) error {
	callCtx, cancel := s.bounded(ctx)
	defer cancel()
	ok, err := s.credits.Check(callCtx, userID, amount)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %v credits required", domain.ErrInsufficientCredits, amount)
	}
	return nil
}

func (s *Service) deduct(ctx context.Context, req *domain.GenerationRequest, stage domain.Stage, amount float64, action string) error {
	callCtx, cancel := s.bounded(ctx)
	defer cancel()
	return s.credits.Deduct(callCtx, req.UserID, req.ChargeReference(stage), amount, action)
}

func (s *Service) publish(ctx context.Context, job domain.JobMessage) error {
	callCtx, cancel := s.bounded(ctx)
	defer cancel()
	if err := s.publisher.Publish(callCtx, job); err != nil {
		if errors.Is(err, domain.ErrJobPublishFailure) {
			return err
		}
		return fmt.Errorf("%w: %v", domain.ErrJobPublishFailure, err)
	}
	return nil
}

func (s *Service) buildJob(req *domain.GenerationRequest, jobType domain.JobType) domain.JobMessage {
	stage := domain.StageSample
	callbacks := domain.CallbackAddresses{Error: s.cfg.CallbackBaseURL + "/callbacks/error"}
	if jobType == domain.JobTypeFinalGeneration {
		stage = domain.StageFinal
		callbacks.FinalResult = s.cfg.CallbackBaseURL + "/callbacks/final-result"
	} else {
		callbacks.SampleResult = s.cfg.CallbackBaseURL + "/callbacks/sample-result"
	}
	job := domain.JobMessage{
		GenerationID:      req.ID,
		UserID:            req.UserID,
		ProjectID:         req.ProjectID,
		InputPrompt:       req.InputPrompt,
		StyleGuidance:     req.StyleGuidance,
		InputParameters:   req.InputParameters,
		JobType:           jobType,
		CallbackAddresses: callbacks,
		IdempotencyKey:    req.ChargeReference(stage),
	}
	if jobType == domain.JobTypeFinalGeneration {
		job.SelectedSampleID = req.SelectedSampleID
		job.DesiredResolution = req.DesiredResolution
	}
	return job
}

func (s *Service) logUpdateFailure(log zerolog.Logger, err error, what string) {
	if errors.Is(err, domain.ErrConflict) {
		log.Info().Err(err).Msgf("orchestration: %s lost a concurrent update", what)
		return
	}
	log.Error().Err(err).Msgf("orchestration: persisting %s failed", what)
}

// bounded limits a collaborator call to the configured timeout.
func (s *Service) bounded(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.cfg.CallTimeout)
}

// detached is bounded but survives cancellation of ctx, so compensation and
// notifications still run after the caller has gone away.
func (s *Service) detached(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), s.cfg.CallTimeout)
}
