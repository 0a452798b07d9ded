package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"orchestrator/internal/domain"
	"orchestrator/internal/infra"
	"orchestrator/internal/middleware"
	"orchestrator/internal/orchestration"
)

const maxBodyBytes = 1 << 20

// Orchestrator is the use-case surface the HTTP layer drives.
type Orchestrator interface {
	Initiate(ctx context.Context, in orchestration.InitiateInput) (*domain.GenerationRequest, error)
	GetGenerationStatus(ctx context.Context, id string) (*domain.GenerationRequest, error)
	TriggerSampleRegeneration(ctx context.Context, in orchestration.RegenerateInput) (*domain.GenerationRequest, error)
	SelectSampleAndInitiateFinal(ctx context.Context, in orchestration.SelectInput) (*domain.GenerationRequest, error)
	ProcessSampleResult(ctx context.Context, res domain.SampleResult) error
	ProcessFinalResult(ctx context.Context, res domain.FinalResult) error
	ProcessError(ctx context.Context, report domain.ErrorReport) error
}

type App struct {
	Orchestrator Orchestrator
	Logger       infra.Logger
	// Ready reports whether backing stores are reachable; nil means always ready.
	Ready func(ctx context.Context) error
}

func NewApp(o Orchestrator, logger infra.Logger, ready func(ctx context.Context) error) *App {
	return &App{Orchestrator: o, Logger: logger, Ready: ready}
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, code int, errCode, msg string) {
	a.json(w, code, map[string]string{"error": errCode, "message": msg})
}

func (a *App) currentUserID(r *http.Request) string {
	return middleware.UserIDFromContext(r.Context())
}

func (a *App) decode(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// fail maps a use-case error onto an HTTP response. System faults are logged
// and reported with a generic message.
func (a *App) fail(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		a.error(w, http.StatusNotFound, "not_found", "generation request not found")
	case errors.Is(err, domain.ErrForbidden):
		a.error(w, http.StatusForbidden, "forbidden", "generation request belongs to another user")
	case errors.Is(err, domain.ErrInvalidStateTransition):
		a.error(w, http.StatusConflict, "invalid_state", err.Error())
	case errors.Is(err, domain.ErrConflict):
		a.error(w, http.StatusConflict, "conflict", "generation request was modified concurrently, retry")
	case errors.Is(err, domain.ErrInvalidSelection):
		a.error(w, http.StatusBadRequest, "invalid_selection", err.Error())
	case errors.Is(err, domain.ErrInvalidInput):
		a.error(w, http.StatusBadRequest, "bad_request", err.Error())
	case errors.Is(err, domain.ErrInsufficientCredits):
		a.error(w, http.StatusPaymentRequired, "insufficient_credits", "insufficient credits")
	default:
		a.logger(r).Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		a.error(w, http.StatusInternalServerError, "internal", "the request could not be completed")
	}
}

func (a *App) logger(r *http.Request) *infra.Logger {
	l := a.Logger.With().Str("request_id", middleware.RequestIDFromContext(r.Context())).Logger()
	return &l
}
