package handlers

import (
	"net/http"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"orchestrator/internal/domain"
)

type callbackAck struct {
	Status string `json:"status"`
}

// Callback handlers always acknowledge a well-formed delivery with 200, so the
// pipeline does not redeliver results the service has already seen or
// cannot use. Only undecodable or invalid payloads get 400.

func (a *App) SampleResultCallback(w http.ResponseWriter, r *http.Request) {
	var res domain.SampleResult
	if !a.decodeCallback(w, r, &res) {
		return
	}
	a.ack(w, r, res.GenerationID, "sample_result", a.Orchestrator.ProcessSampleResult(r.Context(), res))
}

func (a *App) FinalResultCallback(w http.ResponseWriter, r *http.Request) {
	var res domain.FinalResult
	if !a.decodeCallback(w, r, &res) {
		return
	}
	a.ack(w, r, res.GenerationID, "final_result", a.Orchestrator.ProcessFinalResult(r.Context(), res))
}

func (a *App) ErrorCallback(w http.ResponseWriter, r *http.Request) {
	var report domain.ErrorReport
	if !a.decodeCallback(w, r, &report) {
		return
	}
	a.ack(w, r, report.GenerationID, "error", a.Orchestrator.ProcessError(r.Context(), report))
}

func (a *App) decodeCallback(w http.ResponseWriter, r *http.Request, dst validation.Validatable) bool {
	if err := a.decode(w, r, dst); err != nil {
		a.logger(r).Warn().Err(err).Str("path", r.URL.Path).Msg("callback: malformed payload")
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return false
	}
	if err := dst.Validate(); err != nil {
		a.logger(r).Warn().Err(err).Str("path", r.URL.Path).Msg("callback: invalid payload")
		a.error(w, http.StatusBadRequest, "bad_request", err.Error())
		return false
	}
	return true
}

func (a *App) ack(w http.ResponseWriter, r *http.Request, generationID, kind string, err error) {
	if err != nil {
		a.logger(r).Error().Err(err).Str("generation_id", generationID).Str("callback", kind).Msg("callback: processing failed")
		a.json(w, http.StatusOK, callbackAck{Status: "error_processing"})
		return
	}
	a.json(w, http.StatusOK, callbackAck{Status: "received"})
}
