package handlers

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	validation "github.com/go-ozzo/ozzo-validation/v4"

	"orchestrator/internal/domain"
	"orchestrator/internal/domain/jsoncfg"
	"orchestrator/internal/orchestration"
)

type createGenerationRequest struct {
	UserID        string `json:"userId"`
	ProjectID     string `json:"projectId"`
	Prompt        string `json:"prompt"`
	StyleGuidance string `json:"styleGuidance"`
	jsoncfg.GenerationParams
}

func (c createGenerationRequest) Validate() error {
	if err := validation.ValidateStruct(&c,
		validation.Field(&c.ProjectID, validation.Required, validation.Length(1, 128)),
		validation.Field(&c.Prompt, validation.Required, validation.Length(1, jsoncfg.MaxPromptLength)),
		validation.Field(&c.StyleGuidance, validation.Length(0, jsoncfg.MaxStyleLength)),
	); err != nil {
		return err
	}
	return c.GenerationParams.Validate()
}

type selectSampleRequest struct {
	UserID            string `json:"userId"`
	SelectedSampleID  string `json:"selectedSampleId"`
	DesiredResolution string `json:"desiredResolution"`
}

func (s selectSampleRequest) Validate() error {
	return validation.ValidateStruct(&s,
		validation.Field(&s.SelectedSampleID, validation.Required, validation.Length(1, 256)),
		validation.Field(&s.DesiredResolution, validation.Length(0, 32)),
	)
}

type regenerateRequest struct {
	UserID        string `json:"userId"`
	UpdatedPrompt string `json:"updatedPrompt"`
	UpdatedStyle  string `json:"updatedStyle"`
}

func (g regenerateRequest) Validate() error {
	return validation.ValidateStruct(&g,
		validation.Field(&g.UpdatedPrompt, validation.Length(0, jsoncfg.MaxPromptLength)),
		validation.Field(&g.UpdatedStyle, validation.Length(0, jsoncfg.MaxStyleLength)),
	)
}

type generationAccepted struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

type generationView struct {
	ID                    string             `json:"id"`
	UserID                string             `json:"userId"`
	ProjectID             string             `json:"projectId"`
	InputPrompt           string             `json:"inputPrompt"`
	StyleGuidance         string             `json:"styleGuidance,omitempty"`
	InputParameters       map[string]any     `json:"inputParameters"`
	Status                string             `json:"status"`
	SampleAssets          []domain.AssetInfo `json:"sampleAssets"`
	SelectedSampleID      string             `json:"selectedSampleId,omitempty"`
	DesiredResolution     string             `json:"desiredResolution,omitempty"`
	FinalAsset            *domain.AssetInfo  `json:"finalAsset,omitempty"`
	CreditsCostSample     float64            `json:"creditsCostSample"`
	CreditsCostFinal      float64            `json:"creditsCostFinal"`
	CreditsRefundedSample float64            `json:"creditsRefundedSample"`
	CreditsRefundedFinal  float64            `json:"creditsRefundedFinal"`
	RegenerationCount     int                `json:"regenerationCount"`
	ErrorMessage          string             `json:"errorMessage,omitempty"`
	ErrorDetails          map[string]any     `json:"errorDetails,omitempty"`
	CreatedAt             time.Time          `json:"createdAt"`
	UpdatedAt             time.Time          `json:"updatedAt"`
}

func viewOf(g *domain.GenerationRequest) generationView {
	samples := g.SampleAssets
	if samples == nil {
		samples = []domain.AssetInfo{}
	}
	return generationView{
		ID:                    g.ID,
		UserID:                g.UserID,
		ProjectID:             g.ProjectID,
		InputPrompt:           g.InputPrompt,
		StyleGuidance:         g.StyleGuidance,
		InputParameters:       g.InputParameters,
		Status:                string(g.Status),
		SampleAssets:          samples,
		SelectedSampleID:      g.SelectedSampleID,
		DesiredResolution:     g.DesiredResolution,
		FinalAsset:            g.FinalAsset,
		CreditsCostSample:     g.CreditsCostSample,
		CreditsCostFinal:      g.CreditsCostFinal,
		CreditsRefundedSample: g.CreditsRefundedSample,
		CreditsRefundedFinal:  g.CreditsRefundedFinal,
		RegenerationCount:     g.RegenerationCount,
		ErrorMessage:          g.ErrorMessage,
		ErrorDetails:          g.ErrorDetails,
		CreatedAt:             g.CreatedAt,
		UpdatedAt:             g.UpdatedAt,
	}
}

// authorize resolves the acting user. A userId in the body must match the token.
func (a *App) authorize(w http.ResponseWriter, r *http.Request, bodyUserID string) (string, bool) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return "", false
	}
	if bodyUserID = strings.TrimSpace(bodyUserID); bodyUserID != "" && bodyUserID != userID {
		a.error(w, http.StatusForbidden, "forbidden", "userId does not match the authenticated user")
		return "", false
	}
	return userID, true
}

func (a *App) CreateGeneration(w http.ResponseWriter, r *http.Request) {
	var req createGenerationRequest
	if err := a.decode(w, r, &req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	userID, ok := a.authorize(w, r, req.UserID)
	if !ok {
		return
	}
	req.ProjectID = strings.TrimSpace(req.ProjectID)
	req.Prompt = strings.TrimSpace(req.Prompt)
	req.StyleGuidance = strings.TrimSpace(req.StyleGuidance)
	req.GenerationParams.Normalize()
	if err := req.Validate(); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	gen, err := a.Orchestrator.Initiate(r.Context(), orchestration.InitiateInput{
		UserID:        userID,
		ProjectID:     req.ProjectID,
		Prompt:        req.Prompt,
		StyleGuidance: req.StyleGuidance,
		Params:        req.GenerationParams.ToMap(),
	})
	if err != nil {
		a.fail(w, r, err)
		return
	}
	w.Header().Set("Location", fmt.Sprintf("%s/%s", strings.TrimRight(r.URL.Path, "/"), gen.ID))
	a.json(w, http.StatusAccepted, generationAccepted{ID: gen.ID, Status: string(gen.Status)})
}

func (a *App) GetGeneration(w http.ResponseWriter, r *http.Request) {
	userID, ok := a.authorize(w, r, "")
	if !ok {
		return
	}
	gen, err := a.Orchestrator.GetGenerationStatus(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if !gen.OwnedBy(userID) {
		a.fail(w, r, domain.ErrForbidden)
		return
	}
	a.json(w, http.StatusOK, viewOf(gen))
}

func (a *App) SelectSample(w http.ResponseWriter, r *http.Request) {
	var req selectSampleRequest
	if err := a.decode(w, r, &req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	userID, ok := a.authorize(w, r, req.UserID)
	if !ok {
		return
	}
	req.SelectedSampleID = strings.TrimSpace(req.SelectedSampleID)
	req.DesiredResolution = strings.TrimSpace(req.DesiredResolution)
	if err := req.Validate(); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	gen, err := a.Orchestrator.SelectSampleAndInitiateFinal(r.Context(), orchestration.SelectInput{
		GenerationID:      chi.URLParam(r, "id"),
		UserID:            userID,
		SelectedSampleID:  req.SelectedSampleID,
		DesiredResolution: req.DesiredResolution,
	})
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusOK, viewOf(gen))
}

func (a *App) RegenerateSamples(w http.ResponseWriter, r *http.Request) {
	var req regenerateRequest
	if err := a.decode(w, r, &req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	userID, ok := a.authorize(w, r, req.UserID)
	if !ok {
		return
	}
	if err := req.Validate(); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	gen, err := a.Orchestrator.TriggerSampleRegeneration(r.Context(), orchestration.RegenerateInput{
		GenerationID:  chi.URLParam(r, "id"),
		UserID:        userID,
		UpdatedPrompt: strings.TrimSpace(req.UpdatedPrompt),
		UpdatedStyle:  strings.TrimSpace(req.UpdatedStyle),
	})
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusOK, viewOf(gen))
}
