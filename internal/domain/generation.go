package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Stage identifies the chargeable pipeline stage a credit amount belongs to.
type Stage string

const (
	StageSample Stage = "sample_processing"
	StageFinal  Stage = "final_processing"
)

// GenerationRequest is the persistent state of one creative generation saga.
// Status changes only through the transition table; every mutation refreshes
// UpdatedAt.
type GenerationRequest struct {
	ID                    string
	UserID                string
	ProjectID             string
	InputPrompt           string
	StyleGuidance         string
	InputParameters       map[string]any
	Status                GenerationStatus
	SampleAssets          []AssetInfo
	SelectedSampleID      string
	DesiredResolution     string
	FinalAsset            *AssetInfo
	CreditsCostSample     float64
	CreditsCostFinal      float64
	CreditsRefundedSample float64
	CreditsRefundedFinal  float64
	RegenerationCount     int
	ErrorMessage          string
	ErrorDetails          map[string]any
	Version               int64
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// NewGenerationRequest creates a request in PENDING with a fresh identifier.
func NewGenerationRequest(userID, projectID, prompt, style string, params map[string]any, now time.Time) *GenerationRequest {
	if params == nil {
		params = map[string]any{}
	}
	return &GenerationRequest{
		ID:              uuid.NewString(),
		UserID:          userID,
		ProjectID:       projectID,
		InputPrompt:     prompt,
		StyleGuidance:   style,
		InputParameters: params,
		Status:          StatusPending,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// Apply runs event through the transition table. A rejected event returns a
// *TransitionError and leaves the request untouched.
func (g *GenerationRequest) Apply(event Event, now time.Time) error {
	next, ok := NextStatus(g.Status, event)
	if !ok {
		return &TransitionError{From: g.Status, Event: event}
	}
	g.Status = next
	g.UpdatedAt = now
	return nil
}

// OwnedBy reports whether userID initiated the request.
func (g *GenerationRequest) OwnedBy(userID string) bool {
	return userID != "" && g.UserID == userID
}

// RecordCharge adds a deducted amount to the cumulative cost of stage.
func (g *GenerationRequest) RecordCharge(stage Stage, amount float64, now time.Time) error {
	if amount < 0 {
		return fmt.Errorf("%w: negative charge %v", ErrInvalidInput, amount)
	}
	switch stage {
	case StageSample:
		g.CreditsCostSample += amount
	case StageFinal:
		g.CreditsCostFinal += amount
	default:
		return fmt.Errorf("%w: unknown stage %q", ErrInvalidInput, stage)
	}
	g.UpdatedAt = now
	return nil
}

// RefundableAmount is what was charged for stage and not yet refunded.
func (g *GenerationRequest) RefundableAmount(stage Stage) float64 {
	var remaining float64
	switch stage {
	case StageSample:
		remaining = g.CreditsCostSample - g.CreditsRefundedSample
	case StageFinal:
		remaining = g.CreditsCostFinal - g.CreditsRefundedFinal
	}
	if remaining < 0 {
		return 0
	}
	return remaining
}

// RecordRefund notes a successful refund. Amounts above the refundable
// remainder are rejected.
func (g *GenerationRequest) RecordRefund(stage Stage, amount float64, now time.Time) error {
	if amount < 0 || amount > g.RefundableAmount(stage) {
		return fmt.Errorf("%w: refund %v exceeds refundable %v for %s", ErrInvalidInput, amount, g.RefundableAmount(stage), stage)
	}
	switch stage {
	case StageSample:
		g.CreditsRefundedSample += amount
	case StageFinal:
		g.CreditsRefundedFinal += amount
	}
	g.UpdatedAt = now
	return nil
}

// ChargeReference is the idempotency key for the current charge of stage.
// Each regeneration starts a new round with its own references, so a final
// generation after a regeneration is charged again.
func (g *GenerationRequest) ChargeReference(stage Stage) string {
	name := "sample"
	if stage == StageFinal {
		name = "final"
	}
	if g.RegenerationCount > 0 {
		return fmt.Sprintf("%s:%s:regen-%d", g.ID, name, g.RegenerationCount)
	}
	return g.ID + ":" + name
}

// ChargedAmount is the cumulative amount deducted for stage.
func (g *GenerationRequest) ChargedAmount(stage Stage) float64 {
	if stage == StageFinal {
		return g.CreditsCostFinal
	}
	return g.CreditsCostSample
}

// RefundReference is the idempotency key for refunding the current charge of stage.
func (g *GenerationRequest) RefundReference(stage Stage) string {
	return g.ChargeReference(stage) + ":refund"
}

// Fail moves the request to FAILED and records the reason.
func (g *GenerationRequest) Fail(message string, details map[string]any, now time.Time) error {
	if err := g.Apply(EventFail, now); err != nil {
		return err
	}
	g.ErrorMessage = message
	g.ErrorDetails = details
	return nil
}

// RejectContent moves the request to CONTENT_REJECTED and records the reason.
func (g *GenerationRequest) RejectContent(message string, details map[string]any, now time.Time) error {
	if err := g.Apply(EventRejectContent, now); err != nil {
		return err
	}
	g.ErrorMessage = message
	g.ErrorDetails = details
	return nil
}

// CompleteSamples stores the sample results and moves to AWAITING_SELECTION.
// Samples are appended by asset id, so a replayed delivery adds nothing.
func (g *GenerationRequest) CompleteSamples(samples []AssetInfo, now time.Time) error {
	if !g.Status.CanApply(EventSamplesReady) {
		return &TransitionError{From: g.Status, Event: EventSamplesReady}
	}
	for _, s := range samples {
		if !s.Valid() {
			return fmt.Errorf("%w: sample asset requires assetId and url", ErrInvalidInput)
		}
	}
	g.appendSamples(samples)
	return g.Apply(EventSamplesReady, now)
}

func (g *GenerationRequest) appendSamples(samples []AssetInfo) {
	seen := make(map[string]struct{}, len(g.SampleAssets))
	for _, s := range g.SampleAssets {
		seen[s.AssetID] = struct{}{}
	}
	for _, s := range samples {
		if _, dup := seen[s.AssetID]; dup {
			continue
		}
		seen[s.AssetID] = struct{}{}
		g.SampleAssets = append(g.SampleAssets, s)
	}
}

// HasSample reports whether assetID is one of the delivered samples.
func (g *GenerationRequest) HasSample(assetID string) bool {
	for _, s := range g.SampleAssets {
		if s.AssetID == assetID {
			return true
		}
	}
	return false
}

// CheckSelection validates a sample pick without mutating the request.
func (g *GenerationRequest) CheckSelection(assetID string) error {
	if !g.Status.CanApply(EventSampleSelected) || g.SelectedSampleID != "" {
		return &TransitionError{From: g.Status, Event: EventSampleSelected}
	}
	if strings.TrimSpace(assetID) == "" || !g.HasSample(assetID) {
		return fmt.Errorf("%w: sample %q not found on request %s", ErrInvalidSelection, assetID, g.ID)
	}
	return nil
}

// SelectSample records the pick and moves to PROCESSING_FINAL.
func (g *GenerationRequest) SelectSample(assetID, resolution string, now time.Time) error {
	if err := g.CheckSelection(assetID); err != nil {
		return err
	}
	if err := g.Apply(EventSampleSelected, now); err != nil {
		return err
	}
	g.SelectedSampleID = assetID
	g.DesiredResolution = resolution
	return nil
}

// CheckRegeneration validates a regeneration without mutating the request.
func (g *GenerationRequest) CheckRegeneration() error {
	if !g.Status.CanApply(EventRegenerate) {
		return &TransitionError{From: g.Status, Event: EventRegenerate}
	}
	return nil
}

// Regenerate applies prompt overrides, clears previous results and re-enters
// PROCESSING_SAMPLES. Empty overrides keep the current values.
func (g *GenerationRequest) Regenerate(prompt, style string, now time.Time) error {
	if err := g.Apply(EventRegenerate, now); err != nil {
		return err
	}
	if strings.TrimSpace(prompt) != "" {
		g.InputPrompt = prompt
	}
	if strings.TrimSpace(style) != "" {
		g.StyleGuidance = style
	}
	g.SampleAssets = nil
	g.SelectedSampleID = ""
	g.DesiredResolution = ""
	g.ErrorMessage = ""
	g.ErrorDetails = nil
	return nil
}

// Complete stores the final asset and moves to COMPLETED.
func (g *GenerationRequest) Complete(asset AssetInfo, now time.Time) error {
	if !g.Status.CanApply(EventFinalReady) {
		return &TransitionError{From: g.Status, Event: EventFinalReady}
	}
	if !asset.Valid() {
		return fmt.Errorf("%w: final asset requires assetId and url", ErrInvalidInput)
	}
	if err := g.Apply(EventFinalReady, now); err != nil {
		return err
	}
	g.FinalAsset = &asset
	return nil
}

// ActiveStage is the chargeable stage the pipeline is working on, if any.
func (g *GenerationRequest) ActiveStage() Stage {
	if g.Status == StatusProcessingFinal {
		return StageFinal
	}
	return StageSample
}

// Clone returns a deep copy so stores never share mutable state with callers.
func (g *GenerationRequest) Clone() *GenerationRequest {
	if g == nil {
		return nil
	}
	c := *g
	c.InputParameters = cloneMap(g.InputParameters)
	c.ErrorDetails = cloneMap(g.ErrorDetails)
	if g.SampleAssets != nil {
		c.SampleAssets = make([]AssetInfo, len(g.SampleAssets))
		copy(c.SampleAssets, g.SampleAssets)
	}
	if g.FinalAsset != nil {
		fa := *g.FinalAsset
		fa.Metadata = cloneMap(g.FinalAsset.Metadata)
		c.FinalAsset = &fa
	}
	return &c
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
