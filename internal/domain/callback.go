package domain

import (
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// SampleResult is the pipeline's report that sample assets are ready.
type SampleResult struct {
	GenerationID string      `json:"generationId"`
	Status       string      `json:"status"`
	Samples      []AssetInfo `json:"samples"`
}

func (r SampleResult) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.GenerationID, validation.Required),
		validation.Field(&r.Status, validation.In(string(StatusAwaitingSelection))),
		validation.Field(&r.Samples, validation.Required),
	)
}

// FinalResult is the pipeline's report that the final asset is ready.
type FinalResult struct {
	GenerationID string    `json:"generationId"`
	Status       string    `json:"status"`
	FinalAsset   AssetInfo `json:"finalAsset"`
}

func (r FinalResult) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.GenerationID, validation.Required),
		validation.Field(&r.Status, validation.In(string(StatusCompleted))),
		validation.Field(&r.FinalAsset),
	)
}

// ErrorReport is the pipeline's report that a job failed.
type ErrorReport struct {
	GenerationID string         `json:"generationId"`
	ErrorCode    string         `json:"errorCode,omitempty"`
	ErrorMessage string         `json:"errorMessage"`
	ErrorDetails map[string]any `json:"errorDetails,omitempty"`
	FailedStage  Stage          `json:"failedStage,omitempty"`
}

func (e ErrorReport) Validate() error {
	return validation.ValidateStruct(&e,
		validation.Field(&e.GenerationID, validation.Required),
		validation.Field(&e.FailedStage, validation.In(StageSample, StageFinal)),
		validation.Field(&e.ErrorMessage, validation.Length(0, 4096)),
	)
}

// ContentPolicyViolation reports whether the failure was a moderation
// rejection rather than a system fault.
func (e ErrorReport) ContentPolicyViolation() bool {
	return strings.Contains(strings.ToUpper(e.ErrorCode), "CONTENT_POLICY")
}
