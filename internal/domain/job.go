package domain

// JobType enumerates the kinds of work published to the generation pipeline.
type JobType string

const (
	JobTypeSampleGeneration   JobType = "sample_generation"
	JobTypeSampleRegeneration JobType = "sample_regeneration"
	JobTypeFinalGeneration    JobType = "final_generation"
)

// CallbackAddresses tells the pipeline where to report results.
type CallbackAddresses struct {
	SampleResult string `json:"sampleResult,omitempty"`
	FinalResult  string `json:"finalResult,omitempty"`
	Error        string `json:"error"`
}

// JobMessage is the payload consumed by the downstream pipeline.
type JobMessage struct {
	GenerationID      string            `json:"generationId"`
	UserID            string            `json:"userId"`
	ProjectID         string            `json:"projectId"`
	InputPrompt       string            `json:"inputPrompt"`
	StyleGuidance     string            `json:"styleGuidance,omitempty"`
	InputParameters   map[string]any    `json:"inputParameters"`
	JobType           JobType           `json:"jobType"`
	CallbackAddresses CallbackAddresses `json:"callbackAddresses"`
	SelectedSampleID  string            `json:"selectedSampleId,omitempty"`
	DesiredResolution string            `json:"desiredResolution,omitempty"`
	// IdempotencyKey lets consumers discard redelivered copies of the same job.
	IdempotencyKey string `json:"idempotencyKey"`
}
