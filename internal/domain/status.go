package domain

// GenerationStatus enumerates the lifecycle states of a generation request.
type GenerationStatus string

const (
	StatusPending           GenerationStatus = "PENDING"
	StatusValidatingCredits GenerationStatus = "VALIDATING_CREDITS"
	StatusPublishingToQueue GenerationStatus = "PUBLISHING_TO_QUEUE"
	StatusProcessingSamples GenerationStatus = "PROCESSING_SAMPLES"
	StatusAwaitingSelection GenerationStatus = "AWAITING_SELECTION"
	StatusProcessingFinal   GenerationStatus = "PROCESSING_FINAL"
	StatusCompleted         GenerationStatus = "COMPLETED"
	StatusFailed            GenerationStatus = "FAILED"
	StatusContentRejected   GenerationStatus = "CONTENT_REJECTED"
)

// IsTerminal reports whether no pipeline work is outstanding for the status.
// FAILED and CONTENT_REJECTED can still be left through a regeneration.
func (s GenerationStatus) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusContentRejected:
		return true
	}
	return false
}

// Valid reports whether s is a known status.
func (s GenerationStatus) Valid() bool {
	switch s {
	case StatusPending, StatusValidatingCredits, StatusPublishingToQueue,
		StatusProcessingSamples, StatusAwaitingSelection, StatusProcessingFinal,
		StatusCompleted, StatusFailed, StatusContentRejected:
		return true
	}
	return false
}

// Event names a state machine input.
type Event string

const (
	EventValidateCredits Event = "validate_credits"
	EventCreditsDeducted Event = "credits_deducted"
	EventJobPublished    Event = "job_published"
	EventSamplesReady    Event = "samples_ready"
	EventSampleSelected  Event = "sample_selected"
	EventFinalReady      Event = "final_ready"
	EventFail            Event = "fail"
	EventRejectContent   Event = "reject_content"
	EventRegenerate      Event = "regenerate"
)

type transitionKey struct {
	from  GenerationStatus
	event Event
}

// transitions is the complete state machine. Anything not listed is rejected.
var transitions = func() map[transitionKey]GenerationStatus {
	t := map[transitionKey]GenerationStatus{
		{StatusPending, EventValidateCredits}:           StatusValidatingCredits,
		{StatusValidatingCredits, EventCreditsDeducted}: StatusPublishingToQueue,
		{StatusPublishingToQueue, EventJobPublished}:    StatusProcessingSamples,
		{StatusProcessingSamples, EventSamplesReady}:    StatusAwaitingSelection,
		{StatusAwaitingSelection, EventSampleSelected}:  StatusProcessingFinal,
		{StatusProcessingFinal, EventFinalReady}:        StatusCompleted,

		{StatusAwaitingSelection, EventRegenerate}: StatusProcessingSamples,
		{StatusFailed, EventRegenerate}:            StatusProcessingSamples,
		{StatusContentRejected, EventRegenerate}:   StatusProcessingSamples,
	}
	for _, s := range []GenerationStatus{
		StatusPending, StatusValidatingCredits, StatusPublishingToQueue,
		StatusProcessingSamples, StatusAwaitingSelection, StatusProcessingFinal,
	} {
		t[transitionKey{s, EventFail}] = StatusFailed
		t[transitionKey{s, EventRejectContent}] = StatusContentRejected
	}
	return t
}()

// NextStatus returns the state reached by applying event in from.
func NextStatus(from GenerationStatus, event Event) (GenerationStatus, bool) {
	next, ok := transitions[transitionKey{from, event}]
	return next, ok
}

// CanApply reports whether event is accepted in status s.
func (s GenerationStatus) CanApply(event Event) bool {
	_, ok := NextStatus(s, event)
	return ok
}
