package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound                 = errors.New("not found")
	ErrForbidden                = errors.New("forbidden")
	ErrInvalidInput             = errors.New("invalid input")
	ErrInvalidStateTransition   = errors.New("invalid state transition")
	ErrInvalidSelection         = errors.New("invalid sample selection")
	ErrInsufficientCredits      = errors.New("insufficient credits")
	ErrCreditServiceUnavailable = errors.New("credit service unavailable")
	ErrJobPublishFailure        = errors.New("job publish failure")
	ErrNotificationDelivery     = errors.New("notification delivery failure")
	ErrConflict                 = errors.New("concurrent modification")
)

// TransitionError describes a rejected state machine input.
type TransitionError struct {
	From  GenerationStatus
	Event Event
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid state transition: %s does not accept %s", e.From, e.Event)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidStateTransition }

// IsBusinessRule reports whether err is a user-facing rule violation rather
// than a system fault.
func IsBusinessRule(err error) bool {
	for _, target := range []error{
		ErrNotFound, ErrForbidden, ErrInvalidInput, ErrInvalidStateTransition,
		ErrInvalidSelection, ErrInsufficientCredits, ErrConflict,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
