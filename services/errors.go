package services

import (
	"errors"
	"fmt"
	"strings"
)

// ErrMissingIntentID is returned when the gateway accepts a create call but
// its answer has no intentId.
var ErrMissingIntentID = errors.New("gateway response missing intentId")

// MissingConfigurationError lists the Context fields that could not be resolved.
type MissingConfigurationError struct {
	Fields []string
}

func (e *MissingConfigurationError) Error() string {
	return fmt.Sprintf("Missing configuration: %s. Please configure these values first.", strings.Join(e.Fields, ", "))
}

type Phase string

const (
	PhaseEnrich  Phase = "enrich"
	PhaseCreate  Phase = "create"
	PhaseProcess Phase = "process"
)

// PhaseError reports which orchestration step failed. IntentID is set when
// the intent was created before the failure.
type PhaseError struct {
	Phase    Phase
	IntentID string
	Err      error
}

func (e *PhaseError) Error() string {
	switch e.Phase {
	case PhaseEnrich:
		return "Error fetching parent intent details: " + e.Err.Error()
	case PhaseProcess:
		return fmt.Sprintf("Process failed for Intent ID %s: %v", e.IntentID, e.Err)
	default:
		return "Error creating intent: " + e.Err.Error()
	}
}

func (e *PhaseError) Unwrap() error {
	return e.Err
}
