package dag

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorCategory classifies an execution failure.
type ErrorCategory string

const (
	ErrTimeout            ErrorCategory = "TIMEOUT"
	ErrElementNotFound    ErrorCategory = "ELEMENT_NOT_FOUND"
	ErrActionFailed       ErrorCategory = "ACTION_FAILED"
	ErrNavigationError    ErrorCategory = "NAVIGATION_ERROR"
	ErrVerificationFailed ErrorCategory = "VERIFICATION_FAILED"
	ErrSystemError        ErrorCategory = "SYSTEM_ERROR"
	ErrUnknown            ErrorCategory = "UNKNOWN"
)

// TimeoutReason distinguishes the two timeout flavors.
type TimeoutReason string

const (
	TimeoutMaxIterations TimeoutReason = "MAX_ITERATIONS"
	TimeoutTimeLimit     TimeoutReason = "TIME_LIMIT"
)

// SuggestedAction is the classifier's recovery hint.
type SuggestedAction string

const (
	SuggestRetry    SuggestedAction = "retry"
	SuggestContinue SuggestedAction = "continue"
	SuggestSkip     SuggestedAction = "skip"
	SuggestAbort    SuggestedAction = "abort"
)

// StructuredError is the typed classification of a task failure. It is a
// value carried on results, not a flow-control mechanism.
type StructuredError struct {
	Category        ErrorCategory     `json:"category"`
	Message         string            `json:"message"`
	Progress        *ProgressMetrics  `json:"progress,omitempty"`
	TimeoutReason   TimeoutReason     `json:"timeout_reason,omitempty"`
	IsRecoverable   bool              `json:"is_recoverable"`
	SuggestedAction SuggestedAction   `json:"suggested_action"`
	Context         map[string]string `json:"context,omitempty"`
}

// Error implements the error interface.
func (e *StructuredError) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Category))
	if e.TimeoutReason != "" {
		b.WriteString("/")
		b.WriteString(string(e.TimeoutReason))
	}
	b.WriteString(": ")
	b.WriteString(e.Message)
	return b.String()
}

// NewSystemError wraps an unexpected error as a non-recoverable failure.
func NewSystemError(err error) *StructuredError {
	return &StructuredError{
		Category:        ErrSystemError,
		Message:         err.Error(),
		IsRecoverable:   false,
		SuggestedAction: SuggestAbort,
	}
}

// NewTimeoutError builds a TIMEOUT error with the given reason. A task
// that ran out of budget while making real progress is worth finishing
// where it left off; one that went nowhere earns a fresh retry.
func NewTimeoutError(reason TimeoutReason, msg string, progress *ProgressMetrics) *StructuredError {
	suggestion := SuggestRetry
	if progress != nil && progress.HasMeaningfulProgress() {
		suggestion = SuggestContinue
	}
	return &StructuredError{
		Category:        ErrTimeout,
		Message:         msg,
		TimeoutReason:   reason,
		Progress:        progress,
		IsRecoverable:   true,
		SuggestedAction: suggestion,
	}
}

// Graph manipulation errors.
var (
	ErrTaskExists        = errors.New("task id already exists")
	ErrTaskNotFound      = errors.New("task not found")
	ErrCycleDetected     = errors.New("dependency would create a cycle")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrAlreadyClaimed    = errors.New("task already claimed by another worker")
)

// TransitionError describes a rejected status transition.
func TransitionError(id string, from, to Status) error {
	return fmt.Errorf("%w: task %s cannot go %s -> %s", ErrInvalidTransition, id, from, to)
}
