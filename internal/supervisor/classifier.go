package supervisor

import (
	"strings"

	"github.com/webpilot-org/webpilot/internal/dag"
)

// Classifier turns raw error text into a structured error with a
// default recovery suggestion. Progress context refines the suggestion:
// a timeout with real progress is worth continuing, one without earns a
// fresh retry. attempts counts prior recovery retries of the same task;
// a missing element is retried once, then skipped.
type Classifier struct{}

// NewClassifier returns a ready classifier.
func NewClassifier() *Classifier { return &Classifier{} }

// Classify categorizes the error message. Already-structured errors are
// passed through untouched.
func (c *Classifier) Classify(err error, progress *dag.ProgressMetrics, attempts int) *dag.StructuredError {
	if serr, ok := err.(*dag.StructuredError); ok {
		if serr.Progress == nil {
			serr.Progress = progress
		}
		return serr
	}

	msg := err.Error()
	lower := strings.ToLower(msg)
	serr := &dag.StructuredError{
		Message:  msg,
		Progress: progress,
	}

	switch {
	case strings.Contains(lower, "max iterations"), strings.Contains(lower, "no completion after"):
		serr.Category = dag.ErrTimeout
		serr.TimeoutReason = dag.TimeoutMaxIterations
	case strings.Contains(lower, "deadline"), strings.Contains(lower, "timeout"), strings.Contains(lower, "timed out"):
		serr.Category = dag.ErrTimeout
		serr.TimeoutReason = dag.TimeoutTimeLimit
	case strings.Contains(lower, "not found"), strings.Contains(lower, "no such element"), strings.Contains(lower, "stale element"):
		serr.Category = dag.ErrElementNotFound
	case strings.Contains(lower, "navigate"), strings.Contains(lower, "navigation"), strings.Contains(lower, "net::"), strings.Contains(lower, "dns"):
		serr.Category = dag.ErrNavigationError
	case strings.Contains(lower, "verification"), strings.Contains(lower, "not verified"):
		serr.Category = dag.ErrVerificationFailed
	case strings.Contains(lower, "click"), strings.Contains(lower, "type"), strings.Contains(lower, "scroll"), strings.Contains(lower, "press"):
		serr.Category = dag.ErrActionFailed
	case strings.Contains(lower, "panic"), strings.Contains(lower, "connection closed"), strings.Contains(lower, "browser"):
		serr.Category = dag.ErrSystemError
	default:
		serr.Category = dag.ErrUnknown
	}

	c.suggest(serr, attempts)
	return serr
}

// suggest fills recoverability and the default action per category.
func (c *Classifier) suggest(serr *dag.StructuredError, attempts int) {
	switch serr.Category {
	case dag.ErrTimeout:
		serr.IsRecoverable = true
		if serr.Progress != nil && serr.Progress.HasMeaningfulProgress() {
			serr.SuggestedAction = dag.SuggestContinue
		} else {
			serr.SuggestedAction = dag.SuggestRetry
		}
	case dag.ErrElementNotFound:
		serr.IsRecoverable = true
		if attempts == 0 {
			serr.SuggestedAction = dag.SuggestRetry
		} else {
			serr.SuggestedAction = dag.SuggestSkip
		}
	case dag.ErrNavigationError, dag.ErrActionFailed:
		serr.IsRecoverable = true
		serr.SuggestedAction = dag.SuggestRetry
	case dag.ErrVerificationFailed:
		serr.IsRecoverable = true
		serr.SuggestedAction = dag.SuggestSkip
	case dag.ErrSystemError:
		serr.IsRecoverable = false
		serr.SuggestedAction = dag.SuggestAbort
	default:
		serr.IsRecoverable = true
		serr.SuggestedAction = dag.SuggestSkip
	}
}
