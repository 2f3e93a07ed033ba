package orchestrator

import (
	"strings"

	"github.com/voicekit-labs/cascade/internal/history"
)

// Thresholds are the acceptance criteria an attempt must meet. Comparisons
// are inclusive: a result exactly at a threshold passes.
type Thresholds struct {
	// RTF is the maximum acceptable real-time factor.
	RTF float64

	// MemoryMB is the maximum acceptable peak-minus-baseline memory in MB.
	MemoryMB float64
}

// ErrorClassifier maps a failed attempt's error text to a trigger kind.
// It is an interface so collaborators with typed error codes can replace the
// default substring matching without touching orchestrator logic.
type ErrorClassifier interface {
	Classify(errMsg string) history.Trigger
}

// SubstringClassifier is the default [ErrorClassifier]: case-insensitive
// substring checks for "timeout", "memory", and "model", in that order, first
// match wins. Anything else is a generic error.
type SubstringClassifier struct{}

// Compile-time interface check.
var _ ErrorClassifier = SubstringClassifier{}

// Classify inspects errMsg and returns the matching trigger kind.
func (SubstringClassifier) Classify(errMsg string) history.Trigger {
	msg := strings.ToLower(errMsg)
	switch {
	case strings.Contains(msg, "timeout"):
		return history.TriggerTimeout
	case strings.Contains(msg, "memory"):
		return history.TriggerMemoryPressure
	case strings.Contains(msg, "model"):
		return history.TriggerModelUnavailable
	default:
		return history.TriggerError
	}
}

// Evaluator decides whether an attempt result is acceptable and, when it is
// not, classifies why the fallback path was triggered.
type Evaluator struct {
	thresholds Thresholds
	classifier ErrorClassifier
}

// NewEvaluator creates an Evaluator with the given thresholds. A nil
// classifier selects [SubstringClassifier].
func NewEvaluator(t Thresholds, classifier ErrorClassifier) *Evaluator {
	if classifier == nil {
		classifier = SubstringClassifier{}
	}
	return &Evaluator{thresholds: t, classifier: classifier}
}

// Thresholds returns the configured acceptance criteria.
func (e *Evaluator) Thresholds() Thresholds {
	return e.thresholds
}

// Accepts reports whether r succeeded and met both the RTF and memory
// thresholds.
func (e *Evaluator) Accepts(r Result) bool {
	return r.Success &&
		r.RTF <= e.thresholds.RTF &&
		r.MemoryDeltaMB <= e.thresholds.MemoryMB
}

// ClassifyTrigger returns the reason r was rejected. Hard failures are
// classified from their error message; threshold misses report which budget
// was blown. The classification is advisory — it drives logging and
// statistics, not control flow.
func (e *Evaluator) ClassifyTrigger(r Result) history.Trigger {
	if !r.Success {
		return e.classifier.Classify(r.ErrorMessage)
	}
	if r.RTF > e.thresholds.RTF {
		return history.TriggerRTFExceeded
	}
	if r.MemoryDeltaMB > e.thresholds.MemoryMB {
		return history.TriggerMemoryExceeded
	}
	return history.TriggerError
}
