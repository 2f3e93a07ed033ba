package orchestrator

import (
	"math"
	"time"

	"github.com/voicekit-labs/cascade/pkg/backend"
)

// Tag labels the terminal outcome of a transcription request.
type Tag string

const (
	// TagPrimary: the primary backend produced an accepted result.
	TagPrimary Tag = "primary"

	// TagFallback: a fallback chain entry produced the accepted result.
	TagFallback Tag = "fallback"

	// TagDegraded: no attempt was accepted, but the primary inference itself
	// succeeded and its result is returned as a quality downgrade.
	TagDegraded Tag = "degraded"

	// TagFailed: every attempt failed outright; the result carries no text.
	TagFailed Tag = "failed"
)

// Result is the outcome of a single inference attempt, or — after the
// orchestrator relabels it — the terminal outcome returned to the caller.
// Results are created fresh per attempt and never mutated; the orchestrator
// works on copies when retagging.
type Result struct {
	// Text is the transcript. Empty on failure.
	Text string

	// Success reports whether the backend call itself succeeded, independent
	// of whether the result met acceptance thresholds.
	Success bool

	// ProcessingTime is the wall-clock duration of the backend call.
	ProcessingTime time.Duration

	// RTF is the real-time factor: ProcessingTime / audio duration. +Inf when
	// the audio duration is unknown (≤ 0) or the call failed.
	RTF float64

	// MemoryDeltaMB is peak-minus-baseline process memory observed during the
	// call, in megabytes.
	MemoryDeltaMB float64

	// ConfigUsed identifies the backend variant that produced this result.
	ConfigUsed backend.Config

	// BackendName is the reported backend label. Accepted fallback results
	// carry a "fallback-" prefix for observability.
	BackendName string

	// Tag labels the outcome.
	Tag Tag

	// ErrorMessage holds the backend error text when Success is false.
	ErrorMessage string
}

// computeRTF returns processing/audio as a ratio, or +Inf when the audio
// duration is not positive.
func computeRTF(processing, audio time.Duration) float64 {
	if audio <= 0 {
		return math.Inf(1)
	}
	return processing.Seconds() / audio.Seconds()
}
