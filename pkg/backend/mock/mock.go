// Package mock provides test doubles for the backend package interfaces.
//
// Use Transcriber to script per-call results and inspect which audio refs and
// configs were delivered. The zero value returns empty text and no error.
//
// Example:
//
//	tr := &mock.Transcriber{Text: "hello world"}
//	text, err := tr.Transcribe(ctx, "clip.wav", cfg)
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/voicekit-labs/cascade/pkg/backend"
)

// TranscribeCall records a single invocation of Transcriber.Transcribe.
type TranscribeCall struct {
	// AudioRef is the audio handle passed to Transcribe.
	AudioRef string
	// Cfg is the backend config passed to Transcribe.
	Cfg backend.Config
}

// Transcriber is a mock implementation of backend.Transcriber.
type Transcriber struct {
	mu sync.Mutex

	// Text is the transcript returned on success.
	Text string

	// Err, if non-nil, is returned as the error from Transcribe.
	Err error

	// Delay, if non-zero, makes Transcribe sleep before returning (or until
	// ctx is cancelled, whichever comes first).
	Delay time.Duration

	// Fn, if non-nil, overrides the canned behaviour entirely.
	Fn func(ctx context.Context, audioRef string, cfg backend.Config) (string, error)

	// Calls records every invocation.
	Calls []TranscribeCall
}

// Compile-time interface assertion.
var _ backend.Transcriber = (*Transcriber)(nil)

// Transcribe records the call and returns the scripted result.
func (t *Transcriber) Transcribe(ctx context.Context, audioRef string, cfg backend.Config) (string, error) {
	t.mu.Lock()
	t.Calls = append(t.Calls, TranscribeCall{AudioRef: audioRef, Cfg: cfg})
	fn, delay, text, err := t.Fn, t.Delay, t.Text, t.Err
	t.mu.Unlock()

	if fn != nil {
		return fn(ctx, audioRef, cfg)
	}
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if err != nil {
		return "", err
	}
	return text, nil
}

// CallCount returns the number of recorded Transcribe invocations.
func (t *Transcriber) CallCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.Calls)
}
