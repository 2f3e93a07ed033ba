// Package whispernative provides a [backend.Transcriber] backed by the
// whisper.cpp CGO bindings. The whisper.cpp static library (libwhisper.a) and
// headers (whisper.h) must be available at link time via LIBRARY_PATH and
// C_INCLUDE_PATH environment variables.
//
// The model is loaded once per Transcriber and shared across all concurrent
// Transcribe calls; each call creates its own whisper context, which is the
// unit of thread confinement in the bindings.
package whispernative

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/voicekit-labs/cascade/pkg/backend"
	"github.com/voicekit-labs/cascade/pkg/wav"
)

const defaultLanguage = "en"

// Compile-time assertion that Transcriber implements backend.Transcriber.
var _ backend.Transcriber = (*Transcriber)(nil)

// Option is a functional option for configuring a [Transcriber].
type Option func(*Transcriber)

// WithLanguage sets the BCP-47 language code for transcription
// (e.g. "en", "de", "fr"). Defaults to "en".
func WithLanguage(lang string) Option {
	return func(t *Transcriber) { t.language = lang }
}

// Transcriber runs whisper.cpp inference in-process. Safe for concurrent use.
type Transcriber struct {
	model    whisperlib.Model
	language string
}

// New creates a Transcriber that loads the whisper.cpp model from the given
// GGML file path. The caller must call Close when the transcriber is no
// longer needed; the orchestrator's cache does this on ClearCache.
func New(modelPath string, opts ...Option) (*Transcriber, error) {
	if modelPath == "" {
		return nil, errors.New("whispernative: modelPath must not be empty")
	}
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("whispernative: load model %q: %w", modelPath, err)
	}

	t := &Transcriber{
		model:    model,
		language: defaultLanguage,
	}
	for _, o := range opts {
		o(t)
	}
	return t, nil
}

// Close releases the whisper model. Must be called when the transcriber is no
// longer needed.
func (t *Transcriber) Close() error {
	if t.model != nil {
		return t.model.Close()
	}
	return nil
}

// Transcribe decodes the WAV file at audioRef and runs whisper.cpp inference
// over it, returning the concatenated segment text.
func (t *Transcriber) Transcribe(ctx context.Context, audioRef string, cfg backend.Config) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("whispernative: context already cancelled: %w", err)
	}

	samples, _, err := wav.DecodeMono(audioRef)
	if err != nil {
		return "", fmt.Errorf("whispernative: %w", err)
	}

	// Each context is NOT thread-safe, but the model can be shared across
	// goroutines.
	wctx, err := t.model.NewContext()
	if err != nil {
		return "", fmt.Errorf("whispernative: create context: %w", err)
	}

	if err := wctx.SetLanguage(t.language); err != nil {
		slog.Warn("whispernative: failed to set language, using default",
			"language", t.language, "error", err)
	}
	if cfg.Threads > 0 {
		wctx.SetThreads(uint(cfg.Threads))
	}

	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return "", fmt.Errorf("whispernative: process audio: %w", err)
	}

	var parts []string
	for {
		segment, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("whispernative: read segment: %w", err)
		}
		text := strings.TrimSpace(segment.Text)
		if text != "" {
			parts = append(parts, text)
		}
	}

	return strings.Join(parts, " "), nil
}
