// Package backend defines the Transcriber capability and the Config value that
// identifies one transcription backend variant.
//
// A backend variant is the combination of an implementation family (e.g.
// "whisper-native", "whisper-server", "openai"), a model identifier, and a
// numeric compute mode ("int8", "f16", ...). Device and thread count are tuning
// parameters: they influence how a backend runs but not which backend it is,
// so they are excluded from the identity key used for caching and statistics.
//
// Implementations must be safe for concurrent use. A single Transcriber
// instance may serve many concurrent Transcribe calls.
package backend

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrModelUnavailable indicates that a backend could not be constructed because
// the configured model (or implementation) is not available on this host.
// Factories must wrap this sentinel so the orchestrator can classify the
// failure correctly.
var ErrModelUnavailable = errors.New("backend: model unavailable")

// ErrNotRegistered is returned by [Registry.Create] when no factory has been
// registered under the requested implementation name.
var ErrNotRegistered = errors.New("backend: implementation not registered")

// Config identifies one transcription backend variant. It is immutable once
// constructed; the orchestrator never mutates a Config handed to it.
type Config struct {
	// Implementation selects the backend family (e.g. "whisper-native").
	Implementation string `yaml:"implementation"`

	// ModelID names the model within the implementation (e.g. "tiny.en",
	// a GGML file path, or a hosted model name like "whisper-1").
	ModelID string `yaml:"model"`

	// ComputeMode is the numeric/quantization mode (e.g. "int8", "f16").
	ComputeMode string `yaml:"compute"`

	// Device is the compute device hint (e.g. "cpu", "cuda:0"). Tuning only.
	Device string `yaml:"device"`

	// Threads is the worker thread count for CPU inference. Tuning only.
	Threads int `yaml:"threads"`
}

// Key returns the stable identity key for this config:
// implementation|model|compute. Device and Threads are deliberately excluded.
func (c Config) Key() string {
	return c.Implementation + "|" + c.ModelID + "|" + c.ComputeMode
}

// Name returns a human-readable label for log messages and result reporting.
func (c Config) Name() string {
	return c.Implementation + "-" + c.ModelID
}

// Transcriber is the capability consumed by the fallback orchestrator: turn
// the audio behind audioRef into text using the variant described by cfg.
//
// audioRef is an opaque handle (typically a file path) passed through
// unmodified. Implementations must respect ctx cancellation and surface
// failures as error values; the orchestrator inspects error text to classify
// timeout / memory / model-unavailable conditions.
type Transcriber interface {
	Transcribe(ctx context.Context, audioRef string, cfg Config) (string, error)
}

// Factory constructs a Transcriber for the given config. Construction is the
// only place allowed to fail with an [ErrModelUnavailable]-class error.
type Factory func(cfg Config) (Transcriber, error)

// Registry maps implementation names to their Factory functions.
// It is safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register registers a factory under name. Subsequent calls with the same
// name overwrite the previous registration.
func (r *Registry) Register(name string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = factory
}

// Create constructs a Transcriber for cfg by looking up the factory registered
// under cfg.Implementation. An unknown implementation is a model-unavailable
// class failure.
func (r *Registry) Create(cfg Config) (Transcriber, error) {
	r.mu.RLock()
	factory, ok := r.factories[cfg.Implementation]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %w: unknown implementation %q (model %q)",
			ErrModelUnavailable, ErrNotRegistered, cfg.Implementation, cfg.ModelID)
	}
	return factory(cfg)
}

// Names returns the registered implementation names. Intended for
// configuration validation and startup logging.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	return names
}
