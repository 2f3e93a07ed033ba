// Package openai provides a [backend.Transcriber] backed by the hosted
// OpenAI transcription API. It is the chain entry of last resort for
// deployments whose local hardware cannot meet the acceptance thresholds:
// latency depends on the network, but the memory footprint is negligible.
package openai

import (
	"context"
	"fmt"
	"os"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/voicekit-labs/cascade/pkg/backend"
)

// Compile-time assertion that Transcriber implements backend.Transcriber.
var _ backend.Transcriber = (*Transcriber)(nil)

// config holds optional configuration for the transcriber.
type config struct {
	baseURL string
	timeout time.Duration
}

// Option is a functional option for Transcriber.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL. Useful for
// OpenAI-compatible local servers.
func WithBaseURL(url string) Option {
	return func(c *config) {
		c.baseURL = url
	}
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// Transcriber submits audio files to the OpenAI transcription endpoint.
// Safe for concurrent use.
type Transcriber struct {
	client oai.Client
}

// New constructs a hosted OpenAI Transcriber.
func New(apiKey string, opts ...Option) (*Transcriber, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai: apiKey must not be empty")
	}

	cfg := &config{}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithRequestTimeout(cfg.timeout))
	}

	return &Transcriber{client: oai.NewClient(reqOpts...)}, nil
}

// Transcribe uploads the audio file at audioRef and returns the transcript.
// The model is taken from cfg.ModelID (e.g. "whisper-1").
func (t *Transcriber) Transcribe(ctx context.Context, audioRef string, cfg backend.Config) (string, error) {
	f, err := os.Open(audioRef)
	if err != nil {
		return "", fmt.Errorf("openai: open audio %q: %w", audioRef, err)
	}
	defer f.Close()

	resp, err := t.client.Audio.Transcriptions.New(ctx, oai.AudioTranscriptionNewParams{
		File:  f,
		Model: oai.AudioModel(cfg.ModelID),
	})
	if err != nil {
		return "", fmt.Errorf("openai: transcription request: %w", err)
	}
	return resp.Text, nil
}
