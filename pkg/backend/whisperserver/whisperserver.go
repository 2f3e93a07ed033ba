// Package whisperserver provides a [backend.Transcriber] that talks to a
// running whisper-server binary (the whisper.cpp REST frontend, which exposes
// POST /inference accepting multipart/form-data audio uploads).
//
// The transcriber submits the audio file behind audioRef as one batch
// inference request and returns the transcribed text. Model selection and
// thread-count hints from the [backend.Config] are forwarded as form fields;
// whether the server honours them depends on how it was started.
//
// Usage:
//
//	tr, err := whisperserver.New("http://localhost:8080",
//	    whisperserver.WithLanguage("en"),
//	)
//	text, err := tr.Transcribe(ctx, "clip.wav", cfg)
package whisperserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/voicekit-labs/cascade/pkg/backend"
)

const (
	defaultLanguage    = "en"
	defaultHTTPTimeout = 5 * time.Minute
)

// Compile-time assertion that Transcriber implements backend.Transcriber.
var _ backend.Transcriber = (*Transcriber)(nil)

// Option is a functional option for configuring a [Transcriber].
type Option func(*Transcriber)

// WithLanguage sets the BCP-47 language code sent with each request
// (e.g. "en", "de"). Defaults to "en"; an empty string omits the hint.
func WithLanguage(lang string) Option {
	return func(t *Transcriber) { t.language = lang }
}

// WithHTTPClient replaces the default HTTP client (5-minute timeout).
func WithHTTPClient(c *http.Client) Option {
	return func(t *Transcriber) { t.httpClient = c }
}

// Transcriber submits batch inference requests to a whisper-server instance.
// Safe for concurrent use; requests are independent.
type Transcriber struct {
	serverURL  string
	language   string
	httpClient *http.Client
}

// New creates a Transcriber for the whisper-server at serverURL
// (e.g. "http://localhost:8080").
func New(serverURL string, opts ...Option) (*Transcriber, error) {
	if serverURL == "" {
		return nil, errors.New("whisperserver: serverURL must not be empty")
	}
	t := &Transcriber{
		serverURL:  serverURL,
		language:   defaultLanguage,
		httpClient: &http.Client{Timeout: defaultHTTPTimeout},
	}
	for _, o := range opts {
		o(t)
	}
	return t, nil
}

// Transcribe uploads the audio file at audioRef to the /inference endpoint
// and returns the transcribed text.
func (t *Transcriber) Transcribe(ctx context.Context, audioRef string, cfg backend.Config) (string, error) {
	f, err := os.Open(audioRef)
	if err != nil {
		return "", fmt.Errorf("whisperserver: open audio %q: %w", audioRef, err)
	}
	defer f.Close()

	// Stream the multipart body through a pipe so large files are never
	// buffered whole in memory.
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)

	go func() {
		err := writeForm(mw, f, filepath.Base(audioRef), t.language, cfg)
		if cerr := mw.Close(); err == nil {
			err = cerr
		}
		pw.CloseWithError(err)
	}()

	endpoint := t.serverURL + "/inference"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, pr)
	if err != nil {
		return "", fmt.Errorf("whisperserver: create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("whisperserver: http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("whisperserver: server returned HTTP %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("whisperserver: read response body: %w", err)
	}

	var result struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return "", fmt.Errorf("whisperserver: parse JSON response: %w", err)
	}
	return result.Text, nil
}

// writeForm writes the audio file plus hint fields into mw.
func writeForm(mw *multipart.Writer, audio io.Reader, filename, language string, cfg backend.Config) error {
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return fmt.Errorf("whisperserver: create form file: %w", err)
	}
	if _, err := io.Copy(fw, audio); err != nil {
		return fmt.Errorf("whisperserver: write audio data: %w", err)
	}

	if language != "" {
		if err := mw.WriteField("language", language); err != nil {
			return fmt.Errorf("whisperserver: write language field: %w", err)
		}
	}
	if cfg.ModelID != "" {
		if err := mw.WriteField("model", cfg.ModelID); err != nil {
			return fmt.Errorf("whisperserver: write model field: %w", err)
		}
	}
	if cfg.Threads > 0 {
		if err := mw.WriteField("threads", strconv.Itoa(cfg.Threads)); err != nil {
			return fmt.Errorf("whisperserver: write threads field: %w", err)
		}
	}
	return nil
}
