// Package config provides the configuration schema, loader, and file watcher
// for the Cascade transcription orchestrator.
package config

import (
	"time"

	"github.com/voicekit-labs/cascade/pkg/backend"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// KnownImplementations lists the backend implementation names shipped with
// this binary. Used by [Validate] to warn about unrecognised names.
var KnownImplementations = []string{"whisper-native", "whisper-server", "openai", "stub"}

// Config is the root configuration structure for Cascade.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Primary    backend.Config   `yaml:"primary"`
	Fallbacks  []backend.Config `yaml:"fallbacks"`
	Thresholds ThresholdsConfig `yaml:"thresholds"`
	History    HistoryConfig    `yaml:"history"`
	Backends   BackendsConfig   `yaml:"backends"`
}

// ServerConfig holds logging and observability-listener settings.
type ServerConfig struct {
	// ListenAddr is the optional TCP address for the /metrics, /healthz,
	// /readyz, and /stats endpoints (e.g. ":9090"). Empty disables the
	// listener.
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`
}

// ThresholdsConfig holds the acceptance criteria for transcription attempts.
type ThresholdsConfig struct {
	// RTF is the maximum acceptable real-time factor (processing time divided
	// by audio duration). 1.0 means real-time.
	RTF float64 `yaml:"rtf"`

	// MemoryMB is the maximum acceptable peak-minus-baseline process memory
	// per attempt, in megabytes.
	MemoryMB float64 `yaml:"memory_mb"`

	// AttemptTimeoutSeconds bounds a single backend call. Zero disables the
	// per-attempt deadline.
	AttemptTimeoutSeconds float64 `yaml:"attempt_timeout_seconds"`
}

// AttemptTimeout returns the per-attempt deadline as a [time.Duration].
func (t ThresholdsConfig) AttemptTimeout() time.Duration {
	return time.Duration(t.AttemptTimeoutSeconds * float64(time.Second))
}

// HistoryConfig configures the durable attempt sink.
type HistoryConfig struct {
	// PostgresDSN enables durable attempt records when non-empty. The
	// in-memory history remains authoritative either way.
	PostgresDSN string `yaml:"postgres_dsn"`
}

// BackendsConfig holds per-implementation connection settings shared by all
// configs of that implementation.
type BackendsConfig struct {
	// WhisperServerURL is the base URL of a running whisper-server
	// (e.g. "http://localhost:8080").
	WhisperServerURL string `yaml:"whisper_server_url"`

	// WhisperModelDir is the directory containing GGML model files for the
	// native whisper.cpp backend. Model IDs resolve to
	// <dir>/ggml-<model>.bin.
	WhisperModelDir string `yaml:"whisper_model_dir"`

	// OpenAIAPIKey authenticates the hosted OpenAI transcription backend.
	OpenAIAPIKey string `yaml:"openai_api_key"`
}

// Defaults returns a Config with conservative defaults applied: info logging,
// RTF 1.0, 2 GiB memory budget, no attempt timeout.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			LogLevel: LogInfo,
		},
		Thresholds: ThresholdsConfig{
			RTF:      1.0,
			MemoryMB: 2048,
		},
	}
}
