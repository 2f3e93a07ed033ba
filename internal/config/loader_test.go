package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const validYAML = `
server:
  listen_addr: ":9090"
  log_level: debug
primary:
  implementation: whisper-native
  model: base.en
  compute: int8
  device: cpu
  threads: 4
fallbacks:
  - implementation: whisper-native
    model: tiny.en
    compute: int8
  - implementation: openai
    model: whisper-1
    compute: f16
thresholds:
  rtf: 1.5
  memory_mb: 1024
  attempt_timeout_seconds: 30
history:
  postgres_dsn: postgres://cascade@localhost/cascade
backends:
  whisper_model_dir: /srv/models
  openai_api_key: sk-test
`

func TestLoadFromReader_Valid(t *testing.T) {
	cfg, err := LoadFromReader(strings.NewReader(validYAML))
	if err != nil {
		t.Fatalf("LoadFromReader() unexpected error: %v", err)
	}

	if cfg.Server.ListenAddr != ":9090" {
		t.Errorf("ListenAddr = %q, want :9090", cfg.Server.ListenAddr)
	}
	if cfg.Server.LogLevel != LogDebug {
		t.Errorf("LogLevel = %q, want debug", cfg.Server.LogLevel)
	}
	if cfg.Primary.Key() != "whisper-native|base.en|int8" {
		t.Errorf("Primary.Key() = %q", cfg.Primary.Key())
	}
	if cfg.Primary.Threads != 4 {
		t.Errorf("Primary.Threads = %d, want 4", cfg.Primary.Threads)
	}
	if len(cfg.Fallbacks) != 2 {
		t.Fatalf("len(Fallbacks) = %d, want 2", len(cfg.Fallbacks))
	}
	if cfg.Fallbacks[1].Implementation != "openai" {
		t.Errorf("Fallbacks[1].Implementation = %q, want openai", cfg.Fallbacks[1].Implementation)
	}
	if cfg.Thresholds.RTF != 1.5 {
		t.Errorf("Thresholds.RTF = %v, want 1.5", cfg.Thresholds.RTF)
	}
	if got := cfg.Thresholds.AttemptTimeout(); got != 30*time.Second {
		t.Errorf("AttemptTimeout() = %v, want 30s", got)
	}
	if cfg.History.PostgresDSN == "" {
		t.Error("History.PostgresDSN not parsed")
	}
	if cfg.Backends.WhisperModelDir != "/srv/models" {
		t.Errorf("WhisperModelDir = %q", cfg.Backends.WhisperModelDir)
	}
}

func TestLoadFromReader_DefaultsApplied(t *testing.T) {
	minimal := `
primary:
  implementation: stub
  model: noop
`
	cfg, err := LoadFromReader(strings.NewReader(minimal))
	if err != nil {
		t.Fatalf("LoadFromReader() unexpected error: %v", err)
	}
	if cfg.Server.LogLevel != LogInfo {
		t.Errorf("default LogLevel = %q, want info", cfg.Server.LogLevel)
	}
	if cfg.Thresholds.RTF != 1.0 {
		t.Errorf("default RTF = %v, want 1.0", cfg.Thresholds.RTF)
	}
	if cfg.Thresholds.MemoryMB != 2048 {
		t.Errorf("default MemoryMB = %v, want 2048", cfg.Thresholds.MemoryMB)
	}
	if got := cfg.Thresholds.AttemptTimeout(); got != 0 {
		t.Errorf("default AttemptTimeout() = %v, want 0", got)
	}
}

func TestLoadFromReader_UnknownFieldRejected(t *testing.T) {
	bad := `
primary:
  implementation: stub
  model: noop
  quantization: int4
`
	if _, err := LoadFromReader(strings.NewReader(bad)); err == nil {
		t.Fatal("LoadFromReader() accepted an unknown field")
	}
}

func TestLoadFromReader_ValidationErrors(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr []string
	}{
		{
			name: "missing primary",
			yaml: `
thresholds:
  rtf: 1.0
  memory_mb: 512
`,
			wantErr: []string{
				"primary.implementation must be set",
				"primary.model must be set",
			},
		},
		{
			name: "bad log level",
			yaml: `
server:
  log_level: verbose
primary:
  implementation: stub
  model: noop
`,
			wantErr: []string{`server.log_level "verbose" is invalid`},
		},
		{
			name: "incomplete fallback",
			yaml: `
primary:
  implementation: stub
  model: noop
fallbacks:
  - implementation: stub
`,
			wantErr: []string{"fallbacks[0].model must be set"},
		},
		{
			name: "negative threads",
			yaml: `
primary:
  implementation: stub
  model: noop
  threads: -2
`,
			wantErr: []string{"primary.threads must not be negative"},
		},
		{
			name: "bad thresholds",
			yaml: `
primary:
  implementation: stub
  model: noop
thresholds:
  rtf: -1
  memory_mb: 0
  attempt_timeout_seconds: -5
`,
			wantErr: []string{
				"thresholds.rtf must be positive",
				"thresholds.memory_mb must be positive",
				"thresholds.attempt_timeout_seconds must not be negative",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadFromReader(strings.NewReader(tt.yaml))
			if err == nil {
				t.Fatal("LoadFromReader() expected error, got nil")
			}
			for _, want := range tt.wantErr {
				if !strings.Contains(err.Error(), want) {
					t.Errorf("error = %q, want substring %q", err.Error(), want)
				}
			}
		})
	}
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(validYAML), 0o600); err != nil {
		t.Fatalf("writing fixture: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() unexpected error: %v", err)
	}
	if cfg.Primary.ModelID != "base.en" {
		t.Errorf("Primary.ModelID = %q, want base.en", cfg.Primary.ModelID)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("Load() on missing file succeeded, want error")
	}
}
