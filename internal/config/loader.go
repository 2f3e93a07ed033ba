package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/voicekit-labs/cascade/pkg/backend"
)

// Load reads the YAML configuration file at path and returns a validated
// [Config]. It is a convenience wrapper around [LoadFromReader] and
// [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Defaults()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	if cfg.Primary.Implementation == "" {
		errs = append(errs, errors.New("primary.implementation must be set"))
	}
	if cfg.Primary.ModelID == "" {
		errs = append(errs, errors.New("primary.model must be set"))
	}
	validateBackendConfig("primary", cfg.Primary, &errs)

	for i, fb := range cfg.Fallbacks {
		prefix := fmt.Sprintf("fallbacks[%d]", i)
		if fb.Implementation == "" {
			errs = append(errs, fmt.Errorf("%s.implementation must be set", prefix))
		}
		if fb.ModelID == "" {
			errs = append(errs, fmt.Errorf("%s.model must be set", prefix))
		}
		validateBackendConfig(prefix, fb, &errs)
	}
	if len(cfg.Fallbacks) == 0 {
		slog.Warn("no fallback backends configured; rejected primaries cannot recover")
	}

	// Duplicate identity keys in the chain are legal but wasteful.
	seen := make(map[string]int)
	for i, fb := range cfg.Fallbacks {
		if prev, ok := seen[fb.Key()]; ok {
			slog.Warn("fallback chain contains duplicate identity key",
				"key", fb.Key(), "first_index", prev, "index", i)
		} else {
			seen[fb.Key()] = i
		}
	}

	if cfg.Thresholds.RTF <= 0 {
		errs = append(errs, fmt.Errorf("thresholds.rtf must be positive, got %v", cfg.Thresholds.RTF))
	}
	if cfg.Thresholds.MemoryMB <= 0 {
		errs = append(errs, fmt.Errorf("thresholds.memory_mb must be positive, got %v", cfg.Thresholds.MemoryMB))
	}
	if cfg.Thresholds.AttemptTimeoutSeconds < 0 {
		errs = append(errs, fmt.Errorf("thresholds.attempt_timeout_seconds must not be negative, got %v", cfg.Thresholds.AttemptTimeoutSeconds))
	}

	return errors.Join(errs...)
}

// validateBackendConfig warns about unknown implementation names and checks
// tuning fields. Unknown names are not fatal: callers may register custom
// factories.
func validateBackendConfig(prefix string, cfg backend.Config, errs *[]error) {
	if cfg.Implementation != "" && !slices.Contains(KnownImplementations, cfg.Implementation) {
		slog.Warn("unknown backend implementation name",
			"field", prefix, "implementation", cfg.Implementation,
			"known", KnownImplementations)
	}
	if cfg.Threads < 0 {
		*errs = append(*errs, fmt.Errorf("%s.threads must not be negative, got %d", prefix, cfg.Threads))
	}
}
