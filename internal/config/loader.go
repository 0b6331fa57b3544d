package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"stt": {"assemblyai"},
	"llm": {"openai", "anthropic", "gemini", "ollama", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
}

// ValidAnalysisKinds lists the recognised intelligence analysis kinds.
var ValidAnalysisKinds = []string{"sentiment", "financial", "competitive", "summary", "risk"}

// Load reads the YAML configuration file at path and returns a validated
// [Config] with defaults applied. It is a convenience wrapper around
// [LoadFromReader].
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

// LoadFromReader decodes a YAML config from r, applies defaults, and
// validates the result. Useful in tests where configs are constructed from
// string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	cfg.ApplyDefaults()
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

	validateProviderName("stt", cfg.Providers.STT.Name)
	validateProviderName("llm", cfg.Providers.LLM.Name)

	if cfg.Refinement.Mode != "" && !cfg.Refinement.Mode.IsValid() {
		errs = append(errs, fmt.Errorf("refinement.mode %q is invalid; valid values: disabled, chunked, realtime", cfg.Refinement.Mode))
	}
	if cfg.Refinement.ChunkDurationSecs < 0 {
		errs = append(errs, fmt.Errorf("refinement.chunk_duration_secs %d must not be negative", cfg.Refinement.ChunkDurationSecs))
	}

	seen := make(map[string]bool, len(cfg.Intelligence.Enabled))
	for i, kind := range cfg.Intelligence.Enabled {
		if !slices.Contains(ValidAnalysisKinds, kind) {
			errs = append(errs, fmt.Errorf("intelligence.enabled[%d] %q is invalid; valid values: %v", i, kind, ValidAnalysisKinds))
		}
		if seen[kind] {
			errs = append(errs, fmt.Errorf("intelligence.enabled[%d] %q is listed more than once", i, kind))
		}
		seen[kind] = true
	}
	if cfg.Intelligence.ConcurrentAgents < 0 {
		errs = append(errs, fmt.Errorf("intelligence.concurrent_agents %d must not be negative", cfg.Intelligence.ConcurrentAgents))
	}

	if cfg.Capture.SampleRate < 0 {
		errs = append(errs, fmt.Errorf("capture.sample_rate %d must not be negative", cfg.Capture.SampleRate))
	}
	if cfg.Capture.Channels < 0 {
		errs = append(errs, fmt.Errorf("capture.channels %d must not be negative", cfg.Capture.Channels))
	}

	// Availability warnings — missing keys fail at pipeline start, not here,
	// so that listing devices and similar offline commands still work.
	if cfg.Providers.STT.APIKey == "" {
		slog.Warn("providers.stt.api_key is empty; the pipeline will not be able to start a stream")
	}
	if cfg.Refinement.Mode != RefinementDisabled && cfg.Providers.LLM.Name == "" {
		slog.Warn("refinement is enabled but providers.llm is not configured; buffers will not be enhanced")
	}
	if len(cfg.Intelligence.Enabled) > 0 && cfg.Providers.LLM.Name == "" {
		slog.Warn("intelligence analyses are enabled but providers.llm is not configured")
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name — may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
