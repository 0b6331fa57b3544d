// Package config provides the configuration schema, loader, and validation
// for the Auricle transcription pipeline.
package config

// LogLevel controls log verbosity for the Auricle process.
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

// RefinementMode selects how finalized turns are grouped into buffers for
// LLM enhancement.
type RefinementMode string

const (
	// RefinementDisabled turns off buffering and enhancement entirely.
	RefinementDisabled RefinementMode = "disabled"

	// RefinementChunked groups turns into time-bounded buffers of
	// [RefinementConfig.ChunkDurationSecs] seconds.
	RefinementChunked RefinementMode = "chunked"

	// RefinementRealtime flushes a buffer after every finalized turn.
	RefinementRealtime RefinementMode = "realtime"
)

// IsValid reports whether m is a recognised refinement mode.
func (m RefinementMode) IsValid() bool {
	switch m {
	case RefinementDisabled, RefinementChunked, RefinementRealtime:
		return true
	}
	return false
}

// Config is the root configuration structure for Auricle.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Providers    ProvidersConfig    `yaml:"providers"`
	Capture      CaptureConfig      `yaml:"capture"`
	Refinement   RefinementConfig   `yaml:"refinement"`
	Intelligence IntelligenceConfig `yaml:"intelligence"`
	Storage      StorageConfig      `yaml:"storage"`
}

// ServerConfig holds logging and telemetry settings.
type ServerConfig struct {
	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// MetricsAddr is the TCP address the Prometheus /metrics endpoint
	// listens on (e.g., ":9090"). Empty disables the endpoint.
	MetricsAddr string `yaml:"metrics_addr"`
}

// ProvidersConfig declares which external service to use for each pipeline
// stage.
type ProvidersConfig struct {
	STT ProviderEntry `yaml:"stt"`
	LLM ProviderEntry `yaml:"llm"`
}

// ProviderEntry is the common configuration block shared by all provider
// types.
type ProviderEntry struct {
	// Name selects the provider implementation (e.g., "assemblyai", "openai").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API. Never logged.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	// Leave empty to use the provider's built-in default.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider (e.g., "gpt-4o-mini").
	// Only meaningful for LLM providers.
	Model string `yaml:"model"`
}

// CaptureConfig selects and configures the audio input device.
type CaptureConfig struct {
	// DeviceID selects the input device. Empty selects the system default.
	DeviceID string `yaml:"device_id"`

	// SampleRate is the capture sample rate in Hz. Default: 16000.
	SampleRate int `yaml:"sample_rate"`

	// Channels is the channel count requested from the device; multi-channel
	// input is downmixed to mono. Default: 1.
	Channels int `yaml:"channels"`
}

// RefinementConfig controls buffering and LLM enhancement of the transcript.
type RefinementConfig struct {
	// Mode selects the buffering policy. Default: chunked.
	Mode RefinementMode `yaml:"mode"`

	// ChunkDurationSecs is the target buffer duration in chunked mode.
	// Default: 10.
	ChunkDurationSecs int `yaml:"chunk_duration_secs"`
}

// IntelligenceConfig controls the structured business-intelligence analyses.
type IntelligenceConfig struct {
	// Enabled lists the analysis kinds to run per buffer. Valid values:
	// sentiment, financial, competitive, summary, risk. Empty disables
	// intelligence analysis.
	Enabled []string `yaml:"enabled"`

	// ConcurrentAgents caps the number of in-flight LLM calls across all
	// agents. Default: 4.
	ConcurrentAgents int `yaml:"concurrent_agents"`
}

// StorageConfig configures optional recording persistence.
type StorageConfig struct {
	// PostgresDSN is the connection string for the recordings store. Empty
	// disables persistence; sessions then live only in memory.
	PostgresDSN string `yaml:"postgres_dsn"`
}

// ApplyDefaults fills unset fields with their documented defaults.
func (c *Config) ApplyDefaults() {
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = LogInfo
	}
	if c.Capture.SampleRate == 0 {
		c.Capture.SampleRate = 16000
	}
	if c.Capture.Channels == 0 {
		c.Capture.Channels = 1
	}
	if c.Refinement.Mode == "" {
		c.Refinement.Mode = RefinementChunked
	}
	if c.Refinement.ChunkDurationSecs == 0 {
		c.Refinement.ChunkDurationSecs = 10
	}
	if c.Intelligence.ConcurrentAgents == 0 {
		c.Intelligence.ConcurrentAgents = 4
	}
}
