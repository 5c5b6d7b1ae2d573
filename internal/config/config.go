package config

import (
	"fmt"
	"os"
	"time"

	"github.com/goccy/go-yaml"
)

// Known transcription providers, in the order the gateway may try them.
const (
	TranscriberOpenAI   = "openai"
	TranscriberDeepgram = "deepgram"
	TranscriberMock     = "mock"
)

// Known document-generation backends.
const (
	DocBackendAnthropic = "anthropic"
	DocBackendOpenAI    = "openai"
)

// Config holds application configuration. Flags fill it in cmd/teleconsult;
// an optional YAML file overlays the defaults before flags are applied; API
// keys come from the environment only.
type Config struct {
	Addr  string `yaml:"addr"`
	Debug bool   `yaml:"debug"`

	// Transcription
	PrimaryTranscriber string        `yaml:"primary_transcriber"`
	ProviderTimeout    time.Duration `yaml:"provider_timeout"`

	// Audio buffering
	MaxChunkBytes int           `yaml:"max_chunk_bytes"`
	FlushInterval time.Duration `yaml:"flush_interval"`

	// Document generation
	DocBackend string `yaml:"doc_backend"`

	// Session garbage collection
	SweepInterval time.Duration `yaml:"sweep_interval"`
	SweepMaxAge   time.Duration `yaml:"sweep_max_age"`
	// EvictIdle additionally sweeps connectionless sessions that were never
	// explicitly ended. Off by default: a waiting session is a session a
	// reconnecting participant expects to find.
	EvictIdle bool `yaml:"evict_idle_sessions"`

	// Secrets, environment only.
	OpenAIKey    string `yaml:"-"`
	DeepgramKey  string `yaml:"-"`
	AnthropicKey string `yaml:"-"`
}

// Default returns the baseline configuration.
func Default() Config {
	return Config{
		Addr:               ":8080",
		PrimaryTranscriber: TranscriberOpenAI,
		ProviderTimeout:    30 * time.Second,
		MaxChunkBytes:      64 * 1024,
		FlushInterval:      5 * time.Second,
		DocBackend:         DocBackendAnthropic,
		SweepInterval:      time.Hour,
		SweepMaxAge:        24 * time.Hour,
	}
}

// Load overlays the YAML file at path onto the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config file: %w", err)
	}
	return cfg, nil
}

// ResolveEnv pulls provider credentials from the environment.
func (c *Config) ResolveEnv() {
	c.OpenAIKey = os.Getenv("OPENAI_API_KEY")
	c.DeepgramKey = os.Getenv("DEEPGRAM_API_KEY")
	c.AnthropicKey = os.Getenv("ANTHROPIC_API_KEY")
}
