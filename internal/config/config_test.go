package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.Addr != ":8080" {
		t.Errorf("Addr = %q", cfg.Addr)
	}
	if cfg.PrimaryTranscriber != TranscriberOpenAI {
		t.Errorf("PrimaryTranscriber = %q", cfg.PrimaryTranscriber)
	}
	if cfg.DocBackend != DocBackendAnthropic {
		t.Errorf("DocBackend = %q", cfg.DocBackend)
	}
	if cfg.FlushInterval != 5*time.Second {
		t.Errorf("FlushInterval = %v", cfg.FlushInterval)
	}
	if cfg.EvictIdle {
		t.Error("EvictIdle should default to off")
	}
}

func TestLoadOverlaysDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
addr: ":9090"
primary_transcriber: deepgram
flush_interval: 2s
evict_idle_sessions: true
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Addr != ":9090" {
		t.Errorf("Addr = %q", cfg.Addr)
	}
	if cfg.PrimaryTranscriber != TranscriberDeepgram {
		t.Errorf("PrimaryTranscriber = %q", cfg.PrimaryTranscriber)
	}
	if cfg.FlushInterval != 2*time.Second {
		t.Errorf("FlushInterval = %v", cfg.FlushInterval)
	}
	if !cfg.EvictIdle {
		t.Error("EvictIdle not set from file")
	}

	// Untouched keys keep their defaults.
	if cfg.DocBackend != DocBackendAnthropic {
		t.Errorf("DocBackend = %q; want default", cfg.DocBackend)
	}
	if cfg.SweepMaxAge != 24*time.Hour {
		t.Errorf("SweepMaxAge = %v; want default", cfg.SweepMaxAge)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestLoadMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("addr: [:::"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("expected error for malformed yaml")
	}
}

func TestResolveEnv(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "ok-1")
	t.Setenv("DEEPGRAM_API_KEY", "dg-1")
	t.Setenv("ANTHROPIC_API_KEY", "an-1")

	cfg := Default()
	cfg.ResolveEnv()
	if cfg.OpenAIKey != "ok-1" || cfg.DeepgramKey != "dg-1" || cfg.AnthropicKey != "an-1" {
		t.Errorf("keys = %q/%q/%q", cfg.OpenAIKey, cfg.DeepgramKey, cfg.AnthropicKey)
	}
}
