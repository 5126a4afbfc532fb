package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "console.toml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write temp config: %v", err)
	}
	return path
}

func TestLoadParsesAllFields(t *testing.T) {
	path := writeTempConfig(t, `
agent_url = "ws://10.0.0.5:9000/ws"
fallback_url = "http://10.0.0.5:9001"
max_attempts = 7
backoff_base_ms = 250
backoff_ceiling_ms = 60000
probe_interval_ms = 30000
request_timeout_ms = 5000
transcript_limit = 100
default_section = "system"
theme = "light"
prefs_store = "/tmp/test-console.db"
discovery_enabled = false
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if cfg.AgentURL != "ws://10.0.0.5:9000/ws" {
		t.Errorf("agent_url: got %q", cfg.AgentURL)
	}
	if cfg.FallbackURL != "http://10.0.0.5:9001" {
		t.Errorf("fallback_url: got %q", cfg.FallbackURL)
	}
	if cfg.MaxAttempts != 7 {
		t.Errorf("max_attempts: got %d", cfg.MaxAttempts)
	}
	if cfg.BackoffBaseMs != 250 || cfg.BackoffCeilingMs != 60000 {
		t.Errorf("backoff: got %d/%d", cfg.BackoffBaseMs, cfg.BackoffCeilingMs)
	}
	if cfg.ProbeIntervalMs != 30000 {
		t.Errorf("probe_interval_ms: got %d", cfg.ProbeIntervalMs)
	}
	if cfg.RequestTimeoutMs != 5000 {
		t.Errorf("request_timeout_ms: got %d", cfg.RequestTimeoutMs)
	}
	if cfg.TranscriptLimit != 100 {
		t.Errorf("transcript_limit: got %d", cfg.TranscriptLimit)
	}
	if cfg.DefaultSection != "system" || cfg.Theme != "light" {
		t.Errorf("section/theme: got %q/%q", cfg.DefaultSection, cfg.Theme)
	}
	if cfg.PrefsStore != "/tmp/test-console.db" {
		t.Errorf("prefs_store: got %q", cfg.PrefsStore)
	}
	if cfg.DiscoveryEnabled {
		t.Error("discovery_enabled = false not honored")
	}
}

func TestLoadExplicitPathMustExist(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	if err == nil {
		t.Fatal("expected error for missing explicit config path")
	}
}

func TestLoadRejectsMalformedFile(t *testing.T) {
	path := writeTempConfig(t, `agent_url = [not toml`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestLoadDiscoveryDefaultsOn(t *testing.T) {
	path := writeTempConfig(t, `theme = "dark"`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if !cfg.DiscoveryEnabled {
		t.Error("discovery should default to enabled when the file omits it")
	}
}

func TestApplyDefaults(t *testing.T) {
	cfg := &Config{}
	cfg.ApplyDefaults()

	if cfg.AgentURL != DefaultAgentURL {
		t.Errorf("agent_url default: got %q", cfg.AgentURL)
	}
	if cfg.FallbackURL != DefaultFallbackURL {
		t.Errorf("fallback_url default: got %q", cfg.FallbackURL)
	}
	if cfg.MaxAttempts != DefaultMaxAttempts {
		t.Errorf("max_attempts default: got %d", cfg.MaxAttempts)
	}
	if cfg.BackoffBaseMs != DefaultBackoffBaseMs || cfg.BackoffCeilingMs != DefaultBackoffCeilingMs {
		t.Errorf("backoff defaults: got %d/%d", cfg.BackoffBaseMs, cfg.BackoffCeilingMs)
	}
	if cfg.ProbeIntervalMs != DefaultProbeIntervalMs {
		t.Errorf("probe default: got %d", cfg.ProbeIntervalMs)
	}
	if cfg.RequestTimeoutMs != DefaultRequestTimeoutMs {
		t.Errorf("request timeout default: got %d", cfg.RequestTimeoutMs)
	}
	if cfg.TranscriptLimit != DefaultTranscriptLimit {
		t.Errorf("transcript limit default: got %d", cfg.TranscriptLimit)
	}
	if cfg.DefaultSection != DefaultSection || cfg.Theme != DefaultTheme {
		t.Errorf("section/theme defaults: got %q/%q", cfg.DefaultSection, cfg.Theme)
	}
}

func TestApplyDefaultsKeepsExplicitValues(t *testing.T) {
	cfg := &Config{
		AgentURL:    "ws://example:1234/ws",
		MaxAttempts: 2,
	}
	cfg.ApplyDefaults()

	if cfg.AgentURL != "ws://example:1234/ws" {
		t.Errorf("explicit agent_url overwritten: %q", cfg.AgentURL)
	}
	if cfg.MaxAttempts != 2 {
		t.Errorf("explicit max_attempts overwritten: %d", cfg.MaxAttempts)
	}
}
