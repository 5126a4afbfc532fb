package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/veyra-ai/console/internal/config"
)

func TestMergeConfigFileFillsGaps(t *testing.T) {
	cli := &config.Config{AgentURL: "ws://cli:1/ws"}
	file := &config.Config{
		AgentURL:         "ws://file:1/ws",
		FallbackURL:      "http://file:2",
		MaxAttempts:      9,
		TranscriptLimit:  42,
		DefaultSection:   "system",
		Theme:            "light",
		DiscoveryEnabled: true,
	}

	mergeConfig(cli, file, map[string]bool{"agent-url": true})

	// Explicit CLI value wins.
	if cli.AgentURL != "ws://cli:1/ws" {
		t.Errorf("CLI agent-url overridden: %q", cli.AgentURL)
	}
	// File fills everything the CLI left empty.
	if cli.FallbackURL != "http://file:2" {
		t.Errorf("fallback_url not merged: %q", cli.FallbackURL)
	}
	if cli.MaxAttempts != 9 {
		t.Errorf("max_attempts not merged: %d", cli.MaxAttempts)
	}
	if cli.TranscriptLimit != 42 {
		t.Errorf("transcript_limit not merged: %d", cli.TranscriptLimit)
	}
	if cli.DefaultSection != "system" || cli.Theme != "light" {
		t.Errorf("section/theme not merged: %q/%q", cli.DefaultSection, cli.Theme)
	}
	if !cli.DiscoveryEnabled {
		t.Error("discovery flag not carried from file")
	}
}

func TestRunVersion(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := run([]string{"veyra-console", "--version"}, strings.NewReader(""), &stdout, &stderr)
	if code != 0 {
		t.Fatalf("expected exit 0, got %d", code)
	}
	if !strings.Contains(stdout.String(), "veyra-console") {
		t.Errorf("version output missing binary name: %q", stdout.String())
	}
}

func TestRunHelp(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := run([]string{"veyra-console", "help"}, strings.NewReader(""), &stdout, &stderr)
	if code != 0 {
		t.Fatalf("expected exit 0, got %d", code)
	}
	if !strings.Contains(stdout.String(), "Usage:") {
		t.Errorf("help output missing usage: %q", stdout.String())
	}
}

func TestRunRejectsUnknownFlag(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := run([]string{"veyra-console", "--definitely-not-a-flag"}, strings.NewReader(""), &stdout, &stderr)
	if code != 1 {
		t.Fatalf("expected exit 1, got %d", code)
	}
	if stderr.Len() == 0 {
		t.Error("expected flag error on stderr")
	}
}
