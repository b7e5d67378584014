package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestEffectiveArgs_Claude_AddsNonInteractive(t *testing.T) {
	a := Agent{Cmd: "claude", Args: []string{"--model", "sonnet"}}
	got := a.EffectiveArgs()
	if !containsAny(got, "--print") {
		t.Fatalf("expected --print in args, got %v", got)
	}
	if containsAny(got, "--dangerously-skip-permissions") {
		t.Fatalf("should not skip permissions without auto_accept, got %v", got)
	}
	if len(a.Args) != 2 {
		t.Errorf("EffectiveArgs must not modify the config slice: %v", a.Args)
	}
}

func TestEffectiveArgs_Claude_AutoAcceptNoDuplicates(t *testing.T) {
	a := Agent{Cmd: "claude", Args: []string{"-p", "--dangerously-skip-permissions"}, AutoAccept: true}
	got := a.EffectiveArgs()
	if len(got) != 2 {
		t.Fatalf("expected flags not duplicated, got %v", got)
	}
}

func TestEffectiveArgs_GeminiAndCodex(t *testing.T) {
	if got := (Agent{Cmd: "gemini", AutoAccept: true}).EffectiveArgs(); !containsAny(got, "--yolo") {
		t.Errorf("gemini: expected --yolo, got %v", got)
	}
	if got := (Agent{Cmd: "codex", AutoAccept: true}).EffectiveArgs(); !containsAny(got, "--full-auto") {
		t.Errorf("codex: expected --full-auto, got %v", got)
	}
	if got := (Agent{Cmd: "codex"}).EffectiveArgs(); len(got) != 0 {
		t.Errorf("codex without auto_accept: expected no args, got %v", got)
	}
	if got := (Agent{Cmd: "my-agent", Args: []string{"x"}, AutoAccept: true}).EffectiveArgs(); len(got) != 1 {
		t.Errorf("unknown tool: expected args unchanged, got %v", got)
	}
}

func TestLoad_FillsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)
	os.WriteFile(path, []byte("version: 1\nagent:\n  cmd: codex\npr:\n  max_fix_attempts: 5\n"), 0644)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Agent.Cmd != "codex" {
		t.Errorf("agent cmd: got %q", cfg.Agent.Cmd)
	}
	if cfg.PR.MaxFixAttempts != 5 {
		t.Errorf("max_fix_attempts: got %d", cfg.PR.MaxFixAttempts)
	}
	if cfg.PR.PollInterval() != 5*time.Second {
		t.Errorf("poll interval default: got %v", cfg.PR.PollInterval())
	}
	if cfg.PR.Backoff.Multiplier != 2.0 || cfg.PR.Backoff.MaxBackoff != 30.0 {
		t.Errorf("backoff defaults: %+v", cfg.PR.Backoff)
	}
	if cfg.Hosting.Provider != "github" {
		t.Errorf("provider default: got %q", cfg.Hosting.Provider)
	}
}

func TestLoad_Invalid(t *testing.T) {
	cases := map[string]string{
		"provider":  "hosting:\n  provider: gitlab\n",
		"poll":      "pr:\n  poll_interval_sec: 0\n",
		"backoff":   "pr:\n  backoff:\n    multiplier: 0.5\n",
		"webhook":   "webhooks:\n  - url: ftp://example.com\n",
		"log level": "log:\n  level: loud\n",
		"yaml":      "agent: [",
	}
	for name, body := range cases {
		path := filepath.Join(t.TempDir(), FileName)
		os.WriteFile(path, []byte(body), 0644)
		if _, err := Load(path); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil || !strings.Contains(err.Error(), "read config") {
		t.Fatalf("expected read error, got %v", err)
	}
	cfg, err := LoadOrDefault(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil || cfg.Agent.Cmd != "claude" {
		t.Fatalf("LoadOrDefault: %+v %v", cfg, err)
	}
}

func TestSaveLoad_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)
	cfg := DefaultConfig()
	cfg.Webhooks = []Webhook{{URL: "https://hooks.example.com/x", Secret: "s", Events: []string{"pr.merged"}}}
	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(got.Webhooks) != 1 || got.Webhooks[0].Events[0] != "pr.merged" {
		t.Errorf("webhooks: %+v", got.Webhooks)
	}
	if got.Webhooks[0].Timeout() != 10*time.Second {
		t.Errorf("webhook timeout default: %v", got.Webhooks[0].Timeout())
	}
}
