package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Agent.Home != "/Users/ash_default_agent" {
		t.Errorf("agent.home = %q", cfg.Agent.Home)
	}
	if cfg.Agent.User != "ash_default_agent" {
		t.Errorf("agent.user = %q, want derived from home", cfg.Agent.User)
	}
	if cfg.Agent.SocketGroup != "ash_default" {
		t.Errorf("agent.socket_group = %q", cfg.Agent.SocketGroup)
	}
	if cfg.Dirs.Skills != "/Users/ash_default_agent/skills" {
		t.Errorf("dirs.skills = %q", cfg.Dirs.Skills)
	}
	if cfg.Watcher.PollSeconds != 30 || cfg.Watcher.DebounceMs != 500 {
		t.Errorf("watcher defaults = %d/%d", cfg.Watcher.PollSeconds, cfg.Watcher.DebounceMs)
	}
	if cfg.Analyzer.TimeoutSeconds != 240 {
		t.Errorf("analyzer.timeout_seconds = %d", cfg.Analyzer.TimeoutSeconds)
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `config_version: 1
agent:
  home: /Users/worker_agent
  socket_group: worker_grp
dirs:
  config: ` + dir + `
watcher:
  poll_seconds: 5
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Agent.Home != "/Users/worker_agent" {
		t.Errorf("agent.home = %q", cfg.Agent.Home)
	}
	if cfg.Agent.User != "worker_agent" {
		t.Errorf("agent.user = %q", cfg.Agent.User)
	}
	if cfg.Dirs.Skills != "/Users/worker_agent/skills" {
		t.Errorf("dirs.skills = %q", cfg.Dirs.Skills)
	}
	if cfg.Dirs.Cache != filepath.Join(dir, "marketplace-cache") {
		t.Errorf("dirs.cache = %q", cfg.Dirs.Cache)
	}
	if cfg.Watcher.PollSeconds != 5 {
		t.Errorf("watcher.poll_seconds = %d", cfg.Watcher.PollSeconds)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("AGENSHIELD_AGENT_HOME", "/Users/env_agent")
	t.Setenv("SKILL_ANALYZER_URL", "http://analyzer.local:8080")
	t.Setenv("AGENSHIELD_USER_SECRETS", "GITHUB_TOKEN, NPM_TOKEN")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Agent.Home != "/Users/env_agent" {
		t.Errorf("agent.home = %q", cfg.Agent.Home)
	}
	if cfg.Analyzer.URL != "http://analyzer.local:8080" {
		t.Errorf("analyzer.url = %q", cfg.Analyzer.URL)
	}
	got := cfg.UserSecretNames()
	if len(got) != 2 || got[0] != "GITHUB_TOKEN" || got[1] != "NPM_TOKEN" {
		t.Errorf("UserSecretNames = %v", got)
	}
}

func TestLoadExplicitMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing explicit config file")
	}
}

func TestBinDirs(t *testing.T) {
	cfg := &Config{}
	cfg.Agent.Home = "/Users/a"
	if got := cfg.BinDirs(); len(got) != 1 || got[0] != "/Users/a/bin" {
		t.Errorf("BinDirs = %v", got)
	}
	cfg.Dirs.SecondaryBin = "/opt/extra/bin"
	if got := cfg.BinDirs(); len(got) != 2 || got[1] != "/opt/extra/bin" {
		t.Errorf("BinDirs = %v", got)
	}
}
