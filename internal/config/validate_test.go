package config

import (
	"strings"
	"testing"
)

func validConfig() *Config {
	cfg := &Config{ConfigVersion: 1}
	cfg.Agent.Home = "/Users/agent"
	cfg.Agent.User = "agent"
	cfg.Agent.SocketGroup = "grp"
	cfg.Dirs.Config = "/etc/agenshield"
	cfg.Dirs.Skills = "/Users/agent/skills"
	cfg.Dirs.Cache = "/etc/agenshield/marketplace-cache"
	cfg.Dirs.BrokerHome = "/opt/agenshield/var"
	cfg.Analyzer.TimeoutSeconds = 240
	cfg.Watcher.PollSeconds = 30
	cfg.Logging.Format = "text"
	cfg.Logging.Level = "info"
	return cfg
}

func TestValidateOK(t *testing.T) {
	if err := validConfig().Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestValidateErrors(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*Config)
		wantSub string
	}{
		{"relative agent home", func(c *Config) { c.Agent.Home = "agent" }, "agent.home"},
		{"empty socket group", func(c *Config) { c.Agent.SocketGroup = "" }, "socket_group"},
		{"relative skills dir", func(c *Config) { c.Dirs.Skills = "skills" }, "dirs.skills"},
		{"zero analyzer timeout", func(c *Config) { c.Analyzer.TimeoutSeconds = 0 }, "analyzer.timeout_seconds"},
		{"zero poll interval", func(c *Config) { c.Watcher.PollSeconds = 0 }, "watcher.poll_seconds"},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }, "logging.format"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			tc.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tc.wantSub) {
				t.Fatalf("error %q missing %q", err, tc.wantSub)
			}
		})
	}
}
