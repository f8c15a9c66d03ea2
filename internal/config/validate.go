package config

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Validate checks the configuration for invalid values and returns a
// descriptive error listing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if c.Agent.Home == "" {
		errs = append(errs, "agent.home must not be empty")
	} else if !filepath.IsAbs(c.Agent.Home) {
		errs = append(errs, fmt.Sprintf("agent.home %q must be an absolute path", c.Agent.Home))
	}

	if c.Agent.User == "" {
		errs = append(errs, "agent.user must not be empty")
	}
	if c.Agent.SocketGroup == "" {
		errs = append(errs, "agent.socket_group must not be empty")
	}

	for field, dir := range map[string]string{
		"dirs.config":      c.Dirs.Config,
		"dirs.skills":      c.Dirs.Skills,
		"dirs.cache":       c.Dirs.Cache,
		"dirs.broker_home": c.Dirs.BrokerHome,
	} {
		if dir == "" {
			errs = append(errs, fmt.Sprintf("%s must not be empty", field))
		} else if !filepath.IsAbs(dir) {
			errs = append(errs, fmt.Sprintf("%s %q must be an absolute path", field, dir))
		}
	}
	if c.Dirs.SecondaryBin != "" && !filepath.IsAbs(c.Dirs.SecondaryBin) {
		errs = append(errs, fmt.Sprintf("dirs.secondary_bin %q must be an absolute path", c.Dirs.SecondaryBin))
	}

	if c.Analyzer.TimeoutSeconds <= 0 {
		errs = append(errs, fmt.Sprintf("analyzer.timeout_seconds must be positive, got %d", c.Analyzer.TimeoutSeconds))
	}
	if c.Watcher.PollSeconds <= 0 {
		errs = append(errs, fmt.Sprintf("watcher.poll_seconds must be positive, got %d", c.Watcher.PollSeconds))
	}
	if c.Watcher.DebounceMs < 0 {
		errs = append(errs, fmt.Sprintf("watcher.debounce_ms must not be negative, got %d", c.Watcher.DebounceMs))
	}

	switch c.Logging.Format {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Sprintf("invalid logging.format %q: must be \"text\" or \"json\"", c.Logging.Format))
	}
	switch c.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Sprintf("invalid logging.level %q", c.Logging.Level))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration:\n  %s", strings.Join(errs, "\n  "))
	}
	return nil
}
