package config

import (
	"fmt"
	"log/slog"
	"os"
	"os/user"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// ResolveHomeDir returns the home directory of the real (non-root) user.
// When running under sudo, os.UserHomeDir() returns /root, which won't
// contain the operator's config. This function checks SUDO_USER and
// resolves the invoking user's home directory instead.
func ResolveHomeDir() (string, error) {
	if sudoUser := os.Getenv("SUDO_USER"); sudoUser != "" {
		u, err := user.Lookup(sudoUser)
		if err != nil {
			slog.Debug("SUDO_USER lookup failed, falling back", "sudo_user", sudoUser, "error", err)
		} else {
			slog.Debug("resolved home via SUDO_USER", "user", sudoUser, "home", u.HomeDir)
			return u.HomeDir, nil
		}
	}
	return os.UserHomeDir()
}

// Config is the top-level configuration for the agenshield daemon.
type Config struct {
	ConfigVersion int `yaml:"config_version" mapstructure:"config_version"`

	Agent       AgentConfig       `yaml:"agent" mapstructure:"agent"`
	Dirs        DirConfig         `yaml:"dirs" mapstructure:"dirs"`
	Analyzer    AnalyzerConfig    `yaml:"analyzer" mapstructure:"analyzer"`
	Marketplace MarketplaceConfig `yaml:"marketplace" mapstructure:"marketplace"`
	Watcher     WatcherConfig     `yaml:"watcher" mapstructure:"watcher"`
	Secrets     SecretsConfig     `yaml:"secrets" mapstructure:"secrets"`
	Logging     LoggingConfig     `yaml:"logging" mapstructure:"logging"`
}

// AgentConfig identifies the confined agent account and the privileged
// helpers that act on its behalf.
type AgentConfig struct {
	Home        string `yaml:"home" mapstructure:"home"`                 // agent account home directory
	User        string `yaml:"user" mapstructure:"user"`                 // agent OS account name (defaults to basename of Home)
	SocketGroup string `yaml:"socket_group" mapstructure:"socket_group"` // group owning the broker socket and deployed skills
	ShieldExec  string `yaml:"shield_exec" mapstructure:"shield_exec"`   // shared shim binary wrappers symlink to
}

// DirConfig holds every directory and well-known file the daemon manages.
type DirConfig struct {
	Config       string `yaml:"config" mapstructure:"config"`               // daemon state dir (policies, manifests, activity log)
	Skills       string `yaml:"skills" mapstructure:"skills"`               // deployed skill directories the agent loads
	Cache        string `yaml:"cache" mapstructure:"cache"`                 // marketplace cache, keyed by slug
	SecondaryBin string `yaml:"secondary_bin" mapstructure:"secondary_bin"` // optional extra bin dir for wrappers
	BrokerHome   string `yaml:"broker_home" mapstructure:"broker_home"`     // directory containing the broker's daemon.sock
	Homebrew     string `yaml:"homebrew" mapstructure:"homebrew"`           // agent-visible homebrew prefix
}

// AnalyzerConfig points at the remote vulnerability analyzer.
type AnalyzerConfig struct {
	URL            string `yaml:"url" mapstructure:"url"`
	TimeoutSeconds int    `yaml:"timeout_seconds" mapstructure:"timeout_seconds"`
}

// MarketplaceConfig points at the remote skill marketplace.
type MarketplaceConfig struct {
	DownloadBase string `yaml:"download_base" mapstructure:"download_base"`
}

// WatcherConfig tunes the skills-directory watcher.
type WatcherConfig struct {
	PollSeconds int `yaml:"poll_seconds" mapstructure:"poll_seconds"`
	DebounceMs  int `yaml:"debounce_ms" mapstructure:"debounce_ms"`
}

// SecretsConfig configures the vault-backed secret store.
type SecretsConfig struct {
	// UserSecrets are extra secret names appended to the exposed-secrets
	// report, comma-separated in AGENSHIELD_USER_SECRETS.
	UserSecrets string `yaml:"user_secrets" mapstructure:"user_secrets"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Format string `yaml:"format" mapstructure:"format"` // text or json
	Level  string `yaml:"level" mapstructure:"level"`   // debug, info, warn, error
}

// BinDirs returns the wrapper target directories: the agent home's bin/
// plus the optional secondary bin dir.
func (c *Config) BinDirs() []string {
	dirs := []string{filepath.Join(c.Agent.Home, "bin")}
	if c.Dirs.SecondaryBin != "" {
		dirs = append(dirs, c.Dirs.SecondaryBin)
	}
	return dirs
}

// PoliciesPath is the persisted policy document.
func (c *Config) PoliciesPath() string { return filepath.Join(c.Dirs.Config, "policies.yaml") }

// ApprovedSkillsPath is the watcher's trust list.
func (c *Config) ApprovedSkillsPath() string {
	return filepath.Join(c.Dirs.Config, "approved-skills.json")
}

// AllowedCommandsPath is the manifest consumed by the broker.
func (c *Config) AllowedCommandsPath() string {
	return filepath.Join(c.Dirs.Config, "allowed-commands.json")
}

// BrewManifestPath tracks brew-installed binaries and their owners.
func (c *Config) BrewManifestPath() string {
	return filepath.Join(c.Dirs.Config, "brew-manifest.json")
}

// ActivityLogPath is the JSONL event log.
func (c *Config) ActivityLogPath() string { return filepath.Join(c.Dirs.Config, "activity.jsonl") }

// InstructionsPath is the generated policy-instructions markdown.
func (c *Config) InstructionsPath() string {
	return filepath.Join(c.Dirs.Config, "policy-instructions.md")
}

const defaultAgentHome = "/Users/ash_default_agent"

// setDefaults registers default values matching a stock installation.
func setDefaults(v *viper.Viper) {
	v.SetDefault("config_version", 1)
	v.SetDefault("agent.home", defaultAgentHome)
	v.SetDefault("agent.user", "")
	v.SetDefault("agent.socket_group", "ash_default")
	v.SetDefault("agent.shield_exec", "/opt/agenshield/bin/shield-exec")
	v.SetDefault("dirs.config", "")
	v.SetDefault("dirs.skills", "")
	v.SetDefault("dirs.cache", "")
	v.SetDefault("dirs.secondary_bin", "")
	v.SetDefault("dirs.broker_home", "/opt/agenshield/var")
	v.SetDefault("dirs.homebrew", "")
	v.SetDefault("analyzer.url", "")
	v.SetDefault("analyzer.timeout_seconds", 240)
	v.SetDefault("marketplace.download_base", "")
	v.SetDefault("watcher.poll_seconds", 30)
	v.SetDefault("watcher.debounce_ms", 500)
	v.SetDefault("secrets.user_secrets", "")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.level", "info")
}

// bindEnvVars binds environment variable overrides. Viper's AutomaticEnv
// only covers top-level keys, so nested keys are bound explicitly. The
// analyzer and marketplace endpoints additionally honor their historical
// unprefixed names.
func bindEnvVars(v *viper.Viper) {
	bindings := map[string][]string{
		"config_version":            {"AGENSHIELD_CONFIG_VERSION"},
		"agent.home":                {"AGENSHIELD_AGENT_HOME"},
		"agent.user":                {"AGENSHIELD_AGENT_USER"},
		"agent.socket_group":        {"AGENSHIELD_SOCKET_GROUP"},
		"agent.shield_exec":         {"AGENSHIELD_SHIELD_EXEC"},
		"dirs.config":               {"AGENSHIELD_CONFIG_DIR"},
		"dirs.skills":               {"AGENSHIELD_SKILLS_DIR"},
		"dirs.cache":                {"AGENSHIELD_CACHE_DIR"},
		"dirs.secondary_bin":        {"AGENSHIELD_SECONDARY_BIN"},
		"dirs.broker_home":          {"AGENSHIELD_BROKER_HOME"},
		"dirs.homebrew":             {"AGENSHIELD_HOMEBREW_DIR"},
		"analyzer.url":              {"AGENSHIELD_ANALYZER_URL", "SKILL_ANALYZER_URL"},
		"analyzer.timeout_seconds":  {"AGENSHIELD_ANALYZER_TIMEOUT_SECONDS"},
		"marketplace.download_base": {"AGENSHIELD_DOWNLOAD_BASE", "CLAWHUB_DOWNLOAD_BASE"},
		"watcher.poll_seconds":      {"AGENSHIELD_WATCHER_POLL_SECONDS"},
		"watcher.debounce_ms":       {"AGENSHIELD_WATCHER_DEBOUNCE_MS"},
		"secrets.user_secrets":      {"AGENSHIELD_USER_SECRETS"},
		"logging.format":            {"AGENSHIELD_LOGGING_FORMAT"},
		"logging.level":             {"AGENSHIELD_LOGGING_LEVEL"},
	}
	for key, envs := range bindings {
		args := append([]string{key}, envs...)
		_ = v.BindEnv(args...)
	}
}

// DefaultConfigDir returns the default configuration directory path.
func DefaultConfigDir() (string, error) {
	home, err := ResolveHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "agenshield"), nil
}

// DefaultConfigPath returns the default configuration file path.
func DefaultConfigPath() (string, error) {
	dir, err := DefaultConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

// Load reads the daemon configuration from disk, env vars, and defaults.
// If configPath is empty, it looks in ~/.config/agenshield/config.yaml.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	bindEnvVars(v)

	v.SetEnvPrefix("AGENSHIELD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		dir, err := DefaultConfigDir()
		if err != nil {
			slog.Warn("could not determine home directory", "error", err)
		} else {
			v.AddConfigPath(dir)
			v.SetConfigName("config")
			v.SetConfigType("yaml")
		}
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			// A config file that was explicitly requested must exist and
			// parse; the defaults-only path tolerates absence.
			if configPath != "" || !os.IsNotExist(err) {
				return nil, fmt.Errorf("reading config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	applyDerivedDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyDerivedDefaults fills fields whose default depends on another
// field's final value.
func applyDerivedDefaults(cfg *Config) {
	if cfg.Agent.User == "" {
		cfg.Agent.User = filepath.Base(cfg.Agent.Home)
	}
	if cfg.Dirs.Config == "" {
		if dir, err := DefaultConfigDir(); err == nil {
			cfg.Dirs.Config = dir
		}
	}
	if cfg.Dirs.Cache == "" {
		cfg.Dirs.Cache = filepath.Join(cfg.Dirs.Config, "marketplace-cache")
	}
	if cfg.Dirs.Skills == "" {
		cfg.Dirs.Skills = filepath.Join(cfg.Agent.Home, "skills")
	}
	if cfg.Dirs.Homebrew == "" {
		cfg.Dirs.Homebrew = filepath.Join(cfg.Agent.Home, "homebrew")
	}
}

// UserSecretNames splits the comma-separated user-secrets list, trimming
// blanks.
func (c *Config) UserSecretNames() []string {
	var out []string
	for _, name := range strings.Split(c.Secrets.UserSecrets, ",") {
		if name = strings.TrimSpace(name); name != "" {
			out = append(out, name)
		}
	}
	return out
}
