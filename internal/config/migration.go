package config

import (
	"fmt"
	"os"
	"path/filepath"

	"go.yaml.in/yaml/v3"
)

// CurrentConfigVersion is the latest config schema version.
const CurrentConfigVersion = 1

// migrationFunc transforms raw YAML data from one version to the next.
type migrationFunc func(data map[string]interface{}) (map[string]interface{}, error)

// migrations is an ordered list of version-to-version migration functions.
// Index 0 = v0 -> v1, index 1 = v1 -> v2, etc.
var migrations = []migrationFunc{
	migrateV0ToV1,
}

// migrateV0ToV1 stamps config_version: 1 on a pre-versioning config.
func migrateV0ToV1(data map[string]interface{}) (map[string]interface{}, error) {
	data["config_version"] = 1
	return data, nil
}

// DetectVersion returns the config_version from raw YAML data. If the
// field is absent, returns 0 (pre-versioning).
func DetectVersion(data []byte) (int, error) {
	var raw map[string]interface{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return 0, fmt.Errorf("parsing config: %w", err)
	}
	return detectVersionFromMap(raw), nil
}

func detectVersionFromMap(raw map[string]interface{}) int {
	v, ok := raw["config_version"]
	if !ok {
		return 0
	}
	switch val := v.(type) {
	case int:
		return val
	case float64:
		return int(val)
	}
	return 0
}

// MigrateConfig runs all pending migrations on raw YAML data from
// fromVersion up to CurrentConfigVersion and returns the migrated bytes.
func MigrateConfig(data []byte, fromVersion int) ([]byte, error) {
	if fromVersion < 0 {
		return nil, fmt.Errorf("invalid source version: %d", fromVersion)
	}
	if fromVersion >= CurrentConfigVersion {
		return data, nil
	}

	var raw map[string]interface{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if raw == nil {
		raw = map[string]interface{}{}
	}

	for v := fromVersion; v < CurrentConfigVersion; v++ {
		migrated, err := migrations[v](raw)
		if err != nil {
			return nil, fmt.Errorf("migrating config v%d -> v%d: %w", v, v+1, err)
		}
		raw = migrated
	}

	return yaml.Marshal(raw)
}

// MigrateConfigFile migrates the file at path in place, writing a .bak
// copy of the original first. Returns true if a migration was applied.
func MigrateConfigFile(path string) (bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return false, err
	}
	version, err := DetectVersion(data)
	if err != nil {
		return false, err
	}
	if version >= CurrentConfigVersion {
		return false, nil
	}

	migrated, err := MigrateConfig(data, version)
	if err != nil {
		return false, err
	}

	backup := path + ".bak"
	if err := os.WriteFile(backup, data, 0o600); err != nil {
		return false, fmt.Errorf("writing backup %s: %w", backup, err)
	}
	if err := os.WriteFile(path, migrated, 0o600); err != nil {
		return false, fmt.Errorf("writing migrated config: %w", err)
	}
	return true, nil
}

// WriteDefault writes a commented starter config to path, refusing to
// overwrite an existing file.
func WriteDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists: %s", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(defaultConfigTemplate), 0o600)
}

const defaultConfigTemplate = `# agenshield daemon configuration
config_version: 1

agent:
  home: /Users/ash_default_agent
  socket_group: ash_default
  shield_exec: /opt/agenshield/bin/shield-exec

dirs:
  broker_home: /opt/agenshield/var

analyzer:
  url: ""
  timeout_seconds: 240

marketplace:
  download_base: ""

watcher:
  poll_seconds: 30
  debounce_ms: 500

logging:
  format: text
  level: info
`
