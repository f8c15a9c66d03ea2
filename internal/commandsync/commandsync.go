// Package commandsync implements the Command Allowlist Sync: it
// extracts the unique command names an enabled allow/command policy set
// grants, resolves each to an absolute binary path, and writes the
// broker-consumed allowed-commands.json manifest.
package commandsync

import (
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/agenshield/agenshield/internal/atomicfile"
	"github.com/agenshield/agenshield/internal/policy"
)

// ManifestVersion is the fixed "version" field of allowed-commands.json.
const ManifestVersion = "1.0.0"

// Command is one entry in the allowed-commands.json manifest.
type Command struct {
	Name      string    `json:"name"`
	Paths     []string  `json:"paths"`
	AddedAt   time.Time `json:"addedAt"`
	AddedBy   string    `json:"addedBy"`
	Category  string    `json:"category"`
}

// Manifest is the on-disk shape of allowed-commands.json.
type Manifest struct {
	Version  string    `json:"version"`
	Commands []Command `json:"commands"`
}

// Resolver looks up the absolute path(s) of a command name. Default
// implementation scans a fixed list of bin directories, falling back to
// a PATH lookup.
type Resolver struct {
	// BinDirs is the fixed list of directories scanned for a regular,
	// executable file named exactly like the command.
	BinDirs []string
	// LookPath resolves a command via $PATH; defaults to exec.LookPath.
	LookPath func(name string) (string, error)
}

func NewResolver(binDirs []string) *Resolver {
	return &Resolver{BinDirs: binDirs, LookPath: defaultLookPath}
}

// Resolve returns every absolute path found for name: first any matches
// among BinDirs (in order), then a single PATH match if BinDirs found
// nothing.
func (r *Resolver) Resolve(name string) []string {
	var found []string
	for _, dir := range r.BinDirs {
		candidate := filepath.Join(dir, name)
		info, err := os.Stat(candidate)
		if err != nil || info.IsDir() {
			continue
		}
		if info.Mode()&0o111 == 0 {
			continue
		}
		found = append(found, candidate)
	}
	if len(found) > 0 {
		return found
	}
	if p, err := r.LookPath(name); err == nil {
		return []string{p}
	}
	return nil
}

// ExtractCommandNames returns the unique base command name referenced by
// every enabled allow/command policy pattern, in first-seen order.
func ExtractCommandNames(set *policy.Set) []string {
	seen := map[string]bool{}
	var names []string
	for _, p := range set.Policies {
		if !p.Enabled || p.Action != policy.ActionAllow || p.Target != policy.TargetCommand {
			continue
		}
		for _, pattern := range p.Patterns {
			name := ParseCommandPattern(pattern)
			if name == "" || seen[name] {
				continue
			}
			seen[name] = true
			names = append(names, name)
		}
	}
	return names
}

// ParseCommandPattern applies the pattern-parsing rule to a
// single command-policy pattern.
func ParseCommandPattern(pattern string) string {
	p := strings.TrimSpace(pattern)
	p = strings.TrimSuffix(p, ":*")
	fields := strings.Fields(p)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

// Build resolves every allowed command name in set and returns the
// manifest to persist. A name with no resolvable path is still written
// with an empty Paths slice, logged at WARN by the caller if desired.
func Build(set *policy.Set, resolver *Resolver, now time.Time) Manifest {
	names := ExtractCommandNames(set)
	sort.Strings(names)

	commands := make([]Command, 0, len(names))
	for _, name := range names {
		commands = append(commands, Command{
			Name:     name,
			Paths:    resolver.Resolve(name),
			AddedAt:  now,
			AddedBy:  "policy",
			Category: "policy-managed",
		})
	}
	return Manifest{Version: ManifestVersion, Commands: commands}
}

// Write serializes the manifest as JSON and writes it atomically to path.
func Write(path string, m Manifest) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	return atomicfile.Write(path, data, 0o644)
}

func defaultLookPath(name string) (string, error) {
	return exec.LookPath(name)
}
