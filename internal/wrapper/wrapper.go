// Package wrapper implements the Wrapper Manager: it installs and
// garbage-collects command-shim files on the agent's PATH that route
// invocations through the policy-check client.
package wrapper

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// AutoGeneratedMarker appears in every generated bash wrapper so garbage
// collection can recognize wrappers it wrote, even when ShieldExecPath is
// unavailable and a plain file was written instead of a symlink.
const AutoGeneratedMarker = "# agenshield-managed-wrapper"

// CanonicalProxiedCommands is the compiled-in set of commands always
// wrapped regardless of policy.
var CanonicalProxiedCommands = []string{
	"curl", "wget", "git", "ssh", "scp", "rsync", "brew",
	"npm", "npx", "pip", "pip3", "open-url", "shieldctl", "agenco",
}

// protectedRuntimes are never wrapped or removed — wrapping the language
// runtime itself would break every tool that shells out to it.
var protectedRuntimes = []string{"node", "python", "python3"}

// basicSystemCommands are never wrapped or removed.
var basicSystemCommands = []string{
	"sh", "bash", "ls", "cat", "echo", "cd", "pwd", "mkdir", "rm", "cp", "mv",
	"chmod", "chown", "env", "true", "false", "test", "grep", "sed", "awk",
}

// Protected reports whether GC leaves name alone and EnsureCommands skips
// it among the policy-derived names. The canonical proxied commands count
// as protected and are still always wrapped by EnsureCommands.
func Protected(name string) bool {
	return contains(CanonicalProxiedCommands, name) ||
		contains(protectedRuntimes, name) ||
		contains(basicSystemCommands, name)
}

func contains(set []string, name string) bool {
	for _, s := range set {
		if s == name {
			return true
		}
	}
	return false
}

// Manager installs and garbage-collects shims across one or more bin
// directories.
type Manager struct {
	// BinDirs are the directories shims are written to (agent home's
	// bin/, plus an optional secondary bin dir).
	BinDirs []string
	// ShieldExecPath is the path to the shared shield-exec binary. When
	// present, shims are symlinks to it; when empty/absent, a generated
	// bash wrapper is written instead.
	ShieldExecPath string
}

func NewManager(binDirs []string, shieldExecPath string) *Manager {
	return &Manager{BinDirs: binDirs, ShieldExecPath: shieldExecPath}
}

func (m *Manager) shieldExecAvailable() bool {
	if m.ShieldExecPath == "" {
		return false
	}
	info, err := os.Stat(m.ShieldExecPath)
	return err == nil && !info.IsDir()
}

// GenericWrapperScript renders the bash fallback wrapper for a generic
// proxied command.
func GenericWrapperScript(cmd string) string {
	return fmt.Sprintf(`#!/bin/bash
%s
pwd >/dev/null 2>&1 || cd ~ || cd /
exec /opt/agenshield/bin/shield-client exec %s "$@"
`, AutoGeneratedMarker, cmd)
}

// SkillWrapperScript renders the bash fallback wrapper for a skill
// command.
func SkillWrapperScript(slug string) string {
	return fmt.Sprintf(`#!/bin/bash
%s
pwd >/dev/null 2>&1 || cd ~ || cd /
exec /opt/agenshield/bin/shield-client skill run "%s" "$@"
`, AutoGeneratedMarker, slug)
}

// EnsureCommands installs a shim for every command in names (deduplicated
// with CanonicalProxiedCommands) into every BinDir, skipping protected
// names.
func (m *Manager) EnsureCommands(names []string) error {
	all := map[string]bool{}
	for _, n := range CanonicalProxiedCommands {
		all[n] = true
	}
	for _, n := range names {
		if Protected(n) {
			continue
		}
		all[n] = true
	}

	ordered := make([]string, 0, len(all))
	for n := range all {
		ordered = append(ordered, n)
	}
	sort.Strings(ordered)

	for _, dir := range m.BinDirs {
		if dir == "" {
			continue
		}
		for _, cmd := range ordered {
			if err := m.ensureOne(dir, cmd, GenericWrapperScript(cmd)); err != nil {
				return fmt.Errorf("installing wrapper %s in %s: %w", cmd, dir, err)
			}
		}
	}
	return nil
}

func (m *Manager) ensureOne(dir, name, fallbackScript string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	target := filepath.Join(dir, name)

	if m.shieldExecAvailable() {
		if isSymlinkTo(target, m.ShieldExecPath) {
			return nil
		}
		os.Remove(target)
		return os.Symlink(m.ShieldExecPath, target)
	}

	if isGeneratedFile(target) && sameContent(target, fallbackScript) {
		return nil
	}
	os.Remove(target)
	return os.WriteFile(target, []byte(fallbackScript), 0o755)
}

// EnsureSkillWrapper installs a per-slug shim invoking `shield-client
// skill run <slug>` in every BinDir.
func (m *Manager) EnsureSkillWrapper(slug string) error {
	for _, dir := range m.BinDirs {
		if dir == "" {
			continue
		}
		if err := m.ensureOne(dir, slug, SkillWrapperScript(slug)); err != nil {
			return fmt.Errorf("installing skill wrapper %s in %s: %w", slug, dir, err)
		}
	}
	return nil
}

// RemoveCommand removes a previously installed shim from every BinDir,
// whether a symlink or a generated file; never touches .brew-originals/
// or any entry that isn't ours.
func (m *Manager) RemoveCommand(name string) error {
	for _, dir := range m.BinDirs {
		if dir == "" {
			continue
		}
		target := filepath.Join(dir, name)
		if isSymlinkTo(target, m.ShieldExecPath) || isGeneratedFile(target) {
			os.Remove(target)
		}
	}
	return nil
}

// GC removes stale shims: entries in each BinDir that are neither
// protected nor present in keep, and that are recognizably ours — a
// symlink to ShieldExecPath or a regular file carrying the generated
// marker. .brew-originals/ is never touched.
func (m *Manager) GC(keep []string) error {
	keepSet := map[string]bool{}
	for _, n := range keep {
		keepSet[n] = true
	}

	for _, dir := range m.BinDirs {
		if dir == "" {
			continue
		}
		entries, err := os.ReadDir(dir)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return fmt.Errorf("reading bin dir %s: %w", dir, err)
		}
		for _, e := range entries {
			name := e.Name()
			if name == ".brew-originals" {
				continue
			}
			if Protected(name) || keepSet[name] {
				continue
			}
			target := filepath.Join(dir, name)
			if isSymlinkTo(target, m.ShieldExecPath) || isGeneratedFile(target) {
				os.Remove(target)
			}
		}
	}
	return nil
}

func isSymlinkTo(path, target string) bool {
	if target == "" {
		return false
	}
	link, err := os.Readlink(path)
	if err != nil {
		return false
	}
	return link == target
}

func isGeneratedFile(path string) bool {
	info, err := os.Lstat(path)
	if err != nil || info.Mode()&os.ModeSymlink != 0 || info.IsDir() {
		return false
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return false
	}
	return strings.Contains(string(data), AutoGeneratedMarker)
}

func sameContent(path, want string) bool {
	data, err := os.ReadFile(path)
	return err == nil && string(data) == want
}
