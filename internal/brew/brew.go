package brew

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/agenshield/agenshield/internal/broker"
	"github.com/agenshield/agenshield/internal/wrapper"
)

// OriginalsDirName is the directory under the agent's bin/ where
// relocated originals live. Wrapper garbage collection never touches it.
const OriginalsDirName = ".brew-originals"

const discoverTimeout = 10 * time.Second
const uninstallTimeout = 30 * time.Second

// binaryName restricts which brew-provided entries are eligible for
// interposition.
var binaryName = regexp.MustCompile(`^[A-Za-z0-9_.\-]+$`)

// Runner executes a brew subcommand and returns its combined output.
// Injectable for tests; the default shells out as the agent user.
type Runner func(ctx context.Context, args ...string) (string, error)

// Manager relocates brew-installed binaries and maintains their shims and
// the ownership manifest.
type Manager struct {
	ManifestPath string
	AgentHome    string
	HomebrewDir  string
	SocketGroup  string
	ShieldClient string
	AgentUser    string

	FS  broker.PrivilegedFS
	Run Runner

	mu sync.Mutex
}

// NewManager returns a manager with the default brew runner.
func NewManager(manifestPath, agentHome, homebrewDir, socketGroup, agentUser string, fs broker.PrivilegedFS) *Manager {
	m := &Manager{
		ManifestPath: manifestPath,
		AgentHome:    agentHome,
		HomebrewDir:  homebrewDir,
		SocketGroup:  socketGroup,
		ShieldClient: "/opt/agenshield/bin/shield-client",
		AgentUser:    agentUser,
		FS:           fs,
	}
	m.Run = m.runBrew
	return m
}

func (m *Manager) runBrew(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "sudo", append([]string{"-u", m.AgentUser, "brew"}, args...)...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return string(out), fmt.Errorf("brew %s: %w", strings.Join(args, " "), err)
	}
	return string(out), nil
}

func (m *Manager) homebrewBin() string { return filepath.Join(m.HomebrewDir, "bin") }
func (m *Manager) agentBin() string    { return filepath.Join(m.AgentHome, "bin") }
func (m *Manager) originalsDir() string {
	return filepath.Join(m.agentBin(), OriginalsDirName)
}

// WrapperScript renders the shim for cmd stamped with the owning slug:
// it verifies the working directory, asks shield-client for an exec
// decision (exit 126 on denial), exports the skill context, and execs the
// relocated original.
func (m *Manager) WrapperScript(cmd, slug string) string {
	return fmt.Sprintf(`#!/bin/bash
%s
pwd >/dev/null 2>&1 || cd ~ || cd /
%s check-exec %s || exit 126
export AGENSHIELD_CONTEXT_TYPE=skill
export AGENSHIELD_SKILL_SLUG=%q
exec %q "$@"
`, wrapper.AutoGeneratedMarker, m.ShieldClient, cmd, slug, filepath.Join(m.originalsDir(), cmd))
}

// DiscoverBinaries unions the declared metadata binaries with the output
// of `brew list <formula>` filtered to well-formed names under the
// agent's homebrew bin, excluding protected commands.
func (m *Manager) DiscoverBinaries(ctx context.Context, formula string, metadataBins []string) ([]string, error) {
	found := map[string]bool{}
	for _, b := range metadataBins {
		if binaryName.MatchString(b) && !wrapper.Protected(b) {
			found[b] = true
		}
	}

	listCtx, cancel := context.WithTimeout(ctx, discoverTimeout)
	defer cancel()
	out, err := m.Run(listCtx, "list", formula)
	if err != nil {
		if len(found) > 0 {
			slog.Warn("brew list failed, using declared binaries only", "formula", formula, "error", err)
		} else {
			return nil, err
		}
	}

	binPrefix := m.homebrewBin() + string(os.PathSeparator)
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, binPrefix) {
			continue
		}
		name := filepath.Base(line)
		if binaryName.MatchString(name) && !wrapper.Protected(name) {
			found[name] = true
		}
	}

	bins := make([]string, 0, len(found))
	for b := range found {
		bins = append(bins, b)
	}
	sortStrings(bins)
	return bins, nil
}

// RegisterFormula interposes every binary the formula provides on behalf
// of slug: already-tracked binaries gain a co-owner, new ones are
// relocated and shimmed. Per-binary failures are logged and do not halt
// the rest.
func (m *Manager) RegisterFormula(ctx context.Context, slug, formula string, metadataBins []string) error {
	bins, err := m.DiscoverBinaries(ctx, formula, metadataBins)
	if err != nil {
		return fmt.Errorf("discovering binaries for %s: %w", formula, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	manifest, err := LoadManifest(m.ManifestPath)
	if err != nil {
		return err
	}

	fe, ok := manifest.Formulas[formula]
	if !ok {
		fe = FormulaEntry{InstalledAt: time.Now()}
	}
	if !contains(fe.InstalledBy, slug) {
		fe.InstalledBy = append(fe.InstalledBy, slug)
	}

	for _, bin := range bins {
		if !contains(fe.Binaries, bin) {
			fe.Binaries = append(fe.Binaries, bin)
		}
		be, tracked := manifest.Binaries[bin]
		if tracked {
			if !contains(be.OwningSkills, slug) {
				be.OwningSkills = append(be.OwningSkills, slug)
				manifest.Binaries[bin] = be
			}
			continue
		}
		be, err := m.interpose(ctx, bin, formula, slug)
		if err != nil {
			slog.Warn("interposing brew binary failed", "binary", bin, "formula", formula, "error", err)
			continue
		}
		manifest.Binaries[bin] = be
	}
	manifest.Formulas[formula] = fe

	return SaveManifest(m.ManifestPath, manifest)
}

// interpose relocates homebrew/bin/<cmd> to .brew-originals/<cmd> and
// writes the wrapper in its place on the agent's PATH. The homebrew
// symlink is unlinked so the agent cannot reach the original directly.
func (m *Manager) interpose(ctx context.Context, bin, formula, slug string) (BinaryEntry, error) {
	link := filepath.Join(m.homebrewBin(), bin)
	resolved, err := filepath.EvalSymlinks(link)
	if err != nil {
		return BinaryEntry{}, fmt.Errorf("resolving %s: %w", link, err)
	}

	mode := uint32(0o755)
	if info, err := os.Stat(resolved); err == nil {
		mode = uint32(info.Mode().Perm())
	}

	original := filepath.Join(m.originalsDir(), bin)
	if err := m.FS.Mkdir(ctx, m.originalsDir()); err != nil {
		return BinaryEntry{}, err
	}
	if err := m.FS.CopyFile(ctx, resolved, original, mode); err != nil {
		return BinaryEntry{}, fmt.Errorf("relocating %s: %w", bin, err)
	}
	if err := os.Remove(link); err != nil && !os.IsNotExist(err) {
		if rmErr := m.FS.Remove(ctx, link); rmErr != nil {
			return BinaryEntry{}, fmt.Errorf("unlinking %s: %w", link, rmErr)
		}
	}

	wrapperPath := filepath.Join(m.agentBin(), bin)
	if err := m.FS.WriteFile(ctx, wrapperPath, []byte(m.WrapperScript(bin, slug)), 0o755); err != nil {
		return BinaryEntry{}, fmt.Errorf("writing wrapper %s: %w", wrapperPath, err)
	}

	return BinaryEntry{
		Formula:      formula,
		OwningSkills: []string{slug},
		OriginalPath: original,
		WrapperPath:  wrapperPath,
	}, nil
}

// ReleaseSlug withdraws slug's claims: sole-owned binaries lose both shim
// and relocated original, shared ones are re-stamped for the next owner,
// and formulas with no remaining owners are brew-uninstalled.
func (m *Manager) ReleaseSlug(ctx context.Context, slug string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	manifest, err := LoadManifest(m.ManifestPath)
	if err != nil {
		return err
	}

	for bin, be := range manifest.Binaries {
		if !contains(be.OwningSkills, slug) {
			continue
		}
		be.OwningSkills = remove(be.OwningSkills, slug)
		if len(be.OwningSkills) == 0 {
			if err := m.FS.Remove(ctx, be.WrapperPath); err != nil {
				slog.Warn("removing wrapper failed", "binary", bin, "error", err)
			}
			if err := m.FS.Remove(ctx, be.OriginalPath); err != nil {
				slog.Warn("removing relocated original failed", "binary", bin, "error", err)
			}
			if fe, ok := manifest.Formulas[be.Formula]; ok {
				fe.Binaries = remove(fe.Binaries, bin)
				manifest.Formulas[be.Formula] = fe
			}
			delete(manifest.Binaries, bin)
			continue
		}
		// Re-stamp the wrapper with the next owner.
		next := be.OwningSkills[0]
		if err := m.FS.WriteFile(ctx, be.WrapperPath, []byte(m.WrapperScript(bin, next)), 0o755); err != nil {
			slog.Warn("re-stamping wrapper failed", "binary", bin, "error", err)
		}
		manifest.Binaries[bin] = be
	}

	for formula, fe := range manifest.Formulas {
		if !contains(fe.InstalledBy, slug) {
			continue
		}
		fe.InstalledBy = remove(fe.InstalledBy, slug)
		if len(fe.InstalledBy) == 0 && len(fe.Binaries) == 0 {
			uninstallCtx, cancel := context.WithTimeout(ctx, uninstallTimeout)
			if _, err := m.Run(uninstallCtx, "uninstall", formula); err != nil {
				slog.Warn("brew uninstall failed", "formula", formula, "error", err)
			}
			cancel()
			delete(manifest.Formulas, formula)
			continue
		}
		manifest.Formulas[formula] = fe
	}

	return SaveManifest(m.ManifestPath, manifest)
}

func sortStrings(xs []string) {
	for i := 1; i < len(xs); i++ {
		for j := i; j > 0 && xs[j-1] > xs[j]; j-- {
			xs[j-1], xs[j] = xs[j], xs[j-1]
		}
	}
}
