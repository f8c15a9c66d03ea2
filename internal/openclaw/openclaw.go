// Package openclaw updates the agent runtime's openclaw.json. Only the
// fields the daemon owns are touched; everything else in the document is
// preserved byte-for-byte at the JSON value level.
package openclaw

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/user"
	"path/filepath"
	"strconv"

	"github.com/agenshield/agenshield/internal/atomicfile"
)

// FileMode is restored after every write; the broker and daemon share
// group ownership of the file.
const FileMode = 0o664

// Settings are the daemon-owned fields of openclaw.json.
type Settings struct {
	AllowBundled bool
	LoadWatch    bool
	// NativeCommands and NativeSkillCommands populate commands.native and
	// commands.nativeSkills.
	NativeCommands      []string
	NativeSkillCommands []string
}

// Writer rewrites the daemon-owned fields of an openclaw.json document.
type Writer struct {
	Path        string
	AgentHome   string
	SocketGroup string
}

// workspacePath is the agent-home workspace every write self-heals
// agents.defaults.workspace back to, in case an external writer
// regressed it.
func (w *Writer) workspacePath() string {
	return filepath.Join(w.AgentHome, "workspace")
}

// Update reads the document (treating a missing file as empty), applies
// the daemon-owned fields, self-heals the workspace path, and writes the
// result back with the canonical mode and group.
func (w *Writer) Update(s Settings) error {
	doc := map[string]any{}
	if raw, err := os.ReadFile(w.Path); err == nil {
		if err := json.Unmarshal(raw, &doc); err != nil {
			return fmt.Errorf("parsing %s: %w", w.Path, err)
		}
	} else if !os.IsNotExist(err) {
		return err
	}

	skills := subMap(doc, "skills")
	skills["allowBundled"] = s.AllowBundled
	load := subMap(skills, "load")
	load["watch"] = s.LoadWatch

	commands := subMap(doc, "commands")
	commands["native"] = stringList(s.NativeCommands)
	commands["nativeSkills"] = stringList(s.NativeSkillCommands)

	agents := subMap(doc, "agents")
	defaults := subMap(agents, "defaults")
	defaults["workspace"] = w.workspacePath()

	encoded, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	if err := atomicfile.Write(w.Path, append(encoded, '\n'), FileMode); err != nil {
		return err
	}
	w.restoreOwnership()
	return nil
}

// subMap returns doc[key] as a map, inserting one when absent or of the
// wrong shape.
func subMap(doc map[string]any, key string) map[string]any {
	if m, ok := doc[key].(map[string]any); ok {
		return m
	}
	m := map[string]any{}
	doc[key] = m
	return m
}

func stringList(xs []string) []any {
	out := make([]any, len(xs))
	for i, x := range xs {
		out[i] = x
	}
	return out
}

// restoreOwnership re-asserts mode 0664 and, when running as root, group
// ownership to the socket group. Failures are logged, not fatal.
func (w *Writer) restoreOwnership() {
	if err := os.Chmod(w.Path, FileMode); err != nil {
		slog.Warn("restoring openclaw.json mode failed", "path", w.Path, "error", err)
	}
	if os.Geteuid() != 0 || w.SocketGroup == "" {
		return
	}
	grp, err := user.LookupGroup(w.SocketGroup)
	if err != nil {
		slog.Warn("socket group lookup failed", "group", w.SocketGroup, "error", err)
		return
	}
	gid, err := strconv.Atoi(grp.Gid)
	if err != nil {
		return
	}
	if err := os.Chown(w.Path, -1, gid); err != nil {
		slog.Warn("restoring openclaw.json group failed", "path", w.Path, "error", err)
	}
}
