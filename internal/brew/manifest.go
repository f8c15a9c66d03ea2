// Package brew interposes native binaries that skills pull in through
// homebrew: originals are relocated out of the agent's reach and replaced
// by policy-stamped shims, with shared ownership tracked in a manifest.
package brew

import (
	"encoding/json"
	"os"
	"time"

	"github.com/agenshield/agenshield/internal/atomicfile"
)

// ManifestVersion is the on-disk schema version.
const ManifestVersion = "1.0.0"

// FormulaEntry records which skills installed a formula and which
// binaries it provides.
type FormulaEntry struct {
	InstalledBy []string  `json:"installedBy"`
	Binaries    []string  `json:"binaries"`
	InstalledAt time.Time `json:"installedAt"`
}

// BinaryEntry records one interposed binary. OriginalPath is the
// relocated copy; WrapperPath is the shim on the agent's PATH.
type BinaryEntry struct {
	Formula      string   `json:"formula"`
	OwningSkills []string `json:"owningSkills"`
	OriginalPath string   `json:"originalPath"`
	WrapperPath  string   `json:"wrapperPath"`
}

// Manifest is the persisted ownership state. Invariants: every binary's
// Formula is a key in Formulas, and every owning skill appears in that
// formula's InstalledBy.
type Manifest struct {
	Version  string                  `json:"version"`
	Formulas map[string]FormulaEntry `json:"formulas"`
	Binaries map[string]BinaryEntry  `json:"binaries"`
}

func newManifest() *Manifest {
	return &Manifest{
		Version:  ManifestVersion,
		Formulas: map[string]FormulaEntry{},
		Binaries: map[string]BinaryEntry{},
	}
}

// LoadManifest reads the manifest at path, returning an empty one when
// the file does not exist yet.
func LoadManifest(path string) (*Manifest, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return newManifest(), nil
		}
		return nil, err
	}
	var m Manifest
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	if m.Formulas == nil {
		m.Formulas = map[string]FormulaEntry{}
	}
	if m.Binaries == nil {
		m.Binaries = map[string]BinaryEntry{}
	}
	if m.Version == "" {
		m.Version = ManifestVersion
	}
	return &m, nil
}

// SaveManifest writes the manifest as a whole-file replace.
func SaveManifest(path string, m *Manifest) error {
	encoded, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	return atomicfile.Write(path, encoded, 0o644)
}

func contains(xs []string, s string) bool {
	for _, x := range xs {
		if x == s {
			return true
		}
	}
	return false
}

func remove(xs []string, s string) []string {
	out := xs[:0]
	for _, x := range xs {
		if x != s {
			out = append(out, x)
		}
	}
	return out
}
