package policy

import (
	"fmt"
	"os"

	yaml "go.yaml.in/yaml/v3"

	"github.com/agenshield/agenshield/internal/atomicfile"
)

// LoadSet reads and validates a policy document from path.
func LoadSet(path string) (*Set, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading policy set %s: %w", path, err)
	}
	var s Set
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parsing policy set %s: %w", path, err)
	}
	if err := ValidateSet(&s); err != nil {
		return nil, fmt.Errorf("validating policy set %s: %w", path, err)
	}
	return &s, nil
}

// SaveSet serializes the set as YAML and writes it atomically (write to a
// temp file in the same directory, then rename), matching the
// write-to-temp-then-rename contract every shared
// on-disk policy artifact.
func SaveSet(path string, s *Set) error {
	data, err := yaml.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshaling policy set: %w", err)
	}
	return atomicfile.Write(path, data, 0o644)
}
