package installtag

import (
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
)

// LoadOrCreateKeyer reads the installation tag from path, generating and
// persisting a fresh one (mode 0600) on first run. The tag never leaves
// this host; it only proves a bundle was installed by this daemon.
func LoadOrCreateKeyer(path string) (Keyer, error) {
	raw, err := os.ReadFile(path)
	if err == nil {
		tag := strings.TrimSpace(string(raw))
		if tag != "" {
			return StaticKeyer{CurrentTag: tag}, nil
		}
	} else if !os.IsNotExist(err) {
		return nil, err
	}

	tag := TagPrefix + uuid.NewString()
	if err := os.WriteFile(path, []byte(tag+"\n"), 0o600); err != nil {
		return nil, fmt.Errorf("persisting installation key: %w", err)
	}
	return StaticKeyer{CurrentTag: tag}, nil
}
