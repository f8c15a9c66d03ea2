package skills

import (
	"strings"
)

// ManifestName is the canonical primary-manifest filename. Bundles in the
// wild carry it in varying case, so lookups are case-insensitive.
const ManifestName = "SKILL.md"

// IsManifestPath reports whether relPath names the primary manifest,
// case-insensitively. Only top-level manifests count; a SKILL.md nested
// in a subdirectory is ordinary content.
func IsManifestPath(relPath string) bool {
	if strings.ContainsRune(relPath, '/') {
		return false
	}
	return strings.EqualFold(relPath, ManifestName)
}

// FindManifest returns the manifest's key in a file set, if present.
func FindManifest(files map[string][]byte) (string, bool) {
	for path := range files {
		if IsManifestPath(path) {
			return path, true
		}
	}
	return "", false
}
