package marketplace

import (
	"path"
	"regexp"
	"strings"
)

// markdownImageRef matches "![alt](relpath)" markdown image references.
var markdownImageRef = regexp.MustCompile(`!\[([^\]]*)\]\(([^)\s]+)\)`)

// InlineImages rewrites every "![alt](relpath)" reference in markdown
// whose relpath resolves to a cached image file into a data URI,
// matching by exact path, normalized path (leading "./" stripped), or
// basename. References that are already absolute URLs or
// data URIs are left untouched.
func InlineImages(markdown string, files map[string][]byte) string {
	if len(files) == 0 {
		return markdown
	}

	byBasename := make(map[string]string)
	for relPath := range files {
		byBasename[path.Base(relPath)] = relPath
	}

	return markdownImageRef.ReplaceAllStringFunc(markdown, func(match string) string {
		sub := markdownImageRef.FindStringSubmatch(match)
		alt, ref := sub[1], sub[2]

		if isAbsoluteOrData(ref) {
			return match
		}

		key, ok := resolveImageRef(ref, files, byBasename)
		if !ok {
			return match
		}
		dataURI := string(files[key])
		if !strings.HasPrefix(dataURI, "data:") {
			return match
		}
		return "![" + alt + "](" + dataURI + ")"
	})
}

func isAbsoluteOrData(ref string) bool {
	return strings.HasPrefix(ref, "data:") ||
		strings.HasPrefix(ref, "http://") ||
		strings.HasPrefix(ref, "https://") ||
		strings.HasPrefix(ref, "//")
}

func resolveImageRef(ref string, files map[string][]byte, byBasename map[string]string) (string, bool) {
	if _, ok := files[ref]; ok {
		return ref, true
	}
	normalized := strings.TrimPrefix(ref, "./")
	if _, ok := files[normalized]; ok {
		return normalized, true
	}
	if key, ok := byBasename[path.Base(ref)]; ok {
		return key, true
	}
	return "", false
}
