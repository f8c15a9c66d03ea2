// Package pathnorm resolves policy glob patterns to concrete base paths
// and walks the ancestor chain a filesystem ACL must cover for traversal.
package pathnorm

import (
	"os"
	"strings"
)

// WorldTraversable is the fixed set of directories every user can already
// traverse (list+search) regardless of agent-specific ACLs. Ancestors in
// this set never need an explicit allow entry.
var WorldTraversable = map[string]bool{
	"/":             true,
	"/Users":        true,
	"/tmp":          true,
	"/private":      true,
	"/private/tmp":  true,
	"/private/var":  true,
	"/var":          true,
	"/opt":          true,
	"/usr":          true,
	"/usr/local":    true,
	"/Applications": true,
	"/Library":      true,
	"/System":       true,
	"/Volumes":      true,
}

// globChars are the characters that mark a path segment as a glob segment.
const globChars = "*?["

// StripGlobToBasePath expands a leading "~" to agentHome, then returns the
// longest concrete prefix of pattern — the path portion before the first
// segment containing a glob metacharacter. A pattern with no glob segments
// is returned unchanged (modulo trailing-slash collapse).
func StripGlobToBasePath(pattern, agentHome string) string {
	p := expandHome(pattern, agentHome)
	p = collapseTrailingSlashes(p)

	if !strings.ContainsAny(p, globChars) {
		return p
	}

	segments := strings.Split(p, "/")
	var kept []string
	for _, seg := range segments {
		if strings.ContainsAny(seg, globChars) {
			break
		}
		kept = append(kept, seg)
	}

	base := strings.Join(kept, "/")
	if base == "" {
		return "/"
	}
	return base
}

func expandHome(p, agentHome string) string {
	if p == "~" {
		return agentHome
	}
	if strings.HasPrefix(p, "~/") {
		return agentHome + p[1:]
	}
	return p
}

func collapseTrailingSlashes(p string) string {
	if p == "/" {
		return p
	}
	for len(p) > 1 && strings.HasSuffix(p, "/") {
		p = p[:len(p)-1]
	}
	return p
}

// GetAncestorsNeedingTraversal walks from the immediate parent of path up to
// "/", returning every directory that is not in WorldTraversable, in
// child-to-root order.
func GetAncestorsNeedingTraversal(path string) []string {
	var out []string
	dir := parentOf(path)
	for dir != "" {
		if !WorldTraversable[dir] {
			out = append(out, dir)
		}
		if dir == "/" {
			break
		}
		dir = parentOf(dir)
	}
	return out
}

func parentOf(path string) string {
	if path == "/" || path == "" {
		return ""
	}
	idx := strings.LastIndex(strings.TrimSuffix(path, "/"), "/")
	if idx <= 0 {
		return "/"
	}
	return path[:idx]
}

// DefaultAgentHome returns the AGENSHIELD_AGENT_HOME override or the
// compiled-in default.
func DefaultAgentHome() string {
	if v := os.Getenv("AGENSHIELD_AGENT_HOME"); v != "" {
		return v
	}
	return "/Users/ash_default_agent"
}
