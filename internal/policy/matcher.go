package policy

import (
	"sync"

	"github.com/gobwas/glob"
)

// compiledGlobs caches compiled patterns; policy sets are small and
// patterns repeat across reconciles.
var compiledGlobs sync.Map // pattern -> glob.Glob

// PatternMatches reports whether a policy pattern matches candidate.
// Patterns compile as globs with '/' as separator; a pattern that fails
// to compile only matches itself literally.
func PatternMatches(pattern, candidate string) bool {
	if pattern == candidate {
		return true
	}
	if cached, ok := compiledGlobs.Load(pattern); ok {
		if g, ok := cached.(glob.Glob); ok {
			return g.Match(candidate)
		}
		return false
	}
	g, err := glob.Compile(pattern, '/')
	if err != nil {
		compiledGlobs.Store(pattern, nil)
		return false
	}
	compiledGlobs.Store(pattern, g)
	return g.Match(candidate)
}
