package analyzer

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/agenshield/agenshield/internal/atomicfile"
)

// Cache is the per-slug analysis cache: one JSON file per slug under its
// directory. It predates the marketplace cache's embedded analysis field
// and is still written alongside it so older readers keep working.
type Cache struct {
	Dir string
}

// NewCache returns a cache rooted at dir.
func NewCache(dir string) *Cache { return &Cache{Dir: dir} }

func (c *Cache) path(slug string) string {
	return filepath.Join(c.Dir, slug+".json")
}

// Store persists the analysis for its slug.
func (c *Cache) Store(a *Analysis) error {
	encoded, err := json.MarshalIndent(a, "", "  ")
	if err != nil {
		return err
	}
	return atomicfile.Write(c.path(a.Slug), encoded, 0o644)
}

// Load reads a previously stored analysis. Returns os.ErrNotExist when
// the slug has never been analyzed.
func (c *Cache) Load(slug string) (*Analysis, error) {
	raw, err := os.ReadFile(c.path(slug))
	if err != nil {
		return nil, err
	}
	var a Analysis
	if err := json.Unmarshal(raw, &a); err != nil {
		return nil, err
	}
	return &a, nil
}
