// Package skills manages the four coupled per-slug stores — approved
// list, marketplace cache, on-disk skill directory, and skill policies —
// and the lifecycle and watcher logic that keeps them consistent.
package skills

import (
	"encoding/json"
	"os"
	"sync"
	"time"

	"github.com/agenshield/agenshield/internal/atomicfile"
)

// ApprovedEntry is one row of approved-skills.json. Name is the slug;
// MarketplaceSlug is recorded when the skill came from the marketplace
// under a different identifier.
type ApprovedEntry struct {
	Name            string    `json:"name"`
	ApprovedAt      time.Time `json:"approvedAt"`
	Hash            string    `json:"hash,omitempty"`
	Publisher       string    `json:"publisher,omitempty"`
	MarketplaceSlug string    `json:"slug,omitempty"`
}

// ApprovedList is the watcher's trust list. A slug present here is
// trusted; a slug absent is untrusted. Every write is a whole-file
// replace so concurrent readers never observe a partial document.
type ApprovedList struct {
	mu   sync.Mutex
	path string
}

// NewApprovedList binds a list to its backing file. The file is created
// lazily on the first Add or Remove.
func NewApprovedList(path string) *ApprovedList {
	return &ApprovedList{path: path}
}

func (a *ApprovedList) load() ([]ApprovedEntry, error) {
	raw, err := os.ReadFile(a.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var entries []ApprovedEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

func (a *ApprovedList) save(entries []ApprovedEntry) error {
	if entries == nil {
		entries = []ApprovedEntry{}
	}
	encoded, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return err
	}
	return atomicfile.Write(a.path, encoded, 0o644)
}

// List returns every approved entry.
func (a *ApprovedList) List() ([]ApprovedEntry, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.load()
}

// Get returns the entry for slug, if approved.
func (a *ApprovedList) Get(slug string) (ApprovedEntry, bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	entries, err := a.load()
	if err != nil {
		return ApprovedEntry{}, false, err
	}
	for _, e := range entries {
		if e.Name == slug {
			return e, true, nil
		}
	}
	return ApprovedEntry{}, false, nil
}

// Contains reports whether slug is approved. Read errors count as not
// approved.
func (a *ApprovedList) Contains(slug string) bool {
	_, ok, err := a.Get(slug)
	return err == nil && ok
}

// Add inserts or replaces the entry for entry.Name.
func (a *ApprovedList) Add(entry ApprovedEntry) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	entries, err := a.load()
	if err != nil {
		return err
	}
	out := entries[:0]
	for _, e := range entries {
		if e.Name != entry.Name {
			out = append(out, e)
		}
	}
	out = append(out, entry)
	return a.save(out)
}

// Remove deletes the entry for slug, if present.
func (a *ApprovedList) Remove(slug string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	entries, err := a.load()
	if err != nil {
		return err
	}
	out := entries[:0]
	for _, e := range entries {
		if e.Name != slug {
			out = append(out, e)
		}
	}
	return a.save(out)
}
