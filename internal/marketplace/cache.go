// Package marketplace implements the Marketplace Cache: downloading a
// skill bundle's zip archive, classifying and persisting its entries, and
// serving the cached metadata/files back to the Skill Lifecycle Manager
// and Skills Watcher.
package marketplace

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/agenshield/agenshield/internal/atomicfile"
)

// Source identifies how a cached bundle reached the cache.
type Source string

const (
	SourceMarketplace Source = "marketplace"
	SourceWatcher     Source = "watcher"
)

// fetchTimeout bounds the zip download.
const fetchTimeout = 30 * time.Second

// maxInlineImageBytes is the raw-size ceiling for base64-inlining an
// image.
const maxInlineImageBytes = 500 * 1024

var textLikeExtensions = map[string]bool{
	".md": true, ".markdown": true, ".json": true, ".yaml": true, ".yml": true,
	".toml": true, ".txt": true, ".sh": true, ".bash": true, ".py": true,
	".js": true, ".ts": true, ".go": true, ".rb": true, ".rs": true, ".java": true,
	".c": true, ".h": true, ".cpp": true, ".hpp": true, ".css": true, ".html": true,
	".xml": true, ".ini": true, ".cfg": true, ".conf": true, ".csv": true,
}

var imageExtensions = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true, ".gif": true,
	".svg": true, ".webp": true, ".ico": true,
}

// Metadata is the persisted per-slug record.
type Metadata struct {
	Name         string          `json:"name"`
	Slug         string          `json:"slug"`
	Author       string          `json:"author,omitempty"`
	Version      string          `json:"version,omitempty"`
	Description  string          `json:"description,omitempty"`
	Tags         []string        `json:"tags,omitempty"`
	DownloadedAt time.Time       `json:"downloadedAt"`
	Source       Source          `json:"source"`
	Analysis     json.RawMessage `json:"analysis,omitempty"`
	WasInstalled *bool           `json:"wasInstalled,omitempty"`
}

// Bundle is a downloaded and classified skill archive, ready to persist.
type Bundle struct {
	Meta Metadata
	// Files maps the archive-relative path (forward-slash separated, as
	// it appeared in the zip) to its classified content. Dropped entries
	// are simply absent.
	Files map[string][]byte
}

// Cache persists Bundles under cacheDir/<slug>/.
type Cache struct {
	CacheDir string
	Now      func() time.Time
}

// New returns a Cache rooted at cacheDir.
func New(cacheDir string) *Cache {
	return &Cache{CacheDir: cacheDir, Now: time.Now}
}

func (c *Cache) slugDir(slug string) string { return filepath.Join(c.CacheDir, slug) }
func (c *Cache) metadataPath(slug string) string {
	return filepath.Join(c.slugDir(slug), "metadata.json")
}
func (c *Cache) filesDir(slug string) string { return filepath.Join(c.slugDir(slug), "files") }

// Load reads a previously stored bundle's metadata. It does not read file
// contents back into memory; callers needing a specific file should read
// it directly from FilePath.
func (c *Cache) Load(slug string) (Metadata, error) {
	raw, err := os.ReadFile(c.metadataPath(slug))
	if err != nil {
		return Metadata{}, err
	}
	var m Metadata
	if err := json.Unmarshal(raw, &m); err != nil {
		return Metadata{}, fmt.Errorf("parsing metadata for %s: %w", slug, err)
	}
	// Store writes indented JSON, which re-indents Analysis; hand it back
	// compact, as callers stored it.
	if len(m.Analysis) > 0 {
		var compacted bytes.Buffer
		if err := json.Compact(&compacted, m.Analysis); err == nil {
			m.Analysis = compacted.Bytes()
		}
	}
	return m, nil
}

// FilePath returns the on-disk path a classified entry was written to.
func (c *Cache) FilePath(slug, relPath string) string {
	return filepath.Join(c.filesDir(slug), filepath.FromSlash(relPath))
}

// Store persists a Bundle. If metadata already exists for the slug, its
// Source and Analysis fields are preserved unless the incoming bundle
// explicitly sets them.
func (c *Cache) Store(b Bundle) error {
	if b.Meta.Slug == "" {
		return fmt.Errorf("bundle metadata missing slug")
	}
	if existing, err := c.Load(b.Meta.Slug); err == nil {
		if b.Meta.Source == "" {
			b.Meta.Source = existing.Source
		}
		if b.Meta.Analysis == nil {
			b.Meta.Analysis = existing.Analysis
		}
		if b.Meta.WasInstalled == nil {
			b.Meta.WasInstalled = existing.WasInstalled
		}
	}
	if b.Meta.DownloadedAt.IsZero() {
		b.Meta.DownloadedAt = c.now()
	}

	for relPath, content := range b.Files {
		if err := atomicfile.Write(c.FilePath(b.Meta.Slug, relPath), content, 0o644); err != nil {
			return fmt.Errorf("writing %s/%s: %w", b.Meta.Slug, relPath, err)
		}
	}

	encoded, err := json.MarshalIndent(b.Meta, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling metadata for %s: %w", b.Meta.Slug, err)
	}
	return atomicfile.Write(c.metadataPath(b.Meta.Slug), encoded, 0o644)
}

func (c *Cache) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

// Fetcher downloads a zip archive's raw bytes. The default implementation
// wraps http.Client; tests substitute a stub.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// HTTPFetcher fetches a URL with an overall fetchTimeout bound.
type HTTPFetcher struct {
	Client *http.Client
}

func (f HTTPFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	client := f.Client
	if client == nil {
		client = &http.Client{Timeout: fetchTimeout}
	}
	ctx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("building request for %s: %w", url, err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetching %s: unexpected status %s", url, resp.Status)
	}
	return io.ReadAll(resp.Body)
}

// FetchAndClassify downloads zipURL and classifies its entries, returning a
// Bundle ready for Store. meta should already carry
// Name/Slug/Author/Version/Description/Tags; it is passed through
// unchanged (Store stamps DownloadedAt when it is unset).
func FetchAndClassify(ctx context.Context, fetcher Fetcher, zipURL string, meta Metadata) (Bundle, error) {
	raw, err := fetcher.Fetch(ctx, zipURL)
	if err != nil {
		return Bundle{}, err
	}
	files, err := Classify(raw)
	if err != nil {
		return Bundle{}, err
	}
	return Bundle{Meta: meta, Files: files}, nil
}

// Classify unzips raw and returns the subset of entries worth persisting,
// keyed by their archive-relative path, per the classification
// rules.
func Classify(raw []byte) (map[string][]byte, error) {
	reader, err := zip.NewReader(bytes.NewReader(raw), int64(len(raw)))
	if err != nil {
		return nil, fmt.Errorf("opening zip: %w", err)
	}

	out := make(map[string][]byte)
	for _, f := range reader.File {
		if f.FileInfo().IsDir() {
			continue
		}
		relPath, ok := sanitizeEntryName(f.Name)
		if !ok {
			continue
		}
		base := filepath.Base(relPath)
		if strings.HasPrefix(base, ".") {
			continue // dotfile
		}
		ext := strings.ToLower(filepath.Ext(relPath))

		content, err := classifyEntry(f, ext)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", f.Name, err)
		}
		if content == nil {
			continue
		}
		out[relPath] = content
	}
	return out, nil
}

func classifyEntry(f *zip.File, ext string) ([]byte, error) {
	switch {
	case textLikeExtensions[ext] || isTextMIME(ext):
		return readZipEntry(f)
	case imageExtensions[ext]:
		if int64(f.UncompressedSize64) > maxInlineImageBytes {
			return nil, nil
		}
		raw, err := readZipEntry(f)
		if err != nil {
			return nil, err
		}
		mimeType := mime.TypeByExtension(ext)
		if mimeType == "" {
			mimeType = "application/octet-stream"
		}
		encoded := base64.StdEncoding.EncodeToString(raw)
		dataURI := "data:" + mimeType + ";base64," + encoded
		return []byte(dataURI), nil
	default:
		return nil, nil
	}
}

func isTextMIME(ext string) bool {
	t := mime.TypeByExtension(ext)
	return strings.HasPrefix(t, "text/")
}

func readZipEntry(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

// sanitizeEntryName rejects absolute paths and paths that escape the
// archive root via "..", returning the cleaned, slash-separated relative
// path otherwise.
func sanitizeEntryName(name string) (string, bool) {
	cleaned := filepath.ToSlash(filepath.Clean(name))
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") || filepath.IsAbs(cleaned) {
		return "", false
	}
	return cleaned, true
}

// ListSlugs returns every slug with a stored metadata.json, sorted.
func (c *Cache) ListSlugs() ([]string, error) {
	entries, err := os.ReadDir(c.CacheDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var slugs []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if _, err := os.Stat(filepath.Join(c.CacheDir, e.Name(), "metadata.json")); err == nil {
			slugs = append(slugs, e.Name())
		}
	}
	sort.Strings(slugs)
	return slugs, nil
}
