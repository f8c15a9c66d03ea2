package marketplace

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"
)

func buildZip(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for name, content := range files {
		f, err := w.Create(name)
		if err != nil {
			t.Fatalf("Create %s: %v", name, err)
		}
		if _, err := f.Write([]byte(content)); err != nil {
			t.Fatalf("Write %s: %v", name, err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	return buf.Bytes()
}

type stubFetcher struct {
	data []byte
	err  error
}

func (s stubFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	return s.data, s.err
}

func TestClassifyKeepsTextDropsHiddenAndOther(t *testing.T) {
	raw := buildZip(t, map[string]string{
		"SKILL.md":        "# hello",
		"manifest.json":   `{"ok":true}`,
		".hidden":         "secret",
		"bin/tool.so":     "\x00\x01binary",
		"notes/readme.md": "more text",
	})

	files, err := Classify(raw)
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if _, ok := files["SKILL.md"]; !ok {
		t.Error("expected SKILL.md kept")
	}
	if _, ok := files["manifest.json"]; !ok {
		t.Error("expected manifest.json kept")
	}
	if _, ok := files["notes/readme.md"]; !ok {
		t.Error("expected nested markdown kept")
	}
	if _, ok := files[".hidden"]; ok {
		t.Error("expected dotfile dropped")
	}
	if _, ok := files["bin/tool.so"]; ok {
		t.Error("expected unknown binary dropped")
	}
}

func TestClassifyInlinesSmallImageAsDataURI(t *testing.T) {
	raw := buildZip(t, map[string]string{"icon.png": "fake-png-bytes"})
	files, err := Classify(raw)
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	content, ok := files["icon.png"]
	if !ok {
		t.Fatal("expected icon.png kept")
	}
	if got := string(content); got[:5] != "data:" {
		t.Fatalf("expected data URI, got %q", got)
	}
}

func TestClassifyDropsOversizedImage(t *testing.T) {
	big := make([]byte, maxInlineImageBytes+1)
	raw := buildZip(t, map[string]string{"icon.png": string(big)})
	files, err := Classify(raw)
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if _, ok := files["icon.png"]; ok {
		t.Fatal("expected oversized image dropped")
	}
}

func TestClassifyRejectsPathTraversal(t *testing.T) {
	raw := buildZip(t, map[string]string{"../../etc/passwd": "root:x:0:0"})
	files, err := Classify(raw)
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if len(files) != 0 {
		t.Fatalf("expected traversal entry dropped, got %v", files)
	}
}

func TestStoreAndLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	cache := New(dir)
	cache.Now = func() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) }

	err := cache.Store(Bundle{
		Meta: Metadata{Name: "Demo", Slug: "demo", Version: "1.0.0", Source: SourceMarketplace},
		Files: map[string][]byte{
			"SKILL.md": []byte("# Demo"),
		},
	})
	if err != nil {
		t.Fatalf("Store: %v", err)
	}

	meta, err := cache.Load("demo")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if meta.Name != "Demo" || meta.Source != SourceMarketplace {
		t.Fatalf("unexpected metadata: %+v", meta)
	}
	if meta.DownloadedAt.IsZero() {
		t.Fatal("expected DownloadedAt to be stamped")
	}

	skillPath := cache.FilePath("demo", "SKILL.md")
	if filepath.Base(skillPath) != "SKILL.md" {
		t.Fatalf("unexpected file path: %s", skillPath)
	}
}

func TestStorePreservesExistingSourceAndAnalysis(t *testing.T) {
	dir := t.TempDir()
	cache := New(dir)

	analysis := json.RawMessage(`{"risk":"low"}`)
	if err := cache.Store(Bundle{
		Meta: Metadata{Slug: "demo", Name: "v1", Source: SourceWatcher, Analysis: analysis},
	}); err != nil {
		t.Fatalf("initial Store: %v", err)
	}

	if err := cache.Store(Bundle{
		Meta: Metadata{Slug: "demo", Name: "v2"},
	}); err != nil {
		t.Fatalf("re-Store: %v", err)
	}

	meta, err := cache.Load("demo")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if meta.Name != "v2" {
		t.Fatalf("expected overwritten name v2, got %s", meta.Name)
	}
	if meta.Source != SourceWatcher {
		t.Fatalf("expected preserved source %s, got %s", SourceWatcher, meta.Source)
	}
	if string(meta.Analysis) != string(analysis) {
		t.Fatalf("expected preserved analysis, got %s", meta.Analysis)
	}
}

func TestFetchAndClassifyReturnsClassifiedBundle(t *testing.T) {
	raw := buildZip(t, map[string]string{"SKILL.md": "# hi"})
	b, err := FetchAndClassify(context.Background(), stubFetcher{data: raw}, "https://example.invalid/bundle.zip",
		Metadata{Slug: "demo", Name: "Demo"})
	if err != nil {
		t.Fatalf("FetchAndClassify: %v", err)
	}
	if _, ok := b.Files["SKILL.md"]; !ok {
		t.Fatal("expected SKILL.md in classified bundle")
	}
}

func TestListSlugsSorted(t *testing.T) {
	dir := t.TempDir()
	cache := New(dir)
	cache.Store(Bundle{Meta: Metadata{Slug: "zeta", Name: "Zeta"}})
	cache.Store(Bundle{Meta: Metadata{Slug: "alpha", Name: "Alpha"}})

	slugs, err := cache.ListSlugs()
	if err != nil {
		t.Fatalf("ListSlugs: %v", err)
	}
	if len(slugs) != 2 || slugs[0] != "alpha" || slugs[1] != "zeta" {
		t.Fatalf("got %v, want [alpha zeta]", slugs)
	}
}
