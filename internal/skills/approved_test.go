package skills

import (
	"path/filepath"
	"testing"
	"time"
)

func TestApprovedListRoundTrip(t *testing.T) {
	list := NewApprovedList(filepath.Join(t.TempDir(), "approved-skills.json"))

	if list.Contains("sample") {
		t.Fatal("empty list should not contain sample")
	}

	entry := ApprovedEntry{Name: "sample", ApprovedAt: time.Now(), Hash: "abc123"}
	if err := list.Add(entry); err != nil {
		t.Fatalf("Add: %v", err)
	}
	got, ok, err := list.Get("sample")
	if err != nil || !ok {
		t.Fatalf("Get: ok=%v err=%v", ok, err)
	}
	if got.Hash != "abc123" {
		t.Errorf("hash = %q", got.Hash)
	}

	// Re-adding replaces, not duplicates.
	entry.Hash = "def456"
	if err := list.Add(entry); err != nil {
		t.Fatalf("Add replace: %v", err)
	}
	entries, err := list.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Hash != "def456" {
		t.Errorf("entries = %+v", entries)
	}

	if err := list.Remove("sample"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if list.Contains("sample") {
		t.Error("removed slug still present")
	}
}

func TestApprovedListRemoveMissing(t *testing.T) {
	list := NewApprovedList(filepath.Join(t.TempDir(), "approved-skills.json"))
	if err := list.Remove("ghost"); err != nil {
		t.Fatalf("Remove on empty list: %v", err)
	}
}
