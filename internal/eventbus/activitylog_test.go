package eventbus

import (
	"path/filepath"
	"testing"
	"time"
)

func TestActivityLogSkipsHeartbeat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "activity.jsonl")
	bus := New()
	log, err := NewActivityLog(path)
	if err != nil {
		t.Fatalf("NewActivityLog: %v", err)
	}
	defer log.Close()
	log.AttachTo(bus)

	bus.Emit(Heartbeat, "", nil)
	bus.Emit(SkillApproved, "", map[string]string{"slug": "demo"})

	entries, err := Search(path, Filter{})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1 (heartbeat must not be logged): %+v", len(entries), entries)
	}
	if entries[0].Kind != SkillApproved {
		t.Fatalf("got kind %s, want %s", entries[0].Kind, SkillApproved)
	}
}

func TestSearchFiltersByKindAndTime(t *testing.T) {
	path := filepath.Join(t.TempDir(), "activity.jsonl")
	log, err := NewActivityLog(path)
	if err != nil {
		t.Fatal(err)
	}
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	log.Append(Event{Kind: SkillApproved, Timestamp: base})
	log.Append(Event{Kind: SkillUninstalled, Timestamp: base.Add(time.Hour)})
	log.Append(Event{Kind: SkillApproved, Timestamp: base.Add(2 * time.Hour)})
	log.Close()

	got, err := Search(path, Filter{Kind: SkillApproved})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d, want 2", len(got))
	}

	got, err = Search(path, Filter{Since: base.Add(30 * time.Minute)})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d events after Since filter, want 2", len(got))
	}
}

func TestRotationPrunesEntriesOlderThan24Hours(t *testing.T) {
	path := filepath.Join(t.TempDir(), "activity.jsonl")
	log, err := NewActivityLog(path)
	if err != nil {
		t.Fatal(err)
	}
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	log.now = func() time.Time { return now }

	old := now.Add(-48 * time.Hour)
	recent := now.Add(-time.Hour)
	log.Append(Event{Kind: SkillApproved, Timestamp: old})
	log.Append(Event{Kind: SkillUninstalled, Timestamp: recent})

	if err := log.rotateIfNeeded(); err != nil {
		t.Fatalf("rotateIfNeeded: %v", err)
	}
	log.Close()

	got, err := Search(path, Filter{})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(got) != 1 || got[0].Kind != SkillUninstalled {
		t.Fatalf("got %+v, want only the recent entry", got)
	}
}
