package policy

import (
	"path/filepath"
	"testing"
)

func TestValidateRejectsOperationsOnURLTarget(t *testing.T) {
	p := Policy{ID: "p1", Action: ActionAllow, Target: TargetURL, Patterns: []string{"https://x/**"}, Operations: []Operation{OpFileRead}}
	if err := Validate(p); err == nil {
		t.Fatal("expected error for operations on a url policy")
	}
}

func TestValidateAllowsOperationsOnCommandTarget(t *testing.T) {
	p := Policy{ID: "p1", Action: ActionAllow, Target: TargetCommand, Patterns: []string{"git"}, Operations: []Operation{OpFileRead}}
	if err := Validate(p); err != nil {
		t.Fatalf("command policy with file operations rejected: %v", err)
	}
}

func TestValidateRequiresPatterns(t *testing.T) {
	p := Policy{ID: "p1", Action: ActionAllow, Target: TargetCommand}
	if err := Validate(p); err == nil {
		t.Fatal("expected error for empty patterns")
	}
}

func TestIsFilesystemRelevant(t *testing.T) {
	fs := Policy{Target: TargetFilesystem}
	if !fs.IsFilesystemRelevant() {
		t.Fatal("filesystem target must be relevant")
	}
	cmdWithFS := Policy{Target: TargetCommand, Operations: []Operation{OpFileList}}
	if !cmdWithFS.IsFilesystemRelevant() {
		t.Fatal("command with file_list operation must be relevant")
	}
	cmdNoFS := Policy{Target: TargetCommand}
	if cmdNoFS.IsFilesystemRelevant() {
		t.Fatal("command with no operations must not be relevant")
	}
	url := Policy{Target: TargetURL}
	if url.IsFilesystemRelevant() {
		t.Fatal("url target must not be relevant")
	}
}

func TestUnionByIDPreservesExistingAndAddsMissing(t *testing.T) {
	base := &Set{Policies: []Policy{{ID: "a", Action: ActionAllow, Target: TargetCommand, Patterns: []string{"git"}}}}
	preset := &Set{Policies: []Policy{
		{ID: "a", Action: ActionDeny, Target: TargetCommand, Patterns: []string{"rm"}},
		{ID: "b", Action: ActionAllow, Target: TargetURL, Patterns: []string{"https://example.com/*"}},
	}}
	merged := base.UnionByID(preset)
	if len(merged.Policies) != 2 {
		t.Fatalf("expected 2 policies, got %d", len(merged.Policies))
	}
	got, ok := merged.ByID("a")
	if !ok || got.Action != ActionAllow {
		t.Fatalf("existing policy a must be preserved unchanged, got %+v", got)
	}
	if _, ok := merged.ByID("b"); !ok {
		t.Fatal("missing preset policy b must be unioned in")
	}
}

func TestStoreMutatePersistsAndNotifiesSubscribers(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "policy.yaml")
	store, err := NewStore(path)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	var notified bool
	store.Subscribe(func(old, new *Set) {
		notified = true
		if len(new.Policies) != 1 {
			t.Fatalf("subscriber saw %d policies, want 1", len(new.Policies))
		}
	})

	err = store.Mutate(func(cur *Set) (*Set, error) {
		cur.Policies = append(cur.Policies, Policy{
			ID: "allow-git", Action: ActionAllow, Target: TargetCommand, Patterns: []string{"git"}, Enabled: true,
		})
		return cur, nil
	})
	if err != nil {
		t.Fatalf("Mutate: %v", err)
	}
	if !notified {
		t.Fatal("subscriber was not invoked")
	}

	reloaded, err := LoadSet(path)
	if err != nil {
		t.Fatalf("LoadSet after mutate: %v", err)
	}
	if len(reloaded.Policies) != 1 || reloaded.Policies[0].ID != "allow-git" {
		t.Fatalf("persisted set = %+v", reloaded)
	}
}

func TestStoreMutateRejectsInvalidResult(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(filepath.Join(dir, "policy.yaml"))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	err = store.Mutate(func(cur *Set) (*Set, error) {
		cur.Policies = append(cur.Policies, Policy{ID: "", Action: ActionAllow, Target: TargetCommand, Patterns: []string{"x"}})
		return cur, nil
	})
	if err == nil {
		t.Fatal("expected validation error for empty id")
	}
	if len(store.Current().Policies) != 0 {
		t.Fatal("invalid mutation must not change store state")
	}
}
