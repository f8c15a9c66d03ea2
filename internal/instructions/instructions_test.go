package instructions

import (
	"strings"
	"testing"
	"time"

	"github.com/agenshield/agenshield/internal/policy"
)

var generatedAt = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func fullSet() *policy.Set {
	return &policy.Set{Policies: []policy.Policy{
		{ID: "p1", Action: policy.ActionAllow, Target: policy.TargetCommand, Patterns: []string{"curl:*", "jq"}, Enabled: true},
		{ID: "p2", Action: policy.ActionDeny, Target: policy.TargetCommand, Patterns: []string{"nc"}, Enabled: true},
		{ID: "p3", Action: policy.ActionAllow, Target: policy.TargetURL, Patterns: []string{"https://api.github.com/**"}, Enabled: true},
		{ID: "p4", Action: policy.ActionAllow, Target: policy.TargetFilesystem, Patterns: []string{"~/projects/**"},
			Operations: []policy.Operation{policy.OpFileRead, policy.OpFileWrite}, Enabled: true},
		{ID: "p5", Action: policy.ActionDeny, Target: policy.TargetFilesystem, Patterns: []string{"~/.ssh/**"},
			Operations: []policy.Operation{policy.OpFileRead}, Enabled: true},
		{ID: "p6", Action: policy.ActionAllow, Target: policy.TargetSkill, Patterns: []string{"sample", "ghost"}, Enabled: true},
	}}
}

func TestGenerateSectionsInOrder(t *testing.T) {
	doc := Generate(fullSet(), []string{"sample"}, generatedAt)

	sections := []string{"## Commands", "## Network", "## Filesystem Access", "## Skills"}
	last := -1
	for _, s := range sections {
		idx := strings.Index(doc, s)
		if idx < 0 {
			t.Fatalf("section %q missing:\n%s", s, doc)
		}
		if idx < last {
			t.Errorf("section %q out of order", s)
		}
		last = idx
	}

	if !strings.Contains(doc, "- `curl` — transfer data") {
		t.Error("catalog description missing for curl")
	}
	if !strings.Contains(doc, "- `jq`") {
		t.Error("uncataloged command missing")
	}
	if !strings.Contains(doc, "- `~/projects/**` (read, write)") {
		t.Error("filesystem operations not rendered")
	}
	if !strings.Contains(doc, "Plain HTTP is blocked") {
		t.Error("HTTP notice missing")
	}
	if !strings.Contains(doc, "Generated 2025-06-01T12:00:00Z") {
		t.Error("generation timestamp missing")
	}
}

func TestGenerateSkillsFilteredToKnown(t *testing.T) {
	doc := Generate(fullSet(), []string{"sample"}, generatedAt)
	if !strings.Contains(doc, "- `sample`") {
		t.Error("known skill missing")
	}
	if strings.Contains(doc, "ghost") {
		t.Error("unknown skill listed")
	}
}

func TestGenerateOmitsEmptySections(t *testing.T) {
	set := &policy.Set{Policies: []policy.Policy{
		{ID: "p1", Action: policy.ActionAllow, Target: policy.TargetCommand, Patterns: []string{"curl:*"}, Enabled: true},
	}}
	doc := Generate(set, nil, generatedAt)
	for _, absent := range []string{"## Network", "## Filesystem Access", "## Skills", "### Denied"} {
		if strings.Contains(doc, absent) {
			t.Errorf("empty section %q rendered", absent)
		}
	}
}

func TestGenerateSkipsDisabledPolicies(t *testing.T) {
	set := fullSet()
	for i := range set.Policies {
		set.Policies[i].Enabled = false
	}
	doc := Generate(set, []string{"sample"}, generatedAt)
	if strings.Contains(doc, "## Commands") {
		t.Error("disabled policies rendered")
	}
}

func TestGenerateIsPure(t *testing.T) {
	a := Generate(fullSet(), []string{"sample"}, generatedAt)
	b := Generate(fullSet(), []string{"sample"}, generatedAt)
	if a != b {
		t.Error("same inputs produced different documents")
	}
}
