package preset

import (
	"testing"

	"github.com/agenshield/agenshield/internal/policy"
)

func TestByID(t *testing.T) {
	for _, id := range []string{GlobalID, AgenCoID, OpenClawID} {
		p, ok := ByID(id)
		if !ok || p.ID != id {
			t.Errorf("ByID(%q) = %+v, %v", id, p, ok)
		}
		if len(p.Policies) == 0 {
			t.Errorf("preset %q has no policies", id)
		}
	}
	if _, ok := ByID("ghost"); ok {
		t.Error("unknown preset resolved")
	}
}

func TestPresetPoliciesValidate(t *testing.T) {
	for _, p := range []Preset{Global, AgenCo, OpenClaw} {
		if err := policy.ValidateSet(p.Set()); err != nil {
			t.Errorf("preset %s invalid: %v", p.ID, err)
		}
	}
}

func TestApplied(t *testing.T) {
	set := &policy.Set{Policies: []policy.Policy{Global.Policies[0]}}
	if !Applied(set, GlobalID) {
		t.Error("global preset not detected as applied")
	}
	if Applied(set, AgenCoID) {
		t.Error("agenco preset wrongly detected")
	}
}

func TestProtectRestoresOmittedMembers(t *testing.T) {
	// A candidate set that dropped every global policy but kept one of
	// its own.
	next := &policy.Set{Policies: []policy.Policy{{
		ID: "user-1", Action: policy.ActionAllow, Target: policy.TargetCommand,
		Patterns: []string{"jq:*"}, Enabled: true,
	}}}

	out := Protect(next, Global)
	if len(out.Policies) != 1+len(Global.Policies) {
		t.Fatalf("policies = %d, want %d", len(out.Policies), 1+len(Global.Policies))
	}
	if _, ok := out.ByID("user-1"); !ok {
		t.Error("user policy lost")
	}
	for _, p := range Global.Policies {
		if _, ok := out.ByID(p.ID); !ok {
			t.Errorf("preset member %s not restored", p.ID)
		}
	}
}

func TestProtectKeepsUserOverride(t *testing.T) {
	// A candidate set that carries its own copy of a preset policy id
	// wins over the preset member.
	override := Global.Policies[0].DeepCopy()
	override.Enabled = false
	next := &policy.Set{Policies: []policy.Policy{override}}

	out := Protect(next, Global)
	got, ok := out.ByID(override.ID)
	if !ok {
		t.Fatal("override lost")
	}
	if got.Enabled {
		t.Error("preset copy replaced the user's override")
	}
}
