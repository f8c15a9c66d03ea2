package reconcile

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/agenshield/agenshield/internal/broker"
	"github.com/agenshield/agenshield/internal/policy"
	"github.com/agenshield/agenshield/internal/preset"
	"github.com/agenshield/agenshield/internal/secrets"
)

type recordingPusher struct {
	payloads []broker.SecretPayload
}

func (p *recordingPusher) PushSecrets(_ context.Context, payload broker.SecretPayload) error {
	p.payloads = append(p.payloads, payload)
	return nil
}

func newTestReconciler(t *testing.T) (*Reconciler, *recordingPusher, string) {
	t.Helper()
	root := t.TempDir()

	store, err := policy.NewStore(filepath.Join(root, "policies.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	pusher := &recordingPusher{}
	r := &Reconciler{
		AgentHome:           "/Users/ash_default_agent",
		Store:               store,
		Secrets:             secrets.NewMemoryStore(),
		Pusher:              pusher,
		CommandManifestPath: filepath.Join(root, "allowed-commands.json"),
		InstructionsPath:    filepath.Join(root, "policy-instructions.md"),
		Now:                 func() time.Time { return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC) },
	}
	r.Bind()
	return r, pusher, root
}

func TestSetPoliciesFansOut(t *testing.T) {
	r, pusher, root := newTestReconciler(t)

	next := &policy.Set{Policies: []policy.Policy{{
		ID: "cmds", Action: policy.ActionAllow, Target: policy.TargetCommand,
		Patterns: []string{"jq:*"}, Enabled: true,
	}}}
	if err := r.SetPolicies(Context{}, next); err != nil {
		t.Fatalf("SetPolicies: %v", err)
	}

	// Command manifest written.
	raw, err := os.ReadFile(filepath.Join(root, "allowed-commands.json"))
	if err != nil {
		t.Fatalf("command manifest missing: %v", err)
	}
	var manifest struct {
		Version  string `json:"version"`
		Commands []struct {
			Name string `json:"name"`
		} `json:"commands"`
	}
	if err := json.Unmarshal(raw, &manifest); err != nil {
		t.Fatal(err)
	}
	found := false
	for _, c := range manifest.Commands {
		if c.Name == "jq" {
			found = true
		}
	}
	if !found {
		t.Errorf("jq missing from manifest: %+v", manifest)
	}

	// Secrets pushed (empty vault still pushes a payload).
	if len(pusher.payloads) != 1 {
		t.Fatalf("pushes = %d, want 1", len(pusher.payloads))
	}

	// Instructions document written.
	doc, err := os.ReadFile(filepath.Join(root, "policy-instructions.md"))
	if err != nil {
		t.Fatalf("instructions missing: %v", err)
	}
	if !strings.Contains(string(doc), "`jq`") {
		t.Errorf("instructions missing command:\n%s", doc)
	}
}

func TestSetPoliciesProtectsGlobalPreset(t *testing.T) {
	r, _, _ := newTestReconciler(t)

	// A PUT that omits every preset member.
	next := &policy.Set{Policies: []policy.Policy{{
		ID: "user", Action: policy.ActionAllow, Target: policy.TargetCommand,
		Patterns: []string{"jq:*"}, Enabled: true,
	}}}
	if err := r.SetPolicies(Context{}, next); err != nil {
		t.Fatal(err)
	}

	current := r.Store.Current()
	for _, p := range preset.Global.Policies {
		if _, ok := current.ByID(p.ID); !ok {
			t.Errorf("global preset member %s stripped by PUT", p.ID)
		}
	}
}

func TestSetPoliciesProtectsAgenCoWhenApplied(t *testing.T) {
	r, _, _ := newTestReconciler(t)

	// Apply the AgenCo preset via its master skill.
	if err := r.AddSkillPolicy(preset.AgenCoMasterSlug); err != nil {
		t.Fatal(err)
	}
	if !preset.Applied(r.Store.Current(), preset.AgenCoID) {
		t.Fatal("setup: agenco preset not applied")
	}

	// A later PUT omitting the AgenCo members must not strip them.
	if err := r.SetPolicies(Context{}, &policy.Set{}); err != nil {
		t.Fatal(err)
	}
	for _, p := range preset.AgenCo.Policies {
		if _, ok := r.Store.Current().ByID(p.ID); !ok {
			t.Errorf("agenco member %s stripped", p.ID)
		}
	}
}

func TestAddRemoveSkillPolicy(t *testing.T) {
	r, _, _ := newTestReconciler(t)

	if err := r.AddSkillPolicy("sample"); err != nil {
		t.Fatalf("AddSkillPolicy: %v", err)
	}
	p, ok := r.Store.Current().ByID("skill-sample")
	if !ok {
		t.Fatal("skill policy missing")
	}
	if p.Target != policy.TargetSkill || p.Action != policy.ActionAllow || p.Patterns[0] != "sample" {
		t.Errorf("policy = %+v", p)
	}

	// Idempotent add.
	if err := r.AddSkillPolicy("sample"); err != nil {
		t.Fatal(err)
	}
	count := 0
	for _, p := range r.Store.Current().Policies {
		if p.ID == "skill-sample" {
			count++
		}
	}
	if count != 1 {
		t.Errorf("skill policy duplicated: %d", count)
	}

	if err := r.RemoveSkillPolicy("sample"); err != nil {
		t.Fatalf("RemoveSkillPolicy: %v", err)
	}
	if _, ok := r.Store.Current().ByID("skill-sample"); ok {
		t.Error("skill policy not removed")
	}
}

func TestRemoveAgenCoMasterDropsPreset(t *testing.T) {
	r, _, _ := newTestReconciler(t)

	if err := r.AddSkillPolicy(preset.AgenCoMasterSlug); err != nil {
		t.Fatal(err)
	}
	if err := r.RemoveSkillPolicy(preset.AgenCoMasterSlug); err != nil {
		t.Fatal(err)
	}
	current := r.Store.Current()
	if preset.Applied(current, preset.AgenCoID) {
		t.Error("agenco preset members survived master removal")
	}
	if _, ok := current.ByID(SkillPolicyID(preset.AgenCoMasterSlug)); ok {
		t.Error("master skill policy survived")
	}
}

func TestReconcileIdempotent(t *testing.T) {
	r, pusher, root := newTestReconciler(t)

	next := &policy.Set{Policies: []policy.Policy{{
		ID: "cmds", Action: policy.ActionAllow, Target: policy.TargetCommand,
		Patterns: []string{"jq:*"}, Enabled: true,
	}}}
	if err := r.SetPolicies(Context{}, next); err != nil {
		t.Fatal(err)
	}
	firstManifest, _ := os.ReadFile(filepath.Join(root, "allowed-commands.json"))
	firstDoc, _ := os.ReadFile(filepath.Join(root, "policy-instructions.md"))

	if err := r.SetPolicies(Context{}, next); err != nil {
		t.Fatal(err)
	}
	secondManifest, _ := os.ReadFile(filepath.Join(root, "allowed-commands.json"))
	secondDoc, _ := os.ReadFile(filepath.Join(root, "policy-instructions.md"))

	if string(firstManifest) != string(secondManifest) {
		t.Error("command manifest differs across identical reconciles")
	}
	if string(firstDoc) != string(secondDoc) {
		t.Error("instructions differ across identical reconciles")
	}
	if len(pusher.payloads) != 2 {
		t.Errorf("pushes = %d, want one per reconcile", len(pusher.payloads))
	}
	if !equalPayloads(pusher.payloads[0], pusher.payloads[1]) {
		t.Error("secret payload differs across identical reconciles")
	}
}

func equalPayloads(a, b broker.SecretPayload) bool {
	aj, _ := json.Marshal(a)
	bj, _ := json.Marshal(b)
	return string(aj) == string(bj)
}
