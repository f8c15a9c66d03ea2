// Package reconcile is the top-level policy reconciler: it owns the
// transition from one policy set to the next and fans the new set out to
// every enforcement surface — filesystem ACLs, the command allowlist and
// its wrappers, the secret payload, and the generated instructions
// document.
package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/agenshield/agenshield/internal/acl"
	"github.com/agenshield/agenshield/internal/atomicfile"
	"github.com/agenshield/agenshield/internal/commandsync"
	"github.com/agenshield/agenshield/internal/instructions"
	"github.com/agenshield/agenshield/internal/metrics"
	"github.com/agenshield/agenshield/internal/policy"
	"github.com/agenshield/agenshield/internal/preset"
	"github.com/agenshield/agenshield/internal/secrets"
	"github.com/agenshield/agenshield/internal/secretsync"
	"github.com/agenshield/agenshield/internal/wrapper"
)

// Context identifies the caller of a policy update. A profile-scoped
// caller with a preset id protects that preset; otherwise the global
// preset is protected, plus AgenCo when the previous set carried it.
type Context struct {
	ProfileID string
	PresetID  string
}

// Reconciler synchronizes the host with the policy store. It subscribes
// to the store, so every successful mutation — whether a full document
// PUT or a single skill-policy insert — triggers a fan-out.
type Reconciler struct {
	AgentHome string

	Store    *policy.Store
	Applier  *acl.Applier
	Resolver *commandsync.Resolver
	Wrappers *wrapper.Manager
	Secrets  secrets.Store
	Pusher   secretsync.Pusher
	Metrics  *metrics.Collector

	CommandManifestPath string
	InstructionsPath    string

	// KnownSkills supplies the slugs that exist in any store, for
	// filtering the generated skills section; optional.
	KnownSkills func() []string

	// Now is overridable for deterministic tests.
	Now func() time.Time

	// One reconcile at a time per profile.
	mu sync.Mutex
}

// Bind subscribes the reconciler to the store. Call once at startup.
func (r *Reconciler) Bind() {
	r.Store.Subscribe(func(old, next *policy.Set) {
		if err := r.apply(context.Background(), old, next); err != nil {
			slog.Error("reconcile failed", "error", err)
		}
	})
}

// SetPolicies replaces the policy document with next, after restoring
// any protected preset members the caller omitted. Persistence and the
// fan-out happen through the store's mutation path.
func (r *Reconciler) SetPolicies(callerCtx Context, next *policy.Set) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.Store.Mutate(func(current *policy.Set) (*policy.Set, error) {
		protected := []preset.Preset{}
		if callerCtx.PresetID != "" {
			p, ok := preset.ByID(callerCtx.PresetID)
			if !ok {
				return nil, fmt.Errorf("unknown preset %q", callerCtx.PresetID)
			}
			protected = append(protected, p)
		} else {
			protected = append(protected, preset.Global)
			if preset.Applied(current, preset.AgenCoID) {
				protected = append(protected, preset.AgenCo)
			}
		}
		return preset.Protect(next, protected...), nil
	})
}

// apply fans a policy transition out to every enforcement surface in
// order: ACLs, command allowlist, wrappers, secrets, instructions.
// ACL failures on individual paths and the two trailing steps are
// non-fatal; the command manifest write is fatal because the broker
// depends on it.
func (r *Reconciler) apply(ctx context.Context, old, next *policy.Set) error {
	start := r.now()
	_ = old // the wipe-then-reapply surfaces don't need the previous set
	err := r.applySteps(ctx, next)
	if r.Metrics != nil {
		r.Metrics.ObserveReconcile(time.Since(start), err == nil)
	}
	return err
}

func (r *Reconciler) applySteps(ctx context.Context, next *policy.Set) error {
	// ACLs: wipe-then-reapply per path; per-path errors never halt the
	// reconcile.
	plan := acl.ComputePlan(next, r.AgentHome)
	if r.Applier != nil {
		for path, err := range r.Applier.Apply(ctx, plan) {
			slog.Warn("applying ACL failed", "path", path, "error", err)
			if r.Metrics != nil {
				r.Metrics.IncACLApplyFailure()
			}
		}
	}

	// Command allowlist manifest for the broker.
	names := commandsync.ExtractCommandNames(next)
	if r.CommandManifestPath != "" {
		resolver := r.Resolver
		if resolver == nil {
			resolver = commandsync.NewResolver(nil)
		}
		manifest := commandsync.Build(next, resolver, r.now())
		if err := commandsync.Write(r.CommandManifestPath, manifest); err != nil {
			return fmt.Errorf("writing command manifest: %w", err)
		}
	}

	// Wrappers: install for the current command set, then collect
	// strays.
	if r.Wrappers != nil {
		if err := r.Wrappers.EnsureCommands(names); err != nil {
			slog.Warn("installing wrappers failed", "error", err)
		}
		if err := r.Wrappers.GC(names); err != nil {
			slog.Warn("collecting stale wrappers failed", "error", err)
		}
	}

	// Secrets: non-fatal.
	if r.Secrets != nil && r.Pusher != nil {
		if err := secretsync.Sync(ctx, r.Secrets, next, r.Pusher, r.now()); err != nil {
			slog.Warn("syncing secrets failed", "error", err)
		}
	}

	// Instructions document: non-fatal.
	if r.InstructionsPath != "" {
		var known []string
		if r.KnownSkills != nil {
			known = r.KnownSkills()
		}
		doc := instructions.Generate(next, known, r.now())
		if err := atomicfile.Write(r.InstructionsPath, []byte(doc), 0o644); err != nil {
			slog.Warn("writing instructions failed", "path", r.InstructionsPath, "error", err)
		}
	}

	return nil
}

func (r *Reconciler) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

// SkillPolicyID is the policy id for a slug's allow policy.
func SkillPolicyID(slug string) string { return "skill-" + slug }

// AddSkillPolicy inserts the allow policy for slug, unioning in the
// AgenCo preset when slug is its master skill.
func (r *Reconciler) AddSkillPolicy(slug string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.Store.Mutate(func(current *policy.Set) (*policy.Set, error) {
		next := current
		if _, ok := next.ByID(SkillPolicyID(slug)); !ok {
			next.Policies = append(next.Policies, policy.Policy{
				ID:       SkillPolicyID(slug),
				Action:   policy.ActionAllow,
				Target:   policy.TargetSkill,
				Patterns: []string{slug},
				Enabled:  true,
				Name:     slug,
			})
		}
		if slug == preset.AgenCoMasterSlug {
			next = next.UnionByID(preset.AgenCo.Set())
		}
		return next, nil
	})
}

// RemoveSkillPolicy deletes the allow policy for slug; removing the
// AgenCo master also withdraws the whole AgenCo preset.
func (r *Reconciler) RemoveSkillPolicy(slug string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.Store.Mutate(func(current *policy.Set) (*policy.Set, error) {
		dropPreset := slug == preset.AgenCoMasterSlug
		out := &policy.Set{}
		for _, p := range current.Policies {
			if p.ID == SkillPolicyID(slug) {
				continue
			}
			if dropPreset && p.Preset == preset.AgenCoID {
				continue
			}
			out.Policies = append(out.Policies, p)
		}
		return out, nil
	})
}
