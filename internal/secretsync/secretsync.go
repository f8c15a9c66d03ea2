// Package secretsync implements Secret Sync: it builds a SyncedSecrets
// payload from the vault-backed secret store and the live
// policy set, then pushes it to the broker.
package secretsync

import (
	"context"
	"fmt"
	"time"

	"github.com/agenshield/agenshield/internal/broker"
	"github.com/agenshield/agenshield/internal/policy"
	"github.com/agenshield/agenshield/internal/secrets"
)

const ManifestVersion = "1.0.0"

// Pusher is the subset of broker.PrivilegedFS Secret Sync needs.
type Pusher interface {
	PushSecrets(ctx context.Context, payload broker.SecretPayload) error
}

// Build assembles the synced-secrets payload from the store's current
// secrets and the live policy set, following the scope rules:
//   - standalone secrets are skipped entirely
//   - global secrets (or secrets with no PolicyIDs) populate globalSecrets
//   - all other secrets populate a binding per policy id, skipping ids
//     that don't resolve to an enabled url/command policy
//
// If the store reports ErrLocked, Build returns an empty payload rather
// than an error, matching "push an empty payload so the broker attains a
// clean state".
func Build(ctx context.Context, store secrets.Store, policies *policy.Set, now time.Time) (broker.SecretPayload, error) {
	payload := broker.SecretPayload{
		Version:       ManifestVersion,
		SyncedAt:      now.UTC().Format(time.RFC3339),
		GlobalSecrets: map[string]string{},
	}

	all, err := store.List(ctx)
	if err != nil {
		if err == secrets.ErrLocked {
			return payload, nil
		}
		return broker.SecretPayload{}, fmt.Errorf("listing secrets: %w", err)
	}

	bindings := map[string]*broker.SecretPolicyBinding{}
	var order []string

	for _, s := range all {
		switch s.Scope {
		case secrets.ScopeStandalone:
			continue
		case secrets.ScopeGlobal:
			payload.GlobalSecrets[s.Name] = s.Value
			continue
		}
		if len(s.PolicyIDs) == 0 {
			payload.GlobalSecrets[s.Name] = s.Value
			continue
		}
		for _, pid := range s.PolicyIDs {
			p, ok := policies.ByID(pid)
			if !ok || !p.Enabled {
				continue
			}
			if p.Target != policy.TargetURL && p.Target != policy.TargetCommand {
				continue
			}
			b, ok := bindings[pid]
			if !ok {
				b = &broker.SecretPolicyBinding{
					PolicyID: pid,
					Target:   string(p.Target),
					Patterns: append([]string(nil), p.Patterns...),
					Secrets:  map[string]string{},
				}
				bindings[pid] = b
				order = append(order, pid)
			}
			b.Secrets[s.Name] = s.Value
		}
	}

	for _, pid := range order {
		payload.PolicyBindings = append(payload.PolicyBindings, *bindings[pid])
	}
	return payload, nil
}

// Sync builds and pushes the payload in one step.
func Sync(ctx context.Context, store secrets.Store, policies *policy.Set, pusher Pusher, now time.Time) error {
	payload, err := Build(ctx, store, policies, now)
	if err != nil {
		return err
	}
	return pusher.PushSecrets(ctx, payload)
}
