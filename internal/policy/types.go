// Package policy defines AgenShield's declarative policy document and the
// store that mutates it under a single lock with post-mutation subscribers.
package policy

import "fmt"

// Action is the effect a policy has when one of its patterns matches.
type Action string

const (
	ActionAllow Action = "allow"
	ActionDeny  Action = "deny"
)

// Target identifies which enforcement surface a policy governs.
type Target string

const (
	TargetFilesystem Target = "filesystem"
	TargetCommand    Target = "command"
	TargetURL        Target = "url"
	TargetSkill      Target = "skill"
)

// Operation is a filesystem capability a filesystem-target policy grants
// or denies.
type Operation string

const (
	OpFileRead  Operation = "file_read"
	OpFileWrite Operation = "file_write"
	OpFileList  Operation = "file_list"
)

// Policy is one rule in the policy set. (id, action, target, patterns,
// operations, enabled) fully determine reconciler output for this policy;
// Name and Preset are metadata that do not affect enforcement.
type Policy struct {
	ID         string      `yaml:"id" json:"id"`
	Action     Action      `yaml:"action" json:"action"`
	Target     Target      `yaml:"target" json:"target"`
	Patterns   []string    `yaml:"patterns" json:"patterns"`
	Operations []Operation `yaml:"operations,omitempty" json:"operations,omitempty"`
	Enabled    bool        `yaml:"enabled" json:"enabled"`
	Preset     string      `yaml:"preset,omitempty" json:"preset,omitempty"`
	Name       string      `yaml:"name,omitempty" json:"name,omitempty"`
}

// Set is an ordered policy document. Order is preserved for deterministic
// markdown regeneration but does not affect ACL/command output, which is
// keyed by path and command name respectively.
type Set struct {
	Policies []Policy `yaml:"policies" json:"policies"`
}

// ByID returns the policy with the given id, if present.
func (s *Set) ByID(id string) (Policy, bool) {
	for _, p := range s.Policies {
		if p.ID == id {
			return p, true
		}
	}
	return Policy{}, false
}

// Filter returns the policies for which pred returns true, preserving order.
func (s *Set) Filter(pred func(Policy) bool) []Policy {
	var out []Policy
	for _, p := range s.Policies {
		if pred(p) {
			out = append(out, p)
		}
	}
	return out
}

// UnionByID returns a new Set containing every policy in s, plus every
// policy in other whose id is not already present in s. Used to union a
// protected preset's policies into a candidate policy set.
func (s *Set) UnionByID(other *Set) *Set {
	seen := make(map[string]bool, len(s.Policies))
	out := &Set{Policies: append([]Policy(nil), s.Policies...)}
	for _, p := range s.Policies {
		seen[p.ID] = true
	}
	for _, p := range other.Policies {
		if !seen[p.ID] {
			out.Policies = append(out.Policies, p)
			seen[p.ID] = true
		}
	}
	return out
}

// IsFilesystemRelevant reports whether a policy contributes to the ACL
// Planner's input: every filesystem-target policy, plus command-target
// policies whose operations include a filesystem capability.
func (p Policy) IsFilesystemRelevant() bool {
	if p.Target == TargetFilesystem {
		return true
	}
	if p.Target != TargetCommand {
		return false
	}
	for _, op := range p.Operations {
		if op == OpFileRead || op == OpFileWrite || op == OpFileList {
			return true
		}
	}
	return false
}

// DeepCopy returns an independent copy of the policy.
func (p Policy) DeepCopy() Policy {
	cp := p
	cp.Patterns = append([]string(nil), p.Patterns...)
	cp.Operations = append([]Operation(nil), p.Operations...)
	return cp
}

// DeepCopy returns an independent copy of the set.
func (s *Set) DeepCopy() *Set {
	out := &Set{Policies: make([]Policy, len(s.Policies))}
	for i, p := range s.Policies {
		out.Policies[i] = p.DeepCopy()
	}
	return out
}

func (p Policy) String() string {
	return fmt.Sprintf("Policy{id=%s action=%s target=%s enabled=%v}", p.ID, p.Action, p.Target, p.Enabled)
}
