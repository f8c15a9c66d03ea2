// Package acl plans and applies per-path, per-user filesystem ACL entries
// derived from the policy set.
package acl

import (
	"sort"
	"strings"

	"github.com/agenshield/agenshield/internal/pathnorm"
	"github.com/agenshield/agenshield/internal/policy"
)

// Map is a path -> comma-separated permission string map.
type Map map[string]string

// Plan is the output of the ACL Planner: the allow and deny maps to apply.
type Plan struct {
	Allow Map
	Deny  Map
}

var readPerms = []string{"read", "readattr", "readextattr", "list", "search", "execute"}
var writePerms = []string{"write", "append", "writeattr", "writeextattr"}

// permsForOperations returns the permission set (as a sorted, deduplicated
// slice) a filesystem policy's operations grant.
func permsForOperations(ops []policy.Operation) []string {
	set := map[string]bool{}
	for _, op := range ops {
		switch op {
		case policy.OpFileRead, policy.OpFileList:
			for _, p := range readPerms {
				set[p] = true
			}
		case policy.OpFileWrite:
			for _, p := range writePerms {
				set[p] = true
			}
		}
	}
	out := make([]string, 0, len(set))
	for p := range set {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

func mergePerms(existing, add []string) []string {
	set := map[string]bool{}
	for _, p := range existing {
		set[p] = true
	}
	for _, p := range add {
		set[p] = true
	}
	out := make([]string, 0, len(set))
	for p := range set {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

func splitPerms(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}

func joinPerms(perms []string) string {
	return strings.Join(perms, ",")
}

// ComputePlan computes the {allow, deny} maps for the given policy set,
// deterministically: identical input always yields identical output.
func ComputePlan(set *policy.Set, agentHome string) Plan {
	allow := Map{}
	deny := Map{}

	relevant := set.Filter(func(p policy.Policy) bool {
		return p.Enabled && p.IsFilesystemRelevant()
	})

	// Step 1+2: allow policies, direct targets then traversal ancestors.
	for _, p := range relevant {
		if p.Action != policy.ActionAllow {
			continue
		}
		perms := permsForOperations(p.Operations)
		for _, pattern := range p.Patterns {
			base := pathnorm.StripGlobToBasePath(pattern, agentHome)
			allow[base] = joinPerms(mergePerms(splitPerms(allow[base]), perms))

			for _, ancestor := range pathnorm.GetAncestorsNeedingTraversal(base) {
				allow[ancestor] = joinPerms(mergePerms(splitPerms(allow[ancestor]), []string{"search"}))
			}
		}
	}

	// Step 3: deny policies, direct targets only — never ancestors.
	for _, p := range relevant {
		if p.Action != policy.ActionDeny {
			continue
		}
		perms := permsForOperations(p.Operations)
		for _, pattern := range p.Patterns {
			base := pathnorm.StripGlobToBasePath(pattern, agentHome)
			deny[base] = joinPerms(mergePerms(splitPerms(deny[base]), perms))
		}
	}

	return Plan{Allow: allow, Deny: deny}
}
