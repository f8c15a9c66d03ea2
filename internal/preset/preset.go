// Package preset defines the built-in policy bundles whose members are
// protected from removal by ordinary policy edits while the preset is
// applied.
package preset

import "github.com/agenshield/agenshield/internal/policy"

// Well-known preset identifiers.
const (
	GlobalID   = "global"
	AgenCoID   = "agenco"
	OpenClawID = "openclaw"
)

// AgenCoMasterSlug is the skill whose installation applies the AgenCo
// preset alongside its own policy.
const AgenCoMasterSlug = "agenco"

// Preset is a named, protected policy bundle.
type Preset struct {
	ID       string
	Name     string
	Policies []policy.Policy
}

// Set returns the preset's policies as a policy.Set for union-merging.
func (p Preset) Set() *policy.Set {
	return &policy.Set{Policies: p.Policies}
}

// Global is the baseline preset applied to every profile: the agent can
// read and traverse its own home, and the canonical proxied commands are
// permitted (each invocation still passes through its wrapper).
var Global = Preset{
	ID:   GlobalID,
	Name: "Global baseline",
	Policies: []policy.Policy{
		{
			ID:       "global-agent-home",
			Action:   policy.ActionAllow,
			Target:   policy.TargetFilesystem,
			Patterns: []string{"~/**"},
			Operations: []policy.Operation{
				policy.OpFileRead, policy.OpFileWrite, policy.OpFileList,
			},
			Enabled: true,
			Preset:  GlobalID,
			Name:    "Agent home",
		},
		{
			ID:       "global-proxied-commands",
			Action:   policy.ActionAllow,
			Target:   policy.TargetCommand,
			Patterns: []string{"curl:*", "wget:*", "git:*", "ssh:*", "scp:*", "rsync:*"},
			Enabled:  true,
			Preset:   GlobalID,
			Name:     "Proxied commands",
		},
		{
			ID:       "global-deny-ssh-keys",
			Action:   policy.ActionDeny,
			Target:   policy.TargetFilesystem,
			Patterns: []string{"~/.ssh/**"},
			Operations: []policy.Operation{
				policy.OpFileRead, policy.OpFileWrite, policy.OpFileList,
			},
			Enabled: true,
			Preset:  GlobalID,
			Name:    "Agent SSH keys",
		},
	},
}

// AgenCo is applied when the AgenCo master skill is installed.
var AgenCo = Preset{
	ID:   AgenCoID,
	Name: "AgenCo",
	Policies: []policy.Policy{
		{
			ID:       "agenco-api",
			Action:   policy.ActionAllow,
			Target:   policy.TargetURL,
			Patterns: []string{"https://api.agenco.dev/**"},
			Enabled:  true,
			Preset:   AgenCoID,
			Name:     "AgenCo API",
		},
		{
			ID:       "agenco-cli",
			Action:   policy.ActionAllow,
			Target:   policy.TargetCommand,
			Patterns: []string{"agenco:*"},
			Enabled:  true,
			Preset:   AgenCoID,
			Name:     "AgenCo CLI",
		},
	},
}

// OpenClaw covers the agent runtime's own configuration surface.
var OpenClaw = Preset{
	ID:   OpenClawID,
	Name: "OpenClaw",
	Policies: []policy.Policy{
		{
			ID:       "openclaw-config",
			Action:   policy.ActionAllow,
			Target:   policy.TargetFilesystem,
			Patterns: []string{"~/.openclaw/**"},
			Operations: []policy.Operation{
				policy.OpFileRead, policy.OpFileList,
			},
			Enabled: true,
			Preset:  OpenClawID,
			Name:    "OpenClaw config",
		},
	},
}

// ByID returns the preset with the given id.
func ByID(id string) (Preset, bool) {
	switch id {
	case GlobalID:
		return Global, true
	case AgenCoID:
		return AgenCo, true
	case OpenClawID:
		return OpenClaw, true
	}
	return Preset{}, false
}

// Applied reports whether a policy set carries any policy tagged with
// the preset id, i.e. the preset is considered applied.
func Applied(set *policy.Set, presetID string) bool {
	for _, p := range set.Policies {
		if p.Preset == presetID {
			return true
		}
	}
	return false
}

// Protect restores preset-owned policies a candidate set omitted: for
// each protected preset, any member missing from next is re-added. Used
// so a PUT that drops preset members does not strip an applied preset.
func Protect(next *policy.Set, presets ...Preset) *policy.Set {
	out := next
	for _, p := range presets {
		out = out.UnionByID(p.Set())
	}
	return out
}
