// Package broker is the client side of the out-of-scope privileged broker
// process. It exposes a PrivilegedFS capability with three
// implementations — direct syscalls, broker IPC, and sudo — composed
// by a first-available selector rather than try/catch cascades at every
// call site.
package broker

import "context"

// InstallOpts configures a skill deployment.
type InstallOpts struct {
	CreateWrapper bool
}

// UninstallOpts configures a skill removal.
type UninstallOpts struct {
	Purge bool
}

// SkillFile is one file to materialize under the skill's on-disk directory.
type SkillFile struct {
	RelPath string
	Content []byte
	Mode    uint32
}

// SecretPayload is the synced-secrets document pushed to the broker.
type SecretPayload struct {
	Version        string                      `json:"version"`
	SyncedAt       string                      `json:"syncedAt"`
	GlobalSecrets  map[string]string           `json:"globalSecrets"`
	PolicyBindings []SecretPolicyBinding       `json:"policyBindings"`
}

// SecretPolicyBinding is one per-policy secret binding.
type SecretPolicyBinding struct {
	PolicyID string            `json:"policyId"`
	Target   string            `json:"target"`
	Patterns []string          `json:"patterns"`
	Secrets  map[string]string `json:"secrets"`
}

// PrivilegedFS is every privileged filesystem operation the core needs,
// matching the broker's method table.
type PrivilegedFS interface {
	WriteFile(ctx context.Context, path string, data []byte, mode uint32) error
	Mkdir(ctx context.Context, path string) error
	Remove(ctx context.Context, path string) error
	CopyFile(ctx context.Context, src, dst string, mode uint32) error
	InstallSkill(ctx context.Context, slug string, files []SkillFile, opts InstallOpts) error
	UninstallSkill(ctx context.Context, slug string, opts UninstallOpts) error
	PushSecrets(ctx context.Context, payload SecretPayload) error
}
