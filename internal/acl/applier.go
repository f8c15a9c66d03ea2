package acl

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"regexp"
	"sort"
	"strings"
)

// Applier applies a Plan to the host's filesystem ACLs for AgentUser,
// wiping every existing agent-named entry on a path before reapplying.
// It shells out to `chmod`/`ls -le`, a
// subprocess-parsing approach known to be fragile across OS
// versions — kept here because no native ACL syscall binding is part of
// this dependency stack; a future revision should prefer one.
//
// Mutations follow the same privilege cascade as every other filesystem
// write: the unprivileged invocation runs first, and a permission error
// retries elevated. The broker exposes no ACL method, so sudo is the
// only fallback leg.
type Applier struct {
	AgentUser string
	// Exec runs an external command and returns combined stdout, for
	// testability; defaults to actually invoking the command.
	Exec func(ctx context.Context, name string, args ...string) (string, error)
	// SudoExec runs the same command elevated when the direct invocation
	// is denied; defaults to prefixing sudo.
	SudoExec func(ctx context.Context, name string, args ...string) (string, error)
}

func NewApplier(agentUser string) *Applier {
	return &Applier{AgentUser: agentUser, Exec: runCommand, SudoExec: runSudoCommand}
}

func runCommand(ctx context.Context, name string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return string(out), fmt.Errorf("%s %v: %w: %s", name, args, err, string(out))
	}
	return string(out), nil
}

func runSudoCommand(ctx context.Context, name string, args ...string) (string, error) {
	return runCommand(ctx, "sudo", append([]string{name}, args...)...)
}

// isPermissionDenied matches the denial shapes chmod produces: a raw
// EACCES from exec, or the "Operation not permitted"/"Permission denied"
// text captured from its output.
func isPermissionDenied(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, os.ErrPermission) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "Operation not permitted") || strings.Contains(msg, "Permission denied")
}

// chmod runs one mutating chmod, retrying elevated on a permission
// error.
func (a *Applier) chmod(ctx context.Context, args ...string) error {
	_, err := a.Exec(ctx, "chmod", args...)
	if err == nil || !isPermissionDenied(err) || a.SudoExec == nil {
		return err
	}
	slog.Debug("acl: chmod denied, retrying elevated", "args", args, "error", err)
	if _, sudoErr := a.SudoExec(ctx, "chmod", args...); sudoErr != nil {
		return fmt.Errorf("%w (elevated retry: %v)", err, sudoErr)
	}
	return nil
}

// aclEntryLine matches an `ls -le` ACL entry line, e.g.:
//
//	 0: user:ash_default_agent allow read,search
var aclEntryLine = regexp.MustCompile(`^\s*(\d+):\s*user:(\S+)\s+(allow|deny)\s+(\S+)`)

// existingEntries returns the indices of every ACL entry on path naming
// AgentUser, highest index first so repeated removal never invalidates a
// not-yet-processed index.
func (a *Applier) existingEntries(ctx context.Context, path string) ([]int, error) {
	out, err := a.Exec(ctx, "ls", "-le", path)
	if err != nil {
		return nil, err
	}
	var indices []int
	scanner := bufio.NewScanner(strings.NewReader(out))
	for scanner.Scan() {
		m := aclEntryLine.FindStringSubmatch(scanner.Text())
		if m == nil {
			continue
		}
		if m[2] != a.AgentUser {
			continue
		}
		var idx int
		fmt.Sscanf(m[1], "%d", &idx)
		indices = append(indices, idx)
	}
	sort.Sort(sort.Reverse(sort.IntSlice(indices)))
	return indices, nil
}

// ApplyPath wipes then reapplies the ACL entries for a single path: remove
// every agent-named entry (highest index first), add deny first, then
// allow. A non-existent path is skipped with a warning; an
// individual path error never halts Apply for the rest of the plan.
func (a *Applier) ApplyPath(ctx context.Context, path, allowPerms, denyPerms string) error {
	if _, err := os.Stat(path); err != nil {
		slog.Warn("acl: skipping nonexistent path", "path", path, "error", err)
		return nil
	}

	indices, err := a.existingEntries(ctx, path)
	if err != nil {
		return fmt.Errorf("listing ACL entries on %s: %w", path, err)
	}
	for _, idx := range indices {
		if err := a.chmod(ctx, fmt.Sprintf("-a#%d", idx), path); err != nil {
			return fmt.Errorf("removing ACL entry %d on %s: %w", idx, path, err)
		}
	}

	if denyPerms != "" {
		entry := fmt.Sprintf("user:%s deny %s", a.AgentUser, denyPerms)
		if err := a.chmod(ctx, "+a", entry, path); err != nil {
			return fmt.Errorf("adding deny ACL on %s: %w", path, err)
		}
	}
	if allowPerms != "" {
		entry := fmt.Sprintf("user:%s allow %s", a.AgentUser, allowPerms)
		if err := a.chmod(ctx, "+a", entry, path); err != nil {
			return fmt.Errorf("adding allow ACL on %s: %w", path, err)
		}
	}
	return nil
}

// Apply applies every path in plan.Allow ∪ plan.Deny, collecting
// per-path errors without halting on the first failure.
func (a *Applier) Apply(ctx context.Context, plan Plan) map[string]error {
	paths := map[string]bool{}
	for p := range plan.Allow {
		paths[p] = true
	}
	for p := range plan.Deny {
		paths[p] = true
	}

	ordered := make([]string, 0, len(paths))
	for p := range paths {
		ordered = append(ordered, p)
	}
	sort.Strings(ordered)

	errs := map[string]error{}
	for _, p := range ordered {
		if err := a.ApplyPath(ctx, p, plan.Allow[p], plan.Deny[p]); err != nil {
			slog.Error("acl: applying path failed", "path", p, "error", err)
			errs[p] = err
		}
	}
	return errs
}
