package acl

import (
	"context"
	"fmt"
	"os"
	"strings"
	"testing"
)

// execScript fakes the applier's command runners: `ls -le` returns the
// configured listing, chmod consults chmodErr.
type execScript struct {
	listing   string
	chmodErr  error
	execCalls []string
	sudoCalls []string
	sudoErr   error
}

func (s *execScript) exec(_ context.Context, name string, args ...string) (string, error) {
	call := name + " " + strings.Join(args, " ")
	s.execCalls = append(s.execCalls, call)
	if name == "ls" {
		return s.listing, nil
	}
	if name == "chmod" && s.chmodErr != nil {
		return "", s.chmodErr
	}
	return "", nil
}

func (s *execScript) sudo(_ context.Context, name string, args ...string) (string, error) {
	s.sudoCalls = append(s.sudoCalls, name+" "+strings.Join(args, " "))
	if s.sudoErr != nil {
		return "", s.sudoErr
	}
	return "", nil
}

func newScriptedApplier(script *execScript) *Applier {
	return &Applier{AgentUser: "ash_default_agent", Exec: script.exec, SudoExec: script.sudo}
}

func TestApplyPathWipeThenReapplyOrder(t *testing.T) {
	script := &execScript{listing: ` 0: user:ash_default_agent allow read
 1: user:other allow read
 2: user:ash_default_agent deny write
`}
	a := newScriptedApplier(script)

	dir := t.TempDir()
	if err := a.ApplyPath(context.Background(), dir, "read,search", "write"); err != nil {
		t.Fatalf("ApplyPath: %v", err)
	}

	var chmods []string
	for _, c := range script.execCalls {
		if strings.HasPrefix(c, "chmod") {
			chmods = append(chmods, c)
		}
	}
	want := []string{
		"chmod -a#2 " + dir,
		"chmod -a#0 " + dir,
		"chmod +a user:ash_default_agent deny write " + dir,
		"chmod +a user:ash_default_agent allow read,search " + dir,
	}
	if len(chmods) != len(want) {
		t.Fatalf("chmod calls = %v, want %v", chmods, want)
	}
	for i := range want {
		if chmods[i] != want[i] {
			t.Errorf("chmod[%d] = %q, want %q", i, chmods[i], want[i])
		}
	}
	if len(script.sudoCalls) != 0 {
		t.Errorf("sudo invoked without a permission error: %v", script.sudoCalls)
	}
}

func TestApplyPathFallsBackToSudoOnPermissionError(t *testing.T) {
	script := &execScript{chmodErr: fmt.Errorf("chmod: %s: %w", "x", os.ErrPermission)}
	a := newScriptedApplier(script)

	dir := t.TempDir()
	if err := a.ApplyPath(context.Background(), dir, "read", ""); err != nil {
		t.Fatalf("ApplyPath: %v", err)
	}
	if len(script.sudoCalls) != 1 {
		t.Fatalf("sudo calls = %v, want exactly one", script.sudoCalls)
	}
	if !strings.HasPrefix(script.sudoCalls[0], "chmod +a user:ash_default_agent allow read") {
		t.Errorf("sudo call = %q", script.sudoCalls[0])
	}
}

func TestApplyPathSudoFallbackOnDeniedOutput(t *testing.T) {
	// Denials reported only in chmod's captured output text still trigger
	// the elevated retry.
	script := &execScript{chmodErr: fmt.Errorf("chmod [+a ...]: exit status 1: chmod: Unable to translate: Operation not permitted")}
	a := newScriptedApplier(script)

	if err := a.ApplyPath(context.Background(), t.TempDir(), "read", ""); err != nil {
		t.Fatalf("ApplyPath: %v", err)
	}
	if len(script.sudoCalls) != 1 {
		t.Fatalf("sudo calls = %v", script.sudoCalls)
	}
}

func TestApplyPathNonPermissionErrorNotElevated(t *testing.T) {
	script := &execScript{chmodErr: fmt.Errorf("chmod: Invalid ACL entry format")}
	a := newScriptedApplier(script)

	if err := a.ApplyPath(context.Background(), t.TempDir(), "read", ""); err == nil {
		t.Fatal("expected error")
	}
	if len(script.sudoCalls) != 0 {
		t.Errorf("sudo invoked for a non-permission error: %v", script.sudoCalls)
	}
}

func TestApplyPathBothLegsDeniedReported(t *testing.T) {
	script := &execScript{
		chmodErr: fmt.Errorf("chmod: %w", os.ErrPermission),
		sudoErr:  fmt.Errorf("sudo: a password is required"),
	}
	a := newScriptedApplier(script)

	err := a.ApplyPath(context.Background(), t.TempDir(), "read", "")
	if err == nil {
		t.Fatal("expected error when both legs fail")
	}
	if !strings.Contains(err.Error(), "elevated retry") {
		t.Errorf("error %q does not mention the elevated retry", err)
	}
}

func TestApplyPathSkipsNonexistentPath(t *testing.T) {
	script := &execScript{}
	a := newScriptedApplier(script)

	if err := a.ApplyPath(context.Background(), "/nonexistent/path", "read", ""); err != nil {
		t.Fatalf("ApplyPath on missing path: %v", err)
	}
	if len(script.execCalls) != 0 {
		t.Errorf("commands run for a missing path: %v", script.execCalls)
	}
}
