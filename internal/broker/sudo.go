package broker

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
)

// SudoFS performs operations via a sudo-elevated invocation as the
// configured agent user, the last leg of the cascade
// ("Permission (EACCES): Cascade: direct → broker → sudo").
type SudoFS struct {
	AgentUser string
}

func NewSudoFS(agentUser string) *SudoFS {
	return &SudoFS{AgentUser: agentUser}
}

func (s *SudoFS) runAs(ctx context.Context, stdin []byte, args ...string) error {
	full := append([]string{"-u", s.AgentUser}, args...)
	cmd := exec.CommandContext(ctx, "sudo", full...)
	if stdin != nil {
		cmd.Stdin = bytes.NewReader(stdin)
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("sudo %v: %w: %s", args, err, stderr.String())
	}
	return nil
}

func (s *SudoFS) WriteFile(ctx context.Context, path string, data []byte, mode uint32) error {
	if err := s.runAs(ctx, data, "tee", path); err != nil {
		return err
	}
	return s.runAs(ctx, nil, "chmod", fmt.Sprintf("%o", mode), path)
}

func (s *SudoFS) Mkdir(ctx context.Context, path string) error {
	return s.runAs(ctx, nil, "mkdir", "-p", path)
}

func (s *SudoFS) Remove(ctx context.Context, path string) error {
	return s.runAs(ctx, nil, "rm", "-rf", path)
}

func (s *SudoFS) CopyFile(ctx context.Context, src, dst string, mode uint32) error {
	if err := s.runAs(ctx, nil, "cp", src, dst); err != nil {
		return err
	}
	return s.runAs(ctx, nil, "chmod", fmt.Sprintf("%o", mode), dst)
}

func (s *SudoFS) InstallSkill(ctx context.Context, slug string, files []SkillFile, _ InstallOpts) error {
	base := fmt.Sprintf("/opt/agenshield/skills/%s", slug)
	if err := s.runAs(ctx, nil, "mkdir", "-p", base); err != nil {
		return err
	}
	for _, f := range files {
		dst := base + "/" + f.RelPath
		if err := s.runAs(ctx, nil, "mkdir", "-p", dirname(dst)); err != nil {
			return err
		}
		if err := s.runAs(ctx, f.Content, "tee", dst); err != nil {
			return err
		}
	}
	return s.runAs(ctx, nil, "chmod", "-R", "a+rX,go-w", base)
}

func (s *SudoFS) UninstallSkill(ctx context.Context, slug string, _ UninstallOpts) error {
	return s.runAs(ctx, nil, "rm", "-rf", fmt.Sprintf("/opt/agenshield/skills/%s", slug))
}

// PushSecrets has no sudo path: it is a no-op with a warning.
func (s *SudoFS) PushSecrets(context.Context, SecretPayload) error {
	slog.Warn("broker unavailable; secrets not pushed")
	return nil
}

func dirname(path string) string {
	idx := bytes.LastIndexByte([]byte(path), '/')
	if idx <= 0 {
		return "/"
	}
	return path[:idx]
}
