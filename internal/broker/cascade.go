package broker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
)

// Cascade tries Direct first, falls through to Broker on a permission
// error, and falls through to Sudo if the broker is unavailable or its
// call fails — the
// direct, then broker, then sudo. Failure of all three legs
// for a path is reported once; individual path failures never halt an
// overall reconciliation (the caller decides whether to continue).
type Cascade struct {
	Direct *DirectFS
	Broker *Client
	Sudo   *SudoFS
}

func NewCascade(direct *DirectFS, brokerClient *Client, sudo *SudoFS) *Cascade {
	return &Cascade{Direct: direct, Broker: brokerClient, Sudo: sudo}
}

// attempt runs direct first; on a permission error it tries the broker (if
// reachable) then sudo. When every leg fails it returns the sudo error, or,
// with no Sudo configured, the direct error wrapped.
func (c *Cascade) attempt(ctx context.Context, direct func() error, broker func() error, sudo func() error) error {
	err := direct()
	if err == nil {
		return nil
	}
	if !isPermissionError(err) {
		return err
	}

	if c.Broker != nil && c.Broker.Available(ctx) {
		if err := broker(); err == nil {
			return nil
		} else {
			slog.Warn("broker call failed, falling back to sudo", "error", err)
		}
	}

	if c.Sudo != nil {
		return sudo()
	}
	return fmt.Errorf("broker: all fallback paths exhausted: %w", err)
}

func isPermissionError(err error) bool {
	return errors.Is(err, os.ErrPermission) || errors.Is(err, errNoDirectPath)
}

func (c *Cascade) WriteFile(ctx context.Context, path string, data []byte, mode uint32) error {
	return c.attempt(ctx,
		func() error { return c.Direct.WriteFile(ctx, path, data, mode) },
		func() error { return c.Broker.WriteFile(ctx, path, data, mode) },
		func() error { return c.Sudo.WriteFile(ctx, path, data, mode) },
	)
}

func (c *Cascade) Mkdir(ctx context.Context, path string) error {
	return c.attempt(ctx,
		func() error { return c.Direct.Mkdir(ctx, path) },
		func() error { return c.Broker.Mkdir(ctx, path) },
		func() error { return c.Sudo.Mkdir(ctx, path) },
	)
}

func (c *Cascade) Remove(ctx context.Context, path string) error {
	return c.attempt(ctx,
		func() error { return c.Direct.Remove(ctx, path) },
		func() error { return c.Broker.Remove(ctx, path) },
		func() error { return c.Sudo.Remove(ctx, path) },
	)
}

func (c *Cascade) CopyFile(ctx context.Context, src, dst string, mode uint32) error {
	return c.attempt(ctx,
		func() error { return c.Direct.CopyFile(ctx, src, dst, mode) },
		func() error { return c.Broker.CopyFile(ctx, src, dst, mode) },
		func() error { return c.Sudo.CopyFile(ctx, src, dst, mode) },
	)
}

func (c *Cascade) InstallSkill(ctx context.Context, slug string, files []SkillFile, opts InstallOpts) error {
	return c.attempt(ctx,
		func() error { return c.Direct.InstallSkill(ctx, slug, files, opts) },
		func() error { return c.Broker.InstallSkill(ctx, slug, files, opts) },
		func() error { return c.Sudo.InstallSkill(ctx, slug, files, opts) },
	)
}

func (c *Cascade) UninstallSkill(ctx context.Context, slug string, opts UninstallOpts) error {
	return c.attempt(ctx,
		func() error { return c.Direct.UninstallSkill(ctx, slug, opts) },
		func() error { return c.Broker.UninstallSkill(ctx, slug, opts) },
		func() error { return c.Sudo.UninstallSkill(ctx, slug, opts) },
	)
}

// PushSecrets has no direct leg: go straight to broker,
// falling back to sudo's no-op-with-warning.
func (c *Cascade) PushSecrets(ctx context.Context, payload SecretPayload) error {
	if c.Broker != nil && c.Broker.Available(ctx) {
		if err := c.Broker.PushSecrets(ctx, payload); err == nil {
			return nil
		}
	}
	if c.Sudo != nil {
		return c.Sudo.PushSecrets(ctx, payload)
	}
	slog.Warn("no broker or sudo path available to push secrets")
	return nil
}
