package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"time"

	"golang.org/x/exp/jsonrpc2"
)

// DefaultSocketPath is the well-known broker socket, mode 0660.
func DefaultSocketPath(brokerHomeDir string) string {
	return brokerHomeDir + "/daemon.sock"
}

// Client is the JSON-RPC-2.0 client for the privileged broker over a Unix
// domain socket. Messages use jsonrpc2.RawFramer: each one is a bare JSON
// value, and no newline is written between messages.
type Client struct {
	socketPath string
	timeout    time.Duration
}

func NewClient(socketPath string) *Client {
	return &Client{socketPath: socketPath, timeout: 10 * time.Second}
}

// Available probes whether the broker socket is reachable. Per the
// §4.14, availability is probed once per call group and never cached
// across reconciliations.
func (c *Client) Available(ctx context.Context) bool {
	conn, err := c.dial(ctx)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

func (c *Client) dial(ctx context.Context) (*jsonrpc2.Connection, error) {
	dialCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return jsonrpc2.Dial(dialCtx, jsonrpc2.NetDialer("unix", c.socketPath, net.Dialer{}), jsonrpc2.ConnectionOptions{
		Framer: jsonrpc2.RawFramer(),
	})
}

func (c *Client) call(ctx context.Context, method string, params, result any) error {
	conn, err := c.dial(ctx)
	if err != nil {
		return fmt.Errorf("broker: dial %s: %w", c.socketPath, err)
	}
	defer conn.Close()

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	async := conn.Call(callCtx, method, params)
	if result != nil {
		return async.Await(callCtx, result)
	}
	return async.Await(callCtx, new(json.RawMessage))
}

func (c *Client) WriteFile(ctx context.Context, path string, data []byte, mode uint32) error {
	return c.call(ctx, "writeFile", map[string]any{"path": path, "bytes": data, "mode": mode}, nil)
}

func (c *Client) Mkdir(ctx context.Context, path string) error {
	return c.call(ctx, "mkdir", map[string]any{"path": path}, nil)
}

func (c *Client) Remove(ctx context.Context, path string) error {
	return c.call(ctx, "rm", map[string]any{"path": path}, nil)
}

func (c *Client) CopyFile(ctx context.Context, src, dst string, mode uint32) error {
	return c.call(ctx, "copyFile", map[string]any{"src": src, "dst": dst, "mode": mode}, nil)
}

func (c *Client) InstallSkill(ctx context.Context, slug string, files []SkillFile, opts InstallOpts) error {
	return c.call(ctx, "installSkill", map[string]any{"slug": slug, "files": files, "opts": opts}, nil)
}

func (c *Client) UninstallSkill(ctx context.Context, slug string, opts UninstallOpts) error {
	return c.call(ctx, "uninstallSkill", map[string]any{"slug": slug, "opts": opts}, nil)
}

func (c *Client) PushSecrets(ctx context.Context, payload SecretPayload) error {
	return c.call(ctx, "pushSecrets", map[string]any{"payload": payload}, nil)
}
