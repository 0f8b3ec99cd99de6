package ipc

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/google/uuid"
)

// Client is the update engine's side of the installer channel. A
// client is good for a single install call; the channel is invalidated
// (closed) after every call regardless of outcome.
type Client struct {
	SocketPath string
	// Timeout bounds the whole conversation, handshake included. The
	// install itself can take a while (unzip + codesign), so this
	// defaults generously.
	Timeout time.Duration
}

// NewClient creates a client for the helper listening at socketPath.
func NewClient(socketPath string) *Client {
	return &Client{
		SocketPath: socketPath,
		Timeout:    5 * time.Minute,
	}
}

// Install dials the helper, authenticates, performs one install round
// trip and closes the channel.
func (c *Client) Install(ctx context.Context, req *InstallRequest) (*InstallResponse, error) {
	dialer := net.Dialer{}
	raw, err := dialer.DialContext(ctx, "unix", c.SocketPath)
	if err != nil {
		return nil, fmt.Errorf("ipc: dial installer socket: %w", err)
	}

	conn := NewConn(raw)
	defer conn.Close()

	deadline := time.Now().Add(c.Timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetDeadline(deadline); err != nil {
		return nil, fmt.Errorf("ipc: set deadline: %w", err)
	}

	if err := c.handshake(conn); err != nil {
		return nil, err
	}

	id := uuid.NewString()
	if err := conn.SendTyped(id, TypeInstallRequest, req); err != nil {
		return nil, fmt.Errorf("ipc: send install request: %w", err)
	}

	env, err := conn.Recv()
	if err != nil {
		return nil, fmt.Errorf("ipc: await install response: %w", err)
	}
	if env.Type != TypeInstallResponse {
		return nil, fmt.Errorf("ipc: unexpected response type %q", env.Type)
	}
	if env.Error != "" {
		return nil, fmt.Errorf("ipc: installer error: %s", env.Error)
	}

	var resp InstallResponse
	if err := json.Unmarshal(env.Payload, &resp); err != nil {
		return nil, fmt.Errorf("ipc: decode install response: %w", err)
	}
	return &resp, nil
}

func (c *Client) handshake(conn *Conn) error {
	auth := AuthRequest{
		ProtocolVersion: ProtocolVersion,
		UID:             uint32(os.Getuid()),
		PID:             os.Getpid(),
	}
	if err := conn.SendTyped(uuid.NewString(), TypeAuthRequest, auth); err != nil {
		return fmt.Errorf("ipc: send auth request: %w", err)
	}

	env, err := conn.Recv()
	if err != nil {
		return fmt.Errorf("ipc: await auth response: %w", err)
	}
	if env.Type != TypeAuthResponse {
		return fmt.Errorf("ipc: unexpected handshake type %q", env.Type)
	}

	var resp AuthResponse
	if err := json.Unmarshal(env.Payload, &resp); err != nil {
		return fmt.Errorf("ipc: decode auth response: %w", err)
	}
	if !resp.Accepted {
		return fmt.Errorf("ipc: helper rejected connection: %s", resp.Reason)
	}

	key, err := hex.DecodeString(resp.SessionKey)
	if err != nil || len(key) != 32 {
		return fmt.Errorf("ipc: invalid session key in auth response")
	}
	conn.SetSessionKey(key)
	return nil
}
