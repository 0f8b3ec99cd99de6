package ipc

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/beamapp/autoupdate/internal/logging"
)

// InstallHandler performs one install on behalf of a verified caller.
type InstallHandler func(ctx context.Context, req *InstallRequest) *InstallResponse

// Server is the privileged helper's side of the installer channel. It
// listens on a Unix socket, verifies peer credentials, performs the
// session-key handshake and serves install calls one at a time.
type Server struct {
	SocketPath string
	Handler    InstallHandler

	// AllowedUID restricts callers to one UID in addition to root.
	// Negative means any UID may connect.
	AllowedUID int

	limiter  *RateLimiter
	listener net.Listener
	wg       sync.WaitGroup

	// serializes installs; no two swaps may run concurrently
	installMu sync.Mutex
}

// NewServer creates a Server for the given socket path and handler.
func NewServer(socketPath string, handler InstallHandler) *Server {
	return &Server{
		SocketPath: socketPath,
		Handler:    handler,
		AllowedUID: -1,
		limiter:    NewRateLimiter(5, time.Minute),
	}
}

// Listen binds the Unix socket. A stale socket file from a previous
// run is removed first.
func (s *Server) Listen() error {
	if err := os.MkdirAll(filepath.Dir(s.SocketPath), 0o755); err != nil {
		return fmt.Errorf("ipc: create socket directory: %w", err)
	}
	if err := os.Remove(s.SocketPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("ipc: remove stale socket: %w", err)
	}

	ln, err := net.Listen("unix", s.SocketPath)
	if err != nil {
		return fmt.Errorf("ipc: listen on %s: %w", s.SocketPath, err)
	}
	if err := os.Chmod(s.SocketPath, 0o666); err != nil {
		ln.Close()
		return fmt.Errorf("ipc: chmod socket: %w", err)
	}
	s.listener = ln
	log.Info("installer socket listening", "path", s.SocketPath)
	return nil
}

// Serve accepts connections until ctx is cancelled or the listener is
// closed.
func (s *Server) Serve(ctx context.Context) error {
	if s.listener == nil {
		return errors.New("ipc: server not listening")
	}

	go func() {
		<-ctx.Done()
		s.listener.Close()
	}()

	for {
		raw, err := s.listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				s.wg.Wait()
				return nil
			}
			return fmt.Errorf("ipc: accept: %w", err)
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConn(ctx, raw)
		}()
	}
}

// Close shuts the listener down and removes the socket file.
func (s *Server) Close() error {
	if s.listener == nil {
		return nil
	}
	err := s.listener.Close()
	os.Remove(s.SocketPath)
	return err
}

func (s *Server) handleConn(ctx context.Context, raw net.Conn) {
	conn := NewConn(raw)
	defer conn.Close()

	creds, err := GetPeerCredentials(raw)
	if err != nil {
		log.Warn("rejecting peer with unverifiable credentials", logging.KeyError, err)
		return
	}
	if s.AllowedUID >= 0 && creds.UID != uint32(s.AllowedUID) && creds.UID != 0 {
		log.Warn("rejecting peer with disallowed uid", "uid", creds.UID)
		return
	}
	if !s.limiter.Allow(creds.UID) {
		log.Warn("rejecting rate-limited peer", "uid", creds.UID)
		return
	}

	conn.SetDeadline(time.Now().Add(10 * time.Second))

	env, err := conn.Recv()
	if err != nil || env.Type != TypeAuthRequest {
		log.Warn("handshake failed", logging.KeyError, err)
		return
	}

	var auth AuthRequest
	if err := json.Unmarshal(env.Payload, &auth); err != nil {
		return
	}
	if auth.ProtocolVersion != ProtocolVersion {
		conn.SendTyped(env.ID, TypeAuthResponse, AuthResponse{
			Accepted: false,
			Reason:   fmt.Sprintf("unsupported protocol version %d", auth.ProtocolVersion),
		})
		return
	}

	key, err := GenerateSessionKey()
	if err != nil {
		log.Error("session key generation failed", logging.KeyError, err)
		return
	}
	// The acceptance reply is the last pre-auth message; everything
	// after it is signed with the session key.
	if err := conn.SendTyped(env.ID, TypeAuthResponse, AuthResponse{
		Accepted:   true,
		SessionKey: hex.EncodeToString(key),
	}); err != nil {
		return
	}
	conn.SetSessionKey(key)

	s.serveCalls(ctx, conn, creds)
}

func (s *Server) serveCalls(ctx context.Context, conn *Conn, creds *PeerCredentials) {
	for {
		conn.SetDeadline(time.Now().Add(10 * time.Minute))
		env, err := conn.Recv()
		if err != nil {
			return // peer closed or protocol violation
		}

		switch env.Type {
		case TypePing:
			conn.SendTyped(env.ID, TypePong, struct{}{})

		case TypeInstallRequest:
			var req InstallRequest
			if err := json.Unmarshal(env.Payload, &req); err != nil {
				conn.SendError(env.ID, TypeInstallResponse, "malformed install request")
				return
			}
			log.Info("install requested",
				"archive", req.ArchiveURL,
				"target", req.BinaryToReplaceURL,
				"callerPID", creds.PID,
			)
			s.installMu.Lock()
			resp := s.Handler(ctx, &req)
			s.installMu.Unlock()
			conn.SendTyped(env.ID, TypeInstallResponse, resp)

		default:
			conn.SendError(env.ID, env.Type, "unsupported message type")
			return
		}
	}
}
