// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package admin implements the SONAR administrative control socket.
//
// The socket speaks a CBOR request/response protocol on a Unix socket,
// one request per connection: the client writes a CBOR map with an
// "action" field and any action-specific fields, the server writes a
// [Response] envelope and closes the connection. Only processes running
// as the server's own uid (or root) may connect; the check uses the
// kernel's peer credentials rather than anything the client sends.
//
// Actions:
//
//   - status: server summary ([StatusResponse])
//   - sessions: open connections ([]SessionInfo)
//   - disconnect: close one session ([DisconnectRequest])
//   - types: registered namespace types ([]string)
//   - set-password: reset a user's password ([SetPasswordRequest])
package admin

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"github.com/bureau-foundation/sonar/lib/codec"
	"github.com/bureau-foundation/sonar/lib/server"
)

// Backend is the server state the admin socket exposes.
// *server.Server implements it.
type Backend interface {
	Status() server.Status
	Sessions() []server.Session
	Disconnect(id int64) bool
	SetPassword(ctx context.Context, user, password string) error
}

// Response is the envelope of every reply.
type Response struct {
	OK    bool             `cbor:"ok"`
	Error string           `cbor:"error,omitempty"`
	Data  codec.RawMessage `cbor:"data,omitempty"`
}

type StatusResponse struct {
	Started       string   `json:"started"`
	Connections   int      `json:"connections"`
	Authenticated int      `json:"authenticated"`
	QueueDepth    int      `json:"queue_depth"`
	Types         []string `json:"types"`
}

type SessionInfo struct {
	SessionID int64  `json:"session_id"`
	User      string `json:"user,omitempty"`
	Address   string `json:"address"`
	State     string `json:"state"`
	Connected string `json:"connected"`
}

type DisconnectRequest struct {
	SessionID int64 `json:"session_id"`
}

type SetPasswordRequest struct {
	User     string `json:"user"`
	Password string `json:"password"`
}

// actionFunc handles one action. raw is the whole request, including
// the action field.
type actionFunc func(ctx context.Context, raw []byte) (any, error)

const (
	readTimeout    = 30 * time.Second
	writeTimeout   = 10 * time.Second
	maxRequestSize = 64 * 1024
)

// Server serves the control socket.
type Server struct {
	socketPath string
	backend    Backend
	logger     *slog.Logger
	handlers   map[string]actionFunc

	// peerAllowed decides whether a connecting uid may use the socket.
	peerAllowed func(uid uint32) bool

	active sync.WaitGroup
}

// NewServer returns a control socket server for backend listening on
// socketPath.
func NewServer(socketPath string, backend Backend, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	self := uint32(os.Getuid())
	s := &Server{
		socketPath:  socketPath,
		backend:     backend,
		logger:      logger,
		handlers:    make(map[string]actionFunc),
		peerAllowed: func(uid uint32) bool { return uid == self || uid == 0 },
	}
	s.handlers["status"] = s.handleStatus
	s.handlers["sessions"] = s.handleSessions
	s.handlers["disconnect"] = s.handleDisconnect
	s.handlers["types"] = s.handleTypes
	s.handlers["set-password"] = s.handleSetPassword
	return s
}

// Serve listens on the socket until ctx is cancelled, then waits for
// in-flight requests. A stale socket file is replaced; the socket is
// removed on return.
func (s *Server) Serve(ctx context.Context) error {
	if err := os.Remove(s.socketPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing stale socket %s: %w", s.socketPath, err)
	}
	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.socketPath, err)
	}
	defer func() {
		listener.Close()
		os.Remove(s.socketPath)
	}()
	if err := os.Chmod(s.socketPath, 0o600); err != nil {
		return fmt.Errorf("restricting %s: %w", s.socketPath, err)
	}

	go func() {
		<-ctx.Done()
		listener.Close()
	}()

	s.logger.Info("admin socket listening", "path", s.socketPath)

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				break
			}
			s.logger.Error("admin accept failed", "error", err)
			continue
		}
		s.active.Add(1)
		go func() {
			defer s.active.Done()
			s.handleConnection(ctx, conn)
		}()
	}

	s.active.Wait()
	return nil
}

func (s *Server) handleConnection(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	uid, err := peerUID(conn)
	if err != nil {
		s.logger.Warn("reading admin peer credentials", "error", err)
		s.writeError(conn, "peer credentials unavailable")
		return
	}
	if !s.peerAllowed(uid) {
		s.logger.Warn("admin connection refused", "uid", uid)
		s.writeError(conn, fmt.Sprintf("uid %d may not administer this server", uid))
		return
	}

	conn.SetReadDeadline(time.Now().Add(readTimeout))
	var raw codec.RawMessage
	if err := codec.NewDecoder(io.LimitReader(conn, maxRequestSize)).Decode(&raw); err != nil {
		if errors.Is(err, io.EOF) {
			return
		}
		s.writeError(conn, fmt.Sprintf("invalid request: %v", err))
		return
	}

	var header struct {
		Action string `cbor:"action"`
	}
	if err := codec.Unmarshal(raw, &header); err != nil {
		s.writeError(conn, fmt.Sprintf("invalid request: %v", err))
		return
	}
	if header.Action == "" {
		s.writeError(conn, "missing required field: action")
		return
	}
	handler, ok := s.handlers[header.Action]
	if !ok {
		s.writeError(conn, fmt.Sprintf("unknown action %q", header.Action))
		return
	}

	result, err := handler(ctx, raw)
	if err != nil {
		s.logger.Info("admin action failed", "action", header.Action, "uid", uid, "error", err)
		s.writeError(conn, err.Error())
		return
	}
	s.logger.Info("admin action", "action", header.Action, "uid", uid)
	s.writeSuccess(conn, result)
}

func (s *Server) writeError(conn net.Conn, message string) {
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := codec.NewEncoder(conn).Encode(Response{Error: message}); err != nil {
		s.logger.Debug("writing admin error response", "error", err)
	}
}

func (s *Server) writeSuccess(conn net.Conn, result any) {
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	response := Response{OK: true}
	if result != nil {
		data, err := codec.Marshal(result)
		if err != nil {
			s.writeError(conn, fmt.Sprintf("internal: marshaling response: %v", err))
			return
		}
		response.Data = data
	}
	if err := codec.NewEncoder(conn).Encode(response); err != nil {
		s.logger.Debug("writing admin response", "error", err)
	}
}

func (s *Server) handleStatus(context.Context, []byte) (any, error) {
	status := s.backend.Status()
	return StatusResponse{
		Started:       status.Started.UTC().Format(time.RFC3339),
		Connections:   status.Connections,
		Authenticated: status.Authenticated,
		QueueDepth:    status.QueueDepth,
		Types:         status.Types,
	}, nil
}

func (s *Server) handleSessions(context.Context, []byte) (any, error) {
	sessions := s.backend.Sessions()
	infos := make([]SessionInfo, len(sessions))
	for i, session := range sessions {
		infos[i] = SessionInfo{
			SessionID: session.ID,
			User:      session.User,
			Address:   session.Address,
			State:     session.State.String(),
			Connected: session.Connected.UTC().Format(time.RFC3339),
		}
	}
	return infos, nil
}

func (s *Server) handleDisconnect(_ context.Context, raw []byte) (any, error) {
	var request DisconnectRequest
	if err := codec.Unmarshal(raw, &request); err != nil {
		return nil, fmt.Errorf("invalid disconnect request: %w", err)
	}
	if request.SessionID <= 0 {
		return nil, errors.New("missing required field: session_id")
	}
	if !s.backend.Disconnect(request.SessionID) {
		return nil, fmt.Errorf("no open session %d", request.SessionID)
	}
	return nil, nil
}

func (s *Server) handleTypes(context.Context, []byte) (any, error) {
	return s.backend.Status().Types, nil
}

func (s *Server) handleSetPassword(ctx context.Context, raw []byte) (any, error) {
	var request SetPasswordRequest
	if err := codec.Unmarshal(raw, &request); err != nil {
		return nil, fmt.Errorf("invalid set-password request: %w", err)
	}
	if request.User == "" || request.Password == "" {
		return nil, errors.New("user and password are required")
	}
	return nil, s.backend.SetPassword(ctx, request.User, request.Password)
}
