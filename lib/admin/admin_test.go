// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package admin

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bureau-foundation/sonar/lib/server"
	"github.com/bureau-foundation/sonar/lib/testutil"
)

var testEpoch = time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)

type fakeBackend struct {
	mu           sync.Mutex
	sessions     []server.Session
	disconnected []int64
	passwords    map[string]string
}

func (b *fakeBackend) Status() server.Status {
	b.mu.Lock()
	defer b.mu.Unlock()
	return server.Status{
		Started:       testEpoch,
		Connections:   len(b.sessions),
		Authenticated: 1,
		Types:         []string{"connection", "user", "widget"},
	}
}

func (b *fakeBackend) Sessions() []server.Session {
	b.mu.Lock()
	defer b.mu.Unlock()
	return slices.Clone(b.sessions)
}

func (b *fakeBackend) Disconnect(id int64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, session := range b.sessions {
		if session.ID == id {
			b.sessions = slices.Delete(b.sessions, i, i+1)
			b.disconnected = append(b.disconnected, id)
			return true
		}
	}
	return false
}

func (b *fakeBackend) SetPassword(_ context.Context, user, password string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.passwords[user]; !ok {
		return errors.New("name invalid: user/" + user)
	}
	b.passwords[user] = password
	return nil
}

func newBackend() *fakeBackend {
	return &fakeBackend{
		sessions: []server.Session{
			{ID: 11, User: "alice", Address: "10.0.0.5:4100", State: server.StateAuthenticated, Connected: testEpoch},
			{ID: 12, Address: "10.0.0.6:4100", State: server.StateUnauthenticated, Connected: testEpoch.Add(time.Minute)},
		},
		passwords: map[string]string{"alice": "old"},
	}
}

// startServer runs srv until the test ends and returns a client for it.
func startServer(t *testing.T, srv *Server) *Client {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan error, 1)
	go func() { served <- srv.Serve(ctx) }()
	t.Cleanup(func() {
		cancel()
		if err := testutil.RequireReceive(t, served, 5*time.Second, "Serve did not return"); err != nil {
			t.Errorf("Serve: %v", err)
		}
	})
	waitForSocket(t, srv.socketPath)
	return NewClient(srv.socketPath)
}

func waitForSocket(t *testing.T, path string) {
	t.Helper()
	for {
		if _, err := os.Stat(path); err == nil {
			return
		}
		if t.Context().Err() != nil {
			t.Fatalf("socket %s did not appear before test context expired", path)
		}
		runtime.Gosched()
	}
}

func socketPath(t *testing.T) string {
	return filepath.Join(testutil.SocketDir(t), "admin.sock")
}

func TestStatusAndTypes(t *testing.T) {
	client := startServer(t, NewServer(socketPath(t), newBackend(), nil))
	ctx := context.Background()

	status, err := client.Status(ctx)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if status.Connections != 2 || status.Authenticated != 1 {
		t.Errorf("status = %+v", status)
	}
	if status.Started != "2026-03-01T09:30:00Z" {
		t.Errorf("started = %q", status.Started)
	}

	types, err := client.Types(ctx)
	if err != nil {
		t.Fatalf("Types: %v", err)
	}
	if !slices.Equal(types, []string{"connection", "user", "widget"}) {
		t.Errorf("types = %q", types)
	}
}

func TestSessionsAndDisconnect(t *testing.T) {
	backend := newBackend()
	client := startServer(t, NewServer(socketPath(t), backend, nil))
	ctx := context.Background()

	sessions, err := client.Sessions(ctx)
	if err != nil {
		t.Fatalf("Sessions: %v", err)
	}
	if len(sessions) != 2 {
		t.Fatalf("sessions = %+v", sessions)
	}
	if sessions[0].SessionID != 11 || sessions[0].User != "alice" || sessions[0].State != "authenticated" {
		t.Errorf("first session = %+v", sessions[0])
	}

	if err := client.Disconnect(ctx, 12); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}
	backend.mu.Lock()
	disconnected := slices.Clone(backend.disconnected)
	backend.mu.Unlock()
	if !slices.Equal(disconnected, []int64{12}) {
		t.Errorf("disconnected = %v", disconnected)
	}

	var adminErr *Error
	err = client.Disconnect(ctx, 12)
	if !errors.As(err, &adminErr) || !strings.Contains(adminErr.Message, "no open session") {
		t.Errorf("second Disconnect = %v", err)
	}
	err = client.Call(ctx, "disconnect", nil, nil)
	if !errors.As(err, &adminErr) || !strings.Contains(adminErr.Message, "session_id") {
		t.Errorf("Disconnect without id = %v", err)
	}
}

func TestSetPassword(t *testing.T) {
	backend := newBackend()
	client := startServer(t, NewServer(socketPath(t), backend, nil))
	ctx := context.Background()

	if err := client.SetPassword(ctx, "alice", "new"); err != nil {
		t.Fatalf("SetPassword: %v", err)
	}
	backend.mu.Lock()
	password := backend.passwords["alice"]
	backend.mu.Unlock()
	if password != "new" {
		t.Errorf("password not updated")
	}

	var adminErr *Error
	if err := client.SetPassword(ctx, "mallory", "x"); !errors.As(err, &adminErr) {
		t.Errorf("SetPassword of unknown user = %v", err)
	}
	if err := client.SetPassword(ctx, "alice", ""); !errors.As(err, &adminErr) {
		t.Errorf("SetPassword with empty password = %v", err)
	}
}

func TestUnknownAction(t *testing.T) {
	client := startServer(t, NewServer(socketPath(t), newBackend(), nil))

	var adminErr *Error
	err := client.Call(context.Background(), "reboot", nil, nil)
	if !errors.As(err, &adminErr) || !strings.Contains(adminErr.Message, `unknown action "reboot"`) {
		t.Errorf("Call = %v", err)
	}
}

func TestPeerRefused(t *testing.T) {
	srv := NewServer(socketPath(t), newBackend(), nil)
	seen := make(chan uint32, 1)
	srv.peerAllowed = func(uid uint32) bool {
		seen <- uid
		return false
	}
	client := startServer(t, srv)

	var adminErr *Error
	err := client.Call(context.Background(), "status", nil, nil)
	if !errors.As(err, &adminErr) || !strings.Contains(adminErr.Message, "may not administer") {
		t.Fatalf("Call = %v", err)
	}
	if uid := testutil.RequireReceive(t, seen, 5*time.Second, "peer check not called"); uid != uint32(os.Getuid()) {
		t.Errorf("peer uid = %d, want %d", uid, os.Getuid())
	}
}

func TestSocketPermissions(t *testing.T) {
	srv := NewServer(socketPath(t), newBackend(), nil)
	client := startServer(t, srv)
	// A successful call means Serve finished setting up the socket.
	if _, err := client.Status(context.Background()); err != nil {
		t.Fatalf("Status: %v", err)
	}
	info, err := os.Stat(srv.socketPath)
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if mode := info.Mode().Perm(); mode != 0o600 {
		t.Errorf("socket mode = %o, want 600", mode)
	}
}
