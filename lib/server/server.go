// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package server serves a namespace to SONAR clients.
//
// Each accepted connection gets a reader goroutine, which decodes
// frames and queues them, and a writer goroutine, which drains the
// connection's unbounded outbound queue. LOGIN credentials are
// checked on the reader goroutine and only the outcome is queued.
// Requests from every connection, together with changes scheduled by
// in-process collaborators, run one at a time on a single processor
// goroutine in arrival order. After each change the processor queues notification
// frames to every connection watching the affected type or object.
//
// Collaborators (device drivers and other in-process code that owns
// domain objects) use [Server.AddObject], [Server.RemoveObject],
// [Server.SetAttribute] and [Server.NotifyAttribute] to schedule
// changes without waiting, and [Server.StoreObject],
// [Server.CreateObject] and [Server.Do] when they need the result.
package server

import (
	"cmp"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"runtime"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/semaphore"

	"github.com/bureau-foundation/sonar/lib/access"
	"github.com/bureau-foundation/sonar/lib/clock"
	"github.com/bureau-foundation/sonar/lib/name"
	"github.com/bureau-foundation/sonar/lib/namespace"
	"github.com/bureau-foundation/sonar/lib/netutil"
)

// Authenticator checks login credentials. *access.Authenticator
// implements it.
type Authenticator interface {
	Login(user, password string, addr netip.Addr) (*access.User, error)
	AuthorizePasswordChange(user, current, replacement string) error
}

// Config holds the network settings of a server.
type Config struct {
	// Address is the TCP address ListenAndServe listens on.
	Address string

	// TLS, when non-nil, makes ListenAndServe accept TLS connections.
	TLS *tls.Config

	// MaxFrameBytes bounds a single inbound frame. Zero selects the
	// message package default.
	MaxFrameBytes int
}

// Options holds the collaborators of a server.
type Options struct {
	Namespace     *namespace.Namespace
	Authenticator Authenticator

	// Listeners run on the processor after every change to an object
	// made through the server, before notifications are queued.
	Listeners []func(namespace.Object)

	// Registerer receives the server's metrics. Nil keeps them in a
	// private registry.
	Registerer prometheus.Registerer

	Clock  clock.Clock
	Logger *slog.Logger
}

// Server accepts SONAR connections and runs the task processor.
type Server struct {
	config  Config
	ns      *namespace.Namespace
	auth    Authenticator
	clock   clock.Clock
	logger  *slog.Logger
	metrics *metrics
	ids     *sessionIDs

	// logins bounds concurrent credential checks on reader goroutines.
	logins *semaphore.Weighted

	tasks     *fifo[task]
	stopped   chan struct{}
	listeners []func(namespace.Object)

	// current is the connection the running task is attributed to.
	// Only the processor stores it.
	current atomic.Pointer[Connection]

	// Owned by the processor goroutine.
	watchers map[string]map[*Connection]struct{}

	mu       sync.Mutex
	sessions map[int64]*Connection
	started  time.Time

	connections sync.WaitGroup
}

// New returns a server for options.Namespace. It registers the
// connection type in the namespace.
func New(config Config, options Options) (*Server, error) {
	if options.Namespace == nil {
		return nil, errors.New("server: namespace is required")
	}
	if options.Authenticator == nil {
		return nil, errors.New("server: authenticator is required")
	}
	if options.Clock == nil {
		options.Clock = clock.Real()
	}
	if options.Logger == nil {
		options.Logger = slog.New(slog.DiscardHandler)
	}
	if options.Registerer == nil {
		options.Registerer = prometheus.NewRegistry()
	}

	if _, err := options.Namespace.RegisterType(connectionSchema()); err != nil {
		return nil, fmt.Errorf("server: %w", err)
	}
	ids, err := newSessionIDs()
	if err != nil {
		return nil, fmt.Errorf("server: %w", err)
	}

	s := &Server{
		config:    config,
		ns:        options.Namespace,
		auth:      options.Authenticator,
		clock:     options.Clock,
		logger:    options.Logger,
		ids:       ids,
		logins:    semaphore.NewWeighted(int64(runtime.GOMAXPROCS(0))),
		tasks:     newFIFO[task](),
		stopped:   make(chan struct{}),
		listeners: slices.Clone(options.Listeners),
		watchers:  make(map[string]map[*Connection]struct{}),
		sessions:  make(map[int64]*Connection),
	}
	s.metrics, err = newMetrics(options.Registerer, func() float64 { return float64(s.tasks.len()) })
	if err != nil {
		return nil, fmt.Errorf("server: %w", err)
	}
	return s, nil
}

// ListenAndServe listens on config.Address, with TLS if configured,
// and serves until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.config.Address)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.config.Address, err)
	}
	if s.config.TLS != nil {
		listener = tls.NewListener(listener, s.config.TLS)
	}
	return s.Serve(ctx, listener)
}

// Serve runs the processor and accepts connections on listener until
// ctx is cancelled. It then closes every connection and returns once
// their goroutines and the processor have stopped. Serve must be
// called at most once.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	defer listener.Close()

	s.mu.Lock()
	s.started = s.clock.Now()
	s.mu.Unlock()

	go s.process(ctx)

	// Unblock Accept when the context is cancelled.
	go func() {
		<-ctx.Done()
		listener.Close()
	}()

	s.logger.Info("sonar server listening", "address", listener.Addr().String())

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			if errors.Is(err, net.ErrClosed) {
				break
			}
			s.logger.Error("accept failed", "error", err)
			continue
		}
		s.accept(conn)
	}

	s.mu.Lock()
	open := make([]*Connection, 0, len(s.sessions))
	for _, c := range s.sessions {
		open = append(open, c)
	}
	s.mu.Unlock()
	for _, c := range open {
		c.close(errShutdown)
	}
	s.connections.Wait()
	<-s.stopped
	s.logger.Info("sonar server stopped")
	return nil
}

func (s *Server) accept(conn net.Conn) {
	id, err := s.ids.next()
	if err != nil {
		s.logger.Error("assigning session id", "error", err)
		conn.Close()
		return
	}
	c := newConnection(s, conn, id)

	s.mu.Lock()
	s.sessions[id] = c
	s.mu.Unlock()
	s.metrics.connections.Inc()
	s.logger.Info("connection opened", "session", id, "address", c.Address())

	s.submit(task{op: "connect", run: func(context.Context) error {
		if err := s.ns.AddObject(c); err != nil {
			return fmt.Errorf("publishing session %d: %w", id, err)
		}
		s.objectAdded(c)
		return nil
	}})

	s.connections.Add(2)
	go func() {
		defer s.connections.Done()
		c.readLoop()
	}()
	go func() {
		defer s.connections.Done()
		c.writeLoop()
	}()
}

// retire forgets a closed connection. Its watches, pending objects and
// namespace object are dropped on the processor, after any tasks
// already queued.
func (s *Server) retire(c *Connection, reason error) {
	s.mu.Lock()
	delete(s.sessions, c.sessionID)
	s.mu.Unlock()
	s.metrics.connections.Dec()

	attrs := []any{"session", c.sessionID, "address", c.address, "user", c.User()}
	switch {
	case reason == nil || netutil.IsExpectedCloseError(reason):
		s.logger.Info("connection closed", attrs...)
	case errors.Is(reason, errDisconnected), errors.Is(reason, errShutdown):
		s.logger.Info("connection closed", append(attrs, "reason", reason)...)
	default:
		s.logger.Warn("connection failed", append(attrs, "error", reason)...)
	}

	s.submit(task{op: "disconnect", run: func(context.Context) error {
		s.unwatchAll(c)
		for key, pending := range c.pending {
			delete(c.pending, key)
			pending.Discard()
		}
		if err := s.ns.RemoveObject(c); err == nil {
			s.objectRemoved(c)
		}
		return nil
	}})
}

// Session describes one connection.
type Session struct {
	ID        int64
	User      string
	Address   string
	State     State
	Connected time.Time
}

// Sessions returns the open connections ordered by connection time.
func (s *Server) Sessions() []Session {
	s.mu.Lock()
	sessions := make([]Session, 0, len(s.sessions))
	for _, c := range s.sessions {
		sessions = append(sessions, Session{
			ID:        c.sessionID,
			User:      c.User(),
			Address:   c.address,
			State:     c.State(),
			Connected: c.connected,
		})
	}
	s.mu.Unlock()
	slices.SortFunc(sessions, func(a, b Session) int {
		return cmp.Or(a.Connected.Compare(b.Connected), cmp.Compare(a.ID, b.ID))
	})
	return sessions
}

// Disconnect closes the session with the given id. It reports whether
// the session was open.
func (s *Server) Disconnect(id int64) bool {
	s.mu.Lock()
	c, ok := s.sessions[id]
	s.mu.Unlock()
	if !ok {
		return false
	}
	c.close(errDisconnected)
	return true
}

// Status is a point-in-time summary of the server.
type Status struct {
	Started       time.Time
	Connections   int
	Authenticated int
	QueueDepth    int
	Types         []string
}

func (s *Server) Status() Status {
	s.mu.Lock()
	status := Status{Started: s.started, Connections: len(s.sessions)}
	for _, c := range s.sessions {
		if c.State() == StateAuthenticated {
			status.Authenticated++
		}
	}
	s.mu.Unlock()
	status.QueueDepth = s.tasks.len()
	status.Types = s.ns.Types()
	return status
}

// AddObject publishes o without persisting it. It does not wait;
// failures are logged.
func (s *Server) AddObject(o namespace.Object) {
	s.submit(task{op: "add", run: func(context.Context) error {
		if err := s.ns.AddObject(o); err != nil {
			return err
		}
		s.objectAdded(o)
		return nil
	}})
}

// RemoveObject withdraws o without persisting the removal or calling
// o.Destroy. It does not wait.
func (s *Server) RemoveObject(o namespace.Object) {
	s.submit(task{op: "remove", run: func(context.Context) error {
		if err := s.ns.RemoveObject(o); err != nil {
			return err
		}
		s.objectRemoved(o)
		return nil
	}})
}

// SetAttribute writes value through the setter of attribute on o,
// with system privilege, and notifies watchers. It does not wait.
func (s *Server) SetAttribute(o namespace.Object, attribute string, value []string) {
	n := name.Of(o.TypeName(), o.ObjectName()).Attribute(attribute)
	s.submit(task{op: "set", run: func(ctx context.Context) error {
		pending, err := s.ns.SetAttribute(ctx, namespace.System, n, value)
		if err != nil {
			return err
		}
		if pending != nil {
			pending.Discard()
			return &namespace.NamespaceError{Kind: namespace.ErrNameInvalid, Name: n.Object().String()}
		}
		s.attributeChanged(o, attribute)
		return nil
	}})
}

// NotifyAttribute announces the current value of attribute on o. Use
// it after changing o's state directly. It does not wait.
func (s *Server) NotifyAttribute(o namespace.Object, attribute string) {
	s.submit(task{op: "notify", run: func(context.Context) error {
		s.attributeChanged(o, attribute)
		return nil
	}})
}

// StoreObject adds and persists o and waits for the result.
func (s *Server) StoreObject(ctx context.Context, o namespace.Object) error {
	return s.wait(ctx, "store", func(ctx context.Context) error {
		if err := s.ns.StoreObject(ctx, o); err != nil {
			return err
		}
		s.objectAdded(o)
		return nil
	})
}

// CreateObject creates the object n with system privilege and waits
// for the result.
func (s *Server) CreateObject(ctx context.Context, n name.Name) (namespace.Object, error) {
	created := make(chan namespace.Object, 1)
	err := s.wait(ctx, "create", func(ctx context.Context) error {
		o, err := s.ns.CreateObject(ctx, namespace.System, n)
		if err != nil {
			return err
		}
		s.objectAdded(o)
		created <- o
		return nil
	})
	if err != nil {
		return nil, err
	}
	return <-created, nil
}

// DestroyObject removes and persists the removal of o, calls
// o.Destroy, and waits for the result.
func (s *Server) DestroyObject(ctx context.Context, o namespace.Object) error {
	return s.wait(ctx, "destroy", func(ctx context.Context) error {
		if err := s.ns.DestroyObject(ctx, namespace.System, o); err != nil {
			return err
		}
		s.objectRemoved(o)
		return nil
	})
}

// SetPassword replaces a user's password with system privilege and
// waits for the result.
func (s *Server) SetPassword(ctx context.Context, user, password string) error {
	return s.wait(ctx, "set-password", func(ctx context.Context) error {
		if s.ns.LookupObject(access.TypeUser, user) == nil {
			return &namespace.NamespaceError{Kind: namespace.ErrNameInvalid, Name: name.Of(access.TypeUser, user).String()}
		}
		n := name.Of(access.TypeUser, user).Attribute("password")
		if _, err := s.ns.SetAttribute(ctx, namespace.System, n, []string{password}); err != nil {
			return err
		}
		s.objectChanged(s.ns.LookupObject(access.TypeUser, user))
		s.logger.Info("password reset", "user", user)
		return nil
	})
}

// Do runs fn on the processor and waits for its result. fn may call
// Current and the namespace freely but must not wait on the server.
func (s *Server) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	return s.wait(ctx, "do", fn)
}

// Schedule runs fn on the processor without waiting. An error from fn
// is logged.
func (s *Server) Schedule(fn func(ctx context.Context) error) {
	s.submit(task{op: "schedule", run: fn})
}
