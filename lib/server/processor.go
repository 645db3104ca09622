// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"context"
	"errors"

	"github.com/bureau-foundation/sonar/lib/access"
	"github.com/bureau-foundation/sonar/lib/message"
	"github.com/bureau-foundation/sonar/lib/namespace"
)

var (
	// ErrSessionClosed is returned to a synchronous caller whose task
	// was attributed to a connection that closed before it ran.
	ErrSessionClosed = errors.New("session closed")

	// ErrServerStopped is returned to a synchronous caller when the
	// processor stops before running its task.
	ErrServerStopped = errors.New("server stopped")
)

// task is one entry in the processor queue.
type task struct {
	// conn is the connection the task is attributed to, or nil for
	// tasks from collaborators and from the server itself.
	conn *Connection

	// op names the task for logs and metrics.
	op string

	run func(ctx context.Context) error

	// done receives the result of synchronous tasks.
	done chan error
}

func (s *Server) submit(t task) {
	s.tasks.push(t)
}

// wait submits a synchronous task and blocks until it has run, the
// processor stops, or ctx is done. A task whose caller gave up still
// runs.
func (s *Server) wait(ctx context.Context, op string, run func(ctx context.Context) error) error {
	done := make(chan error, 1)
	s.submit(task{op: op, run: run, done: done})
	select {
	case err := <-done:
		return err
	case <-s.stopped:
		return ErrServerStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// process runs queued tasks in order until ctx is cancelled. Tasks run
// to completion with a context that is never cancelled.
func (s *Server) process(ctx context.Context) {
	defer close(s.stopped)
	taskContext := context.WithoutCancel(ctx)
	for {
		for {
			t, ok := s.tasks.pop()
			if !ok {
				break
			}
			s.execute(taskContext, t)
		}
		select {
		case <-ctx.Done():
			return
		case <-s.tasks.ready:
		}
	}
}

func (s *Server) execute(ctx context.Context, t task) {
	if t.conn != nil && t.conn.State() == StateClosed {
		s.metrics.discarded.Inc()
		if t.done != nil {
			t.done <- ErrSessionClosed
		}
		return
	}

	s.current.Store(t.conn)
	err := t.run(ctx)
	s.current.Store(nil)

	s.metrics.tasks.WithLabelValues(t.op).Inc()
	if err != nil {
		s.metrics.failures.WithLabelValues(failureKind(err)).Inc()
	}
	switch {
	case t.done != nil:
		t.done <- err
	case err == nil:
	case t.conn != nil:
		s.logger.Debug("request failed",
			"session", t.conn.SessionID(),
			"user", t.conn.User(),
			"operation", t.op,
			"error", err,
		)
		t.conn.showError(err)
	default:
		s.logger.Warn("scheduled operation failed", "operation", t.op, "error", err)
	}
}

// Current returns the connection the running task is attributed to,
// or nil for collaborator tasks and when no task is running. It is
// safe to call from any goroutine but meaningful only from inside a
// task, such as from an object's setter or an ObjectChanged listener.
func (s *Server) Current() *Connection { return s.current.Load() }

// ProcUser returns the user the running task acts for, or "" when the
// task is not attributed to a connection.
func (s *Server) ProcUser() string {
	if c := s.current.Load(); c != nil {
		return c.User()
	}
	return ""
}

// ProcAddress returns the remote address of the connection the running
// task is attributed to, or "".
func (s *Server) ProcAddress() string {
	if c := s.current.Load(); c != nil {
		return c.Address()
	}
	return ""
}

// attribution returns log attributes naming who the running task acts
// for.
func (s *Server) attribution() []any {
	c := s.current.Load()
	if c == nil {
		return []any{"user", namespace.System.String()}
	}
	return []any{"session", c.SessionID(), "user", c.User(), "address", c.Address()}
}

// failureKind buckets an error for the failures metric.
func failureKind(err error) string {
	switch {
	case errors.Is(err, namespace.ErrPermission):
		return "permission"
	case errors.Is(err, namespace.ErrNameUnknown),
		errors.Is(err, namespace.ErrNameInvalid),
		errors.Is(err, namespace.ErrNameExists):
		return "name"
	case errors.Is(err, namespace.ErrConversion),
		errors.Is(err, namespace.ErrNotGettable),
		errors.Is(err, namespace.ErrNotSettable),
		errors.Is(err, namespace.ErrNotCreatable):
		return "attribute"
	case errors.Is(err, access.ErrAuthenticationFailed),
		errors.Is(err, access.ErrDomainRejected),
		errors.Is(err, access.ErrThrottled),
		errors.Is(err, errAlreadyLogged):
		return "login"
	case errors.Is(err, errNotAuthenticated):
		return "unauthenticated"
	case errors.Is(err, message.ErrUnknownCode),
		errors.Is(err, message.ErrEmptyFrame),
		errors.Is(err, message.ErrInvalidParam),
		errors.Is(err, errBadRequest):
		return "protocol"
	default:
		return "internal"
	}
}
