// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"context"
	"errors"
	"fmt"

	"github.com/bureau-foundation/sonar/lib/access"
	"github.com/bureau-foundation/sonar/lib/message"
	"github.com/bureau-foundation/sonar/lib/name"
	"github.com/bureau-foundation/sonar/lib/namespace"
)

var (
	errBadRequest    = errors.New("bad request")
	errAlreadyLogged = errors.New("already logged in")
)

func (s *Server) submitFrame(c *Connection, frame message.Frame) {
	if frame.Code == message.Login {
		s.submitLogin(c, frame)
		return
	}
	s.submit(task{
		conn: c,
		op:   frame.Code.String(),
		run: func(ctx context.Context) error {
			return s.handleFrame(ctx, c, frame)
		},
	})
}

// submitLogin checks LOGIN(user, password) on the calling reader
// goroutine and queues a task that applies the outcome in order with
// the connection's other requests. At most one credential check per
// CPU runs at a time. The outcome is dropped if the connection closes
// before the task runs.
func (s *Server) submitLogin(c *Connection, frame message.Frame) {
	var user *access.User
	err := errAlreadyLogged
	if c.State() != StateAuthenticated {
		if err = s.logins.Acquire(context.Background(), 1); err == nil {
			user, err = s.auth.Login(frame.Param(0), frame.Param(1), c.Addr())
			s.logins.Release(1)
		}
	}
	s.submit(task{
		conn: c,
		op:   frame.Code.String(),
		run: func(context.Context) error {
			if err != nil {
				return err
			}
			return s.login(c, user)
		},
	})
}

// handleFrame runs one client request. Errors are returned to the
// client as SHOW by the processor.
func (s *Server) handleFrame(ctx context.Context, c *Connection, frame message.Frame) error {
	if frame.Code == message.Quit {
		c.close(nil)
		return nil
	}

	if c.State() != StateAuthenticated {
		return errNotAuthenticated
	}
	switch frame.Code {
	case message.Password:
		return s.changePassword(ctx, c, frame)
	case message.Enumerate:
		return s.enumerate(c, frame)
	case message.Ignore:
		return s.ignore(c, frame)
	case message.Object:
		return s.createObject(ctx, c, frame)
	case message.Remove:
		return s.removeObject(ctx, c, frame)
	case message.Attribute:
		return s.setAttribute(ctx, c, frame)
	default:
		return fmt.Errorf("%w: %s is not a client request", errBadRequest, frame.Code)
	}
}

// login marks c as logged in as user, whose credentials have already
// been checked.
func (s *Server) login(c *Connection, user *access.User) error {
	if c.State() == StateAuthenticated {
		return errAlreadyLogged
	}
	c.authenticate(user.ObjectName())
	s.logger.Info("login",
		"session", c.SessionID(),
		"user", user.ObjectName(),
		"address", c.Address(),
	)
	c.reply(message.Login, user.ObjectName())
	s.attributeChanged(c, "user")
	return nil
}

// PASSWORD(current, replacement) changes the caller's own password.
func (s *Server) changePassword(ctx context.Context, c *Connection, frame message.Frame) error {
	user := c.User()
	if err := s.auth.AuthorizePasswordChange(user, frame.Param(0), frame.Param(1)); err != nil {
		return err
	}
	n := name.Of(access.TypeUser, user).Attribute("password")
	if _, err := s.ns.SetAttribute(ctx, namespace.System, n, []string{frame.Param(1)}); err != nil {
		return err
	}
	if o := s.ns.LookupObject(access.TypeUser, user); o != nil {
		s.objectChanged(o)
	}
	s.logger.Info("password changed", s.attribution()...)
	return nil
}

// ENUMERATE(name) sends the current state of name and, for a type or
// object, keeps the connection informed of later changes.
func (s *Server) enumerate(c *Connection, frame message.Frame) error {
	n, err := parseName(frame.Param(0))
	if err != nil {
		return err
	}
	var frames message.Buffer
	if err := s.ns.Enumerate(c.caller(), n, &frames); err != nil {
		return err
	}
	if !n.IsRoot() {
		s.watch(c, n.String())
	}
	c.send(frames.Bytes())
	return nil
}

// IGNORE(name) stops change notifications for a type or object.
func (s *Server) ignore(c *Connection, frame message.Frame) error {
	n, err := parseName(frame.Param(0))
	if err != nil {
		return err
	}
	s.unwatch(c, n.String())
	return nil
}

// OBJECT(type/object) creates an object, committing the connection's
// pending object of that name if there is one.
func (s *Server) createObject(ctx context.Context, c *Connection, frame message.Frame) error {
	n, err := parseObjectName(frame.Param(0))
	if err != nil {
		return err
	}
	key := n.String()
	var o namespace.Object
	if pending, ok := c.pending[key]; ok {
		delete(c.pending, key)
		o, err = s.ns.CommitPending(ctx, c.caller(), pending)
		if err != nil {
			pending.Discard()
			return err
		}
	} else {
		o, err = s.ns.CreateObject(ctx, c.caller(), n)
		if err != nil {
			return err
		}
	}
	s.logger.Info("object created", append([]any{"name", key}, s.attribution()...)...)
	s.objectAdded(o)
	return nil
}

// REMOVE(type/object) destroys an object, or drops the connection's
// pending object of that name.
func (s *Server) removeObject(ctx context.Context, c *Connection, frame message.Frame) error {
	n, err := parseObjectName(frame.Param(0))
	if err != nil {
		return err
	}
	key := n.String()
	if pending, ok := c.pending[key]; ok {
		delete(c.pending, key)
		pending.Discard()
		return nil
	}
	o := s.ns.Lookup(n)
	if o == nil {
		if s.ns.TypeNode(n.TypePart()) == nil {
			return &namespace.NamespaceError{Kind: namespace.ErrNameUnknown, Name: n.TypePart()}
		}
		return &namespace.NamespaceError{Kind: namespace.ErrNameInvalid, Name: key}
	}
	if err := s.ns.DestroyObject(ctx, c.caller(), o); err != nil {
		return err
	}
	s.logger.Info("object removed", append([]any{"name", key}, s.attribution()...)...)
	s.objectRemoved(o)
	return nil
}

// ATTRIBUTE(type/object/attribute, values...) sets an attribute. A set
// on an object that does not exist starts a pending object held by
// this connection until it sends OBJECT or REMOVE for the name.
func (s *Server) setAttribute(ctx context.Context, c *Connection, frame message.Frame) error {
	n, err := parseName(frame.Param(0))
	if err != nil {
		return err
	}
	if !n.IsAttribute() {
		return &namespace.NamespaceError{Kind: namespace.ErrNameInvalid, Name: n.String()}
	}
	var value []string
	if len(frame.Params) > 1 {
		value = frame.Params[1:]
	}

	objectKey := n.Object().String()
	if pending, ok := c.pending[objectKey]; ok {
		return s.ns.SetPendingAttribute(c.caller(), pending, n.AttributePart(), value)
	}
	pending, err := s.ns.SetAttribute(ctx, c.caller(), n, value)
	if err != nil {
		return err
	}
	if pending != nil {
		c.pending[objectKey] = pending
		return nil
	}
	s.logger.Debug("attribute set", append([]any{"name", n.String()}, s.attribution()...)...)
	if o := s.ns.Lookup(n.Object()); o != nil {
		s.attributeChanged(o, n.AttributePart())
	}
	return nil
}

func parseName(s string) (name.Name, error) {
	n, err := name.Parse(s)
	if err != nil {
		return name.Name{}, &namespace.NamespaceError{Kind: namespace.ErrNameInvalid, Name: s}
	}
	return n, nil
}

func parseObjectName(s string) (name.Name, error) {
	n, err := parseName(s)
	if err != nil {
		return n, err
	}
	if !n.IsObject() {
		return name.Name{}, &namespace.NamespaceError{Kind: namespace.ErrNameInvalid, Name: s}
	}
	return n, nil
}
