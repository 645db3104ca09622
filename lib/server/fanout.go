// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"github.com/bureau-foundation/sonar/lib/message"
	"github.com/bureau-foundation/sonar/lib/name"
	"github.com/bureau-foundation/sonar/lib/namespace"
)

// Watches and fan-out. A connection watches a type or a single object
// after enumerating it, until it sends IGNORE or closes. Everything in
// this file runs on the processor goroutine.

func (s *Server) watch(c *Connection, key string) {
	watchers, ok := s.watchers[key]
	if !ok {
		watchers = make(map[*Connection]struct{})
		s.watchers[key] = watchers
	}
	watchers[c] = struct{}{}
	c.watching[key] = struct{}{}
}

func (s *Server) unwatch(c *Connection, key string) {
	delete(c.watching, key)
	watchers := s.watchers[key]
	delete(watchers, c)
	if len(watchers) == 0 {
		delete(s.watchers, key)
	}
}

func (s *Server) unwatchAll(c *Connection) {
	for key := range c.watching {
		s.unwatch(c, key)
	}
}

// objectChanged runs the ObjectChanged listeners.
func (s *Server) objectChanged(o namespace.Object) {
	for _, listener := range s.listeners {
		listener(o)
	}
}

// objectAdded tells the watchers of o's type about a new object.
func (s *Server) objectAdded(o namespace.Object) {
	s.objectChanged(o)
	var frames message.Buffer
	if err := s.ns.EncodeObject(o, &frames); err != nil {
		s.logger.Error("encoding new object", "type", o.TypeName(), "object", o.ObjectName(), "error", err)
		return
	}
	s.broadcast(o.TypeName(), "", frames.Bytes())
}

// objectRemoved tells the watchers of o and of its type that o is gone,
// and drops the watches on o itself.
func (s *Server) objectRemoved(o namespace.Object) {
	s.objectChanged(o)
	key := name.Of(o.TypeName(), o.ObjectName()).String()
	var frames message.Buffer
	if err := frames.Encode(message.Remove, key); err != nil {
		s.logger.Error("encoding removal", "name", key, "error", err)
		return
	}
	s.broadcast(o.TypeName(), key, frames.Bytes())
	for c := range s.watchers[key] {
		delete(c.watching, key)
	}
	delete(s.watchers, key)
}

// attributeChanged sends the current value of one attribute of o to
// the watchers of o and of its type. Attributes that cannot be read
// are not announced.
func (s *Server) attributeChanged(o namespace.Object, attribute string) {
	s.objectChanged(o)
	node := s.ns.TypeNode(o.TypeName())
	if node == nil || !node.Gettable(attribute) {
		return
	}
	object := name.Of(o.TypeName(), o.ObjectName())
	n := object.Attribute(attribute)
	value, err := s.ns.GetAttribute(namespace.System, n)
	if err != nil {
		// Removed by the setter itself, or never stored.
		s.logger.Debug("attribute change on unreachable object", "name", n.String(), "error", err)
		return
	}
	var frames message.Buffer
	if err := frames.Encode(message.Attribute, append([]string{n.String()}, value...)...); err != nil {
		s.logger.Error("encoding attribute", "name", n.String(), "error", err)
		return
	}
	s.broadcast(o.TypeName(), object.String(), frames.Bytes())
}

// broadcast queues data on every authenticated connection watching
// typeName or objectKey that may still view the type. A connection
// watching both receives the data once.
func (s *Server) broadcast(typeName, objectKey string, data []byte) {
	sent := make(map[*Connection]struct{})
	for _, key := range []string{typeName, objectKey} {
		if key == "" {
			continue
		}
		for c := range s.watchers[key] {
			if _, done := sent[c]; done {
				continue
			}
			sent[c] = struct{}{}
			if c.State() != StateAuthenticated || !s.ns.CanView(c.caller(), typeName) {
				continue
			}
			c.send(data)
			s.metrics.notifications.Inc()
		}
	}
}
