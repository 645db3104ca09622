// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package namespace

import (
	"slices"
	"sync"
)

// TypeNode is the registry entry for one type: its schema and the
// objects currently stored under it.
//
// The node lock guards only the object map. Each object has its own
// lock, held for reading while a getter runs and for writing while a
// setter runs, so accessors on different objects never contend.
type TypeNode struct {
	schema     Schema
	base       string
	attributes map[string]Attribute

	mu      sync.RWMutex
	objects map[string]*entry
}

type entry struct {
	mu     sync.RWMutex
	object Object
}

func newTypeNode(schema Schema) *TypeNode {
	attributes := make(map[string]Attribute, len(schema.Attributes))
	for _, a := range schema.Attributes {
		attributes[a.Name] = a
	}
	return &TypeNode{
		schema:     schema,
		base:       schema.Base,
		attributes: attributes,
		objects:    make(map[string]*entry),
	}
}

// Name returns the type name.
func (n *TypeNode) Name() string { return n.schema.Type }

// Base returns the permission scope of the type.
func (n *TypeNode) Base() string { return n.base }

// Persistent reports whether the type is persisted.
func (n *TypeNode) Persistent() bool { return n.schema.Persistent }

// Creatable reports whether clients may create objects of this type.
func (n *TypeNode) Creatable() bool { return n.schema.New != nil }

// Count returns the number of stored objects.
func (n *TypeNode) Count() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.objects)
}

// Attributes returns the names of all client-visible attributes in
// declaration order.
func (n *TypeNode) Attributes() []string {
	var names []string
	for _, a := range n.schema.Attributes {
		if !a.Hidden {
			names = append(names, a.Name)
		}
	}
	return names
}

// Gettable reports whether a client may read attr.
func (n *TypeNode) Gettable(attr string) bool {
	a, ok := n.attributes[attr]
	return ok && a.gettable()
}

// Settable reports whether attr has a setter.
func (n *TypeNode) Settable(attr string) bool {
	a, ok := n.attributes[attr]
	return ok && a.settable()
}

func (n *TypeNode) lookup(objectName string) *entry {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.objects[objectName]
}

func (n *TypeNode) add(o Object) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, exists := n.objects[o.ObjectName()]; exists {
		return false
	}
	n.objects[o.ObjectName()] = &entry{object: o}
	return true
}

// remove deletes o if it is the object stored under its name.
func (n *TypeNode) remove(o Object) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	e, ok := n.objects[o.ObjectName()]
	if !ok || e.object != o {
		return false
	}
	delete(n.objects, o.ObjectName())
	return true
}

// snapshot returns the stored entries ordered by object name.
func (n *TypeNode) snapshot() []*entry {
	n.mu.RLock()
	entries := make([]*entry, 0, len(n.objects))
	for _, e := range n.objects {
		entries = append(entries, e)
	}
	n.mu.RUnlock()
	slices.SortFunc(entries, func(a, b *entry) int {
		switch x, y := a.object.ObjectName(), b.object.ObjectName(); {
		case x < y:
			return -1
		case x > y:
			return 1
		}
		return 0
	})
	return entries
}

func (e *entry) get(a Attribute) []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return a.Get(e.object)
}

func (e *entry) set(a Attribute, value []string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return a.Set(e.object, value)
}

// persistedValues reads every attribute with a getter, hidden ones
// included, for handing to the Persister.
func (n *TypeNode) persistedValues(e *entry) map[string][]string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	values := make(map[string][]string, len(n.schema.Attributes))
	for _, a := range n.schema.Attributes {
		if a.Get != nil {
			values[a.Name] = a.Get(e.object)
		}
	}
	return values
}
