// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package namespace implements the typed object registry served by
// SONAR.
//
// The namespace maps names of the form type/object/attribute to live
// objects. Each type is registered once with a [Schema] listing its
// attributes and their string-list accessors; objects are then stored,
// looked up, enumerated and removed by name. Every client-facing
// operation takes a [Caller] and checks the caller's [AccessLevel] on
// the type's base resource before touching any object.
//
// Persistent types report creations, attribute writes and removals to
// a [Persister]. A failed persist rolls the in-memory change back, so
// memory never diverges from storage.
//
// A set on an object that does not exist yet produces a [Pending]
// object: a phantom instance that accumulates attribute values until
// the client commits it by creating the object. The namespace does not
// track pending objects; the caller owns them.
//
// All methods are safe for concurrent use.
package namespace

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"slices"
	"sync"

	"github.com/bureau-foundation/sonar/lib/message"
	"github.com/bureau-foundation/sonar/lib/name"
)

// Persister receives changes to objects of persistent types. All
// methods are called synchronously from the mutating operation; an
// error aborts the operation and rolls back the in-memory change.
type Persister interface {
	Create(ctx context.Context, typeName, objectName string, values map[string][]string) error
	Update(ctx context.Context, typeName, objectName, attribute string, value []string) error
	Destroy(ctx context.Context, typeName, objectName string) error
}

// Options configures a Namespace.
type Options struct {
	// Persister receives changes to persistent types. Nil disables
	// persistence.
	Persister Persister

	// Authorizer resolves user access levels. Nil denies every user
	// caller; only System may act.
	Authorizer Authorizer

	Logger *slog.Logger
}

// Namespace is the registry of types and their objects.
type Namespace struct {
	persister  Persister
	authorizer Authorizer
	logger     *slog.Logger

	mu    sync.RWMutex
	types map[string]*TypeNode
}

// New returns an empty namespace.
func New(options Options) *Namespace {
	logger := options.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Namespace{
		persister:  options.Persister,
		authorizer: options.Authorizer,
		logger:     logger,
		types:      make(map[string]*TypeNode),
	}
}

// SetAuthorizer replaces the authorizer. The access layer is itself
// built on the namespace, so it is installed after its types are
// registered.
func (ns *Namespace) SetAuthorizer(a Authorizer) {
	ns.mu.Lock()
	defer ns.mu.Unlock()
	ns.authorizer = a
}

// RegisterType adds a type and returns its node. Registering a type
// name that is already present returns the existing node unchanged. A
// malformed schema returns a *ConfigurationError.
func (ns *Namespace) RegisterType(schema Schema) (*TypeNode, error) {
	schema, err := schema.validate()
	if err != nil {
		return nil, err
	}
	ns.mu.Lock()
	defer ns.mu.Unlock()
	if node, exists := ns.types[schema.Type]; exists {
		return node, nil
	}
	node := newTypeNode(schema)
	ns.types[schema.Type] = node
	return node, nil
}

// TypeNode returns the node for typeName, or nil.
func (ns *Namespace) TypeNode(typeName string) *TypeNode {
	ns.mu.RLock()
	defer ns.mu.RUnlock()
	return ns.types[typeName]
}

// Types returns the registered type names in sorted order.
func (ns *Namespace) Types() []string {
	ns.mu.RLock()
	names := make([]string, 0, len(ns.types))
	for t := range ns.types {
		names = append(names, t)
	}
	ns.mu.RUnlock()
	slices.Sort(names)
	return names
}

// BaseType returns the permission scope of typeName.
func (ns *Namespace) BaseType(typeName string) (string, bool) {
	node := ns.TypeNode(typeName)
	if node == nil {
		return "", false
	}
	return node.base, true
}

// Count returns the number of objects of typeName.
func (ns *Namespace) Count(typeName string) int {
	node := ns.TypeNode(typeName)
	if node == nil {
		return 0
	}
	return node.Count()
}

// LookupObject returns the object typeName/objectName, or nil.
func (ns *Namespace) LookupObject(typeName, objectName string) Object {
	node := ns.TypeNode(typeName)
	if node == nil {
		return nil
	}
	if e := node.lookup(objectName); e != nil {
		return e.object
	}
	return nil
}

// Lookup returns the object addressed by n, which must be an object
// name, or nil.
func (ns *Namespace) Lookup(n name.Name) Object {
	if !n.IsObject() {
		return nil
	}
	return ns.LookupObject(n.TypePart(), n.ObjectPart())
}

// Iterate yields the objects of typeName present when Iterate is
// called, in name order. Objects added or removed during iteration
// do not affect the sequence.
func (ns *Namespace) Iterate(typeName string) iter.Seq[Object] {
	node := ns.TypeNode(typeName)
	var entries []*entry
	if node != nil {
		entries = node.snapshot()
	}
	return func(yield func(Object) bool) {
		for _, e := range entries {
			if !yield(e.object) {
				return
			}
		}
	}
}

// Level returns the access level caller holds on typeName's base.
func (ns *Namespace) Level(caller Caller, typeName string) AccessLevel {
	node := ns.TypeNode(typeName)
	if node == nil {
		return AccessNone
	}
	return ns.levelOf(caller, node.base)
}

// CanView reports whether caller may read objects of typeName.
func (ns *Namespace) CanView(caller Caller, typeName string) bool {
	return ns.Level(caller, typeName) >= AccessView
}

// AddObject stores o without persisting it. It fails if the type is
// unknown or the name is taken.
func (ns *Namespace) AddObject(o Object) error {
	node, err := ns.nodeFor(o)
	if err != nil {
		return err
	}
	if !node.add(o) {
		return nameExists(objectName(o))
	}
	return nil
}

// RemoveObject removes o without persisting the removal and without
// destroying it. It fails unless o itself is stored under its name.
func (ns *Namespace) RemoveObject(o Object) error {
	node, err := ns.nodeFor(o)
	if err != nil {
		return err
	}
	if !node.remove(o) {
		return nameInvalid(objectName(o))
	}
	return nil
}

// StoreObject adds o and, for persistent types, persists it. If
// persisting fails the object is removed again and the error returned.
func (ns *Namespace) StoreObject(ctx context.Context, o Object) error {
	node, err := ns.nodeFor(o)
	if err != nil {
		return err
	}
	if !node.add(o) {
		return nameExists(objectName(o))
	}
	if !node.schema.Persistent || ns.persister == nil {
		return nil
	}
	values := node.persistedValues(node.lookup(o.ObjectName()))
	if err := ns.persister.Create(ctx, node.Name(), o.ObjectName(), values); err != nil {
		node.remove(o)
		return fmt.Errorf("persisting %s: %w", objectName(o), err)
	}
	return nil
}

// Restore rebuilds a persisted object from stored values and adds it
// without persisting. Used when loading storage at startup.
func (ns *Namespace) Restore(typeName, objectName string, values map[string][]string) (Object, error) {
	node := ns.TypeNode(typeName)
	if node == nil {
		return nil, nameUnknown(typeName)
	}
	n, err := name.New(typeName, objectName, "")
	if err != nil {
		return nil, nameInvalid(typeName + name.Separator + objectName)
	}
	var o Object
	if node.schema.Load != nil {
		o, err = node.schema.Load(objectName, values)
		if err != nil {
			return nil, fmt.Errorf("loading %s: %w", n, err)
		}
	} else {
		o, err = node.schema.New(objectName)
		if err != nil {
			return nil, fmt.Errorf("loading %s: %w", n, err)
		}
		for _, a := range node.schema.Attributes {
			value, ok := values[a.Name]
			if !ok || a.Set == nil {
				continue
			}
			if err := a.Set(o, value); err != nil {
				return nil, fmt.Errorf("loading %s: %w", n.Attribute(a.Name), err)
			}
		}
	}
	if !node.add(o) {
		return nil, nameExists(n.String())
	}
	return o, nil
}

// CreateObject creates an object on behalf of caller. n must address
// an object that does not exist yet.
func (ns *Namespace) CreateObject(ctx context.Context, caller Caller, n name.Name) (Object, error) {
	if !n.IsObject() {
		return nil, nameInvalid(n.String())
	}
	node := ns.TypeNode(n.TypePart())
	if node == nil {
		return nil, nameUnknown(n.TypePart())
	}
	if err := ns.require(caller, node, AccessConfigure, n.String()); err != nil {
		return nil, err
	}
	if node.lookup(n.ObjectPart()) != nil {
		return nil, nameExists(n.String())
	}
	o, err := ns.instantiate(node, n)
	if err != nil {
		return nil, err
	}
	if err := ns.StoreObject(ctx, o); err != nil {
		return nil, err
	}
	return o, nil
}

// DestroyObject removes o on behalf of caller, persists the removal,
// and calls o.Destroy.
func (ns *Namespace) DestroyObject(ctx context.Context, caller Caller, o Object) error {
	node, err := ns.nodeFor(o)
	if err != nil {
		return err
	}
	if err := ns.require(caller, node, AccessConfigure, objectName(o)); err != nil {
		return err
	}
	if !node.remove(o) {
		return nameInvalid(objectName(o))
	}
	if node.schema.Persistent && ns.persister != nil {
		if err := ns.persister.Destroy(ctx, node.Name(), o.ObjectName()); err != nil {
			node.add(o)
			return fmt.Errorf("persisting removal of %s: %w", objectName(o), err)
		}
	}
	o.Destroy()
	return nil
}

// GetAttribute reads the attribute addressed by n.
func (ns *Namespace) GetAttribute(caller Caller, n name.Name) ([]string, error) {
	if !n.IsAttribute() {
		return nil, nameInvalid(n.String())
	}
	node := ns.TypeNode(n.TypePart())
	if node == nil {
		return nil, nameUnknown(n.TypePart())
	}
	if err := ns.require(caller, node, AccessView, n.String()); err != nil {
		return nil, err
	}
	e := node.lookup(n.ObjectPart())
	if e == nil {
		return nil, nameInvalid(n.ObjectName())
	}
	a, ok := node.attributes[n.AttributePart()]
	if !ok {
		return nil, nameUnknown(n.String())
	}
	if !a.gettable() {
		return nil, &SonarError{Name: n.String(), Err: ErrNotGettable}
	}
	return e.get(a), nil
}

// SetAttribute writes the attribute addressed by n. If the object does
// not exist, the value is applied to a new phantom object which is
// returned for the caller to keep; a nil Pending means an existing
// object was updated.
func (ns *Namespace) SetAttribute(ctx context.Context, caller Caller, n name.Name, value []string) (*Pending, error) {
	if !n.IsAttribute() {
		return nil, nameInvalid(n.String())
	}
	node := ns.TypeNode(n.TypePart())
	if node == nil {
		return nil, nameUnknown(n.TypePart())
	}
	a, ok := node.attributes[n.AttributePart()]
	if !ok {
		return nil, nameUnknown(n.String())
	}
	if !a.settable() {
		return nil, &SonarError{Name: n.String(), Err: ErrNotSettable}
	}

	e := node.lookup(n.ObjectPart())
	if e == nil {
		// Populating a phantom is the first step of a create.
		if err := ns.require(caller, node, max(AccessConfigure, a.setLevel()), n.String()); err != nil {
			return nil, err
		}
		o, err := ns.instantiate(node, n.Object())
		if err != nil {
			return nil, err
		}
		pending := &Pending{name: n.Object(), node: node, entry: &entry{object: o}}
		if err := pending.apply(a, value, n); err != nil {
			o.Destroy()
			return nil, err
		}
		return pending, nil
	}

	if err := ns.require(caller, node, a.setLevel(), n.String()); err != nil {
		return nil, err
	}
	if !node.schema.Persistent || ns.persister == nil {
		if err := e.set(a, value); err != nil {
			return nil, setError(n, err)
		}
		return nil, nil
	}

	// A setter may change more than its own attribute (a write-only
	// password updates a hidden hash), so persist every persisted
	// value that differs afterwards.
	before := node.persistedValues(e)
	if err := e.set(a, value); err != nil {
		return nil, setError(n, err)
	}
	after := node.persistedValues(e)
	for _, changed := range node.schema.Attributes {
		previous, ok := before[changed.Name]
		if !ok || slices.Equal(previous, after[changed.Name]) {
			continue
		}
		err := ns.persister.Update(ctx, node.Name(), n.ObjectPart(), changed.Name, after[changed.Name])
		if err != nil {
			ns.restore(node, e, before, after)
			return nil, fmt.Errorf("persisting %s: %w", n.Object().Attribute(changed.Name), err)
		}
	}
	return nil, nil
}

// restore writes back the values in before that differ from after,
// through each attribute's setter.
func (ns *Namespace) restore(node *TypeNode, e *entry, before, after map[string][]string) {
	for _, a := range node.schema.Attributes {
		previous, ok := before[a.Name]
		if !ok || a.Set == nil || slices.Equal(previous, after[a.Name]) {
			continue
		}
		if err := e.set(a, previous); err != nil {
			ns.logger.Error("restoring attribute after failed persist",
				"name", name.Of(node.Name(), e.object.ObjectName()).Attribute(a.Name).String(),
				"error", err,
			)
		}
	}
}

// Enumerate writes the frames describing n to enc.
//
// For the root it writes TYPE(""), then TYPE(t) for each registered
// type, then a closing TYPE(). For a type it writes TYPE(t), every
// object of the type with its readable attributes, and TYPE(). For an
// object it writes the same framing around that single object.
func (ns *Namespace) Enumerate(caller Caller, n name.Name, enc message.Encoder) error {
	if n.IsRoot() {
		if err := enc.Encode(message.Type, ""); err != nil {
			return err
		}
		for _, t := range ns.Types() {
			if err := enc.Encode(message.Type, t); err != nil {
				return err
			}
		}
		return enc.Encode(message.Type)
	}
	if n.IsAttribute() {
		return nameInvalid(n.String())
	}
	node := ns.TypeNode(n.TypePart())
	if node == nil {
		return nameUnknown(n.TypePart())
	}
	if err := ns.require(caller, node, AccessView, n.String()); err != nil {
		return err
	}
	var entries []*entry
	if n.IsObject() {
		e := node.lookup(n.ObjectPart())
		if e == nil {
			return nameInvalid(n.String())
		}
		entries = []*entry{e}
	} else {
		entries = node.snapshot()
	}
	if err := enc.Encode(message.Type, node.Name()); err != nil {
		return err
	}
	for _, e := range entries {
		if err := encodeEntry(node, e, enc); err != nil {
			return err
		}
	}
	return enc.Encode(message.Type)
}

// EncodeObject writes OBJECT(type/object) followed by an ATTRIBUTE
// frame for each readable attribute of o. It performs no access check.
func (ns *Namespace) EncodeObject(o Object, enc message.Encoder) error {
	node, err := ns.nodeFor(o)
	if err != nil {
		return err
	}
	e := node.lookup(o.ObjectName())
	if e == nil || e.object != o {
		e = &entry{object: o}
	}
	return encodeEntry(node, e, enc)
}

func encodeEntry(node *TypeNode, e *entry, enc message.Encoder) error {
	object := name.Of(node.Name(), e.object.ObjectName())
	if err := enc.Encode(message.Object, object.String()); err != nil {
		return err
	}
	for _, a := range node.schema.Attributes {
		if !a.gettable() {
			continue
		}
		params := append([]string{object.Attribute(a.Name).String()}, e.get(a)...)
		if err := enc.Encode(message.Attribute, params...); err != nil {
			return err
		}
	}
	return nil
}

func (ns *Namespace) nodeFor(o Object) (*TypeNode, error) {
	node := ns.TypeNode(o.TypeName())
	if node == nil {
		return nil, nameUnknown(o.TypeName())
	}
	if !name.ValidSegment(o.ObjectName()) {
		return nil, nameInvalid(objectName(o))
	}
	return node, nil
}

func (ns *Namespace) instantiate(node *TypeNode, n name.Name) (Object, error) {
	if node.schema.New == nil {
		return nil, &SonarError{Name: n.String(), Err: ErrNotCreatable}
	}
	o, err := node.schema.New(n.ObjectPart())
	if err != nil {
		return nil, fmt.Errorf("creating %s: %w", n, err)
	}
	return o, nil
}

// setError tags a setter failure with the attribute name, preserving
// any sentinel the setter wrapped.
func setError(n name.Name, err error) error {
	return &SonarError{Name: n.String(), Err: err}
}

func objectName(o Object) string {
	return o.TypeName() + name.Separator + o.ObjectName()
}
