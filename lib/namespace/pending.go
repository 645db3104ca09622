// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package namespace

import (
	"context"

	"github.com/bureau-foundation/sonar/lib/message"
	"github.com/bureau-foundation/sonar/lib/name"
)

// Pending is a phantom object: an instance built by a set on a name
// that does not exist yet. It is invisible to other clients until
// committed with CommitPending.
//
// A Pending is not safe for concurrent use. The server keeps pending
// objects per connection and touches them only from its processor.
type Pending struct {
	name    name.Name
	node    *TypeNode
	entry   *entry
	applied []string
}

// Name returns the object-level name the pending object will take.
func (p *Pending) Name() name.Name { return p.name }

// Object returns the phantom instance.
func (p *Pending) Object() Object { return p.entry.object }

// Applied returns the attributes set so far, in order. An attribute
// set twice appears once, at its first position.
func (p *Pending) Applied() []string { return p.applied }

// Discard destroys the phantom without storing it.
func (p *Pending) Discard() { p.entry.object.Destroy() }

func (p *Pending) apply(a Attribute, value []string, n name.Name) error {
	if err := p.entry.set(a, value); err != nil {
		return setError(n, err)
	}
	for _, applied := range p.applied {
		if applied == a.Name {
			return nil
		}
	}
	p.applied = append(p.applied, a.Name)
	return nil
}

// SetPendingAttribute applies a further value to a phantom object.
func (ns *Namespace) SetPendingAttribute(caller Caller, p *Pending, attribute string, value []string) error {
	n := p.name.Attribute(attribute)
	a, ok := p.node.attributes[attribute]
	if !ok {
		return nameUnknown(n.String())
	}
	if !a.settable() {
		return &SonarError{Name: n.String(), Err: ErrNotSettable}
	}
	if err := ns.require(caller, p.node, max(AccessConfigure, a.setLevel()), n.String()); err != nil {
		return err
	}
	return p.apply(a, value, n)
}

// CommitPending stores the phantom as a real object. It fails with
// ErrNameExists if another object took the name in the meantime, in
// which case p stays pending and may still be discarded.
func (ns *Namespace) CommitPending(ctx context.Context, caller Caller, p *Pending) (Object, error) {
	if err := ns.require(caller, p.node, AccessConfigure, p.name.String()); err != nil {
		return nil, err
	}
	if err := ns.StoreObject(ctx, p.entry.object); err != nil {
		return nil, err
	}
	return p.entry.object, nil
}

// EncodePending writes the frames for a phantom object in the same
// form as EncodeObject.
func (ns *Namespace) EncodePending(p *Pending, enc message.Encoder) error {
	return encodeEntry(p.node, p.entry, enc)
}
