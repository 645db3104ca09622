// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package access

import (
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/bureau-foundation/sonar/lib/namespace"
)

// DefaultPolicyCacheSize bounds the number of (user, base) results the
// policy keeps.
const DefaultPolicyCacheSize = 1024

type policyKey struct {
	user string
	base string
}

// Policy resolves access levels from the role, user and permission
// objects in the namespace. It implements namespace.Authorizer.
//
// A user's level on a base resource is the highest level granted by a
// permission naming the user's role and that base, provided both the
// user and the role are enabled. Results are cached until any role,
// user or permission changes.
type Policy struct {
	ns    *namespace.Namespace
	cache *lru.Cache[policyKey, namespace.AccessLevel]
}

// NewPolicy returns a policy reading from ns. A size of zero selects
// DefaultPolicyCacheSize.
func NewPolicy(ns *namespace.Namespace, size int) (*Policy, error) {
	if size <= 0 {
		size = DefaultPolicyCacheSize
	}
	cache, err := lru.New[policyKey, namespace.AccessLevel](size)
	if err != nil {
		return nil, fmt.Errorf("creating policy cache: %w", err)
	}
	return &Policy{ns: ns, cache: cache}, nil
}

// AccessLevel implements namespace.Authorizer.
func (p *Policy) AccessLevel(user, base string) namespace.AccessLevel {
	key := policyKey{user: user, base: base}
	if level, ok := p.cache.Get(key); ok {
		return level
	}
	level := p.resolve(user, base)
	p.cache.Add(key, level)
	return level
}

func (p *Policy) resolve(userName, base string) namespace.AccessLevel {
	user, _ := p.ns.LookupObject(TypeUser, userName).(*User)
	if user == nil || !user.Enabled() {
		return namespace.AccessNone
	}
	roleName := user.Role()
	role, _ := p.ns.LookupObject(TypeRole, roleName).(*Role)
	if role == nil || !role.Enabled() {
		return namespace.AccessNone
	}
	level := namespace.AccessNone
	for o := range p.ns.Iterate(TypePermission) {
		permission := o.(*Permission)
		if permission.Role() == roleName && permission.BaseResource() == base {
			level = max(level, permission.Level())
		}
	}
	// System is reserved for the server itself.
	return min(level, namespace.AccessConfigure)
}

// ObjectChanged drops cached results when o can affect them.
func (p *Policy) ObjectChanged(o namespace.Object) {
	switch o.TypeName() {
	case TypeRole, TypeUser, TypePermission:
		p.cache.Purge()
	}
}
