// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package namespace

import (
	"fmt"
	"strconv"
)

// AccessLevel is an ordered permission level. A caller holding level L
// may perform every operation requiring L or less.
type AccessLevel int

const (
	AccessNone AccessLevel = iota
	// AccessView allows enumeration, watching and reading attributes.
	AccessView
	// AccessOperate allows setting operational attributes (device
	// control).
	AccessOperate
	// AccessManage allows setting management attributes.
	AccessManage
	// AccessConfigure allows creating and removing objects and setting
	// configuration attributes.
	AccessConfigure
	// AccessSystem is never granted to users. Attributes at this level
	// are settable only by the server itself.
	AccessSystem
)

func (l AccessLevel) String() string {
	switch l {
	case AccessNone:
		return "none"
	case AccessView:
		return "view"
	case AccessOperate:
		return "operate"
	case AccessManage:
		return "manage"
	case AccessConfigure:
		return "configure"
	case AccessSystem:
		return "system"
	default:
		return "AccessLevel(" + strconv.Itoa(int(l)) + ")"
	}
}

// ParseAccessLevel accepts either a level name or its number.
func ParseAccessLevel(s string) (AccessLevel, error) {
	for level := AccessNone; level <= AccessConfigure; level++ {
		if s == level.String() {
			return level, nil
		}
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < int(AccessNone) || n > int(AccessConfigure) {
		return AccessNone, fmt.Errorf("invalid access level %q", s)
	}
	return AccessLevel(n), nil
}

// Caller identifies who is performing a namespace operation. The zero
// Caller is an anonymous user with no access.
type Caller struct {
	user   string
	system bool
}

// System is the server's own identity. It bypasses permission checks
// and may set AccessSystem attributes.
var System = Caller{system: true}

// User returns the caller identity for an authenticated user.
func User(name string) Caller { return Caller{user: name} }

// Name returns the user name, or "" for the system caller.
func (c Caller) Name() string { return c.user }

// IsSystem reports whether c is the server itself.
func (c Caller) IsSystem() bool { return c.system }

func (c Caller) String() string {
	if c.system {
		return "system"
	}
	return c.user
}

// Authorizer resolves the access level a user holds on a base
// resource (a type's permission scope).
type Authorizer interface {
	AccessLevel(user, base string) AccessLevel
}

// AuthorizerFunc adapts a function to the Authorizer interface.
type AuthorizerFunc func(user, base string) AccessLevel

func (f AuthorizerFunc) AccessLevel(user, base string) AccessLevel { return f(user, base) }

// AllowAll grants configure access to every user. Intended for tests
// and single-user development setups.
var AllowAll Authorizer = AuthorizerFunc(func(string, string) AccessLevel { return AccessConfigure })

// levelOf returns the level caller holds on base.
func (ns *Namespace) levelOf(caller Caller, base string) AccessLevel {
	if caller.system {
		return AccessSystem
	}
	ns.mu.RLock()
	authorizer := ns.authorizer
	ns.mu.RUnlock()
	if caller.user == "" || authorizer == nil {
		return AccessNone
	}
	return authorizer.AccessLevel(caller.user, base)
}

// require returns a permission error unless caller holds level on the
// base of node.
func (ns *Namespace) require(caller Caller, node *TypeNode, level AccessLevel, n string) error {
	if ns.levelOf(caller, node.base) < level {
		return &SonarError{Name: n, Err: ErrPermission}
	}
	return nil
}
