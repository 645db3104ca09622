// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package access

import (
	"fmt"
	"net/netip"
	"sync"

	"github.com/bureau-foundation/sonar/lib/namespace"
)

// Type names of the access-control objects. All share the permission
// base, so managing them requires configure access on "permission".
const (
	TypeRole       = "role"
	TypeUser       = "user"
	TypePermission = "permission"
	TypeDomain     = "domain"

	Base = TypePermission
)

// Role groups permissions. Users hold exactly one role.
type Role struct {
	name string

	mu      sync.RWMutex
	enabled bool
}

// NewRole returns a disabled role.
func NewRole(name string) *Role { return &Role{name: name} }

func (r *Role) TypeName() string   { return TypeRole }
func (r *Role) ObjectName() string { return r.name }
func (r *Role) Destroy()           {}

func (r *Role) Enabled() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.enabled
}

func (r *Role) SetEnabled(enabled bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.enabled = enabled
}

// User is an account that may log in.
type User struct {
	name string

	mu           sync.RWMutex
	fullName     string
	role         string
	enabled      bool
	passwordHash string
}

// NewUser returns a disabled user with no role and no password.
func NewUser(name string) *User { return &User{name: name} }

func (u *User) TypeName() string   { return TypeUser }
func (u *User) ObjectName() string { return u.name }
func (u *User) Destroy()           {}

func (u *User) FullName() string {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.fullName
}

func (u *User) SetFullName(fullName string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.fullName = fullName
}

func (u *User) Role() string {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.role
}

func (u *User) SetRole(role string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.role = role
}

func (u *User) Enabled() bool {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.enabled
}

func (u *User) SetEnabled(enabled bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.enabled = enabled
}

// SetPassword hashes and stores a new password. An empty password
// clears the hash, which makes login impossible.
func (u *User) SetPassword(password string) error {
	var hash string
	if password != "" {
		var err error
		hash, err = HashPassword(password)
		if err != nil {
			return err
		}
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	u.passwordHash = hash
	return nil
}

// CheckPassword reports whether password matches the stored hash.
func (u *User) CheckPassword(password string) bool {
	u.mu.RLock()
	hash := u.passwordHash
	u.mu.RUnlock()
	if hash == "" {
		return false
	}
	return VerifyPassword(hash, password)
}

func (u *User) hash() string {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.passwordHash
}

func (u *User) setHash(hash string) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.passwordHash = hash
	return nil
}

// Permission grants a role an access level on one base resource.
type Permission struct {
	name string

	mu           sync.RWMutex
	role         string
	baseResource string
	level        namespace.AccessLevel
}

// NewPermission returns a permission granting nothing.
func NewPermission(name string) *Permission { return &Permission{name: name} }

func (p *Permission) TypeName() string   { return TypePermission }
func (p *Permission) ObjectName() string { return p.name }
func (p *Permission) Destroy()           {}

func (p *Permission) Role() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.role
}

func (p *Permission) SetRole(role string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.role = role
}

func (p *Permission) BaseResource() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.baseResource
}

func (p *Permission) SetBaseResource(base string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.baseResource = base
}

func (p *Permission) Level() namespace.AccessLevel {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.level
}

func (p *Permission) SetLevel(level namespace.AccessLevel) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.level = level
}

// Domain is a network block from which logins are accepted.
type Domain struct {
	name string

	mu      sync.RWMutex
	block   netip.Prefix
	enabled bool
}

// NewDomain returns a disabled domain with no block.
func NewDomain(name string) *Domain { return &Domain{name: name} }

func (d *Domain) TypeName() string   { return TypeDomain }
func (d *Domain) ObjectName() string { return d.name }
func (d *Domain) Destroy()           {}

func (d *Domain) Block() netip.Prefix {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.block
}

// SetBlock parses a CIDR block. The prefix is stored masked, so
// "10.1.2.3/8" becomes "10.0.0.0/8".
func (d *Domain) SetBlock(cidr string) error {
	prefix, err := netip.ParsePrefix(cidr)
	if err != nil {
		return fmt.Errorf("%w: block %q: %v", namespace.ErrConversion, cidr, err)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.block = prefix.Masked()
	return nil
}

func (d *Domain) Enabled() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.enabled
}

func (d *Domain) SetEnabled(enabled bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.enabled = enabled
}

// Contains reports whether the domain is enabled and addr falls within
// its block. IPv4-mapped IPv6 addresses match IPv4 blocks.
func (d *Domain) Contains(addr netip.Addr) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.enabled && d.block.IsValid() && d.block.Contains(addr.Unmap())
}

func blockString(d *Domain) string {
	if b := d.Block(); b.IsValid() {
		return b.String()
	}
	return ""
}

// Schemas returns the namespace schemas of the access-control types in
// dependency order: roles before the users and permissions that name
// them.
func Schemas() []namespace.Schema {
	return []namespace.Schema{
		{
			Type:       TypeRole,
			Base:       Base,
			Persistent: true,
			New:        func(n string) (namespace.Object, error) { return NewRole(n), nil },
			Attributes: []namespace.Attribute{
				namespace.Bool("enabled", (*Role).Enabled,
					func(r *Role, v bool) error { r.SetEnabled(v); return nil }),
			},
		},
		{
			Type:       TypeUser,
			Base:       Base,
			Persistent: true,
			New:        func(n string) (namespace.Object, error) { return NewUser(n), nil },
			Load:       loadUser,
			Attributes: []namespace.Attribute{
				namespace.String("fullName", (*User).FullName,
					func(u *User, v string) error { u.SetFullName(v); return nil }),
				namespace.String("role", (*User).Role,
					func(u *User, v string) error { u.SetRole(v); return nil }),
				namespace.Bool("enabled", (*User).Enabled,
					func(u *User, v bool) error { u.SetEnabled(v); return nil }),
				namespace.String("password", nil, (*User).SetPassword),
				namespace.String("passwordHash", (*User).hash, (*User).setHash).
					AsHidden().WithLevel(namespace.AccessSystem),
			},
		},
		{
			Type:       TypePermission,
			Base:       Base,
			Persistent: true,
			New:        func(n string) (namespace.Object, error) { return NewPermission(n), nil },
			Attributes: []namespace.Attribute{
				namespace.String("role", (*Permission).Role,
					func(p *Permission, v string) error { p.SetRole(v); return nil }),
				namespace.String("baseResource", (*Permission).BaseResource,
					func(p *Permission, v string) error { p.SetBaseResource(v); return nil }),
				namespace.String("accessLevel",
					func(p *Permission) string { return p.Level().String() },
					func(p *Permission, v string) error {
						level, err := namespace.ParseAccessLevel(v)
						if err != nil {
							return fmt.Errorf("%w: %v", namespace.ErrConversion, err)
						}
						p.SetLevel(level)
						return nil
					}),
			},
		},
		{
			Type:       TypeDomain,
			Base:       Base,
			Persistent: true,
			New:        func(n string) (namespace.Object, error) { return NewDomain(n), nil },
			Attributes: []namespace.Attribute{
				namespace.String("block", blockString, (*Domain).SetBlock),
				namespace.Bool("enabled", (*Domain).Enabled,
					func(d *Domain, v bool) error { d.SetEnabled(v); return nil }),
			},
		},
	}
}

// loadUser restores a user from storage. The stored hash is taken as
// is; passwords are never stored in clear.
func loadUser(n string, values map[string][]string) (namespace.Object, error) {
	u := NewUser(n)
	u.fullName = first(values["fullName"])
	u.role = first(values["role"])
	u.enabled = first(values["enabled"]) == "true"
	u.passwordHash = first(values["passwordHash"])
	return u, nil
}

func first(v []string) string {
	if len(v) == 0 {
		return ""
	}
	return v[0]
}
