// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package access

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"os"
	"slices"

	"github.com/tidwall/jsonc"

	"github.com/bureau-foundation/sonar/lib/name"
	"github.com/bureau-foundation/sonar/lib/namespace"
)

// Seed is the bootstrap access configuration: the initial accounts a
// fresh server needs before anyone can log in to manage the rest. It is
// authored as JSONC:
//
//	{
//	  // Full control for operators in the admin role.
//	  "roles": {"admin": {"enabled": true}},
//	  "users": {"root": {"role": "admin", "enabled": true, "password": "change-me"}},
//	  "permissions": {
//	    "admin_permission": {"role": "admin", "base_resource": "permission", "access_level": "configure"},
//	  },
//	  "domains": {"local": {"block": "127.0.0.0/8", "enabled": true}},
//	}
type Seed struct {
	Roles       map[string]SeedRole       `json:"roles"`
	Users       map[string]SeedUser       `json:"users"`
	Permissions map[string]SeedPermission `json:"permissions"`
	Domains     map[string]SeedDomain     `json:"domains"`
}

type SeedRole struct {
	Enabled bool `json:"enabled"`
}

type SeedUser struct {
	FullName string `json:"full_name"`
	Role     string `json:"role"`
	Enabled  bool   `json:"enabled"`
	Password string `json:"password"`
}

type SeedPermission struct {
	Role         string `json:"role"`
	BaseResource string `json:"base_resource"`
	AccessLevel  string `json:"access_level"`
}

type SeedDomain struct {
	Block   string `json:"block"`
	Enabled bool   `json:"enabled"`
}

// ParseSeed strips JSONC comments and trailing commas from data and
// decodes the result.
func ParseSeed(data []byte) (*Seed, error) {
	var seed Seed
	if err := json.Unmarshal(jsonc.ToJSON(data), &seed); err != nil {
		return nil, fmt.Errorf("parsing seed: %w", err)
	}
	return &seed, nil
}

// LoadSeed reads and parses a JSONC seed file.
func LoadSeed(path string) (*Seed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	seed, err := ParseSeed(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return seed, nil
}

// Apply stores the seed's objects in ns if no user exists yet. It
// returns false without changes when users are already present. Any
// invalid entry aborts before anything is stored, and a failure to
// store one object removes the objects already stored.
func (s *Seed) Apply(ctx context.Context, ns *namespace.Namespace) (bool, error) {
	if ns.Count(TypeUser) > 0 {
		return false, nil
	}
	objects, err := s.build()
	if err != nil {
		return false, err
	}
	for i, o := range objects {
		if err := ns.StoreObject(ctx, o); err != nil {
			errs := []error{fmt.Errorf("storing seed object: %w", err)}
			for _, stored := range slices.Backward(objects[:i]) {
				if err := ns.DestroyObject(ctx, namespace.System, stored); err != nil {
					errs = append(errs, fmt.Errorf("undoing seed object: %w", err))
				}
			}
			return false, errors.Join(errs...)
		}
	}
	return true, nil
}

func (s *Seed) build() ([]namespace.Object, error) {
	var objects []namespace.Object
	for _, n := range slices.Sorted(maps.Keys(s.Roles)) {
		if err := validSeedName(TypeRole, n); err != nil {
			return nil, err
		}
		role := NewRole(n)
		role.SetEnabled(s.Roles[n].Enabled)
		objects = append(objects, role)
	}
	for _, n := range slices.Sorted(maps.Keys(s.Users)) {
		if err := validSeedName(TypeUser, n); err != nil {
			return nil, err
		}
		entry := s.Users[n]
		if _, ok := s.Roles[entry.Role]; !ok {
			return nil, fmt.Errorf("seed user %q: unknown role %q", n, entry.Role)
		}
		user := NewUser(n)
		user.SetFullName(entry.FullName)
		user.SetRole(entry.Role)
		user.SetEnabled(entry.Enabled)
		if err := user.SetPassword(entry.Password); err != nil {
			return nil, fmt.Errorf("seed user %q: %w", n, err)
		}
		objects = append(objects, user)
	}
	for _, n := range slices.Sorted(maps.Keys(s.Permissions)) {
		if err := validSeedName(TypePermission, n); err != nil {
			return nil, err
		}
		entry := s.Permissions[n]
		level, err := namespace.ParseAccessLevel(entry.AccessLevel)
		if err != nil {
			return nil, fmt.Errorf("seed permission %q: %w", n, err)
		}
		permission := NewPermission(n)
		permission.SetRole(entry.Role)
		permission.SetBaseResource(entry.BaseResource)
		permission.SetLevel(level)
		objects = append(objects, permission)
	}
	for _, n := range slices.Sorted(maps.Keys(s.Domains)) {
		if err := validSeedName(TypeDomain, n); err != nil {
			return nil, err
		}
		entry := s.Domains[n]
		domain := NewDomain(n)
		if err := domain.SetBlock(entry.Block); err != nil {
			return nil, fmt.Errorf("seed domain %q: %w", n, err)
		}
		domain.SetEnabled(entry.Enabled)
		objects = append(objects, domain)
	}
	return objects, nil
}

func validSeedName(typeName, n string) error {
	if !name.ValidSegment(n) {
		return fmt.Errorf("seed %s %q: invalid name", typeName, n)
	}
	return nil
}
