// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package access_test

import (
	"context"
	"errors"
	"net/netip"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/bureau-foundation/sonar/lib/access"
	"github.com/bureau-foundation/sonar/lib/clock"
	"github.com/bureau-foundation/sonar/lib/name"
	"github.com/bureau-foundation/sonar/lib/namespace"
)

const testSeed = `{
	// Operators may run devices; admins manage everything.
	"roles": {
		"admin": {"enabled": true},
		"operator": {"enabled": true},
		"retired": {"enabled": false},
	},
	"users": {
		"alice": {"full_name": "Alice", "role": "admin", "enabled": true, "password": "wonderland"},
		"bob": {"role": "operator", "enabled": true, "password": "builder"},
		"carol": {"role": "operator", "enabled": false, "password": "singer"},
		"dave": {"role": "retired", "enabled": true, "password": "diver"},
	},
	"permissions": {
		"admin_permission": {"role": "admin", "base_resource": "permission", "access_level": "configure"},
		"admin_device": {"role": "admin", "base_resource": "device", "access_level": "configure"},
		"operator_view": {"role": "operator", "base_resource": "device", "access_level": "view"},
		"operator_run": {"role": "operator", "base_resource": "device", "access_level": "operate"},
		"retired_device": {"role": "retired", "base_resource": "device", "access_level": "configure"},
	},
}`

type fixture struct {
	ns     *namespace.Namespace
	policy *access.Policy
	auth   *access.Authenticator
	clock  *clock.FakeClock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ns := namespace.New(namespace.Options{})
	if err := access.Register(ns); err != nil {
		t.Fatalf("Register: %v", err)
	}
	policy, err := access.NewPolicy(ns, 0)
	if err != nil {
		t.Fatalf("NewPolicy: %v", err)
	}
	ns.SetAuthorizer(policy)

	seed, err := access.ParseSeed([]byte(testSeed))
	if err != nil {
		t.Fatalf("ParseSeed: %v", err)
	}
	applied, err := seed.Apply(context.Background(), ns)
	if err != nil || !applied {
		t.Fatalf("Apply: applied=%v err=%v", applied, err)
	}

	fake := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	auth, err := access.NewAuthenticator(ns, access.AuthenticatorConfig{
		FailureInterval: time.Minute,
		FailureBurst:    3,
		Clock:           fake,
	})
	if err != nil {
		t.Fatalf("NewAuthenticator: %v", err)
	}
	return &fixture{ns: ns, policy: policy, auth: auth, clock: fake}
}

var loopback = netip.MustParseAddr("127.0.0.1")

func TestPolicyLevels(t *testing.T) {
	f := newFixture(t)
	tests := []struct {
		user string
		base string
		want namespace.AccessLevel
	}{
		{"alice", "device", namespace.AccessConfigure},
		{"alice", "permission", namespace.AccessConfigure},
		{"bob", "device", namespace.AccessOperate},
		{"bob", "permission", namespace.AccessNone},
		{"carol", "device", namespace.AccessNone},
		{"dave", "device", namespace.AccessNone},
		{"nobody", "device", namespace.AccessNone},
	}
	for _, test := range tests {
		if got := f.policy.AccessLevel(test.user, test.base); got != test.want {
			t.Errorf("AccessLevel(%s, %s) = %v, want %v", test.user, test.base, got, test.want)
		}
	}
}

func TestPolicyCachePurgedOnChange(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if got := f.policy.AccessLevel("bob", "device"); got != namespace.AccessOperate {
		t.Fatalf("bob level = %v", got)
	}

	if _, err := f.ns.SetAttribute(ctx, namespace.User("alice"), name.MustParse("user/bob/enabled"), []string{"false"}); err != nil {
		t.Fatalf("SetAttribute: %v", err)
	}
	// Still cached until the change is reported.
	if got := f.policy.AccessLevel("bob", "device"); got != namespace.AccessOperate {
		t.Fatalf("bob level before purge = %v", got)
	}
	f.policy.ObjectChanged(f.ns.LookupObject(access.TypeUser, "bob"))
	if got := f.policy.AccessLevel("bob", "device"); got != namespace.AccessNone {
		t.Errorf("bob level after disable = %v, want none", got)
	}
}

func TestLogin(t *testing.T) {
	f := newFixture(t)
	user, err := f.auth.Login("alice", "wonderland", loopback)
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if user.ObjectName() != "alice" || user.FullName() != "Alice" {
		t.Errorf("user = %s (%s)", user.ObjectName(), user.FullName())
	}

	for i, test := range []struct{ user, password string }{
		{"alice", "wrong"},
		{"nobody", "wonderland"},
		{"carol", "singer"},
		{"dave", "diver"},
	} {
		// A fresh address per attempt keeps throttling out of the way.
		addr := netip.AddrFrom4([4]byte{10, 0, 0, byte(i + 1)})
		if _, err := f.auth.Login(test.user, test.password, addr); !errors.Is(err, access.ErrAuthenticationFailed) {
			t.Errorf("Login(%s): error = %v, want ErrAuthenticationFailed", test.user, err)
		}
	}
}

func TestLoginDomainRestriction(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	outside := netip.MustParseAddr("192.168.1.20")

	// No domains configured: every address may log in.
	if _, err := f.auth.Login("bob", "builder", outside); err != nil {
		t.Fatalf("Login without domains: %v", err)
	}

	domain := access.NewDomain("office")
	if err := domain.SetBlock("10.1.2.3/16"); err != nil {
		t.Fatalf("SetBlock: %v", err)
	}
	domain.SetEnabled(true)
	if err := f.ns.StoreObject(ctx, domain); err != nil {
		t.Fatalf("StoreObject: %v", err)
	}
	if got := domain.Block().String(); got != "10.1.0.0/16" {
		t.Errorf("block = %s, want masked 10.1.0.0/16", got)
	}

	if _, err := f.auth.Login("bob", "builder", outside); !errors.Is(err, access.ErrDomainRejected) {
		t.Errorf("outside login: error = %v, want ErrDomainRejected", err)
	}
	if _, err := f.auth.Login("bob", "builder", netip.MustParseAddr("10.1.200.7")); err != nil {
		t.Errorf("inside login: %v", err)
	}
	mapped := netip.AddrFrom16(netip.MustParseAddr("10.1.0.9").As16())
	if _, err := f.auth.Login("bob", "builder", mapped); err != nil {
		t.Errorf("IPv4-mapped login: %v", err)
	}

	domain.SetEnabled(false)
	if _, err := f.auth.Login("bob", "builder", netip.MustParseAddr("10.1.200.7")); !errors.Is(err, access.ErrDomainRejected) {
		t.Errorf("disabled domain: error = %v, want ErrDomainRejected", err)
	}
}

func TestLoginThrottling(t *testing.T) {
	f := newFixture(t)
	attacker := netip.MustParseAddr("203.0.113.9")
	for range 3 {
		if _, err := f.auth.Login("alice", "guess", attacker); !errors.Is(err, access.ErrAuthenticationFailed) {
			t.Fatalf("failed login: error = %v", err)
		}
	}
	if _, err := f.auth.Login("alice", "wonderland", attacker); !errors.Is(err, access.ErrThrottled) {
		t.Fatalf("login after burst: error = %v, want ErrThrottled", err)
	}
	// Other addresses are unaffected.
	if _, err := f.auth.Login("alice", "wonderland", loopback); err != nil {
		t.Fatalf("login from another address: %v", err)
	}

	f.clock.Advance(time.Minute)
	if _, err := f.auth.Login("alice", "wonderland", attacker); err != nil {
		t.Errorf("login after the interval: %v", err)
	}
}

func TestAuthorizePasswordChange(t *testing.T) {
	f := newFixture(t)
	if err := f.auth.AuthorizePasswordChange("bob", "builder", "fixer"); err != nil {
		t.Errorf("AuthorizePasswordChange: %v", err)
	}
	if err := f.auth.AuthorizePasswordChange("bob", "wrong", "fixer"); !errors.Is(err, access.ErrAuthenticationFailed) {
		t.Errorf("wrong current password: error = %v", err)
	}
	if err := f.auth.AuthorizePasswordChange("bob", "builder", ""); !errors.Is(err, namespace.ErrConversion) {
		t.Errorf("empty replacement: error = %v", err)
	}
}

func TestSeedAppliedOnce(t *testing.T) {
	f := newFixture(t)
	seed, err := access.ParseSeed([]byte(`{"roles": {"extra": {"enabled": true}}}`))
	if err != nil {
		t.Fatalf("ParseSeed: %v", err)
	}
	applied, err := seed.Apply(context.Background(), f.ns)
	if err != nil || applied {
		t.Errorf("Apply on populated namespace = %v, %v; want false, nil", applied, err)
	}
	if f.ns.LookupObject(access.TypeRole, "extra") != nil {
		t.Error("seed applied over existing users")
	}
}

func TestSeedRejectsInvalidEntries(t *testing.T) {
	tests := []struct {
		name string
		seed string
	}{
		{"unknown role", `{"users": {"u": {"role": "missing"}}}`},
		{"bad level", `{"permissions": {"p": {"role": "r", "base_resource": "x", "access_level": "godlike"}}}`},
		{"bad block", `{"domains": {"d": {"block": "not-a-cidr"}}}`},
		{"bad name", `{"roles": {"a/b": {}}}`},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			ns := namespace.New(namespace.Options{})
			if err := access.Register(ns); err != nil {
				t.Fatalf("Register: %v", err)
			}
			seed, err := access.ParseSeed([]byte(test.seed))
			if err != nil {
				t.Fatalf("ParseSeed: %v", err)
			}
			if _, err := seed.Apply(context.Background(), ns); err == nil {
				t.Error("Apply succeeded")
			}
			if len(slices.Collect(ns.Iterate(access.TypeRole))) != 0 {
				t.Error("partial seed stored")
			}
		})
	}
}

// failingPersister refuses to create one object and records removals.
type failingPersister struct {
	refuse    string
	destroyed []string
}

func (p *failingPersister) Create(_ context.Context, typeName, objectName string, _ map[string][]string) error {
	if typeName+"/"+objectName == p.refuse {
		return errors.New("disk full")
	}
	return nil
}

func (p *failingPersister) Update(context.Context, string, string, string, []string) error {
	return nil
}

func (p *failingPersister) Destroy(_ context.Context, typeName, objectName string) error {
	p.destroyed = append(p.destroyed, typeName+"/"+objectName)
	return nil
}

func TestSeedUndoneWhenStoringFails(t *testing.T) {
	persister := &failingPersister{refuse: "user/bob"}
	ns := namespace.New(namespace.Options{Persister: persister})
	if err := access.Register(ns); err != nil {
		t.Fatalf("Register: %v", err)
	}
	seed, err := access.ParseSeed([]byte(`{
		"roles": {"admin": {"enabled": true}},
		"users": {
			"alice": {"role": "admin", "enabled": true, "password": "wonderland"},
			"bob": {"role": "admin", "enabled": true, "password": "builder"},
		},
	}`))
	if err != nil {
		t.Fatalf("ParseSeed: %v", err)
	}

	applied, err := seed.Apply(context.Background(), ns)
	if applied || err == nil || !strings.Contains(err.Error(), "disk full") {
		t.Fatalf("Apply = %v, %v; want false and the storage error", applied, err)
	}
	if n := ns.Count(access.TypeRole) + ns.Count(access.TypeUser); n != 0 {
		t.Errorf("%d seed objects left after a failed Apply", n)
	}
	if want := []string{"user/alice", "role/admin"}; !slices.Equal(persister.destroyed, want) {
		t.Errorf("destroyed = %q, want %q", persister.destroyed, want)
	}
}

func TestUserPasswordAttributes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := namespace.User("alice")

	if _, err := f.ns.GetAttribute(alice, name.MustParse("user/bob/password")); !errors.Is(err, namespace.ErrNotGettable) {
		t.Errorf("get password: error = %v, want ErrNotGettable", err)
	}
	if _, err := f.ns.GetAttribute(alice, name.MustParse("user/bob/passwordHash")); !errors.Is(err, namespace.ErrNotGettable) {
		t.Errorf("get passwordHash: error = %v, want ErrNotGettable", err)
	}
	if _, err := f.ns.SetAttribute(ctx, alice, name.MustParse("user/bob/password"), []string{"fixer"}); err != nil {
		t.Fatalf("set password: %v", err)
	}
	if _, err := f.auth.Login("bob", "fixer", loopback); err != nil {
		t.Errorf("login with new password: %v", err)
	}
	if _, err := f.ns.SetAttribute(ctx, alice, name.MustParse("domain/d1/block"), []string{"300.0.0.0/8"}); !errors.Is(err, namespace.ErrConversion) {
		t.Errorf("invalid block: error = %v, want ErrConversion", err)
	}
}

func TestUserRestoreKeepsHash(t *testing.T) {
	hash, err := access.HashPassword("secret")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	ns := namespace.New(namespace.Options{})
	if err := access.Register(ns); err != nil {
		t.Fatalf("Register: %v", err)
	}
	o, err := ns.Restore(access.TypeUser, "erin", map[string][]string{
		"fullName":     {"Erin"},
		"role":         {"admin"},
		"enabled":      {"true"},
		"passwordHash": {hash},
	})
	if err != nil {
		t.Fatalf("Restore: %v", err)
	}
	user := o.(*access.User)
	if !user.CheckPassword("secret") || user.CheckPassword("other") {
		t.Error("restored user does not verify its stored password")
	}
	if !user.Enabled() || user.Role() != "admin" {
		t.Errorf("restored user enabled=%v role=%q", user.Enabled(), user.Role())
	}
}

func TestPasswordHash(t *testing.T) {
	hash, err := access.HashPassword("correct horse")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	if !strings.HasPrefix(hash, "$argon2id$v=19$") {
		t.Errorf("hash = %q, want PHC argon2id format", hash)
	}
	if !access.VerifyPassword(hash, "correct horse") {
		t.Error("VerifyPassword rejected the right password")
	}
	if access.VerifyPassword(hash, "battery staple") {
		t.Error("VerifyPassword accepted a wrong password")
	}
	other, err := access.HashPassword("correct horse")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	if other == hash {
		t.Error("two hashes of the same password are identical; salt not applied")
	}
	for _, malformed := range []string{"", "plain", "$argon2i$v=19$m=1,t=1,p=1$AA$AA", "$argon2id$v=19$m=x$AA$AA"} {
		if access.VerifyPassword(malformed, "") {
			t.Errorf("VerifyPassword(%q) matched", malformed)
		}
	}
}
