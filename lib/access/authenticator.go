// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package access

import (
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/time/rate"

	"github.com/bureau-foundation/sonar/lib/clock"
	"github.com/bureau-foundation/sonar/lib/namespace"
)

var (
	// ErrAuthenticationFailed covers unknown users, wrong passwords and
	// disabled accounts alike, so a client cannot tell which one
	// applied.
	ErrAuthenticationFailed = errors.New("authentication failed")

	// ErrDomainRejected means the client address is outside every
	// enabled domain.
	ErrDomainRejected = errors.New("domain rejected")

	// ErrThrottled means the address has failed too many logins
	// recently.
	ErrThrottled = errors.New("too many failed logins")
)

// AuthenticatorConfig tunes login throttling. Zero values select the
// defaults.
type AuthenticatorConfig struct {
	// FailureInterval is the time for one failure to be forgiven.
	// Default 10s.
	FailureInterval time.Duration

	// FailureBurst is the number of failures allowed back to back
	// before an address is throttled. Default 5.
	FailureBurst int

	// TableSize bounds the number of tracked addresses. Default 4096.
	TableSize int

	Clock  clock.Clock
	Logger *slog.Logger
}

// Authenticator checks login credentials against the user and domain
// objects in the namespace.
type Authenticator struct {
	ns       *namespace.Namespace
	clock    clock.Clock
	logger   *slog.Logger
	every    rate.Limit
	burst    int
	failures *lru.Cache[netip.Addr, *rate.Limiter]

	// verify checks a password against a stored hash.
	verify func(hash, password string) bool
}

// NewAuthenticator returns an authenticator reading from ns.
func NewAuthenticator(ns *namespace.Namespace, config AuthenticatorConfig) (*Authenticator, error) {
	if config.FailureInterval <= 0 {
		config.FailureInterval = 10 * time.Second
	}
	if config.FailureBurst <= 0 {
		config.FailureBurst = 5
	}
	if config.TableSize <= 0 {
		config.TableSize = 4096
	}
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	if config.Logger == nil {
		config.Logger = slog.New(slog.DiscardHandler)
	}
	failures, err := lru.New[netip.Addr, *rate.Limiter](config.TableSize)
	if err != nil {
		return nil, fmt.Errorf("creating failure table: %w", err)
	}
	return &Authenticator{
		ns:       ns,
		clock:    config.Clock,
		logger:   config.Logger,
		every:    rate.Every(config.FailureInterval),
		burst:    config.FailureBurst,
		failures: failures,
		verify:   VerifyPassword,
	}, nil
}

// Login authenticates userName from addr. On success it returns the
// user object.
//
// Checks run in order: throttling, domain, password, account. Every
// failure after the throttle check counts against addr. Login is safe
// for concurrent use and may take tens of milliseconds, so callers run
// it off the request processor.
func (a *Authenticator) Login(userName, password string, addr netip.Addr) (*User, error) {
	addr = addr.Unmap()
	now := a.clock.Now()
	if limiter, ok := a.failures.Get(addr); ok && limiter.TokensAt(now) < 1 {
		return nil, ErrThrottled
	}

	user, err := a.check(userName, password, addr)
	if err != nil {
		a.recordFailure(addr, now)
		a.logger.Warn("login rejected",
			"user", userName,
			"address", addr,
			"error", err,
		)
		return nil, err
	}
	return user, nil
}

func (a *Authenticator) check(userName, password string, addr netip.Addr) (*User, error) {
	if !a.DomainAllowed(addr) {
		return nil, ErrDomainRejected
	}
	user, _ := a.ns.LookupObject(TypeUser, userName).(*User)
	var hash string
	if user != nil {
		hash = user.hash()
	}
	if hash == "" {
		hash = decoyHash()
	}
	// Every account check pays for one hash, whether or not the
	// account exists.
	matched := a.verify(hash, password)
	if user == nil || !matched || !user.Enabled() {
		return nil, ErrAuthenticationFailed
	}
	role, _ := a.ns.LookupObject(TypeRole, user.Role()).(*Role)
	if role == nil || !role.Enabled() {
		return nil, ErrAuthenticationFailed
	}
	return user, nil
}

// decoyHash is verified in place of a missing or cleared password
// hash. Its password is random and never stored.
var decoyHash = sync.OnceValue(func() string {
	hash, err := HashPassword(rand.Text())
	if err != nil {
		return ""
	}
	return hash
})

// DomainAllowed reports whether addr may log in. When no domain
// objects exist, every address is allowed; otherwise addr must fall
// within an enabled domain.
func (a *Authenticator) DomainAllowed(addr netip.Addr) bool {
	if a.ns.Count(TypeDomain) == 0 {
		return true
	}
	for o := range a.ns.Iterate(TypeDomain) {
		if o.(*Domain).Contains(addr) {
			return true
		}
	}
	return false
}

// AuthorizePasswordChange verifies the current password of userName
// before a change. The caller applies the replacement through the
// namespace so it is persisted.
func (a *Authenticator) AuthorizePasswordChange(userName, current, replacement string) error {
	user, _ := a.ns.LookupObject(TypeUser, userName).(*User)
	if user == nil || !user.CheckPassword(current) {
		return ErrAuthenticationFailed
	}
	if replacement == "" {
		return fmt.Errorf("%w: empty password", namespace.ErrConversion)
	}
	return nil
}

func (a *Authenticator) recordFailure(addr netip.Addr, now time.Time) {
	limiter := rate.NewLimiter(a.every, a.burst)
	if previous, ok, _ := a.failures.PeekOrAdd(addr, limiter); ok {
		limiter = previous
	}
	limiter.AllowN(now, 1)
}
