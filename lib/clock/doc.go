// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock provides an injectable time source for testability.
//
// Code that stamps or compares times (session connect times, login
// failure throttling, server start time) takes a Clock instead of
// calling time.Now. In production, Real() provides the standard
// library behavior. In tests, Fake() provides a clock that moves only
// when Advance or Set is called:
//
//	c := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
//	auth, _ := access.NewAuthenticator(ns, access.AuthenticatorConfig{Clock: c})
//	// ... exhaust the failure burst ...
//	c.Advance(10 * time.Second) // forgive one failure
package clock
