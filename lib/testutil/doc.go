// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared test helpers for SONAR packages.
//
// [RequireReceive], [RequireSend] and [RequireClosed] wrap the
// select-with-timeout pattern so that tests waiting on goroutines fail
// instead of hanging. They are the only place tests use real
// wall-clock timeouts; everything else runs on lib/clock.
//
// [SocketDir] creates a short temporary directory for Unix domain
// sockets, whose paths are limited to 108 bytes.
//
// [UniqueID] generates distinct names for objects created by tests
// that share a namespace or database.
//
// All helpers call t.Fatalf on failure rather than returning errors.
package testutil
