// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package version reports build information for sonar-server and
// sonarctl.
//
// [GitCommit], [GitDirty], [BuildTime] and [Version] are injected at
// build time with -ldflags -X and default to "unknown" / "0.1.0-dev"
// in development builds and tests:
//
//	go build -ldflags "-X github.com/bureau-foundation/sonar/lib/version.GitCommit=$(git rev-parse --short HEAD)" ./cmd/sonar-server
//
// [Info] formats the one-line --version output; [Full] adds the Go
// version and platform.
package version
