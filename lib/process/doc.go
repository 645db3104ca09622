// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package process holds the entrypoint helper shared by sonar-server
// and sonarctl: [Fatal] reports an error from run() on stderr, where
// no structured logger may exist yet, and exits with status 1.
package process
