// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides YAML configuration loading for sonar-server.
//
// Configuration is loaded from a single file specified by either the
// SONAR_CONFIG environment variable (via [Load]) or a --config flag
// (via [LoadFile]). There are no fallbacks and no automatic file
// search.
//
// The file may contain development and production sections that
// override the base log and metrics settings when [Config].Environment
// matches. Without a development section, development logs text at
// debug level.
//
// Path fields (TLS files, database, admin socket, bootstrap seed) are
// expanded after loading: ${HOME}, ${VAR} and ${VAR:-default} patterns
// are replaced. No environment variable overrides a config value.
//
// [LoadFile] validates before returning; every problem is reported as a
// *namespace.ConfigurationError joined into one error, and the server
// must not start with any of them.
package config
