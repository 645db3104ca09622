// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package sqlitepool wraps zombiezen.com/go/sqlite with the pragmas and
// transaction helpers lib/store relies on.
//
// Every connection is initialized with:
//
//   - journal_mode=WAL: readers never block the writer.
//   - synchronous=FULL: a committed change survives power loss. The
//     database is the only durable copy of accounts and permissions.
//   - busy_timeout=5000: wait up to 5 seconds for the write lock.
//   - foreign_keys=OFF: the store removes attribute rows itself.
//   - cache_size=-2048 and temp_store=MEMORY.
//
// Usage:
//
//	pool, err := sqlitepool.Open(sqlitepool.Config{Path: path, Logger: logger})
//	if err != nil {
//	    return err
//	}
//	defer pool.Close()
//
//	err = pool.Write(ctx, func(conn *sqlite.Conn) error {
//	    return sqlitex.Execute(conn, "DELETE FROM sonar_object WHERE type = ?",
//	        &sqlitex.ExecOptions{Args: []any{"widget"}})
//	})
//
// Connections are exposed directly; there is no query builder.
package sqlitepool
