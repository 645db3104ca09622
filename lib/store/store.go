// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package store persists namespace objects in SQLite.
//
// Storage is schema-agnostic: each persistent object is one row in
// sonar_object and each of its persisted attributes one row in
// sonar_attribute, with the attribute's string-list value encoded as
// CBOR. Types decide which attributes are persisted through their
// namespace schema; the store never interprets values.
//
// The namespace is the source of truth while the server runs. The
// store is written synchronously on every change to a persistent type
// and read only at startup, by [Store.Load].
package store

import (
	"context"
	"fmt"
	"log/slog"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/bureau-foundation/sonar/lib/codec"
	"github.com/bureau-foundation/sonar/lib/namespace"
	"github.com/bureau-foundation/sonar/lib/sqlitepool"
)

const schema = `
CREATE TABLE IF NOT EXISTS sonar_object (
	type   TEXT NOT NULL,
	object TEXT NOT NULL,
	PRIMARY KEY (type, object)
) WITHOUT ROWID;

CREATE TABLE IF NOT EXISTS sonar_attribute (
	type      TEXT NOT NULL,
	object    TEXT NOT NULL,
	attribute TEXT NOT NULL,
	value     BLOB NOT NULL,
	PRIMARY KEY (type, object, attribute)
) WITHOUT ROWID;
`

// Config holds the parameters for opening a store.
type Config struct {
	// Path is the SQLite database file. The parent directory must
	// exist.
	Path string

	// PoolSize defaults to 4.
	PoolSize int

	Logger *slog.Logger
}

// Store is a namespace.Persister backed by SQLite.
type Store struct {
	pool   *sqlitepool.Pool
	logger *slog.Logger
}

var _ namespace.Persister = (*Store)(nil)

// Open opens the database, creating the tables if needed.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path:     cfg.Path,
		PoolSize: cfg.PoolSize,
		Logger:   logger,
	})
	if err != nil {
		return nil, fmt.Errorf("store: %w", err)
	}

	err = pool.Write(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.ExecuteScript(conn, schema, nil)
	})
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("store: creating schema: %w", err)
	}

	return &Store{pool: pool, logger: logger}, nil
}

// Close closes the connection pool.
func (s *Store) Close() error {
	return s.pool.Close()
}

// Query runs a read query, calling row for each result row.
func (s *Store) Query(ctx context.Context, query string, args []any, row func(*sqlite.Stmt) error) error {
	return s.pool.Read(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, query, &sqlitex.ExecOptions{
			Args:       args,
			ResultFunc: row,
		})
	})
}

// Create inserts an object and its persisted attribute values in one
// transaction.
func (s *Store) Create(ctx context.Context, typeName, objectName string, values map[string][]string) error {
	return s.pool.Write(ctx, func(conn *sqlite.Conn) error {
		err := sqlitex.Execute(conn,
			"INSERT INTO sonar_object (type, object) VALUES (?, ?)",
			&sqlitex.ExecOptions{Args: []any{typeName, objectName}})
		if err != nil {
			return fmt.Errorf("store: inserting %s/%s: %w", typeName, objectName, err)
		}
		for attribute, value := range values {
			if err := putAttribute(conn, typeName, objectName, attribute, value); err != nil {
				return err
			}
		}
		return nil
	})
}

// Update stores a new value for one attribute.
func (s *Store) Update(ctx context.Context, typeName, objectName, attribute string, value []string) error {
	return s.pool.Write(ctx, func(conn *sqlite.Conn) error {
		return putAttribute(conn, typeName, objectName, attribute, value)
	})
}

// Destroy deletes an object and all its attribute values.
func (s *Store) Destroy(ctx context.Context, typeName, objectName string) error {
	return s.pool.Write(ctx, func(conn *sqlite.Conn) error {
		args := &sqlitex.ExecOptions{Args: []any{typeName, objectName}}
		if err := sqlitex.Execute(conn, "DELETE FROM sonar_attribute WHERE type = ? AND object = ?", args); err != nil {
			return fmt.Errorf("store: deleting %s/%s attributes: %w", typeName, objectName, err)
		}
		if err := sqlitex.Execute(conn, "DELETE FROM sonar_object WHERE type = ? AND object = ?", args); err != nil {
			return fmt.Errorf("store: deleting %s/%s: %w", typeName, objectName, err)
		}
		return nil
	})
}

func putAttribute(conn *sqlite.Conn, typeName, objectName, attribute string, value []string) error {
	data, err := codec.EncodeValue(value)
	if err != nil {
		return fmt.Errorf("store: encoding %s/%s/%s: %w", typeName, objectName, attribute, err)
	}
	err = sqlitex.Execute(conn, `
		INSERT INTO sonar_attribute (type, object, attribute, value)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (type, object, attribute) DO UPDATE SET value = excluded.value`,
		&sqlitex.ExecOptions{Args: []any{typeName, objectName, attribute, data}})
	if err != nil {
		return fmt.Errorf("store: writing %s/%s/%s: %w", typeName, objectName, attribute, err)
	}
	return nil
}

// Record is one stored object with its attribute values.
type Record struct {
	Object string
	Values map[string][]string
}

// Records returns the stored objects of typeName ordered by name.
func (s *Store) Records(ctx context.Context, typeName string) ([]Record, error) {
	var records []Record
	index := make(map[string]int)
	err := s.Query(ctx,
		"SELECT object FROM sonar_object WHERE type = ? ORDER BY object",
		[]any{typeName},
		func(stmt *sqlite.Stmt) error {
			object := stmt.ColumnText(0)
			index[object] = len(records)
			records = append(records, Record{Object: object, Values: make(map[string][]string)})
			return nil
		})
	if err != nil {
		return nil, fmt.Errorf("store: reading %s objects: %w", typeName, err)
	}

	err = s.Query(ctx,
		"SELECT object, attribute, value FROM sonar_attribute WHERE type = ?",
		[]any{typeName},
		func(stmt *sqlite.Stmt) error {
			i, ok := index[stmt.ColumnText(0)]
			if !ok {
				return nil // orphaned attribute row
			}
			attribute := stmt.ColumnText(1)
			data := make([]byte, stmt.ColumnLen(2))
			stmt.ColumnBytes(2, data)
			value, err := codec.DecodeValue(data)
			if err != nil {
				return fmt.Errorf("decoding %s/%s/%s: %w", typeName, records[i].Object, attribute, err)
			}
			records[i].Values[attribute] = value
			return nil
		})
	if err != nil {
		return nil, fmt.Errorf("store: reading %s attributes: %w", typeName, err)
	}
	return records, nil
}

// Load restores every stored object of the given types into ns, in
// the order the types are listed. It returns the number of objects
// restored.
func (s *Store) Load(ctx context.Context, ns *namespace.Namespace, types ...string) (int, error) {
	total := 0
	for _, typeName := range types {
		records, err := s.Records(ctx, typeName)
		if err != nil {
			return total, err
		}
		for _, record := range records {
			if _, err := ns.Restore(typeName, record.Object, record.Values); err != nil {
				return total, fmt.Errorf("store: %w", err)
			}
		}
		total += len(records)
		s.logger.Info("loaded stored objects", "type", typeName, "count", len(records))
	}
	return total, nil
}
