// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/bureau-foundation/sonar/lib/access"
	"github.com/bureau-foundation/sonar/lib/config"
)

const seed = `{
	// one administrator
	"roles": {"admin": {"enabled": true}},
	"users": {"root": {"role": "admin", "password": "secret", "enabled": true}},
	"permissions": {
		"admin-permission": {"role": "admin", "base_resource": "permission", "access_level": "configure"},
	},
}`

func TestOpenNamespaceRestoresSeed(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	seedPath := filepath.Join(dir, "seed.jsonc")
	if err := os.WriteFile(seedPath, []byte(seed), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg := config.Default()
	cfg.Database.Path = filepath.Join(dir, "sonar.db")
	logger := slog.New(slog.DiscardHandler)

	ns, db, err := openNamespace(ctx, cfg, logger)
	if err != nil {
		t.Fatalf("openNamespace: %v", err)
	}
	loaded, err := access.LoadSeed(seedPath)
	if err != nil {
		t.Fatalf("LoadSeed: %v", err)
	}
	if applied, err := loaded.Apply(ctx, ns); err != nil || !applied {
		t.Fatalf("Apply = %v, %v", applied, err)
	}
	db.Close()

	// A second start restores the seeded objects from the database,
	// so the seed is not applied again.
	ns, db, err = openNamespace(ctx, cfg, logger)
	if err != nil {
		t.Fatalf("reopening: %v", err)
	}
	defer db.Close()
	if ns.Count(access.TypeUser) != 1 || ns.Count(access.TypePermission) != 1 {
		t.Fatalf("restored users=%d permissions=%d", ns.Count(access.TypeUser), ns.Count(access.TypePermission))
	}
	if applied, err := loaded.Apply(ctx, ns); err != nil || applied {
		t.Errorf("second Apply = %v, %v", applied, err)
	}
	user, ok := ns.LookupObject(access.TypeUser, "root").(*access.User)
	if !ok || !user.CheckPassword("secret") {
		t.Error("restored user does not accept the seeded password")
	}
}

func TestOpenNamespaceWithoutDatabase(t *testing.T) {
	ns, db, err := openNamespace(context.Background(), config.Default(), slog.New(slog.DiscardHandler))
	if err != nil {
		t.Fatalf("openNamespace: %v", err)
	}
	if db != nil {
		t.Error("store opened without a database path")
	}
	if _, ok := ns.BaseType(access.TypeUser); !ok {
		t.Error("access types not registered")
	}
}

func TestNewLogger(t *testing.T) {
	logger := newLogger(config.LogConfig{Level: "warn", Format: "text"})
	if logger.Enabled(context.Background(), slog.LevelInfo) {
		t.Error("warn logger enabled at info")
	}
	if !logger.Enabled(context.Background(), slog.LevelError) {
		t.Error("warn logger disabled at error")
	}
}
