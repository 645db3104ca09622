// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// sonar-server serves a SONAR namespace over TCP (optionally TLS).
//
// Configuration comes from the YAML file named by --config or
// SONAR_CONFIG. Startup opens the SQLite store, registers the access
// control types, restores persisted objects, applies the bootstrap seed
// when no user exists yet, and then runs the protocol listener, the
// admin socket and the metrics endpoint until SIGINT or SIGTERM.
package main

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/bureau-foundation/sonar/lib/access"
	"github.com/bureau-foundation/sonar/lib/admin"
	"github.com/bureau-foundation/sonar/lib/clock"
	"github.com/bureau-foundation/sonar/lib/config"
	"github.com/bureau-foundation/sonar/lib/namespace"
	"github.com/bureau-foundation/sonar/lib/process"
	"github.com/bureau-foundation/sonar/lib/server"
	"github.com/bureau-foundation/sonar/lib/store"
	"github.com/bureau-foundation/sonar/lib/version"
)

const policyCacheSize = 1024

func main() {
	if err := run(); err != nil {
		process.Fatal(err)
	}
}

func run() error {
	var (
		configPath  string
		showVersion bool
	)
	flagSet := pflag.NewFlagSet("sonar-server", pflag.ContinueOnError)
	flagSet.StringVar(&configPath, "config", "", "path to sonar.yaml (default: $SONAR_CONFIG)")
	flagSet.BoolVar(&showVersion, "version", false, "print version information and exit")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if showVersion {
		fmt.Printf("sonar-server %s\n", version.Full())
		return nil
	}
	if args := flagSet.Args(); len(args) > 0 {
		return fmt.Errorf("unexpected argument: %s", args[0])
	}

	var cfg *config.Config
	var err error
	if configPath != "" {
		cfg, err = config.LoadFile(configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := newLogger(cfg.Log)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ns, db, err := openNamespace(ctx, cfg, logger)
	if err != nil {
		return err
	}
	if db != nil {
		defer db.Close()
	}

	policy, err := access.NewPolicy(ns, policyCacheSize)
	if err != nil {
		return err
	}
	ns.SetAuthorizer(policy)

	if cfg.Bootstrap != "" {
		seed, err := access.LoadSeed(cfg.Bootstrap)
		if err != nil {
			return fmt.Errorf("loading bootstrap seed: %w", err)
		}
		applied, err := seed.Apply(ctx, ns)
		if err != nil {
			return fmt.Errorf("applying bootstrap seed: %w", err)
		}
		if applied {
			logger.Info("bootstrap seed applied", "path", cfg.Bootstrap)
		}
	}

	clk := clock.Real()
	authenticator, err := access.NewAuthenticator(ns, access.AuthenticatorConfig{
		Clock:  clk,
		Logger: logger.With("component", "auth"),
	})
	if err != nil {
		return err
	}

	serverConfig := server.Config{
		Address:       cfg.Sonar.Address(),
		MaxFrameBytes: cfg.Sonar.MaxFrameBytes,
	}
	if cfg.Sonar.TLS() {
		certificate, err := tls.LoadX509KeyPair(cfg.Sonar.TLSCert, cfg.Sonar.TLSKey)
		if err != nil {
			return fmt.Errorf("loading TLS key pair: %w", err)
		}
		serverConfig.TLS = &tls.Config{
			Certificates: []tls.Certificate{certificate},
			MinVersion:   tls.VersionTLS12,
		}
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	sonar, err := server.New(serverConfig, server.Options{
		Namespace:     ns,
		Authenticator: authenticator,
		Listeners:     []func(namespace.Object){policy.ObjectChanged},
		Registerer:    registry,
		Clock:         clk,
		Logger:        logger,
	})
	if err != nil {
		return err
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return sonar.ListenAndServe(groupCtx)
	})
	if cfg.Admin.Socket != "" {
		adminServer := admin.NewServer(cfg.Admin.Socket, sonar, logger.With("component", "admin"))
		group.Go(func() error {
			return adminServer.Serve(groupCtx)
		})
	}
	if cfg.Metrics.Listen != "" {
		group.Go(func() error {
			return serveMetrics(groupCtx, cfg.Metrics.Listen, registry, logger)
		})
	}

	logger.Info("sonar server running",
		"address", serverConfig.Address,
		"tls", cfg.Sonar.TLS(),
		"version", version.Info(),
	)
	err = group.Wait()
	logger.Info("shutting down")
	return err
}

func newLogger(cfg config.LogConfig) *slog.Logger {
	options := &slog.HandlerOptions{Level: cfg.SlogLevel()}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(os.Stderr, options))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, options))
}

// openNamespace builds the namespace with the access types registered
// and, when a database is configured, their stored objects restored.
// The returned store is nil without a database.
func openNamespace(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*namespace.Namespace, *store.Store, error) {
	options := namespace.Options{Logger: logger.With("component", "namespace")}
	var db *store.Store
	if cfg.Database.Path != "" {
		var err error
		db, err = store.Open(ctx, store.Config{
			Path:     cfg.Database.Path,
			PoolSize: cfg.Database.PoolSize,
			Logger:   logger.With("component", "store"),
		})
		if err != nil {
			return nil, nil, err
		}
		options.Persister = db
	} else {
		logger.Warn("no database configured; changes will not survive a restart")
	}

	ns := namespace.New(options)
	if err := access.Register(ns); err != nil {
		if db != nil {
			db.Close()
		}
		return nil, nil, err
	}
	if db != nil {
		if _, err := db.Load(ctx, ns, access.TypeRole, access.TypeUser, access.TypePermission, access.TypeDomain); err != nil {
			db.Close()
			return nil, nil, err
		}
	}
	return ns, db, nil
}

func serveMetrics(ctx context.Context, address string, registry *prometheus.Registry, logger *slog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}))
	httpServer := &http.Server{
		Addr:              address,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("metrics shutdown failed", "error", err)
		}
	}()

	logger.Info("metrics listening", "address", address)
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics endpoint: %w", err)
	}
	return nil
}
