// Copyright 2026 The Capstan Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/capstan-io/capstan/lib/anchor"
	"github.com/capstan-io/capstan/lib/chunkstore"
	"github.com/capstan-io/capstan/lib/clock"
	"github.com/capstan-io/capstan/lib/config"
	"github.com/capstan-io/capstan/lib/manifest"
	"github.com/capstan-io/capstan/lib/process"
	"github.com/capstan-io/capstan/lib/seal"
	"github.com/capstan-io/capstan/lib/sealed"
	"github.com/capstan-io/capstan/lib/service"
	"github.com/capstan-io/capstan/lib/session"
	"github.com/capstan-io/capstan/lib/version"
)

func main() {
	if err := run(); err != nil {
		process.Fatal(err)
	}
}

func run() error {
	var (
		configPath  string
		listenAddr  string
		logLevel    string
		showVersion bool
	)

	flag.StringVar(&configPath, "config", "", "config file path (overrides CAPSTAN_CONFIG)")
	flag.StringVar(&listenAddr, "listen", "", "listen address (overrides http.listen_address)")
	flag.StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")
	flag.BoolVar(&showVersion, "version", false, "print version information and exit")
	flag.Parse()

	if showVersion {
		version.Print("capstan-session-service")
		return nil
	}

	var (
		cfg *config.Config
		err error
	)
	if configPath != "" {
		cfg, err = config.LoadFile(configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := cfg.EnsurePaths(); err != nil {
		return err
	}
	if listenAddr != "" {
		cfg.HTTP.ListenAddress = listenAddr
	}

	logger := service.NewLogger(logLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Recover the master secret: the node identity unseals the key
	// file, and the key set takes ownership of the plaintext. The
	// identity is only needed for this one decryption.
	identity, err := sealed.LoadIdentity(cfg.Paths.IdentityPath())
	if err != nil {
		return fmt.Errorf("loading node identity (run `capstan keygen` first): %w", err)
	}
	master, err := sealed.UnsealFile(cfg.Paths.MasterKeyPath(), identity)
	_ = identity.Close()
	if err != nil {
		return fmt.Errorf("unsealing master key (run `capstan seal-key` first): %w", err)
	}
	keys, err := seal.NewKeySet(master)
	if err != nil {
		_ = master.Close()
		return err
	}
	defer keys.Close()

	chunks, err := openChunkStore(cfg, logger)
	if err != nil {
		return err
	}
	defer chunks.Close()

	manifests, err := manifest.NewStore(cfg.Paths.Manifests)
	if err != nil {
		return err
	}

	index, err := session.OpenIndex(session.IndexConfig{
		Path:   cfg.Paths.Index,
		Logger: logger.With("component", "index"),
	})
	if err != nil {
		return err
	}
	defer index.Close()

	// The manifest signing keypair is generated on first boot and
	// reused on every boot after.
	_, privateKey, generated, err := manifest.LoadOrGenerateKeypair(cfg.Paths.Keys)
	if err != nil {
		return err
	}
	if generated {
		logger.Info("generated manifest signing keypair", "dir", cfg.Paths.Keys)
	}
	signer, err := manifest.NewSigner(privateKey)
	if err != nil {
		return err
	}

	profiles, err := anchor.LoadProfiles(cfg.Anchor.ProfilesFile)
	if err != nil {
		return err
	}
	profile, ok := profiles[cfg.Anchor.Profile]
	if !ok {
		return fmt.Errorf("anchor profile %q not found in %s", cfg.Anchor.Profile, cfg.Anchor.ProfilesFile)
	}
	chain, err := anchor.NewHTTPChain(profile, nil)
	if err != nil {
		return err
	}
	anchors, err := anchor.New(anchor.Config{
		Chain:      chain,
		Records:    index,
		Logger:     logger.With("component", "anchor"),
		RetryLimit: cfg.Session.AnchorRetryLimit,
	})
	if err != nil {
		return err
	}

	codec, err := cfg.Session.ParsedCodec()
	if err != nil {
		return err
	}
	defaults := session.Config{
		ChunkMin:         cfg.Session.ChunkMinBytes,
		ChunkMax:         cfg.Session.ChunkMaxBytes,
		Codec:            codec,
		CompressionLevel: cfg.Session.CompressionLevel,
		RetentionDays:    cfg.Session.RetentionDays,
		AnchorRetryLimit: cfg.Session.AnchorRetryLimit,
		MaxSessionAge:    cfg.Session.MaxSessionAgeDuration(),
	}

	orch, err := session.NewOrchestrator(session.OrchestratorConfig{
		Keys:              keys,
		Chunks:            chunks,
		Manifests:         manifests,
		Index:             index,
		Anchors:           anchors,
		Signer:            signer,
		Logger:            logger.With("component", "orchestrator"),
		Defaults:          defaults,
		MaxActiveSessions: cfg.Session.MaxActiveSessions,
		ExpiryInterval:    cfg.Session.ExpiryIntervalDuration(),
		SweepInterval:     cfg.Anchor.SweepIntervalDuration(),
	})
	if err != nil {
		return err
	}
	defer orch.Close()

	// Background expiry scan, anchor recovery sweep, and retention.
	// The startup sweep inside Run picks up sessions a previous run
	// left in anchor_pending.
	runDone := make(chan error, 1)
	go func() {
		runDone <- orch.Run(ctx)
	}()

	api := newAPIServer(orch, defaults, clock.Real(), logger.With("component", "api"))
	httpServer := service.NewHTTPServer(service.HTTPServerConfig{
		Address:         cfg.HTTP.ListenAddress,
		Handler:         service.RequestLogger(logger.With("component", "http"), api.routes()),
		ShutdownTimeout: cfg.HTTP.ShutdownTimeoutDuration(),
		Logger:          logger.With("component", "http"),
	})
	httpDone := make(chan error, 1)
	go func() {
		httpDone <- httpServer.Serve(ctx)
	}()

	logger.Info("session service running",
		"listen", cfg.HTTP.ListenAddress,
		"backend", cfg.Storage.Backend,
		"anchor_profile", cfg.Anchor.Profile,
		"environment", cfg.Environment,
	)

	// Wait for shutdown signal.
	<-ctx.Done()
	logger.Info("shutting down")

	// Drain the listener first so no new work arrives, then the
	// background loops; the deferred orch.Close waits for in-flight
	// seal and anchor goroutines.
	if err := <-httpDone; err != nil {
		logger.Error("http server error", "error", err)
	}
	if err := <-runDone; err != nil {
		logger.Error("background run error", "error", err)
	}

	return nil
}

// openChunkStore opens the configured chunk store backend and wraps it
// with the write-retry policy.
func openChunkStore(cfg *config.Config, logger *slog.Logger) (chunkstore.Store, error) {
	var (
		store chunkstore.Store
		err   error
	)
	switch cfg.Storage.Backend {
	case "badger":
		store, err = chunkstore.OpenBadger(cfg.Paths.ChunkStore)
	case "dir":
		store, err = chunkstore.OpenDir(cfg.Paths.ChunkStore)
	default:
		return nil, fmt.Errorf("unknown storage backend %q (want badger or dir)", cfg.Storage.Backend)
	}
	if err != nil {
		return nil, err
	}

	return chunkstore.WithRetry(
		store,
		cfg.Storage.PutRetries,
		cfg.Storage.PutRetryBackoffDuration(),
		clock.Real(),
		logger.With("component", "chunkstore"),
	), nil
}
