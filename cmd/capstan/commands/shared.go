// Copyright 2026 The Capstan Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"fmt"

	"github.com/capstan-io/capstan/lib/chunkstore"
	"github.com/capstan-io/capstan/lib/config"
	"github.com/capstan-io/capstan/lib/seal"
	"github.com/capstan-io/capstan/lib/sealed"
	"github.com/capstan-io/capstan/lib/session"
)

// loadConfig resolves the CLI's config: the --config flag when set,
// CAPSTAN_CONFIG otherwise.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFile(path)
	}
	return config.Load()
}

// resolveKeysDir returns the key directory from --keys-dir, falling
// back to paths.keys from the config.
func resolveKeysDir(keysDir, configPath string) (string, error) {
	if keysDir != "" {
		return keysDir, nil
	}
	cfg, err := loadConfig(configPath)
	if err != nil {
		return "", fmt.Errorf("either --keys-dir or a config is required: %w", err)
	}
	return cfg.Paths.Keys, nil
}

// openChunkStore opens the chunk store named by the config. The
// caller owns Close.
func openChunkStore(cfg *config.Config) (chunkstore.Store, error) {
	switch cfg.Storage.Backend {
	case "badger":
		return chunkstore.OpenBadger(cfg.Paths.ChunkStore)
	case "dir":
		return chunkstore.OpenDir(cfg.Paths.ChunkStore)
	default:
		return nil, fmt.Errorf("unknown storage backend %q (want badger or dir)", cfg.Storage.Backend)
	}
}

// openKeySet unseals the master secret from the config's key
// directory. The caller owns Close.
func openKeySet(cfg *config.Config) (*seal.KeySet, error) {
	identity, err := sealed.LoadIdentity(cfg.Paths.IdentityPath())
	if err != nil {
		return nil, fmt.Errorf("loading node identity: %w", err)
	}
	master, err := sealed.UnsealFile(cfg.Paths.MasterKeyPath(), identity)
	_ = identity.Close()
	if err != nil {
		return nil, fmt.Errorf("unsealing master key: %w", err)
	}
	keys, err := seal.NewKeySet(master)
	if err != nil {
		_ = master.Close()
		return nil, err
	}
	return keys, nil
}

// parseSession parses the required --session flag.
func parseSession(raw string) (session.ID, error) {
	if raw == "" {
		return session.ID{}, fmt.Errorf("--session is required")
	}
	id, err := session.ParseID(raw)
	if err != nil {
		return session.ID{}, fmt.Errorf("invalid --session: %w", err)
	}
	return id, nil
}
