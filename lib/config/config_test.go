// Copyright 2026 The Capstan Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// writeConfig drops a YAML document into a temp dir and returns its
// path.
func writeConfig(t *testing.T, doc string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "capstan.yaml")
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatalf("writing config fixture: %v", err)
	}
	return path
}

// loadFixture runs a YAML document through LoadFile, failing the test
// on any load error.
func loadFixture(t *testing.T, doc string) *Config {
	t.Helper()
	cfg, err := LoadFile(writeConfig(t, doc))
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	return cfg
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() on defaults: %v", err)
	}

	if got, want := cfg.Environment, Development; got != want {
		t.Errorf("Environment = %q, want %q", got, want)
	}
	if got := cfg.Session.ChunkMinBytes; got != 8<<20 {
		t.Errorf("Session.ChunkMinBytes = %d, want %d", got, 8<<20)
	}
	if got := cfg.Session.ChunkMaxBytes; got != 16<<20 {
		t.Errorf("Session.ChunkMaxBytes = %d, want %d", got, 16<<20)
	}
	if cfg.Session.Codec != "zstd" || cfg.Session.CompressionLevel != 3 {
		t.Errorf("Session codec = %s level %d, want zstd level 3",
			cfg.Session.Codec, cfg.Session.CompressionLevel)
	}
	if got, want := cfg.Storage.Backend, "badger"; got != want {
		t.Errorf("Storage.Backend = %q, want %q", got, want)
	}
}

func TestLoadReadsPathFromEnv(t *testing.T) {
	t.Run("unset", func(t *testing.T) {
		t.Setenv("CAPSTAN_CONFIG", "")
		_, err := Load()
		if err == nil {
			t.Fatal("Load() without CAPSTAN_CONFIG = nil, want error")
		}
		if !strings.Contains(err.Error(), "CAPSTAN_CONFIG environment variable not set") {
			t.Errorf("Load() = %q, want mention of the missing variable", err)
		}
	})

	t.Run("set", func(t *testing.T) {
		path := writeConfig(t, `
environment: staging
paths:
  root: /var/lib/capstan
http:
  listen_address: 0.0.0.0:9000
`)
		t.Setenv("CAPSTAN_CONFIG", path)

		cfg, err := Load()
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if got, want := cfg.Environment, Staging; got != want {
			t.Errorf("Environment = %q, want %q", got, want)
		}
		if got, want := cfg.Paths.Root, "/var/lib/capstan"; got != want {
			t.Errorf("Paths.Root = %q, want %q", got, want)
		}
		if got, want := cfg.HTTP.ListenAddress, "0.0.0.0:9000"; got != want {
			t.Errorf("HTTP.ListenAddress = %q, want %q", got, want)
		}
	})
}

func TestLoadFileMergesOntoDefaults(t *testing.T) {
	cfg := loadFixture(t, `
environment: staging
paths:
  root: /srv/capstan
session:
  codec: lz4
  compression_level: 0
storage:
  backend: dir
`)

	if got, want := cfg.Environment, Staging; got != want {
		t.Errorf("Environment = %q, want %q", got, want)
	}
	if got, want := cfg.Session.Codec, "lz4"; got != want {
		t.Errorf("Session.Codec = %q, want %q", got, want)
	}
	if got, want := cfg.Storage.Backend, "dir"; got != want {
		t.Errorf("Storage.Backend = %q, want %q", got, want)
	}

	// Fields the document never mentions keep their defaults.
	if got := cfg.Session.ChunkMinBytes; got != 8<<20 {
		t.Errorf("Session.ChunkMinBytes = %d, want the %d default", got, 8<<20)
	}
	if got, want := cfg.HTTP.ListenAddress, "127.0.0.1:8632"; got != want {
		t.Errorf("HTTP.ListenAddress = %q, want the %q default", got, want)
	}
	if got, want := cfg.Anchor.Profile, "devnet"; got != want {
		t.Errorf("Anchor.Profile = %q, want the %q default", got, want)
	}
}

func TestLoadFileErrors(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		if _, err := LoadFile(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
			t.Fatal("LoadFile on a missing file = nil, want error")
		}
	})

	t.Run("malformed document", func(t *testing.T) {
		_, err := LoadFile(writeConfig(t, "{{ this is not yaml"))
		if err == nil {
			t.Fatal("LoadFile on malformed YAML = nil, want error")
		}
		if !strings.Contains(err.Error(), "parsing") {
			t.Errorf("LoadFile = %q, want a parse error", err)
		}
	})
}

func TestEnvironmentSections(t *testing.T) {
	const doc = `
environment: %s
paths:
  root: /opt/capstan
session:
  retention_days: 14
production:
  paths:
    root: /srv/evidence
  session:
    retention_days: 90
  anchor:
    profile: mainnet
`

	t.Run("matching section applies", func(t *testing.T) {
		cfg := loadFixture(t, fmt.Sprintf(doc, "production"))
		if got, want := cfg.Paths.Root, "/srv/evidence"; got != want {
			t.Errorf("Paths.Root = %q, want %q", got, want)
		}
		if got := cfg.Session.RetentionDays; got != 90 {
			t.Errorf("Session.RetentionDays = %d, want 90", got)
		}
		if got, want := cfg.Anchor.Profile, "mainnet"; got != want {
			t.Errorf("Anchor.Profile = %q, want %q", got, want)
		}
	})

	t.Run("other sections ignored", func(t *testing.T) {
		cfg := loadFixture(t, fmt.Sprintf(doc, "staging"))
		if got, want := cfg.Paths.Root, "/opt/capstan"; got != want {
			t.Errorf("Paths.Root = %q, want the base value %q", got, want)
		}
		if got := cfg.Session.RetentionDays; got != 14 {
			t.Errorf("Session.RetentionDays = %d, want the base value 14", got)
		}
		if got, want := cfg.Anchor.Profile, "devnet"; got != want {
			t.Errorf("Anchor.Profile = %q, want the %q default", got, want)
		}
	})
}

// The config file is the single source of truth: process environment
// variables never override values it sets.
func TestEnvDoesNotOverrideFile(t *testing.T) {
	t.Setenv("CAPSTAN_ROOT", "/from/env")
	t.Setenv("CAPSTAN_ENVIRONMENT", "production")

	cfg := loadFixture(t, `
environment: development
paths:
  root: /from/file
`)

	if got, want := cfg.Paths.Root, "/from/file"; got != want {
		t.Errorf("Paths.Root = %q, want %q", got, want)
	}
	if got, want := cfg.Environment, Development; got != want {
		t.Errorf("Environment = %q, want %q", got, want)
	}
}

func TestRootExpandsIntoDependentPaths(t *testing.T) {
	cfg := loadFixture(t, `
paths:
  root: /srv/capstan
  chunk_store: ${CAPSTAN_ROOT}/chunks
  manifests: ${CAPSTAN_ROOT}/manifests
  keys: ${CAPSTAN_ROOT}/keys
`)

	if got, want := cfg.Paths.ChunkStore, "/srv/capstan/chunks"; got != want {
		t.Errorf("Paths.ChunkStore = %q, want %q", got, want)
	}
	if got, want := cfg.Paths.Manifests, "/srv/capstan/manifests"; got != want {
		t.Errorf("Paths.Manifests = %q, want %q", got, want)
	}
	if got, want := cfg.Paths.Keys, "/srv/capstan/keys"; got != want {
		t.Errorf("Paths.Keys = %q, want %q", got, want)
	}
}

func TestExpandVars(t *testing.T) {
	t.Setenv("CAPSTAN_TEST_SET", "/present")
	vars := map[string]string{"CAPSTAN_ROOT": "/rootval"}

	cases := []struct{ in, want string }{
		{"/plain/path", "/plain/path"},
		{"${CAPSTAN_ROOT}/keys", "/rootval/keys"},
		{"${CAPSTAN_ROOT}:${CAPSTAN_ROOT}", "/rootval:/rootval"},
		{"${CAPSTAN_TEST_SET}/data", "/present/data"},
		{"${CAPSTAN_TEST_SET:-/fallback}", "/present"},
		{"${CAPSTAN_TEST_UNSET:-/fallback}", "/fallback"},
		{"${CAPSTAN_TEST_UNSET}/data", "/data"},
	}
	for _, tc := range cases {
		if got := expandVars(tc.in, vars); got != tc.want {
			t.Errorf("expandVars(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestValidateAccepts(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"defaults untouched", func(*Config) {}},
		{"relative root outside production", func(c *Config) {
			c.Environment = Development
			c.Paths.Root = "relative/root"
		}},
		{"dir backend", func(c *Config) {
			c.Storage.Backend = "dir"
		}},
		{"lz4 without a level", func(c *Config) {
			c.Session.Codec = "lz4"
			c.Session.CompressionLevel = 0
		}},
		{"zero retention disables pruning", func(c *Config) {
			c.Session.RetentionDays = 0
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			if err := cfg.Validate(); err != nil {
				t.Errorf("Validate() = %v, want nil", err)
			}
		})
	}
}

func TestValidateRejects(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*Config)
		wantSub string
	}{
		{
			"unknown environment",
			func(c *Config) { c.Environment = "qa" },
			"invalid environment",
		},
		{
			"missing root",
			func(c *Config) { c.Paths.Root = "" },
			"paths.root",
		},
		{
			"relative root in production",
			func(c *Config) {
				c.Environment = Production
				c.Paths.Root = "relative/root"
			},
			"must be absolute",
		},
		{
			"missing listen address",
			func(c *Config) { c.HTTP.ListenAddress = "" },
			"http.listen_address",
		},
		{
			"prose shutdown timeout",
			func(c *Config) { c.HTTP.ShutdownTimeout = "soon" },
			"http.shutdown_timeout",
		},
		{
			"zero chunk floor",
			func(c *Config) { c.Session.ChunkMinBytes = 0 },
			"session.chunk_min_bytes",
		},
		{
			"ceiling below floor",
			func(c *Config) { c.Session.ChunkMaxBytes = c.Session.ChunkMinBytes - 1 },
			"session.chunk_max_bytes",
		},
		{
			"ceiling above the window limit",
			func(c *Config) { c.Session.ChunkMaxBytes = 128 << 20 },
			"session.chunk_max_bytes",
		},
		{
			"unknown codec",
			func(c *Config) { c.Session.Codec = "brotli" },
			"session.codec",
		},
		{
			"zstd level out of range",
			func(c *Config) { c.Session.CompressionLevel = 99 },
			"session.compression_level",
		},
		{
			"level given for lz4",
			func(c *Config) { c.Session.Codec = "lz4" },
			"session.compression_level",
		},
		{
			"negative retention",
			func(c *Config) { c.Session.RetentionDays = -3 },
			"session.retention_days",
		},
		{
			"zero anchor retries",
			func(c *Config) { c.Session.AnchorRetryLimit = 0 },
			"session.anchor_retry_limit",
		},
		{
			"zero active sessions",
			func(c *Config) { c.Session.MaxActiveSessions = 0 },
			"session.max_active_sessions",
		},
		{
			"prose session age",
			func(c *Config) { c.Session.MaxSessionAge = "one day" },
			"session.max_session_age",
		},
		{
			"missing expiry interval",
			func(c *Config) { c.Session.ExpiryInterval = "" },
			"session.expiry_interval",
		},
		{
			"unknown backend",
			func(c *Config) { c.Storage.Backend = "s3" },
			"storage.backend",
		},
		{
			"zero put retries",
			func(c *Config) { c.Storage.PutRetries = 0 },
			"storage.put_retries",
		},
		{
			"negative put backoff",
			func(c *Config) { c.Storage.PutRetryBackoff = "-1s" },
			"storage.put_retry_backoff",
		},
		{
			"missing profiles file",
			func(c *Config) { c.Anchor.ProfilesFile = "" },
			"anchor.profiles_file",
		},
		{
			"missing profile",
			func(c *Config) { c.Anchor.Profile = "" },
			"anchor.profile",
		},
		{
			"zero sweep interval",
			func(c *Config) { c.Anchor.SweepInterval = "0s" },
			"anchor.sweep_interval",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("Validate() = nil, want error")
			}
			if !strings.Contains(err.Error(), tc.wantSub) {
				t.Errorf("Validate() = %q, want mention of %q", err, tc.wantSub)
			}
		})
	}
}

func TestDurationAccessors(t *testing.T) {
	cfg := Default()
	cfg.HTTP.ShutdownTimeout = "45s"
	cfg.Session.MaxSessionAge = "2h"
	cfg.Session.ExpiryInterval = "90s"
	cfg.Storage.PutRetryBackoff = "250ms"
	cfg.Anchor.SweepInterval = "5m"

	checks := []struct {
		field string
		got   time.Duration
		want  time.Duration
	}{
		{"http.shutdown_timeout", cfg.HTTP.ShutdownTimeoutDuration(), 45 * time.Second},
		{"session.max_session_age", cfg.Session.MaxSessionAgeDuration(), 2 * time.Hour},
		{"session.expiry_interval", cfg.Session.ExpiryIntervalDuration(), 90 * time.Second},
		{"storage.put_retry_backoff", cfg.Storage.PutRetryBackoffDuration(), 250 * time.Millisecond},
		{"anchor.sweep_interval", cfg.Anchor.SweepIntervalDuration(), 5 * time.Minute},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s parsed to %v, want %v", c.field, c.got, c.want)
		}
	}
}

// Accessors fall back to their documented defaults rather than
// panicking when the field never passed Validate.
func TestDurationAccessorFallbacks(t *testing.T) {
	var sess SessionConfig
	if got := sess.MaxSessionAgeDuration(); got != 24*time.Hour {
		t.Errorf("MaxSessionAgeDuration on zero value = %v, want 24h", got)
	}

	var httpCfg HTTPConfig
	if got := httpCfg.ShutdownTimeoutDuration(); got != 10*time.Second {
		t.Errorf("ShutdownTimeoutDuration on zero value = %v, want 10s", got)
	}
}

func TestEnsurePaths(t *testing.T) {
	base := t.TempDir()
	cfg := Default()
	cfg.Paths = PathsConfig{
		Root:       filepath.Join(base, "capstan"),
		ChunkStore: filepath.Join(base, "capstan", "chunks"),
		Manifests:  filepath.Join(base, "capstan", "manifests"),
		Index:      filepath.Join(base, "capstan", "db", "index.db"),
		Keys:       filepath.Join(base, "capstan", "keys"),
	}

	if err := cfg.EnsurePaths(); err != nil {
		t.Fatalf("EnsurePaths: %v", err)
	}

	dirs := []string{
		cfg.Paths.Root,
		cfg.Paths.ChunkStore,
		cfg.Paths.Manifests,
		cfg.Paths.Keys,
		filepath.Dir(cfg.Paths.Index),
	}
	for _, dir := range dirs {
		info, err := os.Stat(dir)
		if err != nil {
			t.Errorf("stat %s: %v", dir, err)
			continue
		}
		if !info.IsDir() {
			t.Errorf("%s exists but is not a directory", dir)
		}
	}
}
