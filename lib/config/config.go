// Copyright 2026 The Capstan Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/capstan-io/capstan/lib/chunker"
)

// Environment names the deployment tier a config targets.
type Environment string

const (
	// Development is the default tier for local work.
	Development Environment = "development"
	// Staging runs the pre-production mirror.
	Staging Environment = "staging"
	// Production serves real recordings; validation is strictest here.
	Production Environment = "production"
)

// Config is the master configuration for the Capstan session service.
type Config struct {
	// Environment identifies the deployment type.
	Environment Environment `yaml:"environment"`

	// Paths configures data directory locations.
	Paths PathsConfig `yaml:"paths"`

	// HTTP configures the service listener.
	HTTP HTTPConfig `yaml:"http"`

	// Session holds the defaults applied to new sessions; creation
	// requests may override individual fields within validation
	// bounds.
	Session SessionConfig `yaml:"session"`

	// Storage configures the chunk store backend and its retry
	// policy.
	Storage StorageConfig `yaml:"storage"`

	// Anchor selects the chain profile and the recovery sweep cadence.
	Anchor AnchorConfig `yaml:"anchor"`

	// Per-environment overrides, applied after the base config loads.
	Development *ConfigOverrides `yaml:"development,omitempty"`
	Staging     *ConfigOverrides `yaml:"staging,omitempty"`
	Production  *ConfigOverrides `yaml:"production,omitempty"`
}

// ConfigOverrides contains the sections that can be overridden per
// environment. Only non-zero fields inside a present section apply.
type ConfigOverrides struct {
	Paths   *PathsConfig   `yaml:"paths,omitempty"`
	HTTP    *HTTPConfig    `yaml:"http,omitempty"`
	Session *SessionConfig `yaml:"session,omitempty"`
	Storage *StorageConfig `yaml:"storage,omitempty"`
	Anchor  *AnchorConfig  `yaml:"anchor,omitempty"`
}

// PathsConfig configures where session data lives. Everything under
// Root by default; recordings are evidence, so none of these may
// point at tmpfs in production.
type PathsConfig struct {
	// Root is the base directory for Capstan data.
	Root string `yaml:"root"`

	// ChunkStore is the chunk store location: the badger database
	// directory, or the file-store root for the dir backend.
	ChunkStore string `yaml:"chunk_store"`

	// Manifests is the sealed-manifest store root.
	Manifests string `yaml:"manifests"`

	// Index is the SQLite session/anchor index file.
	Index string `yaml:"index"`

	// Keys is the key directory: the sealed master secret, the age
	// identity that unseals it, and the manifest signing keypair.
	Keys string `yaml:"keys"`
}

// Key file names under [PathsConfig].Keys. The service reads both at
// startup; `capstan keygen` and `capstan seal-key` write them.
const (
	// MasterKeyFile is the age-sealed session master secret.
	MasterKeyFile = "master-key.age"

	// IdentityFile is the age identity that unseals MasterKeyFile.
	IdentityFile = "node-identity"

	// RecipientFile is the node identity's public half, kept next to
	// it so seal-key can re-seal without touching the private key.
	RecipientFile = "node-identity.pub"
)

// MasterKeyPath returns the sealed master secret location.
func (p PathsConfig) MasterKeyPath() string {
	return filepath.Join(p.Keys, MasterKeyFile)
}

// IdentityPath returns the node age identity location.
func (p PathsConfig) IdentityPath() string {
	return filepath.Join(p.Keys, IdentityFile)
}

// RecipientPath returns the node public recipient location.
func (p PathsConfig) RecipientPath() string {
	return filepath.Join(p.Keys, RecipientFile)
}

// HTTPConfig configures the service listener.
type HTTPConfig struct {
	// ListenAddress is the host:port the HTTP API binds.
	// Default: 127.0.0.1:8632
	ListenAddress string `yaml:"listen_address"`

	// ShutdownTimeout is how long a graceful shutdown waits for
	// in-flight requests, in Go duration format. Default: 10s
	ShutdownTimeout string `yaml:"shutdown_timeout"`
}

// SessionConfig holds per-session defaults.
type SessionConfig struct {
	// ChunkMinBytes and ChunkMaxBytes bound the plaintext window a
	// chunk seals. Defaults: 8 MiB and 16 MiB.
	ChunkMinBytes int64 `yaml:"chunk_min_bytes"`
	ChunkMaxBytes int64 `yaml:"chunk_max_bytes"`

	// Codec names the compression codec: zstd, lz4, or none.
	Codec string `yaml:"codec"`

	// CompressionLevel is the codec's level. Default: 3 (zstd).
	CompressionLevel int `yaml:"compression_level"`

	// RetentionDays is how long chunks and manifests are kept after
	// anchor confirmation. Zero keeps them forever.
	RetentionDays int `yaml:"retention_days"`

	// AnchorRetryLimit bounds consecutive anchor transport failures
	// before a session parks in its pending state for the sweep.
	AnchorRetryLimit int `yaml:"anchor_retry_limit"`

	// MaxSessionAge is the expiry deadline for a session that never
	// anchors, in Go duration format. Default: 24h
	MaxSessionAge string `yaml:"max_session_age"`

	// MaxActiveSessions bounds concurrent recordings. Default: 16
	MaxActiveSessions int `yaml:"max_active_sessions"`

	// ExpiryInterval is how often the orchestrator scans for expired
	// sessions, in Go duration format. Default: 1m
	ExpiryInterval string `yaml:"expiry_interval"`
}

// StorageConfig configures the chunk store.
type StorageConfig struct {
	// Backend selects the chunk store implementation: "badger" for
	// the service database, "dir" for a plain-file store.
	Backend string `yaml:"backend"`

	// PutRetries bounds attempts per chunk write. Default: 5
	PutRetries int `yaml:"put_retries"`

	// PutRetryBackoff is the initial backoff between write retries,
	// in Go duration format; it doubles per retry. Default: 1s
	PutRetryBackoff string `yaml:"put_retry_backoff"`
}

// AnchorConfig configures chain anchoring.
type AnchorConfig struct {
	// ProfilesFile is the JSONC chain profile document.
	ProfilesFile string `yaml:"profiles_file"`

	// Profile names the profile to anchor through.
	Profile string `yaml:"profile"`

	// SweepInterval is how often the recovery sweep re-anchors
	// pending sessions, in Go duration format. Default: 1m
	SweepInterval string `yaml:"sweep_interval"`
}

// Default returns the default configuration. These defaults are used
// as a base before loading the config file; they exist to give every
// field a sensible zero-value, not as a substitute for the required
// config file.
func Default() *Config {
	home, _ := os.UserHomeDir()
	root := filepath.Join(home, ".local", "share", "capstan")

	return &Config{
		Environment: Development,
		Paths: PathsConfig{
			Root:       root,
			ChunkStore: filepath.Join(root, "chunks"),
			Manifests:  filepath.Join(root, "manifests"),
			Index:      filepath.Join(root, "index.db"),
			Keys:       filepath.Join(root, "keys"),
		},
		HTTP: HTTPConfig{
			ListenAddress:   "127.0.0.1:8632",
			ShutdownTimeout: "10s",
		},
		Session: SessionConfig{
			ChunkMinBytes:     8 << 20,
			ChunkMaxBytes:     16 << 20,
			Codec:             "zstd",
			CompressionLevel:  3,
			RetentionDays:     30,
			AnchorRetryLimit:  5,
			MaxSessionAge:     "24h",
			MaxActiveSessions: 16,
			ExpiryInterval:    "1m",
		},
		Storage: StorageConfig{
			Backend:         "badger",
			PutRetries:      5,
			PutRetryBackoff: "1s",
		},
		Anchor: AnchorConfig{
			ProfilesFile:  filepath.Join(root, "chains.jsonc"),
			Profile:       "devnet",
			SweepInterval: "1m",
		},
	}
}

// Load loads configuration from the CAPSTAN_CONFIG environment
// variable. There are no fallbacks: if CAPSTAN_CONFIG is not set,
// this fails.
func Load() (*Config, error) {
	path := os.Getenv("CAPSTAN_CONFIG")
	if path == "" {
		return nil, fmt.Errorf("CAPSTAN_CONFIG environment variable not set; " +
			"set it to the path of your capstan.yaml config file, or use --config flag")
	}
	return LoadFile(path)
}

// LoadFile loads configuration from a specific file path. The config
// file is the single source of truth: environment variables do not
// override values, and the only expansion performed is ${HOME} and
// similar path variables for portability.
func LoadFile(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := Default()
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	cfg.applyEnvironmentOverrides()
	cfg.expandVariables()
	return cfg, nil
}

// override copies src over *dst unless src is the zero value. Override
// sections can therefore set any subset of a section's fields.
func override[T comparable](dst *T, src T) {
	var zero T
	if src != zero {
		*dst = src
	}
}

// applyEnvironmentOverrides merges the section matching
// [Config].Environment into the base config.
func (c *Config) applyEnvironmentOverrides() {
	sections := map[Environment]*ConfigOverrides{
		Development: c.Development,
		Staging:     c.Staging,
		Production:  c.Production,
	}
	o := sections[c.Environment]
	if o == nil {
		return
	}

	if p := o.Paths; p != nil {
		override(&c.Paths.Root, p.Root)
		override(&c.Paths.ChunkStore, p.ChunkStore)
		override(&c.Paths.Manifests, p.Manifests)
		override(&c.Paths.Index, p.Index)
		override(&c.Paths.Keys, p.Keys)
	}
	if h := o.HTTP; h != nil {
		override(&c.HTTP.ListenAddress, h.ListenAddress)
		override(&c.HTTP.ShutdownTimeout, h.ShutdownTimeout)
	}
	if s := o.Session; s != nil {
		override(&c.Session.ChunkMinBytes, s.ChunkMinBytes)
		override(&c.Session.ChunkMaxBytes, s.ChunkMaxBytes)
		override(&c.Session.Codec, s.Codec)
		override(&c.Session.CompressionLevel, s.CompressionLevel)
		override(&c.Session.RetentionDays, s.RetentionDays)
		override(&c.Session.AnchorRetryLimit, s.AnchorRetryLimit)
		override(&c.Session.MaxSessionAge, s.MaxSessionAge)
		override(&c.Session.MaxActiveSessions, s.MaxActiveSessions)
		override(&c.Session.ExpiryInterval, s.ExpiryInterval)
	}
	if s := o.Storage; s != nil {
		override(&c.Storage.Backend, s.Backend)
		override(&c.Storage.PutRetries, s.PutRetries)
		override(&c.Storage.PutRetryBackoff, s.PutRetryBackoff)
	}
	if a := o.Anchor; a != nil {
		override(&c.Anchor.ProfilesFile, a.ProfilesFile)
		override(&c.Anchor.Profile, a.Profile)
		override(&c.Anchor.SweepInterval, a.SweepInterval)
	}
}

// expandVariables expands ${VAR} and ${VAR:-default} patterns in path
// fields. Root expands first so the other paths can reference it as
// ${CAPSTAN_ROOT}.
func (c *Config) expandVariables() {
	vars := map[string]string{
		"CAPSTAN_ROOT": c.Paths.Root,
		"HOME":         os.Getenv("HOME"),
	}
	c.Paths.Root = expandVars(c.Paths.Root, vars)
	vars["CAPSTAN_ROOT"] = c.Paths.Root

	for _, field := range []*string{
		&c.Paths.ChunkStore,
		&c.Paths.Manifests,
		&c.Paths.Index,
		&c.Paths.Keys,
		&c.Anchor.ProfilesFile,
	} {
		*field = expandVars(*field, vars)
	}
}

// varPattern matches ${NAME} and ${NAME:-default} references.
var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// expandVars resolves variable references against vars first and the
// process environment second; an unresolved reference becomes its
// :-default, or the empty string without one.
func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(ref string) string {
		groups := varPattern.FindStringSubmatch(ref)
		if groups == nil {
			return ref
		}
		if v := vars[groups[1]]; v != "" {
			return v
		}
		if v := os.Getenv(groups[1]); v != "" {
			return v
		}
		return groups[2]
	})
}

// maxChunkWindow is the largest plaintext window a session may seal.
const maxChunkWindow = 64 << 20

// Validate checks the configuration for errors, reporting all of them
// at once.
func (c *Config) Validate() error {
	var errs []error

	if c.Environment != Development && c.Environment != Staging && c.Environment != Production {
		errs = append(errs, fmt.Errorf("invalid environment: %s", c.Environment))
	}

	if c.Paths.Root == "" {
		errs = append(errs, fmt.Errorf("paths.root is required"))
	} else if c.Environment == Production && !filepath.IsAbs(c.Paths.Root) {
		errs = append(errs, fmt.Errorf("paths.root must be absolute in production, got %q", c.Paths.Root))
	}
	if c.Paths.ChunkStore == "" {
		errs = append(errs, fmt.Errorf("paths.chunk_store is required"))
	}
	if c.Paths.Manifests == "" {
		errs = append(errs, fmt.Errorf("paths.manifests is required"))
	}
	if c.Paths.Index == "" {
		errs = append(errs, fmt.Errorf("paths.index is required"))
	}
	if c.Paths.Keys == "" {
		errs = append(errs, fmt.Errorf("paths.keys is required"))
	}

	if c.HTTP.ListenAddress == "" {
		errs = append(errs, fmt.Errorf("http.listen_address is required"))
	}
	errs = append(errs, validateDuration("http.shutdown_timeout", c.HTTP.ShutdownTimeout)...)

	if c.Session.ChunkMinBytes <= 0 {
		errs = append(errs, fmt.Errorf("session.chunk_min_bytes must be positive, got %d", c.Session.ChunkMinBytes))
	}
	if c.Session.ChunkMaxBytes < c.Session.ChunkMinBytes {
		errs = append(errs, fmt.Errorf("session.chunk_max_bytes (%d) below chunk_min_bytes (%d)",
			c.Session.ChunkMaxBytes, c.Session.ChunkMinBytes))
	}
	if c.Session.ChunkMaxBytes > maxChunkWindow {
		errs = append(errs, fmt.Errorf("session.chunk_max_bytes (%d) above the %d limit",
			c.Session.ChunkMaxBytes, int64(maxChunkWindow)))
	}
	codec, err := chunker.ParseCodec(c.Session.Codec)
	if err != nil {
		errs = append(errs, fmt.Errorf("session.codec: %w", err))
	} else if err := codec.ValidateLevel(c.Session.CompressionLevel); err != nil {
		errs = append(errs, fmt.Errorf("session.compression_level: %w", err))
	}
	if c.Session.RetentionDays < 0 {
		errs = append(errs, fmt.Errorf("session.retention_days must be >= 0, got %d", c.Session.RetentionDays))
	}
	if c.Session.AnchorRetryLimit < 1 {
		errs = append(errs, fmt.Errorf("session.anchor_retry_limit must be >= 1, got %d", c.Session.AnchorRetryLimit))
	}
	if c.Session.MaxActiveSessions < 1 {
		errs = append(errs, fmt.Errorf("session.max_active_sessions must be >= 1, got %d", c.Session.MaxActiveSessions))
	}
	errs = append(errs, validateDuration("session.max_session_age", c.Session.MaxSessionAge)...)
	errs = append(errs, validateDuration("session.expiry_interval", c.Session.ExpiryInterval)...)

	switch c.Storage.Backend {
	case "badger", "dir":
	default:
		errs = append(errs, fmt.Errorf("storage.backend must be \"badger\" or \"dir\", got %q", c.Storage.Backend))
	}
	if c.Storage.PutRetries < 1 {
		errs = append(errs, fmt.Errorf("storage.put_retries must be >= 1, got %d", c.Storage.PutRetries))
	}
	errs = append(errs, validateDuration("storage.put_retry_backoff", c.Storage.PutRetryBackoff)...)

	if c.Anchor.ProfilesFile == "" {
		errs = append(errs, fmt.Errorf("anchor.profiles_file is required"))
	}
	if c.Anchor.Profile == "" {
		errs = append(errs, fmt.Errorf("anchor.profile is required"))
	}
	errs = append(errs, validateDuration("anchor.sweep_interval", c.Anchor.SweepInterval)...)

	return errors.Join(errs...)
}

func validateDuration(field, value string) []error {
	if value == "" {
		return []error{fmt.Errorf("%s is required", field)}
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return []error{fmt.Errorf("%s: %w", field, err)}
	}
	if parsed <= 0 {
		return []error{fmt.Errorf("%s must be positive, got %s", field, value)}
	}
	return nil
}

// mustDuration returns the parsed duration for a field Validate has
// already accepted; malformed values fall back to the default rather
// than panicking.
func mustDuration(value string, fallback time.Duration) time.Duration {
	parsed, err := time.ParseDuration(value)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}

// ShutdownTimeoutDuration returns the parsed graceful-shutdown wait.
func (h HTTPConfig) ShutdownTimeoutDuration() time.Duration {
	return mustDuration(h.ShutdownTimeout, 10*time.Second)
}

// MaxSessionAgeDuration returns the parsed session expiry deadline.
func (s SessionConfig) MaxSessionAgeDuration() time.Duration {
	return mustDuration(s.MaxSessionAge, 24*time.Hour)
}

// ExpiryIntervalDuration returns the parsed expiry scan cadence.
func (s SessionConfig) ExpiryIntervalDuration() time.Duration {
	return mustDuration(s.ExpiryInterval, time.Minute)
}

// ParsedCodec returns the chunk codec named by the config.
func (s SessionConfig) ParsedCodec() (chunker.Codec, error) {
	return chunker.ParseCodec(s.Codec)
}

// PutRetryBackoffDuration returns the parsed initial write backoff.
func (s StorageConfig) PutRetryBackoffDuration() time.Duration {
	return mustDuration(s.PutRetryBackoff, time.Second)
}

// SweepIntervalDuration returns the parsed recovery sweep cadence.
func (a AnchorConfig) SweepIntervalDuration() time.Duration {
	return mustDuration(a.SweepInterval, time.Minute)
}

// EnsurePaths creates all configured directories if they don't exist.
// The index path is a file; its parent directory is created.
func (c *Config) EnsurePaths() error {
	dirs := []string{
		c.Paths.Root,
		c.Paths.ChunkStore,
		c.Paths.Manifests,
		c.Paths.Keys,
		filepath.Dir(c.Paths.Index),
	}
	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating %s: %w", dir, err)
		}
	}
	return nil
}
