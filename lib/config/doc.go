// Copyright 2026 The Capstan Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides YAML configuration loading for Capstan
// services.
//
// Configuration is loaded from a single file specified by either the
// CAPSTAN_CONFIG environment variable (via [Load]) or a --config flag
// (via [LoadFile]). There are no fallbacks, no ~/.config discovery,
// and no automatic file search: the recording service produces legal
// evidence, so its configuration must be deterministic and auditable
// with no hidden overrides.
//
// The file supports environment-specific sections (development,
// staging, production) that override base values when
// [Config].Environment matches.
//
// Variable expansion is performed on path fields after loading:
// ${HOME}, ${CAPSTAN_ROOT}, and ${VAR:-default} patterns are
// expanded. No other environment variables override config values.
package config
