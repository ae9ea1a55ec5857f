// Copyright 2026 The Capstan Authors
// SPDX-License-Identifier: Apache-2.0

// Package service provides shared infrastructure for Capstan service
// binaries.
//
// A Capstan service is a standalone Go binary: it loads its YAML
// config, unseals its key material, opens its stores, and serves an
// HTTP API until signalled to stop. This package extracts the
// scaffolding every service needs:
//
//   - Logger bootstrap: structured JSON logging on stderr with a
//     configurable level.
//   - HTTP server: listener lifecycle, readiness signalling, and
//     graceful shutdown driven by context cancellation.
//   - Request logging: an http.Handler middleware that records
//     method, path, status, size, and duration for every request.
//
// Services compose these utilities in their own main() rather than
// subclassing a framework. The package provides building blocks, not
// a runtime.
package service
