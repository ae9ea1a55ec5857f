// Copyright 2026 The Capstan Authors
// SPDX-License-Identifier: Apache-2.0

// Capstan-session-service is the recording node daemon. It accepts
// capture bytes over a local HTTP API, runs them through the session
// pipeline (chunk, compress, encrypt, store, merkle), seals finished
// sessions into signed manifests, and anchors each manifest's hash on
// the configured chain.
//
// # Startup
//
// The service loads its YAML config (CAPSTAN_CONFIG or --config),
// unseals the master secret with the node's age identity, and opens
// the chunk store, manifest store, and SQLite session index. The
// manifest signing keypair is generated on first boot and reused
// afterward. On every boot the anchor recovery sweep re-submits
// sessions a previous run left in anchor_pending.
//
// # HTTP API
//
// All request and response bodies are JSON except the capture byte
// stream, which is raw bytes:
//
//	POST   /v1/sessions                    create a session
//	POST   /v1/sessions/{id}/bytes         append capture bytes
//	POST   /v1/sessions/{id}/end           end of stream; seals the session
//	GET    /v1/sessions/{id}               session status
//	GET    /v1/sessions/{id}/manifest      the sealed manifest
//	GET    /v1/sessions/{id}/proof?index=N chunk inclusion proof
//	DELETE /v1/sessions/{id}               abort an unsealed session
//	GET    /healthz                        liveness and session counters
//
// The API binds a loopback address by default; it carries plaintext
// capture bytes, so exposing it beyond the recording node requires a
// transport that encrypts in flight.
//
// # Shutdown
//
// SIGINT or SIGTERM stops the listener, drains in-flight requests for
// http.shutdown_timeout, then waits for running seal and anchor work
// to finish. Sessions still recording stay in the index and expire on
// the next run's schedule.
package main
