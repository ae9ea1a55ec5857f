// Copyright 2026 The Capstan Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/capstan-io/capstan/lib/chunker"
	"github.com/capstan-io/capstan/lib/clock"
	"github.com/capstan-io/capstan/lib/session"
	"github.com/capstan-io/capstan/lib/version"
)

// maxSubmitBytes caps a single byte-submission body. It matches the
// largest permitted chunk window; recorders with more buffered data
// split it across requests.
const maxSubmitBytes = session.MaxChunkWindow

// defaultZstdLevel is applied when a create request switches the codec
// to zstd without naming a level, because the service default level
// only makes sense for the service default codec.
const defaultZstdLevel = 3

// apiServer translates the HTTP surface into orchestrator calls. All
// session semantics live in lib/session; handlers only decode
// requests, map errors onto status codes, and encode responses.
type apiServer struct {
	orch      *session.Orchestrator
	defaults  session.Config
	clock     clock.Clock
	logger    *slog.Logger
	startedAt time.Time

	// Ingestion counters, updated atomically by the bytes handler and
	// read lock-free by the health handler.
	bytesReceived  atomic.Int64
	submitRequests atomic.Uint64
}

func newAPIServer(orch *session.Orchestrator, defaults session.Config, clk clock.Clock, logger *slog.Logger) *apiServer {
	return &apiServer{
		orch:      orch,
		defaults:  defaults,
		clock:     clk,
		logger:    logger,
		startedAt: clk.Now(),
	}
}

// routes builds the service mux. Method and path wildcards are
// enforced by net/http; handlers can assume both.
func (s *apiServer) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/sessions", s.handleCreateSession)
	mux.HandleFunc("POST /v1/sessions/{id}/bytes", s.handleSubmitBytes)
	mux.HandleFunc("POST /v1/sessions/{id}/end", s.handleEndStream)
	mux.HandleFunc("GET /v1/sessions/{id}", s.handleStatus)
	mux.HandleFunc("GET /v1/sessions/{id}/manifest", s.handleManifest)
	mux.HandleFunc("GET /v1/sessions/{id}/proof", s.handleProof)
	mux.HandleFunc("DELETE /v1/sessions/{id}", s.handleAbort)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	return mux
}

// createSessionRequest is the JSON body for POST /v1/sessions. Every
// field except owner is optional; absent fields take the service
// defaults. Pointer fields distinguish an explicit zero (meaningful
// for compression_level and retention_days) from an absent field.
type createSessionRequest struct {
	Owner            string `json:"owner"`
	ChunkMinBytes    int64  `json:"chunk_min_bytes,omitempty"`
	ChunkMaxBytes    int64  `json:"chunk_max_bytes,omitempty"`
	Codec            string `json:"codec,omitempty"`
	CompressionLevel *int   `json:"compression_level,omitempty"`
	RetentionDays    *int   `json:"retention_days,omitempty"`
	AnchorRetryLimit int    `json:"anchor_retry_limit,omitempty"`
	MaxSessionAge    string `json:"max_session_age,omitempty"`
}

// sessionConfig merges the request's overrides onto the service
// defaults. The orchestrator validates the merged result; this only
// rejects values that cannot be parsed at all.
func (r createSessionRequest) sessionConfig(defaults session.Config) (session.Config, error) {
	cfg := defaults

	if r.ChunkMinBytes > 0 {
		cfg.ChunkMin = r.ChunkMinBytes
	}
	if r.ChunkMaxBytes > 0 {
		cfg.ChunkMax = r.ChunkMaxBytes
	}
	if r.Codec != "" {
		codec, err := chunker.ParseCodec(r.Codec)
		if err != nil {
			return session.Config{}, err
		}
		cfg.Codec = codec
		if r.CompressionLevel == nil {
			// The default level belongs to the default codec; a
			// codec override without a level gets that codec's own
			// default.
			if codec == chunker.CodecZstd {
				cfg.CompressionLevel = defaultZstdLevel
			} else {
				cfg.CompressionLevel = 0
			}
		}
	}
	if r.CompressionLevel != nil {
		cfg.CompressionLevel = *r.CompressionLevel
	}
	if r.RetentionDays != nil {
		cfg.RetentionDays = *r.RetentionDays
	}
	if r.AnchorRetryLimit > 0 {
		cfg.AnchorRetryLimit = r.AnchorRetryLimit
	}
	if r.MaxSessionAge != "" {
		age, err := time.ParseDuration(r.MaxSessionAge)
		if err != nil {
			return session.Config{}, fmt.Errorf("max_session_age: %w", err)
		}
		cfg.MaxSessionAge = age
	}

	return cfg, nil
}

func (s *apiServer) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "decoding request body: %v", err)
		return
	}

	cfg, err := req.sessionConfig(s.defaults)
	if err != nil {
		s.sendError(w, http.StatusBadRequest, "%v", err)
		return
	}

	id, err := s.orch.CreateSession(r.Context(), req.Owner, cfg)
	if err != nil {
		s.writeError(w, err)
		return
	}

	info, err := s.orch.Status(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, info)
}

// submitBytesResponse acknowledges an accepted byte submission.
type submitBytesResponse struct {
	ID            session.ID `json:"id"`
	ReceivedBytes int64      `json:"received_bytes"`
}

func (s *apiServer) handleSubmitBytes(w http.ResponseWriter, r *http.Request) {
	id, ok := s.sessionID(w, r)
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxSubmitBytes)
	data, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.sendError(w, http.StatusRequestEntityTooLarge,
				"body exceeds %d bytes; split the submission", tooLarge.Limit)
			return
		}
		s.sendError(w, http.StatusBadRequest, "reading request body: %v", err)
		return
	}

	if err := s.orch.SubmitBytes(r.Context(), id, data); err != nil {
		s.writeError(w, err)
		return
	}

	s.submitRequests.Add(1)
	s.bytesReceived.Add(int64(len(data)))
	s.writeJSON(w, http.StatusAccepted, submitBytesResponse{
		ID:            id,
		ReceivedBytes: int64(len(data)),
	})
}

func (s *apiServer) handleEndStream(w http.ResponseWriter, r *http.Request) {
	id, ok := s.sessionID(w, r)
	if !ok {
		return
	}

	// EndStream blocks until the pipeline drains and the manifest is
	// durable, so the response status reflects the seal outcome.
	if err := s.orch.EndStream(r.Context(), id); err != nil {
		s.writeError(w, err)
		return
	}

	info, err := s.orch.Status(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, info)
}

func (s *apiServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := s.sessionID(w, r)
	if !ok {
		return
	}

	info, err := s.orch.Status(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, info)
}

func (s *apiServer) handleManifest(w http.ResponseWriter, r *http.Request) {
	id, ok := s.sessionID(w, r)
	if !ok {
		return
	}

	m, err := s.orch.Manifest(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, m)
}

func (s *apiServer) handleProof(w http.ResponseWriter, r *http.Request) {
	id, ok := s.sessionID(w, r)
	if !ok {
		return
	}

	rawIndex := r.URL.Query().Get("index")
	if rawIndex == "" {
		s.sendError(w, http.StatusBadRequest, "missing required query parameter index")
		return
	}
	index, err := strconv.ParseUint(rawIndex, 10, 64)
	if err != nil {
		s.sendError(w, http.StatusBadRequest, "parsing index %q: %v", rawIndex, err)
		return
	}

	proof, err := s.orch.Proof(r.Context(), id, index)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, proof)
}

func (s *apiServer) handleAbort(w http.ResponseWriter, r *http.Request) {
	id, ok := s.sessionID(w, r)
	if !ok {
		return
	}

	reason := r.URL.Query().Get("reason")
	if reason == "" {
		reason = "operator request"
	}

	if err := s.orch.Abort(r.Context(), id, reason); err != nil {
		s.writeError(w, err)
		return
	}

	info, err := s.orch.Status(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, info)
}

// healthResponse is the liveness payload. Counters only, nothing
// that would disclose session contents or owners.
type healthResponse struct {
	Status         string        `json:"status"`
	Version        string        `json:"version"`
	UptimeSeconds  float64       `json:"uptime_seconds"`
	BytesReceived  int64         `json:"bytes_received"`
	SubmitRequests uint64        `json:"submit_requests"`
	Sessions       session.Stats `json:"sessions"`
}

func (s *apiServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, healthResponse{
		Status:         "ok",
		Version:        version.Version,
		UptimeSeconds:  s.clock.Now().Sub(s.startedAt).Seconds(),
		BytesReceived:  s.bytesReceived.Load(),
		SubmitRequests: s.submitRequests.Load(),
		Sessions:       s.orch.Stats(),
	})
}

// sessionID parses the {id} path segment. On failure it writes the
// 400 response itself and returns ok=false.
func (s *apiServer) sessionID(w http.ResponseWriter, r *http.Request) (session.ID, bool) {
	id, err := session.ParseID(r.PathValue("id"))
	if err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid session id: %v", err)
		return session.ID{}, false
	}
	return id, true
}

// errorResponse is the JSON error body. Category is the pipeline
// stage classification when the error carries one.
type errorResponse struct {
	Error    string `json:"error"`
	Category string `json:"category,omitempty"`
}

// writeError maps orchestrator errors onto status codes: unknown
// session ids are 404, input errors are 400, everything else is an
// internal failure.
func (s *apiServer) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, session.ErrUnknownSession):
		status = http.StatusNotFound
	case session.CategoryOf(err) == session.CategoryInput:
		status = http.StatusBadRequest
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(errorResponse{
		Error:    err.Error(),
		Category: string(session.CategoryOf(err)),
	}); err != nil {
		s.logger.Warn("writing JSON error response", "error", err, "status", status)
	}
}

func (s *apiServer) sendError(w http.ResponseWriter, status int, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(errorResponse{
		Error: fmt.Sprintf(format, args...),
	}); err != nil {
		s.logger.Warn("writing JSON error response", "error", err, "status", status)
	}
}

// writeJSON encodes value as JSON into w. If encoding fails (typically
// because the client disconnected), the error is logged; the caller
// cannot send a corrective response to a dead client.
func (s *apiServer) writeJSON(w http.ResponseWriter, status int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(value); err != nil {
		s.logger.Warn("writing JSON response", "error", err)
	}
}
