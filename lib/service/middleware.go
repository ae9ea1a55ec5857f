// Copyright 2026 The Capstan Authors
// SPDX-License-Identifier: Apache-2.0

package service

import (
	"log/slog"
	"net/http"
	"time"
)

// RequestLogger wraps a handler with structured request logging.
// Each request produces one log record after the handler returns:
// method, path, status, response bytes, and elapsed time. The path
// is logged without the query string; session identifiers appear
// in the path, but callers may put sensitive material in queries.
func RequestLogger(logger *slog.Logger, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: writer, status: http.StatusOK}

		handler.ServeHTTP(recorder, request)

		logger.Info("http request",
			"method", request.Method,
			"path", request.URL.Path,
			"status", recorder.status,
			"bytes", recorder.bytes,
			"duration", time.Since(start))
	})
}

// statusRecorder captures the status code and response size written
// by a handler. WriteHeader may never be called (implicit 200), so
// status starts at http.StatusOK.
type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int64
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Write(data []byte) (int, error) {
	n, err := r.ResponseWriter.Write(data)
	r.bytes += int64(n)
	return n, err
}
