// Copyright 2026 The Capstan Authors
// SPDX-License-Identifier: Apache-2.0

package service

import (
	"log/slog"
	"os"
)

// NewLogger builds the service logger: JSON records on stderr at the
// named level ("debug", "info", "warn", "error"; case-insensitive,
// slog's "warn+2" offsets work too). Unrecognized names fall back to
// info; a service must not refuse to start over a log-level typo.
//
// Components derive child loggers with logger.With("component", ...)
// so every record names its source.
func NewLogger(levelName string) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(levelName)); err != nil {
		level = slog.LevelInfo
	}

	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
}
