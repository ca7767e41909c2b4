// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package logging builds the process logger from the [log] config section.
//
// The TUI owns the terminal, so Init always writes to a file; commands that
// print to stdout (ask, models) use the same file logger.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/jeranaias/rigrun-desk/internal/config"
)

var (
	mu     sync.RWMutex
	std    *logrus.Logger
	closer io.Closer
)

// New returns a logger writing to out at the given level and format.
// Unknown levels fall back to info; unknown formats fall back to text.
func New(level, format string, out io.Writer) *logrus.Logger {
	log := logrus.New()
	log.SetOutput(out)

	lvl, err := logrus.ParseLevel(strings.TrimSpace(level))
	if err != nil {
		lvl = logrus.InfoLevel
	}
	log.SetLevel(lvl)

	switch strings.ToLower(strings.TrimSpace(format)) {
	case "json":
		log.SetFormatter(&logrus.JSONFormatter{})
	default:
		log.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:    true,
			DisableColors:    true,
			DisableQuote:     false,
			QuoteEmptyFields: true,
		})
	}
	return log
}

// Discard returns a logger that drops everything.
func Discard() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	log.SetLevel(logrus.PanicLevel)
	return log
}

// Init opens the configured log file and installs the logger returned by L.
// The previous file, if any, is closed.
func Init(cfg *config.Config) (*logrus.Logger, error) {
	path, err := cfg.LogPath()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}

	log := New(cfg.Log.Level, cfg.Log.Format, f)

	mu.Lock()
	old := closer
	std, closer = log, f
	mu.Unlock()

	if old != nil {
		_ = old.Close()
	}
	return log, nil
}

// L returns the installed logger, or a discard logger before Init.
func L() *logrus.Logger {
	mu.RLock()
	log := std
	mu.RUnlock()
	if log != nil {
		return log
	}

	mu.Lock()
	defer mu.Unlock()
	if std == nil {
		std = Discard()
	}
	return std
}

// Set installs log as the process logger without touching any file.
func Set(log *logrus.Logger) {
	mu.Lock()
	std = log
	mu.Unlock()
}

// Close flushes and closes the log file opened by Init.
func Close() error {
	mu.Lock()
	c := closer
	closer = nil
	std = nil
	mu.Unlock()
	if c == nil {
		return nil
	}
	return c.Close()
}
