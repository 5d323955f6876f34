// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// NewLogger builds a slog.Logger configured with the given level, format,
// and output. Supported formats: "json" (default) and "text". Supported
// levels: "debug", "info" (default), "warn", "error". If filePath is
// non-empty, logs go to stdout plus the file (MultiWriter). Returns the
// logger and an io.Closer to call on shutdown to close the file; if
// filePath is empty, the returned Closer is a no-op.
func NewLogger(level, format, filePath string) (*slog.Logger, io.Closer) {
	lvl := parseLevel(level)
	opts := &slog.HandlerOptions{Level: lvl}

	var w io.Writer = os.Stdout
	var closer io.Closer = io.NopCloser(strings.NewReader(""))

	if filePath != "" {
		f, err := os.OpenFile(filePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "WARNING: could not open log file %q: %v (logging to stdout only)\n", filePath, err)
		} else {
			w = io.MultiWriter(os.Stdout, f)
			closer = f
		}
	}

	var handler slog.Handler
	switch strings.ToLower(format) {
	case "text":
		handler = slog.NewTextHandler(w, opts)
	default:
		handler = slog.NewJSONHandler(w, opts)
	}

	return slog.New(handler), closer
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// fanOutHandler dispatches every record to two underlying handlers: the
// shared process logger and a per-flow file logger.
type fanOutHandler struct {
	primary   slog.Handler
	secondary slog.Handler
}

func (h *fanOutHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.primary.Enabled(ctx, level) || h.secondary.Enabled(ctx, level)
}

func (h *fanOutHandler) Handle(ctx context.Context, r slog.Record) error {
	var err error
	if h.primary.Enabled(ctx, r.Level) {
		if e := h.primary.Handle(ctx, r.Clone()); e != nil {
			err = e
		}
	}
	if h.secondary.Enabled(ctx, r.Level) {
		if e := h.secondary.Handle(ctx, r.Clone()); e != nil {
			err = e
		}
	}
	return err
}

func (h *fanOutHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &fanOutHandler{primary: h.primary.WithAttrs(attrs), secondary: h.secondary.WithAttrs(attrs)}
}

func (h *fanOutHandler) WithGroup(name string) slog.Handler {
	return &fanOutHandler{primary: h.primary.WithGroup(name), secondary: h.secondary.WithGroup(name)}
}

// NewFlowLogger creates a logger that fans out to baseLogger's handler
// and to a dedicated JSON file under {flowLogDir}/flow-{flowID}.log, for
// per-flow adamap/DMA/NACK tracing that would otherwise drown in the
// shared process log. Returns the logger, a closer for the per-flow
// file, and the file's path.
func NewFlowLogger(baseLogger *slog.Logger, flowLogDir string, flowID uint16) (*slog.Logger, io.Closer, string, error) {
	if err := os.MkdirAll(flowLogDir, 0755); err != nil {
		return nil, nil, "", fmt.Errorf("creating flow log dir: %w", err)
	}

	logPath := filepath.Join(flowLogDir, fmt.Sprintf("flow-%d.log", flowID))
	f, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, nil, "", fmt.Errorf("opening flow log file: %w", err)
	}

	fileHandler := slog.NewJSONHandler(f, &slog.HandlerOptions{Level: slog.LevelDebug})
	handler := &fanOutHandler{primary: baseLogger.Handler(), secondary: fileHandler}

	return slog.New(handler).With("flow_id", flowID), f, logPath, nil
}

// RemoveFlowLog deletes the per-flow log file; callers invoke it once a
// flow is finished and its log has been drained elsewhere, if desired.
func RemoveFlowLog(flowLogDir string, flowID uint16) error {
	path := filepath.Join(flowLogDir, fmt.Sprintf("flow-%d.log", flowID))
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing flow log file: %w", err)
	}
	return nil
}
