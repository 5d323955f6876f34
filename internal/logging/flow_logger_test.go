// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewLogger_JSONFormat(t *testing.T) {
	logger, closer := NewLogger("info", "json", "")
	defer closer.Close()
	if logger == nil {
		t.Fatal("expected non-nil logger")
	}
}

func TestNewLogger_TextFormat(t *testing.T) {
	logger, closer := NewLogger("debug", "text", "")
	defer closer.Close()
	if logger == nil {
		t.Fatal("expected non-nil logger")
	}
}

func TestNewLogger_DefaultFormat(t *testing.T) {
	// Unknown format should fall back to the default (JSON).
	logger, closer := NewLogger("info", "unknown", "")
	defer closer.Close()
	if logger == nil {
		t.Fatal("expected non-nil logger")
	}
}

func TestNewLogger_AllLevels(t *testing.T) {
	levels := []string{"debug", "info", "warn", "warning", "error", "unknown"}
	for _, level := range levels {
		logger, closer := NewLogger(level, "json", "")
		defer closer.Close()
		if logger == nil {
			t.Errorf("expected non-nil logger for level %q", level)
		}
	}
}

func TestNewLogger_WithFileOutput(t *testing.T) {
	dir := t.TempDir()
	logFile := filepath.Join(dir, "test.log")

	logger, closer := NewLogger("info", "json", logFile)
	if logger == nil {
		t.Fatal("expected non-nil logger")
	}

	logger.Info("test message", "key", "value")
	closer.Close()

	data, err := os.ReadFile(logFile)
	if err != nil {
		t.Fatalf("reading log file: %v", err)
	}

	content := string(data)
	if !strings.Contains(content, "test message") {
		t.Errorf("expected log file to contain 'test message', got: %s", content)
	}
	if !strings.Contains(content, "key") {
		t.Errorf("expected log file to contain 'key', got: %s", content)
	}
}

func TestNewLogger_WithFileOutput_InvalidPath(t *testing.T) {
	// Invalid path: should warn on stderr and still return a working logger.
	logger, closer := NewLogger("info", "json", "/nonexistent/dir/test.log")
	defer closer.Close()

	if logger == nil {
		t.Fatal("expected non-nil logger even with invalid file path")
	}
	logger.Info("still works")
}

func TestNewFlowLogger_WritesToPerFlowFile(t *testing.T) {
	dir := t.TempDir()
	base, baseCloser := NewLogger("info", "json", "")
	defer baseCloser.Close()

	logger, closer, path, err := NewFlowLogger(base, dir, 42)
	if err != nil {
		t.Fatalf("NewFlowLogger: %v", err)
	}
	defer closer.Close()

	if filepath.Dir(path) != dir {
		t.Fatalf("expected log path under %q, got %q", dir, path)
	}

	logger.Info("adamap recorded", "seq", 7)
	closer.Close()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading flow log file: %v", err)
	}
	content := string(data)
	if !strings.Contains(content, "adamap recorded") {
		t.Errorf("expected flow log to contain 'adamap recorded', got: %s", content)
	}
	if !strings.Contains(content, `"flow_id":42`) {
		t.Errorf("expected flow log to be tagged with flow_id 42, got: %s", content)
	}
}

func TestRemoveFlowLog_DeletesFileAndToleratesMissing(t *testing.T) {
	dir := t.TempDir()
	base, baseCloser := NewLogger("info", "json", "")
	defer baseCloser.Close()

	_, closer, path, err := NewFlowLogger(base, dir, 7)
	if err != nil {
		t.Fatalf("NewFlowLogger: %v", err)
	}
	closer.Close()

	if err := RemoveFlowLog(dir, 7); err != nil {
		t.Fatalf("RemoveFlowLog: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("expected flow log file to be removed, stat err: %v", err)
	}

	if err := RemoveFlowLog(dir, 7); err != nil {
		t.Fatalf("RemoveFlowLog on already-removed file should be a no-op, got: %v", err)
	}
}
