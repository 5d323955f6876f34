package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTempEngineConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "engine.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("writing temp config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeTempEngineConfig(t, "flow:\n  bitmap_size: 64\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Flow.BitmapSize != 64 {
		t.Fatalf("expected bitmap_size 64, got %d", cfg.Flow.BitmapSize)
	}
	if cfg.Flow.LookupTableLruSize != 1 {
		t.Fatalf("expected default lru size 1, got %d", cfg.Flow.LookupTableLruSize)
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "json" {
		t.Fatalf("unexpected logging defaults: %+v", cfg.Logging)
	}
	if cfg.Observability.RingCapacity != 4096 {
		t.Fatalf("unexpected ring capacity default: %d", cfg.Observability.RingCapacity)
	}
}

func TestLoadRejectsOversizedBitmap(t *testing.T) {
	path := writeTempEngineConfig(t, "flow:\n  bitmap_size: 512\n")
	if _, err := Load(path); err == nil {
		t.Fatalf("expected an error for bitmap_size > 256")
	}
}

func TestLoadRejectsBadLoggingLevel(t *testing.T) {
	path := writeTempEngineConfig(t, "logging:\n  level: verbose\n")
	if _, err := Load(path); err == nil {
		t.Fatalf("expected an error for invalid logging level")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/engine.yaml"); err == nil {
		t.Fatalf("expected an error for a missing file")
	}
}
