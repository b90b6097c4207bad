package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.txt")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadOverlaysDefaults(t *testing.T) {
	path := writeConfig(t, "blockSize 128\nloudnessFactor 0.5\nenableCrossfading True\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.BlockSize != 128 {
		t.Fatalf("BlockSize = %d, want 128", cfg.BlockSize)
	}
	if cfg.LoudnessFactor != 0.5 {
		t.Fatalf("LoudnessFactor = %v, want 0.5", cfg.LoudnessFactor)
	}
	if !cfg.EnableCrossfading {
		t.Fatalf("EnableCrossfading should be true")
	}
	// Untouched defaults survive.
	if cfg.MaxChannels != 8 {
		t.Fatalf("MaxChannels = %d, want default 8", cfg.MaxChannels)
	}
}

func TestLoadSkipsCommentsAndBlankLines(t *testing.T) {
	path := writeConfig(t, "# comment\n\nblockSize 64\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.BlockSize != 64 {
		t.Fatalf("BlockSize = %d, want 64", cfg.BlockSize)
	}
}

func TestLoadIgnoresUnknownKeys(t *testing.T) {
	path := writeConfig(t, "somethingMadeUp 42\nblockSize 32\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unknown keys should not be fatal: %v", err)
	}
	if cfg.BlockSize != 32 {
		t.Fatalf("BlockSize = %d, want 32", cfg.BlockSize)
	}
}

func TestLoadIgnoresLoopSound(t *testing.T) {
	// loopSound has no effect in a server driven purely by inbound
	// requests; it is accepted as a boolean key and must not be fatal or
	// disturb the other keys.
	path := writeConfig(t, "loopSound True\nblockSize 16\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("loopSound should be ignored, not fatal: %v", err)
	}
	if cfg.BlockSize != 16 {
		t.Fatalf("BlockSize = %d, want 16", cfg.BlockSize)
	}
}

func TestLoadRejectsMalformedValue(t *testing.T) {
	path := writeConfig(t, "blockSize notAnInt\n")
	if _, err := Load(path); err == nil {
		t.Fatalf("expected error for non-integer blockSize")
	}
}

func TestLoadRejectsMissingValue(t *testing.T) {
	path := writeConfig(t, "blockSize\n")
	if _, err := Load(path); err == nil {
		t.Fatalf("expected error for missing value")
	}
}
