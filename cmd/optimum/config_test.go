package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/carzh/optimum/internal/config"
)

func TestISAPreset(t *testing.T) {
	cfg, err := isaPreset("arm64", false, false, false)
	if err != nil {
		t.Fatalf("arm64: %v", err)
	}
	if cfg.Format != config.QOperator || cfg.ActivationsDType != config.QUInt8 {
		t.Fatalf("arm64 dynamic preset: %+v", cfg)
	}

	cfg, err = isaPreset("avx512", true, true, false)
	if err != nil {
		t.Fatalf("avx512: %v", err)
	}
	if cfg.Format != config.QDQ || !cfg.IsStatic || !cfg.PerChannel {
		t.Fatalf("avx512 static preset: %+v", cfg)
	}

	if _, err := isaPreset("sse2", false, false, false); err == nil {
		t.Fatal("expected error for unknown instruction set")
	}
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)

	if cfg := LoadConfig(); cfg.OutputDir != "" || cfg.ISA != "" {
		t.Fatalf("expected zero config without file, got %+v", cfg)
	}

	path := filepath.Join(dir, "optimum", "config.yaml")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	body := "output_dir: /tmp/out\nisa: avx2\nnum_samples: 16\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	cfg := LoadConfig()
	if cfg.OutputDir != "/tmp/out" || cfg.ISA != "avx2" {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if cfg.NumSamples == nil || *cfg.NumSamples != 16 {
		t.Fatalf("num_samples: %+v", cfg.NumSamples)
	}
}
