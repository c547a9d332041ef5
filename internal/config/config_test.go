package config

import (
	"bytes"
	"errors"
	"reflect"
	"testing"
)

func TestORTConfigSaveAndLoad(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	quantization := ARM64(false, false)
	optimization := &OptimizationConfig{OptimizationLevel: 2}
	ortConfig := &ORTConfig{Opset: 11, Quantization: quantization, Optimization: optimization}

	if err := ortConfig.Save(dir); err != nil {
		t.Fatalf("save: %v", err)
	}
	loaded, err := LoadORTConfig(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	got, err := loaded.ToDict()
	if err != nil {
		t.Fatalf("loaded to dict: %v", err)
	}
	want, err := ortConfig.ToDict()
	if err != nil {
		t.Fatalf("original to dict: %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Fatalf("round-trip mismatch:\ngot  %s\nwant %s", got, want)
	}
}

func TestOptimizationConfigRoundTrip(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	cfg := &OptimizationConfig{OptimizationLevel: 99, OnnxRuntimeOnly: true}
	if err := cfg.Save(dir); err != nil {
		t.Fatalf("save: %v", err)
	}
	loaded, err := LoadOptimizationConfig(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !reflect.DeepEqual(cfg, loaded) {
		t.Fatalf("round-trip mismatch: got %+v want %+v", loaded, cfg)
	}
}

func TestQuantizationConfigRoundTrip(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	cfg := &QuantizationConfig{
		IsStatic:            true,
		Format:              QDQ,
		Mode:                QLinearOps,
		ActivationsDType:    QInt8,
		WeightsDType:        QInt8,
		PerChannel:          true,
		ReduceRange:         true,
		OperatorsToQuantize: []string{"MatMul", "Gemm"},
	}
	if err := cfg.Save(dir); err != nil {
		t.Fatalf("save: %v", err)
	}
	loaded, err := LoadQuantizationConfig(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !reflect.DeepEqual(cfg, loaded) {
		t.Fatalf("round-trip mismatch: got %+v want %+v", loaded, cfg)
	}
}

func TestLoadFromEmptyDirectory(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	if _, err := LoadORTConfig(dir); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := LoadQuantizationConfig(dir); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := LoadOptimizationConfig(dir); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPresetShape(t *testing.T) {
	t.Parallel()

	dynamic := ARM64(false, false)
	if dynamic.IsStatic || dynamic.Format != QOperator || dynamic.Mode != IntegerOps {
		t.Fatalf("dynamic arm64 preset wrong: %+v", dynamic)
	}
	if dynamic.ActivationsDType != QUInt8 || dynamic.WeightsDType != QInt8 {
		t.Fatalf("dynamic arm64 dtypes wrong: %+v", dynamic)
	}

	static := AVX2(true, true, true)
	if !static.IsStatic || static.Format != QDQ || static.Mode != QLinearOps {
		t.Fatalf("static avx2 preset wrong: %+v", static)
	}
	if !static.ReduceRange {
		t.Fatalf("avx2 preset should honour reduce_range")
	}
}
