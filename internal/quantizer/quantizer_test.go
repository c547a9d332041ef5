package quantizer

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/carzh/optimum/internal/calibrate"
	"github.com/carzh/optimum/internal/config"
	"github.com/carzh/optimum/internal/dataset"
	"github.com/carzh/optimum/internal/exporter"
	"github.com/carzh/optimum/internal/hub"
	"github.com/carzh/optimum/internal/onnx"
)

// quantizedMatMulWeights counts initializers carrying both the MatMul
// naming marker and the quantization suffix.
func quantizedMatMulWeights(t *testing.T, path string) int {
	t.Helper()
	m, err := onnx.Load(path)
	if err != nil {
		t.Fatalf("load %s: %v", path, err)
	}
	count := 0
	for name := range m.Graph.InitializerNames() {
		if strings.Contains(name, "MatMul") && strings.Contains(name, "quantized") {
			count++
		}
	}
	return count
}

func TestDynamicQuantization(t *testing.T) {
	t.Parallel()

	cases := []struct {
		model string
		want  int
	}{
		{"bert-base-cased", 72},
		{"roberta-base", 72},
		{"distilbert-base-uncased", 36},
		{"facebook/bart-base", 96},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(strings.ReplaceAll(tc.model, "/", "_"), func(t *testing.T) {
			t.Parallel()

			q, err := FromPretrained(tc.model, hub.TaskSequenceClassification)
			if err != nil {
				t.Fatalf("from pretrained: %v", err)
			}
			dir := t.TempDir()
			modelPath := filepath.Join(dir, "model.onnx")
			quantizedPath := filepath.Join(dir, "model_quantized.onnx")

			cfg := config.AVX512(false, false, false)
			if err := q.Export(modelPath, quantizedPath, nil, cfg); err != nil {
				t.Fatalf("export: %v", err)
			}
			if got := quantizedMatMulWeights(t, quantizedPath); got != tc.want {
				t.Fatalf("expected %d quantized MatMul weights, got %d", tc.want, got)
			}

			m, err := onnx.Load(quantizedPath)
			if err != nil {
				t.Fatalf("load: %v", err)
			}
			counts := m.Graph.OperatorCounts()
			if counts["MatMulInteger"] != tc.want {
				t.Fatalf("expected %d MatMulInteger nodes, got %d", tc.want, counts["MatMulInteger"])
			}
			if counts["DynamicQuantizeLinear"] != tc.want {
				t.Fatalf("expected %d DynamicQuantizeLinear nodes, got %d", tc.want, counts["DynamicQuantizeLinear"])
			}
		})
	}
}

func TestStaticQuantization(t *testing.T) {
	t.Parallel()

	q, err := FromPretrained("bert-base-cased", hub.TaskSequenceClassification)
	if err != nil {
		t.Fatalf("from pretrained: %v", err)
	}
	dir := t.TempDir()
	modelPath := filepath.Join(dir, "model.onnx")
	quantizedPath := filepath.Join(dir, "model_quantized.onnx")
	if err := exporter.Export(q.Model, modelPath); err != nil {
		t.Fatalf("export base: %v", err)
	}

	ds, err := q.CalibrationDataset("glue", "sst2", nil, 40, "train")
	if err != nil {
		t.Fatalf("calibration dataset: %v", err)
	}
	if ds.Len() != 40 {
		t.Fatalf("expected 40 calibration samples, got %d", ds.Len())
	}
	calCfg := calibrate.MinMax(ds)
	ranges, err := q.Fit(ds, calCfg, modelPath)
	if err != nil {
		t.Fatalf("fit: %v", err)
	}
	if len(ranges) == 0 {
		t.Fatal("fit produced no activation ranges")
	}
	for name, r := range ranges {
		if r.Min > r.Max {
			t.Fatalf("inverted range for %s: %+v", name, r)
		}
	}

	cfg := config.AVX512(true, false, false)
	if err := q.Export(modelPath, quantizedPath, ranges, cfg); err != nil {
		t.Fatalf("export: %v", err)
	}
	if got := quantizedMatMulWeights(t, quantizedPath); got != 72 {
		t.Fatalf("expected 72 quantized MatMul weights, got %d", got)
	}

	m, err := onnx.Load(quantizedPath)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	counts := m.Graph.OperatorCounts()
	if counts["DequantizeLinear"] == 0 || counts["QuantizeLinear"] == 0 {
		t.Fatalf("expected QDQ boundaries, got %v", counts)
	}
	if counts["MatMulInteger"] != 0 {
		t.Fatalf("static QDQ should keep float MatMul, got %d MatMulInteger", counts["MatMulInteger"])
	}
	if counts["MatMul"] == 0 {
		t.Fatal("static QDQ dropped the float MatMul nodes")
	}
}

func TestStaticQuantizationRequiresRanges(t *testing.T) {
	t.Parallel()

	q, err := FromPretrained("distilbert-base-uncased", hub.TaskSequenceClassification)
	if err != nil {
		t.Fatalf("from pretrained: %v", err)
	}
	dir := t.TempDir()
	cfg := config.ARM64(true, false)
	err = q.Export(filepath.Join(dir, "model.onnx"), filepath.Join(dir, "model_quantized.onnx"), nil, cfg)
	if !errors.Is(err, ErrMissingCalibration) {
		t.Fatalf("expected ErrMissingCalibration, got %v", err)
	}
}

func TestCalibrationDatasetPreprocessing(t *testing.T) {
	t.Parallel()

	q, err := FromPretrained("distilbert-base-uncased", hub.TaskSequenceClassification)
	if err != nil {
		t.Fatalf("from pretrained: %v", err)
	}
	upper := func(ex dataset.Example) dataset.Example {
		out := dataset.Example{}
		for k, v := range ex {
			out[k] = v
		}
		if s, ok := ex["sentence"].(string); ok {
			out["sentence"] = strings.ToUpper(s)
		}
		return out
	}
	ds, err := q.CalibrationDataset("glue", "sst2", upper, 8, "train")
	if err != nil {
		t.Fatalf("calibration dataset: %v", err)
	}
	for _, ex := range ds.Examples {
		s, ok := ex["sentence"].(string)
		if !ok {
			t.Fatalf("example without sentence: %v", ex)
		}
		if s != strings.ToUpper(s) {
			t.Fatalf("preprocessing not applied: %q", s)
		}
	}
}

func TestFitProgressCallback(t *testing.T) {
	t.Parallel()

	q, err := FromPretrained("distilbert-base-uncased", hub.TaskSequenceClassification)
	if err != nil {
		t.Fatalf("from pretrained: %v", err)
	}
	dir := t.TempDir()
	modelPath := filepath.Join(dir, "model.onnx")
	if err := exporter.Export(q.Model, modelPath); err != nil {
		t.Fatalf("export: %v", err)
	}

	var calls int
	q.Progress = func(done, total int) {
		calls++
		if total != 4 || done != calls {
			t.Fatalf("progress called with done=%d total=%d at call %d", done, total, calls)
		}
	}
	ds, err := q.CalibrationDataset("glue", "sst2", nil, 4, "train")
	if err != nil {
		t.Fatalf("calibration dataset: %v", err)
	}
	if _, err := q.Fit(ds, calibrate.MinMax(ds), modelPath); err != nil {
		t.Fatalf("fit: %v", err)
	}
	if calls != 4 {
		t.Fatalf("expected 4 progress calls, got %d", calls)
	}
}
