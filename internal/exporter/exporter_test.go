package exporter

import (
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/carzh/optimum/internal/hub"
	"github.com/carzh/optimum/internal/onnx"
)

func buildFor(t *testing.T, name string) *onnx.Model {
	t.Helper()
	p, err := hub.FromPretrained(name, hub.TaskSequenceClassification)
	if err != nil {
		t.Fatalf("from pretrained %s: %v", name, err)
	}
	m, err := Build(p.Model)
	if err != nil {
		t.Fatalf("build %s: %v", name, err)
	}
	return m
}

func countMatMulWeights(g *onnx.Graph) int {
	n := 0
	for _, init := range g.Initializers {
		if strings.Contains(init.Name, "MatMul") {
			n++
		}
	}
	return n
}

func TestBuildWeightMatMulCounts(t *testing.T) {
	t.Parallel()

	expected := map[string]int{
		"bert-base-cased":         72,
		"roberta-base":            72,
		"distilbert-base-uncased": 36,
		"facebook/bart-base":      96,
	}
	for name, want := range expected {
		m := buildFor(t, name)
		if got := countMatMulWeights(m.Graph); got != want {
			t.Fatalf("%s: weight MatMul count got %d want %d", name, got, want)
		}
	}
}

func TestBuildDeterministic(t *testing.T) {
	t.Parallel()

	a := buildFor(t, "bert-base-cased")
	b := buildFor(t, "bert-base-cased")
	if !reflect.DeepEqual(a, b) {
		t.Fatalf("exports of the same identifier differ")
	}
}

func TestExportRoundTrip(t *testing.T) {
	t.Parallel()

	p, err := hub.FromPretrained("distilbert-base-uncased", hub.TaskSequenceClassification)
	if err != nil {
		t.Fatalf("from pretrained: %v", err)
	}
	path := filepath.Join(t.TempDir(), "model.onnx")
	if err := Export(p.Model, path); err != nil {
		t.Fatalf("export: %v", err)
	}
	loaded, err := onnx.Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	built, err := Build(p.Model)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if len(loaded.Graph.Nodes) != len(built.Graph.Nodes) {
		t.Fatalf("node count changed across save/load: %d vs %d",
			len(loaded.Graph.Nodes), len(built.Graph.Nodes))
	}
	if loaded.Opset() != onnx.DefaultOpset {
		t.Fatalf("opset: got %d want %d", loaded.Opset(), onnx.DefaultOpset)
	}
}

func TestGraphShape(t *testing.T) {
	t.Parallel()

	m := buildFor(t, "bert-base-cased")
	g := m.Graph
	if len(g.Inputs) != 2 || g.Inputs[0].Name != "input_ids" || g.Inputs[1].Name != "attention_mask" {
		t.Fatalf("graph inputs wrong: %+v", g.Inputs)
	}
	if len(g.Outputs) != 1 || g.Outputs[0].Name != "logits" {
		t.Fatalf("graph outputs wrong: %+v", g.Outputs)
	}
	counts := g.OperatorCounts()
	// Two head Gemms, no fused operators in a fresh export.
	if counts["Gemm"] != 2 {
		t.Fatalf("expected 2 head Gemm nodes, got %d", counts["Gemm"])
	}
	for _, fused := range []string{"Gelu", "BiasGelu", "SkipLayerNormalization", "Attention"} {
		if counts[fused] != 0 {
			t.Fatalf("fresh export contains fused operator %s", fused)
		}
	}
	// Six weight MatMuls plus two activation MatMuls per layer.
	if counts["MatMul"] != 12*8 {
		t.Fatalf("MatMul node count got %d want %d", counts["MatMul"], 12*8)
	}
}
