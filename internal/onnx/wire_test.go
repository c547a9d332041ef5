package onnx

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func sampleModel() *Model {
	return &Model{
		IRVersion:    IRVersion,
		ProducerName: "optimum",
		OpsetImports: []OpsetID{{Version: 11}},
		Graph: &Graph{
			Name: "sample",
			Nodes: []*Node{
				{
					Name:    "proj.MatMul",
					OpType:  "MatMul",
					Inputs:  []string{"x", "proj.MatMul.weight"},
					Outputs: []string{"proj"},
				},
				{
					Name:    "act.Softmax",
					OpType:  "Softmax",
					Inputs:  []string{"proj"},
					Outputs: []string{"y"},
					Attributes: []*Attribute{
						IntAttribute("axis", -1),
					},
				},
			},
			Initializers: []*Tensor{
				NewFloatTensor("proj.MatMul.weight", []int64{2, 2}, []float32{1, 2, 3, 4}),
			},
			Inputs:  []*ValueInfo{{Name: "x", ElemType: DataTypeFloat, Dims: []int64{-1, 2}}},
			Outputs: []*ValueInfo{{Name: "y", ElemType: DataTypeFloat, Dims: []int64{-1, 2}}},
		},
	}
}

func TestModelWireRoundTrip(t *testing.T) {
	t.Parallel()

	m := sampleModel()
	decoded, err := Unmarshal(m.Marshal())
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !reflect.DeepEqual(m, decoded) {
		t.Fatalf("round-trip mismatch:\ngot  %+v\nwant %+v", decoded, m)
	}
	if decoded.Opset() != 11 {
		t.Fatalf("opset: got %d want 11", decoded.Opset())
	}
}

func TestLoadSaveFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "model.onnx")
	m := sampleModel()
	if err := Save(m, path); err != nil {
		t.Fatalf("save: %v", err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(loaded.Graph.Nodes) != 2 {
		t.Fatalf("node count: got %d want 2", len(loaded.Graph.Nodes))
	}
	w, err := loaded.Graph.Initializer("proj.MatMul.weight").Float32s()
	if err != nil {
		t.Fatalf("initializer floats: %v", err)
	}
	if len(w) != 4 || w[3] != 4 {
		t.Fatalf("initializer payload mismatch: %v", w)
	}
}

func TestLoadCorruptFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "bad.onnx")
	// A lone tag with a truncated length-delimited payload.
	if err := os.WriteFile(path, []byte{0x3a, 0xff}, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := Load(path); !errors.Is(err, ErrCorruptModel) {
		t.Fatalf("expected ErrCorruptModel, got %v", err)
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	if _, err := Load(filepath.Join(t.TempDir(), "nope.onnx")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestGraphHelpers(t *testing.T) {
	t.Parallel()

	g := sampleModel().Graph
	counts := g.OperatorCounts()
	if counts["MatMul"] != 1 || counts["Softmax"] != 1 {
		t.Fatalf("operator counts: %v", counts)
	}
	consumers := g.ConsumerMap()
	if got := SoleConsumer(consumers, "proj"); got == nil || got.OpType != "Softmax" {
		t.Fatalf("sole consumer of proj: %+v", got)
	}
	if SoleConsumer(consumers, "missing") != nil {
		t.Fatalf("expected nil consumer for unknown value")
	}
	if !g.IsGraphOutput("y") || g.IsGraphOutput("proj") {
		t.Fatalf("graph output detection broken")
	}
}
