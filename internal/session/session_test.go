package session

import (
	"errors"
	"math"
	"testing"

	"github.com/carzh/optimum/internal/exporter"
	"github.com/carzh/optimum/internal/hub"
	"github.com/carzh/optimum/internal/onnx"
	"github.com/carzh/optimum/internal/tokenizer"
)

func TestRunSmallGraph(t *testing.T) {
	t.Parallel()

	// y = softmax(x * W + b)
	m := &onnx.Model{
		IRVersion:    onnx.IRVersion,
		OpsetImports: []onnx.OpsetID{{Version: onnx.DefaultOpset}},
		Graph: &onnx.Graph{
			Name: "tiny",
			Nodes: []*onnx.Node{
				{OpType: "MatMul", Name: "proj", Inputs: []string{"x", "w"}, Outputs: []string{"xw"}},
				{OpType: "Add", Name: "bias", Inputs: []string{"xw", "b"}, Outputs: []string{"z"}},
				{OpType: "Softmax", Name: "act", Inputs: []string{"z"}, Outputs: []string{"y"},
					Attributes: []*onnx.Attribute{onnx.IntAttribute("axis", -1)}},
			},
			Initializers: []*onnx.Tensor{
				onnx.NewFloatTensor("w", []int64{2, 2}, []float32{1, 0, 0, 1}),
				onnx.NewFloatTensor("b", []int64{2}, []float32{0, 0}),
			},
			Inputs:  []*onnx.ValueInfo{{Name: "x", ElemType: onnx.DataTypeFloat, Dims: []int64{1, 2}}},
			Outputs: []*onnx.ValueInfo{{Name: "y", ElemType: onnx.DataTypeFloat, Dims: []int64{1, 2}}},
		},
	}
	s, err := New(m)
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	out, err := s.Run(map[string]*Tensor{"x": NewFloat([]int{1, 2}, []float32{0, 0})})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	y := out["y"]
	if y == nil || len(y.F) != 2 {
		t.Fatalf("bad output: %+v", y)
	}
	if math.Abs(float64(y.F[0])-0.5) > 1e-6 || math.Abs(float64(y.F[1])-0.5) > 1e-6 {
		t.Fatalf("softmax of zeros should be uniform: %v", y.F)
	}
}

func TestRunMissingInput(t *testing.T) {
	t.Parallel()

	m := &onnx.Model{
		Graph: &onnx.Graph{
			Inputs:  []*onnx.ValueInfo{{Name: "x", ElemType: onnx.DataTypeFloat}},
			Outputs: []*onnx.ValueInfo{{Name: "x", ElemType: onnx.DataTypeFloat}},
		},
	}
	s, err := New(m)
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	if _, err := s.Run(nil); !errors.Is(err, ErrMissingValue) {
		t.Fatalf("expected ErrMissingValue, got %v", err)
	}
}

func TestRunUnsupportedOperator(t *testing.T) {
	t.Parallel()

	m := &onnx.Model{
		Graph: &onnx.Graph{
			Nodes:   []*onnx.Node{{OpType: "Conv", Name: "conv", Inputs: []string{"x"}, Outputs: []string{"y"}}},
			Inputs:  []*onnx.ValueInfo{{Name: "x", ElemType: onnx.DataTypeFloat}},
			Outputs: []*onnx.ValueInfo{{Name: "y", ElemType: onnx.DataTypeFloat}},
		},
	}
	s, err := New(m)
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	_, err = s.Run(map[string]*Tensor{"x": NewFloat([]int{1}, []float32{0})})
	if !errors.Is(err, ErrUnsupportedOp) {
		t.Fatalf("expected ErrUnsupportedOp, got %v", err)
	}
}

func TestRunExportedModel(t *testing.T) {
	t.Parallel()

	p, err := hub.FromPretrained("distilbert-base-uncased", hub.TaskSequenceClassification)
	if err != nil {
		t.Fatalf("from pretrained: %v", err)
	}
	m, err := exporter.Build(p.Model)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	s, err := New(m)
	if err != nil {
		t.Fatalf("new session: %v", err)
	}

	enc := p.Tokenizer.Encode("This is a sample input", tokenizer.EncodeOptions{MaxLength: p.Model.Arch.SeqLen})
	inputs := map[string]*Tensor{
		"input_ids":      NewInt64([]int{len(enc.InputIDs)}, enc.InputIDs),
		"attention_mask": NewInt64([]int{len(enc.AttentionMask)}, enc.AttentionMask),
	}

	out, err := s.Run(inputs)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	logits := out["logits"]
	if logits == nil || logits.NumElements() != p.Model.NumLabels {
		t.Fatalf("bad logits: %+v", logits)
	}
	for i, v := range logits.F {
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			t.Fatalf("logit %d is not finite: %v", i, v)
		}
	}

	// Same input twice gives the same logits.
	again, err := s.Run(inputs)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	for i := range logits.F {
		if logits.F[i] != again["logits"].F[i] {
			t.Fatalf("run is not deterministic at logit %d", i)
		}
	}

	all, err := s.RunAll(inputs)
	if err != nil {
		t.Fatalf("run all: %v", err)
	}
	if _, ok := all["embeddings.output"]; !ok {
		t.Fatalf("RunAll should expose intermediate activations")
	}
}
