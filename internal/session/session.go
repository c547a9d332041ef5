// Package session executes interchange graphs on the CPU.
//
// The interpreter covers the operator set produced by the exporter plus the
// fused operators the optimizer introduces. It exists for validation and
// calibration: one-shot, synchronous runs with no session state carried
// across calls.
package session

import (
	"errors"
	"fmt"

	"github.com/carzh/optimum/internal/onnx"
)

var (
	ErrUnsupportedOp = errors.New("unsupported operator")
	ErrMissingValue  = errors.New("missing graph value")
	ErrShape         = errors.New("shape mismatch")
)

// Session holds a loaded graph and its materialized initializers.
type Session struct {
	model *onnx.Model
	inits map[string]*Tensor
}

// Open loads a model file into a session.
func Open(path string) (*Session, error) {
	m, err := onnx.Load(path)
	if err != nil {
		return nil, err
	}
	return New(m)
}

// New builds a session over an in-memory model.
func New(m *onnx.Model) (*Session, error) {
	if m.Graph == nil {
		return nil, fmt.Errorf("model has no graph: %w", onnx.ErrCorruptModel)
	}
	inits := make(map[string]*Tensor, len(m.Graph.Initializers))
	for _, t := range m.Graph.Initializers {
		rt, err := materialize(t)
		if err != nil {
			return nil, err
		}
		inits[t.Name] = rt
	}
	return &Session{model: m, inits: inits}, nil
}

// Run executes the graph and returns its declared outputs.
func (s *Session) Run(inputs map[string]*Tensor) (map[string]*Tensor, error) {
	values, err := s.execute(inputs)
	if err != nil {
		return nil, err
	}
	outputs := make(map[string]*Tensor, len(s.model.Graph.Outputs))
	for _, out := range s.model.Graph.Outputs {
		v, ok := values[out.Name]
		if !ok {
			return nil, fmt.Errorf("output %s: %w", out.Name, ErrMissingValue)
		}
		outputs[out.Name] = v
	}
	return outputs, nil
}

// RunAll executes the graph and returns every node output, keyed by value
// name. Used by calibration to observe intermediate activations.
func (s *Session) RunAll(inputs map[string]*Tensor) (map[string]*Tensor, error) {
	values, err := s.execute(inputs)
	if err != nil {
		return nil, err
	}
	produced := make(map[string]*Tensor)
	for _, n := range s.model.Graph.Nodes {
		for _, out := range n.Outputs {
			if v, ok := values[out]; ok {
				produced[out] = v
			}
		}
	}
	return produced, nil
}

func (s *Session) execute(inputs map[string]*Tensor) (map[string]*Tensor, error) {
	values := make(map[string]*Tensor, len(s.inits)+len(s.model.Graph.Nodes))
	for name, t := range s.inits {
		values[name] = t
	}
	for _, in := range s.model.Graph.Inputs {
		v, ok := inputs[in.Name]
		if !ok {
			return nil, fmt.Errorf("input %s: %w", in.Name, ErrMissingValue)
		}
		values[in.Name] = v
	}
	for _, node := range s.model.Graph.Nodes {
		args := make([]*Tensor, len(node.Inputs))
		for i, name := range node.Inputs {
			v, ok := values[name]
			if !ok {
				return nil, fmt.Errorf("node %s input %s: %w", node.Name, name, ErrMissingValue)
			}
			args[i] = v
		}
		outs, err := evalNode(node, args)
		if err != nil {
			return nil, fmt.Errorf("node %s (%s): %w", node.Name, node.OpType, err)
		}
		for i, name := range node.Outputs {
			if i < len(outs) && name != "" {
				values[name] = outs[i]
			}
		}
	}
	return values, nil
}

func materialize(t *onnx.Tensor) (*Tensor, error) {
	dims := make([]int, len(t.Dims))
	for i, d := range t.Dims {
		dims[i] = int(d)
	}
	switch t.DataType {
	case onnx.DataTypeInt64:
		data, err := t.Int64s()
		if err != nil {
			return nil, err
		}
		return NewInt64(dims, data), nil
	default:
		data, err := t.Float32s()
		if err != nil {
			return nil, err
		}
		return NewFloat(dims, data), nil
	}
}
