// Package optimizer rewrites exported graphs into faster equivalent forms.
//
// Rewrites are organised as passes over the graph. The optimization level
// of the config decides which passes run; the optimized graph computes the
// same function as the input within float tolerance.
package optimizer

import (
	"sort"

	"github.com/carzh/optimum/internal/config"
	"github.com/carzh/optimum/internal/exporter"
	"github.com/carzh/optimum/internal/hub"
	"github.com/carzh/optimum/internal/onnx"
	"github.com/carzh/optimum/internal/tokenizer"
)

// fusedOperatorTypes are the operator kinds only ever introduced by fusion.
// A freshly exported graph contains none of them.
var fusedOperatorTypes = []string{
	"Attention",
	"BiasGelu",
	"EmbedLayerNormalization",
	"FastGelu",
	"FusedMatMul",
	"Gelu",
	"SkipLayerNormalization",
}

// Optimizer drives graph optimization for one pretrained model.
type Optimizer struct {
	Model     *hub.Model
	Tokenizer *tokenizer.Tokenizer
}

// FromPretrained resolves a model identifier and returns an optimizer
// bound to it.
func FromPretrained(name string, task hub.Task) (*Optimizer, error) {
	p, err := hub.FromPretrained(name, task)
	if err != nil {
		return nil, err
	}
	return &Optimizer{Model: p.Model, Tokenizer: p.Tokenizer}, nil
}

// Export writes the unoptimized graph to modelPath, then the optimized
// graph to optimizedPath. With level 0 or OnnxRuntimeOnly set the two
// files carry identical graphs.
func (o *Optimizer) Export(modelPath, optimizedPath string, cfg *config.OptimizationConfig) error {
	if err := exporter.Export(o.Model, modelPath); err != nil {
		return err
	}
	m, err := onnx.Load(modelPath)
	if err != nil {
		return err
	}
	if err := Optimize(m, cfg); err != nil {
		return err
	}
	return onnx.Save(m, optimizedPath)
}

// Optimize applies the passes selected by cfg to m in place.
func Optimize(m *onnx.Model, cfg *config.OptimizationConfig) error {
	passes := passesForConfig(cfg)
	if err := applyPasses(m.Graph, passes); err != nil {
		return err
	}
	if len(passes) > 0 {
		ensureContribOpset(m)
	}
	return nil
}

// ensureContribOpset registers the contrib operator domain once any fused
// node references it.
func ensureContribOpset(m *onnx.Model) {
	needed := false
	for _, n := range m.Graph.Nodes {
		if n.Domain == onnx.MSDomain {
			needed = true
			break
		}
	}
	if !needed {
		return
	}
	for _, op := range m.OpsetImports {
		if op.Domain == onnx.MSDomain {
			return
		}
	}
	m.OpsetImports = append(m.OpsetImports, onnx.OpsetID{Domain: onnx.MSDomain, Version: 1})
}

// NodesNumberDifference returns nodes(a) - nodes(b).
func NodesNumberDifference(pathA, pathB string) (int, error) {
	a, err := onnx.Load(pathA)
	if err != nil {
		return 0, err
	}
	b, err := onnx.Load(pathB)
	if err != nil {
		return 0, err
	}
	return len(a.Graph.Nodes) - len(b.Graph.Nodes), nil
}

// FusedOperators returns the sorted fusion-introduced operator kinds
// present in the graph at path.
func FusedOperators(path string) ([]string, error) {
	m, err := onnx.Load(path)
	if err != nil {
		return nil, err
	}
	counts := m.Graph.OperatorCounts()
	var found []string
	for _, op := range fusedOperatorTypes {
		if counts[op] > 0 {
			found = append(found, op)
		}
	}
	return found, nil
}

// OperatorsDifference returns the sorted operator kinds whose node counts
// differ between the graphs at the two paths.
func OperatorsDifference(pathA, pathB string) ([]string, error) {
	a, err := onnx.Load(pathA)
	if err != nil {
		return nil, err
	}
	b, err := onnx.Load(pathB)
	if err != nil {
		return nil, err
	}
	ca, cb := a.Graph.OperatorCounts(), b.Graph.OperatorCounts()
	seen := make(map[string]bool)
	var diff []string
	for op, n := range ca {
		seen[op] = true
		if cb[op] != n {
			diff = append(diff, op)
		}
	}
	for op := range cb {
		if !seen[op] {
			diff = append(diff, op)
		}
	}
	sort.Strings(diff)
	return diff, nil
}
