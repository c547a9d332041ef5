package optimizer

import (
	"fmt"

	"github.com/carzh/optimum/internal/config"
	"github.com/carzh/optimum/internal/onnx"
)

// Pass is a single graph rewrite. Passes mutate the graph in place and must
// preserve the computation (within float tolerance).
type Pass interface {
	Name() string
	Apply(g *onnx.Graph) error
}

// passesForConfig selects the pass pipeline for a config.
//
// Level 0 disables everything. Level 1 enables the basic local fusions,
// level 2 adds residual fusion, level 99 adds attention packing. When
// OnnxRuntimeOnly is set, offline optimization is skipped entirely and the
// serialized graph stays untouched.
func passesForConfig(cfg *config.OptimizationConfig) []Pass {
	if cfg == nil || cfg.OnnxRuntimeOnly || cfg.OptimizationLevel <= 0 {
		return nil
	}
	passes := []Pass{geluFusion{}, biasGeluFusion{}, mulByInverse{}}
	if cfg.OptimizationLevel >= 2 {
		passes = append(passes, skipLayerNormFusion{})
	}
	if cfg.OptimizationLevel >= 99 {
		passes = append(passes, attentionFusion{})
	}
	return passes
}

func applyPasses(g *onnx.Graph, passes []Pass) error {
	for _, p := range passes {
		if err := p.Apply(g); err != nil {
			return fmt.Errorf("pass %s: %w", p.Name(), err)
		}
	}
	if len(passes) > 0 {
		pruneInitializers(g)
	}
	return nil
}

// pruneInitializers drops initializers no node references anymore.
func pruneInitializers(g *onnx.Graph) {
	used := make(map[string]bool)
	for _, n := range g.Nodes {
		for _, in := range n.Inputs {
			used[in] = true
		}
	}
	kept := g.Initializers[:0]
	for _, t := range g.Initializers {
		if used[t.Name] {
			kept = append(kept, t)
		}
	}
	g.Initializers = kept
}

// replaceNodes removes the drop set and inserts fused at the position of
// the first dropped node, keeping the remaining order intact.
func replaceNodes(g *onnx.Graph, drop map[*onnx.Node]bool, fused *onnx.Node) {
	out := make([]*onnx.Node, 0, len(g.Nodes))
	inserted := false
	for _, n := range g.Nodes {
		if drop[n] {
			if !inserted {
				out = append(out, fused)
				inserted = true
			}
			continue
		}
		out = append(out, n)
	}
	g.Nodes = out
}

// scalarValue returns the single float carried by a scalar initializer,
// or false when name is not a scalar float initializer.
func scalarValue(g *onnx.Graph, name string) (float32, bool) {
	t := g.Initializer(name)
	if t == nil || t.NumElements() != 1 {
		return 0, false
	}
	vals, err := t.Float32s()
	if err != nil || len(vals) != 1 {
		return 0, false
	}
	return vals[0], true
}

// exclusiveChain reports whether every named value is consumed by exactly
// one node and is not a graph output, so the chain can be collapsed.
func exclusiveChain(g *onnx.Graph, consumers map[string][]*onnx.Node, values ...string) bool {
	for _, v := range values {
		if len(consumers[v]) != 1 || g.IsGraphOutput(v) {
			return false
		}
	}
	return true
}
