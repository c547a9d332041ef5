package optimizer

import (
	"math"
	"strings"

	"github.com/carzh/optimum/internal/onnx"
)

// geluFusion collapses the erf decomposition
//
//	Div(x, sqrt2) -> Erf -> Add(., 1) -> Mul(x, .) -> Mul(., 0.5)
//
// into a single Gelu node.
type geluFusion struct{}

func (geluFusion) Name() string { return "gelu" }

func (geluFusion) Apply(g *onnx.Graph) error {
	for {
		consumers := g.ConsumerMap()
		fused := false
		for _, div := range g.Nodes {
			if div.OpType != "Div" || len(div.Inputs) != 2 {
				continue
			}
			if v, ok := scalarValue(g, div.Inputs[1]); !ok || !approx(v, math.Sqrt2) {
				continue
			}
			x := div.Inputs[0]
			erf := onnx.SoleConsumer(consumers, div.Outputs[0])
			if erf == nil || erf.OpType != "Erf" {
				continue
			}
			plusOne := onnx.SoleConsumer(consumers, erf.Outputs[0])
			if plusOne == nil || plusOne.OpType != "Add" || otherInput(plusOne, erf.Outputs[0]) == "" {
				continue
			}
			if v, ok := scalarValue(g, otherInput(plusOne, erf.Outputs[0])); !ok || !approx(v, 1) {
				continue
			}
			mul := onnx.SoleConsumer(consumers, plusOne.Outputs[0])
			if mul == nil || mul.OpType != "Mul" || otherInput(mul, plusOne.Outputs[0]) != x {
				continue
			}
			half := onnx.SoleConsumer(consumers, mul.Outputs[0])
			if half == nil || half.OpType != "Mul" {
				continue
			}
			if v, ok := scalarValue(g, otherInput(half, mul.Outputs[0])); !ok || !approx(v, 0.5) {
				continue
			}
			if !exclusiveChain(g, consumers, div.Outputs[0], erf.Outputs[0], plusOne.Outputs[0], mul.Outputs[0]) {
				continue
			}
			replaceNodes(g, dropSet(div, erf, plusOne, mul, half), &onnx.Node{
				Name:    div.Name + "_gelu",
				OpType:  "Gelu",
				Domain:  onnx.MSDomain,
				Inputs:  []string{x},
				Outputs: []string{half.Outputs[0]},
			})
			fused = true
			break
		}
		if !fused {
			return nil
		}
	}
}

// biasGeluFusion merges a bias Add feeding a Gelu into BiasGelu.
type biasGeluFusion struct{}

func (biasGeluFusion) Name() string { return "bias_gelu" }

func (biasGeluFusion) Apply(g *onnx.Graph) error {
	for {
		consumers := g.ConsumerMap()
		inits := g.InitializerNames()
		fused := false
		for _, add := range g.Nodes {
			if add.OpType != "Add" || len(add.Inputs) != 2 {
				continue
			}
			x, bias := add.Inputs[0], add.Inputs[1]
			if !inits[bias] {
				x, bias = bias, x
			}
			if !inits[bias] || inits[x] {
				continue
			}
			if t := g.Initializer(bias); t == nil || len(t.Dims) != 1 {
				continue
			}
			gelu := onnx.SoleConsumer(consumers, add.Outputs[0])
			if gelu == nil || gelu.OpType != "Gelu" {
				continue
			}
			if !exclusiveChain(g, consumers, add.Outputs[0]) {
				continue
			}
			replaceNodes(g, dropSet(add, gelu), &onnx.Node{
				Name:    gelu.Name + "_bias",
				OpType:  "BiasGelu",
				Domain:  onnx.MSDomain,
				Inputs:  []string{x, bias},
				Outputs: []string{gelu.Outputs[0]},
			})
			fused = true
			break
		}
		if !fused {
			return nil
		}
	}
}

// mulByInverse rewrites Div by a scalar constant into Mul by its inverse.
type mulByInverse struct{}

func (mulByInverse) Name() string { return "mul_by_inverse" }

func (mulByInverse) Apply(g *onnx.Graph) error {
	for _, n := range g.Nodes {
		if n.OpType != "Div" || len(n.Inputs) != 2 {
			continue
		}
		v, ok := scalarValue(g, n.Inputs[1])
		if !ok || v == 0 {
			continue
		}
		inv := n.Inputs[1] + ".inv"
		if g.Initializer(inv) == nil {
			g.Initializers = append(g.Initializers, onnx.NewScalarFloat(inv, 1/v))
		}
		n.OpType = "Mul"
		n.Inputs[1] = inv
	}
	return nil
}

// skipLayerNormFusion merges a residual Add feeding LayerNormalization
// into SkipLayerNormalization.
type skipLayerNormFusion struct{}

func (skipLayerNormFusion) Name() string { return "skip_layer_norm" }

func (skipLayerNormFusion) Apply(g *onnx.Graph) error {
	for {
		consumers := g.ConsumerMap()
		inits := g.InitializerNames()
		fused := false
		for _, add := range g.Nodes {
			if add.OpType != "Add" || len(add.Inputs) != 2 {
				continue
			}
			if inits[add.Inputs[0]] || inits[add.Inputs[1]] {
				continue
			}
			ln := onnx.SoleConsumer(consumers, add.Outputs[0])
			if ln == nil || ln.OpType != "LayerNormalization" || len(ln.Inputs) != 3 {
				continue
			}
			if !exclusiveChain(g, consumers, add.Outputs[0]) {
				continue
			}
			replaceNodes(g, dropSet(add, ln), &onnx.Node{
				Name:       ln.Name + "_skip",
				OpType:     "SkipLayerNormalization",
				Domain:     onnx.MSDomain,
				Inputs:     []string{add.Inputs[0], add.Inputs[1], ln.Inputs[1], ln.Inputs[2]},
				Outputs:    []string{ln.Outputs[0]},
				Attributes: []*onnx.Attribute{onnx.FloatAttribute("epsilon", ln.FloatAttr("epsilon", 1e-5))},
			})
			fused = true
			break
		}
		if !fused {
			return nil
		}
	}
}

// attentionFusion packs a full self-attention subgraph (separate q/k/v
// projections, scaled masked softmax, context product) into a single
// Attention node with a packed QKV weight. Cross-attention blocks, where
// query and key/value read different values, are left alone.
type attentionFusion struct{}

func (attentionFusion) Name() string { return "attention" }

func (attentionFusion) Apply(g *onnx.Graph) error {
	for {
		if !fuseOneAttention(g) {
			return nil
		}
	}
}

type projectionMatch struct {
	matmul, add  *onnx.Node
	x            string
	weight, bias string
}

func fuseOneAttention(g *onnx.Graph) bool {
	consumers := g.ConsumerMap()
	producers := g.ProducerMap()
	inits := g.InitializerNames()

	matchProjection := func(value string) *projectionMatch {
		add := producers[value]
		if add == nil || add.OpType != "Add" || len(add.Inputs) != 2 || !inits[add.Inputs[1]] {
			return nil
		}
		mm := producers[add.Inputs[0]]
		if mm == nil || mm.OpType != "MatMul" || len(mm.Inputs) != 2 || !inits[mm.Inputs[1]] {
			return nil
		}
		return &projectionMatch{matmul: mm, add: add, x: mm.Inputs[0], weight: mm.Inputs[1], bias: add.Inputs[1]}
	}

	for _, sm := range g.Nodes {
		if sm.OpType != "Softmax" {
			continue
		}
		masked := producers[sm.Inputs[0]]
		if masked == nil || masked.OpType != "Add" || len(masked.Inputs) != 2 {
			continue
		}
		scale := producers[masked.Inputs[0]]
		mask := masked.Inputs[1]
		if scale == nil || (scale.OpType != "Div" && scale.OpType != "Mul") {
			continue
		}
		factor, ok := scalarValue(g, scale.Inputs[1])
		if !ok || factor == 0 {
			continue
		}
		if scale.OpType == "Div" {
			factor = 1 / factor
		}
		scores := producers[scale.Inputs[0]]
		if scores == nil || scores.OpType != "MatMul" {
			continue
		}
		tr := producers[scores.Inputs[1]]
		if tr == nil || tr.OpType != "Transpose" {
			continue
		}
		ctx := onnx.SoleConsumer(consumers, sm.Outputs[0])
		if ctx == nil || ctx.OpType != "MatMul" || ctx.Inputs[0] != sm.Outputs[0] {
			continue
		}

		q := matchProjection(scores.Inputs[0])
		k := matchProjection(tr.Inputs[0])
		v := matchProjection(ctx.Inputs[1])
		if q == nil || k == nil || v == nil {
			continue
		}
		if q.x != k.x || k.x != v.x {
			continue
		}
		if !exclusiveChain(g, consumers,
			q.matmul.Outputs[0], q.add.Outputs[0],
			k.matmul.Outputs[0], k.add.Outputs[0], tr.Outputs[0],
			v.matmul.Outputs[0], v.add.Outputs[0],
			scores.Outputs[0], scale.Outputs[0], masked.Outputs[0], sm.Outputs[0]) {
			continue
		}

		packedW, packedB, err := packQKV(g, q, k, v)
		if err != nil {
			continue
		}
		g.Initializers = append(g.Initializers, packedW, packedB)

		prefix := strings.TrimSuffix(sm.Name, "softmax")
		replaceNodes(g, dropSet(
			q.matmul, q.add, k.matmul, k.add, v.matmul, v.add,
			tr, scores, scale, masked, sm, ctx,
		), &onnx.Node{
			Name:    prefix + "attention",
			OpType:  "Attention",
			Domain:  onnx.MSDomain,
			Inputs:  []string{q.x, packedW.Name, packedB.Name, mask},
			Outputs: []string{ctx.Outputs[0]},
			Attributes: []*onnx.Attribute{
				onnx.IntAttribute("num_heads", 1),
				onnx.FloatAttribute("scale", factor),
			},
		})
		return true
	}
	return false
}

// packQKV concatenates the three projection weights column-wise into a
// single [H, 3H] tensor, and the biases into [3H].
func packQKV(g *onnx.Graph, q, k, v *projectionMatch) (*onnx.Tensor, *onnx.Tensor, error) {
	var weights, biases [3][]float32
	for i, p := range []*projectionMatch{q, k, v} {
		w, err := g.Initializer(p.weight).Float32s()
		if err != nil {
			return nil, nil, err
		}
		b, err := g.Initializer(p.bias).Float32s()
		if err != nil {
			return nil, nil, err
		}
		weights[i], biases[i] = w, b
	}
	dims := g.Initializer(q.weight).Dims
	h := int(dims[1])
	rows := int(dims[0])

	packedW := make([]float32, rows*3*h)
	for r := 0; r < rows; r++ {
		for i, w := range weights {
			copy(packedW[r*3*h+i*h:r*3*h+(i+1)*h], w[r*h:(r+1)*h])
		}
	}
	packedB := make([]float32, 0, 3*h)
	for _, b := range biases {
		packedB = append(packedB, b...)
	}

	wName := q.weight + "_qkv"
	return onnx.NewFloatTensor(wName, []int64{int64(rows), int64(3 * h)}, packedW),
		onnx.NewFloatTensor(wName+"_bias", []int64{int64(3 * h)}, packedB), nil
}

func dropSet(nodes ...*onnx.Node) map[*onnx.Node]bool {
	drop := make(map[*onnx.Node]bool, len(nodes))
	for _, n := range nodes {
		drop[n] = true
	}
	return drop
}

func otherInput(n *onnx.Node, known string) string {
	if len(n.Inputs) != 2 {
		return ""
	}
	if n.Inputs[0] == known {
		return n.Inputs[1]
	}
	if n.Inputs[1] == known {
		return n.Inputs[0]
	}
	return ""
}

func approx(v float32, want float64) bool {
	return math.Abs(float64(v)-want) < 1e-5
}
