package quantizer

import (
	"fmt"
	"math"

	"github.com/carzh/optimum/internal/calibrate"
	"github.com/carzh/optimum/internal/config"
	"github.com/carzh/optimum/internal/onnx"
)

// weightParams holds the quantized form of one weight initializer. Scale
// and zero point are vectors for per-channel quantization, scalars
// otherwise.
type weightParams struct {
	quantized *onnx.Tensor
	scale     *onnx.Tensor
	zeroPoint *onnx.Tensor
}

func targetOperators(cfg *config.QuantizationConfig) map[string]bool {
	ops := cfg.OperatorsToQuantize
	if len(ops) == 0 {
		ops = config.DefaultOperatorsToQuantize
	}
	set := make(map[string]bool, len(ops))
	for _, op := range ops {
		set[op] = true
	}
	return set
}

func intLimit(reduceRange bool) float32 {
	if reduceRange {
		return 63
	}
	return 127
}

// quantizeWeight lowers a float weight to symmetric signed int8. With
// perChannel set, every output column gets its own scale.
func quantizeWeight(t *onnx.Tensor, perChannel, reduceRange bool) (*weightParams, error) {
	values, err := t.Float32s()
	if err != nil {
		return nil, err
	}
	if len(t.Dims) != 2 {
		return nil, fmt.Errorf("weight %s has rank %d: %w", t.Name, len(t.Dims), onnx.ErrUnsupportedData)
	}
	rows, cols := int(t.Dims[0]), int(t.Dims[1])
	limit := intLimit(reduceRange)

	channels := 1
	if perChannel {
		channels = cols
	}
	scales := make([]float32, channels)
	for i, v := range values {
		c := 0
		if perChannel {
			c = i % cols
		}
		if a := float32(math.Abs(float64(v))); a > scales[c] {
			scales[c] = a
		}
	}
	for c := range scales {
		if scales[c] == 0 {
			scales[c] = 1
		}
		scales[c] /= limit
	}

	quantized := make([]int8, len(values))
	for i, v := range values {
		c := 0
		if perChannel {
			c = i % cols
		}
		q := math.Round(float64(v / scales[c]))
		if q > float64(limit) {
			q = float64(limit)
		}
		if q < -float64(limit) {
			q = -float64(limit)
		}
		quantized[i] = int8(q)
	}

	name := t.Name + "_quantized"
	p := &weightParams{
		quantized: onnx.NewInt8Tensor(name, []int64{int64(rows), int64(cols)}, quantized),
	}
	if perChannel {
		p.scale = onnx.NewFloatTensor(t.Name+"_scale", []int64{int64(cols)}, scales)
		p.zeroPoint = onnx.NewInt8Tensor(t.Name+"_zero_point", []int64{int64(cols)}, make([]int8, cols))
	} else {
		p.scale = onnx.NewScalarFloat(t.Name+"_scale", scales[0])
		p.zeroPoint = onnx.NewInt8Tensor(t.Name+"_zero_point", nil, []int8{0})
	}
	return p, nil
}

// quantizeDynamic rewrites every target operator with a weight initializer
// into the integer form: activations are quantized at runtime by
// DynamicQuantizeLinear, the integer product is rescaled back to float.
func quantizeDynamic(g *onnx.Graph, cfg *config.QuantizationConfig) error {
	targets := targetOperators(cfg)
	var nodes []*onnx.Node
	for _, n := range g.Nodes {
		w := weightInput(g, n, targets)
		if w == nil {
			nodes = append(nodes, n)
			continue
		}
		p, err := quantizeWeight(w, cfg.PerChannel, cfg.ReduceRange)
		if err != nil {
			return err
		}
		g.Initializers = append(g.Initializers, p.quantized, p.scale, p.zeroPoint)

		x, out := n.Inputs[0], n.Outputs[0]
		base := n.Name
		nodes = append(nodes,
			&onnx.Node{
				Name:    base + "_dynamic_quantize",
				OpType:  "DynamicQuantizeLinear",
				Inputs:  []string{x},
				Outputs: []string{base + "_input_quantized", base + "_input_scale", base + "_input_zero_point"},
			},
			&onnx.Node{
				Name:    base + "_quant",
				OpType:  "MatMulInteger",
				Inputs:  []string{base + "_input_quantized", p.quantized.Name, base + "_input_zero_point", p.zeroPoint.Name},
				Outputs: []string{base + "_output_quantized"},
			},
			&onnx.Node{
				Name:       base + "_cast",
				OpType:     "Cast",
				Inputs:     []string{base + "_output_quantized"},
				Outputs:    []string{base + "_output_float"},
				Attributes: []*onnx.Attribute{onnx.IntAttribute("to", int64(onnx.DataTypeFloat))},
			},
			&onnx.Node{
				Name:    base + "_scales_mul",
				OpType:  "Mul",
				Inputs:  []string{base + "_input_scale", p.scale.Name},
				Outputs: []string{base + "_combined_scale"},
			},
			&onnx.Node{
				Name:    base + "_output_scale_mul",
				OpType:  "Mul",
				Inputs:  []string{base + "_output_float", base + "_combined_scale"},
				Outputs: []string{out},
			},
		)
	}
	g.Nodes = nodes
	pruneUnusedWeights(g)
	return nil
}

// quantizeStatic brackets every target operator with quantize/dequantize
// boundaries. Weights are stored quantized and dequantized in-graph;
// activations get Q/DQ pairs parameterised by the calibration ranges.
func quantizeStatic(g *onnx.Graph, ranges map[string]calibrate.Range, cfg *config.QuantizationConfig) error {
	targets := targetOperators(cfg)
	quantizedValues := make(map[string]string)
	var nodes []*onnx.Node
	for _, n := range g.Nodes {
		w := weightInput(g, n, targets)
		if w == nil {
			nodes = append(nodes, n)
			continue
		}
		p, err := quantizeWeight(w, cfg.PerChannel, cfg.ReduceRange)
		if err != nil {
			return err
		}
		g.Initializers = append(g.Initializers, p.quantized, p.scale, p.zeroPoint)

		dq := &onnx.Node{
			Name:    w.Name + "_DequantizeLinear",
			OpType:  "DequantizeLinear",
			Inputs:  []string{p.quantized.Name, p.scale.Name, p.zeroPoint.Name},
			Outputs: []string{w.Name + "_dequantized"},
		}
		if cfg.PerChannel {
			dq.Attributes = []*onnx.Attribute{onnx.IntAttribute("axis", 1)}
		}
		nodes = append(nodes, dq)

		x := n.Inputs[0]
		if dqOut, done := quantizedValues[x]; done {
			n.Inputs[0] = dqOut
		} else if r, ok := ranges[x]; ok {
			pair, out := activationQDQ(g, x, r, cfg)
			nodes = append(nodes, pair...)
			quantizedValues[x] = out
			n.Inputs[0] = out
		}
		n.Inputs[1] = dq.Outputs[0]
		nodes = append(nodes, n)
	}
	g.Nodes = nodes
	pruneUnusedWeights(g)
	return nil
}

// activationQDQ emits the QuantizeLinear/DequantizeLinear pair for one
// activation value and returns the dequantized value name.
func activationQDQ(g *onnx.Graph, value string, r calibrate.Range, cfg *config.QuantizationConfig) ([]*onnx.Node, string) {
	scaleName := value + "_scale"
	zpName := value + "_zero_point"

	if cfg.ActivationsDType == config.QUInt8 {
		scale := (r.Max - r.Min) / 255
		if scale == 0 {
			scale = 1
		}
		zp := math.Round(float64(-r.Min / scale))
		if zp < 0 {
			zp = 0
		}
		if zp > 255 {
			zp = 255
		}
		g.Initializers = append(g.Initializers,
			onnx.NewScalarFloat(scaleName, scale),
			onnx.NewUint8Tensor(zpName, nil, []byte{byte(zp)}))
	} else {
		limit := intLimit(cfg.ReduceRange)
		peak := float32(math.Max(math.Abs(float64(r.Min)), math.Abs(float64(r.Max))))
		if peak == 0 {
			peak = 1
		}
		g.Initializers = append(g.Initializers,
			onnx.NewScalarFloat(scaleName, peak/limit),
			onnx.NewInt8Tensor(zpName, nil, []int8{0}))
	}

	qOut := value + "_QuantizeLinear_Output"
	dqOut := value + "_DequantizeLinear_Output"
	return []*onnx.Node{
		{
			Name:    value + "_QuantizeLinear",
			OpType:  "QuantizeLinear",
			Inputs:  []string{value, scaleName, zpName},
			Outputs: []string{qOut},
		},
		{
			Name:    value + "_DequantizeLinear",
			OpType:  "DequantizeLinear",
			Inputs:  []string{qOut, scaleName, zpName},
			Outputs: []string{dqOut},
		},
	}, dqOut
}

// weightInput returns the weight initializer of a target node, or nil when
// the node is not a quantization candidate. Only operators whose second
// input is a stored weight qualify; activation-activation products are
// left in float.
func weightInput(g *onnx.Graph, n *onnx.Node, targets map[string]bool) *onnx.Tensor {
	if !targets[n.OpType] || len(n.Inputs) < 2 {
		return nil
	}
	return g.Initializer(n.Inputs[1])
}

// pruneUnusedWeights drops initializers that no node references anymore,
// such as the float originals of quantized weights.
func pruneUnusedWeights(g *onnx.Graph) {
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
