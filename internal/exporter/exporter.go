// Package exporter builds interchange graphs for hub models.
//
// The exported graph is a single-head transformer stack with a sequence
// classification head, fixed sequence length and deterministic seeded
// weights. Weight initializers that feed MatMul nodes follow the
// "onnx::MatMul_<n>" naming convention so downstream quantization markers
// land in the expected form.
package exporter

import (
	"fmt"
	"hash/fnv"
	"math"
	"math/rand"

	"github.com/carzh/optimum/internal/hub"
	"github.com/carzh/optimum/internal/onnx"
)

const (
	layerNormEpsilon = 1e-5
	weightScale      = 0.1
)

// Export builds the graph for m and writes it to path.
func Export(m *hub.Model, path string) error {
	model, err := Build(m)
	if err != nil {
		return err
	}
	return onnx.Save(model, path)
}

// Build constructs the in-memory graph for m.
func Build(m *hub.Model) (*onnx.Model, error) {
	if m.Task != hub.TaskSequenceClassification {
		return nil, fmt.Errorf("%q: %w", m.Task, hub.ErrUnsupportedTask)
	}
	b := &builder{arch: m.Arch, numLabels: m.NumLabels}
	b.build()
	return &onnx.Model{
		IRVersion:    onnx.IRVersion,
		ProducerName: "optimum",
		OpsetImports: []onnx.OpsetID{{Version: onnx.DefaultOpset}},
		Graph:        b.graph,
	}, nil
}

type builder struct {
	arch      hub.Architecture
	numLabels int
	graph     *onnx.Graph
	matmulIdx int
}

func (b *builder) build() {
	arch := b.arch
	s := int64(arch.SeqLen)

	b.graph = &onnx.Graph{
		Name: arch.Name,
		Inputs: []*onnx.ValueInfo{
			{Name: "input_ids", ElemType: onnx.DataTypeInt64, Dims: []int64{s}},
			{Name: "attention_mask", ElemType: onnx.DataTypeInt64, Dims: []int64{s}},
		},
		Outputs: []*onnx.ValueInfo{
			{Name: "logits", ElemType: onnx.DataTypeFloat, Dims: []int64{1, int64(b.numLabels)}},
		},
	}

	b.constants()
	b.embeddings()
	b.attentionMask()

	x := "embeddings.output"
	for i := 0; i < arch.EncoderLayers; i++ {
		x = b.encoderLayer(fmt.Sprintf("encoder.layer.%d.", i), x)
	}
	final := x
	if arch.DecoderLayers > 0 {
		y := "embeddings.output"
		for i := 0; i < arch.DecoderLayers; i++ {
			y = b.decoderLayer(fmt.Sprintf("decoder.layer.%d.", i), y, final)
		}
		final = y
	}
	b.head(final)
}

func (b *builder) constants() {
	h := float32(b.arch.HiddenSize)
	b.addInit(onnx.NewScalarFloat("const.one", 1))
	b.addInit(onnx.NewScalarFloat("const.half", 0.5))
	b.addInit(onnx.NewScalarFloat("const.sqrt2", float32(math.Sqrt2)))
	b.addInit(onnx.NewScalarFloat("const.sqrt_head", float32(math.Sqrt(float64(h)))))
	b.addInit(onnx.NewScalarFloat("const.neg_mask_scale", -10000))
}

func (b *builder) embeddings() {
	arch := b.arch
	s, h, v := int64(arch.SeqLen), int64(arch.HiddenSize), int64(arch.VocabSize)

	b.addInit(b.randomTensor("embeddings.word_embeddings.weight", []int64{v, h}))
	b.addInit(b.randomTensor("embeddings.position_embeddings.weight", []int64{s, h}))
	positions := make([]int64, arch.SeqLen)
	for i := range positions {
		positions[i] = int64(i)
	}
	b.addInit(onnx.NewInt64Tensor("embeddings.position_ids", []int64{s}, positions))
	b.layerNormWeights("embeddings.LayerNorm")

	b.node("Gather", "embeddings.word_gather",
		[]string{"embeddings.word_embeddings.weight", "input_ids"},
		[]string{"embeddings.word"},
		onnx.IntAttribute("axis", 0))
	b.node("Gather", "embeddings.position_gather",
		[]string{"embeddings.position_embeddings.weight", "embeddings.position_ids"},
		[]string{"embeddings.position"},
		onnx.IntAttribute("axis", 0))
	b.node("Add", "embeddings.add",
		[]string{"embeddings.word", "embeddings.position"},
		[]string{"embeddings.sum"})
	b.layerNorm("embeddings.LayerNorm", "embeddings.sum", "embeddings.output")
}

func (b *builder) attentionMask() {
	b.node("Cast", "mask.cast",
		[]string{"attention_mask"}, []string{"mask.float"},
		onnx.IntAttribute("to", int64(onnx.DataTypeFloat)))
	b.node("Sub", "mask.invert",
		[]string{"const.one", "mask.float"}, []string{"mask.inverted"})
	b.node("Mul", "mask.scale",
		[]string{"mask.inverted", "const.neg_mask_scale"}, []string{"mask.additive"})
}

// encoderLayer emits one self-attention + feed-forward block and returns the
// name of its output value.
func (b *builder) encoderLayer(p, x string) string {
	ctx := b.attention(p+"attention.", x, x)
	attnOut := b.projection(p+"attention.output.dense", ctx, b.matmulWeight(b.hidden(), b.hidden()))
	b.node("Add", p+"attention.residual_add", []string{attnOut, x}, []string{p + "attention.residual"})
	b.layerNormWeights(p + "attention.output.LayerNorm")
	b.layerNorm(p+"attention.output.LayerNorm", p+"attention.residual", p+"attention.output")

	ffnOut := b.feedForward(p, p+"attention.output")
	b.node("Add", p+"output.residual_add", []string{ffnOut, p + "attention.output"}, []string{p + "output.residual"})
	b.layerNormWeights(p + "output.LayerNorm")
	b.layerNorm(p+"output.LayerNorm", p+"output.residual", p+"output")
	return p + "output"
}

// decoderLayer adds a cross-attention block between self-attention and the
// feed-forward network, attending over encOut.
func (b *builder) decoderLayer(p, x, encOut string) string {
	selfCtx := b.attention(p+"self_attn.", x, x)
	selfOut := b.projection(p+"self_attn.output.dense", selfCtx, b.matmulWeight(b.hidden(), b.hidden()))
	b.node("Add", p+"self_attn.residual_add", []string{selfOut, x}, []string{p + "self_attn.residual"})
	b.layerNormWeights(p + "self_attn.LayerNorm")
	b.layerNorm(p+"self_attn.LayerNorm", p+"self_attn.residual", p+"self_attn.output")

	crossCtx := b.attention(p+"cross_attn.", p+"self_attn.output", encOut)
	crossOut := b.projection(p+"cross_attn.output.dense", crossCtx, b.matmulWeight(b.hidden(), b.hidden()))
	b.node("Add", p+"cross_attn.residual_add", []string{crossOut, p + "self_attn.output"}, []string{p + "cross_attn.residual"})
	b.layerNormWeights(p + "cross_attn.LayerNorm")
	b.layerNorm(p+"cross_attn.LayerNorm", p+"cross_attn.residual", p+"cross_attn.output")

	ffnOut := b.feedForward(p, p+"cross_attn.output")
	b.node("Add", p+"output.residual_add", []string{ffnOut, p + "cross_attn.output"}, []string{p + "output.residual"})
	b.layerNormWeights(p + "output.LayerNorm")
	b.layerNorm(p+"output.LayerNorm", p+"output.residual", p+"output")
	return p + "output"
}

// attention emits query/key/value projections over (q=qx, k=v=kv), scaled
// dot-product scores with the additive mask, and returns the context value
// name. The output projection is the caller's responsibility.
func (b *builder) attention(p, qx, kv string) string {
	query := b.projection(p+"self.query", qx, b.matmulWeight(b.hidden(), b.hidden()))
	key := b.projection(p+"self.key", kv, b.matmulWeight(b.hidden(), b.hidden()))
	value := b.projection(p+"self.value", kv, b.matmulWeight(b.hidden(), b.hidden()))

	b.node("Transpose", p+"key_transpose", []string{key}, []string{p + "key_t"},
		onnx.IntsAttribute("perm", []int64{1, 0}))
	b.node("MatMul", p+"scores_matmul", []string{query, p + "key_t"}, []string{p + "scores.raw"})
	b.node("Div", p+"scores_scale", []string{p + "scores.raw", "const.sqrt_head"}, []string{p + "scores.scaled"})
	b.node("Add", p+"scores_mask", []string{p + "scores.scaled", "mask.additive"}, []string{p + "scores.masked"})
	b.node("Softmax", p+"softmax", []string{p + "scores.masked"}, []string{p + "probs"},
		onnx.IntAttribute("axis", -1))
	b.node("MatMul", p+"context_matmul", []string{p + "probs", value}, []string{p + "context"})
	return p + "context"
}

// feedForward emits the intermediate projection, the erf-form Gelu and the
// output projection, returning the block output value name.
func (b *builder) feedForward(p, x string) string {
	inter := b.projection(p+"intermediate.dense", x, b.matmulWeight(b.hidden(), b.intermediate()))
	b.node("Div", p+"gelu_div", []string{inter, "const.sqrt2"}, []string{p + "gelu.div"})
	b.node("Erf", p+"gelu_erf", []string{p + "gelu.div"}, []string{p + "gelu.erf"})
	b.node("Add", p+"gelu_plus_one", []string{p + "gelu.erf", "const.one"}, []string{p + "gelu.plus_one"})
	b.node("Mul", p+"gelu_mul", []string{inter, p + "gelu.plus_one"}, []string{p + "gelu.mul"})
	b.node("Mul", p+"gelu_half", []string{p + "gelu.mul", "const.half"}, []string{p + "intermediate.output"})
	return b.projection(p+"output.dense", p+"intermediate.output", b.matmulWeight(b.intermediate(), b.hidden()))
}

// projection emits MatMul(x, weight) followed by a bias Add and returns the
// biased output value name. The weight must already be registered.
func (b *builder) projection(name, x, weight string) string {
	biasName := name + ".bias"
	outDim := b.graph.Initializer(weight).Dims[1]
	b.addInit(b.randomTensor(biasName, []int64{outDim}))
	b.node("MatMul", name+".matmul_op", []string{x, weight}, []string{name + ".matmul"})
	b.node("Add", name+".bias_add", []string{name + ".matmul", biasName}, []string{name})
	return name
}

func (b *builder) head(final string) {
	h := b.hidden()
	l := int64(b.numLabels)

	b.node("ReduceMean", "pooler.reduce", []string{final}, []string{"pooler.pooled"},
		onnx.IntsAttribute("axes", []int64{0}), onnx.IntAttribute("keepdims", 1))

	b.addInit(b.randomTensor("pooler.dense.weight", []int64{h, h}))
	b.addInit(b.randomTensor("pooler.dense.bias", []int64{h}))
	b.node("Gemm", "pooler.dense_op",
		[]string{"pooler.pooled", "pooler.dense.weight", "pooler.dense.bias"},
		[]string{"pooler.dense"})
	b.node("Tanh", "pooler.activation_op", []string{"pooler.dense"}, []string{"pooler.activation"})

	b.addInit(b.randomTensor("classifier.weight", []int64{h, l}))
	b.addInit(b.randomTensor("classifier.bias", []int64{l}))
	b.node("Gemm", "classifier_op",
		[]string{"pooler.activation", "classifier.weight", "classifier.bias"},
		[]string{"logits"})
}

// matmulWeight registers a fresh MatMul weight initializer and returns its
// name. The naming mirrors the torch exporter convention and carries the
// operator-type marker that quantization counting relies on.
func (b *builder) matmulWeight(in, out int64) string {
	name := fmt.Sprintf("onnx::MatMul_%d", b.matmulIdx)
	b.matmulIdx++
	b.addInit(b.randomTensor(name, []int64{in, out}))
	return name
}

func (b *builder) layerNormWeights(name string) {
	h := b.hidden()
	ones := make([]float32, h)
	for i := range ones {
		ones[i] = 1
	}
	b.addInit(onnx.NewFloatTensor(name+".weight", []int64{h}, ones))
	b.addInit(onnx.NewFloatTensor(name+".bias", []int64{h}, make([]float32, h)))
}

func (b *builder) layerNorm(name, x, out string) {
	b.node("LayerNormalization", name+"_op",
		[]string{x, name + ".weight", name + ".bias"}, []string{out},
		onnx.FloatAttribute("epsilon", layerNormEpsilon))
}

func (b *builder) node(opType, name string, inputs, outputs []string, attrs ...*onnx.Attribute) {
	b.graph.Nodes = append(b.graph.Nodes, &onnx.Node{
		Name:       name,
		OpType:     opType,
		Inputs:     inputs,
		Outputs:    outputs,
		Attributes: attrs,
	})
}

func (b *builder) addInit(t *onnx.Tensor) {
	b.graph.Initializers = append(b.graph.Initializers, t)
}

// randomTensor draws a weight tensor from a PRNG seeded on the model and
// tensor names, so every export of the same identifier is bit-identical.
func (b *builder) randomTensor(name string, dims []int64) *onnx.Tensor {
	n := 1
	for _, d := range dims {
		n *= int(d)
	}
	h := fnv.New64a()
	_, _ = h.Write([]byte(b.arch.Name + "|" + name))
	rng := rand.New(rand.NewSource(int64(h.Sum64())))
	values := make([]float32, n)
	for i := range values {
		values[i] = (rng.Float32()*2 - 1) * weightScale
	}
	return onnx.NewFloatTensor(name, dims, values)
}

func (b *builder) hidden() int64       { return int64(b.arch.HiddenSize) }
func (b *builder) intermediate() int64 { return int64(b.arch.Intermediate) }
