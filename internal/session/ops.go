package session

import (
	"fmt"
	"math"

	"github.com/carzh/optimum/internal/onnx"
)

func evalNode(node *onnx.Node, args []*Tensor) ([]*Tensor, error) {
	switch node.OpType {
	case "Gather":
		return one(opGather(args[0], args[1]))
	case "Add":
		return one(broadcastBinary(args[0], args[1], func(a, b float32) float32 { return a + b }))
	case "Sub":
		return one(broadcastBinary(args[0], args[1], func(a, b float32) float32 { return a - b }))
	case "Mul":
		return one(broadcastBinary(args[0], args[1], func(a, b float32) float32 { return a * b }))
	case "Div":
		return one(broadcastBinary(args[0], args[1], func(a, b float32) float32 { return a / b }))
	case "MatMul":
		return one(opMatMul(args[0], args[1]))
	case "Transpose":
		return one(opTranspose(args[0], node.Attributes))
	case "Softmax":
		return one(opSoftmax(args[0]))
	case "Erf":
		return one(opUnary(args[0], func(x float32) float32 { return float32(math.Erf(float64(x))) }))
	case "Tanh":
		return one(opUnary(args[0], func(x float32) float32 { return float32(math.Tanh(float64(x))) }))
	case "Gelu":
		return one(opUnary(args[0], gelu))
	case "Cast":
		return one(opCast(args[0], node.IntAttr("to", int64(onnx.DataTypeFloat))))
	case "LayerNormalization":
		return one(opLayerNorm(args[0], args[1], args[2], node.FloatAttr("epsilon", 1e-5)))
	case "ReduceMean":
		return one(opReduceMean(args[0]))
	case "Gemm":
		return one(opGemm(args))
	case "BiasGelu":
		return one(opBiasGelu(args[0], args[1]))
	case "SkipLayerNormalization":
		return one(opSkipLayerNorm(args, 1e-5))
	case "Attention":
		return one(opAttention(args, node.FloatAttr("scale", 0)))
	default:
		return nil, ErrUnsupportedOp
	}
}

func one(t *Tensor, err error) ([]*Tensor, error) {
	if err != nil {
		return nil, err
	}
	return []*Tensor{t}, nil
}

func gelu(x float32) float32 {
	return 0.5 * x * (1 + float32(math.Erf(float64(x)/math.Sqrt2)))
}

func opUnary(x *Tensor, f func(float32) float32) (*Tensor, error) {
	if x.IsInt() {
		return nil, ErrShape
	}
	out := make([]float32, len(x.F))
	for i, v := range x.F {
		out[i] = f(v)
	}
	return NewFloat(x.Dims, out), nil
}

// broadcastBinary supports the shapes the exported graphs use: identical
// shapes, a scalar on either side, and row-wise broadcast of a rank-1
// vector over the last axis of a rank-2 tensor.
func broadcastBinary(a, b *Tensor, f func(x, y float32) float32) (*Tensor, error) {
	if a.IsInt() || b.IsInt() {
		return nil, ErrShape
	}
	switch {
	case sameDims(a.Dims, b.Dims):
		out := make([]float32, len(a.F))
		for i := range out {
			out[i] = f(a.F[i], b.F[i])
		}
		return NewFloat(a.Dims, out), nil
	case a.IsScalar():
		out := make([]float32, len(b.F))
		for i, v := range b.F {
			out[i] = f(a.F[0], v)
		}
		return NewFloat(b.Dims, out), nil
	case b.IsScalar():
		out := make([]float32, len(a.F))
		for i, v := range a.F {
			out[i] = f(v, b.F[0])
		}
		return NewFloat(a.Dims, out), nil
	case len(a.Dims) == 2 && len(b.Dims) == 1 && a.Dims[1] == b.Dims[0]:
		rows, cols := a.Dims[0], a.Dims[1]
		out := make([]float32, len(a.F))
		for r := 0; r < rows; r++ {
			for c := 0; c < cols; c++ {
				out[r*cols+c] = f(a.F[r*cols+c], b.F[c])
			}
		}
		return NewFloat(a.Dims, out), nil
	default:
		return nil, fmt.Errorf("broadcast %v vs %v: %w", a.Dims, b.Dims, ErrShape)
	}
}

func opGather(data, indices *Tensor) (*Tensor, error) {
	if data.IsInt() || !indices.IsInt() || len(data.Dims) != 2 {
		return nil, ErrShape
	}
	rows, cols := data.Dims[0], data.Dims[1]
	out := make([]float32, len(indices.I)*cols)
	for i, idx := range indices.I {
		if idx < 0 || int(idx) >= rows {
			return nil, fmt.Errorf("index %d out of range [0,%d): %w", idx, rows, ErrShape)
		}
		copy(out[i*cols:(i+1)*cols], data.F[int(idx)*cols:(int(idx)+1)*cols])
	}
	return NewFloat([]int{len(indices.I), cols}, out), nil
}

func opMatMul(a, b *Tensor) (*Tensor, error) {
	if a.IsInt() || b.IsInt() || len(a.Dims) != 2 || len(b.Dims) != 2 || a.Dims[1] != b.Dims[0] {
		return nil, fmt.Errorf("matmul %v x %v: %w", a.Dims, b.Dims, ErrShape)
	}
	m, k, n := a.Dims[0], a.Dims[1], b.Dims[1]
	out := make([]float32, m*n)
	for i := 0; i < m; i++ {
		arow := a.F[i*k : (i+1)*k]
		orow := out[i*n : (i+1)*n]
		for kk := 0; kk < k; kk++ {
			av := arow[kk]
			if av == 0 {
				continue
			}
			brow := b.F[kk*n : (kk+1)*n]
			for j := 0; j < n; j++ {
				orow[j] += av * brow[j]
			}
		}
	}
	return NewFloat([]int{m, n}, out), nil
}

func opTranspose(x *Tensor, attrs []*onnx.Attribute) (*Tensor, error) {
	if x.IsInt() || len(x.Dims) != 2 {
		return nil, ErrShape
	}
	rows, cols := x.Dims[0], x.Dims[1]
	out := make([]float32, len(x.F))
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			out[c*rows+r] = x.F[r*cols+c]
		}
	}
	return NewFloat([]int{cols, rows}, out), nil
}

func opSoftmax(x *Tensor) (*Tensor, error) {
	if x.IsInt() {
		return nil, ErrShape
	}
	rows, cols, err := x.rows()
	if err != nil {
		return nil, err
	}
	out := make([]float32, len(x.F))
	for r := 0; r < rows; r++ {
		row := x.F[r*cols : (r+1)*cols]
		maxv := row[0]
		for _, v := range row[1:] {
			if v > maxv {
				maxv = v
			}
		}
		var sum float64
		orow := out[r*cols : (r+1)*cols]
		for i, v := range row {
			e := math.Exp(float64(v - maxv))
			orow[i] = float32(e)
			sum += e
		}
		for i := range orow {
			orow[i] = float32(float64(orow[i]) / sum)
		}
	}
	return NewFloat(x.Dims, out), nil
}

func opCast(x *Tensor, to int64) (*Tensor, error) {
	if onnx.DataType(to) != onnx.DataTypeFloat {
		return nil, ErrUnsupportedOp
	}
	if !x.IsInt() {
		return NewFloat(x.Dims, x.F), nil
	}
	out := make([]float32, len(x.I))
	for i, v := range x.I {
		out[i] = float32(v)
	}
	return NewFloat(x.Dims, out), nil
}

func opLayerNorm(x, scale, bias *Tensor, epsilon float32) (*Tensor, error) {
	if x.IsInt() {
		return nil, ErrShape
	}
	rows, cols, err := x.rows()
	if err != nil {
		return nil, err
	}
	if len(scale.F) != cols || len(bias.F) != cols {
		return nil, fmt.Errorf("layernorm scale/bias width: %w", ErrShape)
	}
	out := make([]float32, len(x.F))
	for r := 0; r < rows; r++ {
		row := x.F[r*cols : (r+1)*cols]
		var mean float64
		for _, v := range row {
			mean += float64(v)
		}
		mean /= float64(cols)
		var variance float64
		for _, v := range row {
			d := float64(v) - mean
			variance += d * d
		}
		variance /= float64(cols)
		inv := 1 / math.Sqrt(variance+float64(epsilon))
		orow := out[r*cols : (r+1)*cols]
		for i, v := range row {
			orow[i] = float32((float64(v)-mean)*inv)*scale.F[i] + bias.F[i]
		}
	}
	return NewFloat(x.Dims, out), nil
}

// opReduceMean reduces the first axis of a rank-2 tensor keeping dims,
// which is the only form the exported head uses.
func opReduceMean(x *Tensor) (*Tensor, error) {
	if x.IsInt() || len(x.Dims) != 2 {
		return nil, ErrShape
	}
	rows, cols := x.Dims[0], x.Dims[1]
	out := make([]float32, cols)
	for c := 0; c < cols; c++ {
		var sum float64
		for r := 0; r < rows; r++ {
			sum += float64(x.F[r*cols+c])
		}
		out[c] = float32(sum / float64(rows))
	}
	return NewFloat([]int{1, cols}, out), nil
}

func opGemm(args []*Tensor) (*Tensor, error) {
	if len(args) < 2 {
		return nil, ErrShape
	}
	y, err := opMatMul(args[0], args[1])
	if err != nil {
		return nil, err
	}
	if len(args) == 3 {
		return broadcastBinary(y, args[2], func(a, b float32) float32 { return a + b })
	}
	return y, nil
}

func opBiasGelu(x, bias *Tensor) (*Tensor, error) {
	biased, err := broadcastBinary(x, bias, func(a, b float32) float32 { return a + b })
	if err != nil {
		return nil, err
	}
	return opUnary(biased, gelu)
}

// opSkipLayerNorm computes LayerNorm(input + skip) with optional bias on
// the residual sum: inputs are (input, skip, gamma, beta[, bias]).
func opSkipLayerNorm(args []*Tensor, epsilon float32) (*Tensor, error) {
	if len(args) < 4 {
		return nil, ErrShape
	}
	sum, err := broadcastBinary(args[0], args[1], func(a, b float32) float32 { return a + b })
	if err != nil {
		return nil, err
	}
	if len(args) >= 5 {
		sum, err = broadcastBinary(sum, args[4], func(a, b float32) float32 { return a + b })
		if err != nil {
			return nil, err
		}
	}
	return opLayerNorm(sum, args[2], args[3], epsilon)
}

// opAttention computes single-head scaled dot-product attention over a
// packed QKV projection: inputs are (x, qkv_weight, qkv_bias, mask_additive).
func opAttention(args []*Tensor, scale float32) (*Tensor, error) {
	if len(args) < 4 {
		return nil, ErrShape
	}
	x, w, bias, mask := args[0], args[1], args[2], args[3]
	if len(x.Dims) != 2 || len(w.Dims) != 2 || x.Dims[1]*3 != w.Dims[1] {
		return nil, fmt.Errorf("attention packed shapes %v x %v: %w", x.Dims, w.Dims, ErrShape)
	}
	h := x.Dims[1]
	if scale == 0 {
		scale = float32(1 / math.Sqrt(float64(h)))
	}

	packed, err := opMatMul(x, w)
	if err != nil {
		return nil, err
	}
	packed, err = broadcastBinary(packed, bias, func(a, b float32) float32 { return a + b })
	if err != nil {
		return nil, err
	}
	q := slice(packed, 0, h)
	k := slice(packed, h, 2*h)
	v := slice(packed, 2*h, 3*h)

	kt, err := opTranspose(k, nil)
	if err != nil {
		return nil, err
	}
	scores, err := opMatMul(q, kt)
	if err != nil {
		return nil, err
	}
	for i := range scores.F {
		scores.F[i] *= scale
	}
	scores, err = broadcastBinary(scores, mask, func(a, b float32) float32 { return a + b })
	if err != nil {
		return nil, err
	}
	probs, err := opSoftmax(scores)
	if err != nil {
		return nil, err
	}
	return opMatMul(probs, v)
}

// slice extracts columns [from, to) of a rank-2 tensor.
func slice(x *Tensor, from, to int) *Tensor {
	rows, cols := x.Dims[0], x.Dims[1]
	width := to - from
	out := make([]float32, rows*width)
	for r := 0; r < rows; r++ {
		copy(out[r*width:(r+1)*width], x.F[r*cols+from:r*cols+to])
	}
	return NewFloat([]int{rows, width}, out)
}

func sameDims(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
