package onnx

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/x448/float16"
)

// Tensor mirrors the ONNX TensorProto subset used for initializers.
// Element data is always carried as little-endian raw bytes.
type Tensor struct {
	Name     string
	DataType DataType
	Dims     []int64
	RawData  []byte
}

// NumElements returns the product of the tensor dims.
func (t *Tensor) NumElements() int {
	n := 1
	for _, d := range t.Dims {
		n *= int(d)
	}
	return n
}

// Float32s decodes the tensor payload into float32 values.
// FLOAT16 and DOUBLE payloads are widened or narrowed to float32.
func (t *Tensor) Float32s() ([]float32, error) {
	n := t.NumElements()
	switch t.DataType {
	case DataTypeFloat:
		if len(t.RawData) < n*4 {
			return nil, fmt.Errorf("tensor %s: %w", t.Name, ErrCorruptModel)
		}
		out := make([]float32, n)
		for i := range out {
			out[i] = math.Float32frombits(binary.LittleEndian.Uint32(t.RawData[i*4:]))
		}
		return out, nil
	case DataTypeFloat16:
		if len(t.RawData) < n*2 {
			return nil, fmt.Errorf("tensor %s: %w", t.Name, ErrCorruptModel)
		}
		out := make([]float32, n)
		for i := range out {
			out[i] = float16.Frombits(binary.LittleEndian.Uint16(t.RawData[i*2:])).Float32()
		}
		return out, nil
	case DataTypeDouble:
		if len(t.RawData) < n*8 {
			return nil, fmt.Errorf("tensor %s: %w", t.Name, ErrCorruptModel)
		}
		out := make([]float32, n)
		for i := range out {
			out[i] = float32(math.Float64frombits(binary.LittleEndian.Uint64(t.RawData[i*8:])))
		}
		return out, nil
	default:
		return nil, fmt.Errorf("tensor %s (%s): %w", t.Name, t.DataType, ErrUnsupportedData)
	}
}

// Int64s decodes an INT64 tensor payload.
func (t *Tensor) Int64s() ([]int64, error) {
	if t.DataType != DataTypeInt64 {
		return nil, fmt.Errorf("tensor %s (%s): %w", t.Name, t.DataType, ErrUnsupportedData)
	}
	n := t.NumElements()
	if len(t.RawData) < n*8 {
		return nil, fmt.Errorf("tensor %s: %w", t.Name, ErrCorruptModel)
	}
	out := make([]int64, n)
	for i := range out {
		out[i] = int64(binary.LittleEndian.Uint64(t.RawData[i*8:]))
	}
	return out, nil
}

// Int8s returns an INT8 tensor payload without copying.
func (t *Tensor) Int8s() ([]int8, error) {
	if t.DataType != DataTypeInt8 {
		return nil, fmt.Errorf("tensor %s (%s): %w", t.Name, t.DataType, ErrUnsupportedData)
	}
	n := t.NumElements()
	if len(t.RawData) < n {
		return nil, fmt.Errorf("tensor %s: %w", t.Name, ErrCorruptModel)
	}
	out := make([]int8, n)
	for i := range out {
		out[i] = int8(t.RawData[i])
	}
	return out, nil
}

// NewFloatTensor builds a FLOAT initializer from float32 values.
func NewFloatTensor(name string, dims []int64, values []float32) *Tensor {
	raw := make([]byte, len(values)*4)
	for i, v := range values {
		binary.LittleEndian.PutUint32(raw[i*4:], math.Float32bits(v))
	}
	return &Tensor{Name: name, DataType: DataTypeFloat, Dims: dims, RawData: raw}
}

// NewInt64Tensor builds an INT64 initializer.
func NewInt64Tensor(name string, dims []int64, values []int64) *Tensor {
	raw := make([]byte, len(values)*8)
	for i, v := range values {
		binary.LittleEndian.PutUint64(raw[i*8:], uint64(v))
	}
	return &Tensor{Name: name, DataType: DataTypeInt64, Dims: dims, RawData: raw}
}

// NewInt8Tensor builds an INT8 initializer.
func NewInt8Tensor(name string, dims []int64, values []int8) *Tensor {
	raw := make([]byte, len(values))
	for i, v := range values {
		raw[i] = byte(v)
	}
	return &Tensor{Name: name, DataType: DataTypeInt8, Dims: dims, RawData: raw}
}

// NewUint8Tensor builds a UINT8 initializer.
func NewUint8Tensor(name string, dims []int64, values []byte) *Tensor {
	raw := make([]byte, len(values))
	copy(raw, values)
	return &Tensor{Name: name, DataType: DataTypeUint8, Dims: dims, RawData: raw}
}

// NewScalarFloat builds a rank-0 FLOAT initializer.
func NewScalarFloat(name string, v float32) *Tensor {
	return NewFloatTensor(name, nil, []float32{v})
}
