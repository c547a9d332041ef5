package session

import "fmt"

// Tensor is the runtime value type: either float32 or int64 data with a
// dense row-major layout.
type Tensor struct {
	Dims []int
	F    []float32
	I    []int64
}

// NewFloat builds a float tensor.
func NewFloat(dims []int, data []float32) *Tensor {
	return &Tensor{Dims: dims, F: data}
}

// NewInt64 builds an integer tensor.
func NewInt64(dims []int, data []int64) *Tensor {
	return &Tensor{Dims: dims, I: data}
}

// IsInt reports whether the tensor holds integer data.
func (t *Tensor) IsInt() bool { return t.I != nil }

// NumElements returns the product of the dims.
func (t *Tensor) NumElements() int {
	n := 1
	for _, d := range t.Dims {
		n *= d
	}
	return n
}

// IsScalar reports whether the tensor holds a single element.
func (t *Tensor) IsScalar() bool { return t.NumElements() == 1 }

func (t *Tensor) rows() (r, c int, err error) {
	switch len(t.Dims) {
	case 1:
		return 1, t.Dims[0], nil
	case 2:
		return t.Dims[0], t.Dims[1], nil
	default:
		return 0, 0, fmt.Errorf("rank %d: %w", len(t.Dims), ErrShape)
	}
}
