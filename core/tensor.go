package core

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// Tensor is a dense row-major float32 array with an explicit shape.
// It is the unit of exchange between datasets, encoders and the evaluator.
type Tensor struct {
	Shape []int     `json:"shape"`
	Data  []float32 `json:"data"`
}

// NewTensor allocates a zeroed tensor with the given shape.
func NewTensor(shape ...int) *Tensor {
	return &Tensor{
		Shape: append([]int(nil), shape...),
		Data:  make([]float32, volume(shape)),
	}
}

// TensorOf wraps data in a tensor with the given shape.
// The slice is retained, not copied.
func TensorOf(data []float32, shape ...int) (*Tensor, error) {
	for _, d := range shape {
		if d < 0 {
			return nil, fmt.Errorf("tensor: negative dimension in shape %v", shape)
		}
	}
	if len(data) != volume(shape) {
		return nil, fmt.Errorf("tensor: %d values do not fill shape %v: %w", len(data), shape, ErrShapeMismatch)
	}
	return &Tensor{Shape: append([]int(nil), shape...), Data: data}, nil
}

func volume(shape []int) int {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return n
}

// Rank returns the number of dimensions.
func (t *Tensor) Rank() int { return len(t.Shape) }

// Len returns the total number of elements.
func (t *Tensor) Len() int { return len(t.Data) }

// Dim returns the size of dimension i.
func (t *Tensor) Dim(i int) int { return t.Shape[i] }

// At returns the element at the given indices.
func (t *Tensor) At(indices ...int) float32 {
	return t.Data[t.offset(indices)]
}

// Set stores v at the given indices.
func (t *Tensor) Set(v float32, indices ...int) {
	t.Data[t.offset(indices)] = v
}

func (t *Tensor) offset(indices []int) int {
	if len(indices) != len(t.Shape) {
		panic(fmt.Sprintf("tensor: %d indices for rank %d", len(indices), len(t.Shape)))
	}
	off := 0
	for i, idx := range indices {
		if idx < 0 || idx >= t.Shape[i] {
			panic(fmt.Sprintf("tensor: index %d out of range for dimension %d of size %d", idx, i, t.Shape[i]))
		}
		off = off*t.Shape[i] + idx
	}
	return off
}

// Sub returns a view of the i-th slice along the first dimension.
// The view shares backing data with t.
func (t *Tensor) Sub(i int) *Tensor {
	if t.Rank() == 0 {
		panic("tensor: Sub on rank-0 tensor")
	}
	if i < 0 || i >= t.Shape[0] {
		panic(fmt.Sprintf("tensor: slice %d out of range for dimension of size %d", i, t.Shape[0]))
	}
	stride := volume(t.Shape[1:])
	return &Tensor{
		Shape: append([]int(nil), t.Shape[1:]...),
		Data:  t.Data[i*stride : (i+1)*stride],
	}
}

// Clone returns a deep copy of the tensor.
func (t *Tensor) Clone() *Tensor {
	return &Tensor{
		Shape: append([]int(nil), t.Shape...),
		Data:  append([]float32(nil), t.Data...),
	}
}

// SameShape reports whether t and u have identical shapes.
func (t *Tensor) SameShape(u *Tensor) bool {
	if len(t.Shape) != len(u.Shape) {
		return false
	}
	for i, d := range t.Shape {
		if u.Shape[i] != d {
			return false
		}
	}
	return true
}

// Matrix converts a rank-2 tensor to a dense float64 matrix.
func (t *Tensor) Matrix() (*mat.Dense, error) {
	if t.Rank() != 2 {
		return nil, fmt.Errorf("tensor: rank %d is not a matrix: %w", t.Rank(), ErrShapeMismatch)
	}
	rows, cols := t.Shape[0], t.Shape[1]
	out := make([]float64, len(t.Data))
	for i, v := range t.Data {
		out[i] = float64(v)
	}
	return mat.NewDense(rows, cols, out), nil
}

// FromMatrix copies a gonum matrix into a rank-2 float32 tensor.
func FromMatrix(m mat.Matrix) *Tensor {
	rows, cols := m.Dims()
	t := NewTensor(rows, cols)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			t.Data[i*cols+j] = float32(m.At(i, j))
		}
	}
	return t
}
