package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTensor_OfValidatesLength(t *testing.T) {
	_, err := TensorOf([]float32{1, 2, 3}, 2, 2)
	assert.ErrorIs(t, err, ErrShapeMismatch)

	ts, err := TensorOf([]float32{1, 2, 3, 4}, 2, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, ts.Rank())
	assert.Equal(t, 4, ts.Len())
}

func TestTensor_AtSet(t *testing.T) {
	ts := NewTensor(2, 3)
	ts.Set(7, 1, 2)
	assert.Equal(t, float32(7), ts.At(1, 2))
	assert.Equal(t, float32(7), ts.Data[5])
}

func TestTensor_SubSharesData(t *testing.T) {
	ts, err := TensorOf([]float32{1, 2, 3, 4, 5, 6}, 3, 2)
	require.NoError(t, err)

	row := ts.Sub(1)
	assert.Equal(t, []int{2}, row.Shape)
	assert.Equal(t, []float32{3, 4}, row.Data)

	row.Data[0] = 9
	assert.Equal(t, float32(9), ts.At(1, 0))
}

func TestTensor_CloneIsIndependent(t *testing.T) {
	ts := NewTensor(2, 2)
	cp := ts.Clone()
	cp.Data[0] = 1
	assert.Equal(t, float32(0), ts.Data[0])
	assert.True(t, ts.SameShape(cp))
}

func TestTensor_MatrixRoundTrip(t *testing.T) {
	ts, err := TensorOf([]float32{1, 2, 3, 4, 5, 6}, 2, 3)
	require.NoError(t, err)

	m, err := ts.Matrix()
	require.NoError(t, err)
	r, c := m.Dims()
	assert.Equal(t, 2, r)
	assert.Equal(t, 3, c)
	assert.Equal(t, 6.0, m.At(1, 2))

	back := FromMatrix(m)
	assert.Equal(t, ts.Shape, back.Shape)
	assert.Equal(t, ts.Data, back.Data)
}

func TestTensor_MatrixRejectsRank3(t *testing.T) {
	ts := NewTensor(2, 2, 2)
	_, err := ts.Matrix()
	assert.ErrorIs(t, err, ErrShapeMismatch)
}
