package encoder

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/resonata/probe/core"
)

func TestNew_KnownTypes(t *testing.T) {
	cfg := Config{Mels: 64, Frames: 96}
	for _, tc := range []struct {
		model string
		dim   int
	}{
		{"meanpool", 64},
		{"audiontt", 3072},
		{"vit_tiny", 192},
		{"vit_small", 384},
		{"vit_base", 768},
	} {
		e, err := New(tc.model, cfg)
		require.NoError(t, err, tc.model)
		assert.Equal(t, tc.model, e.Name())
		assert.Equal(t, tc.dim, e.EmbedDim(), tc.model)
	}
}

func TestNew_UnknownType(t *testing.T) {
	_, err := New("resnet999", Config{Mels: 64, Frames: 96})
	assert.ErrorIs(t, err, core.ErrUnknownModel)
}

func TestMeanPool_Forward(t *testing.T) {
	e := NewMeanPool(2)
	batch, err := core.TensorOf([]float32{
		1, 2,
		3, 4,
		5, 6,
		7, 8,
	}, 2, 2, 2)
	require.NoError(t, err)

	outs, err := e.Forward(context.Background(), batch)
	require.NoError(t, err)
	require.Len(t, outs, 1)
	assert.Equal(t, []int{2, 2}, outs[0].Shape)
	assert.Equal(t, []float32{2, 3, 6, 7}, outs[0].Data)
}

func TestMeanPool_RejectsWrongMels(t *testing.T) {
	e := NewMeanPool(4)
	batch := core.NewTensor(1, 3, 2)
	_, err := e.Forward(context.Background(), batch)
	assert.ErrorIs(t, err, core.ErrShapeMismatch)
}
