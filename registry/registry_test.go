package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/resonata/probe/checkpoint"
	"github.com/resonata/probe/core"
)

func TestPack_RoundTrip(t *testing.T) {
	w, err := core.TensorOf([]float32{1, 2, 3, 4}, 2, 2)
	require.NoError(t, err)
	cp := &checkpoint.Checkpoint{
		Model:  "audiontt",
		Epoch:  50,
		Params: map[string]*core.Tensor{"frame.0.weight": w},
	}

	e, err := Pack(cp, "", "audioset")
	require.NoError(t, err)
	assert.Equal(t, "audiontt", e.Model)
	assert.Equal(t, "epoch-50", e.Version)
	assert.Equal(t, "audioset", e.Dataset)
	require.NotEmpty(t, e.Payload)

	got, err := e.Checkpoint()
	require.NoError(t, err)
	assert.Equal(t, cp.Model, got.Model)
	assert.Equal(t, cp.Epoch, got.Epoch)
	assert.Equal(t, cp.Params, got.Params)
}

func TestPack_ExplicitVersion(t *testing.T) {
	e, err := Pack(&checkpoint.Checkpoint{Model: "vit_tiny", Epoch: 10}, "v2", "")
	require.NoError(t, err)
	assert.Equal(t, "v2", e.Version)
}

func TestEntry_Copy(t *testing.T) {
	e := &Entry{Model: "m", Version: "v", Payload: []byte{1, 2, 3}}
	c := e.Copy()
	c.Payload[0] = 9
	assert.Equal(t, byte(1), e.Payload[0])
}
