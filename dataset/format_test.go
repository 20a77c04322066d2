package dataset

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/resonata/probe/core"
)

func clip(t *testing.T, frames, mels int, label int, fill float32) Clip {
	t.Helper()
	ts := core.NewTensor(frames, mels)
	for i := range ts.Data {
		ts.Data[i] = fill + float32(i)
	}
	return Clip{Features: ts, Label: label}
}

func TestSplit_RoundTrip(t *testing.T) {
	s := &Split{Mels: 3, Clips: []Clip{
		clip(t, 2, 3, 0, 0.5),
		clip(t, 5, 3, 7, -1),
	}}

	var buf bytes.Buffer
	require.NoError(t, WriteSplit(&buf, s))

	got, err := ReadSplit(&buf)
	require.NoError(t, err)
	require.Equal(t, 2, got.Len())
	assert.Equal(t, 3, got.Mels)
	assert.Equal(t, s.Clips[0].Features.Data, got.Clips[0].Features.Data)
	assert.Equal(t, []int{2, 3}, got.Clips[0].Features.Shape)
	assert.Equal(t, 7, got.Clips[1].Label)
	assert.Equal(t, []int{5, 3}, got.Clips[1].Features.Shape)
}

func TestSplit_FileRoundTripGzip(t *testing.T) {
	s := &Split{Mels: 2, Clips: []Clip{clip(t, 4, 2, 1, 0)}}
	path := t.TempDir() + "/train.bin.gz"

	require.NoError(t, WriteSplitFile(path, s))
	got, err := ReadSplitFile(path)
	require.NoError(t, err)
	assert.Equal(t, s.Clips[0].Features.Data, got.Clips[0].Features.Data)
	assert.Equal(t, 1, got.Clips[0].Label)
}

func TestReadSplit_BadMagic(t *testing.T) {
	_, err := ReadSplit(bytes.NewReader([]byte("nope, not a split file")))
	assert.ErrorContains(t, err, "bad magic")
}

func TestWriteSplit_RejectsMelMismatch(t *testing.T) {
	s := &Split{Mels: 4, Clips: []Clip{clip(t, 2, 3, 0, 0)}}
	err := WriteSplit(&bytes.Buffer{}, s)
	assert.ErrorIs(t, err, core.ErrShapeMismatch)
}
