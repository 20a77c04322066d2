package registry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/resonata/probe/core"
)

func TestFileRegistry_StoreGet(t *testing.T) {
	ctx := context.Background()
	reg, err := NewFileRegistry(t.TempDir())
	require.NoError(t, err)

	e := &Entry{Model: "vit_base", Version: "epoch-100", Epoch: 100, Dataset: "audioset", Payload: []byte("ckpt")}
	require.NoError(t, reg.Store(ctx, e))

	got, err := reg.Get(ctx, "vit_base", "epoch-100")
	require.NoError(t, err)
	assert.Equal(t, []byte("ckpt"), got.Payload)
	assert.Equal(t, 100, got.Epoch)
	assert.Equal(t, "audioset", got.Dataset)
}

func TestFileRegistry_GetNotFound(t *testing.T) {
	ctx := context.Background()
	reg, err := NewFileRegistry(t.TempDir())
	require.NoError(t, err)
	_, err = reg.Get(ctx, "missing", "epoch-1")
	assert.ErrorIs(t, err, core.ErrCheckpointNotFound)
}

func TestFileRegistry_PersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	reg, err := NewFileRegistry(dir)
	require.NoError(t, err)
	require.NoError(t, reg.Store(ctx, &Entry{Model: "vit_base", Version: "epoch-100", Epoch: 100, Payload: []byte("ckpt")}))
	require.NoError(t, reg.Promote(ctx, "vit_base", "epoch-100", StageRelease))

	reopened, err := NewFileRegistry(dir)
	require.NoError(t, err)
	rel, err := reopened.GetRelease(ctx, "vit_base")
	require.NoError(t, err)
	assert.Equal(t, "epoch-100", rel.Version)

	vers, err := reopened.ListVersions(ctx, "vit_base")
	require.NoError(t, err)
	require.Len(t, vers, 1)
	assert.Equal(t, StageRelease, vers[0].Stage)
	assert.Equal(t, 100, vers[0].Epoch)
}

func TestFileRegistry_ListByStage(t *testing.T) {
	ctx := context.Background()
	reg, err := NewFileRegistry(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, reg.Store(ctx, &Entry{Model: "vit_base", Version: "epoch-50", Payload: []byte("a")}))
	require.NoError(t, reg.Store(ctx, &Entry{Model: "vit_base", Version: "epoch-100", Payload: []byte("b")}))
	require.NoError(t, reg.Promote(ctx, "vit_base", "epoch-100", StageCandidate))

	out, err := reg.List(ctx, Filter{Stage: StageCandidate})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "epoch-100", out[0].Version)
}

func TestFileRegistry_Delete(t *testing.T) {
	ctx := context.Background()
	reg, err := NewFileRegistry(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, reg.Store(ctx, &Entry{Model: "vit_base", Version: "epoch-100", Payload: []byte("ckpt")}))
	require.NoError(t, reg.Delete(ctx, "vit_base", "epoch-100"))
	_, err = reg.Get(ctx, "vit_base", "epoch-100")
	assert.ErrorIs(t, err, core.ErrCheckpointNotFound)
}
