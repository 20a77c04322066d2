package registry

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/resonata/probe/core"
)

// memBlob is an in-memory BlobStore for exercising S3Registry without AWS.
type memBlob struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newMemBlob() *memBlob {
	return &memBlob{objects: make(map[string][]byte)}
}

func (b *memBlob) Get(ctx context.Context, key string) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	data, ok := b.objects[key]
	if !ok {
		return nil, fmt.Errorf("memblob: no such key %s", key)
	}
	return append([]byte(nil), data...), nil
}

func (b *memBlob) Put(ctx context.Context, key string, body []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.objects[key] = append([]byte(nil), body...)
	return nil
}

func (b *memBlob) List(ctx context.Context, prefix string) ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var keys []string
	for k := range b.objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (b *memBlob) Delete(ctx context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.objects, key)
	return nil
}

func TestS3Registry_StoreGet(t *testing.T) {
	ctx := context.Background()
	reg := NewS3Registry(newMemBlob(), "probe")

	e := &Entry{Model: "vit_base", Version: "epoch-100", Epoch: 100, Payload: []byte("ckpt")}
	require.NoError(t, reg.Store(ctx, e))

	got, err := reg.Get(ctx, "vit_base", "epoch-100")
	require.NoError(t, err)
	assert.Equal(t, []byte("ckpt"), got.Payload)
	assert.Equal(t, 100, got.Epoch)
}

func TestS3Registry_GetNotFound(t *testing.T) {
	ctx := context.Background()
	reg := NewS3Registry(newMemBlob(), "")
	_, err := reg.Get(ctx, "missing", "epoch-1")
	assert.ErrorIs(t, err, core.ErrCheckpointNotFound)
}

func TestS3Registry_PromoteGetRelease(t *testing.T) {
	ctx := context.Background()
	reg := NewS3Registry(newMemBlob(), "probe")
	require.NoError(t, reg.Store(ctx, &Entry{Model: "vit_base", Version: "epoch-100", Payload: []byte("ckpt")}))
	require.NoError(t, reg.Promote(ctx, "vit_base", "epoch-100", StageRelease))

	rel, err := reg.GetRelease(ctx, "vit_base")
	require.NoError(t, err)
	assert.Equal(t, "epoch-100", rel.Version)
}

func TestS3Registry_ListAndVersions(t *testing.T) {
	ctx := context.Background()
	reg := NewS3Registry(newMemBlob(), "probe")
	require.NoError(t, reg.Store(ctx, &Entry{Model: "vit_base", Version: "epoch-50", Epoch: 50, Payload: []byte("a")}))
	require.NoError(t, reg.Store(ctx, &Entry{Model: "vit_base", Version: "epoch-100", Epoch: 100, Payload: []byte("b")}))
	require.NoError(t, reg.Store(ctx, &Entry{Model: "audiontt", Version: "epoch-100", Epoch: 100, Payload: []byte("c")}))

	out, err := reg.List(ctx, Filter{Models: []string{"vit_base"}})
	require.NoError(t, err)
	assert.Len(t, out, 2)

	vers, err := reg.ListVersions(ctx, "vit_base")
	require.NoError(t, err)
	require.Len(t, vers, 2)
	for _, vi := range vers {
		assert.Equal(t, StageDev, vi.Stage)
	}
}

func TestS3Registry_Delete(t *testing.T) {
	ctx := context.Background()
	reg := NewS3Registry(newMemBlob(), "probe")
	require.NoError(t, reg.Store(ctx, &Entry{Model: "vit_base", Version: "epoch-100", Payload: []byte("ckpt")}))
	require.NoError(t, reg.Promote(ctx, "vit_base", "epoch-100", StageRelease))
	require.NoError(t, reg.Delete(ctx, "vit_base", "epoch-100"))

	_, err := reg.Get(ctx, "vit_base", "epoch-100")
	assert.ErrorIs(t, err, core.ErrCheckpointNotFound)
	_, err = reg.GetRelease(ctx, "vit_base")
	assert.ErrorIs(t, err, core.ErrCheckpointNotFound)
}
