package results

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(dataset, model string, epoch int, score float64, at time.Time) Record {
	return Record{
		Dataset:  dataset,
		Model:    model,
		Epoch:    epoch,
		Score:    score,
		ShotMean: score - 0.1,
		ShotStd:  0.02,
		At:       at,
	}
}

func TestMemoryStore_RecordQuery(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(0)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, store.Record(ctx, run("esc50", "vit_base", 50, 0.80, base)))
	require.NoError(t, store.Record(ctx, run("esc50", "vit_base", 100, 0.84, base.Add(time.Hour))))
	require.NoError(t, store.Record(ctx, run("esc50", "vit_small", 100, 0.78, base.Add(2*time.Hour))))

	agg, err := store.Query(ctx, Query{GroupBy: "model"})
	require.NoError(t, err)
	require.Len(t, agg, 2)

	assert.Equal(t, "vit_base", agg[0].Key)
	assert.Equal(t, int64(2), agg[0].Runs)
	assert.InDelta(t, 0.82, agg[0].AvgScore, 1e-9)
	assert.InDelta(t, 0.84, agg[0].BestScore, 1e-9)
	assert.InDelta(t, 0.74, agg[0].BestShotMean, 1e-9)
	assert.Equal(t, base.Add(time.Hour), agg[0].LastAt)

	assert.Equal(t, "vit_small", agg[1].Key)
	assert.Equal(t, int64(1), agg[1].Runs)
}

func TestMemoryStore_Filters(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(0)
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, store.Record(ctx, run("esc50", "vit_base", 100, 0.84, base)))
	require.NoError(t, store.Record(ctx, run("us8k", "vit_base", 100, 0.71, base.Add(24*time.Hour))))

	agg, err := store.Query(ctx, Query{Dataset: "esc50"})
	require.NoError(t, err)
	require.Len(t, agg, 1)
	assert.Equal(t, "all", agg[0].Key)
	assert.Equal(t, int64(1), agg[0].Runs)
	assert.InDelta(t, 0.84, agg[0].BestScore, 1e-9)

	agg, err = store.Query(ctx, Query{From: base.Add(12 * time.Hour)})
	require.NoError(t, err)
	require.Len(t, agg, 1)
	assert.InDelta(t, 0.71, agg[0].BestScore, 1e-9)

	agg, err = store.Query(ctx, Query{Model: "resnet"})
	require.NoError(t, err)
	assert.Empty(t, agg)
}

func TestMemoryStore_Bounded(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(2)
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		require.NoError(t, store.Record(ctx, run("esc50", "vit_base", i, 0.5, base.Add(time.Duration(i)*time.Minute))))
	}

	agg, err := store.Query(ctx, Query{})
	require.NoError(t, err)
	require.Len(t, agg, 1)
	assert.Equal(t, int64(2), agg[0].Runs)
}

func TestMemoryStore_GroupByEpochAndDay(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(0)
	day1 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	day2 := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

	require.NoError(t, store.Record(ctx, run("esc50", "vit_base", 50, 0.80, day1)))
	require.NoError(t, store.Record(ctx, run("esc50", "vit_base", 100, 0.84, day2)))

	agg, err := store.Query(ctx, Query{GroupBy: "epoch"})
	require.NoError(t, err)
	require.Len(t, agg, 2)
	assert.Equal(t, "vit_base@100", agg[0].Key)
	assert.Equal(t, "vit_base@50", agg[1].Key)

	agg, err = store.Query(ctx, Query{GroupBy: "day"})
	require.NoError(t, err)
	require.Len(t, agg, 2)
	assert.Equal(t, "2026-03-01", agg[0].Key)
	assert.Equal(t, "2026-03-02", agg[1].Key)
}

func TestMemoryStore_Limit(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(0)
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 4; i++ {
		require.NoError(t, store.Record(ctx, run("esc50", "model_"+string(rune('a'+i)), 100, 0.5, base)))
	}

	agg, err := store.Query(ctx, Query{GroupBy: "model", Limit: 2})
	require.NoError(t, err)
	assert.Len(t, agg, 2)
}
