package probe

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/resonata/probe/checkpoint"
	"github.com/resonata/probe/classifier"
	"github.com/resonata/probe/core"
	"github.com/resonata/probe/dataset"
	"github.com/resonata/probe/encoder"
	"github.com/resonata/probe/results"
)

func saveSynthetic(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	set := dataset.Synthetic(4, 120, 40, 40, 8, 16, 7)
	require.NoError(t, set.Save(dir))
	return dir
}

func quickHead() []classifier.Option {
	return []classifier.Option{
		classifier.WithHiddenSize(32),
		classifier.WithMaxEpochs(80),
		classifier.WithBatchSize(16),
	}
}

func TestEvaluation_RunEndToEnd(t *testing.T) {
	dataDir := saveSynthetic(t)
	logDir := t.TempDir()

	report, err := NewEvaluation("synthetic").
		WithDataDir(dataDir).
		WithModelType("meanpool").
		WithEpoch(100).
		WithLogDir(logDir).
		WithClassifierOptions(quickHead()...).
		Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "meanpool", report.Model)
	assert.Equal(t, 100, report.Epoch)
	assert.Equal(t, "synthetic", report.Dataset)
	assert.GreaterOrEqual(t, report.Score, 0.9)
	assert.Len(t, report.ShotScores, 5)
	assert.Contains(t, report.Steps, "load-dataset")
	assert.Contains(t, report.Steps, "evaluate")
	assert.Contains(t, report.Steps, "record")
	assert.NotContains(t, report.Steps, "load-checkpoint")

	raw, err := os.ReadFile(filepath.Join(logDir, "logs", "linear_eval", "synthetic", "meanpool", "log.csv"))
	require.NoError(t, err)
	line := strings.TrimSpace(string(raw))
	assert.True(t, strings.HasPrefix(line, "epoch,100,linear_score,"), "line: %s", line)
	assert.Contains(t, line, "linear_score_5_mean,")
}

func TestEvaluation_WithCheckpoint(t *testing.T) {
	dataDir := saveSynthetic(t)

	enc := encoder.NewFeedForward("ntt-test", 16, 8, 12, 3)
	params := make(map[string]*core.Tensor)
	for name, tensor := range enc.State() {
		params["backbone.encoder."+name] = tensor.Clone()
	}
	cp := &checkpoint.Checkpoint{Model: "ntt-test", Epoch: 300, Params: params}

	report, err := NewEvaluation("synthetic").
		WithDataDir(dataDir).
		WithEncoder(enc).
		WithCheckpoint(cp).
		WithModelName("ntt_test_300").
		WithEpoch(300).
		WithClassifierOptions(quickHead()...).
		Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "ntt_test_300", report.Model)
	assert.Contains(t, report.Steps, "load-checkpoint")
	assert.Greater(t, report.Score, 0.0)
}

func TestEvaluation_Validation(t *testing.T) {
	_, err := NewEvaluation("").Run(context.Background())
	assert.ErrorContains(t, err, "dataset is required")

	_, err = NewEvaluation("synthetic").Run(context.Background())
	assert.ErrorContains(t, err, "encoder or a model type")
}

func TestEvaluation_SinkReceivesRecord(t *testing.T) {
	dataDir := saveSynthetic(t)
	store := results.NewMemoryStore(0)

	_, err := NewEvaluation("synthetic").
		WithDataDir(dataDir).
		WithModelType("meanpool").
		WithModelName("baseline").
		WithEpoch(50).
		WithSink(store).
		WithClassifierOptions(quickHead()...).
		Run(context.Background())
	require.NoError(t, err)

	agg, err := store.Query(context.Background(), results.Query{GroupBy: "epoch"})
	require.NoError(t, err)
	require.Len(t, agg, 1)
	assert.Equal(t, "baseline@50", agg[0].Key)
	assert.Greater(t, agg[0].BestScore, 0.0)
}
