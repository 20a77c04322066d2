package evaluator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/resonata/probe/classifier"
	"github.com/resonata/probe/dataset"
	"github.com/resonata/probe/encoder"
)

func TestEvaluator_RunSynthetic(t *testing.T) {
	set := dataset.Synthetic(4, 120, 40, 40, 8, 16, 7)
	mk := func(s *dataset.Split) *dataset.Loader {
		l, err := dataset.NewLoader(set.Manifest, s, dataset.WithBatchSize(16))
		require.NoError(t, err)
		return l
	}
	enc := encoder.NewMeanPool(16)

	report, err := New(enc).
		WithLoaders(mk(set.Train), mk(set.Val), mk(set.Test)).
		WithClassifierOptions(classifier.WithHiddenSize(32), classifier.WithMaxEpochs(100)).
		Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "meanpool", report.Encoder)
	assert.Equal(t, "synthetic", report.Dataset)
	assert.GreaterOrEqual(t, report.Score, 0.9)
	require.Len(t, report.ShotScores, 5)
	assert.Greater(t, report.ShotMean, 0.5)
	assert.GreaterOrEqual(t, report.ShotStd, 0.0)
	assert.Equal(t, 120, report.TrainSamples)
	assert.Equal(t, 40, report.TestSamples)
	assert.Equal(t, int64((120+40+40)*16*8), report.Footprint)
	assert.Greater(t, report.Duration, time.Duration(0))
}

func TestEvaluator_RequiresLoaders(t *testing.T) {
	_, err := New(encoder.NewMeanPool(4)).Run(context.Background())
	assert.ErrorContains(t, err, "loaders are required")
}

func TestEvaluator_RequiresEncoder(t *testing.T) {
	_, err := New(nil).Run(context.Background())
	assert.ErrorContains(t, err, "encoder is required")
}
