package evaluator

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/resonata/probe/classifier"
)

// blobEmbeddings builds separable clusters, one per class, center 4 on the
// class's own axis.
func blobEmbeddings(n, d, classes int, seed int64) *Embeddings {
	rng := rand.New(rand.NewSource(seed))
	x := mat.NewDense(n, d, nil)
	y := make([]int, n)
	for i := 0; i < n; i++ {
		c := i % classes
		y[i] = c
		for j := 0; j < d; j++ {
			v := rng.NormFloat64() * 0.3
			if j == c%d {
				v += 4
			}
			x.Set(i, j, v)
		}
	}
	return &Embeddings{X: x, Y: y}
}

func quickOpts() []classifier.Option {
	return []classifier.Option{
		classifier.WithHiddenSize(16),
		classifier.WithMaxEpochs(60),
		classifier.WithBatchSize(16),
	}
}

func TestSubsample_PerClassCounts(t *testing.T) {
	e := blobEmbeddings(40, 4, 4, 1)

	few, err := Subsample(e, 3, 42)
	require.NoError(t, err)
	assert.Equal(t, 12, few.Samples())

	counts := make(map[int]int)
	for _, label := range few.Y {
		counts[label]++
	}
	for c := 0; c < 4; c++ {
		assert.Equal(t, 3, counts[c], "class %d", c)
	}
}

func TestSubsample_Deterministic(t *testing.T) {
	e := blobEmbeddings(40, 4, 4, 1)

	a, err := Subsample(e, 5, 42)
	require.NoError(t, err)
	b, err := Subsample(e, 5, 42)
	require.NoError(t, err)
	assert.Equal(t, a.Y, b.Y)
	assert.True(t, mat.Equal(a.X, b.X))
}

func TestSubsample_InsufficientClass(t *testing.T) {
	// class 3 appears only twice in 11 rows of i%4 labeling
	e := blobEmbeddings(11, 4, 4, 1)
	_, err := Subsample(e, 3, 42)
	require.Error(t, err)
	assert.ErrorContains(t, err, "class 3")
}

func TestLowShot_Repetitions(t *testing.T) {
	train := blobEmbeddings(120, 6, 3, 1)
	val := blobEmbeddings(30, 6, 3, 2)
	test := blobEmbeddings(30, 6, 3, 3)

	res, err := LowShot(train, val, test, 5, 3, 42, quickOpts()...)
	require.NoError(t, err)
	require.Len(t, res.Scores, 3)
	for _, s := range res.Scores {
		assert.GreaterOrEqual(t, s, 0.0)
		assert.LessOrEqual(t, s, 1.0)
	}
	assert.GreaterOrEqual(t, res.Mean, 0.5)
	assert.GreaterOrEqual(t, res.Std, 0.0)
}

func TestLowShot_RejectsBadReps(t *testing.T) {
	e := blobEmbeddings(12, 4, 4, 1)
	_, err := LowShot(e, e, e, 2, 0, 42)
	assert.ErrorContains(t, err, "repetition count")
}

func TestFitScore_SeparatesBlobs(t *testing.T) {
	train := blobEmbeddings(150, 6, 3, 1)
	val := blobEmbeddings(30, 6, 3, 2)
	test := blobEmbeddings(30, 6, 3, 3)

	score, err := FitScore(train, val, test, 42, quickOpts()...)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, score, 0.9)
}

func TestFitScore_EmptySplit(t *testing.T) {
	e := blobEmbeddings(12, 4, 4, 1)
	_, err := FitScore(e, nil, e, 42)
	assert.ErrorContains(t, err, "val embeddings are empty")
}

func TestCompare(t *testing.T) {
	strong := &LowShotResult{Scores: []float64{0.9, 0.9}, Mean: 0.9}
	weak := &LowShotResult{Scores: []float64{0.5, 0.5}, Mean: 0.5}

	cmp, err := Compare("vit_base", strong, "meanpool", weak, 400)
	require.NoError(t, err)
	assert.Equal(t, "vit_base", cmp.Winner)
	assert.InDelta(t, 0.4, cmp.Delta, 1e-9)
	assert.True(t, cmp.Significant)

	tied, err := Compare("a", weak, "b", weak, 400)
	require.NoError(t, err)
	assert.False(t, tied.Significant)

	_, err = Compare("a", strong, "b", weak, 0)
	assert.Error(t, err)
}
