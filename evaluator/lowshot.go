package evaluator

import (
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/resonata/probe/classifier"
)

// LowShotResult holds per-repetition test scores and their aggregate.
// Std is the population standard deviation across repetitions.
type LowShotResult struct {
	Scores []float64
	Mean   float64
	Std    float64
}

// Subsample picks perClass examples of every class from e, shuffled
// deterministically from seed. A class with fewer than perClass examples
// is an error.
func Subsample(e *Embeddings, perClass int, seed int64) (*Embeddings, error) {
	if perClass <= 0 {
		return nil, fmt.Errorf("evaluator: per-class count must be positive, got %d", perClass)
	}
	classes := 0
	for i, label := range e.Y {
		if label < 0 {
			return nil, fmt.Errorf("evaluator: negative label %d at row %d", label, i)
		}
		if label+1 > classes {
			classes = label + 1
		}
	}
	byClass := make([][]int, classes)
	for i, label := range e.Y {
		byClass[label] = append(byClass[label], i)
	}
	rng := rand.New(rand.NewSource(seed))
	picked := make([]int, 0, classes*perClass)
	for c, idx := range byClass {
		if len(idx) < perClass {
			return nil, fmt.Errorf("evaluator: class %d has %d examples, need %d", c, len(idx), perClass)
		}
		rng.Shuffle(len(idx), func(i, j int) { idx[i], idx[j] = idx[j], idx[i] })
		picked = append(picked, idx[:perClass]...)
	}
	_, d := e.X.Dims()
	x := mat.NewDense(len(picked), d, nil)
	y := make([]int, len(picked))
	for row, src := range picked {
		x.SetRow(row, e.X.RawRowView(src))
		y[row] = e.Y[src]
	}
	return &Embeddings{X: x, Y: y}, nil
}

// LowShot runs reps independent low-shot fits: each repetition subsamples
// shots examples per class from train with seed base+rep, trains a fresh
// head, and scores it on the untouched test split. Val stays full-size for
// early stopping.
func LowShot(train, val, test *Embeddings, shots, reps int, baseSeed int64, opts ...classifier.Option) (*LowShotResult, error) {
	if reps <= 0 {
		return nil, fmt.Errorf("evaluator: repetition count must be positive, got %d", reps)
	}
	if err := checkSplits(train, val, test); err != nil {
		return nil, err
	}
	scores := make([]float64, 0, reps)
	for rep := 0; rep < reps; rep++ {
		seed := baseSeed + int64(rep)
		few, err := Subsample(train, shots, seed)
		if err != nil {
			return nil, err
		}
		score, err := FitScore(few, val, test, seed, opts...)
		if err != nil {
			return nil, fmt.Errorf("evaluator: repetition %d: %w", rep, err)
		}
		scores = append(scores, score)
	}
	return &LowShotResult{
		Scores: scores,
		Mean:   stat.Mean(scores, nil),
		Std:    math.Sqrt(stat.Moment(2, scores, nil)),
	}, nil
}
