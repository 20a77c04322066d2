package evaluator

import (
	"context"
	"fmt"
	"time"

	"github.com/resonata/probe/classifier"
	"github.com/resonata/probe/dataset"
	"github.com/resonata/probe/encoder"
)

// Evaluator probes a frozen encoder with a linear classifier head.
type Evaluator struct {
	enc   encoder.Encoder
	train *dataset.Loader
	val   *dataset.Loader
	test  *dataset.Loader

	clfOpts []classifier.Option
	seed    int64
	shots   int
	reps    int
	layer   int
}

// New creates an evaluator for the given encoder.
func New(enc encoder.Encoder) *Evaluator {
	return &Evaluator{enc: enc, seed: 42, shots: 5, reps: 5, layer: -1}
}

// WithLoaders sets the train, val, and test loaders.
func (e *Evaluator) WithLoaders(train, val, test *dataset.Loader) *Evaluator {
	e.train, e.val, e.test = train, val, test
	return e
}

// WithClassifierOptions forwards options to every fitted head.
func (e *Evaluator) WithClassifierOptions(opts ...classifier.Option) *Evaluator {
	e.clfOpts = append(e.clfOpts, opts...)
	return e
}

// WithSeed sets the base seed for head initialization and low-shot
// subsampling.
func (e *Evaluator) WithSeed(seed int64) *Evaluator {
	e.seed = seed
	return e
}

// WithShots sets the per-class example count for the low-shot regime.
func (e *Evaluator) WithShots(n int) *Evaluator {
	e.shots = n
	return e
}

// WithRepetitions sets the number of low-shot repetitions.
func (e *Evaluator) WithRepetitions(n int) *Evaluator {
	e.reps = n
	return e
}

// WithLayer selects the encoder layer to probe (negative counts back from
// the final embedding).
func (e *Evaluator) WithLayer(layer int) *Evaluator {
	e.layer = layer
	return e
}

// Report holds the results of one evaluation run.
type Report struct {
	Encoder      string
	Dataset      string
	Score        float64
	ShotScores   []float64
	ShotMean     float64
	ShotStd      float64
	TrainSamples int
	TestSamples  int
	Footprint    int64
	Duration     time.Duration
}

// Run extracts embeddings for all three splits, scores the full-data
// regime, then the low-shot regime. Embedding matrices live only for the
// duration of the call.
func (e *Evaluator) Run(ctx context.Context) (*Report, error) {
	if e.enc == nil {
		return nil, fmt.Errorf("evaluator: encoder is required")
	}
	if e.train == nil || e.val == nil || e.test == nil {
		return nil, fmt.Errorf("evaluator: train, val and test loaders are required")
	}
	start := time.Now()

	train, err := Extract(ctx, e.enc, e.train, WithExtractLayer(e.layer))
	if err != nil {
		return nil, fmt.Errorf("train split: %w", err)
	}
	val, err := Extract(ctx, e.enc, e.val, WithExtractLayer(e.layer))
	if err != nil {
		return nil, fmt.Errorf("val split: %w", err)
	}
	test, err := Extract(ctx, e.enc, e.test, WithExtractLayer(e.layer))
	if err != nil {
		return nil, fmt.Errorf("test split: %w", err)
	}

	score, err := FitScore(train, val, test, e.seed, e.clfOpts...)
	if err != nil {
		return nil, err
	}
	shot, err := LowShot(train, val, test, e.shots, e.reps, e.seed, e.clfOpts...)
	if err != nil {
		return nil, err
	}

	samples := e.train.Samples() + e.val.Samples() + e.test.Samples()
	return &Report{
		Encoder:      e.enc.Name(),
		Dataset:      e.train.Dataset(),
		Score:        score,
		ShotScores:   shot.Scores,
		ShotMean:     shot.Mean,
		ShotStd:      shot.Std,
		TrainSamples: train.Samples(),
		TestSamples:  test.Samples(),
		Footprint:    Footprint(e.enc, samples),
		Duration:     time.Since(start),
	}, nil
}
