// Package probe evaluates frozen audio encoders by linear probing.
//
// A run extracts embeddings over the train, val and test splits of a
// dataset, fits an MLP head on the train embeddings (val for early
// stopping), and reports test accuracy for the full-data regime and the
// low-shot regime (n examples per class, mean and std over repetitions).
//
// Quick start:
//
//	report, err := probe.NewEvaluation("esc50").
//		WithDataDir("data").
//		WithModelType("vit_base").
//		WithModelFile("weights/vit_base.ckpt.gz").
//		WithModelName("vit_base_800").
//		WithEpoch(100).
//		WithLogDir(".").
//		Run(context.Background())
package probe

import (
	"context"
	"fmt"
	"time"

	"github.com/resonata/probe/checkpoint"
	"github.com/resonata/probe/classifier"
	"github.com/resonata/probe/dataset"
	"github.com/resonata/probe/encoder"
	"github.com/resonata/probe/evaluator"
	"github.com/resonata/probe/middleware"
	"github.com/resonata/probe/pipeline"
	"github.com/resonata/probe/results"
)

// Evaluation assembles one linear-probe run via a fluent API.
type Evaluation struct {
	dataset string
	dataDir string
	logDir  string

	enc       encoder.Encoder
	modelType string
	modelName string
	modelFile string
	cp        *checkpoint.Checkpoint
	epoch     int
	useCLS    bool
	fp16      bool

	batchSize int
	workers   int
	seed      int64
	shots     int
	reps      int
	layer     int
	clfOpts   []classifier.Option
	mws       []middleware.Middleware
	sinks     []results.Store
	observer  func(step string, d time.Duration, err error)
}

// NewEvaluation starts a builder for the named dataset.
func NewEvaluation(dataset string) *Evaluation {
	return &Evaluation{
		dataset:   dataset,
		dataDir:   "data",
		epoch:     100,
		batchSize: 64,
		workers:   1,
		seed:      42,
		shots:     5,
		reps:      5,
		layer:     -1,
	}
}

// WithDataDir sets the directory holding the dataset manifest and splits.
func (e *Evaluation) WithDataDir(dir string) *Evaluation {
	e.dataDir = dir
	return e
}

// WithLogDir enables the CSV sink rooted at dir. The run line is appended to
// <dir>/logs/linear_eval/<dataset>/<model>/log.csv.
func (e *Evaluation) WithLogDir(dir string) *Evaluation {
	e.logDir = dir
	return e
}

// WithEncoder sets a prebuilt encoder. Takes precedence over WithModelType.
func (e *Evaluation) WithEncoder(enc encoder.Encoder) *Evaluation {
	e.enc = enc
	return e
}

// WithModelType builds the encoder by model type name at run time, using the
// dataset manifest for the feature geometry.
func (e *Evaluation) WithModelType(modelType string) *Evaluation {
	e.modelType = modelType
	return e
}

// WithModelName sets the name used in result paths and records. Defaults to
// the encoder's own name.
func (e *Evaluation) WithModelName(name string) *Evaluation {
	e.modelName = name
	return e
}

// WithModelFile loads encoder parameters from a checkpoint file before
// evaluating.
func (e *Evaluation) WithModelFile(path string) *Evaluation {
	e.modelFile = path
	return e
}

// WithCheckpoint loads encoder parameters from an already parsed checkpoint.
// Takes precedence over WithModelFile.
func (e *Evaluation) WithCheckpoint(cp *checkpoint.Checkpoint) *Evaluation {
	e.cp = cp
	return e
}

// WithEpoch sets the pretraining epoch recorded with the result.
func (e *Evaluation) WithEpoch(epoch int) *Evaluation {
	e.epoch = epoch
	return e
}

// WithUseCLS selects the class-token readout for transformer encoders.
func (e *Evaluation) WithUseCLS(on bool) *Evaluation {
	e.useCLS = on
	return e
}

// WithHalfPrecision rounds encoder activations through float16 during
// extraction.
func (e *Evaluation) WithHalfPrecision(on bool) *Evaluation {
	e.fp16 = on
	return e
}

// WithBatchSize sets the loader batch size.
func (e *Evaluation) WithBatchSize(n int) *Evaluation {
	e.batchSize = n
	return e
}

// WithWorkers sets the loader prefetch worker count.
func (e *Evaluation) WithWorkers(n int) *Evaluation {
	e.workers = n
	return e
}

// WithSeed sets the base seed for head initialization and low-shot
// subsampling.
func (e *Evaluation) WithSeed(seed int64) *Evaluation {
	e.seed = seed
	return e
}

// WithShots sets the per-class example count for the low-shot regime.
func (e *Evaluation) WithShots(n int) *Evaluation {
	e.shots = n
	return e
}

// WithRepetitions sets the number of low-shot repetitions.
func (e *Evaluation) WithRepetitions(n int) *Evaluation {
	e.reps = n
	return e
}

// WithLayer selects the encoder layer to probe (negative counts back from
// the final embedding).
func (e *Evaluation) WithLayer(layer int) *Evaluation {
	e.layer = layer
	return e
}

// WithClassifierOptions forwards options to every fitted head.
func (e *Evaluation) WithClassifierOptions(opts ...classifier.Option) *Evaluation {
	e.clfOpts = append(e.clfOpts, opts...)
	return e
}

// WithMiddleware wraps the encoder with the given middleware (first is
// outermost).
func (e *Evaluation) WithMiddleware(mws ...middleware.Middleware) *Evaluation {
	e.mws = append(e.mws, mws...)
	return e
}

// WithSink records the run to the given results store in addition to the CSV
// log.
func (e *Evaluation) WithSink(s results.Store) *Evaluation {
	e.sinks = append(e.sinks, s)
	return e
}

// WithObserver sets a callback invoked after each pipeline step with its
// duration. Useful for progress output at the CLI.
func (e *Evaluation) WithObserver(fn func(step string, d time.Duration, err error)) *Evaluation {
	e.observer = fn
	return e
}

// Report is an evaluator report annotated with the run's identity and
// per-step durations.
type Report struct {
	evaluator.Report
	Model string
	Epoch int
	Steps map[string]time.Duration
}

// Run executes the evaluation as a fail-fast pipeline: load the dataset,
// build the encoder, load the checkpoint, evaluate, record.
func (e *Evaluation) Run(ctx context.Context) (*Report, error) {
	if e.dataset == "" {
		return nil, fmt.Errorf("probe: dataset is required")
	}
	if e.enc == nil && e.modelType == "" {
		return nil, fmt.Errorf("probe: an encoder or a model type is required")
	}

	var (
		manifest *dataset.Manifest
		loaders  = make(map[string]*dataset.Loader, 3)
		enc      = e.enc
		model    = e.modelName
		report   *evaluator.Report
	)

	sinks := e.sinks
	if e.logDir != "" {
		sinks = append([]results.Store{results.NewCSVLog(e.logDir)}, sinks...)
	}

	p := pipeline.New("linear-eval").
		WithObserver(e.observer).
		Step("load-dataset", func(ctx context.Context) error {
			m, err := dataset.LoadManifest(dataset.ManifestPath(e.dataDir, e.dataset))
			if err != nil {
				return err
			}
			manifest = m
			for _, name := range []string{dataset.SplitTrain, dataset.SplitVal, dataset.SplitTest} {
				s, err := m.OpenSplit(e.dataDir, name)
				if err != nil {
					return err
				}
				l, err := dataset.NewLoader(m, s,
					dataset.WithBatchSize(e.batchSize),
					dataset.WithWorkers(e.workers))
				if err != nil {
					return err
				}
				loaders[name] = l
			}
			return nil
		}).
		Step("build-encoder", func(ctx context.Context) error {
			if enc == nil {
				built, err := encoder.New(e.modelType, encoder.Config{
					Mels:   manifest.Mels,
					Frames: manifest.CropFrames,
					UseCLS: e.useCLS,
					Seed:   e.seed,
				})
				if err != nil {
					return err
				}
				enc = built
			}
			if model == "" {
				model = enc.Name()
			}
			return nil
		}).
		Step("load-checkpoint", func(ctx context.Context) error {
			cp := e.cp
			if cp == nil {
				loaded, err := checkpoint.Load(e.modelFile)
				if err != nil {
					return err
				}
				cp = loaded
			}
			st, ok := enc.(encoder.Stateful)
			if !ok {
				return fmt.Errorf("probe: encoder %s cannot load checkpoints", enc.Name())
			}
			if err := st.LoadState(cp.EncoderState()); err != nil {
				return fmt.Errorf("probe: load state into %s: %w", enc.Name(), err)
			}
			return nil
		}, pipeline.WithCondition(func(context.Context, *pipeline.Result) bool {
			return e.cp != nil || e.modelFile != ""
		})).
		Step("evaluate", func(ctx context.Context) error {
			mws := e.mws
			if e.fp16 {
				mws = append(mws, middleware.HalfPrecision())
			}
			r, err := evaluator.New(middleware.Chain(enc, mws...)).
				WithLoaders(loaders[dataset.SplitTrain], loaders[dataset.SplitVal], loaders[dataset.SplitTest]).
				WithClassifierOptions(e.clfOpts...).
				WithSeed(e.seed).
				WithShots(e.shots).
				WithRepetitions(e.reps).
				WithLayer(e.layer).
				Run(ctx)
			if err != nil {
				return err
			}
			report = r
			return nil
		}).
		Step("record", func(ctx context.Context) error {
			rec := results.Record{
				Dataset:  e.dataset,
				Model:    model,
				Epoch:    e.epoch,
				Score:    report.Score,
				ShotMean: report.ShotMean,
				ShotStd:  report.ShotStd,
				At:       time.Now(),
			}
			for _, sink := range sinks {
				if err := sink.Record(ctx, rec); err != nil {
					return err
				}
			}
			return nil
		}, pipeline.WithCondition(func(context.Context, *pipeline.Result) bool {
			return len(sinks) > 0
		}))

	steps, err := p.Run(ctx)
	if err != nil {
		return nil, err
	}
	return &Report{
		Report: *report,
		Model:  model,
		Epoch:  e.epoch,
		Steps:  steps.All(),
	}, nil
}

// Re-export frequently used types for convenience.
type (
	// Encoder is the frozen feature extractor interface.
	Encoder = encoder.Encoder
	// Checkpoint is a parsed encoder parameter file.
	Checkpoint = checkpoint.Checkpoint
	// Record is a results sink entry.
	Record = results.Record
)

// Constructors and loaders (re-export).
var (
	NewEncoder     = encoder.New
	EncoderTypes   = encoder.Types
	LoadCheckpoint = checkpoint.Load
	LoadManifest   = dataset.LoadManifest
)
