package dataset

import (
	"context"
	"fmt"
	"math/rand"

	"github.com/resonata/probe/core"
)

// Batch is a fixed-shape batch ready for an encoder: a [n, frames, mels]
// feature tensor and the matching labels.
type Batch struct {
	X *core.Tensor
	Y []int
}

// Loader iterates a split in batches, cropping or padding every clip to the
// manifest's frame count and applying mean/std normalization. With more than
// one worker, batches are assembled concurrently; the iteration order is
// identical either way.
type Loader struct {
	BatchSize int
	Workers   int

	manifest *Manifest
	split    *Split
	order    []int
	shuffle  bool
	seed     int64
}

// LoaderOption configures a loader.
type LoaderOption func(*Loader)

// WithBatchSize sets the number of clips per batch.
func WithBatchSize(n int) LoaderOption {
	return func(l *Loader) {
		l.BatchSize = n
	}
}

// WithWorkers sets the number of prefetch workers.
func WithWorkers(n int) LoaderOption {
	return func(l *Loader) {
		l.Workers = n
	}
}

// WithShuffle shuffles the clip order once, deterministically from seed.
func WithShuffle(seed int64) LoaderOption {
	return func(l *Loader) {
		l.shuffle = true
		l.seed = seed
	}
}

// NewLoader builds a loader over a split.
func NewLoader(m *Manifest, s *Split, opts ...LoaderOption) (*Loader, error) {
	if s.Len() == 0 {
		return nil, fmt.Errorf("dataset %s: %w", m.Name, core.ErrEmptySplit)
	}
	if s.Mels != m.Mels {
		return nil, fmt.Errorf("dataset %s: split has %d mel bins, manifest says %d: %w",
			m.Name, s.Mels, m.Mels, core.ErrShapeMismatch)
	}
	l := &Loader{BatchSize: 64, Workers: 1, manifest: m, split: s}
	for _, o := range opts {
		o(l)
	}
	if l.BatchSize <= 0 {
		return nil, fmt.Errorf("dataset: batch size must be positive, got %d", l.BatchSize)
	}
	if l.Workers < 1 {
		l.Workers = 1
	}
	l.order = make([]int, s.Len())
	for i := range l.order {
		l.order[i] = i
	}
	if l.shuffle {
		rng := rand.New(rand.NewSource(l.seed))
		rng.Shuffle(len(l.order), func(i, j int) {
			l.order[i], l.order[j] = l.order[j], l.order[i]
		})
	}
	return l, nil
}

// Samples returns the number of clips in one pass.
func (l *Loader) Samples() int { return l.split.Len() }

// Dataset returns the manifest name backing this loader.
func (l *Loader) Dataset() string { return l.manifest.Name }

// Classes returns the number of label classes in the manifest.
func (l *Loader) Classes() int { return l.manifest.Classes }

// Batches returns the number of batches in one pass.
func (l *Loader) Batches() int {
	return (l.split.Len() + l.BatchSize - 1) / l.BatchSize
}

// assemble builds batch b of the current order. Pure with respect to loader
// state, so workers can run it concurrently.
func (l *Loader) assemble(b int) *Batch {
	lo := b * l.BatchSize
	hi := lo + l.BatchSize
	if hi > len(l.order) {
		hi = len(l.order)
	}
	idx := l.order[lo:hi]
	frames, mels := l.manifest.CropFrames, l.manifest.Mels
	x := core.NewTensor(len(idx), frames, mels)
	y := make([]int, len(idx))
	for i, j := range idx {
		c := l.split.Clips[j]
		cropPad(x.Sub(i), c.Features)
		y[i] = c.Label
	}
	mean, std := float32(l.manifest.NormMean), float32(l.manifest.NormStd)
	for i, v := range x.Data {
		x.Data[i] = (v - mean) / std
	}
	return &Batch{X: x, Y: y}
}

// cropPad copies src [f, mels] into dst [crop, mels]: center crop when the
// clip is longer, zero padding at the end when shorter.
func cropPad(dst, src *core.Tensor) {
	frames, crop := src.Dim(0), dst.Dim(0)
	mels := src.Dim(1)
	if frames >= crop {
		start := (frames - crop) / 2
		copy(dst.Data, src.Data[start*mels:(start+crop)*mels])
		return
	}
	copy(dst.Data, src.Data)
}

// Iterator yields the batches of one pass in a fixed order.
type Iterator struct {
	loader *Loader
	next   int
	total  int
	chans  []chan *Batch
	cancel context.CancelFunc
}

// Iter starts one pass over the split. With multiple workers, batches are
// prefetched round-robin so that consumption order matches assembly order.
func (l *Loader) Iter(ctx context.Context) *Iterator {
	it := &Iterator{loader: l, total: l.Batches()}
	if l.Workers <= 1 {
		return it
	}
	ctx, cancel := context.WithCancel(ctx)
	it.cancel = cancel
	it.chans = make([]chan *Batch, l.Workers)
	for w := range it.chans {
		it.chans[w] = make(chan *Batch, 1)
	}
	for w := 0; w < l.Workers; w++ {
		go func(w int) {
			defer close(it.chans[w])
			for b := w; b < it.total; b += l.Workers {
				batch := l.assemble(b)
				select {
				case it.chans[w] <- batch:
				case <-ctx.Done():
					return
				}
			}
		}(w)
	}
	return it
}

// Next returns the next batch, or false when the pass is complete or the
// iterator's context was canceled.
func (it *Iterator) Next() (*Batch, bool) {
	if it.next >= it.total {
		it.Close()
		return nil, false
	}
	b := it.next
	it.next++
	if it.chans == nil {
		return it.loader.assemble(b), true
	}
	batch, ok := <-it.chans[b%len(it.chans)]
	if !ok {
		return nil, false
	}
	return batch, true
}

// Close stops the prefetch workers. Safe to call more than once.
func (it *Iterator) Close() {
	if it.cancel != nil {
		it.cancel()
	}
}
