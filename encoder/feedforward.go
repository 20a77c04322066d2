package encoder

import (
	"context"
	"fmt"
	"math/rand"

	"github.com/resonata/probe/core"
)

// FeedForward is a frame-wise MLP encoder with concatenated mean and max
// temporal pooling, the "audiontt" model family.
type FeedForward struct {
	name   string
	mels   int
	hidden int
	proj   int

	p      *params
	w1, b1 *core.Tensor
	w2, b2 *core.Tensor
	w3, b3 *core.Tensor
}

// NewFeedForward builds a frame-wise MLP encoder: two hidden layers of
// hidden units, a proj-wide projection, and a mean+max pool over frames
// giving an embedding of 2*proj. Weights start as seeded placeholders and
// are meant to be replaced by a checkpoint.
func NewFeedForward(name string, mels, hidden, proj int, seed int64) *FeedForward {
	rng := rand.New(rand.NewSource(seed))
	e := &FeedForward{name: name, mels: mels, hidden: hidden, proj: proj, p: newParams()}
	e.w1 = e.p.add("frame.0.weight", randomTensor(rng, mels, hidden))
	e.b1 = e.p.add("frame.0.bias", core.NewTensor(hidden))
	e.w2 = e.p.add("frame.1.weight", randomTensor(rng, hidden, hidden))
	e.b2 = e.p.add("frame.1.bias", core.NewTensor(hidden))
	e.w3 = e.p.add("proj.weight", randomTensor(rng, hidden, proj))
	e.b3 = e.p.add("proj.bias", core.NewTensor(proj))
	return e
}

func (e *FeedForward) Name() string  { return e.name }
func (e *FeedForward) EmbedDim() int { return 2 * e.proj }

// Forward implements Encoder. Outputs are the mean-pooled activations of
// both hidden layers and, last, the mean+max pooled projection.
func (e *FeedForward) Forward(ctx context.Context, batch *core.Tensor) ([]*core.Tensor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	n, frames, err := checkBatch(batch, e.mels)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", e.name, err)
	}
	l1 := core.NewTensor(n, e.hidden)
	l2 := core.NewTensor(n, e.hidden)
	emb := core.NewTensor(n, 2*e.proj)
	h1 := make([]float32, frames*e.hidden)
	h2 := make([]float32, frames*e.hidden)
	z := make([]float32, frames*e.proj)
	for i := 0; i < n; i++ {
		clip := batch.Sub(i).Data
		matmulAdd(h1, clip, e.w1.Data, e.b1.Data, frames, e.mels, e.hidden)
		relu(h1)
		matmulAdd(h2, h1, e.w2.Data, e.b2.Data, frames, e.hidden, e.hidden)
		relu(h2)
		matmulAdd(z, h2, e.w3.Data, e.b3.Data, frames, e.hidden, e.proj)

		meanRows(l1.Sub(i).Data, h1, frames, e.hidden)
		meanRows(l2.Sub(i).Data, h2, frames, e.hidden)
		row := emb.Sub(i).Data
		meanRows(row[:e.proj], z, frames, e.proj)
		maxRows(row[e.proj:], z, frames, e.proj)
	}
	return []*core.Tensor{l1, l2, emb}, nil
}

// State implements Stateful.
func (e *FeedForward) State() map[string]*core.Tensor { return e.p.state() }

// LoadState implements Stateful.
func (e *FeedForward) LoadState(state map[string]*core.Tensor) error {
	if err := e.p.load(state); err != nil {
		return fmt.Errorf("%s: %w", e.name, err)
	}
	return nil
}
