// Package encoder defines the frozen encoder interface and implementations.
package encoder

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sort"

	"github.com/resonata/probe/core"
)

// Encoder turns feature batches into embedding batches. Implementations are
// frozen: Forward never updates parameters.
type Encoder interface {
	// Name identifies the model, used in registry keys and result paths.
	Name() string
	// EmbedDim returns the width of the final embedding.
	EmbedDim() int
	// Forward encodes a [n, frames, mels] batch and returns one output per
	// reported layer, ordered shallow to deep, each [n, dim]. The final
	// element is the embedding consumers keep.
	Forward(ctx context.Context, batch *core.Tensor) ([]*core.Tensor, error)
}

// Stateful is implemented by encoders whose parameters can be replaced from
// a checkpoint.
type Stateful interface {
	// State returns live views of the current parameters keyed by name.
	State() map[string]*core.Tensor
	// LoadState replaces all parameters. Loading is strict: the state must
	// contain exactly the encoder's parameter names with matching shapes.
	LoadState(state map[string]*core.Tensor) error
}

// Config carries construction inputs shared by all model types.
type Config struct {
	Mels   int   // feature bins per frame
	Frames int   // frames per clip after crop, fixes transformer token count
	UseCLS bool  // transformer readout: class token instead of mean pool
	Seed   int64 // placeholder weight init seed
}

// New builds an encoder of the named model type.
func New(modelType string, cfg Config) (Encoder, error) {
	if cfg.Mels <= 0 {
		return nil, fmt.Errorf("encoder: mels must be positive, got %d", cfg.Mels)
	}
	switch modelType {
	case "meanpool":
		return NewMeanPool(cfg.Mels), nil
	case "audiontt":
		return NewFeedForward(modelType, cfg.Mels, 1024, 1536, cfg.Seed), nil
	case "vit_tiny":
		return NewViT(modelType, cfg, 192, 3, 12)
	case "vit_small":
		return NewViT(modelType, cfg, 384, 6, 12)
	case "vit_base":
		return NewViT(modelType, cfg, 768, 12, 12)
	}
	return nil, fmt.Errorf("encoder: %q: %w", modelType, core.ErrUnknownModel)
}

// Types returns the known model type names.
func Types() []string {
	return []string{"meanpool", "audiontt", "vit_tiny", "vit_small", "vit_base"}
}

// MeanPool is a parameterless baseline encoder: the embedding is the mean
// over frames of the input features.
type MeanPool struct {
	mels int
}

// NewMeanPool builds the mean pooling baseline over mels feature bins.
func NewMeanPool(mels int) *MeanPool {
	return &MeanPool{mels: mels}
}

func (m *MeanPool) Name() string  { return "meanpool" }
func (m *MeanPool) EmbedDim() int { return m.mels }

// Forward implements Encoder.
func (m *MeanPool) Forward(ctx context.Context, batch *core.Tensor) ([]*core.Tensor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	n, frames, err := checkBatch(batch, m.mels)
	if err != nil {
		return nil, fmt.Errorf("meanpool: %w", err)
	}
	out := core.NewTensor(n, m.mels)
	inv := 1 / float32(frames)
	for i := 0; i < n; i++ {
		clip := batch.Sub(i)
		row := out.Sub(i).Data
		for f := 0; f < frames; f++ {
			frame := clip.Data[f*m.mels : (f+1)*m.mels]
			for j, v := range frame {
				row[j] += v
			}
		}
		for j := range row {
			row[j] *= inv
		}
	}
	return []*core.Tensor{out}, nil
}

// checkBatch validates a [n, frames, mels] input and returns n and frames.
func checkBatch(batch *core.Tensor, mels int) (n, frames int, err error) {
	if batch.Rank() != 3 {
		return 0, 0, fmt.Errorf("batch rank %d, want 3: %w", batch.Rank(), core.ErrShapeMismatch)
	}
	if batch.Dim(2) != mels {
		return 0, 0, fmt.Errorf("batch has %d mel bins, encoder expects %d: %w", batch.Dim(2), mels, core.ErrShapeMismatch)
	}
	if batch.Dim(1) == 0 {
		return 0, 0, fmt.Errorf("batch has zero frames: %w", core.ErrShapeMismatch)
	}
	return batch.Dim(0), batch.Dim(1), nil
}

// params is a named set of tensors with strict replacement.
type params struct {
	names  []string
	byName map[string]*core.Tensor
}

func newParams() *params {
	return &params{byName: make(map[string]*core.Tensor)}
}

// add registers a tensor under name and returns it.
func (p *params) add(name string, t *core.Tensor) *core.Tensor {
	p.names = append(p.names, name)
	p.byName[name] = t
	return t
}

// state returns the parameter map. Tensors are live views, not copies.
func (p *params) state() map[string]*core.Tensor {
	out := make(map[string]*core.Tensor, len(p.byName))
	for k, v := range p.byName {
		out[k] = v
	}
	return out
}

// load strictly replaces every parameter from state. Key sets must match
// exactly and shapes must agree; data is copied into the existing tensors.
func (p *params) load(state map[string]*core.Tensor) error {
	var missing, unexpected []string
	for _, name := range p.names {
		if _, ok := state[name]; !ok {
			missing = append(missing, name)
		}
	}
	for name := range state {
		if _, ok := p.byName[name]; !ok {
			unexpected = append(unexpected, name)
		}
	}
	if len(missing) > 0 || len(unexpected) > 0 {
		sort.Strings(missing)
		sort.Strings(unexpected)
		return fmt.Errorf("missing keys %v, unexpected keys %v: %w", missing, unexpected, core.ErrStateMismatch)
	}
	for _, name := range p.names {
		have, want := p.byName[name], state[name]
		if !have.SameShape(want) {
			return &core.StateError{
				Param:   name,
				Message: fmt.Sprintf("checkpoint shape %v, encoder expects %v", want.Shape, have.Shape),
			}
		}
	}
	for _, name := range p.names {
		copy(p.byName[name].Data, state[name].Data)
	}
	return nil
}

// matmulAdd computes dst = x*w + b for row-major float32 slices.
// x is [n, in], w is [in, out], b is length out or nil, dst is [n, out].
func matmulAdd(dst, x, w, b []float32, n, in, out int) {
	for i := 0; i < n; i++ {
		row := dst[i*out : (i+1)*out]
		if b != nil {
			copy(row, b)
		} else {
			for j := range row {
				row[j] = 0
			}
		}
		xi := x[i*in : (i+1)*in]
		for k, xv := range xi {
			if xv == 0 {
				continue
			}
			wr := w[k*out : (k+1)*out]
			for j, wv := range wr {
				row[j] += xv * wv
			}
		}
	}
}

func relu(x []float32) {
	for i, v := range x {
		if v < 0 {
			x[i] = 0
		}
	}
}

// randomTensor draws placeholder weights scaled by fan-in.
func randomTensor(rng *rand.Rand, shape ...int) *core.Tensor {
	t := core.NewTensor(shape...)
	scale := float32(math.Sqrt(2.0 / float64(shape[0])))
	for i := range t.Data {
		t.Data[i] = float32(rng.NormFloat64()) * scale
	}
	return t
}

// meanRows reduces src [rows, cols] to its column means.
func meanRows(dst, src []float32, rows, cols int) {
	for j := range dst {
		dst[j] = 0
	}
	for r := 0; r < rows; r++ {
		row := src[r*cols : (r+1)*cols]
		for j, v := range row {
			dst[j] += v
		}
	}
	inv := 1 / float32(rows)
	for j := range dst {
		dst[j] *= inv
	}
}

// maxRows reduces src [rows, cols] to its column maxima.
func maxRows(dst, src []float32, rows, cols int) {
	copy(dst, src[:cols])
	for r := 1; r < rows; r++ {
		row := src[r*cols : (r+1)*cols]
		for j, v := range row {
			if v > dst[j] {
				dst[j] = v
			}
		}
	}
}
