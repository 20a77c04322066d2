package encoder

import (
	"context"
	"fmt"
	"math"
	"math/rand"

	"github.com/resonata/probe/core"
)

// vitPatchFrames is the number of frames folded into one token.
const vitPatchFrames = 16

// ViT is a transformer encoder over frame patches, the "vit_tiny",
// "vit_small" and "vit_base" model family. The token count is fixed at
// construction, so inputs must match the configured frame count.
type ViT struct {
	name   string
	mels   int
	frames int
	tokens int
	dim    int
	heads  int
	depth  int
	useCLS bool

	p              *params
	patchW, patchB *core.Tensor
	cls            *core.Tensor
	pos            *core.Tensor
	blocks         []*vitBlock
	normW, normB   *core.Tensor
}

type vitBlock struct {
	ln1W, ln1B   *core.Tensor
	qkvW, qkvB   *core.Tensor
	projW, projB *core.Tensor
	ln2W, ln2B   *core.Tensor
	fc1W, fc1B   *core.Tensor
	fc2W, fc2B   *core.Tensor
}

// NewViT builds a transformer encoder with the given width, head count and
// depth. Weights start as seeded placeholders and are meant to be replaced
// by a checkpoint.
func NewViT(name string, cfg Config, dim, heads, depth int) (*ViT, error) {
	if cfg.Frames <= 0 {
		return nil, fmt.Errorf("encoder: %s needs a positive frame count, got %d", name, cfg.Frames)
	}
	if dim%heads != 0 {
		return nil, fmt.Errorf("encoder: %s width %d is not divisible by %d heads", name, dim, heads)
	}
	tokens := (cfg.Frames + vitPatchFrames - 1) / vitPatchFrames
	e := &ViT{
		name:   name,
		mels:   cfg.Mels,
		frames: cfg.Frames,
		tokens: tokens,
		dim:    dim,
		heads:  heads,
		depth:  depth,
		useCLS: cfg.UseCLS,
		p:      newParams(),
	}
	rng := rand.New(rand.NewSource(cfg.Seed))
	patchIn := vitPatchFrames * cfg.Mels
	e.patchW = e.p.add("patch.weight", randomTensor(rng, patchIn, dim))
	e.patchB = e.p.add("patch.bias", core.NewTensor(dim))
	e.cls = e.p.add("cls", tokenTensor(rng, 1, dim))
	e.pos = e.p.add("pos", tokenTensor(rng, tokens+1, dim))
	for i := 0; i < depth; i++ {
		pre := fmt.Sprintf("blocks.%d.", i)
		b := &vitBlock{}
		b.ln1W = e.p.add(pre+"ln1.weight", onesTensor(dim))
		b.ln1B = e.p.add(pre+"ln1.bias", core.NewTensor(dim))
		b.qkvW = e.p.add(pre+"attn.qkv.weight", randomTensor(rng, dim, 3*dim))
		b.qkvB = e.p.add(pre+"attn.qkv.bias", core.NewTensor(3*dim))
		b.projW = e.p.add(pre+"attn.proj.weight", randomTensor(rng, dim, dim))
		b.projB = e.p.add(pre+"attn.proj.bias", core.NewTensor(dim))
		b.ln2W = e.p.add(pre+"ln2.weight", onesTensor(dim))
		b.ln2B = e.p.add(pre+"ln2.bias", core.NewTensor(dim))
		b.fc1W = e.p.add(pre+"mlp.fc1.weight", randomTensor(rng, dim, 4*dim))
		b.fc1B = e.p.add(pre+"mlp.fc1.bias", core.NewTensor(4*dim))
		b.fc2W = e.p.add(pre+"mlp.fc2.weight", randomTensor(rng, 4*dim, dim))
		b.fc2B = e.p.add(pre+"mlp.fc2.bias", core.NewTensor(dim))
		e.blocks = append(e.blocks, b)
	}
	e.normW = e.p.add("norm.weight", onesTensor(dim))
	e.normB = e.p.add("norm.bias", core.NewTensor(dim))
	return e, nil
}

func (e *ViT) Name() string  { return e.name }
func (e *ViT) EmbedDim() int { return e.dim }

// Forward implements Encoder. Outputs are the per-block readouts, the last
// of them after the final layer norm. The readout is the class token when
// configured, otherwise the mean over patch tokens.
func (e *ViT) Forward(ctx context.Context, batch *core.Tensor) ([]*core.Tensor, error) {
	n, frames, err := checkBatch(batch, e.mels)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", e.name, err)
	}
	if frames != e.frames {
		return nil, fmt.Errorf("%s: batch has %d frames, encoder is fixed at %d: %w",
			e.name, frames, e.frames, core.ErrShapeMismatch)
	}
	outs := make([]*core.Tensor, e.depth)
	for l := range outs {
		outs[l] = core.NewTensor(n, e.dim)
	}

	seq := e.tokens + 1
	x := make([]float32, seq*e.dim)
	padded := make([]float32, e.tokens*vitPatchFrames*e.mels)
	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for j := range padded {
			padded[j] = 0
		}
		copy(padded, batch.Sub(i).Data)

		matmulAdd(x[e.dim:], padded, e.patchW.Data, e.patchB.Data, e.tokens, vitPatchFrames*e.mels, e.dim)
		copy(x[:e.dim], e.cls.Data)
		for j, v := range e.pos.Data {
			x[j] += v
		}

		for l, b := range e.blocks {
			e.runBlock(b, x, seq)
			if l < e.depth-1 {
				e.readout(outs[l].Sub(i).Data, x, seq)
			}
		}
		layerNorm(x, seq, e.dim, e.normW.Data, e.normB.Data)
		e.readout(outs[e.depth-1].Sub(i).Data, x, seq)
	}
	return outs, nil
}

func (e *ViT) runBlock(b *vitBlock, x []float32, seq int) {
	d := e.dim
	norm := make([]float32, seq*d)
	copy(norm, x)
	layerNorm(norm, seq, d, b.ln1W.Data, b.ln1B.Data)
	qkv := make([]float32, seq*3*d)
	matmulAdd(qkv, norm, b.qkvW.Data, b.qkvB.Data, seq, d, 3*d)
	attn := e.attention(qkv, seq)
	proj := make([]float32, seq*d)
	matmulAdd(proj, attn, b.projW.Data, b.projB.Data, seq, d, d)
	for j := range x {
		x[j] += proj[j]
	}

	copy(norm, x)
	layerNorm(norm, seq, d, b.ln2W.Data, b.ln2B.Data)
	hidden := make([]float32, seq*4*d)
	matmulAdd(hidden, norm, b.fc1W.Data, b.fc1B.Data, seq, d, 4*d)
	gelu(hidden)
	matmulAdd(proj, hidden, b.fc2W.Data, b.fc2B.Data, seq, 4*d, d)
	for j := range x {
		x[j] += proj[j]
	}
}

// attention runs multi-head self attention over a packed [seq, 3*dim] qkv.
func (e *ViT) attention(qkv []float32, seq int) []float32 {
	d, heads := e.dim, e.heads
	dh := d / heads
	out := make([]float32, seq*d)
	scores := make([]float32, seq)
	scale := float32(1 / math.Sqrt(float64(dh)))
	for h := 0; h < heads; h++ {
		off := h * dh
		for i := 0; i < seq; i++ {
			q := qkv[i*3*d+off : i*3*d+off+dh]
			for j := 0; j < seq; j++ {
				k := qkv[j*3*d+d+off : j*3*d+d+off+dh]
				s := float32(0)
				for t := 0; t < dh; t++ {
					s += q[t] * k[t]
				}
				scores[j] = s * scale
			}
			softmax32(scores)
			o := out[i*d+off : i*d+off+dh]
			for j := 0; j < seq; j++ {
				v := qkv[j*3*d+2*d+off : j*3*d+2*d+off+dh]
				w := scores[j]
				for t := 0; t < dh; t++ {
					o[t] += w * v[t]
				}
			}
		}
	}
	return out
}

func (e *ViT) readout(dst, x []float32, seq int) {
	if e.useCLS {
		copy(dst, x[:e.dim])
		return
	}
	meanRows(dst, x[e.dim:], seq-1, e.dim)
}

// State implements Stateful.
func (e *ViT) State() map[string]*core.Tensor { return e.p.state() }

// LoadState implements Stateful.
func (e *ViT) LoadState(state map[string]*core.Tensor) error {
	if err := e.p.load(state); err != nil {
		return fmt.Errorf("%s: %w", e.name, err)
	}
	return nil
}

func tokenTensor(rng *rand.Rand, shape ...int) *core.Tensor {
	t := core.NewTensor(shape...)
	for i := range t.Data {
		t.Data[i] = float32(rng.NormFloat64()) * 0.02
	}
	return t
}

func onesTensor(n int) *core.Tensor {
	t := core.NewTensor(n)
	for i := range t.Data {
		t.Data[i] = 1
	}
	return t
}

func layerNorm(x []float32, rows, cols int, w, b []float32) {
	const eps = 1e-6
	for r := 0; r < rows; r++ {
		row := x[r*cols : (r+1)*cols]
		mean := float32(0)
		for _, v := range row {
			mean += v
		}
		mean /= float32(cols)
		variance := float32(0)
		for _, v := range row {
			d := v - mean
			variance += d * d
		}
		variance /= float32(cols)
		inv := float32(1 / math.Sqrt(float64(variance)+eps))
		for j, v := range row {
			row[j] = (v-mean)*inv*w[j] + b[j]
		}
	}
}

func softmax32(x []float32) {
	max := x[0]
	for _, v := range x {
		if v > max {
			max = v
		}
	}
	sum := float32(0)
	for i, v := range x {
		x[i] = float32(math.Exp(float64(v - max)))
		sum += x[i]
	}
	inv := 1 / sum
	for i := range x {
		x[i] *= inv
	}
}

func gelu(x []float32) {
	const c = 0.7978845608028654 // sqrt(2/pi)
	for i, v := range x {
		f := float64(v)
		x[i] = float32(0.5 * f * (1 + math.Tanh(c*(f+0.044715*f*f*f))))
	}
}
