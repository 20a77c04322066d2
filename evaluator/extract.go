// Package evaluator runs linear-probing evaluations of frozen encoders.
package evaluator

import (
	"context"
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/resonata/probe/core"
	"github.com/resonata/probe/dataset"
	"github.com/resonata/probe/encoder"
)

// Embeddings holds one split's extracted embedding matrix and labels.
// Rows of X and entries of Y align one to one in loader iteration order.
type Embeddings struct {
	X *mat.Dense
	Y []int
}

// Samples returns the number of embedded clips.
func (e *Embeddings) Samples() int {
	if e.X == nil {
		return 0
	}
	r, _ := e.X.Dims()
	return r
}

// Dim returns the embedding dimensionality.
func (e *Embeddings) Dim() int {
	if e.X == nil {
		return 0
	}
	_, c := e.X.Dims()
	return c
}

type extractConfig struct {
	layer int
}

// ExtractOption configures embedding extraction.
type ExtractOption func(*extractConfig)

// WithExtractLayer selects the encoder output layer to collect. Negative
// values count back from the deepest layer; the default -1 is the final
// embedding.
func WithExtractLayer(layer int) ExtractOption {
	return func(c *extractConfig) { c.layer = layer }
}

// Extract runs the encoder over every batch of the loader and collects the
// selected layer into a row-per-clip matrix plus aligned labels.
func Extract(ctx context.Context, enc encoder.Encoder, loader *dataset.Loader, opts ...ExtractOption) (*Embeddings, error) {
	cfg := extractConfig{layer: -1}
	for _, o := range opts {
		o(&cfg)
	}
	n := loader.Samples()
	y := make([]int, 0, n)
	var x *mat.Dense
	width := 0
	row := 0

	it := loader.Iter(ctx)
	defer it.Close()
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		batch, ok := it.Next()
		if !ok {
			break
		}
		outs, err := enc.Forward(ctx, batch.X)
		if err != nil {
			return nil, fmt.Errorf("evaluator: forward: %w", err)
		}
		out, err := selectLayer(outs, cfg.layer)
		if err != nil {
			return nil, err
		}
		if out.Rank() != 2 || out.Dim(0) != len(batch.Y) {
			return nil, fmt.Errorf("evaluator: layer shape %v does not match %d labels: %w",
				out.Shape, len(batch.Y), core.ErrShapeMismatch)
		}
		d := out.Dim(1)
		if x == nil {
			width = d
			x = mat.NewDense(n, d, nil)
		} else if d != width {
			return nil, fmt.Errorf("evaluator: layer width changed from %d to %d: %w",
				width, d, core.ErrShapeMismatch)
		}
		for i := 0; i < out.Dim(0); i++ {
			for j := 0; j < d; j++ {
				x.Set(row+i, j, float64(out.At(i, j)))
			}
		}
		row += out.Dim(0)
		y = append(y, batch.Y...)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if row != n {
		return nil, fmt.Errorf("evaluator: extracted %d rows, expected %d", row, n)
	}
	return &Embeddings{X: x, Y: y}, nil
}

func selectLayer(outs []*core.Tensor, layer int) (*core.Tensor, error) {
	if len(outs) == 0 {
		return nil, fmt.Errorf("evaluator: encoder returned no layers")
	}
	idx := layer
	if idx < 0 {
		idx += len(outs)
	}
	if idx < 0 || idx >= len(outs) {
		return nil, fmt.Errorf("evaluator: layer %d out of range, encoder has %d", layer, len(outs))
	}
	return outs[idx], nil
}

// Footprint estimates the host memory one split's embedding matrix will
// occupy, before extraction runs.
func Footprint(enc encoder.Encoder, samples int) int64 {
	const bytesPerValue = 8 // mat.Dense backing
	return int64(samples) * int64(enc.EmbedDim()) * bytesPerValue
}
