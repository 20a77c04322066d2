package middleware

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/resonata/probe/core"
)

// stubEncoder echoes its input as the only layer.
type stubEncoder struct {
	err error
}

func (s *stubEncoder) Name() string  { return "stub" }
func (s *stubEncoder) EmbedDim() int { return 2 }

func (s *stubEncoder) Forward(ctx context.Context, batch *core.Tensor) ([]*core.Tensor, error) {
	if s.err != nil {
		return nil, s.err
	}
	return []*core.Tensor{batch.Clone()}, nil
}

func batchOf(t *testing.T, data []float32, shape ...int) *core.Tensor {
	t.Helper()
	b, err := core.TensorOf(data, shape...)
	require.NoError(t, err)
	return b
}

func TestHalfPrecision_RoundsActivations(t *testing.T) {
	enc := Chain(&stubEncoder{}, HalfPrecision())
	third := float32(1.0 / 3.0)
	batch := batchOf(t, []float32{third, 1, 2, 3}, 2, 1, 2)

	outs, err := enc.Forward(context.Background(), batch)
	require.NoError(t, err)
	require.Len(t, outs, 1)

	want := core.RoundHalf(third)
	assert.Equal(t, want, outs[0].Data[0])
	assert.NotEqual(t, third, want)
	// caller's batch stays full precision
	assert.Equal(t, third, batch.Data[0])
}

func TestMetrics_Counts(t *testing.T) {
	mw, counters := Metrics()
	stub := &stubEncoder{}
	enc := Chain(stub, mw)
	batch := batchOf(t, []float32{1, 2, 3, 4}, 2, 1, 2)

	_, err := enc.Forward(context.Background(), batch)
	require.NoError(t, err)
	_, err = enc.Forward(context.Background(), batch)
	require.NoError(t, err)

	stub.err = errors.New("boom")
	_, err = enc.Forward(context.Background(), batch)
	require.Error(t, err)

	assert.Equal(t, uint64(3), counters.Forwards())
	assert.Equal(t, uint64(1), counters.Errors())
	assert.Equal(t, uint64(4), counters.Samples())
}

func TestLogging_PassesThrough(t *testing.T) {
	var lines []string
	logf := func(format string, args ...interface{}) {
		lines = append(lines, format)
	}
	enc := Chain(&stubEncoder{}, Logging(logf))
	batch := batchOf(t, []float32{1, 2}, 1, 1, 2)

	outs, err := enc.Forward(context.Background(), batch)
	require.NoError(t, err)
	require.Len(t, outs, 1)
	assert.Equal(t, batch.Data, outs[0].Data)
	assert.Len(t, lines, 2)
	assert.Equal(t, "stub", enc.Name())
	assert.Equal(t, 2, enc.EmbedDim())
}

func TestRateLimit_BlocksOnExhaustion(t *testing.T) {
	enc := Chain(&stubEncoder{}, RateLimit(1, time.Hour))
	batch := batchOf(t, []float32{1, 2}, 1, 1, 2)

	_, err := enc.Forward(context.Background(), batch)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = enc.Forward(ctx, batch)
	assert.ErrorIs(t, err, context.Canceled)
}
