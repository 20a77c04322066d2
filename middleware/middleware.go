// Package middleware provides cross-cutting wrappers for encoders.
package middleware

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/resonata/probe/core"
	"github.com/resonata/probe/encoder"
)

// Middleware wraps an encoder with additional behavior (logging, metrics,
// precision simulation, etc.).
type Middleware func(encoder.Encoder) encoder.Encoder

// Chain wraps enc with all middlewares in order (first middleware is outermost).
func Chain(enc encoder.Encoder, mws ...Middleware) encoder.Encoder {
	for i := len(mws) - 1; i >= 0; i-- {
		enc = mws[i](enc)
	}
	return enc
}

// loggingEncoder logs forward passes.
type loggingEncoder struct {
	next encoder.Encoder
	logf func(format string, args ...interface{})
}

// Logging returns a middleware that logs each Forward call (batch shape,
// layer count, duration, error).
func Logging(logf func(format string, args ...interface{})) Middleware {
	if logf == nil {
		logf = func(string, ...interface{}) {}
	}
	return func(enc encoder.Encoder) encoder.Encoder {
		return &loggingEncoder{next: enc, logf: logf}
	}
}

func (l *loggingEncoder) Name() string  { return l.next.Name() }
func (l *loggingEncoder) EmbedDim() int { return l.next.EmbedDim() }

func (l *loggingEncoder) Forward(ctx context.Context, batch *core.Tensor) ([]*core.Tensor, error) {
	start := time.Now()
	l.logf("forward encoder=%s shape=%v", l.next.Name(), batch.Shape)
	outs, err := l.next.Forward(ctx, batch)
	if err != nil {
		l.logf("forward error: %v", err)
		return nil, err
	}
	l.logf("forward ok layers=%d elapsed=%s", len(outs), time.Since(start))
	return outs, nil
}

// metricsEncoder counts forward passes and samples processed.
type metricsEncoder struct {
	next     encoder.Encoder
	forwards atomic.Uint64
	errors   atomic.Uint64
	samples  atomic.Uint64
}

// Metrics returns a middleware that counts forward passes, errors, and
// samples. Counters are exposed via the returned MetricsCounters.
func Metrics() (Middleware, *MetricsCounters) {
	m := &metricsEncoder{}
	return func(enc encoder.Encoder) encoder.Encoder {
		m.next = enc
		return m
	}, &MetricsCounters{m: m}
}

// MetricsCounters provides read access to collected metrics.
type MetricsCounters struct {
	m *metricsEncoder
}

func (c *MetricsCounters) Forwards() uint64 { return c.m.forwards.Load() }
func (c *MetricsCounters) Errors() uint64   { return c.m.errors.Load() }
func (c *MetricsCounters) Samples() uint64  { return c.m.samples.Load() }

func (m *metricsEncoder) Name() string  { return m.next.Name() }
func (m *metricsEncoder) EmbedDim() int { return m.next.EmbedDim() }

func (m *metricsEncoder) Forward(ctx context.Context, batch *core.Tensor) ([]*core.Tensor, error) {
	m.forwards.Add(1)
	outs, err := m.next.Forward(ctx, batch)
	if err != nil {
		m.errors.Add(1)
		return nil, err
	}
	if batch.Rank() > 0 {
		m.samples.Add(uint64(batch.Dim(0)))
	}
	return outs, nil
}

// halfEncoder simulates half-precision inference by rounding activations
// through IEEE 754 binary16.
type halfEncoder struct {
	next encoder.Encoder
}

// HalfPrecision returns a middleware that rounds the input batch and every
// returned layer through float16, mirroring inference on half-precision
// hardware. The caller's batch is left untouched.
func HalfPrecision() Middleware {
	return func(enc encoder.Encoder) encoder.Encoder {
		return &halfEncoder{next: enc}
	}
}

func (h *halfEncoder) Name() string  { return h.next.Name() }
func (h *halfEncoder) EmbedDim() int { return h.next.EmbedDim() }

func (h *halfEncoder) Forward(ctx context.Context, batch *core.Tensor) ([]*core.Tensor, error) {
	in := batch.Clone()
	core.RoundHalfSlice(in.Data)
	outs, err := h.next.Forward(ctx, in)
	if err != nil {
		return nil, err
	}
	for _, out := range outs {
		core.RoundHalfSlice(out.Data)
	}
	return outs, nil
}

// rateLimitEncoder limits forward passes per window, for remote encoders
// behind shared endpoints.
type rateLimitEncoder struct {
	next   encoder.Encoder
	tokens chan struct{}
}

// RateLimit returns a middleware that allows at most limit Forward calls
// per window (e.g. 100 per time.Minute).
func RateLimit(limit int, window time.Duration) Middleware {
	return func(enc encoder.Encoder) encoder.Encoder {
		r := &rateLimitEncoder{next: enc, tokens: make(chan struct{}, limit)}
		for i := 0; i < limit; i++ {
			r.tokens <- struct{}{}
		}
		go func() {
			tick := window / time.Duration(limit)
			if tick < time.Millisecond {
				tick = time.Millisecond
			}
			for range time.Tick(tick) {
				select {
				case r.tokens <- struct{}{}:
				default:
				}
			}
		}()
		return r
	}
}

func (r *rateLimitEncoder) Name() string  { return r.next.Name() }
func (r *rateLimitEncoder) EmbedDim() int { return r.next.EmbedDim() }

func (r *rateLimitEncoder) Forward(ctx context.Context, batch *core.Tensor) ([]*core.Tensor, error) {
	select {
	case <-r.tokens:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return r.next.Forward(ctx, batch)
}
