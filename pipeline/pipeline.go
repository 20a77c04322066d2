// Package pipeline provides named sequential evaluation phases.
package pipeline

import (
	"context"
	"fmt"
	"time"
)

// Result holds per-step durations from a run (keyed by step name).
type Result struct {
	durations map[string]time.Duration
	order     []string
}

// Get returns the duration of a step by name.
func (r *Result) Get(step string) time.Duration {
	if r.durations == nil {
		return 0
	}
	return r.durations[step]
}

// All returns a copy of all step durations.
func (r *Result) All() map[string]time.Duration {
	if r.durations == nil {
		return nil
	}
	m := make(map[string]time.Duration, len(r.durations))
	for k, v := range r.durations {
		m[k] = v
	}
	return m
}

// Steps returns the names of the steps that ran, in run order.
func (r *Result) Steps() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Total returns the summed duration of all steps that ran.
func (r *Result) Total() time.Duration {
	var total time.Duration
	for _, d := range r.durations {
		total += d
	}
	return total
}

// StepFunc does the work of a single step.
type StepFunc func(ctx context.Context) error

// StepOption configures a pipeline step.
type StepOption func(*stepDef)

// WithCondition runs this step only when the condition returns true (given the
// result so far).
func WithCondition(cond func(ctx context.Context, result *Result) bool) StepOption {
	return func(s *stepDef) {
		s.condition = cond
	}
}

type stepDef struct {
	name      string
	fn        StepFunc
	condition func(ctx context.Context, result *Result) bool
}

// Pipeline is a fail-fast sequence of named steps. The first error aborts the
// run; there are no retries, fallbacks, or parallel groups.
type Pipeline struct {
	name     string
	steps    []stepDef
	observer func(step string, d time.Duration, err error)
}

// New creates a pipeline with the given name.
func New(name string) *Pipeline {
	return &Pipeline{name: name}
}

// WithObserver sets a callback invoked after each step completes, with the
// step's duration and error. Useful for progress output at the CLI.
func (p *Pipeline) WithObserver(fn func(step string, d time.Duration, err error)) *Pipeline {
	p.observer = fn
	return p
}

// Step appends a sequential step.
func (p *Pipeline) Step(name string, fn StepFunc, opts ...StepOption) *Pipeline {
	s := stepDef{name: name, fn: fn}
	for _, o := range opts {
		o(&s)
	}
	p.steps = append(p.steps, s)
	return p
}

// Run executes the steps in order, recording each step's duration.
func (p *Pipeline) Run(ctx context.Context) (*Result, error) {
	result := &Result{durations: make(map[string]time.Duration)}
	for _, s := range p.steps {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if s.condition != nil && !s.condition(ctx, result) {
			continue
		}
		start := time.Now()
		err := s.fn(ctx)
		d := time.Since(start)
		result.durations[s.name] = d
		result.order = append(result.order, s.name)
		if p.observer != nil {
			p.observer(s.name, d, err)
		}
		if err != nil {
			return nil, fmt.Errorf("pipeline step %q: %w", s.name, err)
		}
	}
	return result, nil
}
