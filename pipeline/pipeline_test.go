package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPipeline_RunsInOrder(t *testing.T) {
	var ran []string
	step := func(name string) StepFunc {
		return func(ctx context.Context) error {
			ran = append(ran, name)
			return nil
		}
	}

	result, err := New("eval").
		Step("extract", step("extract")).
		Step("fit", step("fit")).
		Step("score", step("score")).
		Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"extract", "fit", "score"}, ran)
	assert.Equal(t, []string{"extract", "fit", "score"}, result.Steps())
	assert.Len(t, result.All(), 3)
	assert.GreaterOrEqual(t, result.Total(), result.Get("extract"))
}

func TestPipeline_FailFast(t *testing.T) {
	sentinel := errors.New("boom")
	var ran []string

	_, err := New("eval").
		Step("first", func(ctx context.Context) error {
			ran = append(ran, "first")
			return nil
		}).
		Step("second", func(ctx context.Context) error {
			ran = append(ran, "second")
			return sentinel
		}).
		Step("third", func(ctx context.Context) error {
			ran = append(ran, "third")
			return nil
		}).
		Run(context.Background())

	require.Error(t, err)
	assert.ErrorIs(t, err, sentinel)
	assert.ErrorContains(t, err, `step "second"`)
	assert.Equal(t, []string{"first", "second"}, ran)
}

func TestPipeline_Condition(t *testing.T) {
	var ran []string

	result, err := New("eval").
		Step("always", func(ctx context.Context) error {
			ran = append(ran, "always")
			return nil
		}).
		Step("never", func(ctx context.Context) error {
			ran = append(ran, "never")
			return nil
		}, WithCondition(func(ctx context.Context, result *Result) bool {
			return false
		})).
		Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"always"}, ran)
	assert.Equal(t, []string{"always"}, result.Steps())
	assert.Zero(t, result.Get("never"))
}

func TestPipeline_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var ran bool
	_, err := New("eval").
		Step("work", func(ctx context.Context) error {
			ran = true
			return nil
		}).
		Run(ctx)

	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, ran)
}

func TestPipeline_Observer(t *testing.T) {
	sentinel := errors.New("boom")
	type seen struct {
		step string
		err  error
	}
	var observed []seen

	_, err := New("eval").
		WithObserver(func(step string, d time.Duration, err error) {
			observed = append(observed, seen{step, err})
		}).
		Step("ok", func(ctx context.Context) error { return nil }).
		Step("bad", func(ctx context.Context) error { return sentinel }).
		Run(context.Background())

	require.Error(t, err)
	require.Len(t, observed, 2)
	assert.Equal(t, "ok", observed[0].step)
	assert.NoError(t, observed[0].err)
	assert.Equal(t, "bad", observed[1].step)
	assert.ErrorIs(t, observed[1].err, sentinel)
}
