package evaluator

import (
	"fmt"

	"github.com/resonata/probe/classifier"
)

// FitScore trains a fresh classifier head on the train embeddings, early
// stops on val accuracy, and returns the test accuracy.
func FitScore(train, val, test *Embeddings, seed int64, opts ...classifier.Option) (float64, error) {
	if err := checkSplits(train, val, test); err != nil {
		return 0, err
	}
	clfOpts := append([]classifier.Option{classifier.WithSeed(seed)}, opts...)
	clf := classifier.New(clfOpts...)
	if err := clf.Fit(train.X, train.Y, val.X, val.Y); err != nil {
		return 0, fmt.Errorf("evaluator: fit: %w", err)
	}
	score, err := clf.Score(test.X, test.Y)
	if err != nil {
		return 0, fmt.Errorf("evaluator: score: %w", err)
	}
	return score, nil
}

func checkSplits(train, val, test *Embeddings) error {
	splits := []struct {
		name string
		e    *Embeddings
	}{{"train", train}, {"val", val}, {"test", test}}
	for _, s := range splits {
		if s.e == nil || s.e.Samples() == 0 {
			return fmt.Errorf("evaluator: %s embeddings are empty", s.name)
		}
		if len(s.e.Y) != s.e.Samples() {
			return fmt.Errorf("evaluator: %s has %d labels for %d rows", s.name, len(s.e.Y), s.e.Samples())
		}
	}
	return nil
}
