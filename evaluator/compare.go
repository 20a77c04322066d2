package evaluator

import (
	"fmt"
	"math"
)

// Comparison reports whether one encoder's low-shot accuracy beats
// another's with statistical significance.
type Comparison struct {
	Winner      string
	Delta       float64
	ZScore      float64
	Significant bool
}

// Compare applies a two-proportion z-test to the mean low-shot accuracies
// of two encoders scored on the same test split of samples examples. The
// 1.96 threshold corresponds to 95% confidence.
func Compare(nameA string, a *LowShotResult, nameB string, b *LowShotResult, samples int) (*Comparison, error) {
	if a == nil || b == nil || len(a.Scores) == 0 || len(b.Scores) == 0 {
		return nil, fmt.Errorf("evaluator: compare needs scored results on both sides")
	}
	if samples <= 0 {
		return nil, fmt.Errorf("evaluator: compare needs a positive test sample count")
	}
	winner := nameA
	hi, lo := a.Mean, b.Mean
	if b.Mean > a.Mean {
		winner = nameB
		hi, lo = b.Mean, a.Mean
	}
	n := float64(samples)
	se := math.Sqrt(hi*(1-hi)/n + lo*(1-lo)/n)
	z := 0.0
	significant := hi > lo
	if se > 0 {
		z = (hi - lo) / se
		significant = z >= 1.96
	}
	return &Comparison{
		Winner:      winner,
		Delta:       hi - lo,
		ZScore:      z,
		Significant: significant,
	}, nil
}
