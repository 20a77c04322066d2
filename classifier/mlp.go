// Package classifier provides the MLP head fitted on frozen embeddings.
package classifier

import (
	"errors"
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

// ErrNotFitted is returned when Predict or Score is called before Fit.
var ErrNotFitted = errors.New("classifier is not fitted")

// MLPClassifier is a one-hidden-layer softmax classifier in the
// fit/predict/score shape, trained with Adam and early stopping on
// validation accuracy.
type MLPClassifier struct {
	HiddenSize int
	MaxEpochs  int
	Patience   int
	BatchSize  int
	LearnRate  float64
	Tol        float64
	Seed       int64

	in      int
	classes int
	w1, b1  *param
	w2, b2  *param
	fitted  bool
}

// Option configures a classifier.
type Option func(*MLPClassifier)

// WithHiddenSize sets the hidden layer width.
func WithHiddenSize(n int) Option {
	return func(c *MLPClassifier) { c.HiddenSize = n }
}

// WithMaxEpochs sets the training epoch limit.
func WithMaxEpochs(n int) Option {
	return func(c *MLPClassifier) { c.MaxEpochs = n }
}

// WithPatience sets how many stale validation rounds stop training.
func WithPatience(n int) Option {
	return func(c *MLPClassifier) { c.Patience = n }
}

// WithBatchSize sets the minibatch size.
func WithBatchSize(n int) Option {
	return func(c *MLPClassifier) { c.BatchSize = n }
}

// WithLearnRate sets the Adam learning rate.
func WithLearnRate(lr float64) Option {
	return func(c *MLPClassifier) { c.LearnRate = lr }
}

// WithSeed seeds weight initialization and minibatch shuffling.
func WithSeed(seed int64) Option {
	return func(c *MLPClassifier) { c.Seed = seed }
}

// New returns a classifier with the standard head configuration: one hidden
// layer of 1024 units, Adam at 1e-3, minibatches of 128, up to 500 epochs,
// early stopping after 20 stale validation rounds with best weights kept.
func New(opts ...Option) *MLPClassifier {
	c := &MLPClassifier{
		HiddenSize: 1024,
		MaxEpochs:  500,
		Patience:   20,
		BatchSize:  128,
		LearnRate:  1e-3,
		Tol:        1e-4,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// param is a weight matrix with its Adam moment estimates.
type param struct {
	val, m, v *mat.Dense
}

func newParam(r, c int) *param {
	return &param{
		val: mat.NewDense(r, c, nil),
		m:   mat.NewDense(r, c, nil),
		v:   mat.NewDense(r, c, nil),
	}
}

func glorotParam(r, c int, rng *rand.Rand) *param {
	p := newParam(r, c)
	limit := math.Sqrt(6.0 / float64(r+c))
	d := p.val.RawMatrix().Data
	for i := range d {
		d[i] = (rng.Float64()*2 - 1) * limit
	}
	return p
}

// step applies one Adam update with gradient g. t is the 1-based step count.
func (p *param) step(g *mat.Dense, lr float64, t int) {
	const beta1, beta2, eps = 0.9, 0.999, 1e-8
	val := p.val.RawMatrix().Data
	m := p.m.RawMatrix().Data
	v := p.v.RawMatrix().Data
	gd := g.RawMatrix().Data
	c1 := 1 - math.Pow(beta1, float64(t))
	c2 := 1 - math.Pow(beta2, float64(t))
	for i := range val {
		m[i] = beta1*m[i] + (1-beta1)*gd[i]
		v[i] = beta2*v[i] + (1-beta2)*gd[i]*gd[i]
		val[i] -= lr * (m[i] / c1) / (math.Sqrt(v[i]/c2) + eps)
	}
}

// Fit trains the head on x/y, scoring valX/valY after every epoch for early
// stopping. The best validation weights are restored at the end.
func (c *MLPClassifier) Fit(x *mat.Dense, y []int, valX *mat.Dense, valY []int) error {
	n, d := x.Dims()
	if n == 0 {
		return errors.New("classifier: empty training set")
	}
	if len(y) != n {
		return fmt.Errorf("classifier: %d labels for %d training rows", len(y), n)
	}
	vn, vd := valX.Dims()
	if vn == 0 {
		return errors.New("classifier: empty validation set")
	}
	if vd != d {
		return fmt.Errorf("classifier: validation has %d features, train has %d", vd, d)
	}
	if len(valY) != vn {
		return fmt.Errorf("classifier: %d labels for %d validation rows", len(valY), vn)
	}
	if c.HiddenSize <= 0 || c.BatchSize <= 0 || c.MaxEpochs <= 0 {
		return fmt.Errorf("classifier: invalid configuration (hidden=%d batch=%d epochs=%d)",
			c.HiddenSize, c.BatchSize, c.MaxEpochs)
	}
	classes := 0
	for _, l := range y {
		if l+1 > classes {
			classes = l + 1
		}
	}
	for _, l := range valY {
		if l+1 > classes {
			classes = l + 1
		}
	}
	if classes < 2 {
		return errors.New("classifier: need at least 2 classes")
	}

	rng := rand.New(rand.NewSource(c.Seed))
	c.in, c.classes = d, classes
	c.w1 = glorotParam(d, c.HiddenSize, rng)
	c.b1 = newParam(1, c.HiddenSize)
	c.w2 = glorotParam(c.HiddenSize, classes, rng)
	c.b2 = newParam(1, classes)
	c.fitted = true

	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	best := math.Inf(-1)
	var bestW [4]*mat.Dense
	wait, step := 0, 0

	for epoch := 0; epoch < c.MaxEpochs; epoch++ {
		rng.Shuffle(n, func(i, j int) { idx[i], idx[j] = idx[j], idx[i] })
		for lo := 0; lo < n; lo += c.BatchSize {
			hi := lo + c.BatchSize
			if hi > n {
				hi = n
			}
			step++
			c.trainStep(x, y, idx[lo:hi], step)
		}
		score := c.accuracyOn(valX, valY)
		if score > best+c.Tol {
			best = score
			bestW = [4]*mat.Dense{
				mat.DenseCopyOf(c.w1.val), mat.DenseCopyOf(c.b1.val),
				mat.DenseCopyOf(c.w2.val), mat.DenseCopyOf(c.b2.val),
			}
			wait = 0
			continue
		}
		wait++
		if wait >= c.Patience {
			break
		}
	}
	if bestW[0] != nil {
		c.w1.val, c.b1.val, c.w2.val, c.b2.val = bestW[0], bestW[1], bestW[2], bestW[3]
	}
	return nil
}

func (c *MLPClassifier) trainStep(x *mat.Dense, y []int, batch []int, step int) {
	b := len(batch)
	xb := mat.NewDense(b, c.in, nil)
	for i, j := range batch {
		xb.SetRow(i, x.RawRowView(j))
	}

	h, logits := c.forward(xb)
	softmaxRows(logits)

	// dLogits = (p - onehot(y)) / b
	inv := 1.0 / float64(b)
	for i, j := range batch {
		row := logits.RawRowView(i)
		row[y[j]]--
		for k := range row {
			row[k] *= inv
		}
	}

	var gw2, dh, gw1 mat.Dense
	gw2.Mul(h.T(), logits)
	gb2 := colSums(logits)
	dh.Mul(logits, c.w2.val.T())
	rows, cols := dh.Dims()
	for i := 0; i < rows; i++ {
		hr := h.RawRowView(i)
		dr := dh.RawRowView(i)
		for j := 0; j < cols; j++ {
			if hr[j] <= 0 {
				dr[j] = 0
			}
		}
	}
	gw1.Mul(xb.T(), &dh)
	gb1 := colSums(&dh)

	c.w1.step(&gw1, c.LearnRate, step)
	c.b1.step(gb1, c.LearnRate, step)
	c.w2.step(&gw2, c.LearnRate, step)
	c.b2.step(gb2, c.LearnRate, step)
}

// forward computes hidden activations and raw logits.
func (c *MLPClassifier) forward(x *mat.Dense) (h, logits *mat.Dense) {
	var z1 mat.Dense
	z1.Mul(x, c.w1.val)
	addRow(&z1, c.b1.val)
	z1.Apply(func(_, _ int, v float64) float64 { return math.Max(v, 0) }, &z1)
	var z2 mat.Dense
	z2.Mul(&z1, c.w2.val)
	addRow(&z2, c.b2.val)
	return &z1, &z2
}

// Predict returns the argmax class per row of x.
func (c *MLPClassifier) Predict(x *mat.Dense) ([]int, error) {
	if !c.fitted {
		return nil, ErrNotFitted
	}
	_, d := x.Dims()
	if d != c.in {
		return nil, fmt.Errorf("classifier: %d features, expected %d", d, c.in)
	}
	_, logits := c.forward(x)
	rows, _ := logits.Dims()
	out := make([]int, rows)
	for i := 0; i < rows; i++ {
		out[i] = argmax(logits.RawRowView(i))
	}
	return out, nil
}

// Score returns the mean accuracy of Predict over x against y.
func (c *MLPClassifier) Score(x *mat.Dense, y []int) (float64, error) {
	pred, err := c.Predict(x)
	if err != nil {
		return 0, err
	}
	if len(pred) != len(y) {
		return 0, fmt.Errorf("classifier: %d labels for %d rows", len(y), len(pred))
	}
	return Accuracy(pred, y), nil
}

// Classes returns the number of classes seen during Fit.
func (c *MLPClassifier) Classes() int { return c.classes }

func (c *MLPClassifier) accuracyOn(x *mat.Dense, y []int) float64 {
	pred, err := c.Predict(x)
	if err != nil {
		return 0
	}
	return Accuracy(pred, y)
}

// Accuracy returns the fraction of predictions matching labels.
func Accuracy(pred, y []int) float64 {
	if len(pred) == 0 {
		return 0
	}
	hits := 0
	for i, p := range pred {
		if p == y[i] {
			hits++
		}
	}
	return float64(hits) / float64(len(pred))
}

func argmax(row []float64) int {
	best, at := row[0], 0
	for j, v := range row {
		if v > best {
			best, at = v, j
		}
	}
	return at
}

// addRow adds a 1-row bias matrix to every row of m.
func addRow(m, bias *mat.Dense) {
	rows, cols := m.Dims()
	b := bias.RawRowView(0)
	for i := 0; i < rows; i++ {
		row := m.RawRowView(i)
		for j := 0; j < cols; j++ {
			row[j] += b[j]
		}
	}
}

// softmaxRows turns logits into probabilities row by row, shifting by the
// row maximum for stability.
func softmaxRows(m *mat.Dense) {
	rows, _ := m.Dims()
	for i := 0; i < rows; i++ {
		row := m.RawRowView(i)
		max := row[0]
		for _, v := range row {
			if v > max {
				max = v
			}
		}
		sum := 0.0
		for j := range row {
			row[j] = math.Exp(row[j] - max)
			sum += row[j]
		}
		for j := range row {
			row[j] /= sum
		}
	}
}

// colSums returns the column sums of m as a 1-row matrix.
func colSums(m *mat.Dense) *mat.Dense {
	rows, cols := m.Dims()
	out := mat.NewDense(1, cols, nil)
	o := out.RawRowView(0)
	for i := 0; i < rows; i++ {
		row := m.RawRowView(i)
		for j := range row {
			o[j] += row[j]
		}
	}
	return out
}
