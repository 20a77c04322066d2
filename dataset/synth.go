package dataset

import (
	"fmt"
	"math/rand"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/resonata/probe/core"
)

// SyntheticSet is an in-memory dataset with all three splits materialized.
type SyntheticSet struct {
	Manifest *Manifest
	Train    *Split
	Val      *Split
	Test     *Split
}

// Synthetic builds a deterministic, linearly separable dataset for tests and
// examples. Labels cycle over the classes; each class activates a distinct
// subset of mel bins plus Gaussian noise. mels should be at least the class
// count, otherwise classes alias.
func Synthetic(classes, train, val, test, frames, mels int, seed int64) *SyntheticSet {
	m := &Manifest{
		Name:       "synthetic",
		Classes:    classes,
		Mels:       mels,
		CropFrames: frames,
		NormMean:   0,
		NormStd:    1,
	}
	rng := rand.New(rand.NewSource(seed))
	gen := func(n int) *Split {
		s := &Split{Mels: mels, Clips: make([]Clip, 0, n)}
		for i := 0; i < n; i++ {
			label := i % classes
			t := core.NewTensor(frames, mels)
			for f := 0; f < frames; f++ {
				for j := 0; j < mels; j++ {
					v := float32(rng.NormFloat64()) * 0.1
					if j%classes == label {
						v += 1
					}
					t.Data[f*mels+j] = v
				}
			}
			s.Clips = append(s.Clips, Clip{Features: t, Label: label})
		}
		return s
	}
	return &SyntheticSet{Manifest: m, Train: gen(train), Val: gen(val), Test: gen(test)}
}

// Split returns the named split of the set, or nil for an unknown name.
func (ss *SyntheticSet) Split(name string) *Split {
	switch name {
	case SplitTrain:
		return ss.Train
	case SplitVal:
		return ss.Val
	case SplitTest:
		return ss.Test
	}
	return nil
}

// Save writes the manifest and split files under dir so the set can be
// opened through the regular manifest path.
func (ss *SyntheticSet) Save(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("dataset: %w", err)
	}
	m := *ss.Manifest
	m.Splits = make(map[string]string, 3)
	for _, name := range []string{SplitTrain, SplitVal, SplitTest} {
		file := name + ".bin.gz"
		m.Splits[name] = file
		if err := WriteSplitFile(filepath.Join(dir, file), ss.Split(name)); err != nil {
			return err
		}
	}
	data, err := yaml.Marshal(&m)
	if err != nil {
		return fmt.Errorf("dataset: marshal manifest: %w", err)
	}
	if err := os.WriteFile(ManifestPath(dir, m.Name), data, 0o644); err != nil {
		return fmt.Errorf("dataset: write manifest: %w", err)
	}
	return nil
}
