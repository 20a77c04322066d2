// Package dataset provides dataset manifests, split storage and batch
// loaders for evaluation runs.
package dataset

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Canonical split names.
const (
	SplitTrain = "train"
	SplitVal   = "val"
	SplitTest  = "test"
)

// Manifest describes a dataset on disk: class count, feature geometry,
// normalization statistics and the clip file of each split.
type Manifest struct {
	Name       string            `yaml:"name"`
	Classes    int               `yaml:"classes"`
	Mels       int               `yaml:"mels"`
	CropFrames int               `yaml:"crop_frames"`
	NormMean   float64           `yaml:"norm_mean"`
	NormStd    float64           `yaml:"norm_std"`
	Splits     map[string]string `yaml:"splits"`
}

// LoadManifest reads and validates a manifest file.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("dataset: read manifest: %w", err)
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("dataset: parse manifest %s: %w", path, err)
	}
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("dataset: manifest %s: %w", path, err)
	}
	return &m, nil
}

// ManifestPath returns the manifest file for a named dataset under dir.
func ManifestPath(dir, name string) string {
	return filepath.Join(dir, name+".yaml")
}

// Validate checks the manifest fields for consistency.
func (m *Manifest) Validate() error {
	if m.Name == "" {
		return fmt.Errorf("name is empty")
	}
	if m.Classes < 2 {
		return fmt.Errorf("classes must be at least 2, got %d", m.Classes)
	}
	if m.Mels <= 0 {
		return fmt.Errorf("mels must be positive, got %d", m.Mels)
	}
	if m.CropFrames <= 0 {
		return fmt.Errorf("crop_frames must be positive, got %d", m.CropFrames)
	}
	if m.NormStd <= 0 {
		return fmt.Errorf("norm_std must be positive, got %v", m.NormStd)
	}
	return nil
}

// OpenSplit reads the clips of the named split, resolving its file
// relative to dir.
func (m *Manifest) OpenSplit(dir, name string) (*Split, error) {
	file, ok := m.Splits[name]
	if !ok {
		return nil, fmt.Errorf("dataset %s: no %q split in manifest", m.Name, name)
	}
	s, err := ReadSplitFile(filepath.Join(dir, file))
	if err != nil {
		return nil, fmt.Errorf("dataset %s: split %s: %w", m.Name, name, err)
	}
	if s.Mels != m.Mels {
		return nil, fmt.Errorf("dataset %s: split %s has %d mel bins, manifest says %d", m.Name, name, s.Mels, m.Mels)
	}
	return s, nil
}
