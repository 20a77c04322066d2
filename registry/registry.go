// Package registry provides checkpoint versioning and storage backends.
package registry

import (
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"time"

	"github.com/resonata/probe/checkpoint"
)

// Stage labels a checkpoint's place in the release flow.
type Stage string

const (
	StageDev       Stage = "dev"
	StageCandidate Stage = "candidate"
	StageRelease   Stage = "release"
)

// Entry is a stored checkpoint artifact plus its registry metadata.
// Payload holds the serialized checkpoint document.
type Entry struct {
	Model     string
	Version   string
	Epoch     int
	Dataset   string
	Payload   []byte
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Copy returns a deep copy so callers cannot mutate stored entries.
func (e *Entry) Copy() *Entry {
	if e == nil {
		return nil
	}
	c := *e
	c.Payload = append([]byte(nil), e.Payload...)
	return &c
}

// Checkpoint decodes the entry payload.
func (e *Entry) Checkpoint() (*checkpoint.Checkpoint, error) {
	return checkpoint.Read(bytes.NewReader(e.Payload))
}

// Pack serializes cp into an entry ready to store. An empty version
// defaults to "epoch-<n>" from the checkpoint epoch.
func Pack(cp *checkpoint.Checkpoint, version, dataset string) (*Entry, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if err := checkpoint.Write(zw, cp); err != nil {
		return nil, fmt.Errorf("registry: pack: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("registry: pack: %w", err)
	}
	if version == "" {
		version = fmt.Sprintf("epoch-%d", cp.Epoch)
	}
	return &Entry{
		Model:   cp.Model,
		Version: version,
		Epoch:   cp.Epoch,
		Dataset: dataset,
		Payload: buf.Bytes(),
	}, nil
}

// VersionInfo holds metadata about a stored checkpoint version.
type VersionInfo struct {
	Model     string
	Version   string
	Stage     Stage
	Tags      []string
	Epoch     int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Filter limits which checkpoints are returned by List.
type Filter struct {
	Models []string
	Stage  Stage
	Tags   []string
	Limit  int
	Offset int
}

// Registry stores and retrieves versioned encoder checkpoints.
type Registry interface {
	Store(ctx context.Context, entry *Entry) error
	Get(ctx context.Context, model, version string) (*Entry, error)
	GetRelease(ctx context.Context, model string) (*Entry, error)
	List(ctx context.Context, filter Filter) ([]*Entry, error)
	ListVersions(ctx context.Context, model string) ([]VersionInfo, error)
	Promote(ctx context.Context, model, version string, stage Stage) error
	Delete(ctx context.Context, model, version string) error
	Tag(ctx context.Context, model, version string, tags []string) error
}
