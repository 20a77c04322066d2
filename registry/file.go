package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/resonata/probe/core"
)

// FileRegistry stores checkpoint payloads as files in a directory.
// Payloads land in {model}_{version}.ckpt; stage, tags and the remaining
// metadata live in a _meta.json sidecar so the payload files stay opaque.
type FileRegistry struct {
	dir     string
	mu      sync.RWMutex
	release map[string]string               // model -> version
	meta    map[string]map[string]entryMeta // model -> version -> meta
}

type entryMeta struct {
	Stage     Stage     `json:"stage"`
	Tags      []string  `json:"tags,omitempty"`
	Epoch     int       `json:"epoch,omitempty"`
	Dataset   string    `json:"dataset,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewFileRegistry creates a file-based registry rooted at dir.
func NewFileRegistry(dir string) (*FileRegistry, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("file registry: %w", err)
	}
	r := &FileRegistry{
		dir:     dir,
		release: make(map[string]string),
		meta:    make(map[string]map[string]entryMeta),
	}
	if err := r.loadMeta(); err != nil {
		return nil, err
	}
	return r, nil
}

func (f *FileRegistry) filename(model, version string) string {
	safeModel := strings.ReplaceAll(strings.ReplaceAll(model, string(filepath.Separator), "_"), ":", "_")
	safeVer := strings.ReplaceAll(strings.ReplaceAll(version, string(filepath.Separator), "_"), ":", "_")
	return filepath.Join(f.dir, safeModel+"_"+safeVer+".ckpt")
}

func (f *FileRegistry) metaPath() string {
	return filepath.Join(f.dir, "_meta.json")
}

func (f *FileRegistry) loadMeta() error {
	data, err := os.ReadFile(f.metaPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	var out struct {
		Release map[string]string               `json:"release"`
		Meta    map[string]map[string]entryMeta `json:"meta"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return err
	}
	if out.Release != nil {
		f.release = out.Release
	}
	if out.Meta != nil {
		f.meta = out.Meta
	}
	return nil
}

func (f *FileRegistry) saveMeta() error {
	out := struct {
		Release map[string]string               `json:"release"`
		Meta    map[string]map[string]entryMeta `json:"meta"`
	}{
		Release: f.release,
		Meta:    f.meta,
	}
	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(f.metaPath(), data, 0644)
}

// Store writes the payload file and records metadata.
func (f *FileRegistry) Store(ctx context.Context, entry *Entry) error {
	if entry == nil || entry.Model == "" || entry.Version == "" {
		return fmt.Errorf("file registry: entry model and version required")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	path := f.filename(entry.Model, entry.Version)
	if err := os.WriteFile(path, entry.Payload, 0644); err != nil {
		return err
	}
	if f.meta[entry.Model] == nil {
		f.meta[entry.Model] = make(map[string]entryMeta)
	}
	now := time.Now()
	m, ok := f.meta[entry.Model][entry.Version]
	if !ok {
		m = entryMeta{Stage: StageDev, CreatedAt: now}
	}
	m.Epoch = entry.Epoch
	m.Dataset = entry.Dataset
	m.UpdatedAt = now
	f.meta[entry.Model][entry.Version] = m
	return f.saveMeta()
}

// Get reads a checkpoint entry from disk.
func (f *FileRegistry) Get(ctx context.Context, model, version string) (*Entry, error) {
	f.mu.RLock()
	path := f.filename(model, version)
	m := f.meta[model][version]
	f.mu.RUnlock()
	payload, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, core.ErrCheckpointNotFound
		}
		return nil, err
	}
	return &Entry{
		Model:     model,
		Version:   version,
		Epoch:     m.Epoch,
		Dataset:   m.Dataset,
		Payload:   payload,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}, nil
}

// GetRelease returns the promoted release version for the model.
func (f *FileRegistry) GetRelease(ctx context.Context, model string) (*Entry, error) {
	f.mu.RLock()
	version, ok := f.release[model]
	f.mu.RUnlock()
	if !ok || version == "" {
		return nil, core.ErrCheckpointNotFound
	}
	return f.Get(ctx, model, version)
}

// List returns entries matching the filter, driven by the meta index.
func (f *FileRegistry) List(ctx context.Context, filter Filter) ([]*Entry, error) {
	f.mu.RLock()
	index := make(map[string][]string, len(f.meta))
	for model, versions := range f.meta {
		for v := range versions {
			index[model] = append(index[model], v)
		}
	}
	f.mu.RUnlock()

	var out []*Entry
	offset := filter.Offset
	limit := filter.Limit
	if limit <= 0 {
		limit = 1000
	}
	for model, versions := range index {
		if len(filter.Models) > 0 && !contains(filter.Models, model) {
			continue
		}
		for _, version := range versions {
			f.mu.RLock()
			m := f.meta[model][version]
			f.mu.RUnlock()
			if filter.Stage != "" && m.Stage != filter.Stage {
				continue
			}
			if len(filter.Tags) > 0 && !hasAll(m.Tags, filter.Tags) {
				continue
			}
			if offset > 0 {
				offset--
				continue
			}
			e, err := f.Get(ctx, model, version)
			if err != nil {
				continue
			}
			out = append(out, e)
			if len(out) >= limit {
				return out, nil
			}
		}
	}
	return out, nil
}

// ListVersions returns version info for a model.
func (f *FileRegistry) ListVersions(ctx context.Context, model string) ([]VersionInfo, error) {
	f.mu.RLock()
	versMeta := f.meta[model]
	infos := make([]VersionInfo, 0, len(versMeta))
	for version, m := range versMeta {
		infos = append(infos, VersionInfo{
			Model:     model,
			Version:   version,
			Stage:     m.Stage,
			Tags:      append([]string(nil), m.Tags...),
			Epoch:     m.Epoch,
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		})
	}
	f.mu.RUnlock()
	if len(infos) == 0 {
		return nil, nil
	}
	return infos, nil
}

// Promote sets the stage for model+version and updates the release pointer.
func (f *FileRegistry) Promote(ctx context.Context, model, version string, stage Stage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	path := f.filename(model, version)
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return core.ErrCheckpointNotFound
		}
		return err
	}
	if f.meta[model] == nil {
		f.meta[model] = make(map[string]entryMeta)
	}
	m := f.meta[model][version]
	m.Stage = stage
	f.meta[model][version] = m
	if stage == StageRelease {
		f.release[model] = version
	}
	return f.saveMeta()
}

// Delete removes the payload file and meta.
func (f *FileRegistry) Delete(ctx context.Context, model, version string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	path := f.filename(model, version)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	if f.release[model] == version {
		delete(f.release, model)
	}
	if f.meta[model] != nil {
		delete(f.meta[model], version)
	}
	return f.saveMeta()
}

// Tag sets tags for a checkpoint version.
func (f *FileRegistry) Tag(ctx context.Context, model, version string, tags []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	path := f.filename(model, version)
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return core.ErrCheckpointNotFound
		}
		return err
	}
	if f.meta[model] == nil {
		f.meta[model] = make(map[string]entryMeta)
	}
	m, ok := f.meta[model][version]
	if !ok {
		m = entryMeta{Stage: StageDev, CreatedAt: time.Now()}
	}
	m.Tags = append([]string(nil), tags...)
	f.meta[model][version] = m
	return f.saveMeta()
}
