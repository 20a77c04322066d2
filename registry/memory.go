package registry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/resonata/probe/core"
)

// MemoryRegistry is an in-memory registry for checkpoints (testing and
// single-process use).
type MemoryRegistry struct {
	mu      sync.RWMutex
	entries map[string]map[string]*Entry // model -> version -> entry
	release map[string]string            // model -> version
	stages  map[string]map[string]Stage  // model -> version -> stage
	tags    map[string][]string          // model:version -> tags
}

// NewMemoryRegistry creates an empty in-memory registry.
func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{
		entries: make(map[string]map[string]*Entry),
		release: make(map[string]string),
		stages:  make(map[string]map[string]Stage),
		tags:    make(map[string][]string),
	}
}

func (m *MemoryRegistry) key(model, version string) string {
	return model + ":" + version
}

// Store saves an entry. Overwrites if model+version already exists.
func (m *MemoryRegistry) Store(ctx context.Context, entry *Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if entry == nil {
		return fmt.Errorf("entry is nil")
	}
	if entry.Model == "" || entry.Version == "" {
		return fmt.Errorf("entry model and version are required")
	}
	if m.entries[entry.Model] == nil {
		m.entries[entry.Model] = make(map[string]*Entry)
	}
	// Copy so caller cannot mutate the stored entry
	e := entry.Copy()
	now := time.Now()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	e.UpdatedAt = now
	m.entries[entry.Model][entry.Version] = e
	if m.stages[entry.Model] == nil {
		m.stages[entry.Model] = make(map[string]Stage)
	}
	if _, ok := m.stages[entry.Model][entry.Version]; !ok {
		m.stages[entry.Model][entry.Version] = StageDev
	}
	return nil
}

// Get returns an entry by model and version.
func (m *MemoryRegistry) Get(ctx context.Context, model, version string) (*Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	versions, ok := m.entries[model]
	if !ok {
		return nil, core.ErrCheckpointNotFound
	}
	e, ok := versions[version]
	if !ok {
		return nil, core.ErrCheckpointNotFound
	}
	return e.Copy(), nil
}

// GetRelease returns the entry currently promoted to release for the model.
func (m *MemoryRegistry) GetRelease(ctx context.Context, model string) (*Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	version, ok := m.release[model]
	if !ok {
		return nil, core.ErrCheckpointNotFound
	}
	versions, ok := m.entries[model]
	if !ok {
		return nil, core.ErrCheckpointNotFound
	}
	e, ok := versions[version]
	if !ok {
		return nil, core.ErrCheckpointNotFound
	}
	return e.Copy(), nil
}

// List returns entries matching the filter.
func (m *MemoryRegistry) List(ctx context.Context, filter Filter) ([]*Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Entry
	offset := filter.Offset
	limit := filter.Limit
	if limit <= 0 {
		limit = 1000
	}
	for model, versions := range m.entries {
		if len(filter.Models) > 0 && !contains(filter.Models, model) {
			continue
		}
		for _, e := range versions {
			if filter.Stage != "" {
				st := m.stages[model]
				if st == nil || st[e.Version] != filter.Stage {
					continue
				}
			}
			if len(filter.Tags) > 0 {
				k := m.key(model, e.Version)
				if !hasAll(m.tags[k], filter.Tags) {
					continue
				}
			}
			if offset > 0 {
				offset--
				continue
			}
			out = append(out, e.Copy())
			if len(out) >= limit {
				return out, nil
			}
		}
	}
	return out, nil
}

// ListVersions returns version info for a model.
func (m *MemoryRegistry) ListVersions(ctx context.Context, model string) ([]VersionInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	versions, ok := m.entries[model]
	if !ok {
		return nil, nil
	}
	var infos []VersionInfo
	for v, e := range versions {
		st := StageDev
		if s, ok := m.stages[model]; ok {
			st = s[v]
		}
		tags := m.tags[m.key(model, v)]
		infos = append(infos, VersionInfo{
			Model:     model,
			Version:   v,
			Stage:     st,
			Tags:      append([]string(nil), tags...),
			Epoch:     e.Epoch,
			CreatedAt: e.CreatedAt,
			UpdatedAt: e.UpdatedAt,
		})
	}
	return infos, nil
}

// Promote sets the stage for a given model+version.
func (m *MemoryRegistry) Promote(ctx context.Context, model, version string, stage Stage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	versions, ok := m.entries[model]
	if !ok {
		return core.ErrCheckpointNotFound
	}
	if _, ok := versions[version]; !ok {
		return core.ErrCheckpointNotFound
	}
	if m.stages[model] == nil {
		m.stages[model] = make(map[string]Stage)
	}
	m.stages[model][version] = stage
	if stage == StageRelease {
		m.release[model] = version
	}
	return nil
}

// Delete removes a checkpoint version.
func (m *MemoryRegistry) Delete(ctx context.Context, model, version string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	versions, ok := m.entries[model]
	if !ok {
		return core.ErrCheckpointNotFound
	}
	if _, ok := versions[version]; !ok {
		return core.ErrCheckpointNotFound
	}
	delete(versions, version)
	if m.release[model] == version {
		delete(m.release, model)
	}
	if m.stages[model] != nil {
		delete(m.stages[model], version)
	}
	delete(m.tags, m.key(model, version))
	return nil
}

// Tag sets tags for a checkpoint version.
func (m *MemoryRegistry) Tag(ctx context.Context, model, version string, tags []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	versions, ok := m.entries[model]
	if !ok {
		return core.ErrCheckpointNotFound
	}
	if _, ok := versions[version]; !ok {
		return core.ErrCheckpointNotFound
	}
	m.tags[m.key(model, version)] = append([]string(nil), tags...)
	return nil
}

func contains(slice []string, s string) bool {
	for _, v := range slice {
		if v == s {
			return true
		}
	}
	return false
}

func hasAll(have, need []string) bool {
	for _, n := range need {
		found := false
		for _, h := range have {
			if h == n {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
