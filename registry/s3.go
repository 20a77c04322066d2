package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/resonata/probe/core"
)

// BlobStore is a minimal key-value store for S3-compatible backends
// (e.g. AWS S3, MinIO).
type BlobStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, body []byte) error
	List(ctx context.Context, prefix string) ([]string, error)
	Delete(ctx context.Context, key string) error
}

// S3Registry stores checkpoints using a BlobStore. Keys:
// prefix/checkpoint/model/version.ckpt, prefix/meta/model/version.json,
// prefix/release/model.txt.
type S3Registry struct {
	store  BlobStore
	prefix string
}

type blobMeta struct {
	Stage     string    `json:"stage"`
	Tags      []string  `json:"tags"`
	Epoch     int       `json:"epoch,omitempty"`
	Dataset   string    `json:"dataset,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewS3Registry creates a registry using the given BlobStore (e.g. from
// registry/s3blob) and key prefix.
func NewS3Registry(store BlobStore, prefix string) *S3Registry {
	prefix = strings.Trim(prefix, "/")
	if prefix != "" {
		prefix += "/"
	}
	return &S3Registry{store: store, prefix: prefix}
}

func (s *S3Registry) payloadKey(model, version string) string {
	return s.prefix + "checkpoint/" + model + "/" + version + ".ckpt"
}
func (s *S3Registry) metaKey(model, version string) string {
	return s.prefix + "meta/" + model + "/" + version + ".json"
}
func (s *S3Registry) releaseKey(model string) string {
	return s.prefix + "release/" + model + ".txt"
}

func (s *S3Registry) readMeta(ctx context.Context, model, version string) blobMeta {
	var meta blobMeta
	if data, err := s.store.Get(ctx, s.metaKey(model, version)); err == nil {
		_ = json.Unmarshal(data, &meta)
	}
	return meta
}

// Store saves a checkpoint entry to the blob store.
func (s *S3Registry) Store(ctx context.Context, entry *Entry) error {
	if entry == nil || entry.Model == "" || entry.Version == "" {
		return fmt.Errorf("s3 registry: entry model and version required")
	}
	if err := s.store.Put(ctx, s.payloadKey(entry.Model, entry.Version), entry.Payload); err != nil {
		return err
	}
	now := time.Now()
	meta := s.readMeta(ctx, entry.Model, entry.Version)
	if meta.Stage == "" {
		meta.Stage = string(StageDev)
		meta.CreatedAt = now
	}
	meta.Epoch = entry.Epoch
	meta.Dataset = entry.Dataset
	meta.UpdatedAt = now
	metaData, _ := json.Marshal(meta)
	return s.store.Put(ctx, s.metaKey(entry.Model, entry.Version), metaData)
}

// Get retrieves a checkpoint entry by model and version.
func (s *S3Registry) Get(ctx context.Context, model, version string) (*Entry, error) {
	payload, err := s.store.Get(ctx, s.payloadKey(model, version))
	if err != nil {
		return nil, core.ErrCheckpointNotFound
	}
	meta := s.readMeta(ctx, model, version)
	return &Entry{
		Model:     model,
		Version:   version,
		Epoch:     meta.Epoch,
		Dataset:   meta.Dataset,
		Payload:   payload,
		CreatedAt: meta.CreatedAt,
		UpdatedAt: meta.UpdatedAt,
	}, nil
}

// GetRelease returns the release version for the model.
func (s *S3Registry) GetRelease(ctx context.Context, model string) (*Entry, error) {
	data, err := s.store.Get(ctx, s.releaseKey(model))
	if err != nil {
		return nil, core.ErrCheckpointNotFound
	}
	version := strings.TrimSpace(string(data))
	if version == "" {
		return nil, core.ErrCheckpointNotFound
	}
	return s.Get(ctx, model, version)
}

// List returns entries matching the filter by listing the checkpoint prefix.
func (s *S3Registry) List(ctx context.Context, filter Filter) ([]*Entry, error) {
	keys, err := s.store.List(ctx, s.prefix+"checkpoint/")
	if err != nil {
		return nil, err
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 1000
	}
	var out []*Entry
	offset := filter.Offset
	seen := make(map[string]bool)
	for _, key := range keys {
		if !strings.HasSuffix(key, ".ckpt") {
			continue
		}
		trim := strings.TrimPrefix(key, s.prefix+"checkpoint/")
		parts := strings.SplitN(trim, "/", 2)
		if len(parts) != 2 {
			continue
		}
		model, ver := parts[0], strings.TrimSuffix(parts[1], ".ckpt")
		if seen[model+"/"+ver] {
			continue
		}
		seen[model+"/"+ver] = true
		if len(filter.Models) > 0 && !contains(filter.Models, model) {
			continue
		}
		meta := s.readMeta(ctx, model, ver)
		if filter.Stage != "" && Stage(meta.Stage) != filter.Stage {
			continue
		}
		if len(filter.Tags) > 0 && !hasAll(meta.Tags, filter.Tags) {
			continue
		}
		if offset > 0 {
			offset--
			continue
		}
		e, err := s.Get(ctx, model, ver)
		if err != nil {
			continue
		}
		out = append(out, e)
		if len(out) >= limit {
			return out, nil
		}
	}
	return out, nil
}

// ListVersions returns version info for a model.
func (s *S3Registry) ListVersions(ctx context.Context, model string) ([]VersionInfo, error) {
	keys, err := s.store.List(ctx, s.prefix+"checkpoint/"+model+"/")
	if err != nil {
		return nil, err
	}
	var infos []VersionInfo
	for _, key := range keys {
		if !strings.HasSuffix(key, ".ckpt") {
			continue
		}
		suffix := strings.TrimPrefix(key, s.prefix+"checkpoint/"+model+"/")
		ver := strings.TrimSuffix(suffix, ".ckpt")
		meta := s.readMeta(ctx, model, ver)
		infos = append(infos, VersionInfo{
			Model:     model,
			Version:   ver,
			Stage:     Stage(meta.Stage),
			Tags:      meta.Tags,
			Epoch:     meta.Epoch,
			CreatedAt: meta.CreatedAt,
			UpdatedAt: meta.UpdatedAt,
		})
	}
	return infos, nil
}

// Promote sets the stage and release pointer.
func (s *S3Registry) Promote(ctx context.Context, model, version string, stage Stage) error {
	if _, err := s.store.Get(ctx, s.payloadKey(model, version)); err != nil {
		return core.ErrCheckpointNotFound
	}
	meta := s.readMeta(ctx, model, version)
	meta.Stage = string(stage)
	newMeta, _ := json.Marshal(meta)
	if err := s.store.Put(ctx, s.metaKey(model, version), newMeta); err != nil {
		return err
	}
	if stage == StageRelease {
		return s.store.Put(ctx, s.releaseKey(model), []byte(version))
	}
	return nil
}

// Delete removes a checkpoint version.
func (s *S3Registry) Delete(ctx context.Context, model, version string) error {
	if _, err := s.store.Get(ctx, s.payloadKey(model, version)); err != nil {
		return core.ErrCheckpointNotFound
	}
	_ = s.store.Delete(ctx, s.payloadKey(model, version))
	_ = s.store.Delete(ctx, s.metaKey(model, version))
	rel, _ := s.store.Get(ctx, s.releaseKey(model))
	if string(rel) == version {
		_ = s.store.Delete(ctx, s.releaseKey(model))
	}
	return nil
}

// Tag updates meta with new tags.
func (s *S3Registry) Tag(ctx context.Context, model, version string, tags []string) error {
	if _, err := s.store.Get(ctx, s.payloadKey(model, version)); err != nil {
		return core.ErrCheckpointNotFound
	}
	meta := s.readMeta(ctx, model, version)
	meta.Tags = append([]string(nil), tags...)
	newMeta, _ := json.Marshal(meta)
	return s.store.Put(ctx, s.metaKey(model, version), newMeta)
}
