// Redis storage implementation. Use: go get github.com/redis/go-redis/v9
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/resonata/probe/core"
)

const (
	redisKeyPayload  = "checkpoint:%s:%s"
	redisKeyMeta     = "meta:%s:%s"
	redisKeyRelease  = "release:%s"
	redisKeyModels   = "index:models"
	redisKeyVersions = "index:versions:%s"
)

// RedisRegistry stores checkpoints in Redis. Keys: checkpoint:model:version
// (payload bytes), meta:model:version (JSON), release:model (version),
// index:models (SET), index:versions:model (SET).
type RedisRegistry struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisRegistry creates a registry using the given Redis client.
// Optional key prefix (e.g. "probe:").
func NewRedisRegistry(client redis.UniversalClient, prefix string) *RedisRegistry {
	if prefix != "" && !strings.HasSuffix(prefix, ":") {
		prefix += ":"
	}
	return &RedisRegistry{client: client, prefix: prefix}
}

func (r *RedisRegistry) key(format string, a ...interface{}) string {
	return r.prefix + fmt.Sprintf(format, a...)
}

func (r *RedisRegistry) readMeta(ctx context.Context, model, version string) blobMeta {
	var meta blobMeta
	if data, err := r.client.Get(ctx, r.key(redisKeyMeta, model, version)).Bytes(); err == nil {
		_ = json.Unmarshal(data, &meta)
	}
	return meta
}

// Store saves a checkpoint entry in Redis.
func (r *RedisRegistry) Store(ctx context.Context, entry *Entry) error {
	if entry == nil || entry.Model == "" || entry.Version == "" {
		return fmt.Errorf("redis registry: entry model and version required")
	}
	k := r.key(redisKeyPayload, entry.Model, entry.Version)
	if err := r.client.Set(ctx, k, entry.Payload, 0).Err(); err != nil {
		return err
	}
	now := time.Now()
	meta := r.readMeta(ctx, entry.Model, entry.Version)
	if meta.Stage == "" {
		meta.Stage = string(StageDev)
		meta.CreatedAt = now
	}
	meta.Epoch = entry.Epoch
	meta.Dataset = entry.Dataset
	meta.UpdatedAt = now
	metaData, _ := json.Marshal(meta)
	if err := r.client.Set(ctx, r.key(redisKeyMeta, entry.Model, entry.Version), metaData, 0).Err(); err != nil {
		return err
	}
	r.client.SAdd(ctx, r.key(redisKeyModels), entry.Model)
	r.client.SAdd(ctx, r.key(redisKeyVersions, entry.Model), entry.Version)
	return nil
}

// Get retrieves a checkpoint entry by model and version.
func (r *RedisRegistry) Get(ctx context.Context, model, version string) (*Entry, error) {
	payload, err := r.client.Get(ctx, r.key(redisKeyPayload, model, version)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, core.ErrCheckpointNotFound
		}
		return nil, err
	}
	meta := r.readMeta(ctx, model, version)
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
func (r *RedisRegistry) GetRelease(ctx context.Context, model string) (*Entry, error) {
	version, err := r.client.Get(ctx, r.key(redisKeyRelease, model)).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, core.ErrCheckpointNotFound
		}
		return nil, err
	}
	return r.Get(ctx, model, version)
}

// List returns entries matching the filter (scans the model index).
func (r *RedisRegistry) List(ctx context.Context, filter Filter) ([]*Entry, error) {
	models, err := r.client.SMembers(ctx, r.key(redisKeyModels)).Result()
	if err != nil {
		return nil, err
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 1000
	}
	var out []*Entry
	offset := filter.Offset
	for _, model := range models {
		if len(filter.Models) > 0 && !contains(filter.Models, model) {
			continue
		}
		vers, _ := r.client.SMembers(ctx, r.key(redisKeyVersions, model)).Result()
		for _, version := range vers {
			meta := r.readMeta(ctx, model, version)
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
			e, err := r.Get(ctx, model, version)
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
func (r *RedisRegistry) ListVersions(ctx context.Context, model string) ([]VersionInfo, error) {
	vers, err := r.client.SMembers(ctx, r.key(redisKeyVersions, model)).Result()
	if err != nil {
		return nil, err
	}
	var infos []VersionInfo
	for _, version := range vers {
		meta := r.readMeta(ctx, model, version)
		infos = append(infos, VersionInfo{
			Model:     model,
			Version:   version,
			Stage:     Stage(meta.Stage),
			Tags:      meta.Tags,
			Epoch:     meta.Epoch,
			CreatedAt: meta.CreatedAt,
			UpdatedAt: meta.UpdatedAt,
		})
	}
	return infos, nil
}

// Promote sets the stage for model+version and updates the release pointer.
func (r *RedisRegistry) Promote(ctx context.Context, model, version string, stage Stage) error {
	if err := r.client.Get(ctx, r.key(redisKeyPayload, model, version)).Err(); err != nil {
		if err == redis.Nil {
			return core.ErrCheckpointNotFound
		}
		return err
	}
	meta := r.readMeta(ctx, model, version)
	meta.Stage = string(stage)
	newMeta, _ := json.Marshal(meta)
	if err := r.client.Set(ctx, r.key(redisKeyMeta, model, version), newMeta, 0).Err(); err != nil {
		return err
	}
	if stage == StageRelease {
		if err := r.client.Set(ctx, r.key(redisKeyRelease, model), version, 0).Err(); err != nil {
			return err
		}
	}
	return nil
}

// Delete removes a checkpoint version from Redis.
func (r *RedisRegistry) Delete(ctx context.Context, model, version string) error {
	k := r.key(redisKeyPayload, model, version)
	if err := r.client.Get(ctx, k).Err(); err != nil {
		if err == redis.Nil {
			return core.ErrCheckpointNotFound
		}
		return err
	}
	r.client.Del(ctx, k, r.key(redisKeyMeta, model, version))
	r.client.SRem(ctx, r.key(redisKeyVersions, model), version)
	rel, _ := r.client.Get(ctx, r.key(redisKeyRelease, model)).Result()
	if rel == version {
		r.client.Del(ctx, r.key(redisKeyRelease, model))
	}
	vers, _ := r.client.SMembers(ctx, r.key(redisKeyVersions, model)).Result()
	if len(vers) == 0 {
		r.client.SRem(ctx, r.key(redisKeyModels), model)
	}
	return nil
}

// Tag sets tags for a checkpoint version.
func (r *RedisRegistry) Tag(ctx context.Context, model, version string, tags []string) error {
	if err := r.client.Get(ctx, r.key(redisKeyPayload, model, version)).Err(); err != nil {
		if err == redis.Nil {
			return core.ErrCheckpointNotFound
		}
		return err
	}
	meta := r.readMeta(ctx, model, version)
	meta.Tags = append([]string(nil), tags...)
	newMeta, _ := json.Marshal(meta)
	return r.client.Set(ctx, r.key(redisKeyMeta, model, version), newMeta, 0).Err()
}
