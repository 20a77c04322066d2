package results

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultRedisKey = "probe:results:runs"

// RedisStore implements Store using Redis (sorted set by timestamp, value =
// JSON record).
type RedisStore struct {
	client redis.UniversalClient
	key    string
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore creates a store that uses the given Redis client.
func NewRedisStore(client redis.UniversalClient, key string) *RedisStore {
	if key == "" {
		key = defaultRedisKey
	}
	return &RedisStore{client: client, key: key}
}

type redisRecord struct {
	Dataset  string  `json:"dataset"`
	Model    string  `json:"model"`
	Epoch    int     `json:"epoch"`
	Score    float64 `json:"linear_score"`
	ShotMean float64 `json:"linear_score_5_mean"`
	ShotStd  float64 `json:"linear_score_5_std"`
	At       string  `json:"at"` // RFC3339
}

// Record implements Store.
func (r *RedisStore) Record(ctx context.Context, rec Record) error {
	if rec.At.IsZero() {
		rec.At = time.Now()
	}
	score := float64(rec.At.UnixNano()) / 1e9
	payload := redisRecord{
		Dataset:  rec.Dataset,
		Model:    rec.Model,
		Epoch:    rec.Epoch,
		Score:    rec.Score,
		ShotMean: rec.ShotMean,
		ShotStd:  rec.ShotStd,
		At:       rec.At.Format(time.RFC3339),
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("results: marshal run: %w", err)
	}
	if err := r.client.ZAdd(ctx, r.key, redis.Z{Score: score, Member: string(raw)}).Err(); err != nil {
		return fmt.Errorf("results: zadd run: %w", err)
	}
	return nil
}

// Query implements Store by reading from the sorted set and aggregating in
// memory. The time range is pushed down to Redis via the member score.
func (r *RedisStore) Query(ctx context.Context, q Query) ([]Aggregate, error) {
	min, max := "-inf", "+inf"
	if !q.From.IsZero() {
		min = strconv.FormatFloat(float64(q.From.UnixNano())/1e9, 'f', -1, 64)
	}
	if !q.To.IsZero() {
		max = strconv.FormatFloat(float64(q.To.UnixNano())/1e9, 'f', -1, 64)
	}
	const batch = 10000
	var records []Record
	for offset := int64(0); ; offset += batch {
		vals, err := r.client.ZRangeByScoreWithScores(ctx, r.key, &redis.ZRangeBy{
			Min: min, Max: max, Offset: offset, Count: batch,
		}).Result()
		if err != nil {
			return nil, fmt.Errorf("results: zrange runs: %w", err)
		}
		for _, z := range vals {
			mem, ok := z.Member.(string)
			if !ok {
				continue
			}
			var rr redisRecord
			if err := json.Unmarshal([]byte(mem), &rr); err != nil {
				continue
			}
			at, _ := time.Parse(time.RFC3339, rr.At)
			records = append(records, Record{
				Dataset:  rr.Dataset,
				Model:    rr.Model,
				Epoch:    rr.Epoch,
				Score:    rr.Score,
				ShotMean: rr.ShotMean,
				ShotStd:  rr.ShotStd,
				At:       at,
			})
		}
		if len(vals) < batch {
			break
		}
	}
	return aggregate(records, q), nil
}
