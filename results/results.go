// Package results records and queries linear-probe evaluation results.
package results

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"
)

// Record is a single recorded evaluation run.
type Record struct {
	Dataset  string
	Model    string
	Epoch    int
	Score    float64 // full-data linear score
	ShotMean float64 // low-shot mean over repetitions
	ShotStd  float64 // population std over repetitions
	At       time.Time
}

// Store is the interface for recording and querying evaluation runs.
type Store interface {
	Record(ctx context.Context, r Record) error
	Query(ctx context.Context, q Query) ([]Aggregate, error)
}

// Query filters and groups runs for aggregation.
type Query struct {
	Dataset string
	Model   string
	From    time.Time
	To      time.Time
	GroupBy string // "model", "dataset", "epoch", "day"
	Limit   int
}

// Aggregate is a bucketed aggregate (e.g. per model or per day).
type Aggregate struct {
	Key          string
	Runs         int64
	AvgScore     float64
	BestScore    float64
	BestShotMean float64
	LastAt       time.Time
}

// MemoryStore is an in-memory implementation (bounded slice, no persistence).
type MemoryStore struct {
	mu      sync.RWMutex
	max     int
	records []Record
}

// NewMemoryStore creates an in-memory store that keeps at most max records
// (0 = unbounded).
func NewMemoryStore(max int) *MemoryStore {
	return &MemoryStore{max: max, records: make([]Record, 0, 256)}
}

// Record implements Store.
func (m *MemoryStore) Record(ctx context.Context, r Record) error {
	if r.At.IsZero() {
		r.At = time.Now()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, r)
	if m.max > 0 && len(m.records) > m.max {
		m.records = m.records[len(m.records)-m.max:]
	}
	return nil
}

// Query implements Store.
func (m *MemoryStore) Query(ctx context.Context, q Query) ([]Aggregate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return aggregate(m.records, q), nil
}

func groupKey(r Record, groupBy string) string {
	switch groupBy {
	case "model":
		return r.Model
	case "dataset":
		return r.Dataset
	case "epoch":
		return r.Model + "@" + strconv.Itoa(r.Epoch)
	case "day":
		return r.At.Format("2006-01-02")
	default:
		return "all"
	}
}

// aggregate buckets records by the query's GroupBy key. Shared by the
// in-memory, CSV, and Redis stores; Postgres aggregates server-side.
func aggregate(records []Record, q Query) []Aggregate {
	agg := make(map[string]*Aggregate)
	for _, r := range records {
		if q.Dataset != "" && r.Dataset != q.Dataset {
			continue
		}
		if q.Model != "" && r.Model != q.Model {
			continue
		}
		if !q.From.IsZero() && r.At.Before(q.From) {
			continue
		}
		if !q.To.IsZero() && r.At.After(q.To) {
			continue
		}
		k := groupKey(r, q.GroupBy)
		a := agg[k]
		if a == nil {
			a = &Aggregate{Key: k}
			agg[k] = a
		}
		a.Runs++
		a.AvgScore = (a.AvgScore*float64(a.Runs-1) + r.Score) / float64(a.Runs)
		if r.Score > a.BestScore {
			a.BestScore = r.Score
		}
		if r.ShotMean > a.BestShotMean {
			a.BestShotMean = r.ShotMean
		}
		if r.At.After(a.LastAt) {
			a.LastAt = r.At
		}
	}
	out := make([]Aggregate, 0, len(agg))
	for _, a := range agg {
		out = append(out, *a)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Runs != out[j].Runs {
			return out[i].Runs > out[j].Runs
		}
		return out[i].Key < out[j].Key
	})
	limit := q.Limit
	if limit <= 0 {
		limit = 100
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}
