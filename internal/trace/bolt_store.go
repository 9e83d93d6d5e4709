package trace

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.etcd.io/bbolt"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// BoltStore persists RunTraces in an embedded BoltDB file, bucket-per-concern
// the way the teacher's WorkflowStore separates workflows/executions/
// versions, adapted here to runs/versions. BoltDB over a relational engine
// for the same reason the teacher gives: pure Go, no C dependency, trivial
// deployment.
type BoltStore struct {
	db   *bbolt.DB
	mu   sync.RWMutex
	hot  map[string]RunTrace

	writeLatency metric.Float64Histogram
	cacheHits    metric.Int64Counter
	cacheMisses  metric.Int64Counter
}

var (
	bucketRuns     = []byte("runs")
	bucketVersions = []byte("run_versions")
)

// NewBoltStore opens (or creates) a BoltDB file at path and prepares its
// buckets.
func NewBoltStore(path string, meter metric.Meter) (*BoltStore, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("trace: open boltdb: %w", err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		for _, b := range [][]byte{bucketRuns, bucketVersions} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("trace: create buckets: %w", err)
	}
	writeLatency, _ := meter.Float64Histogram("pyrrhus_trace_db_write_ms")
	cacheHits, _ := meter.Int64Counter("pyrrhus_trace_cache_hits_total")
	cacheMisses, _ := meter.Int64Counter("pyrrhus_trace_cache_misses_total")
	return &BoltStore{
		db:           db,
		hot:          make(map[string]RunTrace),
		writeLatency: writeLatency,
		cacheHits:    cacheHits,
		cacheMisses:  cacheMisses,
	}, nil
}

// PutRun writes rt under its run_id. If a prior trace exists for the same
// id, it is archived into bucketVersions first, matching the teacher's
// version-on-overwrite discipline; in practice run_ids are UUIDs so this
// path is rarely taken.
func (s *BoltStore) PutRun(ctx context.Context, rt RunTrace) error {
	start := time.Now()
	defer func() {
		s.writeLatency.Record(ctx, float64(time.Since(start).Milliseconds()), metric.WithAttributes(attribute.String("op", "put_run")))
	}()

	data, err := json.Marshal(rt)
	if err != nil {
		return fmt.Errorf("trace: marshal run: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	err = s.db.Update(func(tx *bbolt.Tx) error {
		runs := tx.Bucket(bucketRuns)
		if existing := runs.Get([]byte(rt.RunID)); existing != nil {
			versions := tx.Bucket(bucketVersions)
			key := fmt.Sprintf("%s:%d", rt.RunID, time.Now().UnixNano())
			if err := versions.Put([]byte(key), existing); err != nil {
				return err
			}
		}
		return runs.Put([]byte(rt.RunID), data)
	})
	if err != nil {
		return fmt.Errorf("trace: write run: %w", err)
	}
	s.hot[rt.RunID] = rt
	return nil
}

// GetRun retrieves a trace by run_id, consulting the hot cache first.
func (s *BoltStore) GetRun(ctx context.Context, runID string) (RunTrace, bool, error) {
	s.mu.RLock()
	if rt, ok := s.hot[runID]; ok {
		s.mu.RUnlock()
		s.cacheHits.Add(ctx, 1)
		return rt, true, nil
	}
	s.mu.RUnlock()
	s.cacheMisses.Add(ctx, 1)

	var rt RunTrace
	var found bool
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketRuns).Get([]byte(runID))
		if data == nil {
			return nil
		}
		found = true
		return json.Unmarshal(data, &rt)
	})
	if err != nil {
		return RunTrace{}, false, fmt.Errorf("trace: read run: %w", err)
	}
	return rt, found, nil
}

// ListRuns returns traces ordered by timestamp descending, paginated.
func (s *BoltStore) ListRuns(ctx context.Context, limit, offset int) ([]RunTrace, error) {
	var all []RunTrace
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketRuns).ForEach(func(_, v []byte) error {
			var rt RunTrace
			if err := json.Unmarshal(v, &rt); err != nil {
				return nil
			}
			all = append(all, rt)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("trace: list runs: %w", err)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Timestamp.After(all[j].Timestamp) })
	if offset > len(all) {
		offset = len(all)
	}
	end := offset + limit
	if end > len(all) || limit <= 0 {
		end = len(all)
	}
	return all[offset:end], nil
}

// Close closes the underlying database file.
func (s *BoltStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}
