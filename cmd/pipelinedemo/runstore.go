package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.etcd.io/bbolt"

	"github.com/swarmguard/pipelinecore/pmetrics"
)

var bucketRuns = []byte("runs")

// RunRecord is one completed (or faulted/cancelled) pipeline run, persisted
// with the final metrics snapshot observed just before its stage reported
// Terminated — answering the question of where that last snapshot lives
// once the run is gone.
type RunRecord struct {
	RunID     string           `json:"run_id"`
	StartedAt time.Time        `json:"started_at"`
	EndedAt   time.Time        `json:"ended_at"`
	Outcome   string           `json:"outcome"` // terminated | faulted | cancelled
	Err       string           `json:"err,omitempty"`
	Metrics   pmetrics.Snapshot `json:"metrics"`
}

// RunStore persists RunRecords in a local BoltDB file.
type RunStore struct {
	db *bbolt.DB
}

// OpenRunStore opens (creating if absent) a BoltDB file at dbPath and
// ensures the runs bucket exists.
func OpenRunStore(dbPath string) (*RunStore, error) {
	db, err := bbolt.Open(dbPath, 0600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open run store: %w", err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketRuns)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create runs bucket: %w", err)
	}
	return &RunStore{db: db}, nil
}

// Put persists rec keyed by its RunID, overwriting any prior record with the
// same id.
func (s *RunStore) Put(rec RunRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal run record: %w", err)
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketRuns).Put([]byte(rec.RunID), data)
	})
}

// Recent returns up to limit run records, newest first by run start time.
// BoltDB keeps keys in byte order, and RunIDs begin with the run's start
// timestamp (see newRunID), so a reverse cursor walk gives us newest-first
// without needing a secondary index.
func (s *RunStore) Recent(limit int) ([]RunRecord, error) {
	var recs []RunRecord
	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(bucketRuns).Cursor()
		for k, v := c.Last(); k != nil && len(recs) < limit; k, v = c.Prev() {
			var rec RunRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				continue
			}
			recs = append(recs, rec)
		}
		return nil
	})
	return recs, err
}

// Close releases the underlying BoltDB file handle.
func (s *RunStore) Close() error { return s.db.Close() }

// newRunID produces a time-sortable prefix (so Recent's reverse byte-order
// cursor walk returns newest first) with a uuid suffix to disambiguate runs
// triggered in the same instant by cron, HTTP and NATS concurrently.
func newRunID(t time.Time) string {
	return t.UTC().Format("20060102T150405.000000000Z") + "-" + uuid.NewString()
}
