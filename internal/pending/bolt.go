package pending

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

var bucketDecisions = []byte("decisions")

// boltRecord wraps a decision with its deadline
type boltRecord struct {
	Decision  *Decision `json:"decision"`
	ExpiresAt time.Time `json:"expires_at"`
}

// BoltStore is an embedded single-node ledger that survives restarts.
// Expired records are removed lazily on Take or by Sweep.
type BoltStore struct {
	db  *bolt.DB
	now func() time.Time
}

// NewBoltStore opens (or creates) the database at path.
func NewBoltStore(path string) (*BoltStore, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create bolt dir: %w", err)
		}
	}
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("bbolt open: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketDecisions)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create bucket: %w", err)
	}
	return &BoltStore{db: db, now: time.Now}, nil
}

func (s *BoltStore) Put(_ context.Context, d *Decision, ttl time.Duration) error {
	data, err := json.Marshal(boltRecord{Decision: d, ExpiresAt: s.now().Add(ttl)})
	if err != nil {
		return fmt.Errorf("marshal decision: %w", err)
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketDecisions)
		key := []byte(d.ID)
		if v := b.Get(key); v != nil {
			var existing boltRecord
			if json.Unmarshal(v, &existing) == nil && s.now().Before(existing.ExpiresAt) {
				return nil
			}
		}
		return b.Put(key, data)
	})
}

func (s *BoltStore) Take(_ context.Context, id string) (*Decision, error) {
	var rec boltRecord
	found := false

	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketDecisions)
		key := []byte(id)
		v := b.Get(key)
		if v == nil {
			return nil
		}
		// Unmarshal copies out of the mmap before the delete
		if err := json.Unmarshal(v, &rec); err != nil {
			return fmt.Errorf("unmarshal decision: %w", err)
		}
		found = s.now().Before(rec.ExpiresAt)
		return b.Delete(key)
	})
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	return rec.Decision, nil
}

// Sweep deletes expired records and returns how many were removed.
func (s *BoltStore) Sweep() (int, error) {
	removed := 0
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketDecisions)
		now := s.now()
		var stale [][]byte
		err := b.ForEach(func(k, v []byte) error {
			var rec boltRecord
			if err := json.Unmarshal(v, &rec); err != nil || !now.Before(rec.ExpiresAt) {
				stale = append(stale, append([]byte(nil), k...))
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, k := range stale {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		removed = len(stale)
		return nil
	})
	return removed, err
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}
