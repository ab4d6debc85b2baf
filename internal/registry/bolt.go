package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

var threadsBucket = []byte("threads")

// BoltStore keeps registry entries in a single bbolt file. It suits a
// single gitbot process; use the SQL store when several share state.
type BoltStore struct {
	db  *bolt.DB
	now func() time.Time
}

type boltRecord struct {
	ThreadID  string `json:"thread_id"`
	ExpiresAt int64  `json:"expires_at"` // Unix milliseconds
}

// OpenBolt opens or creates the bbolt file at path.
func OpenBolt(path string, opts ...Option) (*BoltStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("registry: create dir: %w", err)
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("registry: open bolt: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(threadsBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("registry: create bucket: %w", err)
	}
	o := buildOptions(opts)
	return &BoltStore{db: db, now: o.now}, nil
}

// Lookup implements Store.
func (s *BoltStore) Lookup(_ context.Context, key string) (string, bool, error) {
	var rec boltRecord
	var found bool
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(threadsBucket).Get([]byte(key))
		if v == nil {
			return nil
		}
		if err := json.Unmarshal(v, &rec); err != nil {
			return err
		}
		found = true
		return nil
	})
	if err != nil {
		return "", false, fmt.Errorf("registry: lookup %s: %w", key, err)
	}
	if !found || rec.ExpiresAt <= s.now().UnixMilli() {
		return "", false, nil
	}
	return rec.ThreadID, true, nil
}

// Create implements Store.
func (s *BoltStore) Create(_ context.Context, key, threadID string, ttl time.Duration) error {
	data, err := json.Marshal(boltRecord{
		ThreadID:  threadID,
		ExpiresAt: s.now().Add(ttl).UnixMilli(),
	})
	if err != nil {
		return err
	}
	err = s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(threadsBucket).Put([]byte(key), data)
	})
	if err != nil {
		return fmt.Errorf("registry: create %s: %w", key, err)
	}
	return nil
}

// Purge implements Store.
func (s *BoltStore) Purge(_ context.Context) (int64, error) {
	cutoff := s.now().UnixMilli()
	var removed int64
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(threadsBucket)
		var expired [][]byte
		err := b.ForEach(func(k, v []byte) error {
			var rec boltRecord
			// Unreadable records can never be served, so they go too.
			if json.Unmarshal(v, &rec) != nil || rec.ExpiresAt <= cutoff {
				expired = append(expired, append([]byte(nil), k...))
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, k := range expired {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		removed = int64(len(expired))
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("registry: purge: %w", err)
	}
	return removed, nil
}

// Close closes the bbolt file.
func (s *BoltStore) Close() error {
	return s.db.Close()
}
