// Package store persists hit log lines.
package store

import (
	"encoding/binary"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

var bucketHitLog = []byte("hitlog")

// LogStore is an append-only line log in a bbolt file.
type LogStore struct {
	db *bolt.DB
}

// Open creates or opens the store at path.
func Open(path string) (*LogStore, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open log store %s: %w", path, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketHitLog)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create bucket: %w", err)
	}
	return &LogStore{db: db}, nil
}

// Append writes lines in a single transaction.
func (s *LogStore) Append(lines ...string) error {
	if len(lines) == 0 {
		return nil
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketHitLog)
		for _, line := range lines {
			seq, err := b.NextSequence()
			if err != nil {
				return err
			}
			if err := b.Put(itob(seq), []byte(line)); err != nil {
				return err
			}
		}
		return nil
	})
}

// Lines returns up to limit of the most recent lines in write order. A
// limit of zero or less returns every line.
func (s *LogStore) Lines(limit int) ([]string, error) {
	var lines []string
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketHitLog).Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			lines = append(lines, string(v))
			if limit > 0 && len(lines) == limit {
				break
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for i, j := 0, len(lines)-1; i < j; i, j = i+1, j-1 {
		lines[i], lines[j] = lines[j], lines[i]
	}
	return lines, nil
}

// Count returns the number of stored lines.
func (s *LogStore) Count() (int, error) {
	var n int
	err := s.db.View(func(tx *bolt.Tx) error {
		n = tx.Bucket(bucketHitLog).Stats().KeyN
		return nil
	})
	return n, err
}

func (s *LogStore) Close() error {
	return s.db.Close()
}

func itob(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}
