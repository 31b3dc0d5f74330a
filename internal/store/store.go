// Package store persists the load history: one record per successful model
// load, keyed by timestamp. It backs the terminal shell's history view and
// survives restarts.
package store

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"
)

const loadsBucket = "loads"

// Record is one successful load.
type Record struct {
	Path      string    `json:"path"`
	Strategy  string    `json:"strategy"`
	ModelType string    `json:"model_type"`
	Schema    []string  `json:"schema"`
	LoadedAt  time.Time `json:"loaded_at"`
}

// Store is a bbolt-backed load history.
type Store struct {
	db *bbolt.DB
}

// Open creates or opens the history database under dataPath.
func Open(dataPath string) (*Store, error) {
	dbPath := filepath.Join(dataPath, "xaiviz.db")
	db, err := bbolt.Open(dbPath, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(loadsBucket))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create bucket: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the database.
func (s *Store) Close() error { return s.db.Close() }

// Append records one successful load.
func (s *Store) Append(rec Record) error {
	if rec.LoadedAt.IsZero() {
		rec.LoadedAt = time.Now()
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(loadsBucket)).Put(itob(rec.LoadedAt.UnixNano()), data)
	})
}

// Recent returns up to n records, most recent first.
func (s *Store) Recent(n int) ([]Record, error) {
	var out []Record
	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket([]byte(loadsBucket)).Cursor()
		for k, v := c.Last(); k != nil && len(out) < n; k, v = c.Prev() {
			var rec Record
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			out = append(out, rec)
		}
		return nil
	})
	return out, err
}

func itob(v int64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(v))
	return b
}
