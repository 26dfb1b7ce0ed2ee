package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"

	"connswarm/internal/swarm"
)

const bucketRuns = "runs"

// SessionRecord carries the full per-connection payload of one run, too
// heavy for the JSON history index.
type SessionRecord struct {
	ID        string                    `json:"id"`
	Timestamp time.Time                 `json:"timestamp"`
	Config    swarm.Config              `json:"config"`
	Outcomes  []swarm.ConnectionOutcome `json:"outcomes"`
}

// Store is a bbolt database holding the full per-connection payloads of a
// session, too heavy for the JSON history index. Close keeps the file for
// later inspection; Discard removes it.
type Store struct {
	db       *bbolt.DB
	filePath string
}

// NewStore opens a fresh session database under dir. An empty dir defaults
// to ~/.connswarm/sessions.
func NewStore(dir string) (*Store, error) {
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, err
		}
		dir = filepath.Join(home, ".connswarm", "sessions")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	path := filepath.Join(dir, fmt.Sprintf("session_%d.db", time.Now().UnixNano()))

	db, err := bbolt.Open(path, 0600, nil)
	if err != nil {
		return nil, err
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucketRuns))
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Store{
		db:       db,
		filePath: path,
	}, nil
}

func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Discard closes the database and deletes its file.
func (s *Store) Discard() error {
	if err := s.Close(); err != nil {
		return err
	}
	if s.filePath != "" {
		return os.Remove(s.filePath)
	}
	return nil
}

// Path returns the database file location.
func (s *Store) Path() string {
	return s.filePath
}

func (s *Store) Save(rec SessionRecord) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucketRuns))

		data, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		return b.Put([]byte(rec.ID), data)
	})
}

// List returns all runs of this session, newest first.
func (s *Store) List() []SessionRecord {
	var items []SessionRecord

	s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucketRuns))
		c := b.Cursor()

		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			var rec SessionRecord
			if err := json.Unmarshal(v, &rec); err == nil {
				items = append(items, rec)
			}
		}
		return nil
	})

	return items
}

func (s *Store) Get(id string) (*SessionRecord, error) {
	var rec SessionRecord
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucketRuns))
		v := b.Get([]byte(id))
		if v == nil {
			return fmt.Errorf("run %s not found", id)
		}
		return json.Unmarshal(v, &rec)
	})
	if err != nil {
		return nil, err
	}
	return &rec, nil
}
