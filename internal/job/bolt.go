package job

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"go.etcd.io/bbolt"
)

const jobsBucket = "jobs"

// BoltStore implements the Store interface using BoltDB
type BoltStore struct {
	db *bbolt.DB
}

// NewBoltStore creates a new BoltDB-backed job store
func NewBoltStore(path string) (*BoltStore, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(jobsBucket))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating bucket: %w", err)
	}

	return &BoltStore{db: db}, nil
}

// Create stores a new job record
func (b *BoltStore) Create(ctx context.Context, j *Job) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		data, err := json.Marshal(j)
		if err != nil {
			return fmt.Errorf("marshaling job: %w", err)
		}
		return tx.Bucket([]byte(jobsBucket)).Put([]byte(j.ID), data)
	})
}

// Update applies mutate inside a write transaction and persists the result
func (b *BoltStore) Update(ctx context.Context, id string, mutate func(*Job) error) (*Job, error) {
	var updated *Job
	err := b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(jobsBucket))
		data := bucket.Get([]byte(id))
		if data == nil {
			return ErrNotFound
		}

		var j Job
		if err := json.Unmarshal(data, &j); err != nil {
			return fmt.Errorf("unmarshaling job: %w", err)
		}
		if err := mutate(&j); err != nil {
			return err
		}

		out, err := json.Marshal(&j)
		if err != nil {
			return fmt.Errorf("marshaling job: %w", err)
		}
		if err := bucket.Put([]byte(id), out); err != nil {
			return err
		}
		updated = &j
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// Get retrieves a job by ID, scoped to its owner
func (b *BoltStore) Get(ctx context.Context, id, userID string) (*Job, error) {
	var found *Job
	err := b.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(jobsBucket)).Get([]byte(id))
		if data == nil {
			return ErrNotFound
		}

		var j Job
		if err := json.Unmarshal(data, &j); err != nil {
			return fmt.Errorf("unmarshaling job: %w", err)
		}
		if j.UserID != userID {
			return ErrNotFound
		}
		found = &j
		return nil
	})
	if err != nil {
		return nil, err
	}
	return found, nil
}

// List returns the owner's jobs, newest first
func (b *BoltStore) List(ctx context.Context, userID string, f Filter) ([]*Job, error) {
	jobs := make([]*Job, 0)
	err := b.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(jobsBucket)).ForEach(func(k, v []byte) error {
			var j Job
			if err := json.Unmarshal(v, &j); err != nil {
				return fmt.Errorf("unmarshaling job: %w", err)
			}
			if j.UserID != userID {
				return nil
			}
			if f.Status != "" && j.Status != f.Status {
				return nil
			}
			jobs = append(jobs, &j)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(jobs, func(i, k int) bool {
		return jobs[i].CreatedAt.After(jobs[k].CreatedAt)
	})
	if f.Limit > 0 && len(jobs) > f.Limit {
		jobs = jobs[:f.Limit]
	}
	return jobs, nil
}

// Close closes the database
func (b *BoltStore) Close() error {
	return b.db.Close()
}
