// Package bbolt provides a BBolt-backed storage repository.
package bbolt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"go.etcd.io/bbolt"

	"github.com/jmcleod/clinicdesk/storage"
)

// Store implements storage.Repository backed by a BBolt database.
// Each storage bucket maps to one top-level BBolt bucket.
type Store struct {
	db *bbolt.DB
}

var _ storage.Repository = (*Store)(nil)

// NewRepository returns a Repository backed by the given BBolt database.
func NewRepository(db *bbolt.DB) *Store {
	return &Store{db: db}
}

// NewRepositoryFromFile opens a BBolt database at the given path and returns a new Repository.
func NewRepositoryFromFile(path string, options *bbolt.Options) (*Store, error) {
	db, err := bbolt.Open(path, 0600, options)
	if err != nil {
		return nil, fmt.Errorf("opening bbolt db: %w", err)
	}
	return NewRepository(db), nil
}

// Close closes the underlying BBolt database.
func (s *Store) Close() error {
	return s.db.Close()
}

func recordKey(kind, id string) []byte {
	return []byte(kind + ":" + id)
}

func notFound(kind, id string) error {
	return fmt.Errorf("%s/%s: %w", kind, id, storage.ErrNotFound)
}

func (s *Store) Put(_ context.Context, bucket, kind, id string, envelope *storage.Envelope) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(bucket))
		if err != nil {
			return err
		}
		return putInBucket(b, kind, id, envelope)
	})
}

func (s *Store) Get(_ context.Context, bucket, kind, id string) (*storage.Envelope, error) {
	var envelope storage.Envelope
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucket))
		if b == nil {
			return notFound(kind, id)
		}
		data := b.Get(recordKey(kind, id))
		if data == nil {
			return notFound(kind, id)
		}
		return json.Unmarshal(data, &envelope)
	})
	if err != nil {
		return nil, err
	}
	return &envelope, nil
}

func (s *Store) Delete(_ context.Context, bucket, kind, id string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucket))
		if b == nil {
			return notFound(kind, id)
		}
		return deleteInBucket(b, kind, id)
	})
}

func (s *Store) List(_ context.Context, bucket, kind string) ([]string, error) {
	var ids []string
	prefix := []byte(kind + ":")
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucket))
		if b == nil {
			return nil
		}
		c := b.Cursor()
		for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
			ids = append(ids, string(k[len(prefix):]))
		}
		return nil
	})
	return ids, err
}

func (s *Store) PutCAS(_ context.Context, bucket, kind, id string, expectedVersion uint64, envelope *storage.Envelope) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(bucket))
		if err != nil {
			return err
		}
		return putCASInBucket(b, kind, id, expectedVersion, envelope)
	})
}

// Batch runs fn inside a single read-write BBolt transaction; returning an
// error from fn rolls every write back.
func (s *Store) Batch(_ context.Context, bucket string, fn func(tx storage.BatchTx) error) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(bucket))
		if err != nil {
			return err
		}
		return fn(&boltBatchTx{bucket: b})
	})
}

func putInBucket(b *bbolt.Bucket, kind, id string, envelope *storage.Envelope) error {
	data, err := json.Marshal(envelope)
	if err != nil {
		return err
	}
	return b.Put(recordKey(kind, id), data)
}

func deleteInBucket(b *bbolt.Bucket, kind, id string) error {
	key := recordKey(kind, id)
	if b.Get(key) == nil {
		return notFound(kind, id)
	}
	return b.Delete(key)
}

func putCASInBucket(b *bbolt.Bucket, kind, id string, expectedVersion uint64, envelope *storage.Envelope) error {
	existingData := b.Get(recordKey(kind, id))

	if expectedVersion == 0 {
		if existingData != nil {
			return storage.ErrCASFailed
		}
	} else {
		if existingData == nil {
			return storage.ErrCASFailed
		}
		var existing storage.Envelope
		if err := json.Unmarshal(existingData, &existing); err != nil {
			return err
		}
		if existing.Version != expectedVersion {
			return storage.ErrCASFailed
		}
	}
	return putInBucket(b, kind, id, envelope)
}

type boltBatchTx struct {
	bucket *bbolt.Bucket
}

func (tx *boltBatchTx) Put(kind, id string, envelope *storage.Envelope) error {
	return putInBucket(tx.bucket, kind, id, envelope)
}

func (tx *boltBatchTx) PutCAS(kind, id string, expectedVersion uint64, envelope *storage.Envelope) error {
	return putCASInBucket(tx.bucket, kind, id, expectedVersion, envelope)
}

func (tx *boltBatchTx) Delete(kind, id string) error {
	return deleteInBucket(tx.bucket, kind, id)
}
