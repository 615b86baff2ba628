// Package memory provides a thread-safe in-memory implementation of storage.Repository.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/jmcleod/clinicdesk/storage"
)

// Repository is a thread-safe in-memory implementation of storage.Repository.
// Suitable for testing, demos, and throwaway desktop sessions.
type Repository struct {
	mu   sync.RWMutex
	data map[string]map[string]*storage.Envelope
}

var _ storage.Repository = (*Repository)(nil)

// NewRepository creates a new empty in-memory Repository.
func NewRepository() *Repository {
	return &Repository{data: make(map[string]map[string]*storage.Envelope)}
}

func makeKey(kind, id string) string {
	return kind + ":" + id
}

func notFound(kind, id string) error {
	return fmt.Errorf("%s/%s: %w", kind, id, storage.ErrNotFound)
}

func (r *Repository) Put(_ context.Context, bucket, kind, id string, envelope *storage.Envelope) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.putLocked(bucket, kind, id, envelope)
	return nil
}

func (r *Repository) putLocked(bucket, kind, id string, envelope *storage.Envelope) {
	if _, ok := r.data[bucket]; !ok {
		r.data[bucket] = make(map[string]*storage.Envelope)
	}
	r.data[bucket][makeKey(kind, id)] = envelope.Clone()
}

func (r *Repository) Get(_ context.Context, bucket, kind, id string) (*storage.Envelope, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.getLocked(bucket, kind, id)
}

func (r *Repository) getLocked(bucket, kind, id string) (*storage.Envelope, error) {
	env, ok := r.data[bucket][makeKey(kind, id)]
	if !ok {
		return nil, notFound(kind, id)
	}
	return env.Clone(), nil
}

func (r *Repository) List(_ context.Context, bucket, kind string) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var ids []string
	prefix := kind + ":"
	for k := range r.data[bucket] {
		if strings.HasPrefix(k, prefix) {
			ids = append(ids, k[len(prefix):])
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (r *Repository) Delete(_ context.Context, bucket, kind, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.deleteLocked(bucket, kind, id)
}

func (r *Repository) deleteLocked(bucket, kind, id string) error {
	k := makeKey(kind, id)
	if _, ok := r.data[bucket][k]; !ok {
		return notFound(kind, id)
	}
	delete(r.data[bucket], k)
	return nil
}

func (r *Repository) PutCAS(_ context.Context, bucket, kind, id string, expectedVersion uint64, envelope *storage.Envelope) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.putCASLocked(bucket, kind, id, expectedVersion, envelope)
}

func (r *Repository) putCASLocked(bucket, kind, id string, expectedVersion uint64, envelope *storage.Envelope) error {
	existing, err := r.getLocked(bucket, kind, id)
	if err != nil {
		if expectedVersion != 0 {
			return storage.ErrCASFailed
		}
		r.putLocked(bucket, kind, id, envelope)
		return nil
	}
	if existing.Version != expectedVersion || expectedVersion == 0 {
		return storage.ErrCASFailed
	}
	r.putLocked(bucket, kind, id, envelope)
	return nil
}

// Batch executes fn within a batch transaction. On error, all writes are rolled back.
func (r *Repository) Batch(_ context.Context, bucket string, fn func(tx storage.BatchTx) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	snapshot := r.snapshotBucket(bucket)

	tx := &memoryBatchTx{repo: r, bucket: bucket}
	if err := fn(tx); err != nil {
		r.restoreBucket(bucket, snapshot)
		return err
	}
	return nil
}

func (r *Repository) snapshotBucket(bucket string) map[string]*storage.Envelope {
	original, ok := r.data[bucket]
	if !ok {
		return nil
	}
	cp := make(map[string]*storage.Envelope, len(original))
	for k, v := range original {
		cp[k] = v.Clone()
	}
	return cp
}

func (r *Repository) restoreBucket(bucket string, snapshot map[string]*storage.Envelope) {
	if snapshot == nil {
		delete(r.data, bucket)
	} else {
		r.data[bucket] = snapshot
	}
}

type memoryBatchTx struct {
	repo   *Repository
	bucket string
}

func (tx *memoryBatchTx) Put(kind, id string, envelope *storage.Envelope) error {
	tx.repo.putLocked(tx.bucket, kind, id, envelope)
	return nil
}

func (tx *memoryBatchTx) PutCAS(kind, id string, expectedVersion uint64, envelope *storage.Envelope) error {
	return tx.repo.putCASLocked(tx.bucket, kind, id, expectedVersion, envelope)
}

func (tx *memoryBatchTx) Delete(kind, id string) error {
	return tx.repo.deleteLocked(tx.bucket, kind, id)
}
