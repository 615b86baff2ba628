// Package storage provides the storage abstraction layer for sealed clinic records.
package storage

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrCASFailed is returned when a compare-and-swap version check fails.
	ErrCASFailed = errors.New("CAS version mismatch")
)

// BatchTx provides writes within an atomic transaction.
// The bucket is scoped to the batch, so methods don't require it.
type BatchTx interface {
	Put(kind string, id string, envelope *Envelope) error
	PutCAS(kind string, id string, expectedVersion uint64, envelope *Envelope) error
	Delete(kind string, id string) error
}

// Repository stores envelopes keyed by (bucket, kind, id). A bucket groups
// the records of one data set; kind names the entity type.
type Repository interface {
	Put(ctx context.Context, bucket, kind, id string, envelope *Envelope) error
	Get(ctx context.Context, bucket, kind, id string) (*Envelope, error)
	Delete(ctx context.Context, bucket, kind, id string) error
	// List returns the ids of every record of the given kind, sorted.
	List(ctx context.Context, bucket, kind string) ([]string, error)
	// PutCAS writes only if the stored version equals expectedVersion.
	// An expectedVersion of 0 means the record must not exist yet.
	PutCAS(ctx context.Context, bucket, kind, id string, expectedVersion uint64, envelope *Envelope) error
	Batch(ctx context.Context, bucket string, fn func(tx BatchTx) error) error
}
