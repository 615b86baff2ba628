// Package storagetest holds the conformance suite every storage.Repository
// backend runs in its own tests.
package storagetest

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcleod/clinicdesk/storage"
)

func envelope(body string, version uint64) *storage.Envelope {
	return &storage.Envelope{
		Ver:        1,
		Scheme:     "aes256gcm",
		Nonce:      []byte("nonce1234567"),
		Ciphertext: []byte(body),
		Version:    version,
	}
}

// Run exercises repo against the storage.Repository contract. The
// repository must be empty.
func Run(t *testing.T, repo storage.Repository) {
	t.Helper()
	ctx := context.Background()
	const bucket = "clinic"

	t.Run("PutGet", func(t *testing.T) {
		require.NoError(t, repo.Put(ctx, bucket, "PATIENT", "p1", envelope("alpha", 1)))
		got, err := repo.Get(ctx, bucket, "PATIENT", "p1")
		require.NoError(t, err)
		assert.Equal(t, []byte("alpha"), got.Ciphertext)
		assert.Equal(t, uint64(1), got.Version)
	})

	t.Run("GetMissing", func(t *testing.T) {
		_, err := repo.Get(ctx, bucket, "PATIENT", "missing")
		assert.True(t, errors.Is(err, storage.ErrNotFound), "got %v", err)
		_, err = repo.Get(ctx, "no-such-bucket", "PATIENT", "p1")
		assert.True(t, errors.Is(err, storage.ErrNotFound), "got %v", err)
	})

	t.Run("ListSortedAndScopedByKind", func(t *testing.T) {
		require.NoError(t, repo.Put(ctx, bucket, "PATIENT", "p3", envelope("c", 1)))
		require.NoError(t, repo.Put(ctx, bucket, "PATIENT", "p2", envelope("b", 1)))
		require.NoError(t, repo.Put(ctx, bucket, "EXPENSE", "e1", envelope("x", 1)))

		ids, err := repo.List(ctx, bucket, "PATIENT")
		require.NoError(t, err)
		assert.Equal(t, []string{"p1", "p2", "p3"}, ids)

		ids, err = repo.List(ctx, "empty-bucket", "PATIENT")
		require.NoError(t, err)
		assert.Empty(t, ids)
	})

	t.Run("Delete", func(t *testing.T) {
		require.NoError(t, repo.Delete(ctx, bucket, "EXPENSE", "e1"))
		_, err := repo.Get(ctx, bucket, "EXPENSE", "e1")
		assert.True(t, errors.Is(err, storage.ErrNotFound))

		err = repo.Delete(ctx, bucket, "EXPENSE", "e1")
		assert.True(t, errors.Is(err, storage.ErrNotFound), "got %v", err)
	})

	t.Run("PutCASCreateOnly", func(t *testing.T) {
		require.NoError(t, repo.PutCAS(ctx, bucket, "INCOME", "i1", 0, envelope("v1", 1)))
		err := repo.PutCAS(ctx, bucket, "INCOME", "i1", 0, envelope("again", 1))
		assert.True(t, errors.Is(err, storage.ErrCASFailed), "got %v", err)
	})

	t.Run("PutCASVersionMatch", func(t *testing.T) {
		require.NoError(t, repo.PutCAS(ctx, bucket, "INCOME", "i1", 1, envelope("v2", 2)))
		got, err := repo.Get(ctx, bucket, "INCOME", "i1")
		require.NoError(t, err)
		assert.Equal(t, []byte("v2"), got.Ciphertext)

		err = repo.PutCAS(ctx, bucket, "INCOME", "i1", 1, envelope("stale", 2))
		assert.True(t, errors.Is(err, storage.ErrCASFailed), "got %v", err)

		err = repo.PutCAS(ctx, bucket, "INCOME", "never", 4, envelope("ghost", 5))
		assert.True(t, errors.Is(err, storage.ErrCASFailed), "got %v", err)
	})

	t.Run("BatchCommit", func(t *testing.T) {
		err := repo.Batch(ctx, bucket, func(tx storage.BatchTx) error {
			if err := tx.Put("EXPENSE", "b1", envelope("one", 1)); err != nil {
				return err
			}
			return tx.PutCAS("EXPENSE", "b2", 0, envelope("two", 1))
		})
		require.NoError(t, err)
		ids, err := repo.List(ctx, bucket, "EXPENSE")
		require.NoError(t, err)
		assert.Equal(t, []string{"b1", "b2"}, ids)
	})

	t.Run("BatchRollback", func(t *testing.T) {
		boom := errors.New("boom")
		err := repo.Batch(ctx, bucket, func(tx storage.BatchTx) error {
			if err := tx.Put("EXPENSE", "b3", envelope("three", 1)); err != nil {
				return err
			}
			if err := tx.Delete("EXPENSE", "b1"); err != nil {
				return err
			}
			return boom
		})
		assert.True(t, errors.Is(err, boom))

		_, err = repo.Get(ctx, bucket, "EXPENSE", "b3")
		assert.True(t, errors.Is(err, storage.ErrNotFound), "rolled back put must not persist")
		_, err = repo.Get(ctx, bucket, "EXPENSE", "b1")
		assert.NoError(t, err, "rolled back delete must not persist")
	})
}
