// Package postgres implements storage.Repository backed by PostgreSQL.
//
// The records table uses a composite primary key (bucket, kind, id) that
// mirrors the key space used by the BBolt and in-memory backends. Envelope
// fields are stored as individual columns so nonce and ciphertext use
// native BYTEA storage.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jmcleod/clinicdesk/storage"
)

const upsertSQL = `INSERT INTO records (bucket, kind, id, ver, scheme, nonce, ciphertext, version)
	 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	 ON CONFLICT (bucket, kind, id)
	 DO UPDATE SET ver = $4, scheme = $5, nonce = $6, ciphertext = $7, version = $8`

// Store implements storage.Repository backed by PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

var _ storage.Repository = (*Store)(nil)

// NewRepository returns a Repository backed by the given pgx connection pool.
func NewRepository(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// NewRepositoryFromDSN creates a connection pool from a DSN string, ensures
// the schema exists, and returns a new Repository.
func NewRepositoryFromDSN(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	if err := EnsureSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ensuring schema: %w", err)
	}
	return NewRepository(pool), nil
}

// Close closes the underlying connection pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func notFound(kind, id string) error {
	return fmt.Errorf("%s/%s: %w", kind, id, storage.ErrNotFound)
}

func (s *Store) Put(ctx context.Context, bucket, kind, id string, envelope *storage.Envelope) error {
	_, err := s.pool.Exec(ctx, upsertSQL, bucket, kind, id,
		envelope.Ver, envelope.Scheme, envelope.Nonce, envelope.Ciphertext, envelope.Version)
	return err
}

func (s *Store) Get(ctx context.Context, bucket, kind, id string) (*storage.Envelope, error) {
	var env storage.Envelope
	err := s.pool.QueryRow(ctx,
		`SELECT ver, scheme, nonce, ciphertext, version
		 FROM records WHERE bucket = $1 AND kind = $2 AND id = $3`,
		bucket, kind, id).Scan(
		&env.Ver, &env.Scheme, &env.Nonce, &env.Ciphertext, &env.Version)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, notFound(kind, id)
	}
	if err != nil {
		return nil, err
	}
	return &env, nil
}

func (s *Store) List(ctx context.Context, bucket, kind string) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id FROM records WHERE bucket = $1 AND kind = $2 ORDER BY id`,
		bucket, kind)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *Store) Delete(ctx context.Context, bucket, kind, id string) error {
	return deleteRecord(ctx, s.pool, bucket, kind, id)
}

func (s *Store) PutCAS(ctx context.Context, bucket, kind, id string, expectedVersion uint64, envelope *storage.Envelope) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if err := putCASInTx(ctx, tx, bucket, kind, id, expectedVersion, envelope); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *Store) Batch(ctx context.Context, bucket string, fn func(tx storage.BatchTx) error) error {
	pgTx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer pgTx.Rollback(ctx) //nolint:errcheck

	if err := fn(&pgBatchTx{ctx: ctx, tx: pgTx, bucket: bucket}); err != nil {
		return err
	}
	return pgTx.Commit(ctx)
}

type pgBatchTx struct {
	ctx    context.Context
	tx     pgx.Tx
	bucket string
}

var _ storage.BatchTx = (*pgBatchTx)(nil)

func (btx *pgBatchTx) Put(kind, id string, envelope *storage.Envelope) error {
	_, err := btx.tx.Exec(btx.ctx, upsertSQL, btx.bucket, kind, id,
		envelope.Ver, envelope.Scheme, envelope.Nonce, envelope.Ciphertext, envelope.Version)
	return err
}

func (btx *pgBatchTx) PutCAS(kind, id string, expectedVersion uint64, envelope *storage.Envelope) error {
	return putCASInTx(btx.ctx, btx.tx, btx.bucket, kind, id, expectedVersion, envelope)
}

func (btx *pgBatchTx) Delete(kind, id string) error {
	return deleteRecord(btx.ctx, btx.tx, btx.bucket, kind, id)
}

// execer abstracts *pgxpool.Pool and pgx.Tx for shared statements.
type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func deleteRecord(ctx context.Context, q execer, bucket, kind, id string) error {
	tag, err := q.Exec(ctx,
		`DELETE FROM records WHERE bucket = $1 AND kind = $2 AND id = $3`,
		bucket, kind, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return notFound(kind, id)
	}
	return nil
}

// putCASInTx performs a compare-and-swap put within an existing transaction.
func putCASInTx(ctx context.Context, tx pgx.Tx, bucket, kind, id string, expectedVersion uint64, envelope *storage.Envelope) error {
	var currentVersion uint64
	err := tx.QueryRow(ctx,
		`SELECT version FROM records
		 WHERE bucket = $1 AND kind = $2 AND id = $3
		 FOR UPDATE`,
		bucket, kind, id).Scan(&currentVersion)

	if errors.Is(err, pgx.ErrNoRows) {
		if expectedVersion != 0 {
			return storage.ErrCASFailed
		}
		_, err = tx.Exec(ctx,
			`INSERT INTO records (bucket, kind, id, ver, scheme, nonce, ciphertext, version)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			bucket, kind, id,
			envelope.Ver, envelope.Scheme, envelope.Nonce, envelope.Ciphertext, envelope.Version)
		return err
	}
	if err != nil {
		return err
	}
	if expectedVersion == 0 || currentVersion != expectedVersion {
		return storage.ErrCASFailed
	}

	_, err = tx.Exec(ctx,
		`UPDATE records SET ver = $4, scheme = $5, nonce = $6, ciphertext = $7, version = $8
		 WHERE bucket = $1 AND kind = $2 AND id = $3`,
		bucket, kind, id,
		envelope.Ver, envelope.Scheme, envelope.Nonce, envelope.Ciphertext, envelope.Version)
	return err
}
