// Package sqlite implements storage.Repository on an embedded SQLite
// database (pure Go driver, no cgo).
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/jmcleod/clinicdesk/storage"
)

//go:embed schema.sql
var schemaSQL string

const upsertSQL = `INSERT INTO records (bucket, kind, id, ver, scheme, nonce, ciphertext, version)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (bucket, kind, id)
	DO UPDATE SET ver = excluded.ver, scheme = excluded.scheme, nonce = excluded.nonce,
		ciphertext = excluded.ciphertext, version = excluded.version`

// Store implements storage.Repository backed by SQLite.
type Store struct {
	db *sql.DB
}

var _ storage.Repository = (*Store)(nil)

// Open opens (creating if needed) the database at path and ensures the
// schema exists. Use ":memory:" for a private in-memory database.
func Open(path string) (*Store, error) {
	onDisk := path != ":memory:"
	if onDisk {
		if dir := filepath.Dir(path); dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0o700); err != nil {
				return nil, fmt.Errorf("creating database directory: %w", err)
			}
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}
	// One connection: SQLite has a single writer, and an in-memory database
	// is private to its connection.
	db.SetMaxOpenConns(1)

	pragmas := []string{"PRAGMA busy_timeout = 5000"}
	if onDisk {
		pragmas = append(pragmas, "PRAGMA journal_mode = WAL")
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("applying %q: %w", p, err)
		}
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("ensuring schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func notFound(kind, id string) error {
	return fmt.Errorf("%s/%s: %w", kind, id, storage.ErrNotFound)
}

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Store) Put(ctx context.Context, bucket, kind, id string, envelope *storage.Envelope) error {
	return put(ctx, s.db, bucket, kind, id, envelope)
}

func (s *Store) Get(ctx context.Context, bucket, kind, id string) (*storage.Envelope, error) {
	var env storage.Envelope
	err := s.db.QueryRowContext(ctx,
		`SELECT ver, scheme, nonce, ciphertext, version
		 FROM records WHERE bucket = ? AND kind = ? AND id = ?`,
		bucket, kind, id).Scan(&env.Ver, &env.Scheme, &env.Nonce, &env.Ciphertext, &env.Version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound(kind, id)
	}
	if err != nil {
		return nil, err
	}
	return &env, nil
}

func (s *Store) List(ctx context.Context, bucket, kind string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM records WHERE bucket = ? AND kind = ? ORDER BY id`, bucket, kind)
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
	return del(ctx, s.db, bucket, kind, id)
}

func (s *Store) PutCAS(ctx context.Context, bucket, kind, id string, expectedVersion uint64, envelope *storage.Envelope) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck

	if err := putCAS(ctx, tx, bucket, kind, id, expectedVersion, envelope); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) Batch(ctx context.Context, bucket string, fn func(tx storage.BatchTx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck

	if err := fn(&sqliteBatchTx{ctx: ctx, tx: tx, bucket: bucket}); err != nil {
		return err
	}
	return tx.Commit()
}

type sqliteBatchTx struct {
	ctx    context.Context
	tx     *sql.Tx
	bucket string
}

func (b *sqliteBatchTx) Put(kind, id string, envelope *storage.Envelope) error {
	return put(b.ctx, b.tx, b.bucket, kind, id, envelope)
}

func (b *sqliteBatchTx) PutCAS(kind, id string, expectedVersion uint64, envelope *storage.Envelope) error {
	return putCAS(b.ctx, b.tx, b.bucket, kind, id, expectedVersion, envelope)
}

func (b *sqliteBatchTx) Delete(kind, id string) error {
	return del(b.ctx, b.tx, b.bucket, kind, id)
}

func put(ctx context.Context, q execer, bucket, kind, id string, env *storage.Envelope) error {
	_, err := q.ExecContext(ctx, upsertSQL, bucket, kind, id,
		env.Ver, env.Scheme, env.Nonce, env.Ciphertext, env.Version)
	return err
}

func del(ctx context.Context, q execer, bucket, kind, id string) error {
	res, err := q.ExecContext(ctx,
		`DELETE FROM records WHERE bucket = ? AND kind = ? AND id = ?`, bucket, kind, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound(kind, id)
	}
	return nil
}

func putCAS(ctx context.Context, q execer, bucket, kind, id string, expectedVersion uint64, env *storage.Envelope) error {
	var current uint64
	err := q.QueryRowContext(ctx,
		`SELECT version FROM records WHERE bucket = ? AND kind = ? AND id = ?`,
		bucket, kind, id).Scan(&current)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if expectedVersion != 0 {
			return storage.ErrCASFailed
		}
	case err != nil:
		return err
	case expectedVersion == 0 || current != expectedVersion:
		return storage.ErrCASFailed
	}
	return put(ctx, q, bucket, kind, id, env)
}
