package records

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/awnumar/memguard"

	icrypto "github.com/jmcleod/clinicdesk/internal/crypto"
	"github.com/jmcleod/clinicdesk/internal/util"
	"github.com/jmcleod/clinicdesk/internal/uuid"
	"github.com/jmcleod/clinicdesk/storage"
)

// DefaultBucket groups the records of the local clinic data set.
const DefaultBucket = "clinic"

// recordFormat is bound into each record's AAD.
const recordFormat = 1

// ErrDuplicate is returned when a record would break a uniqueness rule.
var ErrDuplicate = errors.New("record already exists")

// LoadKey reads the 32-byte data key at path, creating the file with a fresh
// random key when it does not exist. The key is returned sealed in an
// enclave and the plaintext copy is wiped.
func LoadKey(path string) (*memguard.Enclave, error) {
	raw, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		raw, err = util.NewAESKey()
		if err != nil {
			return nil, err
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, fmt.Errorf("creating key directory: %w", err)
		}
		if err := os.WriteFile(path, raw, 0o600); err != nil {
			return nil, fmt.Errorf("writing data key: %w", err)
		}
	case err != nil:
		return nil, fmt.Errorf("reading data key: %w", err)
	}
	if len(raw) != 32 {
		util.WipeBytes(raw)
		return nil, fmt.Errorf("data key %s: expected 32 bytes, got %d", path, len(raw))
	}
	return memguard.NewEnclave(raw), nil
}

// NewKey returns a random data key that exists only in memory.
func NewKey() (*memguard.Enclave, error) {
	raw, err := util.NewAESKey()
	if err != nil {
		return nil, err
	}
	return memguard.NewEnclave(raw), nil
}

// Store seals records into a repository bucket.
type Store struct {
	repo   storage.Repository
	bucket string
	key    *memguard.Enclave
	now    func() time.Time
}

type StoreOption func(*Store)

// WithBucket selects the repository bucket. Defaults to DefaultBucket.
func WithBucket(bucket string) StoreOption {
	return func(s *Store) { s.bucket = bucket }
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) StoreOption {
	return func(s *Store) { s.now = now }
}

func NewStore(repo storage.Repository, key *memguard.Enclave, opts ...StoreOption) *Store {
	s := &Store{repo: repo, bucket: DefaultBucket, key: key, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) bucketKey() ([]byte, error) {
	buf, err := s.key.Open()
	if err != nil {
		return nil, fmt.Errorf("opening data key: %w", err)
	}
	defer buf.Destroy()
	return icrypto.DeriveBucketKey(buf.Bytes(), s.bucket)
}

func (s *Store) seal(kind, id string, v any, version uint64) (*storage.Envelope, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	defer util.WipeBytes(data)
	key, err := s.bucketKey()
	if err != nil {
		return nil, err
	}
	defer util.WipeBytes(key)
	return storage.SealRecord(key, data, icrypto.AADRecord(s.bucket, kind, id, recordFormat), version)
}

func (s *Store) open(kind, id string, env *storage.Envelope, v any) error {
	key, err := s.bucketKey()
	if err != nil {
		return err
	}
	defer util.WipeBytes(key)
	data, err := storage.OpenRecord(key, env, icrypto.AADRecord(s.bucket, kind, id, recordFormat))
	if err != nil {
		return fmt.Errorf("opening %s/%s: %w", kind, id, err)
	}
	defer util.WipeBytes(data)
	return json.Unmarshal(data, v)
}

// Entity is implemented by every stored record type.
type Entity interface {
	Kind() string
	Validate() error
}

type entity[T any] interface {
	*T
	Entity
	meta() *Meta
}

// Collection stores the records of one kind.
type Collection[T any, P entity[T]] struct {
	store *Store
	kind  string
}

func NewCollection[T any, P entity[T]](s *Store) *Collection[T, P] {
	var zero T
	return &Collection[T, P]{store: s, kind: P(&zero).Kind()}
}

func (c *Collection[T, P]) load(ctx context.Context, id string) (T, uint64, error) {
	var rec T
	env, err := c.store.repo.Get(ctx, c.store.bucket, c.kind, id)
	if err != nil {
		return rec, 0, err
	}
	if err := c.store.open(c.kind, id, env, &rec); err != nil {
		return rec, 0, err
	}
	return rec, env.Version, nil
}

// Get returns the record with the given id, or an error wrapping
// storage.ErrNotFound.
func (c *Collection[T, P]) Get(ctx context.Context, id string) (T, error) {
	rec, _, err := c.load(ctx, id)
	return rec, err
}

// List returns every record of the collection ordered by id.
func (c *Collection[T, P]) List(ctx context.Context) ([]T, error) {
	ids, err := c.store.repo.List(ctx, c.store.bucket, c.kind)
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, len(ids))
	for _, id := range ids {
		rec, _, err := c.load(ctx, id)
		if errors.Is(err, storage.ErrNotFound) {
			// Deleted between List and Get.
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// Find returns the first record, in id order, for which match is true.
func (c *Collection[T, P]) Find(ctx context.Context, match func(*T) bool) (T, bool, error) {
	all, err := c.List(ctx)
	if err != nil {
		var zero T
		return zero, false, err
	}
	for i := range all {
		if match(&all[i]) {
			return all[i], true, nil
		}
	}
	var zero T
	return zero, false, nil
}

// Count returns the number of records in the collection.
func (c *Collection[T, P]) Count(ctx context.Context) (int, error) {
	ids, err := c.store.repo.List(ctx, c.store.bucket, c.kind)
	return len(ids), err
}

// prepare assigns an id and timestamps for a new record and validates it.
func (c *Collection[T, P]) prepare(rec *T) error {
	m := P(rec).meta()
	if m.ID == "" {
		m.ID = uuid.New()
	}
	now := c.store.now().UTC()
	m.CreatedAt, m.UpdatedAt = now, now
	return P(rec).Validate()
}

// Create validates rec, assigns it an id when it has none, and stores it.
// Creating an id that already exists fails with ErrDuplicate.
func (c *Collection[T, P]) Create(ctx context.Context, rec T) (T, error) {
	var zero T
	if err := c.prepare(&rec); err != nil {
		return zero, err
	}
	id := P(&rec).meta().ID
	env, err := c.store.seal(c.kind, id, &rec, 1)
	if err != nil {
		return zero, err
	}
	if err := c.store.repo.PutCAS(ctx, c.store.bucket, c.kind, id, 0, env); err != nil {
		if errors.Is(err, storage.ErrCASFailed) {
			return zero, fmt.Errorf("%s/%s: %w", c.kind, id, ErrDuplicate)
		}
		return zero, err
	}
	return rec, nil
}

// CreateAll stores recs in a single batch; either all are written or none.
func (c *Collection[T, P]) CreateAll(ctx context.Context, recs []T) ([]T, error) {
	envs := make([]*storage.Envelope, len(recs))
	for i := range recs {
		if err := c.prepare(&recs[i]); err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
		env, err := c.store.seal(c.kind, P(&recs[i]).meta().ID, &recs[i], 1)
		if err != nil {
			return nil, err
		}
		envs[i] = env
	}
	err := c.store.repo.Batch(ctx, c.store.bucket, func(tx storage.BatchTx) error {
		for i := range recs {
			if err := tx.PutCAS(c.kind, P(&recs[i]).meta().ID, 0, envs[i]); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return recs, nil
}

// Update replaces an existing record. The creation time is preserved and a
// concurrent update is reported as storage.ErrCASFailed.
func (c *Collection[T, P]) Update(ctx context.Context, rec T) (T, error) {
	var zero T
	m := P(&rec).meta()
	existing, version, err := c.load(ctx, m.ID)
	if err != nil {
		return zero, err
	}
	m.CreatedAt = P(&existing).meta().CreatedAt
	m.UpdatedAt = c.store.now().UTC()
	if err := P(&rec).Validate(); err != nil {
		return zero, err
	}
	env, err := c.store.seal(c.kind, m.ID, &rec, version+1)
	if err != nil {
		return zero, err
	}
	if err := c.store.repo.PutCAS(ctx, c.store.bucket, c.kind, m.ID, version, env); err != nil {
		return zero, err
	}
	return rec, nil
}

// Delete removes the record with the given id.
func (c *Collection[T, P]) Delete(ctx context.Context, id string) error {
	return c.store.repo.Delete(ctx, c.store.bucket, c.kind, id)
}

// Clinic bundles the collections used by the desk.
type Clinic struct {
	Users      *Collection[User, *User]
	Patients   *Collection[Patient, *Patient]
	Encounters *Collection[Encounter, *Encounter]
	Expenses   *Collection[Expense, *Expense]
	Incomes    *Collection[Income, *Income]
}

func NewClinic(s *Store) *Clinic {
	return &Clinic{
		Users:      NewCollection[User](s),
		Patients:   NewCollection[Patient](s),
		Encounters: NewCollection[Encounter](s),
		Expenses:   NewCollection[Expense](s),
		Incomes:    NewCollection[Income](s),
	}
}
