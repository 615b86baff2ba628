package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcleod/clinicdesk/storage"
	"github.com/jmcleod/clinicdesk/storage/storagetest"
)

func TestSQLiteStorageInMemory(t *testing.T) {
	s, err := Open(":memory:")
	require.NoError(t, err)
	defer s.Close()
	storagetest.Run(t, s)
}

func TestSQLiteStorageOnDisk(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "locals.db")
	s, err := Open(path)
	require.NoError(t, err)
	storagetest.Run(t, s)
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()
	ids, err := s.List(context.Background(), "clinic", "PATIENT")
	require.NoError(t, err)
	assert.Equal(t, []string{"p1", "p2", "p3"}, ids)

	_, err = s.Get(context.Background(), "clinic", "PATIENT", "nope")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}
