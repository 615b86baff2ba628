package memory

import (
	"context"
	"testing"

	"github.com/jmcleod/clinicdesk/storage"
	"github.com/jmcleod/clinicdesk/storage/storagetest"
)

func TestMemoryRepository(t *testing.T) {
	storagetest.Run(t, NewRepository())
}

func TestMemoryRepositoryReturnsClones(t *testing.T) {
	repo := NewRepository()
	ctx := context.Background()
	env := &storage.Envelope{Ver: 1, Scheme: "aes256gcm", Nonce: []byte("nonce1234567"), Ciphertext: []byte("c"), Version: 1}
	if err := repo.Put(ctx, "clinic", "PATIENT", "p1", env); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	env.Nonce[0] = 'X'
	got, _ := repo.Get(ctx, "clinic", "PATIENT", "p1")
	if got.Nonce[0] == 'X' {
		t.Error("Put should store a clone of the envelope")
	}

	got.Nonce[1] = 'Y'
	again, _ := repo.Get(ctx, "clinic", "PATIENT", "p1")
	if again.Nonce[1] == 'Y' {
		t.Error("Get should return a clone of the envelope")
	}
}
