package icrypto

import (
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// BucketKeyLength is the size of a derived bucket key: an AES-256 key.
const BucketKeyLength = 32

const bucketKeyInfo = "clinicdesk:bucket-key:v1"

// DeriveBucketKey derives the record sealing key of one bucket from the
// installation data key. The bucket name is the HKDF salt.
func DeriveBucketKey(dataKey []byte, bucket string) ([]byte, error) {
	r := hkdf.New(sha256.New, dataKey, []byte(bucket), []byte(bucketKeyInfo))
	key := make([]byte, BucketKeyLength)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("deriving bucket key: %w", err)
	}
	return key, nil
}
