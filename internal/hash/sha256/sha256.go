// Package sha256 provides the content-addressing primitives for the
// deduplication store: SHA-256 digests and digest-derived content IDs.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/google/uuid"
)

// Hasher implements harvest content hashing using SHA-256.
type Hasher struct{}

// New returns a SHA-256 hasher.
func New() *Hasher {
	return &Hasher{}
}

// Hash hashes the input and returns a hex digest.
func (h *Hasher) Hash(data []byte) (string, error) {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// ContentID maps a payload into the fixed-size content identifier space.
// The first 16 digest bytes become a name-based UUID, so the same bytes
// always yield the same ID in any process with no coordination.
func ContentID(data []byte) uuid.UUID {
	sum := sha256.Sum256(data)
	var id uuid.UUID
	copy(id[:], sum[:16])
	id[6] = (id[6] & 0x0f) | 0x50 // version 5 (name-based, SHA)
	id[8] = (id[8] & 0x3f) | 0x80 // RFC 4122 variant
	return id
}
