package psync

import (
	"hash"

	"github.com/dchest/blake2b"
)

// StrongHash computes the 128-bit content hash used to confirm a weak hit
// and to verify whole-file reconstruction. BLAKE2b's 256-bit digest is
// truncated to the 128 bits the wire format carries.
func StrongHash(p []byte) (out [StrongHashSize]byte) {
	sum := blake2b.Sum256(p)
	copy(out[:], sum[:StrongHashSize])
	return
}

// NewStrongHasher returns a streaming hash.Hash for computing a whole-file
// strong hash incrementally as instructions are applied, instead of
// buffering the reconstructed file in memory to hash it afterward.
func NewStrongHasher() (hash.Hash, error) {
	return blake2b.New256(), nil
}

// truncate256 takes a blake2b-256 digest down to the wire's 128-bit width.
func truncate256(sum []byte) (out [StrongHashSize]byte) {
	copy(out[:], sum[:StrongHashSize])
	return
}
