package crypto

import (
	"encoding/hex"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/sha3"
)

const HashSize = 32

// Hash is a 32-byte digest used for request and response commitments.
type Hash [HashSize]byte

// HashData hashes the input data using Blake2b-256.
func HashData(data []byte) Hash {
	return blake2b.Sum256(data)
}

// KeccakData hashes the input data using Keccak-256. EVM state machines
// commit to requests with keccak rather than blake2b.
func KeccakData(data []byte) Hash {
	hash := sha3.NewLegacyKeccak256()
	hash.Write(data)

	var result Hash
	copy(result[:], hash.Sum(nil))
	return result
}

func (h Hash) String() string {
	return "0x" + hex.EncodeToString(h[:])
}

// IsEmpty reports whether the hash is the zero value.
func (h Hash) IsEmpty() bool {
	return h == Hash{}
}
