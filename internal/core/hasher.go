package core

import (
	"crypto/sha256"
	"encoding/binary"
)

const GenesisHashSeed = "MangoCache:genesis:v1"

// StateHasher chains a hash over every cache image the engine produces:
//
//	hash[N] = SHA-256(hash[N-1] || sequence LE || image[N])
//
// Two replicas that applied the same events in the same order hold the
// same chain tip.
type StateHasher struct {
	prevHash [32]byte
}

func NewStateHasher() *StateHasher {
	return &StateHasher{prevHash: GenesisHash()}
}

func GenesisHash() [32]byte {
	return sha256.Sum256([]byte(GenesisHashSeed))
}

// ComputeHash extends the chain with the image produced at sequence.
func (h *StateHasher) ComputeHash(sequence int64, image []byte) [32]byte {
	hasher := sha256.New()
	hasher.Write(h.prevHash[:])

	var seqBuf [8]byte
	binary.LittleEndian.PutUint64(seqBuf[:], uint64(sequence))
	hasher.Write(seqBuf[:])
	hasher.Write(image)

	var hash [32]byte
	copy(hash[:], hasher.Sum(nil))
	h.prevHash = hash
	return hash
}

// Reset moves the chain tip, used when restoring a snapshot.
func (h *StateHasher) Reset(tip [32]byte) {
	h.prevHash = tip
}

func (h *StateHasher) GetPrevHash() [32]byte {
	return h.prevHash
}
