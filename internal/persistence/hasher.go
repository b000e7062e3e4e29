package persistence

import (
	"crypto/sha256"
	"encoding/binary"
)

// GenesisHashSeed anchors the event-log hash chain of a fresh deployment.
const GenesisHashSeed = "TickVault:genesis:v1"

// StateHasher maintains the event-log hash chain:
// hash[N] = SHA-256(hash[N-1] || sequence || payload).
type StateHasher struct {
	prevHash [32]byte
}

// NewStateHasher starts a chain at the genesis hash.
func NewStateHasher() *StateHasher {
	return &StateHasher{prevHash: sha256.Sum256([]byte(GenesisHashSeed))}
}

// ComputeHash extends the chain by one event and returns the new tip.
func (h *StateHasher) ComputeHash(sequence int64, payload []byte) [32]byte {
	hasher := sha256.New()
	hasher.Write(h.prevHash[:])

	var seqBuf [8]byte
	binary.LittleEndian.PutUint64(seqBuf[:], uint64(sequence))
	hasher.Write(seqBuf[:])

	hasher.Write(payload)

	var hash [32]byte
	copy(hash[:], hasher.Sum(nil))
	h.prevHash = hash
	return hash
}

// PrevHash returns the current chain tip.
func (h *StateHasher) PrevHash() [32]byte {
	return h.prevHash
}

// SetPrevHash re-seeds the chain tip, used when resuming after a restart
// from the last persisted event's hash.
func (h *StateHasher) SetPrevHash(tip []byte) {
	copy(h.prevHash[:], tip)
}
