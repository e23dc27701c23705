package qcryptotest

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/binary"
	"sync"

	"github.com/quorumnet-engine/quorumnet/qcrypto"
)

var (
	detSignersMu sync.Mutex
	detSigners   []qcrypto.Ed25519Signer
)

// DeterministicEd25519Signers returns a deterministic set of n signers.
//
// Deterministic keys keep logs involving keys stable across test runs,
// and the generated keys are cached so repeated calls cost nothing
// beyond the first.
func DeterministicEd25519Signers(n int) []qcrypto.Ed25519Signer {
	detSignersMu.Lock()
	defer detSignersMu.Unlock()

	for i := len(detSigners); i < n; i++ {
		seed := sha256.Sum256(binary.BigEndian.AppendUint64([]byte("quorumnet-det-signer-"), uint64(i)))
		priv := ed25519.NewKeyFromSeed(seed[:])
		detSigners = append(detSigners, qcrypto.NewEd25519Signer(priv))
	}

	out := make([]qcrypto.Ed25519Signer, n)
	copy(out, detSigners[:n])
	return out
}

// DeterministicPubKeys returns the public keys of the first n
// deterministic signers.
func DeterministicPubKeys(n int) []qcrypto.PubKey {
	signers := DeterministicEd25519Signers(n)
	keys := make([]qcrypto.PubKey, n)
	for i, s := range signers {
		keys[i] = s.PubKey()
	}
	return keys
}
