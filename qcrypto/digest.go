package qcrypto

import (
	"fmt"

	"golang.org/x/crypto/blake2b"
)

const (
	// HashSize is the size of transaction and block hashes.
	HashSize = 32

	// SignatureSize is the size of a quorum member signature.
	SignatureSize = 64
)

// Hash is a fixed-size digest, usable as a map key.
type Hash [HashSize]byte

func HashFromBytes(b []byte) (Hash, error) {
	var h Hash
	if len(b) != HashSize {
		return h, fmt.Errorf("invalid hash size: got %d, want %d", len(b), HashSize)
	}
	copy(h[:], b)
	return h, nil
}

func (h Hash) String() string {
	return fmt.Sprintf("%x", h[:])
}

// Signature is a fixed-size raw signature.
type Signature [SignatureSize]byte

func SignatureFromBytes(b []byte) (Signature, error) {
	var s Signature
	if len(b) != SignatureSize {
		return s, fmt.Errorf("invalid signature size: got %d, want %d", len(b), SignatureSize)
	}
	copy(s[:], b)
	return s, nil
}

func (s Signature) IsZero() bool {
	return s == Signature{}
}

// TxHash computes the canonical hash of a raw transaction blob.
func TxHash(blob []byte) Hash {
	return blake2b.Sum256(blob)
}

// BlinkSignPayload derives the message a quorum member signs to approve
// or reject a blink transaction. Approval and rejection payloads differ,
// so a signature for one can never be replayed as the other.
func BlinkSignPayload(txHash Hash, approved bool) []byte {
	flag := byte(0)
	if approved {
		flag = 1
	}

	h, _ := blake2b.New256(nil)
	h.Write(txHash[:])
	h.Write([]byte{flag})
	return h.Sum(nil)
}
