package qcrypto

import "context"

// PubKey is the minimal interface for a public key
// identifying a service node within a quorum.
type PubKey interface {
	// PubKeyBytes returns the raw bytes of the public key.
	// For quorum membership purposes the returned slice
	// must always have length [PubKeySize].
	PubKeyBytes() []byte

	Equal(other PubKey) bool

	Verify(msg, sig []byte) bool
}

// Signer is a private key capable of producing signatures
// that verify against its corresponding PubKey.
type Signer interface {
	PubKey() PubKey

	Sign(ctx context.Context, input []byte) ([]byte, error)
}

// PubKeySize is the size of a service node public key.
const PubKeySize = 32
