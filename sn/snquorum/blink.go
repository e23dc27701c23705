package snquorum

import (
	"errors"
	"fmt"
)

// Blink quorum geometry. Each blink authorization height maps to two
// sub-quorums (Q and Q' in the whitepaper) derived at lagged heights,
// so that membership is already settled well before the transaction
// needs confirmation.
const (
	// NumBlinkSubquorums is the number of sub-quorums per blink height.
	// The code is designed to work with more, but never use a single
	// sub-quorum: that could be secure or reliable, but not both.
	NumBlinkSubquorums = 2

	// BlinkSubquorumSize is the maximum validator count per sub-quorum.
	BlinkSubquorumSize = 10

	// BlinkMinVotes is the minimum validator count for a usable sub-quorum.
	BlinkMinVotes = 7

	// BlinkQuorumInterval is the height granularity of blink quorums.
	BlinkQuorumInterval = 5

	// BlinkQuorumLag is how far behind the authorization height the
	// first sub-quorum's derivation height sits.
	BlinkQuorumLag = 7 * BlinkQuorumInterval
)

// QuorumSet holds the blink sub-quorums for one authorization height.
type QuorumSet [NumBlinkSubquorums]*Quorum

var (
	ErrQuorumUnavailable = errors.New("quorum unavailable")
	ErrChecksumMismatch  = errors.New("quorum checksum mismatch")
)

// BlinkQuorumHeight returns the derivation height of the i'th blink
// sub-quorum for the given authorization height, or 0 if the chain is
// too early to have one.
func BlinkQuorumHeight(blinkHeight uint64, i int) uint64 {
	lag := uint64(BlinkQuorumLag - i*BlinkQuorumInterval)
	base := blinkHeight - blinkHeight%BlinkQuorumInterval
	if base < lag {
		return 0
	}
	return base - lag
}

// BlinkThreshold returns the number of approval signatures required in
// a sub-quorum of size n, scaled from the full-size constants
// (7 approvals of 10 slots).
func BlinkThreshold(n int) int {
	return (n*BlinkMinVotes + BlinkSubquorumSize - 1) / BlinkSubquorumSize
}

// ResolveBlinkQuorums obtains the blink sub-quorums for the given
// authorization height, verifies their sizing, and computes the
// membership checksum. If expected is non-nil the computed checksum
// must match it exactly, otherwise the caller is desynchronized from
// this node's view of membership and must not proceed.
//
// Pure with respect to this module: the only state read is the
// membership service.
func ResolveBlinkQuorums(m Membership, blinkHeight uint64, expected *uint64) (QuorumSet, uint64, error) {
	var qs QuorumSet

	var checksum uint64
	for i := range qs {
		h := BlinkQuorumHeight(blinkHeight, i)
		if h == 0 {
			return qs, 0, fmt.Errorf("%w: too early in blockchain to create a quorum", ErrQuorumUnavailable)
		}
		q, ok := m.Quorum(TypeBlink, h)
		if !ok || q == nil {
			return qs, 0, fmt.Errorf("%w: no blink quorum at height %d", ErrQuorumUnavailable, h)
		}
		if n := len(q.Validators); n < BlinkMinVotes || n > BlinkSubquorumSize {
			return qs, 0, fmt.Errorf(
				"%w: sub-quorum %d has %d validators, want %d-%d",
				ErrQuorumUnavailable, i, n, BlinkMinVotes, BlinkSubquorumSize,
			)
		}
		qs[i] = q
		checksum += Checksum(q.Validators, uint(i*BlinkSubquorumSize))
	}

	if expected != nil && *expected != checksum {
		return qs, 0, fmt.Errorf(
			"%w: expected %d, computed %d", ErrChecksumMismatch, *expected, checksum,
		)
	}

	return qs, checksum, nil
}
