package snquorum

import "github.com/quorumnet-engine/quorumnet/qcrypto"

// QuorumType identifies which duty a quorum was derived for.
type QuorumType uint8

const (
	TypeObligations QuorumType = iota
	TypeCheckpointing
	TypeBlink
	TypePulse
)

func (t QuorumType) String() string {
	switch t {
	case TypeObligations:
		return "obligations"
	case TypeCheckpointing:
		return "checkpointing"
	case TypeBlink:
		return "blink"
	case TypePulse:
		return "pulse"
	default:
		return "invalid"
	}
}

// Quorum is an immutable snapshot of quorum membership at some height.
// Order is semantically significant: positions determine relay topology
// and signature slots. Quorums are produced and owned by the membership
// service; this package only references them.
type Quorum struct {
	Validators []qcrypto.PubKey
	Workers    []qcrypto.PubKey
}

// Position returns the index of key within the validators,
// or -1 if the key is not a validator.
func (q *Quorum) Position(key qcrypto.PubKey) int {
	for i, v := range q.Validators {
		if v.Equal(key) {
			return i
		}
	}
	return -1
}

// Membership is the external service providing quorum snapshots by
// (type, height). A nil quorum or false means no quorum exists there.
type Membership interface {
	Quorum(t QuorumType, height uint64) (*Quorum, bool)
}

// ChainHeight reports the local node's current blockchain height.
type ChainHeight interface {
	Height() uint64
}
