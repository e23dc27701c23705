// Package snpulse routes pulse block-production messages between the
// members of a pulse quorum and funnels inbound messages into a
// single-threaded dispatch queue for the round engine.
package snpulse

import (
	"fmt"

	"github.com/bits-and-blooms/bitset"

	"github.com/quorumnet-engine/quorumnet/qcrypto"
	"github.com/quorumnet-engine/quorumnet/sn/snquorum"
	"github.com/quorumnet-engine/quorumnet/sn/sntopo"
	"github.com/quorumnet-engine/quorumnet/sn/snwire"
)

// ProducerFanout is how many validators the block producer seeds
// directly; in-quorum relaying covers the rest.
const ProducerFanout = 4

// ValidatorBitset expands the wire bitset into per-position bits.
func ValidatorBitset(u uint16) *bitset.BitSet {
	b := bitset.New(16)
	for i := range uint(16) {
		if u&(1<<i) != 0 {
			b.Set(i)
		}
	}
	return b
}

// BitsetUint16 packs per-position participation bits for the wire. The
// bitset must not have bits past position 15.
func BitsetUint16(b *bitset.BitSet) (uint16, error) {
	var u uint16
	for i, ok := b.NextSet(0); ok; i, ok = b.NextSet(i + 1) {
		if i > 15 {
			return 0, fmt.Errorf("validator bit %d does not fit the wire bitset", i)
		}
		u |= 1 << i
	}
	return u, nil
}

// handshakeClass reports whether msg is part of the participation
// handshake. Handshake relays skip the originating validator, which by
// definition already has its own bit.
func handshakeClass(k snwire.PulseKind) bool {
	return k == snwire.PulseValidatorBit || k == snwire.PulseValidatorBitset
}

// ProducerPeers picks the entry points for a message originated by the
// block producer, who is not a validator and so has no ring position.
func ProducerPeers(dir sntopo.Directory, q *snquorum.Quorum) []sntopo.Remote {
	return sntopo.SubsetDestinations(dir, []*snquorum.Quorum{q}, ProducerFanout)
}

// MemberPeers computes the relay targets for msg from a validator's
// position in the pulse quorum. Bitset messages also target the
// quorum's workers, so the block producer learns which validators are
// participating.
func MemberPeers(
	dir sntopo.Directory,
	q *snquorum.Quorum,
	self qcrypto.PubKey,
	msg snwire.PulseMessage,
) *sntopo.Peers {
	opts := sntopo.BuildOptions{
		Opportunistic:  true,
		IncludeWorkers: msg.Kind == snwire.PulseValidatorBitset,
	}
	if handshakeClass(msg.Kind) && msg.Position >= 0 && msg.Position < len(q.Validators) {
		opts.Exclude = sntopo.NewKeySet(q.Validators[msg.Position])
	}
	return sntopo.Build(dir, self, []*snquorum.Quorum{q}, opts)
}
