package snquorum

import (
	"encoding/binary"

	"github.com/quorumnet-engine/quorumnet/qcrypto"
)

// Checksum calculates a checksum value from the (ordered!) set of
// validator keys to casually test whether two quorums are the same.
// Not meant to be cryptographically secure.
//
// The validator at position p contributes the little-endian uint64 read
// from its key bytes starting at byte (offset+p) mod the key size,
// wrapping around the end of the key; all contributions are summed.
//
// offset allows adding multiple lists together without constructing a
// combined slice: Checksum([a,b,c,d,e], 0) equals
// Checksum([a,b,c], 0) + Checksum([d,e], 3).
func Checksum(validators []qcrypto.PubKey, offset uint) uint64 {
	const keyBytes = qcrypto.PubKeySize

	var sum uint64
	var window [8]byte
	for _, v := range validators {
		offset %= keyBytes
		key := v.PubKeyBytes()
		if offset <= keyBytes-8 {
			copy(window[:], key[offset:offset+8])
		} else {
			prewrap := keyBytes - offset
			copy(window[:prewrap], key[offset:])
			copy(window[prewrap:], key[:8-prewrap])
		}
		sum += binary.LittleEndian.Uint64(window[:])
		offset++
	}
	return sum
}
