package qnetdag

// Ring represents a relay graph over positions 0..Size-1 arranged in a
// ring, where each position pushes to the positions at power-of-two
// strides ahead of it: p+1, p+2, p+4, ... (mod Size).
//
// The strides are always distinct positions for a given size,
// and the construction is symmetric: position q appears in
// Outgoing(p) exactly when p appears in Incoming(q), so two
// positions independently computing their own halves of an edge
// always agree that the edge exists.
//
// Methods on Ring use unchecked math; a non-positive size or an
// out-of-range position results in undefined behavior.
type Ring struct {
	// Number of positions in the ring.
	Size int
}

// Outgoing returns the downstream positions the given position
// pushes to. The result never contains pos itself.
func (r Ring) Outgoing(pos int) []int {
	var out []int
	for stride := 1; stride < r.Size; stride *= 2 {
		out = append(out, (pos+stride)%r.Size)
	}
	return out
}

// Incoming returns the upstream positions that push to the given
// position: the mirror image of [Ring.Outgoing].
func (r Ring) Incoming(pos int) []int {
	var in []int
	for stride := 1; stride < r.Size; stride *= 2 {
		in = append(in, ((pos-stride)%r.Size+r.Size)%r.Size)
	}
	return in
}
