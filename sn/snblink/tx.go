// Package snblink tracks blink transactions through signature
// aggregation: per-transaction signature slots against the two blink
// sub-quorums, the approved/rejected decision, and the arena of
// in-flight transactions keyed by (authorization height, tx hash).
package snblink

import (
	"sync"

	"github.com/bits-and-blooms/bitset"

	"github.com/quorumnet-engine/quorumnet/qcrypto"
	"github.com/quorumnet-engine/quorumnet/sn/snquorum"
)

// Signature is one quorum member's verdict on a blink tx: an approval
// or rejection signed by the validator at Position of Subquorum.
type Signature struct {
	Approval  bool
	Subquorum uint8
	Position  int
	Signature qcrypto.Signature
}

// Status is a blink tx's aggregation state.
type Status uint8

const (
	StatusUndecided Status = iota
	StatusApproved
	StatusRejected
)

func (s Status) String() string {
	switch s {
	case StatusUndecided:
		return "undecided"
	case StatusApproved:
		return "approved"
	case StatusRejected:
		return "rejected"
	default:
		return "invalid"
	}
}

type subquorumSlots struct {
	approvals  *bitset.BitSet
	rejections *bitset.BitSet
	limit      uint
	threshold  uint
}

// Tx is one blink transaction under aggregation. Signature slots are
// sized to the actual sub-quorum validator counts at creation and
// never resized. A Tx decides at most once: once approved or rejected
// it stays there, though late signatures are still recorded so they
// can be relayed onward.
type Tx struct {
	height uint64
	hash   qcrypto.Hash
	blob   []byte

	mu     sync.RWMutex
	subs   [snquorum.NumBlinkSubquorums]subquorumSlots
	status Status
}

// NewTx creates the aggregation state for a blink tx, sizing signature
// slots to the given sub-quorums.
func NewTx(height uint64, hash qcrypto.Hash, blob []byte, quorums snquorum.QuorumSet) *Tx {
	tx := &Tx{
		height: height,
		hash:   hash,
		blob:   blob,
	}
	for i, q := range quorums {
		n := uint(len(q.Validators))
		tx.subs[i] = subquorumSlots{
			approvals:  bitset.New(n),
			rejections: bitset.New(n),
			limit:      n,
			threshold:  uint(snquorum.BlinkThreshold(len(q.Validators))),
		}
	}
	return tx
}

func (tx *Tx) Height() uint64     { return tx.height }
func (tx *Tx) Hash() qcrypto.Hash { return tx.hash }
func (tx *Tx) Blob() []byte       { return tx.blob }

func (tx *Tx) Status() Status {
	tx.mu.RLock()
	defer tx.mu.RUnlock()
	return tx.status
}

func (tx *Tx) Approved() bool { return tx.Status() == StatusApproved }
func (tx *Tx) Rejected() bool { return tx.Status() == StatusRejected }

// slotFilled reports whether the given slot already holds a verdict,
// in either direction. Caller holds tx.mu.
func (tx *Tx) slotFilled(sub uint8, pos uint) bool {
	s := tx.subs[sub]
	return s.approvals.Test(pos) || s.rejections.Test(pos)
}

// FilterNew returns the subset of sigs that could still be newly
// stored: in-range positions whose slot is empty, deduplicated within
// the batch. This is the cheap structural pass taken under a shared
// lock, so callers only pay for cryptographic verification on
// signatures that might matter. Slots can be taken concurrently after
// this returns; Apply rechecks.
func (tx *Tx) FilterNew(sigs []Signature) []Signature {
	tx.mu.RLock()
	defer tx.mu.RUnlock()

	var out []Signature
	seen := make(map[[2]int]struct{}, len(sigs))
	for _, s := range sigs {
		if int(s.Subquorum) >= len(tx.subs) {
			continue
		}
		if s.Position < 0 || uint(s.Position) >= tx.subs[s.Subquorum].limit {
			continue
		}
		k := [2]int{int(s.Subquorum), s.Position}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		if tx.slotFilled(s.Subquorum, uint(s.Position)) {
			continue
		}
		out = append(out, s)
	}
	return out
}

// ApplyResult reports what one Apply call changed.
type ApplyResult struct {
	// Stored holds the signatures that landed in a previously empty
	// slot. Only these are worth relaying onward.
	Stored []Signature

	// BecameApproved / BecameRejected are set when this call caused
	// the tx's single transition into a terminal state.
	BecameApproved bool
	BecameRejected bool
}

// Apply atomically stores the given (already verified) signatures and
// reports whether they caused the tx to decide. Signatures for slots
// filled since FilterNew are skipped.
func (tx *Tx) Apply(sigs []Signature) ApplyResult {
	tx.mu.Lock()
	defer tx.mu.Unlock()

	var res ApplyResult
	for _, s := range sigs {
		if int(s.Subquorum) >= len(tx.subs) {
			continue
		}
		pos := uint(s.Position)
		sub := tx.subs[s.Subquorum]
		if s.Position < 0 || pos >= sub.limit || tx.slotFilled(s.Subquorum, pos) {
			continue
		}
		if s.Approval {
			sub.approvals.Set(pos)
		} else {
			sub.rejections.Set(pos)
		}
		res.Stored = append(res.Stored, s)
	}

	if tx.status != StatusUndecided || len(res.Stored) == 0 {
		return res
	}

	// Approval is checked across all sub-quorums before rejection, so
	// a sub-quorum reaching its threshold wins even if another
	// sub-quorum has become unable to approve.
	for _, sub := range tx.subs {
		if sub.approvals.Count() >= sub.threshold {
			tx.status = StatusApproved
			res.BecameApproved = true
			return res
		}
	}
	for _, sub := range tx.subs {
		// Approval is impossible once too many slots are burned on
		// rejections.
		if sub.limit-sub.rejections.Count() < sub.threshold {
			tx.status = StatusRejected
			res.BecameRejected = true
			return res
		}
	}
	return res
}

// SignatureCount reports how many approval and rejection slots are
// filled across all sub-quorums.
func (tx *Tx) SignatureCount() (approvals, rejections int) {
	tx.mu.RLock()
	defer tx.mu.RUnlock()
	for _, sub := range tx.subs {
		approvals += int(sub.approvals.Count())
		rejections += int(sub.rejections.Count())
	}
	return approvals, rejections
}
