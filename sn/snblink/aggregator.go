package snblink

import (
	"log/slog"
	"sync"

	"github.com/puzpuzpuz/xsync/v4"

	"github.com/quorumnet-engine/quorumnet/qcrypto"
	"github.com/quorumnet-engine/quorumnet/sn/snquorum"
)

type txKey struct {
	height uint64
	hash   qcrypto.Hash
}

// ReplyRoute records where the original submitter of a blink tx can be
// reached: the connection that carried the submission and the
// correlation tag to echo.
type ReplyRoute struct {
	ConnID string
	Tag    uint64
}

// record is the arena entry for one (height, hash). The tx pointer is
// nil while only signatures have arrived; pending holds those early
// signatures until the tx itself shows up.
type record struct {
	mu      sync.Mutex
	tx      *Tx
	pending []Signature
	route   *ReplyRoute
}

// Aggregator owns the arena of in-flight blink transactions and runs
// signature ingestion against them. The arena is a concurrent map so
// unrelated transactions never contend; per-record state is guarded by
// the record's own lock.
type Aggregator struct {
	log *slog.Logger

	arena *xsync.Map[txKey, *record]
}

func NewAggregator(log *slog.Logger) *Aggregator {
	return &Aggregator{
		log:   log,
		arena: xsync.NewMap[txKey, *record](),
	}
}

func (a *Aggregator) get(height uint64, hash qcrypto.Hash) *record {
	rec, _ := a.arena.LoadOrStore(txKey{height: height, hash: hash}, &record{})
	return rec
}

// Lookup returns the tx under aggregation at (height, hash), if its
// body is known.
func (a *Aggregator) Lookup(height uint64, hash qcrypto.Hash) (*Tx, bool) {
	rec, ok := a.arena.Load(txKey{height: height, hash: hash})
	if !ok {
		return nil, false
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.tx, rec.tx != nil
}

// Register stores a newly arrived tx in the arena, records the
// submitter reply route if one was provided, and drains any signatures
// that were buffered for it before it arrived. Tx and route land under
// the same lock: a signature driving the tx terminal right after
// registration always finds the route. If the tx was already
// registered, the existing one is returned instead, the given tx and
// route are discarded, and the caller decides how to answer.
func (a *Aggregator) Register(tx *Tx, route *ReplyRoute) (pending []Signature, existing *Tx) {
	rec := a.get(tx.Height(), tx.Hash())
	rec.mu.Lock()
	defer rec.mu.Unlock()

	if rec.tx != nil {
		return nil, rec.tx
	}
	rec.tx = tx
	if route != nil && rec.route == nil {
		r := *route
		rec.route = &r
	}
	pending = rec.pending
	rec.pending = nil
	return pending, nil
}

// Buffer stores signatures that arrived before their tx. If the tx
// turned out to be registered concurrently, nothing is buffered and
// the tx is returned so the caller can ingest directly.
func (a *Aggregator) Buffer(height uint64, hash qcrypto.Hash, sigs []Signature) *Tx {
	rec := a.get(height, hash)
	rec.mu.Lock()
	defer rec.mu.Unlock()

	if rec.tx != nil {
		return rec.tx
	}
	rec.pending = append(rec.pending, sigs...)
	return nil
}

// StashRoute records the submitter reply route for a tx, keeping the
// first stashed route if one is already present.
func (a *Aggregator) StashRoute(height uint64, hash qcrypto.Hash, route ReplyRoute) {
	rec := a.get(height, hash)
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.route == nil {
		rec.route = &route
	}
}

// TakeRoute removes and returns the stashed submitter route, so the
// terminal reply goes out at most once.
func (a *Aggregator) TakeRoute(height uint64, hash qcrypto.Hash) (ReplyRoute, bool) {
	rec, ok := a.arena.Load(txKey{height: height, hash: hash})
	if !ok {
		return ReplyRoute{}, false
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.route == nil {
		return ReplyRoute{}, false
	}
	route := *rec.route
	rec.route = nil
	return route, true
}

// Prune drops every record whose authorization height is below the
// given height. Called as the chain advances; decided transactions
// past the height window no longer need their state.
func (a *Aggregator) Prune(belowHeight uint64) int {
	var dropped int
	a.arena.Range(func(k txKey, _ *record) bool {
		if k.height < belowHeight {
			a.arena.Delete(k)
			dropped++
		}
		return true
	})
	if dropped > 0 {
		a.log.Debug("Pruned blink records", "below_height", belowHeight, "count", dropped)
	}
	return dropped
}

// Len reports the number of arena records, known and pending alike.
func (a *Aggregator) Len() int {
	return a.arena.Size()
}

// Ingest runs the three-phase signature pipeline against tx:
// a shared-lock structural filter, cryptographic verification with no
// lock held, then one atomic application. quorums must be the same
// sub-quorums the tx was created against.
func (a *Aggregator) Ingest(tx *Tx, quorums snquorum.QuorumSet, sigs []Signature) ApplyResult {
	candidates := tx.FilterNew(sigs)
	if len(candidates) == 0 {
		return ApplyResult{}
	}

	verified := make([]Signature, 0, len(candidates))
	for _, s := range candidates {
		key := quorums[s.Subquorum].Validators[s.Position]
		payload := qcrypto.BlinkSignPayload(tx.Hash(), s.Approval)
		if !key.Verify(payload, s.Signature[:]) {
			a.log.Warn(
				"Invalid blink signature",
				"tx", tx.Hash(),
				"subquorum", s.Subquorum,
				"position", s.Position,
			)
			continue
		}
		verified = append(verified, s)
	}
	if len(verified) == 0 {
		return ApplyResult{}
	}

	return tx.Apply(verified)
}
