// Package snsubmit correlates locally submitted blink transactions
// with the responses that eventually come back from quorum entry
// points. A submission fans out to a few quorum members tagged with a
// random correlation value; the matching bl.good / bl.bad / bl.nostart
// responses resolve a future the caller waits on.
package snsubmit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/quorumnet-engine/quorumnet/qcrypto"
	"github.com/quorumnet-engine/quorumnet/sn/snquorum"
	"github.com/quorumnet-engine/quorumnet/sn/sntopo"
	"github.com/quorumnet-engine/quorumnet/sn/snwire"
)

var (
	ErrDuplicateSubmission = errors.New("transaction is already pending submission")
	ErrBusy                = errors.New("too many pending submissions")
)

// Status is the terminal outcome of one submission.
type Status uint8

const (
	StatusAccepted Status = iota
	StatusRejected
	StatusTimeout
)

func (s Status) String() string {
	switch s {
	case StatusAccepted:
		return "accepted"
	case StatusRejected:
		return "rejected"
	case StatusTimeout:
		return "timeout"
	default:
		return "invalid"
	}
}

// Result resolves a submission future. Reason is a human-readable
// explanation for rejections, empty otherwise.
type Result struct {
	Status Status
	Reason string
}

// Submitter delivers a blink submission to one quorum entry point.
type Submitter interface {
	SendBlinkSubmit(ctx context.Context, remote sntopo.Remote, msg snwire.BlinkSubmit) error
}

type Config struct {
	// Capacity bounds the outstanding-submission table; submissions
	// past it fail fast with ErrBusy.
	Capacity int

	// Expiry is how long a submission may stay unresolved before it
	// times out.
	Expiry time.Duration

	// Fanout is how many quorum entry points receive each submission.
	Fanout int
}

func DefaultConfig() Config {
	return Config{
		Capacity: 1000,
		Expiry:   30 * time.Second,
		Fanout:   4,
	}
}

type entry struct {
	hash        qcrypto.Hash
	deadline    time.Time
	remoteCount int
	nostarts    int
	nostartErr  string
	ch          chan Result
	timer       *time.Timer
}

// Correlator tracks outstanding blink submissions by correlation tag.
type Correlator struct {
	log *slog.Logger
	cfg Config

	height     snquorum.ChainHeight
	membership snquorum.Membership
	dir        sntopo.Directory
	sub        Submitter

	mu      sync.RWMutex
	byTag   map[uint64]*entry
	pending map[qcrypto.Hash]uint64
}

func NewCorrelator(
	log *slog.Logger,
	cfg Config,
	height snquorum.ChainHeight,
	membership snquorum.Membership,
	dir sntopo.Directory,
	sub Submitter,
) *Correlator {
	return &Correlator{
		log:        log,
		cfg:        cfg,
		height:     height,
		membership: membership,
		dir:        dir,
		sub:        sub,
		byTag:      make(map[uint64]*entry),
		pending:    make(map[qcrypto.Hash]uint64),
	}
}

// Len reports the number of outstanding submissions.
func (c *Correlator) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.byTag)
}

// Submit fans the raw transaction out to a few reachable quorum entry
// points and returns a future for the outcome. The returned channel
// receives exactly one Result, within the configured expiry.
func (c *Correlator) Submit(ctx context.Context, blob []byte) (<-chan Result, error) {
	c.sweep()

	hash := qcrypto.TxHash(blob)
	authHeight := c.height.Height()

	quorums, checksum, err := snquorum.ResolveBlinkQuorums(c.membership, authHeight, nil)
	if err != nil {
		return nil, fmt.Errorf("submitting blink tx %v: %w", hash, err)
	}

	targets := sntopo.SubsetDestinations(c.dir, quorums[:], c.cfg.Fanout)
	if len(targets) == 0 {
		return nil, fmt.Errorf("submitting blink tx %v: no reachable quorum members", hash)
	}

	// Reserve with the full target count so a nostart racing the send
	// loop can only see too many contacted peers, never too few.
	tag, e, err := c.reserve(hash, len(targets))
	if err != nil {
		return nil, err
	}

	msg := snwire.BlinkSubmit{
		Tag:      tag,
		TxHash:   hash,
		Height:   authHeight,
		Checksum: checksum,
		TxBlob:   blob,
	}

	var sent int
	for _, r := range targets {
		if err := c.sub.SendBlinkSubmit(ctx, r, msg); err != nil {
			c.log.Warn("Failed to send blink submission", "tx", hash, "peer", r.NetID, "err", err)
			continue
		}
		sent++
	}
	if sent == 0 {
		c.remove(tag)
		return nil, fmt.Errorf("submitting blink tx %v: no reachable quorum members", hash)
	}

	c.mu.Lock()
	e.remoteCount = sent
	c.mu.Unlock()

	c.log.Debug("Submitted blink tx", "tx", hash, "tag", tag, "peers", sent)
	return e.ch, nil
}

// reserve allocates a tag and table entry for the submission, arming
// its expiry timer.
func (c *Correlator) reserve(hash qcrypto.Hash, remoteCount int) (uint64, *entry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, dup := c.pending[hash]; dup {
		return 0, nil, ErrDuplicateSubmission
	}
	if len(c.byTag) >= c.cfg.Capacity {
		return 0, nil, ErrBusy
	}

	var tag uint64
	for tag == 0 || c.byTag[tag] != nil {
		tag = rand.Uint64()
	}

	e := &entry{
		hash:        hash,
		deadline:    time.Now().Add(c.cfg.Expiry),
		remoteCount: remoteCount,
		ch:          make(chan Result, 1),
	}
	e.timer = time.AfterFunc(c.cfg.Expiry, func() {
		c.resolve(tag, Result{Status: StatusTimeout})
	})
	c.byTag[tag] = e
	c.pending[hash] = tag
	return tag, e, nil
}

// ResolveGood resolves the tagged submission as accepted. A single
// confirmation suffices: entry points only confirm once quorum
// signatures exist.
func (c *Correlator) ResolveGood(tag uint64) {
	c.resolve(tag, Result{Status: StatusAccepted})
}

// ResolveBad resolves the tagged submission as rejected by the quorum.
func (c *Correlator) ResolveBad(tag uint64) {
	c.resolve(tag, Result{Status: StatusRejected, Reason: "Transaction rejected by quorum"})
}

// NoStart records a bl.nostart from one entry point. A nostart only
// resolves the submission once a strict majority of the contacted
// entry points reported it; a single faulty peer cannot fail an
// otherwise healthy submission.
func (c *Correlator) NoStart(tag uint64, reason string) {
	c.mu.Lock()
	e, ok := c.byTag[tag]
	if !ok {
		c.mu.Unlock()
		return
	}
	e.nostarts++
	if reason != "" {
		e.nostartErr = reason
	}
	majority := e.nostarts > e.remoteCount/2
	reason = e.nostartErr
	c.mu.Unlock()

	if !majority {
		return
	}
	if reason == "" {
		reason = "Transaction submission could not start"
	}
	c.resolve(tag, Result{Status: StatusRejected, Reason: reason})
}

// resolve delivers the result and removes the entry in one exclusive
// section, so each submission resolves at most once.
func (c *Correlator) resolve(tag uint64, res Result) {
	e := c.remove(tag)
	if e == nil {
		return
	}
	e.ch <- res
}

func (c *Correlator) remove(tag uint64) *entry {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.byTag[tag]
	if !ok {
		return nil
	}
	delete(c.byTag, tag)
	delete(c.pending, e.hash)
	if e.timer != nil {
		e.timer.Stop()
	}
	return e
}

// sweep times out entries whose deadline passed, catching anything a
// timer missed.
func (c *Correlator) sweep() {
	now := time.Now()

	c.mu.RLock()
	var expired []uint64
	for tag, e := range c.byTag {
		if now.After(e.deadline) {
			expired = append(expired, tag)
		}
	}
	c.mu.RUnlock()

	for _, tag := range expired {
		c.resolve(tag, Result{Status: StatusTimeout})
	}
}
