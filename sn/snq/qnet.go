// Package snq assembles the quorumnet node: it wires the transport,
// the quorum resolver, the blink aggregator, and the pulse relay into
// the command handlers service nodes expose to each other.
package snq

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/quorumnet-engine/quorumnet/qcrypto"
	"github.com/quorumnet-engine/quorumnet/sn/snblink"
	"github.com/quorumnet-engine/quorumnet/sn/snp2p"
	"github.com/quorumnet-engine/quorumnet/sn/snpulse"
	"github.com/quorumnet-engine/quorumnet/sn/snquorum"
	"github.com/quorumnet-engine/quorumnet/sn/sntopo"
	"github.com/quorumnet-engine/quorumnet/sn/snwire"
)

// MempoolAdmission is the external mempool's view of blink
// transactions.
type MempoolAdmission interface {
	// EvaluateBlink runs the node's own validation of a blink tx and
	// reports this node's verdict. Reason explains a rejection.
	EvaluateBlink(ctx context.Context, height uint64, blob []byte) (approve bool, reason string)

	// AdmitApproved hands a quorum-approved blink tx to the mempool.
	AdmitApproved(ctx context.Context, tx *snblink.Tx)
}

// TxParser performs the cheap structural check of a raw transaction,
// gating relay of garbage without running full validation.
type TxParser interface {
	ParseTx(blob []byte) error
}

// VotePool owns obligation votes: verification, dedup, storage.
type VotePool interface {
	// AddVote verifies and stores a vote, reporting whether it was
	// newly added. Known votes return false with no error.
	AddVote(ctx context.Context, vote snwire.ObligationVote) (added bool, err error)
}

// Transport is the outbound surface snq needs from the network layer.
type Transport interface {
	snp2p.Sender
	snp2p.Replier
}

// Announcer publishes approved blink tx hashes beyond the quorum.
type Announcer interface {
	AnnounceApproved(ctx context.Context, data []byte) error
}

// HandlerRegistry accepts command handler registrations.
type HandlerRegistry interface {
	RegisterHandler(cmd string, fn snp2p.HandlerFunc)
}

// Correlator consumes bl.* responses for transactions this node
// submitted itself.
type Correlator interface {
	ResolveGood(tag uint64)
	ResolveBad(tag uint64)
	NoStart(tag uint64, reason string)
}

// Config carries the collaborators a QNet is assembled from. All
// fields are required unless noted.
type Config struct {
	Signer     qcrypto.Signer
	Height     snquorum.ChainHeight
	Membership snquorum.Membership
	Directory  sntopo.Directory
	Mempool    MempoolAdmission
	Parser     TxParser
	Votes      VotePool

	// Pulse receives inbound pulse messages, one at a time. Optional;
	// nil drops pulse traffic.
	Pulse snpulse.Handler

	Transport Transport

	// Announcer is optional; nil disables announcements.
	Announcer Announcer

	// PruneInterval is how often decided blink records past the
	// height window are dropped. Zero means a minute.
	PruneInterval time.Duration
}

// QNet is one service node's quorumnet endpoint set.
type QNet struct {
	log *slog.Logger
	cfg Config

	self qcrypto.PubKey
	agg  *snblink.Aggregator

	dispatch *snpulse.Dispatcher

	mu         sync.Mutex
	correlator Correlator
	stop       context.CancelFunc
	stopped    chan struct{}
}

func New(log *slog.Logger, cfg Config) (*QNet, error) {
	if cfg.Signer == nil {
		return nil, fmt.Errorf("config must include a signer")
	}
	if cfg.Transport == nil {
		return nil, fmt.Errorf("config must include a transport")
	}
	if cfg.PruneInterval == 0 {
		cfg.PruneInterval = time.Minute
	}

	q := &QNet{
		log:  log,
		cfg:  cfg,
		self: cfg.Signer.PubKey(),
		agg:  snblink.NewAggregator(log.With("sys", "blink")),
	}
	if cfg.Pulse != nil {
		q.dispatch = snpulse.NewDispatcher(log.With("sys", "pulse"), cfg.Pulse)
	}
	return q, nil
}

// Aggregator exposes the blink arena, for status reporting.
func (q *QNet) Aggregator() *snblink.Aggregator { return q.agg }

// Register installs every quorumnet command handler on the registry.
// Call before Start.
func (q *QNet) Register(r HandlerRegistry) {
	r.RegisterHandler(snwire.CmdBlinkSubmit, q.handleBlinkSubmit)
	r.RegisterHandler(snwire.CmdBlinkSign, q.handleBlinkSign)
	r.RegisterHandler(snwire.CmdObligationVote, q.handleObligationVote)
	r.RegisterHandler(snwire.CmdTimestamp, q.handleTimestamp)

	r.RegisterHandler(snwire.CmdBlinkGood, q.handleBlinkResponse)
	r.RegisterHandler(snwire.CmdBlinkBad, q.handleBlinkResponse)
	r.RegisterHandler(snwire.CmdBlinkNoStart, q.handleBlinkResponse)

	for _, cmd := range []string{
		snwire.CmdPulseValidatorBit,
		snwire.CmdPulseValidatorBitset,
		snwire.CmdPulseBlockTemplate,
		snwire.CmdPulseRandomValueHash,
		snwire.CmdPulseRandomValue,
		snwire.CmdPulseSignedBlock,
	} {
		r.RegisterHandler(cmd, q.handlePulse)
	}
}

// SetCorrelator routes bl.* responses for locally submitted
// transactions. Optional; without it responses to unknown tags are
// simply dropped.
func (q *QNet) SetCorrelator(c Correlator) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.correlator = c
}

// Start launches the background maintenance loops.
func (q *QNet) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)

	q.mu.Lock()
	q.stop = cancel
	q.stopped = make(chan struct{})
	stopped := q.stopped
	q.mu.Unlock()

	go func() {
		defer close(stopped)
		tick := time.NewTicker(q.cfg.PruneInterval)
		defer tick.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-tick.C:
				height := q.cfg.Height.Height()
				if height > blinkHeightWindow {
					q.agg.Prune(height - blinkHeightWindow)
				}
			}
		}
	}()
}

// Stop halts maintenance and drains the pulse queue.
func (q *QNet) Stop() {
	q.mu.Lock()
	stop, stopped := q.stop, q.stopped
	q.stop, q.stopped = nil, nil
	q.mu.Unlock()

	if stop != nil {
		stop()
		<-stopped
	}
	if q.dispatch != nil {
		q.dispatch.Wait()
	}
}
