package snq

import (
	"context"
	"errors"

	"github.com/quorumnet-engine/quorumnet/qcrypto"
	"github.com/quorumnet-engine/quorumnet/sn/snblink"
	"github.com/quorumnet-engine/quorumnet/sn/snp2p"
	"github.com/quorumnet-engine/quorumnet/sn/snquorum"
	"github.com/quorumnet-engine/quorumnet/sn/sntopo"
	"github.com/quorumnet-engine/quorumnet/sn/snwire"
)

// blinkHeightWindow is how far a submission's authorization height may
// deviate from the local chain height in either direction.
const blinkHeightWindow = 2

// badSubmitReason maps a submission decode failure to the error string
// the submitter expects in its bl.nostart.
func badSubmitReason(err error) string {
	var missing snwire.MissingFieldError
	if errors.As(err, &missing) && missing.Field == "t" {
		return "No transaction included in blink request"
	}
	return "Invalid transaction hash"
}

func (q *QNet) handleBlinkSubmit(ctx context.Context, msg snp2p.Message) {
	m, err := snwire.DecodeBlinkSubmit(msg.Data)

	nostart := func(reason string) {
		q.log.Debug("Could not start blink tx", "tx", m.TxHash, "from", msg.RemoteID, "reason", reason)
		if m.Tag == 0 {
			return
		}
		q.reply(ctx, msg.ConnID, snwire.CmdBlinkNoStart, snwire.BlinkResponse{Tag: m.Tag, Error: reason})
	}

	if err != nil {
		q.log.Debug("Invalid blink submission", "from", msg.RemoteID, "err", err)
		nostart(badSubmitReason(err))
		return
	}

	local := q.cfg.Height.Height()
	if m.Height > local+blinkHeightWindow || m.Height+blinkHeightWindow < local {
		nostart("Invalid blink authorization height")
		return
	}

	if qcrypto.TxHash(m.TxBlob) != m.TxHash {
		nostart("Invalid transaction hash")
		return
	}

	if tx, known := q.agg.Lookup(m.Height, m.TxHash); known {
		q.replyKnown(ctx, msg.ConnID, m.Tag, tx)
		return
	}

	quorums, checksum, err := snquorum.ResolveBlinkQuorums(q.cfg.Membership, m.Height, &m.Checksum)
	if err != nil {
		nostart(err.Error())
		return
	}

	peers := sntopo.Build(q.cfg.Directory, q.self, quorums[:], sntopo.BuildOptions{Opportunistic: true})
	if !peers.Participant() {
		nostart("Not a blink quorum member")
		return
	}
	if peers.StrongCount == 0 {
		nostart("No reachable blink quorum peers")
		return
	}

	if q.cfg.Parser != nil {
		if err := q.cfg.Parser.ParseTx(m.TxBlob); err != nil {
			q.log.Debug("Failed to parse blink tx", "tx", m.TxHash, "err", err)
			nostart("Invalid blink transaction")
			return
		}
	}

	tx := snblink.NewTx(m.Height, m.TxHash, m.TxBlob, quorums)
	var route *snblink.ReplyRoute
	if m.Tag != 0 {
		route = &snblink.ReplyRoute{ConnID: msg.ConnID, Tag: m.Tag}
	}
	pending, existing := q.agg.Register(tx, route)
	if existing != nil {
		q.replyKnown(ctx, msg.ConnID, m.Tag, existing)
		return
	}

	// Relay before any validation beyond the structural parse, so
	// quorum propagation is not serialized behind mempool checks.
	relay := m
	relay.Tag = 0
	if data, err := relay.Encode(); err == nil {
		q.sendToPeers(ctx, peers, snwire.CmdBlinkSubmit, data, sntopo.NetID(msg.RemoteID))
	}

	approve, reason := q.cfg.Mempool.EvaluateBlink(ctx, m.Height, m.TxBlob)
	if !approve {
		q.log.Debug("Rejecting blink tx", "tx", m.TxHash, "reason", reason)
	}

	sigs := pending
	for i, pos := range peers.Positions {
		if pos < 0 {
			continue
		}
		raw, err := q.cfg.Signer.Sign(ctx, qcrypto.BlinkSignPayload(m.TxHash, approve))
		if err != nil {
			q.log.Warn("Failed to sign blink verdict", "tx", m.TxHash, "err", err)
			continue
		}
		sig, err := qcrypto.SignatureFromBytes(raw)
		if err != nil {
			q.log.Warn("Signer produced malformed signature", "tx", m.TxHash, "err", err)
			continue
		}
		sigs = append(sigs, snblink.Signature{
			Approval:  approve,
			Subquorum: uint8(i),
			Position:  pos,
			Signature: sig,
		})
	}

	q.processSignatures(ctx, tx, quorums, checksum, sigs, "")
}

func (q *QNet) handleBlinkSign(ctx context.Context, msg snp2p.Message) {
	if !msg.FromSN {
		q.log.Debug("Dropping blink signatures from non-SN peer", "from", msg.RemoteID)
		return
	}

	m, err := snwire.DecodeBlinkSign(msg.Data)
	if err != nil {
		q.log.Debug("Invalid blink signature message", "from", msg.RemoteID, "err", err)
		return
	}

	quorums, checksum, err := snquorum.ResolveBlinkQuorums(q.cfg.Membership, m.Height, &m.Checksum)
	if err != nil {
		q.log.Debug("Cannot resolve blink quorums for signatures",
			"tx", m.TxHash, "height", m.Height, "err", err)
		return
	}

	sigs := make([]snblink.Signature, len(m.Signatures))
	for i, s := range m.Signatures {
		sigs[i] = snblink.Signature{
			Approval:  s.Approval,
			Subquorum: s.Subquorum,
			Position:  s.Position,
			Signature: s.Signature,
		}
	}

	tx, known := q.agg.Lookup(m.Height, m.TxHash)
	if !known {
		if tx = q.agg.Buffer(m.Height, m.TxHash, sigs); tx == nil {
			q.log.Debug("Buffered signatures for unknown blink tx",
				"tx", m.TxHash, "height", m.Height, "count", len(sigs))
			return
		}
	}

	q.processSignatures(ctx, tx, quorums, checksum, sigs, sntopo.NetID(msg.RemoteID))
}

// processSignatures runs ingestion and its consequences: relaying
// newly stored signatures (skipping the peer they came from), handing
// an approved tx to the mempool, announcing it, and answering the
// original submitter on either terminal transition.
func (q *QNet) processSignatures(
	ctx context.Context,
	tx *snblink.Tx,
	quorums snquorum.QuorumSet,
	checksum uint64,
	sigs []snblink.Signature,
	skip sntopo.NetID,
) {
	res := q.agg.Ingest(tx, quorums, sigs)

	if len(res.Stored) > 0 {
		wire := snwire.BlinkSign{
			TxHash:     tx.Hash(),
			Height:     tx.Height(),
			Checksum:   checksum,
			Signatures: make([]snwire.WireSignature, len(res.Stored)),
		}
		for i, s := range res.Stored {
			wire.Signatures[i] = snwire.WireSignature{
				Approval:  s.Approval,
				Subquorum: s.Subquorum,
				Position:  s.Position,
				Signature: s.Signature,
			}
		}
		if data, err := wire.Encode(); err == nil {
			peers := sntopo.Build(q.cfg.Directory, q.self, quorums[:], sntopo.BuildOptions{Opportunistic: true})
			q.sendToPeers(ctx, peers, snwire.CmdBlinkSign, data, skip)
		}
	}

	switch {
	case res.BecameApproved:
		q.log.Info("Blink tx approved", "tx", tx.Hash(), "height", tx.Height())
		q.cfg.Mempool.AdmitApproved(ctx, tx)
		if q.cfg.Announcer != nil {
			hash := tx.Hash()
			if err := q.cfg.Announcer.AnnounceApproved(ctx, hash[:]); err != nil {
				q.log.Warn("Failed to announce approved blink tx", "tx", tx.Hash(), "err", err)
			}
		}
		q.replyTerminal(ctx, tx, snwire.CmdBlinkGood)
	case res.BecameRejected:
		q.log.Info("Blink tx rejected", "tx", tx.Hash(), "height", tx.Height())
		q.replyTerminal(ctx, tx, snwire.CmdBlinkBad)
	}
}

// replyKnown answers a duplicate submission: immediately when the tx
// already decided, otherwise by stashing the submitter for the
// eventual decision.
func (q *QNet) replyKnown(ctx context.Context, connID string, tag uint64, tx *snblink.Tx) {
	if tag == 0 {
		return
	}
	switch tx.Status() {
	case snblink.StatusApproved:
		q.reply(ctx, connID, snwire.CmdBlinkGood, snwire.BlinkResponse{Tag: tag})
	case snblink.StatusRejected:
		q.reply(ctx, connID, snwire.CmdBlinkBad, snwire.BlinkResponse{Tag: tag})
	default:
		q.agg.StashRoute(tx.Height(), tx.Hash(), snblink.ReplyRoute{ConnID: connID, Tag: tag})
	}
}

func (q *QNet) replyTerminal(ctx context.Context, tx *snblink.Tx, cmd string) {
	route, ok := q.agg.TakeRoute(tx.Height(), tx.Hash())
	if !ok {
		return
	}
	q.reply(ctx, route.ConnID, cmd, snwire.BlinkResponse{Tag: route.Tag})
}

func (q *QNet) reply(ctx context.Context, connID, cmd string, m snwire.BlinkResponse) {
	data, err := m.Encode()
	if err != nil {
		q.log.Warn("Failed to encode response", "cmd", cmd, "err", err)
		return
	}
	if err := q.cfg.Transport.Reply(ctx, connID, cmd, data); err != nil {
		q.log.Debug("Failed to send response", "cmd", cmd, "conn", connID, "err", err)
	}
}

// sendToPeers delivers data to every relay target: dialing strong
// targets, opportunistically using open connections for weak ones.
func (q *QNet) sendToPeers(ctx context.Context, peers *sntopo.Peers, cmd string, data []byte, skip sntopo.NetID) {
	for nid, addr := range peers.Targets {
		if skip != "" && nid == skip {
			continue
		}
		var err error
		if addr == "" {
			err = q.cfg.Transport.SendWeak(ctx, string(nid), cmd, data)
		} else {
			err = q.cfg.Transport.SendStrong(ctx, string(nid), addr, cmd, data)
		}
		if err != nil {
			q.log.Debug("Failed to relay command", "cmd", cmd, "peer", nid, "err", err)
		}
	}
}

// handleBlinkResponse consumes bl.good / bl.bad / bl.nostart for
// transactions this node submitted.
func (q *QNet) handleBlinkResponse(ctx context.Context, msg snp2p.Message) {
	q.mu.Lock()
	c := q.correlator
	q.mu.Unlock()
	if c == nil {
		return
	}

	m, err := snwire.DecodeBlinkResponse(msg.Cmd, msg.Data)
	if err != nil {
		q.log.Debug("Invalid blink response", "cmd", msg.Cmd, "from", msg.RemoteID, "err", err)
		return
	}

	switch msg.Cmd {
	case snwire.CmdBlinkGood:
		c.ResolveGood(m.Tag)
	case snwire.CmdBlinkBad:
		c.ResolveBad(m.Tag)
	case snwire.CmdBlinkNoStart:
		c.NoStart(m.Tag, m.Error)
	}
}
