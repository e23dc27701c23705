package snq

import (
	"context"
	"fmt"

	"github.com/quorumnet-engine/quorumnet/qcrypto"
	"github.com/quorumnet-engine/quorumnet/sn/snp2p"
	"github.com/quorumnet-engine/quorumnet/sn/snpulse"
	"github.com/quorumnet-engine/quorumnet/sn/snquorum"
	"github.com/quorumnet-engine/quorumnet/sn/sntopo"
	"github.com/quorumnet-engine/quorumnet/sn/snwire"
)

func (q *QNet) pulseQuorum() (*snquorum.Quorum, bool) {
	return q.cfg.Membership.Quorum(snquorum.TypePulse, q.cfg.Height.Height())
}

func isWorker(quorum *snquorum.Quorum, key qcrypto.PubKey) bool {
	for _, w := range quorum.Workers {
		if w.Equal(key) {
			return true
		}
	}
	return false
}

func (q *QNet) handlePulse(ctx context.Context, msg snp2p.Message) {
	if !msg.FromSN {
		q.log.Debug("Dropping pulse message from non-SN peer", "cmd", msg.Cmd, "from", msg.RemoteID)
		return
	}

	m, err := snwire.DecodePulseMessage(msg.Cmd, msg.Data)
	if err != nil {
		q.log.Debug("Invalid pulse message", "cmd", msg.Cmd, "from", msg.RemoteID, "err", err)
		return
	}

	quorum, ok := q.pulseQuorum()
	if !ok {
		q.log.Debug("No pulse quorum at current height", "cmd", msg.Cmd)
		return
	}

	pos := quorum.Position(q.self)
	if pos < 0 && !isWorker(quorum, q.self) {
		q.log.Debug("Dropping pulse message: not a pulse quorum member", "cmd", msg.Cmd)
		return
	}

	// Validators relay onward; the block producer only consumes.
	if pos >= 0 {
		peers := snpulse.MemberPeers(q.cfg.Directory, quorum, q.self, m)
		q.sendToPeers(ctx, peers, msg.Cmd, msg.Data, sntopo.NetID(msg.RemoteID))
	}

	if q.dispatch != nil {
		q.dispatch.Enqueue(ctx, m)
	}
}

// SendPulse originates a pulse stage message from this node. The block
// template fans out from the producer to a few entry validators;
// every other stage relays through the validator ring.
func (q *QNet) SendPulse(ctx context.Context, m snwire.PulseMessage) error {
	quorum, ok := q.pulseQuorum()
	if !ok {
		return fmt.Errorf("no pulse quorum at current height")
	}

	data, err := m.Encode()
	if err != nil {
		return fmt.Errorf("encoding %s: %w", m.Kind.Command(), err)
	}

	if m.Kind == snwire.PulseBlockTemplate {
		remotes := snpulse.ProducerPeers(q.cfg.Directory, quorum)
		if len(remotes) == 0 {
			return fmt.Errorf("no reachable pulse validators")
		}
		for _, r := range remotes {
			if err := q.cfg.Transport.SendStrong(ctx, string(r.NetID), r.ConnectAddr, m.Kind.Command(), data); err != nil {
				q.log.Debug("Failed to send block template", "peer", r.NetID, "err", err)
			}
		}
		return nil
	}

	peers := snpulse.MemberPeers(q.cfg.Directory, quorum, q.self, m)
	if !peers.Participant() {
		return fmt.Errorf("not a pulse quorum validator")
	}
	q.sendToPeers(ctx, peers, m.Kind.Command(), data, "")
	return nil
}
