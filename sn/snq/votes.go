package snq

import (
	"context"
	"time"

	"github.com/quorumnet-engine/quorumnet/sn/snp2p"
	"github.com/quorumnet-engine/quorumnet/sn/snquorum"
	"github.com/quorumnet-engine/quorumnet/sn/sntopo"
	"github.com/quorumnet-engine/quorumnet/sn/snwire"
)

// voteLifetime is how many blocks behind the local height an
// obligation vote stays relayable.
const voteLifetime = 60

func (q *QNet) handleObligationVote(ctx context.Context, msg snp2p.Message) {
	if !msg.FromSN {
		q.log.Debug("Dropping obligation vote from non-SN peer", "from", msg.RemoteID)
		return
	}

	m, err := snwire.DecodeObligationVote(msg.Data)
	if err != nil {
		q.log.Debug("Invalid obligation vote", "from", msg.RemoteID, "err", err)
		return
	}

	local := q.cfg.Height.Height()
	if m.BlockHeight > local+blinkHeightWindow || m.BlockHeight+voteLifetime < local {
		q.log.Debug("Dropping stale obligation vote",
			"vote_height", m.BlockHeight, "local_height", local)
		return
	}

	if q.cfg.Votes == nil {
		return
	}
	added, err := q.cfg.Votes.AddVote(ctx, m)
	if err != nil {
		q.log.Debug("Rejecting obligation vote", "from", msg.RemoteID, "err", err)
		return
	}
	if !added {
		return
	}

	quorum, ok := q.cfg.Membership.Quorum(m.QuorumType, m.BlockHeight)
	if !ok {
		return
	}
	peers := sntopo.Build(q.cfg.Directory, q.self, []*snquorum.Quorum{quorum}, sntopo.BuildOptions{Opportunistic: true})
	if !peers.Participant() {
		return
	}
	q.sendToPeers(ctx, peers, snwire.CmdObligationVote, msg.Data, sntopo.NetID(msg.RemoteID))
}

// handleTimestamp answers a time synchronization query with the local
// unix time.
func (q *QNet) handleTimestamp(ctx context.Context, msg snp2p.Message) {
	data := snwire.EncodeTimestamp(uint64(time.Now().Unix()))
	if err := q.cfg.Transport.Reply(ctx, msg.ConnID, snwire.CmdTimestamp, data); err != nil {
		q.log.Debug("Failed to answer timestamp query", "conn", msg.ConnID, "err", err)
	}
}
