package sntopo

import (
	"github.com/quorumnet-engine/quorumnet/qcrypto"
	"github.com/quorumnet-engine/quorumnet/qnetdag"
	"github.com/quorumnet-engine/quorumnet/sn/snquorum"
)

// NetID is the opaque network-layer identity of a remote node, distinct
// from its quorum membership key.
type NetID string

// Remote describes how to reach a quorum member on the network.
type Remote struct {
	NetID       NetID
	ConnectAddr string

	// Version of the remote's last proof; submission fanout prefers
	// higher versions.
	Version uint32
}

// Directory resolves quorum membership keys to reachable remotes.
// Members that are inactive or have no known address are simply absent
// from the result; that is not an error.
type Directory interface {
	Lookup(keys []qcrypto.PubKey) map[string]Remote
}

// KeySet is a set of membership keys, keyed by raw key bytes.
type KeySet map[string]struct{}

func NewKeySet(keys ...qcrypto.PubKey) KeySet {
	s := make(KeySet, len(keys))
	for _, k := range keys {
		if k != nil {
			s[string(k.PubKeyBytes())] = struct{}{}
		}
	}
	return s
}

// BuildOptions controls peer set construction.
type BuildOptions struct {
	// Opportunistic adds upstream ring peers as weak targets:
	// they receive a relay only over an already-open connection.
	Opportunistic bool

	// Exclude removes members from the peer set entirely, typically
	// because they are known to already have the relayed data.
	// The local node is always excluded.
	Exclude KeySet

	// IncludeWorkers adds the workers of every quorum as strong peers.
	IncludeWorkers bool
}

// Peers is the computed relay target set for the local node across one
// or more quorums.
//
// For fixed inputs the result is deterministic, so two nodes computing
// their own local half of the same logical edge always agree the edge
// exists.
type Peers struct {
	// Targets maps remote network identity to a connection address.
	// An empty address marks a weak (opportunistic) target: send only
	// if a connection is already open. A non-empty address marks a
	// strong target: connect first if needed.
	Targets map[NetID]string

	// StrongCount is the number of Targets with a non-empty address.
	StrongCount int

	// Positions holds the local node's position in each supplied
	// quorum, -1 where absent.
	Positions []int

	// PositionCount is the number of quorums the local node is in.
	PositionCount int

	remotes map[string]Remote
}

// Participant reports whether the local node is a member of any of the
// supplied quorums. A non-participant cannot meaningfully relay.
func (p *Peers) Participant() bool {
	return p.PositionCount > 0
}

// addPeer looks up a membership key in the resolved remotes and adds it
// to Targets. A strong add upgrades an existing weak entry; a weak add
// never downgrades a strong one. Returns true if a new entry was
// created or a weak entry was upgraded.
func (p *Peers) addPeer(key qcrypto.PubKey, strong bool) bool {
	r, ok := p.remotes[string(key.PubKeyBytes())]
	if !ok {
		return false
	}

	addr, have := p.Targets[r.NetID]
	if !have {
		if strong {
			p.Targets[r.NetID] = r.ConnectAddr
			p.StrongCount++
		} else {
			p.Targets[r.NetID] = ""
		}
		return true
	}
	if strong && addr == "" {
		p.Targets[r.NetID] = r.ConnectAddr
		p.StrongCount++
		return true // upgraded weak to strong
	}
	return false
}

// Build computes the relay peer set for self across the given quorums.
//
// Within each quorum the node relays strongly to its downstream ring
// positions and (optionally) weakly to its upstream ones. When multiple
// sub-quorums are supplied in sequence, the back half of each quorum
// bridges strongly to the front half of the next and vice versa, so the
// sub-quorums cross-pollinate without a full bipartite mesh. Bridging
// is skipped for a node that is in both adjacent quorums, since its
// in-quorum relaying already covers the other side.
func Build(dir Directory, self qcrypto.PubKey, quorums []*snquorum.Quorum, opts BuildOptions) *Peers {
	exclude := opts.Exclude
	if exclude == nil {
		exclude = make(KeySet, 1)
	}
	exclude[string(self.PubKeyBytes())] = struct{}{}

	p := &Peers{
		Targets:   make(map[NetID]string),
		Positions: make([]int, 0, len(quorums)),
	}

	// Find the local position in each quorum and gather every other
	// member needing an address lookup, so the directory is consulted
	// only once.
	var need []qcrypto.PubKey
	seen := make(KeySet)
	collect := func(k qcrypto.PubKey) {
		ks := string(k.PubKeyBytes())
		if _, ok := exclude[ks]; ok {
			return
		}
		if _, ok := seen[ks]; ok {
			return
		}
		seen[ks] = struct{}{}
		need = append(need, k)
	}

	for _, q := range quorums {
		pos := -1
		for i, v := range q.Validators {
			if v.Equal(self) {
				pos = i
			} else {
				collect(v)
			}
		}
		p.Positions = append(p.Positions, pos)
		if pos >= 0 {
			p.PositionCount++
		}

		if opts.IncludeWorkers {
			for _, w := range q.Workers {
				collect(w)
			}
		}
	}

	p.remotes = dir.Lookup(need)

	for i, q := range quorums {
		pos := p.Positions[i]
		if pos < 0 {
			continue
		}

		ring := qnetdag.Ring{Size: len(q.Validators)}
		for _, j := range ring.Outgoing(pos) {
			p.addPeer(q.Validators[j], true)
		}
		if opts.Opportunistic {
			for _, j := range ring.Incoming(pos) {
				p.addPeer(q.Validators[j], false)
			}
		}

		// Bridge to the following quorum: nodes in the back half of
		// this quorum (half = half the smaller quorum's size) relay
		// strongly to the front half of the next. For odd sizes the
		// last position sits out.
		if i+1 < len(quorums) && p.Positions[i+1] < 0 {
			next := quorums[i+1].Validators
			half := min(len(q.Validators), len(next)) / 2
			if pos >= half && pos < half*2 {
				p.addPeer(next[pos-half], true)
			}
		}

		// And the reverse direction: the front half of this quorum
		// relays to the back half of the previous one. Usually this
		// reuses an already-open connection from the other side.
		if i > 0 && p.Positions[i-1] < 0 {
			prev := quorums[i-1].Validators
			half := min(len(q.Validators), len(prev)) / 2
			if pos < half {
				p.addPeer(prev[half+pos], true)
			}
		}
	}

	if opts.IncludeWorkers {
		for _, q := range quorums {
			for _, w := range q.Workers {
				if _, ok := exclude[string(w.PubKeyBytes())]; ok {
					continue
				}
				p.addPeer(w, true)
			}
		}
	}

	return p
}
