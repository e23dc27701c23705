package main

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"

	"github.com/quorumnet-engine/quorumnet/qcrypto"
	"github.com/quorumnet-engine/quorumnet/sn/snquorum"
	"github.com/quorumnet-engine/quorumnet/sn/sntopo"
)

// rosterNode is one registered service node in a devnet roster file.
type rosterNode struct {
	// PubKey is the node's hex-encoded ed25519 public key.
	PubKey string `json:"pubkey"`

	// NetID is the node's libp2p peer ID.
	NetID string `json:"net_id"`

	// Addr is a dialable multiaddr, including the /p2p/ component.
	Addr string `json:"addr"`

	// Version orders peers when picking submission entry points;
	// newer is preferred.
	Version uint32 `json:"version,omitempty"`
}

type rosterFile struct {
	Nodes []rosterNode `json:"nodes"`
}

// roster is a static devnet service node list. It stands in for the
// registration state a full node would read from its blockchain,
// serving as membership source, peer directory, and peer recognizer.
//
// Quorums rotate deterministically through the roster by height, so
// every node that loads the same file agrees on every quorum.
type roster struct {
	keys   []qcrypto.PubKey
	byKey  map[string]sntopo.Remote
	netIDs map[string]struct{}
}

func loadRoster(path string) (*roster, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading roster: %w", err)
	}

	var f rosterFile
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parsing roster %s: %w", path, err)
	}
	if len(f.Nodes) == 0 {
		return nil, fmt.Errorf("roster %s has no nodes", path)
	}

	r := &roster{
		byKey:  make(map[string]sntopo.Remote, len(f.Nodes)),
		netIDs: make(map[string]struct{}, len(f.Nodes)),
	}
	for i, n := range f.Nodes {
		kb, err := hex.DecodeString(n.PubKey)
		if err != nil {
			return nil, fmt.Errorf("roster node %d: invalid pubkey: %w", i, err)
		}
		key, err := qcrypto.NewEd25519PubKey(kb)
		if err != nil {
			return nil, fmt.Errorf("roster node %d: %w", i, err)
		}
		ks := string(key.PubKeyBytes())
		if _, dup := r.byKey[ks]; dup {
			return nil, fmt.Errorf("roster node %d: duplicate pubkey %s", i, n.PubKey)
		}
		r.keys = append(r.keys, key)
		r.byKey[ks] = sntopo.Remote{
			NetID:       sntopo.NetID(n.NetID),
			ConnectAddr: n.Addr,
			Version:     n.Version,
		}
		if n.NetID != "" {
			r.netIDs[n.NetID] = struct{}{}
		}
	}
	return r, nil
}

// Lookup implements sntopo.Directory.
func (r *roster) Lookup(keys []qcrypto.PubKey) map[string]sntopo.Remote {
	out := make(map[string]sntopo.Remote, len(keys))
	for _, k := range keys {
		ks := string(k.PubKeyBytes())
		if rem, ok := r.byKey[ks]; ok {
			out[ks] = rem
		}
	}
	return out
}

// Recognize reports whether a remote network identity belongs to a
// roster node.
func (r *roster) Recognize(remoteID string) bool {
	_, ok := r.netIDs[remoteID]
	return ok
}

// Quorum implements snquorum.Membership: validators are a
// height-rotated window over the roster, and pulse quorums take the
// next roster node as the round's block producer.
func (r *roster) Quorum(t snquorum.QuorumType, height uint64) (*snquorum.Quorum, bool) {
	n := len(r.keys)
	if n == 0 {
		return nil, false
	}

	size := snquorum.BlinkSubquorumSize
	if size > n {
		size = n
	}

	start := int(height % uint64(n))
	q := &snquorum.Quorum{Validators: make([]qcrypto.PubKey, size)}
	for i := 0; i < size; i++ {
		q.Validators[i] = r.keys[(start+i)%n]
	}
	if t == snquorum.TypePulse {
		q.Workers = []qcrypto.PubKey{r.keys[(start+size)%n]}
	}
	return q, true
}
