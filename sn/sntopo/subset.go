package sntopo

import (
	"math/rand/v2"
	"sort"

	"github.com/quorumnet-engine/quorumnet/qcrypto"
	"github.com/quorumnet-engine/quorumnet/sn/snquorum"
)

// SubsetDestinations picks up to n reachable validators across the
// given quorums to seed a relay: the submitter (or block producer)
// sends to a few entry points and lets in-quorum relaying propagate the
// rest of the way.
//
// Candidates are shuffled and then stable-sorted by descending version,
// preferring peers with newer network fixes while keeping ties in
// random order.
func SubsetDestinations(dir Directory, quorums []*snquorum.Quorum, n int) []Remote {
	var candidates []qcrypto.PubKey
	seen := make(KeySet)
	for _, q := range quorums {
		for _, v := range q.Validators {
			ks := string(v.PubKeyBytes())
			if _, ok := seen[ks]; ok {
				continue
			}
			seen[ks] = struct{}{}
			candidates = append(candidates, v)
		}
	}

	resolved := dir.Lookup(candidates)
	remotes := make([]Remote, 0, len(resolved))
	for _, r := range resolved {
		remotes = append(remotes, r)
	}

	// Map iteration order is already random, but not uniformly so;
	// shuffle explicitly before the version sort.
	rand.Shuffle(len(remotes), func(i, j int) {
		remotes[i], remotes[j] = remotes[j], remotes[i]
	})
	sort.SliceStable(remotes, func(i, j int) bool {
		return remotes[i].Version > remotes[j].Version
	})

	if len(remotes) > n {
		remotes = remotes[:n]
	}
	return remotes
}
