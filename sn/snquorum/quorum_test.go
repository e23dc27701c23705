package snquorum_test

import (
	"testing"

	"github.com/quorumnet-engine/quorumnet/qcrypto"
	"github.com/quorumnet-engine/quorumnet/qcrypto/qcryptotest"
	"github.com/quorumnet-engine/quorumnet/sn/snquorum"
	"github.com/stretchr/testify/require"
)

// testKeys returns n deterministic keys starting at index off.
func testKeys(t *testing.T, n, off int) []qcrypto.PubKey {
	t.Helper()
	return qcryptotest.DeterministicPubKeys(n + off)[off:]
}

func TestQuorum_Position(t *testing.T) {
	t.Parallel()

	keys := qcryptotest.DeterministicPubKeys(6)
	q := &snquorum.Quorum{Validators: keys[:5]}

	require.Equal(t, 0, q.Position(keys[0]))
	require.Equal(t, 4, q.Position(keys[4]))
	require.Equal(t, -1, q.Position(keys[5]))
}
