package snquorum_test

import (
	"testing"

	"github.com/quorumnet-engine/quorumnet/sn/snquorum"
	"github.com/stretchr/testify/require"
)

type mapMembership map[uint64]*snquorum.Quorum

func (m mapMembership) Quorum(t snquorum.QuorumType, height uint64) (*snquorum.Quorum, bool) {
	if t != snquorum.TypeBlink {
		return nil, false
	}
	q, ok := m[height]
	return q, ok
}

func TestBlinkQuorumHeight(t *testing.T) {
	t.Parallel()

	// Height 100 rounds to 100; lag 35 then 30.
	require.Equal(t, uint64(65), snquorum.BlinkQuorumHeight(100, 0))
	require.Equal(t, uint64(70), snquorum.BlinkQuorumHeight(100, 1))

	// 103 rounds down to 100 first.
	require.Equal(t, uint64(65), snquorum.BlinkQuorumHeight(103, 0))

	// Too early in the chain.
	require.Zero(t, snquorum.BlinkQuorumHeight(30, 0))
}

func TestBlinkThreshold(t *testing.T) {
	t.Parallel()

	require.Equal(t, 7, snquorum.BlinkThreshold(10))
	require.Equal(t, 5, snquorum.BlinkThreshold(7))
	require.Equal(t, 6, snquorum.BlinkThreshold(8))
}

func TestResolveBlinkQuorums(t *testing.T) {
	t.Parallel()

	newQuorum := func(n, off int) *snquorum.Quorum {
		return &snquorum.Quorum{Validators: testKeys(t, n, off)}
	}

	t.Run("happy path and checksum agreement", func(t *testing.T) {
		t.Parallel()

		m := mapMembership{
			65: newQuorum(10, 0),
			70: newQuorum(7, 10),
		}

		qs, sum, err := snquorum.ResolveBlinkQuorums(m, 100, nil)
		require.NoError(t, err)
		require.Len(t, qs[0].Validators, 10)
		require.Len(t, qs[1].Validators, 7)

		want := snquorum.Checksum(qs[0].Validators, 0) +
			snquorum.Checksum(qs[1].Validators, snquorum.BlinkSubquorumSize)
		require.Equal(t, want, sum)

		_, again, err := snquorum.ResolveBlinkQuorums(m, 100, &sum)
		require.NoError(t, err)
		require.Equal(t, sum, again)
	})

	t.Run("checksum mismatch", func(t *testing.T) {
		t.Parallel()

		m := mapMembership{
			65: newQuorum(10, 0),
			70: newQuorum(7, 10),
		}

		bad := uint64(12345)
		_, _, err := snquorum.ResolveBlinkQuorums(m, 100, &bad)
		require.ErrorIs(t, err, snquorum.ErrChecksumMismatch)
	})

	t.Run("missing quorum", func(t *testing.T) {
		t.Parallel()

		m := mapMembership{65: newQuorum(10, 0)}
		_, _, err := snquorum.ResolveBlinkQuorums(m, 100, nil)
		require.ErrorIs(t, err, snquorum.ErrQuorumUnavailable)
	})

	t.Run("undersized quorum", func(t *testing.T) {
		t.Parallel()

		m := mapMembership{
			65: newQuorum(10, 0),
			70: newQuorum(4, 10),
		}
		_, _, err := snquorum.ResolveBlinkQuorums(m, 100, nil)
		require.ErrorIs(t, err, snquorum.ErrQuorumUnavailable)
	})

	t.Run("too early", func(t *testing.T) {
		t.Parallel()

		_, _, err := snquorum.ResolveBlinkQuorums(mapMembership{}, 10, nil)
		require.ErrorIs(t, err, snquorum.ErrQuorumUnavailable)
	})
}
