package snpulse_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/bits-and-blooms/bitset"
	"github.com/neilotoole/slogt"
	"github.com/stretchr/testify/require"

	"github.com/quorumnet-engine/quorumnet/qcrypto"
	"github.com/quorumnet-engine/quorumnet/qcrypto/qcryptotest"
	"github.com/quorumnet-engine/quorumnet/sn/snpulse"
	"github.com/quorumnet-engine/quorumnet/sn/snquorum"
	"github.com/quorumnet-engine/quorumnet/sn/sntopo"
	"github.com/quorumnet-engine/quorumnet/sn/snwire"
)

type fullDirectory struct{}

func (fullDirectory) Lookup(keys []qcrypto.PubKey) map[string]sntopo.Remote {
	out := make(map[string]sntopo.Remote, len(keys))
	for _, k := range keys {
		ks := string(k.PubKeyBytes())
		out[ks] = sntopo.Remote{
			NetID:       sntopo.NetID(ks),
			ConnectAddr: fmt.Sprintf("tcp://10.0.0.1:%x", ks[:2]),
		}
	}
	return out
}

func pulseQuorum(t *testing.T, validators, workers int) *snquorum.Quorum {
	t.Helper()
	keys := qcryptotest.DeterministicPubKeys(validators + workers)
	return &snquorum.Quorum{
		Validators: keys[:validators],
		Workers:    keys[validators:],
	}
}

func TestBitset_RoundTrip(t *testing.T) {
	t.Parallel()

	u := uint16(0b1010_0000_0110_0101)
	b := snpulse.ValidatorBitset(u)
	require.True(t, b.Test(0))
	require.False(t, b.Test(1))
	require.True(t, b.Test(2))
	require.True(t, b.Test(15))

	back, err := snpulse.BitsetUint16(b)
	require.NoError(t, err)
	require.Equal(t, u, back)
}

func TestBitsetUint16_Overflow(t *testing.T) {
	t.Parallel()

	b := bitset.New(20)
	b.Set(16)
	_, err := snpulse.BitsetUint16(b)
	require.ErrorContains(t, err, "does not fit")
}

func TestMemberPeers_HandshakeExcludesOrigin(t *testing.T) {
	t.Parallel()

	q := pulseQuorum(t, 11, 1)
	self := q.Validators[0]

	msg := snwire.PulseMessage{Kind: snwire.PulseValidatorBit, Round: 1, Position: 2}
	p := snpulse.MemberPeers(fullDirectory{}, q, self, msg)
	require.True(t, p.Participant())

	originID := sntopo.NetID(q.Validators[2].PubKeyBytes())
	_, ok := p.Targets[originID]
	require.False(t, ok, "handshake origin must not be a relay target")

	// A non-handshake stage from the same position keeps the origin.
	msg = snwire.PulseMessage{Kind: snwire.PulseRandomValue, Round: 1, Position: 2}
	p = snpulse.MemberPeers(fullDirectory{}, q, self, msg)
	_, ok = p.Targets[originID]
	require.True(t, ok)
}

func TestMemberPeers_BitsetIncludesWorkers(t *testing.T) {
	t.Parallel()

	q := pulseQuorum(t, 11, 1)
	self := q.Validators[3]
	producerID := sntopo.NetID(q.Workers[0].PubKeyBytes())

	msg := snwire.PulseMessage{Kind: snwire.PulseValidatorBitset, Round: 0, Position: 5}
	p := snpulse.MemberPeers(fullDirectory{}, q, self, msg)
	addr, ok := p.Targets[producerID]
	require.True(t, ok, "bitset relay must reach the block producer")
	require.NotEmpty(t, addr)

	msg = snwire.PulseMessage{Kind: snwire.PulseValidatorBit, Round: 0, Position: 5}
	p = snpulse.MemberPeers(fullDirectory{}, q, self, msg)
	_, ok = p.Targets[producerID]
	require.False(t, ok)
}

func TestProducerPeers_Fanout(t *testing.T) {
	t.Parallel()

	q := pulseQuorum(t, 11, 1)
	remotes := snpulse.ProducerPeers(fullDirectory{}, q)
	require.Len(t, remotes, snpulse.ProducerFanout)
}

type recordingHandler struct {
	rounds []uint8
}

func (h *recordingHandler) HandlePulse(_ context.Context, msg snwire.PulseMessage) {
	h.rounds = append(h.rounds, msg.Round)
}

func TestDispatcher_SerializesInOrder(t *testing.T) {
	t.Parallel()

	h := &recordingHandler{}
	d := snpulse.NewDispatcher(slogt.New(t), h)

	ctx := context.Background()
	for i := range 50 {
		d.Enqueue(ctx, snwire.PulseMessage{Kind: snwire.PulseValidatorBit, Round: uint8(i)})
	}
	d.Wait()

	require.Len(t, h.rounds, 50)
	for i, r := range h.rounds {
		require.Equal(t, uint8(i), r)
	}
}

func TestDispatcher_DropsAfterCancel(t *testing.T) {
	t.Parallel()

	h := &recordingHandler{}
	d := snpulse.NewDispatcher(slogt.New(t), h)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	d.Enqueue(ctx, snwire.PulseMessage{Kind: snwire.PulseValidatorBit, Round: 1})
	d.Wait()

	require.Empty(t, h.rounds)
}
