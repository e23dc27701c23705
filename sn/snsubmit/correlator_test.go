package snsubmit_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/neilotoole/slogt"
	"github.com/stretchr/testify/require"

	"github.com/quorumnet-engine/quorumnet/qcrypto"
	"github.com/quorumnet-engine/quorumnet/qcrypto/qcryptotest"
	"github.com/quorumnet-engine/quorumnet/sn/snquorum"
	"github.com/quorumnet-engine/quorumnet/sn/snsubmit"
	"github.com/quorumnet-engine/quorumnet/sn/sntopo"
	"github.com/quorumnet-engine/quorumnet/sn/snwire"
)

type fixedHeight uint64

func (h fixedHeight) Height() uint64 { return uint64(h) }

// blinkMembership serves the same two sub-quorums for every blink
// derivation height.
type blinkMembership struct {
	qs snquorum.QuorumSet
}

func (m blinkMembership) Quorum(t snquorum.QuorumType, height uint64) (*snquorum.Quorum, bool) {
	if t != snquorum.TypeBlink {
		return nil, false
	}
	if height == snquorum.BlinkQuorumHeight(100, 0) {
		return m.qs[0], true
	}
	if height == snquorum.BlinkQuorumHeight(100, 1) {
		return m.qs[1], true
	}
	return nil, false
}

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

type emptyDirectory struct{}

func (emptyDirectory) Lookup([]qcrypto.PubKey) map[string]sntopo.Remote { return nil }

// captureSubmitter records every send and can be told to fail some.
type captureSubmitter struct {
	mu    sync.Mutex
	sends []snwire.BlinkSubmit
	fail  func(r sntopo.Remote) bool
}

func (s *captureSubmitter) SendBlinkSubmit(_ context.Context, r sntopo.Remote, msg snwire.BlinkSubmit) error {
	if s.fail != nil && s.fail(r) {
		return fmt.Errorf("connection refused")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sends = append(s.sends, msg)
	return nil
}

func (s *captureSubmitter) tag(t *testing.T) uint64 {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	require.NotEmpty(t, s.sends)
	return s.sends[0].Tag
}

type fixture struct {
	cor *snsubmit.Correlator
	sub *captureSubmitter
}

func newFixture(t *testing.T, cfg snsubmit.Config, dir sntopo.Directory) fixture {
	t.Helper()

	var qs snquorum.QuorumSet
	keys := qcryptotest.DeterministicPubKeys(14)
	qs[0] = &snquorum.Quorum{Validators: keys[:7]}
	qs[1] = &snquorum.Quorum{Validators: keys[7:14]}

	sub := &captureSubmitter{}
	cor := snsubmit.NewCorrelator(
		slogt.New(t), cfg,
		fixedHeight(100), blinkMembership{qs: qs}, dir, sub,
	)
	return fixture{cor: cor, sub: sub}
}

func TestSubmit_FansOutWithTag(t *testing.T) {
	t.Parallel()

	f := newFixture(t, snsubmit.DefaultConfig(), fullDirectory{})

	_, err := f.cor.Submit(context.Background(), []byte("tx-fanout"))
	require.NoError(t, err)

	f.sub.mu.Lock()
	defer f.sub.mu.Unlock()
	require.Len(t, f.sub.sends, 4)
	for _, msg := range f.sub.sends {
		require.NotZero(t, msg.Tag)
		require.Equal(t, f.sub.sends[0].Tag, msg.Tag)
		require.Equal(t, uint64(100), msg.Height)
		require.Equal(t, qcrypto.TxHash([]byte("tx-fanout")), msg.TxHash)
		require.NotZero(t, msg.Checksum)
	}
}

func TestSubmit_GoodResolvesImmediately(t *testing.T) {
	t.Parallel()

	f := newFixture(t, snsubmit.DefaultConfig(), fullDirectory{})

	ch, err := f.cor.Submit(context.Background(), []byte("tx-good"))
	require.NoError(t, err)
	tag := f.sub.tag(t)

	// A pending nostart from one peer does not delay a confirmation.
	f.cor.NoStart(tag, "Invalid blink authorization height")
	select {
	case <-ch:
		t.Fatal("single nostart must not resolve the submission")
	case <-time.After(20 * time.Millisecond):
	}

	f.cor.ResolveGood(tag)
	res := <-ch
	require.Equal(t, snsubmit.StatusAccepted, res.Status)
	require.Zero(t, f.cor.Len())
}

func TestSubmit_MajorityNoStart(t *testing.T) {
	t.Parallel()

	f := newFixture(t, snsubmit.DefaultConfig(), fullDirectory{})

	ch, err := f.cor.Submit(context.Background(), []byte("tx-nostart"))
	require.NoError(t, err)
	tag := f.sub.tag(t)

	// 4 peers contacted: 2 nostarts are not a strict majority.
	f.cor.NoStart(tag, "Invalid blink authorization height")
	f.cor.NoStart(tag, "")
	select {
	case <-ch:
		t.Fatal("half the peers must not resolve the submission")
	case <-time.After(20 * time.Millisecond):
	}

	f.cor.NoStart(tag, "")
	res := <-ch
	require.Equal(t, snsubmit.StatusRejected, res.Status)
	require.Equal(t, "Invalid blink authorization height", res.Reason)

	// A late response for the resolved tag is a no-op.
	f.cor.ResolveGood(tag)
	select {
	case res := <-ch:
		t.Fatalf("resolved twice: %v", res)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestSubmit_BadResolvesRejected(t *testing.T) {
	t.Parallel()

	f := newFixture(t, snsubmit.DefaultConfig(), fullDirectory{})

	ch, err := f.cor.Submit(context.Background(), []byte("tx-bad"))
	require.NoError(t, err)

	f.cor.ResolveBad(f.sub.tag(t))
	res := <-ch
	require.Equal(t, snsubmit.StatusRejected, res.Status)
	require.NotEmpty(t, res.Reason)
}

func TestSubmit_DuplicateAndBusy(t *testing.T) {
	t.Parallel()

	cfg := snsubmit.DefaultConfig()
	cfg.Capacity = 2
	f := newFixture(t, cfg, fullDirectory{})

	_, err := f.cor.Submit(context.Background(), []byte("tx-1"))
	require.NoError(t, err)

	_, err = f.cor.Submit(context.Background(), []byte("tx-1"))
	require.ErrorIs(t, err, snsubmit.ErrDuplicateSubmission)

	_, err = f.cor.Submit(context.Background(), []byte("tx-2"))
	require.NoError(t, err)

	_, err = f.cor.Submit(context.Background(), []byte("tx-3"))
	require.ErrorIs(t, err, snsubmit.ErrBusy)

	// Resolving frees capacity and clears the duplicate guard.
	f.cor.ResolveGood(f.sub.tag(t))
	_, err = f.cor.Submit(context.Background(), []byte("tx-1"))
	require.NoError(t, err)
}

func TestSubmit_Expiry(t *testing.T) {
	t.Parallel()

	cfg := snsubmit.DefaultConfig()
	cfg.Expiry = 30 * time.Millisecond
	f := newFixture(t, cfg, fullDirectory{})

	ch, err := f.cor.Submit(context.Background(), []byte("tx-expire"))
	require.NoError(t, err)

	select {
	case res := <-ch:
		require.Equal(t, snsubmit.StatusTimeout, res.Status)
	case <-time.After(time.Second):
		t.Fatal("submission never timed out")
	}
	require.Zero(t, f.cor.Len())
}

func TestSubmit_NoReachablePeers(t *testing.T) {
	t.Parallel()

	f := newFixture(t, snsubmit.DefaultConfig(), emptyDirectory{})

	_, err := f.cor.Submit(context.Background(), []byte("tx-unreachable"))
	require.ErrorContains(t, err, "no reachable quorum members")
	require.Zero(t, f.cor.Len())
}

func TestSubmit_AllSendsFail(t *testing.T) {
	t.Parallel()

	f := newFixture(t, snsubmit.DefaultConfig(), fullDirectory{})
	f.sub.fail = func(sntopo.Remote) bool { return true }

	_, err := f.cor.Submit(context.Background(), []byte("tx-sendfail"))
	require.ErrorContains(t, err, "no reachable quorum members")
	require.Zero(t, f.cor.Len())
}

func TestResolve_UnknownTagIsNoOp(t *testing.T) {
	t.Parallel()

	f := newFixture(t, snsubmit.DefaultConfig(), fullDirectory{})
	f.cor.ResolveGood(12345)
	f.cor.ResolveBad(12345)
	f.cor.NoStart(12345, "x")
}
