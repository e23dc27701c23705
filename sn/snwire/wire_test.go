package snwire_test

import (
	"bytes"
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/quorumnet-engine/quorumnet/qcrypto"
	"github.com/quorumnet-engine/quorumnet/sn/snquorum"
	"github.com/quorumnet-engine/quorumnet/sn/snwire"
)

func testHash(b byte) qcrypto.Hash {
	var h qcrypto.Hash
	for i := range h {
		h[i] = b
	}
	return h
}

func testSig(b byte) qcrypto.Signature {
	var s qcrypto.Signature
	for i := range s {
		s[i] = b
	}
	return s
}

func TestBlinkSubmit_WireFormat(t *testing.T) {
	t.Parallel()

	m := snwire.BlinkSubmit{
		Tag:      9,
		TxHash:   testHash('a'),
		Height:   100,
		Checksum: 5,
		TxBlob:   []byte("txdata"),
	}

	enc, err := m.Encode()
	require.NoError(t, err)

	var want bytes.Buffer
	want.WriteString("d1:!i9e1:#32:")
	want.Write(bytes.Repeat([]byte{'a'}, 32))
	want.WriteString("1:hi100e1:qi5e1:t6:txdatae")
	require.Equal(t, want.Bytes(), enc)

	got, err := snwire.DecodeBlinkSubmit(enc)
	require.NoError(t, err)
	require.Equal(t, m, got)
}

func TestBlinkSubmit_TagOmittedOnRelay(t *testing.T) {
	t.Parallel()

	m := snwire.BlinkSubmit{
		TxHash:   testHash('b'),
		Height:   42,
		Checksum: 1,
		TxBlob:   []byte("x"),
	}

	enc, err := m.Encode()
	require.NoError(t, err)
	require.NotContains(t, string(enc), "1:!")

	got, err := snwire.DecodeBlinkSubmit(enc)
	require.NoError(t, err)
	require.Zero(t, got.Tag)
}

func TestBlinkSubmit_MissingFields(t *testing.T) {
	t.Parallel()

	m := snwire.BlinkSubmit{
		TxHash:   testHash('c'),
		Height:   42,
		Checksum: 1,
		TxBlob:   []byte("x"),
	}
	enc, err := m.Encode()
	require.NoError(t, err)

	// Strip each required key in turn by re-encoding without it.
	for _, tc := range []struct {
		field string
		strip string
	}{
		{"h", "1:hi42e"},
		{"q", "1:qi1e"},
		{"t", "1:t1:x"},
	} {
		broken := bytes.Replace(enc, []byte(tc.strip), nil, 1)
		_, err := snwire.DecodeBlinkSubmit(broken)
		require.ErrorAs(t, err, &snwire.MissingFieldError{}, "field %s", tc.field)
	}
}

func TestBlinkSubmit_TagSurvivesInvalidDecode(t *testing.T) {
	t.Parallel()

	m := snwire.BlinkSubmit{
		Tag:      42,
		TxHash:   testHash('e'),
		Height:   42,
		Checksum: 1,
		TxBlob:   []byte("txdata"),
	}
	enc, err := m.Encode()
	require.NoError(t, err)

	t.Run("truncated hash", func(t *testing.T) {
		t.Parallel()

		broken := bytes.Replace(enc,
			append([]byte("1:#32:"), m.TxHash[:]...),
			append([]byte("1:#31:"), m.TxHash[:31]...), 1)
		got, err := snwire.DecodeBlinkSubmit(broken)
		require.Error(t, err)
		require.Equal(t, uint64(42), got.Tag)
	})

	t.Run("missing tx blob", func(t *testing.T) {
		t.Parallel()

		broken := bytes.Replace(enc, []byte("1:t6:txdata"), nil, 1)
		got, err := snwire.DecodeBlinkSubmit(broken)
		require.ErrorAs(t, err, &snwire.MissingFieldError{})
		require.Equal(t, uint64(42), got.Tag)
	})
}

func TestChecksum_LegacySignedDecode(t *testing.T) {
	t.Parallel()

	m := snwire.BlinkSubmit{
		TxHash:   testHash('d'),
		Height:   7,
		Checksum: 5,
		TxBlob:   []byte("x"),
	}
	enc, err := m.Encode()
	require.NoError(t, err)

	// A legacy peer serializes the checksum as a signed int64, so a
	// value past the int64 maximum arrives negative.
	legacy := bytes.Replace(enc, []byte("1:qi5e"), []byte("1:qi-1e"), 1)
	got, err := snwire.DecodeBlinkSubmit(legacy)
	require.NoError(t, err)
	require.Equal(t, uint64(math.MaxUint64), got.Checksum)

	legacy = bytes.Replace(enc, []byte("1:qi5e"), []byte("1:qi-9223372036854775808e"), 1)
	got, err = snwire.DecodeBlinkSubmit(legacy)
	require.NoError(t, err)
	require.Equal(t, uint64(1)<<63, got.Checksum)
}

func TestChecksum_LargeUnsignedRoundTrip(t *testing.T) {
	t.Parallel()

	m := snwire.BlinkSubmit{
		TxHash:   testHash('e'),
		Height:   7,
		Checksum: math.MaxUint64 - 12,
		TxBlob:   []byte("x"),
	}
	enc, err := m.Encode()
	require.NoError(t, err)

	got, err := snwire.DecodeBlinkSubmit(enc)
	require.NoError(t, err)
	require.Equal(t, m.Checksum, got.Checksum)
}

func TestBlinkSign_RoundTrip(t *testing.T) {
	t.Parallel()

	m := snwire.BlinkSign{
		TxHash:   testHash('f'),
		Height:   65,
		Checksum: 12345,
		Signatures: []snwire.WireSignature{
			{Approval: true, Subquorum: 0, Position: 3, Signature: testSig(1)},
			{Approval: false, Subquorum: 1, Position: 9, Signature: testSig(2)},
		},
	}

	enc, err := m.Encode()
	require.NoError(t, err)

	got, err := snwire.DecodeBlinkSign(enc)
	require.NoError(t, err)
	require.Equal(t, m, got)
}

func TestBlinkSign_Invalid(t *testing.T) {
	t.Parallel()

	base := snwire.BlinkSign{
		TxHash:   testHash('g'),
		Height:   65,
		Checksum: 1,
		Signatures: []snwire.WireSignature{
			{Approval: true, Subquorum: 0, Position: 0, Signature: testSig(1)},
		},
	}

	t.Run("quorum index out of range", func(t *testing.T) {
		t.Parallel()

		m := base
		m.Signatures = []snwire.WireSignature{
			{Approval: true, Subquorum: snquorum.NumBlinkSubquorums, Position: 0, Signature: testSig(1)},
		}
		enc, err := m.Encode()
		require.NoError(t, err)
		_, err = snwire.DecodeBlinkSign(enc)
		require.ErrorContains(t, err, "invalid quorum index")
	})

	t.Run("position out of range", func(t *testing.T) {
		t.Parallel()

		m := base
		m.Signatures = []snwire.WireSignature{
			{Approval: true, Subquorum: 0, Position: snquorum.BlinkSubquorumSize, Signature: testSig(1)},
		}
		enc, err := m.Encode()
		require.NoError(t, err)
		_, err = snwire.DecodeBlinkSign(enc)
		require.ErrorContains(t, err, "invalid quorum position")
	})

	t.Run("zero signature", func(t *testing.T) {
		t.Parallel()

		m := base
		m.Signatures = []snwire.WireSignature{
			{Approval: true, Subquorum: 0, Position: 0},
		}
		enc, err := m.Encode()
		require.NoError(t, err)
		_, err = snwire.DecodeBlinkSign(enc)
		require.ErrorIs(t, err, snwire.ErrZeroSignature)
	})

	t.Run("parallel list size mismatch", func(t *testing.T) {
		t.Parallel()

		enc, err := base.Encode()
		require.NoError(t, err)
		// Add an extra entry to the results list only.
		broken := bytes.Replace(enc, []byte("1:rli1ee"), []byte("1:rli1ei0ee"), 1)
		require.NotEqual(t, enc, broken)
		_, err = snwire.DecodeBlinkSign(broken)
		require.ErrorContains(t, err, "parallel list sizes differ")
	})

	t.Run("zero height", func(t *testing.T) {
		t.Parallel()

		m := base
		m.Height = 0
		enc, err := m.Encode()
		require.NoError(t, err)
		_, err = snwire.DecodeBlinkSign(enc)
		require.ErrorContains(t, err, "height cannot be 0")
	})
}

func TestBlinkResponse_RoundTrip(t *testing.T) {
	t.Parallel()

	t.Run("good", func(t *testing.T) {
		t.Parallel()

		m := snwire.BlinkResponse{Tag: 77}
		enc, err := m.Encode()
		require.NoError(t, err)
		require.Equal(t, []byte("d1:!i77ee"), enc)

		got, err := snwire.DecodeBlinkResponse(snwire.CmdBlinkGood, enc)
		require.NoError(t, err)
		require.Equal(t, m, got)
	})

	t.Run("nostart carries error", func(t *testing.T) {
		t.Parallel()

		m := snwire.BlinkResponse{Tag: 3, Error: "Transaction rejected by quorum"}
		enc, err := m.Encode()
		require.NoError(t, err)

		got, err := snwire.DecodeBlinkResponse(snwire.CmdBlinkNoStart, enc)
		require.NoError(t, err)
		require.Equal(t, m, got)
	})

	t.Run("missing tag", func(t *testing.T) {
		t.Parallel()

		_, err := snwire.DecodeBlinkResponse(snwire.CmdBlinkGood, []byte("de"))
		require.ErrorAs(t, err, &snwire.MissingFieldError{})
	})
}

func TestDecode_UnknownKeysSkipped(t *testing.T) {
	t.Parallel()

	m := snwire.BlinkResponse{Tag: 5}
	// Same dict with an extra "zz" key a future version might add.
	got, err := snwire.DecodeBlinkResponse(snwire.CmdBlinkGood, []byte("d1:!i5e2:zzi1ee"))
	require.NoError(t, err)
	require.Equal(t, m, got)
}
