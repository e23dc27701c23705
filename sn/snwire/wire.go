// Package snwire defines the quorumnet wire messages and their bencode
// encoding.
//
// Messages are bencoded dicts with short string keys. Key order on the
// wire is the bencode-canonical sorted order; unknown keys are skipped
// on decode so fields can be added later. Decoding rejects missing
// required fields with a typed error rather than panicking on malformed
// input from the network.
package snwire

import (
	"errors"
	"fmt"

	"github.com/zeebo/bencode"

	"github.com/quorumnet-engine/quorumnet/qcrypto"
	"github.com/quorumnet-engine/quorumnet/sn/snquorum"
)

// Command names. quorum.* commands flow between quorum members,
// blink.submit additionally accepts submissions from outside nodes,
// and bl.* are responses back to a submitter.
const (
	CmdBlinkSubmit    = "blink.submit"
	CmdBlinkSign      = "quorum.blink_sign"
	CmdObligationVote = "quorum.vote_ob"
	CmdTimestamp      = "quorum.timestamp"

	CmdBlinkNoStart = "bl.nostart"
	CmdBlinkBad     = "bl.bad"
	CmdBlinkGood    = "bl.good"
)

// MissingFieldError indicates a required dict key was absent.
type MissingFieldError struct {
	Cmd   string
	Field string
}

func (e MissingFieldError) Error() string {
	return fmt.Sprintf("invalid %s data: missing required field %q", e.Cmd, e.Field)
}

var ErrZeroSignature = errors.New("invalid signature data: null signature given")

// Checksum64 is a quorum membership checksum on the wire.
//
// Legacy peers transmit the value as a signed int64, using
// two's-complement representation when the true uint64 exceeds the
// int64 maximum. Decoding therefore reinterprets negative integers as
// unsigned; encoding always emits the unsigned value. The shim lives
// here, in the codec, so the checksum type itself stays clean and the
// shim can be retired once the compatibility window closes.
type Checksum64 uint64

func (c Checksum64) MarshalBencode() ([]byte, error) {
	return []byte(fmt.Sprintf("i%de", uint64(c))), nil
}

func (c *Checksum64) UnmarshalBencode(raw []byte) error {
	if len(raw) < 3 || raw[0] != 'i' || raw[len(raw)-1] != 'e' {
		return fmt.Errorf("invalid checksum encoding: %q", raw)
	}
	digits := string(raw[1 : len(raw)-1])
	if digits[0] == '-' {
		var v int64
		if _, err := fmt.Sscanf(digits, "%d", &v); err != nil {
			return fmt.Errorf("invalid checksum value %q: %w", digits, err)
		}
		*c = Checksum64(uint64(v))
		return nil
	}
	var v uint64
	if _, err := fmt.Sscanf(digits, "%d", &v); err != nil {
		return fmt.Errorf("invalid checksum value %q: %w", digits, err)
	}
	*c = Checksum64(v)
	return nil
}

// BlinkSubmit submits a blink tx to quorum members, and relays it
// between them.
type BlinkSubmit struct {
	// Tag is a non-zero correlation value for a submitting node; any
	// response echoes it. Zero (omitted) on quorum-to-quorum relay,
	// which produces no response.
	Tag uint64

	TxHash   qcrypto.Hash
	Height   uint64
	Checksum uint64
	TxBlob   []byte
}

type blinkSubmitWire struct {
	Tag      *uint64     `bencode:"!,omitempty"`
	TxHash   *[]byte     `bencode:"#"`
	Height   *uint64     `bencode:"h"`
	Checksum *Checksum64 `bencode:"q"`
	TxBlob   *[]byte     `bencode:"t"`
}

func (m BlinkSubmit) Encode() ([]byte, error) {
	w := blinkSubmitWire{
		TxHash:   ptr(m.TxHash[:]),
		Height:   &m.Height,
		Checksum: ptr(Checksum64(m.Checksum)),
		TxBlob:   &m.TxBlob,
	}
	if m.Tag != 0 {
		w.Tag = &m.Tag
	}
	return bencode.EncodeBytes(w)
}

// DecodeBlinkSubmit decodes a blink.submit dict. On a field validation
// failure the returned message still carries any correlation tag that
// was present, so a malformed tagged submission can be answered with a
// bl.nostart instead of leaving the submitter waiting.
func DecodeBlinkSubmit(data []byte) (BlinkSubmit, error) {
	var w blinkSubmitWire
	var m BlinkSubmit
	if err := bencode.DecodeBytes(data, &w); err != nil {
		return m, fmt.Errorf("invalid %s data: %w", CmdBlinkSubmit, err)
	}
	if w.Tag != nil {
		m.Tag = *w.Tag
	}

	if w.Height == nil {
		return m, MissingFieldError{Cmd: CmdBlinkSubmit, Field: "h"}
	}
	if w.Checksum == nil {
		return m, MissingFieldError{Cmd: CmdBlinkSubmit, Field: "q"}
	}
	if w.TxBlob == nil {
		return m, MissingFieldError{Cmd: CmdBlinkSubmit, Field: "t"}
	}
	if w.TxHash == nil {
		return m, MissingFieldError{Cmd: CmdBlinkSubmit, Field: "#"}
	}

	hash, err := qcrypto.HashFromBytes(*w.TxHash)
	if err != nil {
		return m, fmt.Errorf("invalid %s data: %w", CmdBlinkSubmit, err)
	}

	m.TxHash = hash
	m.Height = *w.Height
	m.Checksum = uint64(*w.Checksum)
	m.TxBlob = *w.TxBlob
	return m, nil
}

// WireSignature is one signature entry of a quorum.blink_sign message.
type WireSignature struct {
	Approval  bool
	Subquorum uint8
	Position  int
	Signature qcrypto.Signature
}

// BlinkSign relays blink signatures between quorum members. The wire
// form holds four parallel lists of equal length.
type BlinkSign struct {
	TxHash     qcrypto.Hash
	Height     uint64
	Checksum   uint64
	Signatures []WireSignature
}

type blinkSignWire struct {
	TxHash    *[]byte     `bencode:"#"`
	Height    *uint64     `bencode:"h"`
	Indices   *[]int      `bencode:"i"`
	Positions *[]int      `bencode:"p"`
	Checksum  *Checksum64 `bencode:"q"`
	Results   *[]int      `bencode:"r"`
	Sigs      *[][]byte   `bencode:"s"`
}

func (m BlinkSign) Encode() ([]byte, error) {
	n := len(m.Signatures)
	w := blinkSignWire{
		TxHash:    ptr(m.TxHash[:]),
		Height:    &m.Height,
		Checksum:  ptr(Checksum64(m.Checksum)),
		Indices:   ptr(make([]int, n)),
		Positions: ptr(make([]int, n)),
		Results:   ptr(make([]int, n)),
		Sigs:      ptr(make([][]byte, n)),
	}
	for j, s := range m.Signatures {
		(*w.Indices)[j] = int(s.Subquorum)
		(*w.Positions)[j] = s.Position
		if s.Approval {
			(*w.Results)[j] = 1
		}
		(*w.Sigs)[j] = append([]byte(nil), s.Signature[:]...)
	}
	return bencode.EncodeBytes(w)
}

func DecodeBlinkSign(data []byte) (BlinkSign, error) {
	var w blinkSignWire
	var m BlinkSign
	if err := bencode.DecodeBytes(data, &w); err != nil {
		return m, fmt.Errorf("invalid %s data: %w", CmdBlinkSign, err)
	}

	for field, missing := range map[string]bool{
		"#": w.TxHash == nil,
		"h": w.Height == nil,
		"q": w.Checksum == nil,
		"i": w.Indices == nil,
		"p": w.Positions == nil,
		"r": w.Results == nil,
		"s": w.Sigs == nil,
	} {
		if missing {
			return m, MissingFieldError{Cmd: CmdBlinkSign, Field: field}
		}
	}

	hash, err := qcrypto.HashFromBytes(*w.TxHash)
	if err != nil {
		return m, fmt.Errorf("invalid %s data: %w", CmdBlinkSign, err)
	}
	if *w.Height == 0 {
		return m, fmt.Errorf("invalid %s data: height cannot be 0", CmdBlinkSign)
	}

	n := len(*w.Indices)
	if len(*w.Positions) != n || len(*w.Results) != n || len(*w.Sigs) != n {
		return m, fmt.Errorf("invalid %s data: parallel list sizes differ", CmdBlinkSign)
	}

	sigs := make([]WireSignature, n)
	for j := range n {
		qi := (*w.Indices)[j]
		if qi < 0 || qi >= snquorum.NumBlinkSubquorums {
			return m, fmt.Errorf("invalid %s data: invalid quorum index %d", CmdBlinkSign, qi)
		}
		pos := (*w.Positions)[j]
		// Input validation only; the true bound is the actual
		// sub-quorum size, checked at ingest.
		if pos < 0 || pos >= snquorum.BlinkSubquorumSize {
			return m, fmt.Errorf("invalid %s data: invalid quorum position %d", CmdBlinkSign, pos)
		}
		sig, err := qcrypto.SignatureFromBytes((*w.Sigs)[j])
		if err != nil {
			return m, fmt.Errorf("invalid %s data: %w", CmdBlinkSign, err)
		}
		if sig.IsZero() {
			return m, ErrZeroSignature
		}
		sigs[j] = WireSignature{
			Approval:  (*w.Results)[j] != 0,
			Subquorum: uint8(qi),
			Position:  pos,
			Signature: sig,
		}
	}

	m.TxHash = hash
	m.Height = *w.Height
	m.Checksum = uint64(*w.Checksum)
	m.Signatures = sigs
	return m, nil
}

// BlinkResponse is a bl.good / bl.bad / bl.nostart message back to the
// original submitter. Error is only present for bl.nostart.
type BlinkResponse struct {
	Tag   uint64
	Error string
}

type blinkResponseWire struct {
	Tag   *uint64 `bencode:"!"`
	Error *string `bencode:"e,omitempty"`
}

func (m BlinkResponse) Encode() ([]byte, error) {
	w := blinkResponseWire{Tag: &m.Tag}
	if m.Error != "" {
		w.Error = &m.Error
	}
	return bencode.EncodeBytes(w)
}

func DecodeBlinkResponse(cmd string, data []byte) (BlinkResponse, error) {
	var w blinkResponseWire
	var m BlinkResponse
	if err := bencode.DecodeBytes(data, &w); err != nil {
		return m, fmt.Errorf("invalid %s data: %w", cmd, err)
	}
	if w.Tag == nil {
		return m, MissingFieldError{Cmd: cmd, Field: "!"}
	}
	m.Tag = *w.Tag
	if w.Error != nil {
		m.Error = *w.Error
	}
	return m, nil
}

func ptr[T any](v T) *T { return &v }
