package snwire

import (
	"fmt"

	"github.com/zeebo/bencode"

	"github.com/quorumnet-engine/quorumnet/qcrypto"
)

// Pulse block production commands, in stage order.
const (
	CmdPulseValidatorBit    = "pulse.validator_bit"
	CmdPulseValidatorBitset = "pulse.validator_bitset"
	CmdPulseBlockTemplate   = "pulse.block_template"
	CmdPulseRandomValueHash = "pulse.random_value_hash"
	CmdPulseRandomValue     = "pulse.random_value"
	CmdPulseSignedBlock     = "pulse.signed_block"
)

// PulseKind is the stage of a pulse message, one per pulse command.
type PulseKind uint8

const (
	PulseInvalid PulseKind = iota
	PulseValidatorBit
	PulseValidatorBitset
	PulseBlockTemplate
	PulseRandomValueHash
	PulseRandomValue
	PulseSignedBlock
)

func (k PulseKind) Command() string {
	switch k {
	case PulseValidatorBit:
		return CmdPulseValidatorBit
	case PulseValidatorBitset:
		return CmdPulseValidatorBitset
	case PulseBlockTemplate:
		return CmdPulseBlockTemplate
	case PulseRandomValueHash:
		return CmdPulseRandomValueHash
	case PulseRandomValue:
		return CmdPulseRandomValue
	case PulseSignedBlock:
		return CmdPulseSignedBlock
	default:
		return "pulse.invalid"
	}
}

// PulseKindForCommand maps a pulse command name back to its kind,
// returning PulseInvalid for anything unrecognized.
func PulseKindForCommand(cmd string) PulseKind {
	switch cmd {
	case CmdPulseValidatorBit:
		return PulseValidatorBit
	case CmdPulseValidatorBitset:
		return PulseValidatorBitset
	case CmdPulseBlockTemplate:
		return PulseBlockTemplate
	case CmdPulseRandomValueHash:
		return PulseRandomValueHash
	case CmdPulseRandomValue:
		return PulseRandomValue
	case CmdPulseSignedBlock:
		return PulseSignedBlock
	default:
		return PulseInvalid
	}
}

// RandomValueSize is the size of a pulse round's revealed random value.
const RandomValueSize = 16

// PulseMessage is one stage message of a pulse block production round.
// Every stage carries the sender's signature and the round number.
// Position is the sender's validator position for every stage except
// the block template, which only the round's single block producer
// sends. The remaining fields are per-stage payloads; only the ones
// for the message's kind are meaningful.
type PulseMessage struct {
	Kind      PulseKind
	Signature qcrypto.Signature
	Round     uint8
	Position  int

	Bitset        uint16
	BlockTemplate []byte
	RandomHash    qcrypto.Hash
	RandomValue   [RandomValueSize]byte
	FinalSig      qcrypto.Signature
}

type pulseWire struct {
	Position    *int    `bencode:"q,omitempty"`
	Round       *uint8  `bencode:"r"`
	Signature   *[]byte `bencode:"s"`
	Template    *[]byte `bencode:"t,omitempty"`
	Bitset      *uint16 `bencode:"u,omitempty"`
	RandomValue *[]byte `bencode:"v,omitempty"`
	RandomHash  *[]byte `bencode:"x,omitempty"`
	FinalSig    *[]byte `bencode:"z,omitempty"`
}

func (m PulseMessage) Encode() ([]byte, error) {
	w := pulseWire{
		Round:     &m.Round,
		Signature: ptr(m.Signature[:]),
	}
	if m.Kind != PulseBlockTemplate {
		w.Position = &m.Position
	}
	switch m.Kind {
	case PulseValidatorBit:
		// The handshake bit is implied by the message itself.
	case PulseValidatorBitset:
		w.Bitset = &m.Bitset
	case PulseBlockTemplate:
		w.Template = &m.BlockTemplate
	case PulseRandomValueHash:
		w.RandomHash = ptr(m.RandomHash[:])
	case PulseRandomValue:
		w.RandomValue = ptr(m.RandomValue[:])
	case PulseSignedBlock:
		w.FinalSig = ptr(m.FinalSig[:])
	default:
		return nil, fmt.Errorf("cannot encode pulse message of kind %d", m.Kind)
	}
	return bencode.EncodeBytes(w)
}

func DecodePulseMessage(cmd string, data []byte) (PulseMessage, error) {
	var m PulseMessage
	m.Kind = PulseKindForCommand(cmd)
	if m.Kind == PulseInvalid {
		return m, fmt.Errorf("invalid pulse command %q", cmd)
	}

	var w pulseWire
	if err := bencode.DecodeBytes(data, &w); err != nil {
		return m, fmt.Errorf("invalid %s data: %w", cmd, err)
	}

	if w.Signature == nil {
		return m, MissingFieldError{Cmd: cmd, Field: "s"}
	}
	if w.Round == nil {
		return m, MissingFieldError{Cmd: cmd, Field: "r"}
	}
	sig, err := qcrypto.SignatureFromBytes(*w.Signature)
	if err != nil {
		return m, fmt.Errorf("invalid %s data: %w", cmd, err)
	}
	if sig.IsZero() {
		return m, ErrZeroSignature
	}
	m.Signature = sig
	m.Round = *w.Round

	if m.Kind != PulseBlockTemplate {
		if w.Position == nil {
			return m, MissingFieldError{Cmd: cmd, Field: "q"}
		}
		if *w.Position < 0 {
			return m, fmt.Errorf("invalid %s data: invalid quorum position %d", cmd, *w.Position)
		}
		m.Position = *w.Position
	}

	switch m.Kind {
	case PulseValidatorBit:
		// No payload beyond the common fields.
	case PulseValidatorBitset:
		if w.Bitset == nil {
			return m, MissingFieldError{Cmd: cmd, Field: "u"}
		}
		m.Bitset = *w.Bitset
	case PulseBlockTemplate:
		if w.Template == nil {
			return m, MissingFieldError{Cmd: cmd, Field: "t"}
		}
		m.BlockTemplate = *w.Template
	case PulseRandomValueHash:
		if w.RandomHash == nil {
			return m, MissingFieldError{Cmd: cmd, Field: "x"}
		}
		hash, err := qcrypto.HashFromBytes(*w.RandomHash)
		if err != nil {
			return m, fmt.Errorf("invalid %s data: %w", cmd, err)
		}
		m.RandomHash = hash
	case PulseRandomValue:
		if w.RandomValue == nil {
			return m, MissingFieldError{Cmd: cmd, Field: "v"}
		}
		if len(*w.RandomValue) != RandomValueSize {
			return m, fmt.Errorf("invalid %s data: random value must be %d bytes, got %d",
				cmd, RandomValueSize, len(*w.RandomValue))
		}
		copy(m.RandomValue[:], *w.RandomValue)
	case PulseSignedBlock:
		if w.FinalSig == nil {
			return m, MissingFieldError{Cmd: cmd, Field: "z"}
		}
		final, err := qcrypto.SignatureFromBytes(*w.FinalSig)
		if err != nil {
			return m, fmt.Errorf("invalid %s data: %w", cmd, err)
		}
		m.FinalSig = final
	}

	return m, nil
}
