package snwire

import (
	"fmt"
	"strconv"

	"github.com/zeebo/bencode"

	"github.com/quorumnet-engine/quorumnet/qcrypto"
	"github.com/quorumnet-engine/quorumnet/sn/snquorum"
)

// VoteGroup identifies which side of an obligations quorum a vote
// comes from.
type VoteGroup uint8

const (
	VoteGroupInvalid VoteGroup = iota
	VoteGroupValidator
	VoteGroupWorker
)

// ObligationVote is a quorum.vote_ob message: one signed vote from an
// obligations or checkpointing quorum member. Checkpointing votes
// carry the checkpointed block hash; state-change votes carry the
// accused worker index, the proposed state, and a reason bitmask.
type ObligationVote struct {
	Version     uint8
	QuorumType  snquorum.QuorumType
	BlockHeight uint64
	Group       VoteGroup
	Index       uint16
	Signature   qcrypto.Signature

	BlockHash qcrypto.Hash

	WorkerIndex uint16
	State       uint16
	Reason      uint16
}

type obligationVoteWire struct {
	BlockHash   *[]byte `bencode:"bh,omitempty"`
	Group       *uint8  `bencode:"g"`
	BlockHeight *uint64 `bencode:"h"`
	Index       *uint16 `bencode:"i"`
	Reason      *uint16 `bencode:"re,omitempty"`
	Signature   *[]byte `bencode:"s"`
	State       *uint16 `bencode:"sc,omitempty"`
	QuorumType  *uint8  `bencode:"t"`
	Version     *uint8  `bencode:"v"`
	WorkerIndex *uint16 `bencode:"wi,omitempty"`
}

func (m ObligationVote) Encode() ([]byte, error) {
	w := obligationVoteWire{
		Group:       ptr(uint8(m.Group)),
		BlockHeight: &m.BlockHeight,
		Index:       &m.Index,
		Signature:   ptr(m.Signature[:]),
		QuorumType:  ptr(uint8(m.QuorumType)),
		Version:     &m.Version,
	}
	if m.QuorumType == snquorum.TypeCheckpointing {
		w.BlockHash = ptr(m.BlockHash[:])
	} else {
		w.WorkerIndex = &m.WorkerIndex
		w.State = &m.State
		w.Reason = &m.Reason
	}
	return bencode.EncodeBytes(w)
}

func DecodeObligationVote(data []byte) (ObligationVote, error) {
	var w obligationVoteWire
	var m ObligationVote
	if err := bencode.DecodeBytes(data, &w); err != nil {
		return m, fmt.Errorf("invalid %s data: %w", CmdObligationVote, err)
	}

	for field, missing := range map[string]bool{
		"v": w.Version == nil,
		"t": w.QuorumType == nil,
		"h": w.BlockHeight == nil,
		"g": w.Group == nil,
		"i": w.Index == nil,
		"s": w.Signature == nil,
	} {
		if missing {
			return m, MissingFieldError{Cmd: CmdObligationVote, Field: field}
		}
	}

	sig, err := qcrypto.SignatureFromBytes(*w.Signature)
	if err != nil {
		return m, fmt.Errorf("invalid %s data: %w", CmdObligationVote, err)
	}
	if sig.IsZero() {
		return m, ErrZeroSignature
	}

	m.Version = *w.Version
	m.QuorumType = snquorum.QuorumType(*w.QuorumType)
	m.BlockHeight = *w.BlockHeight
	m.Group = VoteGroup(*w.Group)
	m.Index = *w.Index
	m.Signature = sig

	if m.Group != VoteGroupValidator && m.Group != VoteGroupWorker {
		return m, fmt.Errorf("invalid %s data: invalid vote group %d", CmdObligationVote, m.Group)
	}

	if m.QuorumType == snquorum.TypeCheckpointing {
		if w.BlockHash == nil {
			return m, MissingFieldError{Cmd: CmdObligationVote, Field: "bh"}
		}
		hash, err := qcrypto.HashFromBytes(*w.BlockHash)
		if err != nil {
			return m, fmt.Errorf("invalid %s data: %w", CmdObligationVote, err)
		}
		m.BlockHash = hash
		return m, nil
	}

	if w.WorkerIndex == nil {
		return m, MissingFieldError{Cmd: CmdObligationVote, Field: "wi"}
	}
	if w.State == nil {
		return m, MissingFieldError{Cmd: CmdObligationVote, Field: "sc"}
	}
	m.WorkerIndex = *w.WorkerIndex
	m.State = *w.State
	if w.Reason != nil {
		m.Reason = *w.Reason
	}
	return m, nil
}

// EncodeTimestamp encodes a quorum.timestamp reply: the local unix
// time as a plain decimal string.
func EncodeTimestamp(unix uint64) []byte {
	return strconv.AppendUint(nil, unix, 10)
}

func DecodeTimestamp(data []byte) (uint64, error) {
	unix, err := strconv.ParseUint(string(data), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s data: %w", CmdTimestamp, err)
	}
	return unix, nil
}
