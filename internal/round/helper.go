package round

import (
	"errors"
	"fmt"

	"github.com/taurusgroup/tssd/internal/hash"
	"github.com/taurusgroup/tssd/pkg/party"
)

// Info describes a protocol execution from the point of view of a single share.
type Info struct {
	// ProtocolID is an identifier for this protocol
	ProtocolID string
	// FinalRoundNumber is the number of rounds before the output round.
	FinalRoundNumber Number
	// SessionID is an optional byte slice provided by the client, unique for each execution.
	SessionID []byte
	// Shares is the translation between parties and shares for this execution.
	Shares *party.ShareMap
	// Self is the share executing the protocol.
	Self party.ShareIndex
	// Threshold is the maximum number of shares that are assumed to be corrupted.
	Threshold int
}

// Helper holds the static information of a protocol execution and can be embedded
// in the first round of a protocol, then in every subsequent round.
type Helper struct {
	info Info
	// ssid the unique identifier for this protocol execution
	ssid []byte
	hash *hash.Hash
}

// NewHelper validates info and returns a *Helper for it.
// `auxInfo` is a variable list of objects which should be included in the session's hash state.
func NewHelper(info Info, auxInfo ...hash.WriterToWithDomain) (*Helper, error) {
	if info.Shares == nil {
		return nil, errors.New("helper: missing share map")
	}
	total := info.Shares.Total()
	if int(info.Self) >= total {
		return nil, fmt.Errorf("helper: self share %d out of range [0, %d)", info.Self, total)
	}
	if info.Threshold < 0 || info.Threshold >= total {
		return nil, fmt.Errorf("helper: threshold %d is invalid for %d shares", info.Threshold, total)
	}

	h := hash.New()
	if info.SessionID != nil {
		if err := h.WriteAny(&hash.BytesWithDomain{TheDomain: "Session ID", Bytes: info.SessionID}); err != nil {
			return nil, fmt.Errorf("helper: %w", err)
		}
	}
	if err := h.WriteAny(&hash.BytesWithDomain{TheDomain: "Protocol ID", Bytes: []byte(info.ProtocolID)}); err != nil {
		return nil, fmt.Errorf("helper: %w", err)
	}
	if err := h.WriteAny(info.Shares.IDs()); err != nil {
		return nil, fmt.Errorf("helper: %w", err)
	}
	for _, c := range info.Shares.Counts() {
		if err := h.WriteAny(party.ShareIndex(c)); err != nil {
			return nil, fmt.Errorf("helper: %w", err)
		}
	}
	for _, a := range auxInfo {
		if a == nil {
			continue
		}
		if err := h.WriteAny(a); err != nil {
			return nil, fmt.Errorf("helper: %w", err)
		}
	}

	return &Helper{
		info: info,
		ssid: h.Clone().Sum(),
		hash: h,
	}, nil
}

// HashForShare returns a clone of the session hash, initialized with the given share.
func (h *Helper) HashForShare(share party.ShareIndex) *hash.Hash {
	cloned := h.hash.Clone()
	_ = cloned.WriteAny(share)
	return cloned
}

// Hash returns copy of the hash function of this protocol execution.
func (h *Helper) Hash() *hash.Hash { return h.hash.Clone() }

// ResultRound returns a round that contains only the result of the protocol.
func (h *Helper) ResultRound(result interface{}) Round {
	return &Output{Result: result}
}

// FaultRound returns a round that contains the faults found during the execution.
func (h *Helper) FaultRound(faults Faults) Round {
	return &Faulted{Faults: faults}
}

// ProtocolID is an identifier for this protocol.
func (h *Helper) ProtocolID() string { return h.info.ProtocolID }

// FinalRoundNumber is the number of rounds before the output round.
func (h *Helper) FinalRoundNumber() Number { return h.info.FinalRoundNumber }

// SSID the unique identifier for this protocol execution.
func (h *Helper) SSID() []byte { return h.ssid }

// Self is the share executing this protocol.
func (h *Helper) Self() party.ShareIndex { return h.info.Self }

// Shares returns the party/share translation of this execution.
func (h *Helper) Shares() *party.ShareMap { return h.info.Shares }

// N returns the total number of shares.
func (h *Helper) N() int { return h.info.Shares.Total() }

// Threshold is the maximum number of shares that are assumed to be corrupted.
func (h *Helper) Threshold() int { return h.info.Threshold }

// OtherShares returns all share indices except Self, in increasing order.
func (h *Helper) OtherShares() []party.ShareIndex {
	out := make([]party.ShareIndex, 0, h.N()-1)
	for i := 0; i < h.N(); i++ {
		if party.ShareIndex(i) != h.info.Self {
			out = append(out, party.ShareIndex(i))
		}
	}
	return out
}
