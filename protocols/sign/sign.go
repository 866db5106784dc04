// Package sign is an example signing engine that can be driven by protocol.Handler.
//
// Every signer derives a tag over the message keyed by the group key and broadcasts it in a single round.
// The session succeeds when all signers agree on the tag. It demonstrates the engine capability and
// produces no real signature.
package sign

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/zeebo/blake3"

	"github.com/taurusgroup/tssd/internal/round"
	"github.com/taurusgroup/tssd/pkg/party"
	"github.com/taurusgroup/tssd/protocols/keygen"
)

const (
	protocolID                  = "tssd/example-sign"
	protocolRounds round.Number = 1
	// DisputeRound is 0 since signing has no dispute round.
	DisputeRound round.Number = 0
	// TagSize is the length of the tag produced by a signing session.
	TagSize = 32
)

// Params are the parameters of a signing execution for a single share.
type Params struct {
	// SessionID must be identical for all signers, and unique for every execution.
	SessionID []byte
	// Shares are the shares of the signing parties only.
	Shares    *party.ShareMap
	Self      party.ShareIndex
	Threshold int
	// KeyShare is the encoded keygen.Result of this share.
	KeyShare []byte
	Message  []byte
}

type round1 struct {
	*round.Helper

	tag      []byte
	received map[party.ShareIndex]bool
	faults   round.Faults
}

type message1 struct {
	Tag []byte `cbor:"1,keyasint"`
}

// Start returns the first round of a signing execution.
func Start(p Params) (round.Round, error) {
	result, err := keygen.UnmarshalResult(p.KeyShare)
	if err != nil {
		return nil, fmt.Errorf("sign: %w", err)
	}
	helper, err := round.NewHelper(round.Info{
		ProtocolID:       protocolID,
		FinalRoundNumber: protocolRounds,
		SessionID:        p.SessionID,
		Shares:           p.Shares,
		Self:             p.Self,
		Threshold:        p.Threshold,
	})
	if err != nil {
		return nil, fmt.Errorf("sign: %w", err)
	}

	tag, err := Tag(result.GroupKey(), p.Message)
	if err != nil {
		return nil, err
	}
	return &round1{
		Helper:   helper,
		tag:      tag,
		received: make(map[party.ShareIndex]bool, helper.N()),
		faults:   round.Faults{},
	}, nil
}

// Tag returns the tag that signers of message under groupKey agree on.
func Tag(groupKey, message []byte) ([]byte, error) {
	key := blake3.Sum256(groupKey)
	h, err := blake3.NewKeyed(key[:])
	if err != nil {
		return nil, fmt.Errorf("sign: %w", err)
	}
	_, _ = h.Write(message)
	return h.Sum(nil)[:TagSize], nil
}

// Number implements round.Round.
func (r *round1) Number() round.Number { return 1 }

// BroadcastOut implements round.Round.
func (r *round1) BroadcastOut() []byte {
	data, _ := cbor.Marshal(&message1{Tag: r.tag})
	return data
}

// P2PsOut implements round.Round.
func (r *round1) P2PsOut() []round.P2P { return nil }

// Accept implements round.Round.
func (r *round1) Accept(from party.ShareIndex, _ round.Kind, payload []byte) error {
	if int(from) >= r.N() {
		return fmt.Errorf("sign: share %d out of range", from)
	}
	if from == r.Self() || r.received[from] {
		return nil
	}
	r.received[from] = true

	var msg message1
	if err := cbor.Unmarshal(payload, &msg); err != nil || len(msg.Tag) != TagSize {
		r.faults.Set(from, round.FaultCorruptedMessage)
		return nil
	}
	if string(msg.Tag) != string(r.tag) {
		r.faults.Set(from, round.FaultProtocol)
	}
	return nil
}

// ExpectingMore implements round.Round.
func (r *round1) ExpectingMore() bool { return len(r.received) < r.N()-1 }

// Advance implements round.Round.
func (r *round1) Advance() (round.Round, error) {
	if len(r.faults) > 0 {
		return r.FaultRound(r.faults), nil
	}
	return r.ResultRound(r.tag), nil
}
