// Package keygen is an example of a threshold key generation engine that can be driven by protocol.Handler.
//
// Every share samples a secret x_i, commits to X_i = x_i⋅G, and splits x_i additively into one part per share.
// Parts are sent point-to-point and checked against their public image; a share receiving a bad part
// complains in the dispute round by revealing it, and every share decides who to blame from public data.
//
// It demonstrates the engine capability and must not be used to protect real funds.
package keygen

import (
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/taurusgroup/tssd/internal/round"
	"github.com/taurusgroup/tssd/pkg/malicious"
	"github.com/taurusgroup/tssd/pkg/math/curve"
	"github.com/taurusgroup/tssd/pkg/party"
)

const (
	protocolID                  = "tssd/example-keygen"
	protocolRounds round.Number = 3
	// DisputeRound is the round in which complaints are sent point-to-point.
	DisputeRound round.Number = 3
)

// Params are the parameters of a keygen execution for a single share.
type Params struct {
	// SessionID must be identical for all participants, and unique for every execution.
	SessionID []byte
	Shares    *party.ShareMap
	Self      party.ShareIndex
	Threshold int
	Behaviour malicious.Behaviour
}

// Start returns the first round of a keygen execution.
func Start(p Params) (round.Round, error) {
	helper, err := round.NewHelper(round.Info{
		ProtocolID:       protocolID,
		FinalRoundNumber: protocolRounds,
		SessionID:        p.SessionID,
		Shares:           p.Shares,
		Self:             p.Self,
		Threshold:        p.Threshold,
	})
	if err != nil {
		return nil, fmt.Errorf("keygen: %w", err)
	}
	return newRound1(helper, p.Behaviour)
}

// Result is the output of a successful keygen for one share.
type Result struct {
	ShareIndex party.ShareIndex `cbor:"1,keyasint"`
	// Share is the secret share s_i.
	Share []byte `cbor:"2,keyasint"`
	// PublicKey is the group key X = ∑ X_i, compressed.
	PublicKey []byte `cbor:"3,keyasint"`
	// PublicShares[j] is S_j = s_j⋅G, compressed.
	PublicShares [][]byte `cbor:"4,keyasint"`
}

// GroupKey returns the compressed group public key.
func (r *Result) GroupKey() []byte { return r.PublicKey }

// plainResult has the fields of Result without its methods, so that cbor encodes it field by field.
type plainResult Result

// MarshalBinary implements encoding.BinaryMarshaler.
func (r *Result) MarshalBinary() ([]byte, error) {
	return cbor.Marshal((*plainResult)(r))
}

// UnmarshalResult decodes and validates a Result.
func UnmarshalResult(data []byte) (*Result, error) {
	var plain plainResult
	if err := cbor.Unmarshal(data, &plain); err != nil {
		return nil, fmt.Errorf("keygen: decode result: %w", err)
	}
	r := Result(plain)
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return &r, nil
}

// Validate checks that the secret share is consistent with the public data.
func (r *Result) Validate() error {
	if int(r.ShareIndex) >= len(r.PublicShares) {
		return fmt.Errorf("keygen: share index %d out of range", r.ShareIndex)
	}
	if err := curve.NewIdentityPoint().UnmarshalBinary(r.PublicKey); err != nil {
		return fmt.Errorf("keygen: public key: %w", err)
	}
	s := curve.NewScalar()
	if err := s.UnmarshalBinary(r.Share); err != nil {
		return fmt.Errorf("keygen: share: %w", err)
	}
	expected := curve.NewIdentityPoint()
	if err := expected.UnmarshalBinary(r.PublicShares[r.ShareIndex]); err != nil {
		return fmt.Errorf("keygen: public share: %w", err)
	}
	if !s.ActOnBase().Equal(expected) {
		return errors.New("keygen: share does not match public share")
	}
	return nil
}

// SecretShare returns the decoded secret share.
func (r *Result) SecretShare() (*curve.Scalar, error) {
	s := curve.NewScalar()
	if err := s.UnmarshalBinary(r.Share); err != nil {
		return nil, fmt.Errorf("keygen: share: %w", err)
	}
	return s, nil
}

// inbox tracks which of the expected shares delivered their messages for a round.
type inbox struct {
	expected   []party.ShareIndex
	broadcast  bool
	p2p        bool
	broadcasts map[party.ShareIndex]bool
	p2ps       map[party.ShareIndex]bool
	// dropped shares sent a message that could not be decoded in this round
	dropped map[party.ShareIndex]bool
}

func newInbox(expected []party.ShareIndex, broadcast, p2p bool) *inbox {
	return &inbox{
		expected:   expected,
		broadcast:  broadcast,
		p2p:        p2p,
		broadcasts: make(map[party.ShareIndex]bool, len(expected)),
		p2ps:       make(map[party.ShareIndex]bool, len(expected)),
		dropped:    map[party.ShareIndex]bool{},
	}
}

func (b *inbox) pending() bool {
	for _, j := range b.expected {
		if b.dropped[j] {
			continue
		}
		if (b.broadcast && !b.broadcasts[j]) || (b.p2p && !b.p2ps[j]) {
			return true
		}
	}
	return false
}

func (b *inbox) expects(j party.ShareIndex) bool {
	if b.dropped[j] {
		return false
	}
	for _, e := range b.expected {
		if e == j {
			return true
		}
	}
	return false
}

func marshalPoints(points []*curve.Point) ([][]byte, error) {
	out := make([][]byte, len(points))
	for j, p := range points {
		data, err := p.MarshalBinary()
		if err != nil {
			return nil, err
		}
		out[j] = data
	}
	return out, nil
}

func unmarshalPoints(data [][]byte) ([]*curve.Point, error) {
	out := make([]*curve.Point, len(data))
	for j, d := range data {
		out[j] = curve.NewIdentityPoint()
		if err := out[j].UnmarshalBinary(d); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func marshalScalar(s *curve.Scalar) []byte {
	data, _ := s.MarshalBinary()
	return data
}
