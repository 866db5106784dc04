package keygen

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/taurusgroup/tssd/internal/hash"
	"github.com/taurusgroup/tssd/internal/round"
	"github.com/taurusgroup/tssd/pkg/malicious"
	"github.com/taurusgroup/tssd/pkg/math/curve"
	"github.com/taurusgroup/tssd/pkg/party"
)

type round2 struct {
	*round1

	// images[j][k] is z_jk⋅G as broadcast by share j
	images map[party.ShareIndex][]*curve.Point
	// publicKeys[j] is X_j
	publicKeys map[party.ShareIndex]*curve.Point
	// received[j] is the encoded part z_j,self sent by share j
	received map[party.ShareIndex][]byte

	in *inbox
}

// message2 is either the broadcast decommitment, or the point-to-point part.
type message2 struct {
	X            []byte            `cbor:"1,keyasint,omitempty"`
	PartImages   [][]byte          `cbor:"2,keyasint,omitempty"`
	Decommitment hash.Decommitment `cbor:"3,keyasint,omitempty"`
	Part         []byte            `cbor:"4,keyasint,omitempty"`
}

// Number implements round.Round.
func (r *round2) Number() round.Number { return 2 }

// BroadcastOut implements round.Round.
func (r *round2) BroadcastOut() []byte {
	data, _ := cbor.Marshal(&message2{
		X:            r.publicX,
		PartImages:   r.partImages,
		Decommitment: r.decommitment,
	})
	return data
}

// P2PsOut implements round.Round.
func (r *round2) P2PsOut() []round.P2P {
	self := r.Self()
	out := make([]round.P2P, 0, r.N()-1)
	for _, j := range r.OtherShares() {
		part := marshalScalar(r.parts[j])
		switch {
		case r.behaviour.Targets(malicious.R2BadShare, self, j):
			wrong := curve.NewScalar().SetUInt32(1)
			part = marshalScalar(wrong.Add(wrong, r.parts[j]))
		case r.behaviour.Targets(malicious.R2BadEncryption, self, j):
			part = []byte("undecodable share")
		}
		data, _ := cbor.Marshal(&message2{Part: part})
		out = append(out, round.P2P{To: j, Payload: data})
	}
	return out
}

// Accept implements round.Round.
func (r *round2) Accept(from party.ShareIndex, _ round.Kind, payload []byte) error {
	if int(from) >= r.N() {
		return fmt.Errorf("keygen: share %d out of range", from)
	}
	if !r.in.expects(from) {
		return nil
	}

	var msg message2
	if err := cbor.Unmarshal(payload, &msg); err != nil {
		r.reject(r.in, from, round.FaultCorruptedMessage)
		return nil
	}

	switch {
	case msg.X != nil && msg.Part == nil:
		if !r.in.broadcasts[from] {
			r.acceptDecommitment(from, &msg)
		}
	case msg.X == nil && msg.Part != nil:
		if !r.in.p2ps[from] {
			r.received[from] = msg.Part
			r.in.p2ps[from] = true
		}
	default:
		r.reject(r.in, from, round.FaultCorruptedMessage)
	}
	return nil
}

func (r *round2) acceptDecommitment(from party.ShareIndex, msg *message2) {
	if len(msg.PartImages) != r.N() ||
		!r.HashForShare(from).Decommit(r.commitments[from], msg.Decommitment, commitData(msg.X, msg.PartImages)...) {
		r.reject(r.in, from, round.FaultProtocol)
		return
	}

	publicKey := curve.NewIdentityPoint()
	if err := publicKey.UnmarshalBinary(msg.X); err != nil {
		r.reject(r.in, from, round.FaultProtocol)
		return
	}
	images, err := unmarshalPoints(msg.PartImages)
	if err != nil {
		r.reject(r.in, from, round.FaultProtocol)
		return
	}

	// the parts must add up to the committed secret
	sum := curve.NewIdentityPoint()
	for _, image := range images {
		sum.Add(sum, image)
	}
	if !sum.Equal(publicKey) {
		r.reject(r.in, from, round.FaultProtocol)
		return
	}

	r.publicKeys[from] = publicKey
	r.images[from] = images
	r.in.broadcasts[from] = true
}

// ExpectingMore implements round.Round.
func (r *round2) ExpectingMore() bool { return r.in.pending() }

// Advance implements round.Round.
func (r *round2) Advance() (round.Round, error) {
	self := r.Self()
	share := curve.NewScalar().Set(r.parts[self])
	var complaints []complaint
	complained := make(map[party.ShareIndex]bool)

	for _, j := range r.healthy() {
		part := r.received[j]
		z := curve.NewScalar()
		if err := z.UnmarshalBinary(part); err != nil || !z.ActOnBase().Equal(r.images[j][self]) {
			complaints = append(complaints, complaint{Accused: j, Part: part})
			complained[j] = true
			continue
		}
		share.Add(share, z)
	}

	if r.behaviour.Kind == malicious.R3FalseAccusation && r.behaviour.IsFaulty(self) {
		for _, v := range r.behaviour.Victims {
			if v == self || int(v) >= r.N() || complained[v] {
				continue
			}
			if _, ok := r.received[v]; !ok {
				continue
			}
			complaints = append(complaints, complaint{Accused: v, Part: r.received[v]})
		}
	}

	publicShare, err := share.ActOnBase().MarshalBinary()
	if err != nil {
		return r, fmt.Errorf("keygen: public share: %w", err)
	}

	return &round3{
		round2:      r,
		share:       share,
		publicShare: publicShare,
		complaints:  complaints,
		shares:      make(map[party.ShareIndex]*curve.Point, r.N()),
		accusations: map[party.ShareIndex][]complaint{self: complaints},
		in:          newInbox(r.healthy(), true, true),
	}, nil
}
