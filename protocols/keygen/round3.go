package keygen

import (
	"fmt"
	"sort"

	"github.com/fxamacker/cbor/v2"

	"github.com/taurusgroup/tssd/internal/round"
	"github.com/taurusgroup/tssd/pkg/math/curve"
	"github.com/taurusgroup/tssd/pkg/party"
)

type round3 struct {
	*round2

	// share is s_i = ∑_j z_ji
	share       *curve.Scalar
	publicShare []byte
	complaints  []complaint

	// shares[j] is S_j as broadcast by share j
	shares map[party.ShareIndex]*curve.Point
	// accusations[j] are the complaints of share j, including our own
	accusations map[party.ShareIndex][]complaint

	in *inbox
}

// complaint reveals the part received from Accused, so that anyone can check it against its public image.
type complaint struct {
	Accused party.ShareIndex `cbor:"1,keyasint"`
	Part    []byte           `cbor:"2,keyasint"`
}

type message3 struct {
	PublicShare []byte `cbor:"1,keyasint"`
}

type dispute3 struct {
	Complaints []complaint `cbor:"1,keyasint"`
}

// Number implements round.Round.
func (r *round3) Number() round.Number { return 3 }

// BroadcastOut implements round.Round.
func (r *round3) BroadcastOut() []byte {
	data, _ := cbor.Marshal(&message3{PublicShare: r.publicShare})
	return data
}

// P2PsOut implements round.Round.
//
// The complaints are the same for every recipient, and are sent even when empty
// so that every share knows when the round is complete.
func (r *round3) P2PsOut() []round.P2P {
	data, _ := cbor.Marshal(&dispute3{Complaints: r.complaints})
	out := make([]round.P2P, 0, r.N()-1)
	for _, j := range r.OtherShares() {
		out = append(out, round.P2P{To: j, Payload: data})
	}
	return out
}

// Accept implements round.Round.
func (r *round3) Accept(from party.ShareIndex, kind round.Kind, payload []byte) error {
	if int(from) >= r.N() {
		return fmt.Errorf("keygen: share %d out of range", from)
	}
	if !r.in.expects(from) {
		return nil
	}

	switch kind {
	case round.KindStandard:
		if r.in.broadcasts[from] {
			return nil
		}
		var msg message3
		point := curve.NewIdentityPoint()
		if err := cbor.Unmarshal(payload, &msg); err != nil || point.UnmarshalBinary(msg.PublicShare) != nil {
			r.reject(r.in, from, round.FaultCorruptedMessage)
			return nil
		}
		r.shares[from] = point
		r.in.broadcasts[from] = true
	case round.KindDispute:
		if r.in.p2ps[from] {
			return nil
		}
		var msg dispute3
		if err := cbor.Unmarshal(payload, &msg); err != nil {
			r.reject(r.in, from, round.FaultCorruptedMessage)
			return nil
		}
		r.accusations[from] = msg.Complaints
		r.in.p2ps[from] = true
	default:
		return fmt.Errorf("keygen: unknown message kind %s", kind)
	}
	return nil
}

// ExpectingMore implements round.Round.
func (r *round3) ExpectingMore() bool { return r.in.pending() }

// Advance implements round.Round.
func (r *round3) Advance() (round.Round, error) {
	r.judge()
	if len(r.faults) > 0 {
		return r.FaultRound(r.faults), nil
	}

	n := r.N()
	publicKey := curve.NewIdentityPoint()
	publicShares := make([]*curve.Point, n)
	for i := 0; i < n; i++ {
		publicKey.Add(publicKey, r.publicKeys[party.ShareIndex(i)])
		publicShares[i] = curve.NewIdentityPoint()
	}
	for _, images := range r.images {
		for j, image := range images {
			publicShares[j].Add(publicShares[j], image)
		}
	}

	for j, point := range r.shares {
		if !point.Equal(publicShares[j]) {
			r.faults.Set(j, round.FaultProtocol)
		}
	}
	if len(r.faults) > 0 {
		return r.FaultRound(r.faults), nil
	}

	pk, err := publicKey.MarshalBinary()
	if err != nil {
		return r, fmt.Errorf("keygen: public key: %w", err)
	}
	encodedShares, err := marshalPoints(publicShares)
	if err != nil {
		return r, fmt.Errorf("keygen: public shares: %w", err)
	}
	return r.ResultRound(&Result{
		ShareIndex:   r.Self(),
		Share:        marshalScalar(r.share),
		PublicKey:    pk,
		PublicShares: encodedShares,
	}), nil
}

// judge decides every complaint from public data: if the revealed part matches its public image
// the accuser lied, otherwise the accused sent a bad part.
func (r *round3) judge() {
	accusers := make([]party.ShareIndex, 0, len(r.accusations))
	for a := range r.accusations {
		accusers = append(accusers, a)
	}
	sort.Slice(accusers, func(i, j int) bool { return accusers[i] < accusers[j] })

	// faults found before the complaints were exchanged are not reconsidered
	known := make(map[party.ShareIndex]bool, len(r.faults))
	for j := range r.faults {
		known[j] = true
	}

	for _, accuser := range accusers {
		for _, c := range r.accusations[accuser] {
			if int(c.Accused) >= r.N() || c.Accused == accuser {
				r.faults.Set(accuser, round.FaultProtocol)
				continue
			}
			if known[c.Accused] {
				continue
			}
			images, ok := r.images[c.Accused]
			if !ok {
				continue
			}
			z := curve.NewScalar()
			if err := z.UnmarshalBinary(c.Part); err == nil && z.ActOnBase().Equal(images[accuser]) {
				r.faults.Set(accuser, round.FaultProtocol)
			} else {
				r.faults.Set(c.Accused, round.FaultProtocol)
			}
		}
	}
}
