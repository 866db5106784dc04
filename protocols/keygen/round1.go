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

// round1 holds the state shared by all rounds of a keygen execution.
type round1 struct {
	*round.Helper
	behaviour malicious.Behaviour

	// x is the secret x_i
	x *curve.Scalar
	// parts[j] is z_ij, the part of x_i sent to share j
	parts []*curve.Scalar
	// publicX is x_i⋅G, and partImages[j] is z_ij⋅G, both marshalled
	publicX      []byte
	partImages   [][]byte
	images       []*curve.Point
	commitment   hash.Commitment
	decommitment hash.Decommitment

	// commitments[j] is the commitment of share j
	commitments map[party.ShareIndex]hash.Commitment

	faults round.Faults
	in     *inbox
}

type message1 struct {
	Commitment hash.Commitment `cbor:"1,keyasint"`
}

func newRound1(helper *round.Helper, behaviour malicious.Behaviour) (*round1, error) {
	n := helper.N()
	x, err := curve.NewScalarRandom()
	if err != nil {
		return nil, fmt.Errorf("keygen: %w", err)
	}

	parts := make([]*curve.Scalar, n)
	images := make([]*curve.Point, n)
	last := curve.NewScalar().Set(x)
	for j := 0; j < n; j++ {
		if party.ShareIndex(j) == helper.Self() {
			continue
		}
		if parts[j], err = curve.NewScalarRandom(); err != nil {
			return nil, fmt.Errorf("keygen: %w", err)
		}
		last.Subtract(last, parts[j])
	}
	parts[helper.Self()] = last
	for j := range parts {
		images[j] = parts[j].ActOnBase()
	}

	publicX, err := x.ActOnBase().MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("keygen: %w", err)
	}
	partImages, err := marshalPoints(images)
	if err != nil {
		return nil, fmt.Errorf("keygen: %w", err)
	}

	commitment, decommitment, err := helper.HashForShare(helper.Self()).Commit(commitData(publicX, partImages)...)
	if err != nil {
		return nil, fmt.Errorf("keygen: %w", err)
	}

	return &round1{
		Helper:      helper,
		behaviour:   behaviour,
		x:            x,
		parts:        parts,
		publicX:      publicX,
		partImages:   partImages,
		images:       images,
		commitment:   commitment,
		decommitment: decommitment,
		commitments:  make(map[party.ShareIndex]hash.Commitment, n),
		faults:       round.Faults{},
		in:           newInbox(helper.OtherShares(), true, false),
	}, nil
}

func commitData(publicX []byte, partImages [][]byte) []interface{} {
	data := make([]interface{}, 0, len(partImages)+1)
	data = append(data, publicX)
	for _, p := range partImages {
		data = append(data, p)
	}
	return data
}

// Number implements round.Round.
func (r *round1) Number() round.Number { return 1 }

// BroadcastOut implements round.Round.
func (r *round1) BroadcastOut() []byte {
	data, _ := cbor.Marshal(&message1{Commitment: r.commitment})
	return data
}

// P2PsOut implements round.Round.
func (r *round1) P2PsOut() []round.P2P { return nil }

// Accept implements round.Round.
func (r *round1) Accept(from party.ShareIndex, _ round.Kind, payload []byte) error {
	if int(from) >= r.N() {
		return fmt.Errorf("keygen: share %d out of range", from)
	}
	if !r.in.expects(from) || r.in.broadcasts[from] {
		return nil
	}
	var msg message1
	if err := cbor.Unmarshal(payload, &msg); err != nil || msg.Commitment.Validate() != nil {
		r.reject(r.in, from, round.FaultCorruptedMessage)
		return nil
	}
	r.commitments[from] = msg.Commitment
	r.in.broadcasts[from] = true
	return nil
}

// reject records a fault against from, and stops waiting for its messages in the current round.
func (r *round1) reject(in *inbox, from party.ShareIndex, f round.Fault) {
	r.faults.Set(from, f)
	in.dropped[from] = true
}

// ExpectingMore implements round.Round.
func (r *round1) ExpectingMore() bool { return r.in.pending() }

// Advance implements round.Round.
func (r *round1) Advance() (round.Round, error) {
	images := make(map[party.ShareIndex][]*curve.Point, r.N())
	images[r.Self()] = r.images
	publicKeys := make(map[party.ShareIndex]*curve.Point, r.N())
	publicKeys[r.Self()] = r.x.ActOnBase()
	return &round2{
		round1:     r,
		images:     images,
		publicKeys: publicKeys,
		received:   make(map[party.ShareIndex][]byte, r.N()),
		in:         newInbox(r.healthy(), true, true),
	}, nil
}

// healthy returns the other shares that have not been found faulty yet.
func (r *round1) healthy() []party.ShareIndex {
	out := make([]party.ShareIndex, 0, r.N())
	for _, j := range r.OtherShares() {
		if _, faulty := r.faults[j]; !faulty {
			out = append(out, j)
		}
	}
	return out
}
