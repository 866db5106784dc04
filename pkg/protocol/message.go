package protocol

import (
	"bytes"
	"fmt"
	"strconv"

	"github.com/fxamacker/cbor/v2"
	"github.com/taurusgroup/tssd/internal/round"
	"github.com/taurusgroup/tssd/pkg/party"
)

// TrafficIn is a message received from the client, originating from another party.
type TrafficIn struct {
	From      party.ID `cbor:"1,keyasint"`
	Payload   []byte   `cbor:"2,keyasint"`
	Broadcast bool     `cbor:"3,keyasint"`
}

// String implements fmt.Stringer.
func (m TrafficIn) String() string {
	return fmt.Sprintf("traffic in: from %s, broadcast %t, %d bytes", m.From, m.Broadcast, len(m.Payload))
}

// TrafficOut is a message the client must deliver to other parties.
type TrafficOut struct {
	// To is the recipient, or "" for a broadcast message.
	To        party.ID `cbor:"1,keyasint"`
	Payload   []byte   `cbor:"2,keyasint"`
	Broadcast bool     `cbor:"3,keyasint"`
	// Round is the decimal round number the message was produced in.
	Round string `cbor:"4,keyasint"`
}

// String implements fmt.Stringer.
func (m TrafficOut) String() string {
	return fmt.Sprintf("traffic out: round %s, to %q, broadcast %t, %d bytes", m.Round, m.To, m.Broadcast, len(m.Payload))
}

// IsFor returns true if the message should be delivered to the party id.
func (m TrafficOut) IsFor(id party.ID) bool {
	return m.Broadcast || m.To == id
}

// Envelope frames an engine payload with the routing information the Handler needs.
// It is what travels inside TrafficIn.Payload and TrafficOut.Payload.
type Envelope struct {
	// SSID is a byte string which uniquely identifies the session this message belongs to.
	SSID []byte `cbor:"1,keyasint"`
	// FromShare is the share of the sender that produced the payload.
	FromShare party.ShareIndex `cbor:"2,keyasint"`
	// ToShare is the recipient share for point-to-point payloads, ignored for broadcasts.
	ToShare party.ShareIndex `cbor:"3,keyasint"`
	// Broadcast is true if the payload is the same for all recipients.
	Broadcast bool `cbor:"4,keyasint"`
	// RoundNumber is the index of the round this message belongs to.
	RoundNumber round.Number `cbor:"5,keyasint"`
	// Kind distinguishes the standard payload from the dispute payload of the dispute round.
	Kind round.Kind `cbor:"6,keyasint"`
	// Body is the actual content consumed by the round.
	Body []byte `cbor:"7,keyasint"`
}

// String implements fmt.Stringer.
func (e Envelope) String() string {
	if e.Broadcast {
		return fmt.Sprintf("envelope: round %d, from share %d, broadcast, %s", e.RoundNumber, e.FromShare, e.Kind)
	}
	return fmt.Sprintf("envelope: round %d, from share %d, to share %d, %s", e.RoundNumber, e.FromShare, e.ToShare, e.Kind)
}

// Marshal returns the CBOR encoding of the envelope.
func (e *Envelope) Marshal() ([]byte, error) {
	return cbor.Marshal(e)
}

// UnmarshalEnvelope decodes a CBOR encoded Envelope.
func UnmarshalEnvelope(data []byte) (*Envelope, error) {
	var e Envelope
	if err := cbor.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return &e, nil
}

// TimeoutPayload is the reserved payload a client sends instead of protocol data
// to abort the current round.
var TimeoutPayload = []byte("timeout")

// TimeoutPayloadFor returns the sentinel that aborts round r only.
func TimeoutPayloadFor(r round.Number) []byte {
	return append(append([]byte{}, TimeoutPayload...), r.String()...)
}

// parseTimeout reports whether payload is the abort sentinel, and for which round.
// A bare sentinel applies to any round and is reported with round 0.
func parseTimeout(payload []byte) (round.Number, bool) {
	if !bytes.HasPrefix(payload, TimeoutPayload) {
		return 0, false
	}
	suffix := payload[len(TimeoutPayload):]
	if len(suffix) == 0 {
		return 0, true
	}
	for _, c := range suffix {
		if c < '0' || c > '9' {
			return 0, false
		}
	}
	n, err := strconv.ParseUint(string(suffix), 10, 16)
	if err != nil || n == 0 {
		return 0, false
	}
	return round.Number(n), true
}
