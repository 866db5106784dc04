package service

import (
	"github.com/taurusgroup/tssd/pkg/protocol"
)

// KeygenInit is the first message of a keygen session.
type KeygenInit struct {
	NewKeyUID string   `cbor:"1,keyasint"`
	PartyUIDs []string `cbor:"2,keyasint"`
	// PartyShareCounts defaults to one share per party when empty.
	PartyShareCounts []uint32 `cbor:"3,keyasint"`
	MyPartyIndex     uint32   `cbor:"4,keyasint"`
	Threshold        uint32   `cbor:"5,keyasint"`
}

// SignInit is the first message of a sign session.
type SignInit struct {
	NewSigUID     string   `cbor:"1,keyasint"`
	KeyUID        string   `cbor:"2,keyasint"`
	PartyUIDs     []string `cbor:"3,keyasint"`
	MessageToSign []byte   `cbor:"4,keyasint"`
}

// KeygenOutput is what a successful keygen returns to the client.
type KeygenOutput struct {
	PublicKey []byte `cbor:"1,keyasint"`
	// RecoveryInfo holds one sealed share per share of this party, in increasing share order.
	RecoveryInfo [][]byte `cbor:"2,keyasint"`
}

// RecoverRequest asks the daemon to rebuild the record of a key from the output of its keygen.
type RecoverRequest struct {
	KeygenInit   KeygenInit   `cbor:"1,keyasint"`
	KeygenOutput KeygenOutput `cbor:"2,keyasint"`
}

// KeygenResult is the terminal message of a keygen session that ran to the end.
// Exactly one of Data and Criminals is set.
type KeygenResult struct {
	Data      *KeygenOutput       `cbor:"1,keyasint,omitempty"`
	Criminals []protocol.Criminal `cbor:"2,keyasint,omitempty"`
}

// SignResult is the terminal message of a sign session that ran to the end.
// Exactly one of Signature and Criminals is set.
type SignResult struct {
	Signature []byte              `cbor:"1,keyasint,omitempty"`
	Criminals []protocol.Criminal `cbor:"2,keyasint,omitempty"`
}

// MessageOut is a message sent to the client during a session. Exactly one field is set.
// Every session ends with exactly one message that is not Traffic.
type MessageOut struct {
	Traffic      *protocol.TrafficOut `cbor:"1,keyasint,omitempty"`
	KeygenResult *KeygenResult        `cbor:"2,keyasint,omitempty"`
	SignResult   *SignResult          `cbor:"3,keyasint,omitempty"`
	// NeedRecover is sent instead of a SignResult when the key is not stored.
	NeedRecover bool   `cbor:"4,keyasint,omitempty"`
	Error       string `cbor:"5,keyasint,omitempty"`
}

// IsTerminal returns true for the last message of a session.
func (m *MessageOut) IsTerminal() bool {
	return m.Traffic == nil
}

// Presence is the answer to a key presence request.
type Presence uint8

const (
	PresenceUnspecified Presence = iota
	Present
	Absent
	PresenceFail
)

func (p Presence) String() string {
	switch p {
	case Present:
		return "Present"
	case Absent:
		return "Absent"
	case PresenceFail:
		return "Fail"
	default:
		return "Unspecified"
	}
}
