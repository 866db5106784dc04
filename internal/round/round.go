package round

import "github.com/taurusgroup/tssd/pkg/party"

// Round is the capability a cryptographic engine exposes for a single round of a protocol
// executed by one share.
//
// The engine is opaque to the rest of the daemon: payloads are plain bytes, and parties are
// referred to by share index only. Any implementation can be driven by protocol.Handler.
type Round interface {
	// Number returns the index of this round, starting at 1.
	Number() Number

	// BroadcastOut returns the payload that must be sent to all parties in this round,
	// or nil if the round has no broadcast.
	BroadcastOut() []byte

	// P2PsOut returns the payloads addressed to specific shares in this round.
	P2PsOut() []P2P

	// Accept hands a payload received from share `from` to the round.
	// kind is KindDispute only for point-to-point payloads of the dispute round.
	//
	// Malformed payloads are not an error: the engine records a fault against the sender
	// and carries on. An error is only returned when the call itself is invalid, for example
	// when from is out of range.
	Accept(from party.ShareIndex, kind Kind, payload []byte) error

	// ExpectingMore returns true while the round still needs messages before it can advance.
	ExpectingMore() bool

	// Advance finalizes the round. It returns either the next Round, an *Output if the
	// protocol completed successfully, or a *Faulted if it completed with faults.
	// An error indicates that the computation itself failed.
	Advance() (Round, error)
}
