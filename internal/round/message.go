package round

import (
	"fmt"

	"github.com/taurusgroup/tssd/pkg/party"
)

// Kind distinguishes the two kinds of payload that may share a single round.
type Kind uint8

const (
	// KindStandard is the regular payload of a round.
	KindStandard Kind = iota
	// KindDispute is the side-channel dispute payload, exchanged point-to-point
	// during the dispute round only.
	KindDispute
)

func (k Kind) String() string {
	switch k {
	case KindStandard:
		return "standard"
	case KindDispute:
		return "dispute"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// KindOf returns the kind of a payload sent during round r, given the protocol's dispute round.
// A disputeRound of 0 means the protocol has none.
func KindOf(r, disputeRound Number, broadcast bool) Kind {
	if disputeRound != 0 && r == disputeRound && !broadcast {
		return KindDispute
	}
	return KindStandard
}

// P2P is a payload addressed to a single share.
type P2P struct {
	To      party.ShareIndex
	Payload []byte
}
