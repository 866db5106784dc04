package round

import (
	"errors"

	"github.com/taurusgroup/tssd/pkg/party"
)

var errFinalized = errors.New("round: protocol already finished")

// Output is an empty round containing the output of the protocol.
type Output struct {
	Result interface{}
}

func (*Output) Number() Number                              { return 0 }
func (*Output) BroadcastOut() []byte                        { return nil }
func (*Output) P2PsOut() []P2P                              { return nil }
func (*Output) Accept(party.ShareIndex, Kind, []byte) error { return errFinalized }
func (*Output) ExpectingMore() bool                         { return false }
func (r *Output) Advance() (Round, error)                   { return r, errFinalized }

// Faulted is an empty round containing the shares that were found to misbehave
// during an otherwise complete execution of the protocol.
type Faulted struct {
	Faults Faults
}

func (*Faulted) Number() Number                              { return 0 }
func (*Faulted) BroadcastOut() []byte                        { return nil }
func (*Faulted) P2PsOut() []P2P                              { return nil }
func (*Faulted) Accept(party.ShareIndex, Kind, []byte) error { return errFinalized }
func (*Faulted) ExpectingMore() bool                         { return false }
func (r *Faulted) Advance() (Round, error)                   { return r, errFinalized }
