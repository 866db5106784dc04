package round

import (
	"fmt"
	"sort"

	"github.com/taurusgroup/tssd/pkg/party"
)

// Fault is the reason the engine holds a share responsible for a failed execution.
type Fault uint8

const (
	// FaultMissingMessage means an expected message never arrived.
	FaultMissingMessage Fault = iota + 1
	// FaultCorruptedMessage means a message arrived but could not be decoded.
	FaultCorruptedMessage
	// FaultProtocol means a well-formed message violated the protocol.
	FaultProtocol
)

func (f Fault) String() string {
	switch f {
	case FaultMissingMessage:
		return "missing message"
	case FaultCorruptedMessage:
		return "corrupted message"
	case FaultProtocol:
		return "protocol fault"
	default:
		return fmt.Sprintf("fault(%d)", uint8(f))
	}
}

// Faults maps faulty shares to the first fault they were found guilty of.
type Faults map[party.ShareIndex]Fault

// Set records f against share, unless a fault was already recorded for it.
func (fs Faults) Set(share party.ShareIndex, f Fault) {
	if _, ok := fs[share]; !ok {
		fs[share] = f
	}
}

// ShareFault is a single entry of Faults.
type ShareFault struct {
	Share party.ShareIndex
	Fault Fault
}

// Sorted returns the faults in increasing share index order.
func (fs Faults) Sorted() []ShareFault {
	out := make([]ShareFault, 0, len(fs))
	for share, f := range fs {
		out = append(out, ShareFault{Share: share, Fault: f})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Share < out[j].Share })
	return out
}
