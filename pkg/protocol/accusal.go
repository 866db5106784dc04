package protocol

import (
	"fmt"

	"github.com/taurusgroup/tssd/internal/round"
	"github.com/taurusgroup/tssd/pkg/party"
)

// CrimeType classifies a fault for the client.
type CrimeType uint8

const (
	// NonMalicious is reported for parties whose messages were missing or could not be decoded.
	NonMalicious CrimeType = iota
	// Malicious is reported for parties whose messages violated the protocol.
	Malicious
)

func (c CrimeType) String() string {
	switch c {
	case NonMalicious:
		return "NonMalicious"
	case Malicious:
		return "Malicious"
	default:
		return fmt.Sprintf("CrimeType(%d)", uint8(c))
	}
}

// CrimeTypeOf returns the classification of an engine fault.
func CrimeTypeOf(f round.Fault) CrimeType {
	if f == round.FaultProtocol {
		return Malicious
	}
	return NonMalicious
}

// Criminal is a party accused by a faulted protocol execution.
type Criminal struct {
	Party     party.ID  `cbor:"1,keyasint"`
	CrimeType CrimeType `cbor:"2,keyasint"`
}

// Accuse translates the faults reported by the engine into the list of criminals sent to the client,
// one per faulted share, in increasing share order.
func Accuse(faults round.Faults, shares *party.ShareMap) ([]Criminal, error) {
	sorted := faults.Sorted()
	criminals := make([]Criminal, 0, len(sorted))
	for _, f := range sorted {
		id, err := shares.PartyOf(f.Share)
		if err != nil {
			return nil, fmt.Errorf("accuse: %w", err)
		}
		criminals = append(criminals, Criminal{Party: id, CrimeType: CrimeTypeOf(f.Fault)})
	}
	return criminals, nil
}
