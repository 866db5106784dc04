package round

import (
	"fmt"

	"github.com/taurusgroup/tssd/pkg/party"
)

// ProcessRounds executes a single round for every share in rounds, delivering all
// outgoing payloads directly to their recipients, and advances each round.
// The rounds map is updated in place with the next rounds.
//
// It is used to test engines without a network or a protocol.Handler.
func ProcessRounds(rounds map[party.ShareIndex]Round, disputeRound Number) error {
	for from, r := range rounds {
		n := r.Number()
		if b := r.BroadcastOut(); b != nil {
			for to, other := range rounds {
				if to == from {
					continue
				}
				if err := other.Accept(from, KindOf(n, disputeRound, true), b); err != nil {
					return fmt.Errorf("share %d: accept broadcast from %d: %w", to, from, err)
				}
			}
		}
		for _, p2p := range r.P2PsOut() {
			other, ok := rounds[p2p.To]
			if !ok {
				return fmt.Errorf("share %d: p2p to unknown share %d", from, p2p.To)
			}
			if err := other.Accept(from, KindOf(n, disputeRound, false), p2p.Payload); err != nil {
				return fmt.Errorf("share %d: accept p2p from %d: %w", p2p.To, from, err)
			}
		}
	}

	for idx, r := range rounds {
		if r.ExpectingMore() {
			return fmt.Errorf("share %d: round %d still expecting messages", idx, r.Number())
		}
	}

	for idx, r := range rounds {
		next, err := r.Advance()
		if err != nil {
			return fmt.Errorf("share %d: %w", idx, err)
		}
		rounds[idx] = next
	}
	return nil
}

// RunAll calls ProcessRounds until every round is an *Output or a *Faulted.
func RunAll(rounds map[party.ShareIndex]Round, disputeRound Number) error {
	for {
		done := true
		for _, r := range rounds {
			switch r.(type) {
			case *Output, *Faulted:
			default:
				done = false
			}
		}
		if done {
			return nil
		}
		if err := ProcessRounds(rounds, disputeRound); err != nil {
			return err
		}
	}
}
