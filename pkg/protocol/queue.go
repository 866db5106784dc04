package protocol

import (
	"github.com/taurusgroup/tssd/internal/round"
)

// queue holds envelopes that arrived for a round the handler has not reached yet.
type queue struct {
	messages []*queued
	// timeouts holds the rounds for which an abort signal arrived early.
	timeouts map[round.Number]bool
}

type queued struct {
	from    *Envelope
	fromUID string
}

// Store keeps env until its round starts. A message already stored with the same sender,
// recipient, round and kind is dropped, and false is returned.
func (q *queue) Store(fromUID string, env *Envelope) bool {
	for _, existing := range q.messages {
		e := existing.from
		if e.FromShare == env.FromShare && e.RoundNumber == env.RoundNumber &&
			e.Broadcast == env.Broadcast && e.ToShare == env.ToShare && e.Kind == env.Kind {
			return false
		}
	}
	q.messages = append(q.messages, &queued{from: env, fromUID: fromUID})
	return true
}

// Get removes and returns the envelopes stored for roundNumber, in arrival order.
// Envelopes for earlier rounds are dropped.
func (q *queue) Get(roundNumber round.Number) []*queued {
	out := make([]*queued, 0, len(q.messages))
	remaining := make([]*queued, 0, len(q.messages))
	for _, msg := range q.messages {
		switch {
		case msg.from.RoundNumber == roundNumber:
			out = append(out, msg)
		case msg.from.RoundNumber > roundNumber:
			remaining = append(remaining, msg)
		}
	}
	q.messages = remaining
	return out
}

// StoreTimeout records an abort signal for roundNumber.
func (q *queue) StoreTimeout(roundNumber round.Number) {
	if q.timeouts == nil {
		q.timeouts = make(map[round.Number]bool)
	}
	q.timeouts[roundNumber] = true
}

// Timeout reports whether an abort signal was stored for roundNumber.
// Signals for roundNumber and earlier rounds are removed.
func (q *queue) Timeout(roundNumber round.Number) bool {
	found := q.timeouts[roundNumber]
	for n := range q.timeouts {
		if n <= roundNumber {
			delete(q.timeouts, n)
		}
	}
	return found
}

// Len returns the number of envelopes waiting.
func (q *queue) Len() int { return len(q.messages) }
