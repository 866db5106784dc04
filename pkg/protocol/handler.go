package protocol

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/taurusgroup/tssd/internal/log"
	"github.com/taurusgroup/tssd/internal/round"
	"github.com/taurusgroup/tssd/pkg/party"
)

// Config holds the parameters of a Handler that are not provided by the engine.
type Config struct {
	// SessionID is written to every outgoing envelope; incoming envelopes with a different one are discarded.
	SessionID []byte
	// DisputeRound is the round in which point-to-point payloads are dispute payloads.
	// 0 means the protocol has no dispute round.
	DisputeRound round.Number
}

// Status is the lifecycle stage of a Handler.
type Status uint8

const (
	StatusRunning Status = iota
	StatusCompleted
	StatusFaulted
	StatusAborted
)

// State is a snapshot of the progress of a Handler.
type State struct {
	Status Status
	// Round is the round being executed, only meaningful while running.
	Round round.Number
}

func (s State) String() string {
	switch s.Status {
	case StatusRunning:
		return fmt.Sprintf("Running(%d)", s.Round)
	case StatusCompleted:
		return "Completed"
	case StatusFaulted:
		return "Faulted"
	case StatusAborted:
		return "Aborted"
	default:
		return fmt.Sprintf("Status(%d)", uint8(s.Status))
	}
}

// Result is the outcome of a protocol execution that ran until the end.
// Exactly one of Output and Faults is set.
type Result struct {
	Output interface{}
	Faults round.Faults
}

// Handler represents the execution of a protocol by a single share.
// It pushes the engine's outgoing payloads to the Outbox and feeds it the payloads read from the inbound stream,
// one round at a time.
type Handler struct {
	cfg    Config
	r      round.Round
	shares *party.ShareMap
	self   party.ShareIndex
	selfID party.ID

	in  <-chan *TrafficIn
	out *Outbox

	queue *queue
	log   log.Logger

	mtx    sync.Mutex
	state  State
	rounds int
}

// NewHandler returns a Handler that executes the protocol starting at round first, on behalf of share self.
func NewHandler(cfg Config, first round.Round, shares *party.ShareMap, self party.ShareIndex,
	in <-chan *TrafficIn, out *Outbox, l log.Logger) (*Handler, error) {
	if first == nil {
		return nil, errors.New("protocol: missing first round")
	}
	selfID, err := shares.PartyOf(self)
	if err != nil {
		return nil, fmt.Errorf("protocol: %w", err)
	}
	if l == nil {
		l = log.DefaultLogger()
	}
	return &Handler{
		cfg:    cfg,
		r:      first,
		shares: shares,
		self:   self,
		selfID: selfID,
		in:     in,
		out:    out,
		queue:  &queue{},
		log:    l.With("party", string(selfID), "share", uint32(self)),
		state:  State{Status: StatusRunning, Round: first.Number()},
	}, nil
}

// State returns the current state of the execution.
func (h *Handler) State() State {
	h.mtx.Lock()
	defer h.mtx.Unlock()
	return h.state
}

// Rounds returns the number of rounds completed so far.
func (h *Handler) Rounds() int {
	h.mtx.Lock()
	defer h.mtx.Unlock()
	return h.rounds
}

func (h *Handler) setState(s State) {
	h.mtx.Lock()
	h.state = s
	h.mtx.Unlock()
}

// Run executes the protocol until the engine produces an output or a set of faults.
//
// The returned error is a protocol.Error, and is either an abort (errors.Is(err, ErrAborted)),
// a routing error, or a failure of the engine.
func (h *Handler) Run() (*Result, error) {
	h.log.Debugw("start")
	for {
		number := h.r.Number()
		h.setState(State{Status: StatusRunning, Round: number})
		l := h.log.With("round", uint16(number))

		if err := h.send(number); err != nil {
			return nil, h.fail(err)
		}

		if h.queue.Timeout(number) {
			l.Warnw("timeout signal received before the round started")
			return nil, h.fail(Error{RoundNumber: number, Err: ErrTimeout})
		}

		for _, msg := range h.queue.Get(number) {
			l.Debugw("replaying queued message", "from", msg.fromUID, "envelope", msg.from.String())
			if err := h.accept(msg.fromUID, msg.from); err != nil {
				return nil, h.fail(err)
			}
		}

		for h.r.ExpectingMore() {
			msg, ok := <-h.in
			if !ok {
				l.Warnw("inbound stream closed")
				return nil, h.fail(Error{RoundNumber: number, Err: ErrStreamClosed})
			}
			if err := h.receive(l, number, msg); err != nil {
				return nil, h.fail(err)
			}
		}

		next, err := h.r.Advance()
		if err != nil {
			return nil, h.fail(Error{RoundNumber: number, Err: fmt.Errorf("%w: %v", ErrRoundFailed, err)})
		}
		h.mtx.Lock()
		h.rounds++
		h.mtx.Unlock()

		switch r := next.(type) {
		case *round.Output:
			h.setState(State{Status: StatusCompleted})
			l.Infow("protocol completed")
			return &Result{Output: r.Result}, nil
		case *round.Faulted:
			h.setState(State{Status: StatusFaulted})
			l.Warnw("protocol completed with faults", "faults", len(r.Faults))
			return &Result{Faults: r.Faults}, nil
		case nil:
			return nil, h.fail(Error{RoundNumber: number, Err: fmt.Errorf("%w: engine returned no round", ErrRoundFailed)})
		}

		if next.Number() <= number {
			return nil, h.fail(Error{
				RoundNumber: number,
				Err:         fmt.Errorf("%w: engine went from round %d to %d", ErrRoundFailed, number, next.Number()),
			})
		}
		h.r = next
		l.Debugw("round advanced", "next", uint16(next.Number()))
	}
}

func (h *Handler) fail(err error) error {
	h.setState(State{Status: StatusAborted})
	h.log.Errorw("protocol aborted", "err", err)
	return err
}

// send hands all outgoing payloads of the current round to the Outbox.
func (h *Handler) send(number round.Number) error {
	if b := h.r.BroadcastOut(); b != nil {
		if err := h.sendEnvelope(number, "", &Envelope{
			SSID:        h.cfg.SessionID,
			FromShare:   h.self,
			Broadcast:   true,
			RoundNumber: number,
			Kind:        round.KindOf(number, h.cfg.DisputeRound, true),
			Body:        b,
		}); err != nil {
			return err
		}
	}

	for _, p2p := range h.r.P2PsOut() {
		to, err := h.shares.PartyOf(p2p.To)
		if err != nil {
			return Error{RoundNumber: number, Err: fmt.Errorf("%w: %v", ErrRoundFailed, err)}
		}
		if err = h.sendEnvelope(number, to, &Envelope{
			SSID:        h.cfg.SessionID,
			FromShare:   h.self,
			ToShare:     p2p.To,
			RoundNumber: number,
			Kind:        round.KindOf(number, h.cfg.DisputeRound, false),
			Body:        p2p.Payload,
		}); err != nil {
			return err
		}
	}
	return nil
}

func (h *Handler) sendEnvelope(number round.Number, to party.ID, env *Envelope) error {
	data, err := env.Marshal()
	if err != nil {
		return Error{RoundNumber: number, Err: fmt.Errorf("%w: %v", ErrRoundFailed, err)}
	}
	msg := &TrafficOut{
		To:        to,
		Payload:   data,
		Broadcast: env.Broadcast,
		Round:     number.String(),
	}
	if err = h.out.Send(msg); err != nil {
		return Error{RoundNumber: number, Err: err}
	}
	return nil
}

// receive validates a message from the inbound stream and delivers it to the engine,
// stores it for a later round or discards it.
func (h *Handler) receive(l log.Logger, number round.Number, msg *TrafficIn) error {
	if msg == nil {
		l.Warnw("ignoring empty inbound message")
		return nil
	}

	if target, ok := parseTimeout(msg.Payload); ok {
		switch {
		case target == 0 || target == number:
			l.Warnw("timeout signal received", "from", string(msg.From))
			return Error{RoundNumber: number, Err: ErrTimeout}
		case target > number && target <= h.lastRound(number):
			l.Debugw("storing timeout signal for a future round", "target", uint16(target))
			h.queue.StoreTimeout(target)
			return nil
		}
		l.Debugw("discarding timeout signal for another round", "target", uint16(target))
		return nil
	}

	if _, ok := h.shares.IndexOf(msg.From); !ok {
		return Error{RoundNumber: number, Culprit: msg.From, Err: ErrUnknownSender}
	}

	env, err := UnmarshalEnvelope(msg.Payload)
	if err != nil {
		return Error{RoundNumber: number, Culprit: msg.From, Err: err}
	}

	if !h.shares.Owns(msg.From, env.FromShare) {
		return Error{
			RoundNumber: number,
			Culprit:     msg.From,
			Err:         fmt.Errorf("%w: share %d", ErrImpersonation, env.FromShare),
		}
	}

	if !bytes.Equal(env.SSID, h.cfg.SessionID) {
		l.Warnw("discarding message from another session", "from", string(msg.From))
		return nil
	}

	if env.FromShare == h.self {
		return nil
	}

	if env.Broadcast != msg.Broadcast {
		l.Warnw("discarding message with inconsistent broadcast flag", "from", string(msg.From), "envelope", env.String())
		return nil
	}

	if !env.Broadcast && env.ToShare != h.self {
		l.Debugw("discarding message for another share", "from", string(msg.From), "to", uint32(env.ToShare))
		return nil
	}

	switch {
	case env.RoundNumber < number:
		l.Debugw("discarding message for a completed round", "from", string(msg.From), "envelope", env.String())
		return nil
	case env.RoundNumber > h.lastRound(number):
		l.Warnw("discarding message for a round past the end of the protocol", "from", string(msg.From), "envelope", env.String())
		return nil
	case env.RoundNumber > number:
		if !h.queue.Store(string(msg.From), env) {
			l.Debugw("discarding duplicate future message", "from", string(msg.From), "envelope", env.String())
			return nil
		}
		l.Debugw("storing message for a future round", "from", string(msg.From), "envelope", env.String())
		return nil
	}

	return h.accept(string(msg.From), env)
}

// maxRoundsAhead bounds the rounds for which messages are queued
// when the engine does not report its final round.
const maxRoundsAhead = 4

// lastRound returns the last round for which messages are kept while executing round number.
func (h *Handler) lastRound(number round.Number) round.Number {
	if f, ok := h.r.(interface{ FinalRoundNumber() round.Number }); ok {
		return f.FinalRoundNumber()
	}
	if number > round.Number(math.MaxUint16-maxRoundsAhead) {
		return round.Number(math.MaxUint16)
	}
	return number + maxRoundsAhead
}

// accept hands an envelope for the current round to the engine.
func (h *Handler) accept(fromUID string, env *Envelope) error {
	number := h.r.Number()
	if expected := round.KindOf(number, h.cfg.DisputeRound, env.Broadcast); env.Kind != expected {
		h.log.Warnw("discarding message with unexpected kind",
			"round", uint16(number), "from", fromUID, "kind", env.Kind.String(), "expected", expected.String())
		return nil
	}
	if err := h.r.Accept(env.FromShare, env.Kind, env.Body); err != nil {
		return Error{
			RoundNumber: number,
			Culprit:     party.ID(fromUID),
			Err:         fmt.Errorf("%w: %v", ErrRoundFailed, err),
		}
	}
	return nil
}
