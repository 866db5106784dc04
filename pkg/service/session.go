package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/taurusgroup/tssd/internal/log"
	"github.com/taurusgroup/tssd/internal/round"
	"github.com/taurusgroup/tssd/pkg/party"
	"github.com/taurusgroup/tssd/pkg/protocol"
)

// inboxSize is the buffer of the channel feeding each local share.
const inboxSize = 64

// session is a protocol execution on behalf of every share of the local party.
type session struct {
	kind    string
	ssid    []byte
	shares  *party.ShareMap
	self    party.ID
	locals  []party.ShareIndex
	dispute round.Number
	log     log.Logger
}

func (s *Service) newSession(kind, uid string, ssid []byte, shares *party.ShareMap, self party.ID, dispute round.Number) (*session, error) {
	locals, err := shares.SharesOf(self)
	if err != nil {
		return nil, fmt.Errorf("service: %w", err)
	}
	return &session{
		kind:    kind,
		ssid:    ssid,
		shares:  shares,
		self:    self,
		locals:  locals,
		dispute: dispute,
		log:     s.log.With("session", uuid.NewString(), "kind", kind, "uid", uid),
	}, nil
}

// outcome is the merged result of the handlers of a session.
type outcome struct {
	// outputs holds the output of each local share, in the order of session.locals.
	outputs []interface{}
	faults  round.Faults
	rounds  int
}

// execute runs one protocol.Handler per local share until all of them are done.
//
// Inbound traffic is copied to every local share. Outgoing traffic is forwarded to the client,
// and looped back to the local shares when it is addressed to this party.
// If any handler fails, the others are stopped and the first error is returned.
func (sess *session) execute(ctx context.Context, firsts []round.Round, in <-chan *protocol.TrafficIn, out chan<- *MessageOut) (*outcome, error) {
	n := len(sess.locals)
	if len(firsts) != n {
		return nil, fmt.Errorf("service: %d engines for %d local shares", len(firsts), n)
	}

	outbox := protocol.NewOutbox()
	inputs := make([]chan *protocol.TrafficIn, n)
	done := make([]chan struct{}, n)
	handlers := make([]*protocol.Handler, n)
	for i, share := range sess.locals {
		inputs[i] = make(chan *protocol.TrafficIn, inboxSize)
		done[i] = make(chan struct{})
		h, err := protocol.NewHandler(protocol.Config{SessionID: sess.ssid, DisputeRound: sess.dispute},
			firsts[i], sess.shares, share, inputs[i], outbox, sess.log)
		if err != nil {
			return nil, err
		}
		handlers[i] = h
	}

	g, gctx := errgroup.WithContext(ctx)
	stop := make(chan struct{})
	loopback := make(chan *protocol.TrafficIn)
	routerDone := make(chan struct{})
	forwarderDone := make(chan struct{})

	go sess.route(gctx, stop, in, loopback, inputs, done, routerDone)
	go sess.forward(ctx, outbox, loopback, out, routerDone, forwarderDone)

	results := make([]*protocol.Result, n)
	for i := range handlers {
		i := i
		g.Go(func() error {
			defer close(done[i])
			result, err := handlers[i].Run()
			if err != nil {
				return err
			}
			results[i] = result
			return nil
		})
	}
	err := g.Wait()

	close(stop)
	outbox.Close()
	<-forwarderDone
	<-routerDone

	if err != nil {
		return nil, err
	}

	o := &outcome{rounds: handlers[0].Rounds()}
	for _, r := range results {
		if len(r.Faults) == 0 {
			continue
		}
		if o.faults == nil {
			o.faults = round.Faults{}
		}
		for _, f := range r.Faults.Sorted() {
			o.faults.Set(f.Share, f.Fault)
		}
	}
	if o.faults != nil {
		return o, nil
	}
	o.outputs = make([]interface{}, n)
	for i, r := range results {
		o.outputs[i] = r.Output
	}
	return o, nil
}

// route copies every inbound message to all local shares until the session is over.
// Closing in closes the input of every local share.
func (sess *session) route(ctx context.Context, stop <-chan struct{}, in <-chan *protocol.TrafficIn,
	loopback <-chan *protocol.TrafficIn, inputs []chan *protocol.TrafficIn, done []chan struct{}, routerDone chan<- struct{}) {
	defer close(routerDone)
	defer func() {
		for _, c := range inputs {
			close(c)
		}
	}()

	deliver := func(msg *protocol.TrafficIn) bool {
		for i := range inputs {
			select {
			case inputs[i] <- msg:
			case <-done[i]:
			case <-ctx.Done():
				return false
			case <-stop:
				return false
			}
		}
		return true
	}

	for {
		var msg *protocol.TrafficIn
		select {
		case m, ok := <-in:
			if !ok {
				sess.log.Debugw("inbound stream closed")
				return
			}
			msg = m
		case msg = <-loopback:
		case <-ctx.Done():
			return
		case <-stop:
			return
		}
		if !deliver(msg) {
			return
		}
	}
}

// forward drains the outbox, sending traffic to the client and looping back what is addressed to this party.
func (sess *session) forward(ctx context.Context, outbox *protocol.Outbox, loopback chan<- *protocol.TrafficIn,
	out chan<- *MessageOut, routerDone <-chan struct{}, forwarderDone chan<- struct{}) {
	defer close(forwarderDone)
	for msg := range outbox.C() {
		if msg.IsFor(sess.self) && (!msg.Broadcast || len(sess.locals) > 1) {
			select {
			case loopback <- &protocol.TrafficIn{From: sess.self, Payload: msg.Payload, Broadcast: msg.Broadcast}:
			case <-routerDone:
			}
		}
		if msg.Broadcast || msg.To != sess.self {
			select {
			case out <- &MessageOut{Traffic: msg}:
			case <-ctx.Done():
			}
		}
	}
}
