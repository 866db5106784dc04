package protocol

import (
	"errors"
	"sync"
)

var errOutboxClosed = errors.New("protocol: outbox closed")

// Outbox is an unbounded FIFO of outgoing messages shared by the handlers of a session.
// Send never blocks; the messages are delivered in order on C.
type Outbox struct {
	mtx     sync.Mutex
	pending []*TrafficOut
	closed  bool

	signal chan struct{}
	c      chan *TrafficOut
}

// NewOutbox returns an empty Outbox, ready to be used.
func NewOutbox() *Outbox {
	o := &Outbox{
		signal: make(chan struct{}, 1),
		c:      make(chan *TrafficOut),
	}
	go o.pump()
	return o
}

// Send queues msg for delivery.
func (o *Outbox) Send(msg *TrafficOut) error {
	o.mtx.Lock()
	if o.closed {
		o.mtx.Unlock()
		return errOutboxClosed
	}
	o.pending = append(o.pending, msg)
	o.mtx.Unlock()
	o.notify()
	return nil
}

// C returns the channel on which queued messages are delivered.
// It is closed after Close was called and every queued message was received.
func (o *Outbox) C() <-chan *TrafficOut {
	return o.c
}

// Close prevents further sends. Messages already queued are still delivered.
func (o *Outbox) Close() {
	o.mtx.Lock()
	o.closed = true
	o.mtx.Unlock()
	o.notify()
}

func (o *Outbox) notify() {
	select {
	case o.signal <- struct{}{}:
	default:
	}
}

func (o *Outbox) pump() {
	defer close(o.c)
	for {
		o.mtx.Lock()
		batch := o.pending
		o.pending = nil
		closed := o.closed
		o.mtx.Unlock()

		for _, msg := range batch {
			o.c <- msg
		}
		if len(batch) > 0 {
			continue
		}
		if closed {
			return
		}
		<-o.signal
	}
}
