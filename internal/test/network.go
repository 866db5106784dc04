package test

import (
	"sync"

	"github.com/taurusgroup/tssd/pkg/party"
	"github.com/taurusgroup/tssd/pkg/protocol"
)

// bufferSize is the number of messages a party can have in flight before Send blocks.
const bufferSize = 4096

// Network plays the role of the clients of several daemons, relaying their traffic to each other.
type Network struct {
	parties          party.IDSlice
	listenChannels   map[party.ID]chan *protocol.TrafficIn
	closedListenChan chan *protocol.TrafficIn
	mtx              sync.Mutex
}

func NewNetwork(parties party.IDSlice) *Network {
	closed := make(chan *protocol.TrafficIn)
	close(closed)
	n := &Network{
		parties:          parties.Copy(),
		listenChannels:   make(map[party.ID]chan *protocol.TrafficIn, len(parties)),
		closedListenChan: closed,
	}
	for _, id := range parties {
		n.listenChannels[id] = make(chan *protocol.TrafficIn, bufferSize)
	}
	return n
}

// Next returns the inbound stream of id. It is closed once Done(id) or Quit(id) is called.
func (n *Network) Next(id party.ID) <-chan *protocol.TrafficIn {
	n.mtx.Lock()
	defer n.mtx.Unlock()
	c, ok := n.listenChannels[id]
	if !ok {
		return n.closedListenChan
	}
	return c
}

// Send delivers msg from party from to its recipients, excluding from itself.
func (n *Network) Send(from party.ID, msg *protocol.TrafficOut) {
	n.mtx.Lock()
	defer n.mtx.Unlock()
	for id, c := range n.listenChannels {
		if id == from || !msg.IsFor(id) {
			continue
		}
		c <- &protocol.TrafficIn{From: from, Payload: msg.Payload, Broadcast: msg.Broadcast}
	}
}

// Inject delivers an arbitrary message to id, as if its client had received it.
func (n *Network) Inject(id party.ID, msg *protocol.TrafficIn) {
	n.mtx.Lock()
	defer n.mtx.Unlock()
	if c, ok := n.listenChannels[id]; ok {
		c <- msg
	}
}

// Done stops delivering messages to id, whose session has ended.
func (n *Network) Done(id party.ID) {
	n.mtx.Lock()
	defer n.mtx.Unlock()
	if c, ok := n.listenChannels[id]; ok {
		close(c)
		delete(n.listenChannels, id)
	}
}

// Quit closes the stream of id, and removes it from the parties of the network.
func (n *Network) Quit(id party.ID) {
	n.Done(id)
	n.mtx.Lock()
	defer n.mtx.Unlock()
	n.parties = n.parties.Remove(id)
}

// Parties returns the parties still connected to the network.
func (n *Network) Parties() party.IDSlice {
	n.mtx.Lock()
	defer n.mtx.Unlock()
	return n.parties.Copy()
}
