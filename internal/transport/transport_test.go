package transport

import (
	"context"
	"errors"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taurusgroup/tssd/internal/log"
	"github.com/taurusgroup/tssd/pkg/protocol"
	"github.com/taurusgroup/tssd/pkg/service"
)

// echoSessions answers every inbound message with a broadcast of the same payload,
// until it reads "done".
type echoSessions struct{}

func (echoSessions) echo(in <-chan *protocol.TrafficIn, out chan<- *service.MessageOut) error {
	for msg := range in {
		if string(msg.Payload) == "done" {
			out <- &service.MessageOut{KeygenResult: &service.KeygenResult{Data: &service.KeygenOutput{PublicKey: []byte("pk")}}}
			return nil
		}
		out <- &service.MessageOut{Traffic: &protocol.TrafficOut{Payload: msg.Payload, Broadcast: true, Round: "1"}}
	}
	out <- &service.MessageOut{Error: "stream closed"}
	return errors.New("stream closed")
}

func (s echoSessions) Keygen(_ context.Context, _ *service.KeygenInit, in <-chan *protocol.TrafficIn, out chan<- *service.MessageOut) error {
	return s.echo(in, out)
}

func (s echoSessions) Sign(_ context.Context, _ *service.SignInit, _ <-chan *protocol.TrafficIn, out chan<- *service.MessageOut) error {
	out <- &service.MessageOut{NeedRecover: true}
	return nil
}

func (echoSessions) Recover(_ context.Context, req *service.RecoverRequest) error {
	if req.KeygenInit.NewKeyUID == "" {
		return errors.New("missing key uid")
	}
	return nil
}

func (echoSessions) KeyPresence(_ context.Context, keyUID string) (service.Presence, error) {
	if keyUID == "key" {
		return service.Present, nil
	}
	return service.Absent, nil
}

func serve(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- NewServer(echoSessions{}, log.Nop()).Serve(ctx, ln) }()
	t.Cleanup(func() {
		cancel()
		require.NoError(t, <-done)
	})
	return ln.Addr().String()
}

func dial(t *testing.T, addr string, req *Request) *Client {
	t.Helper()
	c, err := Dial(context.Background(), addr)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	require.NoError(t, c.Start(req))
	return c
}

func TestStream(t *testing.T) {
	addr := serve(t)
	c := dial(t, addr, &Request{Keygen: &service.KeygenInit{NewKeyUID: "key"}})

	for _, payload := range []string{"a", "b"} {
		require.NoError(t, c.Send(&protocol.TrafficIn{From: "bob", Payload: []byte(payload), Broadcast: true}))
		msg, err := c.Receive()
		require.NoError(t, err)
		require.NotNil(t, msg.Traffic)
		assert.Equal(t, []byte(payload), msg.Traffic.Payload)
		assert.False(t, msg.IsTerminal())
	}

	require.NoError(t, c.Send(&protocol.TrafficIn{From: "bob", Payload: []byte("done")}))
	msg, err := c.Receive()
	require.NoError(t, err)
	require.True(t, msg.IsTerminal())
	assert.Equal(t, []byte("pk"), msg.KeygenResult.Data.PublicKey)
}

func TestStream_ClosedByClient(t *testing.T) {
	addr := serve(t)
	c := dial(t, addr, &Request{Keygen: &service.KeygenInit{NewKeyUID: "key"}})
	require.NoError(t, c.CloseWrite())

	msg, err := c.Receive()
	require.NoError(t, err)
	assert.Equal(t, "stream closed", msg.Error)
}

func TestSign(t *testing.T) {
	addr := serve(t)
	c := dial(t, addr, &Request{Sign: &service.SignInit{KeyUID: "key"}})
	msg, err := c.Receive()
	require.NoError(t, err)
	assert.True(t, msg.NeedRecover)
}

func TestReplies(t *testing.T) {
	addr := serve(t)

	tests := []struct {
		name     string
		req      *Request
		presence service.Presence
		err      bool
	}{
		{"present", &Request{KeyPresence: "key"}, service.Present, false},
		{"absent", &Request{KeyPresence: "other"}, service.Absent, false},
		{"recovered", &Request{Recover: &service.RecoverRequest{KeygenInit: service.KeygenInit{NewKeyUID: "key"}}}, 0, false},
		{"recover failed", &Request{Recover: &service.RecoverRequest{}}, 0, true},
		{"empty request", &Request{}, 0, true},
		{"two requests", &Request{KeyPresence: "key", Sign: &service.SignInit{}}, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := dial(t, addr, tt.req)
			reply, err := c.Reply()
			require.NoError(t, err)
			assert.Equal(t, tt.presence, reply.Presence)
			assert.Equal(t, tt.err, reply.Error != "")
		})
	}
}
