// Package transport serves sessions to local clients over a stream connection.
//
// Each connection carries exactly one session. The client sends a Request as the first CBOR frame.
// Keygen and sign sessions then exchange protocol.TrafficIn frames from the client and
// service.MessageOut frames from the daemon until the terminal MessageOut.
// Recover and key presence requests are answered with a single Reply.
package transport

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"

	"github.com/fxamacker/cbor/v2"

	"github.com/taurusgroup/tssd/internal/log"
	"github.com/taurusgroup/tssd/pkg/protocol"
	"github.com/taurusgroup/tssd/pkg/service"
)

// Request is the first frame of a connection. Exactly one field must be set.
type Request struct {
	Keygen      *service.KeygenInit     `cbor:"1,keyasint,omitempty"`
	Sign        *service.SignInit       `cbor:"2,keyasint,omitempty"`
	Recover     *service.RecoverRequest `cbor:"3,keyasint,omitempty"`
	KeyPresence string                  `cbor:"4,keyasint,omitempty"`
}

// Reply answers a Recover or KeyPresence request.
type Reply struct {
	Presence service.Presence `cbor:"1,keyasint,omitempty"`
	Error    string           `cbor:"2,keyasint,omitempty"`
}

// Sessions is implemented by *service.Service.
type Sessions interface {
	Keygen(ctx context.Context, req *service.KeygenInit, in <-chan *protocol.TrafficIn, out chan<- *service.MessageOut) error
	Sign(ctx context.Context, req *service.SignInit, in <-chan *protocol.TrafficIn, out chan<- *service.MessageOut) error
	Recover(ctx context.Context, req *service.RecoverRequest) error
	KeyPresence(ctx context.Context, keyUID string) (service.Presence, error)
}

var errInvalidRequest = errors.New("transport: request must set exactly one field")

// Server accepts connections and runs one session for each.
type Server struct {
	sessions Sessions
	log      log.Logger
	wg       sync.WaitGroup
}

func NewServer(sessions Sessions, l log.Logger) *Server {
	if l == nil {
		l = log.DefaultLogger()
	}
	return &Server{sessions: sessions, log: l.Named("transport")}
}

// Serve accepts connections on ln until ctx is done, then closes ln and waits for the open sessions to end.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()
	defer s.wg.Wait()

	s.log.Infow("listening", "addr", ln.Addr().String())
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handle(ctx, conn)
		}()
	}
}

func (s *Server) handle(ctx context.Context, conn net.Conn) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer func() { _ = conn.Close() }()
	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()

	l := s.log.With("remote", conn.RemoteAddr().String())
	dec := cbor.NewDecoder(conn)
	enc := cbor.NewEncoder(conn)

	var req Request
	if err := dec.Decode(&req); err != nil {
		l.Warnw("failed to read request", "err", err)
		return
	}

	switch {
	case req.Keygen != nil && req.Sign == nil && req.Recover == nil && req.KeyPresence == "":
		s.stream(ctx, l, dec, enc, func(in <-chan *protocol.TrafficIn, out chan<- *service.MessageOut) error {
			return s.sessions.Keygen(ctx, req.Keygen, in, out)
		})
	case req.Sign != nil && req.Keygen == nil && req.Recover == nil && req.KeyPresence == "":
		s.stream(ctx, l, dec, enc, func(in <-chan *protocol.TrafficIn, out chan<- *service.MessageOut) error {
			return s.sessions.Sign(ctx, req.Sign, in, out)
		})
	case req.Recover != nil && req.Keygen == nil && req.Sign == nil && req.KeyPresence == "":
		var reply Reply
		if err := s.sessions.Recover(ctx, req.Recover); err != nil {
			l.Warnw("recover failed", "err", err)
			reply.Error = err.Error()
		}
		s.reply(l, enc, &reply)
	case req.KeyPresence != "" && req.Keygen == nil && req.Sign == nil && req.Recover == nil:
		presence, err := s.sessions.KeyPresence(ctx, req.KeyPresence)
		reply := Reply{Presence: presence}
		if err != nil {
			reply.Error = err.Error()
		}
		s.reply(l, enc, &reply)
	default:
		l.Warnw("invalid request")
		s.reply(l, enc, &Reply{Error: errInvalidRequest.Error()})
	}
}

func (s *Server) reply(l log.Logger, enc *cbor.Encoder, reply *Reply) {
	if err := enc.Encode(reply); err != nil {
		l.Warnw("failed to write reply", "err", err)
	}
}

// stream runs a streaming session, relaying frames between the connection and the session.
func (s *Server) stream(ctx context.Context, l log.Logger, dec *cbor.Decoder, enc *cbor.Encoder,
	run func(in <-chan *protocol.TrafficIn, out chan<- *service.MessageOut) error) {
	in := make(chan *protocol.TrafficIn)
	out := make(chan *service.MessageOut)
	sessionDone := make(chan struct{})

	go func() {
		defer close(in)
		for {
			var msg protocol.TrafficIn
			if err := dec.Decode(&msg); err != nil {
				if !errors.Is(err, io.EOF) && ctx.Err() == nil {
					l.Debugw("inbound stream ended", "err", err)
				}
				return
			}
			select {
			case in <- &msg:
			case <-sessionDone:
				return
			}
		}
	}()

	go func() {
		defer close(out)
		if err := run(in, out); err != nil {
			l.Infow("session ended with an error", "err", err)
		}
	}()

	defer close(sessionDone)
	failed := false
	for msg := range out {
		if failed {
			continue
		}
		if err := enc.Encode(msg); err != nil {
			l.Warnw("failed to write message", "err", err)
			failed = true
		}
	}
}

// Client is the client side of a single session.
type Client struct {
	conn net.Conn
	enc  *cbor.Encoder
	dec  *cbor.Decoder
}

// Dial opens a connection to a Server listening at addr.
func Dial(ctx context.Context, addr string) (*Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	return &Client{conn: conn, enc: cbor.NewEncoder(conn), dec: cbor.NewDecoder(conn)}, nil
}

// Start sends the request of the session.
func (c *Client) Start(req *Request) error { return c.enc.Encode(req) }

// Send forwards traffic received from another party.
func (c *Client) Send(msg *protocol.TrafficIn) error { return c.enc.Encode(msg) }

// Receive returns the next message of a keygen or sign session.
func (c *Client) Receive() (*service.MessageOut, error) {
	var msg service.MessageOut
	if err := c.dec.Decode(&msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// Reply returns the answer to a recover or key presence request.
func (c *Client) Reply() (*Reply, error) {
	var r Reply
	if err := c.dec.Decode(&r); err != nil {
		return nil, err
	}
	return &r, nil
}

// CloseWrite closes the inbound stream of the session.
func (c *Client) CloseWrite() error {
	if tcp, ok := c.conn.(*net.TCPConn); ok {
		return tcp.CloseWrite()
	}
	return c.conn.Close()
}

func (c *Client) Close() error { return c.conn.Close() }
