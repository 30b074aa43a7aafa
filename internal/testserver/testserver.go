// Package testserver is a minimal fake LDAP listener used by this
// module's own tests. It speaks just enough of RFC 4511 to drive the
// client's connection and request lifecycle: it reads one LDAPMessage
// at a time and hands it to a Handler, which returns whatever response
// messages (zero or more) the scenario under test needs.
//
// Grounded on the accept-loop / per-connection goroutine shape of
// MDM23-ldapserver's Server.serve and client.serve, simplified down to
// this module's own wire codec instead of a third-party LDAP message
// library.
package testserver

import (
	"bufio"
	"net"
	"sync"

	"github.com/tgerk/node-ldapjs/wire"
)

// Handler processes one parsed request message and returns the
// response messages to write back, in order. A nil or empty slice
// sends nothing (useful for simulating a server that drops a request).
type Handler func(req *wire.Message) []*wire.Message

// Server is a bare TCP listener that decodes LDAP frames with the wire
// package and dispatches them to Handler.
type Server struct {
	Listener net.Listener
	Handler  Handler

	mu    sync.Mutex
	conns map[net.Conn]struct{}
}

// New starts listening on an ephemeral localhost port and serving
// connections with handler until Close is called.
func New(handler Handler) (*Server, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, err
	}
	s := &Server{Listener: ln, Handler: handler, conns: make(map[net.Conn]struct{})}
	go s.serve()
	return s, nil
}

// Addr returns the "ldap://host:port" URL this server is listening on.
func (s *Server) Addr() string {
	return "ldap://" + s.Listener.Addr().String()
}

func (s *Server) serve() {
	for {
		conn, err := s.Listener.Accept()
		if err != nil {
			return
		}
		s.mu.Lock()
		s.conns[conn] = struct{}{}
		s.mu.Unlock()
		go s.handleConn(conn)
	}
}

func (s *Server) handleConn(conn net.Conn) {
	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		conn.Close()
	}()

	br := bufio.NewReader(conn)
	for {
		msg, err := wire.ReadMessage(br)
		if err != nil {
			return
		}
		if _, ok := msg.Op.(wire.UnbindRequest); ok {
			return
		}
		for _, resp := range s.Handler(msg) {
			packet, err := wire.EncodeMessage(resp.ID, resp.Op, resp.Controls)
			if err != nil {
				continue
			}
			if _, err := conn.Write(packet.Bytes()); err != nil {
				return
			}
		}
	}
}

// Close stops accepting new connections and drops every connection
// currently being served, which the client observes as a reset.
func (s *Server) Close() {
	s.Listener.Close()
	s.mu.Lock()
	for c := range s.conns {
		c.Close()
	}
	s.mu.Unlock()
}
