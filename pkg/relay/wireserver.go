package relay

import (
	"log"
	"net"

	"github.com/obscura-relay/relay/pkg/wire"
)

// WireServer is the relay's client-facing transport: one gob-framed
// request per connection, matching wire.Client's
// fresh-connection-per-call contract. This is the surface an
// orchestrator submits ForwardPacket/StoreDeadDrop/RetrieveDeadDrop
// requests to; relay-to-relay forwarding still rides over the mTLS
// HTTP surface in http.go.
type WireServer struct {
	relay    *Relay
	listener net.Listener
}

// NewWireServer binds addr and returns a server ready for Serve.
func NewWireServer(r *Relay, addr string) (*WireServer, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	return &WireServer{relay: r, listener: ln}, nil
}

// Serve accepts connections until the listener is closed.
func (s *WireServer) Serve() error {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return err
		}
		go s.handleConn(conn)
	}
}

// Close stops accepting new connections.
func (s *WireServer) Close() error {
	return s.listener.Close()
}

// Addr returns the listener's bound address, useful when NewWireServer
// was given a ":0" ephemeral port (tests, local demos).
func (s *WireServer) Addr() string {
	return s.listener.Addr().String()
}

func (s *WireServer) handleConn(conn net.Conn) {
	defer conn.Close()

	req, err := wire.ReadFrame(conn)
	if err != nil {
		return
	}

	resp := s.dispatch(req)
	if err := wire.WriteFrame(conn, resp); err != nil {
		log.Printf("relay: wire response write failed: %v", err)
	}
}

func (s *WireServer) dispatch(req interface{}) interface{} {
	switch m := req.(type) {
	case wire.ForwardPacket:
		pkt := m.Packet
		if err := s.relay.HandleInbound(&pkt); err != nil {
			return wire.ErrorMessage{Message: err.Error()}
		}
		return wire.Ack{}

	case wire.StoreDeadDrop:
		id, err := s.relay.drops.Store(m.DropID, m.AccessToken, m.Payload)
		if err != nil {
			return wire.ErrorMessage{Message: err.Error()}
		}
		return wire.StoreSuccess{ID: id}

	case wire.RetrieveDeadDrop:
		msgs, err := s.relay.drops.Retrieve(m.AccessToken)
		if err != nil {
			return wire.ErrorMessage{Message: err.Error()}
		}
		return wire.RetrieveSuccess{Messages: msgs}

	default:
		return wire.ErrorMessage{Message: "relay: unsupported request type"}
	}
}
