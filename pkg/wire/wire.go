// Package wire implements the framed control-message protocol between
// clients and relays: a 4-byte big-endian length prefix followed by a
// gob-encoded tagged union. gob is the closest stdlib analogue to a
// deterministic, schema-free binary codec; each variant is registered
// so the decoder can recover the concrete type from an envelope.
package wire

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"errors"
	"fmt"
	"io"

	"github.com/obscura-relay/relay/pkg/deaddrop"
	"github.com/obscura-relay/relay/pkg/sphinx"
)

// MaxFrameSize bounds a single frame to reject runaway length prefixes
// before allocating a read buffer.
const MaxFrameSize = 4 * 1024 * 1024

var (
	ErrFrameTooLarge = errors.New("wire: frame exceeds MaxFrameSize")
	ErrEmptyFrame    = errors.New("wire: zero-length frame")
)

// ForwardPacket carries a sphinx packet to be processed at the next hop.
type ForwardPacket struct {
	Packet sphinx.Packet
}

// StoreDeadDrop requests storage of payload under (DropID, AccessToken).
type StoreDeadDrop struct {
	DropID      [32]byte
	AccessToken [32]byte
	Payload     []byte
}

// RetrieveDeadDrop requests every live message under AccessToken.
type RetrieveDeadDrop struct {
	AccessToken [32]byte
}

// StoreSuccess acknowledges a StoreDeadDrop with the new message id.
type StoreSuccess struct {
	ID [16]byte
}

// RetrieveSuccess answers a RetrieveDeadDrop with the live messages.
type RetrieveSuccess struct {
	Messages []deaddrop.StoredMessage
}

// ErrorMessage reports a request-level failure (as opposed to a
// transport-level NetworkError, which never reaches this type).
type ErrorMessage struct {
	Message string
}

// Ack acknowledges a ForwardPacket: the relay accepted the packet into
// its own processing pipeline. It says nothing about eventual delivery
// at the final hop, which this fire-and-forget transport never reports.
type Ack struct{}

func init() {
	gob.Register(ForwardPacket{})
	gob.Register(StoreDeadDrop{})
	gob.Register(RetrieveDeadDrop{})
	gob.Register(StoreSuccess{})
	gob.Register(RetrieveSuccess{})
	gob.Register(ErrorMessage{})
	gob.Register(Ack{})
}

// envelope wraps a variant so gob can recover the concrete type across
// the wire, since gob requires every concrete type behind an interface
// to be registered in advance.
type envelope struct {
	Payload interface{}
}

// WriteFrame gob-encodes msg, which must be one of the variants above,
// and writes it length-prefixed to w.
func WriteFrame(w io.Writer, msg interface{}) error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(envelope{Payload: msg}); err != nil {
		return fmt.Errorf("wire: encode: %w", err)
	}

	if buf.Len() == 0 {
		return ErrEmptyFrame
	}
	if buf.Len() > MaxFrameSize {
		return ErrFrameTooLarge
	}

	var lenPrefix [4]byte
	binary.BigEndian.PutUint32(lenPrefix[:], uint32(buf.Len()))

	bw := bufio.NewWriter(w)
	if _, err := bw.Write(lenPrefix[:]); err != nil {
		return fmt.Errorf("wire: write length: %w", err)
	}
	if _, err := bw.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("wire: write payload: %w", err)
	}
	return bw.Flush()
}

// ReadFrame reads one length-prefixed gob frame from r and returns the
// decoded variant.
func ReadFrame(r io.Reader) (interface{}, error) {
	var lenPrefix [4]byte
	if _, err := io.ReadFull(r, lenPrefix[:]); err != nil {
		return nil, err
	}
	length := binary.BigEndian.Uint32(lenPrefix[:])
	if length == 0 {
		return nil, ErrEmptyFrame
	}
	if length > MaxFrameSize {
		return nil, ErrFrameTooLarge
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("wire: read payload: %w", err)
	}

	var env envelope
	if err := gob.NewDecoder(bytes.NewReader(payload)).Decode(&env); err != nil {
		return nil, fmt.Errorf("wire: decode: %w", err)
	}
	return env.Payload, nil
}
