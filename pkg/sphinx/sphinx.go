// Package sphinx implements the onion packet format: fixed-size
// header and payload, per-hop stream-cipher layering, and a
// first-hop-only MAC. Packet size never changes across hops — every
// transform is an XOR with an HKDF/ChaCha20-derived keystream of
// exactly the field's length, never an expanding AEAD.
package sphinx

import (
	"errors"

	"github.com/obscura-relay/relay/pkg/cryptokit"
)

const (
	HeaderSize       = 256
	PayloadSize      = 2048
	MaxHops          = 5
	EphemeralKeySize = cryptokit.KeySize
	MacSize          = cryptokit.MacSize
	destinationSize  = 32

	// AuthenticateAllHops documents the MAC-layering policy: only the
	// first hop is authenticated. Flip this and extend routingInfo
	// with one tag per layer to adopt the per-hop alternative; see
	// DESIGN.md.
	AuthenticateAllHops = false
)

var (
	ErrInvalidRoute    = errors.New("sphinx: route length must be in [1, MaxHops]")
	ErrPayloadTooLarge = errors.New("sphinx: payload exceeds PayloadSize")
	ErrPacketMacFailed = errors.New("sphinx: mac verification failed")
	ErrInvalidPacket   = errors.New("sphinx: malformed packet")
)

// RouteSpec is an ephemeral per-packet plan: an ordered list of node
// public keys terminating at a destination tag. All-zero destination
// means "deliver here" at the last hop.
type RouteSpec struct {
	NodeKeys    [][cryptokit.KeySize]byte
	Destination [destinationSize]byte
}

// Packet is the transported unit. EphemeralKey is cleartext; RoutingInfo
// and Payload are onion-encrypted and fixed-size across hops.
type Packet struct {
	EphemeralKey [EphemeralKeySize]byte
	RoutingInfo  [HeaderSize]byte
	Mac          [MacSize]byte
	Payload      [PayloadSize]byte
}

// Outcome tags what a relay should do with a processed packet.
type OutcomeKind int

const (
	OutcomeForward OutcomeKind = iota
	OutcomeDeliver
)

// ProcessedPacket is the tagged result of Process: either Forward with
// the next hop's address tag and the re-layered packet, or Deliver with
// the final, zero-padding-stripped payload bytes.
type ProcessedPacket struct {
	Kind    OutcomeKind
	NextHop [destinationSize]byte
	Packet  *Packet
	Payload []byte
}

// Build constructs a Packet addressed through route carrying message as
// the final payload. message must fit within PayloadSize once padded.
func Build(route *RouteSpec, message []byte) (*Packet, error) {
	hops := len(route.NodeKeys)
	if hops < 1 || hops > MaxHops {
		return nil, ErrInvalidRoute
	}
	if len(message) > PayloadSize {
		return nil, ErrPayloadTooLarge
	}

	ephemeral, err := cryptokit.GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	defer cryptokit.Wipe(ephemeral.Private[:])

	hopKeys := make([]cryptokit.HopKeys, hops)
	for i, nodeKey := range route.NodeKeys {
		secret, err := cryptokit.SharedSecret(ephemeral.Private, nodeKey)
		if err != nil {
			return nil, err
		}
		keys, err := cryptokit.DeriveHopKeys(secret)
		cryptokit.Wipe(secret[:])
		if err != nil {
			return nil, err
		}
		hopKeys[i] = keys
	}

	// Innermost routing layer: the destination tag, zero-padded.
	routingInfo := make([]byte, HeaderSize)
	copy(routingInfo, route.Destination[:])

	payload := make([]byte, PayloadSize)
	copy(payload, message)

	for i := hops - 1; i >= 0; i-- {
		if i != hops-1 {
			next := make([]byte, HeaderSize)
			copy(next, routingInfoAddressTag(route, i+1))
			copy(next[destinationSize:], routingInfo[:HeaderSize-destinationSize])
			routingInfo = next
		}
		layered, err := cryptokit.XORLayer(hopKeys[i].EncKey, routingInfo)
		if err != nil {
			return nil, err
		}
		routingInfo = layered

		payloadLayered, err := cryptokit.XORLayer(hopKeys[i].EncKey, payload)
		if err != nil {
			return nil, err
		}
		payload = payloadLayered
	}

	pkt := &Packet{EphemeralKey: ephemeral.Public}
	copy(pkt.RoutingInfo[:], routingInfo)
	copy(pkt.Payload[:], payload)

	if AuthenticateAllHops {
		pkt.Mac = [MacSize]byte{} // per-hop MAC scheme is a documented extension point, not implemented
	} else {
		tag := cryptokit.ComputeMAC(hopKeys[0].MacKey, pkt.RoutingInfo[:])
		copy(pkt.Mac[:], tag)
	}

	for i := range hopKeys {
		cryptokit.Wipe(hopKeys[i].EncKey[:])
		cryptokit.Wipe(hopKeys[i].MacKey[:])
	}

	return pkt, nil
}

// routingInfoAddressTag returns the 32-byte address tag identifying the
// node at the given route index, used as the "next hop" field embedded
// by the hop that precedes it. Synthetic addressing: the node's public
// key's first 32 bytes double as its routable tag in this packet format,
// matching RouteSpec.Destination's shape.
func routingInfoAddressTag(route *RouteSpec, idx int) []byte {
	if idx >= len(route.NodeKeys) {
		return make([]byte, destinationSize)
	}
	key := route.NodeKeys[idx]
	return key[:]
}

// Process peels one onion layer at the node holding private. It verifies
// the MAC when present, decrypts routing_info, and either returns a
// Forward outcome addressed to the next hop or a Deliver outcome with
// the final plaintext.
func Process(private [cryptokit.KeySize]byte, pkt *Packet) (*ProcessedPacket, error) {
	secret, err := cryptokit.SharedSecret(private, pkt.EphemeralKey)
	if err != nil {
		return nil, err
	}
	defer cryptokit.Wipe(secret[:])

	keys, err := cryptokit.DeriveHopKeys(secret)
	if err != nil {
		return nil, err
	}
	defer func() {
		cryptokit.Wipe(keys.EncKey[:])
		cryptokit.Wipe(keys.MacKey[:])
	}()

	if !cryptokit.IsZero(pkt.Mac[:]) {
		if !cryptokit.VerifyMAC(keys.MacKey, pkt.RoutingInfo[:], pkt.Mac[:]) {
			return nil, ErrPacketMacFailed
		}
	}

	peeled, err := cryptokit.XORLayer(keys.EncKey, pkt.RoutingInfo[:])
	if err != nil {
		return nil, err
	}

	next := peeled[:destinationSize]

	payload, err := cryptokit.XORLayer(keys.EncKey, pkt.Payload[:])
	if err != nil {
		return nil, err
	}

	if cryptokit.IsZero(next) {
		return &ProcessedPacket{
			Kind:    OutcomeDeliver,
			Payload: stripTrailingZeros(payload),
		}, nil
	}

	newRoutingInfo := make([]byte, HeaderSize)
	copy(newRoutingInfo, peeled[destinationSize:])

	out := &Packet{EphemeralKey: pkt.EphemeralKey}
	copy(out.RoutingInfo[:], newRoutingInfo)
	copy(out.Payload[:], payload)
	// Intermediate hops carry a zero MAC under the current policy
	// (first-hop-only authentication; see AuthenticateAllHops).

	result := &ProcessedPacket{Kind: OutcomeForward, Packet: out}
	copy(result.NextHop[:], next)
	return result, nil
}

// WireSize is the fixed on-wire size of a Packet: ephemeral_key (32) +
// routing_info (HeaderSize) + mac (32) + payload (PayloadSize), kept
// constant across hops so packet size never leaks position in the route.
const WireSize = EphemeralKeySize + HeaderSize + MacSize + PayloadSize

// MarshalBinary serializes a Packet to its fixed WireSize layout.
func (p *Packet) MarshalBinary() ([]byte, error) {
	buf := make([]byte, 0, WireSize)
	buf = append(buf, p.EphemeralKey[:]...)
	buf = append(buf, p.RoutingInfo[:]...)
	buf = append(buf, p.Mac[:]...)
	buf = append(buf, p.Payload[:]...)
	return buf, nil
}

// UnmarshalBinary parses a Packet from its fixed WireSize layout.
func (p *Packet) UnmarshalBinary(data []byte) error {
	if len(data) != WireSize {
		return ErrInvalidPacket
	}
	off := 0
	copy(p.EphemeralKey[:], data[off:off+EphemeralKeySize])
	off += EphemeralKeySize
	copy(p.RoutingInfo[:], data[off:off+HeaderSize])
	off += HeaderSize
	copy(p.Mac[:], data[off:off+MacSize])
	off += MacSize
	copy(p.Payload[:], data[off:off+PayloadSize])
	return nil
}

func stripTrailingZeros(b []byte) []byte {
	end := len(b)
	for end > 0 && b[end-1] == 0 {
		end--
	}
	return b[:end]
}
