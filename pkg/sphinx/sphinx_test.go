package sphinx

import (
	"bytes"
	"testing"

	"github.com/obscura-relay/relay/pkg/cryptokit"
)

func mustKeyPair(t *testing.T) *cryptokit.KeyPair {
	t.Helper()
	kp, err := cryptokit.GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	return kp
}

// TestThreeHopOnion covers the concrete three-hop scenario:
// build through N1,N2,N3, process at each in turn, and expect the
// original message back at the final hop.
func TestThreeHopOnion(t *testing.T) {
	n1, n2, n3 := mustKeyPair(t), mustKeyPair(t), mustKeyPair(t)

	route := &RouteSpec{
		NodeKeys: [][cryptokit.KeySize]byte{n1.Public, n2.Public, n3.Public},
	}

	message := []byte("Hello, Invisible!")
	pkt, err := Build(route, message)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	res1, err := Process(n1.Private, pkt)
	if err != nil {
		t.Fatalf("Process at N1: %v", err)
	}
	if res1.Kind != OutcomeForward {
		t.Fatalf("N1: expected Forward, got %v", res1.Kind)
	}

	res2, err := Process(n2.Private, res1.Packet)
	if err != nil {
		t.Fatalf("Process at N2: %v", err)
	}
	if res2.Kind != OutcomeForward {
		t.Fatalf("N2: expected Forward, got %v", res2.Kind)
	}

	res3, err := Process(n3.Private, res2.Packet)
	if err != nil {
		t.Fatalf("Process at N3: %v", err)
	}
	if res3.Kind != OutcomeDeliver {
		t.Fatalf("N3: expected Deliver, got %v", res3.Kind)
	}
	if !bytes.Equal(res3.Payload, message) {
		t.Fatalf("delivered payload = %q, want %q", res3.Payload, message)
	}
}

// TestUnlinkability covers the two-hop unlinkability scenario:
// after one honest hop, routing_info, mac, and payload must all differ
// from the original packet's bytes.
func TestUnlinkability(t *testing.T) {
	n1, n2 := mustKeyPair(t), mustKeyPair(t)
	route := &RouteSpec{NodeKeys: [][cryptokit.KeySize]byte{n1.Public, n2.Public}}

	pkt, err := Build(route, []byte("unlinkability probe"))
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	res, err := Process(n1.Private, pkt)
	if err != nil {
		t.Fatalf("Process at N1: %v", err)
	}
	if res.Kind != OutcomeForward {
		t.Fatalf("expected Forward, got %v", res.Kind)
	}

	if bytes.Equal(res.Packet.RoutingInfo[:], pkt.RoutingInfo[:]) {
		t.Fatal("routing_info unchanged after one hop")
	}
	if bytes.Equal(res.Packet.Mac[:], pkt.Mac[:]) {
		t.Fatal("mac unchanged after one hop")
	}
	if bytes.Equal(res.Packet.Payload[:], pkt.Payload[:]) {
		t.Fatal("payload unchanged after one hop")
	}
}

// TestWrongKeyRejection is P4: processing with a mismatched private key
// must fail MAC verification at the first hop.
func TestWrongKeyRejection(t *testing.T) {
	n1, n2 := mustKeyPair(t), mustKeyPair(t)
	wrong := mustKeyPair(t)
	route := &RouteSpec{NodeKeys: [][cryptokit.KeySize]byte{n1.Public, n2.Public}}

	pkt, err := Build(route, []byte("wrong key test"))
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	if _, err := Process(wrong.Private, pkt); err != ErrPacketMacFailed {
		t.Fatalf("Process with wrong key = %v, want ErrPacketMacFailed", err)
	}
}

func TestBuildRejectsInvalidRoute(t *testing.T) {
	if _, err := Build(&RouteSpec{}, []byte("x")); err != ErrInvalidRoute {
		t.Fatalf("empty route: got %v, want ErrInvalidRoute", err)
	}

	keys := make([][cryptokit.KeySize]byte, MaxHops+1)
	for i := range keys {
		keys[i] = mustKeyPair(t).Public
	}
	if _, err := Build(&RouteSpec{NodeKeys: keys}, []byte("x")); err != ErrInvalidRoute {
		t.Fatalf("over-long route: got %v, want ErrInvalidRoute", err)
	}
}

func TestBuildRejectsOversizePayload(t *testing.T) {
	n1 := mustKeyPair(t)
	route := &RouteSpec{NodeKeys: [][cryptokit.KeySize]byte{n1.Public}}
	oversize := bytes.Repeat([]byte{1}, PayloadSize+1)
	if _, err := Build(route, oversize); err != ErrPayloadTooLarge {
		t.Fatalf("got %v, want ErrPayloadTooLarge", err)
	}
}

func TestWireMarshalUnmarshalRoundTrip(t *testing.T) {
	n1 := mustKeyPair(t)
	route := &RouteSpec{NodeKeys: [][cryptokit.KeySize]byte{n1.Public}}
	pkt, err := Build(route, []byte("wire round trip"))
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	data, err := pkt.MarshalBinary()
	if err != nil {
		t.Fatalf("MarshalBinary: %v", err)
	}
	if len(data) != WireSize {
		t.Fatalf("marshaled length = %d, want %d", len(data), WireSize)
	}

	var decoded Packet
	if err := decoded.UnmarshalBinary(data); err != nil {
		t.Fatalf("UnmarshalBinary: %v", err)
	}
	if decoded != *pkt {
		t.Fatal("unmarshal did not reproduce the original packet")
	}
}

func TestUnmarshalBinaryRejectsWrongSize(t *testing.T) {
	var p Packet
	if err := p.UnmarshalBinary([]byte("too short")); err != ErrInvalidPacket {
		t.Fatalf("got %v, want ErrInvalidPacket", err)
	}
}

func TestRoundTripLaw(t *testing.T) {
	n1, n2, n3 := mustKeyPair(t), mustKeyPair(t), mustKeyPair(t)
	route := &RouteSpec{NodeKeys: [][cryptokit.KeySize]byte{n1.Public, n2.Public, n3.Public}}

	message := []byte("round trip law")
	pkt, err := Build(route, message)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	privs := []([cryptokit.KeySize]byte){n1.Private, n2.Private, n3.Private}
	cur := pkt
	var final *ProcessedPacket
	for _, p := range privs {
		res, err := Process(p, cur)
		if err != nil {
			t.Fatalf("Process: %v", err)
		}
		final = res
		cur = res.Packet
	}
	if final.Kind != OutcomeDeliver || !bytes.Equal(final.Payload, message) {
		t.Fatal("build-then-process round trip did not yield the original message")
	}
}
