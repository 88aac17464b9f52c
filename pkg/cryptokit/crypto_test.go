package cryptokit

import (
	"bytes"
	"testing"
)

func TestGenerateKeyPair(t *testing.T) {
	kp, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	if bytes.Equal(kp.Private[:], make([]byte, KeySize)) {
		t.Fatal("private scalar is all-zero")
	}
	if bytes.Equal(kp.Public[:], make([]byte, KeySize)) {
		t.Fatal("public point is all-zero")
	}
}

func TestSharedSecretAgreement(t *testing.T) {
	a, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	b, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}

	s1, err := SharedSecret(a.Private, b.Public)
	if err != nil {
		t.Fatalf("SharedSecret(a,b): %v", err)
	}
	s2, err := SharedSecret(b.Private, a.Public)
	if err != nil {
		t.Fatalf("SharedSecret(b,a): %v", err)
	}
	if s1 != s2 {
		t.Fatal("DH agreement did not produce matching secrets")
	}
}

func TestDeriveHopKeysDeterministic(t *testing.T) {
	var secret [KeySize]byte
	copy(secret[:], []byte("0123456789abcdef0123456789abcdef"))

	k1, err := DeriveHopKeys(secret)
	if err != nil {
		t.Fatalf("DeriveHopKeys: %v", err)
	}
	k2, err := DeriveHopKeys(secret)
	if err != nil {
		t.Fatalf("DeriveHopKeys: %v", err)
	}
	if k1.EncKey != k2.EncKey || k1.MacKey != k2.MacKey {
		t.Fatal("DeriveHopKeys is not deterministic over the same secret")
	}
	if k1.EncKey == k1.MacKey {
		t.Fatal("enc_key and mac_key must differ")
	}
}

func TestXORLayerIsInvolution(t *testing.T) {
	var key [KeySize]byte
	copy(key[:], []byte("layering-key-layering-key-123456"))

	plain := []byte("the quick brown fox jumps over the lazy dog!!!!")
	layered, err := XORLayer(key, plain)
	if err != nil {
		t.Fatalf("XORLayer forward: %v", err)
	}
	if bytes.Equal(layered, plain) {
		t.Fatal("layering did not change the bytes")
	}
	restored, err := XORLayer(key, layered)
	if err != nil {
		t.Fatalf("XORLayer inverse: %v", err)
	}
	if !bytes.Equal(restored, plain) {
		t.Fatal("XOR layering is not its own inverse")
	}
}

func TestComputeAndVerifyMAC(t *testing.T) {
	var macKey [KeySize]byte
	copy(macKey[:], []byte("mac-key-mac-key-mac-key-mac-key!"))

	routingInfo := bytes.Repeat([]byte{0x42}, 256)
	tag := ComputeMAC(macKey, routingInfo)
	if !VerifyMAC(macKey, routingInfo, tag) {
		t.Fatal("valid MAC failed verification")
	}

	tampered := bytes.Repeat([]byte{0x43}, 256)
	if VerifyMAC(macKey, tampered, tag) {
		t.Fatal("MAC verified against tampered routing info")
	}
}

func TestIsZero(t *testing.T) {
	if !IsZero(make([]byte, 32)) {
		t.Fatal("32 zero bytes should be IsZero")
	}
	nonZero := make([]byte, 32)
	nonZero[31] = 1
	if IsZero(nonZero) {
		t.Fatal("trailing 1-bit should not be IsZero")
	}
}

func TestSealOpenPayloadRoundTrip(t *testing.T) {
	var key [KeySize]byte
	copy(key[:], []byte("end-to-end-aead-key-end-to-end!!"))

	plaintext := []byte("payload above the transport")
	sealed, err := SealPayload(key, plaintext)
	if err != nil {
		t.Fatalf("SealPayload: %v", err)
	}
	opened, err := OpenPayload(key, sealed)
	if err != nil {
		t.Fatalf("OpenPayload: %v", err)
	}
	if !bytes.Equal(opened, plaintext) {
		t.Fatal("AEAD round trip mismatch")
	}
}
