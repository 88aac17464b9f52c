// Package cryptokit provides the primitive operations the onion packet
// format is built from: X25519 key agreement, the HKDF key schedule
// (SphinxKeys) used for per-hop derivation, HMAC authentication, and the
// stream cipher used to layer fixed-size header and payload bytes. The
// routing keystream (RoutingStream) is ChaCha20 keyed with the hop's
// enc_key; it is not a second HKDF expansion.
package cryptokit

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"io"

	"golang.org/x/crypto/chacha20"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"
)

const (
	KeySize  = 32
	MacSize  = 32
	SaltHops = "obscura-relay-v1"
)

// KeyPair is an X25519 scalar and its corresponding public point.
type KeyPair struct {
	Private [KeySize]byte
	Public  [KeySize]byte
}

// GenerateKeyPair samples a fresh X25519 keypair.
func GenerateKeyPair() (*KeyPair, error) {
	var priv [KeySize]byte
	if _, err := io.ReadFull(rand.Reader, priv[:]); err != nil {
		return nil, err
	}
	var pub [KeySize]byte
	curve25519.ScalarBaseMult(&pub, &priv)
	return &KeyPair{Private: priv, Public: pub}, nil
}

// PublicKeyFromPrivate derives the X25519 public point for an
// already-generated or persisted private scalar, used when a relay's
// private key is loaded from disk rather than freshly generated.
func PublicKeyFromPrivate(private [KeySize]byte) [KeySize]byte {
	var pub [KeySize]byte
	curve25519.ScalarBaseMult(&pub, &private)
	return pub
}

// SharedSecret performs the X25519 Diffie-Hellman computation.
func SharedSecret(private, public [KeySize]byte) ([KeySize]byte, error) {
	var secret [KeySize]byte
	out, err := curve25519.X25519(private[:], public[:])
	if err != nil {
		return secret, err
	}
	copy(secret[:], out)
	return secret, nil
}

// HopKeys is the "SphinxKeys" schedule output: an encryption key used to
// seed stream-cipher keystreams and a MAC key used at the first hop.
type HopKeys struct {
	EncKey [KeySize]byte
	MacKey [KeySize]byte
}

// DeriveHopKeys expands a per-hop shared secret into (enc_key, mac_key)
// under the "SphinxKeys" info string.
func DeriveHopKeys(secret [KeySize]byte) (HopKeys, error) {
	r := hkdf.New(sha256.New, secret[:], nil, []byte("SphinxKeys"))
	var out [64]byte
	if _, err := io.ReadFull(r, out[:]); err != nil {
		return HopKeys{}, err
	}
	var hk HopKeys
	copy(hk.EncKey[:], out[:32])
	copy(hk.MacKey[:], out[32:])
	return hk, nil
}

// RoutingStream derives the "SphinxRouting" keystream used to XOR-layer
// routing_info or payload bytes at one hop. encKey already comes out of
// the "SphinxKeys" HKDF schedule; it is used directly to seed a ChaCha20
// keystream (zero nonce, one key per hop, never reused across packets
// since encKey is itself per-packet-per-hop) rather than re-deriving
// through HKDF a second time, the same stream-cipher-as-keystream idiom
// used for per-hop layering elsewhere in the ecosystem. The returned
// slice has exactly length bytes.
func RoutingStream(encKey [KeySize]byte, length int) ([]byte, error) {
	c, err := keystreamCipher(encKey)
	if err != nil {
		return nil, err
	}
	stream := make([]byte, length)
	c.XORKeyStream(stream, stream)
	return stream, nil
}

// XORLayer XORs src with a keystream of the same length derived from
// encKey, returning a new slice. Used identically for build (layering
// on) and process (peeling off) since XOR is its own inverse.
func XORLayer(encKey [KeySize]byte, src []byte) ([]byte, error) {
	stream, err := RoutingStream(encKey, len(src))
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(src))
	for i := range src {
		out[i] = src[i] ^ stream[i]
	}
	return out, nil
}

// ComputeMAC authenticates routing_info under mac_key. Only the first
// hop's MAC is populated by the builder; intermediate hops carry a zero
// MAC under the current policy (see pkg/sphinx).
func ComputeMAC(macKey [KeySize]byte, routingInfo []byte) []byte {
	h := hmac.New(sha256.New, macKey[:])
	h.Write(routingInfo)
	return h.Sum(nil)
}

// VerifyMAC reports whether tag authenticates routingInfo under macKey.
func VerifyMAC(macKey [KeySize]byte, routingInfo, tag []byte) bool {
	return hmac.Equal(ComputeMAC(macKey, routingInfo), tag)
}

// IsZero reports whether b is all-zero bytes, used to detect the
// "MAC absent" and "destination is final hop" sentinels.
func IsZero(b []byte) bool {
	var acc byte
	for _, v := range b {
		acc |= v
	}
	return acc == 0
}

// Hash256 is the client-side SHA-256 used to derive drop_id and
// access_token from public keys and shared secrets respectively.
func Hash256(data []byte) [32]byte {
	return sha256.Sum256(data)
}

// RandomBytes returns n cryptographically random bytes.
func RandomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := io.ReadFull(rand.Reader, b); err != nil {
		return nil, err
	}
	return b, nil
}

// SealPayload is the opt-in end-to-end AEAD available to a consumer that
// wants authenticated payload content above the transport; the onion
// layering itself never uses this (see pkg/sphinx, and DESIGN.md on
// avoiding per-hop size growth).
func SealPayload(key [KeySize]byte, plaintext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		return nil, err
	}
	nonce, err := RandomBytes(aead.NonceSize())
	if err != nil {
		return nil, err
	}
	return aead.Seal(nonce, nonce, plaintext, nil), nil
}

// OpenPayload reverses SealPayload.
func OpenPayload(key [KeySize]byte, sealed []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key[:])
	if err != nil {
		return nil, err
	}
	if len(sealed) < aead.NonceSize() {
		return nil, io.ErrUnexpectedEOF
	}
	nonce, ciphertext := sealed[:aead.NonceSize()], sealed[aead.NonceSize():]
	return aead.Open(nil, nonce, ciphertext, nil)
}

// keystreamCipher builds the raw chacha20 keystream generator (zero
// nonce) keyed with key. It is unexported; RoutingStream is its only
// caller.
func keystreamCipher(key [KeySize]byte) (*chacha20.Cipher, error) {
	var nonce [chacha20.NonceSize]byte
	return chacha20.NewUnauthenticatedCipher(key[:], nonce[:])
}

// Wipe overwrites a secret buffer's contents. Callers defer this on
// ephemeral scalars, shared secrets, and derived keys as soon as they
// leave scope.
func Wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
