// Package shamir implements K-of-N secret sharing over GF(256): a
// random degree-(K-1) polynomial per secret byte whose constant term
// is that byte, shares are evaluations at distinct non-zero points,
// and reconstruction is Lagrange interpolation at zero.
//
// No reference implementation exists anywhere in the surrounding
// toolkit to ground this on — the original split_secret/reconstruct_secret
// this was distilled from are explicit placeholders (split_secret
// copies the whole input into every "share"; reconstruct_secret
// returns the first share's bytes verbatim) — so this package follows
// the algorithm description directly and uses only crypto/rand.
package shamir

import (
	"crypto/rand"
	"errors"
	"io"
)

var (
	ErrInvalidShamirParams = errors.New("shamir: invalid K/N parameters")
	ErrInsufficientShares  = errors.New("shamir: fewer than K shares presented")
)

// Share is one evaluation of the secret-sharing polynomial: a 1-byte
// index in [1, N] and the corresponding output bytes, one per input
// byte of the secret.
type Share struct {
	Index byte
	Data  []byte
}

// Config fixes the K-of-N parameters for a split/reconstruct pair.
type Config struct {
	Threshold int // K
	Total     int // N
}

func (c Config) validate() error {
	if c.Threshold < 2 || c.Threshold > c.Total || c.Total > 255 {
		return ErrInvalidShamirParams
	}
	return nil
}

// Split fragments secret into cfg.Total shares such that any
// cfg.Threshold of them suffice to reconstruct it.
func Split(secret []byte, cfg Config) ([]Share, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	shares := make([]Share, cfg.Total)
	for i := 0; i < cfg.Total; i++ {
		shares[i] = Share{Index: byte(i + 1), Data: make([]byte, len(secret))}
	}

	coeffs := make([]byte, cfg.Threshold-1)
	for byteIdx, secretByte := range secret {
		if _, err := io.ReadFull(rand.Reader, coeffs); err != nil {
			return nil, err
		}
		for i := 0; i < cfg.Total; i++ {
			x := byte(i + 1)
			shares[i].Data[byteIdx] = evalPolynomial(secretByte, coeffs, x)
		}
	}

	return shares, nil
}

// Reconstruct recovers the secret from any cfg.Threshold or more
// distinct shares via Lagrange interpolation at x=0.
func Reconstruct(shares []Share, cfg Config) ([]byte, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if len(shares) < cfg.Threshold {
		return nil, ErrInsufficientShares
	}

	used := shares[:cfg.Threshold]
	secretLen := len(used[0].Data)
	for _, s := range used {
		if len(s.Data) != secretLen {
			return nil, ErrInvalidShamirParams
		}
	}

	secret := make([]byte, secretLen)
	for byteIdx := 0; byteIdx < secretLen; byteIdx++ {
		var acc byte
		for i, si := range used {
			var num, den byte = 1, 1
			for j, sj := range used {
				if i == j {
					continue
				}
				num = gfMul(num, sj.Index)
				den = gfMul(den, gfAdd(sj.Index, si.Index))
			}
			term := gfMul(si.Data[byteIdx], gfMul(num, gfInv(den)))
			acc = gfAdd(acc, term)
		}
		secret[byteIdx] = acc
	}

	return secret, nil
}

// evalPolynomial evaluates, at point x, the polynomial whose constant
// term is secretByte and whose remaining coefficients are coeffs
// (lowest degree first), entirely over GF(256).
func evalPolynomial(secretByte byte, coeffs []byte, x byte) byte {
	// Horner's method from the highest-degree coefficient down.
	result := byte(0)
	for i := len(coeffs) - 1; i >= 0; i-- {
		result = gfAdd(gfMul(result, x), coeffs[i])
	}
	result = gfAdd(gfMul(result, x), secretByte)
	return result
}

// gfAdd is addition in GF(2^8): XOR.
func gfAdd(a, b byte) byte {
	return a ^ b
}

// gfMul multiplies two GF(2^8) elements using the AES/Rijndael
// reduction polynomial x^8 + x^4 + x^3 + x + 1 (0x11B).
func gfMul(a, b byte) byte {
	var result byte
	for b != 0 {
		if b&1 != 0 {
			result ^= a
		}
		hiBitSet := a & 0x80
		a <<= 1
		if hiBitSet != 0 {
			a ^= 0x1B
		}
		b >>= 1
	}
	return result
}

// gfPow raises a to the given exponent in GF(2^8).
func gfPow(a byte, exp int) byte {
	result := byte(1)
	base := a
	for exp > 0 {
		if exp&1 != 0 {
			result = gfMul(result, base)
		}
		base = gfMul(base, base)
		exp >>= 1
	}
	return result
}

// gfInv returns the multiplicative inverse of a nonzero GF(2^8)
// element. Every nonzero element of GF(2^8) satisfies a^254 = a^-1.
func gfInv(a byte) byte {
	if a == 0 {
		return 0
	}
	return gfPow(a, 254)
}
