// Copyright (c) 2025 Karl Gaissmaier
// SPDX-License-Identifier: MIT

// Package ident implements the shared 160-bit identifier space used by
// both overlay protocols.
//
// Identifiers are SHA-1 digests interpreted as big-endian unsigned
// integers. Comparison, ring-interval membership and finger offsets are
// all arithmetic modulo 2^160. Pastry additionally views an identifier
// as 40 lowercase hex digits for prefix matching; both views are
// derived from the same canonical 20-byte value.
package ident

import (
	"bytes"
	"crypto/sha1"
	"encoding/hex"
	"math/big"

	"github.com/pkg/errors"
)

// Bits is the width of the identifier space.
const Bits = 160

// HexDigits is the length of the canonical hex representation.
const HexDigits = Bits / 4

// ringMod is 2^160, the modulus of the identifier ring.
var ringMod = new(big.Int).Lsh(big.NewInt(1), Bits)

// Id is a 160-bit identifier, stored big-endian.
// The zero value is the identifier 0, a valid ring position.
type Id [Bits / 8]byte

// Hash derives the identifier for s: the SHA-1 digest of its UTF-8
// bytes, read as a big-endian unsigned integer.
func Hash(s string) Id {
	return Id(sha1.Sum([]byte(s)))
}

// Cmp compares two identifiers as unsigned integers.
// It returns -1, 0 or +1.
func (id Id) Cmp(other Id) int {
	return bytes.Compare(id[:], other[:])
}

// IsZero reports whether id is the zero identifier.
func (id Id) IsZero() bool {
	return id == Id{}
}

// Big returns id as a big.Int.
func (id Id) Big() *big.Int {
	return new(big.Int).SetBytes(id[:])
}

// Hex returns the 40-digit zero-padded lowercase hex form.
func (id Id) Hex() string {
	return hex.EncodeToString(id[:])
}

// Decimal returns id as a decimal string, the wire form.
func (id Id) Decimal() string {
	return id.Big().String()
}

// String implements fmt.Stringer, abbreviating to the first 10 hex
// digits for log output.
func (id Id) String() string {
	return id.Hex()[:10]
}

// FromBig converts a non-negative big.Int below 2^160 into an Id.
func FromBig(v *big.Int) (Id, error) {
	if v.Sign() < 0 || v.Cmp(ringMod) >= 0 {
		return Id{}, errors.Errorf("ident: value out of range: %s", v)
	}
	var id Id
	v.FillBytes(id[:])
	return id, nil
}

// ParseDecimal parses the decimal wire form of an identifier.
func ParseDecimal(s string) (Id, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return Id{}, errors.Errorf("ident: invalid decimal id %q", s)
	}
	return FromBig(v)
}

// ParseHex parses a 40-digit lowercase hex identifier.
func ParseHex(s string) (Id, error) {
	if len(s) != HexDigits {
		return Id{}, errors.Errorf("ident: invalid hex id length %d", len(s))
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return Id{}, errors.Wrapf(err, "ident: invalid hex id %q", s)
	}
	var id Id
	copy(id[:], b)
	return id, nil
}

// MarshalJSON encodes id as a decimal string to avoid precision loss
// in consumers with 64-bit JSON numbers.
func (id Id) MarshalJSON() ([]byte, error) {
	return []byte(`"` + id.Decimal() + `"`), nil
}

// UnmarshalJSON decodes the decimal string wire form.
func (id *Id) UnmarshalJSON(data []byte) error {
	if len(data) < 2 || data[0] != '"' || data[len(data)-1] != '"' {
		return errors.Errorf("ident: id must be a JSON string: %s", data)
	}
	parsed, err := ParseDecimal(string(data[1 : len(data)-1]))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// Between reports whether k lies on the open arc from a to b going
// clockwise around the ring. With rightClosed the arc includes b.
//
// The wrap case a >= b splits the arc into (a, 2^160) and [0, b]; in
// particular the degenerate open arc from a to a covers the whole ring
// except a itself, and the right-closed one covers the whole ring,
// which makes a single node responsible for every key.
func Between(k, a, b Id, rightClosed bool) bool {
	if a.Cmp(b) < 0 {
		if rightClosed {
			return k.Cmp(a) > 0 && k.Cmp(b) <= 0
		}
		return k.Cmp(a) > 0 && k.Cmp(b) < 0
	}
	if rightClosed {
		return k.Cmp(a) > 0 || k.Cmp(b) <= 0
	}
	return k.Cmp(a) > 0 || k.Cmp(b) < 0
}

// FingerStart returns (id + 2^i) mod 2^160, the start of the i-th
// finger interval.
func (id Id) FingerStart(i int) Id {
	if i < 0 || i >= Bits {
		return id
	}
	out := id
	byteIdx := len(out) - 1 - i/8
	carry := byte(1) << (i % 8)
	for byteIdx >= 0 {
		sum := uint16(out[byteIdx]) + uint16(carry)
		out[byteIdx] = byte(sum)
		if sum < 256 {
			break
		}
		carry = 1
		byteIdx--
	}
	return out
}

// Distance returns the absolute numeric distance |a - b|, the
// proximity metric used by the prefix overlay.
func Distance(a, b Id) *big.Int {
	d := new(big.Int).Sub(a.Big(), b.Big())
	return d.Abs(d)
}

// PrefixLen returns the number of leading hex digits shared by a and
// b, in [0, 40].
func PrefixLen(a, b Id) int {
	for i := 0; i < len(a); i++ {
		if a[i] == b[i] {
			continue
		}
		n := 2 * i
		if a[i]>>4 == b[i]>>4 {
			n++
		}
		return n
	}
	return HexDigits
}

// HexDigit returns the i-th hex digit of id, counting from the most
// significant digit.
func (id Id) HexDigit(i int) byte {
	b := id[i/2]
	if i%2 == 0 {
		return b >> 4
	}
	return b & 0x0f
}
