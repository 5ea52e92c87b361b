// Copyright (c) 2025 Karl Gaissmaier
// SPDX-License-Identifier: MIT

package ident_test

import (
	"math/big"
	"testing"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/require"

	"github.com/dhtlab/ringleaf/internal/ident"
)

// mustHex builds an Id from a full 40-digit hex string.
func mustHex(t *testing.T, s string) ident.Id {
	t.Helper()
	id, err := ident.ParseHex(s)
	require.NoError(t, err)
	return id
}

// pad builds an Id whose value is the small integer v.
func pad(t *testing.T, v int64) ident.Id {
	t.Helper()
	id, err := ident.FromBig(big.NewInt(v))
	require.NoError(t, err)
	return id
}

func TestHashKnownVector(t *testing.T) {
	t.Parallel()

	// SHA-1("abc"), the classic test vector.
	got := ident.Hash("abc")
	require.Equal(t, "a9993e364706816aba3e25717850c26c9cd0d89d", got.Hex())

	// Deterministic and sensitive to input.
	require.Equal(t, got, ident.Hash("abc"))
	require.NotEqual(t, got, ident.Hash("abd"))
}

func TestDecimalRoundTrip(t *testing.T) {
	t.Parallel()

	for _, s := range []string{"", "abc", "Toy Story", "127.0.0.1:9000"} {
		id := ident.Hash(s)
		back, err := ident.ParseDecimal(id.Decimal())
		require.NoError(t, err)
		require.Equal(t, id, back)
	}

	_, err := ident.ParseDecimal("not a number")
	require.Error(t, err)
	_, err = ident.ParseDecimal("-1")
	require.Error(t, err)

	// 2^160 is one past the largest identifier.
	over := new(big.Int).Lsh(big.NewInt(1), 160)
	_, err = ident.ParseDecimal(over.String())
	require.Error(t, err)
}

func TestHexRoundTrip(t *testing.T) {
	t.Parallel()

	id := ident.Hash("hex round trip")
	require.Len(t, id.Hex(), 40)
	back, err := ident.ParseHex(id.Hex())
	require.NoError(t, err)
	require.Equal(t, id, back)

	_, err = ident.ParseHex("abc")
	require.Error(t, err)
}

func TestJSONDecimalForm(t *testing.T) {
	t.Parallel()

	id := ident.Hash("json form")
	raw, err := json.Marshal(id)
	require.NoError(t, err)
	require.Equal(t, `"`+id.Decimal()+`"`, string(raw))

	var back ident.Id
	require.NoError(t, json.Unmarshal(raw, &back))
	require.Equal(t, id, back)

	require.Error(t, json.Unmarshal([]byte(`42`), &back))
}

func TestBetween(t *testing.T) {
	t.Parallel()

	a, b := pad(t, 10), pad(t, 20)
	tests := []struct {
		name        string
		k, lo, hi   ident.Id
		rightClosed bool
		want        bool
	}{
		{"inside", pad(t, 15), a, b, false, true},
		{"at lower bound", a, a, b, false, false},
		{"at upper open", b, a, b, false, false},
		{"at upper closed", b, a, b, true, true},
		{"outside", pad(t, 25), a, b, false, false},

		// Wrap case: the arc from 20 to 10 crosses zero.
		{"wrap high side", pad(t, 25), b, a, false, true},
		{"wrap low side", pad(t, 5), b, a, false, true},
		{"wrap outside", pad(t, 15), b, a, false, false},
		{"wrap upper closed", a, b, a, true, true},

		// Degenerate arc: a single node owns the whole ring.
		{"full ring", pad(t, 999), a, a, true, true},
		{"full ring zero", pad(t, 0), a, a, true, true},
		{"full ring excludes start", a, a, a, false, false},
		{"full ring closed includes start", a, a, a, true, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tc.want, ident.Between(tc.k, tc.lo, tc.hi, tc.rightClosed))
		})
	}
}

func TestFingerStart(t *testing.T) {
	t.Parallel()

	zero := pad(t, 0)
	for _, i := range []int{0, 1, 7, 8, 63, 159} {
		want, err := ident.FromBig(new(big.Int).Lsh(big.NewInt(1), uint(i)))
		require.NoError(t, err)
		require.Equal(t, want, zero.FingerStart(i), "2^%d", i)
	}

	// Carry propagation: 0xff..ff + 2^0 wraps to 0.
	all := mustHex(t, "ffffffffffffffffffffffffffffffffffffffff")
	require.Equal(t, zero, all.FingerStart(0))

	// Generic check against big.Int arithmetic.
	id := ident.Hash("finger start")
	mod := new(big.Int).Lsh(big.NewInt(1), 160)
	for i := 0; i < 160; i++ {
		sum := new(big.Int).Add(id.Big(), new(big.Int).Lsh(big.NewInt(1), uint(i)))
		sum.Mod(sum, mod)
		want, err := ident.FromBig(sum)
		require.NoError(t, err)
		require.Equal(t, want, id.FingerStart(i), "i=%d", i)
	}
}

func TestDistance(t *testing.T) {
	t.Parallel()

	a, b := pad(t, 100), pad(t, 140)
	require.Equal(t, int64(40), ident.Distance(a, b).Int64())
	require.Equal(t, int64(40), ident.Distance(b, a).Int64())
	require.Equal(t, int64(0), ident.Distance(a, a).Int64())
}

func TestPrefixLen(t *testing.T) {
	t.Parallel()

	tests := []struct {
		a, b string
		want int
	}{
		{"0000000000000000000000000000000000000000", "0000000000000000000000000000000000000000", 40},
		{"a9993e364706816aba3e25717850c26c9cd0d89d", "a9993e364706816aba3e25717850c26c9cd0d89d", 40},
		{"a9993e364706816aba3e25717850c26c9cd0d89d", "a9883e364706816aba3e25717850c26c9cd0d89d", 2},
		{"ffffffffffffffffffffffffffffffffffffffff", "0fffffffffffffffffffffffffffffffffffffff", 0},
		{"abcdef0123456789abcdef0123456789abcdef01", "abcdef0123456789abcdef0123456789abcdef00", 39},
	}
	for _, tc := range tests {
		a, b := mustHex(t, tc.a), mustHex(t, tc.b)
		require.Equal(t, tc.want, ident.PrefixLen(a, b), "%s vs %s", tc.a, tc.b)
		require.Equal(t, tc.want, ident.PrefixLen(b, a))
	}
}

func TestHexDigit(t *testing.T) {
	t.Parallel()

	id := mustHex(t, "0123456789abcdef0123456789abcdef01234567")
	for i := 0; i < 40; i++ {
		want := id.Hex()[i]
		got := id.HexDigit(i)
		require.Equal(t, string(want), string("0123456789abcdef"[got]), "digit %d", i)
	}
}
