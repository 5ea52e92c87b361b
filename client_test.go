// Copyright (c) 2025 Karl Gaissmaier
// SPDX-License-Identifier: MIT

package ringleaf_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dhtlab/ringleaf"
)

// TestChordClient drives the full data API from outside the overlay,
// entering through one ring member.
func TestChordClient(t *testing.T) {
	t.Parallel()

	nodes := buildRing(t, 3)
	entry := nodes[0].Info()
	client := ringleaf.NewChordClient(entry.Host, entry.Port)
	client.SetTimeout(2 * time.Second)

	require.NoError(t, client.Insert("Blade Runner", ringleaf.Value(`{"year":1982}`)))

	val, hops, err := client.Lookup("Blade Runner")
	require.NoError(t, err)
	require.JSONEq(t, `{"year":1982}`, string(val))
	require.Greater(t, hops, 0)

	// The entry landed inside the overlay, reachable from any member.
	val, _, err = nodes[2].Lookup("Blade Runner")
	require.NoError(t, err)
	require.JSONEq(t, `{"year":1982}`, string(val))

	require.NoError(t, client.Update("Blade Runner", ringleaf.Value(`{"year":2049}`)))
	val, _, err = client.Lookup("Blade Runner")
	require.NoError(t, err)
	require.JSONEq(t, `{"year":2049}`, string(val))

	require.NoError(t, client.Delete("Blade Runner"))
	require.ErrorIs(t, client.Delete("Blade Runner"), ringleaf.ErrNotFound)

	val, _, err = client.Lookup("Blade Runner")
	require.NoError(t, err)
	require.True(t, len(val) == 0 || string(val) == "null")
}

// TestPastryClient does the same through a prefix overlay member.
func TestPastryClient(t *testing.T) {
	t.Parallel()

	nodes := buildMesh(t, 3)
	entry := nodes[1].Info()
	client := ringleaf.NewPastryClient(entry.Host, entry.Port)

	require.NoError(t, client.Insert("Alien", ringleaf.Value(`{"year":1979}`)))

	val, _, err := client.Lookup("Alien")
	require.NoError(t, err)
	require.JSONEq(t, `{"year":1979}`, string(val))

	val, _, err = nodes[0].Lookup("Alien")
	require.NoError(t, err)
	require.JSONEq(t, `{"year":1979}`, string(val))

	require.NoError(t, client.Delete("Alien"))
	require.Equal(t, 0, pastryTotal(nodes))
}

// TestClientEntryDown: a dead entry node surfaces as a transport
// error, not a hang.
func TestClientEntryDown(t *testing.T) {
	t.Parallel()

	n := newChord(t)
	info := n.Info()
	require.NoError(t, n.Close())

	client := ringleaf.NewChordClient(info.Host, info.Port)
	client.SetTimeout(500 * time.Millisecond)

	err := client.Insert("x", ringleaf.Value(`{}`))
	require.Error(t, err)
	var te *ringleaf.TransportError
	require.ErrorAs(t, err, &te)
}
