// Copyright (c) 2025 Karl Gaissmaier
// SPDX-License-Identifier: MIT

package main

import (
	json "github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/dhtlab/ringleaf"
	"github.com/dhtlab/ringleaf/internal/config"
	"github.com/dhtlab/ringleaf/internal/csvload"
)

var seedFlags struct {
	file    string
	addr    string
	overlay string
}

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "load a CSV record file into a running overlay",
	RunE:  runSeed,
}

func init() {
	f := seedCmd.Flags()
	f.StringVarP(&seedFlags.file, "file", "f", "", "CSV file with a title column")
	f.StringVar(&seedFlags.addr, "addr", "127.0.0.1:9000", "host:port of the entry node")
	f.StringVar(&seedFlags.overlay, "overlay", config.OverlayChord, "overlay kind: chord or pastry")
	_ = seedCmd.MarkFlagRequired("file")
}

func runSeed(cmd *cobra.Command, _ []string) error {
	records, err := csvload.Load(seedFlags.file)
	if err != nil {
		return err
	}

	client, err := newClient(seedFlags.overlay, seedFlags.addr)
	if err != nil {
		return err
	}

	inserted := 0
	for _, rec := range records {
		row := make(map[string]string, len(rec.Fields)+1)
		row["title"] = rec.Title
		for k, v := range rec.Fields {
			row[k] = v
		}
		data, err := json.Marshal(row)
		if err != nil {
			return err
		}
		if err := client.Insert(rec.Title, data); err != nil {
			return err
		}
		inserted++
	}

	cmd.Printf("seeded %d records via %s\n", inserted, seedFlags.addr)
	return nil
}

// newClient builds the overlay client for a host:port entry node.
func newClient(overlay, addr string) (*ringleaf.Client, error) {
	peer, err := parsePeer(addr)
	if err != nil {
		return nil, err
	}
	if overlay == config.OverlayPastry {
		return ringleaf.NewPastryClient(peer.Host, peer.Port), nil
	}
	return ringleaf.NewChordClient(peer.Host, peer.Port), nil
}
