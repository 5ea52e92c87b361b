// Copyright (c) 2025 Karl Gaissmaier
// SPDX-License-Identifier: MIT

package main

import (
	"fmt"
	"math/rand/v2"
	"os"
	"slices"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/dhtlab/ringleaf"
)

var compareFlags struct {
	nodes       int
	keys        int
	lookups     int
	concurrency int
	out         string
}

var compareCmd = &cobra.Command{
	Use:   "compare",
	Short: "run the Chord vs Pastry lookup comparison in-process",
	Long: `compare assembles one ring overlay and one prefix overlay on
loopback ports, wires their routing state from global knowledge, seeds
both with the same synthetic records and measures concurrent lookups.`,
	RunE: runCompare,
}

func init() {
	f := compareCmd.Flags()
	f.IntVar(&compareFlags.nodes, "nodes", 10, "nodes per overlay")
	f.IntVar(&compareFlags.keys, "keys", 200, "records to seed")
	f.IntVar(&compareFlags.lookups, "lookups", 400, "lookups to run")
	f.IntVar(&compareFlags.concurrency, "concurrency", 20, "concurrent lookups")
	f.StringVar(&compareFlags.out, "out", "", "write results as JSON to this file")
}

// benchResult is one overlay's share of a comparison run.
type benchResult struct {
	Overlay  string  `json:"overlay"`
	Nodes    int     `json:"nodes"`
	Keys     int     `json:"keys"`
	Lookups  int     `json:"lookups"`
	AvgHops  float64 `json:"avg_hops"`
	MaxHops  int     `json:"max_hops"`
	Failures int     `json:"failures"`
	TotalMS  int64   `json:"total_ms"`
}

// dataNode is the surface the benchmark needs from either node kind.
type dataNode interface {
	Info() ringleaf.NodeInfo
	Insert(string, ringleaf.Value) error
	Lookup(string) (ringleaf.Value, int, error)
	Close() error
}

func runCompare(cmd *cobra.Command, _ []string) error {
	titles := make([]string, compareFlags.keys)
	for i := range titles {
		titles[i] = fmt.Sprintf("record-%04d", i)
	}

	chord, err := benchChord(titles)
	if err != nil {
		return err
	}
	pastry, err := benchPastry(titles)
	if err != nil {
		return err
	}

	for _, r := range []benchResult{chord, pastry} {
		cmd.Printf("%-7s nodes=%d keys=%d lookups=%d avg_hops=%.2f max_hops=%d failures=%d wall=%dms\n",
			r.Overlay, r.Nodes, r.Keys, r.Lookups, r.AvgHops, r.MaxHops, r.Failures, r.TotalMS)
	}

	if compareFlags.out == "" {
		return nil
	}
	report := struct {
		RunID   string        `json:"run_id"`
		When    time.Time     `json:"when"`
		Results []benchResult `json:"results"`
	}{
		RunID:   uuid.NewString(),
		When:    time.Now().UTC(),
		Results: []benchResult{chord, pastry},
	}
	raw, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(compareFlags.out, raw, 0o644)
}

// benchChord assembles a fully wired ring from global knowledge and
// measures lookups on it.
func benchChord(titles []string) (benchResult, error) {
	n := compareFlags.nodes
	nodes := make([]*ringleaf.ChordNode, 0, n)
	defer func() {
		for _, nd := range nodes {
			nd.Close()
		}
	}()

	for i := 0; i < n; i++ {
		nd, err := ringleaf.NewChordNode("127.0.0.1", 0)
		if err != nil {
			return benchResult{}, err
		}
		nodes = append(nodes, nd)
	}

	// Sort by ring position and wire successor, predecessor and the
	// full finger table of every node.
	slices.SortFunc(nodes, func(a, b *ringleaf.ChordNode) int {
		return a.Info().ID.Cmp(b.Info().ID)
	})
	infos := make([]ringleaf.NodeInfo, n)
	for i, nd := range nodes {
		infos[i] = nd.Info()
	}
	ownerOf := func(key ringleaf.Id) ringleaf.NodeInfo {
		for _, info := range infos {
			if key.Cmp(info.ID) <= 0 {
				return info
			}
		}
		return infos[0]
	}
	for i, nd := range nodes {
		nd.SetSuccessor(infos[(i+1)%n])
		nd.SetPredecessor(infos[(i+n-1)%n])
		self := infos[i].ID
		for j := 0; j < 160; j++ {
			nd.SetFinger(j, ownerOf(self.FingerStart(j)))
		}
	}

	return measure("chord", nodes[0], asDataNodes(nodes), titles)
}

// benchPastry assembles a prefix overlay whose leaf sets and routing
// tables are seeded from global knowledge.
func benchPastry(titles []string) (benchResult, error) {
	n := compareFlags.nodes
	nodes := make([]*ringleaf.PastryNode, 0, n)
	defer func() {
		for _, nd := range nodes {
			nd.Close()
		}
	}()

	for i := 0; i < n; i++ {
		nd, err := ringleaf.NewPastryNode("127.0.0.1", 0)
		if err != nil {
			return benchResult{}, err
		}
		nodes = append(nodes, nd)
	}
	infos := make([]ringleaf.NodeInfo, n)
	for i, nd := range nodes {
		infos[i] = nd.Info()
	}
	for _, nd := range nodes {
		nd.SetLeafSet(infos)
	}

	return measure("pastry", nodes[0], asDataNodes(nodes), titles)
}

func asDataNodes[T dataNode](nodes []T) []dataNode {
	out := make([]dataNode, len(nodes))
	for i, nd := range nodes {
		out[i] = nd
	}
	return out
}

// measure seeds every title through entry and then fans lookups out
// over random starting nodes.
func measure(overlay string, entry dataNode, nodes []dataNode, titles []string) (benchResult, error) {
	for i, title := range titles {
		data, err := json.Marshal(map[string]int{"popularity": i})
		if err != nil {
			return benchResult{}, err
		}
		if err := entry.Insert(title, data); err != nil {
			return benchResult{}, err
		}
	}

	var (
		mu       sync.Mutex
		hopsSum  int
		hopsMax  int
		failures int
	)

	start := time.Now()
	var g errgroup.Group
	g.SetLimit(compareFlags.concurrency)
	for i := 0; i < compareFlags.lookups; i++ {
		g.Go(func() error {
			nd := nodes[rand.IntN(len(nodes))]
			title := titles[rand.IntN(len(titles))]
			val, hops, err := nd.Lookup(title)
			mu.Lock()
			defer mu.Unlock()
			if err != nil || len(val) == 0 || string(val) == "null" {
				failures++
				return nil
			}
			hopsSum += hops
			hopsMax = max(hopsMax, hops)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return benchResult{}, err
	}
	elapsed := time.Since(start)

	ok := compareFlags.lookups - failures
	res := benchResult{
		Overlay:  overlay,
		Nodes:    len(nodes),
		Keys:     len(titles),
		Lookups:  compareFlags.lookups,
		MaxHops:  hopsMax,
		Failures: failures,
		TotalMS:  elapsed.Milliseconds(),
	}
	if ok > 0 {
		res.AvgHops = float64(hopsSum) / float64(ok)
	}
	return res, nil
}
