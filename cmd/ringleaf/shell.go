// Copyright (c) 2025 Karl Gaissmaier
// SPDX-License-Identifier: MIT

package main

import (
	"strings"

	json "github.com/goccy/go-json"
	"github.com/peterh/liner"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/dhtlab/ringleaf"
	"github.com/dhtlab/ringleaf/internal/config"
)

var shellFlags struct {
	addr    string
	overlay string
}

var shellCmd = &cobra.Command{
	Use:   "shell",
	Short: "interactive data operations against a running overlay",
	Long: `shell opens a line-edited prompt against an entry node.

Commands:
  insert <title> <json>   store a record under hash(title)
  lookup <title>          fetch the record and hop count
  delete <title>          remove the record
  quit                    leave the shell`,
	RunE: runShell,
}

func init() {
	f := shellCmd.Flags()
	f.StringVar(&shellFlags.addr, "addr", "127.0.0.1:9000", "host:port of the entry node")
	f.StringVar(&shellFlags.overlay, "overlay", config.OverlayChord, "overlay kind: chord or pastry")
}

func runShell(cmd *cobra.Command, _ []string) error {
	client, err := newClient(shellFlags.overlay, shellFlags.addr)
	if err != nil {
		return err
	}

	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)

	for {
		input, err := line.Prompt("ringleaf> ")
		if err != nil {
			// EOF or Ctrl-C ends the session.
			cmd.Println()
			return nil
		}
		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		line.AppendHistory(input)

		verb, rest, _ := strings.Cut(input, " ")
		switch verb {
		case "quit", "exit":
			return nil
		case "insert":
			title, body, ok := strings.Cut(strings.TrimSpace(rest), " ")
			if !ok {
				cmd.Println("usage: insert <title> <json>")
				continue
			}
			if !json.Valid([]byte(body)) {
				cmd.Println("value is not valid JSON")
				continue
			}
			if err := client.Insert(title, []byte(body)); err != nil {
				cmd.Println("insert failed:", err)
				continue
			}
			cmd.Println("ok")
		case "lookup":
			title := strings.TrimSpace(rest)
			if title == "" {
				cmd.Println("usage: lookup <title>")
				continue
			}
			val, hops, err := client.Lookup(title)
			if err != nil {
				cmd.Println("lookup failed:", err)
				continue
			}
			if len(val) == 0 || string(val) == "null" {
				cmd.Printf("not found (%d hops)\n", hops)
				continue
			}
			cmd.Printf("%s (%d hops)\n", val, hops)
		case "delete":
			title := strings.TrimSpace(rest)
			if title == "" {
				cmd.Println("usage: delete <title>")
				continue
			}
			switch err := client.Delete(title); {
			case err == nil:
				cmd.Println("ok")
			case errors.Is(err, ringleaf.ErrNotFound):
				cmd.Println("not found")
			default:
				cmd.Println("delete failed:", err)
			}
		default:
			cmd.Printf("unknown command %q\n", verb)
		}
	}
}
