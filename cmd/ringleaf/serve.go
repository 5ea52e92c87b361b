// Copyright (c) 2025 Karl Gaissmaier
// SPDX-License-Identifier: MIT

package main

import (
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/dhtlab/ringleaf"
	"github.com/dhtlab/ringleaf/internal/config"
)

var serveFlags struct {
	configPath string
	overlay    string
	host       string
	port       int
	bootstrap  string
	storageDir string
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "run one overlay node until interrupted",
	RunE:  runServe,
}

func init() {
	f := serveCmd.Flags()
	f.StringVarP(&serveFlags.configPath, "config", "c", "", "YAML config file")
	f.StringVar(&serveFlags.overlay, "overlay", "", "overlay kind: chord or pastry")
	f.StringVar(&serveFlags.host, "host", "", "listen host")
	f.IntVar(&serveFlags.port, "port", -1, "listen port (0 = kernel-assigned)")
	f.StringVar(&serveFlags.bootstrap, "bootstrap", "", "host:port of a live member to join")
	f.StringVar(&serveFlags.storageDir, "storage-dir", "", "directory for index persistence")
}

// member is the surface serve needs from either node kind.
type member interface {
	Info() ringleaf.NodeInfo
	Join(ringleaf.NodeInfo) error
	Leave() error
	Close() error
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg := config.Default()
	if serveFlags.configPath != "" {
		var err error
		if cfg, err = config.Load(serveFlags.configPath); err != nil {
			return err
		}
	}
	if serveFlags.overlay != "" {
		cfg.Overlay = serveFlags.overlay
	}
	if serveFlags.host != "" {
		cfg.Host = serveFlags.host
	}
	if serveFlags.port >= 0 {
		cfg.Port = serveFlags.port
	}
	if serveFlags.bootstrap != "" {
		cfg.Bootstrap = serveFlags.bootstrap
	}
	if serveFlags.storageDir != "" {
		cfg.StorageDir = serveFlags.storageDir
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	log, err := buildLogger(cfg.Log)
	if err != nil {
		return err
	}
	defer log.Sync()

	opts := []ringleaf.Option{ringleaf.WithLogger(log)}
	if cfg.StorageDir != "" {
		if err := os.MkdirAll(cfg.StorageDir, 0o755); err != nil {
			return errors.Wrap(err, "create storage dir")
		}
		opts = append(opts, ringleaf.WithStorageDir(cfg.StorageDir))
	}
	if cfg.Order > 0 {
		opts = append(opts, ringleaf.WithOrder(cfg.Order))
	}
	if cfg.LeafSet > 0 {
		opts = append(opts, ringleaf.WithLeafSetSize(cfg.LeafSet))
	}

	var node member
	switch cfg.Overlay {
	case config.OverlayPastry:
		node, err = ringleaf.NewPastryNode(cfg.Host, cfg.Port, opts...)
	default:
		node, err = ringleaf.NewChordNode(cfg.Host, cfg.Port, opts...)
	}
	if err != nil {
		return err
	}

	if cfg.Bootstrap != "" {
		peer, err := parsePeer(cfg.Bootstrap)
		if err != nil {
			node.Close()
			return err
		}
		if err := node.Join(peer); err != nil {
			return err
		}
	}

	info := node.Info()
	cmd.Printf("%s node %s listening on %s\n", cfg.Overlay, info.ID, info.Addr())

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.Info("shutting down, handing keys off")
	return node.Leave()
}

// parsePeer derives the NodeInfo of the member listening at a
// host:port address.
func parsePeer(addr string) (ringleaf.NodeInfo, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return ringleaf.NodeInfo{}, errors.Wrapf(err, "invalid peer address %q", addr)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port <= 0 || port > 65535 {
		return ringleaf.NodeInfo{}, errors.Errorf("invalid peer port in %q", addr)
	}
	return ringleaf.Peer(host, port), nil
}
