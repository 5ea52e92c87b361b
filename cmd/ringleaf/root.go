// Copyright (c) 2025 Karl Gaissmaier
// SPDX-License-Identifier: MIT

// Command ringleaf runs and drives the comparative DHT testbed: it
// serves single overlay nodes, seeds them from CSV record files,
// offers an interactive shell and runs the Chord vs Pastry
// comparison.
package main

import (
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/dhtlab/ringleaf/internal/config"
)

var rootCmd = &cobra.Command{
	Use:           "ringleaf",
	Short:         "comparative Chord/Pastry DHT testbed",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.AddCommand(serveCmd, seedCmd, shellCmd, compareCmd)
}

func execute() {
	if err := rootCmd.Execute(); err != nil {
		rootCmd.PrintErrln("error:", err)
		os.Exit(1)
	}
}

// buildLogger constructs the process logger: console output by
// default, a size-rotated file when configured.
func buildLogger(cfg config.Log) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var sink zapcore.WriteSyncer
	if cfg.File != "" {
		sink = zapcore.AddSync(&lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
		})
	} else {
		sink = zapcore.Lock(os.Stderr)
	}

	core := zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), sink, level)
	return zap.New(core), nil
}
