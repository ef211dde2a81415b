// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nishisan-dev/autorate/internal/config"
	"github.com/nishisan-dev/autorate/internal/logging"
	"github.com/nishisan-dev/autorate/internal/wiring"
)

const (
	exitOK          = 0
	exitGenericErr  = 1
	exitConfigErr   = 2
	exitInterrupted = 130
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "path to the WAN controller config file (required)")
	validateOnly := flag.Bool("validate-config", false, "parse and validate config, then exit")
	oneshot := flag.Bool("oneshot", false, "run a single steering cycle and exit")
	flag.Parse()

	if *configPath == "" {
		fmt.Fprintln(os.Stderr, "Error: --config is required")
		return exitConfigErr
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		return exitConfigErr
	}
	if cfg.Steering.PrimaryWAN == "" {
		fmt.Fprintln(os.Stderr, "Error: steering.primary_wan must be set to run steeringctl")
		return exitConfigErr
	}

	if *validateOnly {
		fmt.Println("config valid")
		return exitOK
	}

	logger, logCloser := logging.NewLogger(cfg.Logging.Level, cfg.Logging.Format, "")
	defer logCloser.Close()

	daemon, err := wiring.BuildSteering(cfg, logger)
	if err != nil {
		logger.Error("building steering daemon failed", "error", err)
		return exitGenericErr
	}

	if *oneshot {
		daemon.RunCycle(context.Background(), time.Now())
		return exitOK
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(sigCh)

	interval := cfg.Steering.IntervalMs
	if interval <= 0 {
		interval = 2000
	}
	ticker := time.NewTicker(time.Duration(interval) * time.Millisecond)
	defer ticker.Stop()

	ctx := context.Background()
	logger.Info("steering daemon started", "primary_wan", cfg.Steering.PrimaryWAN, "interval_ms", interval)

	for {
		select {
		case sig := <-sigCh:
			logger.Info("shutdown signal received", "signal", sig)
			if sig == syscall.SIGINT {
				return exitInterrupted
			}
			return exitOK

		case now := <-ticker.C:
			daemon.RunCycle(ctx, now)
		}
	}
}
