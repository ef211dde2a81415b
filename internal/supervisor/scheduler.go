// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package supervisor

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nishisan-dev/autorate/internal/connectivity"
	"github.com/nishisan-dev/autorate/internal/wancontroller"
)

// ManagedWAN pairs a running Controller with the name used in logs and the
// health snapshot.
type ManagedWAN struct {
	Name       string
	Controller *wancontroller.Controller
}

// ReloadFunc reloads configuration and rebuilds the managed WAN set. It
// returns the new set on success; on failure the scheduler keeps running
// with the previous set, matching the teacher's reload-keeps-old-config-on-
// failure discipline.
type ReloadFunc func() ([]ManagedWAN, error)

// Scheduler is the single-threaded event loop driving every WAN
// Controller's run_cycle() once per tick, never overlapping cycles for the
// same WAN.
type Scheduler struct {
	logger       *slog.Logger
	period       time.Duration
	wans         []ManagedWAN
	reload       ReloadFunc
	watchdog     *Watchdog
	unhealthyMax uint32

	verbose bool
}

// NewScheduler constructs a Scheduler. period is the configured cycle
// period (default 50ms applied by the config loader).
func NewScheduler(logger *slog.Logger, period time.Duration, wans []ManagedWAN, reload ReloadFunc, watchdog *Watchdog, unhealthyMax uint32) *Scheduler {
	return &Scheduler{
		logger:       logger.With("component", "supervisor"),
		period:       period,
		wans:         wans,
		reload:       reload,
		watchdog:     watchdog,
		unhealthyMax: unhealthyMax,
	}
}

// Run blocks until SIGTERM/SIGINT, executing one tick per period. Each tick
// runs every WAN's cycle sequentially in configuration order; the watchdog
// is petted iff every outcome this tick is healthy or a router-only
// failure, never on auth failures or cycle panics recovered below.
func (s *Scheduler) Run(ctx context.Context) error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT, syscall.SIGHUP, syscall.SIGUSR1)
	defer signal.Stop(sigCh)

	ticker := time.NewTicker(s.period)
	defer ticker.Stop()

	var shuttingDown bool

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case sig := <-sigCh:
			switch sig {
			case syscall.SIGHUP:
				s.handleReload()
			case syscall.SIGUSR1:
				s.verbose = !s.verbose
				s.logger.Info("verbose toggled", "verbose", s.verbose)
			default:
				if shuttingDown {
					s.logger.Warn("second shutdown signal received, forcing exit", "signal", sig)
					return nil
				}
				shuttingDown = true
				s.logger.Info("shutdown signal received, finishing current tick", "signal", sig)
				s.watchdog.Stopping()
				return nil
			}

		case now := <-ticker.C:
			start := time.Now()
			s.tick(ctx, now)
			elapsed := time.Since(start)
			if elapsed > s.period {
				s.logger.Warn("tick exceeded cycle period", "elapsed", elapsed, "period", s.period)
			}
		}
	}
}

func (s *Scheduler) tick(ctx context.Context, now time.Time) {
	allHealthy := true
	for _, w := range s.wans {
		outcome := s.runOneSafely(ctx, w, now)
		if !outcome.RouterHealthy || outcome.FailureKind == connectivity.FailureAuth {
			allHealthy = false
		}
		if s.verbose {
			s.logger.Info("cycle outcome",
				"wan", w.Name, "success", outcome.Success, "router_healthy", outcome.RouterHealthy,
				"download_zone", outcome.DownloadZone, "upload_zone", outcome.UploadZone)
		}
	}
	s.watchdog.Pet(allHealthy)
}

// runOneSafely recovers a panic within a single WAN's cycle so one
// misbehaving controller cannot take down the whole scheduler; the cycle
// simply returns without persisting, and the next tick proceeds.
func (s *Scheduler) runOneSafely(ctx context.Context, w ManagedWAN, now time.Time) (outcome wancontroller.CycleOutcome) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("unexpected exception in cycle", "wan", w.Name, "panic", r)
			// RouterHealthy:false here is a lie about the router, but it's the
			// only signal tick() has: a recovered panic is a true daemon
			// exception (§4.11), and those must withhold the watchdog pet the
			// same as an auth failure does, not be treated as a router-only
			// blip that still pets.
			outcome = wancontroller.CycleOutcome{Success: false, RouterHealthy: false}
		}
	}()
	return w.Controller.RunCycle(ctx, now)
}

func (s *Scheduler) handleReload() {
	if s.reload == nil {
		s.logger.Warn("SIGHUP received but no reload function configured, ignoring")
		return
	}
	s.logger.Info("received SIGHUP, reloading config")
	newWANs, err := s.reload()
	if err != nil {
		s.logger.Error("reload failed, keeping current config", "error", err)
		return
	}
	s.wans = newWANs
	s.logger.Info("config reloaded successfully", "wans", len(newWANs))
}
