// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/nishisan-dev/autorate/internal/config"
	"github.com/nishisan-dev/autorate/internal/configwatch"
	"github.com/nishisan-dev/autorate/internal/health"
	"github.com/nishisan-dev/autorate/internal/logging"
	"github.com/nishisan-dev/autorate/internal/metrics"
	"github.com/nishisan-dev/autorate/internal/schedulecron"
	"github.com/nishisan-dev/autorate/internal/supervisor"
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
	oneshot := flag.Bool("oneshot", false, "run a single control cycle per configured wan and exit")
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

	if *validateOnly {
		fmt.Println("config valid")
		return exitOK
	}

	logger, logCloser := logging.NewLogger(cfg.Logging.Level, cfg.Logging.Format, "")
	defer logCloser.Close()

	reg := metrics.NewRegistry(cfg.Metrics.Namespace)

	managed, err := wiring.BuildManagedWANs(cfg, logger, reg)
	if err != nil {
		logger.Error("building wan controllers failed", "error", err)
		return exitGenericErr
	}

	if *oneshot {
		ctx := context.Background()
		now := time.Now()
		for _, w := range managed {
			outcome := w.Controller.RunCycle(ctx, now)
			logger.Info("oneshot cycle complete", "wan", w.Name, "success", outcome.Success, "router_healthy", outcome.RouterHealthy)
		}
		return exitOK
	}

	lockPaths := make([]*supervisor.Lock, 0, len(cfg.WANs))
	for _, w := range cfg.WANs {
		lk, err := supervisor.AcquireLock(w.LockFile)
		if err != nil {
			logger.Error("acquiring lock failed", "wan", w.Name, "error", err)
			for _, held := range lockPaths {
				held.Release()
			}
			return exitGenericErr
		}
		lockPaths = append(lockPaths, lk)
	}
	defer func() {
		for _, lk := range lockPaths {
			lk.Release()
		}
	}()

	watchdog := supervisor.NewWatchdog(logger)

	healthSources := make([]health.Source, 0, len(managed))
	for _, w := range managed {
		healthSources = append(healthSources, w.Controller)
	}
	healthACL, err := health.ParseCIDRs(cfg.Health.ACLCIDRs)
	if err != nil {
		logger.Error("parsing health.acl_cidrs failed", "error", err)
		return exitConfigErr
	}
	healthSrv := &http.Server{
		Addr:    cfg.Health.Listen,
		Handler: health.NewHandler(healthSources, cfg.Supervisor.ConsecutiveFailureUnhealthy, healthACL),
	}
	go func() {
		if err := healthSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("health server stopped", "error", err)
		}
	}()

	metricsSrv := &http.Server{Addr: cfg.Metrics.Listen, Handler: reg.Handler()}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server stopped", "error", err)
		}
	}()

	refresher := schedulecron.NewRefresher(logger)
	schedule := cfg.Supervisor.RefreshSchedule
	if schedule == "" {
		schedule = schedulecron.DefaultRefreshSchedule
	}
	if err := refresher.AddJob(schedule, "health-refresh", func() {
		logger.Debug("scheduled health refresh tick")
	}); err != nil {
		logger.Warn("registering schedulecron job failed, continuing without it", "error", err)
	} else {
		refresher.Start()
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			refresher.Stop(stopCtx)
		}()
	}

	reload := func() ([]supervisor.ManagedWAN, error) {
		newCfg, err := config.Load(*configPath)
		if err != nil {
			return nil, err
		}
		return wiring.BuildManagedWANs(newCfg, logger, reg)
	}

	if watcher, err := configwatch.New(*configPath, logger); err != nil {
		logger.Warn("config file watcher unavailable, edits require an explicit SIGHUP", "error", err)
	} else {
		defer watcher.Close()
	}

	sched := supervisor.NewScheduler(logger, time.Duration(cfg.Supervisor.CyclePeriodMs)*time.Millisecond,
		managed, reload, watchdog, cfg.Supervisor.ConsecutiveFailureUnhealthy)

	// Scheduler.Run installs its own SIGTERM/SIGINT/SIGHUP/SIGUSR1 handling
	// and returns once a shutdown signal is processed. A second, independent
	// SIGINT watch here only decides the process exit code, mirroring the
	// interrupted (130) convention without disturbing Run's own handling.
	sigintCh := make(chan os.Signal, 1)
	signal.Notify(sigintCh, syscall.SIGINT)
	var interrupted atomic.Bool
	go func() {
		if _, ok := <-sigintCh; ok {
			interrupted.Store(true)
		}
	}()

	runErr := sched.Run(context.Background())
	signal.Stop(sigintCh)
	close(sigintCh)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	healthSrv.Shutdown(shutdownCtx)
	metricsSrv.Shutdown(shutdownCtx)

	if runErr != nil {
		logger.Error("scheduler exited with error", "error", runErr)
		return exitGenericErr
	}
	if interrupted.Load() {
		return exitInterrupted
	}
	return exitOK
}
