// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package wiring assembles the collaborator graph each cmd entry point
// needs from a parsed config.Config: transports, backends, controllers, and
// the steering daemon. Kept separate from cmd/ so both autoratectl and
// steeringctl share the exact same construction path.
package wiring

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/nishisan-dev/autorate/internal/baseline"
	"github.com/nishisan-dev/autorate/internal/config"
	"github.com/nishisan-dev/autorate/internal/connectivity"
	"github.com/nishisan-dev/autorate/internal/metrics"
	"github.com/nishisan-dev/autorate/internal/persistence"
	"github.com/nishisan-dev/autorate/internal/queuecontrol"
	"github.com/nishisan-dev/autorate/internal/rate"
	"github.com/nishisan-dev/autorate/internal/ratelimiter"
	"github.com/nishisan-dev/autorate/internal/routerbackend"
	"github.com/nishisan-dev/autorate/internal/rtt"
	"github.com/nishisan-dev/autorate/internal/steering"
	"github.com/nishisan-dev/autorate/internal/supervisor"
	"github.com/nishisan-dev/autorate/internal/transport"
	"github.com/nishisan-dev/autorate/internal/wancontroller"
)

// BuildTransport constructs the sticky-failover transport for one WAN's
// router: REST primary with SSH fallback, or the reverse when
// router.transport is "ssh".
func BuildTransport(w config.WANConfig, logger *slog.Logger) (*transport.Failover, error) {
	verifySSL := false
	if w.Router.VerifySSL != nil {
		verifySSL = *w.Router.VerifySSL
	}

	rest, err := transport.NewREST(transport.RESTConfig{
		BaseURL:    "https://" + w.Router.Host,
		User:       w.Router.User,
		Password:   w.Router.Password,
		VerifySSL:  verifySSL,
		CACertPath: w.Router.CACert,
	})
	if err != nil {
		return nil, fmt.Errorf("building rest transport: %w", err)
	}

	ssh := transport.NewSSH(transport.SSHConfig{
		Host:     w.Router.Host,
		User:     w.Router.User,
		Password: w.Router.Password,
		KeyPath:  w.Router.SSHKey,
	})

	var primary, fallback transport.Transport = rest, ssh
	if w.Router.Transport == "ssh" {
		primary, fallback = ssh, rest
	}

	return transport.NewFailover(primary, fallback, logger), nil
}

// BuildWAN assembles one complete WAN Controller from its configuration,
// seeding live state from any previously persisted state file.
func BuildWAN(w config.WANConfig, logger *slog.Logger, reg *metrics.Registry) (*wancontroller.Controller, error) {
	wanLogger := logger.With("wan", w.Name)

	ft, err := BuildTransport(w, wanLogger)
	if err != nil {
		return nil, err
	}
	backend := routerbackend.New(ft)

	prober := rtt.New(rtt.NewICMPPinger(), rtt.Config{
		Hosts:    w.Ping.Hosts,
		Count:    w.Ping.Count,
		TimeoutS: w.Ping.TimeoutS,
		Strategy: rtt.Strategy(w.Ping.Strategy),
	})

	var fallback *rtt.Fallback
	if w.Fallback.Enabled {
		targets := make([]rtt.TCPTarget, 0, len(w.Fallback.TCPTargets))
		for _, t := range w.Fallback.TCPTargets {
			targets = append(targets, rtt.TCPTarget{Host: t.Host, Port: t.Port})
		}
		fallback = rtt.NewFallback(rtt.FallbackConfig{
			Enabled:   true,
			MaxCycles: w.Fallback.MaxCycles,
			Targets:   targets,
		})
	}

	store := persistence.New(w.StateFile)
	var seed wancontroller.StateFile
	hadState := store.Load(&seed) == nil

	bd, err := baseline.New(wanLogger, baseline.Config{
		AlphaBaseline:         w.EWMA.AlphaBaseline,
		TimeConstantBaselineS: w.EWMA.TimeConstantBaselineS,
		AlphaLoad:             w.EWMA.AlphaLoad,
		TimeConstantLoadS:     w.EWMA.TimeConstantLoadS,
		UpdateThresholdMs:     w.EWMA.UpdateThresholdMs,
		CyclePeriodS:          0.05,
	}, initialRTT(w, seed, hadState))
	if err != nil {
		return nil, fmt.Errorf("building ewma discipline: %w", err)
	}
	if hadState {
		bd.BaselineMs = seed.EWMA.BaselineRTT
		bd.LoadMs = seed.EWMA.LoadRTT
	}

	dlCeiling := rate.Mbps(w.Bandwidth.DownMax)
	download := queuecontrol.NewDownload(queuecontrol.DownloadThresholds{
		TargetMs:         w.Thresholds.TargetMs,
		WarnMs:           w.Thresholds.WarnMs,
		HardRedMs:        w.Thresholds.HardRedMs,
		StepUp:           rate.Mbps(w.Hysteresis.StepUpMbps),
		FactorDown:       w.Hysteresis.FactorDown,
		FactorDownYellow: w.Hysteresis.FactorDownYellow,
		GreenRequired:    w.Hysteresis.GreenRequired,
		SoftRedRequired:  w.Hysteresis.SoftRedRequired,
		Floors: queuecontrol.ZoneFloors{
			Green:   rate.Mbps(w.Floors.Green),
			Yellow:  rate.Mbps(w.Floors.Yellow),
			SoftRed: rate.Mbps(w.Floors.SoftRed),
			Red:     rate.Mbps(w.Floors.Red),
		},
		Ceiling: dlCeiling,
	}, downloadSeed(w, seed, hadState))

	ulCeiling := rate.Mbps(w.Bandwidth.UpMax)
	upload := queuecontrol.NewUpload(queuecontrol.UploadThresholds{
		TargetMs:      w.Thresholds.TargetMs,
		WarnMs:        w.Thresholds.WarnMs,
		StepUp:        rate.Mbps(w.Hysteresis.StepUpMbps),
		FactorDown:    w.Hysteresis.FactorDown,
		GreenRequired: w.Hysteresis.GreenRequired,
		Bounds:        rate.Bounds{Floor: rate.Mbps(w.Floors.Red), Ceiling: ulCeiling},
	}, uploadSeed(w, seed, hadState))

	conn := connectivity.New(wanLogger)
	limiter := ratelimiter.New(time.Duration(w.RateLimiter.WindowS*float64(time.Second)), w.RateLimiter.MaxChanges)

	ctrl := wancontroller.New(wancontroller.Config{
		Name:                        w.Name,
		Queues:                      wancontroller.Queues{Download: w.Queues.Download, Upload: w.Queues.Upload},
		StaleAfter:                  time.Duration(w.StaleAfterS * float64(time.Second)),
		ConsecutiveFailureUnhealthy: 3,
		FallbackMaxCycles:           w.Fallback.MaxCycles,
	}, wanLogger, prober, fallback, bd, download, upload, conn, limiter, backend, store)

	if hadState {
		ctrl.SeedFromState(seed)
	}
	if reg != nil {
		ctrl.SetMetrics(reg)
	}

	return ctrl, nil
}

func initialRTT(w config.WANConfig, seed wancontroller.StateFile, hadState bool) float64 {
	if hadState && seed.EWMA.LoadRTT > 0 {
		return seed.EWMA.LoadRTT
	}
	return w.Thresholds.TargetMs
}

func downloadSeed(w config.WANConfig, seed wancontroller.StateFile, hadState bool) queuecontrol.DownloadState {
	if !hadState {
		return queuecontrol.DownloadState{CurrentRate: rate.Mbps(w.Bandwidth.DownMax)}
	}
	return queuecontrol.DownloadState{
		CurrentRate:   seed.Download.CurrentRate,
		LastZone:      seed.Download.LastZone,
		GreenStreak:   seed.Download.GreenStreak,
		SoftRedStreak: seed.Download.SoftRedStreak,
		RedStreak:     seed.Download.RedStreak,
	}
}

func uploadSeed(w config.WANConfig, seed wancontroller.StateFile, hadState bool) queuecontrol.UploadState {
	if !hadState {
		return queuecontrol.UploadState{CurrentRate: rate.Mbps(w.Bandwidth.UpMax)}
	}
	return queuecontrol.UploadState{
		CurrentRate:   seed.Upload.CurrentRate,
		LastZone:      seed.Upload.LastZone,
		GreenStreak:   seed.Upload.GreenStreak,
		SoftRedStreak: seed.Upload.SoftRedStreak,
		RedStreak:     seed.Upload.RedStreak,
	}
}

// BuildManagedWANs constructs every configured WAN's Controller and wraps it
// for the supervisor's scheduler.
func BuildManagedWANs(cfg *config.Config, logger *slog.Logger, reg *metrics.Registry) ([]supervisor.ManagedWAN, error) {
	managed := make([]supervisor.ManagedWAN, 0, len(cfg.WANs))
	for _, w := range cfg.WANs {
		ctrl, err := BuildWAN(w, logger, reg)
		if err != nil {
			return nil, fmt.Errorf("wan %q: %w", w.Name, err)
		}
		managed = append(managed, supervisor.ManagedWAN{Name: w.Name, Controller: ctrl})
	}
	return managed, nil
}

// BuildSteering assembles the steering daemon from the top-level Steering
// section, given the already-loaded set of WAN configs (to find the primary
// WAN's router access and state file).
func BuildSteering(cfg *config.Config, logger *slog.Logger) (*steering.Daemon, error) {
	var primary *config.WANConfig
	for i := range cfg.WANs {
		if cfg.WANs[i].Name == cfg.Steering.PrimaryWAN {
			primary = &cfg.WANs[i]
			break
		}
	}
	if primary == nil {
		return nil, fmt.Errorf("steering.primary_wan %q not found among configured wans", cfg.Steering.PrimaryWAN)
	}

	ft, err := BuildTransport(*primary, logger)
	if err != nil {
		return nil, fmt.Errorf("steering transport: %w", err)
	}
	backend := routerbackend.New(ft)

	prober := rtt.New(rtt.NewICMPPinger(), rtt.Config{
		Hosts:    primary.Ping.Hosts,
		Count:    primary.Ping.Count,
		TimeoutS: primary.Ping.TimeoutS,
		Strategy: rtt.Strategy(primary.Ping.Strategy),
	})

	peerStore := persistence.New(primary.StateFile)
	selfStore := persistence.New(primary.StateFile + ".steering")
	limiter := ratelimiter.New(time.Duration(primary.RateLimiter.WindowS*float64(time.Second)), primary.RateLimiter.MaxChanges)

	var confidence *steering.Confidence
	if cfg.Steering.Confidence.Enabled {
		confidence = steering.NewConfidence(steering.ConfidenceConfig{
			Enabled:      true,
			DryRunMode:   cfg.Steering.Confidence.DryRun,
			EnableScore:  70,
			DisableScore: 30,
			RTTWeight:    0.5,
			DropsWeight:  0.3,
			QueuedWeight: 0.2,
		})
	}

	return steering.NewDaemon(steering.Config{
		MangleRuleComment: cfg.Steering.MangleRuleComment,
		DownloadQueue:     cfg.Steering.DownloadQueue,
		Thresholds: steering.Thresholds{
			RTTDeltaRedMs:    cfg.Steering.RTTDeltaRedMs,
			DropsDeltaRed:    cfg.Steering.DropsDeltaRed,
			QueuedDepthRed:   cfg.Steering.QueuedDepthRed,
			RTTDeltaYellowMs: cfg.Steering.RTTDeltaYellowMs,
			DropsDeltaYellow: cfg.Steering.DropsDeltaYellow,
			DegradeRequired:  cfg.Steering.DegradeRequired,
			RecoverRequired:  cfg.Steering.RecoverRequired,
		},
		Sanity: steering.BaselineSanity{
			MinMs: cfg.Steering.BaselineSanityMin,
			MaxMs: cfg.Steering.BaselineSanityMax,
		},
		Interval: time.Duration(cfg.Steering.IntervalMs) * time.Millisecond,
	}, logger, prober, backend, peerStore, selfStore, limiter, confidence), nil
}
