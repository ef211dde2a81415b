// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package baseline implements the idle-baseline / load EWMA discipline (C5):
// two exponential moving averages over measured RTT, with the "freeze under
// load" rule that keeps the baseline from chasing sustained congestion.
//
// The smoothing scheme mirrors the RTT EWMA the teacher's control channel
// keeps for keep-alive latency (internal/agent/control_channel.go's
// updateRTT), generalized to two series with independent update gates.
package baseline

import (
	"fmt"
	"log/slog"
	"math"
)

// Config configures the EWMA discipline. Alphas may be given directly or
// derived from a time constant in seconds; exactly one of AlphaBaseline /
// TimeConstantBaselineS (and similarly for Load) should be set. CyclePeriodS
// is the control loop's period in seconds (spec default 0.05).
type Config struct {
	AlphaBaseline         float64
	TimeConstantBaselineS float64
	AlphaLoad             float64
	TimeConstantLoadS     float64
	UpdateThresholdMs     float64 // default 3
	MinSaneMs             float64 // default 10
	MaxSaneMs             float64 // default 60
	CyclePeriodS          float64 // default 0.05
}

// resolveAlpha returns alpha directly, or derives it from a time constant:
// alpha = 1 - exp(-dt/tau). Warns via logger when dt/tau > 1 (under-sampled).
func resolveAlpha(logger *slog.Logger, name string, alphaDirect, timeConstantS, dt float64) (float64, error) {
	if alphaDirect > 0 {
		if alphaDirect > 1 {
			return 0, fmt.Errorf("%s alpha must be in (0, 1], got %f", name, alphaDirect)
		}
		return alphaDirect, nil
	}
	if timeConstantS <= 0 {
		return 0, fmt.Errorf("%s: must set alpha or a positive time constant", name)
	}
	if dt/timeConstantS > 1 {
		logger.Warn("ewma time constant shorter than one cycle period, effective smoothing may be too fast",
			"series", name, "time_constant_s", timeConstantS, "cycle_period_s", dt)
	}
	return 1 - math.Exp(-dt/timeConstantS), nil
}

// Discipline holds the live BaselineState and the resolved config.
type Discipline struct {
	cfg         Config
	alphaBase   float64
	alphaLoad   float64
	BaselineMs  float64
	LoadMs      float64
	initialized bool
}

// New constructs a Discipline, resolving alphas from the config and seeding
// both series at initialMs (the first measured sample, or a config-provided
// seed).
func New(logger *slog.Logger, cfg Config, initialMs float64) (*Discipline, error) {
	if cfg.UpdateThresholdMs <= 0 {
		cfg.UpdateThresholdMs = 3
	}
	if cfg.MinSaneMs <= 0 {
		cfg.MinSaneMs = 10
	}
	if cfg.MaxSaneMs <= 0 {
		cfg.MaxSaneMs = 60
	}
	if cfg.CyclePeriodS <= 0 {
		cfg.CyclePeriodS = 0.05
	}

	alphaBase, err := resolveAlpha(logger, "baseline", cfg.AlphaBaseline, cfg.TimeConstantBaselineS, cfg.CyclePeriodS)
	if err != nil {
		return nil, err
	}
	alphaLoad, err := resolveAlpha(logger, "load", cfg.AlphaLoad, cfg.TimeConstantLoadS, cfg.CyclePeriodS)
	if err != nil {
		return nil, err
	}

	return &Discipline{
		cfg:         cfg,
		alphaBase:   alphaBase,
		alphaLoad:   alphaLoad,
		BaselineMs:  initialMs,
		LoadMs:      initialMs,
		initialized: true,
	}, nil
}

// Update advances both series by one cycle with a new measured sample.
// load_rtt always updates. baseline_rtt updates only when
// |measured - load_rtt| < UpdateThresholdMs, and only when the proposed
// value stays within [MinSaneMs, MaxSaneMs] — otherwise the candidate is
// rejected and the baseline is left untouched, never silently clamped.
//
// This is the central safety invariant of the whole controller: baseline
// must not chase load.
func (d *Discipline) Update(measuredMs float64) (baselineUpdated bool) {
	d.LoadMs = d.alphaLoad*measuredMs + (1-d.alphaLoad)*d.LoadMs

	if !d.InSaneRange(measuredMs) {
		return false
	}

	if math.Abs(measuredMs-d.LoadMs) >= d.cfg.UpdateThresholdMs {
		return false
	}

	candidate := d.alphaBase*measuredMs + (1-d.alphaBase)*d.BaselineMs
	if candidate < d.cfg.MinSaneMs || candidate > d.cfg.MaxSaneMs {
		return false
	}

	d.BaselineMs = candidate
	return true
}

// Delta returns load_rtt - baseline_rtt, the scalar the zone state machines
// act on.
func (d *Discipline) Delta() float64 {
	return d.LoadMs - d.BaselineMs
}

// InSaneRange reports whether measuredMs falls within [MinSaneMs, MaxSaneMs].
// Samples outside this range are excluded from baseline updates (but still
// feed load_rtt) per spec §4.1 step 2.
func (d *Discipline) InSaneRange(measuredMs float64) bool {
	return measuredMs >= d.cfg.MinSaneMs && measuredMs <= d.cfg.MaxSaneMs
}
