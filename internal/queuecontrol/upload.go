// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package queuecontrol implements the per-direction rate-adjustment state
// machines (C6): a 3-state upload controller and a 4-state download
// controller, both with hysteresis and bounded rates.
//
// Both controllers follow the hysteresis/streak-counter shape of the
// teacher's AutoScaler (internal/agent/autoscaler.go): scaleUpCount /
// scaleDownCount gating action until a threshold number of consecutive
// windows agree, generalized here to named zones instead of a binary
// scale-up/scale-down decision.
package queuecontrol

import (
	"fmt"

	"github.com/nishisan-dev/autorate/internal/rate"
)

// Zone is a congestion level. Ordering is fixed: Green < Yellow < SoftRed < Red.
type Zone int

const (
	Green Zone = iota
	Yellow
	SoftRed
	Red
)

func (z Zone) String() string {
	switch z {
	case Green:
		return "green"
	case Yellow:
		return "yellow"
	case SoftRed:
		return "soft_red"
	case Red:
		return "red"
	default:
		return "unknown"
	}
}

// UploadThresholds configures the 3-state upload controller.
type UploadThresholds struct {
	TargetMs      float64
	WarnMs        float64
	StepUp        rate.Bps
	FactorDown    float64
	GreenRequired int
	Bounds        rate.Bounds
}

// UploadState is the persisted/live state of the 3-state upload controller.
type UploadState struct {
	CurrentRate  rate.Bps
	LastZone     Zone
	GreenStreak  int
	SoftRedStreak int
	RedStreak    int
}

// Upload implements the 3-state (GREEN/YELLOW/RED) upload queue controller.
type Upload struct {
	cfg   UploadThresholds
	state UploadState
}

// NewUpload constructs an Upload controller seeded from a prior (or default)
// state.
func NewUpload(cfg UploadThresholds, initial UploadState) *Upload {
	return &Upload{cfg: cfg, state: initial}
}

// State returns a copy of the live state, for persistence and health reporting.
func (u *Upload) State() UploadState {
	return u.state
}

// Adjust evaluates deltaMs (load_rtt - baseline_rtt) against the configured
// thresholds and returns the resulting zone, rate, and a human-readable
// reason (non-empty whenever the zone changed).
func (u *Upload) Adjust(deltaMs float64) (Zone, rate.Bps, string) {
	s := &u.state
	prevZone := s.LastZone
	var reason string

	switch {
	case deltaMs <= u.cfg.TargetMs:
		s.RedStreak = 0
		s.SoftRedStreak = 0
		s.GreenStreak++
		if s.GreenStreak >= u.cfg.GreenRequired {
			s.CurrentRate = u.cfg.Bounds.Clamp(s.CurrentRate + u.cfg.StepUp)
			s.GreenStreak = 0
		}
		s.LastZone = Green

	case deltaMs <= u.cfg.WarnMs:
		s.GreenStreak = 0
		s.SoftRedStreak = 0
		s.RedStreak = 0
		s.LastZone = Yellow

	default:
		s.GreenStreak = 0
		s.SoftRedStreak = 0
		s.RedStreak++
		s.CurrentRate = u.cfg.Bounds.Clamp(rate.Bps(float64(s.CurrentRate) * u.cfg.FactorDown))
		s.LastZone = Red
	}

	if s.LastZone != prevZone {
		reason = fmt.Sprintf("zone %s -> %s (delta=%.2fms, target=%.2f, warn=%.2f)",
			prevZone, s.LastZone, deltaMs, u.cfg.TargetMs, u.cfg.WarnMs)
	}

	return s.LastZone, s.CurrentRate, reason
}
