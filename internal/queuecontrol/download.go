// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package queuecontrol

import (
	"fmt"

	"github.com/nishisan-dev/autorate/internal/rate"
)

// ZoneFloors gives each zone its own rate floor. Validated at config load:
// FloorGreen > FloorYellow > FloorSoftRed > FloorRed, and every floor <=
// Ceiling.
type ZoneFloors struct {
	Green   rate.Bps
	Yellow  rate.Bps
	SoftRed rate.Bps
	Red     rate.Bps
}

// Valid reports whether floors are strictly ordered and within ceiling.
func (f ZoneFloors) Valid(ceiling rate.Bps) bool {
	return f.Green > f.Yellow && f.Yellow > f.SoftRed && f.SoftRed > f.Red && f.Green <= ceiling
}

func (f ZoneFloors) forZone(z Zone) rate.Bps {
	switch z {
	case Green:
		return f.Green
	case Yellow:
		return f.Yellow
	case SoftRed:
		return f.SoftRed
	default:
		return f.Red
	}
}

// DownloadThresholds configures the 4-state download controller.
type DownloadThresholds struct {
	TargetMs         float64
	WarnMs           float64
	HardRedMs        float64
	StepUp           rate.Bps
	FactorDown       float64
	FactorDownYellow float64
	GreenRequired    int
	SoftRedRequired  int
	Floors           ZoneFloors
	Ceiling          rate.Bps
}

func (t DownloadThresholds) bounds(z Zone) rate.Bounds {
	return rate.Bounds{Floor: t.Floors.forZone(z), Ceiling: t.Ceiling}
}

// DownloadState is the persisted/live state of the 4-state download controller.
type DownloadState struct {
	CurrentRate   rate.Bps
	LastZone      Zone
	GreenStreak   int
	SoftRedStreak int
	RedStreak     int
}

// Download implements the 4-state (GREEN/YELLOW/SOFT_RED/RED) download
// queue controller.
type Download struct {
	cfg   DownloadThresholds
	state DownloadState
}

// NewDownload constructs a Download controller seeded from prior state.
func NewDownload(cfg DownloadThresholds, initial DownloadState) *Download {
	return &Download{cfg: cfg, state: initial}
}

// State returns a copy of the live state.
func (d *Download) State() DownloadState {
	return d.state
}

// Adjust evaluates deltaMs against the four zone thresholds. Comparisons are
// inclusive on the lower zone (delta == target is GREEN, delta == warn is
// YELLOW, delta == hard_red is SOFT_RED).
func (d *Download) Adjust(deltaMs float64) (Zone, rate.Bps, string) {
	s := &d.state
	prevZone := s.LastZone
	c := d.cfg
	var reason string

	switch {
	case deltaMs <= c.TargetMs:
		s.RedStreak = 0
		s.SoftRedStreak = 0
		s.GreenStreak++
		if s.GreenStreak >= c.GreenRequired {
			s.CurrentRate = c.bounds(Green).Clamp(s.CurrentRate + c.StepUp)
			s.GreenStreak = 0
		} else {
			s.CurrentRate = c.bounds(Green).Clamp(s.CurrentRate)
		}
		s.LastZone = Green

	case deltaMs <= c.WarnMs:
		s.GreenStreak = 0
		s.SoftRedStreak = 0
		s.RedStreak = 0
		s.CurrentRate = c.bounds(Yellow).Clamp(rate.Bps(float64(s.CurrentRate) * c.FactorDownYellow))
		s.LastZone = Yellow

	case deltaMs <= c.HardRedMs:
		s.GreenStreak = 0
		s.RedStreak = 0
		if s.LastZone != SoftRed {
			s.SoftRedStreak = 1
		} else if s.SoftRedStreak < c.SoftRedRequired {
			s.SoftRedStreak++
		}
		// Hold: clamp up to the soft_red floor but never decay further while
		// sustained in this zone.
		s.CurrentRate = c.bounds(SoftRed).Clamp(s.CurrentRate)
		s.LastZone = SoftRed

	default:
		s.GreenStreak = 0
		s.SoftRedStreak = 0
		s.RedStreak++
		s.CurrentRate = c.bounds(Red).Clamp(rate.Bps(float64(s.CurrentRate) * c.FactorDown))
		s.LastZone = Red
	}

	if s.LastZone != prevZone {
		reason = fmt.Sprintf("zone %s -> %s (delta=%.2fms, target=%.2f, warn=%.2f, hard_red=%.2f)",
			prevZone, s.LastZone, deltaMs, c.TargetMs, c.WarnMs, c.HardRedMs)
	}

	return s.LastZone, s.CurrentRate, reason
}
