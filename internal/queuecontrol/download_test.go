// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package queuecontrol

import (
	"testing"

	"github.com/nishisan-dev/autorate/internal/rate"
)

func s1DownloadThresholds() DownloadThresholds {
	return DownloadThresholds{
		TargetMs:         15,
		WarnMs:           40,
		HardRedMs:        80,
		StepUp:           rate.Mbps(10),
		FactorDown:       0.85,
		FactorDownYellow: 0.95,
		GreenRequired:    5,
		SoftRedRequired:  3,
		Floors: ZoneFloors{
			Green:   rate.Mbps(400),
			Yellow:  rate.Mbps(100),
			SoftRed: rate.Mbps(50),
			Red:     rate.Mbps(10),
		},
		Ceiling: rate.Mbps(920),
	}
}

// TestDownload_GreenSteadyStateGrows mirrors feeding a delta that stays under
// target for 10 consecutive cycles: rate steps up once each time
// GreenRequired consecutive GREEN cycles have been observed (cycles 5 and 10).
func TestDownload_GreenSteadyStateGrows(t *testing.T) {
	cfg := s1DownloadThresholds()
	d := NewDownload(cfg, DownloadState{CurrentRate: rate.Mbps(800)})

	var zone Zone
	var cur rate.Bps
	for i := 1; i <= 10; i++ {
		zone, cur, _ = d.Adjust(0.4) // delta well under target=15
		if zone != Green {
			t.Fatalf("cycle %d: zone = %v, want green", i, zone)
		}
		switch i {
		case 5:
			if cur != rate.Mbps(810) {
				t.Errorf("cycle 5: rate = %v, want 810 Mbps", cur.Mbps())
			}
		case 10:
			if cur != rate.Mbps(820) {
				t.Errorf("cycle 10: rate = %v, want 820 Mbps", cur.Mbps())
			}
		}
	}
}

// TestDownload_RedThenRecovery mirrors a hard-red spike followed by recovery:
// the rate factors down immediately on RED, then only resumes growing once
// GreenRequired consecutive GREEN cycles have accumulated.
func TestDownload_RedThenRecovery(t *testing.T) {
	cfg := s1DownloadThresholds()
	d := NewDownload(cfg, DownloadState{CurrentRate: rate.Mbps(800)})

	zone, cur, reason := d.Adjust(85) // delta=85 > hard_red=80
	if zone != Red {
		t.Fatalf("zone = %v, want red", zone)
	}
	if cur != rate.Mbps(680) {
		t.Errorf("rate after RED = %v, want 680 Mbps", cur.Mbps())
	}
	if reason == "" {
		t.Error("expected a non-empty transition reason on zone change")
	}

	for i := 1; i <= 5; i++ {
		zone, cur, _ = d.Adjust(0.4)
		if zone != Green {
			t.Fatalf("recovery cycle %d: zone = %v, want green", i, zone)
		}
		if i < cfg.GreenRequired {
			if cur != rate.Mbps(680) {
				t.Errorf("recovery cycle %d: rate = %v, want unchanged at 680 before green_required", i, cur.Mbps())
			}
		} else {
			if cur != rate.Mbps(690) {
				t.Errorf("recovery cycle %d: rate = %v, want 690 after green_required cycles", i, cur.Mbps())
			}
		}
	}
}

func TestDownload_YellowDecaysByYellowFactor(t *testing.T) {
	cfg := s1DownloadThresholds()
	d := NewDownload(cfg, DownloadState{CurrentRate: rate.Mbps(800)})

	zone, cur, _ := d.Adjust(25) // target < 25 <= warn
	if zone != Yellow {
		t.Fatalf("zone = %v, want yellow", zone)
	}
	want := rate.Bps(float64(rate.Mbps(800)) * cfg.FactorDownYellow)
	if cur != want {
		t.Errorf("rate = %v, want %v", cur, want)
	}
}

func TestDownload_SoftRedHoldsRateAndAccumulatesStreak(t *testing.T) {
	cfg := s1DownloadThresholds()
	d := NewDownload(cfg, DownloadState{CurrentRate: rate.Mbps(200)})

	zone, cur, _ := d.Adjust(60) // warn < 60 <= hard_red
	if zone != SoftRed {
		t.Fatalf("zone = %v, want soft_red", zone)
	}
	if cur != rate.Mbps(200) {
		t.Errorf("soft_red must hold rate steady, got %v", cur.Mbps())
	}
	if d.State().SoftRedStreak != 1 {
		t.Errorf("soft_red_streak = %d, want 1 on first entry", d.State().SoftRedStreak)
	}

	d.Adjust(60)
	if d.State().SoftRedStreak != 2 {
		t.Errorf("soft_red_streak = %d, want 2 after a second consecutive soft_red cycle", d.State().SoftRedStreak)
	}
}

func TestDownload_RateNeverExceedsCeilingOrFloor(t *testing.T) {
	cfg := s1DownloadThresholds()
	d := NewDownload(cfg, DownloadState{CurrentRate: cfg.Ceiling, GreenStreak: cfg.GreenRequired})

	_, cur, _ := d.Adjust(0.1)
	if cur != cfg.Ceiling {
		t.Errorf("rate = %v, must clamp at ceiling %v", cur.Mbps(), cfg.Ceiling.Mbps())
	}

	d2 := NewDownload(cfg, DownloadState{CurrentRate: cfg.Floors.Red})
	_, cur2, _ := d2.Adjust(200) // deep RED
	if cur2 != cfg.Floors.Red {
		t.Errorf("rate = %v, must clamp at red floor %v", cur2.Mbps(), cfg.Floors.Red.Mbps())
	}
}

func TestZoneFloors_Valid(t *testing.T) {
	f := ZoneFloors{Green: rate.Mbps(400), Yellow: rate.Mbps(100), SoftRed: rate.Mbps(50), Red: rate.Mbps(10)}
	if !f.Valid(rate.Mbps(920)) {
		t.Error("expected properly ordered floors within ceiling to be valid")
	}
	if f.Valid(rate.Mbps(200)) {
		t.Error("expected floors.green exceeding ceiling to be invalid")
	}
}
