// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package steering implements the Steering Daemon (C9): a second control
// loop that flips a router routing rule on/off to move latency-sensitive
// traffic to an alternate uplink while the primary WAN is congested.
//
// The GOOD/DEGRADED asymmetric-hysteresis state machine (enable quickly,
// disable slowly) is the same streak-counter shape as the teacher's
// AutoScaler hysteresis (internal/agent/autoscaler.go scaleUpCount /
// scaleDownCount), generalized from a binary scale decision to a two-state
// machine driven by a three-zone congestion assessment.
package steering

import (
	"context"
	"log/slog"
	"time"

	"github.com/nishisan-dev/autorate/internal/persistence"
	"github.com/nishisan-dev/autorate/internal/ratelimiter"
	"github.com/nishisan-dev/autorate/internal/routerbackend"
	"github.com/nishisan-dev/autorate/internal/rtt"
	"github.com/nishisan-dev/autorate/internal/wancontroller"
)

// State is the steering state machine's two states.
type State string

const (
	Good     State = "good"
	Degraded State = "degraded"
)

// Zone mirrors the three-level congestion assessment used for steering
// (no SOFT_RED here — that zone is specific to the download queue
// controller's finer-grained backoff).
type Zone string

const (
	ZoneGreen  Zone = "green"
	ZoneYellow Zone = "yellow"
	ZoneRed    Zone = "red"
)

// Thresholds configures the congestion assessment and hysteresis.
type Thresholds struct {
	RTTDeltaRedMs    float64
	DropsDeltaRed    uint64
	QueuedDepthRed   uint64
	RTTDeltaYellowMs float64
	DropsDeltaYellow uint64
	DegradeRequired  int
	RecoverRequired  int
}

// BaselineSanity bounds the peer WAN's baseline that steering will trust;
// an out-of-bounds or unavailable baseline causes the cycle to be skipped.
type BaselineSanity struct {
	MinMs float64
	MaxMs float64
}

// Config bundles static steering configuration.
type Config struct {
	MangleRuleComment string
	DownloadQueue     string // the primary WAN's download queue, for CAKE stats
	Thresholds        Thresholds
	Sanity            BaselineSanity
	Interval          time.Duration // default 2s
}

// Daemon runs the steering control loop.
type Daemon struct {
	cfg        Config
	logger     *slog.Logger
	prober     *rtt.Prober
	backend    *routerbackend.Backend
	peerStore  *persistence.Store
	selfStore  *persistence.Store
	limiter    *ratelimiter.Limiter
	confidence *Confidence

	state        State
	degradeCount int
	recoverCount int
	prevStats    routerbackend.QueueStats
	haveStats    bool

	rttDeltaEWMA float64
	haveRTTEWMA  bool
}

// rttDeltaEWMAAlpha smooths the rtt_delta signal used for confidence scoring
// and logging (§4.8 step 4 names rtt_delta_ewma alongside the raw rtt_delta),
// at a fixed smoothing factor independent of C5's baseline/load alphas —
// steering only needs a stable trend indicator, not the freeze-under-load
// discipline the control loop's own EWMA pair enforces.
const rttDeltaEWMAAlpha = 0.3

// NewDaemon constructs a steering Daemon. peerStore reads the primary WAN's
// persisted state; selfStore persists this daemon's own steering state.
func NewDaemon(cfg Config, logger *slog.Logger, prober *rtt.Prober, backend *routerbackend.Backend,
	peerStore, selfStore *persistence.Store, limiter *ratelimiter.Limiter, confidence *Confidence) *Daemon {
	if cfg.Interval <= 0 {
		cfg.Interval = 2 * time.Second
	}
	return &Daemon{
		cfg:        cfg,
		logger:     logger.With("component", "steering"),
		prober:     prober,
		backend:    backend,
		peerStore:  peerStore,
		selfStore:  selfStore,
		limiter:    limiter,
		confidence: confidence,
		state:      Good,
	}
}

// StateSnapshot is the persisted steering state document.
type StateSnapshot struct {
	State         State  `json:"state"`
	DegradeCount  int    `json:"degrade_count"`
	RecoverCount  int    `json:"recover_count"`
	SchemaVersion string `json:"schema_version"`
}

// RunCycle executes one steering cycle.
func (d *Daemon) RunCycle(ctx context.Context, now time.Time) {
	var peer wancontroller.StateFile
	if err := d.peerStore.Load(&peer); err != nil {
		d.logger.Debug("steering: peer state unavailable, skipping cycle", "error", err)
		return
	}
	baseline := peer.EWMA.BaselineRTT
	if baseline < d.cfg.Sanity.MinMs || baseline > d.cfg.Sanity.MaxMs {
		d.logger.Debug("steering: peer baseline out of sanity bounds, skipping cycle", "baseline", baseline)
		return
	}

	sample := d.prober.Measure(ctx)
	if !sample.Success {
		d.logger.Debug("steering: local RTT measurement failed, skipping cycle")
		return
	}
	rttDelta := sample.Ms - baseline
	if !d.haveRTTEWMA {
		d.rttDeltaEWMA = rttDelta
		d.haveRTTEWMA = true
	} else {
		d.rttDeltaEWMA = rttDeltaEWMAAlpha*rttDelta + (1-rttDeltaEWMAAlpha)*d.rttDeltaEWMA
	}

	stats, err := d.backend.GetQueueStats(ctx, d.cfg.DownloadQueue)
	var drops, queuedBytes uint64
	queuedPackets := stats.QueuedPackets
	if err == nil {
		if d.haveStats {
			delta := routerbackend.Delta(d.prevStats, stats)
			drops = delta.DroppedDelta
			queuedBytes = delta.QueuedBytes
		}
		d.prevStats = stats
		d.haveStats = true
	}

	zone := d.assessZone(rttDelta, drops, queuedPackets)

	signals := CongestionSignals{
		RTTDelta:      rttDelta,
		RTTDeltaEWMA:  d.rttDeltaEWMA,
		Drops:         drops,
		QueuedPackets: queuedPackets,
		QueuedBytes:   queuedBytes,
		Baseline:      baseline,
	}

	d.transition(ctx, zone, signals, now)

	d.persist()
}

// assessZone implements the §4.8 step 5 three-way congestion assessment.
// queuedPackets is the CAKE queue's instantaneous occupancy (stats.QueuedPackets),
// not a throughput delta — the depth check means "how much is backed up right
// now", not "how many packets moved since the last read".
func (d *Daemon) assessZone(rttDelta float64, drops, queuedPackets uint64) Zone {
	t := d.cfg.Thresholds
	switch {
	case rttDelta > t.RTTDeltaRedMs || drops > t.DropsDeltaRed || queuedPackets > t.QueuedDepthRed:
		return ZoneRed
	case rttDelta > t.RTTDeltaYellowMs || drops > t.DropsDeltaYellow:
		return ZoneYellow
	default:
		return ZoneGreen
	}
}

func (d *Daemon) transition(ctx context.Context, zone Zone, signals CongestionSignals, now time.Time) {
	if d.confidence != nil {
		score := d.confidence.Score(signals)
		decision := d.confidence.Decide(score)
		if d.confidence.DryRun() {
			d.logger.Info("steering: confidence score (dry run, not driving rule)", "score", score, "decision", decision)
		} else {
			d.applyConfidenceDecision(ctx, decision, now)
			return
		}
	}

	switch d.state {
	case Good:
		if zone == ZoneRed {
			d.degradeCount++
		} else {
			d.degradeCount = 0
		}
		if d.degradeCount >= d.cfg.Thresholds.DegradeRequired {
			d.setRule(ctx, true, now)
			d.state = Degraded
			d.degradeCount = 0
		}
	case Degraded:
		if zone == ZoneGreen {
			d.recoverCount++
		} else {
			d.recoverCount = 0
		}
		if d.recoverCount >= d.cfg.Thresholds.RecoverRequired {
			d.setRule(ctx, false, now)
			d.state = Good
			d.recoverCount = 0
		}
	}
}

func (d *Daemon) applyConfidenceDecision(ctx context.Context, decision Decision, now time.Time) {
	switch decision {
	case EnableSteering:
		if d.state != Degraded {
			d.setRule(ctx, true, now)
			d.state = Degraded
		}
	case DisableSteering:
		if d.state != Good {
			d.setRule(ctx, false, now)
			d.state = Good
		}
	}
}

func (d *Daemon) setRule(ctx context.Context, enable bool, now time.Time) {
	if !d.limiter.CanChange(now) {
		d.logger.Debug("steering: rate limiter denied rule toggle this cycle")
		return
	}
	var err error
	if enable {
		err = d.backend.EnableRule(ctx, d.cfg.MangleRuleComment)
	} else {
		err = d.backend.DisableRule(ctx, d.cfg.MangleRuleComment)
	}
	if err != nil {
		d.logger.Warn("steering: rule toggle failed", "enable", enable, "error", err)
		return
	}
	d.limiter.RecordChange(now)
	d.logger.Info("steering: rule toggled", "enable", enable)
}

func (d *Daemon) persist() {
	snap := StateSnapshot{
		State:         d.state,
		DegradeCount:  d.degradeCount,
		RecoverCount:  d.recoverCount,
		SchemaVersion: wancontroller.SchemaVersion,
	}
	if err := d.selfStore.Save(snap); err != nil {
		d.logger.Error("steering: persisting state failed", "error", err)
	}
}
