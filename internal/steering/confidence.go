// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package steering

// CongestionSignals bundles the measurements one steering cycle uses,
// both for the plain zone assessment and for confidence scoring.
type CongestionSignals struct {
	RTTDelta      float64
	RTTDeltaEWMA  float64
	Drops         uint64
	QueuedPackets uint64
	QueuedBytes   uint64
	Baseline      float64
}

// Decision is the confidence scorer's recommendation.
type Decision string

const (
	EnableSteering  Decision = "ENABLE_STEERING"
	DisableSteering Decision = "DISABLE_STEERING"
	NoChange        Decision = "NO_CHANGE"
)

// ConfidenceConfig configures the optional confidence-scoring mode.
type ConfidenceConfig struct {
	Enabled       bool
	DryRunMode    bool
	EnableScore   float64 // score >= this recommends ENABLE_STEERING
	DisableScore  float64 // score <= this recommends DISABLE_STEERING
	RTTWeight     float64
	DropsWeight   float64
	QueuedWeight  float64
}

// Confidence computes a 0-100 congestion confidence score from the same
// signals the zone assessment uses, as an optional alternative decision
// path. In dry_run mode its decision is logged but the streak-based state
// machine still drives the rule; in live mode the decision drives the rule
// directly, bypassing the streaks (the asymmetric hysteresis is rebuilt
// into the score's own enable/disable thresholds instead).
type Confidence struct {
	cfg ConfidenceConfig
}

// NewConfidence constructs a Confidence scorer. Returns nil if cfg.Enabled
// is false, so callers can pass the result straight to NewDaemon and treat
// a nil confidence as "steering uses pure hysteresis".
func NewConfidence(cfg ConfidenceConfig) *Confidence {
	if !cfg.Enabled {
		return nil
	}
	if cfg.EnableScore <= 0 {
		cfg.EnableScore = 70
	}
	if cfg.DisableScore <= 0 {
		cfg.DisableScore = 20
	}
	if cfg.RTTWeight == 0 && cfg.DropsWeight == 0 && cfg.QueuedWeight == 0 {
		cfg.RTTWeight, cfg.DropsWeight, cfg.QueuedWeight = 0.5, 0.3, 0.2
	}
	return &Confidence{cfg: cfg}
}

// DryRun reports whether this scorer runs in log-only mode.
func (c *Confidence) DryRun() bool {
	return c == nil || c.cfg.DryRunMode
}

// Score computes a 0-100 congestion score from signals: higher means more
// confident the alternate uplink should be used. Each signal is normalized
// against a fixed, generous saturation point before weighting, since the
// score only needs to discriminate "clearly congested" from "clearly
// fine", not measure magnitude precisely.
func (c *Confidence) Score(signals CongestionSignals) float64 {
	rttScore := normalize(signals.RTTDelta, 80)
	dropsScore := normalize(float64(signals.Drops), 50)
	queuedScore := normalize(float64(signals.QueuedPackets), 200)

	score := c.cfg.RTTWeight*rttScore + c.cfg.DropsWeight*dropsScore + c.cfg.QueuedWeight*queuedScore
	return score * 100
}

// Decide maps a score to a steering recommendation using the configured
// asymmetric thresholds (enable quickly at a high score, disable only once
// the score has dropped well below it, mirroring the streak machine's own
// asymmetry).
func (c *Confidence) Decide(score float64) Decision {
	switch {
	case score >= c.cfg.EnableScore:
		return EnableSteering
	case score <= c.cfg.DisableScore:
		return DisableSteering
	default:
		return NoChange
	}
}

// normalize clamps v/saturation to [0, 1].
func normalize(v, saturation float64) float64 {
	if saturation <= 0 {
		return 0
	}
	r := v / saturation
	if r < 0 {
		return 0
	}
	if r > 1 {
		return 1
	}
	return r
}
