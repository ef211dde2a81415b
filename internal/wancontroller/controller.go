// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package wancontroller implements the WAN Controller (C7): the per-cycle
// orchestration that ties together the RTT prober, baseline/EWMA
// discipline, the two queue controllers, the connectivity tracker, the
// rate limiter, the router backend, and persistence into one run_cycle().
//
// The strict sequencing this enforces — measure, update, decide, apply,
// record, persist, with no step observing a later step's partial results —
// mirrors the teacher's pingLoop ordering in internal/agent/control_channel.go,
// where read/write/state-update phases never interleave across a single tick.
package wancontroller

import (
	"context"
	"log/slog"
	"time"

	"github.com/nishisan-dev/autorate/internal/baseline"
	"github.com/nishisan-dev/autorate/internal/connectivity"
	"github.com/nishisan-dev/autorate/internal/metrics"
	"github.com/nishisan-dev/autorate/internal/persistence"
	"github.com/nishisan-dev/autorate/internal/queuecontrol"
	"github.com/nishisan-dev/autorate/internal/rate"
	"github.com/nishisan-dev/autorate/internal/ratelimiter"
	"github.com/nishisan-dev/autorate/internal/routerbackend"
	"github.com/nishisan-dev/autorate/internal/rtt"
	"github.com/nishisan-dev/autorate/internal/tracing"
)

// Queues names the two router-side queue identifiers this controller writes.
type Queues struct {
	Download string
	Upload   string
}

// Config bundles the static configuration a Controller needs beyond its
// collaborators (which are constructed separately and injected).
type Config struct {
	Name                        string // WAN name, for logging/health
	Queues                      Queues
	StaleAfter                  time.Duration // default 60s, PendingRateChange staleness
	ConsecutiveFailureUnhealthy uint32        // threshold for "WAN marked unhealthy"
	FallbackMaxCycles           int           // default 3, fallback cycles before the WAN is logged as degraded (synthesis continues)
}

// Controller orchestrates one WAN's control cycle.
type Controller struct {
	cfg    Config
	logger *slog.Logger

	prober       *rtt.Prober
	fallback     *rtt.Fallback
	baseline     *baseline.Discipline
	download     *queuecontrol.Download
	upload       *queuecontrol.Upload
	connectivity *connectivity.Tracker
	limiter      *ratelimiter.Limiter
	backend      *routerbackend.Backend
	store        *persistence.Store

	lastAppliedDL rate.Bps
	lastAppliedUL rate.Bps
	pending       PendingRateChange

	fallbackCyclesUsed int

	metrics *metrics.Registry
}

// SetMetrics attaches a Prometheus registry that RunCycle updates on every
// tick. Optional: a nil registry (the default) disables metrics recording.
func (c *Controller) SetMetrics(reg *metrics.Registry) {
	c.metrics = reg
}

// New constructs a Controller from its collaborators.
func New(
	cfg Config,
	logger *slog.Logger,
	prober *rtt.Prober,
	fallback *rtt.Fallback,
	bd *baseline.Discipline,
	download *queuecontrol.Download,
	upload *queuecontrol.Upload,
	conn *connectivity.Tracker,
	limiter *ratelimiter.Limiter,
	backend *routerbackend.Backend,
	store *persistence.Store,
) *Controller {
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = 60 * time.Second
	}
	if cfg.ConsecutiveFailureUnhealthy == 0 {
		cfg.ConsecutiveFailureUnhealthy = 3
	}
	if cfg.FallbackMaxCycles == 0 {
		cfg.FallbackMaxCycles = 3
	}
	return &Controller{
		cfg:          cfg,
		logger:       logger.With("component", "wan_controller", "wan", cfg.Name),
		prober:       prober,
		fallback:     fallback,
		baseline:     bd,
		download:     download,
		upload:       upload,
		connectivity: conn,
		limiter:      limiter,
		backend:      backend,
		store:        store,
	}
}

// SeedFromState restores the last-applied rates and any pending rate
// change from a previously persisted StateFile, so a restarted daemon does
// not immediately re-write rates it already applied before the restart.
func (c *Controller) SeedFromState(sf StateFile) {
	c.lastAppliedDL = sf.LastApplied.DL
	c.lastAppliedUL = sf.LastApplied.UL
	if sf.Pending.Present {
		c.pending = PendingRateChange{
			DL:       sf.Pending.DL,
			UL:       sf.Pending.UL,
			QueuedAt: sf.Pending.QueuedAt,
			Present:  true,
		}
	}
}

// CycleOutcome summarizes one run_cycle invocation for the supervisor's
// watchdog decision and logging.
type CycleOutcome struct {
	Success       bool
	RouterHealthy bool
	MeasuredMs    float64
	DownloadZone  queuecontrol.Zone
	UploadZone    queuecontrol.Zone
	DownloadRate  rate.Bps
	UploadRate    rate.Bps
	FailureKind   connectivity.FailureKind
	HadFailure    bool
}

// RunCycle executes one complete control cycle: measure, EWMA update,
// per-direction adjustment, flush-pending, apply, record, persist.
func (c *Controller) RunCycle(ctx context.Context, now time.Time) CycleOutcome {
	ctx, span := tracing.StartCycle(ctx, c.cfg.Name)
	defer span.End()

	sample := c.measure(ctx)
	if !sample.Success {
		c.logger.Debug("cycle measurement failed, no successful probes", "wan", c.cfg.Name)
		return CycleOutcome{Success: false, RouterHealthy: true}
	}

	// load_rtt always updates; baseline update is internally gated by the
	// discipline's own sanity-range and |measured-load| < threshold checks.
	c.baseline.Update(sample.Ms)

	delta := c.baseline.Delta()

	dlZone, dlRate, dlReason := c.download.Adjust(delta)
	ulZone, ulRate, ulReason := c.upload.Adjust(delta)
	if dlReason != "" {
		c.logger.Info("download zone transition", "reason", dlReason)
	}
	if ulReason != "" {
		c.logger.Info("upload zone transition", "reason", ulReason)
	}

	outcome := CycleOutcome{
		Success:      true,
		MeasuredMs:   sample.Ms,
		DownloadZone: dlZone,
		UploadZone:   ulZone,
		DownloadRate: dlRate,
		UploadRate:   ulRate,
	}

	// A queued pending change from a prior outage is flushed before this
	// cycle's own decision is attempted, so a reconnect cycle applies the
	// stale decision first and only then considers the fresh one — the
	// write itself is the reachability probe, not the stale tracker flag.
	if c.pending.Present {
		if err := c.flushPending(ctx, now, dlRate, ulRate); err != nil {
			kind := c.connectivity.RecordFailure(err, now)
			outcome.HadFailure = true
			outcome.FailureKind = kind
			outcome.RouterHealthy = !kind.Terminal() &&
				c.connectivity.Snapshot().ConsecutiveFailures < c.cfg.ConsecutiveFailureUnhealthy

			c.persist()
			c.observeMetrics(dlZone, ulZone, dlRate, ulRate)
			return outcome
		}
		c.connectivity.RecordSuccess(now)
	}

	applyErr := c.applyIfNeeded(ctx, now, dlRate, ulRate)
	if applyErr != nil {
		kind := c.connectivity.RecordFailure(applyErr, now)
		outcome.HadFailure = true
		outcome.FailureKind = kind
		outcome.RouterHealthy = !kind.Terminal() &&
			c.connectivity.Snapshot().ConsecutiveFailures < c.cfg.ConsecutiveFailureUnhealthy
	} else {
		c.connectivity.RecordSuccess(now)
		outcome.RouterHealthy = true
	}

	c.persist()
	c.observeMetrics(dlZone, ulZone, dlRate, ulRate)

	return outcome
}

// observeMetrics pushes this cycle's rates, zones, and EWMAs into the
// attached registry; a no-op when none is attached.
func (c *Controller) observeMetrics(dlZone, ulZone queuecontrol.Zone, dlRate, ulRate rate.Bps) {
	if c.metrics == nil {
		return
	}
	c.metrics.ObserveRate(c.cfg.Name, "download", int64(dlRate))
	c.metrics.ObserveRate(c.cfg.Name, "upload", int64(ulRate))
	c.metrics.ObserveZone(c.cfg.Name, "download", float64(dlZone))
	c.metrics.ObserveZone(c.cfg.Name, "upload", float64(ulZone))
	c.metrics.ObserveEWMA(c.cfg.Name, c.baseline.BaselineMs, c.baseline.LoadMs)
}

func (c *Controller) measure(ctx context.Context) rtt.Sample {
	sample := c.prober.Measure(ctx)
	if sample.Success {
		c.fallbackCyclesUsed = 0
		return sample
	}

	if c.fallback == nil {
		return rtt.Sample{}
	}

	reachable, _ := c.fallback.VerifyConnectivity(ctx)
	if !reachable {
		return rtt.Sample{}
	}

	c.fallbackCyclesUsed++
	if c.fallbackCyclesUsed > c.cfg.FallbackMaxCycles {
		c.logger.Warn("wan degraded: fallback cycles exceeded, still using last known load",
			"fallback_cycles_used", c.fallbackCyclesUsed)
	}

	// Synthesize a load-preserved cycle: the handshake proved the link is
	// up, but the handshake RTT itself is not a latency signal worth
	// feeding the EWMAs, so the loop continues on the last known load.
	return rtt.Sample{Ms: c.baseline.LoadMs, Success: true}
}

// applyIfNeeded is apply_rate_changes_if_needed: skips on rate-limiter
// denial or flash-wear dedup, else writes; a write failure queues the
// just-computed rates as a PendingRateChange for the next cycle to flush.
func (c *Controller) applyIfNeeded(ctx context.Context, now time.Time, dl, ul rate.Bps) error {
	if !c.limiter.CanChange(now) {
		c.logger.Debug("rate limiter denied write, rates unchanged this cycle")
		return nil
	}

	if dl == c.lastAppliedDL && ul == c.lastAppliedUL {
		return nil
	}

	if dl != c.lastAppliedDL {
		if c.metrics != nil {
			c.metrics.RecordWriteAttempt(c.cfg.Name)
		}
		if err := c.backend.SetQueueLimit(ctx, c.cfg.Queues.Download, dl); err != nil {
			if c.metrics != nil {
				c.metrics.RecordWriteFailure(c.cfg.Name, connectivity.Classify(err))
			}
			c.pending = PendingRateChange{DL: dl, UL: ul, QueuedAt: now, Present: true}
			return err
		}
	}
	if ul != c.lastAppliedUL {
		if c.metrics != nil {
			c.metrics.RecordWriteAttempt(c.cfg.Name)
		}
		if err := c.backend.SetQueueLimit(ctx, c.cfg.Queues.Upload, ul); err != nil {
			if c.metrics != nil {
				c.metrics.RecordWriteFailure(c.cfg.Name, connectivity.Classify(err))
			}
			c.pending = PendingRateChange{DL: dl, UL: ul, QueuedAt: now, Present: true}
			return err
		}
	}

	c.limiter.RecordChange(now)
	c.lastAppliedDL = dl
	c.lastAppliedUL = ul
	return nil
}

// flushPending attempts to apply a queued rate change, bypassing the rate
// limiter — the intervening silence during the outage already satisfied any
// debounce requirement. A stale queue entry is discarded rather than applied
// out of order. On failure the pending entry is superseded by this cycle's
// freshly computed (dl, ul), since a decision made during the outage is more
// current than the one that first failed to apply.
func (c *Controller) flushPending(ctx context.Context, now time.Time, dl, ul rate.Bps) error {
	if c.pending.Stale(now, c.cfg.StaleAfter) {
		c.logger.Warn("discarding stale pending rate change", "queued_at", c.pending.QueuedAt)
		c.pending = PendingRateChange{}
		return nil
	}

	pendingDL, pendingUL := c.pending.DL, c.pending.UL

	if pendingDL != c.lastAppliedDL {
		if err := c.backend.SetQueueLimit(ctx, c.cfg.Queues.Download, pendingDL); err != nil {
			c.pending = PendingRateChange{DL: dl, UL: ul, QueuedAt: now, Present: true}
			return err
		}
		c.lastAppliedDL = pendingDL
	}
	if pendingUL != c.lastAppliedUL {
		if err := c.backend.SetQueueLimit(ctx, c.cfg.Queues.Upload, pendingUL); err != nil {
			c.pending = PendingRateChange{DL: dl, UL: ul, QueuedAt: now, Present: true}
			return err
		}
		c.lastAppliedUL = pendingUL
	}

	c.pending = PendingRateChange{}
	return nil
}

func (c *Controller) persist() {
	state := c.snapshotState()
	if err := c.store.Save(state); err != nil {
		c.logger.Error("persisting controller state failed", "error", err)
	}
}
