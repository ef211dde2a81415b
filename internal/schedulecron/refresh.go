// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package schedulecron drives the cron-cadence jobs around the control
// loop — such as the health refresh job autoratectl registers — which run far
// slower than the 50ms control cycle and so don't belong on the
// supervisor's own ticker.
//
// Grounded on the teacher's agent Scheduler (internal/agent/scheduler.go):
// one robfig/cron/v3 instance, jobs registered with AddFunc, a VerbosePrintfLogger
// bridging cron's own logging into the shared slog.Logger.
package schedulecron

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"
)

// Refresher runs the jobs registered with AddJob on cron expressions,
// independent of the supervisor's 50ms control ticker. It registers no jobs
// of its own; config reload is not driven from here.
type Refresher struct {
	cron   *cron.Cron
	logger *slog.Logger
}

// NewRefresher constructs a Refresher with no jobs registered yet.
func NewRefresher(logger *slog.Logger) *Refresher {
	c := cron.New(cron.WithLogger(cron.VerbosePrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelDebug))))
	return &Refresher{cron: c, logger: logger.With("component", "schedulecron")}
}

// AddJob registers fn to run on the given cron expression. name is used
// only for logging.
func (r *Refresher) AddJob(schedule, name string, fn func()) error {
	if _, err := r.cron.AddFunc(schedule, fn); err != nil {
		return fmt.Errorf("adding cron job %q (%s): %w", name, schedule, err)
	}
	r.logger.Info("registered cron job", "name", name, "schedule", schedule)
	return nil
}

// Start begins running registered jobs.
func (r *Refresher) Start() {
	r.logger.Info("schedulecron started")
	r.cron.Start()
}

// Stop waits up to the context deadline for in-flight jobs to finish.
func (r *Refresher) Stop(ctx context.Context) {
	r.logger.Info("schedulecron stopping")
	stopCtx := r.cron.Stop()
	select {
	case <-stopCtx.Done():
		r.logger.Info("schedulecron stopped gracefully")
	case <-ctx.Done():
		r.logger.Warn("schedulecron stop timed out, jobs may still be running")
	}
}

// DefaultRefreshSchedule is applied when the operator leaves
// supervisor.refresh_schedule empty: every 10 seconds.
const DefaultRefreshSchedule = "@every 10s"
