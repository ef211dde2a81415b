// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package connectivity tracks per-router reachability: consecutive failure
// counts, failure classification, and outage timing (C4).
//
// The state shape and its atomic-swap-friendly fields mirror the teacher's
// ControlChannel state machine in internal/agent/control_channel.go (the
// Disconnected/Connecting/Connected/Degraded states keyed off
// maxMissedPings); here the states collapse to a simple reachable/not
// boolean plus a classified failure kind, since the router transport (not a
// persistent socket) is what's being tracked.
package connectivity

import (
	"log/slog"
	"sync"
	"time"
)

// FailureKind classifies a router I/O failure into one of six buckets.
// auth_failure is terminal for the supervisor's watchdog policy; every other
// kind is transient.
type FailureKind string

const (
	FailureTimeout            FailureKind = "timeout"
	FailureConnectionRefused  FailureKind = "connection_refused"
	FailureNetworkUnreachable FailureKind = "network_unreachable"
	FailureDNS                FailureKind = "dns_failure"
	FailureAuth               FailureKind = "auth_failure"
	FailureUnknown            FailureKind = "unknown"
)

// Terminal reports whether this kind should be treated as non-recoverable
// by the supervisor's watchdog (auth_failure only).
func (k FailureKind) Terminal() bool {
	return k == FailureAuth
}

// State is the tracked connectivity state for one router. Snapshot is safe
// to call concurrently with RecordSuccess/RecordFailure.
type State struct {
	mu sync.RWMutex

	isReachable         bool
	consecutiveFailures uint32
	lastFailureKind     FailureKind
	hasLastFailure      bool
	lastFailureTime     time.Time
	outageStart         time.Time
	hasOutageStart      bool
}

// New returns a Tracker seeded as reachable (the conservative "assume healthy
// until proven otherwise" start state, matching the teacher's Disconnected
// default only in spirit — here we start optimistic since the first cycle
// will prove it one way or the other within 50ms).
func New(logger *slog.Logger) *Tracker {
	return &Tracker{
		logger: logger.With("component", "connectivity"),
		state:  State{isReachable: true},
	}
}

// Tracker wraps State with classification logic and the log-rate-limiting
// contract spec'd for sustained outages.
type Tracker struct {
	logger *slog.Logger
	state  State
}

// Snapshot is an immutable copy of State for health reporting and persistence.
type Snapshot struct {
	IsReachable         bool
	ConsecutiveFailures uint32
	LastFailureKind     FailureKind
	HasLastFailure      bool
	LastFailureTime     time.Time
	OutageStart         time.Time
	HasOutageStart      bool
}

// Snapshot returns a copy of the current state.
func (t *Tracker) Snapshot() Snapshot {
	t.state.mu.RLock()
	defer t.state.mu.RUnlock()
	return Snapshot{
		IsReachable:         t.state.isReachable,
		ConsecutiveFailures: t.state.consecutiveFailures,
		LastFailureKind:     t.state.lastFailureKind,
		HasLastFailure:      t.state.hasLastFailure,
		LastFailureTime:     t.state.lastFailureTime,
		OutageStart:         t.state.outageStart,
		HasOutageStart:      t.state.hasOutageStart,
	}
}

// RecordSuccess clears the failure state. If the router was previously
// unreachable, logs a single reconnection message carrying outage duration.
func (t *Tracker) RecordSuccess(now time.Time) {
	t.state.mu.Lock()
	defer t.state.mu.Unlock()

	if t.state.consecutiveFailures > 0 {
		outage := time.Duration(0)
		if t.state.hasOutageStart {
			outage = now.Sub(t.state.outageStart)
		}
		t.logger.Info("router reachable again",
			"previous_failures", t.state.consecutiveFailures,
			"outage", outage)
	}

	t.state.consecutiveFailures = 0
	t.state.hasLastFailure = false
	t.state.lastFailureKind = ""
	t.state.isReachable = true
	t.state.hasOutageStart = false
}

// RecordFailure classifies err, updates the failure streak and outage
// timing, and returns the classified kind. Logging is rate-limited to
// counts 1, 3, and every 10th thereafter, per contract: implementers must
// not log every cycle during a sustained outage.
func (t *Tracker) RecordFailure(err error, now time.Time) FailureKind {
	kind := Classify(err)

	t.state.mu.Lock()
	t.state.consecutiveFailures++
	count := t.state.consecutiveFailures
	t.state.lastFailureKind = kind
	t.state.hasLastFailure = true
	t.state.lastFailureTime = now
	t.state.isReachable = false
	if !t.state.hasOutageStart {
		t.state.outageStart = now
		t.state.hasOutageStart = true
	}
	t.state.mu.Unlock()

	if count == 1 || count == 3 || count%10 == 0 {
		t.logger.Warn("router unreachable",
			"consecutive_failures", count,
			"kind", kind,
			"error", err)
	}

	return kind
}
