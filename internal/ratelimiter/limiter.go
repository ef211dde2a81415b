// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package ratelimiter implements the sliding-window write cap (C8) that
// protects router flash/NAND from oscillation: at most MaxChanges router
// writes within WindowSeconds.
//
// A token-bucket limiter (golang.org/x/time/rate, which this module uses
// elsewhere to cap outbound ICMP probes, see internal/rtt/icmp.go) is the
// wrong data structure for "at most N writes in a rolling window" — token
// buckets approximate windows, they don't bound them exactly, and the
// flash-wear invariant needs an exact bound. The window stays a small deque
// of timestamps instead.
package ratelimiter

import (
	"sync"
	"time"
)

// Limiter is a sliding-window change-rate limiter. Zero value is not usable;
// construct with New.
type Limiter struct {
	mu         sync.Mutex
	window     time.Duration
	maxChanges int
	times      []time.Time
}

// New constructs a Limiter allowing at most maxChanges within window.
func New(window time.Duration, maxChanges int) *Limiter {
	return &Limiter{window: window, maxChanges: maxChanges}
}

// prune drops entries older than window, relative to now. Caller holds mu.
func (l *Limiter) prune(now time.Time) {
	cutoff := now.Add(-l.window)
	i := 0
	for ; i < len(l.times); i++ {
		if l.times[i].After(cutoff) {
			break
		}
	}
	if i > 0 {
		l.times = l.times[i:]
	}
}

// CanChange reports whether the in-window count is below MaxChanges.
func (l *Limiter) CanChange(now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.prune(now)
	return len(l.times) < l.maxChanges
}

// RecordChange appends now to the window. Callers must only call this after
// a successful CanChange check and an actual write.
func (l *Limiter) RecordChange(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.prune(now)
	l.times = append(l.times, now)
}

// TimeUntilAvailable returns the duration until the oldest in-window entry
// expires, or zero if a change is already permitted.
func (l *Limiter) TimeUntilAvailable(now time.Time) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.prune(now)
	if len(l.times) < l.maxChanges {
		return 0
	}
	wait := l.times[0].Add(l.window).Sub(now)
	if wait < 0 {
		return 0
	}
	return wait
}
