// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package metrics

import (
	"testing"

	"github.com/nishisan-dev/autorate/internal/connectivity"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRegistry_ObserveRate(t *testing.T) {
	r := NewRegistry("autorate_test")
	r.ObserveRate("wan0", "download", 800_000_000)

	got := testutil.ToFloat64(r.currentRate.WithLabelValues("wan0", "download"))
	if got != 800_000_000 {
		t.Errorf("current_rate_bps = %v, want 800000000", got)
	}
}

func TestRegistry_ObserveEWMA(t *testing.T) {
	r := NewRegistry("autorate_test")
	r.ObserveEWMA("wan0", 20.5, 45.1)

	if got := testutil.ToFloat64(r.baselineRTTMs.WithLabelValues("wan0")); got != 20.5 {
		t.Errorf("baseline_rtt_ms = %v, want 20.5", got)
	}
	if got := testutil.ToFloat64(r.loadRTTMs.WithLabelValues("wan0")); got != 45.1 {
		t.Errorf("load_rtt_ms = %v, want 45.1", got)
	}
}

func TestRegistry_WriteAttemptsAndFailuresCount(t *testing.T) {
	r := NewRegistry("autorate_test")

	r.RecordWriteAttempt("wan0")
	r.RecordWriteAttempt("wan0")
	r.RecordWriteFailure("wan0", connectivity.FailureTimeout)

	if got := testutil.ToFloat64(r.writeAttempts.WithLabelValues("wan0")); got != 2 {
		t.Errorf("router_write_attempts_total = %v, want 2", got)
	}
	if got := testutil.ToFloat64(r.writeFailures.WithLabelValues("wan0", "timeout")); got != 1 {
		t.Errorf("router_write_failures_total = %v, want 1", got)
	}
}

func TestRegistry_ObserveZone(t *testing.T) {
	r := NewRegistry("autorate_test")
	r.ObserveZone("wan0", "upload", 2)

	if got := testutil.ToFloat64(r.zone.WithLabelValues("wan0", "upload")); got != 2 {
		t.Errorf("zone = %v, want 2", got)
	}
}
