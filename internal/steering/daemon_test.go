// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package steering

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nishisan-dev/autorate/internal/persistence"
	"github.com/nishisan-dev/autorate/internal/ratelimiter"
	"github.com/nishisan-dev/autorate/internal/routerbackend"
	"github.com/nishisan-dev/autorate/internal/rtt"
	"github.com/nishisan-dev/autorate/internal/transport"
	"github.com/nishisan-dev/autorate/internal/wancontroller"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeSteeringPinger returns a mutable fixed RTT, so a test can move between
// red/green cycles just by reassigning ms between RunCycle calls.
type fakeSteeringPinger struct{ ms time.Duration }

func (p *fakeSteeringPinger) Ping(ctx context.Context, host string, count int, timeout time.Duration) (time.Duration, error) {
	return p.ms, nil
}

// fakeSteeringTransport answers queue-stats reads with an always-zero
// counter set (so drops/queue depth never drive a zone decision in these
// tests) and tracks the mangle rule's enabled state the way RouterOS would,
// so EnableRule/DisableRule's read-back verification succeeds immediately.
type fakeSteeringTransport struct {
	comment      string
	ruleEnabled  bool
	enableCalls  int
	disableCalls int

	// queueStats overrides the default always-zero counter body when set,
	// letting a test drive packets/dropped/queue independently.
	queueStats string
}

func (f *fakeSteeringTransport) RunCmd(ctx context.Context, command string) (transport.Result, error) {
	switch {
	case strings.HasPrefix(command, "GET /rest/queue/simple/"):
		if f.queueStats != "" {
			return transport.Result{ExitCode: 0, Stdout: f.queueStats}, nil
		}
		return transport.Result{ExitCode: 0, Stdout: `{"bytes":"0","packets":"0","dropped":"0","queue":"0/0"}`}, nil
	case strings.HasPrefix(command, "PATCH /rest/ip/firewall/mangle"):
		switch {
		case strings.Contains(command, "disabled=no"):
			f.ruleEnabled = true
			f.enableCalls++
		case strings.Contains(command, "disabled=yes"):
			f.ruleEnabled = false
			f.disableCalls++
		}
		return transport.Result{ExitCode: 0}, nil
	case strings.HasPrefix(command, "GET /rest/ip/firewall/mangle"):
		disabled := "yes"
		if f.ruleEnabled {
			disabled = "no"
		}
		body := fmt.Sprintf(`[{"comment":%q,"disabled":%q}]`, f.comment, disabled)
		return transport.Result{ExitCode: 0, Stdout: body}, nil
	default:
		return transport.Result{ExitCode: 0}, nil
	}
}

func (f *fakeSteeringTransport) Close() error { return nil }

func newTestDaemon(t *testing.T) (*Daemon, *fakeSteeringPinger, *fakeSteeringTransport) {
	t.Helper()
	dir := t.TempDir()

	peerStore := persistence.New(filepath.Join(dir, "wan1-state.json"))
	if err := peerStore.Save(wancontroller.StateFile{
		EWMA:          wancontroller.EWMAStateJSON{BaselineRTT: 20},
		SchemaVersion: wancontroller.SchemaVersion,
	}); err != nil {
		t.Fatalf("seeding peer state: %v", err)
	}
	selfStore := persistence.New(filepath.Join(dir, "steering-state.json"))

	pinger := &fakeSteeringPinger{}
	prober := rtt.New(pinger, rtt.Config{Hosts: []string{"1.1.1.1"}, Count: 1, TimeoutS: 1})

	ft := &fakeSteeringTransport{comment: "steer-test"}
	backend := routerbackend.New(ft)
	limiter := ratelimiter.New(60*time.Second, 1000)

	cfg := Config{
		MangleRuleComment: "steer-test",
		DownloadQueue:     "wan1-download",
		Thresholds: Thresholds{
			RTTDeltaRedMs:    30,
			DropsDeltaRed:    1_000_000,
			QueuedDepthRed:   1_000_000,
			RTTDeltaYellowMs: 15,
			DropsDeltaYellow: 1_000_000,
			DegradeRequired:  2,
			RecoverRequired:  15,
		},
		Sanity: BaselineSanity{MinMs: 5, MaxMs: 100},
	}

	d := NewDaemon(cfg, testLogger(), prober, backend, peerStore, selfStore, limiter, nil)
	return d, pinger, ft
}

// TestRunCycle_DegradesAfterSustainedRed mirrors the steering-flips scenario:
// a single RED cycle is not enough (degrade_required=2), the second
// consecutive RED cycle flips the rule on exactly once.
func TestRunCycle_DegradesAfterSustainedRed(t *testing.T) {
	d, pinger, ft := newTestDaemon(t)
	pinger.ms = 55 * time.Millisecond // baseline=20, delta=35 > red(30)

	d.RunCycle(context.Background(), time.Now())
	if d.state != Good {
		t.Fatalf("state = %v after one red cycle, want still good", d.state)
	}
	if d.degradeCount != 1 {
		t.Errorf("degrade_count = %d, want 1", d.degradeCount)
	}
	if ft.enableCalls != 0 {
		t.Fatalf("enable_calls = %d, want 0 before the required streak completes", ft.enableCalls)
	}

	d.RunCycle(context.Background(), time.Now())
	if d.state != Degraded {
		t.Fatalf("state = %v after two red cycles, want degraded", d.state)
	}
	if d.degradeCount != 0 {
		t.Errorf("degrade_count = %d, want reset to 0 after the rule flips", d.degradeCount)
	}
	if ft.enableCalls != 1 {
		t.Errorf("enable_calls = %d, want exactly 1", ft.enableCalls)
	}
}

// TestRunCycle_RecoversOnlyAfterSustainedGreenWithInterleavedReset mirrors
// the recovery half of the scenario: recover_required=15 consecutive green
// cycles are needed, a single interleaved red cycle resets the recover
// streak to zero without re-triggering degrade logic (degrade counting only
// happens from the good state), and the rule disables exactly once recovery
// completes.
func TestRunCycle_RecoversOnlyAfterSustainedGreenWithInterleavedReset(t *testing.T) {
	d, pinger, ft := newTestDaemon(t)
	d.state = Degraded
	ft.ruleEnabled = true

	pinger.ms = 25 * time.Millisecond // baseline=20, delta=5 <= yellow(15): green
	for i := 1; i <= 14; i++ {
		d.RunCycle(context.Background(), time.Now())
		if d.state != Degraded {
			t.Fatalf("cycle %d: state = %v, want still degraded", i, d.state)
		}
		if ft.disableCalls != 0 {
			t.Fatalf("cycle %d: disable_calls = %d, want 0 before the streak completes", i, ft.disableCalls)
		}
	}
	if d.recoverCount != 14 {
		t.Fatalf("recover_count = %d, want 14 after 14 consecutive green cycles", d.recoverCount)
	}

	// A single interleaved red cycle resets the recovery streak without
	// flipping the rule back or touching degrade_count.
	pinger.ms = 55 * time.Millisecond // delta=35 > red(30)
	d.RunCycle(context.Background(), time.Now())
	if d.state != Degraded {
		t.Fatalf("state = %v after interleaved red, want still degraded", d.state)
	}
	if d.recoverCount != 0 {
		t.Errorf("recover_count = %d, want reset to 0 after an interleaved red cycle", d.recoverCount)
	}
	if d.degradeCount != 0 {
		t.Errorf("degrade_count = %d, want 0 — degrade counting does not apply while already degraded", d.degradeCount)
	}
	if ft.disableCalls != 0 {
		t.Fatalf("disable_calls = %d, want still 0", ft.disableCalls)
	}

	pinger.ms = 25 * time.Millisecond
	for i := 1; i <= 14; i++ {
		d.RunCycle(context.Background(), time.Now())
		if ft.disableCalls != 0 {
			t.Fatalf("post-reset cycle %d: disable_calls = %d, want 0 before the streak completes again", i, ft.disableCalls)
		}
	}
	d.RunCycle(context.Background(), time.Now()) // 15th consecutive green since the reset
	if d.state != Good {
		t.Fatalf("state = %v after 15 consecutive green cycles, want good", d.state)
	}
	if d.recoverCount != 0 {
		t.Errorf("recover_count = %d, want reset to 0 after the rule flips", d.recoverCount)
	}
	if ft.disableCalls != 1 {
		t.Errorf("disable_calls = %d, want exactly 1", ft.disableCalls)
	}
}

// TestAssessZone covers the three-way RTT/drops congestion classification.
func TestAssessZone(t *testing.T) {
	d, _, _ := newTestDaemon(t)

	if zone := d.assessZone(5, 0, 0); zone != ZoneGreen {
		t.Errorf("zone = %v, want green", zone)
	}
	if zone := d.assessZone(20, 0, 0); zone != ZoneYellow {
		t.Errorf("zone = %v, want yellow", zone)
	}
	if zone := d.assessZone(35, 0, 0); zone != ZoneRed {
		t.Errorf("zone = %v, want red", zone)
	}
	if zone := d.assessZone(0, 0, d.cfg.Thresholds.QueuedDepthRed+1); zone != ZoneRed {
		t.Errorf("zone = %v, want red from queued depth alone", zone)
	}
}

// TestRunCycle_QueuedDepthUsesInstantaneousOccupancyNotThroughput confirms
// RunCycle feeds assessZone the CAKE queue's current backlog
// (stats.QueuedPackets), not packets moved since the last read — a busy but
// well-drained link (high packet count, zero backlog) must not be
// classified as RED by queue depth, while a link with a real backlog does.
func TestRunCycle_QueuedDepthUsesInstantaneousOccupancyNotThroughput(t *testing.T) {
	d, pinger, ft := newTestDaemon(t)
	pinger.ms = 21 * time.Millisecond // baseline=20, delta=1: otherwise green

	ft.queueStats = `{"bytes":"900000","packets":"900","dropped":"0","queue":"0/0"}`
	d.RunCycle(context.Background(), time.Now())
	if d.degradeCount != 0 {
		t.Fatalf("high throughput with zero backlog: degrade_count = %d, want 0", d.degradeCount)
	}

	ft.queueStats = fmt.Sprintf(`{"bytes":"900100","packets":"905","dropped":"0","queue":"%d/4096"}`,
		d.cfg.Thresholds.QueuedDepthRed+1)
	d.RunCycle(context.Background(), time.Now())
	if d.degradeCount != 1 {
		t.Fatalf("backlog above QueuedDepthRed: degrade_count = %d, want 1", d.degradeCount)
	}
}

// TestRunCycle_PopulatesRTTDeltaEWMA confirms the smoothed rtt_delta signal
// named in §4.8 step 4 is actually maintained across cycles rather than
// always reading zero.
func TestRunCycle_PopulatesRTTDeltaEWMA(t *testing.T) {
	d, pinger, _ := newTestDaemon(t)

	pinger.ms = 25 * time.Millisecond // delta=5
	d.RunCycle(context.Background(), time.Now())
	first := d.rttDeltaEWMA
	if first != 5 {
		t.Fatalf("rttDeltaEWMA after first cycle = %v, want 5 (seeded from the first sample)", first)
	}

	pinger.ms = 45 * time.Millisecond // delta=25
	d.RunCycle(context.Background(), time.Now())
	if d.rttDeltaEWMA <= first || d.rttDeltaEWMA >= 25 {
		t.Errorf("rttDeltaEWMA after second cycle = %v, want strictly between %v and 25", d.rttDeltaEWMA, first)
	}
}

// TestRunCycle_SkipsWhenPeerBaselineOutOfSanityBounds covers the
// baseline-sanity guard: an out-of-bounds peer baseline must skip the cycle
// entirely rather than steer off a nonsensical reading.
func TestRunCycle_SkipsWhenPeerBaselineOutOfSanityBounds(t *testing.T) {
	d, pinger, ft := newTestDaemon(t)
	dir := t.TempDir()
	d.peerStore = persistence.New(filepath.Join(dir, "peer.json"))
	if err := d.peerStore.Save(wancontroller.StateFile{
		EWMA:          wancontroller.EWMAStateJSON{BaselineRTT: 500},
		SchemaVersion: wancontroller.SchemaVersion,
	}); err != nil {
		t.Fatalf("seeding peer state: %v", err)
	}

	pinger.ms = 55 * time.Millisecond
	d.RunCycle(context.Background(), time.Now())
	if d.degradeCount != 0 || ft.enableCalls != 0 {
		t.Error("expected the cycle to be skipped entirely when the peer baseline is out of sanity bounds")
	}
}
