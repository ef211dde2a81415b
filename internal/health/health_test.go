// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package health

import (
	"net"
	"testing"
	"time"

	"github.com/nishisan-dev/autorate/internal/wancontroller"
)

type fakeSource struct {
	name string
	sf   wancontroller.StateFile
}

func (f fakeSource) Name() string                        { return f.name }
func (f fakeSource) Snapshot() wancontroller.StateFile { return f.sf }

func TestBuild_HealthyWhenAllReachable(t *testing.T) {
	sources := []Source{
		fakeSource{name: "wan1", sf: wancontroller.StateFile{
			Connectivity: wancontroller.ConnectivityJSON{IsReachable: true},
		}},
	}
	doc := Build(sources, 3, time.Now())
	if doc.Status != "healthy" {
		t.Errorf("expected status healthy, got %q", doc.Status)
	}
	if !doc.RouterReachable {
		t.Error("expected router_reachable true")
	}
}

func TestBuild_DegradedWhenUnreachable(t *testing.T) {
	sources := []Source{
		fakeSource{name: "wan1", sf: wancontroller.StateFile{
			Connectivity: wancontroller.ConnectivityJSON{IsReachable: false},
		}},
	}
	doc := Build(sources, 3, time.Now())
	if doc.Status != "degraded" {
		t.Errorf("expected status degraded, got %q", doc.Status)
	}
	if doc.RouterReachable {
		t.Error("expected router_reachable false")
	}
}

func TestBuild_DegradedAtConsecutiveFailureThreshold(t *testing.T) {
	sources := []Source{
		fakeSource{name: "wan1", sf: wancontroller.StateFile{
			Connectivity: wancontroller.ConnectivityJSON{IsReachable: true, ConsecutiveFailures: 3},
		}},
	}
	doc := Build(sources, 3, time.Now())
	if doc.Status != "degraded" {
		t.Errorf("expected degraded at threshold, got %q", doc.Status)
	}
}

func TestBuild_HealthyBelowConsecutiveFailureThreshold(t *testing.T) {
	sources := []Source{
		fakeSource{name: "wan1", sf: wancontroller.StateFile{
			Connectivity: wancontroller.ConnectivityJSON{IsReachable: true, ConsecutiveFailures: 2},
		}},
	}
	doc := Build(sources, 3, time.Now())
	if doc.Status != "healthy" {
		t.Errorf("expected healthy below threshold, got %q", doc.Status)
	}
}

func TestBuild_OutageDurationComputed(t *testing.T) {
	outageStart := time.Now().Add(-30 * time.Second)
	sources := []Source{
		fakeSource{name: "wan1", sf: wancontroller.StateFile{
			Connectivity: wancontroller.ConnectivityJSON{
				IsReachable:     false,
				OutageStartTime: &outageStart,
			},
		}},
	}
	doc := Build(sources, 3, time.Now())
	if len(doc.WANs) != 1 {
		t.Fatalf("expected 1 wan entry, got %d", len(doc.WANs))
	}
	got := doc.WANs[0].RouterConnectivity.OutageDurationS
	if got == nil || *got < 29 || *got > 31 {
		t.Errorf("expected outage_duration_s ~30, got %v", got)
	}
}

func TestACL_AllowedWithinCIDR(t *testing.T) {
	_, cidr, _ := net.ParseCIDR("10.0.0.0/24")
	acl := NewACL([]*net.IPNet{cidr})

	if !acl.Allowed("10.0.0.5:12345") {
		t.Error("expected 10.0.0.5 to be allowed")
	}
	if acl.Allowed("192.168.1.5:12345") {
		t.Error("expected 192.168.1.5 to be denied")
	}
}
