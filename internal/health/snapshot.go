// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package health

import (
	"time"

	"github.com/nishisan-dev/autorate/internal/wancontroller"
)

// Version is set via ldflags at build time (-X ...Version=x.y.z).
var Version = "dev"

var startTime = time.Now()

// WANSnapshot is one WAN's entry in the health document.
type WANSnapshot struct {
	Name               string              `json:"name"`
	BaselineRTTMs      float64             `json:"baseline_rtt_ms"`
	LoadRTTMs          float64             `json:"load_rtt_ms"`
	Download           DirectionSnapshot   `json:"download"`
	Upload             DirectionSnapshot   `json:"upload"`
	RouterConnectivity ConnectivitySummary `json:"router_connectivity"`
}

// DirectionSnapshot is one direction's rate/zone pair.
type DirectionSnapshot struct {
	CurrentRateMbps float64 `json:"current_rate_mbps"`
	State           string  `json:"state"`
}

// ConnectivitySummary mirrors connectivity.Snapshot, JSON-shaped per §4.10.
type ConnectivitySummary struct {
	IsReachable         bool     `json:"is_reachable"`
	ConsecutiveFailures uint32   `json:"consecutive_failures"`
	LastFailureType     string   `json:"last_failure_type,omitempty"`
	LastFailureTime     *string  `json:"last_failure_time,omitempty"`
	OutageDurationS     *float64 `json:"outage_duration_s,omitempty"`
}

// Snapshot is the full §4.10 JSON document.
type Snapshot struct {
	Status              string          `json:"status"`
	UptimeSeconds       float64         `json:"uptime_seconds"`
	Version             string          `json:"version"`
	ConsecutiveFailures uint32          `json:"consecutive_failures"`
	RouterReachable     bool            `json:"router_reachable"`
	WANs                []WANSnapshot   `json:"wans"`
	Host                HostDiagnostics `json:"host"`
}

// Source is what Build needs from a running daemon: the live, named
// controllers backing this health document.
type Source interface {
	Name() string
	Snapshot() wancontroller.StateFile
}

// Build assembles a Snapshot from the current state of every managed WAN.
// status is "degraded" iff any WAN's consecutive_failures reaches
// unhealthyMax, or any WAN is unreachable.
func Build(sources []Source, unhealthyMax uint32, now time.Time) Snapshot {
	doc := Snapshot{
		Status:          "healthy",
		UptimeSeconds:   now.Sub(startTime).Seconds(),
		Version:         Version,
		RouterReachable: true,
		Host:            collectHostDiagnostics(),
	}

	for _, src := range sources {
		sf := src.Snapshot()
		conn := sf.Connectivity

		if conn.ConsecutiveFailures > doc.ConsecutiveFailures {
			doc.ConsecutiveFailures = conn.ConsecutiveFailures
		}
		if !conn.IsReachable {
			doc.RouterReachable = false
		}
		if conn.ConsecutiveFailures >= unhealthyMax || !conn.IsReachable {
			doc.Status = "degraded"
		}

		summary := ConnectivitySummary{
			IsReachable:         conn.IsReachable,
			ConsecutiveFailures: conn.ConsecutiveFailures,
		}
		if conn.LastFailureType != "" {
			summary.LastFailureType = string(conn.LastFailureType)
		}
		if conn.LastFailureTime != nil {
			s := conn.LastFailureTime.UTC().Format(time.RFC3339)
			summary.LastFailureTime = &s
		}
		if conn.OutageStartTime != nil {
			d := now.Sub(*conn.OutageStartTime).Seconds()
			summary.OutageDurationS = &d
		}

		doc.WANs = append(doc.WANs, WANSnapshot{
			Name:          src.Name(),
			BaselineRTTMs: sf.EWMA.BaselineRTT,
			LoadRTTMs:     sf.EWMA.LoadRTT,
			Download: DirectionSnapshot{
				CurrentRateMbps: sf.Download.CurrentRate.Mbps(),
				State:           sf.Download.LastZone.String(),
			},
			Upload: DirectionSnapshot{
				CurrentRateMbps: sf.Upload.CurrentRate.Mbps(),
				State:           sf.Upload.LastZone.String(),
			},
			RouterConnectivity: summary,
		})
	}

	return doc
}
