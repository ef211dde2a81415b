// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package wancontroller

import (
	"time"

	"github.com/nishisan-dev/autorate/internal/connectivity"
	"github.com/nishisan-dev/autorate/internal/queuecontrol"
	"github.com/nishisan-dev/autorate/internal/rate"
)

// SchemaVersion is the persisted state file's schema_version value.
const SchemaVersion = "1.0"

// QueueStateJSON is the persisted shape of one direction's queue controller
// state.
type QueueStateJSON struct {
	CurrentRate   rate.Bps          `json:"current_rate"`
	GreenStreak   int               `json:"green_streak"`
	SoftRedStreak int               `json:"soft_red_streak"`
	RedStreak     int               `json:"red_streak"`
	LastZone      queuecontrol.Zone `json:"last_zone"`
}

// EWMAStateJSON is the persisted baseline/load pair.
type EWMAStateJSON struct {
	BaselineRTT float64 `json:"baseline_rtt"`
	LoadRTT     float64 `json:"load_rtt"`
}

// LastAppliedJSON is the flash-wear dedup state.
type LastAppliedJSON struct {
	DL rate.Bps `json:"dl"`
	UL rate.Bps `json:"ul"`
}

// ConnectivityJSON is the persisted connectivity snapshot.
type ConnectivityJSON struct {
	IsReachable         bool                     `json:"is_reachable"`
	ConsecutiveFailures uint32                   `json:"consecutive_failures"`
	LastFailureType     connectivity.FailureKind `json:"last_failure_type,omitempty"`
	LastFailureTime     *time.Time               `json:"last_failure_time,omitempty"`
	OutageStartTime     *time.Time               `json:"outage_start_time,omitempty"`
}

// PendingJSON is the persisted pending-rate-change entry.
type PendingJSON struct {
	DL       rate.Bps  `json:"dl"`
	UL       rate.Bps  `json:"ul"`
	QueuedAt time.Time `json:"queued_at"`
	Present  bool      `json:"present"`
}

// StateFile is the full per-controller persisted JSON document, matching
// the wire schema in the external interfaces contract.
type StateFile struct {
	Download      QueueStateJSON   `json:"download"`
	Upload        QueueStateJSON   `json:"upload"`
	EWMA          EWMAStateJSON    `json:"ewma"`
	LastApplied   LastAppliedJSON  `json:"last_applied"`
	Connectivity  ConnectivityJSON `json:"connectivity"`
	Pending       PendingJSON      `json:"pending"`
	SchemaVersion string           `json:"schema_version"`
}

// Snapshot exposes the same live-state document snapshotState persists, for
// read-only consumers (health, metrics) that should never observe a
// partially-updated cycle.
func (c *Controller) Snapshot() StateFile {
	return c.snapshotState()
}

// Name returns the WAN name this controller was configured with.
func (c *Controller) Name() string {
	return c.cfg.Name
}

// snapshotState builds the JSON-ready StateFile from the controller's live
// collaborator state.
func (c *Controller) snapshotState() StateFile {
	dl := c.download.State()
	ul := c.upload.State()
	conn := c.connectivity.Snapshot()

	sf := StateFile{
		Download: QueueStateJSON{
			CurrentRate:   dl.CurrentRate,
			GreenStreak:   dl.GreenStreak,
			SoftRedStreak: dl.SoftRedStreak,
			RedStreak:     dl.RedStreak,
			LastZone:      dl.LastZone,
		},
		Upload: QueueStateJSON{
			CurrentRate:   ul.CurrentRate,
			GreenStreak:   ul.GreenStreak,
			SoftRedStreak: ul.SoftRedStreak,
			RedStreak:     ul.RedStreak,
			LastZone:      ul.LastZone,
		},
		EWMA: EWMAStateJSON{
			BaselineRTT: c.baseline.BaselineMs,
			LoadRTT:     c.baseline.LoadMs,
		},
		LastApplied: LastAppliedJSON{DL: c.lastAppliedDL, UL: c.lastAppliedUL},
		Connectivity: ConnectivityJSON{
			IsReachable:         conn.IsReachable,
			ConsecutiveFailures: conn.ConsecutiveFailures,
		},
		Pending: PendingJSON{
			DL:       c.pending.DL,
			UL:       c.pending.UL,
			QueuedAt: c.pending.QueuedAt,
			Present:  c.pending.Present,
		},
		SchemaVersion: SchemaVersion,
	}

	if conn.HasLastFailure {
		sf.Connectivity.LastFailureType = conn.LastFailureKind
		t := conn.LastFailureTime
		sf.Connectivity.LastFailureTime = &t
	}
	if conn.HasOutageStart {
		t := conn.OutageStart
		sf.Connectivity.OutageStartTime = &t
	}

	return sf
}
