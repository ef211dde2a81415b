// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package supervisor

import (
	"log/slog"

	"github.com/coreos/go-systemd/v22/daemon"
)

// Watchdog wraps sd_notify READY/WATCHDOG=1 pets. Pets are skipped (not
// sent) when the daemon itself is unhealthy — letting systemd's configured
// WatchdogSec restart it — while router-only failures keep petting, since
// those mean the daemon is working and the router isn't.
type Watchdog struct {
	logger  *slog.Logger
	enabled bool
}

// NewWatchdog probes whether NOTIFY_SOCKET is set and announces READY if
// so. A nil NOTIFY_SOCKET (not running under systemd) makes every
// subsequent call a silent no-op.
func NewWatchdog(logger *slog.Logger) *Watchdog {
	w := &Watchdog{logger: logger}
	sent, err := daemon.SdNotify(false, daemon.SdNotifyReady)
	if err != nil {
		logger.Warn("sd_notify READY failed", "error", err)
		return w
	}
	w.enabled = sent
	if !sent {
		logger.Debug("sd_notify READY not sent, NOTIFY_SOCKET unset")
	}
	return w
}

// Pet sends a watchdog keepalive iff healthy is true and this process is
// running under systemd's watchdog supervision.
func (w *Watchdog) Pet(healthy bool) {
	if w == nil || !w.enabled || !healthy {
		return
	}
	if _, err := daemon.SdNotify(false, daemon.SdNotifyWatchdog); err != nil {
		w.logger.Warn("watchdog keepalive failed", "error", err)
	}
}

// Stopping announces STOPPING to systemd during cooperative shutdown.
func (w *Watchdog) Stopping() {
	if w == nil || !w.enabled {
		return
	}
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
}
