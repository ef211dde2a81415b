// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package wancontroller

import (
	"time"

	"github.com/nishisan-dev/autorate/internal/rate"
)

// PendingRateChange is a calculated (dl, ul) pair queued while the router
// was unreachable, to be applied on the first cycle after reconnection.
type PendingRateChange struct {
	DL       rate.Bps
	UL       rate.Bps
	QueuedAt time.Time
	Present  bool
}

// Stale reports whether this pending change is older than staleAfter,
// relative to now. A stale entry must be discarded, not applied.
func (p PendingRateChange) Stale(now time.Time, staleAfter time.Duration) bool {
	if !p.Present {
		return false
	}
	return now.Sub(p.QueuedAt) > staleAfter
}
