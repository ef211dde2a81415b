// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package rate defines the shaped-bandwidth value type shared by the queue
// controllers, the router backend, and persisted state.
package rate

import "fmt"

// Bps is a shaped bandwidth limit expressed in bits per second.
type Bps int64

// Bounds is an inclusive [Floor, Ceiling] range a Bps value must stay within.
// Floor may vary by zone (the download controller has one Bounds per zone);
// Ceiling is fixed per direction.
type Bounds struct {
	Floor   Bps
	Ceiling Bps
}

// Clamp returns v constrained to b. Floor wins over Ceiling if the bounds are
// inverted (callers validate Floor <= Ceiling at config load; Clamp is the
// runtime backstop).
func (b Bounds) Clamp(v Bps) Bps {
	if v < b.Floor {
		return b.Floor
	}
	if v > b.Ceiling {
		return b.Ceiling
	}
	return v
}

// Valid reports whether Floor <= Ceiling.
func (b Bounds) Valid() bool {
	return b.Floor <= b.Ceiling
}

func (b Bounds) String() string {
	return fmt.Sprintf("[%d, %d]", b.Floor, b.Ceiling)
}

// Mbps converts a megabits-per-second float (as read from YAML) to Bps.
func Mbps(v float64) Bps {
	return Bps(v * 1_000_000)
}

// Mbps returns the value as megabits per second, for logging and the health
// snapshot.
func (r Bps) Mbps() float64 {
	return float64(r) / 1_000_000
}
