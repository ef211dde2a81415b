// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package routerbackend

import (
	"fmt"
	"strconv"
)

func parseRawQueueStats(raw rawQueueStats) (QueueStats, error) {
	bytes, err := strconv.ParseUint(raw.Bytes, 10, 64)
	if err != nil {
		return QueueStats{}, fmt.Errorf("parsing bytes counter: %w", err)
	}
	packets, err := strconv.ParseUint(raw.Packets, 10, 64)
	if err != nil {
		return QueueStats{}, fmt.Errorf("parsing packets counter: %w", err)
	}
	dropped, err := strconv.ParseUint(raw.Dropped, 10, 64)
	if err != nil {
		return QueueStats{}, fmt.Errorf("parsing dropped counter: %w", err)
	}

	queuedPackets, queuedBytes := parseQueueField(raw.Queue)

	return QueueStats{
		Bytes:         bytes,
		Packets:       packets,
		Dropped:       dropped,
		QueuedPackets: queuedPackets,
		QueuedBytes:   queuedBytes,
	}, nil
}

// parseQueueField parses RouterOS's combined "packets/bytes" queue depth
// field (e.g. "12/3456"); malformed input yields zeros rather than an error
// since a transient blank reading shouldn't fail the whole stats read.
func parseQueueField(s string) (packets, bytes uint64) {
	for i := 0; i < len(s); i++ {
		if s[i] == '/' {
			p, _ := strconv.ParseUint(s[:i], 10, 64)
			b, _ := strconv.ParseUint(s[i+1:], 10, 64)
			return p, b
		}
	}
	return 0, 0
}

// StatsDelta holds the counter deltas since the previous read, plus
// QueuedBytes, which is the current reading's queue depth, not a delta. Cumulative
// counters are never reset by the controller; the steering daemon and
// queue diagnostics subtract previous-from-current themselves to avoid a
// read/reset race that would lose events.
type StatsDelta struct {
	PacketsDelta uint64
	DroppedDelta uint64
	QueuedBytes  uint64
}

// Delta computes the delta between a previous and current QueueStats
// reading. Counter wraparound (prev > current, e.g. after a router reboot
// reset the counters) yields a zero delta for that field rather than an
// enormous underflowed value.
func Delta(prev, cur QueueStats) StatsDelta {
	return StatsDelta{
		PacketsDelta: safeSub(cur.Packets, prev.Packets),
		DroppedDelta: safeSub(cur.Dropped, prev.Dropped),
		QueuedBytes:  cur.QueuedBytes,
	}
}

func safeSub(cur, prev uint64) uint64 {
	if cur < prev {
		return 0
	}
	return cur - prev
}
