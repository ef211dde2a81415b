// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package rtt

import (
	"context"
	"fmt"
	"net"
	"os"
	"time"

	"golang.org/x/net/icmp"
	"golang.org/x/net/ipv4"
	"golang.org/x/time/rate"
)

// ICMPPinger implements Pinger using unprivileged ICMP-over-UDP echo
// requests (Linux's ping_group_range), avoiding the raw-socket capability a
// classic ICMP ping needs. Falls back transparently: a permission error from
// ListenPacket surfaces to the caller as a failed probe, same as any other
// per-host failure the prober already tolerates.
type ICMPPinger struct {
	id      int
	limiter *rate.Limiter
}

// maxProbesPerSecond bounds outbound echo requests regardless of how many
// targets or retries a single Measure call issues, so a misconfigured host
// list or a stuck fallback retry loop never turns into an outbound ping
// flood against any one destination.
const maxProbesPerSecond = 20

// NewICMPPinger constructs an ICMPPinger. Its ICMP echo identifier is the
// process PID, truncated to 16 bits.
func NewICMPPinger() *ICMPPinger {
	return &ICMPPinger{
		id:      os.Getpid() & 0xffff,
		limiter: rate.NewLimiter(rate.Limit(maxProbesPerSecond), maxProbesPerSecond),
	}
}

// Ping sends up to count sequential echo requests to host and returns the
// round-trip time of the first successful reply, or the last error if none
// replied within timeout.
func (p *ICMPPinger) Ping(ctx context.Context, host string, count int, timeout time.Duration) (time.Duration, error) {
	conn, err := icmp.ListenPacket("udp4", "0.0.0.0")
	if err != nil {
		return 0, fmt.Errorf("icmp listen: %w", err)
	}
	defer conn.Close()

	dst, err := net.ResolveIPAddr("ip4", host)
	if err != nil {
		return 0, fmt.Errorf("resolving %s: %w", host, err)
	}

	var lastErr error
	for seq := 0; seq < count; seq++ {
		if err := p.limiter.Wait(ctx); err != nil {
			return 0, fmt.Errorf("rate limiter wait: %w", err)
		}
		rtt, err := p.probeOnce(ctx, conn, dst, seq, timeout)
		if err == nil {
			return rtt, nil
		}
		lastErr = err
	}
	return 0, lastErr
}

func (p *ICMPPinger) probeOnce(ctx context.Context, conn *icmp.PacketConn, dst *net.IPAddr, seq int, timeout time.Duration) (time.Duration, error) {
	msg := icmp.Message{
		Type: ipv4.ICMPTypeEcho,
		Code: 0,
		Body: &icmp.Echo{
			ID:   p.id,
			Seq:  seq,
			Data: []byte("autorate"),
		},
	}
	wireMsg, err := msg.Marshal(nil)
	if err != nil {
		return 0, fmt.Errorf("marshaling echo request: %w", err)
	}

	deadline := time.Now().Add(timeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}
	if err := conn.SetDeadline(deadline); err != nil {
		return 0, fmt.Errorf("setting read deadline: %w", err)
	}

	start := time.Now()
	if _, err := conn.WriteTo(wireMsg, dst); err != nil {
		return 0, fmt.Errorf("writing echo request to %s: %w", dst, err)
	}

	reply := make([]byte, 1500)
	for {
		n, peer, err := conn.ReadFrom(reply)
		if err != nil {
			return 0, fmt.Errorf("reading echo reply from %s: %w", dst, err)
		}
		if peer.String() != dst.String() {
			continue
		}
		parsed, err := icmp.ParseMessage(1 /* ipv4.ICMPTypeEchoReply.Protocol() */, reply[:n])
		if err != nil {
			continue
		}
		if parsed.Type != ipv4.ICMPTypeEchoReply {
			continue
		}
		echo, ok := parsed.Body.(*icmp.Echo)
		if !ok || echo.ID != p.id || echo.Seq != seq {
			continue
		}
		return time.Since(start), nil
	}
}
