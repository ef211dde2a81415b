// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package routerbackend implements the Router Backend (C3): typed
// operations built on a transport.Transport — set queue limit, read queue
// stats, and toggle a routing rule by comment, each with the verification
// and retry behavior spec'd for RouterOS's occasionally-lagging control
// plane.
package routerbackend

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"github.com/nishisan-dev/autorate/internal/rate"
	"github.com/nishisan-dev/autorate/internal/transport"
)

// queueNamePattern is the identifier format the spec requires for queue
// names: starts alphanumeric, then up to 62 more alphanumerics/underscore/hyphen.
var queueNamePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]{0,62}$`)

// ValidQueueName reports whether name matches the required identifier shape.
func ValidQueueName(name string) bool {
	return queueNamePattern.MatchString(name)
}

// QueueStats are the cumulative counters get_queue_stats reports. They are
// monotonic and never reset by the controller; callers compute deltas
// themselves (see cake.go).
type QueueStats struct {
	Bytes         uint64
	Packets       uint64
	Dropped       uint64
	QueuedPackets uint64
	QueuedBytes   uint64
}

// RuleStatus is the result of get_rule_status: enabled, disabled or absent,
// with RuleUnknown returned alongside an error.
type RuleStatus int

const (
	RuleUnknown RuleStatus = iota
	RuleEnabled
	RuleDisabled
	RuleAbsent
)

// Backend is the typed router operations contract.
type Backend struct {
	t         transport.Transport
	retryWait []time.Duration
}

// New constructs a Backend over the given transport (typically a
// transport.Failover). Rule verification retries at 100/200/400ms, per spec.
func New(t transport.Transport) *Backend {
	return &Backend{
		t:         t,
		retryWait: []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 400 * time.Millisecond},
	}
}

// SetQueueLimit sets the shaped rate on queueName. Idempotent on the router
// side; the controller itself is responsible for the last_applied dedup
// that avoids redundant writes (flash-wear protection lives in the WAN
// controller, not here).
func (b *Backend) SetQueueLimit(ctx context.Context, queueName string, bps rate.Bps) error {
	if !ValidQueueName(queueName) {
		return fmt.Errorf("invalid queue name %q", queueName)
	}
	cmd := fmt.Sprintf("PATCH /rest/queue/simple/%s {\"max-limit\":\"%d/%d\"}", queueName, bps, bps)
	_, err := b.t.RunCmd(ctx, cmd)
	return err
}

// rawQueueStats is the wire shape returned by the router's stats endpoint.
type rawQueueStats struct {
	Bytes   string `json:"bytes"`
	Packets string `json:"packets"`
	Dropped string `json:"dropped"`
	Queue   string `json:"queue"`
}

// GetQueueStats reads the cumulative counters for queueName. Pure read, no
// retry — transient failures here are surfaced to the caller for
// classification like any other router I/O.
func (b *Backend) GetQueueStats(ctx context.Context, queueName string) (QueueStats, error) {
	if !ValidQueueName(queueName) {
		return QueueStats{}, fmt.Errorf("invalid queue name %q", queueName)
	}
	cmd := fmt.Sprintf("GET /rest/queue/simple/%s", queueName)
	res, err := b.t.RunCmd(ctx, cmd)
	if err != nil {
		return QueueStats{}, err
	}

	var raw rawQueueStats
	if err := json.Unmarshal([]byte(res.Stdout), &raw); err != nil {
		return QueueStats{}, fmt.Errorf("parsing queue stats for %s: %w", queueName, err)
	}

	return parseRawQueueStats(raw)
}

// EnableRule enables the routing rule identified by comment, verifying the
// change took effect with retries at 100/200/400ms (RouterOS may lag); the
// toggle command is re-sent before each re-check.
func (b *Backend) EnableRule(ctx context.Context, comment string) error {
	return b.toggleRule(ctx, comment, true)
}

// DisableRule disables the routing rule identified by comment, with the
// same verification/retry discipline as EnableRule.
func (b *Backend) DisableRule(ctx context.Context, comment string) error {
	return b.toggleRule(ctx, comment, false)
}

func (b *Backend) toggleRule(ctx context.Context, comment string, enable bool) error {
	action := "disabled=no"
	if !enable {
		action = "disabled=yes"
	}
	cmd := fmt.Sprintf("PATCH /rest/ip/firewall/mangle %s comment=%q", action, comment)
	if _, err := b.t.RunCmd(ctx, cmd); err != nil {
		return err
	}

	want := RuleEnabled
	if !enable {
		want = RuleDisabled
	}

	var lastErr error
	for _, wait := range b.retryWait {
		status, err := b.GetRuleStatus(ctx, comment)
		if err == nil && status == want {
			return nil
		}
		lastErr = err
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
		if _, err := b.t.RunCmd(ctx, cmd); err != nil {
			lastErr = err
		}
	}
	status, err := b.GetRuleStatus(ctx, comment)
	if err != nil {
		return fmt.Errorf("verifying rule %q after retries: %w", comment, err)
	}
	if status != want {
		return fmt.Errorf("rule %q did not reach desired state after retries: last error %v", comment, lastErr)
	}
	return nil
}

// rawRule is the wire shape for one mangle rule entry, matched by comment
// ignoring spaces, tabs and newlines — the rule is identified by
// its comment string, never by rule number.
type rawRule struct {
	Comment  string `json:"comment"`
	Disabled string `json:"disabled"`
}

// GetRuleStatus looks up the rule identified by comment among the router's
// mangle rules and reports its enabled/disabled/absent state.
func (b *Backend) GetRuleStatus(ctx context.Context, comment string) (RuleStatus, error) {
	res, err := b.t.RunCmd(ctx, "GET /rest/ip/firewall/mangle")
	if err != nil {
		return RuleUnknown, err
	}

	var rules []rawRule
	if err := json.Unmarshal([]byte(res.Stdout), &rules); err != nil {
		return RuleUnknown, fmt.Errorf("parsing mangle rules: %w", err)
	}

	for _, r := range rules {
		if normalizeComment(r.Comment) == normalizeComment(comment) {
			if r.Disabled == "true" || r.Disabled == "yes" {
				return RuleDisabled, nil
			}
			return RuleEnabled, nil
		}
	}
	return RuleAbsent, nil
}

func normalizeComment(s string) string {
	out := make([]rune, 0, len(s))
	for _, r := range s {
		if r == ' ' || r == '\t' || r == '\n' {
			continue
		}
		out = append(out, r)
	}
	return string(out)
}
