// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package transport implements the Router Transport contract (C2): running
// a command against the router with a primary transport and a sticky
// fallback, plus the two concrete transports (REST, SSH) used by the
// Router Backend (C3).
//
// The sticky-flag-until-close pattern mirrors the teacher's ControlChannel
// reconnect loop (internal/agent/control_channel.go run()) in spirit: once
// a connection-class failure is observed, behavior changes for the rest of
// the session rather than being re-evaluated every call.
package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

// Result is the outcome of running one router command.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// Transport runs a single command against the router.
type Transport interface {
	RunCmd(ctx context.Context, command string) (Result, error)
	Close() error
}

// AuthError marks an error as an authentication failure; it must propagate
// immediately and never trigger failover. It implements the
// authErrorClassifier interface connectivity.Classify looks for via
// errors.As, without transport importing connectivity.
type AuthError struct {
	Err error
}

func (e *AuthError) Error() string       { return fmt.Sprintf("authentication failed: %v", e.Err) }
func (e *AuthError) Unwrap() error       { return e.Err }
func (e *AuthError) IsAuthFailure() bool { return true }

// retryable reports whether a transport retries err internally: every error
// other than an AuthError is retryable (connection refused, timeouts,
// network I/O and unclassified errors alike); an AuthError never is.
func retryable(err error) bool {
	var authErr *AuthError
	if errors.As(err, &authErr) {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return true
}

// retryBackoff is the per-transport retry-with-exponential-backoff spec'd in
// §4.3: three attempts total, waiting 1s then 2s between them, on classified
// retryable errors only. Shared by REST and SSH so both transports retry a
// transient blip on their own connection before Failover ever considers
// flipping to the fallback.
var retryBackoff = []time.Duration{1 * time.Second, 2 * time.Second}

// withRetry runs attempt up to len(retryBackoff)+1 times, sleeping the
// configured backoff between attempts, and gives up (returning the last
// error) once retryable(err) is false or the attempts are exhausted.
func withRetry(ctx context.Context, attempt func() (Result, error)) (Result, error) {
	res, err := attempt()
	if err == nil || !retryable(err) {
		return res, err
	}

	for _, wait := range retryBackoff {
		select {
		case <-ctx.Done():
			return res, ctx.Err()
		case <-time.After(wait):
		}

		res, err = attempt()
		if err == nil || !retryable(err) {
			return res, err
		}
	}

	return res, err
}

// Failover wraps a primary and fallback Transport. On a retryable failure
// from the primary it logs a warning, flips to the fallback, and stays
// there — sticky — until Close.
type Failover struct {
	primary  Transport
	fallback Transport
	logger   *slog.Logger

	usingFallback atomic.Bool
	mu            sync.Mutex
}

// NewFailover constructs a Failover transport.
func NewFailover(primary, fallback Transport, logger *slog.Logger) *Failover {
	return &Failover{
		primary:  primary,
		fallback: fallback,
		logger:   logger.With("component", "transport_failover"),
	}
}

// UsingFallback reports whether the sticky fallback flag is currently set.
func (f *Failover) UsingFallback() bool {
	return f.usingFallback.Load()
}

// RunCmd runs command against whichever transport is currently active.
// AuthError propagates immediately without flipping to the fallback.
func (f *Failover) RunCmd(ctx context.Context, command string) (Result, error) {
	if f.usingFallback.Load() {
		return f.fallback.RunCmd(ctx, command)
	}

	res, err := f.primary.RunCmd(ctx, command)
	if err == nil {
		return res, nil
	}

	var authErr *AuthError
	if errors.As(err, &authErr) {
		return res, err
	}

	if !retryable(err) {
		return res, err
	}

	f.mu.Lock()
	flipped := f.usingFallback.CompareAndSwap(false, true)
	f.mu.Unlock()

	if flipped {
		f.logger.Warn("primary transport failed, switching to fallback", "error", err)
	}

	return f.fallback.RunCmd(ctx, command)
}

// Close closes both underlying transports and resets the sticky flag.
func (f *Failover) Close() error {
	var firstErr error
	if err := f.primary.Close(); err != nil {
		firstErr = err
	}
	if err := f.fallback.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	f.usingFallback.Store(false)
	return firstErr
}
