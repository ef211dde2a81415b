// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package connectivity

import (
	"errors"
	"net"
	"os"
	"strings"
)

// Classify maps a transport error into a FailureKind using the precedence
// order spec'd for the tracker: timeout, then connection-refused, then
// network-unreachable, then DNS, then auth, else unknown.
func Classify(err error) FailureKind {
	if err == nil {
		return FailureUnknown
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return FailureTimeout
	}
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return FailureTimeout
	}

	msg := strings.ToLower(err.Error())

	if strings.Contains(msg, "connection refused") {
		return FailureConnectionRefused
	}

	if strings.Contains(msg, "network unreachable") || strings.Contains(msg, "no route to host") {
		return FailureNetworkUnreachable
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return FailureDNS
	}
	if strings.Contains(msg, "no such host") || strings.Contains(msg, "dns") {
		return FailureDNS
	}

	if authError(err) || strings.Contains(msg, "unauthorized") || strings.Contains(msg, "authentication") ||
		strings.Contains(msg, "permission denied") && strings.Contains(msg, "ssh") {
		return FailureAuth
	}

	return FailureUnknown
}

// authErrorClassifier lets the transport package mark an error as an
// authentication failure without this package importing its transport
// types (classification must not create an import cycle between
// connectivity and transport).
type authErrorClassifier interface {
	IsAuthFailure() bool
}

func authError(err error) bool {
	var target authErrorClassifier
	return errors.As(err, &target) && target.IsAuthFailure()
}
