// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package health implements the §4.10 read-only health snapshot contract as
// a real, ACL-gated HTTP handler: a JSON document summarizing every managed
// WAN's control state for an external monitoring collaborator.
package health

import (
	"fmt"
	"net"
	"net/http"
)

// ACL is a deny-by-default CIDR allowlist gating the health endpoint,
// adapted from the backup server's observability ACL: only remote
// addresses contained in at least one configured CIDR may reach the
// handler.
type ACL struct {
	nets []*net.IPNet
}

// NewACL builds an ACL from already-parsed CIDRs.
func NewACL(cidrs []*net.IPNet) *ACL {
	return &ACL{nets: cidrs}
}

// ParseCIDRs parses each entry of cidrs (e.g. "10.0.0.0/24") and returns an
// ACL gating on all of them. An empty list yields a non-nil ACL that denies
// every remote address, matching the deny-by-default contract.
func ParseCIDRs(cidrs []string) (*ACL, error) {
	nets := make([]*net.IPNet, 0, len(cidrs))
	for _, c := range cidrs {
		_, ipnet, err := net.ParseCIDR(c)
		if err != nil {
			return nil, fmt.Errorf("parsing cidr %q: %w", c, err)
		}
		nets = append(nets, ipnet)
	}
	return NewACL(nets), nil
}

// Middleware wraps next with the ACL check, responding 403 to denied
// remote addresses.
func (a *ACL) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.Allowed(r.RemoteAddr) {
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Allowed reports whether remoteAddr (host:port, or a bare host) is
// contained in at least one configured CIDR.
func (a *ACL) Allowed(remoteAddr string) bool {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}

	ip := net.ParseIP(host)
	if ip == nil {
		return false
	}

	for _, cidr := range a.nets {
		if cidr.Contains(ip) {
			return true
		}
	}
	return false
}
