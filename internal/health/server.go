// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package health

import (
	"encoding/json"
	"net/http"
	"time"
)

// Config configures the health HTTP listener.
type Config struct {
	Listen       string
	UnhealthyMax uint32
	ACLCIDRs     []string
}

// NewHandler builds the ACL-gated health endpoint. sources is read live on
// every request; Build never blocks on router I/O, only on each Source's
// in-memory Snapshot().
func NewHandler(sources []Source, unhealthyMax uint32, acl *ACL) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		doc := Build(sources, unhealthyMax, time.Now())
		w.Header().Set("Content-Type", "application/json")
		if doc.Status != "healthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(doc)
	})

	if acl == nil {
		return mux
	}
	return acl.Middleware(mux)
}
