// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package health

import (
	"testing"
	"time"
)

func TestCollectHostDiagnostics_NeverPanics(t *testing.T) {
	diag := collectHostDiagnostics()
	if diag.CPUPercent < 0 || diag.MemoryPercent < 0 {
		t.Errorf("expected non-negative diagnostics, got %+v", diag)
	}
}

func TestBuild_IncludesHostDiagnostics(t *testing.T) {
	doc := Build(nil, 3, time.Now())
	if doc.Host.MemoryPercent < 0 {
		t.Errorf("expected host diagnostics to be populated, got %+v", doc.Host)
	}
}
