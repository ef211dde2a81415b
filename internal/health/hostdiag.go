// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package health

import (
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// HostDiagnostics is a best-effort resource snapshot attached to the health
// document for operator troubleshooting. It never feeds a control decision:
// a host under memory pressure still gets the same rate adjustments, just a
// visibly strained health report.
type HostDiagnostics struct {
	CPUPercent    float64 `json:"cpu_percent"`
	MemoryPercent float64 `json:"memory_percent"`
}

// collectHostDiagnostics samples instantaneous CPU and memory usage. Errors
// from either collector leave the corresponding field zeroed rather than
// failing the whole health request.
func collectHostDiagnostics() HostDiagnostics {
	var diag HostDiagnostics
	if pct, err := cpu.Percent(0, false); err == nil && len(pct) > 0 {
		diag.CPUPercent = pct[0]
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		diag.MemoryPercent = vm.UsedPercent
	}
	return diag
}
