// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package tracing gives the control loop a per-cycle span without requiring
// any exporter configuration: with no TracerProvider installed, otel's
// global default is a no-op tracer, so Start/End cost is negligible until an
// operator wires a real SDK in main.
package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("github.com/nishisan-dev/autorate")

// StartCycle opens a span for one control cycle, tagged with the WAN it
// belongs to. Callers must defer span.End().
func StartCycle(ctx context.Context, wan string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "wan_controller.run_cycle", trace.WithAttributes(attribute.String("wan", wan)))
}
