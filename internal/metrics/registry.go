// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

// Package metrics exposes a Prometheus registry for the control loop: the
// wire exposition format is outside this system's core scope, but the
// registry and its update call sites exercise prometheus/client_golang the
// way a real deployment's scrape target would.
//
// Grounded on the NewPrometheusExporter shape in 99souls-ariadne's
// engine/monitoring/monitoring.go: a dedicated prometheus.Registry (not the
// global default registry), vectors keyed by label, registered once at
// construction and updated from the control loop's own call sites.
package metrics

import (
	"net/http"

	"github.com/nishisan-dev/autorate/internal/connectivity"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds every gauge/counter this daemon exposes.
type Registry struct {
	registry *prometheus.Registry

	currentRate   *prometheus.GaugeVec
	baselineRTTMs *prometheus.GaugeVec
	loadRTTMs     *prometheus.GaugeVec
	zone          *prometheus.GaugeVec
	writeAttempts *prometheus.CounterVec
	writeFailures *prometheus.CounterVec
}

// NewRegistry constructs and registers every metric under the given
// namespace (typically "autorate" or "steering").
func NewRegistry(namespace string) *Registry {
	reg := prometheus.NewRegistry()

	r := &Registry{
		registry: reg,
		currentRate: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "current_rate_bps",
			Help:      "Currently applied shaped bandwidth limit, in bits per second.",
		}, []string{"wan", "direction"}),
		baselineRTTMs: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "baseline_rtt_ms",
			Help:      "Idle baseline RTT EWMA, in milliseconds.",
		}, []string{"wan"}),
		loadRTTMs: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "load_rtt_ms",
			Help:      "Load RTT EWMA, in milliseconds.",
		}, []string{"wan"}),
		zone: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "zone",
			Help:      "Current congestion zone as an ordinal (0=green, 1=yellow, 2=soft_red, 3=red).",
		}, []string{"wan", "direction"}),
		writeAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "router_write_attempts_total",
			Help:      "Total router write attempts (set_queue_limit).",
		}, []string{"wan"}),
		writeFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "router_write_failures_total",
			Help:      "Total router write failures by failure kind.",
		}, []string{"wan", "kind"}),
	}

	reg.MustRegister(r.currentRate, r.baselineRTTMs, r.loadRTTMs, r.zone, r.writeAttempts, r.writeFailures)
	return r
}

// Handler returns the HTTP handler serving this registry's exposition.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// ObserveRate records a direction's currently applied rate.
func (r *Registry) ObserveRate(wan, direction string, bps int64) {
	r.currentRate.WithLabelValues(wan, direction).Set(float64(bps))
}

// ObserveEWMA records the baseline/load pair for one WAN.
func (r *Registry) ObserveEWMA(wan string, baselineMs, loadMs float64) {
	r.baselineRTTMs.WithLabelValues(wan).Set(baselineMs)
	r.loadRTTMs.WithLabelValues(wan).Set(loadMs)
}

// ObserveZone records a direction's current zone as an ordinal.
func (r *Registry) ObserveZone(wan, direction string, ordinal float64) {
	r.zone.WithLabelValues(wan, direction).Set(ordinal)
}

// RecordWriteAttempt increments the write-attempt counter for wan.
func (r *Registry) RecordWriteAttempt(wan string) {
	r.writeAttempts.WithLabelValues(wan).Inc()
}

// RecordWriteFailure increments the write-failure counter for wan, labeled
// by the classified failure kind.
func (r *Registry) RecordWriteFailure(wan string, kind connectivity.FailureKind) {
	r.writeFailures.WithLabelValues(wan, string(kind)).Inc()
}
