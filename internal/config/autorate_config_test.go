// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTestConfig(t *testing.T, dir string, body string) string {
	t.Helper()
	path := filepath.Join(dir, "autorate.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("writing test config: %v", err)
	}
	return path
}

func minimalWANBlock(name string) string {
	return `
  - name: ` + name + `
    router:
      host: 192.168.1.1
      type: routeros
      transport: rest
      user: admin
      password: ${ROUTER_PASSWORD}
    queues:
      download: wan1-download
      upload: wan1-upload
    bandwidth:
      down_max: 500
      down_min: 50
      up_max: 50
      up_min: 5
    thresholds:
      target_ms: 5
      warn_ms: 15
      hard_red_ms: 40
    floors:
      red: 10
      soft_red: 20
      yellow: 50
      green: 400
    ewma:
      alpha_baseline: 0.02
      alpha_load: 0.25
    hysteresis:
      factor_down: 0.8
      factor_down_yellow: 0.95
      step_up_mbps: 10
    ping:
      hosts: ["1.1.1.1", "8.8.8.8"]
    state_file: /tmp/` + name + `-state.json
    lock_file: /tmp/` + name + `.lock
`
}

func TestLoad_MinimalValidConfig(t *testing.T) {
	t.Setenv("ROUTER_PASSWORD", "s3cret")
	dir := t.TempDir()
	body := `
schema_version: "1.0"
wans:` + minimalWANBlock("wan1") + `
`
	path := writeTestConfig(t, dir, body)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if len(cfg.WANs) != 1 {
		t.Fatalf("expected 1 wan, got %d", len(cfg.WANs))
	}
	w := cfg.WANs[0]
	if w.Router.Password != "s3cret" {
		t.Errorf("expected substituted password, got %q", w.Router.Password)
	}
	if w.Hysteresis.GreenRequired != 5 {
		t.Errorf("expected default green_required 5, got %d", w.Hysteresis.GreenRequired)
	}
	if w.Ping.Strategy != "median" {
		t.Errorf("expected default ping strategy median, got %q", w.Ping.Strategy)
	}
	if cfg.Supervisor.ConsecutiveFailureUnhealthy != 3 {
		t.Errorf("expected default consecutive_failure_unhealthy 3, got %d", cfg.Supervisor.ConsecutiveFailureUnhealthy)
	}
}

func TestLoad_MissingEnvVar(t *testing.T) {
	os.Unsetenv("ROUTER_PASSWORD_MISSING")
	dir := t.TempDir()
	body := `
schema_version: "1.0"
wans:
  - name: wan1
    router:
      host: 192.168.1.1
      type: routeros
      transport: rest
      user: admin
      password: ${ROUTER_PASSWORD_MISSING}
    queues:
      download: wan1-download
      upload: wan1-upload
`
	path := writeTestConfig(t, dir, body)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for missing env var, got nil")
	}
}

func TestValidate_FloorsOrderingRejected(t *testing.T) {
	t.Setenv("ROUTER_PASSWORD", "s3cret")
	dir := t.TempDir()
	body := `
schema_version: "1.0"
wans:
  - name: wan1
    router:
      host: 192.168.1.1
      type: routeros
      transport: rest
      user: admin
      password: ${ROUTER_PASSWORD}
    queues:
      download: wan1-download
      upload: wan1-upload
    bandwidth:
      down_max: 500
      down_min: 50
      up_max: 50
      up_min: 5
    thresholds:
      target_ms: 5
      warn_ms: 15
      hard_red_ms: 40
    floors:
      red: 50
      soft_red: 20
      yellow: 50
      green: 400
    ewma:
      alpha_baseline: 0.02
      alpha_load: 0.25
    hysteresis:
      factor_down: 0.8
      factor_down_yellow: 0.95
      step_up_mbps: 10
    ping:
      hosts: ["1.1.1.1"]
    state_file: /tmp/wan1-state.json
    lock_file: /tmp/wan1.lock
`
	path := writeTestConfig(t, dir, body)
	if _, err := Load(path); err == nil {
		t.Fatal("expected floors ordering violation to be rejected")
	}
}

func TestValidate_BadQueueNameRejected(t *testing.T) {
	t.Setenv("ROUTER_PASSWORD", "s3cret")
	dir := t.TempDir()
	body := `
schema_version: "1.0"
wans:
  - name: wan1
    router:
      host: 192.168.1.1
      type: routeros
      transport: rest
      user: admin
      password: ${ROUTER_PASSWORD}
    queues:
      download: "bad name with spaces"
      upload: wan1-upload
    bandwidth: {down_max: 500, down_min: 50, up_max: 50, up_min: 5}
    thresholds: {target_ms: 5, warn_ms: 15, hard_red_ms: 40}
    floors: {red: 10, soft_red: 20, yellow: 50, green: 400}
    ewma: {alpha_baseline: 0.02, alpha_load: 0.25}
    hysteresis: {factor_down: 0.8, factor_down_yellow: 0.95, step_up_mbps: 10}
    ping: {hosts: ["1.1.1.1"]}
    state_file: /tmp/wan1-state.json
    lock_file: /tmp/wan1.lock
`
	path := writeTestConfig(t, dir, body)
	if _, err := Load(path); err == nil {
		t.Fatal("expected invalid queue name to be rejected")
	}
}

func TestLoad_DuplicateWANNameRejected(t *testing.T) {
	t.Setenv("ROUTER_PASSWORD", "s3cret")
	dir := t.TempDir()
	body := `
schema_version: "1.0"
wans:` + minimalWANBlock("wan1") + minimalWANBlock("wan1") + `
`
	path := writeTestConfig(t, dir, body)
	if _, err := Load(path); err == nil {
		t.Fatal("expected duplicate wan name to be rejected")
	}
}

func TestLoad_UnsupportedSchemaVersionRejected(t *testing.T) {
	dir := t.TempDir()
	body := `
schema_version: "2.0"
wans: []
`
	path := writeTestConfig(t, dir, body)
	if _, err := Load(path); err == nil {
		t.Fatal("expected unsupported schema_version to be rejected")
	}
}
