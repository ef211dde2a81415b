// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package config

import (
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"
)

var queueNamePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]{0,62}$`)

// Load reads, substitutes ${VAR} environment references into, parses, and
// validates the YAML config at path.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	substituted, err := substituteEnv(string(raw))
	if err != nil {
		return nil, fmt.Errorf("substituting environment variables: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal([]byte(substituted), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

func (c *Config) validate() error {
	if c.SchemaVersion == "" {
		return fmt.Errorf("schema_version is required")
	}
	if c.SchemaVersion != SchemaVersion {
		return fmt.Errorf("unsupported schema_version %q, expected %q", c.SchemaVersion, SchemaVersion)
	}
	if len(c.WANs) == 0 {
		return fmt.Errorf("at least one wan must be configured")
	}

	if c.Supervisor.CyclePeriodMs <= 0 {
		c.Supervisor.CyclePeriodMs = int(DefaultCyclePeriod.Milliseconds())
	}
	if c.Supervisor.ConsecutiveFailureUnhealthy == 0 {
		c.Supervisor.ConsecutiveFailureUnhealthy = 3
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}

	if c.Health.Listen == "" {
		c.Health.Listen = "127.0.0.1:9090"
	}
	if c.Metrics.Listen == "" {
		c.Metrics.Listen = "127.0.0.1:9091"
	}
	if c.Metrics.Namespace == "" {
		c.Metrics.Namespace = "autorate"
	}

	seen := make(map[string]bool, len(c.WANs))
	for i := range c.WANs {
		w := &c.WANs[i]
		if w.Name == "" {
			return fmt.Errorf("wans[%d].name is required", i)
		}
		if seen[w.Name] {
			return fmt.Errorf("wans[%d]: duplicate wan name %q", i, w.Name)
		}
		seen[w.Name] = true
		if err := w.validate(); err != nil {
			return fmt.Errorf("wans[%d] (%s): %w", i, w.Name, err)
		}
	}

	if c.Steering.PrimaryWAN != "" && !seen[c.Steering.PrimaryWAN] {
		return fmt.Errorf("steering.primary_wan %q does not match any configured wan", c.Steering.PrimaryWAN)
	}
	if c.Steering.DegradeRequired <= 0 {
		c.Steering.DegradeRequired = 2
	}
	if c.Steering.RecoverRequired <= 0 {
		c.Steering.RecoverRequired = 15
	}
	if c.Steering.IntervalMs <= 0 {
		c.Steering.IntervalMs = 2000
	}

	return nil
}

func (w *WANConfig) validate() error {
	if w.Router.Host == "" {
		return fmt.Errorf("router.host is required")
	}
	if w.Router.Type != "routeros" {
		return fmt.Errorf("router.type must be %q, got %q", "routeros", w.Router.Type)
	}
	if w.Router.Transport != "ssh" && w.Router.Transport != "rest" {
		return fmt.Errorf("router.transport must be %q or %q, got %q", "ssh", "rest", w.Router.Transport)
	}
	if w.Router.User == "" {
		return fmt.Errorf("router.user is required")
	}
	if w.Router.SSHKey == "" && w.Router.Password == "" {
		return fmt.Errorf("router: one of ssh_key or password is required")
	}

	if !queueNamePattern.MatchString(w.Queues.Download) {
		return fmt.Errorf("queues.download %q does not match %s", w.Queues.Download, queueNamePattern.String())
	}
	if !queueNamePattern.MatchString(w.Queues.Upload) {
		return fmt.Errorf("queues.upload %q does not match %s", w.Queues.Upload, queueNamePattern.String())
	}

	if w.Bandwidth.DownMax <= 0 || w.Bandwidth.DownMin <= 0 || w.Bandwidth.DownMin > w.Bandwidth.DownMax {
		return fmt.Errorf("bandwidth: down_min/down_max must satisfy 0 < down_min <= down_max")
	}
	if w.Bandwidth.UpMax <= 0 || w.Bandwidth.UpMin <= 0 || w.Bandwidth.UpMin > w.Bandwidth.UpMax {
		return fmt.Errorf("bandwidth: up_min/up_max must satisfy 0 < up_min <= up_max")
	}

	if w.Thresholds.TargetMs <= 0 || w.Thresholds.WarnMs <= w.Thresholds.TargetMs {
		return fmt.Errorf("thresholds: target_ms must be > 0 and warn_ms must exceed target_ms")
	}
	if w.Thresholds.HardRedMs <= w.Thresholds.WarnMs {
		return fmt.Errorf("thresholds.hard_red_ms must exceed warn_ms")
	}

	if !(w.Floors.Red < w.Floors.SoftRed && w.Floors.SoftRed < w.Floors.Yellow && w.Floors.Yellow < w.Floors.Green) {
		return fmt.Errorf("floors must satisfy red < soft_red < yellow < green")
	}
	if w.Floors.Green > w.Bandwidth.DownMax {
		return fmt.Errorf("floors.green must not exceed bandwidth.down_max")
	}

	if w.EWMA.AlphaBaseline <= 0 && w.EWMA.TimeConstantBaselineS <= 0 {
		return fmt.Errorf("ewma: one of alpha_baseline or time_constant_baseline_s is required")
	}
	if w.EWMA.AlphaLoad <= 0 && w.EWMA.TimeConstantLoadS <= 0 {
		return fmt.Errorf("ewma: one of alpha_load or time_constant_load_s is required")
	}
	if w.EWMA.UpdateThresholdMs <= 0 {
		w.EWMA.UpdateThresholdMs = 3
	}

	if w.Hysteresis.GreenRequired <= 0 {
		w.Hysteresis.GreenRequired = 5
	}
	if w.Hysteresis.SoftRedRequired <= 0 {
		w.Hysteresis.SoftRedRequired = 3
	}
	if w.Hysteresis.FactorDown <= 0 || w.Hysteresis.FactorDown >= 1 {
		return fmt.Errorf("hysteresis.factor_down must be in (0, 1)")
	}
	if w.Hysteresis.FactorDownYellow <= 0 || w.Hysteresis.FactorDownYellow >= 1 {
		return fmt.Errorf("hysteresis.factor_down_yellow must be in (0, 1)")
	}
	if w.Hysteresis.StepUpMbps <= 0 {
		return fmt.Errorf("hysteresis.step_up_mbps must be positive")
	}

	if len(w.Ping.Hosts) == 0 {
		return fmt.Errorf("ping.hosts must have at least one entry")
	}
	if w.Ping.Count <= 0 {
		w.Ping.Count = 1
	}
	if w.Ping.TimeoutS <= 0 {
		w.Ping.TimeoutS = 1
	}
	switch w.Ping.Strategy {
	case "":
		w.Ping.Strategy = "median"
	case "average", "median", "min", "max":
	default:
		return fmt.Errorf("ping.strategy must be one of average|median|min|max, got %q", w.Ping.Strategy)
	}

	if w.Fallback.Enabled {
		if w.Fallback.MaxCycles <= 0 {
			w.Fallback.MaxCycles = 3
		}
		if len(w.Fallback.TCPTargets) == 0 {
			return fmt.Errorf("fallback.enabled requires at least one tcp_targets entry")
		}
	}

	if w.RateLimiter.WindowS <= 0 {
		w.RateLimiter.WindowS = 60
	}
	if w.RateLimiter.MaxChanges <= 0 {
		w.RateLimiter.MaxChanges = 10
	}
	if w.StaleAfterS <= 0 {
		w.StaleAfterS = 60
	}

	if w.StateFile == "" {
		return fmt.Errorf("state_file is required")
	}
	if w.LockFile == "" {
		return fmt.Errorf("lock_file is required")
	}

	return nil
}
