// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package config

import "time"

// RouterConfig is the `router` YAML section: how to reach and authenticate
// against the RouterOS device.
type RouterConfig struct {
	Host      string `yaml:"host"`
	Type      string `yaml:"type"` // must be "routeros"
	Transport string `yaml:"transport"` // "ssh" | "rest"
	User      string `yaml:"user"`
	SSHKey    string `yaml:"ssh_key"`
	Password  string `yaml:"password"` // may reference ${VAR}
	VerifySSL *bool  `yaml:"verify_ssl"`
	CACert    string `yaml:"ca_cert"`
}

// QueuesConfig is the `queues` section: router-side queue identifiers.
type QueuesConfig struct {
	Download string `yaml:"download"`
	Upload   string `yaml:"upload"`
}

// BandwidthConfig is the `bandwidth` section, in Mbps.
type BandwidthConfig struct {
	DownMax float64 `yaml:"down_max"`
	DownMin float64 `yaml:"down_min"`
	UpMax   float64 `yaml:"up_max"`
	UpMin   float64 `yaml:"up_min"`
}

// ThresholdsConfig is the `thresholds` section; HardRedMs only applies to
// download.
type ThresholdsConfig struct {
	TargetMs  float64 `yaml:"target_ms"`
	WarnMs    float64 `yaml:"warn_ms"`
	HardRedMs float64 `yaml:"hard_red_ms"`
}

// FloorsConfig is the `floors` section. Download uses all four; upload
// uses Red and Green only (Yellow/SoftRed are ignored for upload).
type FloorsConfig struct {
	Red     float64 `yaml:"red"`
	SoftRed float64 `yaml:"soft_red"`
	Yellow  float64 `yaml:"yellow"`
	Green   float64 `yaml:"green"`
}

// EWMAConfig is the `ewma` section. Either alpha or the matching time
// constant may be set for each series.
type EWMAConfig struct {
	AlphaBaseline         float64 `yaml:"alpha_baseline"`
	TimeConstantBaselineS float64 `yaml:"time_constant_baseline_s"`
	AlphaLoad             float64 `yaml:"alpha_load"`
	TimeConstantLoadS     float64 `yaml:"time_constant_load_s"`
	UpdateThresholdMs     float64 `yaml:"update_threshold_ms"`
}

// HysteresisConfig is the `hysteresis` section.
type HysteresisConfig struct {
	GreenRequired     int     `yaml:"green_required"`
	SoftRedRequired   int     `yaml:"soft_red_required"`
	FactorDown        float64 `yaml:"factor_down"`
	FactorDownYellow  float64 `yaml:"factor_down_yellow"`
	StepUpMbps        float64 `yaml:"step_up_mbps"`
}

// PingConfig is the `ping` section for the RTT prober.
type PingConfig struct {
	Hosts     []string `yaml:"hosts"`
	Count     int      `yaml:"count"`
	TimeoutS  float64  `yaml:"timeout_s"`
	Strategy  string   `yaml:"strategy"` // average|median|min|max
}

// TCPTarget is one fallback TCP handshake target.
type TCPTarget struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// FallbackConfig is the `fallback` section.
type FallbackConfig struct {
	Enabled    bool        `yaml:"enabled"`
	MaxCycles  int         `yaml:"max_cycles"`
	TCPTargets []TCPTarget `yaml:"tcp_targets"`
}

// RateLimiterConfig is the `rate_limiter` section: the sliding-window cap on
// router writes (C8).
type RateLimiterConfig struct {
	WindowS    float64 `yaml:"window_s"`
	MaxChanges int     `yaml:"max_changes"`
}

// ConfidenceConfig is the optional steering `confidence` subsection.
type ConfidenceConfig struct {
	Enabled    bool `yaml:"enabled"`
	DryRun     bool `yaml:"dry_run"`
}

// SteeringConfig is the steering-daemon-specific YAML section, attached to
// a WAN config as `steering`.
type SteeringConfig struct {
	PrimaryWAN        string           `yaml:"primary_wan"`
	MangleRuleComment string           `yaml:"mangle_rule_comment"`
	DownloadQueue     string           `yaml:"download_queue"`
	BaselineSanityMin float64          `yaml:"baseline_sanity_min_ms"`
	BaselineSanityMax float64          `yaml:"baseline_sanity_max_ms"`
	DegradeRequired   int              `yaml:"degrade_required"`
	RecoverRequired   int              `yaml:"recover_required"`
	RTTDeltaRedMs     float64          `yaml:"rtt_delta_red_ms"`
	DropsDeltaRed     uint64           `yaml:"drops_delta_red"`
	QueuedDepthRed    uint64           `yaml:"queued_depth_red"`
	RTTDeltaYellowMs  float64          `yaml:"rtt_delta_yellow_ms"`
	DropsDeltaYellow  uint64           `yaml:"drops_delta_yellow"`
	IntervalMs        int              `yaml:"interval_ms"`
	Confidence        ConfidenceConfig `yaml:"confidence"`
}

// WANConfig is one complete WAN's configuration: router access, queue
// identifiers, bandwidth envelope, control thresholds, and local file paths.
type WANConfig struct {
	Name        string            `yaml:"name"`
	Router      RouterConfig      `yaml:"router"`
	Queues      QueuesConfig      `yaml:"queues"`
	Bandwidth   BandwidthConfig   `yaml:"bandwidth"`
	Thresholds  ThresholdsConfig  `yaml:"thresholds"`
	Floors      FloorsConfig      `yaml:"floors"`
	EWMA        EWMAConfig        `yaml:"ewma"`
	Hysteresis  HysteresisConfig  `yaml:"hysteresis"`
	Ping        PingConfig        `yaml:"ping"`
	Fallback    FallbackConfig    `yaml:"fallback"`
	RateLimiter RateLimiterConfig `yaml:"rate_limiter"`
	StaleAfterS float64           `yaml:"stale_after_s"`
	StateFile   string            `yaml:"state_file"`
	LockFile    string            `yaml:"lock_file"`
	LogFile     string            `yaml:"log_file"`
}

// LoggingConfig mirrors the teacher's top-level logging section.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// SupervisorConfig configures C11's cycle period and watchdog thresholds.
type SupervisorConfig struct {
	CyclePeriodMs               int    `yaml:"cycle_period_ms"`
	ConsecutiveFailureUnhealthy uint32 `yaml:"consecutive_failure_unhealthy"`
	RefreshSchedule             string `yaml:"refresh_schedule"` // cron expression, health snapshot refresh
}

// HealthConfig is the §4.10 health endpoint's listener configuration.
type HealthConfig struct {
	Listen   string   `yaml:"listen"`
	ACLCIDRs []string `yaml:"acl_cidrs"`
}

// MetricsConfig is the Prometheus exposition listener configuration.
type MetricsConfig struct {
	Listen    string `yaml:"listen"`
	Namespace string `yaml:"namespace"`
}

// Config is the full top-level YAML document for the autorate daemon: one
// or more WANs plus shared logging/supervisor settings.
type Config struct {
	SchemaVersion string           `yaml:"schema_version"`
	WANs          []WANConfig      `yaml:"wans"`
	Steering      SteeringConfig   `yaml:"steering"`
	Logging       LoggingConfig    `yaml:"logging"`
	Supervisor    SupervisorConfig `yaml:"supervisor"`
	Health        HealthConfig     `yaml:"health"`
	Metrics       MetricsConfig    `yaml:"metrics"`
}

const (
	// DefaultCyclePeriod is the control loop's default tick period.
	DefaultCyclePeriod = 50 * time.Millisecond
	// SchemaVersion is the only schema_version this build accepts.
	SchemaVersion = "1.0"
)
