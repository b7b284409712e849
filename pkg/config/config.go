// Package config defines the tunables for each pipeline stage and loads
// them from YAML, mirroring the bridge package's own yamlConfig-to-Config
// translation pattern.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// FreqProfile selects the FreqEstimator's PI gains.
type FreqProfile int

const (
	// ProfileDefault selects a profile from the target latency: short
	// targets need the faster-tracking Responsive gains, longer ones the
	// smoother Gradual gains.
	ProfileDefault FreqProfile = iota
	Responsive
	Gradual
)

func (p FreqProfile) String() string {
	switch p {
	case ProfileDefault:
		return "default"
	case Responsive:
		return "responsive"
	case Gradual:
		return "gradual"
	default:
		return "unknown"
	}
}

// LatencyMonitorConfig tunes the FreqEstimator/LatencyMonitor pair.
type LatencyMonitorConfig struct {
	FeEnable         bool
	FeProfile        FreqProfile
	FeUpdateInterval time.Duration
	MinLatency       time.Duration
	MaxLatency       time.Duration
	MaxScalingDelta  float32
}

// ResamplerConfig selects the resampling backend and quality profile.
type ResamplerConfig struct {
	Backend string // "auto", "builtin", "speex", "speexdec"
	Profile string // "low", "medium", "high"
}

// PlcConfig selects the packet-loss-concealment backend. Backend is None
// (0), Beep (1), or a plugin id >= MinPlcBackendID.
type PlcConfig struct {
	Backend int
}

const MinPlcBackendID = 100

// WatchdogConfig bounds how long a session may go without playback, or with
// choppy playback, before it's torn down.
type WatchdogConfig struct {
	NoPlaybackTimeout     time.Duration
	ChoppyPlaybackTimeout time.Duration
	ChoppyPlaybackWindow  time.Duration
	WarmupDuration        time.Duration
	FrameStatusWindow     int
}

// PipelineConfig bundles every stage's config, loaded from one YAML file.
type PipelineConfig struct {
	Latency  LatencyMonitorConfig
	Resample ResamplerConfig
	Plc      PlcConfig
	Watchdog WatchdogConfig
}

type yamlPipelineConfig struct {
	Latency struct {
		FeEnable         *bool   `yaml:"fe_enable"`
		FeProfile        string  `yaml:"fe_profile"`
		FeUpdateInterval string  `yaml:"fe_update_interval"`
		MinLatency       string  `yaml:"min_latency"`
		MaxLatency       string  `yaml:"max_latency"`
		MaxScalingDelta  float32 `yaml:"max_scaling_delta"`
	} `yaml:"latency"`
	Resampler struct {
		Backend string `yaml:"backend"`
		Profile string `yaml:"profile"`
	} `yaml:"resampler"`
	Plc struct {
		Backend int `yaml:"backend"`
	} `yaml:"plc"`
	Watchdog struct {
		NoPlaybackTimeout     string `yaml:"no_playback_timeout"`
		ChoppyPlaybackTimeout string `yaml:"choppy_playback_timeout"`
		ChoppyPlaybackWindow  string `yaml:"choppy_playback_window"`
		WarmupDuration        string `yaml:"warmup_duration"`
		FrameStatusWindow     int    `yaml:"frame_status_window"`
	} `yaml:"watchdog"`
}

// LoadPipelineConfig reads and validates a pipeline config file, applying
// the same defaults a receiver would use if the file omitted a field.
func LoadPipelineConfig(path string) (PipelineConfig, error) {
	cfg := PipelineConfig{
		Latency: LatencyMonitorConfig{
			FeEnable:         true,
			FeProfile:        ProfileDefault,
			FeUpdateInterval: 5 * time.Millisecond,
			MinLatency:       10 * time.Millisecond,
			MaxLatency:       500 * time.Millisecond,
			MaxScalingDelta:  0.005,
		},
		Resample: ResamplerConfig{Backend: "auto", Profile: "medium"},
		Plc:      PlcConfig{Backend: 0},
		Watchdog: WatchdogConfig{
			NoPlaybackTimeout:     2 * time.Second,
			ChoppyPlaybackTimeout: 2 * time.Second,
			ChoppyPlaybackWindow:  1 * time.Second,
			WarmupDuration:        500 * time.Millisecond,
			FrameStatusWindow:     10,
		},
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return PipelineConfig{}, fmt.Errorf("read pipeline config: %w", err)
	}

	var yc yamlPipelineConfig
	if err := yaml.Unmarshal(data, &yc); err != nil {
		return PipelineConfig{}, fmt.Errorf("parse pipeline config: %w", err)
	}

	if yc.Latency.FeEnable != nil {
		cfg.Latency.FeEnable = *yc.Latency.FeEnable
	}
	if yc.Latency.FeProfile == "responsive" {
		cfg.Latency.FeProfile = Responsive
	} else if yc.Latency.FeProfile == "gradual" {
		cfg.Latency.FeProfile = Gradual
	}
	if yc.Latency.FeUpdateInterval != "" {
		d, err := ParseDuration(yc.Latency.FeUpdateInterval)
		if err != nil {
			return PipelineConfig{}, fmt.Errorf("latency.fe_update_interval: %w", err)
		}
		cfg.Latency.FeUpdateInterval = d
	}
	if yc.Latency.MinLatency != "" {
		d, err := ParseDuration(yc.Latency.MinLatency)
		if err != nil {
			return PipelineConfig{}, fmt.Errorf("latency.min_latency: %w", err)
		}
		cfg.Latency.MinLatency = d
	}
	if yc.Latency.MaxLatency != "" {
		d, err := ParseDuration(yc.Latency.MaxLatency)
		if err != nil {
			return PipelineConfig{}, fmt.Errorf("latency.max_latency: %w", err)
		}
		cfg.Latency.MaxLatency = d
	}
	if yc.Latency.MaxScalingDelta > 0 {
		cfg.Latency.MaxScalingDelta = yc.Latency.MaxScalingDelta
	}
	if cfg.Latency.MinLatency >= cfg.Latency.MaxLatency {
		return PipelineConfig{}, fmt.Errorf("latency.min_latency must be less than latency.max_latency")
	}

	if yc.Resampler.Backend != "" {
		cfg.Resample.Backend = yc.Resampler.Backend
	}
	if yc.Resampler.Profile != "" {
		cfg.Resample.Profile = yc.Resampler.Profile
	}

	if yc.Plc.Backend != 0 {
		cfg.Plc.Backend = yc.Plc.Backend
	}

	if yc.Watchdog.NoPlaybackTimeout != "" {
		d, err := ParseDuration(yc.Watchdog.NoPlaybackTimeout)
		if err != nil {
			return PipelineConfig{}, fmt.Errorf("watchdog.no_playback_timeout: %w", err)
		}
		cfg.Watchdog.NoPlaybackTimeout = d
	}
	if yc.Watchdog.ChoppyPlaybackTimeout != "" {
		d, err := ParseDuration(yc.Watchdog.ChoppyPlaybackTimeout)
		if err != nil {
			return PipelineConfig{}, fmt.Errorf("watchdog.choppy_playback_timeout: %w", err)
		}
		cfg.Watchdog.ChoppyPlaybackTimeout = d
	}
	if yc.Watchdog.ChoppyPlaybackWindow != "" {
		d, err := ParseDuration(yc.Watchdog.ChoppyPlaybackWindow)
		if err != nil {
			return PipelineConfig{}, fmt.Errorf("watchdog.choppy_playback_window: %w", err)
		}
		cfg.Watchdog.ChoppyPlaybackWindow = d
	}
	if yc.Watchdog.WarmupDuration != "" {
		d, err := ParseDuration(yc.Watchdog.WarmupDuration)
		if err != nil {
			return PipelineConfig{}, fmt.Errorf("watchdog.warmup_duration: %w", err)
		}
		cfg.Watchdog.WarmupDuration = d
	}
	if yc.Watchdog.FrameStatusWindow > 0 {
		cfg.Watchdog.FrameStatusWindow = yc.Watchdog.FrameStatusWindow
	}

	return cfg, nil
}
