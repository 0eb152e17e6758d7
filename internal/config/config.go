// Package config loads the player configuration from YAML.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config represents the complete player configuration
type Config struct {
	InstanceID       string         `yaml:"instance_id"`
	ShutdownTimeoutS int            `yaml:"shutdown_timeout_s"` // default: 3
	TickHz           int            `yaml:"tick_hz"`            // engine tick rate (default: 60)
	Tuning           Tuning         `yaml:"tuning"`
	Audio            AudioConfig    `yaml:"audio"`
	DebugLog         DebugLogConfig `yaml:"debug_log"`
	MQTT             MQTTConfig     `yaml:"mqtt"`
	Status           StatusConfig   `yaml:"status"`
	Snapshot         SnapshotConfig `yaml:"snapshot"`
}

// Tuning holds the playback engine thresholds. Times are seconds.
type Tuning struct {
	ShadowLookaheadS          float64 `yaml:"shadow_lookahead_s"`
	FrameGapStallS            float64 `yaml:"frame_gap_stall_s"`
	FrameGapLongStallS        float64 `yaml:"frame_gap_long_stall_s"`
	ForwardStartupGraceS      float64 `yaml:"forward_startup_grace_s"`
	ForwardStartupLongGraceS  float64 `yaml:"forward_startup_long_grace_s"`
	StalePipelineThresholdS   float64 `yaml:"stale_pipeline_threshold_s"`
	PipelineStallThresholdS   float64 `yaml:"pipeline_stall_threshold_s"`
	ReverseForcePlayingAfterS float64 `yaml:"reverse_force_playing_after_s"`
	ReverseStartupTimeoutS    float64 `yaml:"reverse_startup_timeout_s"`

	RewindCacheMaxFrames int `yaml:"rewind_cache_max_frames"`
	RewindCacheMaxBytes  int `yaml:"rewind_cache_max_bytes"`

	VideoDecodeBucketRate float64 `yaml:"video_decode_bucket_rate"`
	HoverAudioBucketRate  float64 `yaml:"hover_audio_bucket_rate"`
	ScrubAudioBucketRate  float64 `yaml:"scrub_audio_bucket_rate"`

	PlaybackDecodeWidth     int `yaml:"playback_decode_width"`
	PlaybackDecodeHeight    int `yaml:"playback_decode_height"`
	ScrubDecodeWidth        int `yaml:"scrub_decode_width"`
	ScrubDecodeHeight       int `yaml:"scrub_decode_height"`
	PlaybackMaxDecodeFrames int `yaml:"playback_max_decode_frames"`
	ScrubMaxDecodeFrames    int `yaml:"scrub_max_decode_frames"`

	GOPWindowS              float64 `yaml:"gop_window_s"`
	PlayheadAdvanceMaxDtS   float64 `yaml:"playhead_advance_max_dt_s"`
	PlayheadAdvanceDebtMaxS float64 `yaml:"playhead_advance_debt_max_s"`
	FPSWindowS              float64 `yaml:"fps_window_s"`
}

// AudioConfig contains output device settings
type AudioConfig struct {
	Enabled      bool `yaml:"enabled"`
	SampleRateHz int  `yaml:"sample_rate_hz"` // default: 48000
	Channels     int  `yaml:"channels"`       // default: 2
}

// DebugLogConfig controls the structured event log
type DebugLogConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// MQTTConfig contains MQTT broker settings. An empty broker disables remote control.
type MQTTConfig struct {
	Broker   string          `yaml:"broker"`
	ClientID string          `yaml:"client_id"`
	Topics   MQTTTopics      `yaml:"topics"`
	QoS      map[string]byte `yaml:"qos"`
	Encoding string          `yaml:"encoding"` // json or msgpack
}

// MQTTTopics contains topic names
type MQTTTopics struct {
	Control string `yaml:"control"`
	Status  string `yaml:"status"`
}

// StatusConfig configures the HTTP health endpoints. Empty address disables them.
type StatusConfig struct {
	HTTPAddr      string  `yaml:"http_addr"`
	PublishRateHz float64 `yaml:"publish_rate_hz"` // MQTT status publish rate (default: 2)
}

// SnapshotConfig configures periodic PNG dumps of displayed frames
type SnapshotConfig struct {
	Dir         string `yaml:"dir"`
	EveryNFrame int    `yaml:"every_n_frames"`
	Width       uint   `yaml:"width"`
}

// Load reads and parses a YAML configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: failed to read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: failed to parse config: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config: invalid configuration: %w", err)
	}

	return cfg, nil
}

// Default returns a validated configuration with every default applied.
func Default() *Config {
	cfg := &Config{
		InstanceID: "wizard",
		Audio:      AudioConfig{Enabled: true},
	}
	_ = Validate(cfg)
	return cfg
}
