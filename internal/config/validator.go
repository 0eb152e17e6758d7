package config

import (
	"fmt"
	"regexp"
)

var instanceIDPattern = regexp.MustCompile(`^[a-z0-9\-]+$`)

// DefaultTuning returns the engine thresholds used when the file leaves them unset.
func DefaultTuning() Tuning {
	return Tuning{
		ShadowLookaheadS:          1.5,
		FrameGapStallS:            0.25,
		FrameGapLongStallS:        1.0,
		ForwardStartupGraceS:      0.5,
		ForwardStartupLongGraceS:  2.0,
		StalePipelineThresholdS:   2.0,
		PipelineStallThresholdS:   0.5,
		ReverseForcePlayingAfterS: 0.75,
		ReverseStartupTimeoutS:    1.5,
		RewindCacheMaxFrames:      180,
		RewindCacheMaxBytes:       512 << 20,
		VideoDecodeBucketRate:     60,
		HoverAudioBucketRate:      10,
		ScrubAudioBucketRate:      20,
		PlaybackDecodeWidth:       1920,
		PlaybackDecodeHeight:      1080,
		ScrubDecodeWidth:          640,
		ScrubDecodeHeight:         360,
		PlaybackMaxDecodeFrames:   8,
		ScrubMaxDecodeFrames:      2,
		GOPWindowS:                4.0,
		PlayheadAdvanceMaxDtS:     0.1,
		PlayheadAdvanceDebtMaxS:   0.25,
		FPSWindowS:                1.0,
	}
}

// Validate checks if the configuration is valid and fills defaults
func Validate(cfg *Config) error {
	if cfg.InstanceID == "" {
		cfg.InstanceID = "wizard"
	}
	if !instanceIDPattern.MatchString(cfg.InstanceID) {
		return fmt.Errorf("instance_id must match pattern [a-z0-9-]+")
	}
	if cfg.ShutdownTimeoutS <= 0 {
		cfg.ShutdownTimeoutS = 3
	}
	if cfg.TickHz <= 0 {
		cfg.TickHz = 60
	}
	if cfg.TickHz > 240 {
		return fmt.Errorf("tick_hz must be <= 240, got %d", cfg.TickHz)
	}

	if err := ValidateTuning(&cfg.Tuning); err != nil {
		return fmt.Errorf("tuning validation failed: %w", err)
	}

	if cfg.Audio.SampleRateHz == 0 {
		cfg.Audio.SampleRateHz = 48000
	}
	if cfg.Audio.SampleRateHz < 8000 || cfg.Audio.SampleRateHz > 192000 {
		return fmt.Errorf("audio.sample_rate_hz out of range: %d", cfg.Audio.SampleRateHz)
	}
	if cfg.Audio.Channels == 0 {
		cfg.Audio.Channels = 2
	}
	if cfg.Audio.Channels < 1 || cfg.Audio.Channels > 8 {
		return fmt.Errorf("audio.channels must be in [1,8], got %d", cfg.Audio.Channels)
	}

	if cfg.DebugLog.Enabled && cfg.DebugLog.Path == "" {
		cfg.DebugLog.Path = ".wizard-debug.ndjson"
	}

	// Remote control is optional; topics only matter with a broker
	if cfg.MQTT.Broker != "" {
		if cfg.MQTT.ClientID == "" {
			cfg.MQTT.ClientID = fmt.Sprintf("wizard-play-%s", cfg.InstanceID)
		}
		if cfg.MQTT.Topics.Control == "" {
			cfg.MQTT.Topics.Control = fmt.Sprintf("wizard/control/%s", cfg.InstanceID)
		}
		if cfg.MQTT.Topics.Status == "" {
			cfg.MQTT.Topics.Status = fmt.Sprintf("wizard/status/%s", cfg.InstanceID)
		}
		if cfg.MQTT.QoS == nil {
			cfg.MQTT.QoS = map[string]byte{"control": 1, "status": 0}
		}
	}
	switch cfg.MQTT.Encoding {
	case "":
		cfg.MQTT.Encoding = "json"
	case "json", "msgpack":
	default:
		return fmt.Errorf("mqtt.encoding must be 'json' or 'msgpack', got '%s'", cfg.MQTT.Encoding)
	}

	if cfg.Status.PublishRateHz <= 0 {
		cfg.Status.PublishRateHz = 2
	}

	if cfg.Snapshot.Dir != "" {
		if cfg.Snapshot.EveryNFrame <= 0 {
			cfg.Snapshot.EveryNFrame = 60
		}
		if cfg.Snapshot.Width == 0 {
			cfg.Snapshot.Width = 320
		}
	}

	return nil
}

// ValidateTuning fills unset thresholds with defaults and rejects
// inconsistent ones.
func ValidateTuning(t *Tuning) error {
	d := DefaultTuning()
	fillF := func(v *float64, def float64) {
		if *v <= 0 {
			*v = def
		}
	}
	fillI := func(v *int, def int) {
		if *v <= 0 {
			*v = def
		}
	}

	fillF(&t.ShadowLookaheadS, d.ShadowLookaheadS)
	fillF(&t.FrameGapStallS, d.FrameGapStallS)
	fillF(&t.FrameGapLongStallS, d.FrameGapLongStallS)
	fillF(&t.ForwardStartupGraceS, d.ForwardStartupGraceS)
	fillF(&t.ForwardStartupLongGraceS, d.ForwardStartupLongGraceS)
	fillF(&t.StalePipelineThresholdS, d.StalePipelineThresholdS)
	fillF(&t.PipelineStallThresholdS, d.PipelineStallThresholdS)
	fillF(&t.ReverseForcePlayingAfterS, d.ReverseForcePlayingAfterS)
	fillF(&t.ReverseStartupTimeoutS, d.ReverseStartupTimeoutS)
	fillI(&t.RewindCacheMaxFrames, d.RewindCacheMaxFrames)
	fillI(&t.RewindCacheMaxBytes, d.RewindCacheMaxBytes)
	fillF(&t.VideoDecodeBucketRate, d.VideoDecodeBucketRate)
	fillF(&t.HoverAudioBucketRate, d.HoverAudioBucketRate)
	fillF(&t.ScrubAudioBucketRate, d.ScrubAudioBucketRate)
	fillI(&t.PlaybackDecodeWidth, d.PlaybackDecodeWidth)
	fillI(&t.PlaybackDecodeHeight, d.PlaybackDecodeHeight)
	fillI(&t.ScrubDecodeWidth, d.ScrubDecodeWidth)
	fillI(&t.ScrubDecodeHeight, d.ScrubDecodeHeight)
	fillI(&t.PlaybackMaxDecodeFrames, d.PlaybackMaxDecodeFrames)
	fillI(&t.ScrubMaxDecodeFrames, d.ScrubMaxDecodeFrames)
	fillF(&t.GOPWindowS, d.GOPWindowS)
	fillF(&t.PlayheadAdvanceMaxDtS, d.PlayheadAdvanceMaxDtS)
	fillF(&t.PlayheadAdvanceDebtMaxS, d.PlayheadAdvanceDebtMaxS)
	fillF(&t.FPSWindowS, d.FPSWindowS)

	if t.FrameGapLongStallS < t.FrameGapStallS {
		return fmt.Errorf("frame_gap_long_stall_s (%.3f) must be >= frame_gap_stall_s (%.3f)",
			t.FrameGapLongStallS, t.FrameGapStallS)
	}
	if t.ForwardStartupLongGraceS < t.ForwardStartupGraceS {
		return fmt.Errorf("forward_startup_long_grace_s (%.3f) must be >= forward_startup_grace_s (%.3f)",
			t.ForwardStartupLongGraceS, t.ForwardStartupGraceS)
	}
	if t.PlaybackDecodeWidth%2 != 0 || t.PlaybackDecodeHeight%2 != 0 {
		return fmt.Errorf("playback decode size must be even, got %dx%d",
			t.PlaybackDecodeWidth, t.PlaybackDecodeHeight)
	}

	return nil
}

// EffectiveReverseStartupTimeout returns the reverse startup timeout floored at 1.5 s.
func (t Tuning) EffectiveReverseStartupTimeout() float64 {
	return max(t.ReverseStartupTimeoutS, 1.5)
}
