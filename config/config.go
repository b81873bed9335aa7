// Package config holds the runtime configuration of the media task and
// loads it from YAML.
package config

import "time"

// FeedingMode selects how partial PCM reads are treated.
type FeedingMode string

const (
	// FeedingSync treats a short read as an underflow.
	FeedingSync FeedingMode = "sync"
	// FeedingAsync pads a short read with silence.
	FeedingAsync FeedingMode = "async"
)

// IsValid reports whether m is a known feeding mode.
func (m FeedingMode) IsValid() bool {
	return m == FeedingSync || m == FeedingAsync
}

// Config is the top-level configuration.
type Config struct {
	LogLevel         string         `yaml:"log_level"`
	Tick             TickConfig     `yaml:"tick"`
	Queue            QueueConfig    `yaml:"queue"`
	Media            MediaConfig    `yaml:"media"`
	Encoder          EncoderConfig  `yaml:"encoder"`
	Feeding          FeedingConfig  `yaml:"feeding"`
	Channels         ChannelsConfig `yaml:"channels"`
	StartupTimeoutMs int            `yaml:"startup_timeout_ms"`
}

// TickConfig controls the media tick.
type TickConfig struct {
	PeriodMs         int `yaml:"period_ms"`
	Multiplier       int `yaml:"multiplier"`
	MaxFramesPerTick int `yaml:"max_frames_per_tick"`
}

// QueueConfig sizes the outbound queue and its buffer pool.
type QueueConfig struct {
	MaxDepth    int `yaml:"max_depth"`
	PoolBuffers int `yaml:"pool_buffers"`
	BufferSize  int `yaml:"buffer_size"`
}

// MediaConfig controls the media packet layout.
type MediaConfig struct {
	// ContentProtection reserves one byte per packet for the SCMS-T header.
	ContentProtection bool  `yaml:"content_protection"`
	PayloadType       uint8 `yaml:"payload_type"`
}

// EncoderConfig drives the bitpool search.
type EncoderConfig struct {
	DefaultBitrateKbps int `yaml:"default_bitrate_kbps"`
	BitrateStepKbps    int `yaml:"bitrate_step_kbps"`
	MaxSearchSteps     int `yaml:"max_search_steps"`
}

// FeedingConfig describes the PCM the audio client is expected to send
// before any feeding is negotiated.
type FeedingConfig struct {
	SampleRate    int         `yaml:"sample_rate"`
	BitsPerSample int         `yaml:"bits_per_sample"`
	Channels      int         `yaml:"channels"`
	Mode          FeedingMode `yaml:"mode"`
}

// ChannelsConfig locates the control and audio sockets.
type ChannelsConfig struct {
	ControlSocket  string `yaml:"control_socket"`
	DataSocket     string `yaml:"data_socket"`
	WriteTimeoutMs int    `yaml:"write_timeout_ms"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		LogLevel: "info",
		Tick: TickConfig{
			PeriodMs:         20,
			Multiplier:       1,
			MaxFramesPerTick: 14,
		},
		Queue: QueueConfig{
			MaxDepth:    24,
			PoolBuffers: 32,
			BufferSize:  4096,
		},
		Media: MediaConfig{
			ContentProtection: false,
			PayloadType:       96,
		},
		Encoder: EncoderConfig{
			DefaultBitrateKbps: 328,
			BitrateStepKbps:    5,
			MaxSearchSteps:     1000,
		},
		Feeding: FeedingConfig{
			SampleRate:    44100,
			BitsPerSample: 16,
			Channels:      2,
			Mode:          FeedingSync,
		},
		Channels: ChannelsConfig{
			ControlSocket:  "/run/bluemedia/av_ctrl",
			DataSocket:     "/run/bluemedia/av_audio",
			WriteTimeoutMs: 250,
		},
		StartupTimeoutMs: 2000,
	}
}

// TickPeriod returns the effective tick interval.
func (c *Config) TickPeriod() time.Duration {
	return time.Duration(c.Tick.PeriodMs*c.Tick.Multiplier) * time.Millisecond
}

// StartupTimeout returns how long Start waits for the task loop.
func (c *Config) StartupTimeout() time.Duration {
	return time.Duration(c.StartupTimeoutMs) * time.Millisecond
}

// WriteTimeout returns the per-write socket deadline.
func (c *Config) WriteTimeout() time.Duration {
	return time.Duration(c.Channels.WriteTimeoutMs) * time.Millisecond
}
