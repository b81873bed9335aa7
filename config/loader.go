package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"slices"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// SupportedSampleRates lists the PCM rates the feeding stage can convert.
var SupportedSampleRates = []int{8000, 11025, 12000, 16000, 22050, 24000, 32000, 44100, 48000}

// minBufferSize leaves room for the media headers plus one small frame.
const minBufferSize = 64

// Load reads the YAML configuration file at path and returns a validated
// Config. Fields missing from the file keep their Default values.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r on top of Default and
// validates the result. Unknown keys are rejected.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if _, err := logrus.ParseLevel(cfg.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("log_level %q is invalid; valid values: trace, debug, info, warn, error", cfg.LogLevel))
	}

	// Tick
	if cfg.Tick.PeriodMs <= 0 {
		errs = append(errs, fmt.Errorf("tick.period_ms must be positive, got %d", cfg.Tick.PeriodMs))
	}
	if cfg.Tick.Multiplier < 1 {
		errs = append(errs, fmt.Errorf("tick.multiplier must be at least 1, got %d", cfg.Tick.Multiplier))
	}
	if cfg.Tick.MaxFramesPerTick < 1 {
		errs = append(errs, fmt.Errorf("tick.max_frames_per_tick must be at least 1, got %d", cfg.Tick.MaxFramesPerTick))
	}

	// Queue
	if cfg.Queue.MaxDepth < 1 {
		errs = append(errs, fmt.Errorf("queue.max_depth must be at least 1, got %d", cfg.Queue.MaxDepth))
	}
	if cfg.Queue.PoolBuffers < 1 {
		errs = append(errs, fmt.Errorf("queue.pool_buffers must be at least 1, got %d", cfg.Queue.PoolBuffers))
	}
	if cfg.Queue.BufferSize < minBufferSize {
		errs = append(errs, fmt.Errorf("queue.buffer_size %d is below the minimum of %d", cfg.Queue.BufferSize, minBufferSize))
	}

	// Media
	if cfg.Media.PayloadType < 96 || cfg.Media.PayloadType > 127 {
		errs = append(errs, fmt.Errorf("media.payload_type %d is outside the dynamic range [96, 127]", cfg.Media.PayloadType))
	}

	// Encoder
	if cfg.Encoder.DefaultBitrateKbps <= 0 {
		errs = append(errs, fmt.Errorf("encoder.default_bitrate_kbps must be positive, got %d", cfg.Encoder.DefaultBitrateKbps))
	}
	if cfg.Encoder.BitrateStepKbps <= 0 {
		errs = append(errs, fmt.Errorf("encoder.bitrate_step_kbps must be positive, got %d", cfg.Encoder.BitrateStepKbps))
	}
	if cfg.Encoder.MaxSearchSteps < 0 {
		errs = append(errs, fmt.Errorf("encoder.max_search_steps must not be negative, got %d", cfg.Encoder.MaxSearchSteps))
	}

	// Feeding
	if !slices.Contains(SupportedSampleRates, cfg.Feeding.SampleRate) {
		errs = append(errs, fmt.Errorf("feeding.sample_rate %d is unsupported; valid values: %v", cfg.Feeding.SampleRate, SupportedSampleRates))
	}
	if cfg.Feeding.BitsPerSample != 8 && cfg.Feeding.BitsPerSample != 16 {
		errs = append(errs, fmt.Errorf("feeding.bits_per_sample %d is unsupported; valid values: 8, 16", cfg.Feeding.BitsPerSample))
	}
	if cfg.Feeding.Channels != 1 && cfg.Feeding.Channels != 2 {
		errs = append(errs, fmt.Errorf("feeding.channels %d is unsupported; valid values: 1, 2", cfg.Feeding.Channels))
	}
	if !cfg.Feeding.Mode.IsValid() {
		errs = append(errs, fmt.Errorf("feeding.mode %q is invalid; valid values: sync, async", cfg.Feeding.Mode))
	}

	// Channels
	if cfg.Channels.ControlSocket == "" {
		errs = append(errs, errors.New("channels.control_socket is required"))
	}
	if cfg.Channels.DataSocket == "" {
		errs = append(errs, errors.New("channels.data_socket is required"))
	}
	if cfg.Channels.ControlSocket != "" && cfg.Channels.ControlSocket == cfg.Channels.DataSocket {
		errs = append(errs, fmt.Errorf("channels.control_socket and channels.data_socket must differ, both are %q", cfg.Channels.DataSocket))
	}
	if cfg.Channels.WriteTimeoutMs <= 0 {
		errs = append(errs, fmt.Errorf("channels.write_timeout_ms must be positive, got %d", cfg.Channels.WriteTimeoutMs))
	}

	if cfg.StartupTimeoutMs <= 0 {
		errs = append(errs, fmt.Errorf("startup_timeout_ms must be positive, got %d", cfg.StartupTimeoutMs))
	}

	return errors.Join(errs...)
}

// ApplyLogging sets the global logrus level from cfg.LogLevel.
func ApplyLogging(cfg *Config) error {
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("config: log level: %w", err)
	}
	logrus.SetLevel(level)
	logrus.WithFields(logrus.Fields{
		"function": "ApplyLogging",
		"level":    level.String(),
	}).Debug("Log level applied")
	return nil
}
