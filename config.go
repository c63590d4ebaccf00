package kmsgl

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultDevicePath is the first DRM card node.
const DefaultDevicePath = "/dev/dri/card0"

// LogConfig selects the log level and output format.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Config is the pipeline configuration file.
type Config struct {
	Device string `yaml:"device"`
	// Allocator selects the buffer backend: "gbm" or "dumb".
	Allocator   string        `yaml:"allocator"`
	Buffers     int           `yaml:"buffers"`
	Format      string        `yaml:"format"`
	ModePolicy  string        `yaml:"mode_policy"`
	GPUSync     string        `yaml:"gpu_sync"`
	GLESVersion int           `yaml:"gles_version"`
	Frames      uint64        `yaml:"frames"`
	FlipTimeout time.Duration `yaml:"flip_timeout"`
	// DrainTimeout bounds the wait for the last flip on shutdown.
	DrainTimeout time.Duration `yaml:"drain_timeout"`
	RetryDelay   time.Duration `yaml:"retry_delay"`
	RestoreCrtc  bool          `yaml:"restore_crtc"`
	ClearColor   []float32     `yaml:"clear_color"`
	Log          LogConfig     `yaml:"log"`
}

// settings are the parsed values of a Config.
type settings struct {
	format     PixelFormat
	modePolicy ModePolicy
	gpuSync    SyncMode
	clearColor Color
}

// DefaultConfig returns the configuration used when no file is given: a
// double-buffered XRGB8888 chain on card0.
func DefaultConfig() Config {
	return Config{
		Device:       DefaultDevicePath,
		Allocator:    "gbm",
		Buffers:      2,
		Format:       XRGB8888.String(),
		ModePolicy:   ModeFirst.String(),
		GPUSync:      SyncFence.String(),
		GLESVersion:  2,
		FlipTimeout:  defaultFlipTimeout,
		DrainTimeout: defaultDrainTimeout,
		RetryDelay:   defaultRetryDelay,
		RestoreCrtc:  true,
		ClearColor:   []float32{0.5, 0.5, 0.5, 1},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// LoadConfig reads path over DefaultConfig and validates the result. A
// missing file yields the defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return cfg, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks every field.
func (c Config) Validate() error {
	_, err := c.settings()
	return err
}

func (c Config) settings() (settings, error) {
	var s settings
	var err error

	if c.Device == "" {
		return s, errors.New("device: empty path")
	}
	switch c.Allocator {
	case "gbm", "dumb":
	default:
		return s, fmt.Errorf("allocator: unknown backend %q", c.Allocator)
	}
	if c.Buffers < 1 || c.Buffers > 3 {
		return s, fmt.Errorf("buffers: %d not in [1, 3]", c.Buffers)
	}
	if s.format, err = ParsePixelFormat(c.Format); err != nil {
		return s, fmt.Errorf("format: %w", err)
	}
	if s.modePolicy, err = ParseModePolicy(c.ModePolicy); err != nil {
		return s, fmt.Errorf("mode_policy: %w", err)
	}
	if s.gpuSync, err = ParseSyncMode(c.GPUSync); err != nil {
		return s, fmt.Errorf("gpu_sync: %w", err)
	}
	if c.GLESVersion != 2 && c.GLESVersion != 3 {
		return s, fmt.Errorf("gles_version: %d not supported", c.GLESVersion)
	}
	if c.FlipTimeout < 0 || c.DrainTimeout < 0 || c.RetryDelay < 0 {
		return s, errors.New("timeouts must not be negative")
	}

	switch len(c.ClearColor) {
	case 3:
		s.clearColor = Color{R: c.ClearColor[0], G: c.ClearColor[1], B: c.ClearColor[2], A: 1}
	case 4:
		s.clearColor = Color{R: c.ClearColor[0], G: c.ClearColor[1], B: c.ClearColor[2], A: c.ClearColor[3]}
	default:
		return s, fmt.Errorf("clear_color: want 3 or 4 components, got %d", len(c.ClearColor))
	}

	if _, err := ParseLogFormat(c.Log.Format); err != nil {
		return s, fmt.Errorf("log.format: %w", err)
	}
	if _, err := ParseLogLevel(c.Log.Level); err != nil {
		return s, fmt.Errorf("log.level: %w", err)
	}
	return s, nil
}
