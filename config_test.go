package kmsgl

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, lines ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "kmsgl.yaml")
	if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}
	return path
}

func TestDefaultConfigValidates(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("expected defaults to validate, got %v", err)
	}
}

func TestLoadConfigMissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "none.yaml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Device != DefaultDevicePath || cfg.Buffers != 2 {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
}

func TestLoadConfigEmptyFileUsesDefaults(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, "# empty"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Format != "XRGB8888" {
		t.Fatalf("format = %q", cfg.Format)
	}
}

func TestLoadConfigOverrides(t *testing.T) {
	path := writeConfig(t,
		"device: /dev/dri/card1",
		"buffers: 3",
		"format: RGB565",
		"mode_policy: preferred",
		"gpu_sync: finish",
		"flip_timeout: 250ms",
		"restore_crtc: false",
		"clear_color: [0, 0, 1]",
		"log:",
		"  level: debug",
		"  format: json",
	)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Device != "/dev/dri/card1" || cfg.Buffers != 3 || cfg.RestoreCrtc {
		t.Fatalf("unexpected config %+v", cfg)
	}
	if cfg.FlipTimeout != 250*time.Millisecond {
		t.Fatalf("flip_timeout = %v", cfg.FlipTimeout)
	}
	if cfg.DrainTimeout != defaultDrainTimeout {
		t.Fatalf("drain_timeout not defaulted: %v", cfg.DrainTimeout)
	}

	s, err := cfg.settings()
	if err != nil {
		t.Fatalf("settings: %v", err)
	}
	if s.format != RGB565 || s.modePolicy != ModePreferred || s.gpuSync != SyncFinish {
		t.Fatalf("unexpected settings %+v", s)
	}
	if s.clearColor != (Color{B: 1, A: 1}) {
		t.Fatalf("clear color = %+v", s.clearColor)
	}
}

func TestLoadConfigRejects(t *testing.T) {
	tests := []struct {
		name string
		line string
	}{
		{"unknown key", "buffer_count: 2"},
		{"too many buffers", "buffers: 4"},
		{"no buffers", "buffers: 0"},
		{"format", "format: NV12"},
		{"policy", "mode_policy: largest"},
		{"sync", "gpu_sync: sometimes"},
		{"gles", "gles_version: 1"},
		{"allocator", "allocator: ion"},
		{"clear color", "clear_color: [1, 1]"},
		{"log level", "log: {level: loud}"},
	}
	for _, tt := range tests {
		if _, err := LoadConfig(writeConfig(t, tt.line)); err == nil {
			t.Errorf("%s: expected %q to be rejected", tt.name, tt.line)
		}
	}
}

func TestNewLogger(t *testing.T) {
	var b strings.Builder
	log, err := NewLogger(LogConfig{Level: "warn", Format: "json"}, &b)
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	log.Info("hidden")
	log.WithField("slot", 1).Warn("shown")

	out := b.String()
	if strings.Contains(out, "hidden") || !strings.Contains(out, `"slot":1`) {
		t.Fatalf("unexpected output %q", out)
	}
	if _, err := NewLogger(LogConfig{Format: "xml"}, &b); err == nil {
		t.Fatalf("expected an error for an unknown format")
	}
}
