package modeinfo

import (
	"testing"

	"github.com/rmcsoft/godrm/mode"

	"github.com/rmcsoft/kmsgl"
)

func info(name string, w, h uint16, refresh, typ uint32) mode.Info {
	m := mode.Info{Hdisplay: w, Vdisplay: h, Vrefresh: refresh, Type: typ}
	copy(m.Name[:], name)
	return m
}

func TestMode(t *testing.T) {
	full := make([]byte, len(mode.Info{}.Name))
	for i := range full {
		full[i] = 'x'
	}
	tests := []struct {
		name string
		in   mode.Info
		want kmsgl.Mode
	}{
		{
			name: "preferred",
			in:   info("1920x1080", 1920, 1080, 60, typePreferred|0x40),
			want: kmsgl.Mode{Name: "1920x1080", Width: 1920, Height: 1080, Refresh: 60, Preferred: true},
		},
		{
			name: "driver mode",
			in:   info("1280x720", 1280, 720, 50, 0x40),
			want: kmsgl.Mode{Name: "1280x720", Width: 1280, Height: 720, Refresh: 50},
		},
		{
			name: "name fills the array",
			in:   info(string(full), 800, 600, 75, 0),
			want: kmsgl.Mode{Name: string(full), Width: 800, Height: 600, Refresh: 75},
		},
		{
			name: "empty name",
			in:   info("", 640, 480, 60, 0),
			want: kmsgl.Mode{Width: 640, Height: 480, Refresh: 60},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Mode(tt.in)
			raw, ok := got.Raw.(mode.Info)
			if !ok || raw != tt.in {
				t.Errorf("Raw = %#v, want the input record", got.Raw)
			}
			got.Raw = nil
			if got != tt.want {
				t.Errorf("Mode() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestConnector(t *testing.T) {
	hd := info("1920x1080", 1920, 1080, 60, typePreferred)
	vga := info("640x480", 640, 480, 60, 0)

	tests := []struct {
		name       string
		connection uint8
		modes      []mode.Info
		state      kmsgl.ConnectionState
	}{
		{"connected", connectionConnected, []mode.Info{hd, vga}, kmsgl.Connected},
		{"disconnected", connectionDisconnected, nil, kmsgl.Disconnected},
		{"unknown", 3, []mode.Info{vga}, kmsgl.UnknownConnection},
		{"zero", 0, nil, kmsgl.UnknownConnection},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := &mode.Connector{
				ID:         31,
				EncoderID:  30,
				Type:       11,
				Connection: tt.connection,
				Modes:      tt.modes,
				Encoders:   []uint32{30, 32},
			}
			got := Connector(in)

			if got.ID != 31 || got.EncoderID != 30 || got.Type != 11 {
				t.Errorf("ids = %d/%d/%d, want 31/30/11", got.ID, got.EncoderID, got.Type)
			}
			if got.State != tt.state {
				t.Errorf("State = %v, want %v", got.State, tt.state)
			}
			if len(got.Modes) != len(tt.modes) {
				t.Fatalf("got %d modes, want %d", len(got.Modes), len(tt.modes))
			}
			for i, m := range tt.modes {
				if got.Modes[i].Width != int(m.Hdisplay) || got.Modes[i].Height != int(m.Vdisplay) {
					t.Errorf("mode %d = %s, want %dx%d", i, got.Modes[i], m.Hdisplay, m.Vdisplay)
				}
			}
			if len(got.Encoders) != 2 || got.Encoders[0] != 30 || got.Encoders[1] != 32 {
				t.Errorf("Encoders = %v, want [30 32]", got.Encoders)
			}
			in.Encoders[0] = 99
			if got.Encoders[0] != 30 {
				t.Error("Encoders shares the godrm slice")
			}
		})
	}
}
