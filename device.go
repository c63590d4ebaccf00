package kmsgl

import (
	"context"
	"fmt"
	"os"
	"time"
)

// ConnectionState is the physical state of a connector.
type ConnectionState int

const (
	Connected ConnectionState = iota + 1
	Disconnected
	UnknownConnection
)

func (s ConnectionState) String() string {
	switch s {
	case Connected:
		return "connected"
	case Disconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// Mode is a display timing. Raw is the kernel's mode descriptor and is handed
// back verbatim on mode-set.
type Mode struct {
	Name      string
	Width     int
	Height    int
	Refresh   int
	Preferred bool
	Raw       interface{}
}

func (m Mode) String() string {
	return fmt.Sprintf("%dx%d@%d", m.Width, m.Height, m.Refresh)
}

// Connector is a physical output as seen at enumeration time.
type Connector struct {
	ID        uint32
	Type      uint32
	State     ConnectionState
	EncoderID uint32
	Encoders  []uint32
	Modes     []Mode
}

// Encoder links connectors to the CRTCs that can drive them.
type Encoder struct {
	ID uint32
	// CrtcID is the currently bound CRTC, zero if none.
	CrtcID uint32
	// PossibleCrtcs is a bitmask of indices into Resources.Crtcs.
	PossibleCrtcs uint32
}

// Crtc is a scanout pipeline.
type Crtc struct {
	ID            uint32
	FramebufferID uint32
}

// Resources is a snapshot of the display resources of a device.
type Resources struct {
	Connectors []Connector
	Encoders   []Encoder
	Crtcs      []Crtc
}

func (r *Resources) encoder(id uint32) (Encoder, bool) {
	for _, e := range r.Encoders {
		if e.ID == id {
			return e, true
		}
	}
	return Encoder{}, false
}

// CrtcState is the configuration of a CRTC read back from the device, used to
// restore the console on exit.
type CrtcState struct {
	Crtc          uint32
	FramebufferID uint32
	X, Y          uint32
	Mode          *Mode
}

// FlipEvent reports that a queued page flip reached the screen.
type FlipEvent struct {
	Crtc     uint32
	Sequence uint32
	Time     time.Duration
	UserData uint64
}

// Device is an exclusively owned display-control device. All methods are
// called from a single goroutine.
type Device interface {
	Path() string
	Enumerate() (*Resources, error)
	Crtc(id uint32) (CrtcState, error)
	AddFramebuffer(layout Layout, handle uint32) (uint32, error)
	RemoveFramebuffer(fbID uint32) error
	// SetCrtc is the blocking mode-set commit.
	SetCrtc(crtcID, fbID uint32, connectors []uint32, mode *Mode) error
	// PageFlip queues a non-blocking flip that completes with a FlipEvent.
	PageFlip(crtcID, fbID uint32, userData uint64) error
	// WaitFlip blocks until the next flip completion, timeout or ctx is done.
	WaitFlip(ctx context.Context, timeout time.Duration) (FlipEvent, error)
	Close() error
}

// OpenDeviceFile opens a device node for read/write. A missing node or a
// denied open is DeviceUnavailable.
func OpenDeviceFile(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, NewError(DeviceUnavailable, "open", path, err)
	}
	return f, nil
}
