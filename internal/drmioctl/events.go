package drmioctl

import (
	"encoding/binary"
	"fmt"
)

// Event types carried in struct drm_event.
const (
	EventVblank       = 0x01
	EventFlipComplete = 0x02
	EventCrtcSequence = 0x03
)

const (
	eventHeaderSize = 8
	vblankEventSize = 32
)

// Event is a decoded struct drm_event_vblank. Crtc is zero on kernels that
// predate DRM_CAP_CRTC_IN_VBLANK_EVENT.
type Event struct {
	Type     uint32
	UserData uint64
	Sec      uint32
	Usec     uint32
	Sequence uint32
	Crtc     uint32
}

// ParseEvents decodes the events read from a DRM descriptor in one read(2).
// Events of unknown type are skipped; a truncated record is an error.
func ParseEvents(buf []byte) ([]Event, error) {
	var events []Event
	for off := 0; off < len(buf); {
		if len(buf)-off < eventHeaderSize {
			return events, fmt.Errorf("drm event: truncated header at offset %d", off)
		}
		typ := binary.NativeEndian.Uint32(buf[off:])
		length := int(binary.NativeEndian.Uint32(buf[off+4:]))
		if length < eventHeaderSize || off+length > len(buf) {
			return events, fmt.Errorf("drm event: bad length %d at offset %d", length, off)
		}
		rec := buf[off : off+length]
		switch typ {
		case EventVblank, EventFlipComplete:
			if length < vblankEventSize {
				return events, fmt.Errorf("drm event: short vblank record (%d bytes)", length)
			}
			events = append(events, Event{
				Type:     typ,
				UserData: binary.NativeEndian.Uint64(rec[8:]),
				Sec:      binary.NativeEndian.Uint32(rec[16:]),
				Usec:     binary.NativeEndian.Uint32(rec[20:]),
				Sequence: binary.NativeEndian.Uint32(rec[24:]),
				Crtc:     binary.NativeEndian.Uint32(rec[28:]),
			})
		}
		off += length
	}
	return events, nil
}
