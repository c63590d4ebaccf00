package drmioctl

import (
	"encoding/binary"
	"fmt"
	"testing"

	"golang.org/x/sys/unix"
)

func vblankRecord(typ uint32, userData uint64, sec, usec, seq, crtc uint32) []byte {
	rec := make([]byte, vblankEventSize)
	binary.NativeEndian.PutUint32(rec[0:], typ)
	binary.NativeEndian.PutUint32(rec[4:], vblankEventSize)
	binary.NativeEndian.PutUint64(rec[8:], userData)
	binary.NativeEndian.PutUint32(rec[16:], sec)
	binary.NativeEndian.PutUint32(rec[20:], usec)
	binary.NativeEndian.PutUint32(rec[24:], seq)
	binary.NativeEndian.PutUint32(rec[28:], crtc)
	return rec
}

func TestParseEventsKeepsOrder(t *testing.T) {
	var buf []byte
	buf = append(buf, vblankRecord(EventFlipComplete, 1, 10, 500, 100, 41)...)
	buf = append(buf, vblankRecord(EventVblank, 2, 10, 700, 101, 41)...)
	buf = append(buf, vblankRecord(EventFlipComplete, 3, 11, 0, 102, 41)...)

	events, err := ParseEvents(buf)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 3 {
		t.Fatalf("got %d events, want 3", len(events))
	}
	for i, want := range []uint64{1, 2, 3} {
		if events[i].UserData != want {
			t.Errorf("event %d user data = %d, want %d", i, events[i].UserData, want)
		}
	}
	if events[0].Type != EventFlipComplete || events[0].Sequence != 100 || events[0].Crtc != 41 {
		t.Errorf("unexpected first event %+v", events[0])
	}
	if events[0].Sec != 10 || events[0].Usec != 500 {
		t.Errorf("timestamp = %d.%06d, want 10.000500", events[0].Sec, events[0].Usec)
	}
}

func TestParseEventsSkipsUnknownTypes(t *testing.T) {
	unknown := make([]byte, 16)
	binary.NativeEndian.PutUint32(unknown[0:], 0x80000000)
	binary.NativeEndian.PutUint32(unknown[4:], 16)

	buf := append(unknown, vblankRecord(EventFlipComplete, 7, 0, 0, 1, 0)...)
	events, err := ParseEvents(buf)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 || events[0].UserData != 7 {
		t.Fatalf("got %+v, want the single flip event", events)
	}
}

func TestParseEventsRejectsTruncatedRecords(t *testing.T) {
	rec := vblankRecord(EventFlipComplete, 1, 0, 0, 0, 0)

	tests := []struct {
		name string
		buf  []byte
	}{
		{"short header", rec[:4]},
		{"length past end", rec[:20]},
		{"zero length", make([]byte, 8)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseEvents(tt.buf); err == nil {
				t.Error("expected an error")
			}
		})
	}
}

func TestRequestCodes(t *testing.T) {
	tests := []struct {
		name string
		got  uint32
		want uint32
	}{
		{"SET_MASTER", IOCTLSetMaster, 0x641e},
		{"DROP_MASTER", IOCTLDropMaster, 0x641f},
		{"PRIME_HANDLE_TO_FD", IOCTLPrimeHandleToFD, 0xc00c642d},
		{"MODE_PAGE_FLIP", IOCTLModePageFlip, 0xc01864b0},
		{"MODE_ADDFB2", IOCTLModeAddFB2, 0xc06864b8},
		{"DMA_BUF_SYNC", IOCTLDmaBufSync, 0x40086200},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s = %#x, want %#x", tt.name, tt.got, tt.want)
		}
	}
}

func TestAddFB2Fallback(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		retry   bool
		disable bool
	}{
		{"no ioctl", fmt.Errorf("DRM_IOCTL_MODE_ADDFB2 64x64: %w", unix.ENOTTY), true, true},
		{"not supported", unix.EOPNOTSUPP, true, true},
		{"rejected buffer", fmt.Errorf("DRM_IOCTL_MODE_ADDFB2 64x64: %w", unix.EINVAL), true, false},
		{"permission", unix.EACCES, false, false},
		{"no memory", unix.ENOMEM, false, false},
	}
	for _, tt := range tests {
		retry, disable := AddFB2Fallback(tt.err)
		if retry != tt.retry || disable != tt.disable {
			t.Errorf("%s: AddFB2Fallback() = %v, %v, want %v, %v", tt.name, retry, disable, tt.retry, tt.disable)
		}
	}
}
