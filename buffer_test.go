package kmsgl

import (
	"errors"
	"testing"

	"golang.org/x/sys/unix"
)

func newTestArena(t *testing.T) (*BufferArena, *NullPlatform) {
	t.Helper()
	plat := NewNullPlatform()
	alloc, err := plat.NewAllocator(nil, testLogger(t))
	if err != nil {
		t.Fatalf("allocator: %v", err)
	}
	return NewBufferArena(alloc, testLogger(t)), plat
}

func TestArenaAllocateReadsLayoutBack(t *testing.T) {
	arena, _ := newTestArena(t)
	defer arena.Close()

	id, err := arena.Allocate(333, 200, XRGB8888, UsageScanout|UsageRendering)
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	pb, err := arena.Get(id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if pb.Layout.Width != 333 || pb.Layout.Height != 200 || pb.Layout.Format != XRGB8888 {
		t.Fatalf("unexpected layout %+v", pb.Layout)
	}
	// 333*4 rounded up to the allocator's alignment, not width*bpp.
	if pb.Layout.Stride != 1344 {
		t.Fatalf("stride = %d, want 1344", pb.Layout.Stride)
	}
	if err := arena.Free(id); err != nil {
		t.Fatalf("free: %v", err)
	}
}

func TestArenaAllocateFailures(t *testing.T) {
	arena, _ := newTestArena(t)
	defer arena.Close()

	tests := []struct {
		name   string
		w, h   int
		format PixelFormat
	}{
		{"zero width", 0, 10, XRGB8888},
		{"negative height", 10, -1, XRGB8888},
		{"unknown format", 10, 10, PixelFormat(0x20202020)},
	}
	for _, tt := range tests {
		_, err := arena.Allocate(tt.w, tt.h, tt.format, UsageScanout|UsageRendering)
		if !errors.Is(err, AllocationFailed) {
			t.Errorf("%s: err = %v, want AllocationFailed", tt.name, err)
		}
	}
	if arena.Len() != 0 {
		t.Fatalf("failed allocations left %d buffers", arena.Len())
	}
}

func TestExportHandleIsIndependent(t *testing.T) {
	arena, _ := newTestArena(t)
	defer arena.Close()

	id, err := arena.Allocate(64, 64, ARGB8888, UsageScanout|UsageRendering)
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}

	h1, err := arena.ExportHandle(id)
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	h2, err := arena.ExportHandle(id)
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if h1.FD == h2.FD {
		t.Fatalf("two exports returned the same descriptor %d", h1.FD)
	}

	if err := h1.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	var st unix.Stat_t
	if err := unix.Fstat(h2.FD, &st); err != nil {
		t.Fatalf("second handle unusable after closing the first: %v", err)
	}
	if err := h2.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := h2.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	if err := arena.Free(id); err != nil {
		t.Fatalf("free: %v", err)
	}
}

func TestUnregisterThenFree(t *testing.T) {
	arena, plat := newTestArena(t)
	defer arena.Close()
	log := testLogger(t)

	dev, err := plat.OpenDevice(NullDevicePath, log)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer dev.Close()

	id, err := arena.Allocate(640, 480, XRGB8888, UsageScanout|UsageRendering)
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	fb, err := RegisterFramebuffer(dev, arena, id, log)
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	if err := arena.Free(id); !errors.Is(err, BufferStillReferenced) {
		t.Fatalf("free before unregister: err = %v, want BufferStillReferenced", err)
	}
	if KindOf(arena.Free(id)).Class() != Precondition {
		t.Fatalf("expected a precondition failure")
	}

	if err := fb.Unregister(); err != nil {
		t.Fatalf("unregister: %v", err)
	}
	if err := fb.Unregister(); err != nil {
		t.Fatalf("second unregister: %v", err)
	}
	if err := arena.Free(id); err != nil {
		t.Fatalf("free after unregister: %v", err)
	}
	if err := arena.Free(id); !errors.Is(err, BufferNotFound) {
		t.Fatalf("second free: err = %v, want BufferNotFound", err)
	}
	if n := plat.Device().Framebuffers(); n != 0 {
		t.Fatalf("%d framebuffers left registered", n)
	}
}

func TestUnregisterFailureKeepsBufferAlive(t *testing.T) {
	arena, plat := newTestArena(t)
	defer arena.Close()
	log := testLogger(t)

	dev, err := plat.OpenDevice(NullDevicePath, log)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	id, err := arena.Allocate(640, 480, XRGB8888, UsageScanout|UsageRendering)
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	fb, err := RegisterFramebuffer(dev, arena, id, log)
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	plat.Device().failRemoveFB = true
	if err := fb.Unregister(); !errors.Is(err, unix.EBUSY) {
		t.Fatalf("unregister: err = %v, want EBUSY", err)
	}
	if arena.Refs(id) != 1 {
		t.Fatalf("refs = %d after a refused removal, want 1", arena.Refs(id))
	}
	if err := arena.Free(id); !errors.Is(err, BufferStillReferenced) {
		t.Fatalf("free: err = %v, want BufferStillReferenced", err)
	}

	plat.Device().failRemoveFB = false
	if err := fb.Unregister(); err != nil {
		t.Fatalf("retried unregister: %v", err)
	}
	if n := plat.Device().Framebuffers(); n != 0 {
		t.Fatalf("%d framebuffers left registered", n)
	}
	if err := arena.Free(id); err != nil {
		t.Fatalf("free after unregister: %v", err)
	}
}

func TestUnregisterAlreadyRemovedFramebuffer(t *testing.T) {
	arena, plat := newTestArena(t)
	defer arena.Close()
	log := testLogger(t)

	dev, err := plat.OpenDevice(NullDevicePath, log)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	id, err := arena.Allocate(640, 480, XRGB8888, UsageScanout|UsageRendering)
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	fb, err := RegisterFramebuffer(dev, arena, id, log)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := dev.RemoveFramebuffer(fb.ID); err != nil {
		t.Fatalf("remove: %v", err)
	}

	if err := fb.Unregister(); err != nil {
		t.Fatalf("unregister: %v", err)
	}
	if err := arena.Free(id); err != nil {
		t.Fatalf("free: %v", err)
	}
}

func TestRegisterFramebufferFailure(t *testing.T) {
	arena, plat := newTestArena(t)
	defer arena.Close()
	log := testLogger(t)

	dev, err := plat.OpenDevice(NullDevicePath, log)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	plat.Device().failAddFB = true

	id, err := arena.Allocate(640, 480, XRGB8888, UsageScanout|UsageRendering)
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if _, err := RegisterFramebuffer(dev, arena, id, log); !errors.Is(err, FramebufferRegistrationFailed) {
		t.Fatalf("err = %v, want FramebufferRegistrationFailed", err)
	}
	if arena.Refs(id) != 0 {
		t.Fatalf("failed registration kept a reference")
	}
	if _, err := RegisterFramebuffer(dev, arena, id+1, log); !errors.Is(err, BufferNotFound) {
		t.Fatalf("unknown buffer: err = %v, want BufferNotFound", err)
	}
}
