package kmsgl

import (
	"errors"
	"testing"
)

type bridgeFixture struct {
	plat   *NullPlatform
	arena  *BufferArena
	gpu    *NullGPU
	bridge *ImportBridge
}

func newBridgeFixture(t *testing.T, plat *NullPlatform) *bridgeFixture {
	t.Helper()
	log := testLogger(t)

	alloc, err := plat.NewAllocator(nil, log)
	if err != nil {
		t.Fatalf("allocator: %v", err)
	}
	display, err := plat.CreateDisplay(alloc, log)
	if err != nil {
		t.Fatalf("display: %v", err)
	}
	gpu, err := plat.CreateContext(display, 2, log)
	if err != nil {
		t.Fatalf("context: %v", err)
	}
	arena := NewBufferArena(alloc, log)
	return &bridgeFixture{
		plat:   plat,
		arena:  arena,
		gpu:    plat.GPU(),
		bridge: NewImportBridge(display, gpu, arena, log),
	}
}

func TestCheckCapabilities(t *testing.T) {
	tests := []struct {
		missing []string
		want    string
	}{
		{nil, ""},
		{[]string{"EGL_KHR_platform_gbm"}, ""},
		{[]string{"EGL_KHR_platform_gbm", "EGL_MESA_platform_gbm"}, "platform-display"},
		{[]string{"EGL_KHR_image_base"}, "image-base"},
		{[]string{"EGL_EXT_image_dma_buf_import"}, "zero-copy-import"},
		{[]string{"GL_OES_EGL_image"}, "external-image-texture"},
	}

	for _, tt := range tests {
		f := newBridgeFixture(t, &NullPlatform{Missing: tt.missing})
		err := f.bridge.CheckCapabilities()
		if tt.want == "" {
			if err != nil {
				t.Errorf("missing %v: unexpected error %v", tt.missing, err)
			}
			continue
		}

		if !errors.Is(err, MissingExtension) {
			t.Errorf("missing %v: err = %v, want MissingExtension", tt.missing, err)
			continue
		}
		var missing *MissingExtensionError
		if !errors.As(err, &missing) || missing.Name != tt.want {
			t.Errorf("missing %v: got %v, want capability %q", tt.missing, err, tt.want)
		}
	}
}

func TestImportKeepsAllocationGeometry(t *testing.T) {
	f := newBridgeFixture(t, NewNullPlatform())

	for _, format := range []PixelFormat{XRGB8888, ARGB8888, RGB565} {
		id, err := f.arena.Allocate(333, 97, format, UsageScanout|UsageRendering)
		if err != nil {
			t.Fatalf("allocate %s: %v", format, err)
		}
		pb, _ := f.arena.Get(id)

		surface, err := f.bridge.ImportBuffer(id)
		if err != nil {
			t.Fatalf("import %s: %v", format, err)
		}
		if surface.Layout != pb.Layout {
			t.Errorf("%s: surface layout %+v, allocation %+v", format, surface.Layout, pb.Layout)
		}
		imported, ok := f.gpu.ImageLayout(surface.Image)
		if !ok || imported != pb.Layout {
			t.Errorf("%s: image imported with %+v, allocation %+v", format, imported, pb.Layout)
		}

		if err := f.arena.Free(id); !errors.Is(err, BufferStillReferenced) {
			t.Errorf("%s: free while imported: err = %v", format, err)
		}
		if err := f.bridge.Release(surface); err != nil {
			t.Fatalf("release: %v", err)
		}
		if err := f.bridge.Release(surface); err != nil {
			t.Fatalf("second release: %v", err)
		}
		if err := f.arena.Free(id); err != nil {
			t.Fatalf("free: %v", err)
		}
	}
	if n := f.gpu.Images(); n != 0 {
		t.Fatalf("%d images leaked", n)
	}
}

func TestImportFailureIsPerResource(t *testing.T) {
	f := newBridgeFixture(t, NewNullPlatform())
	f.gpu.failImport = true

	id, err := f.arena.Allocate(64, 64, XRGB8888, UsageScanout|UsageRendering)
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	_, err = f.bridge.ImportBuffer(id)
	if !errors.Is(err, ImportFailed) {
		t.Fatalf("err = %v, want ImportFailed", err)
	}
	if KindOf(err).Class() != FatalPerResource {
		t.Fatalf("class = %v", KindOf(err).Class())
	}
	if f.arena.Refs(id) != 0 {
		t.Fatalf("failed import kept a reference")
	}
}
