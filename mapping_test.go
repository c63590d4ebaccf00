package kmsgl

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"golang.org/x/sys/unix"
)

func readBack(t *testing.T, arena *BufferArena, id BufferID, off int64, n int) []byte {
	t.Helper()
	h, err := arena.ExportHandle(id)
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	defer h.Close()
	buf := make([]byte, n)
	if _, err := unix.Pread(h.FD, buf, off); err != nil {
		t.Fatalf("pread: %v", err)
	}
	return buf
}

func TestMapWritesReachBuffer(t *testing.T) {
	arena, _ := newTestArena(t)
	defer arena.Close()

	id, err := arena.Allocate(100, 8, XRGB8888, UsageRendering|UsageMapping)
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	m, err := arena.Map(id)
	if err != nil {
		t.Fatalf("map: %v", err)
	}
	if arena.Refs(id) != 1 {
		t.Fatalf("refs = %d, want 1 while mapped", arena.Refs(id))
	}
	if len(m.Row(7)) != 400 {
		t.Fatalf("row length = %d, want 400", len(m.Row(7)))
	}

	if err := m.BeginAccess(true); err != nil {
		t.Fatalf("begin access: %v", err)
	}
	copy(m.Row(1), []byte{1, 2, 3, 4})
	if err := m.EndAccess(); err != nil {
		t.Fatalf("end access: %v", err)
	}

	got := readBack(t, arena, id, int64(m.Layout.Stride), 4)
	if string(got) != string([]byte{1, 2, 3, 4}) {
		t.Fatalf("buffer holds %v at row 1", got)
	}

	if err := arena.Free(id); !errors.Is(err, BufferStillReferenced) {
		t.Fatalf("free while mapped: %v, want BufferStillReferenced", err)
	}
	if err := arena.Unmap(m); err != nil {
		t.Fatalf("unmap: %v", err)
	}
	if err := arena.Unmap(m); err != nil {
		t.Fatalf("second unmap: %v", err)
	}
	if m.Pixels() != nil {
		t.Fatal("pixels still reachable after unmap")
	}
	if err := arena.Free(id); err != nil {
		t.Fatalf("free: %v", err)
	}
}

func TestMapUnknownBuffer(t *testing.T) {
	arena, _ := newTestArena(t)
	defer arena.Close()

	if _, err := arena.Map(42); !errors.Is(err, BufferNotFound) {
		t.Fatalf("err = %v, want BufferNotFound", err)
	}
}

func TestMappingAccessBracketing(t *testing.T) {
	arena, _ := newTestArena(t)
	defer arena.Close()

	id, err := arena.Allocate(16, 16, XRGB8888, UsageMapping)
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	m, err := arena.Map(id)
	if err != nil {
		t.Fatalf("map: %v", err)
	}

	if err := m.EndAccess(); err == nil {
		t.Fatal("end access without begin succeeded")
	}
	if err := m.BeginAccess(false); err != nil {
		t.Fatalf("begin read access: %v", err)
	}
	if err := m.BeginAccess(true); err == nil || !strings.Contains(err.Error(), "read access") {
		t.Fatalf("nested begin: %v, want read access in progress", err)
	}

	// Unmap ends the open access.
	if err := arena.Unmap(m); err != nil {
		t.Fatalf("unmap: %v", err)
	}
	if err := m.BeginAccess(true); err == nil {
		t.Fatal("begin access after unmap succeeded")
	}
	if err := arena.Free(id); err != nil {
		t.Fatalf("free: %v", err)
	}
}

func TestCheckerSlides(t *testing.T) {
	arena, _ := newTestArena(t)
	defer arena.Close()

	id, err := arena.Allocate(256, 128, XRGB8888, UsageMapping)
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	m, err := arena.Map(id)
	if err != nil {
		t.Fatalf("map: %v", err)
	}
	defer arena.Unmap(m)

	pixel := func(x, y int) byte {
		return m.Row(y)[x*4]
	}
	fill := Checker(4)

	tests := []struct {
		frame uint64
		x, y  int
		want  byte
	}{
		{0, 0, 0, 0x00},
		{0, 64, 0, 0xff},
		{0, 0, 64, 0xff},
		{0, 64, 64, 0x00},
		// Half a period slides the pattern by one square.
		{2, 0, 0, 0xff},
		{2, 64, 0, 0x00},
		{4, 0, 0, 0x00},
		{5, 31, 0, 0x00},
		{5, 32, 0, 0xff},
	}
	for _, tt := range tests {
		if err := fill(m, tt.frame); err != nil {
			t.Fatalf("fill frame %d: %v", tt.frame, err)
		}
		if got := pixel(tt.x, tt.y); got != tt.want {
			t.Errorf("frame %d pixel (%d,%d) = %#x, want %#x", tt.frame, tt.x, tt.y, got, tt.want)
		}
	}
}

func TestStreamSceneRewritesTextureEveryFrame(t *testing.T) {
	plat := NewNullPlatform()
	cfg := testConfig()
	cfg.Frames = 3
	p := openTestPipeline(t, cfg, plat)

	tex, err := p.NewStreamTexture(128, 64)
	if err != nil {
		t.Fatalf("stream texture: %v", err)
	}
	if tex.Layout().Width != 128 || tex.Layout().Height != 64 {
		t.Fatalf("layout = %+v", tex.Layout())
	}

	var frames []uint64
	scene := &StreamScene{
		Program: testScene(t, p).Program,
		Mesh:    testTriangle,
		Texture: tex,
		Fill: func(m *Mapping, frame uint64) error {
			frames = append(frames, frame)
			m.Row(0)[0] = byte(frame)
			return nil
		},
	}
	if err := p.Run(context.Background(), scene); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(frames) != 3 {
		t.Fatalf("filled %d frames, want 3", len(frames))
	}

	want := fmt.Sprintf("texture %d", tex.Texture())
	draws := 0
	for _, op := range plat.GPU().Ops() {
		if strings.HasPrefix(op, "draw ") {
			draws++
			if !strings.HasSuffix(op, want) {
				t.Errorf("draw %q does not sample %s", op, want)
			}
		}
	}
	if draws != 3 {
		t.Fatalf("%d draws, want 3", draws)
	}

	if err := p.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if plat.LiveBuffers() != 0 {
		t.Fatalf("%d buffers left after close", plat.LiveBuffers())
	}
	if plat.GPU().Images() != 0 {
		t.Fatalf("%d images left after close", plat.GPU().Images())
	}
}

func TestStreamSceneFillErrorStopsFrame(t *testing.T) {
	plat := NewNullPlatform()
	p := openTestPipeline(t, testConfig(), plat)
	defer p.Close()

	tex, err := p.NewStreamTexture(32, 32)
	if err != nil {
		t.Fatalf("stream texture: %v", err)
	}
	errFill := errors.New("no pixels")
	scene := &StreamScene{
		Program: testScene(t, p).Program,
		Mesh:    testTriangle,
		Texture: tex,
		Fill: func(m *Mapping, frame uint64) error {
			return errFill
		},
	}
	if err := scene.Draw(p.Renderer(), 0); !errors.Is(err, errFill) {
		t.Fatalf("draw: %v, want fill error", err)
	}
	// The failed fill still closed its access.
	if err := tex.Update(func(m *Mapping) error { return nil }); err != nil {
		t.Fatalf("update after failed fill: %v", err)
	}
}
