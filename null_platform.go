package kmsgl

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// NullDevicePath is the device path the null platform accepts.
const NullDevicePath = "null"

const (
	nullStrideAlign      = 64
	nullMaxVertexAttribs = 16
)

// NullPlatform simulates the display hardware: a device that completes page
// flips in submission order, memfd-backed buffers and a GPU that records the
// commands it receives. It renders nothing.
type NullPlatform struct {
	// Resources are reported by Enumerate. Nil means one connected output
	// with a 1920x1080 and a 1280x720 mode.
	Resources *Resources
	// Missing removes extensions from the advertised lists.
	Missing []string
	// NoFenceSync hides fence support.
	NoFenceSync bool
	// Refresh is the simulated vblank period.
	Refresh time.Duration

	failImport bool
	failAddFB  bool

	mu          sync.Mutex
	device      *NullDevice
	allocator   *nullAllocator
	gpu         *NullGPU
	allocations int
}

// NewNullPlatform returns a null platform with the default output.
func NewNullPlatform() *NullPlatform {
	return &NullPlatform{}
}

// DefaultNullResources returns the resources of the default simulated card.
func DefaultNullResources() *Resources {
	return &Resources{
		Connectors: []Connector{{
			ID:        40,
			Type:      11, // HDMI-A
			State:     Connected,
			EncoderID: 39,
			Encoders:  []uint32{39},
			Modes: []Mode{
				{Name: "1920x1080", Width: 1920, Height: 1080, Refresh: 60, Preferred: true},
				{Name: "1280x720", Width: 1280, Height: 720, Refresh: 60},
			},
		}},
		Encoders: []Encoder{{ID: 39, CrtcID: 38, PossibleCrtcs: 1}},
		Crtcs:    []Crtc{{ID: 38, FramebufferID: 1}},
	}
}

// Device returns the last device opened, nil if none.
func (p *NullPlatform) Device() *NullDevice {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.device
}

// GPU returns the last context created, nil if none.
func (p *NullPlatform) GPU() *NullGPU {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.gpu
}

// Allocations returns the number of buffer allocations attempted.
func (p *NullPlatform) Allocations() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.allocations
}

// OpenDevice implements Platform. Only NullDevicePath opens; any other path
// fails like a missing node.
func (p *NullPlatform) OpenDevice(path string, log logrus.FieldLogger) (Device, error) {
	if path != NullDevicePath {
		return nil, NewError(DeviceUnavailable, "open", path, unix.ENOENT)
	}

	res := p.Resources
	if res == nil {
		res = DefaultNullResources()
	}
	refresh := p.Refresh
	if refresh <= 0 {
		refresh = time.Second / 60
	}

	dev := &NullDevice{
		path:      path,
		resources: res,
		refresh:   refresh,
		fbs:       make(map[uint32]Layout),
		nextFB:    100,
		crtcs:     make(map[uint32]CrtcState),
		console:   make(map[uint32]bool),
		failAddFB: p.failAddFB,
		log:       log,
	}
	for _, c := range res.Crtcs {
		st := CrtcState{Crtc: c.ID, FramebufferID: c.FramebufferID}
		if c.FramebufferID != 0 {
			dev.console[c.FramebufferID] = true
		}
		if c.FramebufferID != 0 && len(res.Connectors) > 0 && len(res.Connectors[0].Modes) > 0 {
			m := res.Connectors[0].Modes[0]
			st.Mode = &m
		}
		dev.crtcs[c.ID] = st
	}

	p.mu.Lock()
	p.device = dev
	p.mu.Unlock()

	log.WithField("device", path).Info("Null device opened")
	return dev, nil
}

// NewAllocator implements Platform.
func (p *NullPlatform) NewAllocator(dev Device, log logrus.FieldLogger) (BufferAllocator, error) {
	a := &nullAllocator{platform: p}
	p.mu.Lock()
	p.allocator = a
	p.mu.Unlock()
	return a, nil
}

// LiveBuffers returns the number of buffers allocated and not yet destroyed.
func (p *NullPlatform) LiveBuffers() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.allocator == nil {
		return 0
	}
	return p.allocator.live
}

// CreateDisplay implements Platform.
func (p *NullPlatform) CreateDisplay(alloc BufferAllocator, log logrus.FieldLogger) (RenderDisplay, error) {
	if _, ok := alloc.(*nullAllocator); !ok {
		return nil, NewError(DisplayCreationFailed, "create display", "", errors.New("allocator is not a null allocator"))
	}
	exts := p.filter([]string{
		"EGL_KHR_platform_gbm",
		"EGL_MESA_platform_gbm",
		"EGL_KHR_image_base",
		"EGL_EXT_image_dma_buf_import",
		"EGL_KHR_fence_sync",
		"EGL_KHR_surfaceless_context",
		"EGL_KHR_no_config_context",
	})
	return &nullDisplay{extensions: exts}, nil
}

// CreateContext implements Platform.
func (p *NullPlatform) CreateContext(display RenderDisplay, version int, log logrus.FieldLogger) (GPU, error) {
	d, ok := display.(*nullDisplay)
	if !ok || d.terminated {
		return nil, NewError(ContextCreationFailed, "create context", "", errors.New("no null display"))
	}
	if version != 2 && version != 3 {
		return nil, NewError(ContextCreationFailed, "create context", fmt.Sprintf("GLES %d", version), nil)
	}

	gpu := &NullGPU{
		extensions: p.filter([]string{"GL_OES_EGL_image", "GL_OES_EGL_image_external"}),
		fence:      !p.NoFenceSync,
		failImport: p.failImport,
		images:     make(map[ImageHandle]Layout),
		targets:    make(map[TargetHandle]ImageHandle),
		programs:   make(map[ProgramHandle]bool),
	}

	p.mu.Lock()
	p.gpu = gpu
	p.mu.Unlock()
	return gpu, nil
}

func (p *NullPlatform) filter(exts []string) []string {
	var out []string
	for _, e := range exts {
		missing := false
		for _, m := range p.Missing {
			if e == m {
				missing = true
				break
			}
		}
		if !missing {
			out = append(out, e)
		}
	}
	return out
}

// NullDevice is a simulated display device. Flips complete one refresh
// period after they are queued, in submission order.
type NullDevice struct {
	path      string
	resources *Resources
	refresh   time.Duration
	log       logrus.FieldLogger

	fbs     map[uint32]Layout
	nextFB  uint32
	crtcs   map[uint32]CrtcState
	console map[uint32]bool
	pending []FlipEvent
	seq     uint32
	clock   time.Duration
	closed  bool

	// failures to inject
	rejectFlips  int
	stallFlips   bool
	failModeSet  bool
	failAddFB    bool
	failRemoveFB bool
	enumerations int
}

// Path implements Device.
func (d *NullDevice) Path() string {
	return d.path
}

// Enumerate implements Device.
func (d *NullDevice) Enumerate() (*Resources, error) {
	if d.closed {
		return nil, NewError(EnumerationFailed, "enumerate", d.path, unix.EBADF)
	}
	d.enumerations++
	res := *d.resources
	return &res, nil
}

// Crtc implements Device.
func (d *NullDevice) Crtc(id uint32) (CrtcState, error) {
	st, ok := d.crtcs[id]
	if !ok {
		return CrtcState{}, fmt.Errorf("crtc %d: %w", id, unix.ENOENT)
	}
	return st, nil
}

// AddFramebuffer implements Device.
func (d *NullDevice) AddFramebuffer(layout Layout, handle uint32) (uint32, error) {
	if d.failAddFB || handle == 0 {
		return 0, unix.EINVAL
	}
	if int(layout.Stride) < layout.Width*layout.Format.PixelSize() {
		return 0, unix.EINVAL
	}
	id := d.nextFB
	d.nextFB++
	d.fbs[id] = layout
	return id, nil
}

// RemoveFramebuffer implements Device.
func (d *NullDevice) RemoveFramebuffer(fbID uint32) error {
	if d.failRemoveFB {
		return unix.EBUSY
	}
	if _, ok := d.fbs[fbID]; !ok {
		return unix.ENOENT
	}
	delete(d.fbs, fbID)
	return nil
}

// Framebuffers returns the number of registered framebuffers.
func (d *NullDevice) Framebuffers() int {
	return len(d.fbs)
}

// SetCrtc implements Device.
func (d *NullDevice) SetCrtc(crtcID, fbID uint32, connectors []uint32, mode *Mode) error {
	if d.failModeSet {
		return unix.EINVAL
	}
	st, ok := d.crtcs[crtcID]
	if !ok {
		return unix.ENOENT
	}
	if _, ok := d.fbs[fbID]; !ok && !d.console[fbID] {
		return unix.ENOENT
	}
	st.FramebufferID = fbID
	st.Mode = mode
	d.crtcs[crtcID] = st
	return nil
}

// PageFlip implements Device. A second flip while one is pending is rejected
// with EBUSY, like the kernel does.
func (d *NullDevice) PageFlip(crtcID, fbID uint32, userData uint64) error {
	if d.rejectFlips > 0 {
		d.rejectFlips--
		return unix.EBUSY
	}
	if len(d.pending) > 0 {
		return unix.EBUSY
	}
	st, ok := d.crtcs[crtcID]
	if !ok || st.Mode == nil {
		return unix.EINVAL
	}
	if _, ok := d.fbs[fbID]; !ok {
		return unix.ENOENT
	}

	d.seq++
	d.clock += d.refresh
	d.pending = append(d.pending, FlipEvent{
		Crtc:     crtcID,
		Sequence: d.seq,
		Time:     d.clock,
		UserData: userData,
	})
	st.FramebufferID = fbID
	d.crtcs[crtcID] = st
	return nil
}

// WaitFlip implements Device.
func (d *NullDevice) WaitFlip(ctx context.Context, timeout time.Duration) (FlipEvent, error) {
	if len(d.pending) == 0 || d.stallFlips {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return FlipEvent{}, ctx.Err()
		case <-timer.C:
			return FlipEvent{}, NewError(FlipTimeout, "wait flip", d.path, nil)
		}
	}
	if err := ctx.Err(); err != nil {
		return FlipEvent{}, err
	}
	ev := d.pending[0]
	d.pending = d.pending[1:]
	return ev, nil
}

// Close implements Device.
func (d *NullDevice) Close() error {
	if d.closed {
		return nil
	}
	d.closed = true
	d.log.WithField("device", d.path).Info("Null device closed")
	return nil
}

// Closed reports whether Close was called.
func (d *NullDevice) Closed() bool {
	return d.closed
}

type nullAllocator struct {
	platform *NullPlatform
	handle   uint32
	live     int
}

func (a *nullAllocator) Allocate(width, height int, format PixelFormat, usage Usage) (BufferObject, error) {
	a.platform.mu.Lock()
	a.platform.allocations++
	a.platform.mu.Unlock()

	if format.PixelSize() == 0 {
		return nil, fmt.Errorf("format %s not supported", format)
	}
	if !usage.Has(UsageScanout) && !usage.Has(UsageRendering) {
		return nil, errors.New("no usage")
	}

	stride := (width*format.PixelSize() + nullStrideAlign - 1) &^ (nullStrideAlign - 1)
	fd, err := unix.MemfdCreate("kmsgl-buffer", unix.MFD_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("memfd_create: %w", err)
	}
	if err := unix.Ftruncate(fd, int64(stride*height)); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("ftruncate: %w", err)
	}

	a.handle++
	a.live++
	return &nullBuffer{
		alloc:  a,
		fd:     fd,
		handle: a.handle,
		layout: Layout{
			Width:  width,
			Height: height,
			Format: format,
			Stride: uint32(stride),
		},
	}, nil
}

func (a *nullAllocator) Close() error {
	if a.live != 0 {
		return fmt.Errorf("%d buffers still allocated", a.live)
	}
	return nil
}

type nullBuffer struct {
	alloc  *nullAllocator
	fd     int
	handle uint32
	layout Layout
}

func (b *nullBuffer) Layout() Layout {
	return b.layout
}

func (b *nullBuffer) Handle() uint32 {
	return b.handle
}

func (b *nullBuffer) Export() (int, error) {
	return unix.FcntlInt(uintptr(b.fd), unix.F_DUPFD_CLOEXEC, 0)
}

func (b *nullBuffer) Destroy() error {
	if b.fd < 0 {
		return nil
	}
	err := unix.Close(b.fd)
	b.fd = -1
	b.alloc.live--
	return err
}

type nullDisplay struct {
	extensions []string
	terminated bool
}

func (d *nullDisplay) Extensions() []string {
	return d.extensions
}

func (d *nullDisplay) Terminate() error {
	d.terminated = true
	return nil
}

// NullGPU records the commands it receives.
type NullGPU struct {
	extensions []string
	fence      bool

	next     uint32
	images   map[ImageHandle]Layout
	targets  map[TargetHandle]ImageHandle
	programs map[ProgramHandle]bool
	bound    TargetHandle
	ops      []string

	failImport bool
	destroyed  bool
}

// Ops returns the recorded commands, one line each.
func (g *NullGPU) Ops() []string {
	return g.ops
}

// ImageLayout returns the geometry an image was imported with.
func (g *NullGPU) ImageLayout(img ImageHandle) (Layout, bool) {
	l, ok := g.images[img]
	return l, ok
}

// Images returns the number of live images.
func (g *NullGPU) Images() int {
	return len(g.images)
}

func (g *NullGPU) record(format string, args ...interface{}) {
	g.ops = append(g.ops, fmt.Sprintf(format, args...))
}

func (g *NullGPU) Extensions() []string {
	return g.extensions
}

func (g *NullGPU) HasFenceSync() bool {
	return g.fence
}

// CreateImage checks that the descriptor covers the described geometry.
func (g *NullGPU) CreateImage(h ExternalHandle) (ImageHandle, error) {
	if g.failImport {
		return 0, errors.New("EGL_BAD_MATCH")
	}
	var st unix.Stat_t
	if err := unix.Fstat(h.FD, &st); err != nil {
		return 0, fmt.Errorf("invalid descriptor: %w", err)
	}
	need := int64(h.Layout.Offset) + int64(h.Layout.Stride)*int64(h.Layout.Height)
	if st.Size < need {
		return 0, fmt.Errorf("descriptor holds %d bytes, layout needs %d", st.Size, need)
	}

	g.next++
	img := ImageHandle(g.next)
	g.images[img] = h.Layout
	g.record("image %d %dx%d %s stride=%d", img, h.Layout.Width, h.Layout.Height, h.Layout.Format, h.Layout.Stride)
	return img, nil
}

func (g *NullGPU) DestroyImage(img ImageHandle) error {
	if _, ok := g.images[img]; !ok {
		return fmt.Errorf("image %d: EGL_BAD_PARAMETER", img)
	}
	delete(g.images, img)
	g.record("destroy image %d", img)
	return nil
}

func (g *NullGPU) CreateTarget(img ImageHandle) (TextureHandle, TargetHandle, error) {
	if _, ok := g.images[img]; !ok {
		return 0, 0, fmt.Errorf("image %d: framebuffer incomplete", img)
	}
	g.next++
	tex := TextureHandle(g.next)
	g.next++
	target := TargetHandle(g.next)
	g.targets[target] = img
	g.record("target %d texture %d image %d", target, tex, img)
	return tex, target, nil
}

func (g *NullGPU) DeleteTarget(tex TextureHandle, target TargetHandle) {
	delete(g.targets, target)
	if g.bound == target {
		g.bound = 0
	}
	g.record("delete target %d texture %d", target, tex)
}

func (g *NullGPU) BindTarget(target TargetHandle, width, height int) {
	g.bound = target
	g.record("bind %d viewport %dx%d", target, width, height)
}

// CompileProgram fails to compile a blank source or one containing #error,
// and fails to link when a stage has no main function.
func (g *NullGPU) CompileProgram(vertexSrc, fragmentSrc string, attribs []string) (ProgramHandle, error) {
	if len(attribs) > nullMaxVertexAttribs {
		return 0, fmt.Errorf("%d attributes bound, at most %d supported", len(attribs), nullMaxVertexAttribs)
	}
	for _, s := range []struct {
		stage ShaderStage
		src   string
	}{{VertexStage, vertexSrc}, {FragmentStage, fragmentSrc}} {
		if strings.TrimSpace(s.src) == "" {
			return 0, &ShaderCompileError{Stage: s.stage, Log: "0:1: empty source"}
		}
		if i := strings.Index(s.src, "#error"); i >= 0 {
			line := strings.Count(s.src[:i], "\n") + 1
			return 0, &ShaderCompileError{Stage: s.stage, Log: fmt.Sprintf("0:%d: #error", line)}
		}
	}
	if !strings.Contains(vertexSrc, "void main") || !strings.Contains(fragmentSrc, "void main") {
		return 0, &LinkError{Log: "missing main function"}
	}

	g.next++
	p := ProgramHandle(g.next)
	g.programs[p] = true
	g.record("program %d attribs %v", p, attribs)
	return p, nil
}

func (g *NullGPU) DeleteProgram(p ProgramHandle) {
	delete(g.programs, p)
	g.record("delete program %d", p)
}

func (g *NullGPU) Clear(c Color) {
	g.record("clear %d", g.bound)
}

func (g *NullGPU) DrawArrays(p ProgramHandle, mesh Mesh) error {
	if !g.programs[p] {
		return fmt.Errorf("program %d: GL_INVALID_OPERATION", p)
	}
	if g.bound == 0 {
		return errors.New("no target bound: GL_INVALID_FRAMEBUFFER_OPERATION")
	}
	if mesh.Components < 2 || mesh.Components > 4 || mesh.Count() == 0 {
		return fmt.Errorf("mesh: %d components, %d vertices: GL_INVALID_VALUE", mesh.Components, mesh.Count())
	}
	if mesh.Texture != 0 {
		g.record("draw %d program %d vertices %d texture %d", g.bound, p, mesh.Count(), mesh.Texture)
		return nil
	}
	g.record("draw %d program %d vertices %d", g.bound, p, mesh.Count())
	return nil
}

func (g *NullGPU) Sync(mode SyncMode) error {
	if mode == SyncFence && !g.fence {
		mode = SyncFinish
	}
	g.record("sync %s", mode)
	return nil
}

func (g *NullGPU) Destroy() error {
	g.destroyed = true
	return nil
}
