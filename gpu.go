package kmsgl

import (
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
)

type (
	// ImageHandle names an external image created from a buffer handle.
	ImageHandle uint64
	// TextureHandle names a texture backed by an external image.
	TextureHandle uint32
	// TargetHandle names an off-screen render target.
	TargetHandle uint32
	// ProgramHandle names a linked shader program.
	ProgramHandle uint32
)

// SyncMode selects how the renderer waits for GPU completion before a buffer
// is handed to the display controller.
type SyncMode int

const (
	// SyncFence waits on a fence when the driver supports it and falls back
	// to SyncFinish otherwise.
	SyncFence SyncMode = iota
	// SyncFinish blocks until all submitted GPU work has completed.
	SyncFinish
	// SyncNone relies on implicit fencing in the kernel.
	SyncNone
)

// ParseSyncMode parses "fence", "finish" or "none".
func ParseSyncMode(s string) (SyncMode, error) {
	switch strings.ToLower(s) {
	case "", "fence":
		return SyncFence, nil
	case "finish":
		return SyncFinish, nil
	case "none":
		return SyncNone, nil
	default:
		return 0, fmt.Errorf("unknown gpu sync mode %q", s)
	}
}

func (m SyncMode) String() string {
	switch m {
	case SyncFinish:
		return "finish"
	case SyncNone:
		return "none"
	default:
		return "fence"
	}
}

// RenderDisplay is the rendering API's connection to the allocator's device.
type RenderDisplay interface {
	// Extensions lists client and display extensions.
	Extensions() []string
	Terminate() error
}

// GPU is a current rendering context without a default surface. It is bound
// to the goroutine that created it.
type GPU interface {
	// Extensions lists the rendering API extensions of the context.
	Extensions() []string
	HasFenceSync() bool

	// CreateImage imports an external buffer. The descriptor in h may be
	// closed once CreateImage returns.
	CreateImage(h ExternalHandle) (ImageHandle, error)
	DestroyImage(img ImageHandle) error
	// CreateTarget binds img to a new texture and attaches the texture to a
	// new off-screen target. The target is checked for completeness.
	CreateTarget(img ImageHandle) (TextureHandle, TargetHandle, error)
	DeleteTarget(tex TextureHandle, target TargetHandle)
	BindTarget(target TargetHandle, width, height int)

	// CompileProgram returns *ShaderCompileError or *LinkError on failure.
	CompileProgram(vertexSrc, fragmentSrc string, attribs []string) (ProgramHandle, error)
	DeleteProgram(p ProgramHandle)

	Clear(c Color)
	DrawArrays(p ProgramHandle, mesh Mesh) error
	Sync(mode SyncMode) error

	Destroy() error
}

// Platform opens the hardware pieces a pipeline is assembled from.
type Platform interface {
	OpenDevice(path string, log logrus.FieldLogger) (Device, error)
	NewAllocator(dev Device, log logrus.FieldLogger) (BufferAllocator, error)
	CreateDisplay(alloc BufferAllocator, log logrus.FieldLogger) (RenderDisplay, error)
	CreateContext(display RenderDisplay, version int, log logrus.FieldLogger) (GPU, error)
}

// Capability is a rendering feature the pipeline needs. It is present when any
// of Extensions is advertised.
type Capability struct {
	Name       string
	Extensions []string
	// Display capabilities are looked up in the display's extension list,
	// the others in the context's.
	Display bool
}

// RequiredCapabilities are checked before any buffer is allocated.
var RequiredCapabilities = []Capability{
	{Name: "platform-display", Extensions: []string{"EGL_KHR_platform_gbm", "EGL_MESA_platform_gbm"}, Display: true},
	{Name: "image-base", Extensions: []string{"EGL_KHR_image_base"}, Display: true},
	{Name: "zero-copy-import", Extensions: []string{"EGL_EXT_image_dma_buf_import"}, Display: true},
	{Name: "external-image-texture", Extensions: []string{"GL_OES_EGL_image"}},
}

func (c Capability) satisfied(exts map[string]bool) bool {
	for _, e := range c.Extensions {
		if exts[e] {
			return true
		}
	}
	return false
}

func extensionSet(lists ...[]string) map[string]bool {
	set := make(map[string]bool)
	for _, l := range lists {
		for _, e := range l {
			set[e] = true
		}
	}
	return set
}
