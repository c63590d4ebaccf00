// SPDX-License-Identifier: Unlicense OR MIT

// Package egl binds the EGL entry points used to render into imported
// buffers: a GBM platform display, a surfaceless GLES context, dma-buf images
// and fence syncs.
package egl

/*
#cgo LDFLAGS: -lEGL

#include <stdint.h>
#include <stdlib.h>
#include <EGL/egl.h>
#include <EGL/eglext.h>

static PFNEGLGETPLATFORMDISPLAYEXTPROC kmsgl_getPlatformDisplay;
static PFNEGLCREATEIMAGEKHRPROC kmsgl_createImage;
static PFNEGLDESTROYIMAGEKHRPROC kmsgl_destroyImage;
static PFNEGLCREATESYNCKHRPROC kmsgl_createSync;
static PFNEGLCLIENTWAITSYNCKHRPROC kmsgl_clientWaitSync;
static PFNEGLDESTROYSYNCKHRPROC kmsgl_destroySync;

static void kmsgl_egl_load(void) {
	kmsgl_getPlatformDisplay = (PFNEGLGETPLATFORMDISPLAYEXTPROC)eglGetProcAddress("eglGetPlatformDisplayEXT");
	kmsgl_createImage = (PFNEGLCREATEIMAGEKHRPROC)eglGetProcAddress("eglCreateImageKHR");
	kmsgl_destroyImage = (PFNEGLDESTROYIMAGEKHRPROC)eglGetProcAddress("eglDestroyImageKHR");
	kmsgl_createSync = (PFNEGLCREATESYNCKHRPROC)eglGetProcAddress("eglCreateSyncKHR");
	kmsgl_clientWaitSync = (PFNEGLCLIENTWAITSYNCKHRPROC)eglGetProcAddress("eglClientWaitSyncKHR");
	kmsgl_destroySync = (PFNEGLDESTROYSYNCKHRPROC)eglGetProcAddress("eglDestroySyncKHR");
}

static EGLDisplay kmsgl_eglGetPlatformDisplay(EGLenum platform, void *native) {
	if (kmsgl_getPlatformDisplay == NULL)
		return EGL_NO_DISPLAY;
	return kmsgl_getPlatformDisplay(platform, native, NULL);
}

static EGLImageKHR kmsgl_eglCreateImage(EGLDisplay dpy, EGLint *attribs) {
	if (kmsgl_createImage == NULL)
		return EGL_NO_IMAGE_KHR;
	return kmsgl_createImage(dpy, EGL_NO_CONTEXT, EGL_LINUX_DMA_BUF_EXT, (EGLClientBuffer)NULL, attribs);
}

static EGLBoolean kmsgl_eglDestroyImage(EGLDisplay dpy, EGLImageKHR img) {
	if (kmsgl_destroyImage == NULL)
		return EGL_FALSE;
	return kmsgl_destroyImage(dpy, img);
}

static EGLint kmsgl_eglFenceWait(EGLDisplay dpy, EGLTimeKHR timeout) {
	if (kmsgl_createSync == NULL || kmsgl_clientWaitSync == NULL || kmsgl_destroySync == NULL)
		return EGL_FALSE;
	EGLSyncKHR sync = kmsgl_createSync(dpy, EGL_SYNC_FENCE_KHR, NULL);
	if (sync == EGL_NO_SYNC_KHR)
		return EGL_FALSE;
	EGLint ret = kmsgl_clientWaitSync(dpy, sync, EGL_SYNC_FLUSH_COMMANDS_BIT_KHR, timeout);
	kmsgl_destroySync(dpy, sync);
	return ret;
}
*/
import "C"

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unsafe"
)

const (
	_EGL_CONTEXT_CLIENT_VERSION = 0x3098
	_EGL_EXTENSIONS             = 0x3055
	_EGL_NONE                   = 0x3038
	_EGL_OPENGL_ES2_BIT         = 0x4
	_EGL_OPENGL_ES3_BIT         = 0x40
	_EGL_RENDERABLE_TYPE        = 0x3040
	_EGL_SURFACE_TYPE           = 0x3033
	_EGL_PBUFFER_BIT            = 0x1
	_EGL_OPENGL_ES_API          = 0x30A0

	_EGL_PLATFORM_GBM_KHR = 0x31D7

	_EGL_WIDTH                     = 0x3057
	_EGL_HEIGHT                    = 0x3056
	_EGL_LINUX_DRM_FOURCC_EXT      = 0x3271
	_EGL_DMA_BUF_PLANE0_FD_EXT     = 0x3272
	_EGL_DMA_BUF_PLANE0_OFFSET_EXT = 0x3273
	_EGL_DMA_BUF_PLANE0_PITCH_EXT  = 0x3274

	_EGL_CONDITION_SATISFIED_KHR = 0x30F6
	_EGL_TIMEOUT_EXPIRED_KHR     = 0x30F5
)

var (
	nilDisplay C.EGLDisplay
	nilContext C.EGLContext
	nilSurface C.EGLSurface
	nilConfig  C.EGLConfig
)

var loadOnce sync.Once

func load() {
	loadOnce.Do(func() { C.kmsgl_egl_load() })
}

// Error is an EGL call failure carrying eglGetError's code.
type Error struct {
	Call string
	Code int
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s failed (%#x)", e.Call, e.Code)
}

func lastError(call string) error {
	return &Error{Call: call, Code: int(C.eglGetError())}
}

// ClientExtensions returns the client extensions, available before any
// display is initialized.
func ClientExtensions() []string {
	s := C.eglQueryString(nilDisplay, _EGL_EXTENSIONS)
	if s == nil {
		return nil
	}
	return strings.Fields(C.GoString(s))
}

// Display is an initialized EGL display.
type Display struct {
	disp  C.EGLDisplay
	major int
	minor int
}

// GetPlatformDisplay creates and initializes a display on a GBM device.
func GetPlatformDisplay(gbmDevice unsafe.Pointer) (*Display, error) {
	load()
	disp := C.kmsgl_eglGetPlatformDisplay(_EGL_PLATFORM_GBM_KHR, gbmDevice)
	if disp == nilDisplay {
		return nil, lastError("eglGetPlatformDisplayEXT")
	}
	var major, minor C.EGLint
	if C.eglInitialize(disp, &major, &minor) != C.EGL_TRUE {
		return nil, lastError("eglInitialize")
	}
	return &Display{disp: disp, major: int(major), minor: int(minor)}, nil
}

// Version returns the EGL version reported by eglInitialize.
func (d *Display) Version() (int, int) {
	return d.major, d.minor
}

// Extensions returns the display extensions.
func (d *Display) Extensions() []string {
	s := C.eglQueryString(d.disp, _EGL_EXTENSIONS)
	if s == nil {
		return nil
	}
	return strings.Fields(C.GoString(s))
}

func (d *Display) hasExtension(name string) bool {
	for _, e := range d.Extensions() {
		if e == name {
			return true
		}
	}
	return false
}

// Terminate releases the display.
func (d *Display) Terminate() error {
	if C.eglTerminate(d.disp) != C.EGL_TRUE {
		return lastError("eglTerminate")
	}
	C.eglReleaseThread()
	return nil
}

// Context is a GLES context made current without a surface on the calling
// thread.
type Context struct {
	disp *Display
	ctx  C.EGLContext
}

// CreateContext creates a GLES context of the given major version and makes
// it current with no draw or read surface. Without EGL_KHR_no_config_context
// a config is chosen first.
func (d *Display) CreateContext(version int) (*Context, error) {
	if !d.hasExtension("EGL_KHR_surfaceless_context") {
		return nil, errors.New("EGL_KHR_surfaceless_context not supported")
	}
	if C.eglBindAPI(_EGL_OPENGL_ES_API) != C.EGL_TRUE {
		return nil, lastError("eglBindAPI")
	}

	config := nilConfig
	if !d.hasExtension("EGL_KHR_no_config_context") && !d.hasExtension("EGL_MESA_configless_context") {
		renderable := C.EGLint(_EGL_OPENGL_ES2_BIT)
		if version >= 3 {
			renderable = _EGL_OPENGL_ES3_BIT
		}
		attribs := []C.EGLint{
			_EGL_RENDERABLE_TYPE, renderable,
			_EGL_SURFACE_TYPE, _EGL_PBUFFER_BIT,
			_EGL_NONE,
		}
		var n C.EGLint
		if C.eglChooseConfig(d.disp, &attribs[0], &config, 1, &n) != C.EGL_TRUE {
			return nil, lastError("eglChooseConfig")
		}
		if n == 0 {
			return nil, fmt.Errorf("no EGL config for GLES %d", version)
		}
	}

	ctxAttribs := []C.EGLint{
		_EGL_CONTEXT_CLIENT_VERSION, C.EGLint(version),
		_EGL_NONE,
	}
	ctx := C.eglCreateContext(d.disp, config, nilContext, &ctxAttribs[0])
	if ctx == nilContext {
		return nil, lastError("eglCreateContext")
	}
	if C.eglMakeCurrent(d.disp, nilSurface, nilSurface, ctx) != C.EGL_TRUE {
		err := lastError("eglMakeCurrent")
		C.eglDestroyContext(d.disp, ctx)
		return nil, err
	}
	return &Context{disp: d, ctx: ctx}, nil
}

// Destroy releases the context from the current thread and destroys it.
func (c *Context) Destroy() error {
	C.eglMakeCurrent(c.disp.disp, nilSurface, nilSurface, nilContext)
	if C.eglDestroyContext(c.disp.disp, c.ctx) != C.EGL_TRUE {
		return lastError("eglDestroyContext")
	}
	return nil
}

// Image is an EGLImage created from a dma-buf.
type Image uintptr

// CreateDMABufImage imports a single-plane dma-buf. The descriptor is not
// consumed and may be closed afterwards.
func (d *Display) CreateDMABufImage(fd, width, height int, fourcc, pitch, offset uint32) (Image, error) {
	attribs := []C.EGLint{
		_EGL_WIDTH, C.EGLint(width),
		_EGL_HEIGHT, C.EGLint(height),
		_EGL_LINUX_DRM_FOURCC_EXT, C.EGLint(fourcc),
		_EGL_DMA_BUF_PLANE0_FD_EXT, C.EGLint(fd),
		_EGL_DMA_BUF_PLANE0_OFFSET_EXT, C.EGLint(offset),
		_EGL_DMA_BUF_PLANE0_PITCH_EXT, C.EGLint(pitch),
		_EGL_NONE,
	}
	img := C.kmsgl_eglCreateImage(d.disp, &attribs[0])
	if img == nil {
		return 0, lastError("eglCreateImageKHR")
	}
	return Image(uintptr(img)), nil
}

// DestroyImage releases an image.
func (d *Display) DestroyImage(img Image) error {
	if C.kmsgl_eglDestroyImage(d.disp, C.EGLImageKHR(unsafe.Pointer(uintptr(img)))) != C.EGL_TRUE {
		return lastError("eglDestroyImageKHR")
	}
	return nil
}

// Pointer returns the image as the pointer glEGLImageTargetTexture2DOES
// expects.
func (img Image) Pointer() unsafe.Pointer {
	return unsafe.Pointer(img)
}

// ErrFenceTimeout is returned by FenceWait when the GPU did not finish in
// time.
var ErrFenceTimeout = errors.New("fence wait timed out")

// FenceWait inserts a fence after the commands submitted so far, flushes them
// and blocks until the fence signals or timeout elapses.
func (d *Display) FenceWait(timeout time.Duration) error {
	switch ret := C.kmsgl_eglFenceWait(d.disp, C.EGLTimeKHR(timeout.Nanoseconds())); ret {
	case _EGL_CONDITION_SATISFIED_KHR:
		return nil
	case _EGL_TIMEOUT_EXPIRED_KHR:
		return ErrFenceTimeout
	default:
		return lastError("eglClientWaitSyncKHR")
	}
}
