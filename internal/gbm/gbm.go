// Package gbm binds the parts of libgbm needed to allocate scanout buffers.
package gbm

/*
#cgo LDFLAGS: -lgbm

#include <stdint.h>
#include <stdlib.h>
#include <gbm.h>

static uint32_t kmsgl_gbm_bo_get_handle(struct gbm_bo *bo) {
	return gbm_bo_get_handle(bo).u32;
}
*/
import "C"

import (
	"errors"
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Usage flags of CreateBO.
const (
	BOUseScanout   = uint32(C.GBM_BO_USE_SCANOUT)
	BOUseRendering = uint32(C.GBM_BO_USE_RENDERING)
	BOUseLinear    = uint32(C.GBM_BO_USE_LINEAR)
)

// Device is a GBM device created on a DRM file descriptor.
type Device struct {
	dev *C.struct_gbm_device
}

// CreateDevice creates a GBM device on fd. fd must stay open for the
// lifetime of the device.
func CreateDevice(fd int) (*Device, error) {
	dev := C.gbm_create_device(C.int(fd))
	if dev == nil {
		return nil, fmt.Errorf("gbm_create_device(%d) failed", fd)
	}
	return &Device{dev: dev}, nil
}

// Native returns the gbm_device pointer for use as an EGL native display.
func (d *Device) Native() unsafe.Pointer {
	return unsafe.Pointer(d.dev)
}

// BackendName returns the name of the GBM backend, such as "drm".
func (d *Device) BackendName() string {
	return C.GoString(C.gbm_device_get_backend_name(d.dev))
}

// IsFormatSupported reports whether buffers of format can be created with
// usage.
func (d *Device) IsFormatSupported(format, usage uint32) bool {
	return C.gbm_device_is_format_supported(d.dev, C.uint32_t(format), C.uint32_t(usage)) != 0
}

// CreateBO allocates a buffer object.
func (d *Device) CreateBO(width, height int, format, usage uint32) (*BO, error) {
	bo := C.gbm_bo_create(d.dev, C.uint32_t(width), C.uint32_t(height), C.uint32_t(format), C.uint32_t(usage))
	if bo == nil {
		return nil, fmt.Errorf("gbm_bo_create(%dx%d, %#x, %#x) failed", width, height, format, usage)
	}
	return &BO{bo: bo}, nil
}

// Destroy releases the device. Every BO must be destroyed first.
func (d *Device) Destroy() {
	if d.dev != nil {
		C.gbm_device_destroy(d.dev)
		d.dev = nil
	}
}

// BO is a GBM buffer object.
type BO struct {
	bo *C.struct_gbm_bo
}

func (b *BO) Width() int {
	return int(C.gbm_bo_get_width(b.bo))
}

func (b *BO) Height() int {
	return int(C.gbm_bo_get_height(b.bo))
}

func (b *BO) Format() uint32 {
	return uint32(C.gbm_bo_get_format(b.bo))
}

// Stride returns the row pitch of plane 0 in bytes.
func (b *BO) Stride() uint32 {
	return uint32(C.gbm_bo_get_stride(b.bo))
}

// Offset returns the offset of plane 0 in bytes.
func (b *BO) Offset() uint32 {
	return uint32(C.gbm_bo_get_offset(b.bo, 0))
}

// Handle returns the GEM handle of the buffer on the DRM device.
func (b *BO) Handle() uint32 {
	return uint32(C.kmsgl_gbm_bo_get_handle(b.bo))
}

// FD exports the buffer as a new dma-buf descriptor owned by the caller.
func (b *BO) FD() (int, error) {
	fd := int(C.gbm_bo_get_fd(b.bo))
	if fd < 0 {
		return -1, errors.New("gbm_bo_get_fd failed")
	}
	unix.CloseOnExec(fd)
	return fd, nil
}

// Destroy releases the buffer object.
func (b *BO) Destroy() {
	if b.bo != nil {
		C.gbm_bo_destroy(b.bo)
		b.bo = nil
	}
}
