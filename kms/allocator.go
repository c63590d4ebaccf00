package kms

import (
	"errors"
	"fmt"

	drm "github.com/rmcsoft/godrm"
	"github.com/rmcsoft/godrm/mode"
	"github.com/sirupsen/logrus"

	"github.com/rmcsoft/kmsgl"
	"github.com/rmcsoft/kmsgl/internal/drmioctl"
	"github.com/rmcsoft/kmsgl/internal/gbm"
)

// Allocator backends.
const (
	AllocatorGBM  = "gbm"
	AllocatorDumb = "dumb"
)

// allocator is a kmsgl.BufferAllocator that also owns the GBM device the EGL
// display is created on.
type allocator interface {
	kmsgl.BufferAllocator
	gbmDevice() *gbm.Device
}

type gbmAllocator struct {
	dev  *gbm.Device
	log  logrus.FieldLogger
	live int
}

func newGBMAllocator(d *Device, log logrus.FieldLogger) (*gbmAllocator, error) {
	dev, err := gbm.CreateDevice(int(d.file.Fd()))
	if err != nil {
		return nil, err
	}
	log.WithField("backend", dev.BackendName()).Debug("GBM device created")
	return &gbmAllocator{dev: dev, log: log}, nil
}

func gbmUsage(u kmsgl.Usage) uint32 {
	var flags uint32
	if u.Has(kmsgl.UsageScanout) {
		flags |= gbm.BOUseScanout
	}
	if u.Has(kmsgl.UsageRendering) {
		flags |= gbm.BOUseRendering
	}
	if u.Has(kmsgl.UsageMapping) {
		flags |= gbm.BOUseLinear
	}
	return flags
}

func (a *gbmAllocator) Allocate(width, height int, format kmsgl.PixelFormat, usage kmsgl.Usage) (kmsgl.BufferObject, error) {
	flags := gbmUsage(usage)
	if !a.dev.IsFormatSupported(uint32(format), flags) {
		return nil, fmt.Errorf("format %s not supported for %s", format, usage)
	}
	bo, err := a.dev.CreateBO(width, height, uint32(format), flags)
	if err != nil {
		return nil, err
	}
	a.live++
	return &gbmBuffer{a: a, bo: bo, layout: kmsgl.Layout{
		Width:  bo.Width(),
		Height: bo.Height(),
		Format: kmsgl.PixelFormat(bo.Format()),
		Stride: bo.Stride(),
		Offset: bo.Offset(),
	}}, nil
}

func (a *gbmAllocator) Close() error {
	if a.live > 0 {
		return fmt.Errorf("%d buffer objects still allocated", a.live)
	}
	a.dev.Destroy()
	return nil
}

func (a *gbmAllocator) gbmDevice() *gbm.Device {
	return a.dev
}

type gbmBuffer struct {
	a      *gbmAllocator
	bo     *gbm.BO
	layout kmsgl.Layout
}

func (b *gbmBuffer) Layout() kmsgl.Layout {
	return b.layout
}

func (b *gbmBuffer) Handle() uint32 {
	return b.bo.Handle()
}

func (b *gbmBuffer) Export() (int, error) {
	return b.bo.FD()
}

func (b *gbmBuffer) Destroy() error {
	if b.bo == nil {
		return nil
	}
	b.bo.Destroy()
	b.bo = nil
	b.a.live--
	return nil
}

// dumbAllocator allocates linear dumb buffers and exports them over PRIME.
// It still creates a GBM device because the EGL display is built on one.
type dumbAllocator struct {
	d    *Device
	dev  *gbm.Device
	log  logrus.FieldLogger
	live int
}

func newDumbAllocator(d *Device, log logrus.FieldLogger) (*dumbAllocator, error) {
	if !drm.HasDumbBuffer(d.file) {
		return nil, fmt.Errorf("drm device %s does not support dumb buffers", d.path)
	}
	if v, err := drm.GetCap(d.file, drm.CapPrime); err != nil || v&drmioctl.PrimeCapExport == 0 {
		return nil, fmt.Errorf("drm device %s cannot export buffers over PRIME", d.path)
	}
	dev, err := gbm.CreateDevice(int(d.file.Fd()))
	if err != nil {
		return nil, err
	}
	return &dumbAllocator{d: d, dev: dev, log: log}, nil
}

func (a *dumbAllocator) Allocate(width, height int, format kmsgl.PixelFormat, usage kmsgl.Usage) (kmsgl.BufferObject, error) {
	bpp := format.PixelSize() * 8
	if bpp == 0 {
		return nil, fmt.Errorf("format %s has no dumb buffer layout", format)
	}
	fb, err := mode.CreateFB(a.d.file, uint16(width), uint16(height), uint32(bpp))
	if err != nil {
		return nil, err
	}
	a.live++
	return &dumbBuffer{a: a, handle: fb.Handle, layout: kmsgl.Layout{
		Width:  width,
		Height: height,
		Format: format,
		Stride: fb.Pitch,
	}}, nil
}

func (a *dumbAllocator) Close() error {
	if a.live > 0 {
		return fmt.Errorf("%d dumb buffers still allocated", a.live)
	}
	a.dev.Destroy()
	return nil
}

func (a *dumbAllocator) gbmDevice() *gbm.Device {
	return a.dev
}

type dumbBuffer struct {
	a      *dumbAllocator
	handle uint32
	layout kmsgl.Layout
}

func (b *dumbBuffer) Layout() kmsgl.Layout {
	return b.layout
}

func (b *dumbBuffer) Handle() uint32 {
	return b.handle
}

func (b *dumbBuffer) Export() (int, error) {
	if b.handle == 0 {
		return -1, errors.New("dumb buffer destroyed")
	}
	return drmioctl.PrimeHandleToFD(b.a.d.file.Fd(), b.handle)
}

func (b *dumbBuffer) Destroy() error {
	if b.handle == 0 {
		return nil
	}
	err := mode.DestroyDumb(b.a.d.file, b.handle)
	b.handle = 0
	b.a.live--
	return err
}
