package kms

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/rmcsoft/kmsgl"
	"github.com/rmcsoft/kmsgl/internal/egl"
)

// Platform opens real hardware. Allocator selects the buffer backend, GBM
// when empty.
type Platform struct {
	Allocator string
}

// OpenDevice implements kmsgl.Platform.
func (p Platform) OpenDevice(path string, log logrus.FieldLogger) (kmsgl.Device, error) {
	d, err := Open(path, log)
	if err != nil {
		return nil, err
	}
	return d, nil
}

// NewAllocator implements kmsgl.Platform.
func (p Platform) NewAllocator(dev kmsgl.Device, log logrus.FieldLogger) (kmsgl.BufferAllocator, error) {
	d, ok := dev.(*Device)
	if !ok {
		return nil, fmt.Errorf("device %s was not opened by this platform", dev.Path())
	}
	var (
		a   allocator
		err error
	)
	switch p.Allocator {
	case "", AllocatorGBM:
		a, err = newGBMAllocator(d, log)
	case AllocatorDumb:
		a, err = newDumbAllocator(d, log)
	default:
		err = fmt.Errorf("unknown allocator %q", p.Allocator)
	}
	if err != nil {
		return nil, kmsgl.NewError(kmsgl.AllocationFailed, "create allocator", d.path, err)
	}
	return a, nil
}

// CreateDisplay implements kmsgl.Platform.
func (p Platform) CreateDisplay(alloc kmsgl.BufferAllocator, log logrus.FieldLogger) (kmsgl.RenderDisplay, error) {
	a, ok := alloc.(allocator)
	if !ok {
		return nil, fmt.Errorf("allocator was not created by this platform")
	}
	d, err := egl.GetPlatformDisplay(a.gbmDevice().Native())
	if err != nil {
		return nil, kmsgl.NewError(kmsgl.DisplayCreationFailed, "create display", "gbm", err)
	}
	major, minor := d.Version()
	log.WithField("egl", fmt.Sprintf("%d.%d", major, minor)).Info("Display initialized")
	return &Display{egl: d, log: log}, nil
}

// CreateContext implements kmsgl.Platform.
func (p Platform) CreateContext(display kmsgl.RenderDisplay, version int, log logrus.FieldLogger) (kmsgl.GPU, error) {
	d, ok := display.(*Display)
	if !ok {
		return nil, fmt.Errorf("display was not created by this platform")
	}
	g, err := newGPU(d, version, log)
	if err != nil {
		return nil, kmsgl.NewError(kmsgl.ContextCreationFailed, "create context",
			fmt.Sprintf("GLES %d", version), err)
	}
	return g, nil
}
