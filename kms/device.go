// Package kms implements the pipeline's hardware platform: a DRM/KMS device
// driven through godrm and raw ioctls, GBM or dumb-buffer allocation, and an
// EGL/GLES context rendering into imported dma-bufs.
package kms

import (
	"context"
	"fmt"
	"os"
	"time"

	drm "github.com/rmcsoft/godrm"
	"github.com/rmcsoft/godrm/mode"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/rmcsoft/kmsgl"
	"github.com/rmcsoft/kmsgl/internal/drmioctl"
	"github.com/rmcsoft/kmsgl/internal/modeinfo"
)

const (
	// pollInterval bounds how long a flip wait goes without checking its
	// context.
	pollInterval = 50 * time.Millisecond
	eventBufSize = 1024
)

// Device is a DRM device node opened for mode-setting.
type Device struct {
	file   *os.File
	path   string
	log    logrus.FieldLogger
	master bool
	addFB2 bool
	queued []drmioctl.Event
	buf    []byte
	closed bool
}

// Open opens the device node at path and tries to become DRM master. Running
// without master is allowed so the failure surfaces on the first mode-set
// with the kernel's error.
func Open(path string, log logrus.FieldLogger) (*Device, error) {
	f, err := kmsgl.OpenDeviceFile(path)
	if err != nil {
		return nil, err
	}
	d := &Device{
		file:   f,
		path:   path,
		log:    log.WithField("device", path),
		addFB2: true,
		buf:    make([]byte, eventBufSize),
	}

	if err := drmioctl.SetMaster(f.Fd()); err != nil {
		d.log.WithError(err).Warn("Failed to become DRM master")
	} else {
		d.master = true
	}
	if v, err := drm.GetCap(f, drm.CapTimestampMonotonic); err == nil && v == 0 {
		d.log.Debug("Flip timestamps are not monotonic")
	}
	d.log.WithField("master", d.master).Info("Device opened")
	return d, nil
}

// Path implements kmsgl.Device.
func (d *Device) Path() string {
	return d.path
}

// File returns the device node, for allocators sharing it.
func (d *Device) File() *os.File {
	return d.file
}

// Enumerate implements kmsgl.Device.
func (d *Device) Enumerate() (*kmsgl.Resources, error) {
	res, err := mode.GetResources(d.file)
	if err != nil {
		return nil, d.enumError("resources", err)
	}

	out := &kmsgl.Resources{}
	for _, id := range res.Connectors {
		c, err := mode.GetConnector(d.file, id)
		if err != nil {
			return nil, d.enumError(fmt.Sprintf("connector %d", id), err)
		}
		out.Connectors = append(out.Connectors, modeinfo.Connector(c))
	}
	for _, id := range res.Encoders {
		e, err := mode.GetEncoder(d.file, id)
		if err != nil {
			return nil, d.enumError(fmt.Sprintf("encoder %d", id), err)
		}
		out.Encoders = append(out.Encoders, kmsgl.Encoder{
			ID:            e.ID,
			CrtcID:        e.CrtcID,
			PossibleCrtcs: e.PossibleCrtcs,
		})
	}
	for _, id := range res.Crtcs {
		c, err := mode.GetCrtc(d.file, id)
		if err != nil {
			return nil, d.enumError(fmt.Sprintf("crtc %d", id), err)
		}
		out.Crtcs = append(out.Crtcs, kmsgl.Crtc{ID: c.ID, FramebufferID: c.BufferID})
	}

	d.log.WithFields(logrus.Fields{
		"connectors": len(out.Connectors),
		"encoders":   len(out.Encoders),
		"crtcs":      len(out.Crtcs),
	}).Debug("Resources enumerated")
	return out, nil
}

func (d *Device) enumError(resource string, err error) error {
	return kmsgl.NewError(kmsgl.EnumerationFailed, "enumerate", resource, err)
}

// Crtc implements kmsgl.Device.
func (d *Device) Crtc(id uint32) (kmsgl.CrtcState, error) {
	c, err := mode.GetCrtc(d.file, id)
	if err != nil {
		return kmsgl.CrtcState{}, d.enumError(fmt.Sprintf("crtc %d", id), err)
	}
	st := kmsgl.CrtcState{
		Crtc:          c.ID,
		FramebufferID: c.BufferID,
		X:             c.X,
		Y:             c.Y,
	}
	if c.ModeValid != 0 {
		m := modeinfo.Mode(c.Mode)
		st.Mode = &m
	}
	return st, nil
}

// AddFramebuffer implements kmsgl.Device. The format-aware AddFB2 is tried
// first. A driver without the ioctl is switched to the legacy depth/bpp call
// for good; a buffer AddFB2 merely rejects falls back for that call only.
// Legacy AddFB only describes buffers starting at offset zero.
func (d *Device) AddFramebuffer(layout kmsgl.Layout, handle uint32) (uint32, error) {
	var addFB2Err error
	if d.addFB2 {
		id, err := drmioctl.AddFB2SinglePlane(d.file.Fd(), uint32(layout.Width), uint32(layout.Height),
			uint32(layout.Format), handle, layout.Stride, layout.Offset)
		if err == nil {
			return id, nil
		}
		retry, disable := drmioctl.AddFB2Fallback(err)
		if !retry {
			return 0, err
		}
		if disable {
			d.log.WithError(err).Info("AddFB2 unavailable, using legacy AddFB")
			d.addFB2 = false
		} else {
			d.log.WithError(err).WithField("format", layout.Format).Debug("AddFB2 rejected buffer, trying legacy AddFB")
		}
		addFB2Err = err
	}

	if layout.Offset != 0 {
		if addFB2Err != nil {
			return 0, addFB2Err
		}
		return 0, fmt.Errorf("legacy AddFB cannot describe plane offset %d", layout.Offset)
	}
	bpp := layout.Format.PixelSize() * 8
	return mode.AddFB(d.file, uint16(layout.Width), uint16(layout.Height),
		uint8(layout.Format.Depth()), uint8(bpp), layout.Stride, handle)
}

// RemoveFramebuffer implements kmsgl.Device.
func (d *Device) RemoveFramebuffer(fbID uint32) error {
	return mode.RmFB(d.file, fbID)
}

// SetCrtc implements kmsgl.Device.
func (d *Device) SetCrtc(crtcID, fbID uint32, connectors []uint32, m *kmsgl.Mode) error {
	var info *mode.Info
	if m != nil {
		raw, ok := m.Raw.(mode.Info)
		if !ok {
			return fmt.Errorf("mode %s was not read from this device", m)
		}
		info = &raw
	}
	var conns *uint32
	if len(connectors) > 0 {
		conns = &connectors[0]
	}
	return mode.SetCrtc(d.file, crtcID, fbID, 0, 0, conns, len(connectors), info)
}

// PageFlip implements kmsgl.Device.
func (d *Device) PageFlip(crtcID, fbID uint32, userData uint64) error {
	return drmioctl.PageFlip(d.file.Fd(), crtcID, fbID, drmioctl.PageFlipEvent, userData)
}

// WaitFlip implements kmsgl.Device. Events read together with the one
// returned are queued for the next call.
func (d *Device) WaitFlip(ctx context.Context, timeout time.Duration) (kmsgl.FlipEvent, error) {
	deadline := time.Now().Add(timeout)
	for {
		for len(d.queued) > 0 {
			ev := d.queued[0]
			d.queued = d.queued[1:]
			if ev.Type == drmioctl.EventFlipComplete {
				return kmsgl.FlipEvent{
					Crtc:     ev.Crtc,
					Sequence: ev.Sequence,
					Time:     time.Duration(ev.Sec)*time.Second + time.Duration(ev.Usec)*time.Microsecond,
					UserData: ev.UserData,
				}, nil
			}
		}

		if err := ctx.Err(); err != nil {
			return kmsgl.FlipEvent{}, err
		}
		left := time.Until(deadline)
		if left <= 0 {
			return kmsgl.FlipEvent{}, kmsgl.NewError(kmsgl.FlipTimeout, "wait flip", d.path, nil)
		}
		if left > pollInterval {
			left = pollInterval
		}

		ready, err := drmioctl.WaitReadable(int(d.file.Fd()), int(left/time.Millisecond)+1)
		if err != nil {
			return kmsgl.FlipEvent{}, err
		}
		if !ready {
			continue
		}
		n, err := unix.Read(int(d.file.Fd()), d.buf)
		if err != nil {
			if err == unix.EAGAIN || err == unix.EINTR {
				continue
			}
			return kmsgl.FlipEvent{}, fmt.Errorf("read events: %w", err)
		}
		events, err := drmioctl.ParseEvents(d.buf[:n])
		d.queued = append(d.queued, events...)
		if err != nil {
			d.log.WithError(err).Warn("Malformed DRM event")
		}
	}
}

// Close drops master and closes the node. Closing twice does nothing.
func (d *Device) Close() error {
	if d.closed {
		return nil
	}
	d.closed = true
	if d.master {
		if err := drmioctl.DropMaster(d.file.Fd()); err != nil {
			d.log.WithError(err).Warn("Failed to drop DRM master")
		}
	}
	d.log.Info("Device closed")
	return d.file.Close()
}
