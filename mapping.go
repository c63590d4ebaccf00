package kmsgl

import (
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/rmcsoft/kmsgl/internal/drmioctl"
)

// Mapping is a CPU view of a pixel buffer through its exported descriptor.
// Writes land in the memory the GPU samples and the display scans out; no
// upload happens. Accesses must be bracketed by BeginAccess and EndAccess so
// the exporter can flush or invalidate caches.
type Mapping struct {
	Buffer BufferID
	Layout Layout

	fd     int
	data   []byte
	nosync bool
	access uint64
	log    logrus.FieldLogger
}

// Map maps the buffer read-write. The mapping holds a reference on the buffer
// until it is passed to Unmap.
func (a *BufferArena) Map(id BufferID) (*Mapping, error) {
	h, err := a.ExportHandle(id)
	if err != nil {
		return nil, err
	}
	size := int(h.Layout.Offset) + int(h.Layout.Stride)*h.Layout.Height
	data, err := unix.Mmap(h.FD, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		h.Close()
		return nil, NewError(MappingFailed, "map", bufferName(id), err)
	}
	if err := a.acquire(id); err != nil {
		unix.Munmap(data)
		h.Close()
		return nil, err
	}

	m := &Mapping{
		Buffer: id,
		Layout: h.Layout,
		fd:     h.FD,
		data:   data,
		log:    a.log.WithField("buffer", id),
	}
	m.log.WithField("size", size).Debug("Buffer mapped")
	return m, nil
}

// Unmap releases the mapping and its reference on the buffer. An access left
// open is ended first. Unmapping twice does nothing.
func (a *BufferArena) Unmap(m *Mapping) error {
	if m == nil || m.data == nil {
		return nil
	}
	var errs []error
	if m.access != 0 {
		errs = append(errs, m.EndAccess())
	}
	if err := unix.Munmap(m.data); err != nil {
		errs = append(errs, fmt.Errorf("munmap: %w", err))
	}
	if err := unix.Close(m.fd); err != nil {
		errs = append(errs, fmt.Errorf("close: %w", err))
	}
	m.data = nil
	m.fd = -1
	a.release(m.Buffer)
	m.log.Debug("Buffer unmapped")
	return errors.Join(errs...)
}

// BeginAccess starts a CPU access to the mapped memory. Write selects a
// read-write access, otherwise the access is read-only.
func (m *Mapping) BeginAccess(write bool) error {
	if m.data == nil {
		return errors.New("begin access: buffer unmapped")
	}
	if m.access != 0 {
		return fmt.Errorf("begin access: %s already in progress", accessName(m.access))
	}
	access := uint64(drmioctl.SyncRead)
	if write {
		access = drmioctl.SyncRW
	}
	if err := m.sync(drmioctl.SyncStart | access); err != nil {
		return err
	}
	m.access = access
	return nil
}

// EndAccess ends the access started by BeginAccess.
func (m *Mapping) EndAccess() error {
	if m.access == 0 {
		return errors.New("end access: no access in progress")
	}
	access := m.access
	m.access = 0
	return m.sync(drmioctl.SyncEnd | access)
}

// Pixels returns the mapped plane starting at the first pixel. Rows are
// Layout.Stride bytes apart.
func (m *Mapping) Pixels() []byte {
	if m.data == nil {
		return nil
	}
	return m.data[m.Layout.Offset:]
}

// Row returns the visible bytes of row y.
func (m *Mapping) Row(y int) []byte {
	start := y * int(m.Layout.Stride)
	return m.Pixels()[start : start+m.Layout.Width*m.Layout.Format.PixelSize()]
}

// sync issues DMA_BUF_IOCTL_SYNC. Descriptors that are not dma-bufs, such as
// memfds, reject it with ENOTTY and are coherent already.
func (m *Mapping) sync(flags uint64) error {
	if m.nosync {
		return nil
	}
	err := drmioctl.DmaBufSync(m.fd, flags)
	if errors.Is(err, unix.ENOTTY) {
		m.log.Debug("Descriptor has no access sync, continuing without")
		m.nosync = true
		return nil
	}
	if err != nil {
		return NewError(MappingFailed, "sync", bufferName(m.Buffer), err)
	}
	return nil
}

func accessName(access uint64) string {
	if access&drmioctl.SyncWrite != 0 {
		return "write access"
	}
	return "read access"
}
