package kmsgl

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// BufferObject is one allocation made by a BufferAllocator.
type BufferObject interface {
	Layout() Layout
	// Handle is the device-local handle used to register a framebuffer.
	Handle() uint32
	// Export returns a new descriptor for the memory. The caller owns it.
	Export() (int, error)
	Destroy() error
}

// BufferAllocator allocates GPU-resident buffers on the display device.
type BufferAllocator interface {
	Allocate(width, height int, format PixelFormat, usage Usage) (BufferObject, error)
	Close() error
}

// BufferID references a PixelBuffer owned by a BufferArena.
type BufferID uint32

// PixelBuffer is a GPU-resident allocation shared between rendering and
// scanout.
type PixelBuffer struct {
	ID     BufferID
	Layout Layout
	Handle uint32
	Usage  Usage

	obj  BufferObject
	refs int
}

// ExternalHandle is a descriptor for a buffer plus the layout needed to
// import it elsewhere.
type ExternalHandle struct {
	FD     int
	Layout Layout
}

// Close releases the descriptor. Closing twice is harmless.
func (h *ExternalHandle) Close() error {
	if h.FD < 0 {
		return nil
	}
	err := unix.Close(h.FD)
	h.FD = -1
	return err
}

// BufferArena owns every PixelBuffer of a pipeline. Framebuffers and imported
// surfaces reference buffers by id and hold a reference count on them, so a
// buffer cannot be freed from under them.
type BufferArena struct {
	alloc   BufferAllocator
	log     logrus.FieldLogger
	next    BufferID
	buffers map[BufferID]*PixelBuffer
}

// NewBufferArena creates an arena allocating from alloc.
func NewBufferArena(alloc BufferAllocator, log logrus.FieldLogger) *BufferArena {
	return &BufferArena{
		alloc:   alloc,
		log:     log,
		buffers: make(map[BufferID]*PixelBuffer),
	}
}

// Allocate requests a width x height buffer usable for usage.
func (a *BufferArena) Allocate(width, height int, format PixelFormat, usage Usage) (BufferID, error) {
	resource := fmt.Sprintf("%dx%d %s", width, height, format)
	if width <= 0 || height <= 0 {
		return 0, NewError(AllocationFailed, "allocate", resource,
			fmt.Errorf("invalid size"))
	}

	obj, err := a.alloc.Allocate(width, height, format, usage)
	if err != nil {
		return 0, NewError(AllocationFailed, "allocate", resource, err)
	}

	a.next++
	pb := &PixelBuffer{
		ID:     a.next,
		Layout: obj.Layout(),
		Handle: obj.Handle(),
		Usage:  usage,
		obj:    obj,
	}
	a.buffers[pb.ID] = pb

	a.log.WithFields(logrus.Fields{
		"buffer": pb.ID,
		"format": pb.Layout.Format,
		"stride": pb.Layout.Stride,
		"offset": pb.Layout.Offset,
		"usage":  usage,
	}).Debug("Buffer allocated")
	return pb.ID, nil
}

// Get returns a copy of the buffer's description.
func (a *BufferArena) Get(id BufferID) (PixelBuffer, error) {
	pb, ok := a.buffers[id]
	if !ok {
		return PixelBuffer{}, NewError(BufferNotFound, "lookup", bufferName(id), nil)
	}
	return *pb, nil
}

// ExportHandle returns an independent descriptor for the buffer. The caller
// must close it.
func (a *BufferArena) ExportHandle(id BufferID) (ExternalHandle, error) {
	pb, ok := a.buffers[id]
	if !ok {
		return ExternalHandle{FD: -1}, NewError(BufferNotFound, "export", bufferName(id), nil)
	}
	fd, err := pb.obj.Export()
	if err != nil {
		return ExternalHandle{FD: -1}, NewError(ImportFailed, "export", bufferName(id), err)
	}
	return ExternalHandle{FD: fd, Layout: pb.Layout}, nil
}

// Refs returns the number of framebuffers and surfaces built on the buffer.
func (a *BufferArena) Refs(id BufferID) int {
	if pb, ok := a.buffers[id]; ok {
		return pb.refs
	}
	return 0
}

// Len returns the number of live buffers.
func (a *BufferArena) Len() int {
	return len(a.buffers)
}

// Free releases the buffer. It fails with BufferStillReferenced while a
// framebuffer or an imported surface still uses it.
func (a *BufferArena) Free(id BufferID) error {
	pb, ok := a.buffers[id]
	if !ok {
		return NewError(BufferNotFound, "free", bufferName(id), nil)
	}
	if pb.refs > 0 {
		return NewError(BufferStillReferenced, "free", bufferName(id),
			fmt.Errorf("%d references left", pb.refs))
	}
	delete(a.buffers, id)
	if err := pb.obj.Destroy(); err != nil {
		return fmt.Errorf("free %s: %w", bufferName(id), err)
	}
	a.log.WithField("buffer", id).Debug("Buffer freed")
	return nil
}

// Close frees the remaining unreferenced buffers and the allocator.
func (a *BufferArena) Close() error {
	for id, pb := range a.buffers {
		if pb.refs > 0 {
			a.log.WithFields(logrus.Fields{"buffer": id, "refs": pb.refs}).
				Warn("Buffer still referenced at close, leaking it")
			continue
		}
		if err := a.Free(id); err != nil {
			a.log.WithError(err).Warn("Failed to free buffer")
		}
	}
	return a.alloc.Close()
}

func (a *BufferArena) acquire(id BufferID) error {
	pb, ok := a.buffers[id]
	if !ok {
		return NewError(BufferNotFound, "acquire", bufferName(id), nil)
	}
	pb.refs++
	return nil
}

func (a *BufferArena) release(id BufferID) {
	if pb, ok := a.buffers[id]; ok && pb.refs > 0 {
		pb.refs--
	}
}

func bufferName(id BufferID) string {
	return fmt.Sprintf("buffer %d", id)
}
