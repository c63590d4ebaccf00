package kmsgl

import (
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// DisplayFramebuffer is a buffer registered with the display controller so a
// CRTC can scan it out.
type DisplayFramebuffer struct {
	ID     uint32
	Buffer BufferID

	dev   Device
	arena *BufferArena
	log   logrus.FieldLogger
}

// RegisterFramebuffer registers buffer id with dev. The framebuffer holds a
// reference on the buffer until it is unregistered.
func RegisterFramebuffer(dev Device, arena *BufferArena, id BufferID, log logrus.FieldLogger) (*DisplayFramebuffer, error) {
	pb, err := arena.Get(id)
	if err != nil {
		return nil, err
	}

	fbID, err := dev.AddFramebuffer(pb.Layout, pb.Handle)
	if err != nil {
		return nil, NewError(FramebufferRegistrationFailed, "register framebuffer", bufferName(id), err)
	}
	if err := arena.acquire(id); err != nil {
		dev.RemoveFramebuffer(fbID)
		return nil, err
	}

	log.WithFields(logrus.Fields{"buffer": id, "fb": fbID}).Debug("Framebuffer registered")
	return &DisplayFramebuffer{ID: fbID, Buffer: id, dev: dev, arena: arena, log: log}, nil
}

// Unregister removes the framebuffer from the device and drops its reference
// on the buffer. If the device refuses, the framebuffer stays registered and
// keeps the buffer alive so the call can be retried. A framebuffer the device
// no longer knows counts as removed. Calling it again does nothing.
func (fb *DisplayFramebuffer) Unregister() error {
	if fb == nil || fb.dev == nil {
		return nil
	}
	if err := fb.dev.RemoveFramebuffer(fb.ID); err != nil {
		if !errors.Is(err, unix.ENOENT) {
			return fmt.Errorf("unregister framebuffer %d: %w", fb.ID, err)
		}
		fb.log.WithField("fb", fb.ID).Warn("Framebuffer already removed")
	}
	fb.arena.release(fb.Buffer)
	fb.dev, fb.arena = nil, nil
	fb.log.WithField("fb", fb.ID).Debug("Framebuffer unregistered")
	return nil
}
