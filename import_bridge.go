package kmsgl

import (
	"github.com/sirupsen/logrus"
)

// ImportedSurface is a pixel buffer seen by the renderer as a render target.
// It shares memory with the buffer; nothing is copied.
type ImportedSurface struct {
	Buffer  BufferID
	Image   ImageHandle
	Texture TextureHandle
	Target  TargetHandle
	Layout  Layout

	released bool
}

// Released reports whether the surface has been released.
func (s *ImportedSurface) Released() bool {
	return s.released
}

// ImportBridge turns pixel buffers into render targets through the external
// image mechanism of the rendering API.
type ImportBridge struct {
	display RenderDisplay
	gpu     GPU
	arena   *BufferArena
	log     logrus.FieldLogger
}

// NewImportBridge creates an import bridge.
func NewImportBridge(display RenderDisplay, gpu GPU, arena *BufferArena, log logrus.FieldLogger) *ImportBridge {
	return &ImportBridge{display: display, gpu: gpu, arena: arena, log: log}
}

// CheckCapabilities verifies every capability of RequiredCapabilities. The
// first missing one is reported as MissingExtension with a
// *MissingExtensionError naming it.
func (b *ImportBridge) CheckCapabilities() error {
	displayExts := extensionSet(b.display.Extensions())
	gpuExts := extensionSet(b.gpu.Extensions())

	for _, c := range RequiredCapabilities {
		exts := gpuExts
		if c.Display {
			exts = displayExts
		}
		if !c.satisfied(exts) {
			return NewError(MissingExtension, "check capabilities", c.Name,
				&MissingExtensionError{Name: c.Name, Extension: c.Extensions[0]})
		}
	}
	if !b.gpu.HasFenceSync() {
		b.log.Info("Fence sync unavailable, using finish for GPU completion")
	}
	return nil
}

// ImportBuffer wraps buffer id as an external image, binds it to a texture and
// attaches that to an off-screen render target. The exported descriptor is
// closed before returning. Failures are not retried.
func (b *ImportBridge) ImportBuffer(id BufferID) (*ImportedSurface, error) {
	h, err := b.arena.ExportHandle(id)
	if err != nil {
		return nil, err
	}
	defer h.Close()

	img, err := b.gpu.CreateImage(h)
	if err != nil {
		return nil, NewError(ImportFailed, "create image", bufferName(id), err)
	}

	tex, target, err := b.gpu.CreateTarget(img)
	if err != nil {
		b.gpu.DestroyImage(img)
		return nil, NewError(ImportFailed, "create target", bufferName(id), err)
	}

	if err := b.arena.acquire(id); err != nil {
		b.gpu.DeleteTarget(tex, target)
		b.gpu.DestroyImage(img)
		return nil, err
	}

	b.log.WithFields(logrus.Fields{
		"buffer":  id,
		"texture": tex,
		"target":  target,
	}).Debug("Buffer imported")

	return &ImportedSurface{
		Buffer:  id,
		Image:   img,
		Texture: tex,
		Target:  target,
		Layout:  h.Layout,
	}, nil
}

// Release destroys the render target, the texture and the external image and
// drops the surface's reference on its buffer. Releasing twice logs and
// returns nil.
func (b *ImportBridge) Release(s *ImportedSurface) error {
	if s == nil {
		return nil
	}
	if s.released {
		b.log.WithField("buffer", s.Buffer).Warn("Surface already released")
		return nil
	}
	s.released = true

	b.gpu.DeleteTarget(s.Texture, s.Target)
	err := b.gpu.DestroyImage(s.Image)
	b.arena.release(s.Buffer)
	if err != nil {
		return NewError(ImportFailed, "destroy image", bufferName(s.Buffer), err)
	}
	return nil
}
