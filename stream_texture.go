package kmsgl

import (
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
)

// StreamTexture is a texture whose pixels are written by the CPU through a
// mapping of its buffer instead of being uploaded.
type StreamTexture struct {
	arena   *BufferArena
	bridge  *ImportBridge
	surface *ImportedSurface
	mapping *Mapping
	log     logrus.FieldLogger
}

func newStreamTexture(arena *BufferArena, bridge *ImportBridge, width, height int, format PixelFormat, log logrus.FieldLogger) (*StreamTexture, error) {
	id, err := arena.Allocate(width, height, format, UsageRendering|UsageMapping)
	if err != nil {
		return nil, err
	}
	t := &StreamTexture{arena: arena, bridge: bridge, log: log.WithField("buffer", id)}

	if t.surface, err = bridge.ImportBuffer(id); err != nil {
		arena.Free(id)
		return nil, err
	}
	if t.mapping, err = arena.Map(id); err != nil {
		t.Close()
		return nil, err
	}
	t.log.WithField("texture", t.surface.Texture).Debug("Stream texture created")
	return t, nil
}

// Texture returns the texture sampling the buffer.
func (t *StreamTexture) Texture() TextureHandle {
	return t.surface.Texture
}

// Layout returns the layout of the buffer behind the texture.
func (t *StreamTexture) Layout() Layout {
	return t.surface.Layout
}

// Update runs fill inside a write access to the texture's memory.
func (t *StreamTexture) Update(fill func(m *Mapping) error) error {
	if t.mapping == nil {
		return errors.New("update stream texture: closed")
	}
	if err := t.mapping.BeginAccess(true); err != nil {
		return err
	}
	ferr := fill(t.mapping)
	if err := t.mapping.EndAccess(); err != nil {
		return err
	}
	if ferr != nil {
		return fmt.Errorf("update stream texture: %w", ferr)
	}
	return nil
}

// Close unmaps the buffer, releases the texture and frees the buffer.
// Closing twice does nothing.
func (t *StreamTexture) Close() error {
	if t.surface == nil {
		return nil
	}
	id := t.surface.Buffer
	var errs []error
	if t.mapping != nil {
		errs = append(errs, t.arena.Unmap(t.mapping))
		t.mapping = nil
	}
	errs = append(errs, t.bridge.Release(t.surface))
	t.surface = nil
	errs = append(errs, t.arena.Free(id))
	return errors.Join(errs...)
}

// NewStreamTexture allocates a width x height texture in the pipeline's pixel
// format and maps it for CPU writes. The pipeline releases it on Close.
func (p *Pipeline) NewStreamTexture(width, height int) (*StreamTexture, error) {
	t, err := newStreamTexture(p.arena, p.bridge, width, height, p.settings.format, p.log)
	if err != nil {
		return nil, err
	}
	p.streams = append(p.streams, t)
	return t, nil
}

// StreamScene draws Mesh sampling Texture, after Fill has rewritten the
// texture for the frame.
type StreamScene struct {
	Program *Program
	Mesh    Mesh
	Texture *StreamTexture
	Fill    func(m *Mapping, frame uint64) error
}

// Draw implements Scene.
func (s *StreamScene) Draw(r *Renderer, frame uint64) error {
	err := s.Texture.Update(func(m *Mapping) error {
		return s.Fill(m, frame)
	})
	if err != nil {
		return err
	}
	mesh := s.Mesh
	mesh.Texture = s.Texture.Texture()
	return r.DrawFrame(s.Program, mesh)
}

const checkerSize = 64

// Checker returns a Fill drawing black and white squares that slide along x
// by two squares every period frames.
func Checker(period uint64) func(m *Mapping, frame uint64) error {
	if period == 0 {
		period = 1
	}
	return func(m *Mapping, frame uint64) error {
		shift := int(frame % period * 2 * checkerSize / period)
		bpp := m.Layout.Format.PixelSize()
		for y := 0; y < m.Layout.Height; y++ {
			row := m.Row(y)
			band := y / checkerSize % 2
			for x := 0; x < m.Layout.Width; x++ {
				var v byte
				if (x+shift)/checkerSize%2 != band {
					v = 0xff
				}
				px := row[x*bpp : (x+1)*bpp]
				for i := range px {
					px[i] = v
				}
			}
		}
		return nil
	}
}
