package kms

import (
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/rmcsoft/kmsgl"
	"github.com/rmcsoft/kmsgl/internal/egl"
	"github.com/rmcsoft/kmsgl/internal/gl"
)

const fenceTimeout = time.Second

// Display is an EGL display on the allocator's GBM device.
type Display struct {
	egl *egl.Display
	log logrus.FieldLogger
}

// Extensions implements kmsgl.RenderDisplay. Client extensions come first.
func (d *Display) Extensions() []string {
	return append(egl.ClientExtensions(), d.egl.Extensions()...)
}

// Terminate implements kmsgl.RenderDisplay.
func (d *Display) Terminate() error {
	return d.egl.Terminate()
}

func (d *Display) hasExtension(name string) bool {
	for _, e := range d.egl.Extensions() {
		if e == name {
			return true
		}
	}
	return false
}

// GPU is a surfaceless GLES context current on the thread that created it.
type GPU struct {
	disp  *Display
	ctx   *egl.Context
	f     *gl.Functions
	vbo   gl.Buffer
	fence bool
	log   logrus.FieldLogger

	nextImage kmsgl.ImageHandle
	images    map[kmsgl.ImageHandle]egl.Image
	programs  map[kmsgl.ProgramHandle]gl.Program
}

func newGPU(disp *Display, version int, log logrus.FieldLogger) (*GPU, error) {
	ctx, err := disp.egl.CreateContext(version)
	if err != nil {
		return nil, err
	}
	f := gl.NewFunctions()
	g := &GPU{
		disp:     disp,
		ctx:      ctx,
		f:        f,
		vbo:      f.CreateBuffer(),
		fence:    disp.hasExtension("EGL_KHR_fence_sync"),
		log:      log,
		images:   make(map[kmsgl.ImageHandle]egl.Image),
		programs: make(map[kmsgl.ProgramHandle]gl.Program),
	}
	log.WithFields(logrus.Fields{
		"renderer": f.GetString(gl.RENDERER),
		"version":  f.GetString(gl.VERSION),
	}).Info("Rendering context created")
	return g, nil
}

// Extensions implements kmsgl.GPU.
func (g *GPU) Extensions() []string {
	return g.f.Extensions()
}

// HasFenceSync implements kmsgl.GPU.
func (g *GPU) HasFenceSync() bool {
	return g.fence
}

// CreateImage implements kmsgl.GPU.
func (g *GPU) CreateImage(h kmsgl.ExternalHandle) (kmsgl.ImageHandle, error) {
	l := h.Layout
	img, err := g.disp.egl.CreateDMABufImage(h.FD, l.Width, l.Height, uint32(l.Format), l.Stride, l.Offset)
	if err != nil {
		return 0, err
	}
	g.nextImage++
	g.images[g.nextImage] = img
	return g.nextImage, nil
}

// DestroyImage implements kmsgl.GPU.
func (g *GPU) DestroyImage(h kmsgl.ImageHandle) error {
	img, ok := g.images[h]
	if !ok {
		return fmt.Errorf("unknown image %d", h)
	}
	delete(g.images, h)
	return g.disp.egl.DestroyImage(img)
}

// CreateTarget implements kmsgl.GPU.
func (g *GPU) CreateTarget(h kmsgl.ImageHandle) (kmsgl.TextureHandle, kmsgl.TargetHandle, error) {
	img, ok := g.images[h]
	if !ok {
		return 0, 0, fmt.Errorf("unknown image %d", h)
	}
	f := g.f

	tex := f.CreateTexture()
	f.BindTexture(gl.TEXTURE_2D, tex)
	f.TexParameteri(gl.TEXTURE_2D, gl.TEXTURE_MIN_FILTER, gl.LINEAR)
	f.TexParameteri(gl.TEXTURE_2D, gl.TEXTURE_MAG_FILTER, gl.LINEAR)
	if err := f.EGLImageTargetTexture2DOES(gl.TEXTURE_2D, img.Pointer()); err != nil {
		f.DeleteTexture(tex)
		return 0, 0, err
	}
	if e := f.GetError(); e != gl.NO_ERROR {
		f.DeleteTexture(tex)
		return 0, 0, fmt.Errorf("glEGLImageTargetTexture2DOES: error %#x", uint(e))
	}

	fbo := f.CreateFramebuffer()
	f.BindFramebuffer(gl.FRAMEBUFFER, fbo)
	f.FramebufferTexture2D(gl.FRAMEBUFFER, gl.COLOR_ATTACHMENT0, gl.TEXTURE_2D, tex, 0)
	if st := f.CheckFramebufferStatus(gl.FRAMEBUFFER); st != gl.FRAMEBUFFER_COMPLETE {
		f.BindFramebuffer(gl.FRAMEBUFFER, gl.Framebuffer{})
		f.DeleteFramebuffer(fbo)
		f.DeleteTexture(tex)
		return 0, 0, fmt.Errorf("framebuffer incomplete (%#x)", uint(st))
	}
	f.BindFramebuffer(gl.FRAMEBUFFER, gl.Framebuffer{})
	return kmsgl.TextureHandle(tex.V), kmsgl.TargetHandle(fbo.V), nil
}

// DeleteTarget implements kmsgl.GPU.
func (g *GPU) DeleteTarget(tex kmsgl.TextureHandle, target kmsgl.TargetHandle) {
	g.f.DeleteFramebuffer(gl.Framebuffer{V: uint(target)})
	g.f.DeleteTexture(gl.Texture{V: uint(tex)})
}

// BindTarget implements kmsgl.GPU.
func (g *GPU) BindTarget(target kmsgl.TargetHandle, width, height int) {
	g.f.BindFramebuffer(gl.FRAMEBUFFER, gl.Framebuffer{V: uint(target)})
	g.f.Viewport(0, 0, width, height)
}

// CompileProgram implements kmsgl.GPU.
func (g *GPU) CompileProgram(vertexSrc, fragmentSrc string, attribs []string) (kmsgl.ProgramHandle, error) {
	p, err := gl.CreateProgram(g.f, vertexSrc, fragmentSrc, attribs)
	if err != nil {
		var se *gl.ShaderError
		var le *gl.LinkError
		switch {
		case errors.As(err, &se):
			stage := kmsgl.VertexStage
			if se.Type == gl.FRAGMENT_SHADER {
				stage = kmsgl.FragmentStage
			}
			return 0, &kmsgl.ShaderCompileError{Stage: stage, Log: se.Log}
		case errors.As(err, &le):
			return 0, &kmsgl.LinkError{Log: le.Log}
		}
		return 0, err
	}
	h := kmsgl.ProgramHandle(p.V)
	g.programs[h] = p
	return h, nil
}

// DeleteProgram implements kmsgl.GPU.
func (g *GPU) DeleteProgram(h kmsgl.ProgramHandle) {
	if p, ok := g.programs[h]; ok {
		delete(g.programs, h)
		g.f.DeleteProgram(p)
	}
}

// Clear implements kmsgl.GPU.
func (g *GPU) Clear(c kmsgl.Color) {
	g.f.ClearColor(c.R, c.G, c.B, c.A)
	g.f.Clear(gl.COLOR_BUFFER_BIT)
}

// DrawArrays implements kmsgl.GPU. Vertices are streamed through one buffer
// object into attribute 0; a mesh texture is sampled from unit 0.
func (g *GPU) DrawArrays(h kmsgl.ProgramHandle, mesh kmsgl.Mesh) error {
	p, ok := g.programs[h]
	if !ok {
		return fmt.Errorf("unknown program %d", h)
	}
	f := g.f
	f.UseProgram(p)
	if mesh.Texture != 0 {
		f.ActiveTexture(gl.TEXTURE0)
		f.BindTexture(gl.TEXTURE_2D, gl.Texture{V: uint(mesh.Texture)})
	}
	f.BindBuffer(gl.ARRAY_BUFFER, g.vbo)
	f.BufferDataFloat32(gl.ARRAY_BUFFER, mesh.Vertices, gl.STREAM_DRAW)
	f.VertexAttribPointer(0, mesh.Components, gl.FLOAT, false, 0, 0)
	f.EnableVertexAttribArray(0)
	f.DrawArrays(gl.TRIANGLES, 0, mesh.Count())
	f.DisableVertexAttribArray(0)
	if e := f.GetError(); e != gl.NO_ERROR {
		return fmt.Errorf("draw: GL error %#x", uint(e))
	}
	return nil
}

// Sync implements kmsgl.GPU.
func (g *GPU) Sync(mode kmsgl.SyncMode) error {
	switch mode {
	case kmsgl.SyncFence:
		if g.fence {
			return g.disp.egl.FenceWait(fenceTimeout)
		}
		g.f.Finish()
	case kmsgl.SyncFinish:
		g.f.Finish()
	default:
		g.f.Flush()
	}
	return nil
}

// Destroy implements kmsgl.GPU.
func (g *GPU) Destroy() error {
	for h, p := range g.programs {
		g.f.DeleteProgram(p)
		delete(g.programs, h)
	}
	for h := range g.images {
		if err := g.DestroyImage(h); err != nil {
			g.log.WithError(err).Warn("Failed to destroy image")
		}
	}
	g.f.DeleteBuffer(g.vbo)
	return g.ctx.Destroy()
}
