package kmsgl

import (
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
)

// Mesh is a flat array of vertex positions drawn as triangles.
type Mesh struct {
	Vertices []float32
	// Components per vertex, 2 or 3.
	Components int
	// Texture, when set, is bound to texture unit 0 for the draw.
	Texture TextureHandle
}

// Count returns the number of vertices.
func (m Mesh) Count() int {
	if m.Components <= 0 {
		return 0
	}
	return len(m.Vertices) / m.Components
}

// Program is a linked shader program.
type Program struct {
	handle ProgramHandle
	gpu    GPU
}

// Delete releases the program. Deleting twice does nothing.
func (p *Program) Delete() {
	if p == nil || p.gpu == nil {
		return
	}
	p.gpu.DeleteProgram(p.handle)
	p.gpu = nil
}

// Scene draws one frame into the renderer's bound target.
type Scene interface {
	Draw(r *Renderer, frame uint64) error
}

// StaticScene draws the same mesh every frame.
type StaticScene struct {
	Program *Program
	Mesh    Mesh
}

// Draw implements Scene.
func (s *StaticScene) Draw(r *Renderer, frame uint64) error {
	return r.DrawFrame(s.Program, s.Mesh)
}

// Renderer issues draw commands into an imported surface.
type Renderer struct {
	gpu        GPU
	sync       SyncMode
	clearColor Color
	log        logrus.FieldLogger

	bound *ImportedSurface
}

// NewRenderer creates a renderer on gpu. A fence sync mode degrades to finish
// when the context has no fence support.
func NewRenderer(gpu GPU, sync SyncMode, clearColor Color, log logrus.FieldLogger) *Renderer {
	if sync == SyncFence && !gpu.HasFenceSync() {
		sync = SyncFinish
	}
	return &Renderer{gpu: gpu, sync: sync, clearColor: clearColor, log: log}
}

// SyncMode returns the effective GPU completion mode.
func (r *Renderer) SyncMode() SyncMode {
	return r.sync
}

// LoadProgram compiles and links a program. Attribute i of attribs is bound
// to location i. Compiler and linker logs are returned in
// *ShaderCompileError and *LinkError.
func (r *Renderer) LoadProgram(vertexSrc, fragmentSrc string, attribs []string) (*Program, error) {
	h, err := r.gpu.CompileProgram(vertexSrc, fragmentSrc, attribs)
	if err != nil {
		var compileErr *ShaderCompileError
		var linkErr *LinkError
		switch {
		case errors.As(err, &compileErr):
			return nil, NewError(ShaderCompileFailed, "load program", compileErr.Stage.String()+" shader", err)
		case errors.As(err, &linkErr):
			return nil, NewError(LinkFailed, "load program", "", err)
		}
		return nil, fmt.Errorf("load program: %w", err)
	}
	r.log.WithField("program", h).Debug("Program linked")
	return &Program{handle: h, gpu: r.gpu}, nil
}

// BindTarget makes s the destination of subsequent draws.
func (r *Renderer) BindTarget(s *ImportedSurface) error {
	if s == nil || s.Released() {
		return errors.New("bind target: surface released")
	}
	r.gpu.BindTarget(s.Target, s.Layout.Width, s.Layout.Height)
	r.bound = s
	return nil
}

// Bound returns the surface draws currently go to.
func (r *Renderer) Bound() *ImportedSurface {
	return r.bound
}

// DrawFrame clears the bound target and draws mesh with p.
func (r *Renderer) DrawFrame(p *Program, mesh Mesh) error {
	if r.bound == nil {
		return errors.New("draw frame: no target bound")
	}
	if p == nil || p.gpu == nil {
		return errors.New("draw frame: program deleted")
	}
	r.gpu.Clear(r.clearColor)
	if err := r.gpu.DrawArrays(p.handle, mesh); err != nil {
		return fmt.Errorf("draw frame into buffer %d: %w", r.bound.Buffer, err)
	}
	return nil
}

// Finish blocks until the GPU has completed every command issued so far, so
// the buffer can be handed to the display controller.
func (r *Renderer) Finish() error {
	if err := r.gpu.Sync(r.sync); err != nil {
		return fmt.Errorf("gpu sync (%s): %w", r.sync, err)
	}
	return nil
}
