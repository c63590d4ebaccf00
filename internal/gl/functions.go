// SPDX-License-Identifier: Unlicense OR MIT

// Package gl binds the subset of OpenGL ES 2.0 used to draw into imported
// buffers. Every call must be made on the thread the context is current on.
package gl

/*
#cgo LDFLAGS: -lGLESv2 -lEGL

#include <stdlib.h>
#include <EGL/egl.h>
#include <GLES2/gl2.h>
#include <GLES2/gl2ext.h>

static PFNGLEGLIMAGETARGETTEXTURE2DOESPROC kmsgl_imageTargetTexture2D;

static int kmsgl_gl_load(void) {
	kmsgl_imageTargetTexture2D = (PFNGLEGLIMAGETARGETTEXTURE2DOESPROC)eglGetProcAddress("glEGLImageTargetTexture2DOES");
	return kmsgl_imageTargetTexture2D != NULL;
}

static void kmsgl_glEGLImageTargetTexture2DOES(GLenum target, void *image) {
	kmsgl_imageTargetTexture2D(target, (GLeglImageOES)image);
}

static void kmsgl_glVertexAttribPointer(GLuint index, GLint size, GLenum type, GLboolean normalized, GLsizei stride, uintptr_t offset) {
	glVertexAttribPointer(index, size, type, normalized, stride, (const void *)offset);
}
*/
import "C"

import (
	"errors"
	"strings"
	"unsafe"
)

// Functions calls into the current GLES context.
type Functions struct {
	hasImageTarget bool
}

// NewFunctions resolves the extension entry points. The context must be
// current.
func NewFunctions() *Functions {
	return &Functions{hasImageTarget: C.kmsgl_gl_load() != 0}
}

func (f *Functions) ActiveTexture(texture Enum) {
	C.glActiveTexture(C.GLenum(texture))
}

func (f *Functions) AttachShader(p Program, s Shader) {
	C.glAttachShader(C.GLuint(p.V), C.GLuint(s.V))
}

func (f *Functions) BindAttribLocation(p Program, a Attrib, name string) {
	cname := C.CString(name)
	defer C.free(unsafe.Pointer(cname))
	C.glBindAttribLocation(C.GLuint(p.V), C.GLuint(a), cname)
}

func (f *Functions) BindBuffer(target Enum, b Buffer) {
	C.glBindBuffer(C.GLenum(target), C.GLuint(b.V))
}

func (f *Functions) BindFramebuffer(target Enum, fb Framebuffer) {
	C.glBindFramebuffer(C.GLenum(target), C.GLuint(fb.V))
}

func (f *Functions) BindTexture(target Enum, t Texture) {
	C.glBindTexture(C.GLenum(target), C.GLuint(t.V))
}

// BufferDataFloat32 uploads data to the buffer bound to target.
func (f *Functions) BufferDataFloat32(target Enum, data []float32, usage Enum) {
	var p unsafe.Pointer
	if len(data) > 0 {
		p = unsafe.Pointer(&data[0])
	}
	C.glBufferData(C.GLenum(target), C.GLsizeiptr(len(data)*4), p, C.GLenum(usage))
}

func (f *Functions) CheckFramebufferStatus(target Enum) Enum {
	return Enum(C.glCheckFramebufferStatus(C.GLenum(target)))
}

func (f *Functions) Clear(mask Enum) {
	C.glClear(C.GLbitfield(mask))
}

func (f *Functions) ClearColor(red, green, blue, alpha float32) {
	C.glClearColor(C.GLfloat(red), C.GLfloat(green), C.GLfloat(blue), C.GLfloat(alpha))
}

func (f *Functions) CompileShader(s Shader) {
	C.glCompileShader(C.GLuint(s.V))
}

func (f *Functions) CreateBuffer() Buffer {
	var b C.GLuint
	C.glGenBuffers(1, &b)
	return Buffer{uint(b)}
}

func (f *Functions) CreateFramebuffer() Framebuffer {
	var fb C.GLuint
	C.glGenFramebuffers(1, &fb)
	return Framebuffer{uint(fb)}
}

func (f *Functions) CreateProgram() Program {
	return Program{uint(C.glCreateProgram())}
}

func (f *Functions) CreateShader(ty Enum) Shader {
	return Shader{uint(C.glCreateShader(C.GLenum(ty)))}
}

func (f *Functions) CreateTexture() Texture {
	var t C.GLuint
	C.glGenTextures(1, &t)
	return Texture{uint(t)}
}

func (f *Functions) DeleteBuffer(b Buffer) {
	v := C.GLuint(b.V)
	C.glDeleteBuffers(1, &v)
}

func (f *Functions) DeleteFramebuffer(fb Framebuffer) {
	v := C.GLuint(fb.V)
	C.glDeleteFramebuffers(1, &v)
}

func (f *Functions) DeleteProgram(p Program) {
	C.glDeleteProgram(C.GLuint(p.V))
}

func (f *Functions) DeleteShader(s Shader) {
	C.glDeleteShader(C.GLuint(s.V))
}

func (f *Functions) DeleteTexture(t Texture) {
	v := C.GLuint(t.V)
	C.glDeleteTextures(1, &v)
}

func (f *Functions) DisableVertexAttribArray(a Attrib) {
	C.glDisableVertexAttribArray(C.GLuint(a))
}

func (f *Functions) DrawArrays(mode Enum, first, count int) {
	C.glDrawArrays(C.GLenum(mode), C.GLint(first), C.GLsizei(count))
}

// EGLImageTargetTexture2DOES backs the texture bound to target with an
// EGLImage.
func (f *Functions) EGLImageTargetTexture2DOES(target Enum, image unsafe.Pointer) error {
	if !f.hasImageTarget {
		return errors.New("glEGLImageTargetTexture2DOES not available")
	}
	C.kmsgl_glEGLImageTargetTexture2DOES(C.GLenum(target), image)
	return nil
}

func (f *Functions) EnableVertexAttribArray(a Attrib) {
	C.glEnableVertexAttribArray(C.GLuint(a))
}

func (f *Functions) Finish() {
	C.glFinish()
}

func (f *Functions) Flush() {
	C.glFlush()
}

func (f *Functions) FramebufferTexture2D(target, attachment, texTarget Enum, t Texture, level int) {
	C.glFramebufferTexture2D(C.GLenum(target), C.GLenum(attachment), C.GLenum(texTarget), C.GLuint(t.V), C.GLint(level))
}

func (f *Functions) GetError() Enum {
	return Enum(C.glGetError())
}

func (f *Functions) GetProgrami(p Program, pname Enum) int {
	var v C.GLint
	C.glGetProgramiv(C.GLuint(p.V), C.GLenum(pname), &v)
	return int(v)
}

func (f *Functions) GetProgramInfoLog(p Program) string {
	var n C.GLint
	C.glGetProgramiv(C.GLuint(p.V), C.GL_INFO_LOG_LENGTH, &n)
	if n <= 0 {
		return ""
	}
	buf := C.malloc(C.size_t(n))
	defer C.free(buf)
	C.glGetProgramInfoLog(C.GLuint(p.V), C.GLsizei(n), nil, (*C.GLchar)(buf))
	return C.GoString((*C.char)(buf))
}

func (f *Functions) GetShaderi(s Shader, pname Enum) int {
	var v C.GLint
	C.glGetShaderiv(C.GLuint(s.V), C.GLenum(pname), &v)
	return int(v)
}

func (f *Functions) GetShaderInfoLog(s Shader) string {
	var n C.GLint
	C.glGetShaderiv(C.GLuint(s.V), C.GL_INFO_LOG_LENGTH, &n)
	if n <= 0 {
		return ""
	}
	buf := C.malloc(C.size_t(n))
	defer C.free(buf)
	C.glGetShaderInfoLog(C.GLuint(s.V), C.GLsizei(n), nil, (*C.GLchar)(buf))
	return C.GoString((*C.char)(buf))
}

func (f *Functions) GetString(pname Enum) string {
	s := C.glGetString(C.GLenum(pname))
	if s == nil {
		return ""
	}
	return C.GoString((*C.char)(unsafe.Pointer(s)))
}

// Extensions returns the context's extension list.
func (f *Functions) Extensions() []string {
	return strings.Fields(f.GetString(EXTENSIONS))
}

func (f *Functions) LinkProgram(p Program) {
	C.glLinkProgram(C.GLuint(p.V))
}

func (f *Functions) ShaderSource(s Shader, src string) {
	csrc := C.CString(src)
	defer C.free(unsafe.Pointer(csrc))
	length := C.GLint(len(src))
	C.glShaderSource(C.GLuint(s.V), 1, &csrc, &length)
}

func (f *Functions) TexParameteri(target, pname Enum, param int) {
	C.glTexParameteri(C.GLenum(target), C.GLenum(pname), C.GLint(param))
}

func (f *Functions) UseProgram(p Program) {
	C.glUseProgram(C.GLuint(p.V))
}

// VertexAttribPointer describes an attribute sourced from the bound array
// buffer at byte offset off.
func (f *Functions) VertexAttribPointer(dst Attrib, size int, ty Enum, normalized bool, stride, off int) {
	var n C.GLboolean = C.GL_FALSE
	if normalized {
		n = C.GL_TRUE
	}
	C.kmsgl_glVertexAttribPointer(C.GLuint(dst), C.GLint(size), C.GLenum(ty), n, C.GLsizei(stride), C.uintptr_t(off))
}

func (f *Functions) Viewport(x, y, width, height int) {
	C.glViewport(C.GLint(x), C.GLint(y), C.GLsizei(width), C.GLsizei(height))
}
