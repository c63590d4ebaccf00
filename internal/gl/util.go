// SPDX-License-Identifier: Unlicense OR MIT

package gl

import (
	"errors"
	"fmt"
	"strings"
)

// ShaderError is a failed shader compilation with the driver's log.
type ShaderError struct {
	Type Enum
	Log  string
}

func (e *ShaderError) Error() string {
	return fmt.Sprintf("%s shader compilation failed: %s", ShaderTypeName(e.Type), strings.TrimSpace(e.Log))
}

// LinkError is a failed program link with the driver's log.
type LinkError struct {
	Log string
}

func (e *LinkError) Error() string {
	return fmt.Sprintf("program link failed: %s", strings.TrimSpace(e.Log))
}

// ShaderTypeName returns "vertex" or "fragment".
func ShaderTypeName(ty Enum) string {
	switch ty {
	case VERTEX_SHADER:
		return "vertex"
	case FRAGMENT_SHADER:
		return "fragment"
	default:
		return fmt.Sprintf("shader(%#x)", uint(ty))
	}
}

// CreateProgram compiles and links a program, binding attribs to locations
// 0, 1 and so on in order.
func CreateProgram(ctx *Functions, vsSrc, fsSrc string, attribs []string) (Program, error) {
	vs, err := createShader(ctx, VERTEX_SHADER, vsSrc)
	if err != nil {
		return Program{}, err
	}
	defer ctx.DeleteShader(vs)
	fs, err := createShader(ctx, FRAGMENT_SHADER, fsSrc)
	if err != nil {
		return Program{}, err
	}
	defer ctx.DeleteShader(fs)
	prog := ctx.CreateProgram()
	if !prog.Valid() {
		return Program{}, errors.New("glCreateProgram failed")
	}
	ctx.AttachShader(prog, vs)
	ctx.AttachShader(prog, fs)
	for i, a := range attribs {
		ctx.BindAttribLocation(prog, Attrib(i), a)
	}
	ctx.LinkProgram(prog)
	if ctx.GetProgrami(prog, LINK_STATUS) == 0 {
		log := ctx.GetProgramInfoLog(prog)
		ctx.DeleteProgram(prog)
		return Program{}, &LinkError{Log: log}
	}
	return prog, nil
}

func createShader(ctx *Functions, typ Enum, src string) (Shader, error) {
	sh := ctx.CreateShader(typ)
	if !sh.Valid() {
		return Shader{}, errors.New("glCreateShader failed")
	}
	ctx.ShaderSource(sh, src)
	ctx.CompileShader(sh)
	if ctx.GetShaderi(sh, COMPILE_STATUS) == 0 {
		log := ctx.GetShaderInfoLog(sh)
		ctx.DeleteShader(sh)
		return Shader{}, &ShaderError{Type: typ, Log: log}
	}
	return sh, nil
}
