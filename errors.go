package kmsgl

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind identifies a pipeline failure. It implements error so callers can
// match with errors.Is(err, kmsgl.NoConnectedOutput).
type ErrorKind int

const (
	DeviceUnavailable ErrorKind = iota + 1
	EnumerationFailed
	NoConnectedOutput
	NoCrtcAvailable
	MissingExtension
	DisplayCreationFailed
	ContextCreationFailed
	ShaderCompileFailed
	LinkFailed
	ModeSetFailed
	AllocationFailed
	FramebufferRegistrationFailed
	ImportFailed
	PageFlipRejected
	FlipTimeout
	BufferStillReferenced
	BufferNotFound
	InvalidTransition
	MappingFailed
)

var kindNames = map[ErrorKind]string{
	DeviceUnavailable:             "device unavailable",
	EnumerationFailed:             "enumeration failed",
	NoConnectedOutput:             "no connected output",
	NoCrtcAvailable:               "no CRTC available",
	MissingExtension:              "missing extension",
	DisplayCreationFailed:         "display creation failed",
	ContextCreationFailed:         "context creation failed",
	ShaderCompileFailed:           "shader compile error",
	LinkFailed:                    "link error",
	ModeSetFailed:                 "mode set failed",
	AllocationFailed:              "allocation failed",
	FramebufferRegistrationFailed: "framebuffer registration failed",
	ImportFailed:                  "import failed",
	PageFlipRejected:              "page flip rejected",
	FlipTimeout:                   "page flip timed out",
	BufferStillReferenced:         "buffer still referenced",
	BufferNotFound:                "buffer not found",
	InvalidTransition:             "invalid slot transition",
	MappingFailed:                 "mapping failed",
}

func (k ErrorKind) Error() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("error kind %d", int(k))
}

// ErrorClass groups kinds by how the pipeline reacts to them.
type ErrorClass int

const (
	// FatalAtStartup failures stop the pipeline before the first frame.
	FatalAtStartup ErrorClass = iota
	// FatalPerResource failures make one buffer or slot unusable.
	FatalPerResource
	// Transient failures are retried on the next scheduler tick.
	Transient
	// Precondition failures are programming errors.
	Precondition
)

func (c ErrorClass) String() string {
	switch c {
	case FatalAtStartup:
		return "fatal-at-startup"
	case FatalPerResource:
		return "fatal-per-resource"
	case Transient:
		return "transient"
	case Precondition:
		return "precondition"
	default:
		return "unknown"
	}
}

// Class returns the reaction class of k.
func (k ErrorKind) Class() ErrorClass {
	switch k {
	case AllocationFailed, FramebufferRegistrationFailed, ImportFailed, MappingFailed:
		return FatalPerResource
	case PageFlipRejected, FlipTimeout:
		return Transient
	case BufferStillReferenced, BufferNotFound, InvalidTransition:
		return Precondition
	default:
		return FatalAtStartup
	}
}

// Error is a failure of one pipeline stage on one resource.
type Error struct {
	Kind     ErrorKind
	Stage    string
	Resource string
	Err      error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Stage)
	if e.Resource != "" {
		b.WriteString(" ")
		b.WriteString(e.Resource)
	}
	b.WriteString(": ")
	b.WriteString(e.Kind.Error())
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// NewError builds an *Error for stage failing on resource.
func NewError(kind ErrorKind, stage, resource string, err error) *Error {
	return &Error{Kind: kind, Stage: stage, Resource: resource, Err: err}
}

// KindOf returns the kind of the first *Error in err's chain, or 0.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

// MissingExtensionError names a rendering capability the driver lacks.
type MissingExtensionError struct {
	Name      string
	Extension string
}

func (e *MissingExtensionError) Error() string {
	return fmt.Sprintf("capability %q unavailable (%s)", e.Name, e.Extension)
}

// ShaderStage is a programmable pipeline stage.
type ShaderStage int

const (
	VertexStage ShaderStage = iota
	FragmentStage
)

func (s ShaderStage) String() string {
	if s == VertexStage {
		return "vertex"
	}
	return "fragment"
}

// ShaderCompileError carries the compiler log of a failed stage.
type ShaderCompileError struct {
	Stage ShaderStage
	Log   string
}

func (e *ShaderCompileError) Error() string {
	return fmt.Sprintf("%s shader: %s", e.Stage, e.Log)
}

// LinkError carries the linker log of a failed program.
type LinkError struct {
	Log string
}

func (e *LinkError) Error() string {
	return "program link: " + e.Log
}
