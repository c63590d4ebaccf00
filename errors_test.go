package kmsgl

import (
	"errors"
	"strings"
	"testing"

	"golang.org/x/sys/unix"
)

func TestErrorMatchesKindAndCause(t *testing.T) {
	err := error(NewError(DeviceUnavailable, "open", "/dev/dri/card9", unix.ENOENT))

	if !errors.Is(err, DeviceUnavailable) {
		t.Fatalf("expected errors.Is to match DeviceUnavailable: %v", err)
	}
	if errors.Is(err, EnumerationFailed) {
		t.Fatalf("unexpected match of EnumerationFailed")
	}
	if !errors.Is(err, unix.ENOENT) {
		t.Fatalf("expected the cause to be reachable")
	}
	if KindOf(err) != DeviceUnavailable {
		t.Fatalf("KindOf = %v", KindOf(err))
	}

	msg := err.Error()
	for _, want := range []string{"open", "/dev/dri/card9", "device unavailable"} {
		if !strings.Contains(msg, want) {
			t.Errorf("message %q does not contain %q", msg, want)
		}
	}
}

func TestKindOfUnrelatedError(t *testing.T) {
	if k := KindOf(errors.New("boom")); k != 0 {
		t.Fatalf("KindOf = %v, want 0", k)
	}
}

func TestErrorClass(t *testing.T) {
	tests := []struct {
		kind ErrorKind
		want ErrorClass
	}{
		{DeviceUnavailable, FatalAtStartup},
		{MissingExtension, FatalAtStartup},
		{ShaderCompileFailed, FatalAtStartup},
		{ModeSetFailed, FatalAtStartup},
		{AllocationFailed, FatalPerResource},
		{FramebufferRegistrationFailed, FatalPerResource},
		{ImportFailed, FatalPerResource},
		{PageFlipRejected, Transient},
		{FlipTimeout, Transient},
		{BufferStillReferenced, Precondition},
		{InvalidTransition, Precondition},
		{MappingFailed, FatalPerResource},
	}
	for _, tt := range tests {
		if got := tt.kind.Class(); got != tt.want {
			t.Errorf("%v.Class() = %v, want %v", tt.kind, got, tt.want)
		}
	}
}

func TestDetailErrorsReachable(t *testing.T) {
	err := error(NewError(MissingExtension, "check capabilities", "zero-copy-import",
		&MissingExtensionError{Name: "zero-copy-import", Extension: "EGL_EXT_image_dma_buf_import"}))

	var missing *MissingExtensionError
	if !errors.As(err, &missing) {
		t.Fatalf("expected *MissingExtensionError in %v", err)
	}
	if missing.Name != "zero-copy-import" {
		t.Fatalf("Name = %q", missing.Name)
	}
}
