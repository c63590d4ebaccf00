package kmsgl

import (
	"fmt"
	"strings"
)

// PixelFormat is a DRM fourcc code. The allocator, the display controller and
// the rendering API all see the same value.
type PixelFormat uint32

const (
	// XRGB8888 is 32-bit RGB with the top byte ignored (0xxxRRGGBB)
	XRGB8888 PixelFormat = 'X' | 'R'<<8 | '2'<<16 | '4'<<24
	// ARGB8888 is 32-bit RGB with alpha (0xAARRGGBB)
	ARGB8888 PixelFormat = 'A' | 'R'<<8 | '2'<<16 | '4'<<24
	// RGB565 is 16-bit RGB (5-6-5)
	RGB565 PixelFormat = 'R' | 'G'<<8 | '1'<<16 | '6'<<24
)

var formatNames = map[PixelFormat]string{
	XRGB8888: "XRGB8888",
	ARGB8888: "ARGB8888",
	RGB565:   "RGB565",
}

func (f PixelFormat) String() string {
	if name, ok := formatNames[f]; ok {
		return name
	}
	return fmt.Sprintf("fourcc(%#08x)", uint32(f))
}

// ParsePixelFormat parses a format name such as "XRGB8888".
func ParsePixelFormat(name string) (PixelFormat, error) {
	for f, n := range formatNames {
		if strings.EqualFold(n, name) {
			return f, nil
		}
	}
	return 0, fmt.Errorf("unsupported pixel format %q", name)
}

// PixelSize returns the number of bytes per pixel.
func (f PixelFormat) PixelSize() int {
	switch f {
	case RGB565:
		return 2
	case XRGB8888, ARGB8888:
		return 4
	default:
		return 0
	}
}

// Depth returns the color depth used by the legacy AddFB call.
func (f PixelFormat) Depth() int {
	switch f {
	case RGB565:
		return 16
	case XRGB8888:
		return 24
	case ARGB8888:
		return 32
	default:
		return 0
	}
}

// Usage is the set of subsystems a buffer must be usable by.
type Usage uint8

const (
	UsageScanout Usage = 1 << iota
	UsageRendering
	// UsageMapping asks for a linear layout the CPU can write through a
	// mapping.
	UsageMapping
)

// Has reports whether every usage in o is in u.
func (u Usage) Has(o Usage) bool {
	return u&o == o
}

func (u Usage) String() string {
	var parts []string
	if u.Has(UsageScanout) {
		parts = append(parts, "scanout")
	}
	if u.Has(UsageRendering) {
		parts = append(parts, "rendering")
	}
	if u.Has(UsageMapping) {
		parts = append(parts, "mapping")
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "|")
}

// Layout describes the memory of a pixel buffer as the hardware laid it out.
// Stride and Offset are read back from the allocation, never computed.
type Layout struct {
	Width  int
	Height int
	Format PixelFormat
	Stride uint32
	Offset uint32
}

// Color is a linear RGBA clear color.
type Color struct {
	R, G, B, A float32
}
