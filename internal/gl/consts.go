// SPDX-License-Identifier: Unlicense OR MIT

package gl

const (
	ARRAY_BUFFER                  = 0x8892
	COLOR_ATTACHMENT0             = 0x8ce0
	COLOR_BUFFER_BIT              = 0x4000
	COMPILE_STATUS                = 0x8b81
	EXTENSIONS                    = 0x1f03
	FLOAT                         = 0x1406
	FRAGMENT_SHADER               = 0x8b30
	FRAMEBUFFER                   = 0x8d40
	FRAMEBUFFER_COMPLETE          = 0x8cd5
	LINEAR                        = 0x2601
	LINK_STATUS                   = 0x8b82
	NO_ERROR                      = 0x0
	RENDERER                      = 0x1f01
	STREAM_DRAW                   = 0x88e0
	TEXTURE0                      = 0x84c0
	TEXTURE_2D                    = 0xde1
	TEXTURE_MAG_FILTER            = 0x2800
	TEXTURE_MIN_FILTER            = 0x2801
	TRIANGLES                     = 0x4
	VERSION                       = 0x1f02
	VERTEX_SHADER                 = 0x8b31
	FALSE                         = 0
	TRUE                          = 1
	SHADING_LANGUAGE_VERSION      = 0x8b8c
	FRAMEBUFFER_UNSUPPORTED       = 0x8cdd
	FRAMEBUFFER_INCOMPLETE_ATTACH = 0x8cd6
)
