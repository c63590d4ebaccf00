// Package drmioctl issues the DRM ioctls that godrm does not wrap: master
// control, AddFB2, PRIME export and page flips, plus dma-buf access
// synchronisation. Capabilities are queried through godrm itself.
package drmioctl

import (
	"errors"
	"fmt"
	"unsafe"

	"github.com/NeowayLabs/drm/ioctl"
	drm "github.com/rmcsoft/godrm"
	"golang.org/x/sys/unix"
)

// Bits of the drm.CapPrime value.
const (
	PrimeCapImport = 0x1
	PrimeCapExport = 0x2
)

// Page flip flags.
const (
	PageFlipEvent = 0x01
	PageFlipAsync = 0x02
)

// Flags of DMA_BUF_IOCTL_SYNC.
const (
	SyncRead  = 1 << 0
	SyncWrite = 1 << 1
	SyncRW    = SyncRead | SyncWrite
	SyncStart = 0 << 2
	SyncEnd   = 1 << 2
)

const dmaBufBase = 'b'

type crtcPageFlip struct {
	crtcID   uint32
	fbID     uint32
	flags    uint32
	reserved uint32
	userData uint64
}

type primeHandle struct {
	handle uint32
	flags  uint32
	fd     int32
}

type fbCmd2 struct {
	fbID        uint32
	width       uint32
	height      uint32
	pixelFormat uint32
	flags       uint32
	handles     [4]uint32
	pitches     [4]uint32
	offsets     [4]uint32
	modifier    [4]uint64
}

type dmaBufSync struct {
	flags uint64
}

var (
	// DRM_IO(0x1e)
	IOCTLSetMaster = ioctl.NewCode(ioctl.None, 0, drm.IOCTLBase, 0x1e)

	// DRM_IO(0x1f)
	IOCTLDropMaster = ioctl.NewCode(ioctl.None, 0, drm.IOCTLBase, 0x1f)

	// DRM_IOWR(0x2d, struct drm_prime_handle)
	IOCTLPrimeHandleToFD = ioctl.NewCode(ioctl.Read|ioctl.Write,
		uint16(unsafe.Sizeof(primeHandle{})), drm.IOCTLBase, 0x2d)

	// DRM_IOWR(0xB0, struct drm_mode_crtc_page_flip)
	IOCTLModePageFlip = ioctl.NewCode(ioctl.Read|ioctl.Write,
		uint16(unsafe.Sizeof(crtcPageFlip{})), drm.IOCTLBase, 0xB0)

	// DRM_IOWR(0xB8, struct drm_mode_fb_cmd2)
	IOCTLModeAddFB2 = ioctl.NewCode(ioctl.Read|ioctl.Write,
		uint16(unsafe.Sizeof(fbCmd2{})), drm.IOCTLBase, 0xB8)

	// _IOW('b', 0, struct dma_buf_sync)
	IOCTLDmaBufSync = ioctl.NewCode(ioctl.Write,
		uint16(unsafe.Sizeof(dmaBufSync{})), dmaBufBase, 0)
)

// do retries on EINTR and EAGAIN the way libdrm's drmIoctl does.
func do(fd uintptr, code uint32, arg unsafe.Pointer) error {
	for {
		err := ioctl.Do(fd, uintptr(code), uintptr(arg))
		if err == unix.EINTR || err == unix.EAGAIN {
			continue
		}
		return err
	}
}

// SetMaster makes fd the DRM master of its device.
func SetMaster(fd uintptr) error {
	if err := do(fd, IOCTLSetMaster, nil); err != nil {
		return fmt.Errorf("DRM_IOCTL_SET_MASTER: %w", err)
	}
	return nil
}

// DropMaster releases DRM master.
func DropMaster(fd uintptr) error {
	if err := do(fd, IOCTLDropMaster, nil); err != nil {
		return fmt.Errorf("DRM_IOCTL_DROP_MASTER: %w", err)
	}
	return nil
}

// PageFlip queues a flip of crtcID to fbID on the next vblank. With
// PageFlipEvent set, completion is reported on fd as a FlipComplete event
// carrying userData.
func PageFlip(fd uintptr, crtcID, fbID, flags uint32, userData uint64) error {
	f := crtcPageFlip{
		crtcID:   crtcID,
		fbID:     fbID,
		flags:    flags,
		userData: userData,
	}
	if err := do(fd, IOCTLModePageFlip, unsafe.Pointer(&f)); err != nil {
		return fmt.Errorf("DRM_IOCTL_MODE_PAGE_FLIP crtc %d fb %d: %w", crtcID, fbID, err)
	}
	return nil
}

// AddFB2SinglePlane registers a single-plane buffer object as a framebuffer
// with an explicit fourcc format and returns the framebuffer id.
func AddFB2SinglePlane(fd uintptr, width, height, fourcc, handle, pitch, offset uint32) (uint32, error) {
	f := fbCmd2{
		width:       width,
		height:      height,
		pixelFormat: fourcc,
	}
	f.handles[0] = handle
	f.pitches[0] = pitch
	f.offsets[0] = offset
	if err := do(fd, IOCTLModeAddFB2, unsafe.Pointer(&f)); err != nil {
		return 0, fmt.Errorf("DRM_IOCTL_MODE_ADDFB2 %dx%d: %w", width, height, err)
	}
	return f.fbID, nil
}

// AddFB2Fallback classifies an AddFB2 failure. retry reports whether the
// legacy AddFB call is worth trying for this buffer. disable reports whether
// the driver lacks AddFB2 altogether, as opposed to rejecting this buffer's
// format or layout.
func AddFB2Fallback(err error) (retry, disable bool) {
	switch {
	case errors.Is(err, unix.ENOTTY), errors.Is(err, unix.EOPNOTSUPP):
		return true, true
	case errors.Is(err, unix.EINVAL):
		return true, false
	}
	return false, false
}

// PrimeHandleToFD exports a GEM handle as a dma-buf descriptor. The
// descriptor is close-on-exec and owned by the caller.
func PrimeHandleToFD(fd uintptr, handle uint32) (int, error) {
	p := primeHandle{handle: handle, flags: unix.O_CLOEXEC | unix.O_RDWR}
	if err := do(fd, IOCTLPrimeHandleToFD, unsafe.Pointer(&p)); err != nil {
		return -1, fmt.Errorf("DRM_IOCTL_PRIME_HANDLE_TO_FD handle %d: %w", handle, err)
	}
	return int(p.fd), nil
}

// DmaBufSync brackets CPU access to a mapped dma-buf. flags combine one of
// SyncStart or SyncEnd with the access direction.
func DmaBufSync(fd int, flags uint64) error {
	s := dmaBufSync{flags: flags}
	if err := do(uintptr(fd), IOCTLDmaBufSync, unsafe.Pointer(&s)); err != nil {
		return fmt.Errorf("DMA_BUF_IOCTL_SYNC %#x: %w", flags, err)
	}
	return nil
}

// WaitReadable polls fd for input for at most timeoutMs milliseconds.
func WaitReadable(fd int, timeoutMs int) (bool, error) {
	fds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN}}
	for {
		n, err := unix.Poll(fds, timeoutMs)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return false, fmt.Errorf("poll: %w", err)
		}
		if n == 0 {
			return false, nil
		}
		if fds[0].Revents&(unix.POLLERR|unix.POLLHUP|unix.POLLNVAL) != 0 {
			return false, fmt.Errorf("poll: device descriptor revents %#x", fds[0].Revents)
		}
		return fds[0].Revents&unix.POLLIN != 0, nil
	}
}
