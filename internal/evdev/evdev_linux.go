//go:build linux

package evdev

import (
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"

	"macrod/internal/logging"
)

// ioctl request encoding (Linux _IOC macro).
const (
	iocNRBits   = 8
	iocTypeBits = 8
	iocSizeBits = 14

	iocNRShift   = 0
	iocTypeShift = iocNRShift + iocNRBits
	iocSizeShift = iocTypeShift + iocTypeBits
	iocDirShift  = iocSizeShift + iocSizeBits

	iocWrite = 1
	iocRead  = 2
)

func ioc(dir, typ, nr, size uint32) uintptr {
	return uintptr((dir << iocDirShift) | (typ << iocTypeShift) | (nr << iocNRShift) | (size << iocSizeShift))
}

// eviocgName = EVIOCGNAME(len): read the device name.
func eviocgName(size uint32) uintptr {
	return ioc(iocRead, uint32('E'), 0x06, size)
}

// eviocgPhys = EVIOCGPHYS(len): read the physical address.
func eviocgPhys(size uint32) uintptr {
	return ioc(iocRead, uint32('E'), 0x07, size)
}

// eviocGrab = EVIOCGRAB: toggle exclusive access.
func eviocGrab() uintptr {
	return ioc(iocWrite, uint32('E'), 0x90, uint32(unsafe.Sizeof(int32(0))))
}

// Device is one opened /dev/input/eventX handle.
type Device struct {
	path string
	name string
	phys string

	mu      sync.Mutex
	fd      int
	grabbed bool
	closed  bool
}

// Open opens an event device non-blocking and captures its identity.
func Open(path string) (*Device, error) {
	fd, err := unix.Open(path, unix.O_RDONLY|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}

	d := &Device{path: path, fd: fd}

	name, err := d.identString(eviocgName(identBufSize))
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("read name of %s: %w", path, err)
	}
	d.name = name

	// Some virtual devices report no physical address; keep it empty.
	phys, err := d.identString(eviocgPhys(identBufSize))
	if err == nil {
		d.phys = phys
	}

	return d, nil
}

const identBufSize = 256

// identString runs a string-returning ioctl against the device.
func (d *Device) identString(req uintptr) (string, error) {
	buf := make([]byte, identBufSize)
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(d.fd), req, uintptr(unsafe.Pointer(&buf[0])))
	if errno != 0 {
		return "", errno
	}
	for i, b := range buf {
		if b == 0 {
			return string(buf[:i]), nil
		}
	}
	return string(buf), nil
}

// Path returns the /dev/input path the device was opened from.
func (d *Device) Path() string { return d.path }

// Name returns the device's reported name.
func (d *Device) Name() string { return d.name }

// Phys returns the device's reported physical address.
func (d *Device) Phys() string { return d.phys }

// Grab takes exclusive access: the rest of the system stops receiving
// this device's events until Ungrab.
func (d *Device) Grab() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return errors.New("device closed")
	}
	if d.grabbed {
		return nil
	}
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(d.fd), eviocGrab(), 1)
	if errno != 0 {
		return fmt.Errorf("grab %s: %w", d.path, errno)
	}
	d.grabbed = true
	return nil
}

// Ungrab releases exclusive access.
func (d *Device) Ungrab() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed || !d.grabbed {
		return nil
	}
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(d.fd), eviocGrab(), 0)
	if errno != 0 {
		return fmt.Errorf("ungrab %s: %w", d.path, errno)
	}
	d.grabbed = false
	return nil
}

// ReadOne reads the next pending event without blocking.
// ok is false when no event is currently available.
func (d *Device) ReadOne() (ev Event, ok bool, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return Event{}, false, errors.New("device closed")
	}

	buf := make([]byte, eventSize)
	n, err := unix.Read(d.fd, buf)
	if err != nil {
		if errors.Is(err, unix.EAGAIN) {
			return Event{}, false, nil
		}
		return Event{}, false, fmt.Errorf("read %s: %w", d.path, err)
	}
	if n < eventSize {
		return Event{}, false, nil
	}
	return decodeEvent(buf), true, nil
}

// Drain discards all currently buffered events.
func (d *Device) Drain() {
	for {
		_, ok, err := d.ReadOne()
		if err != nil || !ok {
			return
		}
	}
}

// Close releases the grab if held and closes the file descriptor.
// Safe to call more than once.
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil
	}
	if d.grabbed {
		unix.Syscall(unix.SYS_IOCTL, uintptr(d.fd), eviocGrab(), 0)
		d.grabbed = false
	}
	d.closed = true
	return unix.Close(d.fd)
}

// Session owns every device handle opened for one program run. It replaces
// any notion of a global device list: resolution and dispatch receive the
// session explicitly, and its lifetime is one run-loop invocation.
type Session struct {
	devices []*Device
	log     *logging.Logger

	closeOnce sync.Once
	closeErr  error
}

// OpenSession enumerates /dev/input/event* and opens every readable device,
// in enumeration order. Unreadable devices are skipped with a log entry.
func OpenSession(log *logging.Logger) (*Session, error) {
	if log == nil {
		log = logging.Default()
	}

	paths, err := filepath.Glob("/dev/input/event*")
	if err != nil {
		return nil, fmt.Errorf("enumerate input devices: %w", err)
	}
	sort.Strings(paths)

	s := &Session{log: log.WithComponent("evdev")}
	for _, p := range paths {
		d, err := Open(p)
		if err != nil {
			s.log.Debug("skipping input device", "path", p, "error", err)
			continue
		}
		s.devices = append(s.devices, d)
	}

	if len(s.devices) == 0 {
		s.log.Warn("no readable input devices (is the user in the 'input' group?)")
	}
	return s, nil
}

// Devices returns the session's devices in enumeration order.
func (s *Session) Devices() []*Device {
	return s.devices
}

// DrainAll discards buffered events on every device.
func (s *Session) DrainAll() {
	for _, d := range s.devices {
		d.Drain()
	}
}

// GrabAll grabs every device. Used by the capture wizard; the run loop
// grabs only resolved devices.
func (s *Session) GrabAll() {
	for _, d := range s.devices {
		if err := d.Grab(); err != nil {
			s.log.Debug("grab failed", "path", d.Path(), "error", err)
		}
	}
}

// UngrabAll releases every grab.
func (s *Session) UngrabAll() {
	for _, d := range s.devices {
		if err := d.Ungrab(); err != nil {
			s.log.Debug("ungrab failed", "path", d.Path(), "error", err)
		}
	}
}

// Close releases all grabs and closes all handles, exactly once.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		for _, d := range s.devices {
			if err := d.Close(); err != nil && s.closeErr == nil {
				s.closeErr = err
			}
		}
	})
	return s.closeErr
}
