// Package evdev provides non-blocking access to Linux input devices for
// macrod: enumeration, identity capture (name and physical address),
// exclusive grabs, and input_event decoding.
package evdev

import (
	"encoding/binary"
)

// Linux input event types.
const (
	EvSyn uint16 = 0x00
	EvKey uint16 = 0x01
	EvRel uint16 = 0x02
	EvAbs uint16 = 0x03
	EvMsc uint16 = 0x04
	EvLed uint16 = 0x11
)

// Key event values.
const (
	KeyRelease int32 = 0
	KeyPress   int32 = 1
	KeyRepeat  int32 = 2
)

// eventSize is the size of struct input_event on 64-bit kernels:
// two 8-byte time fields, type, code, value.
const eventSize = 24

// Event is one decoded input_event.
type Event struct {
	Sec   int64
	Usec  int64
	Type  uint16
	Code  uint16
	Value int32
}

// IsKeyDown reports whether the event is a key press transition.
// Releases and autorepeat do not count.
func (e Event) IsKeyDown() bool {
	return e.Type == EvKey && e.Value == KeyPress
}

// decodeEvent parses a raw 24-byte input_event record.
func decodeEvent(buf []byte) Event {
	return Event{
		Sec:   int64(binary.LittleEndian.Uint64(buf[0:8])),
		Usec:  int64(binary.LittleEndian.Uint64(buf[8:16])),
		Type:  binary.LittleEndian.Uint16(buf[16:18]),
		Code:  binary.LittleEndian.Uint16(buf[18:20]),
		Value: int32(binary.LittleEndian.Uint32(buf[20:24])),
	}
}
