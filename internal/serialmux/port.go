package serialmux

import (
	"io"
	"time"
)

// SerialPorter defines the minimal interface needed for a serial port.
// This abstraction enables unit testing without real serial hardware.
type SerialPorter interface {
	io.ReadWriter
	io.Closer
}

// TimeoutSerialPorter extends SerialPorter with timeout capabilities.
// Ports that implement it have their read timeout applied on open, so a
// poll never blocks for longer than one cycle.
type TimeoutSerialPorter interface {
	SerialPorter
	// SetReadTimeout sets the read timeout for the serial port.
	SetReadTimeout(timeout time.Duration) error
}

// ApplyReadTimeout sets timeout on port when it supports one.
func ApplyReadTimeout(port SerialPorter, timeout time.Duration) error {
	tp, ok := port.(TimeoutSerialPorter)
	if !ok || timeout <= 0 {
		return nil
	}
	return tp.SetReadTimeout(timeout)
}
