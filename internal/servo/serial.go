package servo

import (
	"fmt"
	"io"
	"sync"

	"go.bug.st/serial"
)

// SerialPorter is the minimal interface needed from a serial port.
type SerialPorter interface {
	io.Writer
	io.Closer
}

// SerialPortOpener opens a serial device. Replaceable in tests.
type SerialPortOpener func(path string) (SerialPorter, error)

// OpenSerialPort opens path at 115200 8N1.
func OpenSerialPort(path string) (SerialPorter, error) {
	mode := &serial.Mode{
		BaudRate: 115200,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	return serial.Open(path, mode)
}

// SerialTransport multiplexes both axes onto one serial servo controller.
// Each command is written as a "<channel>:<duty>\n" line.
type SerialTransport struct {
	mu   sync.Mutex
	port SerialPorter
	path string
}

// NewSerialTransport opens the device at path with open (OpenSerialPort when
// nil).
func NewSerialTransport(path string, open SerialPortOpener) (*SerialTransport, error) {
	if open == nil {
		open = OpenSerialPort
	}
	port, err := open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open servo device %s: %v", ErrNoTransport, path, err)
	}
	return &SerialTransport{port: port, path: path}, nil
}

// Send writes one command line for axis.
func (t *SerialTransport) Send(axis Axis, payload []byte) error {
	if !axis.Valid() {
		return fmt.Errorf("%w: %d", ErrInvalidAxis, int(axis))
	}
	line := fmt.Sprintf("%d:%s\n", int(axis), payload)

	t.mu.Lock()
	defer t.mu.Unlock()
	n, err := t.port.Write([]byte(line))
	if err != nil {
		return err
	}
	if n != len(line) {
		return fmt.Errorf("short write to %s: %d of %d bytes", t.path, n, len(line))
	}
	return nil
}

// Close closes the serial port.
func (t *SerialTransport) Close() error {
	return t.port.Close()
}
