package servo

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSerialPort struct {
	bytes.Buffer
	closed   bool
	writeErr error
	short    bool
}

func (f *fakeSerialPort) Write(p []byte) (int, error) {
	if f.writeErr != nil {
		return 0, f.writeErr
	}
	if f.short {
		return f.Buffer.Write(p[:len(p)-1])
	}
	return f.Buffer.Write(p)
}

func (f *fakeSerialPort) Close() error {
	f.closed = true
	return nil
}

func openerFor(port *fakeSerialPort, err error) SerialPortOpener {
	return func(path string) (SerialPorter, error) {
		if err != nil {
			return nil, err
		}
		return port, nil
	}
}

func TestSerialTransport_WritesChannelLines(t *testing.T) {
	port := &fakeSerialPort{}
	transport, err := NewSerialTransport("/dev/ttyACM0", openerFor(port, nil))
	require.NoError(t, err)

	require.NoError(t, transport.Send(Pan, []byte("50")))
	require.NoError(t, transport.Send(Tilt, []byte("5")))

	assert.Equal(t, "1:50\n0:5\n", port.String())

	require.NoError(t, transport.Close())
	assert.True(t, port.closed)
}

func TestSerialTransport_OpenFailure(t *testing.T) {
	_, err := NewSerialTransport("/dev/missing", openerFor(nil, errors.New("no such file or directory")))
	assert.ErrorIs(t, err, ErrNoTransport)
}

func TestSerialTransport_WriteFailures(t *testing.T) {
	port := &fakeSerialPort{writeErr: errors.New("i/o error")}
	transport, err := NewSerialTransport("/dev/ttyACM0", openerFor(port, nil))
	require.NoError(t, err)
	assert.Error(t, transport.Send(Pan, []byte("50")))

	port.writeErr = nil
	port.short = true
	assert.Error(t, transport.Send(Pan, []byte("50")))

	assert.ErrorIs(t, transport.Send(Axis(4), []byte("50")), ErrInvalidAxis)
}
