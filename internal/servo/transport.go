package servo

import (
	"fmt"
	"net"
	"sync"
)

// Transport delivers a single command payload to an axis. Delivery is best
// effort: no acknowledgment, retry or ordering is expected.
type Transport interface {
	Send(axis Axis, payload []byte) error
	Close() error
}

// UDPTransport sends one datagram per command to a fixed per-axis
// destination from a single unconnected socket.
type UDPTransport struct {
	conn  *net.UDPConn
	addrs map[Axis]*net.UDPAddr
}

// NewUDPTransport resolves every axis destination once and opens the local
// socket. Both axes must be present.
func NewUDPTransport(destinations map[Axis]string) (*UDPTransport, error) {
	addrs := make(map[Axis]*net.UDPAddr, len(destinations))
	for _, axis := range Axes {
		dest, ok := destinations[axis]
		if !ok {
			return nil, fmt.Errorf("%w: no destination for %s", ErrNoTransport, axis)
		}
		addr, err := net.ResolveUDPAddr("udp", dest)
		if err != nil {
			return nil, fmt.Errorf("%w: failed to resolve %s address %q: %v", ErrNoTransport, axis, dest, err)
		}
		addrs[axis] = addr
	}

	conn, err := net.ListenUDP("udp", nil)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open socket: %v", ErrNoTransport, err)
	}

	return &UDPTransport{conn: conn, addrs: addrs}, nil
}

// Send writes payload as one datagram to the axis destination.
func (t *UDPTransport) Send(axis Axis, payload []byte) error {
	addr, ok := t.addrs[axis]
	if !ok {
		return fmt.Errorf("%w: %d", ErrInvalidAxis, int(axis))
	}
	_, err := t.conn.WriteToUDP(payload, addr)
	return err
}

// Addr returns the resolved destination of axis.
func (t *UDPTransport) Addr(axis Axis) *net.UDPAddr {
	return t.addrs[axis]
}

// LocalAddr returns the local socket address.
func (t *UDPTransport) LocalAddr() *net.UDPAddr {
	addr, _ := t.conn.LocalAddr().(*net.UDPAddr)
	return addr
}

// Close closes the socket.
func (t *UDPTransport) Close() error {
	return t.conn.Close()
}

// MockTransport implements Transport for testing.
type MockTransport struct {
	mu sync.Mutex
	// Sent holds every successfully sent payload in order.
	Sent []MockSend
	// Fail makes Send return the mapped error for that axis.
	Fail map[Axis]error
	// Closed indicates whether Close was called.
	Closed bool
}

// MockSend records one Send call.
type MockSend struct {
	Axis    Axis
	Payload string
}

// NewMockTransport creates an empty MockTransport.
func NewMockTransport() *MockTransport {
	return &MockTransport{Fail: make(map[Axis]error)}
}

// Send records the payload or returns the configured failure.
func (m *MockTransport) Send(axis Axis, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.Fail[axis]; err != nil {
		return err
	}
	m.Sent = append(m.Sent, MockSend{Axis: axis, Payload: string(payload)})
	return nil
}

// SetFailure configures (or clears, with nil) a send failure for axis.
func (m *MockTransport) SetFailure(axis Axis, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Fail[axis] = err
}

// Sends returns a copy of the recorded sends.
func (m *MockTransport) Sends() []MockSend {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]MockSend, len(m.Sent))
	copy(out, m.Sent)
	return out
}

// Reset clears recorded sends.
func (m *MockTransport) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Sent = nil
}

// Close marks the transport closed.
func (m *MockTransport) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Closed = true
	return nil
}
