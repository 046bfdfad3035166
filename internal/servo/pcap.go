package servo

import (
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"github.com/banshee-data/facelock/internal/monitoring"
	"github.com/banshee-data/facelock/internal/timeutil"
)

const pcapSnapLen = 65536

// PcapTap mirrors every payload sent through the wrapped transport into a
// pcap stream as a synthetic Ethernet/IPv4/UDP frame, so a session's actuator
// traffic can be inspected offline with standard tools. Failed sends are not
// recorded.
type PcapTap struct {
	inner   Transport
	src     *net.UDPAddr
	dst     map[Axis]*net.UDPAddr
	clock   timeutil.Clock
	mu      sync.Mutex
	w       *pcapgo.Writer
	closer  io.Closer
	written int
}

// NewPcapTap wraps inner. dst gives the destination recorded per axis and src
// the recorded source; out receives the pcap stream and is closed by Close
// when it implements io.Closer.
func NewPcapTap(inner Transport, out io.Writer, src *net.UDPAddr, dst map[Axis]*net.UDPAddr, clock timeutil.Clock) (*PcapTap, error) {
	w := pcapgo.NewWriter(out)
	if err := w.WriteFileHeader(pcapSnapLen, layers.LinkTypeEthernet); err != nil {
		return nil, fmt.Errorf("failed to write pcap header: %w", err)
	}
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	tap := &PcapTap{
		inner: inner,
		src:   recordedSource(src),
		dst:   dst,
		clock: clock,
		w:     w,
	}
	if c, ok := out.(io.Closer); ok {
		tap.closer = c
	}
	return tap, nil
}

// recordedSource returns the IPv4 source written into recorded frames. A
// socket bound to the wildcard address (0.0.0.0 or [::]) is recorded as
// loopback, where the actuators listen.
func recordedSource(src *net.UDPAddr) *net.UDPAddr {
	rec := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1).To4()}
	if src == nil {
		return rec
	}
	rec.Port = src.Port
	if ip4 := src.IP.To4(); ip4 != nil && !ip4.IsUnspecified() {
		rec.IP = ip4
	}
	return rec
}

// Send forwards to the wrapped transport and records the payload on success.
func (p *PcapTap) Send(axis Axis, payload []byte) error {
	if err := p.inner.Send(axis, payload); err != nil {
		return err
	}
	dst, ok := p.dst[axis]
	if !ok {
		return nil
	}
	// Recording is diagnostic only; the command itself went out.
	if err := p.record(dst, payload, p.clock.Now()); err != nil {
		monitoring.Logf("pcap tap: failed to record %s command: %v", axis, err)
	}
	return nil
}

// Written returns the number of packets recorded so far.
func (p *PcapTap) Written() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.written
}

func (p *PcapTap) record(dst *net.UDPAddr, payload []byte, ts time.Time) error {
	eth := &layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0, 0, 0, 0, 0, 0},
		DstMAC:       net.HardwareAddr{0, 0, 0, 0, 0, 0},
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := &layers.IPv4{
		Version:  4,
		TTL:      64,
		Protocol: layers.IPProtocolUDP,
		SrcIP:    p.src.IP.To4(),
		DstIP:    dst.IP.To4(),
	}
	udp := &layers.UDP{
		SrcPort: layers.UDPPort(p.src.Port),
		DstPort: layers.UDPPort(dst.Port),
	}
	if err := udp.SetNetworkLayerForChecksum(ip); err != nil {
		return err
	}

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buf, opts, eth, ip, udp, gopacket.Payload(payload)); err != nil {
		return err
	}
	data := buf.Bytes()

	p.mu.Lock()
	defer p.mu.Unlock()
	ci := gopacket.CaptureInfo{
		Timestamp:     ts,
		CaptureLength: len(data),
		Length:        len(data),
	}
	if err := p.w.WritePacket(ci, data); err != nil {
		return err
	}
	p.written++
	return nil
}

// Close closes the wrapped transport and the pcap output.
func (p *PcapTap) Close() error {
	err := p.inner.Close()
	if p.closer != nil {
		if cerr := p.closer.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
