package servo

import (
	"bytes"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/facelock/internal/monitoring"
	"github.com/banshee-data/facelock/internal/timeutil"
)

func TestPcapTap_RecordsSentPayloads(t *testing.T) {
	inner := NewMockTransport()
	var out bytes.Buffer
	clock := timeutil.NewMockClock(time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC))
	dst := map[Axis]*net.UDPAddr{
		Pan:  {IP: net.IPv4(127, 0, 0, 1), Port: 55555},
		Tilt: {IP: net.IPv4(127, 0, 0, 1), Port: 55556},
	}

	tap, err := NewPcapTap(inner, &out, nil, dst, clock)
	require.NoError(t, err)

	require.NoError(t, tap.Send(Pan, []byte("60")))
	inner.SetFailure(Tilt, errors.New("down"))
	require.Error(t, tap.Send(Tilt, []byte("10")))
	assert.Equal(t, 1, tap.Written(), "failed sends are not recorded")

	r, err := pcapgo.NewReader(&out)
	require.NoError(t, err)
	assert.Equal(t, layers.LinkTypeEthernet, r.LinkType())

	data, ci, err := r.ReadPacketData()
	require.NoError(t, err)
	assert.True(t, ci.Timestamp.Equal(clock.Now()))

	packet := gopacket.NewPacket(data, layers.LayerTypeEthernet, gopacket.Default)
	udpLayer := packet.Layer(layers.LayerTypeUDP)
	require.NotNil(t, udpLayer)
	udp := udpLayer.(*layers.UDP)
	assert.Equal(t, layers.UDPPort(55555), udp.DstPort)
	assert.Equal(t, "60", string(udp.Payload))

	_, _, err = r.ReadPacketData()
	assert.ErrorIs(t, err, io.EOF)
}

type closingBuffer struct {
	bytes.Buffer
	closed bool
}

func (c *closingBuffer) Close() error {
	c.closed = true
	return nil
}

func TestPcapTap_CloseClosesBoth(t *testing.T) {
	inner := NewMockTransport()
	out := &closingBuffer{}
	tap, err := NewPcapTap(inner, out, nil, nil, nil)
	require.NoError(t, err)

	// axes without a recorded destination are passed through untouched
	require.NoError(t, tap.Send(Pan, []byte("50")))
	assert.Equal(t, 0, tap.Written())

	require.NoError(t, tap.Close())
	assert.True(t, inner.Closed)
	assert.True(t, out.closed)
}

func TestRecordedSource(t *testing.T) {
	loopback := net.IPv4(127, 0, 0, 1).To4()
	tests := []struct {
		name string
		src  *net.UDPAddr
		ip   net.IP
		port int
	}{
		{"nil", nil, loopback, 0},
		{"ipv6 wildcard", &net.UDPAddr{IP: net.IPv6unspecified, Port: 40000}, loopback, 40000},
		{"ipv4 wildcard", &net.UDPAddr{IP: net.IPv4zero, Port: 40001}, loopback, 40001},
		{"no ip", &net.UDPAddr{Port: 40002}, loopback, 40002},
		{"ipv4", &net.UDPAddr{IP: net.IPv4(10, 0, 0, 7), Port: 40003}, net.IPv4(10, 0, 0, 7).To4(), 40003},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := recordedSource(tt.src)
			assert.Equal(t, tt.ip, got.IP)
			assert.Equal(t, tt.port, got.Port)
		})
	}
}

func TestPcapTap_RecordsFromUDPTransport(t *testing.T) {
	monitoring.SetLogger(nil)
	pan, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	defer pan.Close()
	tilt, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	defer tilt.Close()

	panAddr := pan.LocalAddr().(*net.UDPAddr)
	tiltAddr := tilt.LocalAddr().(*net.UDPAddr)
	ut, err := NewUDPTransport(map[Axis]string{Pan: panAddr.String(), Tilt: tiltAddr.String()})
	require.NoError(t, err)

	var out bytes.Buffer
	// The transport socket is bound to the wildcard address.
	tap, err := NewPcapTap(ut, &out, ut.LocalAddr(), map[Axis]*net.UDPAddr{Pan: panAddr, Tilt: tiltAddr}, nil)
	require.NoError(t, err)
	defer tap.Close()

	require.NoError(t, tap.Send(Pan, []byte("50")))
	require.NoError(t, tap.Send(Tilt, []byte("5")))
	require.Equal(t, 2, tap.Written())

	r, err := pcapgo.NewReader(&out)
	require.NoError(t, err)
	data, _, err := r.ReadPacketData()
	require.NoError(t, err)

	packet := gopacket.NewPacket(data, layers.LayerTypeEthernet, gopacket.Default)
	ip := packet.Layer(layers.LayerTypeIPv4).(*layers.IPv4)
	assert.True(t, ip.SrcIP.Equal(net.IPv4(127, 0, 0, 1)))
	udp := packet.Layer(layers.LayerTypeUDP).(*layers.UDP)
	assert.Equal(t, layers.UDPPort(ut.LocalAddr().Port), udp.SrcPort)
	assert.Equal(t, layers.UDPPort(panAddr.Port), udp.DstPort)
	assert.Equal(t, "50", string(udp.Payload))
}
