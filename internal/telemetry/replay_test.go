package telemetry

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/yawtrack/internal/attitude"
)

type capturedDatagram struct {
	at      time.Duration
	dstPort uint16
	payload string
}

// writeCapture writes an Ethernet/IPv4/UDP pcap file with one packet per
// datagram.
func writeCapture(t *testing.T, datagrams []capturedDatagram) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bridge.pcap")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	w := pcapgo.NewWriter(f)
	require.NoError(t, w.WriteFileHeader(65536, layers.LinkTypeEthernet))

	base := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	for _, d := range datagrams {
		eth := &layers.Ethernet{
			SrcMAC:       net.HardwareAddr{0x02, 0, 0, 0, 0, 1},
			DstMAC:       net.HardwareAddr{0x02, 0, 0, 0, 0, 2},
			EthernetType: layers.EthernetTypeIPv4,
		}
		ip := &layers.IPv4{
			Version:  4,
			TTL:      64,
			Protocol: layers.IPProtocolUDP,
			SrcIP:    net.IPv4(192, 168, 0, 103),
			DstIP:    net.IPv4(192, 168, 0, 104),
		}
		udp := &layers.UDP{SrcPort: 14550, DstPort: layers.UDPPort(d.dstPort)}
		require.NoError(t, udp.SetNetworkLayerForChecksum(ip))

		buf := gopacket.NewSerializeBuffer()
		opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
		require.NoError(t, gopacket.SerializeLayers(buf, opts, eth, ip, udp, gopacket.Payload(d.payload)))

		data := buf.Bytes()
		require.NoError(t, w.WritePacket(gopacket.CaptureInfo{
			Timestamp:     base.Add(d.at),
			CaptureLength: len(data),
			Length:        len(data),
		}, data))
	}
	return path
}

const hbLine = `{"type":"heartbeat","heartbeat":{"system_id":4,"component_id":1}}`

func TestReplay_PlaysCapture(t *testing.T) {
	t.Parallel()

	path := writeCapture(t, []capturedDatagram{
		{at: 0, dstPort: 14560, payload: hbLine},
		{at: time.Millisecond, dstPort: 9999, payload: `{"type":"attitude","attitude":{"time_boot_ms":1,"yaw":9}}`},
		{at: 2 * time.Millisecond, dstPort: 14560, payload: `{"type":"attitude","attitude":{"time_boot_ms":20,"yaw":0.1}}` + "\n" +
			`{"type":"attitude","attitude":{"time_boot_ms":40,"yaw":0.2}}`},
		{at: 3 * time.Millisecond, dstPort: 14560, payload: "not json"},
	})

	rp, err := OpenReplay(ReplayConfig{Path: path, Port: 14560, Speed: -1})
	require.NoError(t, err)
	defer rp.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	hb, err := rp.WaitHeartbeat(ctx)
	require.NoError(t, err)
	assert.Equal(t, attitude.Heartbeat{SystemID: 4, ComponentID: 1}, hb)

	var got []attitude.Sample
	for s := range rp.Reports() {
		got = append(got, s)
	}
	assert.Equal(t, []attitude.Sample{{TimeBootMs: 20, Yaw: 0.1}, {TimeBootMs: 40, Yaw: 0.2}}, got)
	assert.True(t, rp.Finished())
	assert.NoError(t, rp.Err())

	require.NoError(t, rp.RequestReportRate(50))
	require.NoError(t, rp.SendTarget(attitude.Target{}))
	assert.Equal(t, uint64(1), rp.Sent())
}

func TestReplay_NoHeartbeat(t *testing.T) {
	t.Parallel()

	path := writeCapture(t, []capturedDatagram{
		{dstPort: 14550, payload: `{"type":"attitude","attitude":{"time_boot_ms":20}}`},
	})
	rp, err := OpenReplay(ReplayConfig{Path: path, Speed: -1})
	require.NoError(t, err)
	defer rp.Close()

	_, err = rp.WaitHeartbeat(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no heartbeat")
}

func TestReplay_PacedCloseIsPrompt(t *testing.T) {
	t.Parallel()

	path := writeCapture(t, []capturedDatagram{
		{at: 0, dstPort: 14550, payload: hbLine},
		{at: time.Hour, dstPort: 14550, payload: hbLine},
	})
	rp, err := OpenReplay(ReplayConfig{Path: path})
	require.NoError(t, err)

	_, err = rp.WaitHeartbeat(context.Background())
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		rp.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Close blocked on replay pacing")
	}
	assert.False(t, rp.Finished())
	assert.ErrorIs(t, rp.SendTarget(attitude.Target{}), ErrClosed)
}

func TestOpenReplay_Errors(t *testing.T) {
	t.Parallel()

	_, err := OpenReplay(ReplayConfig{Path: filepath.Join(t.TempDir(), "missing.pcap")})
	assert.Error(t, err)

	bad := filepath.Join(t.TempDir(), "bad.pcap")
	require.NoError(t, os.WriteFile(bad, []byte("not a capture"), 0o644))
	_, err = OpenReplay(ReplayConfig{Path: bad})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "PCAP header")
}
