package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/gopacket/gopacket"
	"github.com/gopacket/gopacket/layers"
	"github.com/gopacket/gopacket/pcapgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SkynetNext/gateway-dataplane/internal/packet/packettest"
)

func writeCapture(t *testing.T, frames ...[]byte) *bytes.Buffer {
	t.Helper()
	buf := &bytes.Buffer{}
	w := pcapgo.NewWriter(buf)
	require.NoError(t, w.WriteFileHeader(65536, layers.LinkTypeEthernet))
	ts := time.Unix(1700000000, 0)
	for i, frame := range frames {
		ci := gopacket.CaptureInfo{
			Timestamp:     ts.Add(time.Duration(i) * time.Millisecond),
			CaptureLength: len(frame),
			Length:        len(frame),
		}
		require.NoError(t, w.WritePacket(ci, frame))
	}
	return buf
}

func TestReplayCountsVerdicts(t *testing.T) {
	capture := writeCapture(t,
		packettest.UDP(t, "10.0.0.1", "10.0.0.9", 5000, 53),
		packettest.TCP(t, "10.0.0.2", "10.0.0.9", 6000, 80, true, false),
		packettest.ARP(t),
		[]byte{0x01, 0x02, 0x03},
	)

	sum, err := runReplay(capture, nil)
	require.NoError(t, err)

	assert.Equal(t, 4, sum.Frames)
	assert.Equal(t, 1, sum.Dropped)
	assert.EqualValues(t, 4, sum.Stats.TotalPackets)
	assert.EqualValues(t, 2, sum.Stats.Passed)
	assert.EqualValues(t, 1, sum.Stats.DroppedInvalid)
	assert.EqualValues(t, 1, sum.Stats.TCPSyn)
	assert.EqualValues(t, 0, sum.Stats.TCPSynFlood)
}

func TestReplayBlockedSources(t *testing.T) {
	capture := writeCapture(t,
		packettest.UDP(t, "10.0.0.1", "10.0.0.9", 5000, 53),
		packettest.UDP(t, "10.0.0.1", "10.0.0.9", 5001, 53),
		packettest.UDP(t, "10.0.0.2", "10.0.0.9", 5002, 53),
	)

	sum, err := runReplay(capture, []string{"10.0.0.1"})
	require.NoError(t, err)

	assert.Equal(t, 3, sum.Frames)
	assert.Equal(t, 2, sum.Dropped)
	assert.EqualValues(t, 2, sum.Stats.DroppedBlacklist)
	assert.EqualValues(t, 1, sum.Stats.Passed)
}

func TestReplayRejectsBadBlockAddress(t *testing.T) {
	capture := writeCapture(t, packettest.ARP(t))

	_, err := runReplay(capture, []string{"not-an-ip"})
	assert.Error(t, err)
}

func TestReplayRejectsNonCapture(t *testing.T) {
	_, err := runReplay(bytes.NewReader([]byte("definitely not a pcap")), nil)
	assert.Error(t, err)
}
