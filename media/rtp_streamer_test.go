// SPDX-License-Identifier: MPL-2.0
// SPDX-FileCopyrightText: Copyright (c) 2024, Emir Aganovic

package media

import (
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func listenRTP(t *testing.T) *net.UDPConn {
	t.Helper()
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readRTP(t *testing.T, conn *net.UDPConn) rtp.Packet {
	t.Helper()
	buf := make([]byte, 1500)
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, _, err := conn.ReadFromUDP(buf)
	require.NoError(t, err)

	pkt := rtp.Packet{}
	require.NoError(t, pkt.Unmarshal(buf[:n]))
	return pkt
}

func TestStreamerPacketization(t *testing.T) {
	remote := listenRTP(t)
	rport := remote.LocalAddr().(*net.UDPAddr).Port

	var finished atomic.Int32
	payload := make([]byte, 481)
	for i := range payload {
		payload[i] = byte(i)
	}

	start := time.Now()
	st, err := NewStreamer().Start("127.0.0.1", rport, 0, payload, func() { finished.Add(1) })
	require.NoError(t, err)

	var ssrc uint32
	for i := 0; i < 4; i++ {
		pkt := readRTP(t, remote)
		assert.Equal(t, uint8(2), pkt.Version)
		assert.Equal(t, uint8(0), pkt.PayloadType)
		assert.Equal(t, uint16(i), pkt.SequenceNumber)
		assert.Equal(t, uint32(i*160), pkt.Timestamp)
		if i == 0 {
			ssrc = pkt.SSRC
		}
		assert.Equal(t, ssrc, pkt.SSRC)

		if i < 3 {
			assert.Len(t, pkt.Payload, 160)
		} else {
			require.Len(t, pkt.Payload, 1)
			assert.Equal(t, byte(480&0xFF), pkt.Payload[0])
		}
	}

	select {
	case <-st.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not finish")
	}
	// 4 packets and finish on following tick
	assert.GreaterOrEqual(t, time.Since(start), 70*time.Millisecond)
	assert.Equal(t, int32(1), finished.Load())
	assert.Equal(t, "completed", st.Reason())

	st.Stop()
	st.Stop()
	assert.Equal(t, int32(1), finished.Load())
}

func TestStreamerStopEarly(t *testing.T) {
	remote := listenRTP(t)
	rport := remote.LocalAddr().(*net.UDPAddr).Port

	var finished atomic.Int32
	// 5 seconds of audio
	st, err := NewStreamer().Start("127.0.0.1", rport, 0, make([]byte, 40000), func() { finished.Add(1) })
	require.NoError(t, err)

	readRTP(t, remote)
	st.Stop()
	st.Stop()

	<-st.Done()
	assert.Equal(t, int32(1), finished.Load())
	assert.Equal(t, "stopped", st.Reason())
}

func TestStreamerStopFromCallback(t *testing.T) {
	remote := listenRTP(t)
	rport := remote.LocalAddr().(*net.UDPAddr).Port

	var handle atomic.Pointer[Stream]
	var finished atomic.Int32
	ready := make(chan struct{})
	st, err := NewStreamer().Start("127.0.0.1", rport, 0, make([]byte, 10), func() {
		<-ready
		finished.Add(1)
		handle.Load().Stop()
	})
	require.NoError(t, err)
	handle.Store(st)
	close(ready)

	select {
	case <-st.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not finish")
	}
	assert.Equal(t, int32(1), finished.Load())
}

func TestStreamerEmptyPayload(t *testing.T) {
	var finished atomic.Int32
	st, err := NewStreamer().Start("127.0.0.1", 9, 0, nil, func() { finished.Add(1) })
	require.NoError(t, err)

	select {
	case <-st.Done():
	default:
		t.Fatal("empty stream should be done")
	}
	assert.Nil(t, st.LocalAddr())
	st.Stop()
	assert.Equal(t, int32(0), finished.Load())
}

func TestStreamerBindFailure(t *testing.T) {
	busy, err := net.ListenUDP("udp", &net.UDPAddr{})
	require.NoError(t, err)
	defer busy.Close()
	busyPort := busy.LocalAddr().(*net.UDPAddr).Port

	var finished atomic.Int32
	st, err := NewStreamer().Start("127.0.0.1", 9, busyPort, []byte{1, 2, 3}, func() { finished.Add(1) })
	require.Error(t, err)
	assert.Nil(t, st)
	assert.Equal(t, int32(1), finished.Load())
}

func TestStreamerRTCP(t *testing.T) {
	// Remote RTCP must be on RTP port + 1
	rtcpConn := listenRTP(t)
	rtcpPort := rtcpConn.LocalAddr().(*net.UDPAddr).Port
	remote, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: rtcpPort - 1})
	if err != nil {
		t.Skipf("rtp port %d not available: %s", rtcpPort-1, err)
	}
	defer remote.Close()

	st, err := NewStreamer(WithStreamerRTCP(time.Second)).Start("127.0.0.1", rtcpPort-1, 0, make([]byte, 320), nil)
	require.NoError(t, err)
	<-st.Done()

	var gotSR, gotBye bool
	buf := make([]byte, 1500)
	for !(gotSR && gotBye) {
		rtcpConn.SetReadDeadline(time.Now().Add(2 * time.Second))
		n, _, err := rtcpConn.ReadFromUDP(buf)
		require.NoError(t, err)

		pkts, err := rtcp.Unmarshal(buf[:n])
		require.NoError(t, err)
		for _, p := range pkts {
			switch p := p.(type) {
			case *rtcp.SenderReport:
				gotSR = true
			case *rtcp.Goodbye:
				gotBye = true
				assert.Equal(t, "completed", p.Reason)
			}
		}
	}
}
