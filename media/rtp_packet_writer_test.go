// SPDX-License-Identifier: MPL-2.0
// SPDX-FileCopyrightText: Copyright (c) 2024, Emir Aganovic

package media

import (
	"errors"
	"testing"

	"github.com/pion/rtp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type bufferRTPWriter struct {
	packets []rtp.Packet
	err     error
}

func (b *bufferRTPWriter) WriteRTP(p *rtp.Packet) error {
	if b.err != nil {
		return b.err
	}
	b.packets = append(b.packets, *p)
	return nil
}

func TestRTPPacketWriter(t *testing.T) {
	buf := &bufferRTPWriter{}
	w := NewRTPPacketWriter(buf, CodecAudioUlaw)

	sizes := []int{160, 160, 80, 1}
	for _, s := range sizes {
		n, err := w.WriteSamples(make([]byte, s))
		require.NoError(t, err)
		require.Equal(t, s, n)
	}

	require.Len(t, buf.packets, len(sizes))
	var ts uint32
	for i, pkt := range buf.packets {
		assert.Equal(t, uint8(2), pkt.Version)
		assert.Equal(t, uint8(0), pkt.PayloadType)
		assert.Equal(t, uint16(i), pkt.SequenceNumber)
		assert.Equal(t, ts, pkt.Timestamp)
		assert.Equal(t, w.SSRC, pkt.SSRC)
		ts += uint32(sizes[i])
	}

	stats := w.Stats()
	assert.Equal(t, uint32(4), stats.PacketCount)
	assert.Equal(t, uint32(401), stats.OctetCount)
	assert.Equal(t, uint32(401), stats.NextTimestamp)
	assert.Equal(t, uint16(3), w.LastPacket.SequenceNumber)
}

func TestRTPPacketWriterError(t *testing.T) {
	buf := &bufferRTPWriter{err: errors.New("network down")}
	w := NewRTPPacketWriter(buf, CodecAudioUlaw)

	_, err := w.WriteSamples([]byte{1, 2, 3})
	require.Error(t, err)
	assert.Equal(t, uint32(0), w.Stats().PacketCount)
}
