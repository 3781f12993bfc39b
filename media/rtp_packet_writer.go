// SPDX-License-Identifier: MPL-2.0
// SPDX-FileCopyrightText: Copyright (c) 2024, Emir Aganovic

package media

import (
	"math/rand"
	"net"
	"sync"

	"github.com/emiago/sipbot/metrics"
	"github.com/pion/rtp"
)

type RTPWriter interface {
	WriteRTP(p *rtp.Packet) error
}

// RTPPacketWriter packetize payload into RTP packets with single SSRC.
// Sequence numbers and timestamps start at zero and timestamp advances by payload length,
// which for 8 bit codecs is number of samples.
type RTPPacketWriter struct {
	Writer RTPWriter

	// After each write this is set as packet.
	LastPacket rtp.Packet
	OnRTP      func(pkt *rtp.Packet)

	// This properties are read only
	PayloadType uint8
	SSRC        uint32
	SampleRate  uint32

	mu            sync.Mutex
	seqWriter     RTPExtendedSequenceNumber
	nextTimestamp uint32
	packetCount   uint32
	octetCount    uint32
}

func NewRTPPacketWriter(writer RTPWriter, codec Codec) *RTPPacketWriter {
	return &RTPPacketWriter{
		Writer:      writer,
		seqWriter:   NewRTPSequencer(0),
		PayloadType: codec.PayloadType,
		SampleRate:  codec.SampleRate,
		SSRC:        rand.Uint32(),
	}
}

// WriteSamples sends payload as one packet
func (w *RTPPacketWriter) WriteSamples(payload []byte) (int, error) {
	w.mu.Lock()
	pkt := rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			PayloadType:    w.PayloadType,
			Timestamp:      w.nextTimestamp,
			SequenceNumber: w.seqWriter.NextSeqNumber(),
			SSRC:           w.SSRC,
		},
		Payload: payload,
	}
	w.nextTimestamp += uint32(len(payload))
	w.LastPacket = pkt
	w.mu.Unlock()

	if w.OnRTP != nil {
		w.OnRTP(&pkt)
	}

	if err := w.Writer.WriteRTP(&pkt); err != nil {
		return 0, err
	}

	w.mu.Lock()
	w.packetCount++
	w.octetCount += uint32(len(payload))
	w.mu.Unlock()
	metrics.RTPPacketsSent.Inc()
	return len(payload), nil
}

// WriterStats is snapshot needed for sender reports
type WriterStats struct {
	SSRC          uint32
	PacketCount   uint32
	OctetCount    uint32
	NextTimestamp uint32
}

func (w *RTPPacketWriter) Stats() WriterStats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return WriterStats{
		SSRC:          w.SSRC,
		PacketCount:   w.packetCount,
		OctetCount:    w.octetCount,
		NextTimestamp: w.nextTimestamp,
	}
}

// UDPRTPWriter marshals packets to a fixed remote address
type UDPRTPWriter struct {
	Conn  net.PacketConn
	Raddr net.Addr
}

func (u *UDPRTPWriter) WriteRTP(p *rtp.Packet) error {
	data, err := p.Marshal()
	if err != nil {
		return err
	}
	_, err = u.Conn.WriteTo(data, u.Raddr)
	return err
}
