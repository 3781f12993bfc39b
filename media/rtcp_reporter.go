// SPDX-License-Identifier: MPL-2.0
// SPDX-FileCopyrightText: Copyright (c) 2024, Emir Aganovic

package media

import (
	"net"
	"time"

	"github.com/pion/rtcp"
)

// RTCPReporter sends sender reports for a single outgoing stream.
// RTCP travels on RTP port + 1 on both sides.
type RTCPReporter struct {
	Conn  net.PacketConn
	Raddr net.Addr

	lastReport time.Time
}

func NewRTCPReporter(localPort int, remoteIP net.IP, remotePort int) (*RTCPReporter, error) {
	laddr := &net.UDPAddr{}
	if localPort > 0 {
		laddr.Port = localPort + 1
	}
	conn, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return nil, err
	}

	return &RTCPReporter{
		Conn:  conn,
		Raddr: &net.UDPAddr{IP: remoteIP, Port: remotePort + 1},
	}, nil
}

func senderReport(stats WriterStats, now time.Time) *rtcp.SenderReport {
	return &rtcp.SenderReport{
		SSRC:        stats.SSRC,
		NTPTime:     NTPTimestamp(now),
		RTPTime:     stats.NextTimestamp,
		PacketCount: stats.PacketCount,
		OctetCount:  stats.OctetCount,
	}
}

// MaybeReport sends sender report if interval has passed since last one
func (r *RTCPReporter) MaybeReport(stats WriterStats, now time.Time, interval time.Duration) error {
	if !r.lastReport.IsZero() && now.Sub(r.lastReport) < interval {
		return nil
	}
	r.lastReport = now
	return r.write(senderReport(stats, now))
}

// Close sends final sender report with BYE and closes connection
func (r *RTCPReporter) Close(stats WriterStats, reason string) error {
	err := r.write(
		senderReport(stats, time.Now()),
		&rtcp.Goodbye{Sources: []uint32{stats.SSRC}, Reason: reason},
	)
	if cerr := r.Conn.Close(); err == nil {
		err = cerr
	}
	return err
}

func (r *RTCPReporter) write(pkts ...rtcp.Packet) error {
	data, err := rtcp.Marshal(pkts)
	if err != nil {
		return err
	}
	_, err = r.Conn.WriteTo(data, r.Raddr)
	return err
}
