// SPDX-License-Identifier: MPL-2.0
// SPDX-FileCopyrightText: Copyright (c) 2024, Emir Aganovic

package media

import (
	"fmt"
	"net"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/emiago/sipbot/metrics"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type StreamerOption func(s *Streamer)

func WithStreamerLogger(l zerolog.Logger) StreamerOption {
	return func(s *Streamer) {
		s.log = l
	}
}

// WithStreamerRTCP enables sender reports every interval and RTCP BYE at stream end
func WithStreamerRTCP(interval time.Duration) StreamerOption {
	return func(s *Streamer) {
		s.rtcpInterval = interval
	}
}

// Streamer sends pre encoded payload as paced RTP. Every Start creates new stream with own socket.
type Streamer struct {
	Codec Codec

	rtcpInterval time.Duration
	log          zerolog.Logger
}

func NewStreamer(opts ...StreamerOption) *Streamer {
	s := &Streamer{
		Codec: CodecAudioUlaw,
		log:   log.Logger,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Start binds localPort and streams payload to remote in codec frames.
// First packet is sent immediately and one more on every frame tick.
// onFinished is called exactly once when payload is exhausted, on write error or on Stop.
// On start failure onFinished is called before error is returned.
// Empty payload returns already finished stream and onFinished is never called.
func (s *Streamer) Start(remoteHost string, remotePort int, localPort int, payload []byte, onFinished func()) (*Stream, error) {
	st := &Stream{
		payload:      payload,
		frameSize:    s.Codec.FrameSize(),
		onFinished:   onFinished,
		rtcpInterval: s.rtcpInterval,
		quit:         make(chan struct{}),
		done:         make(chan struct{}),
		log:          s.log,
	}

	if len(payload) == 0 {
		st.stopped.Store(true)
		close(st.quit)
		close(st.done)
		return st, nil
	}

	raddr, err := net.ResolveUDPAddr("udp", net.JoinHostPort(remoteHost, strconv.Itoa(remotePort)))
	if err != nil {
		st.finish(metrics.StreamError)
		return nil, fmt.Errorf("resolve rtp remote: %w", err)
	}

	conn, err := net.ListenUDP("udp", &net.UDPAddr{Port: localPort})
	if err != nil {
		st.finish(metrics.StreamError)
		return nil, fmt.Errorf("bind rtp port %d: %w", localPort, err)
	}
	st.conn = conn
	st.writer = NewRTPPacketWriter(&UDPRTPWriter{Conn: conn, Raddr: raddr}, s.Codec)

	if s.rtcpInterval > 0 {
		lport := conn.LocalAddr().(*net.UDPAddr).Port
		rep, err := NewRTCPReporter(lport, raddr.IP, raddr.Port)
		if err != nil {
			s.log.Warn().Err(err).Msg("RTCP disabled for stream")
		} else {
			st.rtcp = rep
		}
	}

	st.log = s.log.With().Uint32("ssrc", st.writer.SSRC).Str("raddr", raddr.String()).Logger()
	st.log.Debug().Int("bytes", len(payload)).Msg("Starting RTP stream")

	st.ticker = time.NewTicker(s.Codec.SampleDur)
	go st.run()
	return st, nil
}

// Stream is handle of single running announcement stream
type Stream struct {
	payload      []byte
	frameSize    int
	cursor       int
	onFinished   func()
	rtcpInterval time.Duration

	conn   net.PacketConn
	writer *RTPPacketWriter
	rtcp   *RTCPReporter
	ticker *time.Ticker

	stopped atomic.Bool
	quit    chan struct{}
	done    chan struct{}
	reason  string

	log zerolog.Logger
}

func (s *Stream) run() {
	for {
		if s.stopped.Load() {
			return
		}

		if s.cursor >= len(s.payload) {
			s.finish(metrics.StreamCompleted)
			return
		}

		end := min(s.cursor+s.frameSize, len(s.payload))
		if _, err := s.writer.WriteSamples(s.payload[s.cursor:end]); err != nil {
			if s.stopped.Load() {
				return
			}
			s.log.Error().Err(err).Msg("RTP write failed")
			s.finish(metrics.StreamError)
			return
		}
		s.cursor = end

		if s.rtcp != nil {
			if err := s.rtcp.MaybeReport(s.writer.Stats(), time.Now(), s.rtcpInterval); err != nil {
				s.log.Debug().Err(err).Msg("RTCP sender report failed")
			}
		}

		select {
		case <-s.quit:
			return
		case <-s.ticker.C:
		}
	}
}

// finish is the only shutdown path. Network and timer are released before onFinished runs.
func (s *Stream) finish(reason string) {
	if !s.stopped.CompareAndSwap(false, true) {
		return
	}

	if s.ticker != nil {
		s.ticker.Stop()
	}
	close(s.quit)

	if s.rtcp != nil {
		if err := s.rtcp.Close(s.writer.Stats(), reason); err != nil {
			s.log.Debug().Err(err).Msg("RTCP goodbye failed")
		}
	}
	if s.conn != nil {
		s.conn.Close()
	}
	s.reason = reason
	metrics.RTPStreamsTotal.WithLabelValues(reason).Inc()
	s.log.Debug().Str("reason", reason).Msg("RTP stream finished")

	if s.onFinished != nil {
		s.onFinished()
	}
	close(s.done)
}

// Stop cancels stream. It is safe to call multiple times and from onFinished.
func (s *Stream) Stop() {
	s.finish(metrics.StreamStopped)
}

// Done is closed after stream finished and onFinished returned
func (s *Stream) Done() <-chan struct{} {
	return s.done
}

// Reason is valid after Done is closed. Empty for streams that never started.
func (s *Stream) Reason() string {
	return s.reason
}

// LocalAddr returns bound RTP address or nil
func (s *Stream) LocalAddr() net.Addr {
	if s.conn == nil {
		return nil
	}
	return s.conn.LocalAddr()
}
