// SPDX-License-Identifier: MPL-2.0
// SPDX-FileCopyrightText: Copyright (c) 2024, Emir Aganovic

package sipbot

import (
	"context"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/emiago/sipbot/audio"
	"github.com/emiago/sipbot/media"
	"github.com/emiago/sipgo/sip"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	rtcpReportInterval = 5 * time.Second
	unregisterTimeout  = 2 * time.Second
)

type AgentOption func(a *Agent)

func WithLogger(l zerolog.Logger) AgentOption {
	return func(a *Agent) {
		a.log = l
	}
}

// WithTransport replaces sipgo transport. Mostly for testing.
func WithTransport(t Transport) AgentOption {
	return func(a *Agent) {
		a.transport = t
	}
}

func WithAudioSource(src AudioSource) AgentOption {
	return func(a *Agent) {
		a.audioSource = src
	}
}

func WithToneSynth(synth ToneSynth) AgentOption {
	return func(a *Agent) {
		a.toneSynth = synth
	}
}

func WithStreamer(s *media.Streamer) AgentOption {
	return func(a *Agent) {
		a.streamer = s
	}
}

// Agent is SIP bot. It keeps registration alive and answers every call
// with announcement.
type Agent struct {
	conf      Config
	transport Transport
	sessions  *SessionRegistry
	registrar *RegisterManager
	streamer  *media.Streamer

	audioSource AudioSource
	toneSynth   ToneSynth

	// ctx outlives Run ctx so that shutdown can still send requests
	ctx      context.Context
	cancel   context.CancelFunc
	stopping atomic.Bool
	log      zerolog.Logger
}

func NewAgent(conf Config, opts ...AgentOption) (*Agent, error) {
	a := &Agent{
		conf:     conf,
		sessions: NewSessionRegistry(),
		log:      log.Logger,
	}
	a.ctx, a.cancel = context.WithCancel(context.Background())

	for _, o := range opts {
		o(a)
	}

	if a.streamer == nil {
		sopts := []media.StreamerOption{media.WithStreamerLogger(a.log)}
		if conf.RTCP {
			sopts = append(sopts, media.WithStreamerRTCP(rtcpReportInterval))
		}
		a.streamer = media.NewStreamer(sopts...)
	}
	if a.audioSource == nil {
		a.audioSource = WavFileAudioSource(conf.AudioFile, a.log)
	}
	if a.toneSynth == nil {
		a.toneSynth = audio.SynthesizeTonesUlaw
	}

	if a.transport == nil {
		tr, err := NewSipgoTransport(TransportConfig{
			Transport:    conf.Transport,
			BindHost:     conf.bindHost(),
			BindPort:     conf.Port,
			ExternalHost: conf.LocalAddress,
			UserAgent:    conf.UserAgent,
		}, a.log)
		if err != nil {
			return nil, fmt.Errorf("creating transport: %w", err)
		}
		a.transport = tr
	}

	a.registrar = NewRegisterManager(a.transport, RegisterOptions{
		Username:      conf.Username,
		Password:      conf.Password,
		Domain:        conf.Domain,
		Registrar:     conf.Registrar,
		Transport:     conf.Transport,
		Contact:       a.contactHeader(),
		Expiry:        conf.registerTTL(),
		RetryInterval: time.Duration(conf.RegisterRetrySeconds) * time.Second,
	}, a.log)
	return a, nil
}

// contactHeader is our reachable address, ex. <sip:1000@10.0.0.1:5060;transport=udp>
func (a *Agent) contactHeader() sip.ContactHeader {
	uri := sip.Uri{
		Scheme:    "sip",
		User:      a.conf.Username,
		Host:      a.conf.LocalAddress,
		Port:      a.conf.Port,
		UriParams: sip.NewParams(),
		Headers:   sip.NewParams(),
	}
	uri.UriParams.Add("transport", strings.ToLower(a.conf.Transport))
	return sip.ContactHeader{Address: uri}
}

// Sessions are currently active calls
func (a *Agent) Sessions() *SessionRegistry {
	return a.sessions
}

// Run listens, registers and dispatches events until ctx is done.
// On return registration is removed and all streams are stopped.
func (a *Agent) Run(ctx context.Context) error {
	serveCtx, stopServe := context.WithCancel(a.ctx)
	defer stopServe()

	var readyOnce sync.Once
	ready := make(chan struct{})
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- a.transport.Serve(serveCtx, func() {
			readyOnce.Do(func() { close(ready) })
		})
	}()

	select {
	case <-ready:
	case err := <-serveErr:
		return fmt.Errorf("listen failed: %w", err)
	case <-ctx.Done():
		a.shutdown()
		return nil
	}

	if err := a.registrar.Register(a.ctx); err != nil {
		// Retry or refresh is scheduled by manager
		a.log.Error().Err(err).Msg("Initial registration failed")
	}

	events := a.transport.Events()
	for {
		select {
		case ev := <-events:
			a.Dispatch(ev)
		case err := <-serveErr:
			a.shutdown()
			if err != nil {
				return fmt.Errorf("serve failed: %w", err)
			}
			return nil
		case <-ctx.Done():
			a.shutdown()
			return nil
		}
	}
}

// Stop terminates Run. Same as cancelling Run context.
func (a *Agent) Stop() {
	a.shutdown()
}

func (a *Agent) shutdown() {
	if a.stopping.Swap(true) {
		return
	}
	a.log.Info().Msg("Shutting down")

	ctx, cancel := context.WithTimeout(a.ctx, unregisterTimeout)
	if err := a.registrar.Unregister(ctx); err != nil {
		a.log.Warn().Err(err).Msg("Unregister failed")
	}
	cancel()

	// Calls are left to remote side. Only local media is released.
	a.sessions.Range(func(s *CallSession) bool {
		s.stopStream()
		return true
	})

	a.cancel()
	if err := a.transport.Close(); err != nil {
		a.log.Debug().Err(err).Msg("Closing transport")
	}
}

// Dispatch handles single event. Handler failures are logged and never propagate.
func (a *Agent) Dispatch(ev Event) {
	if rev, ok := ev.(RequestEvent); ok {
		defer rev.markDone()
	}
	defer func() {
		if r := recover(); r != nil {
			a.log.Error().Interface("panic", r).Str("stack", string(debug.Stack())).Msg("Event handler panicked")
		}
	}()

	switch e := ev.(type) {
	case RequestEvent:
		a.handleRequest(e.Request, e.Tx)

	case ResponseEvent:
		a.handleResponse(e.Response)

	case TimeoutEvent:
		if !a.registrar.HandleTimeout(e.Request) {
			a.log.Warn().Str("method", e.Request.Method.String()).Str("call_id", callIDOf(e.Request.CallID())).Msg("Transaction timed out")
		}

	case IOErrorEvent:
		if !a.registrar.HandleError(e.Request, e.Err) {
			a.log.Error().Err(e.Err).Str("method", e.Request.Method.String()).Str("call_id", callIDOf(e.Request.CallID())).Msg("Transaction failed")
		}

	case TransactionTerminatedEvent:
		a.log.Debug().Str("method", e.Request.Method.String()).Msg("Transaction terminated")

	case DialogTerminatedEvent:
		a.handleDialogTerminated(e.DialogID)

	default:
		a.log.Warn().Str("event", fmt.Sprintf("%T", ev)).Msg("Unknown event")
	}
}

func (a *Agent) handleResponse(res *sip.Response) {
	if a.registrar.HandleResponse(res) {
		return
	}

	cseq := res.CSeq()
	if cseq != nil && cseq.MethodName == sip.BYE {
		a.log.Debug().Int("status", int(res.StatusCode)).Str("call_id", callIDOf(res.CallID())).Msg("BYE response")
		return
	}
	a.log.Debug().Str("res", res.StartLine()).Msg("Unhandled response")
}

func callIDOf(h *sip.CallIDHeader) string {
	if h != nil {
		return h.Value()
	}
	return ""
}
