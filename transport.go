// SPDX-License-Identifier: MPL-2.0
// SPDX-FileCopyrightText: Copyright (c) 2024, Emir Aganovic

package sipbot

import (
	"context"
	"errors"
	"net"
	"strconv"
	"sync"

	"github.com/emiago/sipgo"
	"github.com/emiago/sipgo/sip"
	"github.com/rs/zerolog"
)

// ServerTx is handle for responding on inbound transaction
type ServerTx interface {
	Respond(res *sip.Response) error
}

// Transport is signaling layer of agent. It delivers inbound requests and
// outcome of client transactions as events.
type Transport interface {
	// Request sends request in new client transaction. Responses are delivered as events.
	Request(ctx context.Context, req *sip.Request) error
	Events() <-chan Event
	// Serve listens until ctx is done. ready is called once listener is up.
	Serve(ctx context.Context, ready func()) error
	Close() error
}

type TransportConfig struct {
	Transport string
	BindHost  string
	BindPort  int
	// ExternalHost is used in Via and Contact
	ExternalHost string
	UserAgent    string
}

// SipgoTransport is Transport over sipgo user agent
type SipgoTransport struct {
	ua     *sipgo.UserAgent
	server *sipgo.Server
	client *sipgo.Client
	conf   TransportConfig

	events    chan Event
	closed    chan struct{}
	closeOnce sync.Once
	log       zerolog.Logger
}

func NewSipgoTransport(conf TransportConfig, log zerolog.Logger) (*SipgoTransport, error) {
	conf.Transport = sip.NetworkToLower(conf.Transport)

	ua, err := sipgo.NewUA(
		sipgo.WithUserAgent(conf.UserAgent),
		sipgo.WithUserAgentHostname(conf.ExternalHost),
	)
	if err != nil {
		return nil, err
	}

	server, err := sipgo.NewServer(ua)
	if err != nil {
		return nil, err
	}

	t := &SipgoTransport{
		ua:     ua,
		server: server,
		conf:   conf,
		events: make(chan Event, 64),
		closed: make(chan struct{}),
		log:    log.With().Str("caller", "transport").Logger(),
	}

	t.client, err = t.createClient()
	if err != nil {
		return nil, err
	}

	server.OnInvite(t.deliver)
	server.OnAck(t.deliver)
	server.OnBye(t.deliver)
	server.OnCancel(t.deliver)
	server.OnOptions(t.deliver)
	return t, nil
}

func (t *SipgoTransport) createClient() (*sipgo.Client, error) {
	hostname := t.conf.ExternalHost
	if ip := net.ParseIP(hostname); ip != nil && ip.IsUnspecified() {
		hostname = ""
	}

	return sipgo.NewClient(t.ua,
		sipgo.WithClientNAT(),
		sipgo.WithClientHostname(hostname),
		sipgo.WithClientPort(t.conf.BindPort),
	)
}

// deliver passes request to agent and blocks until it is handled.
// Server transaction stays alive while handler runs.
func (t *SipgoTransport) deliver(req *sip.Request, tx sip.ServerTransaction) {
	var stx ServerTx
	if tx != nil {
		stx = tx
	}
	ev := NewRequestEvent(req, stx)

	select {
	case t.events <- ev:
	case <-t.closed:
		return
	}

	select {
	case <-ev.done:
	case <-t.closed:
	}
}

func (t *SipgoTransport) push(ev Event) {
	select {
	case t.events <- ev:
	case <-t.closed:
	}
}

func (t *SipgoTransport) Events() <-chan Event {
	return t.events
}

func (t *SipgoTransport) Request(ctx context.Context, req *sip.Request) error {
	tx, err := t.client.TransactionRequest(ctx, req, sipgo.ClientRequestAddVia)
	if err != nil {
		return err
	}

	dialogID := ""
	if req.Method == sip.BYE {
		dialogID, _ = sip.DialogIDFromRequestUAC(req)
	}
	go t.watch(req, tx, dialogID)
	return nil
}

func (t *SipgoTransport) watch(req *sip.Request, tx sip.ClientTransaction, dialogID string) {
	defer tx.Terminate()
	defer func() {
		t.push(TransactionTerminatedEvent{Request: req})
		if dialogID != "" {
			t.push(DialogTerminatedEvent{DialogID: dialogID})
		}
	}()

	for {
		select {
		case res := <-tx.Responses():
			t.push(ResponseEvent{Response: res})
			if res.IsSuccess() || res.StatusCode >= 300 {
				return
			}
		case <-tx.Done():
			err := tx.Err()
			switch {
			case err == nil:
			case errors.Is(err, sip.ErrTransactionTimeout):
				t.push(TimeoutEvent{Request: req})
			default:
				t.push(IOErrorEvent{Request: req, Err: err})
			}
			return
		case <-t.closed:
			return
		}
	}
}

func (t *SipgoTransport) Serve(ctx context.Context, ready func()) error {
	hostport := net.JoinHostPort(t.conf.BindHost, strconv.Itoa(t.conf.BindPort))
	ctx = context.WithValue(ctx, sipgo.ListenReadyCtxKey, sipgo.ListenReadyFuncCtxValue(func(network, addr string) {
		t.log.Info().Str("addr", addr).Str("network", network).Msg("Listening on transport")
		if ready != nil {
			ready()
		}
	}))

	return t.server.ListenAndServe(ctx, t.conf.Transport, hostport)
}

func (t *SipgoTransport) Close() error {
	t.closeOnce.Do(func() {
		close(t.closed)
	})
	return errors.Join(t.client.Close(), t.server.Close(), t.ua.Close())
}
