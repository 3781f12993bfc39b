// SPDX-License-Identifier: MPL-2.0
// SPDX-FileCopyrightText: Copyright (c) 2024, Emir Aganovic

package sipbot

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/emiago/sipgo/sip"
	"github.com/looplab/fsm"
	"github.com/rs/zerolog"
)

// Call states
const (
	CallStateNone       = "none"
	CallStateRinging    = "ringing"
	CallStateAnswered   = "answered"
	CallStateTerminated = "terminated"
)

// Call events
const (
	callEventRing      = "ring"
	callEventReject    = "reject"
	callEventAnswer    = "answer"
	callEventHangup    = "hangup"
	callEventTerminate = "terminate"
)

// Stopper is running media of a call
type Stopper interface {
	Stop()
}

func newCallFSM(log zerolog.Logger) *fsm.FSM {
	return fsm.NewFSM(
		CallStateNone,
		fsm.Events{
			{Name: callEventRing, Src: []string{CallStateNone}, Dst: CallStateRinging},
			{Name: callEventReject, Src: []string{CallStateNone, CallStateRinging}, Dst: CallStateTerminated},
			{Name: callEventAnswer, Src: []string{CallStateRinging}, Dst: CallStateAnswered},
			{Name: callEventHangup, Src: []string{CallStateRinging, CallStateAnswered}, Dst: CallStateTerminated},
			{Name: callEventTerminate, Src: []string{CallStateNone, CallStateRinging, CallStateAnswered}, Dst: CallStateTerminated},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				log.Debug().Str("from", e.Src).Str("to", e.Dst).Str("event", e.Event).Msg("Call state changed")
			},
		},
	)
}

// CallSession is answered inbound call.
// Dialog ID is Call-ID with our To tag and remote From tag.
type CallSession struct {
	CallID    string
	DialogID  string
	LocalTag  string
	RemoteTag string

	// Media destination from offer
	RemoteHost string
	RemotePort int

	InviteRequest  *sip.Request
	InviteResponse *sip.Response
	// Tx is INVITE server transaction
	Tx ServerTx

	state *fsm.FSM
	cseq  atomic.Uint32

	mu     sync.Mutex
	stream Stopper

	log zerolog.Logger
}

func newCallSession(req *sip.Request, tx ServerTx, log zerolog.Logger) *CallSession {
	s := &CallSession{
		CallID:        req.CallID().Value(),
		InviteRequest: req,
		Tx:            tx,
	}
	if tag, ok := req.From().Params.Get("tag"); ok {
		s.RemoteTag = tag
	}
	if tag, ok := req.To().Params.Get("tag"); ok {
		s.LocalTag = tag
	}
	s.log = log.With().Str("call_id", s.CallID).Logger()
	s.state = newCallFSM(s.log)
	return s
}

func (s *CallSession) State() string {
	return s.state.Current()
}

// fire moves call state. Error is returned when event is not valid in current state.
func (s *CallSession) fire(event string) error {
	return s.state.Event(context.Background(), event)
}

func (s *CallSession) setStream(st Stopper) {
	s.mu.Lock()
	s.stream = st
	s.mu.Unlock()
}

// stopStream stops media if running. Stream callbacks are not called under lock.
func (s *CallSession) stopStream() {
	s.mu.Lock()
	st := s.stream
	s.stream = nil
	s.mu.Unlock()

	if st != nil {
		st.Stop()
	}
}

// RemoteTarget is where in dialog requests go. It is remote Contact or From when missing.
func (s *CallSession) RemoteTarget() sip.Uri {
	if h := s.InviteRequest.Contact(); h != nil {
		return h.Address
	}
	return s.InviteRequest.From().Address
}

// newByeRequest builds BYE within dialog. As UAS our From is INVITE To and
// route set is Record-Route in received order.
func (s *CallSession) newByeRequest() *sip.Request {
	inv := s.InviteRequest
	bye := sip.NewRequest(sip.BYE, s.RemoteTarget())

	for _, h := range inv.GetHeaders("Record-Route") {
		bye.AppendHeader(sip.NewHeader("Route", h.Value()))
	}

	invTo := inv.To()
	from := &sip.FromHeader{
		DisplayName: invTo.DisplayName,
		Address:     invTo.Address,
		Params:      sip.NewParams(),
	}
	from.Params.Add("tag", s.LocalTag)

	invFrom := inv.From()
	to := &sip.ToHeader{
		DisplayName: invFrom.DisplayName,
		Address:     invFrom.Address,
		Params:      sip.NewParams(),
	}
	to.Params.Add("tag", s.RemoteTag)

	callID := sip.CallIDHeader(s.CallID)
	maxfwd := sip.MaxForwardsHeader(70)

	bye.AppendHeader(from)
	bye.AppendHeader(to)
	bye.AppendHeader(&callID)
	bye.AppendHeader(&sip.CSeqHeader{SeqNo: s.cseq.Add(1), MethodName: sip.BYE})
	bye.AppendHeader(&maxfwd)
	bye.SetTransport(inv.Transport())
	return bye
}
