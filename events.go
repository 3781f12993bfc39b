// SPDX-License-Identifier: MPL-2.0
// SPDX-FileCopyrightText: Copyright (c) 2024, Emir Aganovic

package sipbot

import (
	"github.com/emiago/sipgo/sip"
)

// Event is everything signaling layer delivers to agent.
// Set of events is closed and agent dispatches them one at a time.
type Event interface {
	event()
}

// RequestEvent is inbound request with transaction used for responding.
// Tx can be nil for ACK.
type RequestEvent struct {
	Request *sip.Request
	Tx      ServerTx

	// closed when agent handled event
	done chan struct{}
}

// ResponseEvent is response on our client transaction
type ResponseEvent struct {
	Response *sip.Response
}

// TimeoutEvent is client transaction that got no final response
type TimeoutEvent struct {
	Request *sip.Request
}

// IOErrorEvent is transport failure of client transaction
type IOErrorEvent struct {
	Request *sip.Request
	Err     error
}

type TransactionTerminatedEvent struct {
	Request *sip.Request
}

type DialogTerminatedEvent struct {
	DialogID string
}

func (RequestEvent) event()               {}
func (ResponseEvent) event()              {}
func (TimeoutEvent) event()               {}
func (IOErrorEvent) event()               {}
func (TransactionTerminatedEvent) event() {}
func (DialogTerminatedEvent) event()      {}

// NewRequestEvent creates event that can be waited with Wait
func NewRequestEvent(req *sip.Request, tx ServerTx) RequestEvent {
	return RequestEvent{Request: req, Tx: tx, done: make(chan struct{})}
}

// Wait blocks until agent dispatched event
func (e RequestEvent) Wait() {
	if e.done != nil {
		<-e.done
	}
}

func (e RequestEvent) markDone() {
	if e.done != nil {
		close(e.done)
	}
}
