// SPDX-License-Identifier: MPL-2.0
// SPDX-FileCopyrightText: Copyright (c) 2024, Emir Aganovic

package sipbot

import (
	"testing"

	"github.com/emiago/sipgo/sip"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingStopper struct {
	stops int
}

func (s *countingStopper) Stop() {
	s.stops++
}

func TestCallSessionStates(t *testing.T) {
	s := testSession(t, "call", "remote")
	assert.Equal(t, CallStateNone, s.State())

	require.Error(t, s.fire(callEventAnswer))
	require.NoError(t, s.fire(callEventRing))
	assert.Equal(t, CallStateRinging, s.State())
	require.NoError(t, s.fire(callEventAnswer))
	assert.Equal(t, CallStateAnswered, s.State())
	require.NoError(t, s.fire(callEventHangup))
	assert.Equal(t, CallStateTerminated, s.State())

	// Terminal state absorbs everything
	require.Error(t, s.fire(callEventHangup))
	require.Error(t, s.fire(callEventTerminate))
}

func TestCallSessionReject(t *testing.T) {
	s := testSession(t, "call", "remote")
	require.NoError(t, s.fire(callEventReject))
	assert.Equal(t, CallStateTerminated, s.State())
}

func TestCallSessionTags(t *testing.T) {
	s := testSession(t, "call", "remote")
	assert.Equal(t, "call", s.CallID)
	assert.Equal(t, "remote", s.RemoteTag)
	assert.Equal(t, "local-remote", s.LocalTag)
}

func TestCallSessionStopStream(t *testing.T) {
	s := testSession(t, "call", "remote")
	st := &countingStopper{}
	s.setStream(st)
	s.stopStream()
	s.stopStream()
	assert.Equal(t, 1, st.stops)
}

func TestCallSessionByeRequest(t *testing.T) {
	inv := newTestRequest(sip.INVITE, "call", "remote", "local", 1, nil)
	inv.AppendHeader(sip.NewHeader("Record-Route", "<sip:proxy1.example.com;lr>"))
	inv.AppendHeader(sip.NewHeader("Record-Route", "<sip:proxy2.example.com;lr>"))
	s := newCallSession(inv, nil, zerolog.Nop())

	bye := s.newByeRequest()
	assert.Equal(t, sip.BYE, bye.Method)
	assert.Equal(t, inv.Contact().Address.String(), bye.Recipient.String())

	fromTag, _ := bye.From().Params.Get("tag")
	toTag, _ := bye.To().Params.Get("tag")
	assert.Equal(t, "local", fromTag)
	assert.Equal(t, "remote", toTag)
	assert.Equal(t, inv.To().Address.String(), bye.From().Address.String())
	assert.Equal(t, inv.From().Address.String(), bye.To().Address.String())
	assert.Equal(t, "call", bye.CallID().Value())
	assert.Equal(t, uint32(1), bye.CSeq().SeqNo)
	assert.Equal(t, sip.BYE, bye.CSeq().MethodName)

	routes := bye.GetHeaders("Route")
	require.Len(t, routes, 2)
	assert.Equal(t, "<sip:proxy1.example.com;lr>", routes[0].Value())
	assert.Equal(t, "<sip:proxy2.example.com;lr>", routes[1].Value())

	id, err := sip.DialogIDFromRequestUAC(bye)
	require.NoError(t, err)
	uasID, err := sip.DialogIDFromRequestUAS(inv)
	require.NoError(t, err)
	assert.Equal(t, uasID, id)

	// CSeq grows within dialog
	assert.Equal(t, uint32(2), s.newByeRequest().CSeq().SeqNo)
}

func TestCallSessionRemoteTargetFallback(t *testing.T) {
	inv := testCreateMessage(t, []string{
		"INVITE sip:bot@127.0.0.1:5060 SIP/2.0",
		"Via: SIP/2.0/UDP 127.0.0.1:5080;branch=" + sip.GenerateBranch(),
		"From: <sip:alice@127.0.0.1:5080>;tag=remote",
		"To: <sip:bot@127.0.0.1:5060>;tag=local",
		"Call-ID: call",
		"CSeq: 1 INVITE",
		"Content-Length: 0",
		"",
		"",
	}).(*sip.Request)
	require.Nil(t, inv.Contact())
	s := newCallSession(inv, nil, zerolog.Nop())
	target := s.RemoteTarget()
	assert.Equal(t, inv.From().Address.String(), target.String())
}
