// SPDX-License-Identifier: MPL-2.0
// SPDX-FileCopyrightText: Copyright (c) 2024, Emir Aganovic

package sipbot

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/emiago/sipbot/media/sdp"
	"github.com/emiago/sipbot/metrics"
	"github.com/emiago/sipgo/sip"
	"github.com/google/uuid"
)

const (
	statusNotAcceptableHere = 488

	offerResolveTimeout = 2 * time.Second
)

var errNoTransaction = errors.New("request has no server transaction")

func respond(tx ServerTx, req *sip.Request, code int, reason string, body []byte) error {
	if tx == nil {
		return errNoTransaction
	}
	return tx.Respond(sip.NewResponseFromRequest(req, code, reason, body))
}

func (a *Agent) handleRequest(req *sip.Request, tx ServerTx) {
	var err error
	switch req.Method {
	case sip.INVITE:
		err = a.handleInvite(req, tx)
	case sip.ACK:
		err = a.handleAck(req)
	case sip.BYE:
		err = a.handleBye(req, tx)
	case sip.CANCEL:
		err = a.handleCancel(req, tx)
	case sip.OPTIONS:
		err = respond(tx, req, 200, "OK", nil)
	default:
		a.log.Warn().Str("method", req.Method.String()).Str("call_id", callIDOf(req.CallID())).Msg("Unsupported request")
	}

	if err != nil {
		a.log.Error().Err(err).Str("method", req.Method.String()).Str("call_id", callIDOf(req.CallID())).Msg("Failed to handle request")
	}
}

// handleInvite answers new call with PCMU answer. Call is in ringing state until ACK.
func (a *Agent) handleInvite(req *sip.Request, tx ServerTx) error {
	to := req.To()
	if to == nil {
		return respond(tx, req, 400, "Bad Request", nil)
	}
	if _, ok := to.Params.Get("tag"); ok {
		// Session modification is not supported
		metrics.CallsTotal.WithLabelValues(metrics.CallRejected).Inc()
		return respond(tx, req, statusNotAcceptableHere, "Not Acceptable Here", nil)
	}

	if len(req.Body()) == 0 {
		metrics.CallsTotal.WithLabelValues(metrics.CallRejected).Inc()
		a.log.Info().Str("call_id", callIDOf(req.CallID())).Msg("INVITE without offer rejected")
		return respond(tx, req, statusNotAcceptableHere, "Not Acceptable Here", nil)
	}

	if to.Params == nil {
		to.Params = sip.NewParams()
	}
	to.Params.Add("tag", uuid.NewString())

	dialogID, err := sip.DialogIDFromRequestUAS(req)
	if err != nil {
		metrics.CallsTotal.WithLabelValues(metrics.CallRejected).Inc()
		return errors.Join(fmt.Errorf("reading dialog id: %w", err), respond(tx, req, 400, "Bad Request", nil))
	}

	session := newCallSession(req, tx, a.log)
	session.DialogID = dialogID

	if err := respond(tx, req, 180, "Ringing", nil); err != nil {
		metrics.CallsTotal.WithLabelValues(metrics.CallFailed).Inc()
		return fmt.Errorf("sending 180: %w", err)
	}
	session.fire(callEventRing)

	ctx, cancel := context.WithTimeout(a.ctx, offerResolveTimeout)
	offer, err := sdp.ParseOffer(ctx, req.Body())
	cancel()
	if err != nil {
		session.fire(callEventReject)
		metrics.CallsTotal.WithLabelValues(metrics.CallRejected).Inc()
		session.log.Info().Err(err).Msg("Invalid offer")
		return respond(tx, req, statusNotAcceptableHere, "Not Acceptable Here", nil)
	}
	session.RemoteHost = offer.Address
	session.RemotePort = offer.Port

	if codecs, err := sdp.OfferedCodecs(req.Body()); err == nil {
		session.log.Debug().Strs("codecs", codecs).Msg("Offered codecs")
	}
	if ok, err := sdp.OffersPCMU(req.Body()); err == nil && !ok {
		session.log.Warn().Msg("Offer has no PCMU, answering with PCMU anyway")
	}

	answer := sdp.BuildAnswer(a.conf.LocalAddress, a.conf.RTPPort)
	res := sip.NewResponseFromRequest(req, 200, "OK", answer)
	contact := a.contactHeader()
	res.AppendHeader(&contact)
	res.AppendHeader(sip.NewHeader("Content-Type", "application/sdp"))
	session.InviteResponse = res

	if err := a.sessions.Insert(session); err != nil {
		session.fire(callEventReject)
		metrics.CallsTotal.WithLabelValues(metrics.CallFailed).Inc()
		return errors.Join(err, respond(tx, req, 500, "Server Internal Error", nil))
	}

	if err := tx.Respond(res); err != nil {
		a.sessions.Remove(session.DialogID)
		session.fire(callEventTerminate)
		metrics.CallsTotal.WithLabelValues(metrics.CallFailed).Inc()
		return fmt.Errorf("sending 200: %w", err)
	}

	metrics.CallsTotal.WithLabelValues(metrics.CallAnswered).Inc()
	session.log.Info().Str("media", fmt.Sprintf("%s:%d", offer.Address, offer.Port)).Msg("Call answered")
	return nil
}

// handleAck starts announcement. Unknown or repeated ACK is ignored.
func (a *Agent) handleAck(req *sip.Request) error {
	id, err := sip.DialogIDFromRequestUAS(req)
	if err != nil {
		return fmt.Errorf("reading dialog id: %w", err)
	}

	session, ok := a.sessions.Lookup(id)
	if !ok {
		a.log.Debug().Str("call_id", callIDOf(req.CallID())).Msg("ACK for unknown dialog")
		return nil
	}
	if err := session.fire(callEventAnswer); err != nil {
		session.log.Debug().Err(err).Msg("Duplicate ACK")
		return nil
	}

	payload := a.audioSource()
	if len(payload) == 0 {
		payload = a.toneSynth(a.conf.TTSText)
	}

	stream, err := a.streamer.Start(session.RemoteHost, session.RemotePort, a.conf.RTPPort, payload, func() {
		a.onPlaybackFinished(session)
	})
	if err != nil {
		return fmt.Errorf("starting announcement: %w", err)
	}
	session.setStream(stream)
	session.log.Info().Int("bytes", len(payload)).Msg("Announcement started")
	return nil
}

// onPlaybackFinished runs on stream goroutine once stream is released
func (a *Agent) onPlaybackFinished(s *CallSession) {
	if !a.conf.HangupAfterPlayback || a.stopping.Load() {
		return
	}
	a.hangup(s)
}

// handleBye always confirms. Removing unknown or already ended dialog is no-op.
func (a *Agent) handleBye(req *sip.Request, tx ServerTx) error {
	id, err := sip.DialogIDFromRequestUAS(req)
	if err != nil {
		return errors.Join(fmt.Errorf("reading dialog id: %w", err), respond(tx, req, 400, "Bad Request", nil))
	}

	session, ok := a.sessions.Remove(id)
	if !ok {
		a.log.Debug().Str("call_id", callIDOf(req.CallID())).Msg("BYE for unknown dialog")
		return respond(tx, req, 200, "OK", nil)
	}
	session.fire(callEventTerminate)
	session.stopStream()
	session.log.Info().Msg("Call ended by remote")
	return respond(tx, req, 200, "OK", nil)
}

// handleCancel aborts call. Answered call is hung up with BYE.
func (a *Agent) handleCancel(req *sip.Request, tx ServerTx) error {
	if err := respond(tx, req, 200, "OK", nil); err != nil {
		return err
	}

	remoteTag := ""
	if from := req.From(); from != nil {
		remoteTag, _ = from.Params.Get("tag")
	}
	session, ok := a.sessions.MatchCancel(callIDOf(req.CallID()), remoteTag)
	if !ok {
		return nil
	}
	session.log.Info().Msg("Call cancelled")
	a.hangup(session)
	return nil
}

func (a *Agent) handleDialogTerminated(dialogID string) {
	session, ok := a.sessions.Remove(dialogID)
	if !ok {
		return
	}
	session.fire(callEventTerminate)
	session.stopStream()
	session.log.Debug().Msg("Dialog terminated")
}

// hangup sends BYE unless call is already terminated. Session is removed
// whatever the send outcome is.
func (a *Agent) hangup(s *CallSession) {
	if err := s.fire(callEventHangup); err != nil {
		s.log.Debug().Str("state", s.State()).Msg("Call already terminated, skipping BYE")
		return
	}

	bye := s.newByeRequest()
	err := a.transport.Request(a.ctx, bye)

	a.sessions.Remove(s.DialogID)
	s.stopStream()

	if err != nil {
		s.log.Error().Err(err).Msg("Failed to send BYE")
		return
	}
	s.log.Info().Msg("Call hung up")
}
