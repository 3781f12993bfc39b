// SPDX-License-Identifier: MPL-2.0
// SPDX-FileCopyrightText: Copyright (c) 2024, Emir Aganovic

package sipbot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/emiago/sipbot/metrics"
	"github.com/emiago/sipgo/sip"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var ErrRegisterChallengeRepeated = errors.New("register challenged after authorization")

const (
	registerRefreshMargin = 10 * time.Second
	registerRefreshMin    = 5 * time.Second
)

type RegisterResponseError struct {
	RegisterReq *sip.Request
	RegisterRes *sip.Response

	Msg string
}

func (e *RegisterResponseError) StatusCode() int {
	return int(e.RegisterRes.StatusCode)
}

func (e RegisterResponseError) Error() string {
	return e.Msg
}

type RegisterOptions struct {
	// Digest auth
	Username string
	Password string

	// Domain is host of address of record
	Domain string
	// Registrar is destination host:port. Empty means request goes to Domain
	Registrar string
	Transport string
	Contact   sip.ContactHeader

	// Expiry is for Expire header
	Expiry time.Duration
	// RetryInterval starts new cycle after failed one. Zero disables retry
	RetryInterval time.Duration

	OnRegistered func()
}

// RegisterManager keeps binding on registrar alive.
// Requests go through Transport and responses are fed back with HandleResponse.
// Every cycle may answer one digest challenge. Call-ID is stable for manager lifetime.
type RegisterManager struct {
	transport Transport
	opts      RegisterOptions
	log       zerolog.Logger

	mu         sync.Mutex
	ctx        context.Context
	callID     string
	fromTag    string
	cseq       uint32
	lastReq    *sip.Request
	authorized bool
	registered bool
	stopped    bool
	task       *Task
}

func NewRegisterManager(tr Transport, opts RegisterOptions, log zerolog.Logger) *RegisterManager {
	if opts.Transport == "" {
		opts.Transport = "udp"
	}
	return &RegisterManager{
		transport: tr,
		opts:      opts,
		log:       log.With().Str("caller", "Register").Logger(),
		ctx:       context.Background(),
		callID:    uuid.NewString(),
		fromTag:   uuid.NewString(),
	}
}

// RefreshDelay is time after successful registration when binding is refreshed
func RefreshDelay(expiry time.Duration) time.Duration {
	return max(registerRefreshMin, expiry-registerRefreshMargin)
}

// Register starts new registration cycle
func (m *RegisterManager) Register(ctx context.Context) error {
	m.mu.Lock()
	m.ctx = ctx
	m.mu.Unlock()
	return m.send(nil)
}

func (m *RegisterManager) send(auth sip.Header) error {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return nil
	}
	if auth == nil {
		m.authorized = false
	}
	m.cseq++
	req := m.newRequest(m.cseq, m.opts.Expiry)
	if auth != nil {
		req.AppendHeader(auth)
	}
	m.lastReq = req
	ctx := m.ctx
	m.mu.Unlock()

	m.log.Debug().Uint32("cseq", req.CSeq().SeqNo).Bool("auth", auth != nil).Msg("Sending REGISTER")
	if err := m.transport.Request(ctx, req); err != nil {
		err = fmt.Errorf("sending REGISTER failed: %w", err)
		m.fail(err)
		return err
	}
	return nil
}

func (m *RegisterManager) newRequest(cseq uint32, expiry time.Duration) *sip.Request {
	aor := sip.Uri{
		Scheme:    "sip",
		User:      m.opts.Username,
		Host:      m.opts.Domain,
		UriParams: sip.NewParams(),
		Headers:   sip.NewParams(),
	}
	req := sip.NewRequest(sip.REGISTER, aor)

	from := &sip.FromHeader{Address: aor, Params: sip.NewParams()}
	from.Params.Add("tag", m.fromTag)
	to := &sip.ToHeader{Address: aor, Params: sip.NewParams()}
	callID := sip.CallIDHeader(m.callID)
	contact := m.opts.Contact
	maxfwd := sip.MaxForwardsHeader(70)
	expires := sip.ExpiresHeader(expiry.Seconds())

	req.AppendHeader(from)
	req.AppendHeader(to)
	req.AppendHeader(&callID)
	req.AppendHeader(&sip.CSeqHeader{SeqNo: cseq, MethodName: sip.REGISTER})
	req.AppendHeader(&contact)
	req.AppendHeader(&maxfwd)
	req.AppendHeader(&expires)

	if m.opts.Registrar != "" {
		req.SetDestination(m.opts.Registrar)
	}
	req.SetTransport(strings.ToUpper(m.opts.Transport))
	return req
}

// HandleResponse processes REGISTER response. It returns false if response is not for REGISTER.
// Responses of older requests are ignored.
func (m *RegisterManager) HandleResponse(res *sip.Response) bool {
	cseq := res.CSeq()
	if cseq == nil || cseq.MethodName != sip.REGISTER {
		return false
	}

	m.mu.Lock()
	if m.stopped || m.lastReq == nil || cseq.SeqNo != m.cseq {
		m.mu.Unlock()
		m.log.Debug().Uint32("cseq", cseq.SeqNo).Int("status", int(res.StatusCode)).Msg("Ignoring stale REGISTER response")
		return true
	}
	req := m.lastReq
	authorized := m.authorized
	m.mu.Unlock()

	code := int(res.StatusCode)
	switch {
	case code < 200:
		return true

	case code < 300:
		m.succeed()

	case code == int(sip.StatusUnauthorized) || code == int(sip.StatusProxyAuthRequired):
		metrics.RegistrationsTotal.WithLabelValues(metrics.RegisterChallenged).Inc()
		if authorized {
			m.fail(&RegisterResponseError{
				RegisterReq: req,
				RegisterRes: res,
				Msg:         ErrRegisterChallengeRepeated.Error(),
			})
			return true
		}

		auth, err := DigestAuthorize(res, req, DigestAuth{Username: m.opts.Username, Password: m.opts.Password})
		if err != nil {
			m.fail(err)
			return true
		}

		m.mu.Lock()
		m.authorized = true
		m.mu.Unlock()
		m.send(auth)

	default:
		m.fail(&RegisterResponseError{
			RegisterReq: req,
			RegisterRes: res,
			Msg:         res.StartLine(),
		})
	}
	return true
}

// HandleTimeout processes REGISTER that got no final response
func (m *RegisterManager) HandleTimeout(req *sip.Request) bool {
	if !m.isCurrent(req) {
		return false
	}
	metrics.RegistrationsTotal.WithLabelValues(metrics.RegisterTimeout).Inc()
	m.fail(fmt.Errorf("REGISTER timed out"))
	return true
}

// HandleError processes transport failure of REGISTER
func (m *RegisterManager) HandleError(req *sip.Request, err error) bool {
	if !m.isCurrent(req) {
		return false
	}
	m.fail(fmt.Errorf("REGISTER transport error: %w", err))
	return true
}

func (m *RegisterManager) isCurrent(req *sip.Request) bool {
	if req == nil || req.Method != sip.REGISTER {
		return false
	}
	cseq := req.CSeq()
	m.mu.Lock()
	defer m.mu.Unlock()
	return cseq != nil && cseq.SeqNo == m.cseq && !m.stopped
}

func (m *RegisterManager) succeed() {
	metrics.RegistrationsTotal.WithLabelValues(metrics.RegisterSuccess).Inc()
	delay := RefreshDelay(m.opts.Expiry)

	m.mu.Lock()
	m.registered = true
	m.schedule(delay)
	m.mu.Unlock()

	m.log.Info().Dur("refresh", delay).Msg("Registered")
	if m.opts.OnRegistered != nil {
		m.opts.OnRegistered()
	}
}

func (m *RegisterManager) fail(err error) {
	metrics.RegistrationsTotal.WithLabelValues(metrics.RegisterFailure).Inc()
	m.log.Error().Err(err).Msg("Registration failed")

	if m.opts.RetryInterval <= 0 {
		return
	}
	m.mu.Lock()
	m.schedule(m.opts.RetryInterval)
	m.mu.Unlock()
}

// schedule replaces pending cycle. Must be called with lock held.
func (m *RegisterManager) schedule(d time.Duration) {
	if m.stopped {
		return
	}
	m.task.Cancel()
	m.task = Schedule(d, func() {
		m.send(nil)
	})
}

// Registered reports whether last cycle succeeded and binding is not removed
func (m *RegisterManager) Registered() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.registered && !m.stopped
}

// Stop cancels pending refresh or retry
func (m *RegisterManager) Stop() {
	m.mu.Lock()
	m.stopped = true
	m.task.Cancel()
	m.task = nil
	m.mu.Unlock()
}

// Unregister stops manager and removes binding with Expires 0. Response is not awaited.
func (m *RegisterManager) Unregister(ctx context.Context) error {
	m.mu.Lock()
	registered := m.registered
	m.stopped = true
	m.task.Cancel()
	m.task = nil
	if !registered {
		m.mu.Unlock()
		return nil
	}
	m.cseq++
	req := m.newRequest(m.cseq, 0)
	m.lastReq = req
	m.mu.Unlock()

	m.log.Info().Msg("Unregistering")
	return m.transport.Request(ctx, req)
}
