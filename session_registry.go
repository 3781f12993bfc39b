// SPDX-License-Identifier: MPL-2.0
// SPDX-FileCopyrightText: Copyright (c) 2024, Emir Aganovic

package sipbot

import (
	"errors"
	"fmt"
	"sync"

	"github.com/emiago/sipbot/metrics"
)

var ErrSessionExists = errors.New("call session already exists")

// SessionRegistry keeps active call sessions by dialog ID.
// It is safe for concurrent use.
type SessionRegistry struct {
	m sync.Map
}

func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{}
}

func (r *SessionRegistry) Insert(s *CallSession) error {
	if _, loaded := r.m.LoadOrStore(s.DialogID, s); loaded {
		return fmt.Errorf("%w: %s", ErrSessionExists, s.DialogID)
	}
	metrics.ActiveCalls.Inc()
	return nil
}

func (r *SessionRegistry) Lookup(dialogID string) (*CallSession, bool) {
	v, ok := r.m.Load(dialogID)
	if !ok {
		return nil, false
	}
	return v.(*CallSession), true
}

// Remove is idempotent. Returns removed session if it existed.
func (r *SessionRegistry) Remove(dialogID string) (*CallSession, bool) {
	v, ok := r.m.LoadAndDelete(dialogID)
	if !ok {
		return nil, false
	}
	metrics.ActiveCalls.Dec()
	return v.(*CallSession), true
}

// MatchCancel finds session for CANCEL, which carries no To tag.
func (r *SessionRegistry) MatchCancel(callID string, remoteTag string) (*CallSession, bool) {
	var found *CallSession
	r.Range(func(s *CallSession) bool {
		if s.CallID == callID && s.RemoteTag == remoteTag {
			found = s
			return false
		}
		return true
	})
	return found, found != nil
}

// TODO consider modern iterator
func (r *SessionRegistry) Range(f func(s *CallSession) bool) {
	r.m.Range(func(_, value any) bool {
		return f(value.(*CallSession))
	})
}

func (r *SessionRegistry) Len() int {
	n := 0
	r.m.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}
