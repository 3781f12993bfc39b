// SPDX-License-Identifier: MPL-2.0
// SPDX-FileCopyrightText: Copyright (c) 2024, Emir Aganovic

package sipbot

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/emiago/sipgo/sip"
	"github.com/stretchr/testify/require"
)

// fakeTransport records outgoing requests. Events are injected by tests.
type fakeTransport struct {
	mu       sync.Mutex
	requests []*sip.Request
	err      error

	events chan Event
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{events: make(chan Event, 16)}
}

func (f *fakeTransport) Request(ctx context.Context, req *sip.Request) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.requests = append(f.requests, req)
	return nil
}

func (f *fakeTransport) Events() <-chan Event {
	return f.events
}

func (f *fakeTransport) Serve(ctx context.Context, ready func()) error {
	ready()
	<-ctx.Done()
	return nil
}

func (f *fakeTransport) Close() error {
	return nil
}

func (f *fakeTransport) Requests() []*sip.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*sip.Request(nil), f.requests...)
}

func (f *fakeTransport) waitRequests(t *testing.T, n int) []*sip.Request {
	t.Helper()
	require.Eventually(t, func() bool {
		return len(f.Requests()) >= n
	}, 3*time.Second, 5*time.Millisecond, "expected %d requests", n)
	return f.Requests()
}

// fakeServerTx records responses
type fakeServerTx struct {
	mu        sync.Mutex
	responses []*sip.Response
	// err is returned from every Respond
	err error
}

func (tx *fakeServerTx) Respond(res *sip.Response) error {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	tx.responses = append(tx.responses, res)
	return tx.err
}

func (tx *fakeServerTx) Responses() []*sip.Response {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	return append([]*sip.Response(nil), tx.responses...)
}

func (tx *fakeServerTx) Last() *sip.Response {
	res := tx.Responses()
	if len(res) == 0 {
		return nil
	}
	return res[len(res)-1]
}
