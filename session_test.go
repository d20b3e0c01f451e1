// session_test.go: tests for session contexts and response tokens
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package gojanus

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeLink records the host calls issued by a SessionContext without a bridge.
type fakeLink struct {
	mu       sync.Mutex
	ops      []string
	fulfills atomic.Int32
	events   bool
}

func (l *fakeLink) callHost(core *sessionCore, op string, fn func(Host) error) error {
	if core.isDraining() {
		return NewStaleTokenError(core.handle, "")
	}
	l.mu.Lock()
	l.ops = append(l.ops, op)
	l.mu.Unlock()
	return nil
}

func (l *fakeLink) fulfill(token *ResponseToken, resp Response) error {
	l.fulfills.Add(1)
	if !token.consume() {
		return NewTokenAlreadyConsumedError(token.Handle, token.Transaction)
	}
	return nil
}

func (l *fakeLink) eventsEnabled() bool { return l.events }

func (l *fakeLink) now() time.Time { return time.Unix(1700000000, 0) }

func (l *fakeLink) calls() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.ops...)
}

func newTestContext(handle HandleID) (*SessionContext, *sessionCore, *fakeLink) {
	core := newSessionCore(handle, 1, time.Now())
	link := &fakeLink{}
	sc := newSessionContext(context.Background(), core, link, NewTestLogger())
	return sc, core, link
}

func TestSessionContext_QueuesWhileOpen(t *testing.T) {
	sc, _, link := newTestContext(1)

	require.NoError(t, sc.PushEvent(map[string]string{"event": "x"}, nil))
	require.NoError(t, sc.RelayRTP(MediaKindAudio, []byte{0x80}))
	require.NoError(t, sc.RelayRTCP(MediaKindVideo, []byte{0x81}))
	require.NoError(t, sc.RelayData([]byte("hi")))
	require.NoError(t, sc.ClosePeerConnection())
	require.NoError(t, sc.EndSession())
	assert.Empty(t, link.calls())

	calls := sc.close(nil)
	require.Len(t, calls, 6)
	ops := make([]string, 0, len(calls))
	for _, c := range calls {
		ops = append(ops, c.op)
	}
	assert.Equal(t, []string{
		string(HostCallPush), string(HostCallRelayRTP), string(HostCallRelayRTCP),
		string(HostCallRelayData), string(HostCallClosePC), string(HostCallEnd),
	}, ops)

	// After close the context sends directly.
	require.NoError(t, sc.PushEvent(nil, nil))
	assert.Equal(t, []string{string(HostCallPush)}, link.calls())
}

func TestSessionContext_RelayCopiesPacket(t *testing.T) {
	sc, _, _ := newTestContext(1)
	packet := []byte{0x80, 0x60}
	require.NoError(t, sc.RelayRTP(MediaKindAudio, packet))
	packet[0] = 0

	host := NewRecordingHost(false)
	calls := sc.close(nil)
	require.Len(t, calls, 1)
	require.NoError(t, calls[0].fn(host))
	assert.Equal(t, []byte{0x80, 0x60}, host.Calls()[0].Data)
}

func TestSessionContext_FailsWhenDraining(t *testing.T) {
	sc, core, _ := newTestContext(4)
	require.True(t, core.beginDrain())
	assert.False(t, core.beginDrain())

	err := sc.PushEvent(nil, nil)
	assert.True(t, IsErrorCode(err, ErrCodeStaleToken))
	assert.Empty(t, sc.close(nil))
}

func TestSessionContext_NotifyEvent(t *testing.T) {
	sc, _, link := newTestContext(1)

	err := sc.NotifyEvent(map[string]string{"event": "joined"})
	assert.True(t, IsErrorCode(err, ErrCodeEventsDisabled))

	link.events = true
	require.NoError(t, sc.NotifyEvent(map[string]string{"event": "joined"}))
	calls := sc.close(nil)
	require.Len(t, calls, 1)
	assert.Equal(t, string(HostCallNotify), calls[0].op)
}

func TestSessionContext_Accessors(t *testing.T) {
	core := newSessionCore(77, 3, time.Now())
	logger := NewTestLogger()
	ctx := context.WithValue(context.Background(), loggerKey, logger)
	sc := newSessionContext(ctx, core, &fakeLink{}, logger)

	assert.Equal(t, HandleID(77), sc.Handle())
	assert.Equal(t, uint64(3), sc.Generation())
	assert.Same(t, logger, sc.Logger())
	assert.Same(t, logger, LoggerFromContext(sc.Context()))
}

func TestResponseToken_Lifecycle(t *testing.T) {
	sc, core, link := newTestContext(9)
	token := sc.Defer(IncomingMessage{Transaction: "txn-9"})

	assert.Equal(t, HandleID(9), token.Handle)
	assert.Equal(t, uint64(1), token.Generation)
	assert.Equal(t, "txn-9", token.Transaction)
	assert.Equal(t, time.Unix(1700000000, 0), token.IssuedAt)
	assert.True(t, token.Pending())
	assert.Equal(t, 1, core.pendingTokens())

	sc.close(token)
	assert.True(t, token.Pending(), "returned token survives close")

	require.NoError(t, token.Fulfill(Success(nil)))
	assert.False(t, token.Pending())
	err := token.Fulfill(Success(nil))
	assert.True(t, IsErrorCode(err, ErrCodeTokenAlreadyConsumed))
	assert.Equal(t, int32(2), link.fulfills.Load())
}

func TestResponseToken_UnreturnedIsCancelled(t *testing.T) {
	core := newSessionCore(2, 1, time.Now())
	logger := NewTestLogger()
	sc := newSessionContext(context.Background(), core, &fakeLink{}, logger)

	kept := sc.Defer(IncomingMessage{Transaction: "keep"})
	dropped := sc.Defer(IncomingMessage{Transaction: "drop"})
	sc.close(kept)

	assert.True(t, kept.Pending())
	assert.False(t, dropped.Pending())
	assert.Equal(t, 1, core.pendingTokens())
	assert.True(t, logger.HasMessage("WARN", "Response token minted but not returned, cancelled"))
}

func TestResponseToken_MintedWhileDraining(t *testing.T) {
	sc, core, _ := newTestContext(1)
	core.beginDrain()

	token := sc.Defer(IncomingMessage{Transaction: "late"})
	assert.False(t, token.Pending())
	assert.Equal(t, 0, core.pendingTokens())
}

func TestSessionCore_CancelTokens(t *testing.T) {
	sc, core, _ := newTestContext(1)
	a := sc.Defer(IncomingMessage{Transaction: "a"})
	b := sc.Defer(IncomingMessage{Transaction: "b"})
	c := sc.Defer(IncomingMessage{Transaction: "c"})
	sc.close(nil)
	// close already cancelled all three; mint fresh ones outside a callback.
	assert.False(t, a.Pending())
	assert.False(t, b.Pending())
	assert.False(t, c.Pending())

	d := sc.Defer(IncomingMessage{Transaction: "d"})
	e := sc.Defer(IncomingMessage{Transaction: "e"})
	require.True(t, e.consume())

	assert.Equal(t, 1, core.cancelTokens())
	assert.False(t, d.Pending())
	assert.Equal(t, 0, core.pendingTokens())
}

func TestResponseToken_FulfillWithoutOwner(t *testing.T) {
	var nilToken *ResponseToken
	assert.True(t, IsErrorCode(nilToken.Fulfill(Success(nil)), ErrCodeMalformedInput))
	assert.True(t, IsErrorCode((&ResponseToken{}).Fulfill(Success(nil)), ErrCodeMalformedInput))
}

func TestResponseToken_ConcurrentFulfillConsumesOnce(t *testing.T) {
	plugin := newTestPlugin()
	var token *ResponseToken
	plugin.onMessage = func(sc *SessionContext, st *testState, msg IncomingMessage) MessageOutcome {
		token = sc.Defer(msg)
		return Deferred(token)
	}
	f := newBridgeFixture(t, plugin)
	require.NoError(t, f.bridge.CreateSession(1))
	require.Equal(t, ResultOKWait, f.bridge.HandleMessage(1, "race", []byte(`{}`), nil).Type)

	const callers = 32
	var ok, consumed atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := token.Fulfill(Success(map[string]int{"n": 1}))
			switch {
			case err == nil:
				ok.Add(1)
			case IsErrorCode(err, ErrCodeTokenAlreadyConsumed):
				consumed.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), ok.Load())
	assert.Equal(t, int32(callers-1), consumed.Load())
	assert.Len(t, f.host.Pushes(), 1)
}

func TestBridge_FulfillRacingDetach(t *testing.T) {
	for round := 0; round < 20; round++ {
		plugin := newTestPlugin()
		var token *ResponseToken
		plugin.onMessage = func(sc *SessionContext, st *testState, msg IncomingMessage) MessageOutcome {
			token = sc.Defer(msg)
			return Deferred(token)
		}
		f := newBridgeFixture(t, plugin)
		require.NoError(t, f.bridge.CreateSession(1))
		f.bridge.HandleMessage(1, "t", []byte(`{}`), nil)

		var fulfillErr error
		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			fulfillErr = token.Fulfill(Success(nil))
		}()
		go func() {
			defer wg.Done()
			assert.NoError(t, f.bridge.DestroySession(1))
		}()
		wg.Wait()

		// Either the push happened before the detach or it was refused.
		pushes := len(f.host.Pushes())
		if fulfillErr == nil {
			assert.Equal(t, 1, pushes)
		} else {
			assert.True(t, IsErrorCode(fulfillErr, ErrCodeStaleToken), "got %v", fulfillErr)
			assert.Equal(t, 0, pushes)
		}
		f.bridge.Destroy()
	}
}
