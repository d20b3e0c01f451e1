// session.go: Per-handle session state, its lock and the per-invocation context
//
// Each session has two locks. The state lock (session.mu) serializes every
// plugin callback for the handle; it is never held while calling the host.
// The host-call gate (sessionCore.gate) is held in read mode by every
// outbound host call for the handle and taken in write mode once by
// teardown to mark the session draining, so no host call for the handle
// can start after teardown began or still be running when OnDetach runs.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package gojanus

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// sessionCore holds the parts of a session that do not depend on the
// plugin's state type.
type sessionCore struct {
	handle     HandleID
	generation uint64
	attachedAt time.Time

	gate     sync.RWMutex
	draining bool

	tokenMu sync.Mutex
	tokens  map[uuid.UUID]*ResponseToken

	// active is the context of the callback holding the state lock, if any.
	active atomic.Pointer[SessionContext]
}

func newSessionCore(handle HandleID, generation uint64, now time.Time) *sessionCore {
	return &sessionCore{
		handle:     handle,
		generation: generation,
		attachedAt: now,
		tokens:     make(map[uuid.UUID]*ResponseToken),
	}
}

func (c *sessionCore) isDraining() bool {
	c.gate.RLock()
	defer c.gate.RUnlock()
	return c.draining
}

// beginDrain marks the session draining. It waits for host calls already
// inside the gate and reports false if the session was already draining.
func (c *sessionCore) beginDrain() bool {
	c.gate.Lock()
	defer c.gate.Unlock()
	if c.draining {
		return false
	}
	c.draining = true
	return true
}

// trackToken registers a pending token. Tokens minted on a draining session
// are cancelled immediately.
func (c *sessionCore) trackToken(token *ResponseToken) {
	c.gate.RLock()
	draining := c.draining
	c.gate.RUnlock()
	if draining {
		token.cancel()
		return
	}

	c.tokenMu.Lock()
	c.tokens[token.ID] = token
	c.tokenMu.Unlock()
}

func (c *sessionCore) forgetToken(id uuid.UUID) {
	c.tokenMu.Lock()
	delete(c.tokens, id)
	c.tokenMu.Unlock()
}

// cancelTokens invalidates every outstanding token and returns how many
// were still pending.
func (c *sessionCore) cancelTokens() int {
	c.tokenMu.Lock()
	tokens := c.tokens
	c.tokens = make(map[uuid.UUID]*ResponseToken)
	c.tokenMu.Unlock()

	cancelled := 0
	for _, token := range tokens {
		if token.cancel() {
			cancelled++
		}
	}
	return cancelled
}

func (c *sessionCore) pendingTokens() int {
	c.tokenMu.Lock()
	defer c.tokenMu.Unlock()
	return len(c.tokens)
}

// session is the registry entry for one handle.
type session[S any] struct {
	*sessionCore

	// mu guards everything below and is held for the whole duration of a
	// plugin callback.
	mu       sync.Mutex
	state    S
	attached bool
	detached bool
}

// usable reports whether callbacks may touch the state. Callers hold mu.
func (s *session[S]) usable() bool {
	return s.attached && !s.detached
}

// outbound is the bridge surface used by session contexts and tokens.
type outbound interface {
	callHost(core *sessionCore, op string, fn func(Host) error) error
	fulfill(token *ResponseToken, resp Response) error
	eventsEnabled() bool
	now() time.Time
}

type pendingHostCall struct {
	op string
	fn func(Host) error
}

// SessionContext is handed to every session callback. It identifies the
// handle and issues outbound host calls for it.
//
// Calls issued while the callback is still running are queued and sent
// right after the callback returns, once the session's state lock is
// released. A context retained after its callback returned sends directly.
// Once the session starts draining every call fails with TOKEN_1201.
type SessionContext struct {
	core   *sessionCore
	link   outbound
	logger Logger
	ctx    context.Context

	mu     sync.Mutex
	open   bool
	outbox []pendingHostCall
	minted []*ResponseToken
}

func newSessionContext(ctx context.Context, core *sessionCore, link outbound, logger Logger) *SessionContext {
	sc := &SessionContext{
		core:   core,
		link:   link,
		logger: logger,
		ctx:    ctx,
		open:   true,
	}
	core.active.Store(sc)
	return sc
}

// Handle returns the host handle identifier.
func (sc *SessionContext) Handle() HandleID {
	return sc.core.handle
}

// Generation returns the session's generation marker.
func (sc *SessionContext) Generation() uint64 {
	return sc.core.generation
}

// Logger returns a logger carrying the handle identifier.
func (sc *SessionContext) Logger() Logger {
	return sc.logger
}

// Context returns the context of the current callback. It carries the
// callback's trace span and logger.
func (sc *SessionContext) Context() context.Context {
	return sc.ctx
}

// Defer mints a response token for msg. Return it with Deferred and fulfill
// it from any goroutine. Tokens minted during a callback that does not
// return them through Deferred are cancelled when the callback returns.
func (sc *SessionContext) Defer(msg IncomingMessage) *ResponseToken {
	token := newResponseToken(sc.core, msg.Transaction, sc.link)
	sc.core.trackToken(token)

	sc.mu.Lock()
	if sc.open {
		sc.minted = append(sc.minted, token)
	}
	sc.mu.Unlock()
	return token
}

// PushEvent sends an unsolicited event to the handle's peer.
func (sc *SessionContext) PushEvent(payload any, jsep *Jsep) error {
	body, err := encodePayload(payload)
	if err != nil {
		return err
	}
	handle := sc.core.handle
	return sc.issue(string(HostCallPush), func(h Host) error {
		return h.PushEvent(handle, "", body, jsep)
	})
}

// RelayRTP sends an RTP packet to the handle's peer.
func (sc *SessionContext) RelayRTP(kind MediaKind, packet []byte) error {
	handle, buf := sc.core.handle, cloneBytes(packet)
	return sc.issue(string(HostCallRelayRTP), func(h Host) error {
		return h.RelayRTP(handle, kind, buf)
	})
}

// RelayRTCP sends an RTCP packet to the handle's peer.
func (sc *SessionContext) RelayRTCP(kind MediaKind, packet []byte) error {
	handle, buf := sc.core.handle, cloneBytes(packet)
	return sc.issue(string(HostCallRelayRTCP), func(h Host) error {
		return h.RelayRTCP(handle, kind, buf)
	})
}

// RelayData sends a data channel message to the handle's peer.
func (sc *SessionContext) RelayData(data []byte) error {
	handle, buf := sc.core.handle, cloneBytes(data)
	return sc.issue(string(HostCallRelayData), func(h Host) error {
		return h.RelayData(handle, buf)
	})
}

// ClosePeerConnection asks the host to close the handle's peer connection.
func (sc *SessionContext) ClosePeerConnection() error {
	handle := sc.core.handle
	return sc.issue(string(HostCallClosePC), func(h Host) error {
		return h.ClosePeerConnection(handle)
	})
}

// EndSession asks the host to detach the handle. The host answers with a
// detach callback, which runs after the current callback returned.
func (sc *SessionContext) EndSession() error {
	handle := sc.core.handle
	return sc.issue(string(HostCallEnd), func(h Host) error {
		return h.EndSession(handle)
	})
}

// NotifyEvent publishes an event to the host's event handlers. It fails with
// HOST_1304 when events are disabled in the host or in the configuration.
func (sc *SessionContext) NotifyEvent(event any) error {
	if !sc.link.eventsEnabled() {
		return NewEventsDisabledError()
	}
	body, err := encodePayload(event)
	if err != nil {
		return err
	}
	handle := sc.core.handle
	return sc.issue(string(HostCallNotify), func(h Host) error {
		return h.NotifyEvent(handle, body)
	})
}

func (sc *SessionContext) issue(op string, fn func(Host) error) error {
	if sc.core.isDraining() {
		return NewStaleTokenError(sc.core.handle, "")
	}

	sc.mu.Lock()
	if sc.open {
		sc.outbox = append(sc.outbox, pendingHostCall{op: op, fn: fn})
		sc.mu.Unlock()
		return nil
	}
	sc.mu.Unlock()

	return sc.link.callHost(sc.core, op, fn)
}

// enqueue adds a host call to the outbox regardless of the draining state.
// It is used by the bridge itself for answers that must follow the callback.
func (sc *SessionContext) enqueue(op string, fn func(Host) error) {
	sc.mu.Lock()
	sc.outbox = append(sc.outbox, pendingHostCall{op: op, fn: fn})
	sc.mu.Unlock()
}

// enqueueOpen queues fn while the callback is still running and reports
// false once it returned.
func (sc *SessionContext) enqueueOpen(op string, fn func(Host) error) bool {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	if !sc.open {
		return false
	}
	sc.outbox = append(sc.outbox, pendingHostCall{op: op, fn: fn})
	return true
}

// close ends the callback. Tokens minted during the callback other than
// keep are cancelled. The queued host calls are returned for sending.
func (sc *SessionContext) close(keep *ResponseToken) []pendingHostCall {
	sc.mu.Lock()
	sc.open = false
	calls := sc.outbox
	minted := sc.minted
	sc.outbox = nil
	sc.minted = nil
	sc.mu.Unlock()
	sc.core.active.CompareAndSwap(sc, nil)

	for _, token := range minted {
		if token == keep {
			continue
		}
		if token.cancel() {
			sc.core.forgetToken(token.ID)
			sc.logger.Warn("Response token minted but not returned, cancelled",
				"transaction", token.Transaction)
		}
	}
	return calls
}
