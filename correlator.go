// correlator.go: Response tokens for deferred message answers
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package gojanus

import (
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

const (
	tokenPending int32 = iota
	tokenConsumed
	tokenCancelled
)

// ResponseToken correlates a deferred answer with the message it answers.
//
// A token is consumed by exactly one successful Fulfill. Fulfilling after
// the session was detached, or after the token was cancelled, fails with
// TOKEN_1201 and pushes nothing; a second Fulfill fails with TOKEN_1202.
type ResponseToken struct {
	ID          uuid.UUID
	Handle      HandleID
	Generation  uint64
	Transaction string
	IssuedAt    time.Time

	state atomic.Int32
	owner outbound
}

func newResponseToken(core *sessionCore, transaction string, owner outbound) *ResponseToken {
	return &ResponseToken{
		ID:          uuid.New(),
		Handle:      core.handle,
		Generation:  core.generation,
		Transaction: transaction,
		IssuedAt:    owner.now(),
		owner:       owner,
	}
}

// Fulfill delivers the answer to the host. It is safe to call from any
// goroutine.
func (t *ResponseToken) Fulfill(resp Response) error {
	if t == nil || t.owner == nil {
		return NewMalformedInputError("token", "token was not issued by a session")
	}
	return t.owner.fulfill(t, resp)
}

// Pending reports whether the token can still be fulfilled.
func (t *ResponseToken) Pending() bool {
	return t.state.Load() == tokenPending
}

// consume moves the token from pending to consumed.
func (t *ResponseToken) consume() bool {
	return t.state.CompareAndSwap(tokenPending, tokenConsumed)
}

// cancel moves the token from pending to cancelled.
func (t *ResponseToken) cancel() bool {
	return t.state.CompareAndSwap(tokenPending, tokenCancelled)
}

// Fulfill delivers a deferred answer. It is equivalent to token.Fulfill.
func (b *Bridge[S]) Fulfill(token *ResponseToken, resp Response) error {
	if token == nil {
		return NewMalformedInputError("token", "token is nil")
	}
	return b.fulfill(token, resp)
}

// fulfill checks the token against the live session, consumes it inside the
// session's host-call gate and pushes the answer with the token's
// transaction. While a callback for the handle is running the push is queued
// behind it and sent once its state lock is released.
func (b *Bridge[S]) fulfill(token *ResponseToken, resp Response) (err error) {
	start := b.now()
	_, span := b.startSpan(b.baseContext(), "fulfill", token.Handle, token.Transaction)
	defer func() {
		b.endSpan(span, err)
		b.metrics.fulfillDone(err, time.Since(start))
	}()

	s, ok := b.registry.lookup(token.Handle)
	if !ok || s.generation != token.Generation {
		b.logger.Debug("Dropping response for a detached session",
			"handle_id", token.Handle, "transaction", token.Transaction)
		return NewStaleTokenError(token.Handle, token.Transaction)
	}

	body, err := resp.encode()
	if err != nil {
		return err
	}

	s.gate.RLock()
	defer s.gate.RUnlock()

	if s.draining {
		b.logger.Debug("Dropping response for a draining session",
			"handle_id", token.Handle, "transaction", token.Transaction)
		return NewStaleTokenError(token.Handle, token.Transaction)
	}
	if !token.consume() {
		if token.state.Load() == tokenCancelled {
			return NewStaleTokenError(token.Handle, token.Transaction)
		}
		return NewTokenAlreadyConsumedError(token.Handle, token.Transaction)
	}
	s.forgetToken(token.ID)

	// A callback for the handle holds the state lock: the push follows it.
	handle, transaction, jsep := token.Handle, token.Transaction, resp.Jsep
	if running := s.active.Load(); running != nil {
		if running.enqueueOpen(string(HostCallPush), func(h Host) error {
			return h.PushEvent(handle, transaction, body, jsep)
		}) {
			return nil
		}
	}

	host := b.currentHost()
	if host == nil {
		return NewHostUnavailableError()
	}
	if pushErr := host.PushEvent(handle, transaction, body, jsep); pushErr != nil {
		b.metrics.hostCallFailed(string(HostCallPush))
		return NewHostPushFailedError(handle, string(HostCallPush), pushErr)
	}
	return nil
}
