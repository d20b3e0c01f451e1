// teardown.go: Session teardown coordinator
//
// Teardown of a handle proceeds in a fixed order:
//
//  1. mark the session draining inside its host-call gate, so no host call
//     for the handle starts afterwards and none is still running
//  2. cancel the session's outstanding response tokens
//  3. wait, up to drain_timeout, for callbacks already dispatched
//  4. take the state lock, call OnDetach and remove the entry
//
// A teardown that finds the session already draining reports the handle as
// not found, so concurrent detaches resolve to exactly one OnDetach.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package gojanus

import (
	"time"
)

func (b *Bridge[S]) teardown(handle HandleID, reason string) (err error) {
	start := time.Now()
	ctx, span := b.startSpan(b.baseContext(), "detach", handle, "")
	defer func() { b.endSpan(span, err) }()

	s, ok := b.registry.lookup(handle)
	if !ok {
		return NewHandleNotFoundError(handle)
	}
	if !s.beginDrain() {
		return NewHandleNotFoundError(handle)
	}

	cancelled := s.cancelTokens()

	timeout := DefaultConfig().DrainTimeout
	if cfg := b.config.Load(); cfg != nil {
		timeout = cfg.DrainTimeout
	}
	var drained bool
	if b.shutdown.forced() {
		drained = b.tracker.GetActiveRequestCount(handle) <= 0
	} else {
		drained = b.tracker.WaitForDrainContext(b.shutdown.drainContext(), handle, timeout)
	}
	if !drained {
		b.logger.Warn("Callbacks still running at teardown, waiting for the session lock",
			"handle_id", handle,
			"in_flight", b.tracker.GetActiveRequestCount(handle),
			"timeout", timeout)
	}

	s.mu.Lock()
	var detachErr error
	if s.usable() {
		sc := b.newSessionContext(ctx, s.sessionCore)
		state := s.state
		detachErr = guardCall("detach", b.panicHandler("detach"), func() error {
			b.plugin.OnDetach(sc, state)
			return nil
		})
		sc.close(nil)
	}
	_, _ = b.registry.unregister(s)
	s.mu.Unlock()

	if _, exists := b.registry.lookup(handle); !exists {
		b.tracker.Forget(handle)
	}

	b.metrics.teardown(time.Since(start), cancelled, !drained)
	b.metrics.sessionsActive(b.registry.len())

	if detachErr != nil {
		b.logger.Error("Plugin failed during detach", "handle_id", handle, "error", detachErr)
	}
	b.logger.Debug("Session detached",
		"handle_id", handle,
		"generation", s.generation,
		"reason", reason,
		"tokens_cancelled", cancelled)
	return nil
}
