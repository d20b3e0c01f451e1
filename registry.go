// registry.go: Handle registry owning one session per live handle
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package gojanus

import (
	"sort"
	"sync"
	"sync/atomic"

	"github.com/agilira/go-timecache"
)

// sessionRegistry maps handle identifiers to sessions. It is the only place
// where sessions are created or removed.
type sessionRegistry[S any] struct {
	mu       sync.RWMutex
	sessions map[HandleID]*session[S]
	closed   bool

	generations atomic.Uint64
}

func newSessionRegistry[S any]() *sessionRegistry[S] {
	return &sessionRegistry[S]{
		sessions: make(map[HandleID]*session[S]),
	}
}

// register creates the session for handle with a fresh generation. The
// session is returned with its state lock held and not yet attached: the
// caller runs OnAttach, then either commits the state or abandons the entry.
func (r *sessionRegistry[S]) register(handle HandleID) (*session[S], error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, NewShuttingDownError()
	}
	if _, exists := r.sessions[handle]; exists {
		return nil, NewDuplicateHandleError(handle)
	}

	s := &session[S]{
		sessionCore: newSessionCore(handle, r.generations.Add(1), timecache.CachedTime()),
	}
	s.mu.Lock()
	r.sessions[handle] = s
	return s, nil
}

// lookup returns the session for handle. Unknown and unregistered handles
// are reported absent.
func (r *sessionRegistry[S]) lookup(handle HandleID) (*session[S], bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[handle]
	return s, ok
}

// unregister removes s and hands back its state, leaving the zero value in
// the entry. Only the teardown coordinator calls it, with the session's
// state lock held. A later session registered under the same handle is left
// in place.
func (r *sessionRegistry[S]) unregister(s *session[S]) (S, bool) {
	var zero S

	r.mu.Lock()
	if current, ok := r.sessions[s.handle]; ok && current == s {
		delete(r.sessions, s.handle)
	}
	r.mu.Unlock()

	if s.detached {
		return zero, false
	}
	state := s.state
	s.state = zero
	s.detached = true
	return state, s.attached
}

// abandon drops an entry whose attach failed. It only removes s itself,
// never a later session registered under the same handle.
func (r *sessionRegistry[S]) abandon(s *session[S]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if current, ok := r.sessions[s.handle]; ok && current == s {
		delete(r.sessions, s.handle)
	}
}

// close refuses further registrations. Sessions registered before it are
// all visible to a following handles call.
func (r *sessionRegistry[S]) close() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
}

// handles returns the registered handle identifiers in ascending order.
func (r *sessionRegistry[S]) handles() []HandleID {
	r.mu.RLock()
	out := make([]HandleID, 0, len(r.sessions))
	for handle := range r.sessions {
		out = append(out, handle)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (r *sessionRegistry[S]) len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
