// request_tracker.go: In-flight callback tracking for session teardown
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
)

// RequestTracker counts the callbacks currently dispatched for each handle
// so teardown can wait for them to leave the session.
type RequestTracker struct {
	activeRequests map[HandleID]*atomic.Int64
	mu             sync.RWMutex

	pollInterval time.Duration
}

// NewRequestTracker creates a new request tracker
func NewRequestTracker() *RequestTracker {
	return &RequestTracker{
		activeRequests: make(map[HandleID]*atomic.Int64),
		pollInterval:   10 * time.Millisecond,
	}
}

func (rt *RequestTracker) counter(handle HandleID) *atomic.Int64 {
	rt.mu.RLock()
	counter, exists := rt.activeRequests[handle]
	rt.mu.RUnlock()
	if exists {
		return counter
	}

	rt.mu.Lock()
	defer rt.mu.Unlock()
	if counter, exists = rt.activeRequests[handle]; !exists {
		counter = &atomic.Int64{}
		rt.activeRequests[handle] = counter
	}
	return counter
}

// StartRequest marks a callback for handle as in flight. The returned
// function ends it; it always decrements the counter it incremented, even
// if the handle was forgotten and registered again meanwhile.
func (rt *RequestTracker) StartRequest(handle HandleID) (end func()) {
	counter := rt.counter(handle)
	counter.Add(1)
	return func() { counter.Add(-1) }
}

// GetActiveRequestCount returns the number of in-flight callbacks for handle.
func (rt *RequestTracker) GetActiveRequestCount(handle HandleID) int64 {
	rt.mu.RLock()
	defer rt.mu.RUnlock()

	if counter, exists := rt.activeRequests[handle]; exists {
		return counter.Load()
	}
	return 0
}

// GetTotalActiveRequests returns the number of in-flight callbacks across
// all handles.
func (rt *RequestTracker) GetTotalActiveRequests() int64 {
	rt.mu.RLock()
	defer rt.mu.RUnlock()

	var total int64
	for _, counter := range rt.activeRequests {
		total += counter.Load()
	}
	return total
}

// WaitForDrain waits until no callback for handle is in flight. It returns
// false when the timeout expired first.
func (rt *RequestTracker) WaitForDrain(handle HandleID, timeout time.Duration) bool {
	return rt.WaitForDrainContext(context.Background(), handle, timeout)
}

// WaitForDrainContext is WaitForDrain that also gives up when parent is done.
func (rt *RequestTracker) WaitForDrainContext(parent context.Context, handle HandleID, timeout time.Duration) bool {
	if rt.GetActiveRequestCount(handle) <= 0 {
		return true
	}

	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	ticker := time.NewTicker(rt.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
			if rt.GetActiveRequestCount(handle) <= 0 {
				return true
			}
		}
	}
}

// Forget drops the counter of a handle that was unregistered.
func (rt *RequestTracker) Forget(handle HandleID) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	delete(rt.activeRequests, handle)
}
