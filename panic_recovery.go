// panic_recovery.go: Panic recovery for plugin callbacks and worker goroutines
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package gojanus

import (
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/agilira/go-timecache"
)

// RecoveryHandler defines the signature for panic recovery handlers.
type RecoveryHandler func(recovered interface{}, stack []byte)

// withStackRecover returns a panic recovery function that logs panic details
// including the stack trace. Call the result with defer.
func withStackRecover(logger Logger) func() {
	return func() {
		if r := recover(); r != nil {
			buf := make([]byte, 64<<10)
			n := runtime.Stack(buf, false)

			logger.Error("Panic recovered in goroutine",
				"panic", r,
				"stack", string(buf[:n]))
		}
	}
}

// withCustomRecoveryHandler returns a panic recovery function that calls
// handler when a panic occurs.
func withCustomRecoveryHandler(handler RecoveryHandler) func() {
	return func() {
		if r := recover(); r != nil {
			buf := make([]byte, 64<<10)
			n := runtime.Stack(buf, false)

			handler(r, buf[:n])
		}
	}
}

// SafeGo runs fn in a new goroutine with panic recovery. Plugins use it for
// deferred work that later fulfills a ResponseToken.
//
//	token := sc.Defer(msg)
//	gojanus.SafeGo(sc.Logger(), func() {
//	    _ = token.Fulfill(gojanus.Success(result))
//	})
func SafeGo(logger Logger, fn func()) {
	go func() {
		defer withStackRecover(logger)()
		fn()
	}()
}

// SafeGoWithHandler runs fn in a new goroutine with custom panic recovery.
func SafeGoWithHandler(handler RecoveryHandler, fn func()) {
	go func() {
		defer withCustomRecoveryHandler(handler)()
		fn()
	}()
}

// guardCall runs a plugin callback and converts a panic into a
// PLUGIN_1103 error. The recovered panic is reported to onPanic.
func guardCall(operation string, onPanic RecoveryHandler, fn func() error) (err error) {
	defer withCustomRecoveryHandler(func(recovered interface{}, stack []byte) {
		if onPanic != nil {
			onPanic(recovered, stack)
		}
		err = NewPluginPanicError(operation, recovered)
	})()
	return fn()
}

// RecoveryMetrics tracks recovered panics. It is safe for concurrent use.
type RecoveryMetrics struct {
	totalPanics   atomic.Int64
	lastPanicTime atomic.Int64

	mu          sync.Mutex
	byComponent map[string]int64
}

// RecoverySnapshot is a point-in-time copy of RecoveryMetrics.
type RecoverySnapshot struct {
	TotalPanicsRecovered int64            `json:"total_panics_recovered"`
	LastPanicTime        int64            `json:"last_panic_time_unix"`
	PanicsByComponent    map[string]int64 `json:"panics_by_component"`
}

func (m *RecoveryMetrics) record(component string) int64 {
	total := m.totalPanics.Add(1)
	m.lastPanicTime.Store(timecache.CachedTime().Unix())

	m.mu.Lock()
	if m.byComponent == nil {
		m.byComponent = make(map[string]int64)
	}
	m.byComponent[component]++
	m.mu.Unlock()
	return total
}

// Snapshot returns the current counters.
func (m *RecoveryMetrics) Snapshot() RecoverySnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	byComponent := make(map[string]int64, len(m.byComponent))
	for k, v := range m.byComponent {
		byComponent[k] = v
	}
	return RecoverySnapshot{
		TotalPanicsRecovered: m.totalPanics.Load(),
		LastPanicTime:        m.lastPanicTime.Load(),
		PanicsByComponent:    byComponent,
	}
}

// MetricsRecoveryHandler creates a recovery handler that tracks panic metrics.
func MetricsRecoveryHandler(logger Logger, metrics *RecoveryMetrics, component string) RecoveryHandler {
	return func(recovered interface{}, stack []byte) {
		total := metrics.record(component)

		logger.Error("Panic recovered with metrics tracking",
			"panic", recovered,
			"component", component,
			"total_panics", total,
			"stack", string(stack))
	}
}
