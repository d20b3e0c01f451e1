// health_checker.go: Periodic health evaluation of the bridge
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package gojanus

import (
	"context"
	"slices"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/agilira/go-timecache"
)

// degradedWindow is how long a recovered plugin panic keeps the bridge
// reported as degraded.
const degradedWindow = time.Minute

// Health evaluates the bridge:
//
//   - StatusHealthy: loaded and accepting sessions
//   - StatusDegraded: loaded, a plugin callback panicked within the last minute
//   - StatusUnhealthy: unloading
//   - StatusOffline: not loaded
func (b *Bridge[S]) Health(ctx context.Context) HealthStatus {
	start := time.Now()
	state := bridgeState(b.state.Load())
	recovery := b.recovery.Snapshot()

	status := HealthStatus{
		LastCheck: timecache.CachedTime(),
		Metadata: map[string]string{
			"state":     state.String(),
			"sessions":  strconv.Itoa(b.registry.len()),
			"in_flight": strconv.FormatInt(b.tracker.GetTotalActiveRequests(), 10),
			"panics":    strconv.FormatInt(recovery.TotalPanicsRecovered, 10),
			"version":   b.info.Version,
		},
	}
	if len(b.info.Capabilities) > 0 {
		status.Metadata["capabilities"] = strings.Join(b.info.Capabilities, ",")
	}
	for key, value := range b.info.Metadata {
		status.Metadata["plugin."+key] = value
	}

	switch state {
	case bridgeRunning:
		lastPanic := time.Unix(recovery.LastPanicTime, 0)
		if recovery.TotalPanicsRecovered > 0 && time.Since(lastPanic) < degradedWindow {
			status.Status = StatusDegraded
			status.Message = "Plugin callbacks panicked recently"
		} else {
			status.Status = StatusHealthy
			status.Message = "Plugin loaded"
		}
	case bridgeDraining:
		status.Status = StatusUnhealthy
		status.Message = "Plugin is unloading"
	default:
		status.Status = StatusOffline
		status.Message = "Plugin is not loaded"
	}

	if err := ctx.Err(); err != nil {
		status.Status = StatusUnknown
		status.Message = err.Error()
	}
	status.ResponseTime = time.Since(start)
	return status
}

// HealthChecker evaluates a health function periodically and publishes each
// result to the registered listeners.
type HealthChecker struct {
	check    func(ctx context.Context) HealthStatus
	interval time.Duration
	timeout  time.Duration
	logger   Logger

	mu        sync.Mutex
	listeners []func(HealthStatus)
	lastState PluginStatus

	consecutiveFailures atomic.Int64
	lastCheck           atomic.Int64
	running             atomic.Bool

	stopChan chan struct{}
	doneChan chan struct{}
}

// NewHealthChecker creates a checker. It does not start until Start.
func NewHealthChecker(check func(ctx context.Context) HealthStatus, interval time.Duration, logger Logger) *HealthChecker {
	if logger == nil {
		logger = NewNoOpLogger()
	}
	if interval <= 0 {
		interval = DefaultConfig().Health.Interval
	}
	return &HealthChecker{
		check:    check,
		interval: interval,
		timeout:  interval / 2,
		logger:   logger,
	}
}

// OnStatus registers fn to receive every check result.
func (hc *HealthChecker) OnStatus(fn func(HealthStatus)) {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	hc.listeners = append(hc.listeners, fn)
}

// Check performs one synchronous check and publishes the result.
func (hc *HealthChecker) Check() HealthStatus {
	ctx, cancel := context.WithTimeout(context.Background(), hc.timeout)
	defer cancel()

	status := hc.check(ctx)
	hc.lastCheck.Store(timecache.CachedTimeNano())

	if status.Status == StatusHealthy {
		hc.consecutiveFailures.Store(0)
	} else {
		hc.consecutiveFailures.Add(1)
	}

	hc.mu.Lock()
	listeners := slices.Clone(hc.listeners)
	changed := hc.lastState != status.Status
	hc.lastState = status.Status
	hc.mu.Unlock()

	if changed {
		hc.logger.Info("Health status changed", "status", status.Status.String(), "message", status.Message)
	}
	for _, fn := range listeners {
		fn(status)
	}
	return status
}

// Start begins periodic checking. It is idempotent.
func (hc *HealthChecker) Start() {
	if hc.running.CompareAndSwap(false, true) {
		hc.stopChan = make(chan struct{})
		hc.doneChan = make(chan struct{})
		go hc.run()
	}
}

// Stop halts periodic checking and waits for the loop to exit.
func (hc *HealthChecker) Stop() {
	if hc.running.CompareAndSwap(true, false) {
		close(hc.stopChan)
		<-hc.doneChan
	}
}

// IsRunning returns true if the health checker is currently running
func (hc *HealthChecker) IsRunning() bool {
	return hc.running.Load()
}

// GetLastCheck returns the timestamp of the last health check
func (hc *HealthChecker) GetLastCheck() time.Time {
	timestamp := hc.lastCheck.Load()
	if timestamp == 0 {
		return time.Time{}
	}
	return time.Unix(0, timestamp)
}

// GetConsecutiveFailures returns the number of consecutive non-healthy checks
func (hc *HealthChecker) GetConsecutiveFailures() int64 {
	return hc.consecutiveFailures.Load()
}

func (hc *HealthChecker) run() {
	defer close(hc.doneChan)

	ticker := time.NewTicker(hc.interval)
	defer ticker.Stop()

	hc.Check()
	for {
		select {
		case <-ticker.C:
			hc.Check()
		case <-hc.stopChan:
			return
		}
	}
}
