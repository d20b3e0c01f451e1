// shutdown_coordinator.go: Coordinated plugin unload
//
// Unload follows a fixed sequence: stop accepting sessions, detach every
// remaining session (in parallel, bounded by teardown_parallelism), call
// OnUnload, then stop the watcher and the health endpoint and release the
// host callbacks.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package gojanus

import (
	"context"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

// ShutdownCoordinator drives the unload sequence of a Bridge.
type ShutdownCoordinator[S any] struct {
	bridge *Bridge[S]
	logger Logger

	// force makes remaining teardowns skip waiting for in-flight callbacks.
	force atomic.Bool
	// unloadCtx bounds the drain waits of teardowns run by the unload.
	unloadCtx atomic.Pointer[context.Context]
}

// NewShutdownCoordinator creates a new shutdown coordinator.
func NewShutdownCoordinator[S any](bridge *Bridge[S]) *ShutdownCoordinator[S] {
	return &ShutdownCoordinator[S]{
		bridge: bridge,
		logger: bridge.logger,
	}
}

// GracefulShutdown detaches every session and unloads the plugin. When ctx
// expires before all sessions are detached, the remaining teardowns stop
// waiting for in-flight callbacks; they still wait for each session's state
// lock, so OnDetach always runs before OnUnload.
func (sc *ShutdownCoordinator[S]) GracefulShutdown(ctx context.Context) error {
	b := sc.bridge
	if !b.state.CompareAndSwap(int32(bridgeRunning), int32(bridgeDraining)) {
		return NewNotInitializedError()
	}

	sc.unloadCtx.Store(&ctx)
	start := time.Now()
	// Attaches admitted before the state change either registered already
	// or now fail, so the snapshot is complete.
	b.registry.close()
	handles := b.registry.handles()
	sc.logger.Info("Starting plugin unload",
		"sessions", len(handles),
		"in_flight", b.tracker.GetTotalActiveRequests())

	stopWatch := context.AfterFunc(ctx, func() {
		if sc.force.CompareAndSwap(false, true) {
			sc.logger.Warn("Unload deadline reached, no longer waiting for in-flight callbacks")
		}
	})
	defer stopWatch()

	err := sc.detachAll(handles)

	if unloadErr := guardCall("unload", b.panicHandler("unload"), func() error {
		b.plugin.OnUnload()
		return nil
	}); unloadErr != nil {
		sc.logger.Error("Plugin failed during unload", "error", unloadErr)
		if err == nil {
			err = unloadErr
		}
	}

	sc.stopInfrastructure()
	b.state.Store(int32(bridgeStopped))
	b.metrics.sessionsActive(b.registry.len())

	sc.logger.Info("Plugin unloaded",
		"sessions_detached", len(handles),
		"duration", time.Since(start))
	return err
}

// ForceShutdown unloads without waiting for in-flight callbacks.
func (sc *ShutdownCoordinator[S]) ForceShutdown() error {
	sc.logger.Warn("Performing force unload")
	sc.force.Store(true)
	return sc.GracefulShutdown(context.Background())
}

func (sc *ShutdownCoordinator[S]) detachAll(handles []HandleID) error {
	b := sc.bridge
	limit := DefaultConfig().TeardownParallelism
	if cfg := b.config.Load(); cfg != nil {
		limit = cfg.TeardownParallelism
	}

	var g errgroup.Group
	g.SetLimit(limit)
	for _, handle := range handles {
		g.Go(func() error {
			err := b.teardown(handle, "unload")
			if IsErrorCode(err, ErrCodeHandleNotFound) {
				return nil
			}
			return err
		})
	}
	return g.Wait()
}

func (sc *ShutdownCoordinator[S]) stopInfrastructure() {
	b := sc.bridge
	if b.checker != nil {
		b.checker.Stop()
		b.checker = nil
	}
	if b.health != nil {
		b.health.Stop()
		b.health = nil
	}
	if b.watcher != nil {
		if err := b.watcher.Stop(); err != nil {
			sc.logger.Warn("Failed to stop configuration watcher", "error", err)
		}
		b.watcher = nil
	}
	if b.cancel != nil {
		b.cancel()
	}
	b.host.Store(nil)
}

// drainContext returns the context bounding teardown drain waits.
func (sc *ShutdownCoordinator[S]) drainContext() context.Context {
	if ctx := sc.unloadCtx.Load(); ctx != nil {
		return *ctx
	}
	return context.Background()
}

// forced reports whether teardowns should skip the drain wait.
func (sc *ShutdownCoordinator[S]) forced() bool {
	return sc.force.Load()
}

// GetShutdownStatus returns the current unload status.
func (sc *ShutdownCoordinator[S]) GetShutdownStatus() ShutdownStatus {
	b := sc.bridge
	state := bridgeState(b.state.Load())

	status := ShutdownStatus{
		IsRunning:      state == bridgeRunning,
		IsDraining:     state == bridgeDraining,
		ActiveRequests: b.tracker.GetTotalActiveRequests(),
		Sessions:       b.registry.len(),
	}

	switch state {
	case bridgeRunning:
		status.Phase = ShutdownPhaseRunning
	case bridgeDraining:
		status.Phase = ShutdownPhaseDraining
	case bridgeStopped:
		status.Phase = ShutdownPhaseComplete
	default:
		status.Phase = ShutdownPhaseNotStarted
	}
	return status
}

// ShutdownStatus represents the current unload status.
type ShutdownStatus struct {
	Phase          ShutdownPhase `json:"phase"`
	IsRunning      bool          `json:"is_running"`
	IsDraining     bool          `json:"is_draining"`
	ActiveRequests int64         `json:"active_requests"`
	Sessions       int           `json:"sessions"`
}

// ShutdownPhase represents the current phase of unload.
type ShutdownPhase string

const (
	ShutdownPhaseNotStarted ShutdownPhase = "not_started"
	ShutdownPhaseRunning    ShutdownPhase = "running"
	ShutdownPhaseDraining   ShutdownPhase = "draining"
	ShutdownPhaseComplete   ShutdownPhase = "complete"
)

// Shutdown returns the bridge's unload coordinator.
func (b *Bridge[S]) Shutdown() *ShutdownCoordinator[S] {
	return b.shutdown
}
