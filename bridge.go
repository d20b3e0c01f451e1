// bridge.go: The safety bridge between host callbacks and plugin code
//
// Bridge receives the host's plugin callbacks in semantic form (handle
// identifiers, JSON bytes, media buffers) and dispatches them to a Plugin
// under the per-session locking rules described in session.go. The native
// layer (native_plugin.go) only translates pointers into these calls.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package gojanus

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
)

type bridgeState int32

const (
	bridgeUninitialized bridgeState = iota
	bridgeRunning
	bridgeDraining
	bridgeStopped
)

func (s bridgeState) String() string {
	switch s {
	case bridgeRunning:
		return "running"
	case bridgeDraining:
		return "draining"
	case bridgeStopped:
		return "stopped"
	default:
		return "uninitialized"
	}
}

// BridgeOptions configures a Bridge.
type BridgeOptions struct {
	// Logger is any type accepted by NewLogger. When nil the bridge logs to
	// stderr through zerolog at the configured log_level.
	Logger any

	// Metrics receives the bridge metrics. Defaults to an in-memory
	// DefaultMetricsCollector.
	Metrics MetricsCollector

	// TracerProvider creates the spans around attach, message, fulfill and
	// detach. Defaults to a no-op provider.
	TracerProvider trace.TracerProvider

	// Config, when set, is used instead of loading a file at Init.
	Config *Config
}

type hostBox struct {
	host Host
}

// Bridge dispatches host callbacks to a Plugin. All exported methods are
// safe for concurrent use from arbitrary host threads.
type Bridge[S any] struct {
	plugin     Plugin[S]
	info       PluginInfo
	logger     Logger
	ownsLogger bool
	collector  MetricsCollector
	metrics    bridgeMetrics
	tracer     trace.Tracer
	provider   trace.TracerProvider
	recovery   *RecoveryMetrics
	preset     *Config

	registry *sessionRegistry[S]
	tracker  *RequestTracker

	config atomic.Pointer[Config]
	host   atomic.Pointer[hostBox]
	state  atomic.Int32

	// lifecycle serializes Init and Destroy.
	lifecycle sync.Mutex
	ctx       context.Context
	cancel    context.CancelFunc
	watcher   *ConfigWatcher
	health    *HealthServer
	checker   *HealthChecker
	shutdown  *ShutdownCoordinator[S]
}

// NewBridge creates a bridge for plugin. The bridge is inert until Init.
func NewBridge[S any](plugin Plugin[S], opts BridgeOptions) *Bridge[S] {
	info := plugin.Info()

	b := &Bridge[S]{
		plugin:    plugin,
		info:      info,
		collector: opts.Metrics,
		tracer:    newTracer(opts.TracerProvider),
		provider:  opts.TracerProvider,
		recovery:  &RecoveryMetrics{},
		preset:    opts.Config,
		registry:  newSessionRegistry[S](),
		tracker:   NewRequestTracker(),
		ctx:       context.Background(),
	}

	if opts.Logger != nil {
		b.logger = NewLogger(opts.Logger)
	} else {
		b.logger = NewConsoleLogger(os.Stderr, "debug")
		b.ownsLogger = true
	}
	b.logger = b.logger.With("plugin", info.Package)

	if b.collector == nil {
		b.collector = NewDefaultMetricsCollector()
	}
	prefix := DefaultConfig().MetricsPrefix
	if opts.Config != nil {
		prefix = opts.Config.MetricsPrefix
	}
	b.metrics = bridgeMetrics{collector: b.collector, prefix: prefix}
	b.shutdown = NewShutdownCoordinator(b)
	return b
}

// Info returns the plugin metadata.
func (b *Bridge[S]) Info() PluginInfo {
	return b.info
}

// Metrics returns the metrics collector in use.
func (b *Bridge[S]) Metrics() MetricsCollector {
	return b.collector
}

// Logger returns the bridge logger.
func (b *Bridge[S]) Logger() Logger {
	return b.logger
}

// Config returns the active configuration, or nil before Init.
func (b *Bridge[S]) Config() *Config {
	if cfg := b.config.Load(); cfg != nil {
		return cfg.clone()
	}
	return nil
}

// SessionCount returns the number of registered sessions.
func (b *Bridge[S]) SessionCount() int {
	return b.registry.len()
}

// Init loads the configuration, binds the host callbacks and calls
// Plugin.OnLoad. configDir is the host's configuration folder; the file is
// named after PluginInfo.Package.
func (b *Bridge[S]) Init(host Host, configDir string) error {
	b.lifecycle.Lock()
	defer b.lifecycle.Unlock()

	if bridgeState(b.state.Load()) != bridgeUninitialized {
		return NewAlreadyInitializedError()
	}
	if host == nil {
		return NewInitFailedError(b.info.Name, NewHostUnavailableError())
	}

	cfg, err := b.loadConfig(configDir)
	if err != nil {
		b.logger.Error("Failed to load configuration", "config_dir", configDir, "error", err)
		return NewInitFailedError(b.info.Name, err)
	}
	b.applyConfig(cfg)
	b.config.Store(cfg)
	b.host.Store(&hostBox{host: host})

	err = guardCall("load", b.panicHandler("load"), func() error {
		return b.plugin.OnLoad(cfg.clone())
	})
	if err != nil {
		b.host.Store(nil)
		b.config.Store(nil)
		b.logger.Error("Plugin rejected load", "error", err)
		return NewInitFailedError(b.info.Name, err)
	}

	b.ctx, b.cancel = context.WithCancel(context.Background())
	b.startInfrastructure(cfg)
	b.state.Store(int32(bridgeRunning))

	b.logger.Info("Plugin loaded",
		"name", b.info.Name,
		"version", b.info.Version,
		"config", cfg.Path,
		"events_enabled", b.eventsEnabled())
	return nil
}

func (b *Bridge[S]) loadConfig(configDir string) (*Config, error) {
	if b.preset != nil {
		cfg := b.preset.clone()
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		return cfg, nil
	}
	return LoadConfig(configDir, b.info.Package)
}

// applyConfig adjusts the bridge-owned logger level. Called before the
// configuration is published.
func (b *Bridge[S]) applyConfig(cfg *Config) {
	if b.ownsLogger {
		zerolog.SetGlobalLevel(ParseLogLevel(cfg.LogLevel))
	}
	if cfg.MetricsPrefix != b.metrics.prefix && bridgeState(b.state.Load()) == bridgeUninitialized {
		b.metrics = bridgeMetrics{collector: b.collector, prefix: cfg.MetricsPrefix}
	}
}

func (b *Bridge[S]) startInfrastructure(cfg *Config) {
	if cfg.Watch.Enabled && cfg.Path != "" {
		watcher, err := NewConfigWatcher(cfg.Path, EnvPrefixFor(b.info.Package), cfg.Watch.PollInterval, b.logger, b.reloadConfig)
		if err == nil {
			err = watcher.Start()
		}
		if err != nil {
			b.logger.Warn("Configuration watcher not started", "path", cfg.Path, "error", err)
		} else {
			b.watcher = watcher
		}
	}

	if cfg.Health.Address != "" {
		service := cfg.Health.Service
		if service == "" {
			service = b.info.Package
		}
		server := NewHealthServer(cfg.Health.Address, service, b.logger, b.provider)
		if err := server.Start(); err != nil {
			b.logger.Warn("Health server not started", "address", cfg.Health.Address, "error", err)
			return
		}
		b.health = server
		b.checker = NewHealthChecker(b.Health, cfg.Health.Interval, b.logger)
		b.checker.OnStatus(server.SetStatus)
		b.checker.Start()
	}
}

// reloadConfig is called by the configuration watcher.
func (b *Bridge[S]) reloadConfig(cfg *Config) {
	if bridgeState(b.state.Load()) != bridgeRunning {
		return
	}
	if reloader, ok := b.plugin.(ConfigReloader); ok {
		err := guardCall("reload", b.panicHandler("reload"), func() error {
			return reloader.OnConfigReload(cfg.clone())
		})
		if err != nil {
			b.logger.Warn("Plugin rejected configuration reload", "path", cfg.Path, "error", err)
			return
		}
	}
	b.applyConfig(cfg)
	b.config.Store(cfg)
	b.logger.Info("Configuration reloaded", "path", cfg.Path)
}

// Destroy detaches every remaining session, calls Plugin.OnUnload and
// releases the host callbacks. It blocks until all of that completed.
func (b *Bridge[S]) Destroy() {
	b.lifecycle.Lock()
	defer b.lifecycle.Unlock()

	if bridgeState(b.state.Load()) != bridgeRunning {
		return
	}
	if err := b.shutdown.GracefulShutdown(context.Background()); err != nil {
		b.logger.Warn("Plugin unload completed with errors", "error", err)
	}
}

// admit checks that the bridge accepts new work.
func (b *Bridge[S]) admit() error {
	switch bridgeState(b.state.Load()) {
	case bridgeRunning:
		return nil
	case bridgeDraining:
		return NewShuttingDownError()
	default:
		return NewNotInitializedError()
	}
}

// loaded reports whether OnLoad succeeded and OnUnload has not completed.
func (b *Bridge[S]) loaded() bool {
	state := bridgeState(b.state.Load())
	return state == bridgeRunning || state == bridgeDraining
}

// CreateSession registers handle and calls Plugin.OnAttach. Calls for the
// handle that arrive meanwhile wait on the session's state lock.
func (b *Bridge[S]) CreateSession(handle HandleID) error {
	if err := b.admit(); err != nil {
		return err
	}
	batch, err := b.tracked(handle, func() (hostBatch, error) {
		return b.attach(handle)
	})
	if IsErrorCode(err, ErrCodeAttachRejected) || IsErrorCode(err, ErrCodeShuttingDown) {
		if _, exists := b.registry.lookup(handle); !exists {
			b.tracker.Forget(handle)
		}
	}
	b.flush(batch)
	return err
}

func (b *Bridge[S]) attach(handle HandleID) (batch hostBatch, err error) {
	ctx, span := b.startSpan(b.baseContext(), "attach", handle, "")
	defer func() { b.endSpan(span, err) }()

	s, err := b.registry.register(handle)
	if err != nil {
		if IsErrorCode(err, ErrCodeShuttingDown) {
			b.metrics.attached("shutting_down")
			b.logger.Debug("Refusing session during unload", "handle_id", handle)
			return hostBatch{}, err
		}
		b.metrics.attached("duplicate")
		b.logger.Warn("Duplicate session handle", "handle_id", handle)
		return hostBatch{}, err
	}

	sc := b.newSessionContext(ctx, s.sessionCore)
	var state S
	attachErr := guardCall("attach", b.panicHandler("attach"), func() error {
		var e error
		state, e = b.plugin.OnAttach(sc)
		return e
	})
	if attachErr != nil {
		sc.close(nil)
		s.cancelTokens()
		b.registry.abandon(s)
		s.mu.Unlock()

		b.metrics.attached("rejected")
		b.logger.Warn("Plugin rejected session", "handle_id", handle, "error", attachErr)
		return hostBatch{}, NewAttachRejectedError(handle, attachErr)
	}

	s.state = state
	s.attached = true
	calls := sc.close(nil)
	s.mu.Unlock()

	b.metrics.attached("ok")
	b.metrics.sessionsActive(b.registry.len())
	b.logger.Debug("Session attached", "handle_id", handle, "generation", s.generation)
	return hostBatch{core: s.sessionCore, calls: calls}, nil
}

// HandleMessage delivers a transaction-tagged message. body must be a JSON
// object; jsep is optional. The result is returned to the host as is.
func (b *Bridge[S]) HandleMessage(handle HandleID, transaction string, body, jsep []byte) PluginResult {
	start := time.Now()
	if err := b.admit(); err != nil {
		b.metrics.message("rejected", time.Since(start))
		return errorResult(err)
	}

	var result PluginResult
	var outcome string
	batch, _ := b.tracked(handle, func() (hostBatch, error) {
		var batch hostBatch
		result, outcome, batch = b.message(handle, transaction, body, jsep)
		return batch, nil
	})
	b.flush(batch)
	b.metrics.message(outcome, time.Since(start))
	return result
}

func (b *Bridge[S]) message(handle HandleID, transaction string, rawBody, rawJsep []byte) (result PluginResult, outcome string, batch hostBatch) {
	ctx, span := b.startSpan(b.baseContext(), "message", handle, transaction)
	var spanErr error
	defer func() { b.endSpan(span, spanErr) }()

	fail := func(err error, label string) (PluginResult, string, hostBatch) {
		spanErr = err
		return errorResult(err), label, hostBatch{}
	}

	body, err := parseBody(rawBody)
	if err != nil {
		return fail(err, "malformed")
	}
	jsep, err := parseJsep(rawJsep)
	if err != nil {
		return fail(err, "malformed")
	}

	s, ok := b.registry.lookup(handle)
	if !ok {
		b.metrics.dropped("handle_message")
		return fail(NewHandleNotFoundError(handle), "not_found")
	}

	s.mu.Lock()
	if !s.usable() || s.isDraining() {
		s.mu.Unlock()
		b.metrics.dropped("handle_message")
		return fail(NewHandleNotFoundError(handle), "not_found")
	}

	sc := b.newSessionContext(ctx, s.sessionCore)
	msg := IncomingMessage{Transaction: transaction, Body: body, Jsep: jsep}

	var out MessageOutcome
	err = guardCall("message", b.panicHandler("message"), func() error {
		out = b.plugin.OnMessage(sc, s.state, msg)
		return nil
	})

	var keep *ResponseToken
	switch {
	case err != nil:
		result, outcome, spanErr = errorResult(err), "panic", err
	default:
		result, outcome, keep, spanErr = b.resolveOutcome(sc, s.sessionCore, transaction, out)
	}

	calls := sc.close(keep)
	s.mu.Unlock()
	return result, outcome, hostBatch{core: s.sessionCore, calls: calls}
}

// resolveOutcome turns the plugin's MessageOutcome into the host result.
func (b *Bridge[S]) resolveOutcome(sc *SessionContext, core *sessionCore, transaction string, out MessageOutcome) (PluginResult, string, *ResponseToken, error) {
	switch out.kind {
	case outcomeRespond:
		payload, err := encodePayload(out.payload)
		if err != nil {
			return errorResult(err), "error", nil, err
		}
		if out.jsep == nil {
			return PluginResult{Type: ResultOK, Content: payload}, "respond", nil, nil
		}
		if err := out.jsep.Validate(); err != nil {
			return errorResult(err), "error", nil, err
		}
		handle, jsep := core.handle, out.jsep
		sc.enqueue(string(HostCallPush), func(h Host) error {
			return h.PushEvent(handle, transaction, payload, jsep)
		})
		return PluginResult{Type: ResultOKWait}, "respond", nil, nil

	case outcomeFail:
		err := out.err
		if err == nil {
			err = NewMessageFailedError(transaction, fmt.Errorf("plugin failed without an error"))
		}
		return errorResult(err), "fail", nil, err

	case outcomeDeferred:
		token := out.token
		if token == nil || token.Handle != core.handle || token.Generation != core.generation {
			err := NewMalformedInputError("token", "deferred token was not minted for this session")
			return errorResult(err), "error", nil, err
		}
		return PluginResult{Type: ResultOKWait}, "deferred", token, nil

	default:
		err := NewMessageFailedError(transaction, fmt.Errorf("plugin returned no outcome"))
		return errorResult(err), "error", nil, err
	}
}

// SetupMedia reports that the handle's peer connection is ready.
func (b *Bridge[S]) SetupMedia(handle HandleID) {
	b.dispatchMedia(handle, func(*Config) MediaEvent {
		return MediaEvent{Type: MediaSetup}
	})
}

// IncomingRTP delivers an RTP packet received from the handle's peer.
func (b *Bridge[S]) IncomingRTP(handle HandleID, video bool, buf []byte) {
	b.dispatchMedia(handle, func(cfg *Config) MediaEvent {
		return newRTPEvent(mediaKindFromFlag(video), mediaBuffer(cfg, buf))
	})
}

// IncomingRTCP delivers an RTCP packet received from the handle's peer.
func (b *Bridge[S]) IncomingRTCP(handle HandleID, video bool, buf []byte) {
	b.dispatchMedia(handle, func(cfg *Config) MediaEvent {
		return newRTCPEvent(mediaKindFromFlag(video), mediaBuffer(cfg, buf))
	})
}

// IncomingData delivers a data channel message.
func (b *Bridge[S]) IncomingData(handle HandleID, buf []byte) {
	b.dispatchMedia(handle, func(cfg *Config) MediaEvent {
		return MediaEvent{Type: MediaData, Buffer: mediaBuffer(cfg, buf)}
	})
}

// SlowLink reports packet loss on the handle's connection.
func (b *Bridge[S]) SlowLink(handle HandleID, uplink, video bool) {
	b.dispatchMedia(handle, func(*Config) MediaEvent {
		return MediaEvent{Type: MediaSlowLink, Kind: mediaKindFromFlag(video), Uplink: uplink}
	})
}

// HangupMedia reports that the handle's peer connection went away.
func (b *Bridge[S]) HangupMedia(handle HandleID) {
	b.dispatchMedia(handle, func(*Config) MediaEvent {
		return MediaEvent{Type: MediaHangup}
	})
}

func mediaBuffer(cfg *Config, buf []byte) []byte {
	if cfg != nil && cfg.CopyMediaBuffers {
		return cloneBytes(buf)
	}
	return buf
}

// dispatchMedia runs OnMediaEvent under the session's state lock. Media
// callbacks are not traced; events for unknown or detached handles are
// dropped and counted.
func (b *Bridge[S]) dispatchMedia(handle HandleID, build func(*Config) MediaEvent) {
	if bridgeState(b.state.Load()) != bridgeRunning {
		b.metrics.dropped("media")
		return
	}

	batch, _ := b.tracked(handle, func() (hostBatch, error) {
		s, ok := b.registry.lookup(handle)
		if !ok {
			b.metrics.dropped("media")
			b.logger.Debug("Dropping media event for unknown handle", "handle_id", handle)
			return hostBatch{}, nil
		}

		s.mu.Lock()
		if !s.usable() || s.isDraining() {
			s.mu.Unlock()
			b.metrics.dropped("media")
			return hostBatch{}, nil
		}

		event := build(b.config.Load())
		sc := b.newSessionContext(b.baseContext(), s.sessionCore)
		_ = guardCall(event.Type.String(), b.panicHandler(event.Type.String()), func() error {
			b.plugin.OnMediaEvent(sc, s.state, event)
			return nil
		})
		calls := sc.close(nil)
		s.mu.Unlock()

		b.metrics.mediaEvent(event.Type)
		return hostBatch{core: s.sessionCore, calls: calls}, nil
	})
	b.flush(batch)
}

// sessionSnapshot is returned by QuerySession.
type sessionSnapshot struct {
	HandleID      HandleID  `json:"handle_id"`
	Generation    uint64    `json:"generation"`
	AttachedAt    time.Time `json:"attached_at"`
	PendingTokens int       `json:"pending_tokens"`
	InFlight      int64     `json:"in_flight"`
	State         any       `json:"state,omitempty"`
}

// QuerySession returns a JSON snapshot of the session for the host's admin
// interface. Plugins implementing SessionQuerier contribute the "state"
// member.
func (b *Bridge[S]) QuerySession(handle HandleID) (json.RawMessage, error) {
	if !b.loaded() {
		return nil, NewNotInitializedError()
	}
	s, ok := b.registry.lookup(handle)
	if !ok {
		return nil, NewHandleNotFoundError(handle)
	}

	s.mu.Lock()
	if !s.usable() {
		s.mu.Unlock()
		return nil, NewHandleNotFoundError(handle)
	}
	snapshot := sessionSnapshot{
		HandleID:      handle,
		Generation:    s.generation,
		AttachedAt:    s.attachedAt,
		PendingTokens: s.pendingTokens(),
		InFlight:      b.tracker.GetActiveRequestCount(handle),
	}
	var queryErr error
	if querier, ok := b.plugin.(SessionQuerier[S]); ok {
		queryErr = guardCall("query", b.panicHandler("query"), func() error {
			var e error
			snapshot.State, e = querier.QuerySession(s.state)
			return e
		})
	}
	s.mu.Unlock()

	if queryErr != nil {
		return nil, NewQueryFailedError(handle, queryErr)
	}
	out, err := json.Marshal(snapshot)
	if err != nil {
		return nil, NewSerializationError("session snapshot", err)
	}
	return out, nil
}

// DestroySession detaches handle: it cancels the session's outstanding
// tokens, waits for running callbacks and calls Plugin.OnDetach.
func (b *Bridge[S]) DestroySession(handle HandleID) error {
	if !b.loaded() {
		return NewNotInitializedError()
	}
	return b.teardown(handle, "host")
}

// hostBatch is the set of host calls queued by one callback.
type hostBatch struct {
	core  *sessionCore
	calls []pendingHostCall
}

// tracked runs fn as an in-flight callback for handle.
func (b *Bridge[S]) tracked(handle HandleID, fn func() (hostBatch, error)) (hostBatch, error) {
	end := b.tracker.StartRequest(handle)
	defer end()
	return fn()
}

// flush sends queued host calls. It runs after the state lock was released
// and the callback stopped being tracked, so host calls that re-enter the
// bridge for the same handle do not wait on it.
func (b *Bridge[S]) flush(batch hostBatch) {
	for _, call := range batch.calls {
		if err := b.callHost(batch.core, call.op, call.fn); err != nil {
			if IsErrorCode(err, ErrCodeStaleToken) {
				b.logger.Debug("Dropping host call for a draining session",
					"handle_id", batch.core.handle, "operation", call.op)
				continue
			}
			b.logger.Warn("Host call failed",
				"handle_id", batch.core.handle, "operation", call.op, "error", err)
		}
	}
}

// callHost runs fn against the host inside the session's host-call gate.
// end_session may make the host destroy the session synchronously, so it
// only checks the gate and runs outside it.
func (b *Bridge[S]) callHost(core *sessionCore, op string, fn func(Host) error) error {
	core.gate.RLock()
	if core.draining {
		core.gate.RUnlock()
		return NewStaleTokenError(core.handle, "")
	}
	if op == string(HostCallEnd) {
		core.gate.RUnlock()
		return b.invokeHost(core.handle, op, fn)
	}
	defer core.gate.RUnlock()
	return b.invokeHost(core.handle, op, fn)
}

func (b *Bridge[S]) invokeHost(handle HandleID, op string, fn func(Host) error) error {
	host := b.currentHost()
	if host == nil {
		return NewHostUnavailableError()
	}
	if err := fn(host); err != nil {
		b.metrics.hostCallFailed(op)
		return NewHostPushFailedError(handle, op, err)
	}
	return nil
}

func (b *Bridge[S]) currentHost() Host {
	if box := b.host.Load(); box != nil {
		return box.host
	}
	return nil
}

func (b *Bridge[S]) eventsEnabled() bool {
	cfg := b.config.Load()
	host := b.currentHost()
	return cfg != nil && cfg.EventsEnabled && host != nil && host.EventsEnabled()
}

func (b *Bridge[S]) now() time.Time {
	return time.Now()
}

func (b *Bridge[S]) baseContext() context.Context {
	if bridgeState(b.state.Load()) == bridgeUninitialized {
		return context.Background()
	}
	return b.ctx
}

func (b *Bridge[S]) newSessionContext(ctx context.Context, core *sessionCore) *SessionContext {
	logger := b.logger.With("handle_id", core.handle)
	return newSessionContext(ContextWithLogger(ctx, logger), core, b, logger)
}

// panicHandler logs a recovered plugin panic and counts it.
func (b *Bridge[S]) panicHandler(operation string) RecoveryHandler {
	handler := MetricsRecoveryHandler(b.logger, b.recovery, operation)
	return func(recovered interface{}, stack []byte) {
		b.metrics.panicked(operation)
		handler(recovered, stack)
	}
}

// RecoveryStats returns the plugin panics recovered so far.
func (b *Bridge[S]) RecoveryStats() RecoverySnapshot {
	return b.recovery.Snapshot()
}
