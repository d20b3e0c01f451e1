// testing_helpers_test.go: Test plugin and bridge fixtures
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package gojanus

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// testState is the per-session state of testPlugin. inside detects
// overlapping callbacks for the same session.
type testState struct {
	handle   HandleID
	messages int
	media    []MediaEventType
	inside   atomic.Int32
	overlaps atomic.Int32
}

func (s *testState) enter() func() {
	if s.inside.Add(1) > 1 {
		s.overlaps.Add(1)
	}
	return func() { s.inside.Add(-1) }
}

// testPlugin is a configurable Plugin[*testState].
type testPlugin struct {
	loadErr   error
	attachErr error

	onAttach  func(sc *SessionContext) error
	onMessage func(sc *SessionContext, st *testState, msg IncomingMessage) MessageOutcome
	onMedia   func(sc *SessionContext, st *testState, ev MediaEvent)
	onDetach  func(sc *SessionContext, st *testState)
	onUnload  func()

	loads    atomic.Int32
	unloads  atomic.Int32
	attaches atomic.Int32
	detaches atomic.Int32

	mu     sync.Mutex
	events []string
	states map[HandleID]*testState
}

func newTestPlugin() *testPlugin {
	return &testPlugin{states: make(map[HandleID]*testState)}
}

func (p *testPlugin) record(event string) {
	p.mu.Lock()
	p.events = append(p.events, event)
	p.mu.Unlock()
}

// Events returns the lifecycle events seen so far.
func (p *testPlugin) Events() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.events...)
}

func (p *testPlugin) state(handle HandleID) *testState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.states[handle]
}

func (p *testPlugin) Info() PluginInfo {
	return PluginInfo{
		Name:          "Test plugin",
		Package:       "janus.plugin.test",
		Version:       "1.2.3",
		VersionNumber: 123,
		Description:   "Plugin used by the bridge tests",
		Author:        "AGILira",
	}
}

func (p *testPlugin) OnLoad(cfg *Config) error {
	p.loads.Add(1)
	p.record("load")
	return p.loadErr
}

func (p *testPlugin) OnUnload() {
	p.unloads.Add(1)
	p.record("unload")
	if p.onUnload != nil {
		p.onUnload()
	}
}

func (p *testPlugin) OnAttach(sc *SessionContext) (*testState, error) {
	if p.onAttach != nil {
		if err := p.onAttach(sc); err != nil {
			return nil, err
		}
	}
	if p.attachErr != nil {
		return nil, p.attachErr
	}
	p.attaches.Add(1)
	p.record("attach")
	st := &testState{handle: sc.Handle()}
	p.mu.Lock()
	p.states[sc.Handle()] = st
	p.mu.Unlock()
	return st, nil
}

func (p *testPlugin) OnMessage(sc *SessionContext, st *testState, msg IncomingMessage) MessageOutcome {
	defer st.enter()()
	st.messages++
	if p.onMessage != nil {
		return p.onMessage(sc, st, msg)
	}
	return Respond(msg.Body)
}

func (p *testPlugin) OnMediaEvent(sc *SessionContext, st *testState, ev MediaEvent) {
	defer st.enter()()
	st.media = append(st.media, ev.Type)
	if p.onMedia != nil {
		p.onMedia(sc, st, ev)
	}
}

func (p *testPlugin) OnDetach(sc *SessionContext, st *testState) {
	defer st.enter()()
	p.detaches.Add(1)
	p.record("detach")
	if p.onDetach != nil {
		p.onDetach(sc, st)
	}
}

type bridgeFixture struct {
	bridge  *Bridge[*testState]
	plugin  *testPlugin
	host    *RecordingHost
	logger  *TestLogger
	metrics *DefaultMetricsCollector
}

// newBridgeFixture creates and initializes a bridge around plugin. The
// bridge is unloaded when the test ends.
func newBridgeFixture(t *testing.T, plugin *testPlugin, configure ...func(*Config)) *bridgeFixture {
	t.Helper()

	cfg := DefaultConfig()
	cfg.DrainTimeout = time.Second
	cfg.EventsEnabled = true
	for _, fn := range configure {
		fn(cfg)
	}

	f := &bridgeFixture{
		plugin:  plugin,
		host:    NewRecordingHost(true),
		logger:  NewTestLogger(),
		metrics: NewDefaultMetricsCollector(),
	}
	f.bridge = NewBridge[*testState](plugin, BridgeOptions{
		Logger:  f.logger,
		Metrics: f.metrics,
		Config:  cfg,
	})
	require.NoError(t, f.bridge.Init(f.host, ""))
	t.Cleanup(f.bridge.Destroy)
	return f
}

func (f *bridgeFixture) counter(metric string, labels map[string]string) int64 {
	return f.metrics.Counter("gojanus_"+metric, labels)
}
