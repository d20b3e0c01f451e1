// host.go: Outbound host callbacks
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package gojanus

import (
	"encoding/json"
	"sync"
)

// Host is the set of callbacks the host exposes to the plugin.
//
// The native layer implements it over the host's callback table; tests use
// RecordingHost. The bridge never calls a Host method while holding a
// session's state lock.
type Host interface {
	// PushEvent sends a message to the handle's peer. An empty transaction
	// sends an unsolicited event; jsep may be nil.
	PushEvent(handle HandleID, transaction string, payload json.RawMessage, jsep *Jsep) error
	RelayRTP(handle HandleID, kind MediaKind, packet []byte) error
	RelayRTCP(handle HandleID, kind MediaKind, packet []byte) error
	RelayData(handle HandleID, data []byte) error
	ClosePeerConnection(handle HandleID) error
	EndSession(handle HandleID) error
	NotifyEvent(handle HandleID, event json.RawMessage) error
	EventsEnabled() bool
}

// HostCallKind identifies a recorded host callback.
type HostCallKind string

const (
	HostCallPush      HostCallKind = "push_event"
	HostCallRelayRTP  HostCallKind = "relay_rtp"
	HostCallRelayRTCP HostCallKind = "relay_rtcp"
	HostCallRelayData HostCallKind = "relay_data"
	HostCallClosePC   HostCallKind = "close_pc"
	HostCallEnd       HostCallKind = "end_session"
	HostCallNotify    HostCallKind = "notify_event"
)

// HostCall is one recorded host callback.
type HostCall struct {
	Kind        HostCallKind
	Handle      HandleID
	Transaction string
	Payload     json.RawMessage
	Jsep        *Jsep
	MediaKind   MediaKind
	Data        []byte
}

// RecordingHost is an in-memory Host that records every callback.
// It is intended for plugin tests.
type RecordingHost struct {
	mu     sync.Mutex
	calls  []HostCall
	events bool

	// FailWith, when set, is returned by every callback after recording it.
	FailWith error
	// OnCall, when set, runs synchronously inside each callback.
	OnCall func(HostCall)
}

// NewRecordingHost creates a recording host. eventsEnabled is reported by
// EventsEnabled.
func NewRecordingHost(eventsEnabled bool) *RecordingHost {
	return &RecordingHost{events: eventsEnabled}
}

func (h *RecordingHost) record(call HostCall) error {
	h.mu.Lock()
	h.calls = append(h.calls, call)
	hook := h.OnCall
	failure := h.FailWith
	h.mu.Unlock()

	if hook != nil {
		hook(call)
	}
	return failure
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

func (h *RecordingHost) PushEvent(handle HandleID, transaction string, payload json.RawMessage, jsep *Jsep) error {
	return h.record(HostCall{Kind: HostCallPush, Handle: handle, Transaction: transaction, Payload: cloneBytes(payload), Jsep: jsep})
}

func (h *RecordingHost) RelayRTP(handle HandleID, kind MediaKind, packet []byte) error {
	return h.record(HostCall{Kind: HostCallRelayRTP, Handle: handle, MediaKind: kind, Data: cloneBytes(packet)})
}

func (h *RecordingHost) RelayRTCP(handle HandleID, kind MediaKind, packet []byte) error {
	return h.record(HostCall{Kind: HostCallRelayRTCP, Handle: handle, MediaKind: kind, Data: cloneBytes(packet)})
}

func (h *RecordingHost) RelayData(handle HandleID, data []byte) error {
	return h.record(HostCall{Kind: HostCallRelayData, Handle: handle, Data: cloneBytes(data)})
}

func (h *RecordingHost) ClosePeerConnection(handle HandleID) error {
	return h.record(HostCall{Kind: HostCallClosePC, Handle: handle})
}

func (h *RecordingHost) EndSession(handle HandleID) error {
	return h.record(HostCall{Kind: HostCallEnd, Handle: handle})
}

func (h *RecordingHost) NotifyEvent(handle HandleID, event json.RawMessage) error {
	return h.record(HostCall{Kind: HostCallNotify, Handle: handle, Payload: cloneBytes(event)})
}

func (h *RecordingHost) EventsEnabled() bool {
	return h.events
}

// Calls returns a copy of all recorded callbacks.
func (h *RecordingHost) Calls() []HostCall {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]HostCall, len(h.calls))
	copy(out, h.calls)
	return out
}

// Pushes returns the recorded push_event calls.
func (h *RecordingHost) Pushes() []HostCall {
	return h.CallsOf(HostCallPush)
}

// CallsOf returns the recorded calls of one kind.
func (h *RecordingHost) CallsOf(kind HostCallKind) []HostCall {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []HostCall
	for _, c := range h.calls {
		if c.Kind == kind {
			out = append(out, c)
		}
	}
	return out
}

// Reset clears the recorded calls.
func (h *RecordingHost) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls = nil
}
