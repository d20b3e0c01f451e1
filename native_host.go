//go:build (linux || darwin) && (amd64 || arm64)

// native_host.go: Host implementation over the host's callback table
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package gojanus

import (
	"encoding/json"
	"fmt"
	"runtime"
	"sync"
	"unsafe"

	"github.com/ebitengine/purego"
)

// NativeHost implements Host by calling the host's janus_callbacks table.
// It maps handle identifiers to the host's session pointers and holds one
// reference on each bound session.
type NativeHost struct {
	rt        *nativeRuntime
	callbacks cCallbacks
	plugin    uintptr

	mu       sync.RWMutex
	sessions map[HandleID]uintptr
}

func newNativeHost(rt *nativeRuntime, callbacks uintptr, plugin uintptr) *NativeHost {
	return &NativeHost{
		rt:        rt,
		callbacks: *ptrAt[cCallbacks](callbacks),
		plugin:    plugin,
		sessions:  make(map[HandleID]uintptr),
	}
}

// bind associates handle with a host session and retains it. It reports
// false when the handle is already bound.
func (h *NativeHost) bind(handle HandleID, session uintptr) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, exists := h.sessions[handle]; exists {
		return false
	}
	sessionRetain(session)
	h.sessions[handle] = session
	return true
}

// unbind forgets handle and releases the session reference.
func (h *NativeHost) unbind(handle HandleID) {
	h.mu.Lock()
	session, ok := h.sessions[handle]
	delete(h.sessions, handle)
	h.mu.Unlock()
	if ok {
		sessionRelease(session)
	}
}

// releaseAll drops every remaining binding.
func (h *NativeHost) releaseAll() {
	h.mu.Lock()
	sessions := h.sessions
	h.sessions = make(map[HandleID]uintptr)
	h.mu.Unlock()
	for _, session := range sessions {
		sessionRelease(session)
	}
}

// session returns the host session bound to handle with an extra reference
// held for the duration of one outbound call. The caller runs release when
// the call returned, so a concurrent unbind cannot free the session under it.
func (h *NativeHost) session(handle HandleID) (session uintptr, release func(), err error) {
	h.mu.RLock()
	session, ok := h.sessions[handle]
	if ok {
		sessionRetain(session)
	}
	h.mu.RUnlock()
	if !ok {
		return 0, nil, NewHandleNotFoundError(handle)
	}
	release = func() { sessionRelease(session) }
	if sessionStopped(session) {
		release()
		return 0, nil, fmt.Errorf("host session for handle %d is stopped", handle)
	}
	return session, release, nil
}

func (h *NativeHost) PushEvent(handle HandleID, transaction string, payload json.RawMessage, jsep *Jsep) error {
	session, release, err := h.session(handle)
	if err != nil {
		return err
	}
	defer release()

	message, err := h.rt.loads(payload)
	if err != nil {
		return err
	}
	defer h.rt.decref(message)

	var jsepValue uintptr
	if jsep != nil {
		raw, err := json.Marshal(jsep)
		if err != nil {
			return NewSerializationError("jsep", err)
		}
		if jsepValue, err = h.rt.loads(raw); err != nil {
			return err
		}
		defer h.rt.decref(jsepValue)
	}

	var txn uintptr
	if transaction != "" {
		txn = h.rt.cString(transaction)
		defer h.rt.free(txn)
	}

	ret, _, _ := purego.SyscallN(h.callbacks.pushEvent, session, h.plugin, txn, message, jsepValue)
	if code := int32(ret); code != 0 {
		return fmt.Errorf("push_event returned %d", code)
	}
	return nil
}

func (h *NativeHost) relayMedia(fn uintptr, handle HandleID, kind MediaKind, packet []byte) error {
	if len(packet) == 0 {
		return NewMalformedInputError("packet", "packet is empty")
	}
	session, release, err := h.session(handle)
	if err != nil {
		return err
	}
	defer release()
	video := uintptr(0)
	if kind == MediaKindVideo {
		video = 1
	}
	purego.SyscallN(fn, session, video, uintptr(unsafe.Pointer(&packet[0])), uintptr(len(packet)))
	runtime.KeepAlive(packet)
	return nil
}

func (h *NativeHost) RelayRTP(handle HandleID, kind MediaKind, packet []byte) error {
	return h.relayMedia(h.callbacks.relayRTP, handle, kind, packet)
}

func (h *NativeHost) RelayRTCP(handle HandleID, kind MediaKind, packet []byte) error {
	return h.relayMedia(h.callbacks.relayRTCP, handle, kind, packet)
}

func (h *NativeHost) RelayData(handle HandleID, data []byte) error {
	if len(data) == 0 {
		return NewMalformedInputError("data", "data is empty")
	}
	session, release, err := h.session(handle)
	if err != nil {
		return err
	}
	defer release()
	purego.SyscallN(h.callbacks.relayData, session, uintptr(unsafe.Pointer(&data[0])), uintptr(len(data)))
	runtime.KeepAlive(data)
	return nil
}

func (h *NativeHost) ClosePeerConnection(handle HandleID) error {
	session, release, err := h.session(handle)
	if err != nil {
		return err
	}
	defer release()
	purego.SyscallN(h.callbacks.closePC, session)
	return nil
}

func (h *NativeHost) EndSession(handle HandleID) error {
	session, release, err := h.session(handle)
	if err != nil {
		return err
	}
	defer release()
	purego.SyscallN(h.callbacks.endSession, session)
	return nil
}

// NotifyEvent hands the event to the host, which takes its reference.
func (h *NativeHost) NotifyEvent(handle HandleID, event json.RawMessage) error {
	session, release, err := h.session(handle)
	if err != nil {
		return err
	}
	defer release()
	value, err := h.rt.loads(event)
	if err != nil {
		return err
	}
	purego.SyscallN(h.callbacks.notifyEvent, h.plugin, session, value)
	return nil
}

func (h *NativeHost) EventsEnabled() bool {
	if h.callbacks.eventsIsEnabled == 0 {
		return false
	}
	ret, _, _ := purego.SyscallN(h.callbacks.eventsIsEnabled)
	return int32(ret) != 0
}
