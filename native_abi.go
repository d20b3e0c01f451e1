//go:build (linux || darwin) && (amd64 || arm64)

// native_abi.go: Memory layout of the host structures used by the native layer
//
// The host plugin API (version 13) exchanges a handful of C structures. The
// types below mirror their layout on 64-bit platforms; they are only ever
// overlaid on memory owned by the host or allocated with libc malloc.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package gojanus

import (
	"sync/atomic"
	"unsafe"

	"github.com/ebitengine/purego"
)

// cPluginSession mirrors janus_plugin_session.
type cPluginSession struct {
	gatewayHandle uintptr
	pluginHandle  uintptr
	stopped       int32
	_             int32
	refCount      int32
	_             int32
	refFree       uintptr
}

// cIceHandle mirrors the leading fields of janus_ice_handle.
type cIceHandle struct {
	session  uintptr
	handleID uint64
}

// cPluginResult mirrors janus_plugin_result.
type cPluginResult struct {
	resultType int32
	_          int32
	text       uintptr
	content    uintptr
}

// cJSON mirrors the header of a jansson json_t.
type cJSON struct {
	jsonType int32
	_        int32
	refcount uint64
}

// cCallbacks mirrors the part of janus_callbacks the bridge uses.
type cCallbacks struct {
	pushEvent       uintptr
	relayRTP        uintptr
	relayRTCP       uintptr
	relayData       uintptr
	closePC         uintptr
	endSession      uintptr
	eventsIsEnabled uintptr
	notifyEvent     uintptr
}

// cPluginDescriptor mirrors janus_plugin: one function pointer per
// callback, in declaration order.
type cPluginDescriptor struct {
	init                uintptr
	destroy             uintptr
	getAPICompatibility uintptr
	getVersion          uintptr
	getVersionString    uintptr
	getDescription      uintptr
	getName             uintptr
	getAuthor           uintptr
	getPackage          uintptr
	createSession       uintptr
	handleMessage       uintptr
	setupMedia          uintptr
	incomingRTP         uintptr
	incomingRTCP        uintptr
	incomingData        uintptr
	slowLink            uintptr
	hangupMedia         uintptr
	destroySession      uintptr
	querySession        uintptr
}

// jsonRefcountImmortal marks statically allocated json_t values.
const jsonRefcountImmortal = ^uint64(0)

// jansson encoding flags.
const (
	jsonCompact        = 0x20
	jsonPreserveOrder  = 0x100
	jsonDumpFlags      = jsonCompact | jsonPreserveOrder
	jsonLoadFlagsNone  = 0
	nativeResultBytes  = unsafe.Sizeof(cPluginResult{})
	nativeDescriptorSz = unsafe.Sizeof(cPluginDescriptor{})
)

// ptrAt overlays a C address. The memory is owned by the host or by libc.
func ptrAt[T any](addr uintptr) *T {
	return (*T)(unsafe.Pointer(addr)) // #nosec G103
}

// handleIDOf reads the host handle identifier of a plugin session.
func handleIDOf(session uintptr) (HandleID, bool) {
	if session == 0 {
		return 0, false
	}
	gateway := ptrAt[cPluginSession](session).gatewayHandle
	if gateway == 0 {
		return 0, false
	}
	return HandleID(ptrAt[cIceHandle](gateway).handleID), true
}

func sessionStopped(session uintptr) bool {
	return atomic.LoadInt32(&ptrAt[cPluginSession](session).stopped) != 0
}

// sessionRetain increments the session's reference count.
func sessionRetain(session uintptr) {
	atomic.AddInt32(&ptrAt[cPluginSession](session).refCount, 1)
}

// sessionRelease decrements the reference count and runs the host's free
// function when it reaches zero.
func sessionRelease(session uintptr) {
	s := ptrAt[cPluginSession](session)
	if atomic.AddInt32(&s.refCount, -1) == 0 && s.refFree != 0 {
		purego.SyscallN(s.refFree, session+unsafe.Offsetof(s.refCount))
	}
}
