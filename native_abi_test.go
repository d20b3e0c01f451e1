//go:build (linux || darwin) && (amd64 || arm64)

// native_abi_test.go: tests for the native structure layouts and helpers
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package gojanus

import (
	"testing"
	"unsafe"

	"github.com/ebitengine/purego"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNativeLayout(t *testing.T) {
	var s cPluginSession
	assert.Equal(t, uintptr(0), unsafe.Offsetof(s.gatewayHandle))
	assert.Equal(t, uintptr(8), unsafe.Offsetof(s.pluginHandle))
	assert.Equal(t, uintptr(16), unsafe.Offsetof(s.stopped))
	assert.Equal(t, uintptr(24), unsafe.Offsetof(s.refCount))
	assert.Equal(t, uintptr(32), unsafe.Offsetof(s.refFree))

	var h cIceHandle
	assert.Equal(t, uintptr(8), unsafe.Offsetof(h.handleID))

	var j cJSON
	assert.Equal(t, uintptr(8), unsafe.Offsetof(j.refcount))

	assert.Equal(t, uintptr(24), nativeResultBytes)
	var r cPluginResult
	assert.Equal(t, uintptr(8), unsafe.Offsetof(r.text))
	assert.Equal(t, uintptr(16), unsafe.Offsetof(r.content))

	assert.Equal(t, uintptr(19*8), nativeDescriptorSz)
	assert.Equal(t, uintptr(8*8), unsafe.Sizeof(cCallbacks{}))
}

// testLibc allocates host-like structures outside the Go heap, where the
// native helpers expect them.
type testLibc struct {
	calloc func(count, size uintptr) uintptr
	free   func(ptr uintptr)
}

func openTestLibc(t *testing.T) *testLibc {
	t.Helper()
	lib, err := purego.Dlopen(libcLibraryName(), purego.RTLD_NOW|purego.RTLD_GLOBAL)
	if err != nil {
		t.Skipf("libc not available: %v", err)
	}
	c := &testLibc{}
	purego.RegisterLibFunc(&c.calloc, lib, "calloc")
	purego.RegisterLibFunc(&c.free, lib, "free")
	return c
}

// cAlloc returns zeroed C memory for one T, freed when the test ends.
func cAlloc[T any](t *testing.T, c *testLibc) (uintptr, *T) {
	t.Helper()
	var zero T
	addr := c.calloc(1, unsafe.Sizeof(zero))
	require.NotZero(t, addr)
	t.Cleanup(func() { c.free(addr) })
	return addr, ptrAt[T](addr)
}

func TestHandleIDOf(t *testing.T) {
	c := openTestLibc(t)
	iceAddr, ice := cAlloc[cIceHandle](t, c)
	ice.handleID = 1234567890123
	sessionAddr, session := cAlloc[cPluginSession](t, c)
	session.gatewayHandle = iceAddr

	handle, ok := handleIDOf(sessionAddr)
	assert.True(t, ok)
	assert.Equal(t, HandleID(1234567890123), handle)

	_, ok = handleIDOf(0)
	assert.False(t, ok)
	emptyAddr, _ := cAlloc[cPluginSession](t, c)
	_, ok = handleIDOf(emptyAddr)
	assert.False(t, ok)
}

func TestSessionRefcount(t *testing.T) {
	c := openTestLibc(t)
	addr, session := cAlloc[cPluginSession](t, c)
	session.refCount = 1

	assert.False(t, sessionStopped(addr))
	session.stopped = 1
	assert.True(t, sessionStopped(addr))

	sessionRetain(addr)
	assert.Equal(t, int32(2), session.refCount)
	sessionRelease(addr)
	sessionRelease(addr)
	// No free function is installed, reaching zero is a no-op.
	assert.Equal(t, int32(0), session.refCount)
}

func TestCStringHelpers(t *testing.T) {
	c := openTestLibc(t)
	text := "janus.plugin.echo\x00trailing"
	ptr := c.calloc(1, uintptr(len(text)+1))
	require.NotZero(t, ptr)
	t.Cleanup(func() { c.free(ptr) })
	copy(unsafe.Slice(ptrAt[byte](ptr), len(text)), text)

	assert.Equal(t, "janus.plugin.echo", goString(ptr))
	assert.Equal(t, []byte("janus.plugin.echo"), cBytes(ptr))
	assert.Nil(t, cBytes(0))
	assert.Equal(t, "", goString(0))

	view := cView(ptr, 5)
	assert.Equal(t, []byte("janus"), view)
	assert.Nil(t, cView(ptr, 0))
	assert.Nil(t, cView(0, 4))
}

func TestNativeHostSessionHoldsReference(t *testing.T) {
	c := openTestLibc(t)
	addr, session := cAlloc[cPluginSession](t, c)
	session.refCount = 1

	h := &NativeHost{sessions: make(map[HandleID]uintptr)}
	require.True(t, h.bind(7, addr))
	assert.False(t, h.bind(7, addr))
	assert.Equal(t, int32(2), session.refCount)

	got, release, err := h.session(7)
	require.NoError(t, err)
	assert.Equal(t, addr, got)
	assert.Equal(t, int32(3), session.refCount)

	// Detach while the outbound call is running keeps the session alive.
	h.unbind(7)
	assert.Equal(t, int32(2), session.refCount)
	release()
	assert.Equal(t, int32(1), session.refCount)

	_, _, err = h.session(7)
	assert.True(t, IsErrorCode(err, ErrCodeHandleNotFound), "got %v", err)
}

func TestNativeHostStoppedSession(t *testing.T) {
	c := openTestLibc(t)
	addr, session := cAlloc[cPluginSession](t, c)
	session.refCount = 1
	session.stopped = 1

	h := &NativeHost{sessions: make(map[HandleID]uintptr)}
	require.True(t, h.bind(8, addr))

	_, _, err := h.session(8)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "stopped")
	assert.Equal(t, int32(2), session.refCount)

	h.releaseAll()
	assert.Equal(t, int32(1), session.refCount)
}
