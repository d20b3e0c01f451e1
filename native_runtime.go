//go:build (linux || darwin) && (amd64 || arm64)

// native_runtime.go: jansson and libc bindings loaded with purego
//
// The host process already has jansson and libc loaded; opening them again
// returns the same instances, so values created here can be handed to the
// host and freed by it.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package gojanus

import (
	"fmt"
	"os"
	"runtime"
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/ebitengine/purego"
)

// Environment variables overriding the native library names.
const (
	EnvJanssonLibrary = "GOJANUS_JANSSON_LIBRARY"
	EnvLibcLibrary    = "GOJANUS_LIBC_LIBRARY"
)

type nativeRuntime struct {
	jsonDumps  func(value uintptr, flags uintptr) uintptr
	jsonLoads  func(input string, flags uintptr, errorOut uintptr) uintptr
	jsonDelete func(value uintptr)

	malloc func(size uintptr) uintptr
	free   func(ptr uintptr)
}

var errMallocFailed = fmt.Errorf("malloc returned NULL")

var (
	nativeRuntimeOnce sync.Once
	nativeRuntimeInst *nativeRuntime
	nativeRuntimeErr  error
)

func janssonLibraryName() string {
	if name := os.Getenv(EnvJanssonLibrary); name != "" {
		return name
	}
	if runtime.GOOS == "darwin" {
		return "libjansson.4.dylib"
	}
	return "libjansson.so.4"
}

func libcLibraryName() string {
	if name := os.Getenv(EnvLibcLibrary); name != "" {
		return name
	}
	if runtime.GOOS == "darwin" {
		return "/usr/lib/libSystem.B.dylib"
	}
	return "libc.so.6"
}

// loadNativeRuntime opens jansson and libc once per process.
func loadNativeRuntime() (*nativeRuntime, error) {
	nativeRuntimeOnce.Do(func() {
		nativeRuntimeInst, nativeRuntimeErr = openNativeRuntime()
	})
	return nativeRuntimeInst, nativeRuntimeErr
}

func openNativeRuntime() (rt *nativeRuntime, err error) {
	jansson, err := purego.Dlopen(janssonLibraryName(), purego.RTLD_NOW|purego.RTLD_GLOBAL)
	if err != nil {
		return nil, NewNativeLibraryError(janssonLibraryName(), err)
	}
	libc, err := purego.Dlopen(libcLibraryName(), purego.RTLD_NOW|purego.RTLD_GLOBAL)
	if err != nil {
		return nil, NewNativeLibraryError(libcLibraryName(), err)
	}

	// RegisterLibFunc panics on a missing symbol.
	defer func() {
		if r := recover(); r != nil {
			rt, err = nil, NewNativeLibraryError(janssonLibraryName(), fmt.Errorf("%v", r))
		}
	}()

	rt = &nativeRuntime{}
	purego.RegisterLibFunc(&rt.jsonDumps, jansson, "json_dumps")
	purego.RegisterLibFunc(&rt.jsonLoads, jansson, "json_loads")
	purego.RegisterLibFunc(&rt.jsonDelete, jansson, "json_delete")
	purego.RegisterLibFunc(&rt.malloc, libc, "malloc")
	purego.RegisterLibFunc(&rt.free, libc, "free")
	return rt, nil
}

// dumps serializes a json_t without touching its reference count.
func (rt *nativeRuntime) dumps(value uintptr) ([]byte, error) {
	if value == 0 {
		return nil, nil
	}
	out := rt.jsonDumps(value, jsonDumpFlags)
	if out == 0 {
		return nil, NewSerializationError("host JSON", fmt.Errorf("json_dumps failed"))
	}
	defer rt.free(out)
	return cBytes(out), nil
}

// loads parses JSON into a new json_t with one reference owned by the
// caller.
func (rt *nativeRuntime) loads(raw []byte) (uintptr, error) {
	if len(raw) == 0 {
		return 0, nil
	}
	value := rt.jsonLoads(string(raw), jsonLoadFlagsNone, 0)
	if value == 0 {
		return 0, NewSerializationError("JSON for the host", fmt.Errorf("json_loads rejected %d bytes", len(raw)))
	}
	return value, nil
}

// decref releases one reference to a json_t. json_decref is a header
// macro, so it is reproduced over the exported json_delete.
func (rt *nativeRuntime) decref(value uintptr) {
	if value == 0 {
		return
	}
	j := ptrAt[cJSON](value)
	if atomic.LoadUint64(&j.refcount) == jsonRefcountImmortal {
		return
	}
	if atomic.AddUint64(&j.refcount, ^uint64(0)) == 0 {
		rt.jsonDelete(value)
	}
}

// cString copies s into libc memory. The caller frees it.
func (rt *nativeRuntime) cString(s string) uintptr {
	ptr := rt.malloc(uintptr(len(s) + 1))
	if ptr == 0 {
		return 0
	}
	buf := unsafe.Slice(ptrAt[byte](ptr), len(s)+1)
	copy(buf, s)
	buf[len(s)] = 0
	return ptr
}

// cBytes copies a NUL-terminated C string.
func cBytes(ptr uintptr) []byte {
	if ptr == 0 {
		return nil
	}
	n := 0
	for *ptrAt[byte](ptr + uintptr(n)) != 0 {
		n++
	}
	out := make([]byte, n)
	copy(out, unsafe.Slice(ptrAt[byte](ptr), n))
	return out
}

// goString copies a NUL-terminated C string.
func goString(ptr uintptr) string {
	return string(cBytes(ptr))
}

// cView returns a slice over host memory, valid for the current callback.
func cView(ptr uintptr, length int32) []byte {
	if ptr == 0 || length <= 0 {
		return nil
	}
	return unsafe.Slice(ptrAt[byte](ptr), int(length))
}

// newResult allocates a janus_plugin_result the host frees. content is a
// json_t reference handed over to the host.
func (rt *nativeRuntime) newResult(resultType ResultType, text uintptr, content uintptr) uintptr {
	ptr := rt.malloc(nativeResultBytes)
	if ptr == 0 {
		return 0
	}
	result := ptrAt[cPluginResult](ptr)
	*result = cPluginResult{
		resultType: int32(resultType),
		text:       text,
		content:    content,
	}
	return ptr
}

// textCache keeps result texts alive: the host never frees them.
type textCache struct {
	mu      sync.Mutex
	entries map[string]uintptr
	limit   int
}

const fallbackResultText = "Plugin error"

func newTextCache(limit int) *textCache {
	return &textCache{entries: make(map[string]uintptr), limit: limit}
}

// intern returns a C copy of text shared by every result with the same
// text. Once the cache is full, unseen texts share a generic message.
func (tc *textCache) intern(rt *nativeRuntime, text string) uintptr {
	tc.mu.Lock()
	defer tc.mu.Unlock()

	if ptr, ok := tc.entries[text]; ok {
		return ptr
	}
	if len(tc.entries) >= tc.limit {
		text = fallbackResultText
		if ptr, ok := tc.entries[text]; ok {
			return ptr
		}
	}
	ptr := rt.cString(text)
	if ptr != 0 {
		tc.entries[text] = ptr
	}
	return ptr
}
