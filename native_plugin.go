//go:build (linux || darwin) && (amd64 || arm64)

// native_plugin.go: The janus_plugin descriptor handed to the host
//
// A plugin shared library exports create(), which returns the descriptor
// built here. Each descriptor entry is a purego callback that converts the
// host's pointers into handle identifiers, Go strings and JSON bytes, then
// calls the Bridge. No host pointer is ever passed to plugin code.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package gojanus

import (
	"encoding/json"
	"sync"
	"unsafe"

	"github.com/ebitengine/purego"
)

// nativeBridge is the Bridge surface used by the descriptor callbacks.
type nativeBridge interface {
	Init(host Host, configDir string) error
	Destroy()
	Info() PluginInfo
	Logger() Logger
	CreateSession(handle HandleID) error
	HandleMessage(handle HandleID, transaction string, body, jsep []byte) PluginResult
	SetupMedia(handle HandleID)
	IncomingRTP(handle HandleID, video bool, buf []byte)
	IncomingRTCP(handle HandleID, video bool, buf []byte)
	IncomingData(handle HandleID, buf []byte)
	SlowLink(handle HandleID, uplink, video bool)
	HangupMedia(handle HandleID)
	DestroySession(handle HandleID) error
	QuerySession(handle HandleID) (json.RawMessage, error)
}

// maxResultTexts bounds the distinct error texts kept for the host.
const maxResultTexts = 256

var (
	descriptorMu   sync.Mutex
	descriptorInst *nativeDescriptor
)

// nativeDescriptor owns the descriptor memory and the state shared by its
// callbacks.
type nativeDescriptor struct {
	bridge nativeBridge
	logger Logger
	rt     *nativeRuntime
	ptr    uintptr
	texts  *textCache

	// strings returned by the metadata getters, allocated once
	versionString uintptr
	description   uintptr
	name          uintptr
	author        uintptr
	pkg           uintptr

	hostMu sync.RWMutex
	host   *NativeHost
}

// NewPluginDescriptor builds the janus_plugin descriptor for plugin. Call it
// from the shared library's exported create function and return the pointer
// to the host. A process hosts a single descriptor: later calls return the
// first one.
func NewPluginDescriptor[S any](plugin Plugin[S], opts BridgeOptions) (unsafe.Pointer, error) {
	descriptorMu.Lock()
	defer descriptorMu.Unlock()

	if descriptorInst != nil {
		return unsafe.Pointer(descriptorInst.ptr), nil // #nosec G103
	}

	rt, err := loadNativeRuntime()
	if err != nil {
		return nil, err
	}

	bridge := NewBridge(plugin, opts)
	d, err := newNativeDescriptor(rt, bridge)
	if err != nil {
		return nil, err
	}
	descriptorInst = d
	return unsafe.Pointer(d.ptr), nil // #nosec G103
}

// MustPluginDescriptor is NewPluginDescriptor for create functions that
// cannot report errors. It returns nil on failure, which the host treats as
// a plugin that failed to load.
func MustPluginDescriptor[S any](plugin Plugin[S], opts BridgeOptions) unsafe.Pointer {
	ptr, err := NewPluginDescriptor(plugin, opts)
	if err != nil {
		var logger Logger = NewConsoleLogger(nil, "error")
		if opts.Logger != nil {
			logger = NewLogger(opts.Logger)
		}
		logger.Error("Failed to create plugin descriptor", "error", err)
		return nil
	}
	return ptr
}

func newNativeDescriptor(rt *nativeRuntime, bridge nativeBridge) (*nativeDescriptor, error) {
	info := bridge.Info()
	d := &nativeDescriptor{
		bridge: bridge,
		logger: bridge.Logger(),
		rt:     rt,
		texts:  newTextCache(maxResultTexts),
	}

	d.versionString = rt.cString(info.Version)
	d.description = rt.cString(info.Description)
	d.name = rt.cString(info.Name)
	d.author = rt.cString(info.Author)
	d.pkg = rt.cString(info.Package)

	d.ptr = rt.malloc(nativeDescriptorSz)
	if d.ptr == 0 {
		return nil, NewNativeLibraryError("libc", errMallocFailed)
	}
	*ptrAt[cPluginDescriptor](d.ptr) = cPluginDescriptor{
		init:                purego.NewCallback(d.init),
		destroy:             purego.NewCallback(d.destroy),
		getAPICompatibility: purego.NewCallback(d.getAPICompatibility),
		getVersion:          purego.NewCallback(d.getVersion),
		getVersionString:    purego.NewCallback(d.getVersionString),
		getDescription:      purego.NewCallback(d.getDescription),
		getName:             purego.NewCallback(d.getName),
		getAuthor:           purego.NewCallback(d.getAuthor),
		getPackage:          purego.NewCallback(d.getPackage),
		createSession:       purego.NewCallback(d.createSession),
		handleMessage:       purego.NewCallback(d.handleMessage),
		setupMedia:          purego.NewCallback(d.setupMedia),
		incomingRTP:         purego.NewCallback(d.incomingRTP),
		incomingRTCP:        purego.NewCallback(d.incomingRTCP),
		incomingData:        purego.NewCallback(d.incomingData),
		slowLink:            purego.NewCallback(d.slowLink),
		hangupMedia:         purego.NewCallback(d.hangupMedia),
		destroySession:      purego.NewCallback(d.destroySession),
		querySession:        purego.NewCallback(d.querySession),
	}
	return d, nil
}

func (d *nativeDescriptor) currentHost() *NativeHost {
	d.hostMu.RLock()
	defer d.hostMu.RUnlock()
	return d.host
}

// handleOf resolves the handle identifier of a host session pointer.
func (d *nativeDescriptor) handleOf(session uintptr, callback string) (HandleID, bool) {
	handle, ok := handleIDOf(session)
	if !ok {
		d.logger.Warn("Callback without a host handle", "callback", callback)
	}
	return handle, ok
}

func (d *nativeDescriptor) init(callbacks uintptr, configPath uintptr) int32 {
	if callbacks == 0 {
		d.logger.Error("Host passed no callback table")
		return -1
	}
	host := newNativeHost(d.rt, callbacks, d.ptr)

	d.hostMu.Lock()
	d.host = host
	d.hostMu.Unlock()

	if err := d.bridge.Init(host, goString(configPath)); err != nil {
		d.hostMu.Lock()
		d.host = nil
		d.hostMu.Unlock()
		return -1
	}
	return 0
}

func (d *nativeDescriptor) destroy() {
	d.bridge.Destroy()

	d.hostMu.Lock()
	host := d.host
	d.host = nil
	d.hostMu.Unlock()
	if host != nil {
		host.releaseAll()
	}
}

func (d *nativeDescriptor) getAPICompatibility() int32 { return APICompatibility }
func (d *nativeDescriptor) getVersion() int32          { return int32(d.bridge.Info().VersionNumber) }
func (d *nativeDescriptor) getVersionString() uintptr  { return d.versionString }
func (d *nativeDescriptor) getDescription() uintptr    { return d.description }
func (d *nativeDescriptor) getName() uintptr           { return d.name }
func (d *nativeDescriptor) getAuthor() uintptr         { return d.author }
func (d *nativeDescriptor) getPackage() uintptr        { return d.pkg }

func setErrorOut(errorOut uintptr, failed bool) {
	if errorOut == 0 {
		return
	}
	value := int32(0)
	if failed {
		value = 1
	}
	*ptrAt[int32](errorOut) = value
}

func (d *nativeDescriptor) createSession(session uintptr, errorOut uintptr) {
	handle, ok := d.handleOf(session, "create_session")
	host := d.currentHost()
	if !ok || host == nil {
		setErrorOut(errorOut, true)
		return
	}
	if !host.bind(handle, session) {
		d.logger.Warn("Duplicate session handle", "handle_id", handle)
		setErrorOut(errorOut, true)
		return
	}
	if err := d.bridge.CreateSession(handle); err != nil {
		host.unbind(handle)
		setErrorOut(errorOut, true)
		return
	}
	setErrorOut(errorOut, false)
}

// handleMessage takes ownership of transaction, message and jsep.
func (d *nativeDescriptor) handleMessage(session uintptr, transaction uintptr, message uintptr, jsep uintptr) uintptr {
	txn := goString(transaction)
	if transaction != 0 {
		d.rt.free(transaction)
	}
	body, bodyErr := d.rt.dumps(message)
	d.rt.decref(message)
	jsepRaw, jsepErr := d.rt.dumps(jsep)
	d.rt.decref(jsep)

	handle, ok := d.handleOf(session, "handle_message")
	var result PluginResult
	switch {
	case !ok:
		result = errorResult(NewMalformedInputError("handle", "host session has no handle"))
	case bodyErr != nil:
		result = errorResult(bodyErr)
	case jsepErr != nil:
		result = errorResult(jsepErr)
	default:
		result = d.bridge.HandleMessage(handle, txn, body, jsepRaw)
	}
	return d.nativeResult(result)
}

func (d *nativeDescriptor) nativeResult(result PluginResult) uintptr {
	var text, content uintptr
	if result.Type == ResultError {
		text = d.texts.intern(d.rt, result.Text)
	}
	if len(result.Content) > 0 {
		value, err := d.rt.loads(result.Content)
		if err != nil {
			d.logger.Error("Failed to convert result for the host", "error", err)
			return d.rt.newResult(ResultError, d.texts.intern(d.rt, err.Error()), 0)
		}
		content = value
	}
	return d.rt.newResult(result.Type, text, content)
}

func (d *nativeDescriptor) setupMedia(session uintptr) {
	if handle, ok := d.handleOf(session, "setup_media"); ok {
		d.bridge.SetupMedia(handle)
	}
}

func (d *nativeDescriptor) incomingRTP(session uintptr, video int32, buf uintptr, length int32) {
	if handle, ok := d.handleOf(session, "incoming_rtp"); ok {
		d.bridge.IncomingRTP(handle, video != 0, cView(buf, length))
	}
}

func (d *nativeDescriptor) incomingRTCP(session uintptr, video int32, buf uintptr, length int32) {
	if handle, ok := d.handleOf(session, "incoming_rtcp"); ok {
		d.bridge.IncomingRTCP(handle, video != 0, cView(buf, length))
	}
}

func (d *nativeDescriptor) incomingData(session uintptr, buf uintptr, length int32) {
	if handle, ok := d.handleOf(session, "incoming_data"); ok {
		d.bridge.IncomingData(handle, cView(buf, length))
	}
}

func (d *nativeDescriptor) slowLink(session uintptr, uplink int32, video int32) {
	if handle, ok := d.handleOf(session, "slow_link"); ok {
		d.bridge.SlowLink(handle, uplink != 0, video != 0)
	}
}

func (d *nativeDescriptor) hangupMedia(session uintptr) {
	if handle, ok := d.handleOf(session, "hangup_media"); ok {
		d.bridge.HangupMedia(handle)
	}
}

func (d *nativeDescriptor) destroySession(session uintptr, errorOut uintptr) {
	handle, ok := d.handleOf(session, "destroy_session")
	if !ok {
		setErrorOut(errorOut, true)
		return
	}
	err := d.bridge.DestroySession(handle)
	if host := d.currentHost(); host != nil {
		host.unbind(handle)
	}
	if err != nil {
		d.logger.Debug("Session destroy failed", "handle_id", handle, "error", err)
	}
	setErrorOut(errorOut, err != nil)
}

// querySession returns a new json_t owned by the host, or NULL.
func (d *nativeDescriptor) querySession(session uintptr) uintptr {
	handle, ok := d.handleOf(session, "query_session")
	if !ok {
		return 0
	}
	raw, err := d.bridge.QuerySession(handle)
	if err != nil {
		d.logger.Debug("Session query failed", "handle_id", handle, "error", err)
		return 0
	}
	value, err := d.rt.loads(raw)
	if err != nil {
		d.logger.Error("Failed to convert session query for the host", "handle_id", handle, "error", err)
		return 0
	}
	return value
}
