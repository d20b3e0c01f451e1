// Package gojanus lets Janus gateway plugins be written in Go.
//
// The host loads a plugin as a shared library and drives it through a table
// of C callbacks, handing it raw pointers it keeps ownership of. gojanus
// turns those callbacks into safe, typed calls on a Plugin implementation
// and enforces the rules the host's threading model leaves to the plugin:
//
//   - a session's state is only touched by one callback at a time
//   - no callback for a handle runs after its detach completed
//   - a deferred answer is delivered at most once, and never after detach
//   - no native pointer reaches plugin code
//
// Basic Usage:
//
//	type echo struct{}
//
//	type session struct{ messages int }
//
//	func (echo) Info() gojanus.PluginInfo {
//		return gojanus.PluginInfo{Name: "Echo", Package: "janus.plugin.echo", Version: "1.0.0", VersionNumber: 1}
//	}
//
//	func (echo) OnAttach(sc *gojanus.SessionContext) (*session, error) { return &session{}, nil }
//
//	func (echo) OnMessage(sc *gojanus.SessionContext, s *session, msg gojanus.IncomingMessage) gojanus.MessageOutcome {
//		s.messages++
//		return gojanus.Respond(msg.Body)
//	}
//
// and, in the plugin's main package built with -buildmode=c-shared:
//
//	//export create
//	func create() unsafe.Pointer {
//		return gojanus.MustPluginDescriptor[*session](echo{}, gojanus.BridgeOptions{})
//	}
//
// Messages are answered synchronously with Respond or Fail, or deferred:
// SessionContext.Defer mints a ResponseToken that any goroutine may fulfill
// later. Fulfilling a token whose session was detached fails with
// TOKEN_1201 and sends nothing to the host.
//
// Bridge can be driven directly, without the native layer, by passing a
// RecordingHost to Init. This is how plugin logic is unit tested.
//
// Configuration:
// The bridge reads "<package>.yaml" (or .yml, .json, .toml) from the host's
// configuration folder, expands ${VAR} placeholders and applies environment
// overrides prefixed with the package name (JANUS_PLUGIN_ECHO_LOG_LEVEL).
// The file may enable hot reload and a gRPC health endpoint.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0
package gojanus
