// plugin.go: The contract implemented by plugin application code
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package gojanus

// Plugin is implemented once per shared library by application code.
//
// The plugin object is process-wide: it is loaded once, outlives every
// session and must synchronize its own shared state. S is the per-handle
// session state returned by OnAttach. The bridge owns S and hands it back to
// the session methods one call at a time, so session methods never run
// concurrently for the same handle. S is usually a pointer to a struct the
// plugin mutates in place.
//
// Session methods must not block for long: work that takes time belongs on
// a goroutine answering through a ResponseToken.
type Plugin[S any] interface {
	// Info describes the plugin to the host.
	Info() PluginInfo

	// OnLoad is called once when the host loads the plugin. An error makes
	// the load fail and no session is ever created.
	OnLoad(cfg *Config) error

	// OnUnload is called once after every remaining session was detached.
	OnUnload()

	// OnAttach creates the state for a new handle. An error rejects the
	// handle and no session is created.
	OnAttach(sc *SessionContext) (S, error)

	// OnMessage handles a transaction-tagged message and returns an
	// immediate answer, an immediate error, or a deferred token.
	OnMessage(sc *SessionContext, state S, msg IncomingMessage) MessageOutcome

	// OnMediaEvent handles media setup, packets, data, slow link and hangup.
	OnMediaEvent(sc *SessionContext, state S, event MediaEvent)

	// OnDetach releases the session state. The state is not used afterwards.
	OnDetach(sc *SessionContext, state S)
}

// SessionQuerier is implemented by plugins that expose a snapshot of a
// session's state to the host's admin interface.
type SessionQuerier[S any] interface {
	QuerySession(state S) (any, error)
}

// ConfigReloader is implemented by plugins that accept configuration
// changes while loaded.
type ConfigReloader interface {
	OnConfigReload(cfg *Config) error
}

type outcomeKind int

const (
	outcomeNone outcomeKind = iota
	outcomeRespond
	outcomeFail
	outcomeDeferred
)

func (k outcomeKind) String() string {
	switch k {
	case outcomeRespond:
		return "respond"
	case outcomeFail:
		return "fail"
	case outcomeDeferred:
		return "deferred"
	default:
		return "none"
	}
}

// MessageOutcome is the result of OnMessage. Build it with Respond,
// RespondWithJsep, Fail or Deferred; the zero value is reported to the host
// as an error.
type MessageOutcome struct {
	kind    outcomeKind
	payload any
	jsep    *Jsep
	err     error
	token   *ResponseToken
}

// Respond answers the message synchronously.
func Respond(payload any) MessageOutcome {
	return MessageOutcome{kind: outcomeRespond, payload: payload}
}

// RespondWithJsep answers immediately with an SDP description. The host only
// accepts descriptions on pushed events, so the answer is pushed with the
// message's transaction as soon as the callback returns and the host
// receives an acknowledgement.
func RespondWithJsep(payload any, jsep *Jsep) MessageOutcome {
	return MessageOutcome{kind: outcomeRespond, payload: payload, jsep: jsep}
}

// Fail answers the message with an error.
func Fail(err error) MessageOutcome {
	return MessageOutcome{kind: outcomeFail, err: err}
}

// Deferred acknowledges the message; the answer is delivered later through
// token.Fulfill.
func Deferred(token *ResponseToken) MessageOutcome {
	return MessageOutcome{kind: outcomeDeferred, token: token}
}

// IsDeferred reports whether the outcome carries a token.
func (o MessageOutcome) IsDeferred() bool {
	return o.kind == outcomeDeferred
}

// Token returns the deferred token, or nil.
func (o MessageOutcome) Token() *ResponseToken {
	return o.token
}
