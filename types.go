// types.go: Common data types shared by the bridge, the plugin contract and the host
//
// This file contains the semantic types exchanged between the host callbacks
// and plugin code: handle identifiers, plugin metadata, message and response
// payloads, JSEP descriptions and callback results. None of them carry native
// pointers.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package gojanus

import (
	"bytes"
	"encoding/json"
	"strconv"
	"time"

	"github.com/pion/sdp/v3"
)

// APICompatibility is the host plugin API version implemented by the native layer.
const APICompatibility = 13

// HandleID is the host's identifier for one signaling/media handle.
// It is stable and never reused while the session is alive.
type HandleID uint64

// String returns the decimal form of the handle identifier.
func (h HandleID) String() string {
	return strconv.FormatUint(uint64(h), 10)
}

// PluginStatus represents the operational status of the bridge.
//
//   - StatusUnknown: status cannot be determined
//   - StatusHealthy: initialized and accepting sessions
//   - StatusDegraded: running, but plugin callbacks have panicked
//   - StatusUnhealthy: draining sessions during unload
//   - StatusOffline: not initialized or already unloaded
type PluginStatus int

const (
	StatusUnknown PluginStatus = iota
	StatusHealthy
	StatusDegraded
	StatusUnhealthy
	StatusOffline
)

// String returns a human-readable representation of the plugin status.
func (s PluginStatus) String() string {
	switch s {
	case StatusHealthy:
		return "healthy"
	case StatusDegraded:
		return "degraded"
	case StatusUnhealthy:
		return "unhealthy"
	case StatusOffline:
		return "offline"
	default:
		return "unknown"
	}
}

// HealthStatus contains health information about the bridge.
type HealthStatus struct {
	Status       PluginStatus      `json:"status"`
	Message      string            `json:"message,omitempty"`
	LastCheck    time.Time         `json:"last_check"`
	ResponseTime time.Duration     `json:"response_time"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// PluginInfo describes the plugin to the host.
//
// Package is the host-facing identifier (for example "janus.plugin.echo")
// and names the configuration file looked up at load. VersionNumber is the
// integer version reported to the host; Version is its display string.
// Capabilities and Metadata are published in the bridge health metadata,
// the latter under "plugin."-prefixed keys.
type PluginInfo struct {
	Name          string            `json:"name"`
	Package       string            `json:"package"`
	Version       string            `json:"version"`
	VersionNumber int               `json:"version_number"`
	Description   string            `json:"description,omitempty"`
	Author        string            `json:"author,omitempty"`
	Capabilities  []string          `json:"capabilities,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// JSEP description types accepted by the bridge.
const (
	JsepOffer  = "offer"
	JsepAnswer = "answer"
)

// Jsep carries an SDP offer or answer alongside a message or response.
type Jsep struct {
	Type    string `json:"type"`
	SDP     string `json:"sdp"`
	Trickle *bool  `json:"trickle,omitempty"`
}

// Validate checks that the description is an offer or answer with an SDP body.
func (j *Jsep) Validate() error {
	if j.Type != JsepOffer && j.Type != JsepAnswer {
		return NewMalformedInputError("jsep", "type must be offer or answer")
	}
	if j.SDP == "" {
		return NewMalformedInputError("jsep", "sdp is empty")
	}
	return nil
}

// SessionDescription parses the SDP body.
func (j *Jsep) SessionDescription() (*sdp.SessionDescription, error) {
	desc := &sdp.SessionDescription{}
	if err := desc.Unmarshal([]byte(j.SDP)); err != nil {
		return nil, NewMalformedInputErrorWithCause("jsep.sdp", err)
	}
	return desc, nil
}

// parseJsep decodes an optional JSEP document. Empty input and JSON null
// yield nil without error.
func parseJsep(raw []byte) (*Jsep, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}
	var jsep Jsep
	if err := json.Unmarshal(trimmed, &jsep); err != nil {
		return nil, NewMalformedInputErrorWithCause("jsep", err)
	}
	if err := jsep.Validate(); err != nil {
		return nil, err
	}
	return &jsep, nil
}

// IncomingMessage is a transaction-tagged message delivered to a session.
type IncomingMessage struct {
	Transaction string
	Body        json.RawMessage
	Jsep        *Jsep
}

// Decode unmarshals the message body into v.
func (m IncomingMessage) Decode(v any) error {
	if err := json.Unmarshal(m.Body, v); err != nil {
		return NewMalformedInputErrorWithCause("body", err)
	}
	return nil
}

// parseBody validates that a message body is a JSON object.
func parseBody(raw []byte) (json.RawMessage, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, NewMalformedInputError("body", "body is empty")
	}
	if trimmed[0] != '{' {
		return nil, NewMalformedInputError("body", "body must be a JSON object")
	}
	if !json.Valid(trimmed) {
		return nil, NewMalformedInputError("body", "body is not valid JSON")
	}
	return json.RawMessage(trimmed), nil
}

// Response is the payload delivered through a ResponseToken.
// Exactly one of Payload or Err is meaningful.
type Response struct {
	Payload any
	Jsep    *Jsep
	Err     error
}

// Success builds a successful response.
func Success(payload any) Response {
	return Response{Payload: payload}
}

// SuccessWithJsep builds a successful response carrying an SDP description.
func SuccessWithJsep(payload any, jsep *Jsep) Response {
	return Response{Payload: payload, Jsep: jsep}
}

// Failure builds an error response.
func Failure(err error) Response {
	return Response{Err: err}
}

// errorPayload is the body pushed to the caller for a failed deferred response.
type errorPayload struct {
	ErrorCode string `json:"error_code"`
	Error     string `json:"error"`
}

// encode renders the response body sent to the host.
func (r Response) encode() (json.RawMessage, error) {
	if r.Err != nil {
		code := ErrorCodeOf(r.Err)
		if code == "" {
			code = ErrCodeMessageFailed
		}
		out, err := json.Marshal(errorPayload{ErrorCode: code, Error: r.Err.Error()})
		if err != nil {
			return nil, NewSerializationError("error response", err)
		}
		return out, nil
	}
	return encodePayload(r.Payload)
}

// encodePayload marshals a plugin payload. Raw JSON is passed through after
// validation; nil becomes an empty object.
func encodePayload(payload any) (json.RawMessage, error) {
	switch p := payload.(type) {
	case nil:
		return json.RawMessage(`{}`), nil
	case json.RawMessage:
		if !json.Valid(p) {
			return nil, NewSerializationError("payload", NewMalformedInputError("payload", "invalid raw JSON"))
		}
		return p, nil
	case []byte:
		if !json.Valid(p) {
			return nil, NewSerializationError("payload", NewMalformedInputError("payload", "invalid raw JSON"))
		}
		return json.RawMessage(p), nil
	default:
		out, err := json.Marshal(p)
		if err != nil {
			return nil, NewSerializationError("payload", err)
		}
		return out, nil
	}
}

// ResultType is the host's return convention for message callbacks.
type ResultType int

const (
	// ResultError reports a request-level error; Text carries the reason.
	ResultError ResultType = -1
	// ResultOK carries a synchronous answer in Content.
	ResultOK ResultType = 0
	// ResultOKWait acknowledges the message; the answer follows as a push.
	ResultOKWait ResultType = 1
)

// String returns the name of the result type.
func (t ResultType) String() string {
	switch t {
	case ResultOK:
		return "ok"
	case ResultOKWait:
		return "ok_wait"
	case ResultError:
		return "error"
	default:
		return "unknown"
	}
}

// PluginResult is what a message callback returns to the host.
type PluginResult struct {
	Type    ResultType
	Text    string
	Content json.RawMessage
}

func errorResult(err error) PluginResult {
	return PluginResult{Type: ResultError, Text: err.Error()}
}
