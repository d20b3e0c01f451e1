// errors.go: structured error definitions for the go-janus bridge
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package gojanus

import (
	stderrors "errors"
	"fmt"

	"github.com/agilira/go-errors"
)

// Error codes for the go-janus bridge
const (
	// Bridge and registry errors (1000-1099)
	ErrCodeDuplicateHandle    = "BRIDGE_1001"
	ErrCodeMalformedInput     = "BRIDGE_1002"
	ErrCodeHandleNotFound     = "BRIDGE_1003"
	ErrCodeNotInitialized     = "BRIDGE_1004"
	ErrCodeAlreadyInitialized = "BRIDGE_1005"
	ErrCodeShuttingDown       = "BRIDGE_1006"

	// Plugin application errors (1100-1199)
	ErrCodeAttachRejected = "PLUGIN_1101"
	ErrCodeInitFailed     = "PLUGIN_1102"
	ErrCodePluginPanic    = "PLUGIN_1103"
	ErrCodeMessageFailed  = "PLUGIN_1104"
	ErrCodeQueryFailed    = "PLUGIN_1105"

	// Response token errors (1200-1299)
	ErrCodeStaleToken           = "TOKEN_1201"
	ErrCodeTokenAlreadyConsumed = "TOKEN_1202"

	// Host callback errors (1300-1399)
	ErrCodeHostPushFailed     = "HOST_1301"
	ErrCodeHostUnavailable    = "HOST_1302"
	ErrCodeSerializationError = "HOST_1303"
	ErrCodeEventsDisabled     = "HOST_1304"

	// Native ABI errors (1400-1499)
	ErrCodeNativeLibrary = "NATIVE_1401"

	// Configuration errors (1700-1799)
	ErrCodeConfigNotFound        = "CONFIG_1701"
	ErrCodeConfigParseError      = "CONFIG_1702"
	ErrCodeConfigValidationError = "CONFIG_1703"
	ErrCodeConfigWatcherError    = "CONFIG_1704"

	// Health endpoint errors (1600-1699)
	ErrCodeHealthServerError = "HEALTH_1601"
)

// Bridge and registry error constructors

func NewDuplicateHandleError(handle HandleID) *errors.Error {
	return errors.New(ErrCodeDuplicateHandle, "Duplicate handle").
		WithUserMessage("A session is already attached to this handle").
		WithContext("handle_id", uint64(handle)).
		WithSeverity("error")
}

func NewMalformedInputError(field, reason string) *errors.Error {
	return errors.New(ErrCodeMalformedInput, fmt.Sprintf("Malformed %s: %s", field, reason)).
		WithUserMessage("The request could not be decoded").
		WithContext("field", field).
		WithContext("reason", reason).
		WithSeverity("warning")
}

func NewMalformedInputErrorWithCause(field string, cause error) *errors.Error {
	return errors.Wrap(cause, ErrCodeMalformedInput, fmt.Sprintf("Malformed %s", field)).
		WithUserMessage("The request could not be decoded").
		WithContext("field", field).
		WithSeverity("warning")
}

func NewHandleNotFoundError(handle HandleID) *errors.Error {
	return errors.New(ErrCodeHandleNotFound, "Handle not found").
		WithUserMessage("No session is attached to this handle").
		WithContext("handle_id", uint64(handle)).
		WithSeverity("warning")
}

func NewNotInitializedError() *errors.Error {
	return errors.New(ErrCodeNotInitialized, "Plugin not initialized").
		WithUserMessage("The plugin has not been initialized by the host").
		WithSeverity("error")
}

func NewAlreadyInitializedError() *errors.Error {
	return errors.New(ErrCodeAlreadyInitialized, "Plugin already initialized").
		WithUserMessage("The plugin was initialized twice").
		WithSeverity("error")
}

func NewShuttingDownError() *errors.Error {
	return errors.New(ErrCodeShuttingDown, "Plugin is shutting down").
		WithUserMessage("The plugin no longer accepts new sessions").
		WithSeverity("warning").
		AsRetryable()
}

// Plugin application error constructors

func NewAttachRejectedError(handle HandleID, cause error) *errors.Error {
	return errors.Wrap(cause, ErrCodeAttachRejected, "Session attach rejected").
		WithUserMessage("The plugin rejected the session").
		WithContext("handle_id", uint64(handle)).
		WithSeverity("error")
}

func NewInitFailedError(pluginName string, cause error) *errors.Error {
	return errors.Wrap(cause, ErrCodeInitFailed, "Plugin initialization failed").
		WithUserMessage("The plugin could not be loaded").
		WithContext("plugin_name", pluginName).
		WithSeverity("error")
}

func NewPluginPanicError(operation string, recovered interface{}) *errors.Error {
	return errors.New(ErrCodePluginPanic, fmt.Sprintf("Plugin panicked during %s: %v", operation, recovered)).
		WithUserMessage("The plugin failed while handling the request").
		WithContext("operation", operation).
		WithSeverity("error")
}

func NewMessageFailedError(transaction string, cause error) *errors.Error {
	return errors.Wrap(cause, ErrCodeMessageFailed, "Message handling failed").
		WithUserMessage("The plugin could not handle the message").
		WithContext("transaction", transaction).
		WithSeverity("error")
}

func NewQueryFailedError(handle HandleID, cause error) *errors.Error {
	return errors.Wrap(cause, ErrCodeQueryFailed, "Session query failed").
		WithContext("handle_id", uint64(handle)).
		WithSeverity("warning")
}

// Response token error constructors

func NewStaleTokenError(handle HandleID, transaction string) *errors.Error {
	return errors.New(ErrCodeStaleToken, "Stale response token").
		WithUserMessage("The session for this response no longer exists").
		WithContext("handle_id", uint64(handle)).
		WithContext("transaction", transaction).
		WithSeverity("warning")
}

func NewTokenAlreadyConsumedError(handle HandleID, transaction string) *errors.Error {
	return errors.New(ErrCodeTokenAlreadyConsumed, "Response token already consumed").
		WithUserMessage("A response was already sent for this transaction").
		WithContext("handle_id", uint64(handle)).
		WithContext("transaction", transaction).
		WithSeverity("warning")
}

// Host callback error constructors

func NewHostPushFailedError(handle HandleID, operation string, cause error) *errors.Error {
	if cause == nil {
		return errors.New(ErrCodeHostPushFailed, "Host callback failed").
			WithContext("handle_id", uint64(handle)).
			WithContext("operation", operation).
			WithSeverity("error").
			AsRetryable()
	}
	return errors.Wrap(cause, ErrCodeHostPushFailed, "Host callback failed").
		WithContext("handle_id", uint64(handle)).
		WithContext("operation", operation).
		WithSeverity("error").
		AsRetryable()
}

func NewHostUnavailableError() *errors.Error {
	return errors.New(ErrCodeHostUnavailable, "Host callbacks not available").
		WithUserMessage("The plugin is not attached to a host").
		WithSeverity("error")
}

func NewSerializationError(what string, cause error) *errors.Error {
	return errors.Wrap(cause, ErrCodeSerializationError, fmt.Sprintf("Failed to serialize %s", what)).
		WithContext("value", what).
		WithSeverity("error")
}

func NewEventsDisabledError() *errors.Error {
	return errors.New(ErrCodeEventsDisabled, "Event handlers disabled").
		WithUserMessage("Event notification is disabled in the host or the plugin").
		WithSeverity("warning")
}

// Native and infrastructure error constructors

func NewNativeLibraryError(library string, cause error) *errors.Error {
	return errors.Wrap(cause, ErrCodeNativeLibrary, "Failed to load native library").
		WithContext("library", library).
		WithSeverity("error")
}

func NewConfigNotFoundError(path string) *errors.Error {
	return errors.New(ErrCodeConfigNotFound, "Configuration file not found").
		WithContext("path", path).
		WithSeverity("warning")
}

func NewConfigParseError(path string, cause error) *errors.Error {
	return errors.Wrap(cause, ErrCodeConfigParseError, "Failed to parse configuration").
		WithUserMessage("The plugin configuration file is invalid").
		WithContext("path", path).
		WithSeverity("error")
}

func NewConfigValidationError(message string, cause error) *errors.Error {
	if cause != nil {
		return errors.Wrap(cause, ErrCodeConfigValidationError, message).
			WithSeverity("error")
	}
	return errors.New(ErrCodeConfigValidationError, message).
		WithSeverity("error")
}

func NewConfigWatcherError(message string, cause error) *errors.Error {
	return errors.Wrap(cause, ErrCodeConfigWatcherError, message).
		WithSeverity("warning")
}

func NewHealthServerError(address string, cause error) *errors.Error {
	return errors.Wrap(cause, ErrCodeHealthServerError, "Health server failed").
		WithContext("address", address).
		WithSeverity("error")
}

// ErrorCodeOf returns the code of the first structured error in err's chain,
// or an empty string when there is none.
func ErrorCodeOf(err error) string {
	var structured *errors.Error
	if stderrors.As(err, &structured) {
		return string(structured.Code)
	}
	return ""
}

// IsErrorCode reports whether err carries the given code.
func IsErrorCode(err error, code string) bool {
	return err != nil && ErrorCodeOf(err) == code
}
