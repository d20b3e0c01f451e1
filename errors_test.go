// errors_test.go: tests for structured error definitions
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package gojanus

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/agilira/go-errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBridgeErrorConstructors(t *testing.T) {
	t.Run("NewDuplicateHandleError", func(t *testing.T) {
		err := NewDuplicateHandleError(42)

		assert.Equal(t, errors.ErrorCode(ErrCodeDuplicateHandle), err.ErrorCode())
		assert.Equal(t, uint64(42), err.Context["handle_id"])
		assert.Equal(t, "error", err.Severity)
		assert.Equal(t, "A session is already attached to this handle", err.UserMessage())
		assert.False(t, err.IsRetryable())
	})

	t.Run("NewMalformedInputError", func(t *testing.T) {
		err := NewMalformedInputError("jsep", "missing sdp")

		assert.Equal(t, errors.ErrorCode(ErrCodeMalformedInput), err.ErrorCode())
		assert.Equal(t, "jsep", err.Context["field"])
		assert.Equal(t, "missing sdp", err.Context["reason"])
		assert.Equal(t, "warning", err.Severity)
		assert.Contains(t, err.Error(), "Malformed jsep: missing sdp")
	})

	t.Run("NewHandleNotFoundError", func(t *testing.T) {
		err := NewHandleNotFoundError(7)

		assert.Equal(t, errors.ErrorCode(ErrCodeHandleNotFound), err.ErrorCode())
		assert.Equal(t, uint64(7), err.Context["handle_id"])
		assert.Equal(t, "warning", err.Severity)
	})

	t.Run("NewShuttingDownError is retryable", func(t *testing.T) {
		err := NewShuttingDownError()

		assert.Equal(t, errors.ErrorCode(ErrCodeShuttingDown), err.ErrorCode())
		assert.True(t, err.IsRetryable())
	})

	t.Run("NewPluginPanicError", func(t *testing.T) {
		err := NewPluginPanicError("message", "boom")

		assert.Equal(t, errors.ErrorCode(ErrCodePluginPanic), err.ErrorCode())
		assert.Equal(t, "message", err.Context["operation"])
		assert.Contains(t, err.Error(), "Plugin panicked during message: boom")
	})
}

func TestTokenErrorConstructors(t *testing.T) {
	stale := NewStaleTokenError(3, "txn-1")
	assert.Equal(t, errors.ErrorCode(ErrCodeStaleToken), stale.ErrorCode())
	assert.Equal(t, "txn-1", stale.Context["transaction"])
	assert.Equal(t, "The session for this response no longer exists", stale.UserMessage())

	consumed := NewTokenAlreadyConsumedError(3, "txn-1")
	assert.Equal(t, errors.ErrorCode(ErrCodeTokenAlreadyConsumed), consumed.ErrorCode())
	assert.Equal(t, uint64(3), consumed.Context["handle_id"])
}

func TestHostErrorConstructors(t *testing.T) {
	t.Run("push failure without cause", func(t *testing.T) {
		err := NewHostPushFailedError(9, "push_event", nil)

		assert.Equal(t, errors.ErrorCode(ErrCodeHostPushFailed), err.ErrorCode())
		assert.Equal(t, "push_event", err.Context["operation"])
		assert.True(t, err.IsRetryable())
	})

	t.Run("push failure wraps the cause", func(t *testing.T) {
		cause := fmt.Errorf("status %d", -1)
		err := NewHostPushFailedError(9, "relay_rtp", cause)

		assert.True(t, err.IsRetryable())
		assert.True(t, stderrors.Is(err, cause))
	})

	t.Run("events disabled", func(t *testing.T) {
		err := NewEventsDisabledError()
		assert.Equal(t, errors.ErrorCode(ErrCodeEventsDisabled), err.ErrorCode())
		assert.Equal(t, "warning", err.Severity)
	})
}

func TestWrappedErrorsKeepCause(t *testing.T) {
	cause := stderrors.New("room is full")

	tests := []struct {
		name string
		err  *errors.Error
		code string
	}{
		{"attach rejected", NewAttachRejectedError(1, cause), ErrCodeAttachRejected},
		{"init failed", NewInitFailedError("echo", cause), ErrCodeInitFailed},
		{"message failed", NewMessageFailedError("txn", cause), ErrCodeMessageFailed},
		{"query failed", NewQueryFailedError(1, cause), ErrCodeQueryFailed},
		{"serialization", NewSerializationError("payload", cause), ErrCodeSerializationError},
		{"native library", NewNativeLibraryError("libjanus.so", cause), ErrCodeNativeLibrary},
		{"config parse", NewConfigParseError("/etc/janus/x.yaml", cause), ErrCodeConfigParseError},
		{"config validation", NewConfigValidationError("bad", cause), ErrCodeConfigValidationError},
		{"config watcher", NewConfigWatcherError("watch failed", cause), ErrCodeConfigWatcherError},
		{"health server", NewHealthServerError(":0", cause), ErrCodeHealthServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.NotNil(t, tt.err)
			assert.Equal(t, errors.ErrorCode(tt.code), tt.err.ErrorCode())
			assert.True(t, stderrors.Is(tt.err, cause))
			assert.Equal(t, tt.code, ErrorCodeOf(tt.err))
		})
	}
}

func TestErrorCodeOf(t *testing.T) {
	assert.Empty(t, ErrorCodeOf(nil))
	assert.Empty(t, ErrorCodeOf(stderrors.New("plain")))

	structured := NewHandleNotFoundError(1)
	assert.Equal(t, ErrCodeHandleNotFound, ErrorCodeOf(structured))

	wrapped := fmt.Errorf("destroy session: %w", structured)
	assert.Equal(t, ErrCodeHandleNotFound, ErrorCodeOf(wrapped))
}

func TestIsErrorCode(t *testing.T) {
	err := NewStaleTokenError(1, "t")

	assert.True(t, IsErrorCode(err, ErrCodeStaleToken))
	assert.False(t, IsErrorCode(err, ErrCodeTokenAlreadyConsumed))
	assert.False(t, IsErrorCode(nil, ErrCodeStaleToken))
	assert.False(t, IsErrorCode(stderrors.New("x"), ErrCodeStaleToken))
}
