// logging_zerolog.go: zerolog adapter for the Logger interface
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package gojanus

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// ZerologAdapter implements Logger on top of a zerolog.Logger.
type ZerologAdapter struct {
	logger zerolog.Logger
}

// NewZerologLogger wraps a zerolog logger.
func NewZerologLogger(logger zerolog.Logger) *ZerologAdapter {
	return &ZerologAdapter{logger: logger}
}

// NewConsoleLogger builds a human-readable zerolog logger writing to w
// (stderr when nil) at the given level name.
func NewConsoleLogger(w io.Writer, level string) *ZerologAdapter {
	if w == nil {
		w = os.Stderr
	}
	zl := zerolog.New(zerolog.ConsoleWriter{Out: w}).
		Level(ParseLogLevel(level)).
		With().Timestamp().Logger()
	return NewZerologLogger(zl)
}

// ParseLogLevel maps a configuration level name to a zerolog level.
// Unknown names fall back to info.
func ParseLogLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug", "trace":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "off", "disabled", "none":
		return zerolog.Disabled
	default:
		return zerolog.InfoLevel
	}
}

func (z *ZerologAdapter) Debug(msg string, args ...any) {
	z.emit(z.logger.Debug(), msg, args)
}

func (z *ZerologAdapter) Info(msg string, args ...any) {
	z.emit(z.logger.Info(), msg, args)
}

func (z *ZerologAdapter) Warn(msg string, args ...any) {
	z.emit(z.logger.Warn(), msg, args)
}

func (z *ZerologAdapter) Error(msg string, args ...any) {
	z.emit(z.logger.Error(), msg, args)
}

// With returns an adapter whose events carry the given key-value pairs.
func (z *ZerologAdapter) With(args ...any) Logger {
	ctx := z.logger.With()
	for key, value := range pairs(args) {
		ctx = ctx.Interface(key, value)
	}
	return &ZerologAdapter{logger: ctx.Logger()}
}

func (z *ZerologAdapter) emit(event *zerolog.Event, msg string, args []any) {
	if event == nil {
		return
	}
	for key, value := range pairs(args) {
		if err, ok := value.(error); ok {
			event = event.AnErr(key, err)
			continue
		}
		event = event.Interface(key, value)
	}
	event.Msg(msg)
}

// pairs walks key-value arguments. A trailing key without value is
// reported under "!BADKEY".
func pairs(args []any) func(yield func(string, any) bool) {
	return func(yield func(string, any) bool) {
		for i := 0; i < len(args); i += 2 {
			if i+1 >= len(args) {
				yield("!BADKEY", args[i])
				return
			}
			key, ok := args[i].(string)
			if !ok {
				key = fmt.Sprint(args[i])
			}
			if !yield(key, args[i+1]) {
				return
			}
		}
	}
}

func adaptZerolog(logger any) (Logger, bool) {
	switch l := logger.(type) {
	case zerolog.Logger:
		return NewZerologLogger(l), true
	case *zerolog.Logger:
		if l == nil {
			return NewNoOpLogger(), true
		}
		return NewZerologLogger(*l), true
	default:
		return nil, false
	}
}
