// env_config_test.go: tests for environment placeholders in configuration files
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package gojanus

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExpandEnvironmentVariables(t *testing.T) {
	t.Setenv("GOJANUS_ROOM", "prefixed-room")
	t.Setenv("ROOM", "bare-room")
	t.Setenv("PORT", "7090")

	options := DefaultEnvConfigOptions()
	options.Defaults["REGION"] = "eu"

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"no placeholders", "log_level: info", "log_level: info"},
		{"empty", "", ""},
		{"prefix wins", "room: ${ROOM}", "room: prefixed-room"},
		{"bare variable", "port: ${PORT}", "port: 7090"},
		{"inline default", "level: ${LEVEL:-warn}", "level: warn"},
		{"empty inline default", "level: ${LEVEL:-}", "level: "},
		{"configured default", "region: ${REGION}", "region: eu"},
		{"missing becomes empty", "x: ${MISSING}", "x: "},
		{"several", "${PORT}-${LEVEL:-info}", "7090-info"},
		{"not a placeholder", "cost: $5 and ${1BAD}", "cost: $5 and ${1BAD}"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExpandEnvironmentVariables(tt.input, options)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestExpandEnvironmentVariables_EnvironmentBeatsInlineDefault(t *testing.T) {
	t.Setenv("JANUS_PLUGIN_ECHO_HEALTH_ADDRESS", "0.0.0.0:9000")
	options := DefaultEnvConfigOptions()
	options.Prefix = "JANUS_PLUGIN_ECHO_"

	got, err := ExpandEnvironmentVariables("address: ${HEALTH_ADDRESS:-127.0.0.1:7090}", options)
	require.NoError(t, err)
	assert.Equal(t, "address: 0.0.0.0:9000", got)
}

func TestExpandEnvironmentVariables_FailOnMissing(t *testing.T) {
	options := DefaultEnvConfigOptions()
	options.FailOnMissing = true

	input := "secret: ${DEFINITELY_NOT_SET_FOR_GOJANUS}"
	got, err := ExpandEnvironmentVariables(input, options)
	require.Error(t, err)
	assert.True(t, IsErrorCode(err, ErrCodeConfigValidationError))
	assert.Contains(t, err.Error(), "DEFINITELY_NOT_SET_FOR_GOJANUS")
	assert.Equal(t, input, got)

	got, err = ExpandEnvironmentVariables("secret: ${DEFINITELY_NOT_SET_FOR_GOJANUS:-none}", options)
	require.NoError(t, err)
	assert.Equal(t, "secret: none", got)
}

func TestExpandEnvironmentVariables_RejectsUnsafeValues(t *testing.T) {
	options := DefaultEnvConfigOptions()

	t.Run("control character", func(t *testing.T) {
		t.Setenv("GOJANUS_BAD", "line\nbreak")
		_, err := ExpandEnvironmentVariables("v: ${BAD}", options)
		require.Error(t, err)
		assert.True(t, IsErrorCode(err, ErrCodeConfigValidationError))
		assert.Contains(t, err.Error(), "control character")
	})

	t.Run("too long", func(t *testing.T) {
		t.Setenv("GOJANUS_LONG", strings.Repeat("a", maxEnvValueLength+1))
		_, err := ExpandEnvironmentVariables("v: ${LONG}", options)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "too long")
	})

	t.Run("tab is allowed", func(t *testing.T) {
		t.Setenv("GOJANUS_TABBED", "a\tb")
		got, err := ExpandEnvironmentVariables("v: ${TABBED}", options)
		require.NoError(t, err)
		assert.Equal(t, "v: a\tb", got)
	})

	t.Run("validation disabled", func(t *testing.T) {
		t.Setenv("GOJANUS_RAW", "x\ry")
		opts := options
		opts.ValidateValues = false
		got, err := ExpandEnvironmentVariables("${RAW}", opts)
		require.NoError(t, err)
		assert.Equal(t, "x\ry", got)
	})
}

func TestDefaultEnvConfigOptions(t *testing.T) {
	options := DefaultEnvConfigOptions()
	assert.Equal(t, "GOJANUS_", options.Prefix)
	assert.True(t, options.ValidateValues)
	assert.False(t, options.FailOnMissing)
	assert.NotNil(t, options.Defaults)
}
