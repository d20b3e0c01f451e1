// env_config.go: Environment variable expansion in configuration files
//
// Configuration files may reference the environment with ${VAR} or
// ${VAR:-default}. Expansion runs on the raw file before parsing, for every
// supported format. Variables are looked up with the plugin prefix first
// (JANUS_PLUGIN_ECHO_VAR), then unprefixed.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package gojanus

import (
	"fmt"
	"os"
	"regexp"
	"strings"
)

// EnvConfigOptions configures environment variable expansion.
type EnvConfigOptions struct {
	// Prefix tried before the bare variable name.
	Prefix string `json:"prefix" yaml:"prefix"`

	// FailOnMissing makes an unresolved variable without default an error.
	FailOnMissing bool `json:"fail_on_missing" yaml:"fail_on_missing"`

	// ValidateValues rejects values with NUL bytes, control characters or
	// excessive length.
	ValidateValues bool `json:"validate_values" yaml:"validate_values"`

	// Defaults are used when neither the environment nor an inline default
	// provides a value.
	Defaults map[string]string `json:"defaults,omitempty" yaml:"defaults,omitempty"`
}

// DefaultEnvConfigOptions returns the options used when loading plugin
// configuration files.
func DefaultEnvConfigOptions() EnvConfigOptions {
	return EnvConfigOptions{
		Prefix:         "GOJANUS_",
		ValidateValues: true,
		Defaults:       make(map[string]string),
	}
}

var variablePattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(:-([^}]*))?\}`)

// maxEnvValueLength bounds a single expanded value.
const maxEnvValueLength = 4096

// ExpandEnvironmentVariables replaces ${VAR} and ${VAR:-default}
// placeholders in input. The first resolution error is returned and input is
// left unexpanded in that case.
//
//	expanded, err := ExpandEnvironmentVariables("address: ${HEALTH_ADDR:-127.0.0.1:7090}", options)
func ExpandEnvironmentVariables(input string, options EnvConfigOptions) (string, error) {
	if input == "" || !strings.Contains(input, "${") {
		return input, nil
	}

	var firstErr error
	result := variablePattern.ReplaceAllStringFunc(input, func(match string) string {
		if firstErr != nil {
			return match
		}
		submatches := variablePattern.FindStringSubmatch(match)
		varName, inlineDefault, hasDefault := submatches[1], submatches[3], submatches[2] != ""

		expanded, err := expandSingleEnvironmentVariable(varName, inlineDefault, hasDefault, options)
		if err != nil {
			firstErr = err
			return match
		}
		return expanded
	})
	if firstErr != nil {
		return input, firstErr
	}
	return result, nil
}

// expandSingleEnvironmentVariable resolves one variable in priority order:
// prefixed environment, bare environment, inline default, configured
// default.
func expandSingleEnvironmentVariable(varName, inlineDefault string, hasDefault bool, options EnvConfigOptions) (string, error) {
	if options.Prefix != "" {
		if value, ok := os.LookupEnv(options.Prefix + varName); ok && value != "" {
			return validateAndSanitizeValue(varName, value, options)
		}
	}
	if value, ok := os.LookupEnv(varName); ok && value != "" {
		return validateAndSanitizeValue(varName, value, options)
	}
	if hasDefault {
		return validateAndSanitizeValue(varName, inlineDefault, options)
	}
	if value, ok := options.Defaults[varName]; ok {
		return validateAndSanitizeValue(varName, value, options)
	}

	if options.FailOnMissing {
		return "", NewConfigValidationError(
			fmt.Sprintf("required environment variable not found: %s (also tried %s%s)", varName, options.Prefix, varName), nil)
	}
	return "", nil
}

func validateAndSanitizeValue(varName, value string, options EnvConfigOptions) (string, error) {
	if !options.ValidateValues {
		return value, nil
	}
	if strings.Contains(value, "\x00") {
		return "", NewConfigValidationError(fmt.Sprintf("environment variable %s contains a null byte", varName), nil)
	}
	if len(value) > maxEnvValueLength {
		return "", NewConfigValidationError(
			fmt.Sprintf("environment variable %s too long: %d bytes (max %d)", varName, len(value), maxEnvValueLength), nil)
	}
	for i, r := range value {
		if r < 32 && r != '\t' {
			return "", NewConfigValidationError(
				fmt.Sprintf("environment variable %s contains a control character at position %d", varName, i), nil)
		}
	}
	return value, nil
}
