// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

// Package main implements the soundscape command.
package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/jllopis/soundscape/pkg/errors"
)

// CLIError wraps a typed error with a hint for the operator.
type CLIError struct {
	Err  *errors.Error
	Hint string
}

// NewCLIError creates a new CLI error.
func NewCLIError(e *errors.Error, hint string) *CLIError {
	return &CLIError{Err: e, Hint: hint}
}

// Error returns the formatted error message with hints.
func (e *CLIError) Error() string {
	if e.Err == nil {
		return "unknown error"
	}
	msg := e.Err.Error()
	if e.Hint != "" {
		msg += "\n  Hint: " + e.Hint
	}
	return msg
}

// Unwrap exposes the typed error to errors.As and errors.HasCode.
func (e *CLIError) Unwrap() error { return e.Err }

// PrintError prints the error with appropriate formatting.
func (e *CLIError) PrintError(asJSON bool) {
	if asJSON {
		payload := map[string]any{"error": map[string]string{
			"code":    string(e.Err.Code),
			"message": e.Err.Message,
			"hint":    e.Hint,
		}}
		_ = json.NewEncoder(os.Stderr).Encode(payload)
		return
	}

	fmt.Fprintf(os.Stderr, "Error [%s]: %s\n", e.Err.Code, e.Err.Error())
	if e.Hint != "" {
		fmt.Fprintf(os.Stderr, "  Hint: %s\n", e.Hint)
	}
}

// NewInvalidArgumentError creates an invalid argument error with CLI hints.
func NewInvalidArgumentError(arg, reason string) *CLIError {
	e := errors.New(errors.CodeInvalidInput, fmt.Sprintf("invalid argument: %s", reason), nil).
		WithContext("argument", arg).
		WithRecoverable(false)
	return NewCLIError(e, "run 'soundscape help' for usage information")
}

// NewConfigError creates a configuration error with CLI hints.
func NewConfigError(err error, configPath string) *CLIError {
	e := errors.New(errors.CodeInvalidInput, "configuration error", err).
		WithContext("config_path", configPath).
		WithRecoverable(false)

	hint := "check your configuration file syntax"
	if configPath != "" {
		hint = fmt.Sprintf("check %s for syntax errors", configPath)
	}
	return NewCLIError(e, hint)
}

// NewStartupError wraps a failure to bring the system up.
func NewStartupError(err error, component string) *CLIError {
	e := errors.New(errors.CodeStartupFailure, component+" failed to start", err).
		WithContext("component", component)

	hint := "check the logs above for the failing component"
	switch {
	case errors.HasCode(err, errors.CodeNotFound):
		hint = "check credentials.path or the SOUNDSCAPE_KEY_* variables"
	case errors.HasCode(err, errors.CodeDuplicateAddress):
		hint = "an agent is both local and routed in bus.routes"
	}
	return NewCLIError(e, hint)
}

// NewStorageError reports a command that needs the SQLite journal.
func NewStorageError(driver string) *CLIError {
	e := errors.Newf(errors.CodeInvalidInput, "cycle journal needs storage.driver=sqlite, got %q", driver)
	return NewCLIError(e, "run with --set storage.driver=sqlite --set storage.path=<file>")
}
