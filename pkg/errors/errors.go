// Unified error handling for the G-code deposition simulator
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode represents the category of error
type ErrorCode string

const (
	// Configuration errors
	ErrConfigOption     ErrorCode = "CONFIG_OPTION"
	ErrConfigValidation ErrorCode = "CONFIG_VALIDATION"

	// G-code parsing errors
	ErrGCodeParse       ErrorCode = "GCODE_PARSE"
	ErrGCodeUnknownWord ErrorCode = "GCODE_UNKNOWN_WORD"
	ErrGCodeUnknownCmd  ErrorCode = "GCODE_UNKNOWN_CMD"

	// Simulation errors
	ErrHeightField ErrorCode = "HEIGHTFIELD"
	ErrSession     ErrorCode = "SESSION"
	ErrExport      ErrorCode = "EXPORT"
	ErrRuntime     ErrorCode = "RUNTIME"
)

// SimError is the unified error type for the simulator
type SimError struct {
	// Code is the error category
	Code ErrorCode

	// Message is a human-readable error description
	Message string

	// Line is the G-code line number (0 when not applicable)
	Line int

	// Section is the config section or component
	Section string

	// Err wraps the underlying error
	Err error

	// Context provides additional context
	Context map[string]interface{}
}

// Error implements the error interface
func (e *SimError) Error() string {
	switch {
	case e.Line > 0:
		return fmt.Sprintf("[%s] line %d: %s", e.Code, e.Line, e.Message)
	case e.Section != "":
		return fmt.Sprintf("[%s:%s] %s", e.Code, e.Section, e.Message)
	default:
		return fmt.Sprintf("[%s] %s", e.Code, e.Message)
	}
}

// Unwrap returns the underlying error
func (e *SimError) Unwrap() error {
	return e.Err
}

// SetLine sets the G-code line number
func (e *SimError) SetLine(line int) *SimError {
	e.Line = line
	return e
}

// SetSection sets the context section
func (e *SimError) SetSection(section string) *SimError {
	e.Section = section
	return e
}

// SetContext adds additional context
func (e *SimError) SetContext(key string, value interface{}) *SimError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// New creates a new SimError
func New(code ErrorCode, message string) *SimError {
	return &SimError{
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an existing error with additional context
func Wrap(err error, code ErrorCode, message string) *SimError {
	return &SimError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// G-code errors

// GCodeParseError creates an error for a malformed G-code line
func GCodeParseError(line int, reason string) *SimError {
	return New(ErrGCodeParse, fmt.Sprintf("failed to parse G-code: %s", reason)).SetLine(line)
}

// GCodeUnknownWordError creates an error for a word letter a command does not accept
func GCodeUnknownWordError(line int, command string, letter byte) *SimError {
	return New(ErrGCodeUnknownWord, fmt.Sprintf("%s does not accept word '%c'", command, letter)).
		SetLine(line).
		SetContext("letter", string(letter))
}

// GCodeUnknownCommandError creates an error for an unexpected leading character
func GCodeUnknownCommandError(line int, c byte) *SimError {
	return New(ErrGCodeUnknownCmd, fmt.Sprintf("unexpected character %q at line start", c)).SetLine(line)
}

// Config errors

// ConfigOptionError creates an error for a missing or unreadable option
func ConfigOptionError(section, option, reason string) *SimError {
	return New(ErrConfigOption, fmt.Sprintf("option '%s': %s", option, reason)).SetSection(section)
}

// ConfigValidationError creates an error for config validation failure
func ConfigValidationError(section, option string, reason string) *SimError {
	return New(ErrConfigValidation, fmt.Sprintf("option '%s': %s", option, reason)).SetSection(section)
}

// Simulation errors

// HeightFieldError creates a height field error
func HeightFieldError(message string) *SimError {
	return New(ErrHeightField, message).SetSection("heightfield")
}

// SessionError creates a session lifecycle error
func SessionError(message string) *SimError {
	return New(ErrSession, message).SetSection("session")
}

// ExportError wraps a failure while writing an export file
func ExportError(target string, err error) *SimError {
	return Wrap(err, ErrExport, fmt.Sprintf("export %s failed: %v", target, err)).SetSection("export")
}

// RuntimeError creates a general runtime error
func RuntimeError(message string) *SimError {
	return New(ErrRuntime, message)
}

// Is checks if err, or any error it wraps, carries the given code
func Is(err error, code ErrorCode) bool {
	var simErr *SimError
	if stderrors.As(err, &simErr) {
		return simErr.Code == code
	}
	return false
}

// LineOf returns the G-code line attached to err, or 0
func LineOf(err error) int {
	var simErr *SimError
	if stderrors.As(err, &simErr) {
		return simErr.Line
	}
	return 0
}

// IsConfig checks if error is a config error
func IsConfig(err error) bool {
	return Is(err, ErrConfigOption) || Is(err, ErrConfigValidation)
}

// IsGCode checks if error is a G-code error
func IsGCode(err error) bool {
	return Is(err, ErrGCodeParse) ||
		Is(err, ErrGCodeUnknownWord) ||
		Is(err, ErrGCodeUnknownCmd)
}
