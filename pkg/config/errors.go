package config

import (
	"fmt"

	simerrors "vrprinter-go/pkg/errors"
)

// Config errors are *errors.SimError values with the section attached,
// so callers can test them with errors.IsConfig.

// ErrMissingOption returns an error for a required but missing option.
func ErrMissingOption(section, option string) *simerrors.SimError {
	return simerrors.ConfigOptionError(section, option, "must be specified")
}

// ErrMissingSection returns an error for a missing section.
func ErrMissingSection(section string) *simerrors.SimError {
	return simerrors.New(simerrors.ErrConfigOption, "section not found").SetSection(section)
}

// ErrInvalidValue returns an error for an unparsable value.
func ErrInvalidValue(section, option, value, expected string) *simerrors.SimError {
	return simerrors.ConfigOptionError(section, option,
		fmt.Sprintf("invalid value '%s', expected %s", value, expected))
}

// ErrOutOfRange returns an error for a value outside the allowed range.
func ErrOutOfRange(section, option string, value float64, constraint string) *simerrors.SimError {
	return simerrors.ConfigValidationError(section, option, fmt.Sprintf("value %v %s", value, constraint))
}

// ErrInvalidChoice returns an error for an invalid choice value.
func ErrInvalidChoice(section, option, value string, choices []string) *simerrors.SimError {
	return simerrors.ConfigValidationError(section, option,
		fmt.Sprintf("'%s' is not a valid choice (valid: %v)", value, choices))
}

// ErrUnused returns an error listing options nobody read.
func ErrUnused(detail string) *simerrors.SimError {
	return simerrors.New(simerrors.ErrConfigValidation, detail)
}
