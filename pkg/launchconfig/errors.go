package launchconfig

import (
	"errors"
	"fmt"
)

// ErrorKind identifies which invariant a ConfigError violates.
type ErrorKind string

const (
	InvalidAddress     ErrorKind = "InvalidAddress"
	PortOutOfRange     ErrorKind = "PortOutOfRange"
	InvalidLevel       ErrorKind = "InvalidLevel"
	InvalidRunnerKind  ErrorKind = "InvalidRunnerKind"
	OutOfBounds        ErrorKind = "OutOfBounds"
	ReplicationTooHigh ErrorKind = "ReplicationTooHigh"
	CountTooHigh       ErrorKind = "CountTooHigh"
	PortConflict       ErrorKind = "PortConflict"
)

// ErrInvalidConfig is the sentinel every ConfigError unwraps to.
var ErrInvalidConfig = errors.New("invalid launch configuration")

// ConfigError reports a single field-level validation failure.
type ConfigError struct {
	// Kind is the violated invariant.
	Kind ErrorKind

	// Field is the CLI flag name without dashes (e.g. "repl_factor").
	Field string

	// Value is the rejected input, formatted for display.
	Value string

	// Detail is a human readable explanation.
	Detail string

	// MaxReplication is set for ReplicationTooHigh.
	MaxReplication int
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	if e.Value != "" {
		return fmt.Sprintf("invalid --%s %q: %s (%s)", e.Field, e.Value, e.Detail, e.Kind)
	}
	return fmt.Sprintf("invalid --%s: %s (%s)", e.Field, e.Detail, e.Kind)
}

// Unwrap returns ErrInvalidConfig for errors.Is support.
func (e *ConfigError) Unwrap() error {
	return ErrInvalidConfig
}

// KindOf returns the ConfigError kind carried by err, if any.
func KindOf(err error) (ErrorKind, bool) {
	var ce *ConfigError
	if errors.As(err, &ce) {
		return ce.Kind, true
	}
	return "", false
}
