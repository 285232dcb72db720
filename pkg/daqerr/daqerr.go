// Package daqerr defines the error kinds shared by the instrument adapter and
// the scan engine. Callers match them with errors.Is.
package daqerr

import "errors"

var (
	// ErrInvalidArgument reports a caller supplied parameter that violates a
	// precondition. It is never recovered from by clamping.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrConnection reports an endpoint that could not be opened.
	ErrConnection = errors.New("connection error")

	// ErrProtocol reports a command that received no reply or a malformed one.
	ErrProtocol = errors.New("protocol error")
)
