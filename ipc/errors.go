package ipc

import "errors"

var (
	// ErrDuplicateChannel is returned when a channel is registered twice.
	ErrDuplicateChannel = errors.New("channel already registered")
	// ErrUnknownChannel is returned when dispatching to an unregistered channel.
	ErrUnknownChannel = errors.New("no handler registered for channel")
)
