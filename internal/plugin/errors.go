package plugin

import "errors"

var (
	// ErrUnknownPlugin indicates a plugin kind with no registered factory
	ErrUnknownPlugin = errors.New("unknown plugin kind")
	// ErrCopySource indicates a copy pattern could not be read
	ErrCopySource = errors.New("copy source unreadable")
)
