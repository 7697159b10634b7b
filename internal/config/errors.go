package config

import "errors"

var (
	// ErrInvalidConfig indicates the build descriptor failed validation
	ErrInvalidConfig = errors.New("invalid build configuration")
	// ErrUnsupportedFormat indicates the descriptor file extension is not yaml, yml or toml
	ErrUnsupportedFormat = errors.New("unsupported configuration format")
)
