package config

import "errors"

// Errors returned by configuration operations.
var (
	// ErrUnknownSetting indicates a key that no setting corresponds to.
	ErrUnknownSetting = errors.New("unknown setting")

	// ErrValidationFailed indicates a value outside its allowed range.
	ErrValidationFailed = errors.New("validation failed")
)
