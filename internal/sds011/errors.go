package sds011

import "codeberg.org/mutker/particlectl/internal/errors"

const (
	// Lifecycle errors
	ErrDeviceUnavailable = errors.ErrorCode("device_unavailable")
	ErrNotOpen           = errors.ErrorCode("device_not_open")
	ErrCloseFailed       = errors.ErrorCode("device_close_failed")

	// Command errors
	ErrCommandFailed = errors.ErrorCode("command_failed")

	// Sampling errors
	ErrReadTimeout = errors.ErrorCode("read_timeout")
	ErrReadFailed  = errors.ErrorCode("read_failed")
	ErrBadFrame    = errors.ErrorCode("bad_frame")
)

// IsTimeout reports whether err is a sensor read timeout.
func IsTimeout(err error) bool {
	return errors.CodeOf(err) == ErrReadTimeout
}

// IsBadFrame reports whether err is a malformed or corrupt frame.
func IsBadFrame(err error) bool {
	return errors.CodeOf(err) == ErrBadFrame
}
